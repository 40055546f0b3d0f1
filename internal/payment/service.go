package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/lendman/internal/model"
	"github.com/hitoshi/lendman/internal/repository"
)

// FineSettler は決済完了時の延滞料金消し込みインターフェース。
type FineSettler interface {
	Settle(ctx context.Context, fineID, paymentID string) (*model.Fine, error)
}

// Service は決済フローのサービス層。
// 回収依頼の発行と、プロセッサからのコールバックの振り分けを担う。
// プロセッサへの依頼は貸出・返却のトランザクション内では決して待たない。
type Service struct {
	paymentRepo repository.PaymentRepository
	fineRepo    repository.FineRepository
	processor   Processor
	settler     FineSettler
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	paymentRepo repository.PaymentRepository,
	fineRepo repository.FineRepository,
	processor Processor,
	settler FineSettler,
	logger *slog.Logger,
) *Service {
	return &Service{
		paymentRepo: paymentRepo,
		fineRepo:    fineRepo,
		processor:   processor,
		settler:     settler,
		logger:      logger,
	}
}

// CollectFine はpending状態の延滞料金に対する回収依頼を発行する。
// 決済レコードをpendingで作成してからプロセッサに依頼し、
// プロセッサ側の決済IDを記録する。結果はコールバックで届く。
func (s *Service) CollectFine(ctx context.Context, memberID, fineID string) (*model.Payment, error) {
	fine, err := s.fineRepo.FindByID(ctx, fineID)
	if err != nil {
		return nil, fmt.Errorf("延滞料金の取得に失敗しました: %w", err)
	}
	if fine == nil || fine.MemberID != memberID {
		return nil, model.NewFineNotFoundError(fineID)
	}
	if fine.Status != model.FineStatusPending {
		return nil, model.NewFineConflictError(fineID, fine.Status)
	}

	now := time.Now()
	pmt := &model.Payment{
		ID:        uuid.NewString(),
		Kind:      model.PaymentKindFine,
		FineID:    &fine.ID,
		MemberID:  fine.MemberID,
		Amount:    fine.Amount,
		Status:    model.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.paymentRepo.Create(ctx, pmt); err != nil {
		return nil, err
	}

	providerID, err := s.processor.RequestCollection(ctx, fine.Amount, pmt.ID)
	if err != nil {
		// 依頼が届いたかは不明のため決済レコードはpendingのまま残す。
		// プロセッサ側で受理されていればコールバックで確定する。
		s.logger.Error("回収依頼の送信に失敗しました",
			slog.String("payment_id", pmt.ID),
			slog.String("fine_id", fineID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("回収依頼の送信に失敗しました: %w", err)
	}

	if err := s.paymentRepo.UpdateProviderPaymentID(ctx, pmt.ID, providerID); err != nil {
		s.logger.Error("プロセッサ決済IDの記録に失敗しました",
			slog.String("payment_id", pmt.ID),
			slog.String("provider_payment_id", providerID),
			slog.String("error", err.Error()),
		)
	}
	pmt.ProviderPaymentID = providerID

	s.logger.Info("回収依頼を発行しました",
		slog.String("payment_id", pmt.ID),
		slog.String("fine_id", fineID),
		slog.String("amount", fine.Amount.String()),
	)

	return pmt, nil
}

// HandleResult はプロセッサからのコールバックを処理する。
// 決済結果を記録し、延滞料金の決済が完了した場合は消し込みに引き渡す。
// コールバックの再送に対して冪等（確定済みの決済には何もしない）。
func (s *Service) HandleResult(ctx context.Context, paymentID string, succeeded bool) error {
	pmt, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("決済の取得に失敗しました: %w", err)
	}
	if pmt == nil {
		return model.NewPaymentNotFoundError(paymentID)
	}

	status := model.PaymentStatusCompleted
	if !succeeded {
		status = model.PaymentStatusFailed
	}

	ok, err := s.paymentRepo.MarkResult(ctx, paymentID, status)
	if err != nil {
		return err
	}
	if !ok {
		// すでに確定済み（コールバックの再送）。何もしない。
		s.logger.Info("確定済み決済へのコールバックを無視しました",
			slog.String("payment_id", paymentID),
		)
		return nil
	}

	if !succeeded {
		s.logger.Warn("決済が失敗しました",
			slog.String("payment_id", paymentID),
			slog.String("kind", string(pmt.Kind)),
		)
		return nil
	}

	if pmt.Kind == model.PaymentKindFine && pmt.FineID != nil {
		if _, err := s.settler.Settle(ctx, *pmt.FineID, paymentID); err != nil {
			return fmt.Errorf("決済完了後の消し込みに失敗しました: %w", err)
		}
	}

	s.logger.Info("決済が完了しました",
		slog.String("payment_id", paymentID),
		slog.String("kind", string(pmt.Kind)),
	)

	return nil
}
