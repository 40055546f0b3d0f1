// Package fine は延滞料金台帳のドメインロジックを提供する。
package fine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/lendman/internal/model"
	"github.com/hitoshi/lendman/internal/repository"
)

// MetricsRecorder は延滞料金系メトリクスの記録インターフェース。
type MetricsRecorder interface {
	RecordFineSettled()
	RecordFineWaived()
}

// Service は延滞料金台帳のサービス層。
// 未払い残高の照会（貸出エンジンの入場判定に使われる）、
// 決済プロセッサ確認後の消し込み、管理操作による免除を担う。
type Service struct {
	fineRepo repository.FineRepository
	metrics  MetricsRecorder
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(fineRepo repository.FineRepository, metrics MetricsRecorder, logger *slog.Logger) *Service {
	return &Service{
		fineRepo: fineRepo,
		metrics:  metrics,
		logger:   logger,
	}
}

// Settle は決済プロセッサで確認された支払いに基づき延滞料金を消し込む。
// すでにpaidの料金への再実行は成功として扱う（コールバック再送に対して冪等）。
// waivedの料金への支払いは状態の矛盾であり、conflictとして拒否する。
func (s *Service) Settle(ctx context.Context, fineID, paymentID string) (*model.Fine, error) {
	fine, err := s.fineRepo.FindByID(ctx, fineID)
	if err != nil {
		return nil, fmt.Errorf("延滞料金の取得に失敗しました: %w", err)
	}
	if fine == nil {
		return nil, model.NewFineNotFoundError(fineID)
	}

	switch fine.Status {
	case model.FineStatusPaid:
		// 冪等: すでに支払い済みなら何もしない
		return fine, nil
	case model.FineStatusWaived:
		return nil, model.NewFineConflictError(fineID, fine.Status)
	}

	ok, err := s.fineRepo.MarkPaid(ctx, fineID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 並行する消し込みと競合した。最新の状態で判定し直す。
		current, err := s.fineRepo.FindByID(ctx, fineID)
		if err != nil {
			return nil, fmt.Errorf("延滞料金の再取得に失敗しました: %w", err)
		}
		if current == nil {
			return nil, model.NewFineNotFoundError(fineID)
		}
		if current.Status == model.FineStatusPaid {
			return current, nil
		}
		return nil, model.NewFineConflictError(fineID, current.Status)
	}

	fine.Status = model.FineStatusPaid

	s.metrics.RecordFineSettled()
	s.logger.Info("延滞料金を消し込みました",
		slog.String("fine_id", fineID),
		slog.String("payment_id", paymentID),
		slog.String("amount", fine.Amount.String()),
	)

	return fine, nil
}

// Waive は管理操作により延滞料金を免除する。免除は取り消せない。
func (s *Service) Waive(ctx context.Context, fineID, reason string) (*model.Fine, error) {
	fine, err := s.fineRepo.FindByID(ctx, fineID)
	if err != nil {
		return nil, fmt.Errorf("延滞料金の取得に失敗しました: %w", err)
	}
	if fine == nil {
		return nil, model.NewFineNotFoundError(fineID)
	}

	if fine.Status != model.FineStatusPending {
		return nil, model.NewFineConflictError(fineID, fine.Status)
	}

	ok, err := s.fineRepo.MarkWaived(ctx, fineID, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.fineRepo.FindByID(ctx, fineID)
		if err != nil {
			return nil, fmt.Errorf("延滞料金の再取得に失敗しました: %w", err)
		}
		if current == nil {
			return nil, model.NewFineNotFoundError(fineID)
		}
		return nil, model.NewFineConflictError(fineID, current.Status)
	}

	fine.Status = model.FineStatusWaived
	fine.WaiveReason = reason

	s.metrics.RecordFineWaived()
	s.logger.Info("延滞料金を免除しました",
		slog.String("fine_id", fineID),
		slog.String("reason", reason),
	)

	return fine, nil
}

// PendingBalance は会員の未払い延滞料金の合計額を返す。
func (s *Service) PendingBalance(ctx context.Context, memberID string) (decimal.Decimal, error) {
	balance, err := s.fineRepo.PendingBalanceByMember(ctx, memberID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("未払い残高の取得に失敗しました: %w", err)
	}
	return balance, nil
}

// ListPendingFines は会員の未払い延滞料金一覧を返す。
func (s *Service) ListPendingFines(ctx context.Context, memberID string) ([]*model.Fine, error) {
	fines, err := s.fineRepo.ListPendingByMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("延滞料金一覧の取得に失敗しました: %w", err)
	}
	return fines, nil
}
