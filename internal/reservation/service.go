// Package reservation はタイトルごとの予約待ち行列のドメインロジックを提供する。
package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/lendman/internal/model"
	"github.com/hitoshi/lendman/internal/policy"
	"github.com/hitoshi/lendman/internal/repository"
)

// EntitlementSource は会員の貸出資格の参照インターフェース。
type EntitlementSource interface {
	EntitlementFor(member *model.Member, now time.Time) policy.Entitlement
}

// MetricsRecorder は予約系メトリクスの記録インターフェース。
type MetricsRecorder interface {
	RecordReservationPromoted()
	RecordReservationExpired()
}

// Config は予約待ち行列の調整可能パラメータを保持する。
type Config struct {
	// HoldWindow はready予約の受け取り期限。
	HoldWindow time.Duration
}

// Service は予約待ち行列のサービス層。
// 予約の受付、コピーが空いたときのFIFO昇格、受け取り期限切れの失効、
// ready予約の貸出への変換を担う。
type Service struct {
	memberRepo      repository.MemberRepository
	titleRepo       repository.TitleRepository
	reservationRepo repository.ReservationRepository
	policy          EntitlementSource
	metrics         MetricsRecorder
	logger          *slog.Logger
	config          Config

	// now はテストから差し替え可能な現在時刻の供給源。
	now func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	memberRepo repository.MemberRepository,
	titleRepo repository.TitleRepository,
	reservationRepo repository.ReservationRepository,
	policySvc EntitlementSource,
	metrics MetricsRecorder,
	logger *slog.Logger,
	config Config,
) *Service {
	return &Service{
		memberRepo:      memberRepo,
		titleRepo:       titleRepo,
		reservationRepo: reservationRepo,
		policy:          policySvc,
		metrics:         metrics,
		logger:          logger,
		config:          config,
		now:             time.Now,
	}
}

// Reserve はタイトルに対する予約を受け付ける。
// 予約はプレミアム会員のみ。同一タイトルへの非終端予約は1件まで。
// 受付後、在庫に空きがあれば即座に昇格を試みる
// （誰も借りていないタイトルへの予約が宙に浮かないようにするため）。
func (s *Service) Reserve(ctx context.Context, memberID, titleID string) (*model.Reservation, error) {
	now := s.now()

	member, err := s.memberRepo.FindByID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	if member == nil {
		return nil, model.NewMemberNotFoundError(memberID)
	}

	ent := s.policy.EntitlementFor(member, now)
	if !ent.CanReserve {
		return nil, model.NewNotEligibleError()
	}

	title, err := s.titleRepo.FindByID(ctx, titleID)
	if err != nil {
		return nil, fmt.Errorf("タイトルの取得に失敗しました: %w", err)
	}
	if title == nil || !title.Active {
		return nil, model.NewTitleNotFoundError(titleID)
	}

	existing, err := s.reservationRepo.FindActiveByMemberAndTitle(ctx, memberID, titleID)
	if err != nil {
		return nil, fmt.Errorf("既存予約の検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewAlreadyReservedError(titleID)
	}

	reservation := &model.Reservation{
		ID:          uuid.NewString(),
		TitleID:     titleID,
		MemberID:    memberID,
		Status:      model.ReservationPending,
		RequestedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.reservationRepo.Create(ctx, reservation); err != nil {
		return nil, err
	}

	s.logger.Info("予約を受け付けました",
		slog.String("reservation_id", reservation.ID),
		slog.String("member_id", memberID),
		slog.String("title_id", titleID),
	)

	// 在庫に空きがあれば即昇格（この予約が先頭とは限らない点に注意）
	if _, err := s.PromoteNext(ctx, titleID); err != nil {
		s.logger.Error("予約受付後の昇格に失敗しました",
			slog.String("title_id", titleID),
			slog.String("error", err.Error()),
		)
	}

	// 昇格で状態が変わっていた場合は最新の状態を返す
	updated, err := s.reservationRepo.FindByID(ctx, reservation.ID)
	if err != nil {
		return nil, fmt.Errorf("予約の再取得に失敗しました: %w", err)
	}
	if updated != nil {
		return updated, nil
	}

	return reservation, nil
}

// PromoteNext はタイトルの待ち行列を昇格できるだけ昇格させ、昇格数を返す。
// 1回の昇格につきコピーが1冊確保されるため、在庫か待ち行列の
// どちらかが尽きた時点でループは止まる。
// FIFO順（requested_at昇順、同時刻はid昇順）はリポジトリ側で保証される。
func (s *Service) PromoteNext(ctx context.Context, titleID string) (int, error) {
	promoted := 0
	for {
		now := s.now()
		res, err := s.reservationRepo.PromoteHead(ctx, titleID, now, now.Add(s.config.HoldWindow))
		if err != nil {
			return promoted, fmt.Errorf("予約の昇格に失敗しました: %w", err)
		}
		if res == nil {
			return promoted, nil
		}

		promoted++
		s.metrics.RecordReservationPromoted()
		s.logger.Info("予約をreadyに昇格しました",
			slog.String("reservation_id", res.ID),
			slog.String("member_id", res.MemberID),
			slog.String("title_id", titleID),
			slog.Time("expires_at", *res.ExpiresAt),
		)
	}
}

// PromoteBacklog はpending予約が待機していて在庫に空きがあるタイトルを
// すべて洗い出し、それぞれの待ち行列を昇格させる。昇格数の合計を返す。
// 返却・増冊時の昇格トリガーが取りこぼされた場合（プロセス停止など）の
// リカバリ経路であり、定期ワーカーから呼ばれる。
func (s *Service) PromoteBacklog(ctx context.Context) (int, error) {
	titleIDs, err := s.reservationRepo.TitleIDsWithPromotableBacklog(ctx)
	if err != nil {
		return 0, fmt.Errorf("昇格可能なタイトルの検索に失敗しました: %w", err)
	}

	total := 0
	for _, titleID := range titleIDs {
		promoted, err := s.PromoteNext(ctx, titleID)
		total += promoted
		if err != nil {
			s.logger.Error("取りこぼし回収の昇格に失敗しました",
				slog.String("title_id", titleID),
				slog.String("error", err.Error()),
			)
		}
	}

	return total, nil
}

// ConvertToLoan はready状態の予約を貸出に変換する。
// コピーは昇格時に確保済みのため、在庫の再減算は行われない。
// 受け取り期限を過ぎた予約はErrReservationExpiredで拒否される
// （失効掃き出しがまだ走っていなくても期限は厳密に適用される）。
func (s *Service) ConvertToLoan(ctx context.Context, memberID, reservationID string) (*model.Loan, error) {
	now := s.now()

	res, err := s.reservationRepo.FindByID(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("予約の取得に失敗しました: %w", err)
	}
	if res == nil || res.MemberID != memberID {
		return nil, model.NewReservationNotFoundError(reservationID)
	}

	switch res.Status {
	case model.ReservationReady:
		if res.ExpiresAt != nil && !now.Before(*res.ExpiresAt) {
			return nil, model.NewReservationExpiredError(reservationID)
		}
	case model.ReservationExpired:
		return nil, model.NewReservationExpiredError(reservationID)
	default:
		return nil, model.NewReservationNotFoundError(reservationID)
	}

	member, err := s.memberRepo.FindByID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	ent := s.policy.EntitlementFor(member, now)

	loan := &model.Loan{
		ID:            uuid.NewString(),
		TitleID:       res.TitleID,
		MemberID:      memberID,
		Status:        model.LoanStatusActive,
		IssuedDate:    now,
		DueDate:       now.AddDate(0, 0, ent.LoanDurationDays),
		RenewalCount:  0,
		DailyFineRate: ent.DailyFineRate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	ok, err := s.reservationRepo.FulfillAndCreateLoan(ctx, reservationID, now, loan)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 並行する失効掃き出し・取り消しに負けた
		return nil, model.NewReservationExpiredError(reservationID)
	}

	s.logger.Info("予約を貸出に変換しました",
		slog.String("reservation_id", reservationID),
		slog.String("loan_id", loan.ID),
		slog.String("title_id", res.TitleID),
	)

	return loan, nil
}

// Cancel は会員の予約を取り消す。
// ready状態の取り消しでは確保済みコピーが在庫に戻り、次の待機者の昇格を試みる。
func (s *Service) Cancel(ctx context.Context, memberID, reservationID string) error {
	res, err := s.reservationRepo.FindByID(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("予約の取得に失敗しました: %w", err)
	}
	if res == nil || res.MemberID != memberID {
		return model.NewReservationNotFoundError(reservationID)
	}

	switch res.Status {
	case model.ReservationPending:
		ok, err := s.reservationRepo.CancelPending(ctx, reservationID)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewReservationNotFoundError(reservationID)
		}
	case model.ReservationReady:
		ok, err := s.reservationRepo.CancelReady(ctx, reservationID)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewReservationNotFoundError(reservationID)
		}
		// 戻ったコピーを次の待機者に引き渡す
		if _, err := s.PromoteNext(ctx, res.TitleID); err != nil {
			s.logger.Error("予約取り消し後の昇格に失敗しました",
				slog.String("title_id", res.TitleID),
				slog.String("error", err.Error()),
			)
		}
	default:
		return model.NewReservationNotFoundError(reservationID)
	}

	s.logger.Info("予約を取り消しました",
		slog.String("reservation_id", reservationID),
		slog.String("member_id", memberID),
	)

	return nil
}

// ExpireStale は受け取り期限を過ぎたready予約を失効させ、
// 戻ったコピーでタイトルごとに次の待機者の昇格を試みる。
// 失効件数を返す。定期ワーカーから呼ばれ、何度実行しても安全。
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()

	expired, err := s.reservationRepo.ExpireStale(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("予約の失効処理に失敗しました: %w", err)
	}

	titles := make(map[string]struct{})
	for _, res := range expired {
		s.metrics.RecordReservationExpired()
		s.logger.Info("予約を失効させました",
			slog.String("reservation_id", res.ID),
			slog.String("member_id", res.MemberID),
			slog.String("title_id", res.TitleID),
		)
		titles[res.TitleID] = struct{}{}
	}

	// 戻ったコピーをタイトルごとに次の待機者へ
	for titleID := range titles {
		if _, err := s.PromoteNext(ctx, titleID); err != nil {
			s.logger.Error("失効後の昇格に失敗しました",
				slog.String("title_id", titleID),
				slog.String("error", err.Error()),
			)
		}
	}

	return len(expired), nil
}

// ListMemberReservations は会員の予約一覧を返す。
func (s *Service) ListMemberReservations(ctx context.Context, memberID string) ([]*model.Reservation, error) {
	reservations, err := s.reservationRepo.ListByMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("予約一覧の取得に失敗しました: %w", err)
	}
	return reservations, nil
}
