// Package circulation は貸出・更新・返却のドメインロジックを提供する。
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/lendman/internal/model"
	"github.com/hitoshi/lendman/internal/policy"
	"github.com/hitoshi/lendman/internal/repository"
)

// InventoryLedger は在庫台帳の操作インターフェース。
type InventoryLedger interface {
	// TryAcquire はavailable > 0の場合のみコピーを1冊確保する。
	TryAcquire(ctx context.Context, titleID string) (bool, error)
	// Release は確保されていたコピーを在庫に戻す。
	Release(ctx context.Context, titleID string) error
	// Availability はタイトルの在庫状況を返す。
	Availability(ctx context.Context, titleID string) (*model.Title, error)
}

// EntitlementSource は会員の貸出資格の参照インターフェース。
type EntitlementSource interface {
	EntitlementFor(member *model.Member, now time.Time) policy.Entitlement
}

// Promoter は返却で空いたコピーを予約待ち行列に引き渡すインターフェース。
type Promoter interface {
	// PromoteNext はタイトルの待ち行列を昇格させ、昇格数を返す。
	PromoteNext(ctx context.Context, titleID string) (int, error)
}

// MetricsRecorder は貸出系メトリクスの記録インターフェース。
type MetricsRecorder interface {
	RecordBorrow()
	RecordBorrowRejected(reason string)
	RecordReturn()
	RecordFineIssued()
}

// Config は貸出エンジンの調整可能パラメータを保持する。
type Config struct {
	// FineBlockThreshold を超える未払い延滞料金があると新規貸出を拒否する。
	FineBlockThreshold decimal.Decimal
}

// Service は貸出エンジンのサービス層。
// 借りる・更新する・返すの3操作と、それに付随する延滞料金の生成、
// 返却後の予約昇格トリガーを担う。
type Service struct {
	memberRepo repository.MemberRepository
	loanRepo   repository.LoanRepository
	fineRepo   repository.FineRepository
	ledger     InventoryLedger
	policy     EntitlementSource
	promoter   Promoter
	metrics    MetricsRecorder
	logger     *slog.Logger
	config     Config

	// now はテストから差し替え可能な現在時刻の供給源。
	now func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	memberRepo repository.MemberRepository,
	loanRepo repository.LoanRepository,
	fineRepo repository.FineRepository,
	ledger InventoryLedger,
	policySvc EntitlementSource,
	promoter Promoter,
	metrics MetricsRecorder,
	logger *slog.Logger,
	config Config,
) *Service {
	return &Service{
		memberRepo: memberRepo,
		loanRepo:   loanRepo,
		fineRepo:   fineRepo,
		ledger:     ledger,
		policy:     policySvc,
		promoter:   promoter,
		metrics:    metrics,
		logger:     logger,
		config:     config,
		now:        time.Now,
	}
}

// Borrow は会員にタイトルのコピーを1冊貸し出す。
//
// 判定順序: 資格 → 同時貸出数 → 未払い延滞料金 → 在庫確保 → 貸出作成。
// 在庫確保後に貸出作成が失敗した場合は、確保したコピーを必ず返却する
// （補償アクション。在庫と貸出レコードの間で実質的なトランザクションを構成する）。
func (s *Service) Borrow(ctx context.Context, memberID, titleID string) (*model.Loan, error) {
	now := s.now()

	member, err := s.memberRepo.FindByID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	if member == nil {
		return nil, model.NewMemberNotFoundError(memberID)
	}

	ent := s.policy.EntitlementFor(member, now)

	activeLoans, err := s.loanRepo.CountActiveByMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("貸出数の取得に失敗しました: %w", err)
	}
	if activeLoans >= ent.MaxConcurrentLoans {
		s.metrics.RecordBorrowRejected("borrow_limit")
		return nil, model.NewBorrowLimitExceededError(ent.MaxConcurrentLoans)
	}

	balance, err := s.fineRepo.PendingBalanceByMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("未払い残高の取得に失敗しました: %w", err)
	}
	if balance.GreaterThan(s.config.FineBlockThreshold) {
		s.metrics.RecordBorrowRejected("outstanding_fines")
		return nil, model.NewOutstandingFinesError(balance)
	}

	title, err := s.ledger.Availability(ctx, titleID)
	if err != nil {
		return nil, err
	}
	if !title.Active {
		return nil, model.NewTitleNotFoundError(titleID)
	}

	acquired, err := s.ledger.TryAcquire(ctx, titleID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		s.metrics.RecordBorrowRejected("unavailable")
		return nil, model.NewBookUnavailableError(titleID)
	}

	loan := &model.Loan{
		ID:            uuid.NewString(),
		TitleID:       titleID,
		MemberID:      memberID,
		Status:        model.LoanStatusActive,
		IssuedDate:    now,
		DueDate:       now.AddDate(0, 0, ent.LoanDurationDays),
		RenewalCount:  0,
		DailyFineRate: ent.DailyFineRate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.loanRepo.Create(ctx, loan); err != nil {
		// 補償アクション: 確保済みコピーを返却してから失敗を返す
		if relErr := s.ledger.Release(ctx, titleID); relErr != nil {
			s.logger.Error("貸出作成失敗後の在庫補償に失敗しました",
				slog.String("title_id", titleID),
				slog.String("error", relErr.Error()),
			)
		}
		return nil, fmt.Errorf("貸出の作成に失敗しました: %w", err)
	}

	s.metrics.RecordBorrow()
	s.logger.Info("貸出を作成しました",
		slog.String("loan_id", loan.ID),
		slog.String("member_id", memberID),
		slog.String("title_id", titleID),
		slog.Time("due_date", loan.DueDate),
	)

	return loan, nil
}

// Renew は貸出の期限を更新する。
//
// 延滞中の貸出は更新できない。更新回数は上限2回。
// 新しい期限と延滞料金レートは更新時点の資格から再計算されるため、
// 貸出中の階層アップグレードは次の更新から反映される。
func (s *Service) Renew(ctx context.Context, memberID, loanID string) (*model.Loan, error) {
	now := s.now()

	loan, err := s.loanRepo.FindByID(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("貸出の取得に失敗しました: %w", err)
	}
	if loan == nil || loan.MemberID != memberID {
		return nil, model.NewLoanNotFoundError(loanID)
	}

	if loan.Status == model.LoanStatusReturned {
		return nil, model.NewAlreadyReturnedError(loanID)
	}
	if now.After(loan.DueDate) {
		return nil, model.NewAlreadyOverdueError(loanID)
	}
	if loan.RenewalCount >= model.MaxRenewals {
		return nil, model.NewRenewalLimitReachedError()
	}

	member, err := s.memberRepo.FindByID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	ent := s.policy.EntitlementFor(member, now)

	newDueDate := now.AddDate(0, 0, ent.LoanDurationDays)

	ok, err := s.loanRepo.Renew(ctx, loanID, newDueDate, ent.DailyFineRate, loan.RenewalCount)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 並行する更新・返却に負けた。クライアントは再取得すべき。
		return nil, model.NewLoanConflictError(loanID)
	}

	loan.DueDate = newDueDate
	loan.DailyFineRate = ent.DailyFineRate
	loan.RenewalCount++
	loan.UpdatedAt = now

	s.logger.Info("貸出を更新しました",
		slog.String("loan_id", loanID),
		slog.Int("renewal_count", loan.RenewalCount),
		slog.Time("due_date", newDueDate),
	)

	return loan, nil
}

// Return は貸出を返却し、延滞していた場合は延滞料金を生成する。
//
// 返却済みの貸出への再実行はErrAlreadyReturnedで拒否される（条件付きUPDATEで
// 並行返却も同時にガードする）。返却後、空いたコピーの予約昇格を
// 非同期にトリガーする。昇格は失効掃き出しワーカーでも再実行されるため、
// ここでの失敗は取りこぼしにならない（at-least-once）。
func (s *Service) Return(ctx context.Context, loanID, returnedBy string) (*model.Loan, *model.Fine, error) {
	now := s.now()

	loan, err := s.loanRepo.FindByID(ctx, loanID)
	if err != nil {
		return nil, nil, fmt.Errorf("貸出の取得に失敗しました: %w", err)
	}
	if loan == nil {
		return nil, nil, model.NewLoanNotFoundError(loanID)
	}
	if loan.Status == model.LoanStatusReturned {
		return nil, nil, model.NewAlreadyReturnedError(loanID)
	}

	ok, err := s.loanRepo.MarkReturned(ctx, loanID, now, returnedBy)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		// 並行する返却に負けた
		return nil, nil, model.NewAlreadyReturnedError(loanID)
	}

	if err := s.ledger.Release(ctx, loan.TitleID); err != nil {
		// 返却レコードは確定済み。在庫返却の失敗は不変条件違反であり、ここで伝播する。
		return nil, nil, err
	}

	loan.Status = model.LoanStatusReturned
	loan.ReturnedDate = &now
	loan.ReturnedBy = returnedBy
	loan.UpdatedAt = now

	var fine *model.Fine
	if now.After(loan.DueDate) {
		fine, err = s.issueFine(ctx, loan, now)
		if err != nil {
			return nil, nil, err
		}
	}

	s.metrics.RecordReturn()
	s.logger.Info("貸出を返却しました",
		slog.String("loan_id", loanID),
		slog.String("title_id", loan.TitleID),
		slog.Bool("overdue", fine != nil),
	)

	// 空いたコピーを予約待ち行列に引き渡す。
	// 返却トランザクションとは独立に実行し、結果を待たない。
	go s.triggerPromotion(loan.TitleID)

	return loan, fine, nil
}

// issueFine は延滞返却に対する延滞料金を生成する。
// 金額は貸出（または最終更新）時点で確定したレートから計算する。
// loan_idのユニーク制約により、同一貸出への二重生成は無視される。
func (s *Service) issueFine(ctx context.Context, loan *model.Loan, now time.Time) (*model.Fine, error) {
	daysOverdue := loan.DaysOverdue(now)

	fine := &model.Fine{
		ID:          uuid.NewString(),
		LoanID:      loan.ID,
		MemberID:    loan.MemberID,
		Amount:      loan.DailyFineRate.Mul(decimal.NewFromInt(int64(daysOverdue))),
		DaysOverdue: daysOverdue,
		Status:      model.FineStatusPending,
		IssuedDate:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.fineRepo.Create(ctx, fine)
	if err != nil {
		return nil, fmt.Errorf("延滞料金の作成に失敗しました: %w", err)
	}
	if !created {
		// すでに生成済み（再実行時など）。既存の料金を返す。
		existing, err := s.fineRepo.FindByLoanID(ctx, loan.ID)
		if err != nil {
			return nil, fmt.Errorf("既存延滞料金の取得に失敗しました: %w", err)
		}
		return existing, nil
	}

	s.metrics.RecordFineIssued()
	s.logger.Info("延滞料金を発行しました",
		slog.String("fine_id", fine.ID),
		slog.String("loan_id", loan.ID),
		slog.Int("days_overdue", daysOverdue),
		slog.String("amount", fine.Amount.String()),
	)

	return fine, nil
}

// triggerPromotion は返却で空いたコピーの予約昇格を実行する。
// 呼び出し元のリクエストコンテキストから切り離して実行する。
func (s *Service) triggerPromotion(titleID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.promoter.PromoteNext(ctx, titleID); err != nil {
		s.logger.Error("返却後の予約昇格に失敗しました",
			slog.String("title_id", titleID),
			slog.String("error", err.Error()),
		)
	}
}

// LoanInfo は貸出と導出状態（overdue）を結合したドメインオブジェクト。
type LoanInfo struct {
	Loan       model.Loan
	ViewStatus string
}

// ListMemberLoans は会員の貸出一覧を導出状態付きで返す。
func (s *Service) ListMemberLoans(ctx context.Context, memberID string) ([]LoanInfo, error) {
	loans, err := s.loanRepo.ListByMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("貸出一覧の取得に失敗しました: %w", err)
	}

	now := s.now()
	results := make([]LoanInfo, len(loans))
	for i, loan := range loans {
		results[i] = LoanInfo{
			Loan:       *loan,
			ViewStatus: loan.ViewStatus(now),
		}
	}

	return results, nil
}
