// Package inventory はタイトルごとのコピー在庫台帳を提供する。
// available_copiesに対する唯一の操作窓口であり、
// すべての変更はストレージ層の条件付きUPDATEとして実行される。
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/lendman/internal/model"
	"github.com/hitoshi/lendman/internal/repository"
)

// Promoter は増冊で空いたコピーを予約待ち行列に引き渡すインターフェース。
type Promoter interface {
	// PromoteNext はタイトルの待ち行列を昇格させ、昇格数を返す。
	PromoteNext(ctx context.Context, titleID string) (int, error)
}

// Ledger はコピー在庫の台帳サービス。
// 不変条件 0 <= available <= total はSQLの条件とCHECK制約で強制され、
// 違反を示す結果はここで致命的な内部エラーに変換される。
type Ledger struct {
	titleRepo repository.TitleRepository
	promoter  Promoter
	logger    *slog.Logger
}

// NewLedger はLedgerの新しいインスタンスを生成する。
func NewLedger(titleRepo repository.TitleRepository, promoter Promoter, logger *slog.Logger) *Ledger {
	return &Ledger{
		titleRepo: titleRepo,
		promoter:  promoter,
		logger:    logger,
	}
}

// RegisterTitle はタイトルを在庫台帳に登録する。
// 初期状態では全コピーが貸出可能。
func (l *Ledger) RegisterTitle(ctx context.Context, name string, totalCopies int) (*model.Title, error) {
	if totalCopies < 0 {
		return nil, model.NewInvalidCopyCountError(totalCopies, 0)
	}

	now := time.Now()
	title := &model.Title{
		ID:              uuid.NewString(),
		Name:            name,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := l.titleRepo.Create(ctx, title); err != nil {
		return nil, fmt.Errorf("タイトルの登録に失敗しました: %w", err)
	}

	return title, nil
}

// TryAcquire はavailable > 0の場合のみコピーを1冊確保する。
// 確保できなかった場合はfalseを返す（在庫切れは想定内の結果でありエラーではない）。
func (l *Ledger) TryAcquire(ctx context.Context, titleID string) (bool, error) {
	acquired, err := l.titleRepo.TryAcquire(ctx, titleID)
	if err != nil {
		return false, fmt.Errorf("在庫の確保に失敗しました: %w", err)
	}
	return acquired, nil
}

// Release は確保されていたコピーを在庫に戻す。
// available >= totalの状態での呼び出しは不変条件違反であり、
// 大きくログに残して内部エラーを返す（部分的な変更は発生しない）。
func (l *Ledger) Release(ctx context.Context, titleID string) error {
	released, err := l.titleRepo.Release(ctx, titleID)
	if err != nil {
		return fmt.Errorf("在庫の返却に失敗しました: %w", err)
	}
	if !released {
		l.logger.Error("在庫不変条件の違反を検出しました: available >= totalの状態でReleaseが呼ばれました",
			slog.String("title_id", titleID),
		)
		return model.NewInventoryInvariantError(titleID)
	}
	return nil
}

// AdjustTotal は総冊数を変更する。
// 貸出中・確保中の冊数を下回る縮小は拒否される。
// 増冊でコピーが空いた場合は予約待ち行列の昇格を起動する。
func (l *Ledger) AdjustTotal(ctx context.Context, titleID string, newTotal int) (*model.Title, error) {
	if newTotal < 0 {
		return nil, model.NewInvalidCopyCountError(newTotal, 0)
	}

	title, err := l.titleRepo.FindByID(ctx, titleID)
	if err != nil {
		return nil, fmt.Errorf("タイトルの取得に失敗しました: %w", err)
	}
	if title == nil {
		return nil, model.NewTitleNotFoundError(titleID)
	}

	ok, err := l.titleRepo.AdjustTotal(ctx, titleID, newTotal)
	if err != nil {
		return nil, fmt.Errorf("総冊数の調整に失敗しました: %w", err)
	}
	if !ok {
		// 条件付きUPDATEが弾いた = 貸出中の冊数を下回る縮小
		loaned := title.TotalCopies - title.AvailableCopies
		return nil, model.NewInvalidCopyCountError(newTotal, loaned)
	}

	updated, err := l.titleRepo.FindByID(ctx, titleID)
	if err != nil {
		return nil, fmt.Errorf("調整後タイトルの取得に失敗しました: %w", err)
	}

	// 増冊は返却と同じく「コピーが空いた」イベントなので昇格を起動する。
	// 昇格の失敗は調整自体を巻き戻さない（掃き出しワーカーが回収する）。
	if newTotal > title.TotalCopies {
		if _, err := l.promoter.PromoteNext(ctx, titleID); err != nil {
			l.logger.Error("増冊後の予約昇格に失敗しました",
				slog.String("title_id", titleID),
				slog.String("error", err.Error()),
			)
		}
	}

	return updated, nil
}

// Deactivate はタイトルを非アクティブ化する。
// 貸出参照が残るため物理削除はせず、新規の貸出・予約の対象から外す。
func (l *Ledger) Deactivate(ctx context.Context, titleID string) error {
	title, err := l.titleRepo.FindByID(ctx, titleID)
	if err != nil {
		return fmt.Errorf("タイトルの取得に失敗しました: %w", err)
	}
	if title == nil {
		return model.NewTitleNotFoundError(titleID)
	}

	if err := l.titleRepo.Deactivate(ctx, titleID); err != nil {
		return fmt.Errorf("タイトルの非アクティブ化に失敗しました: %w", err)
	}

	return nil
}

// Availability はタイトルの在庫状況を返す。
func (l *Ledger) Availability(ctx context.Context, titleID string) (*model.Title, error) {
	title, err := l.titleRepo.FindByID(ctx, titleID)
	if err != nil {
		return nil, fmt.Errorf("在庫状況の取得に失敗しました: %w", err)
	}
	if title == nil {
		return nil, model.NewTitleNotFoundError(titleID)
	}
	return title, nil
}
