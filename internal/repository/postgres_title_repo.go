package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/lendman/internal/model"
)

// PostgresTitleRepo はPostgreSQLを使用したタイトルリポジトリ。
// 在庫カウンタの変更はすべて条件付きUPDATE（単一文のcompare-and-decrement）で行う。
type PostgresTitleRepo struct {
	db *sql.DB
}

// NewPostgresTitleRepo はPostgresTitleRepoを生成する。
func NewPostgresTitleRepo(db *sql.DB) *PostgresTitleRepo {
	return &PostgresTitleRepo{db: db}
}

// FindByID は指定IDのタイトルを取得する。見つからない場合はnilを返す。
func (r *PostgresTitleRepo) FindByID(ctx context.Context, id string) (*model.Title, error) {
	title := &model.Title{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, total_copies, available_copies, active, created_at, updated_at
		 FROM titles WHERE id = $1`,
		id,
	).Scan(
		&title.ID, &title.Name, &title.TotalCopies, &title.AvailableCopies,
		&title.Active, &title.CreatedAt, &title.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("タイトルの取得に失敗しました: %w", err)
	}

	return title, nil
}

// Create はタイトルを作成する。
func (r *PostgresTitleRepo) Create(ctx context.Context, title *model.Title) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO titles (id, name, total_copies, available_copies, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		title.ID, title.Name, title.TotalCopies, title.AvailableCopies,
		title.Active, title.CreatedAt, title.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("タイトルの作成に失敗しました: %w", err)
	}
	return nil
}

// TryAcquire はavailable_copies > 0の場合のみ1冊確保（減算）する。
// チェックと減算を単一のUPDATE文で行うことで、最後の1冊への
// 並行貸出リクエストが両方成功する二重貸出を防ぐ。
func (r *PostgresTitleRepo) TryAcquire(ctx context.Context, titleID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE titles
		 SET available_copies = available_copies - 1, updated_at = now()
		 WHERE id = $1 AND active AND available_copies > 0`,
		titleID,
	)
	if err != nil {
		return false, fmt.Errorf("コピーの確保に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("コピー確保の結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// Release は確保されていたコピーを1冊返却（加算）する。
// available_copies >= total_copiesの状態で呼ばれた場合はfalseを返す。
func (r *PostgresTitleRepo) Release(ctx context.Context, titleID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE titles
		 SET available_copies = available_copies + 1, updated_at = now()
		 WHERE id = $1 AND available_copies < total_copies`,
		titleID,
	)
	if err != nil {
		return false, fmt.Errorf("コピーの返却に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("コピー返却の結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// AdjustTotal は総冊数をnewTotalに変更し、差分をavailable_copiesに反映する。
// 貸出中・確保中の冊数（total - available）を下回る縮小は拒否する。
func (r *PostgresTitleRepo) AdjustTotal(ctx context.Context, titleID string, newTotal int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE titles
		 SET available_copies = available_copies + ($2 - total_copies),
		     total_copies = $2,
		     updated_at = now()
		 WHERE id = $1 AND $2 >= total_copies - available_copies`,
		titleID, newTotal,
	)
	if err != nil {
		return false, fmt.Errorf("総冊数の調整に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("総冊数調整の結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// Deactivate はタイトルを非アクティブ化する。
// 貸出・予約からの参照が残るため、物理削除はしない。
func (r *PostgresTitleRepo) Deactivate(ctx context.Context, titleID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE titles SET active = FALSE, updated_at = now() WHERE id = $1`,
		titleID,
	)
	if err != nil {
		return fmt.Errorf("タイトルの非アクティブ化に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TitleRepository = (*PostgresTitleRepo)(nil)
