package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/lendman/internal/model"
)

// PostgresFineRepo はPostgreSQLを使用した延滞料金リポジトリ。
type PostgresFineRepo struct {
	db *sql.DB
}

// NewPostgresFineRepo はPostgresFineRepoを生成する。
func NewPostgresFineRepo(db *sql.DB) *PostgresFineRepo {
	return &PostgresFineRepo{db: db}
}

const fineColumns = `id, loan_id, member_id, amount, days_overdue, status,
	issued_date, waive_reason, created_at, updated_at`

// scanFine は1行分の延滞料金レコードを読み取る。
func scanFine(scanner interface{ Scan(...any) error }) (*model.Fine, error) {
	fine := &model.Fine{}
	var amount string
	var waiveReason sql.NullString

	err := scanner.Scan(
		&fine.ID, &fine.LoanID, &fine.MemberID, &amount, &fine.DaysOverdue,
		&fine.Status, &fine.IssuedDate, &waiveReason, &fine.CreatedAt, &fine.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if waiveReason.Valid {
		fine.WaiveReason = waiveReason.String
	}

	fine.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("延滞料金額の解析に失敗しました: %w", err)
	}

	return fine, nil
}

// FindByID は指定IDの延滞料金を取得する。見つからない場合はnilを返す。
func (r *PostgresFineRepo) FindByID(ctx context.Context, id string) (*model.Fine, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+fineColumns+` FROM fines WHERE id = $1`, id)

	fine, err := scanFine(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("延滞料金の取得に失敗しました: %w", err)
	}

	return fine, nil
}

// FindByLoanID は貸出IDで延滞料金を検索する。見つからない場合はnilを返す。
func (r *PostgresFineRepo) FindByLoanID(ctx context.Context, loanID string) (*model.Fine, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+fineColumns+` FROM fines WHERE loan_id = $1`, loanID)

	fine, err := scanFine(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("延滞料金の検索に失敗しました: %w", err)
	}

	return fine, nil
}

// Create は延滞料金を作成する。
// loan_idのユニーク制約によりON CONFLICTで二重生成を無視し、
// 新規作成された場合のみtrueを返す（返却処理の再実行に対して冪等）。
func (r *PostgresFineRepo) Create(ctx context.Context, fine *model.Fine) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO fines (id, loan_id, member_id, amount, days_overdue, status, issued_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (loan_id) DO NOTHING`,
		fine.ID, fine.LoanID, fine.MemberID, fine.Amount.String(),
		fine.DaysOverdue, fine.Status, fine.IssuedDate,
		fine.CreatedAt, fine.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("延滞料金の作成に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("延滞料金作成の結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// PendingBalanceByMember は会員のpending延滞料金の合計額を返す。
func (r *PostgresFineRepo) PendingBalanceByMember(ctx context.Context, memberID string) (decimal.Decimal, error) {
	var balance string
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM fines
		 WHERE member_id = $1 AND status = 'pending'`,
		memberID,
	).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("未払い残高の取得に失敗しました: %w", err)
	}

	d, err := decimal.NewFromString(balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("未払い残高の解析に失敗しました: %w", err)
	}

	return d, nil
}

// MarkPaid はpending状態の延滞料金のみpaidに更新する。
func (r *PostgresFineRepo) MarkPaid(ctx context.Context, fineID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE fines SET status = 'paid', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		fineID,
	)
	if err != nil {
		return false, fmt.Errorf("延滞料金の支払い処理に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("支払い処理の結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// MarkWaived はpending状態の延滞料金のみwaivedに更新する。
func (r *PostgresFineRepo) MarkWaived(ctx context.Context, fineID, reason string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE fines SET status = 'waived', waive_reason = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		fineID, reason,
	)
	if err != nil {
		return false, fmt.Errorf("延滞料金の免除処理に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("免除処理の結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// ListPendingByMember は会員のpending延滞料金一覧を発行日時の降順で返す。
func (r *PostgresFineRepo) ListPendingByMember(ctx context.Context, memberID string) ([]*model.Fine, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fineColumns+` FROM fines
		 WHERE member_id = $1 AND status = 'pending'
		 ORDER BY issued_date DESC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("延滞料金一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var fines []*model.Fine
	for rows.Next() {
		fine, err := scanFine(rows)
		if err != nil {
			return nil, fmt.Errorf("延滞料金一覧の読み取りに失敗しました: %w", err)
		}
		fines = append(fines, fine)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("延滞料金一覧の走査に失敗しました: %w", err)
	}

	return fines, nil
}

// compile-time interface check
var _ FineRepository = (*PostgresFineRepo)(nil)
