package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/lendman/internal/model"
)

// PostgresLoanRepo はPostgreSQLを使用した貸出リポジトリ。
// 同一貸出への並行操作（更新と返却の競合など）は
// 条件付きUPDATEの楽観的ガードで直列化する。
type PostgresLoanRepo struct {
	db *sql.DB
}

// NewPostgresLoanRepo はPostgresLoanRepoを生成する。
func NewPostgresLoanRepo(db *sql.DB) *PostgresLoanRepo {
	return &PostgresLoanRepo{db: db}
}

const loanColumns = `id, title_id, member_id, status, issued_date, due_date,
	returned_date, returned_by, renewal_count, daily_fine_rate, created_at, updated_at`

// scanLoan は1行分の貸出レコードを読み取る。
func scanLoan(scanner interface{ Scan(...any) error }) (*model.Loan, error) {
	loan := &model.Loan{}
	var returnedDate sql.NullTime
	var returnedBy sql.NullString
	var rate string

	err := scanner.Scan(
		&loan.ID, &loan.TitleID, &loan.MemberID, &loan.Status,
		&loan.IssuedDate, &loan.DueDate, &returnedDate, &returnedBy,
		&loan.RenewalCount, &rate, &loan.CreatedAt, &loan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if returnedDate.Valid {
		loan.ReturnedDate = &returnedDate.Time
	}
	if returnedBy.Valid {
		loan.ReturnedBy = returnedBy.String
	}

	loan.DailyFineRate, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("延滞料金レートの解析に失敗しました: %w", err)
	}

	return loan, nil
}

// FindByID は指定IDの貸出を取得する。見つからない場合はnilを返す。
func (r *PostgresLoanRepo) FindByID(ctx context.Context, id string) (*model.Loan, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)

	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("貸出の取得に失敗しました: %w", err)
	}

	return loan, nil
}

// CountActiveByMember は会員の未返却貸出数を返す。
func (r *PostgresLoanRepo) CountActiveByMember(ctx context.Context, memberID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE member_id = $1 AND status = 'active'`,
		memberID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("貸出数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Create は貸出を作成する。
func (r *PostgresLoanRepo) Create(ctx context.Context, loan *model.Loan) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO loans (id, title_id, member_id, status, issued_date, due_date,
		                    renewal_count, daily_fine_rate, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		loan.ID, loan.TitleID, loan.MemberID, loan.Status,
		loan.IssuedDate, loan.DueDate, loan.RenewalCount,
		loan.DailyFineRate.String(), loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("貸出の作成に失敗しました: %w", err)
	}
	return nil
}

// MarkReturned はstatus='active'の場合のみ返却済みに更新する。
// すでに返却済みの場合はfalseを返し、二重返却と並行返却の両方をガードする。
func (r *PostgresLoanRepo) MarkReturned(ctx context.Context, loanID string, returnedAt time.Time, returnedBy string) (bool, error) {
	var by sql.NullString
	if returnedBy != "" {
		by = sql.NullString{String: returnedBy, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE loans
		 SET status = 'returned', returned_date = $2, returned_by = $3, updated_at = now()
		 WHERE id = $1 AND status = 'active'`,
		loanID, returnedAt, by,
	)
	if err != nil {
		return false, fmt.Errorf("返却処理に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("返却処理の結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// Renew はrenewal_countが期待値と一致するactiveな貸出のみ更新する。
// 並行する更新・返却と競合した場合はfalseを返す。
func (r *PostgresLoanRepo) Renew(ctx context.Context, loanID string, newDueDate time.Time, newRate decimal.Decimal, expectedRenewals int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE loans
		 SET due_date = $2, daily_fine_rate = $3, renewal_count = renewal_count + 1, updated_at = now()
		 WHERE id = $1 AND status = 'active' AND renewal_count = $4`,
		loanID, newDueDate, newRate.String(), expectedRenewals,
	)
	if err != nil {
		return false, fmt.Errorf("貸出の更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("貸出更新の結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// ListByMember は会員の貸出一覧を発行日時の降順で返す。
func (r *PostgresLoanRepo) ListByMember(ctx context.Context, memberID string) ([]*model.Loan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE member_id = $1 ORDER BY issued_date DESC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("貸出一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var loans []*model.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("貸出一覧の読み取りに失敗しました: %w", err)
		}
		loans = append(loans, loan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("貸出一覧の走査に失敗しました: %w", err)
	}

	return loans, nil
}

// compile-time interface check
var _ LoanRepository = (*PostgresLoanRepo)(nil)
