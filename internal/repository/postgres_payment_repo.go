package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/lendman/internal/model"
)

// PostgresPaymentRepo はPostgreSQLを使用した決済リポジトリ。
type PostgresPaymentRepo struct {
	db *sql.DB
}

// NewPostgresPaymentRepo はPostgresPaymentRepoを生成する。
func NewPostgresPaymentRepo(db *sql.DB) *PostgresPaymentRepo {
	return &PostgresPaymentRepo{db: db}
}

// FindByID は指定IDの決済を取得する。見つからない場合はnilを返す。
func (r *PostgresPaymentRepo) FindByID(ctx context.Context, id string) (*model.Payment, error) {
	payment := &model.Payment{}
	var fineID, providerPaymentID sql.NullString
	var amount string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, kind, fine_id, member_id, amount, status, provider_payment_id, created_at, updated_at
		 FROM payments WHERE id = $1`,
		id,
	).Scan(
		&payment.ID, &payment.Kind, &fineID, &payment.MemberID,
		&amount, &payment.Status, &providerPaymentID,
		&payment.CreatedAt, &payment.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("決済の取得に失敗しました: %w", err)
	}

	if fineID.Valid {
		payment.FineID = &fineID.String
	}
	if providerPaymentID.Valid {
		payment.ProviderPaymentID = providerPaymentID.String
	}

	payment.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("決済金額の解析に失敗しました: %w", err)
	}

	return payment, nil
}

// Create は決済を作成する。
func (r *PostgresPaymentRepo) Create(ctx context.Context, payment *model.Payment) error {
	var fineID sql.NullString
	if payment.FineID != nil {
		fineID = sql.NullString{String: *payment.FineID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (id, kind, fine_id, member_id, amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		payment.ID, payment.Kind, fineID, payment.MemberID,
		payment.Amount.String(), payment.Status,
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("決済の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateProviderPaymentID はプロセッサ側の決済IDを記録する。
func (r *PostgresPaymentRepo) UpdateProviderPaymentID(ctx context.Context, paymentID, providerPaymentID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payments SET provider_payment_id = $2, updated_at = now() WHERE id = $1`,
		paymentID, providerPaymentID,
	)
	if err != nil {
		return fmt.Errorf("プロセッサ決済IDの記録に失敗しました: %w", err)
	}
	return nil
}

// MarkResult はpending状態の決済のみ結果（completed/failed）に更新する。
// すでに確定済みの決済には何もしないため、コールバックの再送に対して冪等。
func (r *PostgresPaymentRepo) MarkResult(ctx context.Context, paymentID string, status model.PaymentStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE payments SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		paymentID, status,
	)
	if err != nil {
		return false, fmt.Errorf("決済結果の記録に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("決済結果記録の結果取得に失敗しました: %w", err)
	}

	return affected == 1, nil
}

// compile-time interface check
var _ PaymentRepository = (*PostgresPaymentRepo)(nil)
