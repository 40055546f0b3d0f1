package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/lendman/internal/model"
)

// PostgresMemberRepo はPostgreSQLを使用した会員スナップショットリポジトリ。
// 会員データの所有者は外部のID/サブスクリプション基盤であり、
// ここにはその結果整合なコピーだけを保持する。
type PostgresMemberRepo struct {
	db *sql.DB
}

// NewPostgresMemberRepo はPostgresMemberRepoを生成する。
func NewPostgresMemberRepo(db *sql.DB) *PostgresMemberRepo {
	return &PostgresMemberRepo{db: db}
}

// FindByID は指定IDの会員スナップショットを取得する。見つからない場合はnilを返す。
func (r *PostgresMemberRepo) FindByID(ctx context.Context, id string) (*model.Member, error) {
	member := &model.Member{}
	var endDate sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, tier, subscription_status, subscription_end_date, synced_at, created_at, updated_at
		 FROM members WHERE id = $1`,
		id,
	).Scan(
		&member.ID, &member.Tier, &member.SubscriptionStatus, &endDate,
		&member.SyncedAt, &member.CreatedAt, &member.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}

	if endDate.Valid {
		member.SubscriptionEndDate = &endDate.Time
	}

	return member, nil
}

// Upsert はサブスクリプション基盤からの通知で会員スナップショットを冪等に更新する。
func (r *PostgresMemberRepo) Upsert(ctx context.Context, member *model.Member) error {
	var endDate sql.NullTime
	if member.SubscriptionEndDate != nil {
		endDate = sql.NullTime{Time: *member.SubscriptionEndDate, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (id, tier, subscription_status, subscription_end_date, synced_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		     tier = EXCLUDED.tier,
		     subscription_status = EXCLUDED.subscription_status,
		     subscription_end_date = EXCLUDED.subscription_end_date,
		     synced_at = now(),
		     updated_at = now()`,
		member.ID, member.Tier, member.SubscriptionStatus, endDate,
	)
	if err != nil {
		return fmt.Errorf("会員スナップショットの更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ MemberRepository = (*PostgresMemberRepo)(nil)
