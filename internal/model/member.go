// Package model はドメインモデルを定義する。
package model

import "time"

// MemberTier は会員のサブスクリプション階層を表す。
type MemberTier string

const (
	// TierFree は無料会員。
	TierFree MemberTier = "free"
	// TierMonthly は月額プレミアム会員。
	TierMonthly MemberTier = "monthly"
	// TierYearly は年額プレミアム会員。
	TierYearly MemberTier = "yearly"
)

// SubscriptionStatus はサブスクリプションの状態を表す。
type SubscriptionStatus string

const (
	// SubscriptionActive は有効なサブスクリプション。
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionCancelled は解約済みのサブスクリプション。
	// EndDateまではプレミアム資格を維持する。
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	// SubscriptionExpired は期限切れのサブスクリプション。
	SubscriptionExpired SubscriptionStatus = "expired"
)

// Member は会員を表す。
// 外部のID/サブスクリプション基盤が所有するデータのスナップショットであり、
// 貸出コアからは資格判定のための読み取り専用として扱う。
type Member struct {
	ID                  string
	Tier                MemberTier
	SubscriptionStatus  SubscriptionStatus
	SubscriptionEndDate *time.Time
	SyncedAt            time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
