// Package policy はサブスクリプション階層に基づく貸出資格の判定を提供する。
// 純粋な参照のみで副作用を持たない。
package policy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/lendman/internal/model"
)

// Entitlement は会員の貸出資格を表す。
type Entitlement struct {
	MaxConcurrentLoans int
	LoanDurationDays   int
	DailyFineRate      decimal.Decimal
	CanReserve         bool
}

// Config はポリシーの調整可能パラメータを保持する。
// 年額会員の割引率は歴史的に呼び出し箇所ごとに揺れていたため、設定値として外出しする。
type Config struct {
	YearlyFineDiscountPercent int
}

// Service は階層ポリシーの参照サービス。
type Service struct {
	config Config
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(config Config) *Service {
	return &Service{config: config}
}

// freeEntitlement は無料会員（およびフォールバック時）の資格。
func freeEntitlement() Entitlement {
	return Entitlement{
		MaxConcurrentLoans: 1,
		LoanDurationDays:   7,
		DailyFineRate:      decimal.NewFromInt(30),
		CanReserve:         false,
	}
}

// premiumEntitlement はプレミアム会員の基本資格。
func premiumEntitlement() Entitlement {
	return Entitlement{
		MaxConcurrentLoans: 4,
		LoanDurationDays:   20,
		DailyFineRate:      decimal.NewFromInt(15),
		CanReserve:         true,
	}
}

// EntitlementFor は会員の指定時点での貸出資格を返す。
// サブスクリプションデータが欠落・不整合の場合は、
// より制限の強い無料会員の資格にフォールバックする（fail closed）。
func (s *Service) EntitlementFor(member *model.Member, now time.Time) Entitlement {
	if member == nil {
		return freeEntitlement()
	}

	if member.Tier != model.TierMonthly && member.Tier != model.TierYearly {
		return freeEntitlement()
	}

	switch member.SubscriptionStatus {
	case model.SubscriptionActive:
		// プレミアム資格あり
	case model.SubscriptionCancelled:
		// 解約済みでもEndDateまではプレミアム資格を維持する
		if member.SubscriptionEndDate == nil || !now.Before(*member.SubscriptionEndDate) {
			return freeEntitlement()
		}
	default:
		return freeEntitlement()
	}

	ent := premiumEntitlement()

	// 年額会員は延滞料金レートに追加割引を適用する
	if member.Tier == model.TierYearly && s.config.YearlyFineDiscountPercent > 0 {
		discount := decimal.NewFromInt(int64(100 - s.config.YearlyFineDiscountPercent)).
			Div(decimal.NewFromInt(100))
		ent.DailyFineRate = ent.DailyFineRate.Mul(discount).Round(2)
	}

	return ent
}
