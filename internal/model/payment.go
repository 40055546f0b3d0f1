// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentKind は決済の種別を表す。
type PaymentKind string

const (
	// PaymentKindFine は延滞料金の決済。
	PaymentKindFine PaymentKind = "fine"
	// PaymentKindSubscription はサブスクリプション課金の決済。
	PaymentKindSubscription PaymentKind = "subscription"
)

// PaymentStatus は決済の状態を表す。
type PaymentStatus string

const (
	// PaymentStatusPending は決済プロセッサの応答待ちの状態。
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted は決済が完了した状態。
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed は決済が失敗した状態。
	PaymentStatusFailed PaymentStatus = "failed"
)

// Payment は外部決済プロセッサへの回収依頼を表す。
// コアは状態の読み書きのみを行い、カード情報等の決済手段には一切触れない。
type Payment struct {
	ID                string
	Kind              PaymentKind
	FineID            *string
	MemberID          string
	Amount            decimal.Decimal
	Status            PaymentStatus
	ProviderPaymentID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
