// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FineStatus は延滞料金の状態を表す。
type FineStatus string

const (
	// FineStatusPending は未払いの延滞料金。
	FineStatusPending FineStatus = "pending"
	// FineStatusPaid は支払い済みの延滞料金。
	FineStatusPaid FineStatus = "paid"
	// FineStatusWaived は管理操作により免除された延滞料金。取り消し不可。
	FineStatusWaived FineStatus = "waived"
)

// Fine は延滞返却に対する延滞料金を表す。
// 1件の貸出につき最大1件のみ生成される（loan_idのユニーク制約で保証）。
type Fine struct {
	ID          string
	LoanID      string
	MemberID    string
	Amount      decimal.Decimal
	DaysOverdue int
	Status      FineStatus
	IssuedDate  time.Time
	WaiveReason string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
