// Package model はドメインモデルを定義する。
package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus は貸出の状態を表す。
// overdueは保存される状態ではなく、due_dateとの比較で導出される表示上の状態。
type LoanStatus string

const (
	// LoanStatusActive は貸出中の状態。
	LoanStatusActive LoanStatus = "active"
	// LoanStatusReturned は返却済みの状態。
	LoanStatusReturned LoanStatus = "returned"
)

// Loan は1人の会員による1冊のコピーの貸出を表す。
// DailyFineRateは貸出（または更新）時点の資格から確定され、以後再評価されない。
type Loan struct {
	ID            string
	TitleID       string
	MemberID      string
	Status        LoanStatus
	IssuedDate    time.Time
	DueDate       time.Time
	ReturnedDate  *time.Time
	ReturnedBy    string
	RenewalCount  int
	DailyFineRate decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MaxRenewals は1件の貸出に対する更新回数の上限。
const MaxRenewals = 2

// IsOverdue は指定時刻時点で延滞中かどうかを返す。
// 返却済みの貸出は延滞ではない。
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.Status == LoanStatusActive && now.After(l.DueDate)
}

// ViewStatus はUI表示用の状態文字列を返す。
// 貸出中かつ期限超過の場合はoverdueを返す。
func (l *Loan) ViewStatus(now time.Time) string {
	if l.IsOverdue(now) {
		return "overdue"
	}
	return string(l.Status)
}

// DaysOverdue は指定時刻時点の延滞日数（切り上げ）を返す。
// 延滞していない場合は0を返す。
func (l *Loan) DaysOverdue(now time.Time) int {
	if !now.After(l.DueDate) {
		return 0
	}
	return int(math.Ceil(now.Sub(l.DueDate).Hours() / 24))
}
