// Package model はドメインモデルを定義する。
package model

import "time"

// ReservationStatus は予約の状態を表す。
type ReservationStatus string

const (
	// ReservationPending は待機中の予約。タイトルごとにrequested_at順で並ぶ。
	ReservationPending ReservationStatus = "pending"
	// ReservationReady はコピーが確保され、受け取り可能になった予約。
	// expires_atまでに貸出へ変換されなければ失効する。
	ReservationReady ReservationStatus = "ready"
	// ReservationFulfilled は貸出に変換された予約。
	ReservationFulfilled ReservationStatus = "fulfilled"
	// ReservationExpired は受け取り期限を過ぎて失効した予約。
	ReservationExpired ReservationStatus = "expired"
	// ReservationCancelled は会員によって取り消された予約。
	ReservationCancelled ReservationStatus = "cancelled"
)

// IsTerminal は予約が終端状態（これ以上遷移しない状態）かどうかを返す。
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationFulfilled || s == ReservationExpired || s == ReservationCancelled
}

// Reservation はタイトルに対する会員の予約を表す。
// readyへの昇格時に空いたコピーが在庫から確保（available減算）されるため、
// ready状態の予約は物理コピーを1冊保持している。
type Reservation struct {
	ID          string
	TitleID     string
	MemberID    string
	Status      ReservationStatus
	RequestedAt time.Time
	ReadyAt     *time.Time
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
