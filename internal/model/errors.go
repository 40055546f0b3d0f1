// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: admission, availability, conflict, validation, not_found, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// AsAPIError はエラーチェーンからAPIErrorを取り出す。見つからない場合はnilを返す。
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// エラーカテゴリ
const (
	ErrCategoryAdmission    = "admission"
	ErrCategoryAvailability = "availability"
	ErrCategoryConflict     = "conflict"
	ErrCategoryValidation   = "validation"
	ErrCategoryNotFound     = "not_found"
	ErrCategorySystem       = "system"
)

// 定義済みエラーコード
const (
	ErrCodeBorrowLimitExceeded  = "BORROW_LIMIT_EXCEEDED"
	ErrCodeOutstandingFines     = "OUTSTANDING_FINES"
	ErrCodeNotEligible          = "NOT_ELIGIBLE"
	ErrCodeBookUnavailable      = "BOOK_UNAVAILABLE"
	ErrCodeReservationExpired   = "RESERVATION_EXPIRED"
	ErrCodeAlreadyReturned      = "ALREADY_RETURNED"
	ErrCodeAlreadyOverdue       = "ALREADY_OVERDUE"
	ErrCodeRenewalLimitReached  = "RENEWAL_LIMIT_REACHED"
	ErrCodeAlreadyReserved      = "ALREADY_RESERVED"
	ErrCodeLoanConflict         = "LOAN_CONFLICT"
	ErrCodeFineConflict         = "FINE_CONFLICT"
	ErrCodeInvalidCopyCount     = "INVALID_COPY_COUNT"
	ErrCodeTitleNotFound        = "TITLE_NOT_FOUND"
	ErrCodeLoanNotFound         = "LOAN_NOT_FOUND"
	ErrCodeReservationNotFound  = "RESERVATION_NOT_FOUND"
	ErrCodeFineNotFound         = "FINE_NOT_FOUND"
	ErrCodeMemberNotFound       = "MEMBER_NOT_FOUND"
	ErrCodePaymentNotFound      = "PAYMENT_NOT_FOUND"
	ErrCodeInventoryInvariant   = "INVENTORY_INVARIANT_VIOLATION"
)

// NewBorrowLimitExceededError は同時貸出数の上限超過エラーを生成する。
func NewBorrowLimitExceededError(max int) *APIError {
	return &APIError{
		Code:     ErrCodeBorrowLimitExceeded,
		Message:  fmt.Sprintf("同時貸出数が上限（%d冊）に達しています。", max),
		Category: "admission",
		Action:   "貸出中の本を返却してから、再度お試しください。",
	}
}

// NewOutstandingFinesError は未払い延滞料金による貸出拒否エラーを生成する。
func NewOutstandingFinesError(balance decimal.Decimal) *APIError {
	return &APIError{
		Code:     ErrCodeOutstandingFines,
		Message:  fmt.Sprintf("未払いの延滞料金（%s円）があるため、新しい貸出ができません。", balance.String()),
		Category: "admission",
		Action:   "延滞料金を支払ってから、再度お試しください。",
	}
}

// NewNotEligibleError は予約資格なしエラーを生成する。
func NewNotEligibleError() *APIError {
	return &APIError{
		Code:     ErrCodeNotEligible,
		Message:  "現在のプランでは予約機能をご利用いただけません。",
		Category: "admission",
		Action:   "プレミアムプラン（月額または年額）へのアップグレードをご検討ください。",
	}
}

// NewBookUnavailableError は在庫なしエラーを生成する。
func NewBookUnavailableError(titleID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookUnavailable,
		Message:  fmt.Sprintf("この本は現在すべて貸出中です: %s", titleID),
		Category: "availability",
		Action:   "予約機能を利用するか、返却をお待ちください。",
	}
}

// NewReservationExpiredError は予約の受け取り期限切れエラーを生成する。
func NewReservationExpiredError(reservationID string) *APIError {
	return &APIError{
		Code:     ErrCodeReservationExpired,
		Message:  fmt.Sprintf("予約の受け取り期限が過ぎています: %s", reservationID),
		Category: "availability",
		Action:   "再度予約してください。",
	}
}

// NewAlreadyReturnedError は返却済み貸出への操作エラーを生成する。
func NewAlreadyReturnedError(loanID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyReturned,
		Message:  fmt.Sprintf("この貸出はすでに返却済みです: %s", loanID),
		Category: "conflict",
		Action:   "貸出一覧を再読み込みしてください。",
	}
}

// NewAlreadyOverdueError は延滞中貸出の更新拒否エラーを生成する。
func NewAlreadyOverdueError(loanID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyOverdue,
		Message:  fmt.Sprintf("延滞中の貸出は更新できません: %s", loanID),
		Category: "conflict",
		Action:   "本を返却し、延滞料金を確認してください。",
	}
}

// NewRenewalLimitReachedError は更新回数の上限到達エラーを生成する。
func NewRenewalLimitReachedError() *APIError {
	return &APIError{
		Code:     ErrCodeRenewalLimitReached,
		Message:  fmt.Sprintf("貸出の更新回数が上限（%d回）に達しています。", MaxRenewals),
		Category: "conflict",
		Action:   "期限までに本を返却してください。",
	}
}

// NewAlreadyReservedError は同一タイトルへの重複予約エラーを生成する。
func NewAlreadyReservedError(titleID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyReserved,
		Message:  fmt.Sprintf("このタイトルはすでに予約済みです: %s", titleID),
		Category: "conflict",
		Action:   "予約一覧から現在の予約状況を確認してください。",
	}
}

// NewLoanConflictError は貸出への並行操作の競合エラーを生成する。
func NewLoanConflictError(loanID string) *APIError {
	return &APIError{
		Code:     ErrCodeLoanConflict,
		Message:  fmt.Sprintf("貸出の状態が同時に変更されました: %s", loanID),
		Category: "conflict",
		Action:   "貸出一覧を再読み込みしてから、再度お試しください。",
	}
}

// NewFineConflictError は延滞料金への不正な状態遷移エラーを生成する。
func NewFineConflictError(fineID string, status FineStatus) *APIError {
	return &APIError{
		Code:     ErrCodeFineConflict,
		Message:  fmt.Sprintf("延滞料金の状態（%s）ではこの操作を実行できません: %s", status, fineID),
		Category: "conflict",
		Action:   "延滞料金の状態を確認してください。",
	}
}

// NewInvalidCopyCountError は在庫数の不正な調整エラーを生成する。
func NewInvalidCopyCountError(newTotal, loaned int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCopyCount,
		Message:  fmt.Sprintf("総冊数（%d冊）を貸出中・確保中の冊数（%d冊）より少なくすることはできません。", newTotal, loaned),
		Category: "validation",
		Action:   "貸出中のコピーが返却されてから、再度調整してください。",
	}
}

// NewTitleNotFoundError はタイトル未検出エラーを生成する。
func NewTitleNotFoundError(titleID string) *APIError {
	return &APIError{
		Code:     ErrCodeTitleNotFound,
		Message:  fmt.Sprintf("指定されたタイトルが見つかりません: %s", titleID),
		Category: "not_found",
		Action:   "タイトルIDを確認してください。",
	}
}

// NewLoanNotFoundError は貸出未検出エラーを生成する。
func NewLoanNotFoundError(loanID string) *APIError {
	return &APIError{
		Code:     ErrCodeLoanNotFound,
		Message:  fmt.Sprintf("指定された貸出が見つかりません: %s", loanID),
		Category: "not_found",
		Action:   "貸出IDを確認してください。",
	}
}

// NewReservationNotFoundError は予約未検出エラーを生成する。
func NewReservationNotFoundError(reservationID string) *APIError {
	return &APIError{
		Code:     ErrCodeReservationNotFound,
		Message:  fmt.Sprintf("指定された予約が見つかりません: %s", reservationID),
		Category: "not_found",
		Action:   "予約IDを確認してください。",
	}
}

// NewFineNotFoundError は延滞料金未検出エラーを生成する。
func NewFineNotFoundError(fineID string) *APIError {
	return &APIError{
		Code:     ErrCodeFineNotFound,
		Message:  fmt.Sprintf("指定された延滞料金が見つかりません: %s", fineID),
		Category: "not_found",
		Action:   "延滞料金IDを確認してください。",
	}
}

// NewMemberNotFoundError は会員未検出エラーを生成する。
func NewMemberNotFoundError(memberID string) *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  fmt.Sprintf("指定された会員が見つかりません: %s", memberID),
		Category: "not_found",
		Action:   "会員IDを確認してください。",
	}
}

// NewPaymentNotFoundError は決済未検出エラーを生成する。
func NewPaymentNotFoundError(paymentID string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentNotFound,
		Message:  fmt.Sprintf("指定された決済が見つかりません: %s", paymentID),
		Category: "not_found",
		Action:   "決済IDを確認してください。",
	}
}

// NewInventoryInvariantError は在庫不変条件の違反エラーを生成する。
// 発生は実装バグまたはデータ破損を意味するため、致命的な内部エラーとして扱う。
func NewInventoryInvariantError(titleID string) *APIError {
	return &APIError{
		Code:     ErrCodeInventoryInvariant,
		Message:  fmt.Sprintf("在庫数の不変条件に違反する操作が検出されました: %s", titleID),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。問題が続く場合は管理者に連絡してください。",
	}
}
