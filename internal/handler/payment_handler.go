package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/lendman/internal/model"
)

// PaymentCallbackInterface は決済プロセッサからのコールバック処理インターフェース。
type PaymentCallbackInterface interface {
	// HandleResult は決済結果を記録し、必要に応じて延滞料金を消し込む。
	HandleResult(ctx context.Context, paymentID string, succeeded bool) error
}

// MemberSyncInterface は会員スナップショットの同期インターフェース。
type MemberSyncInterface interface {
	// Upsert は会員スナップショットを作成または更新する。
	Upsert(ctx context.Context, member *model.Member) error
}

// PaymentHandler は決済コールバックと会員同期のHTTPハンドラー。
// どちらも外部システムから呼び出されるWebhookエンドポイント。
type PaymentHandler struct {
	callback PaymentCallbackInterface
	members  MemberSyncInterface
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(callback PaymentCallbackInterface, members MemberSyncInterface) *PaymentHandler {
	return &PaymentHandler{
		callback: callback,
		members:  members,
	}
}

// paymentCallbackRequest は決済プロセッサからのコールバックボディ。
type paymentCallbackRequest struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"` // completed | failed
}

// memberSyncRequest はサブスクリプション基盤からの会員同期ボディ。
type memberSyncRequest struct {
	MemberID            string     `json:"member_id"`
	Tier                string     `json:"tier"`
	SubscriptionStatus  string     `json:"subscription_status"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date,omitempty"`
}

// Callback は決済プロセッサからの結果通知を処理する。
// POST /api/payments/callback
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.PaymentID == "" || (req.Status != "completed" && req.Status != "failed") {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "payment_idとstatus（completedまたはfailed）が必要です。",
			Category: model.ErrCategoryValidation,
			Action:   "コールバックのペイロードを確認してください。",
		})
		return
	}

	if err := h.callback.HandleResult(r.Context(), req.PaymentID, req.Status == "completed"); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SyncMember はサブスクリプション基盤からの会員スナップショット更新を処理する。
// POST /api/members/sync
func (h *PaymentHandler) SyncMember(w http.ResponseWriter, r *http.Request) {
	var req memberSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.MemberID == "" || !isValidTier(req.Tier) || !isValidSubscriptionStatus(req.SubscriptionStatus) {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "member_id、tier、subscription_statusが不正です。",
			Category: model.ErrCategoryValidation,
			Action:   "同期ペイロードを確認してください。",
		})
		return
	}

	now := time.Now()
	member := &model.Member{
		ID:                  req.MemberID,
		Tier:                model.MemberTier(req.Tier),
		SubscriptionStatus:  model.SubscriptionStatus(req.SubscriptionStatus),
		SubscriptionEndDate: req.SubscriptionEndDate,
		SyncedAt:            now,
		UpdatedAt:           now,
	}

	if err := h.members.Upsert(r.Context(), member); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// isValidTier は会員階層の値を検証する。
func isValidTier(tier string) bool {
	switch model.MemberTier(tier) {
	case model.TierFree, model.TierMonthly, model.TierYearly:
		return true
	}
	return false
}

// isValidSubscriptionStatus はサブスクリプション状態の値を検証する。
func isValidSubscriptionStatus(status string) bool {
	switch model.SubscriptionStatus(status) {
	case model.SubscriptionActive, model.SubscriptionCancelled, model.SubscriptionExpired:
		return true
	}
	return false
}
