package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/lendman/internal/middleware"
	"github.com/hitoshi/lendman/internal/model"
)

// FineServiceInterface は延滞料金ハンドラーが必要とするサービスインターフェース。
type FineServiceInterface interface {
	// PendingBalance は会員の未払い延滞料金の合計額を返す。
	PendingBalance(ctx context.Context, memberID string) (decimal.Decimal, error)
	// ListPendingFines は会員の未払い延滞料金一覧を返す。
	ListPendingFines(ctx context.Context, memberID string) ([]*model.Fine, error)
	// Waive は管理操作により延滞料金を免除する。
	Waive(ctx context.Context, fineID, reason string) (*model.Fine, error)
}

// PaymentCollectorInterface は延滞料金の回収依頼インターフェース。
type PaymentCollectorInterface interface {
	// CollectFine は延滞料金に対する回収依頼を発行する。
	CollectFine(ctx context.Context, memberID, fineID string) (*model.Payment, error)
}

// FineHandler は延滞料金管理のHTTPハンドラー。
type FineHandler struct {
	service   FineServiceInterface
	collector PaymentCollectorInterface
}

// NewFineHandler はFineHandlerを生成する。
func NewFineHandler(service FineServiceInterface, collector PaymentCollectorInterface) *FineHandler {
	return &FineHandler{
		service:   service,
		collector: collector,
	}
}

// waiveRequest は免除リクエストのボディ。
type waiveRequest struct {
	Reason string `json:"reason"`
}

// balanceResponse は未払い残高のAPIレスポンス。
type balanceResponse struct {
	MemberID string `json:"member_id"`
	Balance  string `json:"balance"`
}

// paymentResponse は決済情報のAPIレスポンス。
type paymentResponse struct {
	ID                string  `json:"id"`
	Kind              string  `json:"kind"`
	FineID            *string `json:"fine_id,omitempty"`
	Amount            string  `json:"amount"`
	Status            string  `json:"status"`
	ProviderPaymentID string  `json:"provider_payment_id,omitempty"`
}

// ListFines は会員の未払い延滞料金一覧を返す。
// GET /api/fines
func (h *FineHandler) ListFines(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	fines, err := h.service.ListPendingFines(r.Context(), memberID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]fineResponse, 0, len(fines))
	for _, fine := range fines {
		resp = append(resp, toFineResponse(fine))
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"fines": resp})
}

// GetBalance は会員の未払い残高を返す。
// GET /api/fines/balance
func (h *FineHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	balance, err := h.service.PendingBalance(r.Context(), memberID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, balanceResponse{
		MemberID: memberID,
		Balance:  balance.String(),
	})
}

// Collect は延滞料金の回収依頼を処理する。
// POST /api/fines/:id/collect
func (h *FineHandler) Collect(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	fineID := chi.URLParam(r, "id")

	pmt, err := h.collector.CollectFine(r.Context(), memberID, fineID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusAccepted, toPaymentResponse(pmt))
}

// Waive は延滞料金の免除を処理する。管理操作。
// POST /api/admin/fines/:id/waive
func (h *FineHandler) Waive(w http.ResponseWriter, r *http.Request) {
	fineID := chi.URLParam(r, "id")

	var req waiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.Reason == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "免除理由が空です。",
			Category: model.ErrCategoryValidation,
			Action:   "reasonフィールドに免除理由を指定してください。",
		})
		return
	}

	fine, err := h.service.Waive(r.Context(), fineID, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toFineResponse(fine))
}

// toPaymentResponse はmodel.PaymentからAPIレスポンスに変換する。
func toPaymentResponse(pmt *model.Payment) paymentResponse {
	return paymentResponse{
		ID:                pmt.ID,
		Kind:              string(pmt.Kind),
		FineID:            pmt.FineID,
		Amount:            pmt.Amount.String(),
		Status:            string(pmt.Status),
		ProviderPaymentID: pmt.ProviderPaymentID,
	}
}
