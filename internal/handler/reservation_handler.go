package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/lendman/internal/middleware"
	"github.com/hitoshi/lendman/internal/model"
)

// ReservationServiceInterface は予約ハンドラーが必要とするサービスインターフェース。
type ReservationServiceInterface interface {
	// Reserve はタイトルに対する予約を受け付ける。
	Reserve(ctx context.Context, memberID, titleID string) (*model.Reservation, error)
	// ConvertToLoan はready状態の予約を貸出に変換する。
	ConvertToLoan(ctx context.Context, memberID, reservationID string) (*model.Loan, error)
	// Cancel は予約を取り消す。
	Cancel(ctx context.Context, memberID, reservationID string) error
	// ListMemberReservations は会員の予約一覧を返す。
	ListMemberReservations(ctx context.Context, memberID string) ([]*model.Reservation, error)
}

// ReservationHandler は予約管理のHTTPハンドラー。
type ReservationHandler struct {
	service ReservationServiceInterface
}

// NewReservationHandler はReservationHandlerを生成する。
func NewReservationHandler(service ReservationServiceInterface) *ReservationHandler {
	return &ReservationHandler{service: service}
}

// reserveRequest は予約リクエストのボディ。
type reserveRequest struct {
	TitleID string `json:"title_id"`
}

// reservationResponse は予約情報のAPIレスポンス。
type reservationResponse struct {
	ID          string     `json:"id"`
	TitleID     string     `json:"title_id"`
	MemberID    string     `json:"member_id"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Reserve は予約の受付を処理する。
// POST /api/reservations
func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.TitleID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "title_idが空です。",
			Category: model.ErrCategoryValidation,
			Action:   "予約対象のタイトルIDを指定してください。",
		})
		return
	}

	reservation, err := h.service.Reserve(r.Context(), memberID, req.TitleID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toReservationResponse(reservation))
}

// Convert はready予約の貸出への変換を処理する。
// POST /api/reservations/:id/convert
func (h *ReservationHandler) Convert(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	reservationID := chi.URLParam(r, "id")

	loan, err := h.service.ConvertToLoan(r.Context(), memberID, reservationID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toLoanResponse(loan, time.Now()))
}

// Cancel は予約の取り消しを処理する。
// DELETE /api/reservations/:id
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	reservationID := chi.URLParam(r, "id")

	if err := h.service.Cancel(r.Context(), memberID, reservationID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListReservations は会員の予約一覧を返す。
// GET /api/reservations
func (h *ReservationHandler) ListReservations(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	reservations, err := h.service.ListMemberReservations(r.Context(), memberID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]reservationResponse, 0, len(reservations))
	for _, res := range reservations {
		resp = append(resp, toReservationResponse(res))
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"reservations": resp})
}

// toReservationResponse はmodel.ReservationからAPIレスポンスに変換する。
func toReservationResponse(res *model.Reservation) reservationResponse {
	return reservationResponse{
		ID:          res.ID,
		TitleID:     res.TitleID,
		MemberID:    res.MemberID,
		Status:      string(res.Status),
		RequestedAt: res.RequestedAt,
		ExpiresAt:   res.ExpiresAt,
	}
}
