package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/lendman/internal/circulation"
	"github.com/hitoshi/lendman/internal/middleware"
	"github.com/hitoshi/lendman/internal/model"
)

// CirculationServiceInterface は貸出ハンドラーが必要とするサービスインターフェース。
type CirculationServiceInterface interface {
	// Borrow は会員にタイトルのコピーを貸し出す。
	Borrow(ctx context.Context, memberID, titleID string) (*model.Loan, error)
	// Renew は貸出期間を延長する。
	Renew(ctx context.Context, memberID, loanID string) (*model.Loan, error)
	// Return は貸出を返却する。延滞していた場合は延滞料金を返す。
	Return(ctx context.Context, loanID, returnedBy string) (*model.Loan, *model.Fine, error)
	// ListMemberLoans は会員の貸出一覧を返す。
	ListMemberLoans(ctx context.Context, memberID string) ([]circulation.LoanInfo, error)
}

// CirculationHandler は貸出管理のHTTPハンドラー。
type CirculationHandler struct {
	service CirculationServiceInterface
}

// NewCirculationHandler はCirculationHandlerを生成する。
func NewCirculationHandler(service CirculationServiceInterface) *CirculationHandler {
	return &CirculationHandler{service: service}
}

// borrowRequest は貸出リクエストのボディ。
type borrowRequest struct {
	TitleID string `json:"title_id"`
}

// loanResponse は貸出情報のAPIレスポンス。
type loanResponse struct {
	ID            string     `json:"id"`
	TitleID       string     `json:"title_id"`
	MemberID      string     `json:"member_id"`
	Status        string     `json:"status"`
	IssuedDate    time.Time  `json:"issued_date"`
	DueDate       time.Time  `json:"due_date"`
	ReturnedDate  *time.Time `json:"returned_date,omitempty"`
	RenewalCount  int        `json:"renewal_count"`
	DailyFineRate string     `json:"daily_fine_rate"`
}

// fineResponse は延滞料金情報のAPIレスポンス。
type fineResponse struct {
	ID       string `json:"id"`
	LoanID   string `json:"loan_id"`
	MemberID string `json:"member_id"`
	Amount   string `json:"amount"`
	Status   string `json:"status"`
}

// returnResponse は返却結果のAPIレスポンス。延滞時のみfineを含む。
type returnResponse struct {
	Loan loanResponse  `json:"loan"`
	Fine *fineResponse `json:"fine,omitempty"`
}

// Borrow は貸出を処理する。
// POST /api/loans
func (h *CirculationHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req borrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.TitleID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "title_idが空です。",
			Category: model.ErrCategoryValidation,
			Action:   "貸出対象のタイトルIDを指定してください。",
		})
		return
	}

	loan, err := h.service.Borrow(r.Context(), memberID, req.TitleID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toLoanResponse(loan, time.Now()))
}

// Renew は貸出の更新を処理する。
// POST /api/loans/:id/renew
func (h *CirculationHandler) Renew(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	loanID := chi.URLParam(r, "id")

	loan, err := h.service.Renew(r.Context(), memberID, loanID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toLoanResponse(loan, time.Now()))
}

// Return は返却を処理する。
// POST /api/loans/:id/return
func (h *CirculationHandler) Return(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	loanID := chi.URLParam(r, "id")

	loan, fine, err := h.service.Return(r.Context(), loanID, memberID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := returnResponse{Loan: toLoanResponse(loan, time.Now())}
	if fine != nil {
		f := toFineResponse(fine)
		resp.Fine = &f
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// ListLoans は会員の貸出一覧を返す。
// GET /api/loans
func (h *CirculationHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	loans, err := h.service.ListMemberLoans(r.Context(), memberID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]loanResponse, 0, len(loans))
	for _, info := range loans {
		loan := info.Loan
		lr := toLoanResponse(&loan, time.Now())
		lr.Status = info.ViewStatus
		resp = append(resp, lr)
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"loans": resp})
}

// --- ヘルパー関数 ---

// toLoanResponse はmodel.LoanからAPIレスポンスに変換する。
// 表示上の状態（overdueを含む）はnow時点で導出する。
func toLoanResponse(loan *model.Loan, now time.Time) loanResponse {
	return loanResponse{
		ID:            loan.ID,
		TitleID:       loan.TitleID,
		MemberID:      loan.MemberID,
		Status:        loan.ViewStatus(now),
		IssuedDate:    loan.IssuedDate,
		DueDate:       loan.DueDate,
		ReturnedDate:  loan.ReturnedDate,
		RenewalCount:  loan.RenewalCount,
		DailyFineRate: loan.DailyFineRate.String(),
	}
}

// toFineResponse はmodel.FineからAPIレスポンスに変換する。
func toFineResponse(fine *model.Fine) fineResponse {
	return fineResponse{
		ID:       fine.ID,
		LoanID:   fine.LoanID,
		MemberID: fine.MemberID,
		Amount:   fine.Amount.String(),
		Status:   string(fine.Status),
	}
}
