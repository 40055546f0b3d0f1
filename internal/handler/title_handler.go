package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/lendman/internal/model"
)

// InventoryServiceInterface はタイトルハンドラーが必要とする在庫台帳インターフェース。
type InventoryServiceInterface interface {
	// RegisterTitle は新しいタイトルを在庫に登録する。
	RegisterTitle(ctx context.Context, name string, totalCopies int) (*model.Title, error)
	// AdjustTotal はタイトルの総冊数を調整する。
	AdjustTotal(ctx context.Context, titleID string, newTotal int) (*model.Title, error)
	// Deactivate はタイトルを新規貸出・予約の対象から外す。
	Deactivate(ctx context.Context, titleID string) error
	// Availability はタイトルの在庫状況を返す。
	Availability(ctx context.Context, titleID string) (*model.Title, error)
}

// TitleHandler はタイトル・在庫管理のHTTPハンドラー。
type TitleHandler struct {
	service InventoryServiceInterface
}

// NewTitleHandler はTitleHandlerを生成する。
func NewTitleHandler(service InventoryServiceInterface) *TitleHandler {
	return &TitleHandler{service: service}
}

// registerTitleRequest はタイトル登録リクエストのボディ。
type registerTitleRequest struct {
	Name        string `json:"name"`
	TotalCopies int    `json:"total_copies"`
}

// adjustStockRequest は在庫調整リクエストのボディ。
type adjustStockRequest struct {
	TotalCopies int `json:"total_copies"`
}

// titleResponse はタイトル情報のAPIレスポンス。
type titleResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
	Active          bool   `json:"active"`
}

// GetAvailability はタイトルの在庫状況を返す。
// GET /api/titles/:id/availability
func (h *TitleHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	titleID := chi.URLParam(r, "id")

	title, err := h.service.Availability(r.Context(), titleID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toTitleResponse(title))
}

// RegisterTitle はタイトル登録を処理する。管理操作。
// POST /api/admin/titles
func (h *TitleHandler) RegisterTitle(w http.ResponseWriter, r *http.Request) {
	var req registerTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.Name == "" || req.TotalCopies < 1 {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "タイトル名と1以上の総冊数が必要です。",
			Category: model.ErrCategoryValidation,
			Action:   "nameとtotal_copiesを指定してください。",
		})
		return
	}

	title, err := h.service.RegisterTitle(r.Context(), req.Name, req.TotalCopies)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toTitleResponse(title))
}

// AdjustStock は在庫数の調整を処理する。管理操作。
// PUT /api/admin/titles/:id/stock
func (h *TitleHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	titleID := chi.URLParam(r, "id")

	var req adjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	title, err := h.service.AdjustTotal(r.Context(), titleID, req.TotalCopies)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toTitleResponse(title))
}

// DeactivateTitle はタイトルの除架を処理する。管理操作。
// 既存の貸出・予約には影響しない。
// DELETE /api/admin/titles/:id
func (h *TitleHandler) DeactivateTitle(w http.ResponseWriter, r *http.Request) {
	titleID := chi.URLParam(r, "id")

	if err := h.service.Deactivate(r.Context(), titleID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toTitleResponse はmodel.TitleからAPIレスポンスに変換する。
func toTitleResponse(title *model.Title) titleResponse {
	return titleResponse{
		ID:              title.ID,
		Name:            title.Name,
		TotalCopies:     title.TotalCopies,
		AvailableCopies: title.AvailableCopies,
		Active:          title.Active,
	}
}
