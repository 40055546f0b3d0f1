package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/lendman/internal/model"
)

// mockFineService はFineServiceInterfaceのモック実装。
type mockFineService struct {
	balanceFunc func(ctx context.Context, memberID string) (decimal.Decimal, error)
	listFunc    func(ctx context.Context, memberID string) ([]*model.Fine, error)
	waiveFunc   func(ctx context.Context, fineID, reason string) (*model.Fine, error)
}

func (m *mockFineService) PendingBalance(ctx context.Context, memberID string) (decimal.Decimal, error) {
	return m.balanceFunc(ctx, memberID)
}

func (m *mockFineService) ListPendingFines(ctx context.Context, memberID string) ([]*model.Fine, error) {
	return m.listFunc(ctx, memberID)
}

func (m *mockFineService) Waive(ctx context.Context, fineID, reason string) (*model.Fine, error) {
	return m.waiveFunc(ctx, fineID, reason)
}

// mockPaymentCollector はPaymentCollectorInterfaceのモック実装。
type mockPaymentCollector struct {
	collectFunc func(ctx context.Context, memberID, fineID string) (*model.Payment, error)
}

func (m *mockPaymentCollector) CollectFine(ctx context.Context, memberID, fineID string) (*model.Payment, error) {
	return m.collectFunc(ctx, memberID, fineID)
}

// newFineTestRouter は延滞料金ハンドラーのみを配線したテスト用ルーターを返す。
func newFineTestRouter(svc FineServiceInterface, collector PaymentCollectorInterface) http.Handler {
	h := NewFineHandler(svc, collector)
	r := chi.NewRouter()
	r.Get("/api/fines", h.ListFines)
	r.Get("/api/fines/balance", h.GetBalance)
	r.Post("/api/fines/{id}/collect", h.Collect)
	r.Post("/api/admin/fines/{id}/waive", h.Waive)
	return r
}

// TestGetBalance_ReturnsPendingSum は未払い残高が返ることを検証する。
func TestGetBalance_ReturnsPendingSum(t *testing.T) {
	svc := &mockFineService{
		balanceFunc: func(ctx context.Context, memberID string) (decimal.Decimal, error) {
			return decimal.NewFromInt(150), nil
		},
	}
	router := newFineTestRouter(svc, &mockPaymentCollector{})

	w := doMemberRequest(t, router, http.MethodGet, "/api/fines/balance", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp balanceResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Balance != "150" {
		t.Errorf("balance = %q, want 150", resp.Balance)
	}
	if resp.MemberID != "member-1" {
		t.Errorf("member_id = %q, want member-1", resp.MemberID)
	}
}

// TestListFines_ReturnsPendingFines は未払い延滞料金の一覧が返ることを検証する。
func TestListFines_ReturnsPendingFines(t *testing.T) {
	svc := &mockFineService{
		listFunc: func(ctx context.Context, memberID string) ([]*model.Fine, error) {
			return []*model.Fine{
				{ID: "fine-1", LoanID: "loan-1", MemberID: memberID, Amount: decimal.NewFromInt(90), Status: model.FineStatusPending},
			}, nil
		},
	}
	router := newFineTestRouter(svc, &mockPaymentCollector{})

	w := doMemberRequest(t, router, http.MethodGet, "/api/fines", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Fines []fineResponse `json:"fines"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(resp.Fines) != 1 {
		t.Fatalf("expected 1 fine, got %d", len(resp.Fines))
	}
	if resp.Fines[0].Amount != "90" {
		t.Errorf("amount = %q, want 90", resp.Fines[0].Amount)
	}
}

// TestCollect_ReturnsAcceptedPayment は回収依頼が202と決済情報で返ることを検証する。
func TestCollect_ReturnsAcceptedPayment(t *testing.T) {
	fineID := "fine-1"
	collector := &mockPaymentCollector{
		collectFunc: func(ctx context.Context, memberID, id string) (*model.Payment, error) {
			if id != fineID {
				t.Errorf("fineID = %q, want %q", id, fineID)
			}
			return &model.Payment{
				ID:                "pay-1",
				Kind:              model.PaymentKindFine,
				FineID:            &fineID,
				MemberID:          memberID,
				Amount:            decimal.NewFromInt(90),
				Status:            model.PaymentStatusPending,
				ProviderPaymentID: "prov-1",
			}, nil
		},
	}
	router := newFineTestRouter(&mockFineService{}, collector)

	w := doMemberRequest(t, router, http.MethodPost, "/api/fines/fine-1/collect", nil)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}

	var resp paymentResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Status != "pending" {
		t.Errorf("status = %q, want pending", resp.Status)
	}
	if resp.ProviderPaymentID != "prov-1" {
		t.Errorf("provider_payment_id = %q, want prov-1", resp.ProviderPaymentID)
	}
}

// TestCollect_AlreadyPaid は支払い済み料金への回収依頼が409で返ることを検証する。
func TestCollect_AlreadyPaid(t *testing.T) {
	collector := &mockPaymentCollector{
		collectFunc: func(ctx context.Context, memberID, fineID string) (*model.Payment, error) {
			return nil, model.NewFineConflictError(fineID, model.FineStatusPaid)
		},
	}
	router := newFineTestRouter(&mockFineService{}, collector)

	w := doMemberRequest(t, router, http.MethodPost, "/api/fines/fine-1/collect", nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// TestWaive_Success は免除成功時に200と免除後の料金が返ることを検証する。
func TestWaive_Success(t *testing.T) {
	svc := &mockFineService{
		waiveFunc: func(ctx context.Context, fineID, reason string) (*model.Fine, error) {
			if reason != "システム障害による補償" {
				t.Errorf("reason = %q", reason)
			}
			return &model.Fine{
				ID:          fineID,
				Amount:      decimal.NewFromInt(90),
				Status:      model.FineStatusWaived,
				WaiveReason: reason,
			}, nil
		},
	}
	router := newFineTestRouter(svc, &mockPaymentCollector{})

	w := doMemberRequest(t, router, http.MethodPost, "/api/admin/fines/fine-1/waive",
		map[string]string{"reason": "システム障害による補償"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp fineResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Status != "waived" {
		t.Errorf("status = %q, want waived", resp.Status)
	}
}

// TestWaive_EmptyReason は免除理由なしのリクエストが400で返ることを検証する。
func TestWaive_EmptyReason(t *testing.T) {
	router := newFineTestRouter(&mockFineService{}, &mockPaymentCollector{})

	w := doMemberRequest(t, router, http.MethodPost, "/api/admin/fines/fine-1/waive",
		map[string]string{"reason": ""})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
