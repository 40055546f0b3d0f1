package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/lendman/internal/circulation"
	"github.com/hitoshi/lendman/internal/middleware"
	"github.com/hitoshi/lendman/internal/model"
)

// mockCirculationService はCirculationServiceInterfaceのモック実装。
type mockCirculationService struct {
	borrowFunc func(ctx context.Context, memberID, titleID string) (*model.Loan, error)
	renewFunc  func(ctx context.Context, memberID, loanID string) (*model.Loan, error)
	returnFunc func(ctx context.Context, loanID, returnedBy string) (*model.Loan, *model.Fine, error)
	listFunc   func(ctx context.Context, memberID string) ([]circulation.LoanInfo, error)
}

func (m *mockCirculationService) Borrow(ctx context.Context, memberID, titleID string) (*model.Loan, error) {
	return m.borrowFunc(ctx, memberID, titleID)
}

func (m *mockCirculationService) Renew(ctx context.Context, memberID, loanID string) (*model.Loan, error) {
	return m.renewFunc(ctx, memberID, loanID)
}

func (m *mockCirculationService) Return(ctx context.Context, loanID, returnedBy string) (*model.Loan, *model.Fine, error) {
	return m.returnFunc(ctx, loanID, returnedBy)
}

func (m *mockCirculationService) ListMemberLoans(ctx context.Context, memberID string) ([]circulation.LoanInfo, error) {
	return m.listFunc(ctx, memberID)
}

// newCirculationTestRouter は貸出ハンドラーのみを配線したテスト用ルーターを返す。
func newCirculationTestRouter(svc CirculationServiceInterface) http.Handler {
	h := NewCirculationHandler(svc)
	r := chi.NewRouter()
	r.Post("/api/loans", h.Borrow)
	r.Get("/api/loans", h.ListLoans)
	r.Post("/api/loans/{id}/renew", h.Renew)
	r.Post("/api/loans/{id}/return", h.Return)
	return r
}

// testLoan はテスト用の貸出中レコードを返す。
func testLoan(memberID string) *model.Loan {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &model.Loan{
		ID:            "loan-1",
		TitleID:       "title-1",
		MemberID:      memberID,
		Status:        model.LoanStatusActive,
		IssuedDate:    now,
		DueDate:       now.AddDate(0, 0, 15),
		DailyFineRate: decimal.NewFromInt(30),
	}
}

// doMemberRequest は会員IDを付与したリクエストを送信する。
func doMemberRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(middleware.ContextWithMemberID(req.Context(), "member-1"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// TestBorrow_Success は貸出成功時に201と貸出情報が返ることを検証する。
func TestBorrow_Success(t *testing.T) {
	svc := &mockCirculationService{
		borrowFunc: func(ctx context.Context, memberID, titleID string) (*model.Loan, error) {
			if memberID != "member-1" {
				t.Errorf("memberID = %q, want member-1", memberID)
			}
			if titleID != "title-1" {
				t.Errorf("titleID = %q, want title-1", titleID)
			}
			return testLoan(memberID), nil
		},
	}
	router := newCirculationTestRouter(svc)

	w := doMemberRequest(t, router, http.MethodPost, "/api/loans", map[string]string{"title_id": "title-1"})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}

	var resp loanResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.ID != "loan-1" {
		t.Errorf("loan ID = %q, want loan-1", resp.ID)
	}
	if resp.DailyFineRate != "30" {
		t.Errorf("daily_fine_rate = %q, want 30", resp.DailyFineRate)
	}
}

// TestBorrow_LimitExceeded は貸出上限超過が403で返ることを検証する。
func TestBorrow_LimitExceeded(t *testing.T) {
	svc := &mockCirculationService{
		borrowFunc: func(ctx context.Context, memberID, titleID string) (*model.Loan, error) {
			return nil, model.NewBorrowLimitExceededError(1)
		},
	}
	router := newCirculationTestRouter(svc)

	w := doMemberRequest(t, router, http.MethodPost, "/api/loans", map[string]string{"title_id": "title-1"})

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}

	var resp apiErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Code != model.ErrCodeBorrowLimitExceeded {
		t.Errorf("code = %q, want %q", resp.Code, model.ErrCodeBorrowLimitExceeded)
	}
}

// TestBorrow_Unavailable は在庫なしが409で返ることを検証する。
func TestBorrow_Unavailable(t *testing.T) {
	svc := &mockCirculationService{
		borrowFunc: func(ctx context.Context, memberID, titleID string) (*model.Loan, error) {
			return nil, model.NewBookUnavailableError(titleID)
		},
	}
	router := newCirculationTestRouter(svc)

	w := doMemberRequest(t, router, http.MethodPost, "/api/loans", map[string]string{"title_id": "title-1"})

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// TestBorrow_EmptyTitleID はtitle_idなしのリクエストが400で返ることを検証する。
func TestBorrow_EmptyTitleID(t *testing.T) {
	svc := &mockCirculationService{}
	router := newCirculationTestRouter(svc)

	w := doMemberRequest(t, router, http.MethodPost, "/api/loans", map[string]string{})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// TestBorrow_Unauthorized は会員IDのないリクエストが401で返ることを検証する。
func TestBorrow_Unauthorized(t *testing.T) {
	svc := &mockCirculationService{}
	router := newCirculationTestRouter(svc)

	body, _ := json.Marshal(map[string]string{"title_id": "title-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/loans", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// TestRenew_Success は更新成功時に200と更新後の貸出が返ることを検証する。
func TestRenew_Success(t *testing.T) {
	svc := &mockCirculationService{
		renewFunc: func(ctx context.Context, memberID, loanID string) (*model.Loan, error) {
			if loanID != "loan-1" {
				t.Errorf("loanID = %q, want loan-1", loanID)
			}
			loan := testLoan(memberID)
			loan.RenewalCount = 1
			return loan, nil
		},
	}
	router := newCirculationTestRouter(svc)

	w := doMemberRequest(t, router, http.MethodPost, "/api/loans/loan-1/renew", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp loanResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.RenewalCount != 1 {
		t.Errorf("renewal_count = %d, want 1", resp.RenewalCount)
	}
}

// TestRenew_LimitReached は更新回数の上限到達が409で返ることを検証する。
func TestRenew_LimitReached(t *testing.T) {
	svc := &mockCirculationService{
		renewFunc: func(ctx context.Context, memberID, loanID string) (*model.Loan, error) {
			return nil, model.NewRenewalLimitReachedError()
		},
	}
	router := newCirculationTestRouter(svc)

	w := doMemberRequest(t, router, http.MethodPost, "/api/loans/loan-1/renew", nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// TestReturn_WithFine は延滞返却時にfineを含むレスポンスが返ることを検証する。
func TestReturn_WithFine(t *testing.T) {
	svc := &mockCirculationService{
		returnFunc: func(ctx context.Context, loanID, returnedBy string) (*model.Loan, *model.Fine, error) {
			loan := testLoan(returnedBy)
			loan.Status = model.LoanStatusReturned
			fine := &model.Fine{
				ID:       "fine-1",
				LoanID:   loanID,
				MemberID: returnedBy,
				Amount:   decimal.NewFromInt(90),
				Status:   model.FineStatusPending,
			}
			return loan, fine, nil
		},
	}
	router := newCirculationTestRouter(svc)

	w := doMemberRequest(t, router, http.MethodPost, "/api/loans/loan-1/return", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp returnResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Fine == nil {
		t.Fatal("expected fine in response")
	}
	if resp.Fine.Amount != "90" {
		t.Errorf("fine amount = %q, want 90", resp.Fine.Amount)
	}
}

// TestReturn_OnTime は期限内返却時にfineが含まれないことを検証する。
func TestReturn_OnTime(t *testing.T) {
	svc := &mockCirculationService{
		returnFunc: func(ctx context.Context, loanID, returnedBy string) (*model.Loan, *model.Fine, error) {
			loan := testLoan(returnedBy)
			loan.Status = model.LoanStatusReturned
			return loan, nil, nil
		},
	}
	router := newCirculationTestRouter(svc)

	w := doMemberRequest(t, router, http.MethodPost, "/api/loans/loan-1/return", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp returnResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Fine != nil {
		t.Error("expected no fine in response")
	}
}

// TestReturn_AlreadyReturned は返却済み貸出への再返却が409で返ることを検証する。
func TestReturn_AlreadyReturned(t *testing.T) {
	svc := &mockCirculationService{
		returnFunc: func(ctx context.Context, loanID, returnedBy string) (*model.Loan, *model.Fine, error) {
			return nil, nil, model.NewAlreadyReturnedError(loanID)
		},
	}
	router := newCirculationTestRouter(svc)

	w := doMemberRequest(t, router, http.MethodPost, "/api/loans/loan-1/return", nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// TestListLoans_UsesViewStatus は一覧レスポンスに導出状態が反映されることを検証する。
func TestListLoans_UsesViewStatus(t *testing.T) {
	svc := &mockCirculationService{
		listFunc: func(ctx context.Context, memberID string) ([]circulation.LoanInfo, error) {
			loan := testLoan(memberID)
			return []circulation.LoanInfo{
				{Loan: *loan, ViewStatus: "overdue"},
			}, nil
		},
	}
	router := newCirculationTestRouter(svc)

	w := doMemberRequest(t, router, http.MethodGet, "/api/loans", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Loans []loanResponse `json:"loans"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(resp.Loans) != 1 {
		t.Fatalf("expected 1 loan, got %d", len(resp.Loans))
	}
	if resp.Loans[0].Status != "overdue" {
		t.Errorf("status = %q, want overdue", resp.Loans[0].Status)
	}
}
