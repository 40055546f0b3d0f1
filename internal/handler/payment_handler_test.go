package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/lendman/internal/model"
)

// mockPaymentCallback はPaymentCallbackInterfaceのモック実装。
type mockPaymentCallback struct {
	handleFunc func(ctx context.Context, paymentID string, succeeded bool) error
}

func (m *mockPaymentCallback) HandleResult(ctx context.Context, paymentID string, succeeded bool) error {
	return m.handleFunc(ctx, paymentID, succeeded)
}

// mockMemberSync はMemberSyncInterfaceのモック実装。
type mockMemberSync struct {
	upsertFunc func(ctx context.Context, member *model.Member) error
}

func (m *mockMemberSync) Upsert(ctx context.Context, member *model.Member) error {
	return m.upsertFunc(ctx, member)
}

// newPaymentTestRouter は決済ハンドラーのみを配線したテスト用ルーターを返す。
func newPaymentTestRouter(callback PaymentCallbackInterface, members MemberSyncInterface) http.Handler {
	h := NewPaymentHandler(callback, members)
	r := chi.NewRouter()
	r.Post("/api/payments/callback", h.Callback)
	r.Post("/api/members/sync", h.SyncMember)
	return r
}

// doWebhookRequest は会員IDなしでWebhookリクエストを送信する。
func doWebhookRequest(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// TestCallback_Completed は完了通知が204で処理されることを検証する。
func TestCallback_Completed(t *testing.T) {
	var gotPaymentID string
	var gotSucceeded bool
	callback := &mockPaymentCallback{
		handleFunc: func(ctx context.Context, paymentID string, succeeded bool) error {
			gotPaymentID = paymentID
			gotSucceeded = succeeded
			return nil
		},
	}
	router := newPaymentTestRouter(callback, &mockMemberSync{})

	w := doWebhookRequest(t, router, "/api/payments/callback",
		map[string]string{"payment_id": "pay-1", "status": "completed"})

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotPaymentID != "pay-1" {
		t.Errorf("paymentID = %q, want pay-1", gotPaymentID)
	}
	if !gotSucceeded {
		t.Error("succeeded should be true for completed status")
	}
}

// TestCallback_Failed は失敗通知がsucceeded=falseで処理されることを検証する。
func TestCallback_Failed(t *testing.T) {
	var gotSucceeded bool
	callback := &mockPaymentCallback{
		handleFunc: func(ctx context.Context, paymentID string, succeeded bool) error {
			gotSucceeded = succeeded
			return nil
		},
	}
	router := newPaymentTestRouter(callback, &mockMemberSync{})

	w := doWebhookRequest(t, router, "/api/payments/callback",
		map[string]string{"payment_id": "pay-1", "status": "failed"})

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotSucceeded {
		t.Error("succeeded should be false for failed status")
	}
}

// TestCallback_InvalidStatus は不正なstatus値が400で返ることを検証する。
func TestCallback_InvalidStatus(t *testing.T) {
	router := newPaymentTestRouter(&mockPaymentCallback{}, &mockMemberSync{})

	w := doWebhookRequest(t, router, "/api/payments/callback",
		map[string]string{"payment_id": "pay-1", "status": "unknown"})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// TestCallback_UnknownPayment は未知の決済IDが404で返ることを検証する。
func TestCallback_UnknownPayment(t *testing.T) {
	callback := &mockPaymentCallback{
		handleFunc: func(ctx context.Context, paymentID string, succeeded bool) error {
			return model.NewPaymentNotFoundError(paymentID)
		},
	}
	router := newPaymentTestRouter(callback, &mockMemberSync{})

	w := doWebhookRequest(t, router, "/api/payments/callback",
		map[string]string{"payment_id": "pay-x", "status": "completed"})

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// TestSyncMember_UpsertsSnapshot は会員同期でスナップショットが更新されることを検証する。
func TestSyncMember_UpsertsSnapshot(t *testing.T) {
	var gotMember *model.Member
	members := &mockMemberSync{
		upsertFunc: func(ctx context.Context, member *model.Member) error {
			gotMember = member
			return nil
		},
	}
	router := newPaymentTestRouter(&mockPaymentCallback{}, members)

	w := doWebhookRequest(t, router, "/api/members/sync", map[string]string{
		"member_id":           "member-1",
		"tier":                "yearly",
		"subscription_status": "active",
	})

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotMember == nil {
		t.Fatal("expected member to be upserted")
	}
	if gotMember.Tier != model.TierYearly {
		t.Errorf("tier = %q, want yearly", gotMember.Tier)
	}
	if gotMember.SyncedAt.IsZero() {
		t.Error("synced_at should be set")
	}
}

// TestSyncMember_InvalidTier は不正な階層値が400で返ることを検証する。
func TestSyncMember_InvalidTier(t *testing.T) {
	router := newPaymentTestRouter(&mockPaymentCallback{}, &mockMemberSync{})

	w := doWebhookRequest(t, router, "/api/members/sync", map[string]string{
		"member_id":           "member-1",
		"tier":                "platinum",
		"subscription_status": "active",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
