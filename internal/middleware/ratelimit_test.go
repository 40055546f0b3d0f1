package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// testRateLimiterConfig はテスト用の小さなバースト値を持つ設定を返す。
func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1.0 / 60.0), // ほぼ補充されない
		GeneralBurst:    3,
		BorrowRate:      rate.Limit(1.0 / 60.0),
		BorrowBurst:     2,
		CleanupInterval: time.Hour,
	}
}

// doRequest は会員IDを付与してミドルウェアチェーンにリクエストを流す。
func doRequest(t *testing.T, handler http.Handler, memberID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/loans", nil)
	req = req.WithContext(ContextWithMemberID(req.Context(), memberID))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// TestGeneralMiddleware_AllowsWithinBurst はバースト内のリクエストが通過することを検証する。
func TestGeneralMiddleware_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.GeneralMiddleware()(next)

	for i := 0; i < 3; i++ {
		w := doRequest(t, handler, "member-1")
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}
}

// TestGeneralMiddleware_RejectsOverBurst はバースト超過のリクエストが429になることを検証する。
func TestGeneralMiddleware_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.GeneralMiddleware()(next)

	for i := 0; i < 3; i++ {
		doRequest(t, handler, "member-1")
	}

	w := doRequest(t, handler, "member-1")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
}

// TestBorrowMiddleware_IndependentFromGeneral は貸出系リミッターが全般リミッターと独立なことを検証する。
func TestBorrowMiddleware_IndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	borrowHandler := rl.BorrowMiddleware()(next)
	generalHandler := rl.GeneralMiddleware()(next)

	// 貸出系のバースト(2)を使い切る
	doRequest(t, borrowHandler, "member-1")
	doRequest(t, borrowHandler, "member-1")

	w := doRequest(t, borrowHandler, "member-1")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("borrow status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// 全般リミッターはまだ通過できる
	w = doRequest(t, generalHandler, "member-1")
	if w.Code != http.StatusOK {
		t.Errorf("general status = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestRateLimiter_PerMemberIsolation は会員ごとにリミッターが独立なことを検証する。
func TestRateLimiter_PerMemberIsolation(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.BorrowMiddleware()(next)

	// member-1のバーストを使い切る
	doRequest(t, handler, "member-1")
	doRequest(t, handler, "member-1")
	w := doRequest(t, handler, "member-1")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("member-1 status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// member-2は影響を受けない
	w = doRequest(t, handler, "member-2")
	if w.Code != http.StatusOK {
		t.Errorf("member-2 status = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestRateLimiter_UnauthorizedWithoutMemberID は会員IDのないリクエストが401になることを検証する。
func TestRateLimiter_UnauthorizedWithoutMemberID(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.GeneralMiddleware()(next)

	req := httptest.NewRequest(http.MethodGet, "/api/loans", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// TestRateLimiter_LimiterCounts はリミッターのエントリ数が会員数に一致することを検証する。
func TestRateLimiter_LimiterCounts(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	generalHandler := rl.GeneralMiddleware()(next)
	borrowHandler := rl.BorrowMiddleware()(next)

	doRequest(t, generalHandler, "member-1")
	doRequest(t, generalHandler, "member-2")
	doRequest(t, borrowHandler, "member-1")

	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", got)
	}
	if got := rl.BorrowLimiterCount(); got != 1 {
		t.Errorf("BorrowLimiterCount = %d, want 1", got)
	}
}

// TestRateLimiter_CleanupRemovesStaleEntries はクリーンアップで古いエントリが削除されることを検証する。
func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.CleanupInterval = time.Millisecond
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.getOrCreateGeneralLimiter("member-old")

	// 最終アクセスを過去に巻き戻す
	rl.generalMu.Lock()
	rl.generalLimiters["member-old"].lastAccess = time.Now().Add(-time.Hour)
	rl.generalMu.Unlock()

	rl.cleanup()

	if got := rl.GeneralLimiterCount(); got != 0 {
		t.Errorf("GeneralLimiterCount after cleanup = %d, want 0", got)
	}
}
