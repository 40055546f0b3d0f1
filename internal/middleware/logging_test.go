package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestLoggingMiddleware_LogsRequestFields はリクエストの基本フィールドがログに出ることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	mw := NewLoggingMiddleware(logger)
	req := httptest.NewRequest(http.MethodPost, "/api/loans", nil)
	w := httptest.NewRecorder()

	mw(next).ServeHTTP(w, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	if entry["method"] != "POST" {
		t.Errorf("method = %v, want POST", entry["method"])
	}
	if entry["path"] != "/api/loans" {
		t.Errorf("path = %v, want /api/loans", entry["path"])
	}
	if entry["status"] != float64(http.StatusCreated) {
		t.Errorf("status = %v, want %d", entry["status"], http.StatusCreated)
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_ms should be logged")
	}
}

// TestLoggingMiddleware_IncludesMemberID は認証済みリクエストで会員IDがログに出ることを検証する。
func TestLoggingMiddleware_IncludesMemberID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw := NewLoggingMiddleware(logger)
	req := httptest.NewRequest(http.MethodGet, "/api/fines", nil)
	req = req.WithContext(ContextWithMemberID(req.Context(), "member-7"))
	w := httptest.NewRecorder()

	mw(next).ServeHTTP(w, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	if entry["member_id"] != "member-7" {
		t.Errorf("member_id = %v, want member-7", entry["member_id"])
	}
}

// TestLoggingMiddleware_ErrorLevelFor5xx は5xxレスポンスがERRORレベルで記録されることを検証する。
func TestLoggingMiddleware_ErrorLevelFor5xx(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	mw := NewLoggingMiddleware(logger)
	req := httptest.NewRequest(http.MethodGet, "/api/loans", nil)
	w := httptest.NewRecorder()

	mw(next).ServeHTTP(w, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
}

// TestLoggingMiddleware_WarnLevelFor4xx は4xxレスポンスがWARNレベルで記録されることを検証する。
func TestLoggingMiddleware_WarnLevelFor4xx(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	mw := NewLoggingMiddleware(logger)
	req := httptest.NewRequest(http.MethodPost, "/api/loans", nil)
	w := httptest.NewRecorder()

	mw(next).ServeHTTP(w, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
}
