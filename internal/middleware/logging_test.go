package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureLog(t *testing.T, handler http.Handler, req *http.Request) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	rec := httptest.NewRecorder()
	Logging(logger)(handler).ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogging_Success(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	})

	entry := captureLog(t, handler, httptest.NewRequest(http.MethodGet, "/health", nil))

	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
	if entry["method"] != "GET" || entry["path"] != "/health" {
		t.Errorf("method/path = %v/%v", entry["method"], entry["path"])
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if entry["size"] != float64(5) {
		t.Errorf("size = %v, want 5", entry["size"])
	}
	if _, ok := entry["latency_ms"]; !ok {
		t.Error("latency_ms missing")
	}
}

func TestLogging_Levels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}
	for _, tt := range tests {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		entry := captureLog(t, handler, httptest.NewRequest(http.MethodGet, "/", nil))
		if entry["level"] != tt.level {
			t.Errorf("status %d: level = %v, want %s", tt.status, entry["level"], tt.level)
		}
	}
}

// Handlers derive contexts the middleware never sees; UpdateResponseContext is
// the return path that carries the error code into the access log.
func TestLogging_ErrorCode(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetErrorCode(r.Context(), "not_found")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusNotFound)
	})

	entry := captureLog(t, handler, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if entry["error_code"] != "not_found" {
		t.Errorf("error_code = %v, want not_found", entry["error_code"])
	}
}

// The error code must survive intermediate wrappers that expose Unwrap, the
// way the metrics middleware sits between logging and the handler.
func TestLogging_ErrorCodeThroughNestedWrappers(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetErrorCode(r.Context(), "rate_limited")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	wrapped := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(newMetricsResponseWriter(w), r)
	})

	entry := captureLog(t, wrapped, httptest.NewRequest(http.MethodGet, "/", nil))

	if entry["error_code"] != "rate_limited" {
		t.Errorf("error_code = %v, want rate_limited", entry["error_code"])
	}
}

func TestLogging_NoErrorCodeOnSuccess(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// An error code stored on the context but a 2xx response: the log
		// entry must not carry it.
		ctx := SetErrorCode(r.Context(), "not_found")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusOK)
	})

	entry := captureLog(t, handler, httptest.NewRequest(http.MethodGet, "/", nil))

	if _, ok := entry["error_code"]; ok {
		t.Errorf("error_code = %v on a 2xx response", entry["error_code"])
	}
}

func TestLogging_RequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestID(Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	requestID, _ := entry["request_id"].(string)
	if requestID == "" {
		t.Fatal("request_id missing from log entry")
	}
	if got := rec.Header().Get("X-Request-ID"); got != requestID {
		t.Errorf("X-Request-ID header = %q, log entry has %q", got, requestID)
	}
}

func TestLogging_UserUID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(SetUserUID(req.Context(), "admin-user"))

	entry := captureLog(t, handler, req)
	if entry["user_uid"] != "admin-user" {
		t.Errorf("user_uid = %v, want admin-user", entry["user_uid"])
	}
}

func TestGetUserUID_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetUserUID(req.Context()); got != "" {
		t.Errorf("GetUserUID() = %q, want empty", got)
	}
}
