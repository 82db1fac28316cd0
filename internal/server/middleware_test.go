package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func debugLogger(buf *strings.Builder) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("Expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	})
	wrapped := RequestIDMiddleware(handler)

	rec1, rec2 := httptest.NewRecorder(), httptest.NewRecorder()
	wrapped.ServeHTTP(rec1, httptest.NewRequest("GET", "/", nil))
	wrapped.ServeHTTP(rec2, httptest.NewRequest("GET", "/", nil))

	id1, id2 := rec1.Header().Get("X-Request-ID"), rec2.Header().Get("X-Request-ID")
	if id1 == "" || id2 == "" {
		t.Fatal("Expected X-Request-ID header to be set")
	}
	if id1 == id2 {
		t.Errorf("Expected unique request IDs, got same: %s", id1)
	}
}

func TestRequestIDMiddleware_ReusesIncomingID(t *testing.T) {
	const incoming = "0b6f8c2e-8d3a-4e57-9a53-2c4f4f6b9a10"
	tests := []struct {
		name   string
		header string
		reused bool
	}{
		{"valid uuid", incoming, true},
		{"garbage", "not-a-uuid", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("X-Request-ID", tt.header)
			rec := httptest.NewRecorder()
			RequestIDMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-ID")
			if (got == tt.header) != tt.reused {
				t.Errorf("X-Request-ID = %q, reuse of %q expected %v", got, tt.header, tt.reused)
			}
		})
	}
}

func TestGetRequestID_NotSet(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("Expected empty string, got %q", id)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("Expected context to have deadline")
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	TimeoutMiddleware(30*time.Second)(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestTimeoutMiddleware_SkipsWebSocketUpgrade(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			t.Error("upgrade request should not carry a deadline")
		}
	})

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	TimeoutMiddleware(time.Second)(handler).ServeHTTP(httptest.NewRecorder(), req)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf strings.Builder
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "custom_field", "custom_value")
		AddLogField(r.Context(), "empty_field", "")
		w.WriteHeader(http.StatusTeapot)
	})

	wrapped := RequestIDMiddleware(LoggingMiddleware(debugLogger(&buf))(testHandler))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test-path", nil))

	output := buf.String()
	for _, want := range []string{"request started", "request completed", "/test-path", "status=418", "custom_field=custom_value"} {
		if !strings.Contains(output, want) {
			t.Errorf("log output missing %q: %s", want, output)
		}
	}
	if strings.Contains(output, "empty_field") {
		t.Errorf("Empty field should not be in log output, got: %s", output)
	}
}

func TestAddError(t *testing.T) {
	var buf strings.Builder
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddError(r.Context(), errors.New("test error message"))
		AddError(r.Context(), nil)
		w.WriteHeader(http.StatusInternalServerError)
	})

	LoggingMiddleware(debugLogger(&buf))(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !strings.Contains(buf.String(), "test error message") {
		t.Errorf("Expected error in log output, got: %s", buf.String())
	}
	AddLogField(context.Background(), "key", "value")
}
