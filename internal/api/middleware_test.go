package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banshee-data/racelog/internal/monitoring"
)

func TestLoggingMiddleware(t *testing.T) {
	var logged []string
	defer monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	})()

	tests := []struct {
		status int
		color  string
	}{
		{http.StatusOK, colorBoldGreen},
		{http.StatusFound, colorYellow},
		{http.StatusConflict, colorBoldRed},
		{http.StatusInternalServerError, colorBoldRed},
	}
	for _, tt := range tests {
		logged = nil
		handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/race/lap?x=1", nil))

		if rec.Code != tt.status {
			t.Errorf("status = %d, want %d", rec.Code, tt.status)
		}
		if len(logged) != 1 {
			t.Fatalf("logged %d lines, want 1", len(logged))
		}
		line := logged[0]
		if !strings.Contains(line, tt.color+fmt.Sprint(tt.status)+colorReset) {
			t.Errorf("line %q lacks coloured status %d", line, tt.status)
		}
		if !strings.Contains(line, "POST") || !strings.Contains(line, "/api/race/lap?x=1") {
			t.Errorf("line %q lacks method or URI", line)
		}
	}
}

func TestLoggingMiddleware_Flush(t *testing.T) {
	defer monitoring.SetLogger(nil)()

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer should be a Flusher")
		}
		fmt.Fprint(w, "chunk")
		f.Flush()
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/live/stream", nil))
	if !rec.Flushed {
		t.Error("Flush should reach the underlying writer")
	}
}

func TestStatusCodeColor(t *testing.T) {
	if got := statusCodeColor(101); got != "101" {
		t.Errorf("statusCodeColor(101) = %q", got)
	}
}
