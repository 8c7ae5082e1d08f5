package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestFromFallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
}

func TestMiddlewarePropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(Middleware(base))
	r.GET("/x", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "req-1")
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "req-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	for _, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("invalid json log line: %v", err)
		}
		if rec["request_id"] != "req-1" {
			t.Fatalf("expected request_id on every line, got %v", rec["request_id"])
		}
	}
}

func TestWithSentryPassesThroughWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := WithSentry(slog.New(slog.NewJSONHandler(&buf, nil))).With("campaign_id", "c1")
	l.Error("tick failed", "err", context.DeadlineExceeded)

	if !bytes.Contains(buf.Bytes(), []byte(`"campaign_id":"c1"`)) {
		t.Fatalf("expected attrs forwarded to wrapped handler, got %s", buf.String())
	}
}

func TestMiddlewareLogsProbesAtDebug(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(slog.New(slog.NewJSONHandler(&buf, nil))))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected no info-level line for probe, got %s", buf.String())
	}
}

func TestNewLevelByEnv(t *testing.T) {
	l := New("staging")
	if !l.Enabled(context.Background(), slog.LevelInfo) || l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("expected info level outside local and dev")
	}
}
