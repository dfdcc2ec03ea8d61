package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: slog.LevelDebug, Component: ComponentGateway})

	logger.Info("hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "component=gateway") {
		t.Errorf("expected component field, got %q", out)
	}
	if !strings.Contains(out, "k=v") {
		t.Errorf("expected k=v, got %q", out)
	}

	buf.Reset()
	logger.WithComponent(ComponentNotify).Warn("switched")
	if !strings.Contains(buf.String(), "component=notify") {
		t.Errorf("expected notify component, got %q", buf.String())
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: "json", Component: ComponentState})
	logger.Error("boom", FieldError, "x")

	if !strings.Contains(buf.String(), `"component":"state"`) {
		t.Errorf("expected json component, got %q", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got.Component() != "unknown" {
		t.Errorf("default component = %q, want unknown", got.Component())
	}

	logger := Nop().WithComponent(ComponentHub)
	ctx := NewContext(context.Background(), logger)
	if got := FromContext(ctx); got != logger {
		t.Error("FromContext should return the stored logger")
	}
}

func TestMiddleware_InjectsLogger(t *testing.T) {
	logger := Nop()
	var seen *Logger
	h := Middleware(logger)(ComponentMiddleware(ComponentHTTP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if seen == nil || seen.Component() != ComponentHTTP {
		t.Fatalf("expected http component logger in request context, got %+v", seen)
	}
}

func TestLogFields(t *testing.T) {
	f := NewFields().
		WithRequest(http.MethodPost, "/api/accounts", 2).
		WithError(errors.New("nope")).
		WithError(nil).
		WithNotification("n1", "system")

	if f[FieldEndpoint] != "/api/accounts" || f[FieldAttempt] != 2 {
		t.Errorf("unexpected request fields: %v", f)
	}
	if f[FieldError] != "nope" {
		t.Errorf("error field = %v", f[FieldError])
	}
	if len(f.ToSlice()) != len(f)*2 {
		t.Errorf("ToSlice length mismatch")
	}
}
