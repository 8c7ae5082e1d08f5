package logger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// InitSentry configures the global Sentry client. An empty dsn leaves
// reporting disabled and is not an error.
func InitSentry(dsn, env string) (bool, error) {
	if dsn == "" {
		return false, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// WithSentry wraps l so that error-level records are also reported to Sentry.
func WithSentry(l *slog.Logger) *slog.Logger {
	return slog.New(&sentryHandler{next: l.Handler()})
}

type sentryHandler struct {
	next  slog.Handler
	attrs []slog.Attr
}

func (h *sentryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *sentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		h.capture(r)
	}
	return h.next.Handle(ctx, r)
}

func (h *sentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &sentryHandler{next: h.next.WithAttrs(attrs), attrs: merged}
}

func (h *sentryHandler) WithGroup(name string) slog.Handler {
	return &sentryHandler{next: h.next.WithGroup(name), attrs: h.attrs}
}

func (h *sentryHandler) capture(r slog.Record) {
	hub := sentry.CurrentHub()
	if hub.Client() == nil {
		return
	}

	var cause error
	extras := make(map[string]any, len(h.attrs)+r.NumAttrs())
	collect := func(a slog.Attr) bool {
		v := a.Value.Resolve()
		if err, ok := v.Any().(error); ok && cause == nil {
			cause = err
		}
		extras[a.Key] = v.String()
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("log_message", r.Message)
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		if cause != nil {
			hub.CaptureException(errors.Join(errors.New(r.Message), cause))
			return
		}
		hub.CaptureMessage(r.Message)
	})
}
