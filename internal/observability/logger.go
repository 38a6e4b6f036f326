// Package observability builds a slog.Logger and attaches trace
// correlation. Every component takes its logger as a constructor argument
// instead of reaching for slog.Default().
package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/2keychains/2kc/common/redact"
	"github.com/2keychains/2kc/common/trace"
)

// Format selects the handler shape for New.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// New builds a logger writing to w. Interactive CLI use wants FormatText;
// a detached daemon wants FormatJSON so log lines stay machine-parseable.
func New(w io.Writer, format Format, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// WithTrace returns a child logger carrying the trace id from ctx, if any.
func WithTrace(ctx context.Context, base *slog.Logger) *slog.Logger {
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return base
	}
	return base.With("trace_id", traceID)
}

// RedactValues scrubs every occurrence of the given sensitive values out of
// msg before it reaches a log line. Callers pass the credentials they hold
// (bearer tokens, webhook secrets) since a wrapped error can otherwise echo
// them back verbatim.
func RedactValues(msg string, sensitiveValues ...string) string {
	return redact.String(msg, sensitiveValues...)
}

// RedactAttrs scrubs values of credential-shaped keys (password, token, key,
// secret, credential, auth) out of a structured attribute map before it
// reaches a log line.
func RedactAttrs(attrs map[string]any) map[string]any {
	return redact.Map(attrs)
}
