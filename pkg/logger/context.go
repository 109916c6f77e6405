package logger

import (
	"context"
	"log/slog"
)

type fieldsKey struct{}

// With returns a context carrying extra log fields. Any record logged through a
// *Context method with that context gets them, as does the logger from From.
func With(ctx context.Context, fields ...any) context.Context {
	existing := fieldsFrom(ctx)
	merged := make([]any, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// From returns the default logger with the context's fields attached.
func From(ctx context.Context) *slog.Logger {
	l := LoggerWrapper()
	if fields := fieldsFrom(ctx); len(fields) > 0 {
		return l.With(fields...)
	}
	return l
}

func fieldsFrom(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(fieldsKey{}).([]any)
	return fields
}

// contextHandler copies request-scoped fields from the context onto each record.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if fields := fieldsFrom(ctx); len(fields) > 0 {
		r = r.Clone()
		r.Add(fields...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
