package logging

import (
	"context"
	"log/slog"

	"canon/internal/canonerr"
)

const (
	// FieldOperation is the standardized structured logging key for the
	// active command or pipeline phase.
	FieldOperation = "operation"
	// FieldCorrelationID is the standardized structured logging key for
	// the per-invocation correlation identifier.
	FieldCorrelationID = "correlation_id"
	// FieldRoot is the standardized structured logging key for a root path.
	FieldRoot = "root"
	// FieldSource is the standardized structured logging key for a source path.
	FieldSource = "source"
	// FieldCount is the standardized structured logging key for a row/item count.
	FieldCount = "count"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if op, ok := canonerr.OperationFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldOperation, op))
	}
	if rid, ok := canonerr.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from
// the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
