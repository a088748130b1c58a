package ingestion_engine

import (
	"context"
	"log/slog"
)

// bestEffort runs an optional pipeline step. A failure is logged as a warning and
// reported as ok=false; it never reaches the caller.
func bestEffort[T any](ctx context.Context, logger *slog.Logger, step, documentID string, fn func(context.Context) (T, error)) (T, bool) {
	v, err := fn(ctx)
	if err != nil {
		logger.Warn("optional step skipped",
			"step", step,
			"document_id", documentID,
			"error", err)
		var zero T
		return zero, false
	}
	return v, true
}
