package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// slowQueryThreshold marks queries worth a warning.
const slowQueryThreshold = 500 * time.Millisecond

// Hook logs executed queries through zap.
type Hook struct {
	logger *zap.Logger
}

var _ bun.QueryHook = (*Hook)(nil)

// NewHook creates a new query logging hook.
func NewHook(logger *zap.Logger) *Hook {
	return &Hook{logger: logger.Named("db_query")}
}

// BeforeQuery implements bun.QueryHook.
func (h *Hook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

// AfterQuery implements bun.QueryHook.
func (h *Hook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)
	fields := []zap.Field{
		zap.String("operation", event.Operation()),
		zap.Duration("duration", duration),
	}

	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows):
		h.logger.Error("Query failed", append(fields, zap.String("query", event.Query), zap.Error(event.Err))...)
	case duration > slowQueryThreshold:
		h.logger.Warn("Slow query", append(fields, zap.String("query", event.Query))...)
	default:
		h.logger.Debug("Query executed", append(fields, zap.String("query", event.Query))...)
	}
}
