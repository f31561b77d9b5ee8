package fuse

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

// ContextKeyRequestID is the context key a generated request ID is stored
// under for the lifetime of one FUSE syscall, so error logs from nested
// core/backend calls can be correlated back to the syscall that triggered
// them.
const ContextKeyRequestID contextKey = iota

// withRequestID attaches a freshly generated request ID to ctx and returns
// both, for use at the entry point of each FUSE operation.
func withRequestID(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return context.WithValue(ctx, ContextKeyRequestID, id), id
}

// requestIDFromContext returns the request ID attached by withRequestID, or
// the empty string if ctx carries none.
func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ContextKeyRequestID); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
