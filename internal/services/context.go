package services

import "context"

type contextKey string

const (
	entityIDKey  contextKey = "entity_id"
	categoryKey  contextKey = "category"
	jobIDKey     contextKey = "job_id"
	requestIDKey contextKey = "request_id"
)

// WithEntityID annotates context with the character identifier being enriched.
func WithEntityID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, entityIDKey, id)
}

// EntityIDFromContext extracts the character identifier if present.
func EntityIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(entityIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithCategory annotates context with the enrichment category name.
func WithCategory(ctx context.Context, category string) context.Context {
	if category == "" {
		return ctx
	}
	return context.WithValue(ctx, categoryKey, category)
}

// CategoryFromContext returns the enrichment category if present.
func CategoryFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(categoryKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJobID annotates context with the batch job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext returns the batch job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
