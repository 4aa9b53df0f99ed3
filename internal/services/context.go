package services

import "context"

type contextKey string

const (
	contentIDKey contextKey = "content_id"
	mediaIDKey   contextKey = "media_id"
	stageKey     contextKey = "stage"
	requestIDKey contextKey = "request_id"
)

// WithContentID annotates context with the content record identifier.
func WithContentID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, contentIDKey, id)
}

// ContentIDFromContext extracts the content identifier if present.
func ContentIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx.Value(contentIDKey))
}

// WithMediaID annotates context with the source media identifier.
func WithMediaID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, mediaIDKey, id)
}

// MediaIDFromContext extracts the media identifier if present.
func MediaIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx.Value(mediaIDKey))
}

// WithStage annotates context with the workflow step name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the step name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
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

func int64Value(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}
