package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"opsconsole.dev/internal/auth"
	"opsconsole.dev/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder appends audit entries to the store and mirrors them to the structured log.
// Store failures are logged at WARN and never returned.
type Recorder struct {
	store  auth.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder builds a Recorder. A nil logger uses the process logger.
func NewRecorder(store auth.Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = obs.Logger()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// Record implements auth.Auditor.
func (r *Recorder) Record(ctx context.Context, entry auth.AuditEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("action", entry.Action),
		zap.String("resource", entry.Resource),
		zap.String("actor", entry.ActorUsername),
	}
	if entry.ActorID != nil {
		fields = append(fields, zap.Int64("actor_id", *entry.ActorID))
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}

	if err := r.store.Audit(ctx).Append(ctx, &entry); err != nil {
		r.logger.Warn("audit_append_failed", append(fields, zap.Error(err))...)
		return
	}
	r.logger.Info("audit", fields...)
}
