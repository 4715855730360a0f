// Package audit records security-relevant occurrences: authorization
// denials, sensitive grants, session anomalies. Persistence is best-effort:
// a failed write is counted and logged, never surfaced to the user flow.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/obs"
)

// Severity grades a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event types emitted by the authorization core.
const (
	EventUnauthorizedPage   = "unauthorized_page_access"
	EventUnauthorizedAction = "unauthorized_action"
	EventSensitiveAction    = "sensitive_action"
	EventSessionExpired     = "session_expired"
	EventStoreMismatch      = "store_context_mismatch"
)

// Sink persists events. backend.Directory satisfies it.
type Sink interface {
	LogSecurityEvent(ctx context.Context, event backend.SecurityEvent) error
}

// Recorder appends security events through a sink with a flood guard, so a
// misbehaving UI loop cannot swamp the backend with identical denials.
type Recorder struct {
	sink    Sink
	log     *zap.Logger
	limiter *rate.Limiter
}

// NewRecorder constructs a recorder. perMinute bounds the sustained event
// rate; bursts up to twice that are admitted.
func NewRecorder(sink Sink, log *zap.Logger, perMinute int) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Recorder{
		sink:    sink,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute*2),
	}
}

// Record appends one event. Never returns an error and never blocks the
// caller beyond the sink call itself.
func (r *Recorder) Record(ctx context.Context, storeID, actorID, eventType string, severity Severity, details map[string]any) {
	if !r.limiter.Allow() {
		obs.SecurityEventsDropped.Inc()
		return
	}
	event := backend.SecurityEvent{
		ID:         uuid.NewString(),
		StoreID:    storeID,
		EventType:  eventType,
		Severity:   string(severity),
		ActorID:    actorID,
		Details:    details,
		OccurredAt: time.Now().UTC(),
	}
	if err := r.sink.LogSecurityEvent(ctx, event); err != nil {
		// Security logging must never degrade the primary flow.
		obs.SecurityEventsDropped.Inc()
		r.log.Warn("security event not persisted",
			zap.String("event_type", eventType),
			zap.String("severity", string(severity)),
			zap.Error(err))
	}
}
