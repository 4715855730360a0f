package audit

import (
	"context"
	"testing"

	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/backend/memory"
)

func TestRecordAppendsEvent(t *testing.T) {
	dir := memory.New()
	rec := NewRecorder(dir, nil, 60)

	rec.Record(context.Background(), "store-1", "user-1", EventUnauthorizedPage, SeverityHigh, map[string]any{"page": "settings"})

	events := dir.Events()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	if ev.EventType != EventUnauthorizedPage || ev.Severity != string(SeverityHigh) || ev.StoreID != "store-1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.ID == "" || ev.OccurredAt.IsZero() {
		t.Fatalf("event missing id or timestamp: %+v", ev)
	}
}

func TestSinkFailureIsSwallowed(t *testing.T) {
	dir := memory.New()
	dir.SetError(backend.ErrUnavailable)
	rec := NewRecorder(dir, nil, 60)

	// Must not panic or surface the failure.
	rec.Record(context.Background(), "store-1", "user-1", EventSensitiveAction, SeverityLow, nil)
}

func TestFloodGuardDropsExcess(t *testing.T) {
	dir := memory.New()
	rec := NewRecorder(dir, nil, 1) // 1/min sustained, burst 2

	for i := 0; i < 10; i++ {
		rec.Record(context.Background(), "store-1", "user-1", EventUnauthorizedAction, SeverityHigh, nil)
	}
	if got := len(dir.Events()); got > 2 {
		t.Fatalf("flood guard admitted %d events", got)
	}
}
