package activity

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingRefresher) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingRefresher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestTouchDebouncesRefreshes(t *testing.T) {
	ref := &countingRefresher{}
	m := NewMonitor(Config{Sessions: ref, Threshold: time.Hour, IdleTimeout: time.Hour})
	m.Start()
	defer m.Stop()

	for i := 0; i < 50; i++ {
		m.Touch(context.Background())
	}
	if got := ref.count(); got != 1 {
		t.Fatalf("want exactly one refresh through the gate, got %d", got)
	}
}

func TestExtendBypassesGate(t *testing.T) {
	ref := &countingRefresher{}
	m := NewMonitor(Config{Sessions: ref, Threshold: time.Hour, IdleTimeout: time.Hour})
	m.Start()
	defer m.Stop()

	m.Touch(context.Background())
	for i := 0; i < 3; i++ {
		if err := m.Extend(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := ref.count(); got != 4 {
		t.Fatalf("extend must always refresh, got %d calls", got)
	}
}

func TestIdleHookFiresAfterTimeout(t *testing.T) {
	ref := &countingRefresher{}
	m := NewMonitor(Config{Sessions: ref, Threshold: time.Hour, IdleTimeout: 60 * time.Millisecond})

	var fired atomic.Bool
	m.OnIdle(func() { fired.Store(true) })
	m.Start()

	time.Sleep(150 * time.Millisecond)
	if !fired.Load() {
		t.Fatal("idle hook should have fired")
	}
	// The monitor disarms itself after firing; touches are then ignored.
	before := ref.count()
	m.Touch(context.Background())
	if ref.count() != before {
		t.Fatal("touch after idle must be ignored until restarted")
	}
}

func TestTouchResetsIdleCountdown(t *testing.T) {
	m := NewMonitor(Config{Sessions: &countingRefresher{}, Threshold: time.Hour, IdleTimeout: 120 * time.Millisecond})
	var fired atomic.Bool
	m.OnIdle(func() { fired.Store(true) })
	m.Start()
	defer m.Stop()

	for i := 0; i < 4; i++ {
		time.Sleep(60 * time.Millisecond)
		m.Touch(context.Background())
	}
	if fired.Load() {
		t.Fatal("steady activity must hold off the idle hook")
	}
}

func TestStopPreventsIdleHook(t *testing.T) {
	m := NewMonitor(Config{Sessions: &countingRefresher{}, Threshold: time.Hour, IdleTimeout: 50 * time.Millisecond})
	var fired atomic.Bool
	m.OnIdle(func() { fired.Store(true) })
	m.Start()
	m.Stop()

	time.Sleep(120 * time.Millisecond)
	if fired.Load() {
		t.Fatal("stopped monitor must not fire idle hooks")
	}
}
