// Package activity watches user interaction to keep sessions honest: real
// activity quietly extends the session, and a quiet terminal eventually
// locks itself.
package activity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Refresher extends the active session's lifetime. *session.Manager
// satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Config wires a Monitor.
type Config struct {
	Sessions Refresher
	Logger   *zap.Logger

	// Threshold is the minimum gap between activity-driven refreshes.
	// Interaction events arrive per keystroke and per scan; without the
	// gate every barcode would hit the session store.
	Threshold time.Duration
	// IdleTimeout is how long the terminal may sit untouched before the
	// idle hooks fire.
	IdleTimeout time.Duration
}

// Monitor debounces interaction events into session refreshes and runs an
// idle countdown that resets on every event.
type Monitor struct {
	sessions Refresher
	log      *zap.Logger
	gate     *rate.Limiter
	idle     time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	lastSeen time.Time
	onIdle   []func()
	running  bool
}

func NewMonitor(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	return &Monitor{
		sessions: cfg.Sessions,
		log:      cfg.Logger,
		gate:     rate.NewLimiter(rate.Every(cfg.Threshold), 1),
		idle:     cfg.IdleTimeout,
	}
}

// OnIdle registers a hook run when the idle timeout elapses with no
// activity. Hooks run on the timer goroutine.
func (m *Monitor) OnIdle(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onIdle = append(m.onIdle, fn)
}

// Start arms the idle countdown. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.lastSeen = time.Now()
	m.timer = time.AfterFunc(m.idle, m.fireIdle)
}

// Stop disarms the countdown. Touches while stopped are ignored.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Touch records one interaction event. Every event resets the idle
// countdown; at most one event per threshold also refreshes the session.
func (m *Monitor) Touch(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.lastSeen = time.Now()
	m.timer.Reset(m.idle)
	m.mu.Unlock()

	if !m.gate.Allow() {
		return
	}
	if err := m.sessions.Refresh(ctx); err != nil {
		m.log.Debug("activity refresh skipped", zap.Error(err))
	}
}

// Extend is the explicit "keep me signed in" action from the expiry
// warning dialog. It bypasses the debounce gate.
func (m *Monitor) Extend(ctx context.Context) error {
	m.mu.Lock()
	if m.running && m.timer != nil {
		m.lastSeen = time.Now()
		m.timer.Reset(m.idle)
	}
	m.mu.Unlock()
	return m.sessions.Refresh(ctx)
}

// LastSeen reports the most recent recorded interaction.
func (m *Monitor) LastSeen() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

func (m *Monitor) fireIdle() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	hooks := append([]func(){}, m.onIdle...)
	m.mu.Unlock()

	m.log.Info("terminal idle timeout reached")
	for _, fn := range hooks {
		fn()
	}
}
