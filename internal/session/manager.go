// Package session is the single source of truth for "is there a usable
// identity right now, and under what authority". It owns both session kinds:
// the provider-backed account session and the terminal-local PIN session.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/broadcast"
	"storekeep.dev/internal/localstore"
	"storekeep.dev/internal/obs"
	"storekeep.dev/internal/provider"
)

// State is the session lifecycle state. Warning is a sub-state of Active
// (the session is still usable) exposed via Session.Warning.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateActive          State = "active"
	StateExpired         State = "expired"
)

// Session is a point-in-time view of the active session.
type Session struct {
	Identity  Identity
	ExpiresAt time.Time
	Warning   bool
}

// Remaining reports time until expiry relative to now.
func (s Session) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// Config wires the manager's collaborators and lifetimes.
type Config struct {
	KV            *localstore.Store
	Provider      provider.Provider
	Bus           *broadcast.Bus
	Logger        *zap.Logger
	PinTTL        time.Duration
	AccountMaxAge time.Duration // hard re-auth ceiling for account sessions
	WarningLead   time.Duration
	Clock         func() time.Time
}

// Manager owns session state. All mutation goes through its operations;
// no other component touches the persisted PIN record directly.
type Manager struct {
	mu   sync.Mutex
	kv   *localstore.Store
	prov provider.Provider
	bus  *broadcast.Bus
	log  *zap.Logger
	now  func() time.Time

	pinTTL        time.Duration
	accountMaxAge time.Duration
	warningLead   time.Duration

	state     State
	warned    bool
	identity  Identity
	expiresAt time.Time
	gen       uint64 // bumped on every transition; stale refreshes compare it

	warnTimer   *time.Timer
	expireTimer *time.Timer

	invalidators []func() // run synchronously with expiry/clear, before observers
	onExpired    []func()
	onWarning    []func(remaining time.Duration)
}

// NewManager constructs the manager in the Unauthenticated state. Call
// Restore to pick up a persisted session.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		kv:            cfg.KV,
		prov:          cfg.Provider,
		bus:           cfg.Bus,
		log:           cfg.Logger,
		now:           cfg.Clock,
		pinTTL:        cfg.PinTTL,
		accountMaxAge: cfg.AccountMaxAge,
		warningLead:   cfg.WarningLead,
		state:         StateUnauthenticated,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	return m
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnInvalidate registers a hook run synchronously whenever the active
// identity disappears or changes (expiry, logout, new login). Role and
// permission caches hang off this so stale privileges can never be read
// after the transition.
func (m *Manager) OnInvalidate(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidators = append(m.invalidators, fn)
}

// OnExpired registers an observer fired when the session transitions to
// Expired.
func (m *Manager) OnExpired(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpired = append(m.onExpired, fn)
}

// OnWarning registers an observer fired once per session cycle when
// remaining lifetime crosses the warning lead.
func (m *Manager) OnWarning(fn func(remaining time.Duration)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWarning = append(m.onWarning, fn)
}

// ActiveSession returns the current session, or nil when neither a PIN
// session nor an account session is valid. Never errors.
func (m *Manager) ActiveSession(ctx context.Context) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateExpired {
		// Terminal until a fresh login.
		return nil
	}
	ident, expires, ok := m.snapshotLocked(ctx)
	if !ok {
		return nil
	}
	return &Session{Identity: ident, ExpiresAt: expires, Warning: m.warned}
}

// snapshotLocked computes the usable identity. A valid PIN session takes
// precedence over an account session.
func (m *Manager) snapshotLocked(ctx context.Context) (Identity, time.Time, bool) {
	now := m.now()
	if pin, expires, ok := loadPin(m.kv, now); ok {
		return pin, expires, true
	}
	sess, err := m.prov.Session(ctx)
	if err != nil {
		return nil, time.Time{}, false
	}
	expires := m.accountExpiry(sess)
	if !now.Before(expires) {
		return nil, time.Time{}, false
	}
	ident := AccountIdentity{UserID: sess.UserID, Email: sess.Email, EmailVerified: sess.EmailVerified}
	return ident, expires, true
}

// accountExpiry caps provider-issued expiry with the hard re-auth ceiling.
func (m *Manager) accountExpiry(sess *provider.Session) time.Time {
	expires := sess.ExpiresAt
	if m.accountMaxAge > 0 && !sess.AuthTime.IsZero() {
		ceiling := sess.AuthTime.Add(m.accountMaxAge)
		if ceiling.Before(expires) {
			expires = ceiling
		}
	}
	return expires
}

// Restore recovers a persisted session at start-up, arming expiry timers
// when one exists.
func (m *Manager) Restore(ctx context.Context) *Session {
	m.mu.Lock()
	ident, expires, ok := m.snapshotLocked(ctx)
	if !ok {
		m.state = StateUnauthenticated
		m.identity = nil
		m.mu.Unlock()
		return nil
	}
	m.activateLocked(ident, expires)
	m.mu.Unlock()
	return &Session{Identity: ident, ExpiresAt: expires}
}

// PinLogin installs a backend-validated PIN grant as the active session.
func (m *Manager) PinLogin(ctx context.Context, grant backend.PinGrant) (*Session, error) {
	now := m.now()
	loginAt := grant.GrantedAt
	if loginAt.IsZero() {
		loginAt = now
	}
	ident := PinIdentity{
		MemberID:   grant.MemberID,
		MemberName: grant.MemberName,
		Role:       grant.Role,
		StoreID:    grant.StoreID,
		StoreName:  grant.StoreName,
		LoginAt:    loginAt,
	}
	expires := now.Add(m.pinTTL)

	m.mu.Lock()
	if err := storePin(m.kv, ident, expires); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.activateLocked(ident, expires)
	invalidators := snapshotFns(m.invalidators)
	m.mu.Unlock()

	runAll(invalidators)
	m.bus.Publish(broadcast.Signal{Kind: broadcast.PinSessionChanged, IdentityID: ident.MemberID, StoreID: ident.StoreID})
	m.log.Info("pin session started",
		zap.String("member_id", ident.MemberID),
		zap.String("store_id", ident.StoreID),
		zap.String("role", ident.Role.String()))
	return &Session{Identity: ident, ExpiresAt: expires}, nil
}

// AccountLogin installs the provider's current account session as active.
// Call after the provider reports a successful sign-in.
func (m *Manager) AccountLogin(ctx context.Context) (*Session, error) {
	sess, err := m.prov.Session(ctx)
	if err != nil {
		return nil, err
	}
	ident := AccountIdentity{UserID: sess.UserID, Email: sess.Email, EmailVerified: sess.EmailVerified}
	expires := m.accountExpiry(sess)

	m.mu.Lock()
	m.activateLocked(ident, expires)
	invalidators := snapshotFns(m.invalidators)
	m.mu.Unlock()

	runAll(invalidators)
	m.bus.Publish(broadcast.Signal{Kind: broadcast.AccountSessionChanged, IdentityID: ident.UserID})
	m.log.Info("account session started", zap.String("user_id", ident.UserID))
	return &Session{Identity: ident, ExpiresAt: expires}, nil
}

// Refresh extends the active session: a PIN session's expiry clock resets
// from now, an account session delegates to the provider. Idempotent and
// safe to call with no active session.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return nil
	}
	now := m.now()

	if pin, _, ok := loadPin(m.kv, now); ok {
		expires := now.Add(m.pinTTL)
		if err := storePin(m.kv, pin, expires); err != nil {
			m.mu.Unlock()
			return err
		}
		m.activateLocked(pin, expires)
		m.mu.Unlock()
		return nil
	}

	gen := m.gen
	m.mu.Unlock()
	sess, err := m.prov.Refresh(ctx)
	if err != nil {
		return err
	}
	ident := AccountIdentity{UserID: sess.UserID, Email: sess.Email, EmailVerified: sess.EmailVerified}

	m.mu.Lock()
	// The provider call ran outside the lock. If a logout, expiry, or new
	// login landed meanwhile, that transition wins and this result is stale.
	if m.gen != gen || m.state != StateActive {
		m.mu.Unlock()
		return nil
	}
	m.activateLocked(ident, m.accountExpiry(sess))
	m.mu.Unlock()
	return nil
}

// Clear destroys whichever session is active and wipes persisted PIN data.
// The exclusive path for logout.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.stopTimersLocked()
	m.gen++
	m.state = StateUnauthenticated
	m.identity = nil
	m.warned = false
	_ = m.kv.Delete(pinRecordKey)
	invalidators := snapshotFns(m.invalidators)
	m.mu.Unlock()

	err := m.prov.SignOut(ctx)
	runAll(invalidators)
	obs.SessionTransitions.WithLabelValues(string(StateUnauthenticated)).Inc()
	m.bus.Publish(broadcast.Signal{Kind: broadcast.SignedOut})
	m.log.Info("session cleared")
	return err
}

// activateLocked commits a new active identity and re-arms timers. Resets
// the warning latch so the next cycle warns again.
func (m *Manager) activateLocked(ident Identity, expires time.Time) {
	m.stopTimersLocked()
	m.gen++
	m.state = StateActive
	m.identity = ident
	m.expiresAt = expires
	m.warned = false
	obs.SessionTransitions.WithLabelValues(string(StateActive)).Inc()

	now := m.now()
	m.expireTimer = time.AfterFunc(expires.Sub(now), m.expire)
	if m.warningLead > 0 {
		if lead := expires.Add(-m.warningLead).Sub(now); lead > 0 {
			m.warnTimer = time.AfterFunc(lead, m.warn)
		}
	}
}

func (m *Manager) stopTimersLocked() {
	if m.expireTimer != nil {
		m.expireTimer.Stop()
		m.expireTimer = nil
	}
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
}

// expire transitions Active → Expired. Cached role state is invalidated
// synchronously with the transition, before any observer runs.
func (m *Manager) expire() {
	m.mu.Lock()
	if m.state != StateActive || m.now().Before(m.expiresAt) {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.state = StateExpired
	m.identity = nil
	m.stopTimersLocked()
	_ = m.kv.Delete(pinRecordKey)
	invalidators := snapshotFns(m.invalidators)
	observers := snapshotFns(m.onExpired)
	m.mu.Unlock()

	runAll(invalidators)
	runAll(observers)
	obs.SessionTransitions.WithLabelValues(string(StateExpired)).Inc()
	m.bus.Publish(broadcast.Signal{Kind: broadcast.SessionExpired})
	m.log.Warn("session expired")
}

// warn fires the warning observers once per session cycle.
func (m *Manager) warn() {
	m.mu.Lock()
	if m.state != StateActive || m.warned {
		m.mu.Unlock()
		return
	}
	m.warned = true
	remaining := m.expiresAt.Sub(m.now())
	observers := make([]func(time.Duration), len(m.onWarning))
	copy(observers, m.onWarning)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(remaining)
	}
}

func snapshotFns(fns []func()) []func() {
	out := make([]func(), len(fns))
	copy(out, fns)
	return out
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
