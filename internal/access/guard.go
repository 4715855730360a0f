package access

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"storekeep.dev/internal/audit"
	"storekeep.dev/internal/authz"
	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/obs"
	"storekeep.dev/internal/session"
)

// State is the guard's readiness for authoritative answers.
type State string

const (
	// StateUnbound: no identity; everything is denied.
	StateUnbound State = "unbound"
	// StateResolving: identity known, role lookup in flight. Fast-path
	// pages are allowed optimistically, everything else waits.
	StateResolving State = "resolving"
	// StateResolved: role known; decisions come from the grant tables.
	StateResolved State = "resolved"
	// StateProvisional: identity known but no store selected. Pages stay
	// visible for a bounded window so the user can reach the store picker,
	// then the guard fails closed.
	StateProvisional State = "provisional"
)

// Decision is a page-access verdict. When not allowed, Redirect names the
// route to send the user to and Reason carries a role-aware message.
type Decision struct {
	Allowed  bool
	Redirect string
	Reason   string
}

// RedirectLogin is the redirect target for unauthenticated denials.
const RedirectLogin = "login"

// Guard answers page and permission questions for the current
// (identity, store) context. Synchronous checks are pure table lookups;
// CheckPermission re-validates against the backend and fails closed.
type Guard struct {
	resolver *Resolver
	dir      backend.Directory
	rec      *audit.Recorder
	log      *zap.Logger

	provisionalTTL time.Duration
	now            func() time.Time

	mu               sync.Mutex
	epoch            uint64
	state            State
	res              Resolution
	ident            session.Identity
	storeID          string
	provisionalUntil time.Time
}

// GuardConfig wires a Guard.
type GuardConfig struct {
	Resolver       *Resolver
	Directory      backend.Directory
	Recorder       *audit.Recorder
	Logger         *zap.Logger
	ProvisionalTTL time.Duration
	Clock          func() time.Time
}

func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.ProvisionalTTL <= 0 {
		cfg.ProvisionalTTL = 2 * time.Minute
	}
	return &Guard{
		resolver:       cfg.Resolver,
		dir:            cfg.Directory,
		rec:            cfg.Recorder,
		log:            cfg.Logger,
		provisionalTTL: cfg.ProvisionalTTL,
		now:            cfg.Clock,
		state:          StateUnbound,
	}
}

// SetContext rebinds the guard to an identity and store. The epoch bump
// discards any in-flight resolution for the previous context. PIN
// identities resolve immediately (no I/O); account identities enter
// StateResolving until Resolve completes. A PIN identity pointed at a
// foreign store returns ErrStoreMismatch and leaves the guard unbound —
// the caller must clear the session.
func (g *Guard) SetContext(ident session.Identity, storeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.epoch++
	g.ident = ident
	g.storeID = storeID
	g.res = Resolution{}

	if ident == nil {
		g.state = StateUnbound
		return nil
	}
	if storeID == "" {
		g.state = StateProvisional
		g.provisionalUntil = g.now().Add(g.provisionalTTL)
		return nil
	}
	if pin, ok := ident.(session.PinIdentity); ok {
		if pin.StoreID != storeID {
			g.state = StateUnbound
			g.ident = nil
			g.record(audit.EventStoreMismatch, audit.SeverityHigh, pin.MemberID, storeID, map[string]any{
				"pin_store_id": pin.StoreID,
			})
			return ErrStoreMismatch
		}
		g.res = Resolution{Role: pin.Role, Verified: true, Source: SourcePin}
		g.state = StateResolved
		return nil
	}
	g.state = StateResolving
	return nil
}

// Resolve completes the role lookup for the context set by SetContext.
// Results for a superseded context are discarded. Safe to run from a
// goroutine; synchronous callers get the resolution back.
func (g *Guard) Resolve(ctx context.Context) (Resolution, error) {
	g.mu.Lock()
	if g.state != StateResolving {
		res := g.res
		g.mu.Unlock()
		return res, nil
	}
	epoch := g.epoch
	ident := g.ident
	storeID := g.storeID
	g.mu.Unlock()

	res, err := g.resolver.Resolve(ctx, ident, storeID)
	if err != nil {
		return Resolution{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.epoch != epoch {
		// Context changed under us; this answer is stale.
		return res, nil
	}
	g.res = res
	g.state = StateResolved
	return res, nil
}

// State reports the current readiness.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateProvisional && !g.now().Before(g.provisionalUntil) {
		return StateUnbound
	}
	return g.state
}

// Resolution returns the last applied resolution. Zero until resolved.
func (g *Guard) Resolution() Resolution {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.res
}

// PageAccess decides whether the current identity may open a page.
// Pure lookup, never blocks. Denials emit a high-severity event.
func (g *Guard) PageAccess(page authz.Page) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateUnbound:
		return Decision{Redirect: RedirectLogin, Reason: "sign in to continue"}

	case StateProvisional:
		if g.now().Before(g.provisionalUntil) {
			return Decision{Allowed: true}
		}
		g.denyPageLocked(page, "store selection timed out")
		return Decision{Redirect: RedirectLogin, Reason: "select a store to continue"}

	case StateResolving:
		if _, fast := authz.FastPathPages[page]; fast {
			return Decision{Allowed: true}
		}
		g.denyPageLocked(page, "role resolution in flight")
		return Decision{Allowed: false, Redirect: string(authz.PagePOS), Reason: "still loading your access"}

	case StateResolved:
		if g.res.Grants().Allows(page) {
			return Decision{Allowed: true}
		}
		g.denyPageLocked(page, "role does not permit page")
		return Decision{
			Allowed:  false,
			Redirect: string(authz.PagePOS),
			Reason:   "your " + string(g.res.Role) + " role cannot open this page",
		}
	}
	return Decision{Redirect: RedirectLogin}
}

// Can is the synchronous permission lookup against the grant tables.
// It is advisory (UI gating); mutations must go through CheckPermission.
func (g *Guard) Can(perm authz.Permission) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateResolved {
		return false
	}
	return g.res.Grants().Has(perm)
}

// CheckPermission re-validates a permission against the backend before a
// mutation is committed. Any failure — backend down, no store, unresolved
// context — denies. Denials emit high-severity events; granted sensitive
// actions emit low or medium depending on destructiveness.
func (g *Guard) CheckPermission(ctx context.Context, perm authz.Permission) bool {
	g.mu.Lock()
	state := g.state
	ident := g.ident
	storeID := g.storeID
	g.mu.Unlock()

	if state != StateResolved || ident == nil || storeID == "" {
		g.denyAction(perm, ident, storeID, "context not resolved")
		return false
	}

	// Both session kinds re-validate against ground truth here. The PIN
	// role was verified at login, but this path gates a mutation and must
	// see a mid-session revocation.
	allowed, err := g.dir.CheckPermission(ctx, ident.ID(), storeID, perm)
	if err != nil {
		g.denyAction(perm, ident, storeID, "backend check failed: "+err.Error())
		return false
	}

	if !allowed {
		g.denyAction(perm, ident, storeID, "permission not granted")
		return false
	}
	if sev, sensitive := sensitivity(perm); sensitive {
		g.record(audit.EventSensitiveAction, sev, ident.ID(), storeID, map[string]any{
			"permission": string(perm),
		})
	}
	return true
}

// sensitivity classifies granted actions for the audit trail. Destructive
// and management actions rank medium, the rest of the sensitive set low.
func sensitivity(perm authz.Permission) (audit.Severity, bool) {
	p := string(perm)
	switch {
	case strings.HasPrefix(p, "delete_"), strings.HasPrefix(p, "manage_"):
		return audit.SeverityMedium, true
	case perm == authz.PermProcessRefund, perm == authz.PermExportData:
		return audit.SeverityLow, true
	}
	return "", false
}

func (g *Guard) denyAction(perm authz.Permission, ident session.Identity, storeID, reason string) {
	obs.AuthzDenials.WithLabelValues("permission").Inc()
	actor := ""
	if ident != nil {
		actor = ident.ID()
	}
	g.record(audit.EventUnauthorizedAction, audit.SeverityHigh, actor, storeID, map[string]any{
		"permission": string(perm),
		"reason":     reason,
	})
}

func (g *Guard) denyPageLocked(page authz.Page, reason string) {
	obs.AuthzDenials.WithLabelValues("page").Inc()
	actor := ""
	if g.ident != nil {
		actor = g.ident.ID()
	}
	g.record(audit.EventUnauthorizedPage, audit.SeverityHigh, actor, g.storeID, map[string]any{
		"page":   string(page),
		"reason": reason,
	})
}

func (g *Guard) record(event string, sev audit.Severity, actor, storeID string, details map[string]any) {
	if g.rec == nil {
		return
	}
	g.rec.Record(context.Background(), storeID, actor, event, sev, details)
}
