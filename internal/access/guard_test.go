package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"storekeep.dev/internal/audit"
	"storekeep.dev/internal/authz"
	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/backend/memory"
	"storekeep.dev/internal/session"
)

func newGuard(t *testing.T, dir backend.Directory, clock func() time.Time) *Guard {
	t.Helper()
	return NewGuard(GuardConfig{
		Resolver:       NewResolver(dir, nil, time.Minute),
		Directory:      dir,
		Recorder:       audit.NewRecorder(dir, nil, 600),
		ProvisionalTTL: 2 * time.Minute,
		Clock:          clock,
	})
}

func TestResolvingAllowsFastPathPagesOnly(t *testing.T) {
	dir := seededDir(t)
	g := newGuard(t, dir, nil)
	if err := g.SetContext(session.AccountIdentity{UserID: "owner-1"}, "s1"); err != nil {
		t.Fatal(err)
	}

	if d := g.PageAccess(authz.PagePOS); !d.Allowed {
		t.Fatal("pos must render while resolving")
	}
	if d := g.PageAccess(authz.PageDashboard); !d.Allowed {
		t.Fatal("dashboard must render while resolving")
	}
	if d := g.PageAccess(authz.PageSettings); d.Allowed {
		t.Fatal("settings must wait for resolution")
	}
	if g.Can(authz.PermManageSettings) {
		t.Fatal("permissions are closed while resolving")
	}

	if _, err := g.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d := g.PageAccess(authz.PageSettings); !d.Allowed {
		t.Fatal("owner should reach settings once resolved")
	}
	if !g.Can(authz.PermManageSettings) {
		t.Fatal("owner should hold manage_settings once resolved")
	}
}

func TestResolvedCashierDeniedSettings(t *testing.T) {
	dir := seededDir(t)
	g := newGuard(t, dir, nil)
	if err := g.SetContext(session.PinIdentity{
		MemberID: "m-cash", Role: authz.RoleCashier, StoreID: "s1",
	}, "s1"); err != nil {
		t.Fatal(err)
	}
	if g.State() != StateResolved {
		t.Fatalf("pin identity should resolve synchronously, state %s", g.State())
	}

	if d := g.PageAccess(authz.PagePOS); !d.Allowed {
		t.Fatal("cashier should reach pos")
	}
	d := g.PageAccess(authz.PageSettings)
	if d.Allowed {
		t.Fatal("cashier must not reach settings")
	}
	if d.Redirect != string(authz.PagePOS) || d.Reason == "" {
		t.Fatalf("denial should redirect to pos with a reason, got %+v", d)
	}

	events := dir.Events()
	if len(events) == 0 || events[len(events)-1].EventType != audit.EventUnauthorizedPage {
		t.Fatalf("page denial should be audited, events: %+v", events)
	}
	if events[len(events)-1].Severity != string(audit.SeverityHigh) {
		t.Fatalf("denial severity should be high, got %s", events[len(events)-1].Severity)
	}
}

func TestPinStoreMismatchForcesClear(t *testing.T) {
	dir := seededDir(t)
	g := newGuard(t, dir, nil)
	err := g.SetContext(session.PinIdentity{
		MemberID: "m-cash", Role: authz.RoleCashier, StoreID: "s1",
	}, "s2")
	if !errors.Is(err, ErrStoreMismatch) {
		t.Fatalf("want ErrStoreMismatch, got %v", err)
	}
	if g.State() != StateUnbound {
		t.Fatalf("guard must drop the context on mismatch, state %s", g.State())
	}
	events := dir.Events()
	if len(events) != 1 || events[0].EventType != audit.EventStoreMismatch {
		t.Fatalf("mismatch should be audited, events: %+v", events)
	}
}

func TestCheckPermissionFailsClosedOnBackendError(t *testing.T) {
	dir := seededDir(t)
	g := newGuard(t, dir, nil)
	if err := g.SetContext(session.AccountIdentity{UserID: "owner-1"}, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !g.CheckPermission(context.Background(), authz.PermProcessRefund) {
		t.Fatal("owner refund should pass while backend is up")
	}

	dir.SetError(backend.ErrUnavailable)
	if g.CheckPermission(context.Background(), authz.PermProcessRefund) {
		t.Fatal("mutation gate must fail closed when the backend is down")
	}
	// The table lookup stays open: reads keep working through the outage.
	if !g.Can(authz.PermProcessRefund) {
		t.Fatal("advisory lookup should stay open")
	}
}

func TestCheckPermissionFailsClosedForPinSession(t *testing.T) {
	dir := seededDir(t)
	g := newGuard(t, dir, nil)
	if err := g.SetContext(session.PinIdentity{
		MemberID: "m-cash", Role: authz.RoleCashier, StoreID: "s1",
	}, "s1"); err != nil {
		t.Fatal(err)
	}
	if !g.CheckPermission(context.Background(), authz.PermProcessTransaction) {
		t.Fatal("cashier transaction should pass while backend is up")
	}

	// PIN roles are trusted at login, but the mutation gate still needs
	// the backend's answer.
	dir.SetError(backend.ErrUnavailable)
	if g.CheckPermission(context.Background(), authz.PermProcessTransaction) {
		t.Fatal("pin session must fail closed when the backend is down")
	}
	if !g.Can(authz.PermProcessTransaction) {
		t.Fatal("advisory lookup should stay open")
	}
}

func TestResolvingPageDenialIsAudited(t *testing.T) {
	dir := seededDir(t)
	g := newGuard(t, dir, nil)
	if err := g.SetContext(session.AccountIdentity{UserID: "owner-1"}, "s1"); err != nil {
		t.Fatal(err)
	}

	if d := g.PageAccess(authz.PageSettings); d.Allowed {
		t.Fatal("settings must wait for resolution")
	}
	events := dir.Events()
	if len(events) == 0 {
		t.Fatal("denial while resolving should be audited")
	}
	last := events[len(events)-1]
	if last.EventType != audit.EventUnauthorizedPage || last.Severity != string(audit.SeverityHigh) {
		t.Fatalf("denial should log an unauthorized page event at high, got %+v", last)
	}
}

func TestCheckPermissionAuditsSensitiveGrant(t *testing.T) {
	dir := seededDir(t)
	g := newGuard(t, dir, nil)
	if err := g.SetContext(session.PinIdentity{
		MemberID: "m-mgr", Role: authz.RoleManager, StoreID: "s1",
	}, "s1"); err != nil {
		t.Fatal(err)
	}

	if !g.CheckPermission(context.Background(), authz.PermManageInventory) {
		t.Fatal("manager should hold manage_inventory")
	}
	events := dir.Events()
	last := events[len(events)-1]
	if last.EventType != audit.EventSensitiveAction || last.Severity != string(audit.SeverityMedium) {
		t.Fatalf("sensitive grant should log medium, got %+v", last)
	}

	if g.CheckPermission(context.Background(), authz.PermManageStaff) {
		t.Fatal("manager must not hold manage_staff")
	}
	events = dir.Events()
	last = events[len(events)-1]
	if last.EventType != audit.EventUnauthorizedAction || last.Severity != string(audit.SeverityHigh) {
		t.Fatalf("denial should log high, got %+v", last)
	}
}

func TestProvisionalWindowExpires(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	g := newGuard(t, seededDir(t), clock)

	if err := g.SetContext(session.AccountIdentity{UserID: "owner-1"}, ""); err != nil {
		t.Fatal(err)
	}
	if g.State() != StateProvisional {
		t.Fatalf("no store selected should be provisional, state %s", g.State())
	}
	if d := g.PageAccess(authz.PageSettings); !d.Allowed {
		t.Fatal("provisional window should keep pages visible")
	}
	if g.Can(authz.PermManageSettings) {
		t.Fatal("provisional grants pages only, never permissions")
	}
	if g.CheckPermission(context.Background(), authz.PermProcessTransaction) {
		t.Fatal("mutations are closed without a store context")
	}

	now = now.Add(3 * time.Minute)
	if d := g.PageAccess(authz.PageSettings); d.Allowed {
		t.Fatal("provisional window must fail closed after the TTL")
	}
	if g.State() != StateUnbound {
		t.Fatalf("expired provisional should read unbound, state %s", g.State())
	}
}

func TestUnboundDeniesEverything(t *testing.T) {
	g := newGuard(t, seededDir(t), nil)
	d := g.PageAccess(authz.PagePOS)
	if d.Allowed || d.Redirect != RedirectLogin {
		t.Fatalf("unbound should redirect to login, got %+v", d)
	}
	if g.CheckPermission(context.Background(), authz.PermProcessTransaction) {
		t.Fatal("unbound must deny mutations")
	}
}

// gatedDir blocks EffectiveRole until released so a test can interleave a
// context switch with an in-flight resolution.
type gatedDir struct {
	*memory.Directory
	gate chan struct{}
}

func (d *gatedDir) EffectiveRole(ctx context.Context, identityID, storeID string) (backend.RoleGrant, error) {
	<-d.gate
	return d.Directory.EffectiveRole(ctx, identityID, storeID)
}

func TestStaleResolutionIsDiscarded(t *testing.T) {
	dir := &gatedDir{Directory: seededDir(t), gate: make(chan struct{})}
	g := newGuard(t, dir, nil)
	if err := g.SetContext(session.AccountIdentity{UserID: "owner-1"}, "s1"); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Resolve(context.Background())
	}()

	// Rebind to a PIN cashier while the owner lookup is still in flight.
	if err := g.SetContext(session.PinIdentity{
		MemberID: "m-cash", Role: authz.RoleCashier, StoreID: "s1",
	}, "s1"); err != nil {
		t.Fatal(err)
	}
	close(dir.gate)
	<-done

	if res := g.Resolution(); res.Role != authz.RoleCashier || res.Source != SourcePin {
		t.Fatalf("stale owner resolution leaked through: %+v", res)
	}
	if g.Can(authz.PermManageSettings) {
		t.Fatal("cashier context must not inherit the stale owner grants")
	}
}
