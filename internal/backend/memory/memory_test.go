package memory

import (
	"context"
	"errors"
	"testing"

	"storekeep.dev/internal/authz"
	"storekeep.dev/internal/backend"
)

func seed(t *testing.T) *Directory {
	t.Helper()
	dir := New()
	dir.AddStore(backend.Store{ID: "s1", Name: "Main Street", OwnerID: "owner-1", Currency: "AUD", TaxRate: 0.1})
	dir.AddStore(backend.Store{ID: "s2", Name: "Harbour", OwnerID: "owner-2"})
	if err := dir.AddMember(backend.Membership{MemberID: "m1", MemberName: "Brook", StoreID: "s1", Role: authz.RoleCashier, Active: true}, "4821"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := dir.AddMember(backend.Membership{MemberID: "m2", MemberName: "Quinn", StoreID: "s1", Role: authz.RoleManager, Active: false}, "1111"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	return dir
}

func TestOwnershipOverridesMembershipAbsence(t *testing.T) {
	dir := seed(t)
	grant, err := dir.EffectiveRole(context.Background(), "owner-1", "s1")
	if err != nil {
		t.Fatalf("EffectiveRole: %v", err)
	}
	if grant.Role != authz.RoleOwner || !grant.IsOwner {
		t.Fatalf("expected owner grant, got %+v", grant)
	}
}

func TestInactiveMembershipIsInvisible(t *testing.T) {
	dir := seed(t)
	if _, err := dir.EffectiveRole(context.Background(), "m2", "s1"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for revoked membership, got %v", err)
	}
}

func TestPinLoginResolvesMember(t *testing.T) {
	dir := seed(t)
	grant, err := dir.VerifyPin(context.Background(), "s1", "4821")
	if err != nil {
		t.Fatalf("VerifyPin: %v", err)
	}
	if grant.MemberID != "m1" || grant.Role != authz.RoleCashier || grant.StoreName != "Main Street" {
		t.Fatalf("unexpected grant: %+v", grant)
	}

	// An inactive member's PIN must not authenticate.
	if _, err := dir.VerifyPin(context.Background(), "s1", "1111"); !errors.Is(err, backend.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAccessibleStores(t *testing.T) {
	dir := seed(t)
	stores, err := dir.AccessibleStores(context.Background(), "m1")
	if err != nil {
		t.Fatalf("AccessibleStores: %v", err)
	}
	if len(stores) != 1 || stores[0].ID != "s1" {
		t.Fatalf("unexpected stores: %+v", stores)
	}
}

func TestInjectedFailure(t *testing.T) {
	dir := seed(t)
	dir.SetError(backend.ErrUnavailable)
	if _, err := dir.EffectiveRole(context.Background(), "owner-1", "s1"); !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	dir.SetError(nil)
	if _, err := dir.EffectiveRole(context.Background(), "owner-1", "s1"); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}
