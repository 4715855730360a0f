// Package backend defines the store-scoped directory surface the
// authorization core consumes. Every call is scoped to a store; the core
// never issues an unscoped query. Implementations live in backend/pg
// (Postgres) and backend/memory (tests, single-terminal deployments).
package backend

import (
	"context"
	"errors"
	"time"

	"storekeep.dev/internal/authz"
)

var (
	ErrNotFound     = errors.New("backend: not found")
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrUnavailable  = errors.New("backend: unavailable")
)

// Store is a tenant. A user's relationship to a store is either ownership
// (OwnerID) or an active membership row.
type Store struct {
	ID       string
	Name     string
	OwnerID  string
	Currency string
	TaxRate  float64
}

// Account is a provider-backed user record.
type Account struct {
	ID            string
	Email         string
	EmailVerified bool
}

// Membership ties a staff member to a store with a role.
type Membership struct {
	MemberID   string
	MemberName string
	StoreID    string
	Role       authz.Role
	Active     bool
}

// RoleGrant is the authoritative answer of get_user_effective_role.
// Ownership overrides any membership row.
type RoleGrant struct {
	Role       authz.Role
	IsOwner    bool
	MemberID   string
	MemberName string
}

// PinGrant is issued at PIN login after backend validation. It carries
// everything a PIN session embeds.
type PinGrant struct {
	MemberID   string
	MemberName string
	Role       authz.Role
	StoreID    string
	StoreName  string
	GrantedAt  time.Time
}

// SecurityEvent is the append-only audit record shape the directory
// persists.
type SecurityEvent struct {
	ID         string
	StoreID    string
	EventType  string
	Severity   string
	ActorID    string
	Details    map[string]any
	OccurredAt time.Time
}

// Directory is the backend query/RPC surface.
type Directory interface {
	// EffectiveRole resolves (identity, store) to a role. Returns
	// ErrNotFound when the identity has no relationship to the store.
	EffectiveRole(ctx context.Context, identityID, storeID string) (RoleGrant, error)

	// CheckPermission re-validates a single action against ground truth.
	CheckPermission(ctx context.Context, identityID, storeID string, action authz.Permission) (bool, error)

	// CanAccessPage re-validates page access against ground truth.
	CanAccessPage(ctx context.Context, identityID, storeID string, page authz.Page) (bool, error)

	// AccessibleStores lists stores the identity owns or holds an active
	// membership in.
	AccessibleStores(ctx context.Context, identityID string) ([]Store, error)

	// VerifyAccount checks account credentials and returns the account.
	// Invalid credentials return ErrUnauthorized.
	VerifyAccount(ctx context.Context, email, password string) (Account, error)

	// VerifyPin matches a PIN against the store's active members. Invalid
	// PINs return ErrUnauthorized.
	VerifyPin(ctx context.Context, storeID, pin string) (PinGrant, error)

	// LogSecurityEvent appends an audit record. Callers treat failures as
	// best-effort; the directory must never require a retry.
	LogSecurityEvent(ctx context.Context, event SecurityEvent) error
}
