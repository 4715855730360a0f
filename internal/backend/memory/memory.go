// Package memory implements the backend directory in process memory. It
// backs single-terminal deployments without Postgres and the test suites of
// every component that consumes the directory.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"storekeep.dev/internal/authz"
	"storekeep.dev/internal/backend"
)

type memberRec struct {
	membership backend.Membership
	pinHash    []byte
}

type accountRec struct {
	account      backend.Account
	passwordHash []byte
}

// Directory is an in-memory backend.Directory.
type Directory struct {
	mu       sync.RWMutex
	stores   map[string]backend.Store
	members  map[string][]memberRec // keyed by store id
	accounts map[string]accountRec  // keyed by email
	events   []backend.SecurityEvent
	failWith error
}

var _ backend.Directory = (*Directory)(nil)

func New() *Directory {
	return &Directory{
		stores:   make(map[string]backend.Store),
		members:  make(map[string][]memberRec),
		accounts: make(map[string]accountRec),
	}
}

// SetError makes every directory call fail with err until cleared with nil.
// Test hook for degraded-backend behavior.
func (d *Directory) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWith = err
}

// AddStore registers a store.
func (d *Directory) AddStore(st backend.Store) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stores[st.ID] = st
}

// AddAccount registers an account with a bcrypt-hashed password.
func (d *Directory) AddAccount(acc backend.Account, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[strings.ToLower(acc.Email)] = accountRec{account: acc, passwordHash: hash}
	return nil
}

// AddMember registers a store membership with a bcrypt-hashed PIN.
func (d *Directory) AddMember(m backend.Membership, pin string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.StoreID] = append(d.members[m.StoreID], memberRec{membership: m, pinHash: hash})
	return nil
}

// Events returns a copy of the appended security events.
func (d *Directory) Events() []backend.SecurityEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]backend.SecurityEvent, len(d.events))
	copy(out, d.events)
	return out
}

func (d *Directory) EffectiveRole(ctx context.Context, identityID, storeID string) (backend.RoleGrant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.failWith != nil {
		return backend.RoleGrant{}, d.failWith
	}
	st, ok := d.stores[storeID]
	if !ok {
		return backend.RoleGrant{}, backend.ErrNotFound
	}
	// Ownership wins regardless of any membership row.
	if st.OwnerID == identityID {
		return backend.RoleGrant{Role: authz.RoleOwner, IsOwner: true}, nil
	}
	for _, rec := range d.members[storeID] {
		if rec.membership.MemberID == identityID && rec.membership.Active {
			return backend.RoleGrant{
				Role:       rec.membership.Role,
				MemberID:   rec.membership.MemberID,
				MemberName: rec.membership.MemberName,
			}, nil
		}
	}
	return backend.RoleGrant{}, backend.ErrNotFound
}

func (d *Directory) CheckPermission(ctx context.Context, identityID, storeID string, action authz.Permission) (bool, error) {
	grant, err := d.EffectiveRole(ctx, identityID, storeID)
	if err != nil {
		return false, err
	}
	return authz.GrantsFor(grant.Role).Has(action), nil
}

func (d *Directory) CanAccessPage(ctx context.Context, identityID, storeID string, page authz.Page) (bool, error) {
	grant, err := d.EffectiveRole(ctx, identityID, storeID)
	if err != nil {
		return false, err
	}
	return authz.GrantsFor(grant.Role).Allows(page), nil
}

func (d *Directory) AccessibleStores(ctx context.Context, identityID string) ([]backend.Store, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.failWith != nil {
		return nil, d.failWith
	}
	var result []backend.Store
	for _, st := range d.stores {
		if st.OwnerID == identityID {
			result = append(result, st)
			continue
		}
		for _, rec := range d.members[st.ID] {
			if rec.membership.MemberID == identityID && rec.membership.Active {
				result = append(result, st)
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (d *Directory) VerifyAccount(ctx context.Context, email, password string) (backend.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.failWith != nil {
		return backend.Account{}, d.failWith
	}
	rec, ok := d.accounts[strings.TrimSpace(strings.ToLower(email))]
	if !ok {
		return backend.Account{}, backend.ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(password)) != nil {
		return backend.Account{}, backend.ErrUnauthorized
	}
	return rec.account, nil
}

func (d *Directory) VerifyPin(ctx context.Context, storeID, pin string) (backend.PinGrant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.failWith != nil {
		return backend.PinGrant{}, d.failWith
	}
	st, ok := d.stores[storeID]
	if !ok {
		return backend.PinGrant{}, backend.ErrNotFound
	}
	for _, rec := range d.members[storeID] {
		if !rec.membership.Active {
			continue
		}
		if bcrypt.CompareHashAndPassword(rec.pinHash, []byte(pin)) == nil {
			return backend.PinGrant{
				MemberID:   rec.membership.MemberID,
				MemberName: rec.membership.MemberName,
				Role:       rec.membership.Role,
				StoreID:    st.ID,
				StoreName:  st.Name,
				GrantedAt:  time.Now().UTC(),
			}, nil
		}
	}
	return backend.PinGrant{}, backend.ErrUnauthorized
}

func (d *Directory) LogSecurityEvent(ctx context.Context, event backend.SecurityEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	d.events = append(d.events, event)
	return nil
}
