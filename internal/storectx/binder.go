// Package storectx binds the session to its active store (tenant) and
// guarantees the binding is valid for the current identity. All scoped
// queries and grants are evaluated against this selection.
package storectx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/broadcast"
	"storekeep.dev/internal/localstore"
)

const selectionKey = "store_selection"

var (
	// ErrNotAccessible means the requested store is not in the identity's
	// accessible set (ownership or active membership).
	ErrNotAccessible = errors.New("storectx: store not accessible to identity")

	// ErrNoIdentity means no identity is active to bind a store to.
	ErrNoIdentity = errors.New("storectx: no active identity")
)

// selectionRecord persists the binding with the identity that made it, so a
// later session for a different identity can never inherit it.
type selectionRecord struct {
	StoreID    string    `json:"store_id"`
	IdentityID string    `json:"identity_id"`
	SelectedAt time.Time `json:"selected_at"`
}

// Binder holds the single current store for the process.
type Binder struct {
	mu      sync.Mutex
	kv      *localstore.Store
	dir     backend.Directory
	bus     *broadcast.Bus
	log     *zap.Logger
	current *backend.Store
	boundTo string // identity id the current selection belongs to
}

// NewBinder constructs an unbound binder.
func NewBinder(kv *localstore.Store, dir backend.Directory, bus *broadcast.Bus, log *zap.Logger) *Binder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Binder{kv: kv, dir: dir, bus: bus, log: log}
}

// Current returns the active store, or nil when none is selected.
func (b *Binder) Current() *backend.Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	cp := *b.current
	return &cp
}

// HasValidSelection reports whether a store is selected for the given
// identity.
func (b *Binder) HasValidSelection(identityID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil && identityID != "" && b.boundTo == identityID
}

// Select binds storeID as the current store for identityID after verifying
// it is in the identity's accessible set, then persists the binding.
func (b *Binder) Select(ctx context.Context, identityID, storeID string) (*backend.Store, error) {
	if identityID == "" {
		return nil, ErrNoIdentity
	}
	store, err := b.accessible(ctx, identityID, storeID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	err = b.kv.Put(selectionKey, selectionRecord{
		StoreID:    store.ID,
		IdentityID: identityID,
		SelectedAt: time.Now().UTC(),
	})
	if err != nil {
		// A failed call must leave no binding behind; callers treat the
		// selection as never made.
		b.current = nil
		b.boundTo = ""
		b.mu.Unlock()
		return nil, err
	}
	b.current = store
	b.boundTo = identityID
	b.mu.Unlock()

	b.bus.Publish(broadcast.Signal{Kind: broadcast.StoreChanged, IdentityID: identityID, StoreID: store.ID})
	b.log.Info("store selected", zap.String("store_id", store.ID), zap.String("identity_id", identityID))
	cp := *store
	return &cp, nil
}

// Restore recovers a persisted selection for the current identity. On any
// mismatch — different identity, revoked access, corrupt record — the
// persisted value is discarded and no store is selected. Never guesses.
func (b *Binder) Restore(ctx context.Context, identityID string) (*backend.Store, error) {
	if identityID == "" {
		return nil, nil
	}
	var rec selectionRecord
	err := b.kv.Get(selectionKey, &rec)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		_ = b.kv.Delete(selectionKey)
		return nil, nil
	}
	if rec.IdentityID != identityID || rec.StoreID == "" {
		// Cross-identity leakage guard: userA's selection must never
		// appear for userB.
		_ = b.kv.Delete(selectionKey)
		b.log.Info("discarded stale store selection",
			zap.String("recorded_identity", rec.IdentityID),
			zap.String("current_identity", identityID))
		return nil, nil
	}
	store, err := b.accessible(ctx, identityID, rec.StoreID)
	if err != nil {
		if errors.Is(err, ErrNotAccessible) {
			_ = b.kv.Delete(selectionKey)
			b.log.Info("discarded orphaned store selection", zap.String("store_id", rec.StoreID))
			return nil, nil
		}
		// Backend unavailable: leave the record alone and stay unbound.
		return nil, err
	}

	b.mu.Lock()
	b.current = store
	b.boundTo = identityID
	b.mu.Unlock()

	cp := *store
	return &cp, nil
}

// Clear removes the current store and its persisted record.
func (b *Binder) Clear() error {
	b.mu.Lock()
	b.current = nil
	b.boundTo = ""
	err := b.kv.Delete(selectionKey)
	b.mu.Unlock()
	return err
}

// accessible returns the store iff it is in the identity's accessible set.
func (b *Binder) accessible(ctx context.Context, identityID, storeID string) (*backend.Store, error) {
	stores, err := b.dir.AccessibleStores(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("storectx: list accessible stores: %w", err)
	}
	for i := range stores {
		if stores[i].ID == storeID {
			return &stores[i], nil
		}
	}
	return nil, ErrNotAccessible
}
