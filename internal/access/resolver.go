// Package access resolves the effective role for (identity, store) and
// enforces page and permission decisions. Read paths degrade open for
// availability at the register; mutation gates fail closed. That asymmetry
// is deliberate and load-bearing.
package access

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"storekeep.dev/internal/authz"
	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/obs"
	"storekeep.dev/internal/session"
)

// ErrStoreMismatch means a PIN identity was asked to operate against a
// store other than the one it was issued for. The caller must clear the
// session and force a fresh PIN login.
var ErrStoreMismatch = errors.New("access: pin session bound to a different store")

// Source records how a resolution was produced.
type Source string

const (
	// SourcePin: role embedded in the PIN session, validated at PIN login.
	SourcePin Source = "pin"
	// SourceBackend: authoritative backend lookup.
	SourceBackend Source = "backend"
	// SourceFallback: lookup failed; degraded to cashier for uptime.
	SourceFallback Source = "fallback"
)

// Resolution is the effective role with its provenance. Verified is false
// only for the degraded fallback; telemetry keeps the distinction.
type Resolution struct {
	Role     authz.Role
	IsOwner  bool
	Verified bool
	Source   Source
}

// Grants returns the static grant set for the resolved role.
func (r Resolution) Grants() authz.Grants { return authz.GrantsFor(r.Role) }

// Resolver produces resolutions, caching backend answers briefly.
type Resolver struct {
	dir   backend.Directory
	cache *gocache.Cache
	log   *zap.Logger
}

// NewResolver constructs a resolver. ttl bounds how long a backend answer
// is reused before re-asking.
func NewResolver(dir backend.Directory, log *zap.Logger, ttl time.Duration) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Resolver{
		dir:   dir,
		cache: gocache.New(ttl, 5*time.Minute),
		log:   log,
	}
}

// Resolve computes the effective role for the identity at the store.
// PIN identities are trusted directly; account identities ask the backend.
// A failed or empty lookup degrades to an unverified cashier rather than
// failing closed — the register stays usable through a backend wobble.
func (r *Resolver) Resolve(ctx context.Context, ident session.Identity, storeID string) (Resolution, error) {
	switch id := ident.(type) {
	case session.PinIdentity:
		if storeID != "" && storeID != id.StoreID {
			return Resolution{}, ErrStoreMismatch
		}
		obs.RoleResolutions.WithLabelValues(string(SourcePin), "ok").Inc()
		return Resolution{Role: id.Role, Verified: true, Source: SourcePin}, nil

	case session.AccountIdentity:
		key := id.UserID + "|" + storeID
		if cached, ok := r.cache.Get(key); ok {
			return cached.(Resolution), nil
		}
		grant, err := r.dir.EffectiveRole(ctx, id.UserID, storeID)
		if err != nil {
			obs.RoleResolutions.WithLabelValues(string(SourceBackend), "fallback").Inc()
			r.log.Warn("role lookup degraded to unverified cashier",
				zap.String("identity_id", id.UserID),
				zap.String("store_id", storeID),
				zap.Error(err))
			// Not cached: the next resolution should retry the backend.
			return Resolution{Role: authz.RoleCashier, Source: SourceFallback}, nil
		}
		res := Resolution{Role: grant.Role, IsOwner: grant.IsOwner, Verified: true, Source: SourceBackend}
		r.cache.Set(key, res, gocache.DefaultExpiration)
		obs.RoleResolutions.WithLabelValues(string(SourceBackend), "ok").Inc()
		return res, nil
	}
	return Resolution{Role: authz.RoleCashier, Source: SourceFallback}, nil
}

// Invalidate drops every cached resolution. Hung off the session manager's
// invalidation hook so expiry and logout clear privileges synchronously.
func (r *Resolver) Invalidate() {
	r.cache.Flush()
}
