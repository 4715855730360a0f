// Package provider defines the external account-auth collaborator. The
// session core only ever sees this contract; token mechanics stay behind it.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrNoSession means no provider session currently exists. Callers fall
// back to unauthenticated, never crash.
var ErrNoSession = errors.New("provider: no active session")

// Session is a provider-issued account session.
type Session struct {
	UserID        string
	Email         string
	EmailVerified bool
	AuthTime      time.Time // original authentication, survives refreshes
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Token         string
}

// Provider is the account-auth surface the session store delegates to.
type Provider interface {
	// Session returns the current provider session, or ErrNoSession.
	Session(ctx context.Context) (*Session, error)

	// Refresh extends the current session. Idempotent; refreshing an
	// absent session returns ErrNoSession.
	Refresh(ctx context.Context) (*Session, error)

	// SignOut destroys the provider session. Signing out twice is fine.
	SignOut(ctx context.Context) error

	// OnChange registers an observer fired after sign-in, refresh and
	// sign-out. The argument is nil after sign-out.
	OnChange(fn func(*Session))
}
