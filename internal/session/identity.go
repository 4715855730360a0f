package session

import (
	"time"

	"storekeep.dev/internal/authz"
)

// Kind tags the identity variant. Exactly one variant is authoritative at a
// time; a valid PIN session shadows an account session for the terminal.
type Kind string

const (
	KindAccount Kind = "account"
	KindPin     Kind = "pin"
)

// Identity is the closed identity variant: Account or Pin, nothing else.
type Identity interface {
	ID() string
	Kind() Kind
	DisplayName() string
}

// AccountIdentity is a provider-backed full account.
type AccountIdentity struct {
	UserID        string
	Email         string
	EmailVerified bool
}

func (a AccountIdentity) ID() string          { return a.UserID }
func (a AccountIdentity) Kind() Kind          { return KindAccount }
func (a AccountIdentity) DisplayName() string { return a.Email }

// PinIdentity is a short-lived, store-scoped terminal identity. Its role was
// validated against the backend at PIN login and is trusted for the session's
// lifetime.
type PinIdentity struct {
	MemberID   string
	MemberName string
	Role       authz.Role
	StoreID    string
	StoreName  string
	LoginAt    time.Time
}

func (p PinIdentity) ID() string          { return p.MemberID }
func (p PinIdentity) Kind() Kind          { return KindPin }
func (p PinIdentity) DisplayName() string { return p.MemberName }
