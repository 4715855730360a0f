package session

import (
	"errors"
	"strings"
	"time"

	"storekeep.dev/internal/authz"
	"storekeep.dev/internal/localstore"
)

const pinRecordKey = "pin_session"

// pinRecord is the serialized PIN session. Untrusted-but-convenient: it
// grants role trust only because it was produced at a prior validated PIN
// login, and every field is re-checked on load.
type pinRecord struct {
	MemberID   string    `json:"member_id"`
	MemberName string    `json:"member_name"`
	Role       string    `json:"role"`
	StoreID    string    `json:"store_id"`
	StoreName  string    `json:"store_name"`
	LoginAt    time.Time `json:"login_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (r pinRecord) validate(now time.Time) (PinIdentity, time.Time, error) {
	role, ok := authz.ParseRole(r.Role)
	if !ok {
		return PinIdentity{}, time.Time{}, errors.New("session: pin record has invalid role")
	}
	if strings.TrimSpace(r.MemberID) == "" || strings.TrimSpace(r.StoreID) == "" {
		return PinIdentity{}, time.Time{}, errors.New("session: pin record missing identifiers")
	}
	if r.ExpiresAt.IsZero() || !now.Before(r.ExpiresAt) {
		return PinIdentity{}, time.Time{}, errors.New("session: pin record expired")
	}
	return PinIdentity{
		MemberID:   r.MemberID,
		MemberName: r.MemberName,
		Role:       role,
		StoreID:    r.StoreID,
		StoreName:  r.StoreName,
		LoginAt:    r.LoginAt,
	}, r.ExpiresAt, nil
}

// loadPin reads and validates the persisted PIN session. Malformed or
// expired records are deleted; the caller sees an absent session either way.
func loadPin(kv *localstore.Store, now time.Time) (PinIdentity, time.Time, bool) {
	var rec pinRecord
	err := kv.Get(pinRecordKey, &rec)
	if errors.Is(err, localstore.ErrNotFound) {
		return PinIdentity{}, time.Time{}, false
	}
	if err != nil {
		// Corrupt local state must never crash navigation.
		_ = kv.Delete(pinRecordKey)
		return PinIdentity{}, time.Time{}, false
	}
	ident, expires, err := rec.validate(now)
	if err != nil {
		_ = kv.Delete(pinRecordKey)
		return PinIdentity{}, time.Time{}, false
	}
	return ident, expires, true
}

func storePin(kv *localstore.Store, ident PinIdentity, expiresAt time.Time) error {
	return kv.Put(pinRecordKey, pinRecord{
		MemberID:   ident.MemberID,
		MemberName: ident.MemberName,
		Role:       string(ident.Role),
		StoreID:    ident.StoreID,
		StoreName:  ident.StoreName,
		LoginAt:    ident.LoginAt,
		ExpiresAt:  expiresAt,
	})
}
