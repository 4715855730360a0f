package jwtlocal

import (
	"context"
	"errors"
	"testing"
	"time"

	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/localstore"
	"storekeep.dev/internal/provider"
)

func newProvider(t *testing.T, now *time.Time) *Local {
	t.Helper()
	kv, err := localstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("localstore.Open: %v", err)
	}
	l, err := New("test-secret", time.Hour, kv, WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestSignInSessionRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	l := newProvider(t, &now)

	signed, err := l.SignIn(context.Background(), backend.Account{ID: "user-1", Email: "owner@example.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if signed.Token == "" {
		t.Fatal("expected a token")
	}

	sess, err := l.Session(context.Background())
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.UserID != "user-1" || sess.Email != "owner@example.com" || !sess.EmailVerified {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestSessionExpires(t *testing.T) {
	now := time.Now().UTC()
	l := newProvider(t, &now)

	if _, err := l.SignIn(context.Background(), backend.Account{ID: "user-1", Email: "a@b.c"}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := l.Session(context.Background()); !errors.Is(err, provider.ErrNoSession) {
		t.Fatalf("expected ErrNoSession after expiry, got %v", err)
	}
}

func TestRefreshPreservesAuthTime(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	l := newProvider(t, &now)

	first, err := l.SignIn(context.Background(), backend.Account{ID: "user-1", Email: "a@b.c"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	now = now.Add(30 * time.Minute)
	refreshed, err := l.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !refreshed.AuthTime.Equal(first.AuthTime) {
		t.Fatalf("auth time changed across refresh: %v != %v", refreshed.AuthTime, first.AuthTime)
	}
	if !refreshed.ExpiresAt.After(first.ExpiresAt) {
		t.Fatal("refresh did not extend expiry")
	}
}

func TestSignOutAndChangeNotifications(t *testing.T) {
	now := time.Now().UTC()
	l := newProvider(t, &now)

	var seen []*provider.Session
	l.OnChange(func(s *provider.Session) { seen = append(seen, s) })

	if _, err := l.SignIn(context.Background(), backend.Account{ID: "user-1", Email: "a@b.c"}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := l.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := l.Session(context.Background()); !errors.Is(err, provider.ErrNoSession) {
		t.Fatalf("expected ErrNoSession after sign-out, got %v", err)
	}
	if len(seen) != 2 || seen[0] == nil || seen[1] != nil {
		t.Fatalf("unexpected notifications: %v", seen)
	}
	// Signing out twice is fine.
	if err := l.SignOut(context.Background()); err != nil {
		t.Fatalf("second SignOut: %v", err)
	}
}

func TestCorruptTokenRecordIsRemoved(t *testing.T) {
	now := time.Now().UTC()
	kv, err := localstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("localstore.Open: %v", err)
	}
	l, err := New("test-secret", time.Hour, kv, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := kv.Put("account_token", tokenRecord{Token: "garbage.token.value"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := l.Session(context.Background()); !errors.Is(err, provider.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	var rec tokenRecord
	if err := kv.Get("account_token", &rec); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("corrupt record should be deleted, got %v", err)
	}
}
