// Package jwtlocal implements the auth provider with locally-issued HS256
// tokens, persisted to the terminal's record store so an account session
// survives a daemon restart.
package jwtlocal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/ids"
	"storekeep.dev/internal/localstore"
	"storekeep.dev/internal/provider"
)

const (
	issuer   = "storekeep"
	tokenKey = "account_token"
)

// ErrInvalidToken indicates the persisted token failed validation.
var ErrInvalidToken = errors.New("jwtlocal: invalid token")

type claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	AuthTime      int64  `json:"auth_time"`
	jwt.RegisteredClaims
}

type tokenRecord struct {
	Token string `json:"token"`
}

// Local issues and validates account tokens.
type Local struct {
	secret []byte
	ttl    time.Duration
	kv     *localstore.Store
	now    func() time.Time

	mu        sync.Mutex
	listeners []func(*provider.Session)
}

var _ provider.Provider = (*Local)(nil)

// Option configures Local.
type Option func(*Local)

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Local) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New constructs the provider. kv holds the persisted token record.
func New(secret string, ttl time.Duration, kv *localstore.Store, opts ...Option) (*Local, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwtlocal: auth secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("jwtlocal: token ttl must be positive")
	}
	if kv == nil {
		return nil, errors.New("jwtlocal: record store is required")
	}
	l := &Local{secret: []byte(secret), ttl: ttl, kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// SignIn issues a fresh token for a verified account and persists it.
func (l *Local) SignIn(ctx context.Context, acc backend.Account) (*provider.Session, error) {
	now := l.now().UTC()
	sess, err := l.issue(acc.ID, acc.Email, acc.EmailVerified, now, now)
	if err != nil {
		return nil, err
	}
	l.notify(sess)
	return sess, nil
}

func (l *Local) Session(ctx context.Context) (*provider.Session, error) {
	var rec tokenRecord
	err := l.kv.Get(tokenKey, &rec)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, provider.ErrNoSession
	}
	if err != nil {
		// Corrupt record: remove and fail safe to unauthenticated.
		_ = l.kv.Delete(tokenKey)
		return nil, provider.ErrNoSession
	}
	sess, err := l.parse(rec.Token)
	if err != nil {
		_ = l.kv.Delete(tokenKey)
		return nil, provider.ErrNoSession
	}
	return sess, nil
}

func (l *Local) Refresh(ctx context.Context) (*provider.Session, error) {
	current, err := l.Session(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := l.issue(current.UserID, current.Email, current.EmailVerified, current.AuthTime, l.now().UTC())
	if err != nil {
		return nil, err
	}
	l.notify(sess)
	return sess, nil
}

func (l *Local) SignOut(ctx context.Context) error {
	if err := l.kv.Delete(tokenKey); err != nil {
		return err
	}
	l.notify(nil)
	return nil
}

func (l *Local) OnChange(fn func(*provider.Session)) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *Local) issue(userID, email string, verified bool, authTime, now time.Time) (*provider.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("jwtlocal: user id is required")
	}
	exp := now.Add(l.ttl)
	c := claims{
		Email:         email,
		EmailVerified: verified,
		AuthTime:      authTime.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.New(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(l.secret)
	if err != nil {
		return nil, fmt.Errorf("jwtlocal: sign token: %w", err)
	}
	if err := l.kv.Put(tokenKey, tokenRecord{Token: signed}); err != nil {
		return nil, err
	}
	return &provider.Session{
		UserID:        userID,
		Email:         email,
		EmailVerified: verified,
		AuthTime:      authTime,
		IssuedAt:      now,
		ExpiresAt:     exp,
		Token:         signed,
	}, nil
}

func (l *Local) parse(token string) (*provider.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return l.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return l.now() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if c.Issuer != issuer || strings.TrimSpace(c.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if c.ExpiresAt == nil || c.IssuedAt == nil {
		return nil, ErrInvalidToken
	}
	return &provider.Session{
		UserID:        c.Subject,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		AuthTime:      time.Unix(c.AuthTime, 0).UTC(),
		IssuedAt:      c.IssuedAt.Time,
		ExpiresAt:     c.ExpiresAt.Time,
		Token:         token,
	}, nil
}

func (l *Local) notify(sess *provider.Session) {
	l.mu.Lock()
	listeners := make([]func(*provider.Session), len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()
	for _, fn := range listeners {
		fn(sess)
	}
}
