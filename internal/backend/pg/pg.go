// Package pg implements the backend directory on Postgres. Role and
// permission questions are answered by SQL functions so the database stays
// the single authority; the daemon only ships the answers.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/crypto/bcrypt"

	"storekeep.dev/internal/authz"
	"storekeep.dev/internal/backend"
	"storekeep.dev/internal/ids"
)

const pgErrUniqueViolation = "23505"

// Directory is a Postgres-backed backend.Directory.
type Directory struct {
	db *sql.DB
}

var _ backend.Directory = (*Directory)(nil)

// Open connects to Postgres with pool settings tuned for a terminal daemon.
func Open(dsn string) (*Directory, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Directory{db: db}, nil
}

// NewWithDB wraps an existing handle; used by tests.
func NewWithDB(db *sql.DB) *Directory { return &Directory{db: db} }

func (d *Directory) Close() error { return d.db.Close() }

// DB exposes the handle for readiness probes.
func (d *Directory) DB() *sql.DB { return d.db }

func (d *Directory) EffectiveRole(ctx context.Context, identityID, storeID string) (backend.RoleGrant, error) {
	var (
		rawRole    string
		isOwner    bool
		memberID   sql.NullString
		memberName sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `
		select role, is_owner, member_id, member_name
		from get_user_effective_role($1, $2)
	`, identityID, storeID).Scan(&rawRole, &isOwner, &memberID, &memberName)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.RoleGrant{}, backend.ErrNotFound
	}
	if err != nil {
		return backend.RoleGrant{}, fmt.Errorf("effective role: %w", err)
	}
	role, ok := authz.ParseRole(rawRole)
	if !ok {
		return backend.RoleGrant{}, backend.ErrNotFound
	}
	return backend.RoleGrant{
		Role:       role,
		IsOwner:    isOwner,
		MemberID:   memberID.String,
		MemberName: memberName.String,
	}, nil
}

func (d *Directory) CheckPermission(ctx context.Context, identityID, storeID string, action authz.Permission) (bool, error) {
	var allowed bool
	err := d.db.QueryRowContext(ctx, `
		select check_user_permission($1, $2, $3)
	`, identityID, storeID, string(action)).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	return allowed, nil
}

func (d *Directory) CanAccessPage(ctx context.Context, identityID, storeID string, page authz.Page) (bool, error) {
	var allowed bool
	err := d.db.QueryRowContext(ctx, `
		select can_access_page($1, $2, $3)
	`, identityID, storeID, string(page)).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("can access page: %w", err)
	}
	return allowed, nil
}

func (d *Directory) AccessibleStores(ctx context.Context, identityID string) ([]backend.Store, error) {
	rows, err := d.db.QueryContext(ctx, `
		select s.id, s.name, s.owner_id, s.currency, s.tax_rate
		from stores s
		where s.owner_id = $1
		union
		select s.id, s.name, s.owner_id, s.currency, s.tax_rate
		from stores s
		join store_members m on m.store_id = s.id
		where m.user_id = $1 and m.is_active
		order by name
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("accessible stores: %w", err)
	}
	defer rows.Close()

	var result []backend.Store
	for rows.Next() {
		var st backend.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.OwnerID, &st.Currency, &st.TaxRate); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (d *Directory) VerifyAccount(ctx context.Context, email, password string) (backend.Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return backend.Account{}, backend.ErrUnauthorized
	}
	var (
		acc  backend.Account
		hash string
	)
	err := d.db.QueryRowContext(ctx, `
		select id, email, email_verified, password_hash
		from accounts
		where email = $1 and status = 'active'
	`, email).Scan(&acc.ID, &acc.Email, &acc.EmailVerified, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.Account{}, backend.ErrUnauthorized
	}
	if err != nil {
		return backend.Account{}, fmt.Errorf("verify account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return backend.Account{}, backend.ErrUnauthorized
	}
	return acc, nil
}

func (d *Directory) VerifyPin(ctx context.Context, storeID, pin string) (backend.PinGrant, error) {
	if strings.TrimSpace(pin) == "" {
		return backend.PinGrant{}, backend.ErrUnauthorized
	}
	rows, err := d.db.QueryContext(ctx, `
		select m.id, m.member_name, m.role, p.pin_hash, s.id, s.name
		from store_members m
		join pin_credentials p on p.member_id = m.id
		join stores s on s.id = m.store_id
		where m.store_id = $1 and m.is_active
	`, storeID)
	if err != nil {
		return backend.PinGrant{}, fmt.Errorf("verify pin: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			grant   backend.PinGrant
			rawRole string
			hash    string
		)
		if err := rows.Scan(&grant.MemberID, &grant.MemberName, &rawRole, &hash, &grant.StoreID, &grant.StoreName); err != nil {
			return backend.PinGrant{}, err
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) != nil {
			continue
		}
		role, ok := authz.ParseRole(rawRole)
		if !ok {
			continue
		}
		grant.Role = role
		grant.GrantedAt = time.Now().UTC()
		return grant, nil
	}
	if err := rows.Err(); err != nil {
		return backend.PinGrant{}, err
	}
	return backend.PinGrant{}, backend.ErrUnauthorized
}

func (d *Directory) LogSecurityEvent(ctx context.Context, event backend.SecurityEvent) error {
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	details := []byte("{}")
	if len(event.Details) > 0 {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		details = data
	}
	_, err := d.db.ExecContext(ctx, `
		select log_security_event($1, $2, $3, $4, $5, $6, $7)
	`, event.ID, event.StoreID, event.EventType, event.Severity, event.ActorID, details, event.OccurredAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			// Duplicate event id; the record already landed.
			return nil
		}
		return fmt.Errorf("log security event: %w", err)
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
