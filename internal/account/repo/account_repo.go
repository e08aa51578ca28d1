package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/scoutbase/service-identity-go/internal/account/entity"
	"github.com/scoutbase/service-identity-go/pkg/database"
	"github.com/scoutbase/service-identity-go/pkg/utilities"
)

// AccountRepo provides data access for the accounts table using sqlx.
// Every corrective write is keyed by a unique column so concurrent
// reconcilers converge instead of duplicating rows.
type AccountRepo struct {
	db *sqlx.DB
}

func NewAccountRepo(db *sqlx.DB) *AccountRepo { return &AccountRepo{db: db} }

// ErrNotFound is returned when no account matches the lookup.
var ErrNotFound = errors.New("account not found")

// ErrTokenTaken is returned when the unique identity_token index rejects a
// write because another account already owns the token.
var ErrTokenTaken = errors.New("identity token already linked to another account")

// EnsureTable creates the accounts table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *AccountRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS accounts (
  id BIGINT PRIMARY KEY,
  identity_token UUID,
  email CITEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'athlete',
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  last_login_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_identity_token
  ON accounts(identity_token) WHERE identity_token IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const accountColumns = `id, identity_token, email, role, first_name, last_name, last_login_at, created_at, updated_at`

func (r *AccountRepo) get(ctx context.Context, q string, args ...any) (*entity.Account, error) {
	var row entity.Account
	if err := r.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// GetByID fetches a full account row.
func (r *AccountRepo) GetByID(ctx context.Context, id int64) (*entity.Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id)
}

// GetByIdentityToken fetches the account linked to an identity token.
func (r *AccountRepo) GetByIdentityToken(ctx context.Context, token string) (*entity.Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE identity_token=$1`, token)
}

// GetByEmail matches by email, case-insensitive due to citext.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email=$1`, email)
}

// List returns every account row, ordered by id. The reconciliation scanner
// needs a full snapshot.
func (r *AccountRepo) List(ctx context.Context) ([]entity.Account, error) {
	var rows []entity.Account
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+accountColumns+` FROM accounts ORDER BY id`); err != nil {
		return nil, err
	}
	return rows, nil
}

// Create inserts a new account row with an app-generated snowflake id and
// returns the stored row.
func (r *AccountRepo) Create(ctx context.Context, a *entity.Account) (*entity.Account, error) {
	if a.ID == 0 {
		a.ID = utilities.NewSnowflakeID()
	}
	const q = `INSERT INTO accounts (id, identity_token, email, role, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + accountColumns
	return r.get(ctx, q, a.ID, a.IdentityToken, a.Email, a.Role, a.FirstName, a.LastName)
}

// UpsertByIdentityToken inserts an account keyed by identity token, or
// refreshes email/role metadata on the existing linked row. This is the
// write both the repair engine and the login backfill go through, so an
// arbitrary interleaving of the two still yields exactly one row per token.
func (r *AccountRepo) UpsertByIdentityToken(ctx context.Context, a *entity.Account) (*entity.Account, error) {
	if a.IdentityToken == nil || *a.IdentityToken == "" {
		return nil, errors.New("identity token required for upsert")
	}
	if a.ID == 0 {
		a.ID = utilities.NewSnowflakeID()
	}
	const q = `INSERT INTO accounts (id, identity_token, email, role, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identity_token) WHERE identity_token IS NOT NULL
		DO UPDATE SET email = EXCLUDED.email, updated_at = NOW()
		RETURNING ` + accountColumns
	return r.get(ctx, q, a.ID, a.IdentityToken, a.Email, a.Role, a.FirstName, a.LastName)
}

// LinkIdentity backfills the identity token on an existing account. The
// token-uniqueness index still applies; a violation means another account
// already owns the token and surfaces as ErrTokenTaken.
func (r *AccountRepo) LinkIdentity(ctx context.Context, id int64, token string) error {
	const q = `UPDATE accounts SET identity_token=$2, updated_at=NOW()
		WHERE id=$1 AND (identity_token IS NULL OR identity_token <> $2)`
	_, err := r.db.ExecContext(ctx, q, id, token)
	if database.IsUniqueViolation(err) {
		return ErrTokenTaken
	}
	return err
}

// UpdateEmail sets the account email (used to adopt the provider's email
// on mismatch).
func (r *AccountRepo) UpdateEmail(ctx context.Context, id int64, email string) error {
	const q = `UPDATE accounts SET email=$2, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, email)
	return err
}

// TouchLastLogin records a successful authentication.
func (r *AccountRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE accounts SET last_login_at=$2, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, at)
	return err
}

// TableExists reports whether a table is present in the public schema.
// Used by migration and diagnostic tooling only.
func (r *AccountRepo) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema='public' AND table_name=$1)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, q, table); err != nil {
		return false, err
	}
	return ok, nil
}

// ColumnExists reports whether a column is present on a public-schema table.
func (r *AccountRepo) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_schema='public' AND table_name=$1 AND column_name=$2)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, q, table, column); err != nil {
		return false, err
	}
	return ok, nil
}
