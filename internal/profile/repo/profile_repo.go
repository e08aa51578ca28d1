package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/scoutbase/service-identity-go/internal/profile/entity"
	"github.com/scoutbase/service-identity-go/pkg/database"
)

// ProfileRepo provides data access for business_profiles using sqlx.
type ProfileRepo struct {
	db *sqlx.DB
}

func NewProfileRepo(db *sqlx.DB) *ProfileRepo { return &ProfileRepo{db: db} }

// ErrNotFound is returned when no profile exists for the account.
var ErrNotFound = errors.New("business profile not found")

// ErrAccountMissing is returned when a profile write references an account
// row that does not exist. Retrying cannot help until the account appears.
var ErrAccountMissing = errors.New("account does not exist")

// EnsureTable creates the business_profiles table if not exists (idempotent).
func (r *ProfileRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS business_profiles (
  account_id BIGINT PRIMARY KEY REFERENCES accounts(id),
  company_name TEXT NOT NULL DEFAULT '',
  contact_email CITEXT NOT NULL DEFAULT '',
  onboarded BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Exists reports whether a profile row exists for the account.
func (r *ProfileRepo) Exists(ctx context.Context, accountID int64) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM business_profiles WHERE account_id=$1)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, q, accountID); err != nil {
		return false, err
	}
	return ok, nil
}

// GetByAccountID fetches the profile for an account.
func (r *ProfileRepo) GetByAccountID(ctx context.Context, accountID int64) (*entity.BusinessProfile, error) {
	const q = `SELECT account_id, company_name, contact_email, onboarded, created_at, updated_at
		FROM business_profiles WHERE account_id=$1`
	var row entity.BusinessProfile
	if err := r.db.GetContext(ctx, &row, q, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// UpsertByAccountID writes a profile keyed by its primary key. Re-running
// on an existing row is a no-op apart from updated_at, which keeps the
// ensure path idempotent under concurrent callers.
func (r *ProfileRepo) UpsertByAccountID(ctx context.Context, p *entity.BusinessProfile) error {
	const q = `INSERT INTO business_profiles (account_id, company_name, contact_email, onboarded)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE SET updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, q, p.AccountID, p.CompanyName, p.ContactEmail, p.Onboarded)
	if database.IsForeignKeyViolation(err) {
		return ErrAccountMissing
	}
	return err
}
