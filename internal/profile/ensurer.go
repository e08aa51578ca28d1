// Package profile manages role-specific dependent records and the retrying
// "ensure one exists" pattern used by registration, first profile access and
// the repair engine, all of which can legitimately race.
package profile

import (
	"context"
	"errors"

	"go.uber.org/zap"

	accountentity "github.com/scoutbase/service-identity-go/internal/account/entity"
	"github.com/scoutbase/service-identity-go/internal/profile/entity"
	"github.com/scoutbase/service-identity-go/internal/profile/repo"
	"github.com/scoutbase/service-identity-go/pkg/utilities"
)

// Store is the profile persistence surface the ensurer needs.
type Store interface {
	Exists(ctx context.Context, accountID int64) (bool, error)
	UpsertByAccountID(ctx context.Context, p *entity.BusinessProfile) error
}

// AccountSource supplies the minimal account context used to populate
// profile defaults.
type AccountSource interface {
	GetByID(ctx context.Context, id int64) (*accountentity.Account, error)
}

// Ensurer makes sure the dependent record a role requires exists, tolerating
// concurrent invocations and transient store failures.
type Ensurer struct {
	profiles Store
	accounts AccountSource
	logger   *zap.SugaredLogger
	opts     utilities.EnsureOpts
}

func NewEnsurer(profiles Store, accounts AccountSource, logger *zap.SugaredLogger) *Ensurer {
	opts := utilities.DefaultEnsureOpts()
	// a profile write rejected for lack of its account row stays rejected
	// until the account exists; retrying inside this call cannot fix it
	opts.Benign = func(err error) bool { return !errors.Is(err, repo.ErrAccountMissing) }
	return &Ensurer{profiles: profiles, accounts: accounts, logger: logger, opts: opts}
}

// Ensure guarantees the dependent record for (accountID, role) exists.
// Roles without a dependent record are a no-op success. A false return
// means the record verifiably does not exist after the retry bound.
func (e *Ensurer) Ensure(ctx context.Context, accountID int64, role accountentity.Role) bool {
	if !role.RequiresBusinessProfile() {
		return true
	}

	check := func(ctx context.Context) (bool, error) {
		return e.profiles.Exists(ctx, accountID)
	}
	create := func(ctx context.Context) error {
		p := &entity.BusinessProfile{AccountID: accountID}
		if acct, err := e.accounts.GetByID(ctx, accountID); err == nil {
			p.ContactEmail = acct.Email
		} else {
			e.logger.Debugw("profile defaults without account context", "account_id", accountID, "err", err)
		}
		return e.profiles.UpsertByAccountID(ctx, p)
	}

	ok, err := utilities.IdempotentEnsure(ctx, e.opts, check, create)
	if !ok {
		e.logger.Warnw("business profile ensure failed", "account_id", accountID, "err", err)
	}
	return ok
}
