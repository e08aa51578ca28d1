package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scoutbase/service-identity-go/internal/account/entity"
	"github.com/scoutbase/service-identity-go/internal/account/repo"
	"github.com/scoutbase/service-identity-go/pkg/utilities"
)

// AccountWriter is the account-store surface the repair engine writes
// through. All writes are upserts or uniquely-keyed updates.
type AccountWriter interface {
	GetByID(ctx context.Context, id int64) (*entity.Account, error)
	GetByIdentityToken(ctx context.Context, token string) (*entity.Account, error)
	UpsertByIdentityToken(ctx context.Context, a *entity.Account) (*entity.Account, error)
	LinkIdentity(ctx context.Context, id int64, token string) error
	UpdateEmail(ctx context.Context, id int64, email string) error
}

// Repairer applies the scanner's fixable issues. Each fix is independently
// retryable and safe to re-run; a failure in one never blocks the others.
type Repairer struct {
	accounts AccountWriter
	logger   *zap.SugaredLogger
	opts     utilities.EnsureOpts
}

func NewRepairer(accounts AccountWriter, logger *zap.SugaredLogger) *Repairer {
	opts := utilities.DefaultEnsureOpts()
	// a token owned by another account cannot be raced into existence;
	// retrying only repeats the same unique violation
	opts.Benign = func(err error) bool { return !errors.Is(err, repo.ErrTokenTaken) }
	return &Repairer{accounts: accounts, logger: logger, opts: opts}
}

// Apply walks the issue list and applies every fixable fix, returning one
// outcome per issue. Non-fixable issues are skipped without any write.
func (r *Repairer) Apply(ctx context.Context, issues []Issue) []Outcome {
	runID := utilities.NewKSUID()
	outcomes := make([]Outcome, 0, len(issues))
	for _, issue := range issues {
		out := r.applyOne(ctx, issue)
		r.logger.Infow("repair outcome",
			"run_id", runID,
			"kind", issue.Kind,
			"entity", issue.EntityKind+"/"+issue.EntityID,
			"status", out.Status,
		)
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (r *Repairer) applyOne(ctx context.Context, issue Issue) Outcome {
	if !issue.Fixable || issue.Fix == nil {
		return Outcome{Issue: issue, Status: OutcomeSkipped, Detail: "not fixable"}
	}
	switch issue.Fix.Action {
	case FixCreateAccount:
		return r.createAccount(ctx, issue)
	case FixLinkAccount:
		return r.linkAccount(ctx, issue, issue.Fix.AccountID, issue.Fix.IdentityToken)
	case FixAdoptEmail:
		return r.adoptEmail(ctx, issue)
	}
	return Outcome{Issue: issue, Status: OutcomeFailed, Detail: fmt.Sprintf("unknown fix action %q", issue.Fix.Action)}
}

// createAccount materializes an account for an orphan identity record. When
// the scanner found an unlinked account with the same email, the fix links
// that row instead of inserting a second one.
func (r *Repairer) createAccount(ctx context.Context, issue Issue) Outcome {
	fix := issue.Fix
	if fix.CandidateAccountID != 0 {
		return r.linkAccount(ctx, issue, fix.CandidateAccountID, fix.IdentityToken)
	}

	if existing, err := r.accounts.GetByIdentityToken(ctx, fix.IdentityToken); err == nil && existing != nil {
		return Outcome{Issue: issue, Status: OutcomeAlreadyFixed}
	}

	role, err := entity.ParseRole(fix.Role)
	if err != nil {
		role = entity.RoleAthlete
	}
	check := func(ctx context.Context) (bool, error) {
		_, err := r.accounts.GetByIdentityToken(ctx, fix.IdentityToken)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
	create := func(ctx context.Context) error {
		token := fix.IdentityToken
		_, err := r.accounts.UpsertByIdentityToken(ctx, &entity.Account{
			IdentityToken: &token,
			Email:         fix.Email,
			Role:          role,
		})
		return err
	}
	if ok, err := utilities.IdempotentEnsure(ctx, r.opts, check, create); !ok {
		return Outcome{Issue: issue, Status: OutcomeFailed, Detail: errDetail(err)}
	}
	return Outcome{Issue: issue, Status: OutcomeFixed}
}

func (r *Repairer) linkAccount(ctx context.Context, issue Issue, accountID int64, token string) Outcome {
	acct, err := r.accounts.GetByID(ctx, accountID)
	if err != nil {
		return Outcome{Issue: issue, Status: OutcomeFailed, Detail: errDetail(err)}
	}
	if acct.Linked(token) {
		return Outcome{Issue: issue, Status: OutcomeAlreadyFixed}
	}

	check := func(ctx context.Context) (bool, error) {
		a, err := r.accounts.GetByID(ctx, accountID)
		if err != nil {
			return false, err
		}
		return a.Linked(token), nil
	}
	create := func(ctx context.Context) error {
		return r.accounts.LinkIdentity(ctx, accountID, token)
	}
	if ok, err := utilities.IdempotentEnsure(ctx, r.opts, check, create); !ok {
		return Outcome{Issue: issue, Status: OutcomeFailed, Detail: errDetail(err)}
	}
	return Outcome{Issue: issue, Status: OutcomeFixed}
}

func (r *Repairer) adoptEmail(ctx context.Context, issue Issue) Outcome {
	fix := issue.Fix
	acct, err := r.accounts.GetByID(ctx, fix.AccountID)
	if err != nil {
		return Outcome{Issue: issue, Status: OutcomeFailed, Detail: errDetail(err)}
	}
	if strings.EqualFold(acct.Email, fix.Email) {
		return Outcome{Issue: issue, Status: OutcomeAlreadyFixed}
	}
	if err := r.accounts.UpdateEmail(ctx, fix.AccountID, fix.Email); err != nil {
		return Outcome{Issue: issue, Status: OutcomeFailed, Detail: errDetail(err)}
	}
	return Outcome{Issue: issue, Status: OutcomeFixed}
}

func errDetail(err error) string {
	if err == nil {
		return "state not reached"
	}
	return err.Error()
}
