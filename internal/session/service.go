// Package session implements the login, registration, logout, whoami and
// refresh flows. Normal traffic doubles as reconciliation: missing identity
// links are backfilled opportunistically with the same upsert semantics the
// repair engine uses.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scoutbase/service-identity-go/internal/account/entity"
	"github.com/scoutbase/service-identity-go/internal/account/repo"
	"github.com/scoutbase/service-identity-go/internal/identity"
)

// AccountStore is the account surface the session flows need.
type AccountStore interface {
	GetByIdentityToken(ctx context.Context, token string) (*entity.Account, error)
	GetByEmail(ctx context.Context, email string) (*entity.Account, error)
	UpsertByIdentityToken(ctx context.Context, a *entity.Account) (*entity.Account, error)
	LinkIdentity(ctx context.Context, id int64, token string) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// ProfileEnsurer guarantees role-dependent records exist after login and
// registration.
type ProfileEnsurer interface {
	Ensure(ctx context.Context, accountID int64, role entity.Role) bool
}

var (
	ErrEmailTaken    = errors.New("email already registered")
	ErrMissingFields = errors.New("email and password required")
	ErrInvalidRole   = errors.New("unknown role")
)

// User is the caller-facing user shape. A minimal user (zero ID) is built
// straight from the identity record when no account row exists yet.
type User struct {
	ID            int64  `json:"id,omitempty"`
	IdentityToken string `json:"identity_token"`
	Email         string `json:"email"`
	Role          string `json:"role,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
}

// Result is the uniform response of every session operation.
type Result struct {
	Success      bool              `json:"success"`
	User         *User             `json:"user,omitempty"`
	Session      *identity.Session `json:"session,omitempty"`
	NeedsProfile bool              `json:"needsProfile,omitempty"`
	RedirectTo   string            `json:"redirectTo,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Service orchestrates session flows against the provider and the account
// store. It holds no per-request state.
type Service struct {
	provider       identity.Provider
	accounts       AccountStore
	ensurer        ProfileEnsurer
	logger         *zap.SugaredLogger
	onboardingPath string
	now            func() time.Time
}

func NewService(provider identity.Provider, accounts AccountStore, ensurer ProfileEnsurer, logger *zap.SugaredLogger) *Service {
	return &Service{
		provider:       provider,
		accounts:       accounts,
		ensurer:        ensurer,
		logger:         logger,
		onboardingPath: "/onboarding",
		now:            time.Now,
	}
}

// Login verifies credentials with the provider, then resolves the account by
// token with an email fallback. A missing account is not an error: the
// caller gets a minimal user plus NeedsProfile and finishes onboarding next.
func (s *Service) Login(ctx context.Context, email, secret string) (*Result, error) {
	rec, sess, err := s.provider.SignIn(ctx, email, secret)
	if err != nil {
		return nil, err
	}

	acct, err := s.resolveAccount(ctx, rec)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return &Result{
			Success:      true,
			User:         minimalUser(rec),
			Session:      sess,
			NeedsProfile: true,
			RedirectTo:   s.onboardingPath,
		}, nil
	}

	if err := s.accounts.TouchLastLogin(ctx, acct.ID, s.now().UTC()); err != nil {
		s.logger.Warnw("touch last login failed", "account_id", acct.ID, "err", err)
	}
	s.ensurer.Ensure(ctx, acct.ID, acct.Role)

	return &Result{Success: true, User: accountUser(acct, rec.Token), Session: sess}, nil
}

// Register rejects a taken email, signs the identity up with the provider
// and inserts the linked account row.
func (s *Service) Register(ctx context.Context, email, secret string, meta identity.Metadata) (*Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || secret == "" {
		return nil, ErrMissingFields
	}
	role, err := entity.ParseRole(meta.Role)
	if err != nil {
		return nil, fmt.Errorf("%w %q", ErrInvalidRole, meta.Role)
	}

	if existing, err := s.accounts.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrEmailTaken
	} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	rec, sess, err := s.provider.SignUp(ctx, email, secret, meta)
	if err != nil {
		return nil, err
	}

	token := rec.Token
	acct, err := s.accounts.UpsertByIdentityToken(ctx, &entity.Account{
		IdentityToken: &token,
		Email:         email,
		Role:          role,
		FirstName:     meta.FirstName,
		LastName:      meta.LastName,
	})
	if err != nil {
		return nil, err
	}

	s.ensurer.Ensure(ctx, acct.ID, acct.Role)

	return &Result{
		Success:      true,
		User:         accountUser(acct, token),
		Session:      sess,
		NeedsProfile: true,
		RedirectTo:   s.onboardingPath,
	}, nil
}

// Logout invalidates the session with the provider. No account writes.
func (s *Service) Logout(ctx context.Context, accessToken string) (*Result, error) {
	if err := s.provider.SignOut(ctx, accessToken); err != nil {
		return nil, err
	}
	return &Result{Success: true}, nil
}

// WhoAmI resolves the calling identity. Absence of an account row is an
// expected state, answered with NeedsProfile rather than an error.
func (s *Service) WhoAmI(ctx context.Context, accessToken string) (*Result, error) {
	rec, err := s.provider.Verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	acct, err := s.resolveAccount(ctx, rec)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return &Result{Success: true, User: minimalUser(rec), NeedsProfile: true}, nil
	}
	return &Result{Success: true, User: accountUser(acct, rec.Token)}, nil
}

// Refresh exchanges a refresh token for a new session. No account reads or
// writes.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	sess, err := s.provider.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Session: sess}, nil
}

// resolveAccount finds the account for an identity record: by token first,
// then by email for rows created before the link existed. A found-by-email
// row gets its token backfilled inline, the same fix the repair engine
// applies, so either path converges. Returns nil when no row exists.
func (s *Service) resolveAccount(ctx context.Context, rec *identity.Record) (*entity.Account, error) {
	acct, err := s.accounts.GetByIdentityToken(ctx, rec.Token)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if rec.Email == "" {
		return nil, nil
	}

	acct, err = s.accounts.GetByEmail(ctx, rec.Email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !acct.Linked(rec.Token) {
		if err := s.accounts.LinkIdentity(ctx, acct.ID, rec.Token); err != nil {
			if !errors.Is(err, repo.ErrTokenTaken) {
				return nil, err
			}
			// lost a race with a concurrent repair; re-read by token so the
			// caller sees whichever account ended up owning it
			s.logger.Debugw("inline link backfill lost race", "account_id", acct.ID, "err", err)
			if relinked, rerr := s.accounts.GetByIdentityToken(ctx, rec.Token); rerr == nil {
				return relinked, nil
			}
			return nil, err
		}
		token := rec.Token
		acct.IdentityToken = &token
		s.logger.Infow("backfilled identity link on login", "account_id", acct.ID)
	}
	return acct, nil
}

func minimalUser(rec *identity.Record) *User {
	return &User{
		IdentityToken: rec.Token,
		Email:         rec.Email,
		Role:          rec.Meta.Role,
		FirstName:     rec.Meta.FirstName,
		LastName:      rec.Meta.LastName,
	}
}

func accountUser(a *entity.Account, token string) *User {
	return &User{
		ID:            a.ID,
		IdentityToken: token,
		Email:         a.Email,
		Role:          string(a.Role),
		FirstName:     a.FirstName,
		LastName:      a.LastName,
	}
}
