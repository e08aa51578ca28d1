// Package local is an in-process identity.Provider backed by memory. It
// exists for development and tests; credentials are bcrypt-hashed and
// tokens are opaque UUIDs, so flows behave like the real provider without
// a network hop.
package local

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/scoutbase/service-identity-go/internal/identity"
)

type user struct {
	token     string
	email     string
	hash      []byte
	meta      identity.Metadata
	createdAt time.Time
}

// Provider holds all state behind one mutex; no call suspends while
// holding it.
type Provider struct {
	mu       sync.Mutex
	byToken  map[string]*user
	access   map[string]string // access token -> identity token
	refresh  map[string]string // refresh token -> identity token
	now      func() time.Time
	tokenTTL time.Duration
	cost     int
}

func New() *Provider {
	return &Provider{
		byToken:  make(map[string]*user),
		access:   make(map[string]string),
		refresh:  make(map[string]string),
		now:      time.Now,
		tokenTTL: time.Hour,
		cost:     bcrypt.MinCost, // dev provider, favor speed
	}
}

var _ identity.Provider = (*Provider)(nil)

func (p *Provider) SignUp(ctx context.Context, email, secret string, meta identity.Metadata) (*identity.Record, *identity.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || secret == "" {
		return nil, nil, identity.NewError(identity.KindAuth, "sign_up", errors.New("email and secret required"))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), p.cost)
	if err != nil {
		return nil, nil, identity.NewError(identity.KindPermanent, "sign_up", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.byToken {
		if u.email == email {
			return nil, nil, identity.NewError(identity.KindAuth, "sign_up", errors.New("email already registered"))
		}
	}
	u := &user{token: uuid.NewString(), email: email, hash: hash, meta: meta, createdAt: p.now()}
	p.byToken[u.token] = u
	sess := p.issueLocked(u.token)
	return record(u), sess, nil
}

func (p *Provider) SignIn(ctx context.Context, email, secret string) (*identity.Record, *identity.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.byToken {
		if u.email != email {
			continue
		}
		if bcrypt.CompareHashAndPassword(u.hash, []byte(secret)) != nil {
			break
		}
		return record(u), p.issueLocked(u.token), nil
	}
	return nil, nil, identity.NewError(identity.KindAuth, "sign_in", errors.New("invalid credentials"))
}

func (p *Provider) Verify(ctx context.Context, accessToken string) (*identity.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	token, ok := p.access[accessToken]
	if !ok {
		return nil, identity.NewError(identity.KindAuth, "verify", errors.New("invalid access token"))
	}
	u, ok := p.byToken[token]
	if !ok {
		return nil, identity.NewError(identity.KindAuth, "verify", errors.New("identity gone"))
	}
	return record(u), nil
}

func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	token, ok := p.refresh[refreshToken]
	if !ok {
		return nil, identity.NewError(identity.KindAuth, "refresh", errors.New("invalid refresh token"))
	}
	delete(p.refresh, refreshToken)
	return p.issueLocked(token), nil
}

func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.access, accessToken)
	return nil
}

func (p *Provider) ListAll(ctx context.Context) ([]identity.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]identity.Record, 0, len(p.byToken))
	for _, u := range p.byToken {
		out = append(out, *record(u))
	}
	return out, nil
}

func (p *Provider) GetByToken(ctx context.Context, token string) (*identity.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byToken[token]
	if !ok {
		return nil, identity.NewError(identity.KindNotFound, "get_by_token", errors.New("no such identity"))
	}
	return record(u), nil
}

// Seed inserts an identity record directly, bypassing sign-up. Tests use it
// to fabricate drift (records with no email, duplicate emails, orphans).
func (p *Provider) Seed(rec identity.Record, secret string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	token := rec.Token
	if token == "" {
		token = uuid.NewString()
	}
	var hash []byte
	if secret != "" {
		hash, _ = bcrypt.GenerateFromPassword([]byte(secret), p.cost)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = p.now()
	}
	p.byToken[token] = &user{token: token, email: strings.ToLower(rec.Email), hash: hash, meta: rec.Meta, createdAt: created}
	return token
}

func (p *Provider) issueLocked(token string) *identity.Session {
	access := uuid.NewString()
	refresh := uuid.NewString()
	p.access[access] = token
	p.refresh[refresh] = token
	return &identity.Session{AccessToken: access, RefreshToken: refresh, ExpiresAt: p.now().Add(p.tokenTTL)}
}

func record(u *user) *identity.Record {
	return &identity.Record{Token: u.token, Email: u.email, Meta: u.meta, CreatedAt: u.createdAt}
}
