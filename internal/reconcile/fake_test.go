package reconcile

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scoutbase/service-identity-go/internal/account/entity"
	"github.com/scoutbase/service-identity-go/internal/account/repo"
)

// fakeAccounts is an in-memory account store with the same keying rules as
// the Postgres repo: unique identity tokens, case-insensitive emails.
type fakeAccounts struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*entity.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{nextID: 1, accounts: make(map[int64]*entity.Account)}
}

func (f *fakeAccounts) add(a entity.Account) *entity.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == 0 {
		a.ID = f.nextID
	}
	if a.ID >= f.nextID {
		f.nextID = a.ID + 1
	}
	a.CreatedAt = time.Now()
	f.accounts[a.ID] = &a
	return &a
}

func (f *fakeAccounts) snapshot() []entity.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeAccounts) List(ctx context.Context) ([]entity.Account, error) {
	return f.snapshot(), nil
}

func (f *fakeAccounts) GetByID(ctx context.Context, id int64) (*entity.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeAccounts) GetByIdentityToken(ctx context.Context, token string) (*entity.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Linked(token) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeAccounts) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeAccounts) UpsertByIdentityToken(ctx context.Context, a *entity.Account) (*entity.Account, error) {
	if a.IdentityToken == nil || *a.IdentityToken == "" {
		return nil, errors.New("identity token required for upsert")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.accounts {
		if existing.Linked(*a.IdentityToken) {
			existing.Email = a.Email
			cp := *existing
			return &cp, nil
		}
	}
	cp := *a
	cp.ID = f.nextID
	f.nextID++
	cp.CreatedAt = time.Now()
	f.accounts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeAccounts) LinkIdentity(ctx context.Context, id int64, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.ID != id && a.Linked(token) {
			return repo.ErrTokenTaken
		}
	}
	a, ok := f.accounts[id]
	if !ok {
		return repo.ErrNotFound
	}
	t := token
	a.IdentityToken = &t
	return nil
}

func (f *fakeAccounts) UpdateEmail(ctx context.Context, id int64, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return repo.ErrNotFound
	}
	a.Email = email
	return nil
}
