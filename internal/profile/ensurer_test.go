package profile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	accountentity "github.com/scoutbase/service-identity-go/internal/account/entity"
	"github.com/scoutbase/service-identity-go/internal/account/repo"
	"github.com/scoutbase/service-identity-go/internal/profile/entity"
	profilerepo "github.com/scoutbase/service-identity-go/internal/profile/repo"
)

type fakeProfiles struct {
	mu        sync.Mutex
	rows      map[int64]*entity.BusinessProfile
	upserts   int
	failFirst int   // fail this many upserts before succeeding
	failWith  error // error to fail with; nil means a generic one
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{rows: make(map[int64]*entity.BusinessProfile)}
}

func (f *fakeProfiles) Exists(ctx context.Context, accountID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[accountID]
	return ok, nil
}

func (f *fakeProfiles) UpsertByAccountID(ctx context.Context, p *entity.BusinessProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.upserts <= f.failFirst {
		if f.failWith != nil {
			return f.failWith
		}
		return errors.New("connection reset")
	}
	if _, ok := f.rows[p.AccountID]; !ok {
		cp := *p
		f.rows[p.AccountID] = &cp
	}
	return nil
}

type fakeAccountSource struct {
	accounts map[int64]*accountentity.Account
}

func (f *fakeAccountSource) GetByID(ctx context.Context, id int64) (*accountentity.Account, error) {
	if a, ok := f.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, repo.ErrNotFound
}

func fastEnsurer(profiles *fakeProfiles, accounts *fakeAccountSource) *Ensurer {
	e := NewEnsurer(profiles, accounts, zap.NewNop().Sugar())
	e.opts.BaseDelay = 0
	e.opts.MaxDelay = 0
	return e
}

func TestEnsureNoopForRolesWithoutProfile(t *testing.T) {
	profiles := newFakeProfiles()
	e := fastEnsurer(profiles, &fakeAccountSource{})

	require.True(t, e.Ensure(context.Background(), 1, accountentity.RoleAthlete))
	require.Zero(t, profiles.upserts)
}

func TestEnsureCreatesWithAccountDefaults(t *testing.T) {
	profiles := newFakeProfiles()
	accounts := &fakeAccountSource{accounts: map[int64]*accountentity.Account{
		5: {ID: 5, Email: "biz@x.com", Role: accountentity.RoleBusiness},
	}}
	e := fastEnsurer(profiles, accounts)

	require.True(t, e.Ensure(context.Background(), 5, accountentity.RoleBusiness))
	row := profiles.rows[5]
	require.NotNil(t, row)
	require.Equal(t, "biz@x.com", row.ContactEmail)
}

func TestEnsureIsIdempotent(t *testing.T) {
	profiles := newFakeProfiles()
	accounts := &fakeAccountSource{accounts: map[int64]*accountentity.Account{5: {ID: 5}}}
	e := fastEnsurer(profiles, accounts)

	require.True(t, e.Ensure(context.Background(), 5, accountentity.RoleBusiness))
	upsertsAfterFirst := profiles.upserts
	require.True(t, e.Ensure(context.Background(), 5, accountentity.RoleBusiness))
	// second call found the row and wrote nothing
	require.Equal(t, upsertsAfterFirst, profiles.upserts)
	require.Len(t, profiles.rows, 1)
}

func TestEnsureRetriesTransientFailures(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.failFirst = 2
	accounts := &fakeAccountSource{accounts: map[int64]*accountentity.Account{5: {ID: 5}}}
	e := fastEnsurer(profiles, accounts)

	require.True(t, e.Ensure(context.Background(), 5, accountentity.RoleBusiness))
	require.Len(t, profiles.rows, 1)
}

func TestEnsureReportsFailureAfterBound(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.failFirst = 100
	accounts := &fakeAccountSource{accounts: map[int64]*accountentity.Account{5: {ID: 5}}}
	e := fastEnsurer(profiles, accounts)

	require.False(t, e.Ensure(context.Background(), 5, accountentity.RoleBusiness))
	require.Empty(t, profiles.rows)
}

// A write rejected because the account row is gone is permanent within the
// call: no retries, immediate failure.
func TestEnsureFailsFastWhenAccountRowMissing(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.failFirst = 100
	profiles.failWith = profilerepo.ErrAccountMissing
	e := fastEnsurer(profiles, &fakeAccountSource{})

	require.False(t, e.Ensure(context.Background(), 5, accountentity.RoleBusiness))
	require.Equal(t, 1, profiles.upserts)
}

// Two concurrent ensure calls for the same account end with exactly one
// profile row.
func TestEnsureConvergesUnderConcurrency(t *testing.T) {
	profiles := newFakeProfiles()
	accounts := &fakeAccountSource{accounts: map[int64]*accountentity.Account{5: {ID: 5, Email: "biz@x.com"}}}

	results := make(chan bool, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := fastEnsurer(profiles, accounts)
			results <- e.Ensure(context.Background(), 5, accountentity.RoleBusiness)
		}()
	}
	wg.Wait()
	close(results)

	for ok := range results {
		require.True(t, ok)
	}
	require.Len(t, profiles.rows, 1)
}
