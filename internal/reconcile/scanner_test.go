package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scoutbase/service-identity-go/internal/account/entity"
	"github.com/scoutbase/service-identity-go/internal/identity"
	"github.com/scoutbase/service-identity-go/internal/identity/local"
)

const (
	tokenT1 = "11111111-1111-1111-1111-111111111111"
	tokenT2 = "22222222-2222-2222-2222-222222222222"
	tokenT3 = "33333333-3333-3333-3333-333333333333"
)

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func fastRepairer(store *fakeAccounts) *Repairer {
	r := NewRepairer(store, testLogger())
	r.opts.BaseDelay = 0
	r.opts.MaxDelay = 0
	return r
}

func issuesOfKind(report *Report, kind string) []Issue {
	var out []Issue
	for _, i := range report.Issues {
		if i.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}

func TestScanCleanStores(t *testing.T) {
	provider := local.New()
	token := provider.Seed(identity.Record{Token: tokenT1, Email: "a@x.com"}, "")
	store := newFakeAccounts()
	store.add(entity.Account{IdentityToken: &token, Email: "a@x.com", Role: entity.RoleAthlete})

	report, err := NewScanner(provider, store, testLogger()).Scan(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK)
	require.Empty(t, report.Issues)
	require.Equal(t, 1, report.Stats.IdentityRecords)
	require.Equal(t, 1, report.Stats.Accounts)
}

func TestScanMissingAppRecord(t *testing.T) {
	provider := local.New()
	provider.Seed(identity.Record{Token: tokenT1, Email: "a@x.com", Meta: identity.Metadata{Role: "business"}}, "")
	store := newFakeAccounts()

	report, err := NewScanner(provider, store, testLogger()).Scan(context.Background())
	require.NoError(t, err)
	require.False(t, report.OK)

	missing := issuesOfKind(report, IssueMissingAppRecord)
	require.Len(t, missing, 1)
	issue := missing[0]
	require.Equal(t, SeverityError, issue.Severity)
	require.Equal(t, tokenT1, issue.EntityID)
	require.True(t, issue.Fixable)
	require.Equal(t, FixCreateAccount, issue.Fix.Action)
	require.Equal(t, "business", issue.Fix.Role)
	require.Zero(t, issue.Fix.CandidateAccountID)
}

func TestScanMissingAppRecordNotesEmailCandidate(t *testing.T) {
	provider := local.New()
	provider.Seed(identity.Record{Token: tokenT2, Email: "b@x.com"}, "")
	store := newFakeAccounts()
	store.add(entity.Account{ID: 5, Email: "b@x.com", Role: entity.RoleAthlete})

	report, err := NewScanner(provider, store, testLogger()).Scan(context.Background())
	require.NoError(t, err)

	missing := issuesOfKind(report, IssueMissingAppRecord)
	require.Len(t, missing, 1)
	require.Equal(t, int64(5), missing[0].Fix.CandidateAccountID)

	// the same pair also surfaces from the account side
	links := issuesOfKind(report, IssueMissingLink)
	require.Len(t, links, 1)
	require.Equal(t, "5", links[0].EntityID)
	require.Equal(t, tokenT2, links[0].Fix.IdentityToken)
}

func TestScanMissingEmailAndDuplicates(t *testing.T) {
	provider := local.New()
	noEmail := provider.Seed(identity.Record{Token: tokenT1}, "")
	provider.Seed(identity.Record{Token: tokenT2, Email: "dup@x.com"}, "")
	provider.Seed(identity.Record{Token: tokenT3, Email: "DUP@x.com"}, "")
	store := newFakeAccounts()

	report, err := NewScanner(provider, store, testLogger()).Scan(context.Background())
	require.NoError(t, err)

	missingEmail := issuesOfKind(report, IssueMissingEmail)
	require.Len(t, missingEmail, 1)
	require.Equal(t, noEmail, missingEmail[0].EntityID)
	require.False(t, missingEmail[0].Fixable)

	// exactly one issue per duplicated email, case-insensitive, never fixable
	dups := issuesOfKind(report, IssueDuplicateIdentityEmail)
	require.Len(t, dups, 1)
	require.Equal(t, "dup@x.com", dups[0].EntityID)
	require.False(t, dups[0].Fixable)
}

// Two identities sharing an email plus an unlinked account carrying it:
// no automated link decision is safe, so neither side gets a link fix and
// the orphan identities fall back to fresh rows.
func TestScanDuplicateEmailSuppressesLinkFixes(t *testing.T) {
	provider := local.New()
	provider.Seed(identity.Record{Token: tokenT1, Email: "dup@x.com"}, "")
	provider.Seed(identity.Record{Token: tokenT2, Email: "dup@x.com"}, "")
	store := newFakeAccounts()
	store.add(entity.Account{ID: 5, Email: "dup@x.com", Role: entity.RoleAthlete})

	report, err := NewScanner(provider, store, testLogger()).Scan(context.Background())
	require.NoError(t, err)

	missing := issuesOfKind(report, IssueMissingAppRecord)
	require.Len(t, missing, 2)
	for _, issue := range missing {
		require.Zero(t, issue.Fix.CandidateAccountID, issue.Message)
	}

	links := issuesOfKind(report, IssueMissingLink)
	require.Len(t, links, 1)
	require.False(t, links[0].Fixable)
	require.Nil(t, links[0].Fix)

	require.Len(t, issuesOfKind(report, IssueDuplicateIdentityEmail), 1)
}

func TestScanOrphanAndUnrecoverableAccounts(t *testing.T) {
	provider := local.New()
	store := newFakeAccounts()
	store.add(entity.Account{ID: 1, Email: "lonely@x.com", Role: entity.RoleAthlete})
	store.add(entity.Account{ID: 2, Role: entity.RoleAthlete})

	report, err := NewScanner(provider, store, testLogger()).Scan(context.Background())
	require.NoError(t, err)

	orphans := issuesOfKind(report, IssueOrphanAppRecord)
	require.Len(t, orphans, 1)
	require.Equal(t, "1", orphans[0].EntityID)
	require.Equal(t, SeverityWarning, orphans[0].Severity)
	require.False(t, orphans[0].Fixable)

	dead := issuesOfKind(report, IssueUnrecoverableAppRecord)
	require.Len(t, dead, 1)
	require.Equal(t, "2", dead[0].EntityID)
	require.Equal(t, SeverityError, dead[0].Severity)
}

func TestScanEmailMismatch(t *testing.T) {
	provider := local.New()
	token := provider.Seed(identity.Record{Token: tokenT1, Email: "new@x.com"}, "")
	store := newFakeAccounts()
	store.add(entity.Account{IdentityToken: &token, Email: "old@x.com", Role: entity.RoleAthlete})

	report, err := NewScanner(provider, store, testLogger()).Scan(context.Background())
	require.NoError(t, err)
	// mismatch is a warning, so the report is still ok
	require.True(t, report.OK)

	mismatches := issuesOfKind(report, IssueEmailMismatch)
	require.Len(t, mismatches, 1)
	require.Equal(t, FixAdoptEmail, mismatches[0].Fix.Action)
	require.Equal(t, "new@x.com", mismatches[0].Fix.Email)
}

func TestScanTokenMatchBeatsEmailMatch(t *testing.T) {
	// account linked by token to T1 also shares an email with T2; the token
	// link wins and the account is not reported as missing a link
	provider := local.New()
	t1 := provider.Seed(identity.Record{Token: tokenT1, Email: "a@x.com"}, "")
	provider.Seed(identity.Record{Token: tokenT2, Email: "shared@x.com"}, "")
	store := newFakeAccounts()
	store.add(entity.Account{IdentityToken: &t1, Email: "shared@x.com", Role: entity.RoleAthlete})

	report, err := NewScanner(provider, store, testLogger()).Scan(context.Background())
	require.NoError(t, err)

	require.Empty(t, issuesOfKind(report, IssueMissingLink))
	// T2 still lacks an account of its own
	missing := issuesOfKind(report, IssueMissingAppRecord)
	require.Len(t, missing, 1)
	require.Equal(t, tokenT2, missing[0].EntityID)
	// the linked pair drifted on email
	require.Len(t, issuesOfKind(report, IssueEmailMismatch), 1)
}

func TestScanDoesNotMutateStores(t *testing.T) {
	provider := local.New()
	provider.Seed(identity.Record{Token: tokenT1, Email: "a@x.com"}, "")
	store := newFakeAccounts()
	store.add(entity.Account{ID: 7, Email: "b@x.com", Role: entity.RoleBusiness})

	before := store.snapshot()
	idsBefore, err := provider.ListAll(context.Background())
	require.NoError(t, err)

	_, err = NewScanner(provider, store, testLogger()).Scan(context.Background())
	require.NoError(t, err)

	require.Equal(t, before, store.snapshot())
	idsAfter, err := provider.ListAll(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, idsBefore, idsAfter)
}
