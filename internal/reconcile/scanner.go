package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scoutbase/service-identity-go/internal/account/entity"
	"github.com/scoutbase/service-identity-go/internal/identity"
	"github.com/scoutbase/service-identity-go/pkg/utilities"
)

// AccountLister is the account-store surface the scanner reads from.
type AccountLister interface {
	List(ctx context.Context) ([]entity.Account, error)
}

// Scanner compares the credential provider against the account store and
// classifies every inconsistency. Scanning performs no writes.
type Scanner struct {
	provider identity.Provider
	accounts AccountLister
	logger   *zap.SugaredLogger
}

func NewScanner(provider identity.Provider, accounts AccountLister, logger *zap.SugaredLogger) *Scanner {
	return &Scanner{provider: provider, accounts: accounts, logger: logger}
}

// Scan builds a fresh drift report. Token matches always beat email
// matches; email is only a recovery heuristic for rows lacking a token
// link.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	records, err := s.provider.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identity records: %w", err)
	}
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	// deterministic report order regardless of store iteration order
	sort.Slice(records, func(i, j int) bool { return records[i].Token < records[j].Token })
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	accountByToken := make(map[string]*entity.Account)
	accountsByEmail := make(map[string][]*entity.Account)
	for i := range accounts {
		a := &accounts[i]
		if a.IdentityToken != nil && *a.IdentityToken != "" {
			accountByToken[*a.IdentityToken] = a
		}
		if a.Email != "" {
			key := strings.ToLower(a.Email)
			accountsByEmail[key] = append(accountsByEmail[key], a)
		}
	}
	recordByEmail := make(map[string][]*identity.Record)
	for i := range records {
		r := &records[i]
		if r.Email != "" {
			key := strings.ToLower(r.Email)
			recordByEmail[key] = append(recordByEmail[key], r)
		}
	}

	var issues []Issue

	// identity records without an application account
	for i := range records {
		rec := &records[i]
		if _, ok := accountByToken[rec.Token]; ok {
			continue
		}
		role := rec.Meta.Role
		if _, err := entity.ParseRole(role); err != nil {
			role = string(entity.RoleAthlete)
		}
		fix := &Fix{Action: FixCreateAccount, IdentityToken: rec.Token, Email: rec.Email, Role: role}
		msg := fmt.Sprintf("identity %s has no account record", rec.Token)
		if rec.Email != "" {
			key := strings.ToLower(rec.Email)
			if len(recordByEmail[key]) > 1 {
				// the email is duplicated across identities; adopting an
				// existing account would hand its link to an arbitrary
				// identity, so repair creates a fresh row instead
				msg = fmt.Sprintf("identity %s has no account record; email %s is shared by multiple identities", rec.Token, rec.Email)
			} else {
				for _, cand := range accountsByEmail[key] {
					if cand.IdentityToken == nil || *cand.IdentityToken == "" {
						// an unlinked account already carries this email; repair
						// should link it rather than create a second row
						fix.CandidateAccountID = cand.ID
						msg = fmt.Sprintf("identity %s has no account record; unlinked account %d matches by email", rec.Token, cand.ID)
						break
					} else if *cand.IdentityToken != rec.Token {
						msg = fmt.Sprintf("identity %s has no account record; account %d matches by email but is linked to a different identity", rec.Token, cand.ID)
					}
				}
			}
		}
		issues = append(issues, Issue{
			Kind:       IssueMissingAppRecord,
			Severity:   SeverityError,
			Message:    msg,
			EntityKind: "identity_record",
			EntityID:   rec.Token,
			Fixable:    true,
			Fix:        fix,
		})
	}

	// identity records lacking an email: nothing safe to automate
	for i := range records {
		rec := &records[i]
		if rec.Email != "" {
			continue
		}
		issues = append(issues, Issue{
			Kind:       IssueMissingEmail,
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("identity %s has no email", rec.Token),
			EntityKind: "identity_record",
			EntityID:   rec.Token,
		})
	}

	// duplicate emails across identity records: human adjudication required,
	// automated merge risks account takeover
	dupEmails := make([]string, 0)
	for email, recs := range recordByEmail {
		if len(recs) > 1 {
			dupEmails = append(dupEmails, email)
		}
	}
	sort.Strings(dupEmails)
	for _, email := range dupEmails {
		recs := recordByEmail[email]
		tokens := make([]string, len(recs))
		for i, r := range recs {
			tokens[i] = r.Token
		}
		issues = append(issues, Issue{
			Kind:       IssueDuplicateIdentityEmail,
			Severity:   SeverityError,
			Message:    fmt.Sprintf("email %s is shared by %d identity records (%s)", email, len(recs), strings.Join(tokens, ", ")),
			EntityKind: "identity_record",
			EntityID:   email,
		})
	}

	// accounts with no identity link
	for i := range accounts {
		a := &accounts[i]
		if a.IdentityToken != nil && *a.IdentityToken != "" {
			continue
		}
		if a.Email == "" {
			issues = append(issues, Issue{
				Kind:       IssueUnrecoverableAppRecord,
				Severity:   SeverityError,
				Message:    fmt.Sprintf("account %d has neither identity link nor email", a.ID),
				EntityKind: "account",
				EntityID:   strconv.FormatInt(a.ID, 10),
			})
			continue
		}
		matches := recordByEmail[strings.ToLower(a.Email)]
		if len(matches) == 0 {
			issues = append(issues, Issue{
				Kind:       IssueOrphanAppRecord,
				Severity:   SeverityWarning,
				Message:    fmt.Sprintf("account %d (%s) has no identity record", a.ID, a.Email),
				EntityKind: "account",
				EntityID:   strconv.FormatInt(a.ID, 10),
			})
			continue
		}
		if len(matches) > 1 {
			// more than one identity claims the email; picking a winner is
			// the human adjudication the duplicate-email issue calls for
			issues = append(issues, Issue{
				Kind:       IssueMissingLink,
				Severity:   SeverityError,
				Message:    fmt.Sprintf("account %d email %s matches %d identity records; link requires manual resolution", a.ID, a.Email, len(matches)),
				EntityKind: "account",
				EntityID:   strconv.FormatInt(a.ID, 10),
			})
			continue
		}
		rec := matches[0]
		issues = append(issues, Issue{
			Kind:       IssueMissingLink,
			Severity:   SeverityError,
			Message:    fmt.Sprintf("account %d matches identity %s by email but is not linked", a.ID, rec.Token),
			EntityKind: "account",
			EntityID:   strconv.FormatInt(a.ID, 10),
			Fixable:    true,
			Fix:        &Fix{Action: FixLinkAccount, AccountID: a.ID, IdentityToken: rec.Token},
		})
	}

	// linked pairs whose emails drifted apart; the provider is the
	// credential source of truth, so its email wins
	for i := range records {
		rec := &records[i]
		a, ok := accountByToken[rec.Token]
		if !ok || rec.Email == "" || a.Email == "" {
			continue
		}
		if strings.EqualFold(rec.Email, a.Email) {
			continue
		}
		issues = append(issues, Issue{
			Kind:       IssueEmailMismatch,
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("account %d email %s differs from identity %s email %s; provider email is authoritative", a.ID, a.Email, rec.Token, rec.Email),
			EntityKind: "account",
			EntityID:   strconv.FormatInt(a.ID, 10),
			Fixable:    true,
			Fix:        &Fix{Action: FixAdoptEmail, AccountID: a.ID, Email: rec.Email, IdentityToken: rec.Token},
		})
	}

	stats := Stats{
		IdentityRecords: len(records),
		Accounts:        len(accounts),
		ByKind:          make(map[string]int),
	}
	ok := true
	for _, is := range issues {
		stats.ByKind[is.Kind]++
		if is.Severity == SeverityError || is.Severity == SeverityCritical {
			ok = false
		}
	}

	report := &Report{
		RunID:       utilities.NewKSUID(),
		GeneratedAt: time.Now().UTC(),
		OK:          ok,
		Issues:      issues,
		Stats:       stats,
	}
	s.logger.Infow("drift scan complete",
		"run_id", report.RunID,
		"identity_records", stats.IdentityRecords,
		"accounts", stats.Accounts,
		"issues", len(issues),
		"ok", ok,
	)
	return report, nil
}
