// Package reconcile detects and repairs drift between the external
// credential provider and the application's account store. The scanner is
// read-only; every repair is an idempotent, uniquely-keyed write, so scans
// and repairs can run concurrently with live traffic.
package reconcile

import (
	"fmt"
	"time"
)

// Severity grades a diagnostic issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Issue kinds. Fixable kinds carry a Fix descriptor; the rest need human
// adjudication because automated resolution risks account confusion or
// takeover.
const (
	IssueMissingAppRecord       = "missing_app_record"
	IssueMissingEmail           = "missing_email"
	IssueDuplicateIdentityEmail = "duplicate_identity_email"
	IssueMissingLink            = "missing_link"
	IssueOrphanAppRecord        = "orphan_app_record"
	IssueUnrecoverableAppRecord = "unrecoverable_app_record"
	IssueEmailMismatch          = "email_mismatch"
)

// Fix actions.
const (
	FixCreateAccount = "create_account"
	FixLinkAccount   = "link_account"
	FixAdoptEmail    = "adopt_email"
)

// Fix describes the corrective action for a fixable issue, carrying
// everything the repair engine needs without re-scanning.
type Fix struct {
	Action        string `json:"action"`
	IdentityToken string `json:"identity_token,omitempty"`
	AccountID     int64  `json:"account_id,omitempty"`
	// CandidateAccountID marks an existing account that matched the orphan
	// identity by email; repair links it instead of creating a new row.
	CandidateAccountID int64  `json:"candidate_account_id,omitempty"`
	Email              string `json:"email,omitempty"`
	Role               string `json:"role,omitempty"`
}

// Issue is one classified inconsistency. Issues are a point-in-time report,
// produced fresh every scan and never persisted.
type Issue struct {
	Kind       string   `json:"kind"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	EntityKind string   `json:"entity_kind"`
	EntityID   string   `json:"entity_id"`
	Fixable    bool     `json:"fixable"`
	Fix        *Fix     `json:"fix,omitempty"`
}

// Stats aggregates scan counts for reporting.
type Stats struct {
	IdentityRecords int            `json:"identity_records"`
	Accounts        int            `json:"accounts"`
	ByKind          map[string]int `json:"by_kind"`
}

// Report is the scanner's result. OK is false iff any issue is error or
// critical.
type Report struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	OK          bool      `json:"ok"`
	Issues      []Issue   `json:"issues"`
	Stats       Stats     `json:"stats"`
}

// Outcome statuses for one applied fix.
const (
	OutcomeFixed        = "fixed"
	OutcomeAlreadyFixed = "already-fixed"
	OutcomeFailed       = "failed"
	OutcomeSkipped      = "skipped"
)

// Outcome records what the repair engine did with one issue.
type Outcome struct {
	Issue  Issue  `json:"issue"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (o Outcome) String() string {
	s := fmt.Sprintf("%s %s/%s: %s", o.Issue.Kind, o.Issue.EntityKind, o.Issue.EntityID, o.Status)
	if o.Detail != "" {
		s += ": " + o.Detail
	}
	return s
}
