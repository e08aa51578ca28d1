package entity

import "time"

// BusinessProfile is the role-specific child record for business accounts,
// keyed 1:1 by the account id. Created lazily; creation is idempotent.
type BusinessProfile struct {
	AccountID    int64     `db:"account_id" json:"account_id"`
	CompanyName  string    `db:"company_name" json:"company_name"`
	ContactEmail string    `db:"contact_email" json:"contact_email"`
	Onboarded    bool      `db:"onboarded" json:"onboarded"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
