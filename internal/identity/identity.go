// Package identity defines the contract with the external credential
// provider. Implementations live in subpackages; callers only see facts
// about identities and sessions, never provider wire formats.
package identity

import (
	"context"
	"encoding/json"
	"time"
)

// Record is a normalized identity held by the credential provider. It
// contains facts only, no decisions.
type Record struct {
	Token     string    `json:"token"`      // opaque unique identifier, UUID-shaped, immutable
	Email     string    `json:"email"`      // may be empty or shared across records (both anomalies)
	Meta      Metadata  `json:"metadata"`   // sign-up metadata
	CreatedAt time.Time `json:"created_at"` //
}

// Metadata carries the sign-up hints the application cares about. Unknown
// keys survive round-trips in Extra instead of a fully dynamic bag.
type Metadata struct {
	Role      string
	FirstName string
	LastName  string
	Extra     map[string]string
}

// Session is an issued credential pair. The service hands it straight back
// to the caller and never stores it.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Provider is the credential store contract. ListAll and GetByToken are
// administrative and only used by reconciliation, never the request path.
type Provider interface {
	SignIn(ctx context.Context, email, secret string) (*Record, *Session, error)
	SignUp(ctx context.Context, email, secret string, meta Metadata) (*Record, *Session, error)
	Verify(ctx context.Context, accessToken string) (*Record, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	ListAll(ctx context.Context) ([]Record, error)
	GetByToken(ctx context.Context, token string) (*Record, error)
}

const (
	metaKeyRole      = "role"
	metaKeyFirstName = "first_name"
	metaKeyLastName  = "last_name"
)

// MarshalJSON flattens known fields and Extra into a single object, the
// shape providers store under user metadata.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Role != "" {
		out[metaKeyRole] = m.Role
	}
	if m.FirstName != "" {
		out[metaKeyFirstName] = m.FirstName
	}
	if m.LastName != "" {
		out[metaKeyLastName] = m.LastName
	}
	return json.Marshal(out)
}

// UnmarshalJSON pulls out the known keys and keeps the rest in Extra.
// Non-string values are dropped; the boundary is where dynamic provider
// metadata gets validated into a closed shape.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Metadata{}
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case metaKeyRole:
			m.Role = s
		case metaKeyFirstName:
			m.FirstName = s
		case metaKeyLastName:
			m.LastName = s
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[k] = s
		}
	}
	return nil
}
