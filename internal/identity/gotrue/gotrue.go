// Package gotrue implements the identity.Provider contract against a
// GoTrue-compatible credential API (the kind Supabase exposes).
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/scoutbase/service-identity-go/internal/identity"
)

type Config struct {
	BaseURL    string
	AnonKey    string
	ServiceKey string // required for admin list/lookup
	JWTSecret  string // when set, access tokens verify locally (HS256)
	Timeout    time.Duration
}

// ConfigFromEnv reads provider config from environment variables.
func ConfigFromEnv() Config {
	timeout := 10 * time.Second
	if v := os.Getenv("IDENTITY_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}
	return Config{
		BaseURL:    os.Getenv("IDENTITY_URL"),
		AnonKey:    os.Getenv("IDENTITY_ANON_KEY"),
		ServiceKey: os.Getenv("IDENTITY_SERVICE_KEY"),
		JWTSecret:  os.Getenv("IDENTITY_JWT_SECRET"),
		Timeout:    timeout,
	}
}

// Client talks to the remote provider. It holds no state beyond config and
// an http.Client with a bounded timeout.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.SugaredLogger
}

func New(cfg Config, logger *zap.SugaredLogger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}, logger: logger}
}

var _ identity.Provider = (*Client)(nil)

// wireUser is the provider's user representation.
type wireUser struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	UserMetadata identity.Metadata `json:"user_metadata"`
	CreatedAt    time.Time         `json:"created_at"`
}

func (u *wireUser) record() *identity.Record {
	return &identity.Record{Token: u.ID, Email: u.Email, Meta: u.UserMetadata, CreatedAt: u.CreatedAt}
}

type wireSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int       `json:"expires_in"`
	User         *wireUser `json:"user"`
}

func (s *wireSession) session() *identity.Session {
	return &identity.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(s.ExpiresIn) * time.Second),
	}
}

type wireError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Msg         string `json:"msg"`
}

func (e *wireError) message() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Error != "":
		return e.Error
	case e.Msg != "":
		return e.Msg
	}
	return "provider error"
}

func (c *Client) SignIn(ctx context.Context, email, secret string) (*identity.Record, *identity.Session, error) {
	body := map[string]string{"email": email, "password": secret}
	var out wireSession
	if err := c.do(ctx, "sign_in", http.MethodPost, "/token?grant_type=password", c.cfg.AnonKey, "", body, &out); err != nil {
		return nil, nil, err
	}
	if out.User == nil {
		return nil, nil, identity.NewError(identity.KindPermanent, "sign_in", errors.New("no user in token response"))
	}
	return out.User.record(), out.session(), nil
}

func (c *Client) SignUp(ctx context.Context, email, secret string, meta identity.Metadata) (*identity.Record, *identity.Session, error) {
	body := map[string]any{"email": email, "password": secret, "data": meta}
	var out wireSession
	if err := c.do(ctx, "sign_up", http.MethodPost, "/signup", c.cfg.AnonKey, "", body, &out); err != nil {
		return nil, nil, err
	}
	if out.User == nil {
		return nil, nil, identity.NewError(identity.KindPermanent, "sign_up", errors.New("no user in signup response"))
	}
	return out.User.record(), out.session(), nil
}

// Verify resolves an access token to its identity record. With a configured
// JWT secret the token verifies locally; otherwise the provider's /user
// endpoint is consulted.
func (c *Client) Verify(ctx context.Context, accessToken string) (*identity.Record, error) {
	if c.cfg.JWTSecret != "" {
		return c.verifyLocal(accessToken)
	}
	var out wireUser
	if err := c.do(ctx, "verify", http.MethodGet, "/user", c.cfg.AnonKey, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out.record(), nil
}

type accessClaims struct {
	Email        string            `json:"email"`
	UserMetadata identity.Metadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

func (c *Client) verifyLocal(accessToken string) (*identity.Record, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(c.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, identity.NewError(identity.KindAuth, "verify", err)
	}
	return &identity.Record{Token: claims.Subject, Email: claims.Email, Meta: claims.UserMetadata}, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var out wireSession
	if err := c.do(ctx, "refresh", http.MethodPost, "/token?grant_type=refresh_token", c.cfg.AnonKey, "", body, &out); err != nil {
		return nil, err
	}
	return out.session(), nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, "sign_out", http.MethodPost, "/logout", c.cfg.AnonKey, accessToken, nil, nil)
}

const adminPageSize = 100

// ListAll enumerates every identity record via the paged admin endpoint.
// Pages are fetched until a short page; the scanner needs a full snapshot.
func (c *Client) ListAll(ctx context.Context) ([]identity.Record, error) {
	var all []identity.Record
	for page := 1; ; page++ {
		path := fmt.Sprintf("/admin/users?page=%d&per_page=%d", page, adminPageSize)
		var out struct {
			Users []wireUser `json:"users"`
		}
		if err := c.do(ctx, "list_all", http.MethodGet, path, c.cfg.ServiceKey, c.cfg.ServiceKey, nil, &out); err != nil {
			return nil, err
		}
		for i := range out.Users {
			all = append(all, *out.Users[i].record())
		}
		if len(out.Users) < adminPageSize {
			return all, nil
		}
	}
}

func (c *Client) GetByToken(ctx context.Context, token string) (*identity.Record, error) {
	var out wireUser
	path := "/admin/users/" + url.PathEscape(token)
	if err := c.do(ctx, "get_by_token", http.MethodGet, path, c.cfg.ServiceKey, c.cfg.ServiceKey, nil, &out); err != nil {
		return nil, err
	}
	return out.record(), nil
}

// do performs one provider round-trip, decoding into out when non-nil and
// classifying failures into identity error kinds.
func (c *Client) do(ctx context.Context, op, method, path, apiKey, bearer string, body, out any) error {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return identity.NewError(identity.KindPermanent, op, err)
		}
		payload = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, payload)
	if err != nil {
		return identity.NewError(identity.KindPermanent, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("apikey", apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// network failure or timeout
		return identity.NewError(identity.KindTransient, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return identity.NewError(identity.KindPermanent, op, err)
		}
		return nil
	}

	var werr wireError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &werr)
	cause := fmt.Errorf("%s (status %d)", werr.message(), resp.StatusCode)

	kind := identity.KindPermanent
	switch {
	case resp.StatusCode == http.StatusNotFound:
		kind = identity.KindNotFound
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnprocessableEntity:
		kind = identity.KindAuth
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		kind = identity.KindTransient
	}
	if c.logger != nil {
		c.logger.Debugw("provider call failed", "op", op, "status", resp.StatusCode, "kind", kind.String())
	}
	return identity.NewError(kind, op, cause)
}
