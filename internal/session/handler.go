package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/scoutbase/service-identity-go/internal/identity"
)

// Handler exposes HTTP endpoints for the session flows.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeResult(w, http.StatusBadRequest, &Result{Error: "invalid payload"})
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, "login", err)
		return
	}
	h.writeResult(w, http.StatusOK, res)
}

// RegisterRequest signup payload.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		h.writeResult(w, http.StatusBadRequest, &Result{Error: "invalid payload"})
		return
	}
	meta := identity.Metadata{Role: req.Role, FirstName: req.FirstName, LastName: req.LastName}
	res, err := h.svc.Register(r.Context(), req.Email, req.Password, meta)
	if err != nil {
		h.writeError(w, "register", err)
		return
	}
	h.writeResult(w, http.StatusCreated, res)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		h.writeResult(w, http.StatusUnauthorized, &Result{Error: "missing bearer token"})
		return
	}
	res, err := h.svc.Logout(r.Context(), token)
	if err != nil {
		h.writeError(w, "logout", err)
		return
	}
	h.writeResult(w, http.StatusOK, res)
}

func (h *Handler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		h.writeResult(w, http.StatusUnauthorized, &Result{Error: "missing bearer token"})
		return
	}
	res, err := h.svc.WhoAmI(r.Context(), token)
	if err != nil {
		h.writeError(w, "whoami", err)
		return
	}
	h.writeResult(w, http.StatusOK, res)
}

// RefreshRequest refresh payload.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		h.writeResult(w, http.StatusBadRequest, &Result{Error: "invalid payload"})
		return
	}
	res, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, "refresh", err)
		return
	}
	h.writeResult(w, http.StatusOK, res)
}

// writeError maps service and provider errors to status codes. Credential
// errors pass through verbatim; internals are collapsed to a generic
// message.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	h.logger.Debugw(op+" failed", "err", err)
	switch {
	case errors.Is(err, ErrEmailTaken):
		h.writeResult(w, http.StatusConflict, &Result{Error: ErrEmailTaken.Error()})
	case errors.Is(err, ErrMissingFields):
		h.writeResult(w, http.StatusBadRequest, &Result{Error: ErrMissingFields.Error()})
	case errors.Is(err, ErrInvalidRole):
		h.writeResult(w, http.StatusBadRequest, &Result{Error: err.Error()})
	case identity.IsAuth(err):
		h.writeResult(w, http.StatusUnauthorized, &Result{Error: "invalid credentials"})
	case identity.IsTransient(err):
		h.writeResult(w, http.StatusServiceUnavailable, &Result{Error: "identity provider unavailable"})
	default:
		h.logger.Warnw(op+" failed", "err", err)
		h.writeResult(w, http.StatusInternalServerError, &Result{Error: op + " failed"})
	}
}

func (h *Handler) writeResult(w http.ResponseWriter, status int, res *Result) {
	res.Success = status >= 200 && status < 300
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}
