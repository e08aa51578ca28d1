package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scoutbase/service-identity-go/internal/identity/local"
	"github.com/scoutbase/service-identity-go/internal/session"
)

func testRoutes(t *testing.T) http.Handler {
	t.Helper()
	sugar := zap.NewNop().Sugar()
	// the routes under test never reach the account store
	svc := session.NewService(local.New(), nil, nil, sugar)
	return RegisterRoutes(sugar, session.NewHandler(svc, sugar))
}

func TestHealthRoute(t *testing.T) {
	h := testRoutes(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/identity-core/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestSecurityAndRequestIDHeaders(t *testing.T) {
	h := testRoutes(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/identity-core/health", nil))

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.NotEmpty(t, rr.Header().Get("X-Request-Id"))
}

func TestInboundRequestIDHonored(t *testing.T) {
	h := testRoutes(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/identity-core/health", nil)
	req.Header.Set("X-Request-Id", "req-123")
	h.ServeHTTP(rr, req)
	require.Equal(t, "req-123", rr.Header().Get("X-Request-Id"))
}
