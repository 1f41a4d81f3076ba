package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Harshith2412/zta-finance/internal/api"
	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/decision"
	"github.com/Harshith2412/zta-finance/internal/identity"
	"github.com/Harshith2412/zta-finance/internal/policy"
	"github.com/Harshith2412/zta-finance/internal/risk"
	"github.com/Harshith2412/zta-finance/internal/token"
	"github.com/Harshith2412/zta-finance/internal/trust"
	"github.com/Harshith2412/zta-finance/pkg/models"
	"github.com/Harshith2412/zta-finance/tests/testutil/inmemory"
)

type env struct {
	router   http.Handler
	sessions *inmemory.SessionRepository
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T) *env {
	t.Helper()

	tokens, err := token.NewManager(
		[]byte("test-secret-test-secret-32bytes!"), "zta-test", token.NewMemoryRevocationSet())
	require.NoError(t, err)

	sessions := inmemory.NewSessionRepository()
	trustStore := trust.NewStore(
		inmemory.NewDeviceRepository(), sessions, trust.DefaultConfig())
	identities := identity.NewManager(inmemory.NewIdentityRepository(), tokens)

	sealer, err := audit.NewHMACSealer([]byte("audit-seal-key"))
	require.NoError(t, err)
	pipeline, err := audit.NewPipeline(inmemory.NewAuditRepository(), sealer, 256)
	require.NoError(t, err)
	t.Cleanup(pipeline.Close)

	policyEngine := policy.NewEngine(testLogger())
	require.NoError(t, policyEngine.Load(&models.PolicySnapshot{
		Version: "test-1",
		Policies: []models.Policy{
			{
				ID: "accounts-read", Resource: "accounts", Action: "read",
				Effect: models.EffectAllow,
				Conditions: []models.Condition{
					{Kind: models.ConditionMembership, Attribute: "roles", Values: []any{"trader"}},
					{Kind: models.ConditionThreshold, Attribute: "risk_score", Op: models.OpLessThan, Threshold: 60},
				},
			},
		},
	}))

	orchestrator := decision.NewOrchestrator(
		tokens, trustStore, risk.NewEngine(risk.Config{}), policyEngine,
		pipeline, identities, decision.Config{})

	services := &api.Services{
		Decisions:  orchestrator,
		Tokens:     tokens,
		Trust:      trustStore,
		Identities: identities,
		Audit:      pipeline,
	}
	router := api.NewRouter(&api.RouterConfig{
		Logger:           testLogger(),
		MiddlewareConfig: api.DefaultMiddlewareConfig(),
		ServiceName:      "decision-service-test",
	}, services)

	return &env{router: router, sessions: sessions}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeJSON[api.ErrorResponse](t, w).Error.Code
}

func attrs() models.DeviceAttributes {
	return models.DeviceAttributes{
		UserAgent:        "Mozilla/5.0",
		ScreenResolution: "1920x1080",
		Timezone:         "Europe/Zurich",
		Language:         "en-US",
		Platform:         "MacIntel",
	}
}

// register creates an identity and returns it.
func (e *env) register(t *testing.T, username string, roles []string) *models.Identity {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/identities",
		api.RegisterRequest{Username: username, Roles: roles})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decodeJSON[models.Identity](t, w)
	return &id
}

// issue registers and issues a token pair for username.
func (e *env) issue(t *testing.T, username string) *models.TokenPair {
	t.Helper()
	e.register(t, username, []string{"trader"})
	w := e.do(t, http.MethodPost, "/api/v1/tokens",
		api.IssueRequest{Username: username, DeviceAttributes: attrs()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	pair := decodeJSON[models.TokenPair](t, w)
	return &pair
}

func TestHealthEndpoints(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decodeJSON[api.HealthResponse](t, w).Status)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/live", nil).Code)
}

func TestRegisterIdentity(t *testing.T) {
	e := newEnv(t)

	alice := e.register(t, "alice", []string{"trader"})
	assert.NotEmpty(t, alice.ID)
	assert.True(t, alice.Active)

	w := e.do(t, http.MethodPost, "/api/v1/identities", api.RegisterRequest{Username: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, w))

	w = e.do(t, http.MethodPost, "/api/v1/identities", api.RegisterRequest{Username: "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "duplicate username")
}

func TestRegisterIdentity_UnknownFields(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/identities",
		map[string]any{"username": "bob", "admin": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIssueTokens(t *testing.T) {
	e := newEnv(t)

	pair := e.issue(t, "alice")
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))

	w := e.do(t, http.MethodPost, "/api/v1/tokens",
		api.IssueRequest{Username: "nobody", DeviceAttributes: attrs()})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))

	w = e.do(t, http.MethodPost, "/api/v1/tokens", api.IssueRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluateDecision(t *testing.T) {
	e := newEnv(t)
	pair := e.issue(t, "alice")

	w := e.do(t, http.MethodPost, "/api/v1/decisions", decision.Request{
		AccessToken:      pair.AccessToken,
		DeviceAttributes: attrs(),
		Resource:         "accounts",
		Action:           "read",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	dec := decodeJSON[models.Decision](t, w)
	assert.Equal(t, models.EffectAllow, dec.Effect)
	assert.Equal(t, "accounts-read", dec.PolicyID)
	assert.Equal(t, "low", dec.RiskLevel)
}

func TestEvaluateDecision_Validation(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/decisions", decision.Request{
		AccessToken: "whatever",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, w))
}

func TestEvaluateDecision_FailsClosedOverHTTP(t *testing.T) {
	e := newEnv(t)

	// A bad credential still yields a 200 with a Deny body: the
	// enforcement point always gets a decision, never an error page.
	w := e.do(t, http.MethodPost, "/api/v1/decisions", decision.Request{
		AccessToken:      "not-a-jwt",
		DeviceAttributes: attrs(),
		Resource:         "accounts",
		Action:           "read",
	})
	require.Equal(t, http.StatusOK, w.Code)
	dec := decodeJSON[models.Decision](t, w)
	assert.Equal(t, models.EffectDeny, dec.Effect)
	assert.Equal(t, "token_malformed", dec.Reason)
}

func TestRotateTokens(t *testing.T) {
	e := newEnv(t)
	pair := e.issue(t, "alice")

	w := e.do(t, http.MethodPost, "/api/v1/tokens/rotate",
		api.RotateRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	next := decodeJSON[models.TokenPair](t, w)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// The redeemed refresh token is dead.
	w = e.do(t, http.MethodPost, "/api/v1/tokens/rotate",
		api.RotateRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/tokens/rotate", api.RotateRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRevokeTokens(t *testing.T) {
	e := newEnv(t)
	pair := e.issue(t, "alice")

	w := e.do(t, http.MethodPost, "/api/v1/tokens/revoke", api.RevokeRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/tokens/revoke",
		api.RevokeRequest{TokenID: "a", SessionID: "b"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "at most one selector")

	ident := e.register(t, "bob", []string{"trader"})
	w = e.do(t, http.MethodPost, "/api/v1/tokens/revoke",
		api.RevokeRequest{IdentityID: ident.ID})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/decisions", decision.Request{
		AccessToken:      pair.AccessToken,
		DeviceAttributes: attrs(),
		Resource:         "accounts",
		Action:           "read",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.EffectAllow, decodeJSON[models.Decision](t, w).Effect,
		"revoking one identity leaves another's tokens alone")
}

func TestRevokeSession(t *testing.T) {
	e := newEnv(t)
	pair := e.issue(t, "alice")

	claims := decodeClaims(t, e, pair.AccessToken)
	w := e.do(t, http.MethodPost, "/api/v1/tokens/revoke",
		api.RevokeRequest{SessionID: claims.SessionID})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/decisions", decision.Request{
		AccessToken:      pair.AccessToken,
		DeviceAttributes: attrs(),
		Resource:         "accounts",
		Action:           "read",
	})
	require.Equal(t, http.StatusOK, w.Code)
	dec := decodeJSON[models.Decision](t, w)
	assert.Equal(t, models.EffectDeny, dec.Effect)
	assert.Equal(t, "token_revoked", dec.Reason)

	// The trust-side session dies with its tokens.
	session, err := e.sessions.Get(context.Background(), claims.SessionID)
	require.NoError(t, err)
	assert.True(t, session.Invalidated)
}

func TestRotateTokens_ReplayCompromisesSession(t *testing.T) {
	e := newEnv(t)
	pair := e.issue(t, "alice")
	claims := decodeClaims(t, e, pair.AccessToken)

	w := e.do(t, http.MethodPost, "/api/v1/tokens/rotate",
		api.RotateRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Replaying the redeemed refresh token is reuse: the chain is
	// revoked and the session invalidated.
	w = e.do(t, http.MethodPost, "/api/v1/tokens/rotate",
		api.RotateRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SESSION_COMPROMISED", errorCode(t, w))

	session, err := e.sessions.Get(context.Background(), claims.SessionID)
	require.NoError(t, err)
	assert.True(t, session.Invalidated)
}

func TestRevokeDevice(t *testing.T) {
	e := newEnv(t)
	pair := e.issue(t, "alice")
	fingerprint := trust.Fingerprint(attrs())

	w := e.do(t, http.MethodPost, "/api/v1/devices/"+fingerprint+"/revoke", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Revocation is terminal: the fingerprint can no longer log in.
	w = e.do(t, http.MethodPost, "/api/v1/tokens",
		api.IssueRequest{Username: "alice", DeviceAttributes: attrs()})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, w))

	// Decisions on the revoked device's credentials deny.
	w = e.do(t, http.MethodPost, "/api/v1/decisions", decision.Request{
		AccessToken:      pair.AccessToken,
		DeviceAttributes: attrs(),
		Resource:         "accounts",
		Action:           "read",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.EffectDeny, decodeJSON[models.Decision](t, w).Effect)

	w = e.do(t, http.MethodPost, "/api/v1/devices/unknown-fp/revoke", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
}

// decodeClaims reads the claims out of an access token without
// verifying it; the tests only need the session id.
func decodeClaims(t *testing.T, e *env, accessToken string) *models.Claims {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/decisions", decision.Request{
		AccessToken:      accessToken,
		DeviceAttributes: attrs(),
		Resource:         "accounts",
		Action:           "read",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// The decision endpoint audits the session id; fetch it from the
	// audit trail once the writer has caught up.
	var claims *models.Claims
	require.Eventually(t, func() bool {
		w := e.do(t, http.MethodGet, "/api/v1/audit/events", nil)
		if w.Code != http.StatusOK {
			return false
		}
		resp := decodeJSON[struct {
			Events []*models.AuditEvent `json:"events"`
		}](t, w)
		for _, event := range resp.Events {
			if event.SessionID != "" {
				claims = &models.Claims{SessionID: event.SessionID, IdentityID: event.IdentityID}
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
	return claims
}

func TestIdentityUnlock(t *testing.T) {
	e := newEnv(t)
	alice := e.register(t, "alice", nil)

	w := e.do(t, http.MethodPost, "/api/v1/identities/"+alice.ID+"/unlock", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/identities/unknown-id/unlock", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestListDevices(t *testing.T) {
	e := newEnv(t)
	e.issue(t, "alice")

	w := e.do(t, http.MethodGet, "/api/v1/audit/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)

	alice := e.register(t, "carol", nil)
	w = e.do(t, http.MethodGet, "/api/v1/identities/"+alice.ID+"/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeJSON[struct {
		Devices []*models.Device `json:"devices"`
	}](t, w)
	assert.Empty(t, resp.Devices)
}

func TestAuditEndpoints(t *testing.T) {
	e := newEnv(t)
	pair := e.issue(t, "alice")

	w := e.do(t, http.MethodPost, "/api/v1/decisions", decision.Request{
		AccessToken:      pair.AccessToken,
		DeviceAttributes: attrs(),
		Resource:         "accounts",
		Action:           "read",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// The pipeline appends asynchronously; poll until the event lands.
	require.Eventually(t, func() bool {
		w := e.do(t, http.MethodGet, "/api/v1/audit/events?category=authorization", nil)
		if w.Code != http.StatusOK {
			return false
		}
		resp := decodeJSON[struct {
			Count int `json:"count"`
		}](t, w)
		return resp.Count >= 1
	}, 2*time.Second, 20*time.Millisecond)

	w = e.do(t, http.MethodGet, "/api/v1/audit/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeJSON[struct {
		Intact bool `json:"intact"`
	}](t, w).Intact)

	w = e.do(t, http.MethodGet, "/api/v1/audit/events?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimiting(t *testing.T) {
	e := newEnvWithRateLimit(t, 1, 2)

	first := e.do(t, http.MethodGet, "/api/v1/audit/verify", nil)
	second := e.do(t, http.MethodGet, "/api/v1/audit/verify", nil)
	third := e.do(t, http.MethodGet, "/api/v1/audit/verify", nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "1", third.Header().Get("Retry-After"))

	// Health stays reachable regardless of the limiter.
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", nil).Code)
}

func newEnvWithRateLimit(t *testing.T, limit float64, burst int) *env {
	t.Helper()

	sealer, err := audit.NewHMACSealer([]byte("audit-seal-key"))
	require.NoError(t, err)
	pipeline, err := audit.NewPipeline(inmemory.NewAuditRepository(), sealer, 16)
	require.NoError(t, err)
	t.Cleanup(pipeline.Close)

	cfg := api.DefaultMiddlewareConfig()
	cfg.RateLimit = rate.Limit(limit)
	cfg.RateLimitBurst = burst
	router := api.NewRouter(&api.RouterConfig{
		Logger:           testLogger(),
		MiddlewareConfig: cfg,
		ServiceName:      "decision-service-test",
	}, &api.Services{Audit: pipeline})
	return &env{router: router}
}
