package decision_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/decision"
	"github.com/Harshith2412/zta-finance/internal/policy"
	"github.com/Harshith2412/zta-finance/internal/risk"
	"github.com/Harshith2412/zta-finance/internal/token"
	"github.com/Harshith2412/zta-finance/internal/trust"
	"github.com/Harshith2412/zta-finance/pkg/models"
	"github.com/Harshith2412/zta-finance/tests/testutil/inmemory"
)

// capturingAuditor records enqueued events synchronously and serves
// canned velocity stats, so tests can assert on audit output without
// racing a writer goroutine.
type capturingAuditor struct {
	mu          sync.Mutex
	events      []*models.AuditEvent
	stats       audit.VelocityStats
	velocityErr error
}

func (a *capturingAuditor) Enqueue(_ context.Context, event *models.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *event
	a.events = append(a.events, &cp)
	return nil
}

func (a *capturingAuditor) Velocity(_ context.Context, _ string, _ time.Time) (*audit.VelocityStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.velocityErr != nil {
		return nil, a.velocityErr
	}
	stats := a.stats
	return &stats, nil
}

func (a *capturingAuditor) recorded() []*models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.AuditEvent(nil), a.events...)
}

type identityReader struct {
	mu       sync.Mutex
	identity *models.Identity
	err      error
}

func (r *identityReader) Get(_ context.Context, _ string) (*models.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	cp := *r.identity
	return &cp, nil
}

func testPolicies() *models.PolicySnapshot {
	return &models.PolicySnapshot{
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
			{
				ID: "transfer-challenge", Resource: "transfers", Action: "create",
				Effect: models.EffectChallenge, StepUp: models.StepUpMFA, Priority: 5,
				Conditions: []models.Condition{
					{Kind: models.ConditionThreshold, Attribute: "amount", Op: models.OpGreaterThan, Threshold: 10000},
				},
			},
			{
				ID: "transfer-mfa", Resource: "transfers", Action: "create",
				Effect: models.EffectAllow, Priority: 10,
				Conditions: []models.Condition{
					{Kind: models.ConditionThreshold, Attribute: "amount", Op: models.OpGreaterThan, Threshold: 10000},
					{Kind: models.ConditionEquals, Attribute: "mfa_verified", Value: true},
				},
			},
			{
				ID: "transfer-small", Resource: "transfers", Action: "create",
				Effect: models.EffectAllow, Priority: 1,
				Conditions: []models.Condition{
					{Kind: models.ConditionThreshold, Attribute: "amount", Op: models.OpLessOrEqual, Threshold: 10000},
				},
			},
		},
	}
}

type fixture struct {
	orchestrator *decision.Orchestrator
	tokens       *token.Manager
	store        trust.Store
	devices      *inmemory.DeviceRepository
	auditor      *capturingAuditor
	identities   *identityReader
	identity     *models.Identity
	session      *models.Session
	pair         *models.TokenPair
	fingerprint  string
}

func deviceAttrs() models.DeviceAttributes {
	return models.DeviceAttributes{
		UserAgent:        "Mozilla/5.0",
		ScreenResolution: "1920x1080",
		Timezone:         "Europe/Zurich",
		Language:         "en-US",
		Platform:         "MacIntel",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	tokens, err := token.NewManager(
		[]byte("test-secret-test-secret-32bytes!"), "zta-test", token.NewMemoryRevocationSet())
	require.NoError(t, err)

	devices := inmemory.NewDeviceRepository()
	store := trust.NewStore(devices, inmemory.NewSessionRepository(), trust.DefaultConfig())

	policyEngine := policy.NewEngine(nil)
	require.NoError(t, policyEngine.Load(testPolicies()))

	f := &fixture{
		tokens:  tokens,
		store:   store,
		devices: devices,
		auditor: &capturingAuditor{},
		identity: &models.Identity{
			ID:       "id-1",
			Username: "alice",
			Roles:    []string{"trader"},
			Active:   true,
		},
	}
	f.identities = &identityReader{identity: f.identity}
	f.orchestrator = decision.NewOrchestrator(
		tokens, store, risk.NewEngine(risk.Config{}), policyEngine,
		f.auditor, f.identities, decision.Config{})

	device, err := store.GetOrCreateDevice(ctx, deviceAttrs(), f.identity.ID)
	require.NoError(t, err)
	f.fingerprint = device.Fingerprint

	f.session, err = store.OpenSession(ctx, f.identity.ID, f.fingerprint)
	require.NoError(t, err)

	f.pair, err = tokens.Issue(ctx, f.identity, f.session)
	require.NoError(t, err)
	return f
}

func (f *fixture) request(resource, action string) *decision.Request {
	return &decision.Request{
		AccessToken:      f.pair.AccessToken,
		DeviceAttributes: deviceAttrs(),
		Resource:         resource,
		Action:           action,
	}
}

func (f *fixture) deviceScore() int {
	device, err := f.devices.Get(context.Background(), f.fingerprint)
	if err != nil {
		return -1
	}
	return device.TrustScore
}

func TestEvaluate_Allow(t *testing.T) {
	f := newFixture(t)

	dec := f.orchestrator.Evaluate(context.Background(), f.request("accounts", "read"))

	assert.Equal(t, models.EffectAllow, dec.Effect)
	assert.True(t, dec.Allowed())
	assert.Equal(t, "accounts-read", dec.PolicyID)
	assert.Equal(t, "low", dec.RiskLevel)
	assert.False(t, dec.EvaluatedAt.IsZero())

	events := f.auditor.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditCategoryAuthorization, events[0].Category)
	assert.Equal(t, models.AuditOutcomeSuccess, events[0].Outcome)
	assert.Equal(t, "id-1", events[0].IdentityID)
	assert.Equal(t, f.session.ID, events[0].SessionID)
	assert.Equal(t, "accounts-read", events[0].Detail["policy_id"])

	// The benign outcome lands on the device off the request path.
	assert.Eventually(t, func() bool { return f.deviceScore() == 51 },
		2*time.Second, 10*time.Millisecond)
}

func TestEvaluate_MalformedToken(t *testing.T) {
	f := newFixture(t)

	req := f.request("accounts", "read")
	req.AccessToken = "not-a-jwt"
	dec := f.orchestrator.Evaluate(context.Background(), req)

	assert.Equal(t, models.EffectDeny, dec.Effect)
	assert.Equal(t, "token_malformed", dec.Reason)

	events := f.auditor.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditSeverityError, events[0].Severity)
	assert.Equal(t, models.AuditOutcomeError, events[0].Outcome)
	assert.Empty(t, events[0].IdentityID, "claims are unknown for a bad token")
}

func TestEvaluate_RevokedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claims, err := f.tokens.Verify(ctx, f.pair.AccessToken)
	require.NoError(t, err)
	require.NoError(t, f.tokens.Revoke(ctx, claims.TokenID))

	dec := f.orchestrator.Evaluate(ctx, f.request("accounts", "read"))
	assert.Equal(t, models.EffectDeny, dec.Effect)
	assert.Equal(t, "token_revoked", dec.Reason)
}

func TestEvaluate_InvalidatedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Invalidate(ctx, f.session.ID))

	dec := f.orchestrator.Evaluate(ctx, f.request("accounts", "read"))
	assert.Equal(t, models.EffectDeny, dec.Effect)
	assert.Equal(t, "session_invalidated", dec.Reason)
}

func TestEvaluate_RevokedDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.RecordOutcome(ctx, f.fingerprint, trust.OutcomeRevocation))

	dec := f.orchestrator.Evaluate(ctx, f.request("accounts", "read"))
	assert.Equal(t, models.EffectDeny, dec.Effect)
	assert.Equal(t, "device_revoked", dec.Reason)
}

func TestEvaluate_IdentityState(t *testing.T) {
	t.Run("locked", func(t *testing.T) {
		f := newFixture(t)
		f.identities.mu.Lock()
		f.identities.identity.Locked = true
		f.identities.mu.Unlock()

		dec := f.orchestrator.Evaluate(context.Background(), f.request("accounts", "read"))
		assert.Equal(t, models.EffectDeny, dec.Effect)
		assert.Equal(t, "identity_locked", dec.Reason)
	})

	t.Run("inactive", func(t *testing.T) {
		f := newFixture(t)
		f.identities.mu.Lock()
		f.identities.identity.Active = false
		f.identities.mu.Unlock()

		dec := f.orchestrator.Evaluate(context.Background(), f.request("accounts", "read"))
		assert.Equal(t, models.EffectDeny, dec.Effect)
		assert.Equal(t, "identity_inactive", dec.Reason)
	})
}

func TestEvaluate_ChallengeOnHighValueTransfer(t *testing.T) {
	f := newFixture(t)

	req := f.request("transfers", "create")
	req.Amount = 20000
	dec := f.orchestrator.Evaluate(context.Background(), req)

	assert.Equal(t, models.EffectChallenge, dec.Effect)
	assert.Equal(t, models.StepUpMFA, dec.StepUp)
	assert.Equal(t, "transfer-challenge", dec.PolicyID)

	events := f.auditor.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditOutcomeChallenge, events[0].Outcome)
	assert.Equal(t, models.AuditSeverityWarning, events[0].Severity)
}

func TestEvaluate_MFAClearsChallenge(t *testing.T) {
	f := newFixture(t)

	req := f.request("transfers", "create")
	req.Amount = 20000
	req.MFAVerified = true
	dec := f.orchestrator.Evaluate(context.Background(), req)

	assert.Equal(t, models.EffectAllow, dec.Effect)
	assert.Equal(t, "transfer-mfa", dec.PolicyID)
	assert.Empty(t, dec.StepUp)
}

func TestEvaluate_DefaultDeny(t *testing.T) {
	f := newFixture(t)

	dec := f.orchestrator.Evaluate(context.Background(), f.request("ledger", "delete"))

	assert.Equal(t, models.EffectDeny, dec.Effect)
	assert.Equal(t, "no_matching_policy", dec.Reason)

	events := f.auditor.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditOutcomeDenied, events[0].Outcome)
}

func TestEvaluate_AuditedActivityRaisesRisk(t *testing.T) {
	f := newFixture(t)
	f.auditor.mu.Lock()
	f.auditor.stats = audit.VelocityStats{Requests: 31, Anomalies: 2}
	f.auditor.mu.Unlock()

	// Velocity over threshold contributes 25, two recent anomalies 35:
	// risk 60 fails the accounts-read risk_score condition. A caller
	// cannot talk the core out of it by supplying its own risk_score.
	req := f.request("accounts", "read")
	req.Attributes = map[string]any{"risk_score": 0}
	dec := f.orchestrator.Evaluate(context.Background(), req)

	assert.Equal(t, models.EffectDeny, dec.Effect)
	assert.Equal(t, "conditions_not_met", dec.Reason)
	assert.Equal(t, 60, dec.RiskScore)
	assert.Equal(t, "high", dec.RiskLevel, "risk level reflects the computed score")

	events := f.auditor.recorded()
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Detail, "failed_conditions")

	// Denied at or above the risk threshold feeds back as an anomaly.
	assert.Eventually(t, func() bool { return f.deviceScore() == 30 },
		2*time.Second, 10*time.Millisecond)
}

func TestEvaluate_DependencyTimeout(t *testing.T) {
	f := newFixture(t)
	f.auditor.mu.Lock()
	f.auditor.velocityErr = fmt.Errorf("audit query: %w", context.DeadlineExceeded)
	f.auditor.mu.Unlock()

	dec := f.orchestrator.Evaluate(context.Background(), f.request("accounts", "read"))

	assert.Equal(t, models.EffectDeny, dec.Effect)
	assert.Equal(t, "dependency_timeout", dec.Reason)
}

func TestEvaluate_TravelAnomalyEmitsSecurityEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	zurich := &models.GeoPoint{Latitude: 47.3769, Longitude: 8.5417, City: "Zurich"}
	sydney := &models.GeoPoint{Latitude: -33.8688, Longitude: 151.2093, City: "Sydney"}

	req := f.request("accounts", "read")
	req.Location = zurich
	dec := f.orchestrator.Evaluate(ctx, req)
	require.Equal(t, models.EffectAllow, dec.Effect)

	req = f.request("accounts", "read")
	req.Location = sydney
	dec = f.orchestrator.Evaluate(ctx, req)
	require.Equal(t, models.EffectAllow, dec.Effect, "a single anomaly raises risk but stays under the deny line")

	var security *models.AuditEvent
	for _, event := range f.auditor.recorded() {
		if event.Category == models.AuditCategorySecurityEvent {
			security = event
		}
	}
	require.NotNil(t, security, "impossible travel must be audited")
	assert.Equal(t, "anomaly.detected", security.Action)
	assert.Contains(t, security.Detail["anomalies"], string(trust.AnomalyImpossibleTravel))
}
