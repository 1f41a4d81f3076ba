package decision

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Harshith2412/zta-finance/internal/risk"
	"github.com/Harshith2412/zta-finance/internal/token"
	"github.com/Harshith2412/zta-finance/internal/trust"
	"github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Request is the context of one enforcement-point request.
type Request struct {
	AccessToken      string                  `json:"access_token"`
	DeviceAttributes models.DeviceAttributes `json:"device_attributes"`
	Resource         string                  `json:"resource"`
	Action           string                  `json:"action"`

	IPAddress          string           `json:"ip_address,omitempty"`
	Location           *models.GeoPoint `json:"location,omitempty"`
	Amount             float64          `json:"amount,omitempty"`
	AnonymizingNetwork bool             `json:"anonymizing_network,omitempty"`
	MFAVerified        bool             `json:"mfa_verified,omitempty"`

	// Attributes carries extra caller-supplied context attributes for
	// policy conditions. Core attributes override entries here.
	Attributes map[string]any `json:"attributes,omitempty"`

	// Timestamp of the request; defaults to the orchestrator clock.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Config holds orchestrator tuning.
type Config struct {
	// DependencyTimeout bounds each collaborator call; on timeout the
	// request fails closed to Deny.
	DependencyTimeout time.Duration
	// VelocityWindow is the lookback for audited request velocity.
	VelocityWindow time.Duration
	// RiskOutcomeThreshold is the risk score at or above which a
	// Deny/Challenge is fed back as an anomaly outcome.
	RiskOutcomeThreshold int
}

// DefaultConfig returns the default orchestrator tuning.
func DefaultConfig() Config {
	return Config{
		DependencyTimeout:    2 * time.Second,
		VelocityWindow:       time.Minute,
		RiskOutcomeThreshold: 60,
	}
}

// Orchestrator is the single entry point invoked once per request.
type Orchestrator struct {
	tokens     token.Lifecycle
	trust      trust.Store
	risk       *risk.Engine
	policy     PolicyEvaluator
	auditor    Auditor
	identities IdentityReader
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator wires the decision sequence.
func NewOrchestrator(
	tokens token.Lifecycle,
	trustStore trust.Store,
	riskEngine *risk.Engine,
	policyEngine PolicyEvaluator,
	auditor Auditor,
	identities IdentityReader,
	cfg Config,
	opts ...Option,
) *Orchestrator {
	if cfg.DependencyTimeout <= 0 {
		cfg.DependencyTimeout = DefaultConfig().DependencyTimeout
	}
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = DefaultConfig().VelocityWindow
	}
	if cfg.RiskOutcomeThreshold <= 0 {
		cfg.RiskOutcomeThreshold = DefaultConfig().RiskOutcomeThreshold
	}
	o := &Orchestrator{
		tokens:     tokens,
		trust:      trustStore,
		risk:       riskEngine,
		policy:     policyEngine,
		auditor:    auditor,
		identities: identities,
		cfg:        cfg,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Evaluate makes the allow/deny/challenge decision for one request.
// It never returns an error: every failure inside the sequence is
// converted to a Deny decision carrying the error kind as its reason,
// so no failure can be mistaken for an Allow.
func (o *Orchestrator) Evaluate(ctx context.Context, req *Request) *models.Decision {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = o.now().UTC()
	}

	claims, err := o.verify(ctx, req.AccessToken)
	if err != nil {
		return o.deny(ctx, req, nil, 0, err)
	}

	session, err := o.touch(ctx, claims.SessionID)
	if err != nil {
		return o.deny(ctx, req, claims, 0, err)
	}

	device, err := o.device(ctx, req.DeviceAttributes, claims.IdentityID)
	if err != nil {
		return o.deny(ctx, req, claims, 0, err)
	}
	fingerprint := device.Fingerprint
	if device.Revoked {
		err := fmt.Errorf("decision: device %s: %w", fingerprint, errors.ErrDeviceRevoked)
		o.recordAnomalyAsync(ctx, device.Fingerprint)
		return o.deny(ctx, req, claims, 0, err)
	}

	anomalies, err := o.observe(ctx, session.ID, fingerprint, req.Location)
	if err != nil {
		return o.deny(ctx, req, claims, 0, err)
	}

	riskCtx, err := o.riskContext(ctx, req, claims, ts, len(anomalies))
	if err != nil {
		return o.deny(ctx, req, claims, 0, err)
	}
	assessment := o.risk.Score(*riskCtx, device, session)

	attrs := o.attributeBag(req, claims, device, assessment.Score)
	result, err := o.policy.Evaluate(req.Resource, req.Action, attrs)
	if err != nil {
		return o.deny(ctx, req, claims, assessment.Score, err)
	}

	dec := &models.Decision{
		Effect:      result.Effect,
		PolicyID:    result.PolicyID,
		RiskScore:   assessment.Score,
		RiskLevel:   assessment.Level,
		Reason:      result.Reason,
		StepUp:      result.StepUp,
		EvaluatedAt: ts,
	}

	o.auditDecision(ctx, req, claims, dec, result.FailedConditions, anomalies)
	o.feedback(ctx, device.Fingerprint, dec, len(anomalies) > 0)

	return dec
}

// verify, touch, device and observe bound their collaborator calls
// and map deadline expiry to ErrDependencyTimeout.

func (o *Orchestrator) verify(ctx context.Context, accessToken string) (*models.Claims, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.DependencyTimeout)
	defer cancel()
	claims, err := o.tokens.Verify(ctx, accessToken)
	return claims, o.mapTimeout(err)
}

func (o *Orchestrator) touch(ctx context.Context, sessionID string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.DependencyTimeout)
	defer cancel()
	session, err := o.trust.Touch(ctx, sessionID)
	return session, o.mapTimeout(err)
}

func (o *Orchestrator) device(ctx context.Context, attrs models.DeviceAttributes, identityID string) (*models.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.DependencyTimeout)
	defer cancel()
	device, err := o.trust.GetOrCreateDevice(ctx, attrs, identityID)
	return device, o.mapTimeout(err)
}

func (o *Orchestrator) observe(ctx context.Context, sessionID, fingerprint string, location *models.GeoPoint) ([]trust.Anomaly, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.DependencyTimeout)
	defer cancel()
	anomalies, err := o.trust.Observe(ctx, sessionID, fingerprint, location)
	return anomalies, o.mapTimeout(err)
}

func (o *Orchestrator) riskContext(ctx context.Context, req *Request, claims *models.Claims, ts time.Time, anomalies int) (*risk.Context, error) {
	rc := &risk.Context{
		Timestamp:          ts,
		IdentityID:         claims.IdentityID,
		Resource:           req.Resource,
		Action:             req.Action,
		IPAddress:          req.IPAddress,
		Location:           req.Location,
		Amount:             req.Amount,
		AnonymizingNetwork: req.AnonymizingNetwork,
		AnomalyCount:       anomalies,
	}

	vctx, cancel := context.WithTimeout(ctx, o.cfg.DependencyTimeout)
	defer cancel()
	stats, err := o.auditor.Velocity(vctx, claims.IdentityID, ts.Add(-o.cfg.VelocityWindow))
	if err != nil {
		return nil, o.mapTimeout(err)
	}
	rc.RecentRequests = stats.Requests
	rc.AnomalyCount += stats.Anomalies

	if o.identities != nil {
		identity, err := o.identities.Get(vctx, claims.IdentityID)
		if err != nil {
			return nil, o.mapTimeout(err)
		}
		if !identity.Active {
			return nil, fmt.Errorf("decision: %w", errors.ErrIdentityInactive)
		}
		if identity.Locked {
			return nil, fmt.Errorf("decision: %w", errors.ErrIdentityLocked)
		}
		rc.FailedAttempts = identity.FailedAttempts
	}
	return rc, nil
}

func (o *Orchestrator) attributeBag(req *Request, claims *models.Claims, device *models.Device, riskScore int) map[string]any {
	attrs := make(map[string]any, len(req.Attributes)+9)
	for k, v := range req.Attributes {
		attrs[k] = v
	}
	attrs["identity_id"] = claims.IdentityID
	attrs["roles"] = claims.Roles
	attrs["resource"] = req.Resource
	attrs["action"] = req.Action
	attrs["risk_score"] = riskScore
	attrs["device_trusted"] = device.Trusted
	attrs["device_trust_score"] = device.TrustScore
	attrs["mfa_verified"] = req.MFAVerified
	attrs["amount"] = req.Amount
	return attrs
}

// deny converts an internal failure into a fail-closed Deny plus an
// error-severity audit event.
func (o *Orchestrator) deny(ctx context.Context, req *Request, claims *models.Claims, riskScore int, err error) *models.Decision {
	reason := errors.Reason(err)
	dec := &models.Decision{
		Effect:      models.EffectDeny,
		RiskScore:   riskScore,
		RiskLevel:   risk.Level(riskScore),
		Reason:      reason,
		EvaluatedAt: o.now().UTC(),
	}

	event := &models.AuditEvent{
		Category: models.AuditCategoryAuthorization,
		Severity: models.AuditSeverityError,
		Action:   "decision.evaluate",
		Resource: req.Resource,
		Outcome:  models.AuditOutcomeError,
		Detail: map[string]any{
			"reason": reason,
			"action": req.Action,
			"error":  err.Error(),
		},
	}
	if claims != nil {
		event.IdentityID = claims.IdentityID
		event.SessionID = claims.SessionID
		event.DeviceID = claims.DeviceID
	}
	if qErr := o.auditor.Enqueue(ctx, event); qErr != nil {
		o.logger.ErrorContext(ctx, "failed to enqueue audit event", "error", qErr)
	}

	o.logger.WarnContext(ctx, "request denied", "reason", reason, "resource", req.Resource, "error", err)
	return dec
}

// auditDecision appends the decision event. The subsequent outcome
// update is enqueued after it, preserving decision -> outcome order
// within this request.
func (o *Orchestrator) auditDecision(ctx context.Context, req *Request, claims *models.Claims, dec *models.Decision, failedConditions []string, anomalies []trust.Anomaly) {
	severity := models.AuditSeverityInfo
	outcome := models.AuditOutcomeSuccess
	switch dec.Effect {
	case models.EffectDeny:
		severity = models.AuditSeverityWarning
		outcome = models.AuditOutcomeDenied
	case models.EffectChallenge:
		severity = models.AuditSeverityWarning
		outcome = models.AuditOutcomeChallenge
	}

	detail := map[string]any{
		"action":     req.Action,
		"policy_id":  dec.PolicyID,
		"reason":     dec.Reason,
		"risk_score": dec.RiskScore,
		"risk_level": dec.RiskLevel,
	}
	if len(failedConditions) > 0 {
		detail["failed_conditions"] = failedConditions
	}
	if len(anomalies) > 0 {
		names := make([]string, len(anomalies))
		for i, a := range anomalies {
			names[i] = string(a)
		}
		detail["anomalies"] = names
	}

	event := &models.AuditEvent{
		Category:   models.AuditCategoryAuthorization,
		Severity:   severity,
		IdentityID: claims.IdentityID,
		SessionID:  claims.SessionID,
		DeviceID:   claims.DeviceID,
		Action:     "decision.evaluate",
		Resource:   req.Resource,
		Outcome:    outcome,
		Detail:     detail,
	}
	if err := o.auditor.Enqueue(ctx, event); err != nil {
		o.logger.ErrorContext(ctx, "failed to enqueue audit event", "error", err)
	}

	if len(anomalies) > 0 {
		security := &models.AuditEvent{
			Category:   models.AuditCategorySecurityEvent,
			Severity:   models.AuditSeverityWarning,
			IdentityID: claims.IdentityID,
			SessionID:  claims.SessionID,
			DeviceID:   claims.DeviceID,
			Action:     "anomaly.detected",
			Resource:   req.Resource,
			Outcome:    models.AuditOutcomeDenied,
			Detail:     map[string]any{"anomalies": detail["anomalies"]},
		}
		if err := o.auditor.Enqueue(ctx, security); err != nil {
			o.logger.ErrorContext(ctx, "failed to enqueue audit event", "error", err)
		}
	}
}

// feedback applies the trust outcome update off the request path.
func (o *Orchestrator) feedback(ctx context.Context, fingerprint string, dec *models.Decision, anomalous bool) {
	var outcome trust.Outcome
	switch {
	case dec.Effect == models.EffectAllow:
		outcome = trust.OutcomeBenign
	case anomalous || dec.RiskScore >= o.cfg.RiskOutcomeThreshold:
		outcome = trust.OutcomeAnomaly
	default:
		return
	}

	go func() {
		rctx, cancel := context.WithTimeout(context.Background(), o.cfg.DependencyTimeout)
		defer cancel()
		if err := o.trust.RecordOutcome(rctx, fingerprint, outcome); err != nil {
			o.logger.ErrorContext(rctx, "failed to record trust outcome",
				"fingerprint", fingerprint, "outcome", string(outcome), "error", err)
		}
	}()
}

func (o *Orchestrator) recordAnomalyAsync(ctx context.Context, fingerprint string) {
	go func() {
		rctx, cancel := context.WithTimeout(context.Background(), o.cfg.DependencyTimeout)
		defer cancel()
		if err := o.trust.RecordOutcome(rctx, fingerprint, trust.OutcomeAnomaly); err != nil {
			o.logger.ErrorContext(rctx, "failed to record trust outcome",
				"fingerprint", fingerprint, "error", err)
		}
	}()
}

func (o *Orchestrator) mapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("decision: %v: %w", err, errors.ErrDependencyTimeout)
	}
	return err
}
