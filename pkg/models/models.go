// Package models defines the core domain types for the decision core.
package models

import (
	"time"
)

// Identity represents a stable user identity. Identities are never
// deleted, only deactivated.
type Identity struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Roles          []string  `json:"roles"`
	Active         bool      `json:"active"`
	Locked         bool      `json:"locked"`
	FailedAttempts int       `json:"failed_attempts"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DeviceAttributes are the client-supplied attributes a device
// fingerprint is derived from.
type DeviceAttributes struct {
	UserAgent        string `json:"user_agent"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
}

// Device represents a known client device keyed by fingerprint.
// The trust score is only ever adjusted by the trust store's update
// rule, never set directly by the request path.
type Device struct {
	Fingerprint string    `json:"fingerprint"`
	IdentityID  string    `json:"identity_id"`
	TrustScore  int       `json:"trust_score"`
	Trusted     bool      `json:"trusted"`
	Revoked     bool      `json:"revoked"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	AccessCount int64     `json:"access_count"`
}

// GeoPoint is an IP-derived location.
type GeoPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Country   string    `json:"country"`
	City      string    `json:"city"`
	SeenAt    time.Time `json:"seen_at"`
}

// Session represents an authenticated session. The identity and device
// references never change after creation.
type Session struct {
	ID           string    `json:"id"`
	IdentityID   string    `json:"identity_id"`
	DeviceID     string    `json:"device_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	Invalidated  bool      `json:"invalidated"`

	// LastLocation is the most recent IP-derived location observed on
	// this session, used for impossible-travel detection.
	LastLocation *GeoPoint `json:"last_location,omitempty"`
}

// TokenType distinguishes access from refresh credentials.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenPair is an issued (access, refresh) credential pair.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Claims are the verified claims of a decoded credential.
type Claims struct {
	TokenID    string    `json:"jti"`
	IdentityID string    `json:"sub"`
	SessionID  string    `json:"sid"`
	DeviceID   string    `json:"did"`
	Roles      []string  `json:"roles"`
	Type       TokenType `json:"typ"`
	IssuedAt   time.Time `json:"iat"`
	ExpiresAt  time.Time `json:"exp"`
}

// Effect is the outcome of a policy evaluation.
type Effect string

const (
	EffectAllow     Effect = "allow"
	EffectDeny      Effect = "deny"
	EffectChallenge Effect = "challenge"
)

// Restrictiveness orders effects for tie-breaking: Deny beats Challenge
// beats Allow.
func (e Effect) Restrictiveness() int {
	switch e {
	case EffectDeny:
		return 2
	case EffectChallenge:
		return 1
	default:
		return 0
	}
}

// StepUpFactor names an additional verification factor required before
// access is granted on a Challenge decision.
type StepUpFactor string

const (
	StepUpMFA              StepUpFactor = "mfa"
	StepUpReauthentication StepUpFactor = "reauthentication"
	StepUpSecurityQuestion StepUpFactor = "security_question"
)

// ConditionKind tags the closed set of condition variants. Unknown
// kinds are rejected at snapshot load time.
type ConditionKind string

const (
	ConditionEquals     ConditionKind = "equals"
	ConditionMembership ConditionKind = "membership"
	ConditionThreshold  ConditionKind = "threshold"
)

// ThresholdOp is a numeric comparison operator.
type ThresholdOp string

const (
	OpLessThan       ThresholdOp = "lt"
	OpLessOrEqual    ThresholdOp = "le"
	OpGreaterThan    ThresholdOp = "gt"
	OpGreaterOrEqual ThresholdOp = "ge"
)

// Condition is one attribute condition of a policy. Exactly the fields
// for its kind are set: Value for equals, Values for membership,
// Op+Threshold for threshold.
type Condition struct {
	Kind      ConditionKind `json:"kind" yaml:"kind"`
	Attribute string        `json:"attribute" yaml:"attribute"`
	Value     any           `json:"value,omitempty" yaml:"value,omitempty"`
	Values    []any         `json:"values,omitempty" yaml:"values,omitempty"`
	Op        ThresholdOp   `json:"op,omitempty" yaml:"op,omitempty"`
	Threshold float64       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// Policy is one ordered ABAC rule. Policies are immutable at
// evaluation time.
type Policy struct {
	ID         string       `json:"id" yaml:"id"`
	Resource   string       `json:"resource" yaml:"resource"`
	Action     string       `json:"action" yaml:"action"`
	Conditions []Condition  `json:"conditions" yaml:"conditions"`
	Effect     Effect       `json:"effect" yaml:"effect"`
	Priority   int          `json:"priority" yaml:"priority"`
	StepUp     StepUpFactor `json:"step_up,omitempty" yaml:"step_up,omitempty"`
}

// PolicySnapshot is a complete versioned policy set, replaced
// all-or-nothing and never mutated in place.
type PolicySnapshot struct {
	Version  string    `json:"version" yaml:"version"`
	LoadedAt time.Time `json:"loaded_at" yaml:"-"`
	Policies []Policy  `json:"policies" yaml:"policies"`
}

// Decision is the output of one evaluation. It is ephemeral: audited,
// never persisted by the core itself.
type Decision struct {
	Effect      Effect       `json:"effect"`
	PolicyID    string       `json:"policy_id,omitempty"`
	RiskScore   int          `json:"risk_score"`
	RiskLevel   string       `json:"risk_level"`
	Reason      string       `json:"reason"`
	StepUp      StepUpFactor `json:"step_up,omitempty"`
	EvaluatedAt time.Time    `json:"evaluated_at"`
}

// Allowed reports whether the decision grants access.
func (d *Decision) Allowed() bool {
	return d.Effect == EffectAllow
}
