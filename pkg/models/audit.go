package models

import (
	"time"
)

// AuditCategory classifies an audit event.
type AuditCategory string

const (
	AuditCategoryAuthentication AuditCategory = "authentication"
	AuditCategoryAuthorization  AuditCategory = "authorization"
	AuditCategoryDataAccess     AuditCategory = "data_access"
	AuditCategorySecurityEvent  AuditCategory = "security_event"
	AuditCategoryAdminAction    AuditCategory = "admin_action"
	AuditCategoryTrustUpdate    AuditCategory = "trust_update"
)

// AuditSeverity is the severity of an audit event.
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityWarning  AuditSeverity = "warning"
	AuditSeverityError    AuditSeverity = "error"
	AuditSeverityCritical AuditSeverity = "critical"
)

// AuditOutcome is the recorded outcome of the audited action.
type AuditOutcome string

const (
	AuditOutcomeSuccess   AuditOutcome = "success"
	AuditOutcomeDenied    AuditOutcome = "denied"
	AuditOutcomeChallenge AuditOutcome = "challenge"
	AuditOutcomeError     AuditOutcome = "error"
)

// AuditEvent is an immutable record of one audited action. Once
// appended it is never mutated or deleted within the core's lifetime.
type AuditEvent struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Category   AuditCategory  `json:"category"`
	Severity   AuditSeverity  `json:"severity"`
	IdentityID string         `json:"identity_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	DeviceID   string         `json:"device_id,omitempty"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource,omitempty"`
	Outcome    AuditOutcome   `json:"outcome"`
	Detail     map[string]any `json:"detail,omitempty"`

	// IntegrityTag is the keyed hash over the serialized event,
	// computed at append time. PrevHash/ChainHash link the event into
	// the tamper-evident chain.
	IntegrityTag string `json:"integrity_tag,omitempty"`
	PrevHash     string `json:"prev_hash,omitempty"`
	ChainHash    string `json:"chain_hash,omitempty"`
}
