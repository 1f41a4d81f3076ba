// Package trust maintains per-device and per-session trust state.
package trust

import (
	"context"

	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Outcome is a finalized request outcome fed back into device trust.
type Outcome string

const (
	// OutcomeBenign is a completed access with no anomaly signals.
	OutcomeBenign Outcome = "benign-access"
	// OutcomeAnomaly is a detected anomaly on the request.
	OutcomeAnomaly Outcome = "anomaly-detected"
	// OutcomeRevocation is an explicit administrative revocation.
	// Revocation is terminal: no future outcome can clear it.
	OutcomeRevocation Outcome = "explicit-revocation"
)

// Anomaly names a detected session anomaly.
type Anomaly string

const (
	AnomalyImpossibleTravel Anomaly = "impossible_travel"
	AnomalyDeviceMismatch   Anomaly = "device_mismatch"
)

// DeviceRepository persists device trust state.
type DeviceRepository interface {
	Create(ctx context.Context, device *models.Device) error
	Get(ctx context.Context, fingerprint string) (*models.Device, error)
	Update(ctx context.Context, device *models.Device) error
	ListByIdentity(ctx context.Context, identityID string) ([]*models.Device, error)
	Delete(ctx context.Context, fingerprint string) error
}

// SessionRepository persists session state.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	ListActiveByIdentity(ctx context.Context, identityID string) ([]*models.Session, error)
	ListActiveByDevice(ctx context.Context, fingerprint string) ([]*models.Session, error)
}

// Store is the trust state contract consumed by the orchestrator.
type Store interface {
	// GetOrCreateDevice returns the device for a fingerprint,
	// registering it with the default trust score on first sight.
	GetOrCreateDevice(ctx context.Context, attrs models.DeviceAttributes, identityID string) (*models.Device, error)
	// GetDevice returns a known device.
	GetDevice(ctx context.Context, fingerprint string) (*models.Device, error)
	// RecordOutcome applies the trust score update rule for a
	// finalized request outcome.
	RecordOutcome(ctx context.Context, fingerprint string, outcome Outcome) error
	// ListDevices lists all devices registered to an identity.
	ListDevices(ctx context.Context, identityID string) ([]*models.Device, error)
	// RemoveDevice forgets a device entirely.
	RemoveDevice(ctx context.Context, fingerprint string) error

	// OpenSession creates a session, atomically evicting the
	// least-recently-active one if the identity is at its cap.
	OpenSession(ctx context.Context, identityID, fingerprint string) (*models.Session, error)
	// Touch updates last-activity, failing on dead sessions.
	Touch(ctx context.Context, sessionID string) (*models.Session, error)
	// Invalidate terminates a session.
	Invalidate(ctx context.Context, sessionID string) error

	// Observe checks the current request against the session's bound
	// fingerprint and last known location, recording any anomalies.
	Observe(ctx context.Context, sessionID, fingerprint string, location *models.GeoPoint) ([]Anomaly, error)
}
