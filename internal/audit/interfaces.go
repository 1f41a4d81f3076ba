// Package audit implements the append-only, tamper-evident event
// pipeline.
package audit

import (
	"context"
	"time"

	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Repository defines audit event persistence. Events are append-only:
// there is no update or delete.
type Repository interface {
	// Create persists a new audit event.
	Create(ctx context.Context, event *models.AuditEvent) error
	// Get retrieves an audit event by ID.
	Get(ctx context.Context, id string) (*models.AuditEvent, error)
	// Latest returns the most recently appended event, or ErrNotFound.
	Latest(ctx context.Context) (*models.AuditEvent, error)
	// Query retrieves audit events matching criteria, newest first.
	Query(ctx context.Context, params QueryParams) ([]*models.AuditEvent, error)
}

// QueryParams defines audit query parameters.
type QueryParams struct {
	IdentityID string
	SessionID  string
	Category   models.AuditCategory
	Outcome    models.AuditOutcome
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Sealer computes and verifies integrity tags using key material the
// core does not hold itself.
type Sealer interface {
	// Seal returns the integrity tag for a serialized event.
	Seal(ctx context.Context, payload []byte) (string, error)
	// Verify checks a tag against a serialized event.
	Verify(ctx context.Context, payload []byte, tag string) (bool, error)
}

// Sink receives finalized events for external persistence or
// forwarding.
type Sink interface {
	// Emit hands a finalized event to the external collaborator.
	Emit(ctx context.Context, event *models.AuditEvent) error
}

// VelocityStats summarizes an identity's recent audited activity,
// used as risk input. Only events with valid integrity tags are
// counted.
type VelocityStats struct {
	Requests  int
	Anomalies int
	Denied    int
}
