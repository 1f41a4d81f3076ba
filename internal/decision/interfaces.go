// Package decision sequences token verification, trust lookup, risk
// scoring, policy evaluation and audit emission into one fail-closed
// decision per request.
package decision

import (
	"context"
	"time"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/policy"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Auditor is the slice of the audit pipeline the orchestrator needs.
type Auditor interface {
	Enqueue(ctx context.Context, event *models.AuditEvent) error
	Velocity(ctx context.Context, identityID string, since time.Time) (*audit.VelocityStats, error)
}

// IdentityReader resolves identities for risk input.
type IdentityReader interface {
	Get(ctx context.Context, id string) (*models.Identity, error)
}

// PolicyEvaluator is the policy engine contract.
type PolicyEvaluator interface {
	Evaluate(resource, action string, attrs map[string]any) (*policy.Result, error)
}
