// Package api is the enforcement point: the thin HTTP surface over the
// decision core. Handlers carry no business logic.
package api

import (
	"context"
	"time"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/decision"
	"github.com/Harshith2412/zta-finance/internal/identity"
	"github.com/Harshith2412/zta-finance/internal/token"
	"github.com/Harshith2412/zta-finance/internal/trust"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Evaluator makes access decisions.
type Evaluator interface {
	Evaluate(ctx context.Context, req *decision.Request) *models.Decision
}

// AuditReader is the audit surface exposed over HTTP.
type AuditReader interface {
	Query(ctx context.Context, params audit.QueryParams) ([]*models.AuditEvent, error)
	VerifyChain(ctx context.Context, since, until time.Time) (bool, error)
}

// Services holds all service dependencies for the enforcement point.
type Services struct {
	Decisions  Evaluator
	Tokens     token.Lifecycle
	Trust      trust.Store
	Identities identity.Manager
	Audit      AuditReader
}
