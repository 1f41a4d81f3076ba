// Package identity manages identity records and their lockout state.
package identity

import (
	"context"

	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Repository persists identity records.
type Repository interface {
	Create(ctx context.Context, identity *models.Identity) error
	Get(ctx context.Context, id string) (*models.Identity, error)
	GetByUsername(ctx context.Context, username string) (*models.Identity, error)
	Update(ctx context.Context, identity *models.Identity) error
	List(ctx context.Context) ([]*models.Identity, error)
}

// TokenRevoker is the slice of the token lifecycle the manager needs
// when a lockout invalidates an identity's live tokens.
type TokenRevoker interface {
	RevokeIdentity(ctx context.Context, identityID string) error
}

// Manager governs identity registration and lockout.
type Manager interface {
	Register(ctx context.Context, username string, roles []string) (*models.Identity, error)
	Get(ctx context.Context, id string) (*models.Identity, error)
	GetByUsername(ctx context.Context, username string) (*models.Identity, error)
	Activate(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	// RecordFailure bumps the failed-attempt counter; crossing the
	// lockout threshold locks the identity and revokes its tokens.
	RecordFailure(ctx context.Context, id string) error
	// RecordSuccess clears the failed-attempt counter.
	RecordSuccess(ctx context.Context, id string) error
	// Unlock clears a lockout and the counter behind it.
	Unlock(ctx context.Context, id string) error
}
