// Package token implements the credential lifecycle: issuance,
// verification, rotation and revocation of bearer tokens.
package token

import (
	"context"
	"time"

	"github.com/Harshith2412/zta-finance/pkg/models"
)

// RevocationSet is the shared set of revoked token identifiers.
// Entries are (token_id, expiry) pairs; implementations prune entries
// lazily once their expiry has passed to bound memory.
type RevocationSet interface {
	// Add marks a token id revoked until its expiry. Idempotent.
	Add(ctx context.Context, tokenID string, expiresAt time.Time) error
	// Contains reports whether the token id is currently revoked.
	Contains(ctx context.Context, tokenID string) (bool, error)
}

// Lifecycle is the token lifecycle contract consumed by the
// orchestrator and the enforcement point.
type Lifecycle interface {
	// Issue creates an (access, refresh) pair for an active identity.
	Issue(ctx context.Context, identity *models.Identity, session *models.Session) (*models.TokenPair, error)
	// Verify validates an access token, consulting the revocation set
	// before trusting expiry checks.
	Verify(ctx context.Context, accessToken string) (*models.Claims, error)
	// Rotate redeems a refresh token for a new pair. Reuse of an
	// already-rotated refresh token revokes the whole session chain.
	Rotate(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	// Revoke revokes a single token id. Idempotent.
	Revoke(ctx context.Context, tokenID string) error
	// RevokeSession revokes every token descended from a session.
	RevokeSession(ctx context.Context, sessionID string) error
	// RevokeIdentity revokes every live token for an identity.
	RevokeIdentity(ctx context.Context, identityID string) error
}
