package token

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

// jwtClaims is the wire form of token claims.
type jwtClaims struct {
	SessionID string   `json:"sid"`
	DeviceID  string   `json:"did"`
	Roles     []string `json:"roles,omitempty"`
	Type      string   `json:"typ"`
	jwt.RegisteredClaims
}

// sessionChain tracks every token descended from one session plus the
// single currently redeemable refresh token id.
type sessionChain struct {
	identityID string
	refreshJTI string
	tokens     map[string]time.Time // jti -> expiry
	revoked    bool
}

// Manager implements the token lifecycle over an HS256-signed JWT
// encoding and a shared revocation set.
type Manager struct {
	secret      []byte
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	revocations RevocationSet
	logger      *slog.Logger
	now         func() time.Time

	// mu serializes rotation and chain bookkeeping. Rotation's
	// check-and-mark must be indivisible: two concurrent rotations of
	// the same refresh token are exactly the race reuse-detection
	// exists to catch.
	mu         sync.Mutex
	chains     map[string]*sessionChain // session id -> chain
	identities map[string][]string      // identity id -> session ids
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
	}
}

// NewManager creates a token manager signing with the given secret.
func NewManager(secret []byte, issuer string, revocations RevocationSet, opts ...Option) (*Manager, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token: signing secret is required: %w", errors.ErrInvalidInput)
	}
	if revocations == nil {
		revocations = NewMemoryRevocationSet()
	}
	m := &Manager{
		secret:      secret,
		issuer:      issuer,
		accessTTL:   15 * time.Minute,
		refreshTTL:  7 * 24 * time.Hour,
		revocations: revocations,
		logger:      slog.Default(),
		now:         time.Now,
		chains:      make(map[string]*sessionChain),
		identities:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue creates an (access, refresh) pair bound to identity and session.
func (m *Manager) Issue(ctx context.Context, identity *models.Identity, session *models.Session) (*models.TokenPair, error) {
	if identity == nil || session == nil {
		return nil, fmt.Errorf("token: identity and session are required: %w", errors.ErrInvalidInput)
	}
	if !identity.Active {
		return nil, fmt.Errorf("token: cannot issue for %s: %w", identity.ID, errors.ErrIdentityInactive)
	}
	if identity.Locked {
		return nil, fmt.Errorf("token: cannot issue for %s: %w", identity.ID, errors.ErrIdentityLocked)
	}

	now := m.now()
	accessJTI := uuid.New().String()
	refreshJTI := uuid.New().String()
	accessExp := now.Add(m.accessTTL)
	refreshExp := now.Add(m.refreshTTL)

	access, err := m.sign(identity, session, accessJTI, models.TokenTypeAccess, now, accessExp)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(identity, session, refreshJTI, models.TokenTypeRefresh, now, refreshExp)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	chain, ok := m.chains[session.ID]
	if !ok {
		chain = &sessionChain{
			identityID: identity.ID,
			tokens:     make(map[string]time.Time),
		}
		m.chains[session.ID] = chain
		m.identities[identity.ID] = append(m.identities[identity.ID], session.ID)
	}
	chain.refreshJTI = refreshJTI
	chain.tokens[accessJTI] = accessExp
	chain.tokens[refreshJTI] = refreshExp
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "token pair issued",
		"identity_id", identity.ID, "session_id", session.ID)

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify validates an access token. The revocation set is consulted
// before the expiry check is trusted: a not-yet-expired but revoked
// token must be rejected even under clock skew.
func (m *Manager) Verify(ctx context.Context, accessToken string) (*models.Claims, error) {
	claims, err := m.decode(accessToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != string(models.TokenTypeAccess) {
		return nil, fmt.Errorf("token: unexpected type %q: %w", claims.Type, errors.ErrTokenMalformed)
	}

	revoked, err := m.revocations.Contains(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("token: revocation lookup: %w", err)
	}
	if revoked {
		return nil, fmt.Errorf("token %s: %w", claims.ID, errors.ErrTokenRevoked)
	}

	if claims.ExpiresAt == nil || m.now().After(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("token %s: %w", claims.ID, errors.ErrTokenExpired)
	}

	return claimsToModel(claims), nil
}

// Rotate redeems a refresh token, invalidating it and issuing a new
// (access, refresh) pair. Redeeming an already-rotated refresh token
// is treated as a theft signal: the entire session chain is revoked
// and a SessionCompromisedError is returned.
func (m *Manager) Rotate(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims, err := m.decode(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != string(models.TokenTypeRefresh) {
		return nil, fmt.Errorf("token: unexpected type %q: %w", claims.Type, errors.ErrTokenMalformed)
	}

	if claims.ExpiresAt == nil || m.now().After(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("token %s: %w", claims.ID, errors.ErrTokenExpired)
	}

	// Look up direct revocation before taking the lock: the set may be
	// backed by a database. A redeemed refresh also lands in the set,
	// but reuse detection below must see it first, so the result is only
	// honored once the token is known to be the chain's current refresh.
	revoked, err := m.revocations.Contains(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("token: revocation lookup: %w", err)
	}

	now := m.now()
	accessJTI := uuid.New().String()
	refreshJTI := uuid.New().String()
	accessExp := now.Add(m.accessTTL)
	refreshExp := now.Add(m.refreshTTL)

	m.mu.Lock()
	chain, ok := m.chains[claims.SessionID]
	if !ok || chain.revoked {
		m.mu.Unlock()
		return nil, fmt.Errorf("token %s: %w", claims.ID, errors.ErrTokenRevoked)
	}
	if chain.refreshJTI != claims.ID {
		// Reuse detected. Revoke every token descended from the
		// session while still holding the lock, so a concurrent
		// rotation cannot slip through.
		expired := m.revokeChainLocked(ctx, claims.SessionID, chain)
		m.mu.Unlock()

		m.logger.WarnContext(ctx, "refresh token reuse detected, session chain revoked",
			"session_id", claims.SessionID, "identity_id", claims.Subject, "revoked_tokens", expired)
		return nil, errors.NewSessionCompromisedError(claims.SessionID, errors.ErrRefreshReused)
	}
	if revoked {
		m.mu.Unlock()
		return nil, fmt.Errorf("token %s: %w", claims.ID, errors.ErrTokenRevoked)
	}
	chain.refreshJTI = refreshJTI
	chain.tokens[accessJTI] = accessExp
	chain.tokens[refreshJTI] = refreshExp
	m.mu.Unlock()

	// The redeemed refresh token is single-use.
	if err := m.revocations.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, fmt.Errorf("token: revoke redeemed refresh: %w", err)
	}

	identity := &models.Identity{ID: claims.Subject, Roles: claims.Roles, Active: true}
	session := &models.Session{ID: claims.SessionID, IdentityID: claims.Subject, DeviceID: claims.DeviceID}

	access, err := m.sign(identity, session, accessJTI, models.TokenTypeAccess, now, accessExp)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(identity, session, refreshJTI, models.TokenTypeRefresh, now, refreshExp)
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "refresh token rotated",
		"identity_id", claims.Subject, "session_id", claims.SessionID)

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Revoke revokes a single token id. Idempotent.
func (m *Manager) Revoke(ctx context.Context, tokenID string) error {
	m.mu.Lock()
	expiry := m.now().Add(m.refreshTTL)
	for _, chain := range m.chains {
		if exp, ok := chain.tokens[tokenID]; ok {
			expiry = exp
			break
		}
	}
	m.mu.Unlock()
	return m.revocations.Add(ctx, tokenID, expiry)
}

// RevokeSession revokes every token descended from a session. Idempotent.
func (m *Manager) RevokeSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	chain, ok := m.chains[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	m.revokeChainLocked(ctx, sessionID, chain)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "session tokens revoked", "session_id", sessionID)
	return nil
}

// RevokeIdentity revokes every live token for an identity across all
// of its sessions.
func (m *Manager) RevokeIdentity(ctx context.Context, identityID string) error {
	m.mu.Lock()
	sessions := m.identities[identityID]
	for _, sid := range sessions {
		if chain, ok := m.chains[sid]; ok {
			m.revokeChainLocked(ctx, sid, chain)
		}
	}
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "identity tokens revoked",
		"identity_id", identityID, "sessions", len(sessions))
	return nil
}

// revokeChainLocked adds every token of the chain to the revocation
// set and marks the chain dead. Caller holds m.mu.
func (m *Manager) revokeChainLocked(ctx context.Context, sessionID string, chain *sessionChain) int {
	chain.revoked = true
	count := 0
	for jti, expiry := range chain.tokens {
		if err := m.revocations.Add(ctx, jti, expiry); err != nil {
			m.logger.ErrorContext(ctx, "failed to revoke token",
				"token_id", jti, "session_id", sessionID, "error", err)
			continue
		}
		count++
	}
	return count
}

func (m *Manager) sign(identity *models.Identity, session *models.Session, jti string, typ models.TokenType, now, exp time.Time) (string, error) {
	claims := jwtClaims{
		SessionID: session.ID,
		DeviceID:  session.DeviceID,
		Roles:     identity.Roles,
		Type:      string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   identity.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// decode parses and signature-checks a token without validating claim
// timestamps; revocation and expiry are checked by the caller in the
// required order.
func (m *Manager) decode(tokenString string) (*jwtClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.ParseWithClaims(tokenString, &jwtClaims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("token: %w", errors.ErrTokenMalformed)
		}
		return nil, fmt.Errorf("token: %v: %w", err, errors.ErrTokenMalformed)
	}
	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("token: %w", errors.ErrTokenMalformed)
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, fmt.Errorf("token: unexpected issuer %q: %w", claims.Issuer, errors.ErrTokenMalformed)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("token: missing claims: %w", errors.ErrTokenMalformed)
	}
	return claims, nil
}

func claimsToModel(c *jwtClaims) *models.Claims {
	out := &models.Claims{
		TokenID:    c.ID,
		IdentityID: c.Subject,
		SessionID:  c.SessionID,
		DeviceID:   c.DeviceID,
		Roles:      c.Roles,
		Type:       models.TokenType(c.Type),
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
