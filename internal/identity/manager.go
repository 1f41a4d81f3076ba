package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

const defaultMaxFailedAttempts = 5

type manager struct {
	repo    Repository
	revoker TokenRevoker
	logger  *slog.Logger
	now     func() time.Time

	maxFailed int

	// Serializes the read-modify-write counter updates per identity.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures the manager.
type Option func(*manager)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(m *manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMaxFailedAttempts sets the lockout threshold.
func WithMaxFailedAttempts(n int) Option {
	return func(m *manager) {
		if n > 0 {
			m.maxFailed = n
		}
	}
}

// NewManager builds an identity manager backed by repo. revoker may be
// nil when token invalidation on lockout is handled elsewhere.
func NewManager(repo Repository, revoker TokenRevoker, opts ...Option) Manager {
	m := &manager{
		repo:      repo,
		revoker:   revoker,
		logger:    slog.Default(),
		now:       time.Now,
		maxFailed: defaultMaxFailedAttempts,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *manager) Register(ctx context.Context, username string, roles []string) (*models.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.NewValidationError("username", "must not be empty")
	}
	if existing, err := m.repo.GetByUsername(ctx, username); err == nil && existing != nil {
		return nil, errors.NewValidationError("username", "already registered")
	}

	now := m.now().UTC()
	identity := &models.Identity{
		ID:        uuid.New().String(),
		Username:  username,
		Roles:     roles,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.repo.Create(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	m.logger.InfoContext(ctx, "identity registered", "identity_id", identity.ID, "username", username)
	return identity, nil
}

func (m *manager) Get(ctx context.Context, id string) (*models.Identity, error) {
	return m.repo.Get(ctx, id)
}

func (m *manager) GetByUsername(ctx context.Context, username string) (*models.Identity, error) {
	return m.repo.GetByUsername(ctx, username)
}

func (m *manager) Activate(ctx context.Context, id string) error {
	return m.update(ctx, id, func(identity *models.Identity) {
		identity.Active = true
	})
}

func (m *manager) Deactivate(ctx context.Context, id string) error {
	err := m.update(ctx, id, func(identity *models.Identity) {
		identity.Active = false
	})
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "identity deactivated", "identity_id", id)
	return nil
}

func (m *manager) RecordFailure(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()

	identity, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	identity.FailedAttempts++
	locking := !identity.Locked && identity.FailedAttempts >= m.maxFailed
	if locking {
		identity.Locked = true
	}
	identity.UpdatedAt = m.now().UTC()
	if err := m.repo.Update(ctx, identity); err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}

	if locking {
		m.logger.WarnContext(ctx, "identity locked after repeated failures",
			"identity_id", id, "failed_attempts", identity.FailedAttempts)
		if m.revoker != nil {
			if err := m.revoker.RevokeIdentity(ctx, id); err != nil {
				return fmt.Errorf("failed to revoke tokens for locked identity: %w", err)
			}
		}
	}
	return nil
}

func (m *manager) RecordSuccess(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()

	identity, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if identity.FailedAttempts == 0 {
		return nil
	}
	identity.FailedAttempts = 0
	identity.UpdatedAt = m.now().UTC()
	if err := m.repo.Update(ctx, identity); err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	return nil
}

func (m *manager) Unlock(ctx context.Context, id string) error {
	err := m.update(ctx, id, func(identity *models.Identity) {
		identity.Locked = false
		identity.FailedAttempts = 0
	})
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "identity unlocked", "identity_id", id)
	return nil
}

func (m *manager) update(ctx context.Context, id string, apply func(*models.Identity)) error {
	unlock := m.lock(id)
	defer unlock()

	identity, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	apply(identity)
	identity.UpdatedAt = m.now().UTC()
	if err := m.repo.Update(ctx, identity); err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	return nil
}
