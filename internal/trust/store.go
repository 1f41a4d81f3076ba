package trust

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Config holds trust store tuning parameters.
type Config struct {
	DefaultScore      int
	BenignStep        int
	AnomalyStep       int
	TrustFloor        int
	TrustedThreshold  int
	SessionCap        int
	SessionTTL        time.Duration
	MaxTravelSpeedKmh float64
}

// DefaultConfig returns the default trust tuning.
func DefaultConfig() Config {
	return Config{
		DefaultScore:      50,
		BenignStep:        1,
		AnomalyStep:       20,
		TrustFloor:        30,
		TrustedThreshold:  70,
		SessionCap:        5,
		SessionTTL:        30 * time.Minute,
		MaxTravelSpeedKmh: 900,
	}
}

// keyedMutex provides per-key mutual exclusion.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// store implements Store over device and session repositories,
// serializing updates per device, per session and per identity.
type store struct {
	devices  DeviceRepository
	sessions SessionRepository
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	deviceLocks   *keyedMutex
	sessionLocks  *keyedMutex
	identityLocks *keyedMutex
}

// Option configures the store.
type Option func(*store)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a trust state store.
func NewStore(devices DeviceRepository, sessions SessionRepository, cfg Config, opts ...Option) Store {
	s := &store{
		devices:       devices,
		sessions:      sessions,
		cfg:           cfg,
		logger:        slog.Default(),
		now:           time.Now,
		deviceLocks:   newKeyedMutex(),
		sessionLocks:  newKeyedMutex(),
		identityLocks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *store) GetOrCreateDevice(ctx context.Context, attrs models.DeviceAttributes, identityID string) (*models.Device, error) {
	fingerprint := Fingerprint(attrs)
	unlock := s.deviceLocks.lock(fingerprint)
	defer unlock()

	device, err := s.devices.Get(ctx, fingerprint)
	if err == nil {
		return device, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("trust: get device: %w", err)
	}

	now := s.now()
	device = &models.Device{
		Fingerprint: fingerprint,
		IdentityID:  identityID,
		TrustScore:  s.cfg.DefaultScore,
		FirstSeen:   now,
		LastSeen:    now,
	}
	if err := s.devices.Create(ctx, device); err != nil {
		return nil, fmt.Errorf("trust: create device: %w", err)
	}

	s.logger.InfoContext(ctx, "device registered",
		"fingerprint", fingerprint, "identity_id", identityID, "trust_score", device.TrustScore)
	return device, nil
}

func (s *store) GetDevice(ctx context.Context, fingerprint string) (*models.Device, error) {
	device, err := s.devices.Get(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("trust: get device: %w", err)
	}
	return device, nil
}

// RecordOutcome applies the trust update rule. Benign access credits
// one step per access; anomalies subtract a larger step and drop the
// trusted flag below the floor; explicit revocation is terminal.
func (s *store) RecordOutcome(ctx context.Context, fingerprint string, outcome Outcome) error {
	unlock := s.deviceLocks.lock(fingerprint)
	defer unlock()

	device, err := s.devices.Get(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("trust: get device: %w", err)
	}

	now := s.now()
	switch outcome {
	case OutcomeBenign:
		if device.Revoked {
			// Revocation is terminal; a new fingerprint must be
			// registered instead.
			return fmt.Errorf("trust: device %s: %w", fingerprint, errors.ErrDeviceRevoked)
		}
		device.AccessCount++
		device.LastSeen = now
		if device.TrustScore < 100 {
			device.TrustScore = min(100, device.TrustScore+s.cfg.BenignStep)
		}
		if device.TrustScore >= s.cfg.TrustedThreshold {
			device.Trusted = true
		}

	case OutcomeAnomaly:
		device.LastSeen = now
		device.TrustScore = max(0, device.TrustScore-s.cfg.AnomalyStep)
		if device.TrustScore < s.cfg.TrustFloor {
			device.Trusted = false
		}
		s.logger.WarnContext(ctx, "anomaly recorded against device",
			"fingerprint", fingerprint, "trust_score", device.TrustScore)

	case OutcomeRevocation:
		device.TrustScore = 0
		device.Trusted = false
		device.Revoked = true
		// A revoked device cannot hold a trusted session.
		if err := s.invalidateDeviceSessions(ctx, fingerprint); err != nil {
			return err
		}
		s.logger.WarnContext(ctx, "device revoked", "fingerprint", fingerprint)

	default:
		return fmt.Errorf("trust: unknown outcome %q: %w", outcome, errors.ErrInvalidInput)
	}

	if err := s.devices.Update(ctx, device); err != nil {
		return fmt.Errorf("trust: update device: %w", err)
	}
	return nil
}

func (s *store) ListDevices(ctx context.Context, identityID string) ([]*models.Device, error) {
	devices, err := s.devices.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("trust: list devices: %w", err)
	}
	return devices, nil
}

func (s *store) RemoveDevice(ctx context.Context, fingerprint string) error {
	unlock := s.deviceLocks.lock(fingerprint)
	defer unlock()

	if err := s.invalidateDeviceSessions(ctx, fingerprint); err != nil {
		return err
	}
	if err := s.devices.Delete(ctx, fingerprint); err != nil {
		return fmt.Errorf("trust: remove device: %w", err)
	}
	return nil
}

// OpenSession creates a session for (identity, device), holding the
// identity lock across the cap check and the create so concurrent
// logins cannot exceed the cap.
func (s *store) OpenSession(ctx context.Context, identityID, fingerprint string) (*models.Session, error) {
	device, err := s.devices.Get(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("trust: get device: %w", err)
	}
	if device.Revoked {
		return nil, fmt.Errorf("trust: device %s: %w", fingerprint, errors.ErrDeviceRevoked)
	}

	unlock := s.identityLocks.lock(identityID)
	defer unlock()

	active, err := s.sessions.ListActiveByIdentity(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("trust: list sessions: %w", err)
	}

	// Evict least-recently-active sessions down to cap-1. Not an
	// error to the caller.
	if len(active) >= s.cfg.SessionCap {
		sort.Slice(active, func(i, j int) bool {
			return active[i].LastActivity.Before(active[j].LastActivity)
		})
		for _, victim := range active[:len(active)-s.cfg.SessionCap+1] {
			victim.Invalidated = true
			if err := s.sessions.Update(ctx, victim); err != nil {
				return nil, fmt.Errorf("trust: evict session: %w", err)
			}
			s.logger.InfoContext(ctx, "session evicted at cap",
				"session_id", victim.ID, "identity_id", identityID)
		}
	}

	now := s.now()
	session := &models.Session{
		ID:           uuid.New().String(),
		IdentityID:   identityID,
		DeviceID:     fingerprint,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.cfg.SessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("trust: create session: %w", err)
	}

	s.logger.InfoContext(ctx, "session opened",
		"session_id", session.ID, "identity_id", identityID, "fingerprint", fingerprint)
	return session, nil
}

func (s *store) Touch(ctx context.Context, sessionID string) (*models.Session, error) {
	unlock := s.sessionLocks.lock(sessionID)
	defer unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("trust: session %s: %w", sessionID, errors.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("trust: get session: %w", err)
	}
	if session.Invalidated {
		return nil, fmt.Errorf("trust: session %s: %w", sessionID, errors.ErrSessionInvalidated)
	}
	if s.now().After(session.ExpiresAt) {
		session.Invalidated = true
		if err := s.sessions.Update(ctx, session); err != nil {
			return nil, fmt.Errorf("trust: expire session: %w", err)
		}
		return nil, fmt.Errorf("trust: session %s: %w", sessionID, errors.ErrSessionExpired)
	}

	session.LastActivity = s.now()
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("trust: touch session: %w", err)
	}
	return session, nil
}

func (s *store) Invalidate(ctx context.Context, sessionID string) error {
	unlock := s.sessionLocks.lock(sessionID)
	defer unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("trust: get session: %w", err)
	}
	if session.Invalidated {
		return nil
	}
	session.Invalidated = true
	if err := s.sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("trust: invalidate session: %w", err)
	}
	return nil
}

func (s *store) invalidateDeviceSessions(ctx context.Context, fingerprint string) error {
	sessions, err := s.sessions.ListActiveByDevice(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("trust: list device sessions: %w", err)
	}
	for _, session := range sessions {
		session.Invalidated = true
		if err := s.sessions.Update(ctx, session); err != nil {
			return fmt.Errorf("trust: invalidate session: %w", err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return stderrors.Is(err, errors.ErrNotFound)
}
