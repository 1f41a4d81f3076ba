// Package inmemory provides in-memory repository implementations for
// tests. Every store is safe for concurrent use.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

// IdentityRepository is an in-memory identity store.
type IdentityRepository struct {
	mu         sync.RWMutex
	byID       map[string]*models.Identity
	byUsername map[string]string
}

// NewIdentityRepository creates an empty identity store.
func NewIdentityRepository() *IdentityRepository {
	return &IdentityRepository{
		byID:       make(map[string]*models.Identity),
		byUsername: make(map[string]string),
	}
}

func (r *IdentityRepository) Create(_ context.Context, identity *models.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *identity
	r.byID[identity.ID] = &cp
	r.byUsername[identity.Username] = identity.ID
	return nil
}

func (r *IdentityRepository) Get(_ context.Context, id string) (*models.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.byID[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

func (r *IdentityRepository) GetByUsername(ctx context.Context, username string) (*models.Identity, error) {
	r.mu.RLock()
	id, ok := r.byUsername[username]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *IdentityRepository) Update(_ context.Context, identity *models.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[identity.ID]; !ok {
		return errors.ErrNotFound
	}
	cp := *identity
	r.byID[identity.ID] = &cp
	return nil
}

func (r *IdentityRepository) List(_ context.Context) ([]*models.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Identity, 0, len(r.byID))
	for _, identity := range r.byID {
		cp := *identity
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// DeviceRepository is an in-memory device store keyed by fingerprint.
type DeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]*models.Device
}

// NewDeviceRepository creates an empty device store.
func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{devices: make(map[string]*models.Device)}
}

func (r *DeviceRepository) Create(_ context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *device
	r.devices[device.Fingerprint] = &cp
	return nil
}

func (r *DeviceRepository) Get(_ context.Context, fingerprint string) (*models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.devices[fingerprint]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *device
	return &cp, nil
}

func (r *DeviceRepository) Update(_ context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[device.Fingerprint]; !ok {
		return errors.ErrNotFound
	}
	cp := *device
	r.devices[device.Fingerprint] = &cp
	return nil
}

func (r *DeviceRepository) ListByIdentity(_ context.Context, identityID string) ([]*models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Device
	for _, device := range r.devices {
		if device.IdentityID == identityID {
			cp := *device
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

func (r *DeviceRepository) Delete(_ context.Context, fingerprint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[fingerprint]; !ok {
		return errors.ErrNotFound
	}
	delete(r.devices, fingerprint)
	return nil
}

// SessionRepository is an in-memory session store.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	now      func() time.Time
}

// NewSessionRepository creates an empty session store.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]*models.Session),
		now:      time.Now,
	}
}

// SetClock overrides the time source used for active-session checks.
func (r *SessionRepository) SetClock(fn func() time.Time) {
	r.now = fn
}

func (r *SessionRepository) Create(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *SessionRepository) Get(_ context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (r *SessionRepository) Update(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ID]; !ok {
		return errors.ErrNotFound
	}
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *SessionRepository) ListActiveByIdentity(_ context.Context, identityID string) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listActive(func(s *models.Session) bool { return s.IdentityID == identityID }), nil
}

func (r *SessionRepository) ListActiveByDevice(_ context.Context, fingerprint string) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listActive(func(s *models.Session) bool { return s.DeviceID == fingerprint }), nil
}

func (r *SessionRepository) listActive(match func(*models.Session) bool) []*models.Session {
	now := r.now()
	var out []*models.Session
	for _, session := range r.sessions {
		if session.Invalidated || !session.ExpiresAt.After(now) || !match(session) {
			continue
		}
		cp := *session
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.Before(out[j].LastActivity) })
	return out
}

// RevocationSet is an in-memory revoked token set.
type RevocationSet struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewRevocationSet creates an empty revocation set.
func NewRevocationSet() *RevocationSet {
	return &RevocationSet{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (r *RevocationSet) Add(_ context.Context, tokenID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tokenID] = expiresAt
	return nil
}

func (r *RevocationSet) Contains(_ context.Context, tokenID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	expiresAt, ok := r.entries[tokenID]
	if !ok {
		return false, nil
	}
	return expiresAt.After(r.now()), nil
}

// AuditRepository is an in-memory append-only audit store.
type AuditRepository struct {
	mu     sync.RWMutex
	events []*models.AuditEvent
	byID   map[string]*models.AuditEvent
}

// NewAuditRepository creates an empty audit store.
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{byID: make(map[string]*models.AuditEvent)}
}

func (r *AuditRepository) Create(_ context.Context, event *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *event
	r.events = append(r.events, &cp)
	r.byID[event.ID] = &cp
	return nil
}

func (r *AuditRepository) Get(_ context.Context, id string) (*models.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.byID[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *event
	return &cp, nil
}

func (r *AuditRepository) Latest(_ context.Context) (*models.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.events) == 0 {
		return nil, errors.ErrNotFound
	}
	cp := *r.events[len(r.events)-1]
	return &cp, nil
}

func (r *AuditRepository) Query(_ context.Context, params audit.QueryParams) ([]*models.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.AuditEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		event := r.events[i]
		if params.IdentityID != "" && event.IdentityID != params.IdentityID {
			continue
		}
		if params.SessionID != "" && event.SessionID != params.SessionID {
			continue
		}
		if params.Category != "" && event.Category != params.Category {
			continue
		}
		if params.Outcome != "" && event.Outcome != params.Outcome {
			continue
		}
		if !params.Since.IsZero() && event.Timestamp.Before(params.Since) {
			continue
		}
		if !params.Until.IsZero() && event.Timestamp.After(params.Until) {
			continue
		}
		cp := *event
		matched = append(matched, &cp)
	}

	if params.Offset > 0 {
		if params.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[params.Offset:]
	}
	if params.Limit > 0 && len(matched) > params.Limit {
		matched = matched[:params.Limit]
	}
	return matched, nil
}

// Tamper rewrites a stored event's detail in place, bypassing the
// append-only contract. Only useful to exercise integrity checks.
func (r *AuditRepository) Tamper(id string, mutate func(*models.AuditEvent)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.byID[id]
	if !ok {
		return false
	}
	mutate(event)
	return true
}
