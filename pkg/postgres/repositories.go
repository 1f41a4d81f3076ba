package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

// =============================================================================
// Identity Repository
// =============================================================================

// IdentityRepository implements identity persistence.
type IdentityRepository struct {
	db *DB
}

// NewIdentityRepository creates a new identity repository.
func NewIdentityRepository(db *DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create persists a new identity.
func (r *IdentityRepository) Create(ctx context.Context, identity *models.Identity) error {
	id, err := uuid.Parse(identity.ID)
	if err != nil {
		return fmt.Errorf("invalid identity ID: %w", err)
	}

	roles, err := json.Marshal(identity.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO identities (id, username, roles, active, locked, failed_attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, identity.Username, roles, identity.Active, identity.Locked,
		identity.FailedAttempts, identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

// Get retrieves an identity by ID.
func (r *IdentityRepository) Get(ctx context.Context, id string) (*models.Identity, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid identity ID: %w", err)
	}

	return r.scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT id, username, roles, active, locked, failed_attempts, created_at, updated_at
		 FROM identities WHERE id = $1`, uid))
}

// GetByUsername retrieves an identity by username.
func (r *IdentityRepository) GetByUsername(ctx context.Context, username string) (*models.Identity, error) {
	return r.scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT id, username, roles, active, locked, failed_attempts, created_at, updated_at
		 FROM identities WHERE username = $1`, username))
}

func (r *IdentityRepository) scanIdentity(row *sql.Row) (*models.Identity, error) {
	identity := &models.Identity{}
	var roles []byte
	err := row.Scan(&identity.ID, &identity.Username, &roles, &identity.Active,
		&identity.Locked, &identity.FailedAttempts, &identity.CreatedAt, &identity.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	if err := json.Unmarshal(roles, &identity.Roles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
	}
	return identity, nil
}

// Update updates an existing identity.
func (r *IdentityRepository) Update(ctx context.Context, identity *models.Identity) error {
	id, err := uuid.Parse(identity.ID)
	if err != nil {
		return fmt.Errorf("invalid identity ID: %w", err)
	}

	roles, err := json.Marshal(identity.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET username = $2, roles = $3, active = $4, locked = $5,
		 failed_attempts = $6, updated_at = $7 WHERE id = $1`,
		id, identity.Username, roles, identity.Active, identity.Locked,
		identity.FailedAttempts, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// List returns all identities.
func (r *IdentityRepository) List(ctx context.Context) ([]*models.Identity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, roles, active, locked, failed_attempts, created_at, updated_at
		 FROM identities ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var identities []*models.Identity
	for rows.Next() {
		identity := &models.Identity{}
		var roles []byte
		if err := rows.Scan(&identity.ID, &identity.Username, &roles, &identity.Active,
			&identity.Locked, &identity.FailedAttempts, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		if err := json.Unmarshal(roles, &identity.Roles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

// =============================================================================
// Device Repository
// =============================================================================

// DeviceRepository implements device trust state persistence.
type DeviceRepository struct {
	db *DB
}

// NewDeviceRepository creates a new device repository.
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Create persists a new device.
func (r *DeviceRepository) Create(ctx context.Context, device *models.Device) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (fingerprint, identity_id, trust_score, trusted, revoked, first_seen, last_seen, access_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		device.Fingerprint, device.IdentityID, device.TrustScore, device.Trusted,
		device.Revoked, device.FirstSeen, device.LastSeen, device.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// Get retrieves a device by fingerprint.
func (r *DeviceRepository) Get(ctx context.Context, fingerprint string) (*models.Device, error) {
	device := &models.Device{}
	err := r.db.QueryRowContext(ctx,
		`SELECT fingerprint, identity_id, trust_score, trusted, revoked, first_seen, last_seen, access_count
		 FROM devices WHERE fingerprint = $1`, fingerprint,
	).Scan(&device.Fingerprint, &device.IdentityID, &device.TrustScore, &device.Trusted,
		&device.Revoked, &device.FirstSeen, &device.LastSeen, &device.AccessCount)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

// Update updates an existing device.
func (r *DeviceRepository) Update(ctx context.Context, device *models.Device) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET trust_score = $2, trusted = $3, revoked = $4, last_seen = $5, access_count = $6
		 WHERE fingerprint = $1`,
		device.Fingerprint, device.TrustScore, device.Trusted, device.Revoked,
		device.LastSeen, device.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// ListByIdentity returns all devices registered to an identity.
func (r *DeviceRepository) ListByIdentity(ctx context.Context, identityID string) ([]*models.Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT fingerprint, identity_id, trust_score, trusted, revoked, first_seen, last_seen, access_count
		 FROM devices WHERE identity_id = $1 ORDER BY last_seen DESC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var devices []*models.Device
	for rows.Next() {
		device := &models.Device{}
		if err := rows.Scan(&device.Fingerprint, &device.IdentityID, &device.TrustScore,
			&device.Trusted, &device.Revoked, &device.FirstSeen, &device.LastSeen,
			&device.AccessCount); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// Delete removes a device.
func (r *DeviceRepository) Delete(ctx context.Context, fingerprint string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE fingerprint = $1`, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// =============================================================================
// Session Repository
// =============================================================================

// SessionRepository implements session persistence.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	id, err := uuid.Parse(session.ID)
	if err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	location, err := marshalLocation(session.LastLocation)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, identity_id, device_id, created_at, last_activity, expires_at, invalidated, last_location)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, session.IdentityID, session.DeviceID, session.CreatedAt,
		session.LastActivity, session.ExpiresAt, session.Invalidated, location,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	session := &models.Session{}
	var location []byte
	err = r.db.QueryRowContext(ctx,
		`SELECT id, identity_id, device_id, created_at, last_activity, expires_at, invalidated, last_location
		 FROM sessions WHERE id = $1`, uid,
	).Scan(&session.ID, &session.IdentityID, &session.DeviceID, &session.CreatedAt,
		&session.LastActivity, &session.ExpiresAt, &session.Invalidated, &location)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.LastLocation, err = unmarshalLocation(location); err != nil {
		return nil, err
	}
	return session, nil
}

// Update updates an existing session.
func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	id, err := uuid.Parse(session.ID)
	if err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	location, err := marshalLocation(session.LastLocation)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = $2, expires_at = $3, invalidated = $4, last_location = $5
		 WHERE id = $1`,
		id, session.LastActivity, session.ExpiresAt, session.Invalidated, location,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// ListActiveByIdentity returns the active sessions of an identity.
func (r *SessionRepository) ListActiveByIdentity(ctx context.Context, identityID string) ([]*models.Session, error) {
	return r.listActive(ctx,
		`SELECT id, identity_id, device_id, created_at, last_activity, expires_at, invalidated, last_location
		 FROM sessions WHERE identity_id = $1 AND invalidated = FALSE AND expires_at > NOW()
		 ORDER BY last_activity DESC`, identityID)
}

// ListActiveByDevice returns the active sessions bound to a device.
func (r *SessionRepository) ListActiveByDevice(ctx context.Context, fingerprint string) ([]*models.Session, error) {
	return r.listActive(ctx,
		`SELECT id, identity_id, device_id, created_at, last_activity, expires_at, invalidated, last_location
		 FROM sessions WHERE device_id = $1 AND invalidated = FALSE AND expires_at > NOW()
		 ORDER BY last_activity DESC`, fingerprint)
}

func (r *SessionRepository) listActive(ctx context.Context, query, arg string) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		var location []byte
		if err := rows.Scan(&session.ID, &session.IdentityID, &session.DeviceID,
			&session.CreatedAt, &session.LastActivity, &session.ExpiresAt,
			&session.Invalidated, &location); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if session.LastLocation, err = unmarshalLocation(location); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func marshalLocation(loc *models.GeoPoint) ([]byte, error) {
	if loc == nil {
		return nil, nil
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal location: %w", err)
	}
	return data, nil
}

func unmarshalLocation(data []byte) (*models.GeoPoint, error) {
	if len(data) == 0 {
		return nil, nil
	}
	loc := &models.GeoPoint{}
	if err := json.Unmarshal(data, loc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal location: %w", err)
	}
	return loc, nil
}

// =============================================================================
// Revoked Token Repository
// =============================================================================

// RevokedTokenRepository implements a durable token revocation set.
type RevokedTokenRepository struct {
	db *DB
}

// NewRevokedTokenRepository creates a new revoked token repository.
func NewRevokedTokenRepository(db *DB) *RevokedTokenRepository {
	return &RevokedTokenRepository{db: db}
}

// Add marks a token id revoked until its expiry. Idempotent.
func (r *RevokedTokenRepository) Add(ctx context.Context, tokenID string, expiresAt time.Time) error {
	id, err := uuid.Parse(tokenID)
	if err != nil {
		return fmt.Errorf("invalid token ID: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
		 ON CONFLICT (jti) DO NOTHING`,
		id, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add revoked token: %w", err)
	}
	return nil
}

// Contains reports whether the token id is currently revoked. Expired
// entries are pruned opportunistically.
func (r *RevokedTokenRepository) Contains(ctx context.Context, tokenID string) (bool, error) {
	id, err := uuid.Parse(tokenID)
	if err != nil {
		return false, fmt.Errorf("invalid token ID: %w", err)
	}

	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1 AND expires_at > NOW())`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return exists, nil
}

// Prune removes entries whose expiry has passed.
func (r *RevokedTokenRepository) Prune(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune revoked tokens: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// =============================================================================
// Policy Snapshot Repository
// =============================================================================

// PolicySnapshotRepository persists versioned policy sets.
type PolicySnapshotRepository struct {
	db *DB
}

// NewPolicySnapshotRepository creates a new policy snapshot repository.
func NewPolicySnapshotRepository(db *DB) *PolicySnapshotRepository {
	return &PolicySnapshotRepository{db: db}
}

// Save stores a policy snapshot, replacing any existing one with the
// same version.
func (r *PolicySnapshotRepository) Save(ctx context.Context, snapshot *models.PolicySnapshot) error {
	policies, err := json.Marshal(snapshot.Policies)
	if err != nil {
		return fmt.Errorf("failed to marshal policies: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO policy_snapshots (version, policies, loaded_at) VALUES ($1, $2, $3)
		 ON CONFLICT (version) DO UPDATE SET policies = $2, loaded_at = $3`,
		snapshot.Version, policies, snapshot.LoadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save policy snapshot: %w", err)
	}
	return nil
}

// Get retrieves a policy snapshot by version.
func (r *PolicySnapshotRepository) Get(ctx context.Context, version string) (*models.PolicySnapshot, error) {
	snapshot := &models.PolicySnapshot{}
	var policies []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT version, policies, loaded_at FROM policy_snapshots WHERE version = $1`, version,
	).Scan(&snapshot.Version, &policies, &snapshot.LoadedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy snapshot: %w", err)
	}
	if err := json.Unmarshal(policies, &snapshot.Policies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policies: %w", err)
	}
	return snapshot, nil
}

// Latest retrieves the most recently loaded policy snapshot.
func (r *PolicySnapshotRepository) Latest(ctx context.Context) (*models.PolicySnapshot, error) {
	snapshot := &models.PolicySnapshot{}
	var policies []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT version, policies, loaded_at FROM policy_snapshots ORDER BY loaded_at DESC LIMIT 1`,
	).Scan(&snapshot.Version, &policies, &snapshot.LoadedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest policy snapshot: %w", err)
	}
	if err := json.Unmarshal(policies, &snapshot.Policies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policies: %w", err)
	}
	return snapshot, nil
}

// =============================================================================
// Audit Event Repository
// =============================================================================

// AuditEventRepository implements append-only audit event persistence.
type AuditEventRepository struct {
	db *DB
}

// NewAuditEventRepository creates a new audit event repository.
func NewAuditEventRepository(db *DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

// Create persists a new audit event.
func (r *AuditEventRepository) Create(ctx context.Context, event *models.AuditEvent) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal detail: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, timestamp, category, severity, identity_id, session_id,
		 device_id, action, resource, outcome, detail, integrity_tag, prev_hash, chain_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		event.ID, event.Timestamp, event.Category, event.Severity, event.IdentityID,
		event.SessionID, event.DeviceID, event.Action, event.Resource, event.Outcome,
		detail, event.IntegrityTag, event.PrevHash, event.ChainHash,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit event: %w", err)
	}
	return nil
}

// Get retrieves an audit event by ID.
func (r *AuditEventRepository) Get(ctx context.Context, id string) (*models.AuditEvent, error) {
	return r.scanEvent(r.db.QueryRowContext(ctx,
		`SELECT id, timestamp, category, severity, identity_id, session_id, device_id,
		 action, resource, outcome, detail, integrity_tag, prev_hash, chain_hash
		 FROM audit_events WHERE id = $1`, id))
}

// Latest returns the most recently appended event. ULIDs sort
// lexicographically in append order.
func (r *AuditEventRepository) Latest(ctx context.Context) (*models.AuditEvent, error) {
	return r.scanEvent(r.db.QueryRowContext(ctx,
		`SELECT id, timestamp, category, severity, identity_id, session_id, device_id,
		 action, resource, outcome, detail, integrity_tag, prev_hash, chain_hash
		 FROM audit_events ORDER BY id DESC LIMIT 1`))
}

func (r *AuditEventRepository) scanEvent(row *sql.Row) (*models.AuditEvent, error) {
	event := &models.AuditEvent{}
	var detail []byte
	err := row.Scan(&event.ID, &event.Timestamp, &event.Category, &event.Severity,
		&event.IdentityID, &event.SessionID, &event.DeviceID, &event.Action,
		&event.Resource, &event.Outcome, &detail, &event.IntegrityTag,
		&event.PrevHash, &event.ChainHash)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &event.Detail); err != nil {
			return nil, fmt.Errorf("failed to unmarshal detail: %w", err)
		}
	}
	return event, nil
}

// Query retrieves audit events matching criteria, newest first.
func (r *AuditEventRepository) Query(ctx context.Context, params audit.QueryParams) ([]*models.AuditEvent, error) {
	query := `SELECT id, timestamp, category, severity, identity_id, session_id, device_id,
		 action, resource, outcome, detail, integrity_tag, prev_hash, chain_hash
		 FROM audit_events WHERE 1=1`
	args := []any{}
	argn := 0

	addArg := func(clause string, value any) {
		argn++
		query += fmt.Sprintf(" AND %s $%d", clause, argn)
		args = append(args, value)
	}

	if params.IdentityID != "" {
		addArg("identity_id =", params.IdentityID)
	}
	if params.SessionID != "" {
		addArg("session_id =", params.SessionID)
	}
	if params.Category != "" {
		addArg("category =", string(params.Category))
	}
	if params.Outcome != "" {
		addArg("outcome =", string(params.Outcome))
	}
	if !params.Since.IsZero() {
		addArg("timestamp >=", params.Since)
	}
	if !params.Until.IsZero() {
		addArg("timestamp <=", params.Until)
	}

	query += " ORDER BY id DESC"
	if params.Limit > 0 {
		argn++
		query += fmt.Sprintf(" LIMIT $%d", argn)
		args = append(args, params.Limit)
	}
	if params.Offset > 0 {
		argn++
		query += fmt.Sprintf(" OFFSET $%d", argn)
		args = append(args, params.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.AuditEvent
	for rows.Next() {
		event := &models.AuditEvent{}
		var detail []byte
		if err := rows.Scan(&event.ID, &event.Timestamp, &event.Category, &event.Severity,
			&event.IdentityID, &event.SessionID, &event.DeviceID, &event.Action,
			&event.Resource, &event.Outcome, &detail, &event.IntegrityTag,
			&event.PrevHash, &event.ChainHash); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &event.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal detail: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
