package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/audit"
	zerrors "github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
	"github.com/Harshith2412/zta-finance/pkg/postgres"
)

// TestPostgresRepositories exercises every repository against a real
// Postgres instance.
func TestPostgresRepositories(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	WithPostgres(t, func(t *testing.T, pg *PostgresContainer) {
		ctx := context.Background()

		db, err := postgres.NewFromDSN(pg.ConnectionString())
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, db.RunMigrations(ctx))

		now := time.Now().UTC().Truncate(time.Millisecond)

		t.Run("identity_crud", func(t *testing.T) {
			repo := postgres.NewIdentityRepository(db)

			identity := &models.Identity{
				ID:        uuid.New().String(),
				Username:  "alice",
				Roles:     []string{"trader", "auditor"},
				Active:    true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			require.NoError(t, repo.Create(ctx, identity))

			got, err := repo.Get(ctx, identity.ID)
			require.NoError(t, err)
			assert.Equal(t, identity.Username, got.Username)
			assert.Equal(t, []string{"trader", "auditor"}, got.Roles)
			assert.True(t, got.Active)
			assert.False(t, got.Locked)

			byName, err := repo.GetByUsername(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, identity.ID, byName.ID)

			got.Locked = true
			got.FailedAttempts = 5
			got.UpdatedAt = now.Add(time.Minute)
			require.NoError(t, repo.Update(ctx, got))

			updated, err := repo.Get(ctx, identity.ID)
			require.NoError(t, err)
			assert.True(t, updated.Locked)
			assert.Equal(t, 5, updated.FailedAttempts)

			list, err := repo.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			_, err = repo.Get(ctx, uuid.New().String())
			assert.ErrorIs(t, err, zerrors.ErrNotFound)

			_, err = repo.GetByUsername(ctx, "nobody")
			assert.ErrorIs(t, err, zerrors.ErrNotFound)

			err = repo.Update(ctx, &models.Identity{ID: uuid.New().String(), Username: "ghost"})
			assert.ErrorIs(t, err, zerrors.ErrNotFound)
		})

		t.Run("device_crud", func(t *testing.T) {
			repo := postgres.NewDeviceRepository(db)
			identityID := uuid.New().String()

			device := &models.Device{
				Fingerprint: "fp-laptop",
				IdentityID:  identityID,
				TrustScore:  50,
				FirstSeen:   now,
				LastSeen:    now,
				AccessCount: 1,
			}
			require.NoError(t, repo.Create(ctx, device))

			got, err := repo.Get(ctx, "fp-laptop")
			require.NoError(t, err)
			assert.Equal(t, identityID, got.IdentityID)
			assert.Equal(t, 50, got.TrustScore)

			got.TrustScore = 72
			got.Trusted = true
			got.LastSeen = now.Add(time.Hour)
			got.AccessCount = 2
			require.NoError(t, repo.Update(ctx, got))

			updated, err := repo.Get(ctx, "fp-laptop")
			require.NoError(t, err)
			assert.Equal(t, 72, updated.TrustScore)
			assert.True(t, updated.Trusted)
			assert.Equal(t, int64(2), updated.AccessCount)

			second := &models.Device{
				Fingerprint: "fp-phone",
				IdentityID:  identityID,
				TrustScore:  50,
				FirstSeen:   now,
				LastSeen:    now.Add(2 * time.Hour),
			}
			require.NoError(t, repo.Create(ctx, second))

			devices, err := repo.ListByIdentity(ctx, identityID)
			require.NoError(t, err)
			require.Len(t, devices, 2)
			assert.Equal(t, "fp-phone", devices[0].Fingerprint)

			require.NoError(t, repo.Delete(ctx, "fp-phone"))
			_, err = repo.Get(ctx, "fp-phone")
			assert.ErrorIs(t, err, zerrors.ErrNotFound)

			err = repo.Delete(ctx, "fp-phone")
			assert.ErrorIs(t, err, zerrors.ErrNotFound)
		})

		t.Run("session_crud", func(t *testing.T) {
			repo := postgres.NewSessionRepository(db)
			identityID := uuid.New().String()

			session := &models.Session{
				ID:           uuid.New().String(),
				IdentityID:   identityID,
				DeviceID:     "fp-laptop",
				CreatedAt:    now,
				LastActivity: now,
				ExpiresAt:    now.Add(30 * time.Minute),
				LastLocation: &models.GeoPoint{
					Latitude:  47.3769,
					Longitude: 8.5417,
					Country:   "CH",
					City:      "Zurich",
					SeenAt:    now,
				},
			}
			require.NoError(t, repo.Create(ctx, session))

			got, err := repo.Get(ctx, session.ID)
			require.NoError(t, err)
			require.NotNil(t, got.LastLocation)
			assert.Equal(t, "Zurich", got.LastLocation.City)
			assert.InDelta(t, 47.3769, got.LastLocation.Latitude, 0.0001)

			active, err := repo.ListActiveByIdentity(ctx, identityID)
			require.NoError(t, err)
			assert.Len(t, active, 1)

			byDevice, err := repo.ListActiveByDevice(ctx, "fp-laptop")
			require.NoError(t, err)
			assert.Len(t, byDevice, 1)

			got.Invalidated = true
			require.NoError(t, repo.Update(ctx, got))

			active, err = repo.ListActiveByIdentity(ctx, identityID)
			require.NoError(t, err)
			assert.Empty(t, active)

			expired := &models.Session{
				ID:           uuid.New().String(),
				IdentityID:   identityID,
				DeviceID:     "fp-laptop",
				CreatedAt:    now.Add(-2 * time.Hour),
				LastActivity: now.Add(-time.Hour),
				ExpiresAt:    now.Add(-30 * time.Minute),
			}
			require.NoError(t, repo.Create(ctx, expired))

			active, err = repo.ListActiveByIdentity(ctx, identityID)
			require.NoError(t, err)
			assert.Empty(t, active)
		})

		t.Run("revoked_tokens", func(t *testing.T) {
			repo := postgres.NewRevokedTokenRepository(db)

			live := uuid.New().String()
			stale := uuid.New().String()

			require.NoError(t, repo.Add(ctx, live, now.Add(time.Hour)))
			require.NoError(t, repo.Add(ctx, live, now.Add(time.Hour))) // idempotent
			require.NoError(t, repo.Add(ctx, stale, now.Add(-time.Hour)))

			revoked, err := repo.Contains(ctx, live)
			require.NoError(t, err)
			assert.True(t, revoked)

			revoked, err = repo.Contains(ctx, stale)
			require.NoError(t, err)
			assert.False(t, revoked, "expired entries no longer revoke")

			revoked, err = repo.Contains(ctx, uuid.New().String())
			require.NoError(t, err)
			assert.False(t, revoked)

			pruned, err := repo.Prune(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), pruned)
		})

		t.Run("policy_snapshots", func(t *testing.T) {
			repo := postgres.NewPolicySnapshotRepository(db)

			v1 := &models.PolicySnapshot{
				Version:  "2026-08-01",
				LoadedAt: now,
				Policies: []models.Policy{{
					ID:       "accounts-read",
					Effect:   models.EffectAllow,
					Resource: "accounts/*",
					Action:   "read",
				}},
			}
			require.NoError(t, repo.Save(ctx, v1))

			v2 := &models.PolicySnapshot{
				Version:  "2026-08-15",
				LoadedAt: now.Add(time.Minute),
				Policies: []models.Policy{{
					ID:       "accounts-read",
					Effect:   models.EffectDeny,
					Resource: "accounts/*",
					Action:   "read",
				}},
			}
			require.NoError(t, repo.Save(ctx, v2))

			got, err := repo.Get(ctx, "2026-08-01")
			require.NoError(t, err)
			require.Len(t, got.Policies, 1)
			assert.Equal(t, models.EffectAllow, got.Policies[0].Effect)

			latest, err := repo.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, "2026-08-15", latest.Version)
			assert.Equal(t, models.EffectDeny, latest.Policies[0].Effect)

			// Re-saving a version replaces its policies.
			v1.Policies[0].Action = "*"
			require.NoError(t, repo.Save(ctx, v1))
			got, err = repo.Get(ctx, "2026-08-01")
			require.NoError(t, err)
			assert.Equal(t, "*", got.Policies[0].Action)

			_, err = repo.Get(ctx, "never-loaded")
			assert.ErrorIs(t, err, zerrors.ErrNotFound)
		})

		t.Run("audit_events", func(t *testing.T) {
			repo := postgres.NewAuditEventRepository(db)

			_, err := repo.Latest(ctx)
			assert.ErrorIs(t, err, zerrors.ErrNotFound)

			identityID := uuid.New().String()
			base := now.Add(-time.Minute)
			ids := []string{
				"01J00000000000000000000001",
				"01J00000000000000000000002",
				"01J00000000000000000000003",
			}

			for i, id := range ids {
				event := &models.AuditEvent{
					ID:           id,
					Timestamp:    base.Add(time.Duration(i) * time.Second),
					Category:     models.AuditCategoryAuthorization,
					Severity:     models.AuditSeverityInfo,
					IdentityID:   identityID,
					Action:       "decision.evaluate",
					Resource:     "accounts/acc-1",
					Outcome:      models.AuditOutcomeSuccess,
					Detail:       map[string]any{"risk_score": float64(i)},
					IntegrityTag: "tag",
					PrevHash:     "prev",
					ChainHash:    "chain",
				}
				if i == 2 {
					event.Outcome = models.AuditOutcomeDenied
					event.Severity = models.AuditSeverityWarning
				}
				require.NoError(t, repo.Create(ctx, event))
			}

			got, err := repo.Get(ctx, ids[0])
			require.NoError(t, err)
			assert.Equal(t, "decision.evaluate", got.Action)
			assert.Equal(t, float64(0), got.Detail["risk_score"])

			latest, err := repo.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, ids[2], latest.ID)

			all, err := repo.Query(ctx, audit.QueryParams{IdentityID: identityID})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, ids[2], all[0].ID, "newest first")

			denied, err := repo.Query(ctx, audit.QueryParams{
				IdentityID: identityID,
				Outcome:    models.AuditOutcomeDenied,
			})
			require.NoError(t, err)
			require.Len(t, denied, 1)
			assert.Equal(t, ids[2], denied[0].ID)

			windowed, err := repo.Query(ctx, audit.QueryParams{
				Since: base.Add(500 * time.Millisecond),
				Until: base.Add(1500 * time.Millisecond),
			})
			require.NoError(t, err)
			require.Len(t, windowed, 1)
			assert.Equal(t, ids[1], windowed[0].ID)

			paged, err := repo.Query(ctx, audit.QueryParams{
				IdentityID: identityID,
				Limit:      1,
				Offset:     1,
			})
			require.NoError(t, err)
			require.Len(t, paged, 1)
			assert.Equal(t, ids[1], paged[0].ID)
		})
	})
}
