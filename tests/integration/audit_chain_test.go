package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/pkg/models"
	"github.com/Harshith2412/zta-finance/pkg/postgres"
)

// dbClock matches the microsecond precision of a Postgres TIMESTAMP
// column, keeping test timestamps identical to what the pipeline seals.
func dbClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// TestAuditPipelineOverPostgres runs the audit pipeline against the
// durable event repository: chain continuity across restarts and
// tamper detection on persisted rows.
func TestAuditPipelineOverPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	WithPostgres(t, func(t *testing.T, pg *PostgresContainer) {
		ctx := context.Background()

		db, err := postgres.NewFromDSN(pg.ConnectionString())
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, db.RunMigrations(ctx))

		repo := postgres.NewAuditEventRepository(db)
		sealer, err := audit.NewHMACSealer([]byte("integration-seal-key"))
		require.NoError(t, err)

		enqueue := func(p *audit.Pipeline, n int) {
			t.Helper()
			for i := 0; i < n; i++ {
				require.NoError(t, p.Enqueue(ctx, &models.AuditEvent{
					Category:   models.AuditCategoryAuthorization,
					Severity:   models.AuditSeverityInfo,
					IdentityID: "11111111-1111-1111-1111-111111111111",
					Action:     "decision.evaluate",
					Resource:   "accounts/acc-1",
					Outcome:    models.AuditOutcomeSuccess,
					Detail:     map[string]any{"policy_id": "accounts-read"},
				}))
			}
		}

		pipeline, err := audit.NewPipeline(repo, sealer, 64, audit.WithClock(dbClock))
		require.NoError(t, err)

		enqueue(pipeline, 3)
		pipeline.Close()

		events, err := repo.Query(ctx, audit.QueryParams{})
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "genesis", events[len(events)-1].PrevHash)

		// A fresh pipeline resumes the chain from the persisted tail.
		resumed, err := audit.NewPipeline(repo, sealer, 64, audit.WithClock(dbClock))
		require.NoError(t, err)

		enqueue(resumed, 2)
		resumed.Close()

		events, err = repo.Query(ctx, audit.QueryParams{})
		require.NoError(t, err)
		require.Len(t, events, 5)
		assert.Equal(t, events[2].ChainHash, events[1].PrevHash,
			"first post-restart event links to the persisted tail")

		verifier, err := audit.NewPipeline(repo, sealer, 1, audit.WithClock(dbClock))
		require.NoError(t, err)
		defer verifier.Close()

		ok, err := verifier.VerifyChain(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.True(t, ok)

		// Rewriting a persisted row breaks its integrity tag.
		middle := events[2]
		_, err = db.ExecContext(ctx,
			`UPDATE audit_events SET resource = 'accounts/acc-9' WHERE id = $1`, middle.ID)
		require.NoError(t, err)

		ok, err = verifier.VerifyChain(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.False(t, ok)

		tampered, err := repo.Get(ctx, middle.ID)
		require.NoError(t, err)
		valid, err := verifier.VerifyEvent(ctx, tampered)
		require.NoError(t, err)
		assert.False(t, valid)

		// Tamper-failed events disappear from verified reads.
		verified, err := verifier.Query(ctx, audit.QueryParams{})
		require.NoError(t, err)
		assert.Len(t, verified, 4)
	})
}
