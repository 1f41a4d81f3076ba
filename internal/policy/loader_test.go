package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

const sampleSnapshotYAML = `
version: "2026-03-01"
policies:
  - id: high-value-transfer
    resource: transfers
    action: create
    effect: challenge
    step_up: mfa
    priority: 10
    conditions:
      - kind: threshold
        attribute: amount
        op: gt
        threshold: 10000
  - id: trader-read
    resource: accounts/*
    action: read
    effect: allow
    conditions:
      - kind: membership
        attribute: roles
        values: [trader, auditor]
`

func TestParseSnapshot(t *testing.T) {
	snapshot, err := ParseSnapshot([]byte(sampleSnapshotYAML))
	require.NoError(t, err)

	assert.Equal(t, "2026-03-01", snapshot.Version)
	require.Len(t, snapshot.Policies, 2)

	p := snapshot.Policies[0]
	assert.Equal(t, "high-value-transfer", p.ID)
	assert.Equal(t, models.EffectChallenge, p.Effect)
	assert.Equal(t, models.StepUpMFA, p.StepUp)
	assert.Equal(t, 10, p.Priority)
	require.Len(t, p.Conditions, 1)
	assert.Equal(t, models.OpGreaterThan, p.Conditions[0].Op)
	assert.Equal(t, float64(10000), p.Conditions[0].Threshold)
}

func TestParseSnapshot_InvalidYAML(t *testing.T) {
	_, err := ParseSnapshot([]byte("policies: ["))
	var loadErr *errors.PolicyLoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestParseSnapshot_FailsClosed(t *testing.T) {
	// One bad policy rejects the whole snapshot.
	_, err := ParseSnapshot([]byte(`
version: "v1"
policies:
  - id: good
    resource: accounts
    action: read
    effect: allow
  - id: bad
    resource: accounts
    action: read
    effect: maybe
`))
	var loadErr *errors.PolicyLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, err.Error(), "unknown effect")
}

func TestLoadSnapshotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSnapshotYAML), 0o600))

	snapshot, err := LoadSnapshotFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", snapshot.Version)

	_, err = LoadSnapshotFile(filepath.Join(t.TempDir(), "missing.yaml"))
	var loadErr *errors.PolicyLoadError
	require.ErrorAs(t, err, &loadErr)
}
