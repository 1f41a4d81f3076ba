package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/pkg/models"
)

// noon keeps time_of_day out of the picture unless a test wants it.
var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func neutralContext() Context {
	return Context{
		Timestamp:  noon,
		IdentityID: "id-1",
		Resource:   "accounts",
		Action:     "read",
	}
}

func trustedDevice(score int) *models.Device {
	return &models.Device{
		Fingerprint: "fp-1",
		IdentityID:  "id-1",
		TrustScore:  score,
	}
}

func TestScore_NeutralInputs(t *testing.T) {
	engine := NewEngine(Config{})

	a := engine.Score(neutralContext(), trustedDevice(50), nil)

	assert.Equal(t, 0, a.Score)
	assert.Equal(t, "low", a.Level)
	assert.Empty(t, a.Factors, "neutral factors should not be reported")
}

func TestScore_Deterministic(t *testing.T) {
	engine := NewEngine(Config{})

	rc := neutralContext()
	rc.Amount = 15000
	rc.AnomalyCount = 1
	device := trustedDevice(20)

	first := engine.Score(rc, device, nil)
	second := engine.Score(rc, device, nil)

	assert.Equal(t, first, second)
}

func TestScore_DistrustedDeviceWithAnomalies(t *testing.T) {
	engine := NewEngine(Config{})

	rc := neutralContext()
	rc.AnomalyCount = 2

	// Trust 10 of neutral 50 scores the factor at 80; two anomalies
	// saturate geo_anomaly. 80*45/100 + 100*35/100 = 36 + 35.
	a := engine.Score(rc, trustedDevice(10), nil)

	assert.Equal(t, 71, a.Score)
	assert.Equal(t, "high", a.Level)

	names := make(map[string]FactorScore, len(a.Factors))
	for _, f := range a.Factors {
		names[f.Name] = f
	}
	require.Contains(t, names, FactorDeviceTrust)
	require.Contains(t, names, FactorGeoAnomaly)
	assert.Equal(t, 36, names[FactorDeviceTrust].Contribution)
	assert.Equal(t, 35, names[FactorGeoAnomaly].Contribution)
}

func TestScore_MissingDeviceIsMaximallyRisky(t *testing.T) {
	engine := NewEngine(Config{})

	a := engine.Score(neutralContext(), nil, nil)

	assert.Equal(t, 45, a.Score, "unknown device contributes its full weight")
	assert.Equal(t, "medium", a.Level)
}

func TestScore_RevokedDevice(t *testing.T) {
	engine := NewEngine(Config{})

	device := trustedDevice(90)
	device.Revoked = true

	a := engine.Score(neutralContext(), device, nil)

	assert.Equal(t, 45, a.Score, "revocation overrides a high trust score")
}

func TestScore_ClampedAtHundred(t *testing.T) {
	engine := NewEngine(Config{})

	rc := neutralContext()
	rc.Timestamp = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	rc.Amount = 50000
	rc.AnonymizingNetwork = true
	rc.AnomalyCount = 3
	rc.RecentRequests = 31
	rc.FailedAttempts = 3

	a := engine.Score(rc, nil, nil)

	assert.Equal(t, 100, a.Score)
	assert.Equal(t, "critical", a.Level)
	for _, f := range a.Factors {
		assert.LessOrEqual(t, f.Score, 100, "factor %s not normalized", f.Name)
	}
}

func TestScore_TransactionAmount(t *testing.T) {
	engine := NewEngine(Config{})

	rc := neutralContext()
	rc.Amount = 10000
	a := engine.Score(rc, trustedDevice(50), nil)
	assert.Equal(t, 0, a.Score, "amount at the threshold is not risky")

	// 20000 is one full threshold over: factor 100, weight 25.
	rc.Amount = 20000
	a = engine.Score(rc, trustedDevice(50), nil)
	assert.Equal(t, 25, a.Score)

	// An amount large enough to overflow a float-to-int conversion
	// still saturates the factor instead of wrapping negative.
	rc.Amount = 1e18
	a = engine.Score(rc, trustedDevice(50), nil)
	assert.Equal(t, 25, a.Score)
}

func TestScore_RequestVelocity(t *testing.T) {
	engine := NewEngine(Config{})

	rc := neutralContext()
	rc.RecentRequests = 30
	a := engine.Score(rc, trustedDevice(50), nil)
	assert.Equal(t, 0, a.Score)

	rc.RecentRequests = 31
	a = engine.Score(rc, trustedDevice(50), nil)
	assert.Equal(t, 25, a.Score)
}

func TestScore_TimeOfDay(t *testing.T) {
	engine := NewEngine(Config{})

	cases := []struct {
		hour int
		want int
	}{
		{0, 0},
		{1, 15},
		{5, 15},
		{6, 0},
	}
	for _, tc := range cases {
		rc := neutralContext()
		rc.Timestamp = time.Date(2026, 3, 10, tc.hour, 30, 0, 0, time.UTC)
		a := engine.Score(rc, trustedDevice(50), nil)
		assert.Equal(t, tc.want, a.Score, "hour %d", tc.hour)
	}
}

func TestScore_FailedAttempts(t *testing.T) {
	engine := NewEngine(Config{})

	rc := neutralContext()
	rc.FailedAttempts = 1
	a := engine.Score(rc, trustedDevice(50), nil)
	assert.Equal(t, 13, a.Score, "one of three attempts scores 33, weighted 40")

	rc.FailedAttempts = 3
	a = engine.Score(rc, trustedDevice(50), nil)
	assert.Equal(t, 40, a.Score)
}

func TestNewEngine_WeightOverrides(t *testing.T) {
	engine := NewEngine(Config{
		Weights: map[string]int{FactorGeoAnomaly: 10},
	})

	rc := neutralContext()
	rc.AnomalyCount = 1
	a := engine.Score(rc, trustedDevice(50), nil)
	assert.Equal(t, 5, a.Score, "overridden weight applies")

	// Factors absent from the override keep their defaults.
	rc = neutralContext()
	rc.AnonymizingNetwork = true
	a = engine.Score(rc, trustedDevice(50), nil)
	assert.Equal(t, 50, a.Score)
}

func TestLevel(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{0, "low"},
		{29, "low"},
		{30, "medium"},
		{59, "medium"},
		{60, "high"},
		{79, "high"},
		{80, "critical"},
		{100, "critical"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Level(tc.score), "score %d", tc.score)
	}
}
