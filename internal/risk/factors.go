package risk

import (
	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Factor names. Weights are configured per name.
const (
	FactorDeviceTrust        = "device_trust"
	FactorGeoAnomaly         = "geo_anomaly"
	FactorAnonymizingNetwork = "anonymizing_network"
	FactorTransactionAmount  = "transaction_amount"
	FactorRequestVelocity    = "request_velocity"
	FactorTimeOfDay          = "time_of_day"
	FactorFailedAttempts     = "failed_attempts"
)

// factor is one independent contributor. score must return a value in
// [0,100] and read no state beyond its arguments.
type factor struct {
	name  string
	score func(rc Context, device *models.Device, session *models.Session) int
}

func buildFactors(cfg Config) []factor {
	return []factor{
		{
			name: FactorDeviceTrust,
			// A device at or above the neutral score contributes
			// nothing; distrust grows linearly to 100 at score zero.
			// Revoked devices are maximally risky.
			score: func(_ Context, device *models.Device, _ *models.Session) int {
				if device == nil {
					return 100
				}
				if device.Revoked {
					return 100
				}
				if device.TrustScore >= cfg.TrustNeutral {
					return 0
				}
				return (cfg.TrustNeutral - device.TrustScore) * 100 / cfg.TrustNeutral
			},
		},
		{
			name: FactorGeoAnomaly,
			score: func(rc Context, _ *models.Device, _ *models.Session) int {
				return rc.AnomalyCount * 50
			},
		},
		{
			name: FactorAnonymizingNetwork,
			score: func(rc Context, _ *models.Device, _ *models.Session) int {
				if rc.AnonymizingNetwork {
					return 100
				}
				return 0
			},
		},
		{
			name: FactorTransactionAmount,
			score: func(rc Context, _ *models.Device, _ *models.Session) int {
				if rc.Amount <= cfg.AmountThreshold {
					return 0
				}
				// Cap before converting: a very large amount would
				// overflow the float-to-int conversion.
				excess := (rc.Amount - cfg.AmountThreshold) / cfg.AmountThreshold
				if excess >= 1 {
					return 100
				}
				return 50 + int(excess*50)
			},
		},
		{
			name: FactorRequestVelocity,
			score: func(rc Context, _ *models.Device, _ *models.Session) int {
				if rc.RecentRequests <= cfg.VelocityThreshold {
					return 0
				}
				return 100
			},
		},
		{
			name: FactorTimeOfDay,
			score: func(rc Context, _ *models.Device, _ *models.Session) int {
				hour := rc.Timestamp.UTC().Hour()
				if hour >= cfg.UnusualHourStart && hour < cfg.UnusualHourEnd {
					return 100
				}
				return 0
			},
		},
		{
			name: FactorFailedAttempts,
			score: func(rc Context, _ *models.Device, _ *models.Session) int {
				if rc.FailedAttempts <= 0 {
					return 0
				}
				return rc.FailedAttempts * 100 / cfg.FailedAttemptsMax
			},
		},
	}
}
