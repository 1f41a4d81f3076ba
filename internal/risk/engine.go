// Package risk computes a deterministic 0-100 risk score for a
// request from independent weighted factors.
package risk

import (
	"time"

	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Context carries every input the engine may consult. The engine reads
// no clock beyond Timestamp, so identical inputs always produce the
// same score.
type Context struct {
	Timestamp  time.Time
	IdentityID string
	Resource   string
	Action     string

	IPAddress string
	Location  *models.GeoPoint

	// Amount is the transaction amount for financial actions, zero
	// otherwise.
	Amount float64

	// AnonymizingNetwork is set when the source IP is a known Tor
	// exit or VPN endpoint.
	AnonymizingNetwork bool

	// RecentRequests is the identity's request count inside the
	// velocity window, supplied from the audit stream.
	RecentRequests int

	// AnomalyCount is the number of anomaly signals associated with
	// the request: anomalies detected on this request plus recent
	// anomaly events for the identity.
	AnomalyCount int

	// FailedAttempts is the identity's current failed-attempt counter.
	FailedAttempts int
}

// Config holds risk engine tuning.
type Config struct {
	// Weights maps factor name to weight in [0,100]. Factors missing
	// from the map keep their default weight.
	Weights map[string]int

	TrustNeutral      int
	AmountThreshold   float64
	VelocityThreshold int
	UnusualHourStart  int
	UnusualHourEnd    int
	FailedAttemptsMax int
}

// DefaultConfig returns the default weight profile, which favors
// device trust and anomaly signals over time-of-day.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]int{
			FactorDeviceTrust:        45,
			FactorGeoAnomaly:         35,
			FactorAnonymizingNetwork: 50,
			FactorTransactionAmount:  25,
			FactorRequestVelocity:    25,
			FactorTimeOfDay:          15,
			FactorFailedAttempts:     40,
		},
		TrustNeutral:      50,
		AmountThreshold:   10000,
		VelocityThreshold: 30,
		UnusualHourStart:  1,
		UnusualHourEnd:    6,
		FailedAttemptsMax: 3,
	}
}

// Assessment is the result of one scoring pass.
type Assessment struct {
	Score   int
	Level   string
	Factors []FactorScore
}

// FactorScore is one factor's contribution.
type FactorScore struct {
	Name         string `json:"name"`
	Score        int    `json:"score"`
	Weight       int    `json:"weight"`
	Contribution int    `json:"contribution"`
}

// Engine combines independent factor functions by weighted sum.
type Engine struct {
	cfg     Config
	factors []factor
}

// NewEngine creates a risk engine. Weights from cfg override the
// defaults per factor name.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Weights == nil {
		cfg.Weights = def.Weights
	} else {
		for name, w := range def.Weights {
			if _, ok := cfg.Weights[name]; !ok {
				cfg.Weights[name] = w
			}
		}
	}
	if cfg.TrustNeutral == 0 {
		cfg.TrustNeutral = def.TrustNeutral
	}
	if cfg.AmountThreshold == 0 {
		cfg.AmountThreshold = def.AmountThreshold
	}
	if cfg.VelocityThreshold == 0 {
		cfg.VelocityThreshold = def.VelocityThreshold
	}
	if cfg.UnusualHourEnd == 0 {
		cfg.UnusualHourStart = def.UnusualHourStart
		cfg.UnusualHourEnd = def.UnusualHourEnd
	}
	if cfg.FailedAttemptsMax == 0 {
		cfg.FailedAttemptsMax = def.FailedAttemptsMax
	}
	return &Engine{cfg: cfg, factors: buildFactors(cfg)}
}

// Score evaluates every factor against the supplied inputs, normalizes
// each to [0,100], combines them by weighted sum and clamps the result
// to [0,100]. Pure function of its arguments.
func (e *Engine) Score(rc Context, device *models.Device, session *models.Session) Assessment {
	var total float64
	scores := make([]FactorScore, 0, len(e.factors))

	for _, f := range e.factors {
		s := clamp(f.score(rc, device, session))
		weight := e.cfg.Weights[f.name]
		contribution := s * weight / 100
		total += float64(contribution)
		if s > 0 {
			scores = append(scores, FactorScore{
				Name:         f.name,
				Score:        s,
				Weight:       weight,
				Contribution: contribution,
			})
		}
	}

	final := clamp(int(total))
	return Assessment{
		Score:   final,
		Level:   Level(final),
		Factors: scores,
	}
}

// Level maps a score to a coarse risk level.
func Level(score int) string {
	switch {
	case score < 30:
		return "low"
	case score < 60:
		return "medium"
	case score < 80:
		return "high"
	default:
		return "critical"
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
