package trust

import (
	"context"
	"fmt"
	"math"

	"github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

const earthRadiusKm = 6371.0

// Observe checks the current request against the session's bound
// fingerprint and last known location. A session is flagged anomalous
// when the implied travel speed from its last sighting exceeds the
// plausible maximum, or when the device fingerprint differs from the
// one bound at session creation.
func (s *store) Observe(ctx context.Context, sessionID, fingerprint string, location *models.GeoPoint) ([]Anomaly, error) {
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

	var anomalies []Anomaly

	if fingerprint != "" && fingerprint != session.DeviceID {
		anomalies = append(anomalies, AnomalyDeviceMismatch)
		s.logger.WarnContext(ctx, "device fingerprint mismatch",
			"session_id", sessionID, "bound", session.DeviceID, "observed", fingerprint)
	}

	if location != nil {
		if prev := session.LastLocation; prev != nil {
			if impossibleTravel(prev, location, s.cfg.MaxTravelSpeedKmh) {
				anomalies = append(anomalies, AnomalyImpossibleTravel)
				s.logger.WarnContext(ctx, "impossible travel detected",
					"session_id", sessionID,
					"from", prev.Country, "to", location.Country,
					"elapsed", location.SeenAt.Sub(prev.SeenAt).String())
			}
		}
		session.LastLocation = location
		if err := s.sessions.Update(ctx, session); err != nil {
			return nil, fmt.Errorf("trust: update session location: %w", err)
		}
	}

	return anomalies, nil
}

// impossibleTravel reports whether moving between the two sightings
// would require exceeding maxSpeedKmh. A non-positive elapsed time
// with any displacement is treated as impossible.
func impossibleTravel(from, to *models.GeoPoint, maxSpeedKmh float64) bool {
	distance := haversineKm(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	if distance < 1 {
		return false
	}
	elapsed := to.SeenAt.Sub(from.SeenAt).Hours()
	if elapsed <= 0 {
		return true
	}
	return distance/elapsed > maxSpeedKmh
}

// haversineKm returns the great-circle distance between two points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
