package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Query returns events matching the criteria. Events whose integrity
// tag fails verification are dropped and logged rather than returned:
// history is only trusted once its tags check out.
func (p *Pipeline) Query(ctx context.Context, params QueryParams) ([]*models.AuditEvent, error) {
	events, err := p.repo.Query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	verified := make([]*models.AuditEvent, 0, len(events))
	for _, event := range events {
		ok, err := p.VerifyEvent(ctx, event)
		if err != nil {
			return nil, err
		}
		if !ok {
			p.logger.WarnContext(ctx, "audit event failed integrity check, dropped from results",
				"event_id", event.ID)
			continue
		}
		verified = append(verified, event)
	}
	return verified, nil
}

// VerifyEvent checks one event's integrity tag.
func (p *Pipeline) VerifyEvent(ctx context.Context, event *models.AuditEvent) (bool, error) {
	payload, err := canonicalPayload(event)
	if err != nil {
		return false, fmt.Errorf("audit: serialize event: %w", err)
	}
	ok, err := p.sealer.Verify(ctx, payload, event.IntegrityTag)
	if err != nil {
		return false, fmt.Errorf("audit: verify event: %w", err)
	}
	if !ok {
		return false, nil
	}
	return event.ChainHash == chainHash(event.IntegrityTag, event.PrevHash), nil
}

// VerifyChain walks events in a window and checks both tags and the
// hash links between consecutive events.
func (p *Pipeline) VerifyChain(ctx context.Context, since, until time.Time) (bool, error) {
	events, err := p.repo.Query(ctx, QueryParams{Since: since, Until: until})
	if err != nil {
		return false, fmt.Errorf("audit: query chain: %w", err)
	}
	// Query returns newest first; walk oldest to newest.
	for i := len(events) - 1; i >= 0; i-- {
		ok, err := p.VerifyEvent(ctx, events[i])
		if err != nil || !ok {
			return false, err
		}
		if i > 0 && events[i-1].PrevHash != events[i].ChainHash {
			return false, nil
		}
	}
	return true, nil
}

// Velocity counts an identity's verified recent events, supplying the
// request-velocity and anomaly-recurrence signals to risk scoring.
func (p *Pipeline) Velocity(ctx context.Context, identityID string, since time.Time) (*VelocityStats, error) {
	events, err := p.Query(ctx, QueryParams{IdentityID: identityID, Since: since})
	if err != nil {
		return nil, err
	}
	stats := &VelocityStats{}
	for _, event := range events {
		switch event.Category {
		case models.AuditCategoryAuthorization:
			stats.Requests++
			if event.Outcome == models.AuditOutcomeDenied {
				stats.Denied++
			}
		case models.AuditCategorySecurityEvent:
			stats.Anomalies++
		}
	}
	return stats, nil
}
