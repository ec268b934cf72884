package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
)

// UpsertIncident creates or overwrites the incident orgID filed under sub.LocalRef.
//
// On a match every mutable field is replaced and id, owner, creation time and campaign
// reference are kept; previous is the row as it was before the overwrite. On a miss a
// new incident is inserted and previous is nil. The campaign reference is left for the
// correlator.
func UpsertIncident(ctx context.Context, tx store.Tx, orgID string, sub *Submission, now time.Time) (incident, previous *models.Incident, err error) {
	if err := sub.checkRequired(); err != nil {
		return nil, nil, err
	}

	existing, err := tx.GetIncidentByLocalRef(ctx, orgID, sub.LocalRef)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up incident: %w", err)
	}

	if existing != nil {
		prev := *existing
		applySubmission(existing, sub)
		existing.UpdatedAt = now
		if err := tx.UpdateIncident(ctx, existing); err != nil {
			return nil, nil, fmt.Errorf("failed to update incident: %w", err)
		}
		return existing, &prev, nil
	}

	incident = &models.Incident{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		LocalRef:  sub.LocalRef,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applySubmission(incident, sub)
	if err := tx.CreateIncident(ctx, incident); err != nil {
		return nil, nil, fmt.Errorf("failed to create incident: %w", err)
	}
	return incident, nil, nil
}

func applySubmission(inc *models.Incident, sub *Submission) {
	inc.TimeStart = sub.TimeStart
	inc.TimeEnd = sub.TimeEnd
	inc.AttackVector = sub.AttackVector
	inc.AIComponents = orEmpty(sub.AIComponents)
	inc.Techniques = orEmpty(sub.Techniques)
	inc.IOCs = sub.IOCs
	if inc.IOCs == nil {
		inc.IOCs = []models.IOC{}
	}
	inc.ImpactLevel = sub.ImpactLevel
	inc.Summary = sub.Summary
}

func orEmpty(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
