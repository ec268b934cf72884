package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
	"github.com/threat-exchange/threat-exchange/internal/telemetry"
)

// Correlate attaches incident to a campaign inside tx and recomputes the aggregates of
// every campaign whose membership changed. previous is the incident as it was before this
// submission, nil for a new incident.
//
// An incident whose attack vector is unchanged stays in its campaign. Otherwise it joins
// the campaign for its vector with the most recent last_seen, or a new one, and the
// campaign it left is recomputed from its remaining members or deleted when none remain.
func Correlate(ctx context.Context, tx store.Tx, incident, previous *models.Incident, now time.Time) (*models.Campaign, error) {
	vectors := []models.AttackVector{incident.AttackVector}
	if previous != nil && previous.AttackVector != incident.AttackVector {
		vectors = append(vectors, previous.AttackVector)
	}
	if err := tx.LockAttackVectors(ctx, vectors...); err != nil {
		return nil, err
	}

	var current *models.Campaign
	if incident.CampaignID != nil {
		c, err := tx.GetCampaign(ctx, *incident.CampaignID)
		if err != nil {
			return nil, fmt.Errorf("failed to load current campaign: %w", err)
		}
		current = c
	}

	var target *models.Campaign
	if current != nil && current.PrimaryAttackVector == incident.AttackVector {
		target = current
	} else {
		found, err := tx.FindLatestCampaign(ctx, incident.AttackVector)
		if err != nil {
			return nil, fmt.Errorf("failed to find campaign: %w", err)
		}
		target = found
	}

	if target == nil {
		target = &models.Campaign{
			ID:                  uuid.NewString(),
			PrimaryAttackVector: incident.AttackVector,
			FirstSeen:           incident.TimeStart,
			LastSeen:            incident.TimeStart,
			NumOrgs:             1,
			NumIncidents:        1,
			CanonicalSummary:    incident.Summary,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := tx.CreateCampaign(ctx, target); err != nil {
			return nil, fmt.Errorf("failed to create campaign: %w", err)
		}
		telemetry.CampaignsCreatedTotal.Inc()
	}

	incident.CampaignID = &target.ID
	if err := tx.UpdateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to attach incident: %w", err)
	}

	if current != nil && current.ID != target.ID {
		if err := recompute(ctx, tx, current, "", now); err != nil {
			return nil, err
		}
	}
	if err := recompute(ctx, tx, target, incident.Summary, now); err != nil {
		return nil, err
	}
	return target, nil
}

// recompute rebuilds c's aggregates from its members and stores them, deleting c when it
// has no members left. A non-empty summary becomes the canonical summary; otherwise the
// summary of the most recently updated member is used.
func recompute(ctx context.Context, tx store.Tx, c *models.Campaign, summary string, now time.Time) error {
	members, err := tx.ListCampaignMembers(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to list campaign members: %w", err)
	}

	if len(members) == 0 {
		if err := tx.DeleteCampaign(ctx, c.ID); err != nil {
			return fmt.Errorf("failed to delete empty campaign: %w", err)
		}
		telemetry.CampaignsDeletedTotal.Inc()
		return nil
	}

	aggregate(c, members)
	if summary != "" {
		c.CanonicalSummary = summary
	}
	c.UpdatedAt = now

	if err := tx.UpdateCampaign(ctx, c); err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	return nil
}

// aggregate derives every aggregate field of c from members, which must be non-empty
// and in creation order. Unions keep first-appearance order.
func aggregate(c *models.Campaign, members []models.CampaignMember) {
	orgs := make(map[string]bool)
	components := newOrderedSet()
	sectors := newOrderedSet()
	regions := newOrderedSet()

	c.FirstSeen = members[0].TimeStart
	c.LastSeen = members[0].TimeStart
	latest := members[0]

	for _, m := range members {
		if !orgs[m.OrgID] {
			orgs[m.OrgID] = true
			sectors.add(string(m.Sector))
			regions.add(string(m.Region))
		}
		for _, tag := range m.AIComponents {
			components.add(tag)
		}
		if m.TimeStart.Before(c.FirstSeen) {
			c.FirstSeen = m.TimeStart
		}
		if m.TimeStart.After(c.LastSeen) {
			c.LastSeen = m.TimeStart
		}
		if !m.UpdatedAt.Before(latest.UpdatedAt) {
			latest = m
		}
	}

	c.NumOrgs = len(orgs)
	c.NumIncidents = len(members)
	c.AIComponents = components.items
	c.Sectors = sectors.items
	c.Regions = regions.items
	c.CanonicalSummary = latest.Summary
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool), items: []string{}}
}

func (s *orderedSet) add(v string) {
	if v == "" || s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}
