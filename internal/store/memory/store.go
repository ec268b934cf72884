// Package memory is an in-process implementation of store.Store. Transactions are
// serialized behind one mutex and roll back by restoring a snapshot taken on entry.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
)

type state struct {
	orgs      map[string]*models.Organization
	incidents map[string]*models.Incident
	campaigns map[string]*models.Campaign
	// insertion order of incidents, used for member ordering
	seq     map[string]int64
	nextSeq int64
}

func newState() *state {
	return &state{
		orgs:      make(map[string]*models.Organization),
		incidents: make(map[string]*models.Incident),
		campaigns: make(map[string]*models.Campaign),
		seq:       make(map[string]int64),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.orgs {
		c.orgs[k] = copyOrganization(v)
	}
	for k, v := range s.incidents {
		c.incidents[k] = copyIncident(v)
	}
	for k, v := range s.campaigns {
		c.campaigns[k] = copyCampaign(v)
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	c.nextSeq = s.nextSeq
	return c
}

// Store is an in-memory store.Store
type Store struct {
	mu    sync.RWMutex
	state *state
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store
func New() *Store {
	return &Store{state: newState()}
}

// WithTx runs fn with exclusive access to the store. If fn fails or panics, every change
// it made is discarded. A panic is re-raised after the rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	committed := false
	defer func() {
		if !committed {
			s.state = snapshot
		}
	}()

	if err := fn(&tx{st: s.state}); err != nil {
		return err
	}
	committed = true
	return nil
}

// ListOrganizations returns every organization ordered by id
func (s *Store) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orgs := make([]*models.Organization, 0, len(s.state.orgs))
	for _, org := range s.state.orgs {
		orgs = append(orgs, copyOrganization(org))
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].ID < orgs[j].ID })
	return orgs, nil
}

// GetOrganization returns the organization or (nil, nil) when it does not exist
func (s *Store) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.state.orgs[id]
	if !ok {
		return nil, nil
	}
	return copyOrganization(org), nil
}

// CreateOrganization inserts org. Ids and key hashes are unique.
func (s *Store) CreateOrganization(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.state.orgs {
		if existing.ID == org.ID || existing.APIKeyHash == org.APIKeyHash {
			return store.ErrOrganizationExists
		}
	}
	s.state.orgs[org.ID] = copyOrganization(org)
	return nil
}

// CountCampaigns returns the number of live campaigns
func (s *Store) CountCampaigns(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.campaigns), nil
}

// tx operates directly on the live state; the enclosing WithTx holds the write lock.
type tx struct {
	st *state
}

func (t *tx) LockOrganization(ctx context.Context, id string) (*models.Organization, error) {
	org, ok := t.st.orgs[id]
	if !ok {
		return nil, nil
	}
	return copyOrganization(org), nil
}

func (t *tx) UpdateOrganizationBudget(ctx context.Context, id string, budget int, resetAt time.Time) error {
	org, ok := t.st.orgs[id]
	if !ok {
		return store.ErrOrganizationNotFound
	}
	org.QueryBudget = budget
	org.BudgetResetAt = resetAt
	return nil
}

func (t *tx) GetIncidentByLocalRef(ctx context.Context, orgID, localRef string) (*models.Incident, error) {
	for _, inc := range t.st.incidents {
		if inc.OrgID == orgID && inc.LocalRef == localRef {
			return copyIncident(inc), nil
		}
	}
	return nil, nil
}

func (t *tx) CreateIncident(ctx context.Context, incident *models.Incident) error {
	t.st.nextSeq++
	t.st.seq[incident.ID] = t.st.nextSeq
	t.st.incidents[incident.ID] = copyIncident(incident)
	return nil
}

func (t *tx) UpdateIncident(ctx context.Context, incident *models.Incident) error {
	if _, ok := t.st.incidents[incident.ID]; !ok {
		return store.ErrIncidentNotFound
	}
	t.st.incidents[incident.ID] = copyIncident(incident)
	return nil
}

func (t *tx) ListIncidentsByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*models.Incident, error) {
	var out []*models.Incident
	for _, inc := range t.st.incidents {
		if inc.OrgID == orgID {
			out = append(out, copyIncident(inc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return t.st.seq[out[i].ID] > t.st.seq[out[j].ID] })
	return paginate(out, limit, offset), nil
}

// LockAttackVectors is a no-op: WithTx already serializes every transaction.
func (t *tx) LockAttackVectors(ctx context.Context, vectors ...models.AttackVector) error {
	return nil
}

func (t *tx) FindLatestCampaign(ctx context.Context, vector models.AttackVector) (*models.Campaign, error) {
	var latest *models.Campaign
	for _, c := range t.st.campaigns {
		if c.PrimaryAttackVector != vector {
			continue
		}
		if latest == nil || c.LastSeen.After(latest.LastSeen) ||
			(c.LastSeen.Equal(latest.LastSeen) && c.ID > latest.ID) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyCampaign(latest), nil
}

func (t *tx) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	c, ok := t.st.campaigns[id]
	if !ok {
		return nil, nil
	}
	return copyCampaign(c), nil
}

func (t *tx) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	t.st.campaigns[campaign.ID] = copyCampaign(campaign)
	return nil
}

func (t *tx) UpdateCampaign(ctx context.Context, campaign *models.Campaign) error {
	if _, ok := t.st.campaigns[campaign.ID]; !ok {
		return store.ErrCampaignNotFound
	}
	t.st.campaigns[campaign.ID] = copyCampaign(campaign)
	return nil
}

func (t *tx) DeleteCampaign(ctx context.Context, id string) error {
	if _, ok := t.st.campaigns[id]; !ok {
		return store.ErrCampaignNotFound
	}
	delete(t.st.campaigns, id)
	return nil
}

func (t *tx) ListCampaignMembers(ctx context.Context, campaignID string) ([]models.CampaignMember, error) {
	var incidents []*models.Incident
	for _, inc := range t.st.incidents {
		if inc.CampaignID != nil && *inc.CampaignID == campaignID {
			incidents = append(incidents, inc)
		}
	}
	sort.Slice(incidents, func(i, j int) bool { return t.st.seq[incidents[i].ID] < t.st.seq[incidents[j].ID] })

	members := make([]models.CampaignMember, 0, len(incidents))
	for _, inc := range incidents {
		m := models.CampaignMember{
			IncidentID:   inc.ID,
			OrgID:        inc.OrgID,
			TimeStart:    inc.TimeStart,
			AIComponents: append([]string(nil), inc.AIComponents...),
			Summary:      inc.Summary,
			UpdatedAt:    inc.UpdatedAt,
		}
		if org, ok := t.st.orgs[inc.OrgID]; ok {
			m.Sector = org.Sector
			m.Region = org.Region
		}
		members = append(members, m)
	}
	return members, nil
}

func (t *tx) ListCampaigns(ctx context.Context, q store.CampaignQuery) ([]*models.Campaign, error) {
	var out []*models.Campaign
	for _, c := range t.st.campaigns {
		if q.AttackVector != "" && c.PrimaryAttackVector != q.AttackVector {
			continue
		}
		if c.NumOrgs < q.MinOrgs {
			continue
		}
		if !q.Since.IsZero() && c.LastSeen.Before(q.Since) {
			continue
		}
		out = append(out, copyCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func copyOrganization(o *models.Organization) *models.Organization {
	c := *o
	return &c
}

func copyIncident(i *models.Incident) *models.Incident {
	c := *i
	c.AIComponents = append([]string(nil), i.AIComponents...)
	c.Techniques = append([]string(nil), i.Techniques...)
	c.IOCs = append([]models.IOC(nil), i.IOCs...)
	if i.TimeEnd != nil {
		t := *i.TimeEnd
		c.TimeEnd = &t
	}
	if i.CampaignID != nil {
		id := *i.CampaignID
		c.CampaignID = &id
	}
	return &c
}

func copyCampaign(cp *models.Campaign) *models.Campaign {
	c := *cp
	c.AIComponents = append([]string(nil), cp.AIComponents...)
	c.Sectors = append([]string(nil), cp.Sectors...)
	c.Regions = append([]string(nil), cp.Regions...)
	return &c
}
