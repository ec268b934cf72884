package models

import "time"

// IOC is a single indicator of compromise attached to an incident
type IOC struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Incident is one organization's report of a security event.
// (OrgID, LocalRef) is unique; resubmitting the same local_ref updates the row in place.
type Incident struct {
	ID           string       `json:"id"`
	OrgID        string       `json:"org_id"`
	LocalRef     string       `json:"local_ref"`
	TimeStart    time.Time    `json:"time_start"`
	TimeEnd      *time.Time   `json:"time_end,omitempty"`
	AttackVector AttackVector `json:"attack_vector"`
	AIComponents []string     `json:"ai_components"`
	Techniques   []string     `json:"techniques"`
	IOCs         []IOC        `json:"iocs"`
	ImpactLevel  ImpactLevel  `json:"impact_level"`
	Summary      string       `json:"summary"`
	CampaignID   *string      `json:"campaign_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
