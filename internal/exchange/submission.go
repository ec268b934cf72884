package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/threat-exchange/threat-exchange/internal/db/models"
)

// Submission is an organization's report of an incident, as accepted over the API
type Submission struct {
	LocalRef     string              `json:"local_ref" binding:"required,max=255"`
	TimeStart    time.Time           `json:"time_start" binding:"required"`
	TimeEnd      *time.Time          `json:"time_end"`
	AttackVector models.AttackVector `json:"attack_vector" binding:"required"`
	AIComponents []string            `json:"ai_components"`
	Techniques   []string            `json:"techniques"`
	IOCs         []models.IOC        `json:"iocs"`
	ImpactLevel  models.ImpactLevel  `json:"impact_level" binding:"required"`
	Summary      string              `json:"summary"`
}

// checkRequired is the only validation the core performs: the fields the upsert and
// correlation logic cannot work without.
func (s *Submission) checkRequired() error {
	switch {
	case s.LocalRef == "":
		return fmt.Errorf("%w: local_ref is required", ErrInvalidSubmission)
	case s.TimeStart.IsZero():
		return fmt.Errorf("%w: time_start is required", ErrInvalidSubmission)
	case s.AttackVector == "":
		return fmt.Errorf("%w: attack_vector is required", ErrInvalidSubmission)
	case s.ImpactLevel == "":
		return fmt.Errorf("%w: impact_level is required", ErrInvalidSubmission)
	}
	return nil
}

// Validate checks a submission at the API boundary: required fields, enumerated
// domains and time ordering.
func (s *Submission) Validate() error {
	if err := s.checkRequired(); err != nil {
		return err
	}
	if !s.AttackVector.Valid() {
		return fmt.Errorf("%w: unknown attack_vector %q", ErrInvalidSubmission, s.AttackVector)
	}
	if !s.ImpactLevel.Valid() {
		return fmt.Errorf("%w: unknown impact_level %q", ErrInvalidSubmission, s.ImpactLevel)
	}
	if s.TimeEnd != nil && s.TimeEnd.Before(s.TimeStart) {
		return fmt.Errorf("%w: time_end is before time_start", ErrInvalidSubmission)
	}
	for i, ioc := range s.IOCs {
		if strings.TrimSpace(ioc.Type) == "" || strings.TrimSpace(ioc.Value) == "" {
			return fmt.Errorf("%w: iocs[%d] needs a type and a value", ErrInvalidSubmission, i)
		}
	}
	return nil
}
