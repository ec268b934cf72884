package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/threat-exchange/threat-exchange/internal/db/models"
)

// ErrAuthenticationFailed is returned for a missing, malformed or unknown token.
// It never says which, so callers cannot probe for valid organizations.
var ErrAuthenticationFailed = errors.New("invalid API key")

// OrganizationLister is the read access the verifier needs
type OrganizationLister interface {
	ListOrganizations(ctx context.Context) ([]*models.Organization, error)
}

// Verifier resolves bearer tokens to organizations
type Verifier struct {
	orgs OrganizationLister
}

// NewVerifier creates a Verifier over orgs
func NewVerifier(orgs OrganizationLister) *Verifier {
	return &Verifier{orgs: orgs}
}

// Authenticate returns the organization whose stored hash matches token.
//
// Hashes are salted, so there is no index to look a token up by: every organization is
// compared in turn, costing one bcrypt comparison per organization in the worst case.
// Two organizations can never share a key, so the first match is the only match.
func (v *Verifier) Authenticate(ctx context.Context, token string) (*models.Organization, error) {
	if token == "" {
		return nil, ErrAuthenticationFailed
	}

	orgs, err := v.orgs.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load organizations: %w", err)
	}

	for _, org := range orgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ValidateAPIKey(token, org.APIKeyHash) {
			return org, nil
		}
	}
	return nil, ErrAuthenticationFailed
}
