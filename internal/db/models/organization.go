// Package models defines the database model types for the threat exchange.
// Each type corresponds to a database table. Models are pure data types: business logic
// belongs in the exchange package, query logic belongs in the repositories layer.
package models

import "time"

// Organization is a participant of the exchange. It authenticates with a single API key,
// of which only the bcrypt hash is stored.
type Organization struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"display_name"`
	Sector        Sector    `json:"sector"`
	Region        Region    `json:"region"`
	APIKeyHash    string    `json:"-"`
	QueryBudget   int       `json:"query_budget"`
	BudgetResetAt time.Time `json:"budget_reset_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
