package exchange

import (
	"errors"
	"time"
)

var (
	// ErrBudgetExhausted is matched by every *BudgetExhaustedError
	ErrBudgetExhausted = errors.New("query budget exhausted")
	// ErrInvalidSubmission wraps every submission validation failure
	ErrInvalidSubmission = errors.New("invalid incident submission")
	ErrCampaignNotFound  = errors.New("campaign not found")
)

// BudgetExhaustedError carries the instant at which the budget refills
type BudgetExhaustedError struct {
	ResetAt time.Time
}

func (e *BudgetExhaustedError) Error() string {
	return "query budget exhausted until " + e.ResetAt.UTC().Format(time.RFC3339)
}

// Is makes errors.Is(err, ErrBudgetExhausted) hold
func (e *BudgetExhaustedError) Is(target error) bool {
	return target == ErrBudgetExhausted
}
