package store

import (
	"context"
	"time"

	"splitledger/internal/budget/models"
	id "splitledger/pkg/domain"
)

// BudgetStore persists budget configuration.
type BudgetStore interface {
	// Create persists a validated budget. Overlap with another active budget
	// for the same owner and category scope is rejected with a conflict.
	Create(ctx context.Context, budget *models.Budget) error
	Get(ctx context.Context, budgetID id.BudgetID) (*models.Budget, error)
	// ListForOwner returns budgets whose scope covers an expense by the owner
	// in the given category at the given time.
	ListForOwner(ctx context.Context, ownerID id.UserID, category string, at time.Time) ([]*models.Budget, error)
	Delete(ctx context.Context, budgetID id.BudgetID) error
}
