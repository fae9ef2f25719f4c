package store

import (
	"context"
	"sync"
	"time"

	"splitledger/internal/budget/models"
	id "splitledger/pkg/domain"
	dErrors "splitledger/pkg/domain-errors"
	"splitledger/pkg/platform/sentinel"
)

// MemoryStore keeps budgets and period state in process memory. Suitable for
// tests and single-node deployments; use PostgresStore otherwise.
type MemoryStore struct {
	mu       sync.RWMutex
	budgets  map[id.BudgetID]*models.Budget
	current  map[id.BudgetID]*models.PeriodState
	archived map[id.BudgetID][]*models.PeriodState
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		budgets:  make(map[id.BudgetID]*models.Budget),
		current:  make(map[id.BudgetID]*models.PeriodState),
		archived: make(map[id.BudgetID][]*models.PeriodState),
	}
}

func (s *MemoryStore) Create(ctx context.Context, budget *models.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.budgets {
		if existing.OwnerID != budget.OwnerID || existing.Category != budget.Category {
			continue
		}
		if budget.Start.Before(existing.End) && existing.Start.Before(budget.End) {
			return dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeConflict,
				"an active budget already covers this date range; update it instead")
		}
	}

	cp := *budget
	cp.Thresholds = append([]int(nil), budget.Thresholds...)
	s.budgets[budget.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, budgetID id.BudgetID) (*models.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.budgets[budgetID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *b
	cp.Thresholds = append([]int(nil), b.Thresholds...)
	return &cp, nil
}

func (s *MemoryStore) ListForOwner(ctx context.Context, ownerID id.UserID, category string, at time.Time) ([]*models.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Budget
	for _, b := range s.budgets {
		if b.OwnerID != ownerID || !b.AppliesTo(category, at) {
			continue
		}
		cp := *b
		cp.Thresholds = append([]int(nil), b.Thresholds...)
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, budgetID id.BudgetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.budgets[budgetID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.budgets, budgetID)
	delete(s.current, budgetID)
	delete(s.archived, budgetID)
	return nil
}

func (s *MemoryStore) CurrentState(ctx context.Context, budgetID id.BudgetID) (*models.PeriodState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.current[budgetID]
	if !ok {
		return nil, nil
	}
	cp := *st
	cp.Fired = append([]int(nil), st.Fired...)
	return &cp, nil
}

func (s *MemoryStore) SaveState(ctx context.Context, state *models.PeriodState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *state
	cp.Fired = append([]int(nil), state.Fired...)
	s.current[state.BudgetID] = &cp
	return nil
}

func (s *MemoryStore) ArchiveState(ctx context.Context, budgetID id.BudgetID, periodID id.PeriodID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.current[budgetID]
	if !ok || st.PeriodID != periodID {
		return sentinel.ErrNotFound
	}
	st.Archived = true
	s.archived[budgetID] = append(s.archived[budgetID], st)
	delete(s.current, budgetID)
	return nil
}

// ArchivedStates returns retained period history, oldest first.
func (s *MemoryStore) ArchivedStates(ctx context.Context, budgetID id.BudgetID) ([]*models.PeriodState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.PeriodState, 0, len(s.archived[budgetID]))
	for _, st := range s.archived[budgetID] {
		cp := *st
		cp.Fired = append([]int(nil), st.Fired...)
		out = append(out, &cp)
	}
	return out, nil
}
