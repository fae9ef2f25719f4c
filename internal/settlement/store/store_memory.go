package store

import (
	"context"
	"sort"
	"sync"

	"splitledger/internal/settlement/models"
	id "splitledger/pkg/domain"
	"splitledger/pkg/platform/sentinel"
)

// MemoryStore keeps the ledger in process memory. Balance application and
// reads share one mutex, so a NetBalances snapshot is always consistent with
// respect to in-flight delta application.
type MemoryStore struct {
	mu       sync.RWMutex
	expenses map[id.ExpenseID]*expenseRecord
	balances map[id.GroupID]map[id.UserID]int64
}

type expenseRecord struct {
	expense models.Expense
	shares  []models.Share
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		expenses: make(map[id.ExpenseID]*expenseRecord),
		balances: make(map[id.GroupID]map[id.UserID]int64),
	}
}

func (s *MemoryStore) SaveExpense(ctx context.Context, expense *models.Expense, shares []models.Share) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.expenses[expense.ID]; exists {
		return sentinel.ErrConflict
	}
	s.expenses[expense.ID] = &expenseRecord{
		expense: *expense,
		shares:  append([]models.Share(nil), shares...),
	}
	return nil
}

func (s *MemoryStore) GetExpense(ctx context.Context, expenseID id.ExpenseID) (*models.Expense, []models.Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.expenses[expenseID]
	if !ok {
		return nil, nil, sentinel.ErrNotFound
	}
	cp := rec.expense
	return &cp, append([]models.Share(nil), rec.shares...), nil
}

func (s *MemoryStore) MarkReversed(ctx context.Context, expenseID id.ExpenseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.expenses[expenseID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if rec.expense.Reversed {
		return sentinel.ErrInvalidState
	}
	rec.expense.Reversed = true
	return nil
}

func (s *MemoryStore) ApplyDeltas(ctx context.Context, groupID id.GroupID, deltas map[id.UserID]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group := s.balances[groupID]
	if group == nil {
		group = make(map[id.UserID]int64)
		s.balances[groupID] = group
	}
	for user, delta := range deltas {
		group[user] += delta
		if group[user] == 0 {
			delete(group, user) // settled members drop out of the vector
		}
	}
	return nil
}

func (s *MemoryStore) NetBalances(ctx context.Context, groupID id.GroupID) (map[id.UserID]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[id.UserID]int64, len(s.balances[groupID]))
	for user, n := range s.balances[groupID] {
		out[user] = n
	}
	return out, nil
}

// GroupExpenses lists non-reversed expenses for a group, newest first.
func (s *MemoryStore) GroupExpenses(ctx context.Context, groupID id.GroupID) ([]*models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Expense
	for _, rec := range s.expenses {
		if rec.expense.GroupID == groupID && !rec.expense.Reversed {
			cp := rec.expense
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// PersonalExpenses lists non-reversed ungrouped expenses for a payer, newest
// first.
func (s *MemoryStore) PersonalExpenses(ctx context.Context, payerID id.UserID) ([]*models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Expense
	for _, rec := range s.expenses {
		if rec.expense.GroupID.IsNil() && rec.expense.PayerID == payerID && !rec.expense.Reversed {
			cp := rec.expense
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(expenses []*models.Expense) {
	sort.Slice(expenses, func(i, j int) bool {
		return expenses[i].CreatedAt.After(expenses[j].CreatedAt)
	})
}
