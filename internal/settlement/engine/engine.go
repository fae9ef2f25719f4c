// Package engine applies expense splits to group balances and produces
// settlement suggestions. Balances are kept as a signed net amount per member
// (positive = owed money by the group, negative = owes the group); pairwise
// debts are reconstructed from the net vector when needed. The engine owns
// the per-group serialization scope: mutations for one group never
// interleave, mutations for different groups proceed in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"splitledger/internal/settlement/models"
	id "splitledger/pkg/domain"
	dErrors "splitledger/pkg/domain-errors"
	"splitledger/pkg/platform/keyedmutex"
	"splitledger/pkg/platform/sentinel"
)

// LedgerStore is the durable record of expenses, shares, and derived net
// balances. Implementations live in internal/settlement/store.
type LedgerStore interface {
	SaveExpense(ctx context.Context, expense *models.Expense, shares []models.Share) error
	GetExpense(ctx context.Context, expenseID id.ExpenseID) (*models.Expense, []models.Share, error)
	// MarkReversed flags the expense as compensated so a second reversal is
	// rejected. The original rows are retained as history.
	MarkReversed(ctx context.Context, expenseID id.ExpenseID) error
	// ApplyDeltas atomically adds the signed deltas to the group's net
	// balances. Deltas always sum to zero across the member set.
	ApplyDeltas(ctx context.Context, groupID id.GroupID, deltas map[id.UserID]int64) error
	NetBalances(ctx context.Context, groupID id.GroupID) (map[id.UserID]int64, error)
	GroupExpenses(ctx context.Context, groupID id.GroupID) ([]*models.Expense, error)
	PersonalExpenses(ctx context.Context, payerID id.UserID) ([]*models.Expense, error)
}

type Engine struct {
	store  LedgerStore
	locks  *keyedmutex.KeyedMutex
	logger *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func New(store LedgerStore, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	e := &Engine{
		store: store,
		locks: keyedmutex.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ApplySplit settles an expense split into the group ledger and returns the
// pair balance changes it caused. Application is additive and commutative
// across expenses, so replaying a recovered sequence in any order yields the
// same balances.
func (e *Engine) ApplySplit(ctx context.Context, expense *models.Expense, shares []models.Share) ([]models.DebtChange, error) {
	if err := models.ValidateSplit(expense, shares); err != nil {
		return nil, err
	}
	if expense.GroupID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "split expenses require a group")
	}

	key := expense.GroupID.String()
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	deltas, changes := splitDeltas(expense, shares, 1)
	if err := verifyZeroSum(deltas); err != nil {
		return nil, err
	}

	if err := e.store.SaveExpense(ctx, expense, shares); err != nil {
		return nil, fmt.Errorf("save expense: %w", err)
	}
	if err := e.store.ApplyDeltas(ctx, expense.GroupID, deltas); err != nil {
		return nil, fmt.Errorf("apply balance deltas: %w", err)
	}

	if e.logger != nil {
		e.logger.InfoContext(ctx, "split applied",
			"expense_id", expense.ID,
			"group_id", expense.GroupID,
			"amount_cents", expense.AmountCents,
			"members", len(shares),
		)
	}
	return changes, nil
}

// ReverseSplit produces the exact inverse mutation for a previously applied
// expense: every pair balance moves back by the original share. Used alone
// for deletes and as the first half of an edit. Reversing twice is rejected.
// The original expense and shares are returned so the caller can compensate
// dependent state (budget period spend).
func (e *Engine) ReverseSplit(ctx context.Context, expenseID id.ExpenseID) (*models.Expense, []models.Share, []models.DebtChange, error) {
	expense, shares, err := e.store.GetExpense(ctx, expenseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, nil, dErrors.Wrap(err, dErrors.CodeNotFound, "expense not found")
		}
		return nil, nil, nil, fmt.Errorf("load expense: %w", err)
	}
	if expense.Reversed {
		return nil, nil, nil, dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict,
			"expense has already been reversed")
	}

	// Ungrouped expenses never moved any balances, so reversing one is just
	// flagging the record.
	if expense.GroupID.IsNil() {
		if err := e.markReversed(ctx, expenseID); err != nil {
			return nil, nil, nil, err
		}
		return expense, shares, nil, nil
	}

	key := expense.GroupID.String()
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	deltas, changes := splitDeltas(expense, shares, -1)
	if err := verifyZeroSum(deltas); err != nil {
		return nil, nil, nil, err
	}

	if err := e.markReversed(ctx, expenseID); err != nil {
		return nil, nil, nil, err
	}
	if err := e.store.ApplyDeltas(ctx, expense.GroupID, deltas); err != nil {
		return nil, nil, nil, fmt.Errorf("apply reversal deltas: %w", err)
	}

	if e.logger != nil {
		e.logger.InfoContext(ctx, "split reversed",
			"expense_id", expense.ID,
			"group_id", expense.GroupID,
		)
	}
	return expense, shares, changes, nil
}

// markReversed translates store sentinels into caller-facing codes: a lost
// race against another reversal is a conflict, not an internal failure.
func (e *Engine) markReversed(ctx context.Context, expenseID id.ExpenseID) error {
	switch err := e.store.MarkReversed(ctx, expenseID); {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeConflict, "expense has already been reversed")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "expense not found")
	default:
		return fmt.Errorf("mark expense reversed: %w", err)
	}
}

// RecordPersonal persists an expense with no group: the payer carries the
// whole amount as their own share and no balances move. Personal expenses
// live in the same ledger so edits and deletes work uniformly.
func (e *Engine) RecordPersonal(ctx context.Context, expense *models.Expense) error {
	if !expense.GroupID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "personal expenses cannot carry a group")
	}
	if expense.PayerID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "payer is required")
	}
	if expense.AmountCents <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "expense amount must be positive")
	}

	shares := []models.Share{{UserID: expense.PayerID, AmountCents: expense.AmountCents}}
	if err := e.store.SaveExpense(ctx, expense, shares); err != nil {
		return fmt.Errorf("save expense: %w", err)
	}

	if e.logger != nil {
		e.logger.InfoContext(ctx, "personal expense recorded",
			"expense_id", expense.ID,
			"payer_id", expense.PayerID,
			"amount_cents", expense.AmountCents,
		)
	}
	return nil
}

// Expense loads a previously settled expense and its shares.
func (e *Engine) Expense(ctx context.Context, expenseID id.ExpenseID) (*models.Expense, []models.Share, error) {
	expense, shares, err := e.store.GetExpense(ctx, expenseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeNotFound, "expense not found")
		}
		return nil, nil, fmt.Errorf("load expense: %w", err)
	}
	return expense, shares, nil
}

// GroupExpenses lists the group's non-reversed expenses, newest first.
func (e *Engine) GroupExpenses(ctx context.Context, groupID id.GroupID) ([]*models.Expense, error) {
	return e.store.GroupExpenses(ctx, groupID)
}

// PersonalExpenses lists the payer's non-reversed ungrouped expenses, newest
// first.
func (e *Engine) PersonalExpenses(ctx context.Context, payerID id.UserID) ([]*models.Expense, error) {
	return e.store.PersonalExpenses(ctx, payerID)
}

// RecordPayment settles amountCents of debt from one member to another,
// moving both nets toward zero. The pair balance is never deleted while
// nonzero; once fully settled it nets out to zero.
func (e *Engine) RecordPayment(ctx context.Context, groupID id.GroupID, fromID, toID id.UserID, amountCents int64, currency string) ([]models.DebtChange, error) {
	if amountCents <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "payment amount must be positive")
	}
	if fromID == toID {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "payer and payee must differ")
	}

	key := groupID.String()
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	deltas := map[id.UserID]int64{fromID: amountCents, toID: -amountCents}
	if err := verifyZeroSum(deltas); err != nil {
		return nil, err
	}
	if err := e.store.ApplyDeltas(ctx, groupID, deltas); err != nil {
		return nil, fmt.Errorf("apply payment deltas: %w", err)
	}

	return []models.DebtChange{{
		GroupID:     groupID,
		DebtorID:    fromID,
		CreditorID:  toID,
		AmountCents: -amountCents, // the debtor owes this much less
		Currency:    currency,
	}}, nil
}

// NetBalances returns the signed net amount per member. The store snapshot
// is atomic with respect to ApplyDeltas, so a concurrent reader never
// observes a transiently non-zero-sum state.
func (e *Engine) NetBalances(ctx context.Context, groupID id.GroupID) (map[id.UserID]int64, error) {
	return e.store.NetBalances(ctx, groupID)
}

// splitDeltas computes the signed balance deltas and per-pair changes for a
// split, multiplied by sign (+1 apply, -1 reverse). For every member m other
// than the payer P, m owes P its share; P's net rises by the total owed to
// them. Deltas sum to zero by construction for any share set.
func splitDeltas(expense *models.Expense, shares []models.Share, sign int64) (map[id.UserID]int64, []models.DebtChange) {
	deltas := make(map[id.UserID]int64, len(shares)+1)
	changes := make([]models.DebtChange, 0, len(shares))
	for _, sh := range shares {
		if sh.UserID == expense.PayerID || sh.AmountCents == 0 {
			continue
		}
		owed := sign * sh.AmountCents
		deltas[sh.UserID] -= owed
		deltas[expense.PayerID] += owed
		changes = append(changes, models.DebtChange{
			GroupID:     expense.GroupID,
			DebtorID:    sh.UserID,
			CreditorID:  expense.PayerID,
			AmountCents: owed,
			Currency:    expense.Currency,
		})
	}
	return deltas, changes
}

// verifyZeroSum rejects a delta set whose total is nonzero. Unreachable with
// correctly constructed deltas; if it trips, it is an internal bug and the
// mutation must not reach the store.
func verifyZeroSum(deltas map[id.UserID]int64) error {
	var total int64
	for _, d := range deltas {
		total += d
	}
	if total != 0 {
		return dErrors.Wrap(sentinel.ErrZeroSumViolated, dErrors.CodeInternal,
			fmt.Sprintf("balance deltas sum to %d", total))
	}
	return nil
}
