// Package evaluator decides which budget thresholds fire as period spend
// changes. It owns all mutation of period state: callers report spend deltas
// and receive the alert events that crossing produced, exactly once per
// (budget, period, threshold).
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"splitledger/internal/budget/models"
	id "splitledger/pkg/domain"
	"splitledger/pkg/platform/keyedmutex"
)

// StateStore persists period state. Implementations live in
// internal/budget/store; the evaluator treats them as synchronous and
// fallible.
type StateStore interface {
	// CurrentState returns the unarchived state for the budget, or nil when
	// no period instance has been opened yet.
	CurrentState(ctx context.Context, budgetID id.BudgetID) (*models.PeriodState, error)
	// SaveState upserts the current period state.
	SaveState(ctx context.Context, state *models.PeriodState) error
	// ArchiveState retains the state as history; it is never mutated again.
	ArchiveState(ctx context.Context, budgetID id.BudgetID, periodID id.PeriodID) error
}

type Evaluator struct {
	states StateStore
	locks  *keyedmutex.KeyedMutex
	logger *slog.Logger
	clock  func() time.Time
}

type Option func(*Evaluator)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// WithClock sets the time source for testability.
func WithClock(clock func() time.Time) Option {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func New(states StateStore, opts ...Option) (*Evaluator, error) {
	if states == nil {
		return nil, fmt.Errorf("state store is required")
	}
	e := &Evaluator{
		states: states,
		locks:  keyedmutex.New(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Apply records a spend delta against the budget's period instance containing
// at and returns the alert events the new cumulative spend produced, in
// ascending threshold order. Negative deltas (expense edit/delete) lower the
// cumulative spend but never un-fire a threshold: alerts are a one-way record
// of what the user was told.
//
// The first call for a new period instance archives the previous state and
// opens a fresh one lazily, so rollover needs no scheduler.
func (e *Evaluator) Apply(ctx context.Context, budget *models.Budget, at time.Time, deltaCents int64) ([]models.AlertEvent, error) {
	key := budget.ID.String()
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	state, err := e.states.CurrentState(ctx, budget.ID)
	if err != nil {
		return nil, fmt.Errorf("load period state: %w", err)
	}

	if state != nil && !state.Contains(at) {
		if err := e.states.ArchiveState(ctx, budget.ID, state.PeriodID); err != nil {
			return nil, fmt.Errorf("archive period state: %w", err)
		}
		if e.logger != nil {
			e.logger.InfoContext(ctx, "budget period rolled over",
				"budget_id", budget.ID,
				"old_period_id", state.PeriodID,
			)
		}
		state = nil
	}
	if state == nil {
		start, end := budget.WindowAt(at)
		state = &models.PeriodState{
			BudgetID: budget.ID,
			PeriodID: id.NewPeriodID(),
			Start:    start,
			End:      end,
		}
	}

	state.SpendCents += deltaCents
	events := e.evaluate(budget, state)

	if err := e.states.SaveState(ctx, state); err != nil {
		return nil, fmt.Errorf("save period state: %w", err)
	}
	return events, nil
}

// CurrentSpend returns the cumulative spend for the period instance
// containing at, without mutating state. Spend is queryable separately from
// the monotonic fired-threshold record.
func (e *Evaluator) CurrentSpend(ctx context.Context, budget *models.Budget, at time.Time) (int64, error) {
	key := budget.ID.String()
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	state, err := e.states.CurrentState(ctx, budget.ID)
	if err != nil {
		return 0, fmt.Errorf("load period state: %w", err)
	}
	if state == nil || !state.Contains(at) {
		return 0, nil
	}
	return state.SpendCents, nil
}

// evaluate marks newly crossed thresholds fired and returns their events.
// Thresholds are walked in ascending order so a single expense crossing
// several of them emits all events in ascending order within one call.
// Budgets with a non-positive limit never fire.
func (e *Evaluator) evaluate(budget *models.Budget, state *models.PeriodState) []models.AlertEvent {
	if budget.LimitCents <= 0 {
		return nil
	}
	var events []models.AlertEvent
	for _, threshold := range budget.Thresholds {
		if state.HasFired(threshold) {
			continue
		}
		// spend >= limit * threshold / 100, kept in integer math.
		if state.SpendCents*100 < budget.LimitCents*int64(threshold) {
			continue
		}
		state.Fired = append(state.Fired, threshold)
		events = append(events, models.AlertEvent{
			BudgetID:         budget.ID,
			OwnerID:          budget.OwnerID,
			PeriodID:         state.PeriodID,
			ThresholdPercent: threshold,
			SpendCents:       state.SpendCents,
			LimitCents:       budget.LimitCents,
			Currency:         budget.Currency,
			At:               e.clock(),
		})
	}
	return events
}
