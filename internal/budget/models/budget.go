package models

import (
	"fmt"
	"time"

	id "splitledger/pkg/domain"
	dErrors "splitledger/pkg/domain-errors"
)

// Cadence describes how a budget window recurs.
type Cadence string

const (
	CadenceNone    Cadence = "none" // one-shot window, never rolls over
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// IsValid checks if the cadence is one of the supported enum values.
func (c Cadence) IsValid() bool {
	switch c {
	case CadenceNone, CadenceWeekly, CadenceMonthly:
		return true
	}
	return false
}

// Budget is a spending limit scoped to an owner and optionally a category.
// Amounts are stored in minor units (cents) to avoid float drift.
type Budget struct {
	ID         id.BudgetID `json:"id"`
	OwnerID    id.UserID   `json:"owner_id"`
	GroupID    id.GroupID  `json:"group_id,omitempty"` // nil UUID when the budget is personal
	Category   string      `json:"category,omitempty"` // empty means all categories
	LimitCents int64       `json:"limit_cents"`
	Currency   string      `json:"currency"`
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end"`
	Cadence    Cadence     `json:"cadence"`
	// Thresholds are percentages of the limit, distinct and ascending.
	// Values above 100 are allowed (overspend alerts).
	Thresholds []int     `json:"thresholds"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate enforces the configuration invariants before a budget is accepted.
// A non-positive limit is deliberately not an error: such a budget simply
// never fires (documented evaluator behavior).
func (b *Budget) Validate() error {
	if b.OwnerID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "budget owner is required")
	}
	if len(b.Currency) != 3 {
		return dErrors.New(dErrors.CodeInvalidInput, "currency must be a 3-letter code")
	}
	if !b.End.After(b.Start) {
		return dErrors.New(dErrors.CodeInvalidInput, "budget period end must be after start")
	}
	if !b.Cadence.IsValid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "invalid cadence %q", b.Cadence)
	}
	if len(b.Thresholds) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one threshold is required")
	}
	prev := 0
	for _, t := range b.Thresholds {
		if t <= 0 {
			return dErrors.Newf(dErrors.CodeInvalidInput, "threshold %d%% must be positive", t)
		}
		if t <= prev {
			return dErrors.New(dErrors.CodeInvalidInput, "thresholds must be distinct and ascending")
		}
		prev = t
	}
	return nil
}

// AppliesTo reports whether an expense in the given category at the given
// time falls inside this budget's configured scope. The time check is
// against the recurring window, not just the initial start/end pair.
func (b *Budget) AppliesTo(category string, at time.Time) bool {
	if b.Category != "" && b.Category != category {
		return false
	}
	if at.Before(b.Start) {
		return false
	}
	if b.Cadence == CadenceNone {
		return at.Before(b.End)
	}
	return true
}

// WindowAt returns the period instance [start, end) containing at. For a
// recurring budget the window is advanced from the configured start by whole
// cadence steps; for a one-shot budget it is always the configured pair.
func (b *Budget) WindowAt(at time.Time) (start, end time.Time) {
	start, end = b.Start, b.End
	if b.Cadence == CadenceNone {
		return start, end
	}
	for !at.Before(end) {
		start = end
		switch b.Cadence {
		case CadenceWeekly:
			end = end.AddDate(0, 0, 7)
		case CadenceMonthly:
			end = end.AddDate(0, 1, 0)
		}
	}
	return start, end
}

// PeriodState tracks cumulative spend and fired thresholds for one period
// instance of a budget. It is mutated only by the evaluator under the owning
// budget's serialization scope and is archived, never reset, at rollover.
type PeriodState struct {
	BudgetID   id.BudgetID `json:"budget_id"`
	PeriodID   id.PeriodID `json:"period_id"`
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end"`
	SpendCents int64       `json:"spend_cents"`
	// Fired holds threshold percentages already alerted for this period
	// instance, in firing (ascending) order.
	Fired    []int `json:"fired"`
	Archived bool  `json:"archived"`
}

// HasFired reports whether the threshold was already alerted this period.
func (s *PeriodState) HasFired(threshold int) bool {
	for _, f := range s.Fired {
		if f == threshold {
			return true
		}
	}
	return false
}

// Contains reports whether t falls inside this period instance.
func (s *PeriodState) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// AlertEvent records a single threshold crossing. Exactly one event with a
// given idempotency key is ever produced.
type AlertEvent struct {
	BudgetID         id.BudgetID `json:"budget_id"`
	OwnerID          id.UserID   `json:"owner_id"`
	PeriodID         id.PeriodID `json:"period_id"`
	ThresholdPercent int         `json:"threshold_percent"`
	SpendCents       int64       `json:"spend_cents"` // cumulative spend at crossing
	LimitCents       int64       `json:"limit_cents"`
	Currency         string      `json:"currency"`
	At               time.Time   `json:"at"`
}

// IdempotencyKey identifies the crossing independently of retries.
func (e AlertEvent) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%d", e.BudgetID, e.PeriodID, e.ThresholdPercent)
}
