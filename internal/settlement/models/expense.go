package models

import (
	"time"

	id "splitledger/pkg/domain"
	dErrors "splitledger/pkg/domain-errors"
)

// Expense is a single payment made by one member, optionally shared with a
// group. Amounts are minor units (cents). An expense is immutable once
// settled into the ledger; edits and deletes go through compensating entries,
// never in-place overwrites of historical balance state.
type Expense struct {
	ID          id.ExpenseID `json:"id"`
	GroupID     id.GroupID   `json:"group_id,omitempty"` // nil UUID for personal expenses
	PayerID     id.UserID    `json:"payer_id"`
	Category    string       `json:"category,omitempty"`
	Description string       `json:"description,omitempty"`
	AmountCents int64        `json:"amount_cents"`
	Currency    string       `json:"currency"`
	CreatedAt   time.Time    `json:"created_at"`
	Reversed    bool         `json:"reversed"`
}

// Share is one member's owed portion of an expense.
type Share struct {
	UserID      id.UserID `json:"user_id"`
	AmountCents int64     `json:"amount_cents"`
}

// ValidateSplit checks a split specification against its expense before
// anything reaches the ledger: shares must be non-negative, name each member
// at most once, and sum exactly to the expense amount.
func ValidateSplit(expense *Expense, shares []Share) error {
	if expense.AmountCents <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "expense amount must be positive")
	}
	if expense.PayerID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "expense payer is required")
	}
	if len(shares) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one share is required")
	}
	seen := make(map[id.UserID]bool, len(shares))
	var total int64
	for _, sh := range shares {
		if sh.UserID.IsNil() {
			return dErrors.New(dErrors.CodeInvalidInput, "share member is required")
		}
		if sh.AmountCents < 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "share amounts cannot be negative")
		}
		if seen[sh.UserID] {
			return dErrors.Newf(dErrors.CodeInvalidInput, "duplicate share for member %s", sh.UserID)
		}
		seen[sh.UserID] = true
		total += sh.AmountCents
	}
	if total != expense.AmountCents {
		return dErrors.Newf(dErrors.CodeInvalidInput,
			"split total %d does not match expense amount %d", total, expense.AmountCents)
	}
	return nil
}

// DebtChange describes how one (debtor, creditor) pair balance moved as the
// result of a ledger mutation. AmountCents is the delta, positive meaning the
// debtor now owes the creditor that much more.
type DebtChange struct {
	GroupID     id.GroupID `json:"group_id"`
	DebtorID    id.UserID  `json:"debtor_id"`
	CreditorID  id.UserID  `json:"creditor_id"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
}

// Transaction is one suggested settlement payment.
type Transaction struct {
	FromID      id.UserID `json:"from_id"`
	ToID        id.UserID `json:"to_id"`
	AmountCents int64     `json:"amount_cents"`
}
