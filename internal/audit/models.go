package audit

import (
	"time"

	id "splitledger/pkg/domain"
)

// Kind classifies audited domain actions.
type Kind string

const (
	KindExpenseSubmitted Kind = "expense_submitted"
	KindExpenseEdited    Kind = "expense_edited"
	KindExpenseDeleted   Kind = "expense_deleted"
	KindPaymentRecorded  Kind = "payment_recorded"
	KindBudgetAlert      Kind = "budget_alert"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Timestamp   time.Time    `json:"timestamp"`
	Kind        Kind         `json:"kind"`
	UserID      id.UserID    `json:"user_id"`
	GroupID     id.GroupID   `json:"group_id,omitempty"`
	ExpenseID   id.ExpenseID `json:"expense_id,omitempty"`
	BudgetID    id.BudgetID  `json:"budget_id,omitempty"`
	AmountCents int64        `json:"amount_cents,omitempty"`
	Detail      string       `json:"detail,omitempty"`
}
