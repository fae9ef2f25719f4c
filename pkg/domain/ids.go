package domain

import (
	"github.com/google/uuid"

	dErrors "splitledger/pkg/domain-errors"
)

// Typed identifiers for the core entities. Wrapping uuid.UUID keeps a UserID
// from being passed where a GroupID is expected; parsing enforces the
// invariant that ids are valid, non-nil UUIDs at trust boundaries.
type (
	UserID       uuid.UUID
	GroupID      uuid.UUID
	BudgetID     uuid.UUID
	PeriodID     uuid.UUID
	ExpenseID    uuid.UUID
	ConnectionID uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind+" id")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id cannot be the nil UUID")
	}
	return u, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user", s)
	return UserID(u), err
}

func ParseGroupID(s string) (GroupID, error) {
	u, err := parseUUID("group", s)
	return GroupID(u), err
}

func ParseBudgetID(s string) (BudgetID, error) {
	u, err := parseUUID("budget", s)
	return BudgetID(u), err
}

func ParseExpenseID(s string) (ExpenseID, error) {
	u, err := parseUUID("expense", s)
	return ExpenseID(u), err
}

func NewUserID() UserID             { return UserID(uuid.New()) }
func NewGroupID() GroupID           { return GroupID(uuid.New()) }
func NewBudgetID() BudgetID         { return BudgetID(uuid.New()) }
func NewPeriodID() PeriodID         { return PeriodID(uuid.New()) }
func NewExpenseID() ExpenseID       { return ExpenseID(uuid.New()) }
func NewConnectionID() ConnectionID { return ConnectionID(uuid.New()) }

func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id GroupID) String() string      { return uuid.UUID(id).String() }
func (id BudgetID) String() string     { return uuid.UUID(id).String() }
func (id PeriodID) String() string     { return uuid.UUID(id).String() }
func (id ExpenseID) String() string    { return uuid.UUID(id).String() }
func (id ConnectionID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id GroupID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id BudgetID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id PeriodID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ExpenseID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ConnectionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
