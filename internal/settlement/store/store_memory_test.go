package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splitledger/internal/settlement/models"
	id "splitledger/pkg/domain"
	"splitledger/pkg/platform/sentinel"
)

func newExpense(groupID id.GroupID, payer id.UserID, amount int64) *models.Expense {
	return &models.Expense{
		ID:          id.NewExpenseID(),
		GroupID:     groupID,
		PayerID:     payer,
		AmountCents: amount,
		Currency:    "EUR",
	}
}

func TestMemoryStore_SaveAndGetExpense(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	groupID := id.NewGroupID()
	payer := id.NewUserID()

	expense := newExpense(groupID, payer, 2000)
	shares := []models.Share{{UserID: payer, AmountCents: 2000}}
	require.NoError(t, s.SaveExpense(ctx, expense, shares))

	got, gotShares, err := s.GetExpense(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, expense.ID, got.ID)
	assert.Equal(t, shares, gotShares)

	// Saving the same id twice is a conflict.
	require.ErrorIs(t, s.SaveExpense(ctx, expense, shares), sentinel.ErrConflict)
}

func TestMemoryStore_GetUnknownExpense(t *testing.T) {
	s := NewMemory()
	_, _, err := s.GetExpense(context.Background(), id.NewExpenseID())
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_MarkReversed(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	expense := newExpense(id.NewGroupID(), id.NewUserID(), 1000)
	require.NoError(t, s.SaveExpense(ctx, expense, []models.Share{{UserID: expense.PayerID, AmountCents: 1000}}))

	require.NoError(t, s.MarkReversed(ctx, expense.ID))

	got, _, err := s.GetExpense(ctx, expense.ID)
	require.NoError(t, err)
	assert.True(t, got.Reversed)

	// A second reversal is an invalid state transition, not a no-op.
	require.ErrorIs(t, s.MarkReversed(ctx, expense.ID), sentinel.ErrInvalidState)
	require.ErrorIs(t, s.MarkReversed(ctx, id.NewExpenseID()), sentinel.ErrNotFound)
}

func TestMemoryStore_ApplyDeltas(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	groupID := id.NewGroupID()
	alice := id.NewUserID()
	bob := id.NewUserID()

	require.NoError(t, s.ApplyDeltas(ctx, groupID, map[id.UserID]int64{alice: 1000, bob: -1000}))

	net, err := s.NetBalances(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), net[alice])
	assert.Equal(t, int64(-1000), net[bob])

	// Settled members drop out of the vector entirely.
	require.NoError(t, s.ApplyDeltas(ctx, groupID, map[id.UserID]int64{alice: -1000, bob: 1000}))
	net, err = s.NetBalances(ctx, groupID)
	require.NoError(t, err)
	assert.Empty(t, net)
}

func TestMemoryStore_NetBalancesIsASnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	groupID := id.NewGroupID()
	alice := id.NewUserID()

	require.NoError(t, s.ApplyDeltas(ctx, groupID, map[id.UserID]int64{alice: 500}))

	net, err := s.NetBalances(ctx, groupID)
	require.NoError(t, err)
	net[alice] = 9999

	again, err := s.NetBalances(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), again[alice], "callers must not be able to mutate store state")
}

func TestMemoryStore_GroupExpensesExcludesReversed(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	groupID := id.NewGroupID()
	payer := id.NewUserID()

	kept := newExpense(groupID, payer, 1000)
	reversed := newExpense(groupID, payer, 2000)
	other := newExpense(id.NewGroupID(), payer, 3000)

	for _, e := range []*models.Expense{kept, reversed, other} {
		require.NoError(t, s.SaveExpense(ctx, e, []models.Share{{UserID: payer, AmountCents: e.AmountCents}}))
	}
	require.NoError(t, s.MarkReversed(ctx, reversed.ID))

	got, err := s.GroupExpenses(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, kept.ID, got[0].ID)
}

func TestMemoryStore_GroupExpensesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	groupID := id.NewGroupID()
	payer := id.NewUserID()
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	older := newExpense(groupID, payer, 1000)
	older.CreatedAt = base
	newer := newExpense(groupID, payer, 2000)
	newer.CreatedAt = base.Add(time.Hour)

	for _, e := range []*models.Expense{older, newer} {
		require.NoError(t, s.SaveExpense(ctx, e, []models.Share{{UserID: payer, AmountCents: e.AmountCents}}))
	}

	got, err := s.GroupExpenses(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, older.ID, got[1].ID)
}

func TestMemoryStore_PersonalExpenses(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	payer := id.NewUserID()

	personal := newExpense(id.GroupID{}, payer, 1000)
	reversed := newExpense(id.GroupID{}, payer, 2000)
	grouped := newExpense(id.NewGroupID(), payer, 3000)
	someoneElses := newExpense(id.GroupID{}, id.NewUserID(), 4000)

	for _, e := range []*models.Expense{personal, reversed, grouped, someoneElses} {
		require.NoError(t, s.SaveExpense(ctx, e, []models.Share{{UserID: e.PayerID, AmountCents: e.AmountCents}}))
	}
	require.NoError(t, s.MarkReversed(ctx, reversed.ID))

	got, err := s.PersonalExpenses(ctx, payer)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, personal.ID, got[0].ID)
}
