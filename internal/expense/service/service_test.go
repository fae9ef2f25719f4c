package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"splitledger/internal/budget/evaluator"
	budgetmodels "splitledger/internal/budget/models"
	budgetstore "splitledger/internal/budget/store"
	"splitledger/internal/notify"
	"splitledger/internal/notify/router"
	"splitledger/internal/settlement/engine"
	"splitledger/internal/settlement/models"
	settlementstore "splitledger/internal/settlement/store"
	id "splitledger/pkg/domain"
	dErrors "splitledger/pkg/domain-errors"
)

// =============================================================================
// Test Doubles
// =============================================================================

type staticResolver struct {
	members map[id.GroupID][]id.UserID
}

func (r *staticResolver) Members(ctx context.Context, groupID id.GroupID) ([]id.UserID, error) {
	return r.members[groupID], nil
}

// capturingSink records routed envelopes instead of a live hub.
type capturingSink struct {
	delivered map[id.UserID][]notify.Envelope
	broadcast []notify.Envelope
}

func newCapturingSink() *capturingSink {
	return &capturingSink{delivered: make(map[id.UserID][]notify.Envelope)}
}

func (s *capturingSink) Deliver(ctx context.Context, userID id.UserID, env notify.Envelope) notify.DeliveryOutcome {
	env.UserID = userID
	s.delivered[userID] = append(s.delivered[userID], env)
	return notify.OutcomeDeliveredLive
}

func (s *capturingSink) BroadcastToGroup(ctx context.Context, groupID id.GroupID, env notify.Envelope) (map[id.UserID]notify.DeliveryOutcome, error) {
	s.broadcast = append(s.broadcast, env)
	return map[id.UserID]notify.DeliveryOutcome{}, nil
}

func (s *capturingSink) byType(userID id.UserID, typ notify.EventType) []notify.Envelope {
	var out []notify.Envelope
	for _, env := range s.delivered[userID] {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// =============================================================================
// Expense Service Test Suite
// =============================================================================
// Justification for unit tests: the service is the one place where the ledger,
// the budget evaluator, and the notification router compose. The cross-module
// consequences of a mutation (balances, period spend, routed events) are
// asserted here against real in-memory collaborators.

type ServiceSuite struct {
	suite.Suite
	budgets  *budgetstore.MemoryStore
	ledger   *settlementstore.MemoryStore
	sink     *capturingSink
	resolver *staticResolver
	service  *Service

	now     time.Time
	groupID id.GroupID
	alice   id.UserID
	bob     id.UserID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.budgets = budgetstore.NewMemory()
	s.ledger = settlementstore.NewMemory()
	s.sink = newCapturingSink()
	s.resolver = &staticResolver{members: make(map[id.GroupID][]id.UserID)}
	s.now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	s.groupID = id.NewGroupID()
	s.alice = id.NewUserID()
	s.bob = id.NewUserID()
	s.resolver.members[s.groupID] = []id.UserID{s.alice, s.bob}

	eng, err := engine.New(s.ledger)
	s.Require().NoError(err)
	eval, err := evaluator.New(s.budgets, evaluator.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	r, err := router.New(s.sink)
	s.Require().NoError(err)

	s.service, err = New(eng, eval, s.budgets, r, s.resolver,
		WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
}

func (s *ServiceSuite) createBudget(owner id.UserID, category string, limitCents int64, thresholds []int) *budgetmodels.Budget {
	budget := &budgetmodels.Budget{
		OwnerID:    owner,
		Category:   category,
		LimitCents: limitCents,
		Currency:   "USD",
		Start:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		Cadence:    budgetmodels.CadenceMonthly,
		Thresholds: thresholds,
	}
	s.Require().NoError(s.service.CreateBudget(context.Background(), budget))
	return budget
}

// newGroup isolates balance assertions from earlier subtests in the same
// method.
func (s *ServiceSuite) newGroup(members ...id.UserID) id.GroupID {
	groupID := id.NewGroupID()
	s.resolver.members[groupID] = members
	return groupID
}

func (s *ServiceSuite) groupExpense(amountCents int64, category string) *models.Expense {
	return &models.Expense{
		GroupID:     s.groupID,
		PayerID:     s.alice,
		Category:    category,
		AmountCents: amountCents,
		Currency:    "USD",
	}
}

func (s *ServiceSuite) evenShares(amountEach int64) []models.Share {
	return []models.Share{
		{UserID: s.alice, AmountCents: amountEach},
		{UserID: s.bob, AmountCents: amountEach},
	}
}

// =============================================================================
// Budget Lifecycle Tests
// =============================================================================

func (s *ServiceSuite) TestCreateBudget() {
	ctx := context.Background()

	s.Run("valid budget gets an id and created timestamp", func() {
		budget := s.createBudget(s.alice, "dining", 10_000, []int{50, 90, 100})
		s.False(budget.ID.IsNil())
		s.Equal(s.now, budget.CreatedAt)
	})

	s.Run("invalid configuration is rejected", func() {
		err := s.service.CreateBudget(ctx, &budgetmodels.Budget{
			OwnerID:    s.alice,
			Currency:   "USD",
			Start:      s.now,
			End:        s.now.AddDate(0, 1, 0),
			Cadence:    budgetmodels.CadenceMonthly,
			Thresholds: []int{90, 50}, // not ascending
		})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("overlapping budget for same owner and category conflicts", func() {
		owner := id.NewUserID()
		s.createBudget(owner, "travel", 10_000, []int{100})

		err := s.service.CreateBudget(ctx, &budgetmodels.Budget{
			OwnerID:    owner,
			Category:   "travel",
			LimitCents: 5_000,
			Currency:   "USD",
			Start:      time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
			End:        time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC),
			Cadence:    budgetmodels.CadenceMonthly,
			Thresholds: []int{100},
		})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestBudgetStatus() {
	ctx := context.Background()

	s.Run("remaining reflects period spend", func() {
		budget := s.createBudget(s.alice, "", 10_000, []int{100})

		_, err := s.service.SubmitExpense(ctx, &models.Expense{
			PayerID:     s.alice,
			AmountCents: 3_000,
			Currency:    "USD",
		}, nil)
		s.Require().NoError(err)

		remaining, err := s.service.BudgetStatus(ctx, budget.ID)
		s.NoError(err)
		s.Equal(int64(7_000), remaining)
	})

	s.Run("overspent budget clamps remaining at zero", func() {
		owner := id.NewUserID()
		budget := s.createBudget(owner, "", 1_000, []int{100})

		_, err := s.service.SubmitExpense(ctx, &models.Expense{
			PayerID:     owner,
			AmountCents: 2_500,
			Currency:    "USD",
		}, nil)
		s.Require().NoError(err)

		remaining, err := s.service.BudgetStatus(ctx, budget.ID)
		s.NoError(err)
		s.Zero(remaining)
	})

	s.Run("unknown budget is not found", func() {
		_, err := s.service.BudgetStatus(ctx, id.NewBudgetID())
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Submit Tests
// =============================================================================

func (s *ServiceSuite) TestSubmitExpense() {
	ctx := context.Background()

	s.Run("group expense settles balances and notifies both parties", func() {
		expense, err := s.service.SubmitExpense(ctx, s.groupExpense(2_000, "dining"), s.evenShares(1_000))
		s.NoError(err)
		s.False(expense.ID.IsNil())

		net, err := s.service.GroupBalances(ctx, s.groupID)
		s.NoError(err)
		s.Equal(int64(1_000), net[s.alice])
		s.Equal(int64(-1_000), net[s.bob])

		s.Require().Len(s.sink.byType(s.bob, notify.TypeDebtUpdate), 1)
		var payload notify.DebtUpdatePayload
		s.Require().NoError(json.Unmarshal(s.sink.byType(s.bob, notify.TypeDebtUpdate)[0].Payload, &payload))
		s.Equal(s.alice, payload.CounterpartyID)
		s.Equal(int64(-1_000), payload.NetAmount) // bob owes alice

		s.Require().Len(s.sink.byType(s.alice, notify.TypeDebtUpdate), 1)
	})

	s.Run("each member's budget accrues their own share only", func() {
		aliceBudget := s.createBudget(s.alice, "dining", 10_000, []int{100})
		bobBudget := s.createBudget(s.bob, "dining", 10_000, []int{100})

		_, err := s.service.SubmitExpense(ctx, s.groupExpense(3_000, "dining"), []models.Share{
			{UserID: s.alice, AmountCents: 2_000},
			{UserID: s.bob, AmountCents: 1_000},
		})
		s.Require().NoError(err)

		aliceRemaining, err := s.service.BudgetStatus(ctx, aliceBudget.ID)
		s.NoError(err)
		s.Equal(int64(8_000), aliceRemaining)

		bobRemaining, err := s.service.BudgetStatus(ctx, bobBudget.ID)
		s.NoError(err)
		s.Equal(int64(9_000), bobRemaining)
	})

	s.Run("crossing a threshold routes an alert to the budget owner", func() {
		owner := id.NewUserID()
		s.resolver.members[s.groupID] = []id.UserID{s.alice, s.bob, owner}
		budget := s.createBudget(owner, "dining", 1_000, []int{50, 90})

		expense := s.groupExpense(1_900, "dining")
		_, err := s.service.SubmitExpense(ctx, expense, []models.Share{
			{UserID: s.alice, AmountCents: 1_000},
			{UserID: owner, AmountCents: 900},
		})
		s.Require().NoError(err)

		alerts := s.sink.byType(owner, notify.TypeBudgetAlert)
		s.Require().Len(alerts, 2) // 50 and 90 crossed by one expense

		var first notify.BudgetAlertPayload
		s.Require().NoError(json.Unmarshal(alerts[0].Payload, &first))
		s.Equal(budget.ID, first.BudgetID)
		s.Equal(50, first.ThresholdPercent)
	})

	s.Run("personal expense accrues the full amount and emits no group events", func() {
		owner := id.NewUserID()
		budget := s.createBudget(owner, "", 5_000, []int{100})

		before := len(s.sink.delivered[s.bob])
		_, err := s.service.SubmitExpense(ctx, &models.Expense{
			PayerID:     owner,
			AmountCents: 1_200,
			Currency:    "USD",
		}, nil)
		s.NoError(err)

		remaining, err := s.service.BudgetStatus(ctx, budget.ID)
		s.NoError(err)
		s.Equal(int64(3_800), remaining)
		s.Len(s.sink.delivered[s.bob], before)
	})

	s.Run("non-member payer is forbidden", func() {
		outsider := id.NewUserID()
		expense := s.groupExpense(1_000, "dining")
		expense.PayerID = outsider

		_, err := s.service.SubmitExpense(ctx, expense, []models.Share{
			{UserID: outsider, AmountCents: 1_000},
		})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("non-member share participant is rejected", func() {
		_, err := s.service.SubmitExpense(ctx, s.groupExpense(1_000, "dining"), []models.Share{
			{UserID: s.alice, AmountCents: 500},
			{UserID: id.NewUserID(), AmountCents: 500},
		})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("non-positive personal expense is rejected", func() {
		_, err := s.service.SubmitExpense(ctx, &models.Expense{
			PayerID:     s.alice,
			AmountCents: 0,
			Currency:    "USD",
		}, nil)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// =============================================================================
// Edit and Delete Tests
// =============================================================================

func (s *ServiceSuite) TestEditExpense() {
	ctx := context.Background()

	s.Run("edit replaces balances with the new split", func() {
		original, err := s.service.SubmitExpense(ctx, s.groupExpense(2_000, "dining"), s.evenShares(1_000))
		s.Require().NoError(err)

		replacement := s.groupExpense(3_000, "dining")
		updated, err := s.service.EditExpense(ctx, original.ID, replacement, []models.Share{
			{UserID: s.alice, AmountCents: 1_000},
			{UserID: s.bob, AmountCents: 2_000},
		})
		s.NoError(err)
		s.NotEqual(original.ID, updated.ID)

		net, err := s.service.GroupBalances(ctx, s.groupID)
		s.NoError(err)
		s.Equal(int64(2_000), net[s.alice])
		s.Equal(int64(-2_000), net[s.bob])
	})

	s.Run("edit adjusts budget spend by the share difference", func() {
		budget := s.createBudget(s.alice, "dining", 10_000, []int{100})

		original, err := s.service.SubmitExpense(ctx, s.groupExpense(2_000, "dining"), s.evenShares(1_000))
		s.Require().NoError(err)

		replacement := s.groupExpense(1_000, "dining")
		_, err = s.service.EditExpense(ctx, original.ID, replacement, []models.Share{
			{UserID: s.alice, AmountCents: 400},
			{UserID: s.bob, AmountCents: 600},
		})
		s.Require().NoError(err)

		remaining, err := s.service.BudgetStatus(ctx, budget.ID)
		s.NoError(err)
		s.Equal(int64(9_600), remaining)
	})

	s.Run("rejected edit leaves the original ledger entry intact", func() {
		groupID := s.newGroup(s.alice, s.bob)
		expense := s.groupExpense(2_000, "dining")
		expense.GroupID = groupID
		original, err := s.service.SubmitExpense(ctx, expense, s.evenShares(1_000))
		s.Require().NoError(err)

		replacement := s.groupExpense(1_000, "dining")
		replacement.GroupID = groupID
		_, err = s.service.EditExpense(ctx, original.ID, replacement, []models.Share{
			{UserID: s.alice, AmountCents: 999}, // does not sum to amount
		})
		s.Error(err)

		net, err := s.service.GroupBalances(ctx, groupID)
		s.NoError(err)
		s.Equal(int64(1_000), net[s.alice])
		s.Equal(int64(-1_000), net[s.bob])

		// The original can still be deleted, proving it was not reversed.
		s.NoError(s.service.DeleteExpense(ctx, original.ID))
	})

	s.Run("editing an unknown expense is not found", func() {
		_, err := s.service.EditExpense(ctx, id.NewExpenseID(), s.groupExpense(1_000, "dining"), s.evenShares(500))
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestDeleteExpense() {
	ctx := context.Background()

	s.Run("delete restores balances and lowers period spend", func() {
		budget := s.createBudget(s.alice, "dining", 10_000, []int{100})

		expense, err := s.service.SubmitExpense(ctx, s.groupExpense(2_000, "dining"), s.evenShares(1_000))
		s.Require().NoError(err)

		s.NoError(s.service.DeleteExpense(ctx, expense.ID))

		net, err := s.service.GroupBalances(ctx, s.groupID)
		s.NoError(err)
		s.Empty(net)

		remaining, err := s.service.BudgetStatus(ctx, budget.ID)
		s.NoError(err)
		s.Equal(int64(10_000), remaining)
	})

	s.Run("deleting an alerted expense does not re-alert on the next one", func() {
		owner := id.NewUserID()
		groupID := s.newGroup(s.alice, owner)
		s.createBudget(owner, "dining", 1_000, []int{50})

		expense := s.groupExpense(1_200, "dining")
		expense.GroupID = groupID
		_, err := s.service.SubmitExpense(ctx, expense, []models.Share{
			{UserID: s.alice, AmountCents: 600},
			{UserID: owner, AmountCents: 600},
		})
		s.Require().NoError(err)
		s.Require().Len(s.sink.byType(owner, notify.TypeBudgetAlert), 1)

		s.Require().NoError(s.service.DeleteExpense(ctx, expense.ID))

		again := s.groupExpense(1_200, "dining")
		again.GroupID = groupID
		_, err = s.service.SubmitExpense(ctx, again, []models.Share{
			{UserID: s.alice, AmountCents: 600},
			{UserID: owner, AmountCents: 600},
		})
		s.Require().NoError(err)

		// Still just the one alert for this period.
		s.Len(s.sink.byType(owner, notify.TypeBudgetAlert), 1)
	})

	s.Run("deleting twice conflicts", func() {
		expense, err := s.service.SubmitExpense(ctx, s.groupExpense(1_000, "dining"), s.evenShares(500))
		s.Require().NoError(err)

		s.Require().NoError(s.service.DeleteExpense(ctx, expense.ID))
		err = s.service.DeleteExpense(ctx, expense.ID)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("deleting an unknown expense is not found", func() {
		err := s.service.DeleteExpense(ctx, id.NewExpenseID())
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Personal Expense Tests
// =============================================================================

func (s *ServiceSuite) personalExpense(payer id.UserID, amountCents int64, category string) *models.Expense {
	return &models.Expense{
		PayerID:     payer,
		Category:    category,
		AmountCents: amountCents,
		Currency:    "USD",
	}
}

func (s *ServiceSuite) TestPersonalExpenseLifecycle() {
	ctx := context.Background()

	s.Run("submitted personal expense is persisted and listed", func() {
		owner := id.NewUserID()
		created, err := s.service.SubmitExpense(ctx, s.personalExpense(owner, 1_200, "groceries"), nil)
		s.Require().NoError(err)

		listed, err := s.service.PersonalExpenses(ctx, owner)
		s.NoError(err)
		s.Require().Len(listed, 1)
		s.Equal(created.ID, listed[0].ID)
		s.Equal(int64(1_200), listed[0].AmountCents)
	})

	s.Run("deleting a personal expense restores the budget", func() {
		owner := id.NewUserID()
		budget := s.createBudget(owner, "groceries", 5_000, []int{100})

		created, err := s.service.SubmitExpense(ctx, s.personalExpense(owner, 1_500, "groceries"), nil)
		s.Require().NoError(err)

		remaining, err := s.service.BudgetStatus(ctx, budget.ID)
		s.Require().NoError(err)
		s.Require().Equal(int64(3_500), remaining)

		s.NoError(s.service.DeleteExpense(ctx, created.ID))

		remaining, err = s.service.BudgetStatus(ctx, budget.ID)
		s.NoError(err)
		s.Equal(int64(5_000), remaining)

		listed, err := s.service.PersonalExpenses(ctx, owner)
		s.NoError(err)
		s.Empty(listed)
	})

	s.Run("editing a personal expense adjusts the accrued spend", func() {
		owner := id.NewUserID()
		budget := s.createBudget(owner, "groceries", 5_000, []int{100})

		created, err := s.service.SubmitExpense(ctx, s.personalExpense(owner, 2_000, "groceries"), nil)
		s.Require().NoError(err)

		updated, err := s.service.EditExpense(ctx, created.ID, s.personalExpense(owner, 800, "groceries"), nil)
		s.NoError(err)
		s.NotEqual(created.ID, updated.ID)
		s.True(updated.GroupID.IsNil())

		remaining, err := s.service.BudgetStatus(ctx, budget.ID)
		s.NoError(err)
		s.Equal(int64(4_200), remaining)
	})

	s.Run("personal edit with splits is rejected", func() {
		owner := id.NewUserID()
		created, err := s.service.SubmitExpense(ctx, s.personalExpense(owner, 1_000, "groceries"), nil)
		s.Require().NoError(err)

		_, err = s.service.EditExpense(ctx, created.ID, s.personalExpense(owner, 1_000, "groceries"), []models.Share{
			{UserID: owner, AmountCents: 1_000},
		})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

		// The rejected edit left the original in place.
		s.NoError(s.service.DeleteExpense(ctx, created.ID))
	})

	s.Run("personal expenses never leak into group listings", func() {
		owner := id.NewUserID()
		_, err := s.service.SubmitExpense(ctx, s.personalExpense(owner, 900, "groceries"), nil)
		s.Require().NoError(err)

		listed, err := s.service.GroupExpenses(ctx, s.groupID)
		s.NoError(err)
		for _, e := range listed {
			s.NotEqual(owner, e.PayerID)
		}
	})
}

// =============================================================================
// Expense Listing Tests
// =============================================================================

func (s *ServiceSuite) TestGroupExpenses() {
	ctx := context.Background()

	s.Run("listing returns active expenses and skips reversed ones", func() {
		groupID := s.newGroup(s.alice, s.bob)
		first := s.groupExpense(2_000, "dining")
		first.GroupID = groupID
		kept, err := s.service.SubmitExpense(ctx, first, s.evenShares(1_000))
		s.Require().NoError(err)

		second := s.groupExpense(1_000, "dining")
		second.GroupID = groupID
		deleted, err := s.service.SubmitExpense(ctx, second, s.evenShares(500))
		s.Require().NoError(err)
		s.Require().NoError(s.service.DeleteExpense(ctx, deleted.ID))

		listed, err := s.service.GroupExpenses(ctx, groupID)
		s.NoError(err)
		s.Require().Len(listed, 1)
		s.Equal(kept.ID, listed[0].ID)
	})

	s.Run("empty group lists nothing", func() {
		listed, err := s.service.GroupExpenses(ctx, s.newGroup(s.alice))
		s.NoError(err)
		s.Empty(listed)
	})
}

// =============================================================================
// Payment and Suggestion Tests
// =============================================================================

func (s *ServiceSuite) TestRecordPayment() {
	ctx := context.Background()

	s.Run("payment notifies both parties of the new position", func() {
		_, err := s.service.SubmitExpense(ctx, s.groupExpense(2_000, "dining"), s.evenShares(1_000))
		s.Require().NoError(err)

		s.NoError(s.service.RecordPayment(ctx, s.groupID, s.bob, s.alice, 1_000, "USD"))

		net, err := s.service.GroupBalances(ctx, s.groupID)
		s.NoError(err)
		s.Empty(net)

		updates := s.sink.byType(s.bob, notify.TypeDebtUpdate)
		s.Require().NotEmpty(updates)
		var payload notify.DebtUpdatePayload
		s.Require().NoError(json.Unmarshal(updates[len(updates)-1].Payload, &payload))
		s.Zero(payload.NetAmount) // fully settled
	})
}

func (s *ServiceSuite) TestSuggestSettlements() {
	ctx := context.Background()

	s.Run("plan settles the group and is broadcast", func() {
		_, err := s.service.SubmitExpense(ctx, s.groupExpense(2_000, "dining"), s.evenShares(1_000))
		s.Require().NoError(err)

		txs, err := s.service.SuggestSettlements(ctx, s.groupID, "USD")
		s.NoError(err)
		s.Require().Len(txs, 1)
		s.Equal(s.bob, txs[0].FromID)
		s.Equal(s.alice, txs[0].ToID)
		s.Equal(int64(1_000), txs[0].AmountCents)

		s.Require().Len(s.sink.broadcast, 1)
		s.Equal(notify.TypeSettlementSuggestion, s.sink.broadcast[0].Type)
	})
}
