package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	budgetmodels "splitledger/internal/budget/models"
	"splitledger/internal/notify"
	settlementmodels "splitledger/internal/settlement/models"
	id "splitledger/pkg/domain"
)

// =============================================================================
// Test Doubles
// =============================================================================

type capturingSink struct {
	delivered map[id.UserID][]notify.Envelope
	broadcast map[id.GroupID][]notify.Envelope
	members   map[id.GroupID][]id.UserID
}

func newCapturingSink() *capturingSink {
	return &capturingSink{
		delivered: make(map[id.UserID][]notify.Envelope),
		broadcast: make(map[id.GroupID][]notify.Envelope),
		members:   make(map[id.GroupID][]id.UserID),
	}
}

func (s *capturingSink) Deliver(ctx context.Context, userID id.UserID, env notify.Envelope) notify.DeliveryOutcome {
	s.delivered[userID] = append(s.delivered[userID], env)
	return notify.OutcomeDeliveredLive
}

func (s *capturingSink) BroadcastToGroup(ctx context.Context, groupID id.GroupID, env notify.Envelope) (map[id.UserID]notify.DeliveryOutcome, error) {
	s.broadcast[groupID] = append(s.broadcast[groupID], env)
	outcomes := make(map[id.UserID]notify.DeliveryOutcome)
	for _, m := range s.members[groupID] {
		outcomes[m] = notify.OutcomeDeliveredLive
	}
	return outcomes, nil
}

// =============================================================================
// Router Test Suite
// =============================================================================

type RouterSuite struct {
	suite.Suite
	sink   *capturingSink
	router *Router
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.sink = newCapturingSink()

	var err error
	s.router, err = New(s.sink)
	s.Require().NoError(err)
}

func (s *RouterSuite) TestNew() {
	s.Run("nil sink returns error", func() {
		_, err := New(nil)
		s.Error(err)
	})
}

func (s *RouterSuite) TestRouteAlert() {
	ctx := context.Background()

	s.Run("alert goes to the budget owner with full crossing context", func() {
		owner := id.NewUserID()
		at := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
		ev := budgetmodels.AlertEvent{
			BudgetID:         id.NewBudgetID(),
			OwnerID:          owner,
			PeriodID:         id.NewPeriodID(),
			ThresholdPercent: 90,
			SpendCents:       950,
			LimitCents:       1000,
			Currency:         "USD",
			At:               at,
		}

		outcome, err := s.router.RouteAlert(ctx, ev)
		s.NoError(err)
		s.Equal(notify.OutcomeDeliveredLive, outcome)

		envs := s.sink.delivered[owner]
		s.Require().Len(envs, 1)
		s.Equal(notify.TypeBudgetAlert, envs[0].Type)
		s.Equal(at, envs[0].Timestamp)

		var payload notify.BudgetAlertPayload
		s.Require().NoError(json.Unmarshal(envs[0].Payload, &payload))
		s.Equal(ev.BudgetID, payload.BudgetID)
		s.Equal(90, payload.ThresholdPercent)
		s.Equal(int64(950), payload.PeriodSpend)
		s.Equal(int64(1000), payload.Limit)
		s.Equal("USD", payload.Currency)
	})
}

func (s *RouterSuite) TestRouteDebtUpdate() {
	ctx := context.Background()

	s.Run("both parties see the pair from their own perspective", func() {
		debtor := id.NewUserID()
		creditor := id.NewUserID()
		update := DebtUpdate{
			GroupID:    id.NewGroupID(),
			DebtorID:   debtor,
			CreditorID: creditor,
			OwedCents:  1250,
			Currency:   "EUR",
		}

		outcomes, err := s.router.RouteDebtUpdate(ctx, update)
		s.NoError(err)
		s.Len(outcomes, 2)

		var creditorView notify.DebtUpdatePayload
		s.Require().Len(s.sink.delivered[creditor], 1)
		s.Require().NoError(json.Unmarshal(s.sink.delivered[creditor][0].Payload, &creditorView))
		s.Equal(debtor, creditorView.CounterpartyID)
		s.Equal(int64(1250), creditorView.NetAmount)

		var debtorView notify.DebtUpdatePayload
		s.Require().Len(s.sink.delivered[debtor], 1)
		s.Require().NoError(json.Unmarshal(s.sink.delivered[debtor][0].Payload, &debtorView))
		s.Equal(creditor, debtorView.CounterpartyID)
		s.Equal(int64(-1250), debtorView.NetAmount)
	})

	s.Run("settled pair routes a zero position to both sides", func() {
		update := DebtUpdate{
			GroupID:    id.NewGroupID(),
			DebtorID:   id.NewUserID(),
			CreditorID: id.NewUserID(),
			OwedCents:  0,
			Currency:   "USD",
		}

		_, err := s.router.RouteDebtUpdate(ctx, update)
		s.NoError(err)

		var payload notify.DebtUpdatePayload
		s.Require().Len(s.sink.delivered[update.DebtorID], 1)
		s.Require().NoError(json.Unmarshal(s.sink.delivered[update.DebtorID][0].Payload, &payload))
		s.Zero(payload.NetAmount)
	})
}

func (s *RouterSuite) TestRouteSettlementSuggestion() {
	ctx := context.Background()

	s.Run("suggestions broadcast to the whole group", func() {
		groupID := id.NewGroupID()
		alice, bob := id.NewUserID(), id.NewUserID()
		s.sink.members[groupID] = []id.UserID{alice, bob}

		txs := []settlementmodels.Transaction{
			{FromID: bob, ToID: alice, AmountCents: 700},
		}
		outcomes, err := s.router.RouteSettlementSuggestion(ctx, groupID, "USD", txs)
		s.NoError(err)
		s.Len(outcomes, 2)

		envs := s.sink.broadcast[groupID]
		s.Require().Len(envs, 1)
		s.Equal(notify.TypeSettlementSuggestion, envs[0].Type)

		var payload notify.SettlementSuggestionPayload
		s.Require().NoError(json.Unmarshal(envs[0].Payload, &payload))
		s.Equal(groupID, payload.GroupID)
		s.Require().Len(payload.Transactions, 1)
		s.Equal(bob, payload.Transactions[0].FromID)
		s.Equal(alice, payload.Transactions[0].ToID)
		s.Equal(int64(700), payload.Transactions[0].Amount)
	})
}
