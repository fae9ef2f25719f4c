// Package router turns domain events into wire-level notification envelopes
// and dispatches them through the hub. It is stateless: any failure here is a
// mapping or serialization error, never a business-logic one.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	budgetmodels "splitledger/internal/budget/models"
	"splitledger/internal/notify"
	settlementmodels "splitledger/internal/settlement/models"
	id "splitledger/pkg/domain"
)

// Sink is the delivery side of the hub.
type Sink interface {
	Deliver(ctx context.Context, userID id.UserID, env notify.Envelope) notify.DeliveryOutcome
	BroadcastToGroup(ctx context.Context, groupID id.GroupID, env notify.Envelope) (map[id.UserID]notify.DeliveryOutcome, error)
}

// DebtUpdate is the routed form of a pair balance after a ledger mutation:
// after the mutation, the debtor owes the creditor OwedCents (zero when the
// pair has settled out).
type DebtUpdate struct {
	GroupID    id.GroupID
	DebtorID   id.UserID
	CreditorID id.UserID
	OwedCents  int64
	Currency   string
}

type Router struct {
	sink   Sink
	logger *slog.Logger
}

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

func New(sink Sink, opts ...Option) (*Router, error) {
	if sink == nil {
		return nil, fmt.Errorf("delivery sink is required")
	}
	r := &Router{sink: sink}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RouteAlert delivers a threshold-crossing alert to the budget owner.
func (r *Router) RouteAlert(ctx context.Context, ev budgetmodels.AlertEvent) (notify.DeliveryOutcome, error) {
	payload, err := json.Marshal(notify.BudgetAlertPayload{
		BudgetID:         ev.BudgetID,
		ThresholdPercent: ev.ThresholdPercent,
		PeriodSpend:      ev.SpendCents,
		Limit:            ev.LimitCents,
		Currency:         ev.Currency,
	})
	if err != nil {
		return notify.OutcomeFailed, fmt.Errorf("marshal budget alert: %w", err)
	}
	outcome := r.sink.Deliver(ctx, ev.OwnerID, notify.Envelope{
		Type:      notify.TypeBudgetAlert,
		Payload:   payload,
		Timestamp: ev.At,
	})
	r.log(ctx, "budget alert routed", "budget_id", ev.BudgetID, "threshold", ev.ThresholdPercent, "outcome", outcome)
	return outcome, nil
}

// RouteDebtUpdate delivers the updated pair position to both parties. Each
// side sees the amount signed from its own perspective: positive means the
// counterparty owes them.
func (r *Router) RouteDebtUpdate(ctx context.Context, u DebtUpdate) (map[id.UserID]notify.DeliveryOutcome, error) {
	outcomes := make(map[id.UserID]notify.DeliveryOutcome, 2)

	deliver := func(recipient, counterparty id.UserID, net int64) error {
		payload, err := json.Marshal(notify.DebtUpdatePayload{
			GroupID:        u.GroupID,
			CounterpartyID: counterparty,
			NetAmount:      net,
			Currency:       u.Currency,
		})
		if err != nil {
			return fmt.Errorf("marshal debt update: %w", err)
		}
		outcomes[recipient] = r.sink.Deliver(ctx, recipient, notify.Envelope{
			Type:    notify.TypeDebtUpdate,
			Payload: payload,
		})
		return nil
	}

	if err := deliver(u.CreditorID, u.DebtorID, u.OwedCents); err != nil {
		return outcomes, err
	}
	if err := deliver(u.DebtorID, u.CreditorID, -u.OwedCents); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// RouteSettlementSuggestion broadcasts the suggested transactions to every
// group member, the acting member included.
func (r *Router) RouteSettlementSuggestion(ctx context.Context, groupID id.GroupID, currency string, txs []settlementmodels.Transaction) (map[id.UserID]notify.DeliveryOutcome, error) {
	suggested := make([]notify.SuggestedTransaction, len(txs))
	for i, tx := range txs {
		suggested[i] = notify.SuggestedTransaction{
			FromID: tx.FromID,
			ToID:   tx.ToID,
			Amount: tx.AmountCents,
		}
	}
	payload, err := json.Marshal(notify.SettlementSuggestionPayload{
		GroupID:      groupID,
		Transactions: suggested,
		Currency:     currency,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal settlement suggestion: %w", err)
	}
	return r.sink.BroadcastToGroup(ctx, groupID, notify.Envelope{
		Type:    notify.TypeSettlementSuggestion,
		Payload: payload,
	})
}

func (r *Router) log(ctx context.Context, msg string, args ...any) {
	if r.logger != nil {
		r.logger.DebugContext(ctx, msg, args...)
	}
}
