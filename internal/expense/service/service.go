// Package service orchestrates expense mutations: each submit, edit, or
// delete settles the split into the group ledger and evaluates every affected
// budget as one logical unit, then emits the resulting notification events.
// Notification delivery failures never fail the business operation.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"splitledger/internal/audit"
	"splitledger/internal/budget/evaluator"
	budgetmodels "splitledger/internal/budget/models"
	budgetstore "splitledger/internal/budget/store"
	"splitledger/internal/expense/metrics"
	"splitledger/internal/notify/router"
	"splitledger/internal/settlement/engine"
	"splitledger/internal/settlement/models"
	id "splitledger/pkg/domain"
	dErrors "splitledger/pkg/domain-errors"
)

// GroupResolver resolves group membership; owned by the group-management
// collaborator.
type GroupResolver interface {
	Members(ctx context.Context, groupID id.GroupID) ([]id.UserID, error)
}

type Service struct {
	engine    *engine.Engine
	evaluator *evaluator.Evaluator
	budgets   budgetstore.BudgetStore
	router    *router.Router
	groups    GroupResolver

	auditor audit.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	clock   func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Service) { s.auditor = p }
}

// WithClock sets the time source for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(eng *engine.Engine, eval *evaluator.Evaluator, budgets budgetstore.BudgetStore, r *router.Router, groups GroupResolver, opts ...Option) (*Service, error) {
	if eng == nil || eval == nil || budgets == nil || r == nil || groups == nil {
		return nil, fmt.Errorf("engine, evaluator, budget store, router, and group resolver are required")
	}
	s := &Service{
		engine:    eng,
		evaluator: eval,
		budgets:   budgets,
		router:    r,
		groups:    groups,
		auditor:   audit.NopPublisher{},
		tracer:    otel.Tracer("splitledger/expense"),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateBudget validates and persists a budget. The first expense inside the
// budget window opens its period state lazily.
func (s *Service) CreateBudget(ctx context.Context, budget *budgetmodels.Budget) error {
	if err := budget.Validate(); err != nil {
		return err
	}
	if budget.ID.IsNil() {
		budget.ID = id.NewBudgetID()
	}
	if budget.CreatedAt.IsZero() {
		budget.CreatedAt = s.clock()
	}
	return s.budgets.Create(ctx, budget)
}

// BudgetStatus reports the remaining amount in the budget's current period,
// clamped at zero when overspent.
func (s *Service) BudgetStatus(ctx context.Context, budgetID id.BudgetID) (remainingCents int64, err error) {
	budget, err := s.budgets.Get(ctx, budgetID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeNotFound, "budget not set")
	}
	spend, err := s.evaluator.CurrentSpend(ctx, budget, s.clock())
	if err != nil {
		return 0, err
	}
	remaining := budget.LimitCents - spend
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// SubmitExpense validates the expense, settles its split into the group
// ledger, and evaluates every affected budget, then routes the resulting
// events. Split shares must sum exactly to the expense amount; every share
// member must belong to the group.
func (s *Service) SubmitExpense(ctx context.Context, expense *models.Expense, shares []models.Share) (*models.Expense, error) {
	ctx, span := s.tracer.Start(ctx, "expense.Submit",
		trace.WithAttributes(attribute.String("group_id", expense.GroupID.String())))
	defer span.End()
	start := s.clock()

	if expense.ID.IsNil() {
		expense.ID = id.NewExpenseID()
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = s.clock()
	}

	grouped := !expense.GroupID.IsNil()
	if grouped {
		if err := s.checkMembership(ctx, expense.GroupID, expense.PayerID, shares); err != nil {
			s.metrics.IncrementMutation("submit", "rejected")
			return nil, err
		}
		changes, err := s.engine.ApplySplit(ctx, expense, shares)
		if err != nil {
			s.metrics.IncrementMutation("submit", "failed")
			return nil, err
		}
		alerts, err := s.evaluateShares(ctx, expense, shares, 1)
		if err != nil {
			s.metrics.IncrementMutation("submit", "failed")
			return nil, err
		}
		s.emitEvents(ctx, expense.GroupID, changes, alerts)
	} else {
		if err := s.engine.RecordPersonal(ctx, expense); err != nil {
			outcome := "failed"
			if dErrors.HasCode(err, dErrors.CodeInvalidInput) {
				outcome = "rejected"
			}
			s.metrics.IncrementMutation("submit", outcome)
			return nil, err
		}
		alerts, err := s.evaluateOne(ctx, expense.PayerID, expense.Category, expense.CreatedAt, expense.AmountCents)
		if err != nil {
			s.metrics.IncrementMutation("submit", "failed")
			return nil, err
		}
		s.emitEvents(ctx, expense.GroupID, nil, alerts)
	}

	_ = s.auditor.Emit(ctx, audit.Event{
		Kind:        audit.KindExpenseSubmitted,
		UserID:      expense.PayerID,
		GroupID:     expense.GroupID,
		ExpenseID:   expense.ID,
		AmountCents: expense.AmountCents,
	})
	s.metrics.IncrementMutation("submit", "ok")
	s.metrics.ObserveMutationLatency(s.clock().Sub(start))
	return expense, nil
}

// EditExpense reverses the original split and applies the replacement as
// compensating entries; historical balance state is never overwritten. The
// replacement gets a fresh expense id.
func (s *Service) EditExpense(ctx context.Context, expenseID id.ExpenseID, replacement *models.Expense, shares []models.Share) (*models.Expense, error) {
	ctx, span := s.tracer.Start(ctx, "expense.Edit",
		trace.WithAttributes(attribute.String("expense_id", expenseID.String())))
	defer span.End()

	existing, _, err := s.engine.Expense(ctx, expenseID)
	if err != nil {
		s.metrics.IncrementMutation("edit", "failed")
		return nil, err
	}

	replacement.ID = id.NewExpenseID()
	replacement.GroupID = existing.GroupID
	if replacement.PayerID.IsNil() {
		replacement.PayerID = existing.PayerID
	}
	if replacement.CreatedAt.IsZero() {
		replacement.CreatedAt = s.clock()
	}

	// Validate the replacement fully before touching the ledger so a
	// rejected edit leaves the original expense untouched.
	personal := replacement.GroupID.IsNil()
	if personal {
		if len(shares) > 0 {
			s.metrics.IncrementMutation("edit", "rejected")
			return nil, dErrors.New(dErrors.CodeInvalidInput, "ungrouped expenses cannot carry splits")
		}
		if replacement.AmountCents <= 0 {
			s.metrics.IncrementMutation("edit", "rejected")
			return nil, dErrors.New(dErrors.CodeInvalidInput, "expense amount must be positive")
		}
	} else {
		if err := models.ValidateSplit(replacement, shares); err != nil {
			s.metrics.IncrementMutation("edit", "rejected")
			return nil, err
		}
		if err := s.checkMembership(ctx, replacement.GroupID, replacement.PayerID, shares); err != nil {
			s.metrics.IncrementMutation("edit", "rejected")
			return nil, err
		}
	}

	original, originalShares, reverseChanges, err := s.engine.ReverseSplit(ctx, expenseID)
	if err != nil {
		s.metrics.IncrementMutation("edit", "failed")
		return nil, err
	}
	// Lowered spend never un-fires thresholds; this only corrects the
	// cumulative figure in the original expense's period.
	if _, err := s.evaluateShares(ctx, original, originalShares, -1); err != nil {
		s.metrics.IncrementMutation("edit", "failed")
		return nil, err
	}

	var (
		applyChanges []models.DebtChange
		alerts       []budgetmodels.AlertEvent
	)
	if personal {
		if err := s.engine.RecordPersonal(ctx, replacement); err != nil {
			s.metrics.IncrementMutation("edit", "failed")
			return nil, err
		}
		alerts, err = s.evaluateOne(ctx, replacement.PayerID, replacement.Category, replacement.CreatedAt, replacement.AmountCents)
		if err != nil {
			s.metrics.IncrementMutation("edit", "failed")
			return nil, err
		}
	} else {
		applyChanges, err = s.engine.ApplySplit(ctx, replacement, shares)
		if err != nil {
			s.metrics.IncrementMutation("edit", "failed")
			return nil, err
		}
		alerts, err = s.evaluateShares(ctx, replacement, shares, 1)
		if err != nil {
			s.metrics.IncrementMutation("edit", "failed")
			return nil, err
		}
	}

	s.emitEvents(ctx, replacement.GroupID, append(reverseChanges, applyChanges...), alerts)
	_ = s.auditor.Emit(ctx, audit.Event{
		Kind:        audit.KindExpenseEdited,
		UserID:      replacement.PayerID,
		GroupID:     replacement.GroupID,
		ExpenseID:   replacement.ID,
		AmountCents: replacement.AmountCents,
		Detail:      "replaces " + expenseID.String(),
	})
	s.metrics.IncrementMutation("edit", "ok")
	return replacement, nil
}

// DeleteExpense reverses the split. Thresholds the original expense fired
// stay fired: alerts are a one-way record, and the lowered spend is
// queryable via BudgetStatus.
func (s *Service) DeleteExpense(ctx context.Context, expenseID id.ExpenseID) error {
	ctx, span := s.tracer.Start(ctx, "expense.Delete",
		trace.WithAttributes(attribute.String("expense_id", expenseID.String())))
	defer span.End()

	original, originalShares, changes, err := s.engine.ReverseSplit(ctx, expenseID)
	if err != nil {
		s.metrics.IncrementMutation("delete", "failed")
		return err
	}
	if _, err := s.evaluateShares(ctx, original, originalShares, -1); err != nil {
		s.metrics.IncrementMutation("delete", "failed")
		return err
	}

	s.emitEvents(ctx, original.GroupID, changes, nil)
	_ = s.auditor.Emit(ctx, audit.Event{
		Kind:        audit.KindExpenseDeleted,
		UserID:      original.PayerID,
		GroupID:     original.GroupID,
		ExpenseID:   original.ID,
		AmountCents: original.AmountCents,
	})
	s.metrics.IncrementMutation("delete", "ok")
	return nil
}

// RecordPayment settles part of a debt between two members and notifies both.
func (s *Service) RecordPayment(ctx context.Context, groupID id.GroupID, fromID, toID id.UserID, amountCents int64, currency string) error {
	changes, err := s.engine.RecordPayment(ctx, groupID, fromID, toID, amountCents, currency)
	if err != nil {
		s.metrics.IncrementMutation("payment", "failed")
		return err
	}
	s.emitEvents(ctx, groupID, changes, nil)
	_ = s.auditor.Emit(ctx, audit.Event{
		Kind:        audit.KindPaymentRecorded,
		UserID:      fromID,
		GroupID:     groupID,
		AmountCents: amountCents,
	})
	s.metrics.IncrementMutation("payment", "ok")
	return nil
}

// GroupBalances returns the signed net amount per member.
func (s *Service) GroupBalances(ctx context.Context, groupID id.GroupID) (map[id.UserID]int64, error) {
	return s.engine.NetBalances(ctx, groupID)
}

// GroupExpenses lists the group's active expenses, newest first. Reversed
// expenses are history and stay out of the listing.
func (s *Service) GroupExpenses(ctx context.Context, groupID id.GroupID) ([]*models.Expense, error) {
	return s.engine.GroupExpenses(ctx, groupID)
}

// PersonalExpenses lists the caller's active ungrouped expenses, newest first.
func (s *Service) PersonalExpenses(ctx context.Context, payerID id.UserID) ([]*models.Expense, error) {
	return s.engine.PersonalExpenses(ctx, payerID)
}

// SuggestSettlements computes the greedy settlement plan for the group and
// broadcasts it to the members.
func (s *Service) SuggestSettlements(ctx context.Context, groupID id.GroupID, currency string) ([]models.Transaction, error) {
	net, err := s.engine.NetBalances(ctx, groupID)
	if err != nil {
		return nil, err
	}
	txs := engine.SuggestSettlements(net)
	if _, err := s.router.RouteSettlementSuggestion(ctx, groupID, currency, txs); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "settlement suggestion routing failed", "group_id", groupID, "error", err)
	}
	return txs, nil
}

// checkMembership verifies the payer and every share member are group
// members.
func (s *Service) checkMembership(ctx context.Context, groupID id.GroupID, payerID id.UserID, shares []models.Share) error {
	members, err := s.groups.Members(ctx, groupID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "resolve group members")
	}
	isMember := make(map[id.UserID]bool, len(members))
	for _, m := range members {
		isMember[m] = true
	}
	if !isMember[payerID] {
		return dErrors.New(dErrors.CodeForbidden, "payer must be an active group member")
	}
	for _, sh := range shares {
		if !isMember[sh.UserID] {
			return dErrors.Newf(dErrors.CodeInvalidInput, "user %s is not a member of the group", sh.UserID)
		}
	}
	return nil
}

// evaluateShares feeds each member's own share into that member's budgets:
// budgets track what a member consumed, not what they fronted for others.
// sign is +1 on apply and -1 on reverse.
func (s *Service) evaluateShares(ctx context.Context, expense *models.Expense, shares []models.Share, sign int64) ([]budgetmodels.AlertEvent, error) {
	var alerts []budgetmodels.AlertEvent
	for _, sh := range shares {
		if sh.AmountCents == 0 {
			continue
		}
		evs, err := s.evaluateOne(ctx, sh.UserID, expense.Category, expense.CreatedAt, sign*sh.AmountCents)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, evs...)
	}
	return alerts, nil
}

func (s *Service) evaluateOne(ctx context.Context, userID id.UserID, category string, at time.Time, deltaCents int64) ([]budgetmodels.AlertEvent, error) {
	budgets, err := s.budgets.ListForOwner(ctx, userID, category, at)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	var alerts []budgetmodels.AlertEvent
	for _, budget := range budgets {
		evs, err := s.evaluator.Apply(ctx, budget, at, deltaCents)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, evs...)
	}
	return alerts, nil
}

// emitEvents routes debt updates and alerts through the hub. Outcomes are
// observable to monitoring only; the triggering operation has already
// succeeded.
func (s *Service) emitEvents(ctx context.Context, groupID id.GroupID, changes []models.DebtChange, alerts []budgetmodels.AlertEvent) {
	if len(changes) > 0 {
		net, err := s.engine.NetBalances(ctx, groupID)
		if err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "balance reload for notifications failed", "group_id", groupID, "error", err)
			}
			net = nil
		}
		pairs := pairwiseOwed(net)
		seen := make(map[[2]id.UserID]bool, len(changes))
		for _, ch := range changes {
			key := pairKey(ch.DebtorID, ch.CreditorID)
			if seen[key] {
				continue
			}
			seen[key] = true
			update := router.DebtUpdate{
				GroupID:    ch.GroupID,
				DebtorID:   ch.DebtorID,
				CreditorID: ch.CreditorID,
				OwedCents:  pairs[[2]id.UserID{ch.DebtorID, ch.CreditorID}] - pairs[[2]id.UserID{ch.CreditorID, ch.DebtorID}],
				Currency:   ch.Currency,
			}
			if _, err := s.router.RouteDebtUpdate(ctx, update); err != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "debt update routing failed", "group_id", groupID, "error", err)
			}
		}
	}

	for _, alert := range alerts {
		s.metrics.IncrementAlert(strconv.Itoa(alert.ThresholdPercent))
		if _, err := s.router.RouteAlert(ctx, alert); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "alert routing failed", "budget_id", alert.BudgetID, "error", err)
		}
		_ = s.auditor.Emit(ctx, audit.Event{
			Kind:        audit.KindBudgetAlert,
			UserID:      alert.OwnerID,
			BudgetID:    alert.BudgetID,
			AmountCents: alert.SpendCents,
			Detail:      strconv.Itoa(alert.ThresholdPercent) + "%",
		})
	}
}

// pairwiseOwed reconstructs who owes whom from the net vector using the same
// greedy matching as settlement suggestions; the reconstruction is loss-free
// with respect to the nets.
func pairwiseOwed(net map[id.UserID]int64) map[[2]id.UserID]int64 {
	out := make(map[[2]id.UserID]int64)
	for _, tx := range engine.SuggestSettlements(net) {
		out[[2]id.UserID{tx.FromID, tx.ToID}] += tx.AmountCents
	}
	return out
}

func pairKey(a, b id.UserID) [2]id.UserID {
	if a.String() < b.String() {
		return [2]id.UserID{a, b}
	}
	return [2]id.UserID{b, a}
}
