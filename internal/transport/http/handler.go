// Package httptransport is the thin HTTP layer. It delegates to domain
// services without embedding business logic; authentication is a fronting
// gateway's concern, which passes the verified user id in X-User-ID.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	budgetmodels "splitledger/internal/budget/models"
	"splitledger/internal/expense/service"
	"splitledger/internal/group"
	"splitledger/internal/notify/hub"
	"splitledger/internal/platform/middleware"
	"splitledger/internal/settlement/models"
	id "splitledger/pkg/domain"
	dErrors "splitledger/pkg/domain-errors"
	"splitledger/pkg/platform/httputil"
)

// OfflineDrainer serves buffered notifications for reconnecting users.
type OfflineDrainer interface {
	Drain(ctx context.Context, userID id.UserID) ([][]byte, error)
}

type Handler struct {
	service *service.Service
	hub     *hub.Hub
	offline OfflineDrainer
	groups  group.Store
	logger  *slog.Logger
}

func NewHandler(svc *service.Service, h *hub.Hub, offline OfflineDrainer, groups group.Store, logger *slog.Logger) *Handler {
	return &Handler{service: svc, hub: h, offline: offline, groups: groups, logger: logger}
}

// userID reads the identity the middleware stashed in the context.
func userID(r *http.Request) (id.UserID, error) {
	user := middleware.UserIDFrom(r.Context())
	if user.IsNil() {
		return id.UserID{}, dErrors.New(dErrors.CodeForbidden, "request identity missing")
	}
	return user, nil
}

type budgetRequest struct {
	LimitCents int64     `json:"limit_cents"`
	Currency   string    `json:"currency"`
	Category   string    `json:"category"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Cadence    string    `json:"cadence"`
	Thresholds []int     `json:"thresholds"`
}

func (h *Handler) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	owner, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req budgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body"))
		return
	}
	cadence := budgetmodels.Cadence(req.Cadence)
	if req.Cadence == "" {
		cadence = budgetmodels.CadenceNone
	}
	budget := &budgetmodels.Budget{
		OwnerID:    owner,
		Category:   req.Category,
		LimitCents: req.LimitCents,
		Currency:   req.Currency,
		Start:      req.Start,
		End:        req.End,
		Cadence:    cadence,
		Thresholds: req.Thresholds,
	}
	if err := h.service.CreateBudget(r.Context(), budget); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, budget)
}

func (h *Handler) handleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	budgetID, err := id.ParseBudgetID(chi.URLParam(r, "budgetID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	remaining, err := h.service.BudgetStatus(r.Context(), budgetID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"remaining_cents": remaining})
}

type expenseRequest struct {
	AmountCents int64          `json:"amount_cents"`
	Currency    string         `json:"currency"`
	Category    string         `json:"category"`
	Description string         `json:"description"`
	Splits      []splitRequest `json:"splits"`
}

type splitRequest struct {
	UserID      string `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
}

func (h *Handler) decodeShares(splits []splitRequest) ([]models.Share, error) {
	shares := make([]models.Share, len(splits))
	for i, sp := range splits {
		uid, err := id.ParseUserID(sp.UserID)
		if err != nil {
			return nil, err
		}
		shares[i] = models.Share{UserID: uid, AmountCents: sp.AmountCents}
	}
	return shares, nil
}

func (h *Handler) handleSubmitGroupExpense(w http.ResponseWriter, r *http.Request) {
	payer, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	groupID, err := id.ParseGroupID(chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req expenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body"))
		return
	}
	shares, err := h.decodeShares(req.Splits)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	expense := &models.Expense{
		GroupID:     groupID,
		PayerID:     payer,
		Category:    req.Category,
		Description: req.Description,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}
	created, err := h.service.SubmitExpense(r.Context(), expense, shares)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleSubmitPersonalExpense(w http.ResponseWriter, r *http.Request) {
	payer, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req expenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body"))
		return
	}
	expense := &models.Expense{
		PayerID:     payer,
		Category:    req.Category,
		Description: req.Description,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}
	created, err := h.service.SubmitExpense(r.Context(), expense, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleEditExpense(w http.ResponseWriter, r *http.Request) {
	payer, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	expenseID, err := id.ParseExpenseID(chi.URLParam(r, "expenseID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req expenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body"))
		return
	}
	shares, err := h.decodeShares(req.Splits)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	replacement := &models.Expense{
		PayerID:     payer,
		Category:    req.Category,
		Description: req.Description,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}
	updated, err := h.service.EditExpense(r.Context(), expenseID, replacement, shares)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	expenseID, err := id.ParseExpenseID(chi.URLParam(r, "expenseID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.DeleteExpense(r.Context(), expenseID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListPersonalExpenses(w http.ResponseWriter, r *http.Request) {
	payer, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	expenses, err := h.service.PersonalExpenses(r.Context(), payer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if expenses == nil {
		expenses = []*models.Expense{}
	}
	h.writeJSON(w, http.StatusOK, expenses)
}

func (h *Handler) handleGroupExpenses(w http.ResponseWriter, r *http.Request) {
	groupID, err := id.ParseGroupID(chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	expenses, err := h.service.GroupExpenses(r.Context(), groupID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if expenses == nil {
		expenses = []*models.Expense{}
	}
	h.writeJSON(w, http.StatusOK, expenses)
}

func (h *Handler) handleGroupBalances(w http.ResponseWriter, r *http.Request) {
	groupID, err := id.ParseGroupID(chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	net, err := h.service.GroupBalances(r.Context(), groupID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make(map[string]int64, len(net))
	for user, n := range net {
		out[user.String()] = n
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSettlementSuggestions(w http.ResponseWriter, r *http.Request) {
	groupID, err := id.ParseGroupID(chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	currency := r.URL.Query().Get("currency")
	txs, err := h.service.SuggestSettlements(r.Context(), groupID, currency)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

type paymentRequest struct {
	ToUserID    string `json:"to_user_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

func (h *Handler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	from, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	groupID, err := id.ParseGroupID(chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body"))
		return
	}
	to, err := id.ParseUserID(req.ToUserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.RecordPayment(r.Context(), groupID, from, to, req.AmountCents, req.Currency); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type memberRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	groupID, err := id.ParseGroupID(chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body"))
		return
	}
	member, err := id.ParseUserID(req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.groups.AddMember(r.Context(), groupID, member); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	groupID, err := id.ParseGroupID(chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	member, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.groups.RemoveMember(r.Context(), groupID, member); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMissedNotifications(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	payloads, err := h.offline.Drain(r.Context(), user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events := make([]json.RawMessage, len(payloads))
	for i, p := range payloads {
		events[i] = json.RawMessage(p)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	httputil.WriteJSON(w, status, v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if httputil.StatusOf(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	httputil.WriteError(w, err)
}
