package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"splitledger/internal/platform/middleware"
)

// NewRouter wires all public endpoints. Everything except health and metrics
// sits behind the gateway-identity middleware.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireIdentity(h.logger))

		r.Post("/budgets", h.handleCreateBudget)
		r.Get("/budgets/{budgetID}/status", h.handleBudgetStatus)

		r.Post("/expenses", h.handleSubmitPersonalExpense)
		r.Get("/expenses", h.handleListPersonalExpenses)
		r.Put("/expenses/{expenseID}", h.handleEditExpense)
		r.Delete("/expenses/{expenseID}", h.handleDeleteExpense)

		r.Route("/groups/{groupID}", func(r chi.Router) {
			r.Post("/members", h.handleAddMember)
			r.Delete("/members/{userID}", h.handleRemoveMember)
			r.Post("/expenses", h.handleSubmitGroupExpense)
			r.Get("/expenses", h.handleGroupExpenses)
			r.Get("/balances", h.handleGroupBalances)
			r.Get("/settlements", h.handleSettlementSuggestions)
			r.Post("/payments", h.handleRecordPayment)
		})

		r.Get("/notifications/missed", h.handleMissedNotifications)
		r.Get("/events/stream", h.handleEventStream)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}
