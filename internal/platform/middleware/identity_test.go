package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splitledger/internal/platform/middleware"
	id "splitledger/pkg/domain"
	"splitledger/pkg/testutil"
)

func identityProbe(captured *id.UserID) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = middleware.UserIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireIdentity(t *testing.T) {
	t.Run("valid header reaches the handler with identity set", func(t *testing.T) {
		userID := id.NewUserID()
		var captured id.UserID
		handler := middleware.RequireIdentity(nil)(identityProbe(&captured))

		req := httptest.NewRequest(http.MethodGet, "/budgets", nil)
		req.Header.Set("X-User-ID", userID.String())
		rr := testutil.DoRequest(handler, req)

		testutil.AssertStatusOK(t, rr)
		assert.Equal(t, userID, captured)
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		handler := middleware.RequireIdentity(nil)(identityProbe(&id.UserID{}))
		rr := testutil.DoRequest(handler, httptest.NewRequest(http.MethodGet, "/budgets", nil))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("malformed header is unauthorized", func(t *testing.T) {
		handler := middleware.RequireIdentity(nil)(identityProbe(&id.UserID{}))
		req := httptest.NewRequest(http.MethodGet, "/budgets", nil)
		req.Header.Set("X-User-ID", "not-a-uuid")
		rr := testutil.DoRequest(handler, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("nil uuid is unauthorized", func(t *testing.T) {
		handler := middleware.RequireIdentity(nil)(identityProbe(&id.UserID{}))
		req := httptest.NewRequest(http.MethodGet, "/budgets", nil)
		req.Header.Set("X-User-ID", uuid.Nil.String())
		rr := testutil.DoRequest(handler, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})
}

func TestUserIDFrom_EmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.True(t, middleware.UserIDFrom(req.Context()).IsNil())
}
