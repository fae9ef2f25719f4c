package testutil

import (
	"context"
	"net/http"

	"splitledger/internal/platform/middleware"
	id "splitledger/pkg/domain"
)

// WithUserID stashes a verified identity in the request context, simulating
// what the gateway-identity middleware does for authenticated requests.
func WithUserID(req *http.Request, userID id.UserID) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.ContextKeyUserID, userID)
	return req.WithContext(ctx)
}
