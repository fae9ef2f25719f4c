// Package notify defines the wire-level notification events and delivery
// outcomes shared by the hub, the event router, and the transport layer.
package notify

import (
	"encoding/json"
	"time"

	id "splitledger/pkg/domain"
)

// EventType discriminates notification payloads on the wire.
type EventType string

const (
	TypeBudgetAlert          EventType = "budget_alert"
	TypeDebtUpdate           EventType = "debt_update"
	TypeSettlementSuggestion EventType = "settlement_suggestion"
	// TypePing is a keep-alive probe; clients ignore it.
	TypePing EventType = "ping"
)

// Envelope is the payload schema pushed over live connections and handed to
// the offline queue. Field names are part of the client contract.
type Envelope struct {
	Type      EventType       `json:"type"`
	UserID    id.UserID       `json:"userId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// BudgetAlertPayload reports a threshold crossing. Amounts are minor units.
type BudgetAlertPayload struct {
	BudgetID         id.BudgetID `json:"budgetId"`
	ThresholdPercent int         `json:"thresholdPercent"`
	PeriodSpend      int64       `json:"periodSpend"`
	Limit            int64       `json:"limit"`
	Currency         string      `json:"currency"`
}

// DebtUpdatePayload reports the recipient's new net position against one
// counterparty after a ledger mutation.
type DebtUpdatePayload struct {
	GroupID        id.GroupID `json:"groupId"`
	CounterpartyID id.UserID  `json:"counterpartyId"`
	NetAmount      int64      `json:"netAmount"` // positive: counterparty owes the recipient
	Currency       string     `json:"currency"`
}

// SettlementSuggestionPayload carries the suggested transactions for a group.
type SettlementSuggestionPayload struct {
	GroupID      id.GroupID             `json:"groupId"`
	Transactions []SuggestedTransaction `json:"transactions"`
	Currency     string                 `json:"currency"`
}

type SuggestedTransaction struct {
	FromID id.UserID `json:"fromId"`
	ToID   id.UserID `json:"toId"`
	Amount int64     `json:"amount"`
}

// DeliveryOutcome tells the caller of Deliver what happened. Delivery
// failures are observable here and never propagate as failures of the
// business operation that produced the event.
type DeliveryOutcome string

const (
	OutcomeDeliveredLive DeliveryOutcome = "delivered-live"
	OutcomeQueuedOffline DeliveryOutcome = "queued-offline"
	OutcomeFailed        DeliveryOutcome = "failed"
)
