package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/paywallet-backend/pkg/enums"
)

// LedgerAppliedEvent is emitted when a wallet transaction reaches a terminal
// state. Amounts are serialized as strings to avoid float drift on the wire.
type LedgerAppliedEvent struct {
	TransactionID string                  `json:"transactionId"`
	UserID        string                  `json:"userId"`
	Type          enums.TransactionType   `json:"type"`
	Amount        string                  `json:"amount"`
	Currency      enums.Currency          `json:"currency"`
	Status        enums.TransactionStatus `json:"status"`
	BalanceAfter  string                  `json:"balanceAfter,omitempty"`
	FailureReason *string                 `json:"failureReason,omitempty"`
}

// FraudAlertRaisedEvent is emitted when a fraud rule fires or evaluation was
// inconclusive and an open alert was recorded.
type FraudAlertRaisedEvent struct {
	AlertID       uuid.UUID              `json:"alertId"`
	TransactionID string                 `json:"transactionId"`
	UserID        string                 `json:"userId"`
	Reason        string                 `json:"reason"`
	Score         string                 `json:"score"`
	Status        enums.FraudAlertStatus `json:"status"`
}

// NotificationRequestedEvent asks the dispatch worker to deliver a
// notification that was created outside the ledger flow.
type NotificationRequestedEvent struct {
	NotificationID uuid.UUID                 `json:"notificationId"`
	RecipientRef   string                    `json:"recipientRef"`
	Channel        enums.NotificationChannel `json:"channel"`
	TemplateKey    string                    `json:"templateKey"`
	Variables      map[string]string         `json:"variables,omitempty"`
}
