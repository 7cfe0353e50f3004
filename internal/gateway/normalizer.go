package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paywallet-backend/internal/audit"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
)

// LedgerEvent is the canonical, gateway-agnostic description of a funding or
// charge outcome. Everything downstream of the normalizer consumes this shape.
type LedgerEvent struct {
	ID       string
	UserID   string
	Type     enums.TransactionType
	Amount   decimal.Decimal
	Currency enums.Currency
	Status   enums.PaymentStatus
	Customer WebhookCustomer
	Meta     map[string]string
}

// CustomerLookup resolves a user reference from gateway customer details when
// the webhook metadata does not carry one.
type CustomerLookup interface {
	ResolveUserID(ctx context.Context, customer WebhookCustomer) (string, error)
}

var eventTypeMap = map[string]enums.TransactionType{
	"charge.completed":   enums.TransactionTypeDeposit,
	"transfer.completed": enums.TransactionTypeDeduction,
	"refund.completed":   enums.TransactionTypeRefund,
}

var statusMap = map[string]enums.PaymentStatus{
	"successful": enums.PaymentStatusSuccessful,
	"success":    enums.PaymentStatusSuccessful,
	"failed":     enums.PaymentStatusFailed,
	"error":      enums.PaymentStatusFailed,
	"pending":    enums.PaymentStatusPending,
}

// Normalizer maps gateway payloads into canonical ledger events.
type Normalizer struct {
	customers CustomerLookup
	audit     audit.Recorder
}

// NormalizerParams wires the normalizer dependencies.
type NormalizerParams struct {
	Customers CustomerLookup
	Audit     audit.Recorder
}

// NewNormalizer validates parameters and returns the normalizer.
func NewNormalizer(params NormalizerParams) (*Normalizer, error) {
	if params.Customers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customer lookup is required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit recorder is required")
	}
	return &Normalizer{customers: params.Customers, audit: params.Audit}, nil
}

// Decode parses raw webhook bytes, keeping amounts as json.Number.
func Decode(raw []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode gateway payload")
	}
	return &payload, nil
}

// Normalize maps the gateway payload into a canonical ledger event. Unknown
// event names return CodeUnsupportedEvent so the controller can acknowledge
// and drop without signalling a gateway retry.
func (n *Normalizer) Normalize(ctx context.Context, payload *WebhookPayload) (*LedgerEvent, error) {
	if payload == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payload is required")
	}

	correlationID := payload.Data.TxRef
	if correlationID == "" {
		correlationID = fmt.Sprintf("gateway-%d", payload.Data.ID)
	}

	txType, ok := eventTypeMap[strings.ToLower(strings.TrimSpace(payload.Event))]
	if !ok {
		n.audit.Record(ctx, enums.AuditStageNormalize, correlationID, "unsupported_event", map[string]string{"event": payload.Event})
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedEvent, fmt.Sprintf("unsupported gateway event %q", payload.Event))
	}

	if payload.Data.TxRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tx_ref is required")
	}

	amount, err := decimal.NewFromString(payload.Data.Amount.String())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse amount")
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	currency, err := enums.ParseCurrency(strings.ToUpper(strings.TrimSpace(payload.Data.Currency)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse currency")
	}

	status, ok := statusMap[strings.ToLower(strings.TrimSpace(payload.Data.Status))]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown gateway status %q", payload.Data.Status))
	}

	userID, err := n.resolveUserID(ctx, payload)
	if err != nil {
		return nil, err
	}

	event := &LedgerEvent{
		ID:       payload.Data.TxRef,
		UserID:   userID,
		Type:     txType,
		Amount:   amount.Round(2),
		Currency: currency,
		Status:   status,
		Customer: payload.Data.Customer,
		Meta:     payload.MetaData,
	}

	n.audit.Record(ctx, enums.AuditStageNormalize, event.ID, "normalized", map[string]string{
		"event":  payload.Event,
		"type":   string(txType),
		"status": string(status),
	})
	return event, nil
}

func (n *Normalizer) resolveUserID(ctx context.Context, payload *WebhookPayload) (string, error) {
	for _, key := range []string{"user_id", "userId"} {
		if id := strings.TrimSpace(payload.MetaData[key]); id != "" {
			return id, nil
		}
	}

	userID, err := n.customers.ResolveUserID(ctx, payload.Data.Customer)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "resolve user from customer")
	}
	if strings.TrimSpace(userID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "could not resolve user for event")
	}
	return userID, nil
}
