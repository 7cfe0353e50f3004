package notify

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/outbox"
	"github.com/angelmondragon/paywallet-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/paywallet-backend/pkg/outbox/payloads"
)

const dispatchConsumer = "pw-dispatch"

// Consumer turns published ledger events into notification dispatches. It
// runs outside the webhook request path so provider latency never delays a
// ledger commit.
type Consumer struct {
	dispatcher   Service
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds the dispatch consumer.
func NewConsumer(dispatcher Service, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("ledger subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		dispatcher:   dispatcher,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	switch eventType {
	case string(enums.EventLedgerApplied), string(enums.EventNotificationRequested):
	default:
		c.logg.Info(logCtx, "skipping event type")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, dispatchConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	var req *SendRequest
	switch eventType {
	case string(enums.EventLedgerApplied):
		req, err = ledgerSendRequest(envelope.Data)
	case string(enums.EventNotificationRequested):
		req, err = requestedSendRequest(envelope.Data)
	}
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.idempotency.Delete(ctx, dispatchConsumer, eventID)
		return processResult{nack: true}
	}
	if req == nil {
		c.logg.Info(logCtx, "event carries nothing to dispatch")
		return processResult{ack: true}
	}

	if _, err := c.dispatcher.Send(ctx, *req); err != nil {
		// The log row already records the failure; retrying the message
		// would double the rows, so failures are surfaced for manual
		// resend instead of nacking.
		c.logg.Error(logCtx, "notification dispatch failed", err)
	}
	return processResult{ack: true}
}

func ledgerSendRequest(data json.RawMessage) (*SendRequest, error) {
	var payload payloads.LedgerAppliedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	if payload.TransactionID == "" || payload.UserID == "" {
		return nil, fmt.Errorf("ledger payload missing identifiers")
	}

	vars := map[string]string{
		"transaction_id": payload.TransactionID,
		"amount":         payload.Amount,
		"currency":       string(payload.Currency),
	}

	var template string
	switch payload.Status {
	case enums.TransactionStatusCompleted:
		template = TemplateWalletCredited
		if !payload.Type.Credits() {
			template = TemplateWalletDebited
		}
	case enums.TransactionStatusFailed:
		template = TemplateTransactionFailed
		reason := "unknown"
		if payload.FailureReason != nil {
			reason = *payload.FailureReason
		}
		vars["reason"] = reason
	default:
		// Non-terminal states carry nothing the user needs to hear about.
		return nil, nil
	}

	return &SendRequest{
		RecipientRef: payload.UserID,
		TemplateKey:  template,
		Variables:    vars,
	}, nil
}

func requestedSendRequest(data json.RawMessage) (*SendRequest, error) {
	var payload payloads.NotificationRequestedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	if payload.RecipientRef == "" || payload.TemplateKey == "" {
		return nil, fmt.Errorf("notification payload missing identifiers")
	}
	req := &SendRequest{
		RecipientRef: payload.RecipientRef,
		TemplateKey:  payload.TemplateKey,
		Variables:    payload.Variables,
	}
	if payload.Channel != "" {
		req.Channels = []enums.NotificationChannel{payload.Channel}
	}
	return req, nil
}
