package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/paywallet-backend/pkg/redis"
)

const webhookGuardScope = "gateway-webhook"

// WebhookGuard suppresses rapid redelivery of the same gateway event before
// the ledger is touched. The ledger's claim on the transaction id remains the
// durable idempotency boundary; this guard only spares it hot replays.
type WebhookGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewWebhookGuard(store redis.IdempotencyStore, ttl time.Duration) (*WebhookGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &WebhookGuard{store: store, ttl: ttl}, nil
}

func (g *WebhookGuard) CheckAndMark(ctx context.Context, txRef string) (bool, error) {
	if txRef == "" {
		return false, errors.New("transaction ref is required")
	}
	key := g.store.IdempotencyKey(webhookGuardScope, txRef)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

func (g *WebhookGuard) Delete(ctx context.Context, txRef string) error {
	if txRef == "" {
		return errors.New("transaction ref is required")
	}
	key := g.store.IdempotencyKey(webhookGuardScope, txRef)
	return g.store.Del(ctx, key)
}
