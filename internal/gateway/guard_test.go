package gateway

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{keys: map[string]string{}}
}

func (f *fakeIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key], nil
}

func (f *fakeIdempotencyStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.keys[key]; exists {
		return false, nil
	}
	f.keys[key] = "1"
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "pw:idem:" + scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func TestWebhookGuardCheckAndMark(t *testing.T) {
	guard, err := NewWebhookGuard(newFakeIdempotencyStore(), time.Minute)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}

	seen, err := guard.CheckAndMark(context.Background(), "TX-1")
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if seen {
		t.Fatalf("first delivery should not be marked seen")
	}

	seen, err = guard.CheckAndMark(context.Background(), "TX-1")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !seen {
		t.Fatalf("redelivery should be marked seen")
	}
}

func TestWebhookGuardDeleteAllowsRetry(t *testing.T) {
	store := newFakeIdempotencyStore()
	guard, err := NewWebhookGuard(store, time.Minute)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}

	if _, err := guard.CheckAndMark(context.Background(), "TX-2"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := guard.Delete(context.Background(), "TX-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	seen, err := guard.CheckAndMark(context.Background(), "TX-2")
	if err != nil {
		t.Fatalf("re-check: %v", err)
	}
	if seen {
		t.Fatalf("deleted key should allow the next delivery through")
	}
}

func TestWebhookGuardScopesKeys(t *testing.T) {
	store := newFakeIdempotencyStore()
	guard, err := NewWebhookGuard(store, time.Minute)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}

	if _, err := guard.CheckAndMark(context.Background(), "TX-3"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	for key := range store.keys {
		if !strings.Contains(key, webhookGuardScope) {
			t.Fatalf("key %q missing guard scope", key)
		}
	}
}

func TestWebhookGuardRejectsEmptyRef(t *testing.T) {
	guard, err := NewWebhookGuard(newFakeIdempotencyStore(), time.Minute)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	if _, err := guard.CheckAndMark(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty ref")
	}
	if err := guard.Delete(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty ref")
	}
}
