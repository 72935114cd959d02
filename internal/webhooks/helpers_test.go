package webhooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"meetinghooks/internal/config"
	"meetinghooks/internal/model"
	"meetinghooks/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	clock  *fakeClock
	store  *store.Memory
	reg    *Registry
	queue  *Queue
	pub    *Publisher
	worker *Worker
}

func newHarness(t *testing.T, mutate func(*config.WebhookConfig)) *harness {
	t.Helper()
	cfg := config.Default().Webhooks
	cfg.Workers = 4
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Jitter = 0
	cfg.Timeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	clk := newFakeClock()
	st := store.NewMemory()
	reg := NewRegistry(st, nil)
	reg.Clock = clk
	q := NewQueue(clk, cfg.QueueSize, cfg.PollInterval)
	pub := NewPublisher(reg, st, q)
	pub.Clock = clk
	w := NewWorker(cfg, st, reg, q)
	w.Clock = clk
	return &harness{clock: clk, store: st, reg: reg, queue: q, pub: pub, worker: w}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.worker.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start worker: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		h.worker.Stop()
	})
}

func (h *harness) subscribe(t *testing.T, org, url string, events ...string) (model.Subscription, string) {
	t.Helper()
	sub, secret, err := h.reg.Create(context.Background(), org, model.SubscriptionRequest{URL: url, Events: events})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub, secret
}

// attempts returns the delivery log oldest first.
func (h *harness) attempts(t *testing.T, subID string) []model.DeliveryAttempt {
	t.Helper()
	list, _, err := h.store.ListAttempts(context.Background(), subID, "", 500)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	out := make([]model.DeliveryAttempt, len(list))
	for i, a := range list {
		out[len(list)-1-i] = a
	}
	return out
}

func (h *harness) sub(t *testing.T, id string) model.Subscription {
	t.Helper()
	s, err := h.store.GetSubscription(context.Background(), id)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
