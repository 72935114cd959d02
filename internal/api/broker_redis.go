package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"meetinghooks/internal/model"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so every API
// instance sees attempts recorded by any worker.
type RedisBroker struct {
	rdb *redis.Client
	mu  sync.Mutex
	ps  map[chan model.DeliveryAttempt]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisBroker{rdb: rdb, ps: map[chan model.DeliveryAttempt]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(subscriptionID string) chan model.DeliveryAttempt {
	ch := make(chan model.DeliveryAttempt, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(subscriptionID))
	// initial consume to ensure subscription
	_, _ = ps.Receive(ctx)
	b.mu.Lock()
	b.ps[ch] = ps
	b.mu.Unlock()
	msgs := ps.Channel()
	go func() {
		for msg := range msgs {
			var a model.DeliveryAttempt
			if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
				continue
			}
			b.mu.Lock()
			if _, live := b.ps[ch]; live {
				select {
				case ch <- a:
				default:
				}
			}
			b.mu.Unlock()
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(subscriptionID string, ch chan model.DeliveryAttempt) {
	b.mu.Lock()
	ps, ok := b.ps[ch]
	delete(b.ps, ch)
	if ok {
		close(ch)
	}
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(subscriptionID string, a model.DeliveryAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(a)
	_ = b.rdb.Publish(ctx, b.chanName(subscriptionID), data).Err()
}

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func (b *RedisBroker) chanName(subscriptionID string) string {
	return "webhook-logs:" + subscriptionID
}
