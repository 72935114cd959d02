package api

import (
	"context"
	"sync"

	"meetinghooks/internal/model"
)

// EventBroker fans recorded delivery attempts out to live log viewers,
// keyed by subscription id.
type EventBroker interface {
	Subscribe(subscriptionID string) chan model.DeliveryAttempt
	Unsubscribe(subscriptionID string, ch chan model.DeliveryAttempt)
	Publish(subscriptionID string, a model.DeliveryAttempt)
}

// Broker is the in-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.DeliveryAttempt]struct{} // subscriptionId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.DeliveryAttempt]struct{}{}}
}

func (b *Broker) Subscribe(subscriptionID string) chan model.DeliveryAttempt {
	ch := make(chan model.DeliveryAttempt, 16)
	b.mu.Lock()
	if b.subs[subscriptionID] == nil {
		b.subs[subscriptionID] = map[chan model.DeliveryAttempt]struct{}{}
	}
	b.subs[subscriptionID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(subscriptionID string, ch chan model.DeliveryAttempt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[subscriptionID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, subscriptionID)
	}
	close(ch)
}

// Publish never blocks; slow viewers miss attempts.
func (b *Broker) Publish(subscriptionID string, a model.DeliveryAttempt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[subscriptionID] {
		select {
		case ch <- a:
		default:
		}
	}
}

// brokerSink feeds the delivery pipeline's attempts into a broker.
type brokerSink struct {
	b EventBroker
}

func (s brokerSink) AttemptRecorded(_ context.Context, a model.DeliveryAttempt) {
	s.b.Publish(a.SubscriptionID, a)
}
