package webhooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meetinghooks/internal/logging"
	"meetinghooks/internal/metrics"
	"meetinghooks/internal/model"
	"meetinghooks/internal/store"
)

// Receipt summarizes what ingress did with one event.
type Receipt struct {
	EventID    string `json:"eventId"`
	Enqueued   int    `json:"enqueued"`
	Duplicates int    `json:"duplicates"`
}

// Publisher is the event bus ingress: one job per matching active
// subscription, never blocking on delivery.
type Publisher struct {
	Registry *Registry
	Store    store.Store
	Queue    *Queue
	Clock    Clock
	log      zerolog.Logger
}

func NewPublisher(reg *Registry, st store.Store, q *Queue) *Publisher {
	return &Publisher{Registry: reg, Store: st, Queue: q, Clock: SystemClock{}, log: logging.NewLogger("ingress")}
}

// Publish assigns an event id and fans the event out.
func (p *Publisher) Publish(ctx context.Context, orgID, eventType string, payload map[string]any) (Receipt, error) {
	return p.Submit(ctx, model.Event{Type: eventType, OrganizationID: orgID, Payload: payload})
}

// Submit fans out an event. Resubmitting an event id creates no new jobs for
// subscriptions that already have one. Only invalid input is reported as an
// error; store failures are logged.
func (p *Publisher) Submit(ctx context.Context, ev model.Event) (Receipt, error) {
	ev.Type = strings.TrimSpace(ev.Type)
	if ev.OrganizationID == "" || ev.Type == "" {
		return Receipt{}, fmt.Errorf("%w: organization and type are required", ErrInvalidEvent)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	now := p.Clock.Now()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}
	body, err := BuildPayload(ev.Type, ev.OccurredAt, ev.Payload)
	if err != nil {
		return Receipt{}, err
	}
	rcpt := Receipt{EventID: ev.ID}
	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()

	subs, err := p.Registry.FindMatching(ctx, ev.OrganizationID, ev.Type)
	if err != nil {
		p.log.Error().Err(err).Str("event_id", ev.ID).Str("event_type", ev.Type).Msg("find subscriptions")
		return rcpt, nil
	}
	for _, sub := range subs {
		job := model.DeliveryJob{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			OrganizationID: ev.OrganizationID,
			EventID:        ev.ID,
			EventType:      ev.Type,
			Body:           body,
			State:          model.JobPending,
			NextAttemptAt:  now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		created, err := p.Store.CreateJob(ctx, job)
		if err != nil {
			p.log.Error().Err(err).Str("event_id", ev.ID).Str("subscription_id", sub.ID).Msg("create delivery job")
			continue
		}
		if !created {
			rcpt.Duplicates++
			continue
		}
		p.Queue.Schedule(job)
		rcpt.Enqueued++
	}
	if rcpt.Enqueued > 0 {
		metrics.JobsEnqueued.WithLabelValues(ev.Type).Add(float64(rcpt.Enqueued))
	}
	p.log.Debug().Str("event_id", ev.ID).Str("event_type", ev.Type).Int("enqueued", rcpt.Enqueued).Int("duplicates", rcpt.Duplicates).Msg("event published")
	return rcpt, nil
}
