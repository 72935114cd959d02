package webhooks

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meetinghooks/internal/logging"
	"meetinghooks/internal/model"
	"meetinghooks/internal/store"
)

// Tester fires a single synchronous delivery of a sample payload. Test
// deliveries are logged with isTest set and never touch the failure count,
// the retry queue or the delivery metrics.
type Tester struct {
	Registry *Registry
	Store    store.Store
	Sender   *Sender
	Samples  *SampleRegistry
	Sink     AttemptSink
	Clock    Clock
	log      zerolog.Logger
}

func NewTester(reg *Registry, st store.Store, sender *Sender, samples *SampleRegistry) *Tester {
	return &Tester{Registry: reg, Store: st, Sender: sender, Samples: samples, Clock: SystemClock{}, log: logging.NewLogger("tester")}
}

// TestDeliver sends a sample eventType payload to the subscription and
// returns the receiver's answer. Inactive subscriptions can be tested.
func (t *Tester) TestDeliver(ctx context.Context, orgID, subscriptionID, eventType string) (model.DeliveryResult, error) {
	sub, err := t.Registry.Get(ctx, orgID, subscriptionID)
	if err != nil {
		return model.DeliveryResult{}, err
	}
	now := t.Clock.Now()
	data, err := t.Samples.Build(eventType, sub.OrganizationID, now)
	if err != nil {
		return model.DeliveryResult{}, err
	}
	body, err := BuildPayload(eventType, now, data)
	if err != nil {
		return model.DeliveryResult{}, err
	}
	eventID := uuid.NewString()
	var out Outcome
	err = t.Registry.WithSecret(ctx, subscriptionID, func(sub model.Subscription, secret string) error {
		out = t.Sender.Send(ctx, sub.URL, secret, eventType, eventID, body)
		return nil
	})
	if err != nil {
		return model.DeliveryResult{}, err
	}

	attempt := newAttempt(subscriptionID, eventID, eventType, 1, out, now)
	attempt.IsTest = true
	recordAttempt(ctx, t.Store, t.Sink, attempt, t.log)

	res := model.DeliveryResult{Success: out.Success(), Status: out.Status, LatencyMs: attempt.LatencyMs}
	if !res.Success {
		res.Error = out.Detail()
	}
	t.log.Info().Str("subscription_id", subscriptionID).Str("event_type", eventType).Bool("success", res.Success).Int("status", res.Status).Msg("test delivery")
	return res, nil
}
