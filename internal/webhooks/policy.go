package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"meetinghooks/internal/logging"
	"meetinghooks/internal/metrics"
	"meetinghooks/internal/store"
)

// FailurePolicy updates a subscription's failure count on terminal outcomes.
// Only an event that exhausted every attempt counts as a failure.
type FailurePolicy struct {
	Store     store.Store
	Threshold int
	log       zerolog.Logger
}

func NewFailurePolicy(st store.Store, threshold int) *FailurePolicy {
	return &FailurePolicy{Store: st, Threshold: threshold, log: logging.NewLogger("policy")}
}

func (p *FailurePolicy) Succeeded(ctx context.Context, subscriptionID string, at time.Time) {
	if err := p.Store.RecordSubscriptionSuccess(ctx, subscriptionID, at); err != nil && !errors.Is(err, store.ErrNotFound) {
		p.log.Error().Err(err).Str("subscription_id", subscriptionID).Msg("record success")
	}
}

// PermanentlyFailed increments the failure count and reports whether this
// failure deactivated the subscription.
func (p *FailurePolicy) PermanentlyFailed(ctx context.Context, subscriptionID string) bool {
	count, active, err := p.Store.RecordSubscriptionFailure(ctx, subscriptionID, p.Threshold)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.log.Error().Err(err).Str("subscription_id", subscriptionID).Msg("record failure")
		}
		return false
	}
	crossed := !active && count == p.Threshold+1
	if crossed {
		metrics.WebhookDeactivations.Inc()
		p.log.Warn().Str("subscription_id", subscriptionID).Int("failure_count", count).Msg("subscription deactivated after repeated failures")
	}
	return crossed
}
