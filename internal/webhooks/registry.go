package webhooks

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meetinghooks/internal/logging"
	"meetinghooks/internal/model"
	"meetinghooks/internal/store"
)

// Registry owns subscription lifecycle and the per-subscription locks that
// serialize secret rotation against in-flight signing.
type Registry struct {
	Store  store.Store
	Sealer SecretSealer
	Clock  Clock
	locks  *keyedLocks
	log    zerolog.Logger
}

func NewRegistry(st store.Store, sealer SecretSealer) *Registry {
	if sealer == nil {
		sealer = plainSealer{}
	}
	return &Registry{
		Store:  st,
		Sealer: sealer,
		Clock:  SystemClock{},
		locks:  newKeyedLocks(),
		log:    logging.NewLogger("registry"),
	}
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return raw, nil
}

// normalizeEvents trims, deduplicates and sorts event types.
func normalizeEvents(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, e := range in {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil, ErrNoEventTypes
	}
	return out, nil
}

// Create registers a subscription and returns it with the plaintext secret.
// The secret is never returned again.
func (r *Registry) Create(ctx context.Context, orgID string, req model.SubscriptionRequest) (model.Subscription, string, error) {
	u, err := validateURL(req.URL)
	if err != nil {
		return model.Subscription{}, "", err
	}
	events, err := normalizeEvents(req.Events)
	if err != nil {
		return model.Subscription{}, "", err
	}
	secret := req.Secret
	if secret == "" {
		if secret, err = GenerateSecret(); err != nil {
			return model.Subscription{}, "", err
		}
	} else if strings.TrimSpace(secret) == "" {
		return model.Subscription{}, "", ErrInvalidSecret
	}
	sealed, err := r.Sealer.Seal(secret)
	if err != nil {
		return model.Subscription{}, "", fmt.Errorf("seal secret: %w", err)
	}
	now := r.Clock.Now()
	sub := model.Subscription{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		URL:            u,
		EventTypes:     events,
		Description:    strings.TrimSpace(req.Description),
		SealedSecret:   sealed,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.Store.CreateSubscription(ctx, sub); err != nil {
		return model.Subscription{}, "", fmt.Errorf("create subscription: %w", err)
	}
	r.log.Info().Str("subscription_id", sub.ID).Str("org_id", orgID).Strs("events", events).Msg("subscription created")
	return sub, secret, nil
}

// Get returns a subscription owned by orgID. Other organizations' ids are
// reported as not found.
func (r *Registry) Get(ctx context.Context, orgID, id string) (model.Subscription, error) {
	sub, err := r.Store.GetSubscription(ctx, id)
	if err != nil {
		return model.Subscription{}, err
	}
	if sub.OrganizationID != orgID {
		return model.Subscription{}, store.ErrNotFound
	}
	return sub, nil
}

func (r *Registry) List(ctx context.Context, orgID, cursor string, limit int) ([]model.Subscription, string, error) {
	return r.Store.ListSubscriptions(ctx, orgID, cursor, limit)
}

// Update applies a partial update. A present isActive goes through SetActive
// so activating resets the failure count.
func (r *Registry) Update(ctx context.Context, orgID, id string, patch model.SubscriptionPatch) (model.Subscription, error) {
	sub, err := r.Get(ctx, orgID, id)
	if err != nil {
		return model.Subscription{}, err
	}
	changed := false
	if patch.URL != nil {
		u, err := validateURL(*patch.URL)
		if err != nil {
			return model.Subscription{}, err
		}
		sub.URL, changed = u, true
	}
	if patch.Events != nil {
		events, err := normalizeEvents(patch.Events)
		if err != nil {
			return model.Subscription{}, err
		}
		sub.EventTypes, changed = events, true
	}
	if patch.Description != nil {
		sub.Description, changed = strings.TrimSpace(*patch.Description), true
	}
	if changed {
		if sub, err = r.Store.UpdateSubscription(ctx, sub); err != nil {
			return model.Subscription{}, err
		}
	}
	// isActive=true resets the failure count even on an active subscription
	if patch.IsActive != nil {
		return r.SetActive(ctx, orgID, id, *patch.IsActive)
	}
	return sub, nil
}

// SetActive is the manual override; activating resets failureCount to 0.
func (r *Registry) SetActive(ctx context.Context, orgID, id string, active bool) (model.Subscription, error) {
	if _, err := r.Get(ctx, orgID, id); err != nil {
		return model.Subscription{}, err
	}
	sub, err := r.Store.SetSubscriptionActive(ctx, id, active)
	if err != nil {
		return model.Subscription{}, err
	}
	r.log.Info().Str("subscription_id", id).Bool("active", active).Msg("subscription active flag set")
	return sub, nil
}

// RotateSecret replaces the signing secret. It waits for attempts currently
// signing or sending with the old secret; every later attempt signs with the
// new one.
func (r *Registry) RotateSecret(ctx context.Context, orgID, id string) (string, error) {
	if _, err := r.Get(ctx, orgID, id); err != nil {
		return "", err
	}
	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	sealed, err := r.Sealer.Seal(secret)
	if err != nil {
		return "", fmt.Errorf("seal secret: %w", err)
	}
	unlock := r.locks.Lock(id)
	defer unlock()
	if err := r.Store.SetSubscriptionSecret(ctx, id, sealed); err != nil {
		return "", err
	}
	r.log.Info().Str("subscription_id", id).Msg("secret rotated")
	return secret, nil
}

// Delete removes the subscription, its queued jobs and its delivery log.
// Jobs already handed to the scheduler are dropped when dequeued.
func (r *Registry) Delete(ctx context.Context, orgID, id string) error {
	if err := r.Store.DeleteSubscription(ctx, orgID, id); err != nil {
		return err
	}
	r.log.Info().Str("subscription_id", id).Msg("subscription deleted")
	return nil
}

// FindMatching returns active subscriptions of orgID that want eventType.
func (r *Registry) FindMatching(ctx context.Context, orgID, eventType string) ([]model.Subscription, error) {
	return r.Store.FindSubscriptions(ctx, orgID, eventType)
}

// Logs pages through a subscription's delivery attempts, most recent first.
func (r *Registry) Logs(ctx context.Context, orgID, id, cursor string, limit int) ([]model.DeliveryAttempt, string, error) {
	if _, err := r.Get(ctx, orgID, id); err != nil {
		return nil, "", err
	}
	return r.Store.ListAttempts(ctx, id, cursor, limit)
}

// WithSecret loads the subscription and its plaintext secret and calls fn
// while holding the subscription's read lock, so a rotation cannot finish
// between signing and sending.
func (r *Registry) WithSecret(ctx context.Context, id string, fn func(sub model.Subscription, secret string) error) error {
	unlock := r.locks.RLock(id)
	defer unlock()
	sub, err := r.Store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	secret, err := r.Sealer.Open(sub.SealedSecret)
	if err != nil {
		return err
	}
	return fn(sub, secret)
}
