package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"meetinghooks/internal/model"
)

// Store is the persistence interface used by the delivery pipeline and the API.
type Store interface {
	// Subscriptions
	CreateSubscription(ctx context.Context, sub model.Subscription) error
	GetSubscription(ctx context.Context, id string) (model.Subscription, error)
	ListSubscriptions(ctx context.Context, orgID, cursor string, limit int) ([]model.Subscription, string, error)
	FindSubscriptions(ctx context.Context, orgID, eventType string) ([]model.Subscription, error)
	UpdateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	SetSubscriptionSecret(ctx context.Context, id, sealed string) error
	SetSubscriptionActive(ctx context.Context, id string, active bool) (model.Subscription, error)
	DeleteSubscription(ctx context.Context, orgID, id string) error

	// Failure accounting; both are single atomic updates.
	RecordSubscriptionSuccess(ctx context.Context, id string, at time.Time) error
	RecordSubscriptionFailure(ctx context.Context, id string, threshold int) (failureCount int, active bool, err error)

	// Delivery jobs
	CreateJob(ctx context.Context, job model.DeliveryJob) (created bool, err error)
	UpdateJob(ctx context.Context, job model.DeliveryJob) error
	ListOpenJobs(ctx context.Context, afterID string, limit int) ([]model.DeliveryJob, error)
	PurgeJobs(ctx context.Context, before time.Time) (int64, error)

	// Delivery log
	AppendAttempt(ctx context.Context, a model.DeliveryAttempt) error
	ListAttempts(ctx context.Context, subscriptionID, cursor string, limit int) ([]model.DeliveryAttempt, string, error)
	PurgeAttempts(ctx context.Context, before time.Time) (int64, error)
}

var ErrNotFound = errors.New("not found")

var ErrBadCursor = errors.New("invalid cursor")

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

// attempt cursors are opaque to clients: base64("<unix nanos>|<id>")
func encodeAttemptCursor(a model.DeliveryAttempt) string {
	raw := strconv.FormatInt(a.AttemptedAt.UnixNano(), 10) + "|" + a.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeAttemptCursor(cursor string) (time.Time, string, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	ts, id, ok := strings.Cut(string(b), "|")
	if !ok || id == "" {
		return time.Time{}, "", ErrBadCursor
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	return time.Unix(0, n).UTC(), id, nil
}

// attemptBefore orders the delivery log most-recent-first.
func attemptBefore(a model.DeliveryAttempt, at time.Time, id string) bool {
	if a.AttemptedAt.Equal(at) {
		return a.ID < id
	}
	return a.AttemptedAt.Before(at)
}
