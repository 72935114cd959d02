package model

import (
	"slices"
	"time"
)

// Subscription is an organization's registration of a destination URL and
// the event types it wants delivered.
type Subscription struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organizationId"`
	URL             string     `json:"url"`
	EventTypes      []string   `json:"events"`
	Description     string     `json:"description,omitempty"`
	SealedSecret    string     `json:"-"`
	IsActive        bool       `json:"isActive"`
	FailureCount    int        `json:"failureCount"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Matches reports whether the subscription wants events of the given type.
func (s Subscription) Matches(eventType string) bool {
	return slices.Contains(s.EventTypes, eventType)
}

type SubscriptionRequest struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Secret      string   `json:"secret,omitempty"`
	Description string   `json:"description,omitempty"`
}

// SubscriptionPatch carries a partial update; nil fields are left untouched.
type SubscriptionPatch struct {
	URL         *string  `json:"url,omitempty"`
	Events      []string `json:"events,omitempty"`
	IsActive    *bool    `json:"isActive,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// Event is an immutable domain event produced by a collaborator.
type Event struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrganizationID string         `json:"organizationId"`
	Payload        map[string]any `json:"payload"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

type JobState string

const (
	JobPending           JobState = "pending"
	JobAttempting        JobState = "attempting"
	JobRetryScheduled    JobState = "retry_scheduled"
	JobSucceeded         JobState = "succeeded"
	JobPermanentlyFailed JobState = "permanently_failed"
	JobDropped           JobState = "dropped"
)

// Terminal reports whether no further attempts will be made in this state.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobPermanentlyFailed, JobDropped:
		return true
	}
	return false
}

// DeliveryJob is the persisted work item for one (subscription, event) pair.
type DeliveryJob struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscriptionId"`
	OrganizationID string    `json:"organizationId"`
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"`
	Body           []byte    `json:"-"`
	Attempts       int       `json:"attempts"`
	State          JobState  `json:"state"`
	NextAttemptAt  time.Time `json:"nextAttemptAt"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DeliveryAttempt is one HTTP POST try, as recorded in the delivery log.
type DeliveryAttempt struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscriptionId"`
	EventID        string     `json:"eventId"`
	EventType      string     `json:"eventType"`
	AttemptNumber  int        `json:"attemptNumber"`
	HTTPStatus     *int       `json:"httpStatus"`
	Success        bool       `json:"success"`
	LatencyMs      int64      `json:"latencyMs"`
	ErrorDetail    *string    `json:"errorDetail,omitempty"`
	AttemptedAt    time.Time  `json:"attemptedAt"`
	NextRetryAt    *time.Time `json:"nextRetryAt,omitempty"`
	IsTest         bool       `json:"isTest"`
}

// DeliveryResult is the synchronous answer of a test delivery.
type DeliveryResult struct {
	Success   bool   `json:"success"`
	Status    int    `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}
