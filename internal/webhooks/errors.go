package webhooks

import "errors"

var (
	ErrInvalidURL        = errors.New("url must be an absolute http or https URL")
	ErrNoEventTypes      = errors.New("at least one event type is required")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrInvalidEvent      = errors.New("invalid event")
	ErrInvalidSecret     = errors.New("secret must not be blank")
	ErrSecretUnavailable = errors.New("subscription secret unavailable")
)
