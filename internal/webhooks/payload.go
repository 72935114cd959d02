package webhooks

import (
	"encoding/json"
	"fmt"
	"time"
)

type envelope struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// BuildPayload renders the delivered body. The bytes are built once per
// event and signed as-is, so receivers must verify against the raw body.
func BuildPayload(eventType string, at time.Time, data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(envelope{
		Event:     eventType,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", ErrInvalidEvent, err)
	}
	return body, nil
}
