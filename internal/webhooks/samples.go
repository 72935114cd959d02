package webhooks

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SampleBuilder produces the canned data block for a test delivery.
type SampleBuilder func(orgID string, now time.Time) map[string]any

// SampleRegistry maps event types to sample payload builders. It doubles as
// the catalog of event types the product emits.
type SampleRegistry struct {
	mu       sync.RWMutex
	builders map[string]SampleBuilder
}

func NewSampleRegistry() *SampleRegistry {
	return &SampleRegistry{builders: map[string]SampleBuilder{}}
}

func (r *SampleRegistry) Register(eventType string, b SampleBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[eventType] = b
}

// Has reports whether a sample payload exists for eventType.
func (r *SampleRegistry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[eventType]
	return ok
}

// Build returns the sample data for eventType.
func (r *SampleRegistry) Build(eventType, orgID string, now time.Time) (map[string]any, error) {
	r.mu.RLock()
	b, ok := r.builders[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	data := b(orgID, now)
	data["test"] = true
	return data, nil
}

// Types lists the registered event types in sorted order.
func (r *SampleRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for t := range r.builders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

const sampleMeetingID = "mtg_sample_0001"

// DefaultSamples registers a payload for every event type the product emits.
func DefaultSamples() *SampleRegistry {
	r := NewSampleRegistry()
	r.Register("meeting.started", func(orgID string, now time.Time) map[string]any {
		return map[string]any{
			"meetingId":      sampleMeetingID,
			"organizationId": orgID,
			"title":          "Weekly product sync",
			"platform":       "zoom",
			"startedAt":      now.Add(-time.Minute).UTC().Format(time.RFC3339),
		}
	})
	r.Register("meeting.completed", func(orgID string, now time.Time) map[string]any {
		return map[string]any{
			"meetingId":       sampleMeetingID,
			"organizationId":  orgID,
			"title":           "Weekly product sync",
			"durationSeconds": 1800,
			"participants":    []string{"alex@example.com", "sam@example.com"},
			"endedAt":         now.UTC().Format(time.RFC3339),
		}
	})
	r.Register("transcript.ready", func(orgID string, now time.Time) map[string]any {
		return map[string]any{
			"meetingId":    sampleMeetingID,
			"transcriptId": "trn_sample_0001",
			"language":     "en",
			"wordCount":    4213,
			"speakers":     2,
		}
	})
	r.Register("summary.generated", func(orgID string, now time.Time) map[string]any {
		return map[string]any{
			"meetingId": sampleMeetingID,
			"summaryId": "sum_sample_0001",
			"summary":   "The team agreed to ship the onboarding redesign next sprint.",
			"topics":    []string{"onboarding", "release planning"},
		}
	})
	r.Register("action_items.created", func(orgID string, now time.Time) map[string]any {
		return map[string]any{
			"meetingId": sampleMeetingID,
			"actionItems": []map[string]any{
				{"id": "ai_sample_0001", "text": "Draft the release notes", "assignee": "alex@example.com", "dueDate": now.AddDate(0, 0, 7).Format("2006-01-02")},
				{"id": "ai_sample_0002", "text": "Book the design review", "assignee": "sam@example.com"},
			},
		}
	})
	r.Register("recording.ready", func(orgID string, now time.Time) map[string]any {
		return map[string]any{
			"meetingId":       sampleMeetingID,
			"recordingId":     "rec_sample_0001",
			"format":          "mp4",
			"durationSeconds": 1800,
			"sizeBytes":       73400320,
		}
	})
	r.Register("quality_score.updated", func(orgID string, now time.Time) map[string]any {
		return map[string]any{
			"meetingId": sampleMeetingID,
			"score":     82,
			"previous":  76,
			"factors":   map[string]any{"agenda": 0.9, "participation": 0.7, "followUp": 0.85},
		}
	})
	return r
}
