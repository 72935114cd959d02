package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"meetinghooks/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	subs      map[string]model.Subscription             // id -> subscription
	subsByOrg map[string][]string                       // org -> ids in creation order
	byEvent   map[string]map[string]map[string]struct{} // org -> event type -> ids
	jobs      map[string]*model.DeliveryJob             // id -> job
	jobKeys   map[string]string                         // subscription|event -> job id
	attempts  map[string][]model.DeliveryAttempt        // subscription -> attempts
}

func NewMemory() *Memory {
	return &Memory{
		subs:      map[string]model.Subscription{},
		subsByOrg: map[string][]string{},
		byEvent:   map[string]map[string]map[string]struct{}{},
		jobs:      map[string]*model.DeliveryJob{},
		jobKeys:   map[string]string{},
		attempts:  map[string][]model.DeliveryAttempt{},
	}
}

func cloneSub(s model.Subscription) model.Subscription {
	s.EventTypes = slices.Clone(s.EventTypes)
	if s.LastTriggeredAt != nil {
		t := *s.LastTriggeredAt
		s.LastTriggeredAt = &t
	}
	return s
}

func (m *Memory) index(s model.Subscription) {
	types := m.byEvent[s.OrganizationID]
	if types == nil {
		types = map[string]map[string]struct{}{}
		m.byEvent[s.OrganizationID] = types
	}
	for _, et := range s.EventTypes {
		if types[et] == nil {
			types[et] = map[string]struct{}{}
		}
		types[et][s.ID] = struct{}{}
	}
}

func (m *Memory) unindex(s model.Subscription) {
	types := m.byEvent[s.OrganizationID]
	for _, et := range s.EventTypes {
		delete(types[et], s.ID)
		if len(types[et]) == 0 {
			delete(types, et)
		}
	}
}

func (m *Memory) CreateSubscription(ctx context.Context, sub model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub = cloneSub(sub)
	m.subs[sub.ID] = sub
	m.subsByOrg[sub.OrganizationID] = append(m.subsByOrg[sub.OrganizationID], sub.ID)
	m.index(sub)
	return nil
}

func (m *Memory) GetSubscription(ctx context.Context, id string) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return model.Subscription{}, ErrNotFound
	}
	return cloneSub(s), nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, orgID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	ids := m.subsByOrg[orgID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Subscription{}
	next := ""
	for i := start; i < len(ids); i++ {
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, cloneSub(m.subs[ids[i]]))
	}
	return out, next, nil
}

func (m *Memory) FindSubscriptions(ctx context.Context, orgID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for id := range m.byEvent[orgID][eventType] {
		if s := m.subs[id]; s.IsActive {
			out = append(out, cloneSub(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.subs[sub.ID]
	if !ok {
		return model.Subscription{}, ErrNotFound
	}
	m.unindex(cur)
	cur.URL = sub.URL
	cur.EventTypes = slices.Clone(sub.EventTypes)
	cur.Description = sub.Description
	cur.UpdatedAt = time.Now().UTC()
	m.subs[cur.ID] = cur
	m.index(cur)
	return cloneSub(cur), nil
}

func (m *Memory) SetSubscriptionSecret(ctx context.Context, id, sealed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	s.SealedSecret = sealed
	s.UpdatedAt = time.Now().UTC()
	m.subs[id] = s
	return nil
}

func (m *Memory) SetSubscriptionActive(ctx context.Context, id string, active bool) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return model.Subscription{}, ErrNotFound
	}
	s.IsActive = active
	if active {
		s.FailureCount = 0
	}
	s.UpdatedAt = time.Now().UTC()
	m.subs[id] = s
	return cloneSub(s), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.OrganizationID != orgID {
		return ErrNotFound
	}
	m.unindex(s)
	delete(m.subs, id)
	ids := m.subsByOrg[orgID]
	if i := slices.Index(ids, id); i >= 0 {
		m.subsByOrg[orgID] = slices.Delete(ids, i, i+1)
	}
	for jid, j := range m.jobs {
		if j.SubscriptionID == id {
			delete(m.jobKeys, j.SubscriptionID+"|"+j.EventID)
			delete(m.jobs, jid)
		}
	}
	delete(m.attempts, id)
	return nil
}

func (m *Memory) RecordSubscriptionSuccess(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	s.FailureCount = 0
	t := at
	s.LastTriggeredAt = &t
	s.UpdatedAt = time.Now().UTC()
	m.subs[id] = s
	return nil
}

func (m *Memory) RecordSubscriptionFailure(ctx context.Context, id string, threshold int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return 0, false, ErrNotFound
	}
	s.FailureCount++
	if s.FailureCount > threshold {
		s.IsActive = false
	}
	s.UpdatedAt = time.Now().UTC()
	m.subs[id] = s
	return s.FailureCount, s.IsActive, nil
}

func (m *Memory) CreateJob(ctx context.Context, job model.DeliveryJob) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[job.SubscriptionID]; !ok {
		return false, ErrNotFound
	}
	key := job.SubscriptionID + "|" + job.EventID
	if _, dup := m.jobKeys[key]; dup {
		return false, nil
	}
	job.Body = slices.Clone(job.Body)
	m.jobs[job.ID] = &job
	m.jobKeys[key] = job.ID
	return true, nil
}

func (m *Memory) UpdateJob(ctx context.Context, job model.DeliveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[job.ID]
	if j == nil {
		// subscription deleted while the attempt was in flight
		return nil
	}
	j.Attempts = job.Attempts
	j.State = job.State
	j.NextAttemptAt = job.NextAttemptAt
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ListOpenJobs(ctx context.Context, afterID string, limit int) ([]model.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.jobs))
	for id, j := range m.jobs {
		if !j.State.Terminal() && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]model.DeliveryJob, 0, len(ids))
	for _, id := range ids {
		j := *m.jobs[id]
		j.Body = slices.Clone(j.Body)
		out = append(out, j)
	}
	return out, nil
}

func (m *Memory) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		if j.State.Terminal() && j.UpdatedAt.Before(before) {
			delete(m.jobKeys, j.SubscriptionID+"|"+j.EventID)
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) AppendAttempt(ctx context.Context, a model.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[a.SubscriptionID]; !ok {
		return nil
	}
	m.attempts[a.SubscriptionID] = append(m.attempts[a.SubscriptionID], a)
	return nil
}

func (m *Memory) ListAttempts(ctx context.Context, subscriptionID, cursor string, limit int) ([]model.DeliveryAttempt, string, error) {
	limit = clampLimit(limit)
	var (
		at       time.Time
		cursorID string
	)
	if cursor != "" {
		var err error
		if at, cursorID, err = decodeAttemptCursor(cursor); err != nil {
			return nil, "", err
		}
	}
	m.mu.Lock()
	all := slices.Clone(m.attempts[subscriptionID])
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].AttemptedAt.Equal(all[j].AttemptedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].AttemptedAt.After(all[j].AttemptedAt)
	})
	out := []model.DeliveryAttempt{}
	next := ""
	for _, a := range all {
		if cursor != "" && !attemptBefore(a, at, cursorID) {
			continue
		}
		if len(out) == limit {
			next = encodeAttemptCursor(out[len(out)-1])
			break
		}
		out = append(out, a)
	}
	return out, next, nil
}

func (m *Memory) PurgeAttempts(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for sub, list := range m.attempts {
		kept := list[:0]
		for _, a := range list {
			if a.AttemptedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, a)
		}
		m.attempts[sub] = kept
	}
	return n, nil
}
