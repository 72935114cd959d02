package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"meetinghooks/internal/model"
	"meetinghooks/internal/store"
	"meetinghooks/internal/webhooks"
)

func pageParams(r *http.Request) (string, int) {
	cursor := r.URL.Query().Get("cursor")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	return cursor, limit
}

// writeError maps pipeline errors onto problem responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Subscription not found", "", r.URL.Path)
	case errors.Is(err, store.ErrBadCursor),
		errors.Is(err, webhooks.ErrInvalidURL),
		errors.Is(err, webhooks.ErrNoEventTypes),
		errors.Is(err, webhooks.ErrInvalidSecret),
		errors.Is(err, webhooks.ErrUnknownEventType),
		errors.Is(err, webhooks.ErrInvalidEvent):
		writeProblem(w, http.StatusBadRequest, title, err.Error(), r.URL.Path)
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg(title)
		writeProblem(w, http.StatusInternalServerError, title, "internal error", r.URL.Path)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}

// WebhooksHandler handles POST/GET /v1/webhooks
func (s *Server) WebhooksHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p, ok := s.requirePrincipal(w, r, true)
		if !ok {
			return
		}
		var req model.SubscriptionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sub, secret, err := s.Registry.Create(r.Context(), p.OrganizationID, req)
		if err != nil {
			s.writeError(w, r, "Create subscription failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"subscription": sub, "secret": secret})
	case http.MethodGet:
		p, ok := s.requirePrincipal(w, r, false)
		if !ok {
			return
		}
		cursor, limit := pageParams(r)
		items, next, err := s.Registry.List(r.Context(), p.OrganizationID, cursor, limit)
		if err != nil {
			s.writeError(w, r, "List subscriptions failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// WebhookByIDHandler handles /v1/webhooks/{id} and its sub-resources:
// /secret/rotate, /test, /logs and /logs/stream.
func (s *Server) WebhookByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(strings.TrimPrefix(path, "/v1"), "/webhooks/")
	if rest == "" || strings.HasPrefix(rest, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	id, sub := parts[0], strings.Join(parts[1:], "/")

	switch sub {
	case "":
		s.webhookResource(w, r, id)
	case "secret/rotate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p, ok := s.requirePrincipal(w, r, true)
		if !ok {
			return
		}
		secret, err := s.Registry.RotateSecret(r.Context(), p.OrganizationID, id)
		if err != nil {
			s.writeError(w, r, "Rotate secret failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
	case "test":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p, ok := s.requirePrincipal(w, r, true)
		if !ok {
			return
		}
		var req struct {
			EventType string `json:"eventType"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.EventType == "" {
			writeProblem(w, http.StatusBadRequest, "Invalid test request", "eventType is required", path)
			return
		}
		if !s.Samples.Has(req.EventType) {
			writeProblem(w, http.StatusBadRequest, "Invalid test request", "no sample payload for event type "+req.EventType, path)
			return
		}
		res, err := s.Tester.TestDeliver(r.Context(), p.OrganizationID, id, req.EventType)
		if err != nil {
			s.writeError(w, r, "Test delivery failed", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "logs":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p, ok := s.requirePrincipal(w, r, false)
		if !ok {
			return
		}
		cursor, limit := pageParams(r)
		items, next, err := s.Registry.Logs(r.Context(), p.OrganizationID, id, cursor, limit)
		if err != nil {
			s.writeError(w, r, "List delivery logs failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	case "logs/stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p, ok := s.requirePrincipal(w, r, false)
		if !ok {
			return
		}
		if _, err := s.Registry.Get(r.Context(), p.OrganizationID, id); err != nil {
			s.writeError(w, r, "Open log stream failed", err)
			return
		}
		s.LogStreamHandler(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

func (s *Server) webhookResource(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		p, ok := s.requirePrincipal(w, r, false)
		if !ok {
			return
		}
		sub, err := s.Registry.Get(r.Context(), p.OrganizationID, id)
		if err != nil {
			s.writeError(w, r, "Get subscription failed", err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	case http.MethodPatch:
		p, ok := s.requirePrincipal(w, r, true)
		if !ok {
			return
		}
		var patch model.SubscriptionPatch
		if !decodeJSON(w, r, &patch) {
			return
		}
		sub, err := s.Registry.Update(r.Context(), p.OrganizationID, id, patch)
		if err != nil {
			s.writeError(w, r, "Update subscription failed", err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	case http.MethodDelete:
		p, ok := s.requirePrincipal(w, r, true)
		if !ok {
			return
		}
		if err := s.Registry.Delete(r.Context(), p.OrganizationID, id); err != nil {
			s.writeError(w, r, "Delete subscription failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// EventsHandler handles POST /v1/events, the HTTP form of publish for
// collaborators running out of process. Delivery happens asynchronously.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.requirePrincipal(w, r, true)
	if !ok {
		return
	}
	var req struct {
		ID         string         `json:"id"`
		Type       string         `json:"type"`
		Payload    map[string]any `json:"payload"`
		OccurredAt *time.Time     `json:"occurredAt"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ev := model.Event{ID: req.ID, Type: req.Type, OrganizationID: p.OrganizationID, Payload: req.Payload}
	if req.OccurredAt != nil {
		ev.OccurredAt = req.OccurredAt.UTC()
	}
	rcpt, err := s.Pub.Submit(r.Context(), ev)
	if err != nil {
		s.writeError(w, r, "Publish event failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, rcpt)
}

// EventTypesHandler lists the event types that can be subscribed to and tested.
func (s *Server) EventTypesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.requirePrincipal(w, r, false); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.Samples.Types()})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]any{"status": "ready", "queueDepth": s.Queue.Len()})
}
