package api

import (
	"net/http"
	"time"

	"meetinghooks/internal/buildinfo"
)

// DebugJSON reports build info and the effective configuration with
// credentials reduced to presence flags.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Config
	wh := c.Webhooks
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":                  c.Server.Port,
			"env":                   c.Server.Env,
			"authMode":              c.Auth.Mode,
			"rateRps":               c.Rate.RPS,
			"rateBurst":             c.Rate.Burst,
			"hasDatabaseUrl":        c.Database.URL != "",
			"hasRedisUrl":           c.Redis.URL != "",
			"hasSecretKey":          wh.SecretKey != "",
			"workers":               wh.Workers,
			"maxAttempts":           wh.MaxAttempts,
			"baseDelay":             wh.BaseDelay.String(),
			"maxDelay":              wh.MaxDelay.String(),
			"deactivationThreshold": wh.DeactivationThreshold,
			"logRetention":          wh.LogRetention.String(),
		},
		"queueDepth": s.Queue.Len(),
	})
}
