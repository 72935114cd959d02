// Package api implements the HTTP management surface of the webhook service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meetinghooks/internal/auth"
	"meetinghooks/internal/config"
	"meetinghooks/internal/logging"
	"meetinghooks/internal/metrics"
	"meetinghooks/internal/store"
	"meetinghooks/internal/webhooks"
)

type Server struct {
	Config   *config.Config
	Store    store.Store
	Registry *webhooks.Registry
	Pub      *webhooks.Publisher
	Tester   *webhooks.Tester
	Queue    *webhooks.Queue
	Worker   *webhooks.Worker
	Janitor  *webhooks.Janitor
	Samples  *webhooks.SampleRegistry
	Auth     *auth.Verifier
	Broker   EventBroker
	Limiter  *RateLimiter
	log      zerolog.Logger
}

// NewServer wires the delivery pipeline. If no database URL is configured it
// uses the in-memory store; if no Redis URL is configured the live log stream
// uses the in-process broker.
func NewServer(cfg *config.Config) (*Server, error) {
	log := logging.NewLogger("api")
	var st store.Store
	if strings.TrimSpace(cfg.Database.URL) == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := pg.Migrate(ctx)
			cancel()
			if err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		st = pg
	}
	sealer, err := webhooks.NewSealer(cfg.Webhooks.SecretKey)
	if err != nil {
		return nil, err
	}

	var broker EventBroker = NewBroker()
	if cfg.Redis.URL != "" {
		if rb, err := NewRedisBroker(cfg.Redis.URL); err == nil {
			broker = rb
		} else {
			log.Warn().Err(err).Msg("redis unavailable, using in-process log broker")
		}
	}

	metrics.RegisterDefault()
	reg := webhooks.NewRegistry(st, sealer)
	q := webhooks.NewQueue(webhooks.SystemClock{}, cfg.Webhooks.QueueSize, cfg.Webhooks.PollInterval)
	worker := webhooks.NewWorker(cfg.Webhooks, st, reg, q)
	worker.Sink = brokerSink{broker}
	samples := webhooks.DefaultSamples()
	tester := webhooks.NewTester(reg, st, worker.Sender, samples)
	tester.Sink = worker.Sink

	return &Server{
		Config:   cfg,
		Store:    st,
		Registry: reg,
		Pub:      webhooks.NewPublisher(reg, st, q),
		Tester:   tester,
		Queue:    q,
		Worker:   worker,
		Janitor:  webhooks.NewJanitor(st, cfg.Webhooks.LogRetention, cfg.Webhooks.JanitorInterval),
		Samples:  samples,
		Auth:     auth.NewVerifier(cfg.Auth),
		Broker:   broker,
		Limiter:  NewRateLimiter(cfg.Rate.RPS, cfg.Rate.Burst),
		log:      log,
	}, nil
}

// Start runs the delivery workers and the retention janitor.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Worker.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	s.Janitor.Start(ctx)
	return nil
}

// Close stops background work and releases the store and broker.
func (s *Server) Close() error {
	s.Worker.Stop()
	s.Janitor.Stop()
	if c, ok := s.Broker.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if c, ok := s.Store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Routes mounts every endpoint. The management endpoints are served under
// /v1 and, for the UI, under the bare /webhooks paths.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/webhooks", s.WebhooksHandler)
	mux.HandleFunc("/v1/webhooks/", s.WebhookByIDHandler) // includes /secret/rotate, /test, /logs, /logs/stream
	mux.HandleFunc("/webhooks", s.WebhooksHandler)
	mux.HandleFunc("/webhooks/", s.WebhookByIDHandler)

	mux.HandleFunc("/v1/events", s.EventsHandler)
	mux.HandleFunc("/v1/event-types", s.EventTypesHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	mux.HandleFunc("/debug/info", s.DebugJSON)

	return s.logMiddleware(metricsMiddleware(s.rateLimit(mux)))
}
