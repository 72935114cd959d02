package webhooks

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meetinghooks/internal/config"
	"meetinghooks/internal/logging"
	"meetinghooks/internal/metrics"
	"meetinghooks/internal/model"
	"meetinghooks/internal/store"
)

// AttemptSink observes every recorded delivery attempt (live log streaming).
type AttemptSink interface {
	AttemptRecorded(ctx context.Context, a model.DeliveryAttempt)
}

const recoverPage = 500

var errInactive = errors.New("subscription inactive")

// Worker drains the queue with a bounded pool of goroutines.
type Worker struct {
	Store    store.Store
	Registry *Registry
	Queue    *Queue
	Sender   *Sender
	Backoff  Backoff
	Policy   *FailurePolicy
	Sink     AttemptSink
	Clock    Clock
	Workers  int

	log    zerolog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(cfg config.WebhookConfig, st store.Store, reg *Registry, q *Queue) *Worker {
	return &Worker{
		Store:    st,
		Registry: reg,
		Queue:    q,
		Sender:   NewSender(&http.Client{}, cfg.Timeout, cfg.UserAgent),
		Backoff: Backoff{
			Base:        cfg.BaseDelay,
			Max:         cfg.MaxDelay,
			MaxAttempts: cfg.MaxAttempts,
			Jitter:      cfg.Jitter,
		},
		Policy:  NewFailurePolicy(st, cfg.DeactivationThreshold),
		Clock:   SystemClock{},
		Workers: cfg.Workers,
		log:     logging.NewLogger("worker"),
	}
}

// Start reloads unfinished jobs from the store, then starts the dispatcher
// and the worker goroutines.
func (w *Worker) Start(ctx context.Context) error {
	n, err := w.recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info().Int("jobs", n).Msg("recovered open delivery jobs")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.Queue.Run(ctx)
	}()
	workers := max(w.Workers, 1)
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-w.Queue.Ready():
					w.process(ctx, job)
				}
			}
		}()
	}
	w.log.Info().Int("workers", workers).Msg("delivery workers started")
	return nil
}

// Stop cancels the dispatcher and waits for in-flight attempts to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) recover(ctx context.Context) (int, error) {
	now := w.Clock.Now()
	after, total := "", 0
	for {
		jobs, err := w.Store.ListOpenJobs(ctx, after, recoverPage)
		if err != nil {
			return total, err
		}
		for _, j := range jobs {
			// an attempt interrupted by a restart is retried right away
			if j.State == model.JobAttempting || j.NextAttemptAt.IsZero() {
				j.NextAttemptAt = now
			}
			w.Queue.Schedule(j)
			after = j.ID
		}
		total += len(jobs)
		if len(jobs) < recoverPage {
			return total, nil
		}
	}
}

func (w *Worker) process(ctx context.Context, job model.DeliveryJob) {
	// an attempt already taken off the queue runs to completion on shutdown
	ctx = context.WithoutCancel(ctx)
	retry, again := w.deliver(ctx, job)
	w.Queue.Done(job)
	if again {
		w.Queue.Schedule(retry)
	}
}

// deliver performs one attempt and returns the job to reschedule, if any.
func (w *Worker) deliver(ctx context.Context, job model.DeliveryJob) (model.DeliveryJob, bool) {
	attemptNo := job.Attempts + 1
	var out Outcome
	err := w.Registry.WithSecret(ctx, job.SubscriptionID, func(sub model.Subscription, secret string) error {
		if !sub.IsActive {
			return errInactive
		}
		job.State = model.JobAttempting
		if err := w.Store.UpdateJob(ctx, job); err != nil {
			w.log.Warn().Err(err).Str("job_id", job.ID).Msg("mark job attempting")
		}
		out = w.Sender.Send(ctx, sub.URL, secret, job.EventType, job.EventID, job.Body)
		return nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		w.drop(ctx, job, "deleted")
		return job, false
	case errors.Is(err, errInactive):
		w.drop(ctx, job, "inactive")
		return job, false
	case err != nil:
		// store or secret trouble; no request was made, so no attempt is spent
		job.NextAttemptAt = w.Clock.Now().Add(w.Backoff.Delay(attemptNo))
		w.log.Error().Err(err).Str("job_id", job.ID).Time("next_attempt_at", job.NextAttemptAt).Msg("delivery not attempted")
		return job, true
	}

	now := w.Clock.Now()
	job.Attempts = attemptNo
	attempt := newAttempt(job.SubscriptionID, job.EventID, job.EventType, attemptNo, out, now)
	status := outcomeLabel(out)
	metrics.WebhookDeliveries.WithLabelValues(job.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(job.EventType, status).Observe(float64(out.Latency.Milliseconds()))

	log := w.log.With().Str("job_id", job.ID).Str("subscription_id", job.SubscriptionID).
		Str("event_id", job.EventID).Int("attempt", attemptNo).Int("status", out.Status).Logger()

	switch {
	case out.Success():
		job.State = model.JobSucceeded
		w.record(ctx, attempt)
		w.update(ctx, job)
		w.Policy.Succeeded(ctx, job.SubscriptionID, now)
		log.Debug().Int64("latency_ms", attempt.LatencyMs).Msg("delivered")
		return job, false
	case w.Backoff.Exhausted(attemptNo):
		job.State = model.JobPermanentlyFailed
		w.record(ctx, attempt)
		w.update(ctx, job)
		metrics.WebhookPermanentFailures.WithLabelValues(job.EventType).Inc()
		log.Warn().Str("error", out.Detail()).Msg("delivery permanently failed")
		w.Policy.PermanentlyFailed(ctx, job.SubscriptionID)
		return job, false
	default:
		next := now.Add(w.Backoff.Delay(attemptNo))
		attempt.NextRetryAt = &next
		job.State = model.JobRetryScheduled
		job.NextAttemptAt = next
		w.record(ctx, attempt)
		w.update(ctx, job)
		metrics.WebhookRetries.WithLabelValues(job.EventType).Inc()
		log.Info().Str("error", out.Detail()).Time("next_retry_at", next).Msg("delivery failed, retry scheduled")
		return job, true
	}
}

func (w *Worker) drop(ctx context.Context, job model.DeliveryJob, reason string) {
	job.State = model.JobDropped
	w.update(ctx, job)
	metrics.WebhookJobsDropped.WithLabelValues(reason).Inc()
	w.log.Debug().Str("job_id", job.ID).Str("subscription_id", job.SubscriptionID).Str("reason", reason).Msg("job dropped")
}

func (w *Worker) update(ctx context.Context, job model.DeliveryJob) {
	job.UpdatedAt = w.Clock.Now()
	if err := w.Store.UpdateJob(ctx, job); err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Str("state", string(job.State)).Msg("update job")
	}
}

func (w *Worker) record(ctx context.Context, a model.DeliveryAttempt) {
	recordAttempt(ctx, w.Store, w.Sink, a, w.log)
}

func recordAttempt(ctx context.Context, st store.Store, sink AttemptSink, a model.DeliveryAttempt, log zerolog.Logger) {
	if err := st.AppendAttempt(ctx, a); err != nil {
		log.Error().Err(err).Str("subscription_id", a.SubscriptionID).Str("event_id", a.EventID).Msg("append delivery attempt")
		return
	}
	if sink != nil {
		sink.AttemptRecorded(ctx, a)
	}
}

func newAttempt(subscriptionID, eventID, eventType string, n int, out Outcome, at time.Time) model.DeliveryAttempt {
	a := model.DeliveryAttempt{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		EventID:        eventID,
		EventType:      eventType,
		AttemptNumber:  n,
		Success:        out.Success(),
		LatencyMs:      out.Latency.Milliseconds(),
		AttemptedAt:    at,
	}
	if out.Status != 0 {
		status := out.Status
		a.HTTPStatus = &status
	}
	if d := out.Detail(); d != "" {
		a.ErrorDetail = &d
	}
	return a
}

func outcomeLabel(out Outcome) string {
	if out.Status == 0 {
		return "error"
	}
	return strconv.Itoa(out.Status)
}
