package webhooks

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"meetinghooks/internal/metrics"
	"meetinghooks/internal/model"
)

// Clock supplies the current time to the scheduler.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

type queued struct {
	job model.DeliveryJob
	seq uint64
}

// jobHeap orders jobs by NextAttemptAt, then by insertion.
type jobHeap []queued

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].job.NextAttemptAt.Equal(h[j].job.NextAttemptAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].job.NextAttemptAt.Before(h[j].job.NextAttemptAt)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(queued)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Queue holds every scheduled delivery job. A single dispatcher (Run) moves
// due jobs from the min-heap to a bounded ready channel, admitting at most one
// job per subscription until the worker reports it Done. Due jobs that find
// their subscription busy are parked and re-enter the heap in FIFO order.
type Queue struct {
	clock Clock
	poll  time.Duration

	mu      sync.Mutex
	heap    jobHeap
	seq     uint64
	known   map[string]struct{}            // job ids in heap, parked, or in flight
	busy    map[string]bool                // subscription -> job handed out
	parked  map[string][]model.DeliveryJob // subscription -> due jobs waiting for the gate
	nParked int

	ready chan model.DeliveryJob
	wake  chan struct{}
}

// NewQueue creates a queue whose ready channel holds up to size jobs. The
// dispatcher re-checks the heap at least every poll interval.
func NewQueue(clock Clock, size int, poll time.Duration) *Queue {
	if clock == nil {
		clock = SystemClock{}
	}
	if size <= 0 {
		size = 1
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Queue{
		clock:  clock,
		poll:   poll,
		known:  map[string]struct{}{},
		busy:   map[string]bool{},
		parked: map[string][]model.DeliveryJob{},
		ready:  make(chan model.DeliveryJob, size),
		wake:   make(chan struct{}, 1),
	}
}

// Schedule adds job to run at job.NextAttemptAt. Scheduling a job id that is
// already queued or in flight is a no-op.
func (q *Queue) Schedule(job model.DeliveryJob) {
	q.mu.Lock()
	if _, ok := q.known[job.ID]; ok {
		q.mu.Unlock()
		return
	}
	q.known[job.ID] = struct{}{}
	q.push(job)
	q.mu.Unlock()
	q.Wake()
}

func (q *Queue) push(job model.DeliveryJob) {
	q.seq++
	heap.Push(&q.heap, queued{job: job, seq: q.seq})
	metrics.WebhookQueueDepth.Set(float64(len(q.heap) + q.nParked))
}

// Ready is the channel workers receive due jobs from.
func (q *Queue) Ready() <-chan model.DeliveryJob { return q.ready }

// Done releases the subscription gate held by job. Callers that want the job
// retried schedule it again afterwards.
func (q *Queue) Done(job model.DeliveryJob) {
	q.mu.Lock()
	delete(q.known, job.ID)
	delete(q.busy, job.SubscriptionID)
	if waiting := q.parked[job.SubscriptionID]; len(waiting) > 0 {
		next := waiting[0]
		if len(waiting) == 1 {
			delete(q.parked, job.SubscriptionID)
		} else {
			q.parked[job.SubscriptionID] = waiting[1:]
		}
		q.nParked--
		q.push(next)
	}
	q.mu.Unlock()
	q.Wake()
}

// Len returns the number of jobs not yet handed to a worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap) + q.nParked
}

// Wake makes the dispatcher re-examine the heap now.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next pops the earliest due job whose subscription is free. When nothing is
// due it returns how long the dispatcher may sleep.
func (q *Queue) next() (model.DeliveryJob, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	for len(q.heap) > 0 {
		top := q.heap[0].job
		if wait := top.NextAttemptAt.Sub(now); wait > 0 {
			return model.DeliveryJob{}, min(wait, q.poll), false
		}
		heap.Pop(&q.heap)
		if q.busy[top.SubscriptionID] {
			q.parked[top.SubscriptionID] = append(q.parked[top.SubscriptionID], top)
			q.nParked++
			continue
		}
		q.busy[top.SubscriptionID] = true
		metrics.WebhookQueueDepth.Set(float64(len(q.heap) + q.nParked))
		return top, 0, true
	}
	return model.DeliveryJob{}, q.poll, false
}

// Run dispatches due jobs until ctx is cancelled. Only Run sends on the
// ready channel.
func (q *Queue) Run(ctx context.Context) {
	timer := time.NewTimer(q.poll)
	defer timer.Stop()
	for {
		job, wait, ok := q.next()
		if ok {
			select {
			case q.ready <- job:
				continue
			case <-ctx.Done():
				return
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}
