package webhooks

import (
	"context"
	"testing"
	"time"

	"meetinghooks/internal/model"
)

func job(id, sub string, at time.Time) model.DeliveryJob {
	return model.DeliveryJob{ID: id, SubscriptionID: sub, NextAttemptAt: at}
}

func TestQueueOrdersByDueTime(t *testing.T) {
	clk := newFakeClock()
	q := NewQueue(clk, 4, time.Second)
	now := clk.Now()
	q.Schedule(job("c", "s3", now.Add(time.Second)))
	q.Schedule(job("a", "s1", now.Add(-time.Minute)))
	q.Schedule(job("b", "s2", now))

	for _, want := range []string{"a", "b"} {
		got, _, ok := q.next()
		if !ok || got.ID != want {
			t.Fatalf("want %s, got %+v ok=%v", want, got, ok)
		}
	}
	_, wait, ok := q.next()
	if ok || wait != time.Second {
		t.Fatalf("c is not due yet; ok=%v wait=%v", ok, wait)
	}
	clk.Advance(time.Second)
	if got, _, ok := q.next(); !ok || got.ID != "c" {
		t.Fatalf("want c, got %+v", got)
	}
}

func TestQueueWaitCappedByPoll(t *testing.T) {
	clk := newFakeClock()
	q := NewQueue(clk, 1, 10*time.Millisecond)
	q.Schedule(job("a", "s1", clk.Now().Add(time.Hour)))
	if _, wait, ok := q.next(); ok || wait != 10*time.Millisecond {
		t.Fatalf("wait=%v ok=%v", wait, ok)
	}
}

func TestQueueGatesPerSubscription(t *testing.T) {
	clk := newFakeClock()
	q := NewQueue(clk, 4, time.Second)
	now := clk.Now()
	first := job("1", "s1", now)
	q.Schedule(first)
	q.Schedule(job("2", "s1", now))
	q.Schedule(job("3", "s1", now))
	q.Schedule(job("x", "s2", now))

	got, _, _ := q.next()
	if got.ID != "1" {
		t.Fatalf("want 1, got %s", got.ID)
	}
	got, _, _ = q.next()
	if got.ID != "x" {
		t.Fatalf("busy subscription must not block others, got %s", got.ID)
	}
	if _, _, ok := q.next(); ok {
		t.Fatal("s1 is busy; nothing else should be handed out")
	}
	if q.Len() != 2 {
		t.Fatalf("parked jobs count toward Len, got %d", q.Len())
	}

	q.Done(first)
	got, _, ok := q.next()
	if !ok || got.ID != "2" {
		t.Fatalf("parked jobs resume in order, got %+v", got)
	}
}

func TestQueueScheduleIgnoresKnownJobs(t *testing.T) {
	clk := newFakeClock()
	q := NewQueue(clk, 4, time.Second)
	j := job("1", "s1", clk.Now())
	q.Schedule(j)
	q.Schedule(j)
	if q.Len() != 1 {
		t.Fatalf("duplicate schedule, len=%d", q.Len())
	}
	got, _, _ := q.next()
	q.Schedule(got) // still in flight
	if q.Len() != 0 {
		t.Fatalf("in-flight job rescheduled, len=%d", q.Len())
	}
	q.Done(got)
	q.Schedule(got)
	if q.Len() != 1 {
		t.Fatalf("job should be schedulable after Done, len=%d", q.Len())
	}
}

func TestQueueRunDispatchesDueJobs(t *testing.T) {
	clk := newFakeClock()
	q := NewQueue(clk, 1, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Schedule(job("later", "s1", clk.Now().Add(time.Minute)))
	select {
	case j := <-q.Ready():
		t.Fatalf("job dispatched early: %+v", j)
	case <-time.After(30 * time.Millisecond):
	}
	clk.Advance(time.Minute)
	q.Wake()
	select {
	case j := <-q.Ready():
		if j.ID != "later" {
			t.Fatalf("unexpected job %+v", j)
		}
	case <-time.After(time.Second):
		t.Fatal("due job not dispatched")
	}
}
