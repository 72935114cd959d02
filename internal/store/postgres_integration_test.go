//go:build postgres_integration

package store

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"meetinghooks/internal/model"
)

func TestPostgresSubscriptionLifecycle(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	now := time.Now().UTC()
	sub := model.Subscription{ID: uuid.NewString(), OrganizationID: "org_it", URL: "https://example.com/hook", EventTypes: []string{"meeting.completed"}, SealedSecret: "s", IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := p.CreateSubscription(t.Context(), sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	defer func() { _ = p.DeleteSubscription(t.Context(), sub.OrganizationID, sub.ID) }()

	found, err := p.FindSubscriptions(t.Context(), "org_it", "meeting.completed")
	if err != nil || len(found) == 0 {
		t.Fatalf("FindSubscriptions: %v (%d)", err, len(found))
	}
	for i := 0; i < 4; i++ {
		if _, _, err := p.RecordSubscriptionFailure(t.Context(), sub.ID, 3); err != nil {
			t.Fatalf("RecordSubscriptionFailure: %v", err)
		}
	}
	got, err := p.GetSubscription(t.Context(), sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if got.IsActive || got.FailureCount != 4 {
		t.Fatalf("want inactive with 4 failures, got active=%v count=%d", got.IsActive, got.FailureCount)
	}
	job := model.DeliveryJob{ID: uuid.NewString(), SubscriptionID: sub.ID, OrganizationID: "org_it", EventID: "evt_1", EventType: "meeting.completed", Body: []byte(`{}`), State: model.JobPending, NextAttemptAt: now, CreatedAt: now}
	if ok, err := p.CreateJob(t.Context(), job); err != nil || !ok {
		t.Fatalf("CreateJob: %v %v", ok, err)
	}
	job.ID = uuid.NewString()
	if ok, err := p.CreateJob(t.Context(), job); err != nil || ok {
		t.Fatalf("duplicate CreateJob should be ignored: %v %v", ok, err)
	}

	a := model.DeliveryAttempt{ID: uuid.NewString(), SubscriptionID: sub.ID, EventID: "evt_1", EventType: "meeting.completed", AttemptNumber: 1, AttemptedAt: now}
	if err := p.AppendAttempt(t.Context(), a); err != nil {
		t.Fatalf("AppendAttempt: %v", err)
	}
	if err := p.DeleteSubscription(t.Context(), sub.OrganizationID, sub.ID); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	// an in-flight delivery finishing after the delete leaves no orphan row
	a.ID, a.AttemptNumber = uuid.NewString(), 2
	if err := p.AppendAttempt(t.Context(), a); err != nil {
		t.Fatalf("AppendAttempt after delete: %v", err)
	}
	var n int
	if err := p.db.QueryRowContext(t.Context(), `SELECT count(*) FROM webhook_delivery_attempts WHERE subscription_id=$1`, sub.ID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("%d attempts left for deleted subscription", n)
	}
}
