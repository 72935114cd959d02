package webhooks

import (
	"context"
	"errors"
	"strings"
	"testing"

	"meetinghooks/internal/model"
	"meetinghooks/internal/store"
)

func TestRegistryCreateValidation(t *testing.T) {
	reg := NewRegistry(store.NewMemory(), nil)
	ctx := context.Background()
	cases := []struct {
		name string
		req  model.SubscriptionRequest
		want error
	}{
		{"ftp scheme", model.SubscriptionRequest{URL: "ftp://example.com/hook", Events: []string{"a"}}, ErrInvalidURL},
		{"relative", model.SubscriptionRequest{URL: "/hook", Events: []string{"a"}}, ErrInvalidURL},
		{"no host", model.SubscriptionRequest{URL: "https://", Events: []string{"a"}}, ErrInvalidURL},
		{"no events", model.SubscriptionRequest{URL: "https://example.com", Events: nil}, ErrNoEventTypes},
		{"blank events", model.SubscriptionRequest{URL: "https://example.com", Events: []string{" ", ""}}, ErrNoEventTypes},
		{"blank secret", model.SubscriptionRequest{URL: "https://example.com", Events: []string{"a"}, Secret: "   "}, ErrInvalidSecret},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, _, err := reg.Create(ctx, "org1", c.req); !errors.Is(err, c.want) {
				t.Fatalf("want %v, got %v", c.want, err)
			}
		})
	}
}

func TestRegistryCreate(t *testing.T) {
	st := store.NewMemory()
	reg := NewRegistry(st, nil)
	ctx := context.Background()

	sub, secret, err := reg.Create(ctx, "org1", model.SubscriptionRequest{
		URL:    " https://hooks.example.com/in ",
		Events: []string{"transcript.ready", "meeting.completed", "transcript.ready"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(secret, SecretPrefix) {
		t.Fatalf("generated secret %q", secret)
	}
	if sub.URL != "https://hooks.example.com/in" || !sub.IsActive || sub.FailureCount != 0 {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	if strings.Join(sub.EventTypes, ",") != "meeting.completed,transcript.ready" {
		t.Fatalf("events not normalized: %v", sub.EventTypes)
	}

	_, supplied, err := reg.Create(ctx, "org1", model.SubscriptionRequest{URL: "http://localhost:9000", Events: []string{"a"}, Secret: "my-own-secret"})
	if err != nil || supplied != "my-own-secret" {
		t.Fatalf("supplied secret not kept: %q %v", supplied, err)
	}
}

func TestRegistrySealsSecrets(t *testing.T) {
	st := store.NewMemory()
	sealer, err := NewSealer(strings.Repeat("0f", 32))
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(st, sealer)
	ctx := context.Background()
	sub, secret, err := reg.Create(ctx, "org1", model.SubscriptionRequest{URL: "https://example.com", Events: []string{"a"}})
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := st.GetSubscription(ctx, sub.ID)
	if stored.SealedSecret == secret || !strings.HasPrefix(stored.SealedSecret, "v1:") {
		t.Fatalf("secret stored in the clear: %q", stored.SealedSecret)
	}
	err = reg.WithSecret(ctx, sub.ID, func(_ model.Subscription, got string) error {
		if got != secret {
			t.Fatalf("WithSecret returned %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRegistryTenantIsolation(t *testing.T) {
	reg := NewRegistry(store.NewMemory(), nil)
	ctx := context.Background()
	sub, _, _ := reg.Create(ctx, "org1", model.SubscriptionRequest{URL: "https://example.com", Events: []string{"a"}})

	if _, err := reg.Get(ctx, "org2", sub.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get: %v", err)
	}
	if _, err := reg.RotateSecret(ctx, "org2", sub.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := reg.SetActive(ctx, "org2", sub.ID, false); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("set active: %v", err)
	}
	if err := reg.Delete(ctx, "org2", sub.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := reg.Logs(ctx, "org2", sub.ID, "", 10); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("logs: %v", err)
	}
	if _, err := reg.Get(ctx, "org1", sub.ID); err != nil {
		t.Fatalf("owner lost access: %v", err)
	}
}

func TestRegistryUpdate(t *testing.T) {
	st := store.NewMemory()
	reg := NewRegistry(st, nil)
	ctx := context.Background()
	sub, _, _ := reg.Create(ctx, "org1", model.SubscriptionRequest{URL: "https://example.com", Events: []string{"a"}})

	url := "https://other.example.com/hook"
	desc := "CRM sync"
	got, err := reg.Update(ctx, "org1", sub.ID, model.SubscriptionPatch{URL: &url, Events: []string{"b", "c"}, Description: &desc})
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != url || strings.Join(got.EventTypes, ",") != "b,c" || got.Description != desc {
		t.Fatalf("patch not applied: %+v", got)
	}
	if m, _ := reg.FindMatching(ctx, "org1", "a"); len(m) != 0 {
		t.Fatal("old event type still matches")
	}
	if m, _ := reg.FindMatching(ctx, "org1", "c"); len(m) != 1 {
		t.Fatal("new event type does not match")
	}

	bad := "mailto:ops@example.com"
	if _, err := reg.Update(ctx, "org1", sub.ID, model.SubscriptionPatch{URL: &bad}); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("want ErrInvalidURL, got %v", err)
	}
	if _, err := reg.Update(ctx, "org1", sub.ID, model.SubscriptionPatch{Events: []string{}}); !errors.Is(err, ErrNoEventTypes) {
		t.Fatalf("want ErrNoEventTypes, got %v", err)
	}

	_, _, _ = st.RecordSubscriptionFailure(ctx, sub.ID, 0)
	if s, _ := reg.Get(ctx, "org1", sub.ID); s.IsActive || s.FailureCount != 1 {
		t.Fatalf("precondition: %+v", s)
	}
	on := true
	got, err = reg.Update(ctx, "org1", sub.ID, model.SubscriptionPatch{IsActive: &on})
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsActive || got.FailureCount != 0 {
		t.Fatalf("reactivation must reset failure count: %+v", got)
	}

	// failures below the threshold leave the subscription active
	_, _, _ = st.RecordSubscriptionFailure(ctx, sub.ID, 100)
	_, _, _ = st.RecordSubscriptionFailure(ctx, sub.ID, 100)
	if s, _ := reg.Get(ctx, "org1", sub.ID); !s.IsActive || s.FailureCount != 2 {
		t.Fatalf("precondition: %+v", s)
	}
	got, err = reg.Update(ctx, "org1", sub.ID, model.SubscriptionPatch{IsActive: &on})
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsActive || got.FailureCount != 0 {
		t.Fatalf("isActive=true on an active subscription must reset failure count: %+v", got)
	}
}

func TestRegistryRotateSecret(t *testing.T) {
	reg := NewRegistry(store.NewMemory(), nil)
	ctx := context.Background()
	sub, old, _ := reg.Create(ctx, "org1", model.SubscriptionRequest{URL: "https://example.com", Events: []string{"a"}})

	fresh, err := reg.RotateSecret(ctx, "org1", sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh == old || !strings.HasPrefix(fresh, SecretPrefix) {
		t.Fatalf("rotation returned %q", fresh)
	}
	_ = reg.WithSecret(ctx, sub.ID, func(_ model.Subscription, s string) error {
		if s != fresh {
			t.Fatalf("signing secret %q, want rotated one", s)
		}
		return nil
	})
	if reg.locks.locks[sub.ID] != nil {
		t.Fatal("lock entry leaked")
	}
}
