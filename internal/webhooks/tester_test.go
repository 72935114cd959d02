package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meetinghooks/internal/model"
	"meetinghooks/internal/store"
)

type sinkFunc func(ctx context.Context, a model.DeliveryAttempt)

func (f sinkFunc) AttemptRecorded(ctx context.Context, a model.DeliveryAttempt) { f(ctx, a) }

func newTester(h *harness) *Tester {
	tr := NewTester(h.reg, h.store, NewSender(nil, 2*time.Second, "meetinghooks-test"), DefaultSamples())
	tr.Clock = h.clock
	return tr
}

func TestTestDeliverReportsReceiverStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	h := newHarness(t, nil)
	sub, _ := h.subscribe(t, "org1", srv.URL, "meeting.completed")
	var streamed []model.DeliveryAttempt
	tr := newTester(h)
	tr.Sink = sinkFunc(func(_ context.Context, a model.DeliveryAttempt) { streamed = append(streamed, a) })

	res, err := tr.TestDeliver(context.Background(), "org1", sub.ID, "meeting.completed")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Status != 404 || res.Error == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if s := h.sub(t, sub.ID); s.FailureCount != 0 || !s.IsActive {
		t.Fatalf("test delivery changed subscription state: %+v", s)
	}
	atts := h.attempts(t, sub.ID)
	if len(atts) != 1 || !atts[0].IsTest || atts[0].Success || atts[0].NextRetryAt != nil {
		t.Fatalf("unexpected log %+v", atts)
	}
	if len(streamed) != 1 || !streamed[0].IsTest {
		t.Fatalf("attempt not streamed: %+v", streamed)
	}
	if h.queue.Len() != 0 {
		t.Fatal("test delivery must not enqueue retries")
	}
}

func TestTestDeliverSendsSignedSample(t *testing.T) {
	var body []byte
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(HeaderSignature)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newHarness(t, nil)
	sub, secret := h.subscribe(t, "org1", srv.URL, "transcript.ready")
	if _, err := h.reg.SetActive(context.Background(), "org1", sub.ID, false); err != nil {
		t.Fatal(err)
	}
	res, err := newTester(h).TestDeliver(context.Background(), "org1", sub.ID, "action_items.created")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Status != 200 || res.Error != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !VerifyHMAC(secret, body, sig) {
		t.Fatal("test delivery not signed with the subscription secret")
	}
	var env map[string]any
	_ = json.Unmarshal(body, &env)
	data, _ := env["data"].(map[string]any)
	if env["event"] != "action_items.created" || data["test"] != true {
		t.Fatalf("unexpected body %s", body)
	}
	if s := h.sub(t, sub.ID); s.LastTriggeredAt != nil {
		t.Fatal("test delivery must not count as a trigger")
	}
}

func TestTestDeliverErrors(t *testing.T) {
	h := newHarness(t, nil)
	sub, _ := h.subscribe(t, "org1", "http://127.0.0.1:1/unreachable", "meeting.completed")
	tr := newTester(h)
	ctx := context.Background()

	if _, err := tr.TestDeliver(ctx, "org1", sub.ID, "no.such.event"); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("unknown type: %v", err)
	}
	if _, err := tr.TestDeliver(ctx, "org2", sub.ID, "meeting.completed"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign org: %v", err)
	}
	res, err := tr.TestDeliver(ctx, "org1", sub.ID, "meeting.completed")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Status != 0 || res.Error == "" {
		t.Fatalf("connection failure should surface in the result: %+v", res)
	}
	if a := h.attempts(t, sub.ID); len(a) != 1 || a[0].HTTPStatus != nil {
		t.Fatalf("network failure has no status: %+v", a)
	}
}

func TestDefaultSamples(t *testing.T) {
	s := DefaultSamples()
	types := s.Types()
	if len(types) != 7 {
		t.Fatalf("types: %v", types)
	}
	for i := 1; i < len(types); i++ {
		if types[i-1] >= types[i] {
			t.Fatalf("types not sorted: %v", types)
		}
	}
	for _, et := range types {
		data, err := s.Build(et, "org1", time.Now())
		if err != nil {
			t.Fatalf("%s: %v", et, err)
		}
		if data["test"] != true {
			t.Fatalf("%s sample not marked as test", et)
		}
		if _, err := BuildPayload(et, time.Now(), data); err != nil {
			t.Fatalf("%s: %v", et, err)
		}
	}
	if s.Has("bogus") {
		t.Fatal("unexpected type")
	}
}
