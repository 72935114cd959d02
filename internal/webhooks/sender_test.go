package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestSenderClassifiesOutcomes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("User-Agent") != "meetinghooks/test" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusFound)
	})
	mux.HandleFunc("/temporary", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSender(srv.Client(), 100*time.Millisecond, "meetinghooks/test")
	ctx := context.Background()
	body := []byte(`{}`)

	if out := s.Send(ctx, srv.URL+"/ok", "k", "a", "e1", body); !out.Success() || out.Status != 201 || out.Detail() != "" {
		t.Fatalf("ok: %+v", out)
	}
	if out := s.Send(ctx, srv.URL+"/redirect", "k", "a", "e1", body); out.Success() || out.Detail() != "HTTP 304" {
		t.Fatalf("3xx must fail: %+v %q", out, out.Detail())
	}
	for path, want := range map[string]int{"/moved": http.StatusFound, "/temporary": http.StatusTemporaryRedirect} {
		out := s.Send(ctx, srv.URL+path, "k", "a", "e1", body)
		if out.Success() || out.Status != want || !strings.HasPrefix(out.Detail(), "HTTP "+strconv.Itoa(want)) {
			t.Fatalf("%s: redirect must be recorded as a failure: %+v %q", path, out, out.Detail())
		}
	}
	out := s.Send(ctx, srv.URL+"/big", "k", "a", "e1", body)
	if out.Success() || len(out.Detail()) != maxErrorDetail || !strings.HasSuffix(out.Detail(), "...[truncated]") {
		t.Fatalf("detail not truncated: %d %q", len(out.Detail()), out.Detail())
	}
	out = s.Send(ctx, srv.URL+"/slow", "k", "a", "e1", body)
	if out.Success() || out.Err == nil || out.Status != 0 {
		t.Fatalf("timeout must fail without status: %+v", out)
	}
	if out := s.Send(ctx, "http://[::1", "k", "a", "e1", body); out.Err == nil {
		t.Fatal("bad url accepted")
	}
}
