// Package main runs a demo: it starts a local receiver that verifies
// signatures, subscribes it, opens the live log stream and fires a test delivery.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"meetinghooks/internal/webhooks"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	org := "org_demo"

	// Local receiver; the secret is known only after the subscription exists.
	var secret string
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
	go func() {
		_ = http.Serve(ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			ok := webhooks.VerifyHMAC(secret, body, r.Header.Get(webhooks.HeaderSignature))
			log.Info().Str("event", r.Header.Get(webhooks.HeaderEvent)).Bool("signature_ok", ok).RawJSON("body", body).Msg("receiver <-")
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
	}()

	body, _ := json.Marshal(map[string]any{
		"url":         "http://" + ln.Addr().String() + "/hook",
		"events":      []string{"meeting.completed"},
		"description": "demo receiver",
	})
	var created struct {
		Subscription struct {
			ID string `json:"id"`
		} `json:"subscription"`
		Secret string `json:"secret"`
	}
	if err := call(http.MethodPost, base+"/v1/webhooks", org, body, &created); err != nil {
		log.Fatal().Err(err).Msg("create subscription")
	}
	secret = created.Secret
	id := created.Subscription.ID
	log.Info().Str("subscription_id", id).Msg("subscribed")

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/webhooks/" + id + "/logs/stream"}
	hdr := http.Header{}
	hdr.Set("X-Org-Id", org)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Info().Err(err).Msg("stream closed")
				return
			}
			log.Info().Str("type", m.Type).RawJSON("payload", nonEmpty(m.Payload)).Msg("WS <-")
		}
	}()

	time.Sleep(300 * time.Millisecond)
	var res map[string]any
	if err := call(http.MethodPost, base+"/v1/webhooks/"+id+"/test", org, []byte(`{"eventType":"meeting.completed"}`), &res); err != nil {
		log.Fatal().Err(err).Msg("test delivery")
	}
	log.Info().Interface("result", res).Msg("test delivery")

	// a real event goes through the queue
	if err := call(http.MethodPost, base+"/v1/events", org, []byte(`{"type":"meeting.completed","payload":{"meetingId":"demo"}}`), &res); err != nil {
		log.Fatal().Err(err).Msg("publish")
	}

	select {
	case <-time.After(3 * time.Second):
	case <-done:
	}
	_ = call(http.MethodDelete, base+"/v1/webhooks/"+id, org, nil, nil)
}

func call(method, url, org string, body []byte, out any) error {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Org-Id", org)
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %d %s", method, url, resp.StatusCode, b)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func nonEmpty(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
