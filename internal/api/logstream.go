package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"meetinghooks/internal/model"
)

// The management UI is served from another origin; access is checked with
// the bearer token before the upgrade.
var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
	wsWriteWait  = 10 * time.Second
)

type wsMessage struct {
	Type    string                 `json:"type"`
	Payload *model.DeliveryAttempt `json:"payload,omitempty"`
}

// LogStreamHandler upgrades GET /v1/webhooks/{id}/logs/stream and pushes every
// delivery attempt recorded for the subscription until the client leaves.
func (s *Server) LogStreamHandler(w http.ResponseWriter, r *http.Request, subscriptionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(subscriptionID)
	defer s.Broker.Unsubscribe(subscriptionID, ch)

	// the read loop only watches for close frames and pongs
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(m wsMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(m)
	}
	if err := write(wsMessage{Type: "connection_ack"}); err != nil {
		return
	}
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case a, ok := <-ch:
			if !ok {
				return
			}
			if err := write(wsMessage{Type: "attempt", Payload: &a}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
