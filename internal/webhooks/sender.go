package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"meetinghooks/internal/logging"
)

const (
	maxErrorDetail  = 512
	maxResponseRead = 4 << 10
)

// Sender performs one signed POST. It is shared by the worker pool and the
// test harness so both produce identical requests.
type Sender struct {
	HTTP      *http.Client
	Timeout   time.Duration
	UserAgent string
}

// NewSender copies client so that redirects are returned to the caller
// instead of followed: only a 2xx from the subscription URL itself counts.
func NewSender(client *http.Client, timeout time.Duration, userAgent string) *Sender {
	c := &http.Client{}
	if client != nil {
		*c = *client
	}
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	client = c
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{HTTP: client, Timeout: timeout, UserAgent: userAgent}
}

// Outcome is the classified result of one attempt.
type Outcome struct {
	Status  int // 0 when no response was received
	Err     error
	Body    string // start of the response body on non-2xx
	Latency time.Duration
}

// Success reports a 2xx response.
func (o Outcome) Success() bool {
	return o.Err == nil && o.Status >= 200 && o.Status < 300
}

// Detail describes a failed attempt for the delivery log.
func (o Outcome) Detail() string {
	switch {
	case o.Err != nil:
		return logging.Truncate(o.Err.Error(), maxErrorDetail)
	case o.Success():
		return ""
	case o.Body != "":
		return logging.Truncate(fmt.Sprintf("HTTP %d: %s", o.Status, o.Body), maxErrorDetail)
	default:
		return fmt.Sprintf("HTTP %d", o.Status)
	}
}

// Send signs body with secret and posts it to url.
func (s *Sender) Send(ctx context.Context, url, secret, eventType, eventID string, body []byte) Outcome {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, SignHMAC(secret, body))
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderEventID, eventID)
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	start := time.Now()
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return Outcome{Err: err, Latency: time.Since(start)}
	}
	defer resp.Body.Close()
	out := Outcome{Status: resp.StatusCode}
	if !out.Success() {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetail))
		out.Body = strings.TrimSpace(string(b))
	}
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseRead))
	out.Latency = time.Since(start)
	return out
}
