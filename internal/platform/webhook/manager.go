// Package webhook delivers signed event notifications to configured HTTP
// endpoints. Deliveries are HMAC-SHA256 signed and retried with backoff.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types emitted for stored readings.
const (
	EventReadingUrgent    = "bp.reading.urgent"
	EventReadingEmergency = "bp.reading.emergency"
)

// Endpoint is a delivery destination. Events holds subscription patterns;
// an empty list subscribes to everything.
type Endpoint struct {
	URL    string   `json:"url"`
	Secret string   `json:"-"`
	Events []string `json:"events,omitempty"`
}

// Event is the JSON body POSTed to endpoints.
type Event struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Payload      json.RawMessage `json:"payload"`
	Timestamp    time.Time       `json:"timestamp"`
}

// NewEvent marshals payload into an event with a fresh id.
func NewEvent(eventType, resourceType, resourceID string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:           uuid.New().String(),
		Type:         eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      raw,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// DeliveryResult summarises the outcome of delivering an event to one endpoint.
type DeliveryResult struct {
	URL        string `json:"url"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
}

// SignPayload computes the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = c }
}

// WithRetryDelays sets the waits between attempts. Its length is the
// number of retries after the first attempt.
func WithRetryDelays(d ...time.Duration) ManagerOption {
	return func(m *Manager) { m.retryDelays = d }
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithQueueSize sets how many events Enqueue buffers before dropping.
func WithQueueSize(n int) ManagerOption {
	return func(m *Manager) { m.queueSize = n }
}

// Manager fans events out to endpoints, either synchronously with Deliver or
// through a background queue with Enqueue.
type Manager struct {
	endpoints   []Endpoint
	httpClient  *http.Client
	retryDelays []time.Duration
	logger      zerolog.Logger
	queueSize   int

	mu     sync.Mutex
	queue  chan Event
	wg     sync.WaitGroup
	closed bool

	// ctx scopes background deliveries; Close cancels it when its own
	// deadline passes.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager validates endpoints and returns a manager with its delivery
// worker running. Call Close to drain the queue.
func NewManager(endpoints []Endpoint, opts ...ManagerOption) (*Manager, error) {
	for _, ep := range endpoints {
		if err := validateWebhookURL(ep.URL); err != nil {
			return nil, err
		}
	}
	m := &Manager{
		endpoints:   endpoints,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
		logger:      zerolog.Nop(),
		queueSize:   64,
	}
	for _, o := range opts {
		o(m)
	}

	m.queue = make(chan Event, m.queueSize)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.run()
	return m, nil
}

func validateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// eventMatches returns true if the event type matches a subscription pattern.
// Patterns are exact ("bp.reading.urgent") or a trailing wildcard ("bp.*").
func eventMatches(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func (ep Endpoint) subscribes(eventType string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, pat := range ep.Events {
		if eventMatches(pat, eventType) {
			return true
		}
	}
	return false
}

// Enqueue schedules event for background delivery. It never blocks and
// reports false when the queue is full or the manager is closed.
func (m *Manager) Enqueue(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.queue <- event:
		return true
	default:
		m.logger.Warn().Str("event_id", event.ID).Str("event_type", event.Type).Msg("webhook queue full, dropping event")
		return false
	}
}

// Close stops accepting events and waits for queued deliveries. When ctx
// ends first, in-flight deliveries are aborted, the remaining queue is
// dropped and ctx.Err is returned once the worker has stopped.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) run() {
	defer m.wg.Done()
	for event := range m.queue {
		if m.ctx.Err() != nil {
			m.logger.Warn().Str("event_id", event.ID).Str("event_type", event.Type).Msg("webhook manager closed, dropping event")
			continue
		}
		for _, r := range m.Deliver(m.ctx, event) {
			if r.Success {
				m.logger.Debug().Str("event_id", event.ID).Str("url", r.URL).Int("attempts", r.Attempts).Msg("webhook delivered")
				continue
			}
			m.logger.Error().Str("event_id", event.ID).Str("url", r.URL).Int("attempts", r.Attempts).
				Int("status", r.StatusCode).Str("error", r.Error).Msg("webhook delivery failed")
		}
	}
}

// Deliver sends event to every subscribed endpoint and returns one result
// per endpoint.
func (m *Manager) Deliver(ctx context.Context, event Event) []DeliveryResult {
	payload, err := json.Marshal(event)
	if err != nil {
		return []DeliveryResult{{Error: err.Error()}}
	}

	var results []DeliveryResult
	for _, ep := range m.endpoints {
		if !ep.subscribes(event.Type) {
			continue
		}
		results = append(results, m.deliverToEndpoint(ctx, ep, event, payload))
	}
	return results
}

func (m *Manager) deliverToEndpoint(ctx context.Context, ep Endpoint, event Event, payload []byte) DeliveryResult {
	res := DeliveryResult{URL: ep.URL}
	for attempt := 0; attempt <= len(m.retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(m.retryDelays[attempt-1]):
			case <-ctx.Done():
				res.Error = ctx.Err().Error()
				return res
			}
		}
		res.Attempts = attempt + 1

		status, err := m.post(ctx, ep, event, payload)
		res.StatusCode = status
		if err == nil {
			res.Success = true
			res.Error = ""
			return res
		}
		res.Error = err.Error()
		// 4xx other than 429 will not succeed on retry.
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			return res
		}
	}
	return res
}

func (m *Manager) post(ctx context.Context, ep Endpoint, event Event, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("X-Webhook-ID", event.ID)
	req.Header.Set("X-Webhook-Timestamp", event.Timestamp.UTC().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, ep.Secret))
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.StatusCode, nil
}
