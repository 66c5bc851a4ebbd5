package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestManager(t *testing.T, endpoints []Endpoint, opts ...ManagerOption) *Manager {
	t.Helper()
	opts = append([]ManagerOption{WithRetryDelays(time.Millisecond, time.Millisecond)}, opts...)
	m, err := NewManager(endpoints, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func mustEvent(t *testing.T, eventType string) Event {
	t.Helper()
	evt, err := NewEvent(eventType, "BloodPressureReading", "r-1", map[string]int{"systolic": 185, "diastolic": 121})
	if err != nil {
		t.Fatal(err)
	}
	return evt
}

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"type":"bp.reading.emergency"}`)
	sig := SignPayload(payload, "secret")
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if !VerifySignature(payload, "secret", sig) {
		t.Error("expected bare signature to verify")
	}
	if !VerifySignature(payload, "secret", "sha256="+sig) {
		t.Error("expected prefixed signature to verify")
	}
	if VerifySignature(payload, "other", sig) {
		t.Error("expected signature under another secret to fail")
	}
}

func TestEventMatches(t *testing.T) {
	tests := []struct {
		pattern, event string
		want           bool
	}{
		{"bp.reading.urgent", "bp.reading.urgent", true},
		{"bp.reading.urgent", "bp.reading.emergency", false},
		{"bp.*", "bp.reading.emergency", true},
		{"bp.reading.*", "bp.reading.urgent", true},
		{"other.*", "bp.reading.urgent", false},
		{"*", "bp.reading.urgent", true},
	}
	for _, tt := range tests {
		if got := eventMatches(tt.pattern, tt.event); got != tt.want {
			t.Errorf("eventMatches(%q, %q) = %v, want %v", tt.pattern, tt.event, got, tt.want)
		}
	}
}

func TestNewManager_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "ftp://example.com/hook", "://bad"} {
		if _, err := NewManager([]Endpoint{{URL: u}}); err == nil {
			t.Errorf("expected error for url %q", u)
		}
	}
}

func TestDeliver_SignsPayload(t *testing.T) {
	var (
		gotBody []byte
		gotSig  string
		gotType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotType = r.Header.Get("X-Webhook-Event")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := newTestManager(t, []Endpoint{{URL: srv.URL, Secret: "s3cret"}})
	results := m.Deliver(context.Background(), mustEvent(t, EventReadingEmergency))

	if len(results) != 1 || !results[0].Success || results[0].Attempts != 1 {
		t.Fatalf("unexpected results %+v", results)
	}
	if gotType != EventReadingEmergency {
		t.Errorf("expected event header, got %q", gotType)
	}
	if !VerifySignature(gotBody, "s3cret", gotSig) {
		t.Errorf("signature %q does not verify", gotSig)
	}
	var evt Event
	if err := json.Unmarshal(gotBody, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.ResourceID != "r-1" || string(evt.Payload) != `{"diastolic":121,"systolic":185}` {
		t.Errorf("unexpected event %+v", evt)
	}
}

func TestDeliver_SkipsUnsubscribed(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	m := newTestManager(t, []Endpoint{
		{URL: srv.URL, Events: []string{EventReadingEmergency}},
		{URL: srv.URL + "/all"},
	})
	results := m.Deliver(context.Background(), mustEvent(t, EventReadingUrgent))
	if len(results) != 1 || results[0].URL != srv.URL+"/all" {
		t.Errorf("expected only the catch-all endpoint, got %+v", results)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected 1 request, got %d", hits)
	}
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager(t, []Endpoint{{URL: srv.URL}})
	results := m.Deliver(context.Background(), mustEvent(t, EventReadingUrgent))
	if !results[0].Success || results[0].Attempts != 3 {
		t.Errorf("expected success on third attempt, got %+v", results[0])
	}
}

func TestDeliver_GivesUpOnClientError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "bad signature", http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newTestManager(t, []Endpoint{{URL: srv.URL}})
	res := m.Deliver(context.Background(), mustEvent(t, EventReadingUrgent))[0]
	if res.Success || res.StatusCode != http.StatusUnauthorized || res.Attempts != 1 {
		t.Errorf("expected single failed attempt, got %+v", res)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected no retries, got %d requests", hits)
	}
}

func TestEnqueue_DeliversInBackground(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get("X-Webhook-ID"))
		mu.Unlock()
	}))
	defer srv.Close()

	m, err := NewManager([]Endpoint{{URL: srv.URL}})
	if err != nil {
		t.Fatal(err)
	}
	first, second := mustEvent(t, EventReadingUrgent), mustEvent(t, EventReadingEmergency)
	if !m.Enqueue(first) || !m.Enqueue(second) {
		t.Fatal("expected events to be queued")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 2 || ids[0] != first.ID || ids[1] != second.ID {
		t.Errorf("expected both events in order, got %v", ids)
	}
	if m.Enqueue(first) {
		t.Error("expected Enqueue after Close to fail")
	}
}

func TestClose_TimeoutAbortsRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m, err := NewManager([]Endpoint{{URL: srv.URL}}, WithRetryDelays(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	first, second := mustEvent(t, EventReadingEmergency), mustEvent(t, EventReadingUrgent)
	if !m.Enqueue(first) || !m.Enqueue(second) {
		t.Fatal("expected events to be queued")
	}
	// Let the first attempt happen so the worker is parked in its retry wait.
	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&hits) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := m.Close(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Close returned after %v, worker kept retrying", elapsed)
	}

	// The worker has stopped: no retry and no delivery of the queued event.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected a single request before shutdown, got %d", got)
	}
}
