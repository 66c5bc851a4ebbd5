// Package telemetry records HTTP server and blood pressure assessment
// metrics and serves them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/bpcheck/pkg/bpclass"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, for atomic add
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Counter store, keyed by joined label values
// ---------------------------------------------------------------------------

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) inc(key string) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if p, ok = s.items[key]; !ok {
			p = new(int64)
			s.items[key] = p
		}
		s.mu.Unlock()
	}
	atomic.AddInt64(p, 1)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

// sortedSnapshot returns keys in order so the exposition is stable.
func (s *counterStore) sortedSnapshot() ([]string, map[string]int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	vals := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		keys = append(keys, k)
		vals[k] = atomic.LoadInt64(p)
	}
	sort.Strings(keys)
	return keys, vals
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics is safe for concurrent use. The zero value is not usable; call New.
type Metrics struct {
	durations      sync.Map // LabelsKey -> *histogram
	activeRequests int64
	requests       *counterStore
	assessments    *counterStore // category|risk
	urgent         int64
	emergency      int64
}

func New() *Metrics {
	return &Metrics{
		requests:    newCounterStore(),
		assessments: newCounterStore(),
	}
}

// LabelsKey builds the key of a per-route series. Exported so tests can
// construct the same key.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

func (m *Metrics) duration(key string) *histogram {
	if h, ok := m.durations.Load(key); ok {
		return h.(*histogram)
	}
	h, _ := m.durations.LoadOrStore(key, newHistogram(defaultDurationBuckets))
	return h.(*histogram)
}

// RecordAssessment counts one assessment by category and risk, plus the
// urgent-care and emergency flags.
func (m *Metrics) RecordAssessment(res bpclass.AssessmentResult) {
	m.assessments.inc(res.Category.String() + "|" + res.Risk.String())
	if res.RequiresUrgentCare {
		atomic.AddInt64(&m.urgent, 1)
	}
	if res.IsEmergency {
		atomic.AddInt64(&m.emergency, 1)
	}
}

// AssessmentCount returns the number of recorded assessments in category.
func (m *Metrics) AssessmentCount(category bpclass.CategoryCode) int64 {
	cat, ok := bpclass.Lookup(category)
	if !ok {
		return 0
	}
	return m.assessments.get(category.String() + "|" + cat.Risk.String())
}

// RequestCount returns the number of finished requests for a route series.
func (m *Metrics) RequestCount(method, route, statusCode string) int64 {
	return m.requests.get(LabelsKey(method, route, statusCode))
}

// Middleware records request counts, durations and in-flight requests,
// labelled by route pattern rather than raw path. Errors are handled here
// so the recorded status is final.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.activeRequests, 1)
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let the error handler set the final status first.
				c.Error(err)
			}

			atomic.AddInt64(&m.activeRequests, -1)
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			key := LabelsKey(c.Request().Method, route, strconv.Itoa(c.Response().Status))
			m.requests.inc(key)
			m.duration(key).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

// Handler serves all metrics in Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, m.Expose())
	}
}

func (m *Metrics) Expose() string {
	var b strings.Builder

	keys, vals := m.requests.sortedSnapshot()
	writeHeader(&b, "http_server_requests_total", "Finished HTTP requests.", "counter")
	for _, k := range keys {
		fmt.Fprintf(&b, "http_server_requests_total{%s} %d\n", routeLabels(k), vals[k])
	}
	b.WriteByte('\n')

	writeHeader(&b, "http_server_request_duration_seconds", "Duration of HTTP requests in seconds.", "histogram")
	for _, k := range keys {
		writeHistogram(&b, "http_server_request_duration_seconds", routeLabels(k), m.duration(k))
	}
	b.WriteByte('\n')

	writeHeader(&b, "http_server_active_requests", "Number of in-flight HTTP requests.", "gauge")
	fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.activeRequests))

	keys, vals = m.assessments.sortedSnapshot()
	writeHeader(&b, "bp_assessments_total", "Blood pressure assessments by category and risk level.", "counter")
	for _, k := range keys {
		parts := strings.SplitN(k, "|", 2)
		fmt.Fprintf(&b, "bp_assessments_total{category=%q,risk_level=%q} %d\n", parts[0], parts[1], vals[k])
	}
	b.WriteByte('\n')

	writeHeader(&b, "bp_urgent_care_total", "Assessments requiring urgent care.", "counter")
	fmt.Fprintf(&b, "bp_urgent_care_total %d\n\n", atomic.LoadInt64(&m.urgent))
	writeHeader(&b, "bp_emergency_total", "Assessments flagged as emergencies.", "counter")
	fmt.Fprintf(&b, "bp_emergency_total %d\n", atomic.LoadInt64(&m.emergency))
	return b.String()
}

func writeHeader(b *strings.Builder, name, help, typ string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
}

func routeLabels(key string) string {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) != 3 {
		return ""
	}
	return fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
