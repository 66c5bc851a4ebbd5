package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/bpcheck/internal/config"
	"github.com/ehr/bpcheck/internal/platform/fhir"
	"github.com/ehr/bpcheck/internal/platform/telemetry"
	"github.com/ehr/bpcheck/internal/platform/webhook"
	"github.com/ehr/bpcheck/pkg/bpclass"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	out, err := runCLI(t, "", "classify", "--systolic", "145", "--diastolic", "70")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	var cat bpclass.Category
	if err := json.Unmarshal([]byte(out), &cat); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if cat.Code != bpclass.IsolatedSystolicHypertension {
		t.Errorf("expected isolated systolic hypertension, got %s", cat.Code)
	}
}

func TestClassifyCommand_RequiresFlags(t *testing.T) {
	if _, err := runCLI(t, "", "classify", "--systolic", "120"); err == nil {
		t.Error("expected error when --diastolic is missing")
	}
}

func TestAssessCommand(t *testing.T) {
	out, err := runCLI(t, "", "assess", "--systolic", "120", "--diastolic", "80")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	var res bpclass.AssessmentResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if res.MAP != 93 || res.PulsePressure != 40 {
		t.Errorf("expected MAP 93 and pulse pressure 40, got %d/%d", res.MAP, res.PulsePressure)
	}
}

func TestTrendCommand_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.json")
	body := `{"readings":[
		{"systolic":120,"diastolic":80,"timestamp":"2024-01-01T08:00:00Z"},
		{"systolic":125,"diastolic":80,"timestamp":"2024-01-02T08:00:00Z"},
		{"systolic":140,"diastolic":80,"timestamp":"2024-01-03T08:00:00Z"}
	]}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "", "trend", "--file", path)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	var res bpclass.TrendResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if res.ReadingCount != 3 || res.Trend != bpclass.TrendWorsening {
		t.Errorf("expected 3 readings worsening, got %d %s", res.ReadingCount, res.Trend)
	}
}

func TestTrendCommand_Stdin(t *testing.T) {
	out, err := runCLI(t, `[{"systolic":120,"diastolic":80}]`, "trend")
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	var res bpclass.TrendResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if res.Trend != bpclass.TrendInsufficientData || res.ReadingCount != 1 {
		t.Errorf("expected insufficient data for one reading, got %+v", res)
	}
}

func TestTrendCommand_Empty(t *testing.T) {
	out, err := runCLI(t, "", "trend")
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if !strings.Contains(out, `"reading_count": 0`) {
		t.Errorf("expected zero readings, got %s", out)
	}
}

func TestTrendCommand_BadJSON(t *testing.T) {
	if _, err := runCLI(t, `{"readings":`, "trend"); err == nil {
		t.Error("expected decode error")
	}
}

func TestCategoriesCommand(t *testing.T) {
	out, err := runCLI(t, "", "categories")
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	var cats []bpclass.Category
	if err := json.Unmarshal([]byte(out), &cats); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(cats) != len(bpclass.Categories()) {
		t.Errorf("expected %d categories, got %d", len(bpclass.Categories()), len(cats))
	}
}

func TestMigrateCommand_SQLiteIsNoop(t *testing.T) {
	t.Setenv("STORE", "sqlite")
	out, err := runCLI(t, "", "migrate", "up")
	if err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if !strings.Contains(out, "nothing to migrate") {
		t.Errorf("unexpected output %q", out)
	}
}

// -- HTTP wiring --

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServerWithAlerts(t, nil)
}

func newTestServerWithAlerts(t *testing.T, alerts *webhook.Manager) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Env:         "development",
		Store:       config.StoreSQLite,
		SQLitePath:  ":memory:",
		BodyLimit:   "1M",
		CORSOrigins: []string{"*"},
	}
	st, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.close)

	metrics := telemetry.New()
	svc := newService(zerolog.Nop(), st, alerts, metrics)
	srv := httptest.NewServer(newServer(cfg, zerolog.Nop(), st, svc, metrics, nil))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string, out interface{}) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
	return resp
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	var health map[string]string
	resp := doJSON(t, http.MethodGet, srv.URL+"/health", "", &health)
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Errorf("unexpected /health %d %v", resp.StatusCode, health)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	var dbHealth map[string]interface{}
	resp = doJSON(t, http.MethodGet, srv.URL+"/health/db", "", &dbHealth)
	if resp.StatusCode != http.StatusOK || dbHealth["store"] != "sqlite" {
		t.Errorf("unexpected /health/db %d %v", resp.StatusCode, dbHealth)
	}
}

func TestServer_UrgentReadingFiresWebhook(t *testing.T) {
	received := make(chan webhook.Event, 1)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !webhook.VerifySignature(body, "s3cret", r.Header.Get("X-Webhook-Signature")) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var evt webhook.Event
		_ = json.Unmarshal(body, &evt)
		received <- evt
	}))
	defer receiver.Close()

	cfg := &config.Config{AlertWebhookURLs: []string{receiver.URL}, AlertWebhookSecret: "s3cret"}
	alerts, err := newAlerts(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer alerts.Close(context.Background())
	srv := newTestServerWithAlerts(t, alerts)

	body := `{"patient_id":"` + uuid.New().String() + `","systolic":240,"diastolic":118}`
	if resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/bp/readings", body, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	select {
	case evt := <-received:
		if evt.Type != webhook.EventReadingEmergency {
			t.Errorf("expected emergency event, got %s", evt.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestNewAlerts_Disabled(t *testing.T) {
	alerts, err := newAlerts(&config.Config{}, zerolog.Nop())
	if err != nil || alerts != nil {
		t.Errorf("expected no manager without urls, got %v %v", alerts, err)
	}
	if _, err := newAlerts(&config.Config{AlertWebhookURLs: []string{"mailto:x@example.com"}}, zerolog.Nop()); err == nil {
		t.Error("expected error for non-http url")
	}
}

func TestSubscribeDevices_Disabled(t *testing.T) {
	client, err := subscribeDevices(&config.Config{}, zerolog.Nop(), nil)
	if err != nil || client != nil {
		t.Errorf("expected no MQTT client without a broker, got %v %v", client, err)
	}
}

type stubBroker struct{ connected bool }

func (b stubBroker) IsConnected() bool { return b.connected }

func TestHealthHandler_DeviceIngestion(t *testing.T) {
	tests := []struct {
		name       string
		devices    connectionChecker
		wantStatus string
		wantMQTT   string
	}{
		{"ingestion off", nil, "ok", ""},
		{"broker connected", stubBroker{connected: true}, "ok", "connected"},
		{"broker lost", stubBroker{connected: false}, "degraded", "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
			if err := healthHandler(tt.devices)(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if rec.Code != http.StatusOK || body["status"] != tt.wantStatus || body["mqtt"] != tt.wantMQTT {
				t.Errorf("unexpected health %d %v", rec.Code, body)
			}
		})
	}
}

func TestServer_OpenAPI(t *testing.T) {
	srv := newTestServer(t)

	var doc map[string]interface{}
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/openapi.json", "", &doc)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	paths, _ := doc["paths"].(map[string]interface{})
	if _, ok := paths["/api/v1/bp/readings"]; !ok {
		t.Errorf("expected readings path in %v", paths)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/v1/bp/assess", `{"systolic":150,"diastolic":85}`, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`bp_assessments_total{category="isolated_systolic_hypertension",risk_level="high"} 1`,
		`http_server_requests_total{method="POST",route="/api/v1/bp/assess",status_code="200"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in /metrics:\n%s", want, body)
		}
	}
}

func TestServer_ReadingLifecycle(t *testing.T) {
	srv := newTestServer(t)
	patient := uuid.New()

	var created struct {
		Reading struct {
			ID uuid.UUID `json:"id"`
		} `json:"reading"`
		Assessment bpclass.AssessmentResult `json:"assessment"`
	}
	body := `{"patient_id":"` + patient.String() + `","systolic":185,"diastolic":112,"measured_at":"2024-02-01T09:00:00Z"}`
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/bp/readings", body, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if created.Assessment.Category != bpclass.Grade3Hypertension || !created.Assessment.RequiresUrgentCare {
		t.Errorf("unexpected assessment %+v", created.Assessment)
	}

	id := created.Reading.ID.String()
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/bp/readings/"+id, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET reading: expected 200, got %d", resp.StatusCode)
	}

	var trend bpclass.TrendResult
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/bp/patients/"+patient.String()+"/trend", "", &trend)
	if resp.StatusCode != http.StatusOK || trend.ReadingCount != 1 || trend.UrgentCareCount != 1 {
		t.Errorf("unexpected trend %d %+v", resp.StatusCode, trend)
	}

	var bundle fhir.Bundle
	resp = doJSON(t, http.MethodGet, srv.URL+"/fhir/Observation?patient=Patient/"+patient.String(), "", &bundle)
	if resp.StatusCode != http.StatusOK || bundle.Total == nil || *bundle.Total != 1 {
		t.Errorf("unexpected FHIR search %d %+v", resp.StatusCode, bundle)
	}
	if ct := resp.Header.Get("Content-Type"); ct != fhir.FHIRContentType {
		t.Errorf("expected FHIR content type, got %q", ct)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/bp/readings/"+id, "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE: expected 204, got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/bp/readings/"+id, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestServer_RejectsImplausibleReading(t *testing.T) {
	srv := newTestServer(t)
	body := `{"patient_id":"` + uuid.NewString() + `","systolic":400,"diastolic":80}`
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/bp/readings", body, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_FHIRMetadata(t *testing.T) {
	srv := newTestServer(t)
	var cs fhir.CapabilityStatement
	resp := doJSON(t, http.MethodGet, srv.URL+"/fhir/metadata", "", &cs)
	if resp.StatusCode != http.StatusOK || cs.ResourceType != "CapabilityStatement" {
		t.Errorf("unexpected metadata %d %+v", resp.StatusCode, cs)
	}
}
