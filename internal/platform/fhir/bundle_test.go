package fhir

import (
	"encoding/json"
	"testing"

	"github.com/ehr/bpcheck/pkg/bpclass"
)

func testObservations(n int) []*Observation {
	out := make([]*Observation, n)
	for i := range out {
		out[i] = NewBloodPressureObservation(bpclass.Reading{ID: string(rune('a' + i)), Systolic: 120, Diastolic: 80}, "Patient/p1")
	}
	return out
}

func TestNewSearchBundleWithLinks(t *testing.T) {
	bundle := NewSearchBundleWithLinks(testObservations(2), SearchBundleParams{
		BaseURL:  "/fhir/Observation",
		QueryStr: "patient=p1",
		Count:    2,
		Offset:   2,
		Total:    10,
	})

	if bundle.ResourceType != "Bundle" || bundle.Type != "searchset" {
		t.Errorf("unexpected bundle header %s/%s", bundle.ResourceType, bundle.Type)
	}
	if *bundle.Total != 10 {
		t.Errorf("expected total 10, got %d", *bundle.Total)
	}
	if len(bundle.Entry) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(bundle.Entry))
	}
	if bundle.Entry[0].FullURL != "Observation/a" || bundle.Entry[0].Search.Mode != "match" {
		t.Errorf("unexpected entry %+v", bundle.Entry[0])
	}

	want := map[string]string{
		"self":     "/fhir/Observation?patient=p1&_count=2&_offset=2",
		"next":     "/fhir/Observation?patient=p1&_count=2&_offset=4",
		"previous": "/fhir/Observation?patient=p1&_count=2&_offset=0",
	}
	if len(bundle.Link) != len(want) {
		t.Fatalf("expected %d links, got %+v", len(want), bundle.Link)
	}
	for _, l := range bundle.Link {
		if want[l.Relation] != l.URL {
			t.Errorf("link %s: expected %q, got %q", l.Relation, want[l.Relation], l.URL)
		}
	}
}

func TestBuildPaginationLinks_SinglePage(t *testing.T) {
	links := buildPaginationLinks(SearchBundleParams{BaseURL: "/fhir/Observation", Count: 20, Total: 3})
	if len(links) != 1 || links[0].Relation != "self" {
		t.Fatalf("expected only self link, got %+v", links)
	}
	if links[0].URL != "/fhir/Observation?_count=20&_offset=0" {
		t.Errorf("unexpected self URL %q", links[0].URL)
	}
}

func TestNewCollectionBundle(t *testing.T) {
	obs := testObservations(1)
	obs = append(obs, NewBloodPressureObservation(bpclass.Reading{Systolic: 130, Diastolic: 85}, ""))

	bundle := NewCollectionBundle(obs)
	if bundle.Type != "collection" || bundle.Total != nil {
		t.Errorf("unexpected collection bundle %+v", bundle)
	}
	if bundle.Entry[1].FullURL != "" {
		t.Errorf("observation without id should have no fullUrl, got %q", bundle.Entry[1].FullURL)
	}

	var decoded Observation
	if err := json.Unmarshal(bundle.Entry[0].Resource, &decoded); err != nil {
		t.Fatalf("entry resource is not an Observation: %v", err)
	}
	if decoded.ResourceType != "Observation" {
		t.Errorf("expected Observation, got %q", decoded.ResourceType)
	}
}
