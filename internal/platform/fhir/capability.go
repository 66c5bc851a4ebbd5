package fhir

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// OperationDefinitionBPAssess is the canonical URL of the $bp-assess operation.
const OperationDefinitionBPAssess = "http://bpcheck.local/fhir/OperationDefinition/Observation-bp-assess"

// CapabilityStatement is the subset of the R4 resource returned by /metadata.
type CapabilityStatement struct {
	ResourceType string             `json:"resourceType"`
	Status       string             `json:"status"`
	Date         string             `json:"date"`
	Kind         string             `json:"kind"`
	Software     CapabilitySoftware `json:"software"`
	FHIRVersion  string             `json:"fhirVersion"`
	Format       []string           `json:"format"`
	Rest         []CapabilityRest   `json:"rest"`
}

type CapabilitySoftware struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type CapabilityRest struct {
	Mode     string               `json:"mode"`
	Resource []CapabilityResource `json:"resource"`
}

type CapabilityResource struct {
	Type        string                `json:"type"`
	Profile     string                `json:"profile,omitempty"`
	Interaction []CapabilityCode      `json:"interaction"`
	SearchParam []CapabilitySearch    `json:"searchParam,omitempty"`
	Operation   []CapabilityOperation `json:"operation,omitempty"`
}

type CapabilityCode struct {
	Code string `json:"code"`
}

type CapabilitySearch struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Documentation string `json:"documentation,omitempty"`
}

type CapabilityOperation struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// NewCapabilityStatement describes the blood pressure Observation surface.
func NewCapabilityStatement(version string) *CapabilityStatement {
	return &CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Date:         time.Now().UTC().Format("2006-01-02"),
		Kind:         "instance",
		Software:     CapabilitySoftware{Name: "bpcheck", Version: version},
		FHIRVersion:  "4.0.1",
		Format:       []string{"application/fhir+json", "json"},
		Rest: []CapabilityRest{{
			Mode: "server",
			Resource: []CapabilityResource{{
				Type:        "Observation",
				Profile:     "http://hl7.org/fhir/StructureDefinition/bp",
				Interaction: []CapabilityCode{{Code: "search-type"}},
				SearchParam: []CapabilitySearch{
					{Name: "patient", Type: "reference", Documentation: "Patient/<uuid> or bare uuid, required"},
					{Name: "code", Type: "token", Documentation: "only " + LOINCSystem + "|" + LOINCBloodPressurePanel},
					{Name: "_count", Type: "number"},
					{Name: "_offset", Type: "number"},
				},
				Operation: []CapabilityOperation{{Name: "bp-assess", Definition: OperationDefinitionBPAssess}},
			}},
		}},
	}
}

// CapabilityHandler serves the statement built once at startup.
func CapabilityHandler(version string) echo.HandlerFunc {
	cs := NewCapabilityStatement(version)
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, cs)
	}
}
