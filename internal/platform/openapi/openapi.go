package openapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/bpcheck/internal/platform/fhir"
)

const fhirJSON = "application/fhir+json"

// Generator builds an OpenAPI 3.0 document for the REST surface and the
// FHIR resources listed in the CapabilityStatement.
type Generator struct {
	capability *fhir.CapabilityStatement
	version    string
	baseURL    string
}

func NewGenerator(capability *fhir.CapabilityStatement, version, baseURL string) *Generator {
	return &Generator{capability: capability, version: version, baseURL: baseURL}
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := restPaths()
	for path, item := range g.fhirPaths() {
		paths[path] = item
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Blood Pressure Classification API",
			"version":     g.version,
			"description": "Blood pressure classification, derived metrics, trend analysis and FHIR R4 Observation interpretation",
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": buildComponentSchemas(),
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
		"security": []map[string][]string{{"bearerAuth": {}}},
	}
}

func restPaths() map[string]interface{} {
	idParam := pathParam("id", "Reading id")
	return map[string]interface{}{
		"/api/v1/bp/categories": map[string]interface{}{
			"get": operation("listCategories", "List the classification table", "Classification", nil, nil,
				responses("200", "Categories in priority order", arrayOf("Category"))),
		},
		"/api/v1/bp/classify": map[string]interface{}{
			"post": operation("classify", "Classify a single reading", "Classification", nil, jsonBody("PressureInput"),
				responses("200", "Matched category", ref("Category"))),
		},
		"/api/v1/bp/assess": map[string]interface{}{
			"post": operation("assess", "Assess a single reading with MAP and pulse pressure", "Classification", nil, jsonBody("PressureInput"),
				responses("200", "Assessment", ref("AssessmentResult"))),
		},
		"/api/v1/bp/trend": map[string]interface{}{
			"post": operation("trend", "Analyze a series of readings", "Classification", nil, jsonBody("TrendInput"),
				responses("200", "Trend summary", ref("TrendResult"))),
		},
		"/api/v1/bp/readings": map[string]interface{}{
			"get": operation("listReadings", "List stored readings, newest first", "Readings",
				[]map[string]interface{}{
					queryParam("patient_id", "Only readings of this patient", "string"),
					queryParam("limit", "Page size", "integer"),
					queryParam("offset", "Page offset", "integer"),
				}, nil,
				responses("200", "Page of readings", ref("ReadingPage"))),
			"post": operation("createReading", "Store and assess a reading", "Readings", nil, jsonBody("Reading"),
				withErrors(responses("201", "Stored reading with assessment", ref("AssessedReading")), "400")),
		},
		"/api/v1/bp/readings/{id}": map[string]interface{}{
			"get": operation("getReading", "Read a stored reading with its assessment", "Readings",
				[]map[string]interface{}{idParam}, nil,
				withErrors(responses("200", "Stored reading with assessment", ref("AssessedReading")), "400", "404")),
			"delete": operation("deleteReading", "Delete a stored reading", "Readings",
				[]map[string]interface{}{idParam}, nil,
				withErrors(map[string]interface{}{"204": map[string]interface{}{"description": "Deleted"}}, "404")),
		},
		"/api/v1/bp/patients/{patient_id}/trend": map[string]interface{}{
			"get": operation("patientTrend", "Analyze the stored readings of a patient", "Readings",
				[]map[string]interface{}{
					pathParam("patient_id", "Patient id"),
					queryParam("from", "RFC3339 lower bound, inclusive", "string"),
					queryParam("to", "RFC3339 upper bound, inclusive", "string"),
				}, nil,
				withErrors(responses("200", "Trend summary", ref("TrendResult")), "400")),
		},
	}
}

// fhirPaths documents the FHIR interactions and operations of every resource
// in the capability statement.
func (g *Generator) fhirPaths() map[string]interface{} {
	paths := map[string]interface{}{
		"/fhir/metadata": map[string]interface{}{
			"get": operation("capabilities", "Server CapabilityStatement", "FHIR", nil, nil,
				responses("200", "CapabilityStatement", map[string]interface{}{"type": "object"})),
		},
	}
	if g.capability == nil {
		return paths
	}

	for _, rest := range g.capability.Rest {
		for _, res := range rest.Resource {
			for _, ia := range res.Interaction {
				if ia.Code != "search-type" {
					continue
				}
				params := make([]map[string]interface{}, 0, len(res.SearchParam))
				for _, sp := range res.SearchParam {
					params = append(params, queryParam(sp.Name, sp.Documentation, fhirSearchParamType(sp.Type)))
				}
				paths["/fhir/"+res.Type] = map[string]interface{}{
					"get": fhirOperation("search"+res.Type, "Search "+res.Type, res.Type, params, nil,
						responses("200", "Search results Bundle", ref("Bundle"))),
				}
			}
			for _, op := range res.Operation {
				paths["/fhir/"+res.Type+"/$"+op.Name] = map[string]interface{}{
					"post": fhirOperation(operationID(op.Name), "$"+op.Name+" on "+res.Type, res.Type, nil,
						fhirBody(res.Type, "Bundle"),
						withErrors(responses("200", "Interpreted resource or Bundle", oneOf(res.Type, "Bundle")), "400", "422")),
				}
			}
		}
	}
	return paths
}

func operationID(name string) string {
	parts := strings.Split(name, "-")
	for i, p := range parts {
		if i > 0 && p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "")
}

// fhirSearchParamType maps a FHIR search parameter type to an OpenAPI type.
func fhirSearchParamType(fhirType string) string {
	if fhirType == "number" {
		return "integer"
	}
	return "string"
}

// -- builders --

func operation(id, summary, tag string, params []map[string]interface{}, body, resp map[string]interface{}) map[string]interface{} {
	op := map[string]interface{}{
		"operationId": id,
		"summary":     summary,
		"tags":        []string{tag},
		"responses":   resp,
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	if body != nil {
		op["requestBody"] = body
	}
	return op
}

func fhirOperation(id, summary, tag string, params []map[string]interface{}, body, resp map[string]interface{}) map[string]interface{} {
	op := operation(id, summary, tag, params, body, resp)
	for _, r := range resp {
		m := r.(map[string]interface{})
		if content, ok := m["content"].(map[string]interface{}); ok {
			content[fhirJSON] = content["application/json"]
		}
	}
	return op
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func arrayOf(name string) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": ref(name)}
}

func oneOf(names ...string) map[string]interface{} {
	refs := make([]map[string]interface{}, len(names))
	for i, n := range names {
		refs[i] = ref(n)
	}
	return map[string]interface{}{"oneOf": refs}
}

func jsonBody(schema string) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": ref(schema)},
		},
	}
}

func fhirBody(schemas ...string) map[string]interface{} {
	media := map[string]interface{}{"schema": oneOf(schemas...)}
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			fhirJSON:           media,
			"application/json": media,
		},
	}
}

func responses(code, description string, schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		code: map[string]interface{}{
			"description": description,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{"schema": schema},
			},
		},
	}
}

var errorDescriptions = map[string]string{
	"400": "Invalid request",
	"401": "Missing or invalid token",
	"403": "Insufficient role",
	"404": "Not found",
	"422": "Resource cannot be interpreted",
}

func withErrors(resp map[string]interface{}, codes ...string) map[string]interface{} {
	for _, code := range codes {
		resp[code] = map[string]interface{}{"description": errorDescriptions[code]}
	}
	return resp
}

func pathParam(name, description string) map[string]interface{} {
	return map[string]interface{}{
		"name": name, "in": "path", "required": true, "description": description,
		"schema": map[string]string{"type": "string", "format": "uuid"},
	}
}

func queryParam(name, description, typ string) map[string]interface{} {
	p := map[string]interface{}{
		"name": name, "in": "query", "schema": map[string]string{"type": typ},
	}
	if description != "" {
		p["description"] = description
	}
	return p
}

// ── Swagger UI ──────────────────────────────────────────────────────────

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Blood Pressure Classification API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers the OpenAPI endpoints.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
