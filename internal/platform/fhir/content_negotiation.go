package fhir

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// FHIRContentType is the FHIR JSON content type with charset.
const FHIRContentType = "application/fhir+json; charset=utf-8"

// ContentNegotiationMiddleware serves every FHIR response as
// application/fhir+json. The _format query parameter wins over the Accept
// header; XML and unknown formats get 406 with an OperationOutcome.
func ContentNegotiationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if format := c.QueryParam("_format"); format != "" {
				if !isJSONFormat(format) {
					return c.JSON(http.StatusNotAcceptable, NewOperationOutcome(IssueSeverityError, IssueTypeNotSupported, "unsupported _format "+format+", use application/fhir+json"))
				}
			} else if accept := c.Request().Header.Get("Accept"); accept != "" && !acceptsJSON(accept) {
				return c.JSON(http.StatusNotAcceptable, NewOperationOutcome(IssueSeverityError, IssueTypeNotSupported, "Accept header does not include application/fhir+json"))
			}

			c.Response().Header().Set(echo.HeaderContentType, FHIRContentType)
			return next(c)
		}
	}
}

// normalizeFormat lowercases and restores the "+" that query decoding turns
// into a space ("application/fhir json").
func normalizeFormat(raw string) string {
	f := strings.TrimSpace(strings.ToLower(raw))
	return strings.ReplaceAll(f, "fhir json", "fhir+json")
}

func isJSONFormat(format string) bool {
	switch normalizeFormat(format) {
	case "json", "application/json", "application/fhir+json":
		return true
	}
	return false
}

func acceptsJSON(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		// Strip quality parameters (";q=0.9").
		mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		switch mediaType {
		case "application/fhir+json", "application/json", "json", "*/*", "application/*":
			return true
		}
	}
	return false
}
