package bloodpressure

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/bpcheck/internal/platform/auth"
	"github.com/ehr/bpcheck/internal/platform/fhir"
	"github.com/ehr/bpcheck/pkg/bpclass"
	"github.com/ehr/bpcheck/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	// Stateless classification – any authenticated caller
	api.GET("/bp/categories", h.ListCategories)
	api.POST("/bp/classify", h.Classify)
	api.POST("/bp/assess", h.Assess)
	api.POST("/bp/trend", h.Trend)

	// Read endpoints – physician, nurse, patient. Patients are scoped to
	// their own readings by patientScope.
	readGroup := api.Group("", auth.RequireRole("physician", "nurse", "patient"))
	readGroup.GET("/bp/readings", h.ListReadings)
	readGroup.GET("/bp/readings/:id", h.GetReading)
	readGroup.GET("/bp/patients/:patient_id/trend", h.PatientTrend)
	readGroup.GET("/bp/patients/:patient_id/export", h.ExportPatientReadings)

	// Write endpoints
	readGroup.POST("/bp/readings", h.CreateReading)
	deleteGroup := api.Group("", auth.RequireRole("physician", "nurse"))
	deleteGroup.DELETE("/bp/readings/:id", h.DeleteReading)

	// FHIR endpoints
	if fhirGroup != nil {
		fhirGroup.POST("/Observation/$bp-assess", h.AssessObservationFHIR)
		fhirRead := fhirGroup.Group("", auth.RequireRole("physician", "nurse", "patient"))
		fhirRead.GET("/Observation", h.SearchObservationsFHIR)
	}
}

// -- Stateless Handlers --

func (h *Handler) ListCategories(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Categories())
}

func (h *Handler) Classify(c echo.Context) error {
	var in PressureInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.Classify(in))
}

func (h *Handler) Assess(c echo.Context) error {
	var in PressureInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.Assess(in))
}

func (h *Handler) Trend(c echo.Context) error {
	var in TrendInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.Trend(in.Readings))
}

// -- Reading Handlers --

func (h *Handler) CreateReading(c echo.Context) error {
	var r Reading
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	own, scoped, err := patientScope(c)
	if err != nil {
		return err
	}
	if scoped {
		if r.PatientID == uuid.Nil {
			r.PatientID = own
		} else if r.PatientID != own {
			return errOtherPatient
		}
	}
	res, err := h.svc.RecordReading(c.Request().Context(), &r)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetReading(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	own, scoped, err := patientScope(c)
	if err != nil {
		return err
	}
	res, err := h.svc.GetReading(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	if scoped && res.Reading.PatientID != own {
		return errOtherPatient
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListReadings(c echo.Context) error {
	pg := pagination.FromContext(c)
	own, scoped, err := patientScope(c)
	if err != nil {
		return err
	}
	patientID := c.QueryParam("patient_id")
	if scoped && patientID == "" {
		patientID = own.String()
	}
	if patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		if scoped && pid != own {
			return errOtherPatient
		}
		items, total, err := h.svc.ListReadingsByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
	items, total, err := h.svc.ListReadings(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeleteReading(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteReading(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PatientTrend(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	if err := requirePatientAccess(c, pid); err != nil {
		return err
	}
	from, err := parseTimeParam(c, "from")
	if err != nil {
		return err
	}
	to, err := parseTimeParam(c, "to")
	if err != nil {
		return err
	}
	res, err := h.svc.PatientTrend(c.Request().Context(), pid, from, to)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// ExportPatientReadings downloads the patient's readings as an XLSX workbook.
func (h *Handler) ExportPatientReadings(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	if err := requirePatientAccess(c, pid); err != nil {
		return err
	}
	from, err := parseTimeParam(c, "from")
	if err != nil {
		return err
	}
	to, err := parseTimeParam(c, "to")
	if err != nil {
		return err
	}
	data, err := h.svc.ExportPatientReadings(c.Request().Context(), pid, from, to)
	if err != nil {
		return toHTTPError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="bp-readings-`+pid.String()+`.xlsx"`)
	return c.Blob(http.StatusOK, XLSXContentType, data)
}

func parseTimeParam(c echo.Context, name string) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": expected RFC3339 timestamp")
	}
	return t, nil
}

var errOtherPatient = echo.NewHTTPError(http.StatusForbidden, "patients may only access their own readings")

// patientScope reports whether the caller is limited to one patient's
// readings. That is the case for the patient role without a clinical role;
// the token subject is then the patient id.
func patientScope(c echo.Context) (uuid.UUID, bool, error) {
	ctx := c.Request().Context()
	patient := false
	for _, role := range auth.RolesFromContext(ctx) {
		switch role {
		case "admin", "physician", "nurse":
			return uuid.Nil, false, nil
		case "patient":
			patient = true
		}
	}
	if !patient {
		return uuid.Nil, false, nil
	}
	own, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, true, echo.NewHTTPError(http.StatusForbidden, "token subject is not a patient id")
	}
	return own, true, nil
}

func requirePatientAccess(c echo.Context, patientID uuid.UUID) error {
	own, scoped, err := patientScope(c)
	if err != nil {
		return err
	}
	if scoped && patientID != own {
		return errOtherPatient
	}
	return nil
}

func toHTTPError(err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "reading not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- FHIR Handlers --

// AssessObservationFHIR accepts a blood pressure Observation, or a Bundle of
// them, and returns the same resources annotated with interpretations and
// derived MAP and pulse pressure components.
func (h *Handler) AssessObservationFHIR(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}
	observations, isBundle, err := fhir.ParseObservations(body)
	if err != nil {
		var oerr *fhir.ObservationError
		if errors.As(err, &oerr) {
			return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome(oerr.Expression, oerr.Message))
		}
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeStructure, err.Error()))
	}
	if len(observations) == 0 {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome("Bundle.entry", "no Observation resources found"))
	}

	for _, obs := range observations {
		reading, err := fhir.ReadingFromObservation(obs)
		if err != nil {
			var oerr *fhir.ObservationError
			if errors.As(err, &oerr) {
				return c.JSON(http.StatusUnprocessableEntity, fhir.InvalidOutcome(oerr.Expression, oerr.Message))
			}
			return c.JSON(http.StatusUnprocessableEntity, fhir.ErrorOutcome(err.Error()))
		}
		fhir.Interpret(obs, h.svc.Assess(PressureInput{Systolic: reading.Systolic, Diastolic: reading.Diastolic}))
	}

	if !isBundle {
		return c.JSON(http.StatusOK, observations[0])
	}
	return c.JSON(http.StatusOK, fhir.NewCollectionBundle(observations))
}

// SearchObservationsFHIR lists stored readings of a patient as interpreted
// blood pressure Observations. The patient parameter accepts "Patient/<id>"
// or a bare id.
func (h *Handler) SearchObservationsFHIR(c echo.Context) error {
	patient := strings.TrimPrefix(c.QueryParam("patient"), "Patient/")
	if patient == "" {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeRequired, "patient search parameter is required"))
	}
	pid, err := uuid.Parse(patient)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome("patient", "invalid patient id"))
	}
	if err := requirePatientAccess(c, pid); err != nil {
		return c.JSON(http.StatusForbidden, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeForbidden, "patients may only access their own readings"))
	}
	if code := c.QueryParam("code"); code != "" && !strings.HasSuffix(code, fhir.LOINCBloodPressurePanel) {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported, "only code "+fhir.LOINCBloodPressurePanel+" is supported"))
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListReadingsByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}

	observations := make([]*fhir.Observation, len(items))
	for i, r := range items {
		observations[i] = ToObservation(r, h.svc.StoredAssessment(r))
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundleWithLinks(observations, fhir.SearchBundleParams{
		BaseURL:  "/fhir/Observation",
		QueryStr: "patient=" + pid.String(),
		Count:    pg.Limit,
		Offset:   pg.Offset,
		Total:    total,
	}))
}

// ToObservation renders a stored reading as an interpreted FHIR Observation.
func ToObservation(r *Reading, res bpclass.AssessmentResult) *fhir.Observation {
	obs := fhir.NewBloodPressureObservation(r.Measurement(), "Patient/"+r.PatientID.String())
	fhir.Interpret(obs, res)
	return obs
}
