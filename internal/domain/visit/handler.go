package visit

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/phcwatch/phcwatch/internal/domain/scoring"
	"github.com/phcwatch/phcwatch/internal/platform/auth"
	"github.com/phcwatch/phcwatch/internal/platform/fhir"
	"github.com/phcwatch/phcwatch/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// TransitionRequest carries the optional note and the version the client last saw.
type TransitionRequest struct {
	Note    string `json:"note"`
	Version *int   `json:"version,omitempty"`
}

type DecisionRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
	Version  *int   `json:"version,omitempty"`
}

type ClarificationResponseRequest struct {
	Response string `json:"response"`
	Version  *int   `json:"version,omitempty"`
}

type EmergencyRequest struct {
	Emergency bool   `json:"emergency"`
	Note      string `json:"note"`
	Version   *int   `json:"version,omitempty"`
}

type ScoreRequest struct {
	Vitals   scoring.VitalReadings `json:"vitals"`
	RedFlags []string              `json:"red_flags"`
}

type ScoreResponse struct {
	scoring.Result
	Advice []string `json:"advice"`
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	// Read endpoints – every clinical role
	readGroup := api.Group("", auth.RequireRole(auth.RoleASHA, auth.RolePHCDoctor))
	readGroup.GET("/visits", h.ListVisits)
	readGroup.GET("/visits/:id", h.GetVisit)
	readGroup.GET("/visits/:id/audit", h.GetAuditTrail)
	readGroup.GET("/visits/:id/fhir", h.GetFHIR)
	readGroup.POST("/scores", h.PreviewScore)
	readGroup.GET("/advice/:risk", h.GetAdvice)
	readGroup.GET("/red-flags", h.ListRedFlags)
	readGroup.PUT("/visits/:id/emergency", h.SetEmergency)

	// Field worker endpoints
	ashaGroup := api.Group("", auth.RequireRole(auth.RoleASHA))
	ashaGroup.POST("/visits", h.CreateVisit)
	ashaGroup.POST("/visits/:id/escalate", h.Escalate)
	ashaGroup.POST("/visits/:id/clarification-response", h.RespondClarification)

	// Clinician endpoints
	doctorGroup := api.Group("", auth.RequireRole(auth.RolePHCDoctor))
	doctorGroup.POST("/visits/:id/decision", h.Decide)

	if fhirGroup != nil {
		fhirGroup.GET("/RiskAssessment/:id", h.GetFHIR, auth.RequireRole(auth.RoleASHA, auth.RolePHCDoctor))
	}
}

// httpError maps service errors onto status codes. Errors without a sentinel
// get fallback.
func httpError(err error, fallback int) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrStorage):
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return echo.NewHTTPError(fallback, err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateVisit(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	v, err := h.svc.Register(c.Request().Context(), &req, actor)
	if err != nil {
		return httpError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor := auth.ActorFromContext(c.Request().Context())
	v, err := h.svc.Get(c.Request().Context(), id, actor)
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, key := range []string{"status", "patient_id", "risk_level", "created_by", "emergency", "q"} {
		if v := c.QueryParam(key); v != "" {
			params[key] = v
		}
	}
	// Field workers only see the cases they registered.
	actor := auth.ActorFromContext(c.Request().Context())
	if actor.Role == auth.RoleASHA {
		params["created_by"] = actor.ID
	}

	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetAuditTrail(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor := auth.ActorFromContext(c.Request().Context())
	entries, err := h.svc.AuditTrail(c.Request().Context(), id, actor)
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) GetFHIR(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome("error", "invalid", "invalid id"))
	}
	actor := auth.ActorFromContext(c.Request().Context())
	v, err := h.svc.Get(c.Request().Context(), id, actor)
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("RiskAssessment", id.String()))
	}
	if errors.Is(err, ErrForbidden) {
		return c.JSON(http.StatusForbidden, fhir.NewOperationOutcome("error", "forbidden", err.Error()))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.NewOperationOutcome("error", "exception", err.Error()))
	}
	return c.JSON(http.StatusOK, v.ToFHIR())
}

func (h *Handler) Escalate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req TransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	v, err := h.svc.Escalate(c.Request().Context(), id, req.Version, actor, req.Note)
	if err != nil {
		return httpError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Decide(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	v, err := h.svc.Decide(c.Request().Context(), id, req.Version, Action(req.Decision), actor, req.Note)
	if err != nil {
		return httpError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) RespondClarification(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ClarificationResponseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	v, err := h.svc.RespondClarification(c.Request().Context(), id, req.Version, actor, req.Response)
	if err != nil {
		return httpError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SetEmergency(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req EmergencyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	v, err := h.svc.SetEmergency(c.Request().Context(), id, req.Version, req.Emergency, actor, req.Note)
	if err != nil {
		return httpError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) PreviewScore(c echo.Context) error {
	var req ScoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res := h.svc.Score(req.Vitals, req.RedFlags)
	return c.JSON(http.StatusOK, ScoreResponse{Result: res, Advice: scoring.Advice(res.RiskLevel)})
}

func (h *Handler) GetAdvice(c echo.Context) error {
	level, err := scoring.ParseRiskLevel(c.Param("risk"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"risk_level": level,
		"advice":     scoring.Advice(level),
	})
}

func (h *Handler) ListRedFlags(c echo.Context) error {
	return c.JSON(http.StatusOK, scoring.KnownRedFlags())
}
