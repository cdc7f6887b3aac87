package triage

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/phcwatch/phcwatch/internal/platform/auth"
	"github.com/phcwatch/phcwatch/pkg/pagination"
)

type Handler struct {
	svc *QueueService
}

func NewHandler(svc *QueueService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctorGroup := api.Group("", auth.RequireRole(auth.RolePHCDoctor))
	doctorGroup.GET("/queue", h.GetQueue)
}

func (h *Handler) GetQueue(c echo.Context) error {
	pg := pagination.FromContext(c)
	entries, total, err := h.svc.Queue(c.Request().Context(), pg)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}
