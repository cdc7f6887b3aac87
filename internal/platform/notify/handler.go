package notify

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/phcwatch/phcwatch/internal/platform/auth"
	"github.com/phcwatch/phcwatch/internal/platform/db"
)

// InboxReader reads a recipient's stored messages.
type InboxReader interface {
	Inbox(ctx context.Context, recipient string, limit int) ([]Message, error)
}

type Handler struct {
	inbox InboxReader
}

func NewHandler(inbox InboxReader) *Handler {
	return &Handler{inbox: inbox}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.ListNotifications,
		auth.RequireRole(auth.RoleASHA, auth.RolePHCDoctor))
}

// ListNotifications merges the caller's personal inbox with the inboxes of
// the roles they hold at the request's facility, newest first.
func (h *Handler) ListNotifications(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing user")
	}
	limit := inboxLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		if n < limit {
			limit = n
		}
	}

	facility := db.FacilityFromContext(ctx)
	if facility == "" {
		facility = "default"
	}
	recipients := []string{UserRecipient(facility, userID)}
	for _, role := range auth.RolesFromContext(ctx) {
		recipients = append(recipients, RoleRecipient(facility, role))
	}

	seen := make(map[string]bool)
	var merged []Message
	for _, r := range recipients {
		msgs, err := h.inbox.Inbox(ctx, r, limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		for _, m := range msgs {
			key := m.ID.String() + m.Recipient
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, m)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].OccurredAt.After(merged[j].OccurredAt)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []Message{}
	}
	return c.JSON(http.StatusOK, merged)
}
