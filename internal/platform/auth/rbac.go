package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles carried in the token. Administrators pass every role check.
const (
	RoleASHA      = "asha"
	RolePHCDoctor = "phc_doctor"
	RoleAdmin     = "admin"
)

// Actor identifies who performed an action.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasAnyRole reports whether granted covers one of required.
func HasAnyRole(granted []string, required ...string) bool {
	for _, has := range granted {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// ActorFromContext builds the Actor for the authenticated user. When a user
// holds several roles the most privileged one is reported.
func ActorFromContext(ctx context.Context) Actor {
	a := Actor{ID: UserIDFromContext(ctx), Name: UserNameFromContext(ctx)}
	roles := RolesFromContext(ctx)
	for _, candidate := range []string{RoleAdmin, RolePHCDoctor, RoleASHA} {
		for _, r := range roles {
			if r == candidate {
				a.Role = candidate
				return a
			}
		}
	}
	if len(roles) > 0 {
		a.Role = roles[0]
	}
	return a
}
