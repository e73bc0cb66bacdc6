package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/chatplan/internal/planner"
	"github.com/mohammad-safakhou/chatplan/internal/runtime"
)

// PlansHandler exposes plan validation utilities (dry-run).
type PlansHandler struct {
	EnableDryRun bool
}

func NewPlansHandler(enableDryRun bool) *PlansHandler {
	return &PlansHandler{EnableDryRun: enableDryRun}
}

func (h *PlansHandler) Register(g *echo.Group, secret []byte, allowAnonymous bool) {
	g.Use(runtime.EchoAuthMiddleware(secret, allowAnonymous))
	if h.EnableDryRun {
		g.POST("/dry-run", h.dryRun)
	}
}

// dryRun validates a plan array against the plan schema without calling a
// model. Violations answer 422 with the validator message.
func (h *PlansHandler) dryRun(c echo.Context) error {
	if !h.EnableDryRun {
		return echo.NewHTTPError(http.StatusNotFound, "plan dry-run disabled")
	}

	var req DryRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Plans) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "plans payload is required")
	}
	plans, err := planner.ValidateJSON(req.Plans)
	if err != nil {
		var ve *planner.ValidationError
		if errors.As(err, &ve) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, ve.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := DryRunResponse{
		Valid:     true,
		PlanCount: len(plans),
		Plans:     plans,
		Message:   "plans validated",
	}
	for i, p := range plans {
		if p.StepCountMismatch() {
			resp.Mismatched = append(resp.Mismatched, i)
		}
	}
	return c.JSON(http.StatusOK, resp)
}
