package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/chatplan/internal/catalog"
	"github.com/mohammad-safakhou/chatplan/models"
)

// ModelLister resolves the model catalog; it never fails.
type ModelLister interface {
	GetModels(ctx context.Context) []models.Model
}

// ModelsHandler lists the selectable models. It is public.
type ModelsHandler struct {
	Catalog ModelLister
}

func (h *ModelsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
}

func (h *ModelsHandler) list(c echo.Context) error {
	all := h.Catalog.GetModels(c.Request().Context())
	return c.JSON(http.StatusOK, ModelsResponse{Models: catalog.Enabled(all)})
}
