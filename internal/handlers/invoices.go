package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/smartbill/smartbill/internal/invoices"
)

type invoiceLister interface {
	List(ctx context.Context, limit int) ([]invoices.Invoice, error)
}

type InvoicesHandler struct {
	service invoiceLister
}

func NewInvoicesHandler(service invoiceLister) *InvoicesHandler {
	return &InvoicesHandler{service: service}
}

func (h *InvoicesHandler) Register(e *echo.Echo) {
	e.GET("/api/invoices", h.List)
}

func (h *InvoicesHandler) List(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = parsed
	}
	items, err := h.service.List(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []invoices.Invoice{}
	}
	return c.JSON(http.StatusOK, items)
}
