package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lottery-ticket-reservation/internal/service"
)

// OrderHandler exposes the review queue to mods, agents and admins.
type OrderHandler struct {
	Orders *service.OrderManager
}

func NewOrderHandler(orders *service.OrderManager) *OrderHandler {
	return &OrderHandler{Orders: orders}
}

type noteReq struct {
	Text string `json:"text"`
}

// List handles GET /v1/orders. Only orders awaiting review are returned
// unless ?all=true.
func (h *OrderHandler) List(c echo.Context) error {
	pending := c.QueryParam("all") != "true"
	orders, err := h.Orders.ListOrders(c.Request().Context(), pending, 0, queryOffset(c))
	if err != nil {
		return respond(c, service.Outcome{}, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":    true,
		"orders":     orders,
		"price_each": h.Orders.PriceEach(),
	})
}

// Proof handles GET /v1/orders/:id/proof.
func (h *OrderHandler) Proof(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return fail(c, http.StatusBadRequest, "invalid order id")
	}
	proof, err := h.Orders.OrderProof(c.Request().Context(), id)
	if err != nil {
		return respond(c, service.Outcome{}, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "order_id": id, "proof": proof})
}

// Confirm handles POST /v1/orders/:id/confirm.
func (h *OrderHandler) Confirm(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return fail(c, http.StatusBadRequest, "invalid order id")
	}
	out, err := h.Orders.AdminConfirm(c.Request().Context(), id)
	return respond(c, out, err)
}

// Cancel handles POST /v1/orders/:id/cancel.
func (h *OrderHandler) Cancel(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return fail(c, http.StatusBadRequest, "invalid order id")
	}
	out, err := h.Orders.AdminCancel(c.Request().Context(), id)
	return respond(c, out, err)
}

// Note handles POST /v1/tickets/:code/note.
func (h *OrderHandler) Note(c echo.Context) error {
	var req noteReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body")
	}
	out, err := h.Orders.EditNote(c.Request().Context(), c.Param("code"), req.Text)
	return respond(c, out, err)
}
