package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
	"github.com/iliyamo/lottery-ticket-reservation/internal/service"
)

// TicketHandler serves the public inventory and its admin counterpart.
type TicketHandler struct {
	Orders *service.OrderManager
}

func NewTicketHandler(orders *service.OrderManager) *TicketHandler {
	return &TicketHandler{Orders: orders}
}

// ListAvailable handles GET /v1/tickets?q=&offset=. Owner fields are never
// exposed here.
func (h *TicketHandler) ListAvailable(c echo.Context) error {
	tickets, err := h.Orders.ListAvailable(c.Request().Context(), c.QueryParam("q"), queryOffset(c))
	if err != nil {
		return respond(c, service.Outcome{}, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":    true,
		"tickets":    viewTickets(tickets, false),
		"price_each": h.Orders.PriceEach(),
	})
}

// AdminList handles GET /v1/admin/tickets?status=&q=&offset=.
func (h *TicketHandler) AdminList(c echo.Context) error {
	status := model.TicketStatus(strings.ToLower(strings.TrimSpace(c.QueryParam("status"))))
	if status != "" && !status.Valid() {
		return fail(c, http.StatusBadRequest, "invalid status")
	}
	tickets, err := h.Orders.ListTickets(c.Request().Context(), status, c.QueryParam("q"), queryOffset(c))
	if err != nil {
		return respond(c, service.Outcome{}, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "tickets": viewTickets(tickets, true)})
}

type addTicketsReq struct {
	Codes []string `json:"codes"`
}

// Add handles POST /v1/admin/tickets.
func (h *TicketHandler) Add(c echo.Context) error {
	var req addTicketsReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body")
	}
	out, err := h.Orders.AddTickets(c.Request().Context(), req.Codes)
	if err != nil {
		return respond(c, out, err)
	}
	return c.JSON(http.StatusCreated, service.Envelope(out, nil))
}
