package handler

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lottery-ticket-reservation/internal/logging"
	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
	"github.com/iliyamo/lottery-ticket-reservation/internal/service"
	"github.com/iliyamo/lottery-ticket-reservation/internal/session"
)

// CartHandler serves the buyer-facing cart endpoints. The session holds the
// caller's user and cart projections; every operation refreshes them.
type CartHandler struct {
	Orders   *service.OrderManager
	Sessions session.Store
}

func NewCartHandler(orders *service.OrderManager, sessions session.Store) *CartHandler {
	if orders == nil || sessions == nil {
		panic("nil dependency passed to NewCartHandler")
	}
	return &CartHandler{Orders: orders, Sessions: sessions}
}

type codeReq struct {
	Code string `json:"code"`
}

type checkoutReq struct {
	Proof string `json:"proof"`
}

// load returns the caller's session, or a fresh one built from the token.
func (h *CartHandler) load(c echo.Context) (session.Session, error) {
	uid, err := getUserID(c)
	if err != nil {
		return session.Session{}, err
	}
	sess, err := h.Sessions.Load(c.Request().Context(), uid)
	if err == nil && sess.User.ID == uid {
		return sess, nil
	}
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		logging.FromContext(c.Request().Context()).WithError(err).Warn("session load failed")
	}
	return session.Session{User: model.UserProjection{ID: uid, Role: getRole(c)}}, nil
}

// store writes refreshed projections back. A failure is logged only: the
// next request rebuilds from the database.
func (h *CartHandler) store(c echo.Context, sess session.Session, out service.Outcome, clearCart bool) {
	if out.User != nil {
		sess.User = *out.User
	}
	switch {
	case clearCart:
		sess.Cart = model.CartProjection{}
	case out.Cart != nil:
		sess.Cart = *out.Cart
	}
	if err := h.Sessions.Save(c.Request().Context(), sess.User.ID, sess); err != nil {
		logging.FromContext(c.Request().Context()).WithError(err).Warn("session save failed")
	}
}

// Get handles GET /v1/cart.
func (h *CartHandler) Get(c echo.Context) error {
	sess, err := h.load(c)
	if err != nil {
		return fail(c, http.StatusUnauthorized, "unauthorized")
	}
	out, err := h.Orders.CreateCart(c.Request().Context(), sess.User)
	if err == nil {
		h.store(c, sess, out, false)
	}
	return respond(c, out, err)
}

// Add handles POST /v1/cart/add.
func (h *CartHandler) Add(c echo.Context) error {
	sess, err := h.load(c)
	if err != nil {
		return fail(c, http.StatusUnauthorized, "unauthorized")
	}
	var req codeReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body")
	}
	out, err := h.Orders.AddToCart(c.Request().Context(), strings.TrimSpace(req.Code), sess.User, sess.Cart)
	if err == nil {
		h.store(c, sess, out, false)
	}
	return respond(c, out, err)
}

// Remove handles POST /v1/cart/remove.
func (h *CartHandler) Remove(c echo.Context) error {
	sess, err := h.load(c)
	if err != nil {
		return fail(c, http.StatusUnauthorized, "unauthorized")
	}
	var req codeReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body")
	}
	out, err := h.Orders.RemoveFromCart(c.Request().Context(), strings.TrimSpace(req.Code), sess.User, sess.Cart)
	if err == nil {
		h.store(c, sess, out, false)
	}
	return respond(c, out, err)
}

// Clear handles POST /v1/cart/clear.
func (h *CartHandler) Clear(c echo.Context) error {
	sess, err := h.load(c)
	if err != nil {
		return fail(c, http.StatusUnauthorized, "unauthorized")
	}
	out, err := h.Orders.ClearCart(c.Request().Context(), sess.User, sess.Cart)
	if err == nil {
		h.store(c, sess, out, false)
	}
	return respond(c, out, err)
}

// Checkout handles POST /v1/cart/checkout. The proof is an image URL or a
// base64 image data URI.
func (h *CartHandler) Checkout(c echo.Context) error {
	sess, err := h.load(c)
	if err != nil {
		return fail(c, http.StatusUnauthorized, "unauthorized")
	}
	var req checkoutReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body")
	}
	if err := validateProof(req.Proof); err != nil {
		return respond(c, service.Outcome{}, err)
	}
	out, err := h.Orders.Checkout(c.Request().Context(), sess.User, sess.Cart, strings.TrimSpace(req.Proof))
	if err == nil {
		h.store(c, sess, out, true)
	}
	return respond(c, out, err)
}

// MyTickets handles GET /v1/my/tickets.
func (h *CartHandler) MyTickets(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return fail(c, http.StatusUnauthorized, "unauthorized")
	}
	tickets, err := h.Orders.BoughtTickets(c.Request().Context(), uid)
	if err != nil {
		return respond(c, service.Outcome{}, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "tickets": viewTickets(tickets, true)})
}

// MyOrders handles GET /v1/my/orders.
func (h *CartHandler) MyOrders(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return fail(c, http.StatusUnauthorized, "unauthorized")
	}
	orders, err := h.Orders.ListOrders(c.Request().Context(), false, uid, queryOffset(c))
	if err != nil {
		return respond(c, service.Outcome{}, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "orders": orders})
}

// validateProof accepts http(s) URLs and data:image/...;base64 URIs that
// decode cleanly.
func validateProof(proof string) error {
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return model.ErrEmptyProof
	}
	if strings.HasPrefix(proof, "data:") {
		header, payload, ok := strings.Cut(proof, ",")
		if !ok || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
			return model.ErrInvalidProof
		}
		if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
			return model.ErrInvalidProof
		}
		return nil
	}
	u, err := url.Parse(proof)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.ErrInvalidProof
	}
	return nil
}
