package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/lottery-ticket-reservation/internal/handler"
	"github.com/iliyamo/lottery-ticket-reservation/internal/middleware"
	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
)

// Handlers groups everything the routes dispatch to.
type Handlers struct {
	Health  echo.HandlerFunc
	Auth    *handler.AuthHandler
	Cart    *handler.CartHandler
	Orders  *handler.OrderHandler
	Tickets *handler.TicketHandler
	Users   *handler.UserAdminHandler
}

// RegisterRoutes registers the operational endpoints that do not require
// authentication.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the token endpoints under /v1/auth and the
// authenticated identity endpoint /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth", limit)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout, middleware.JWTAuth(jwtSecret))

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// RegisterPublic registers the anonymous ticket browser.
func RegisterPublic(e *echo.Echo, t *handler.TicketHandler) {
	e.GET("/v1/tickets", t.ListAvailable)
}

// RegisterBuyer registers the cart endpoints. Any authenticated role may
// buy.
func RegisterBuyer(e *echo.Echo, c *handler.CartHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret), limit)
	g.GET("/cart", c.Get)
	g.POST("/cart/add", c.Add)
	g.POST("/cart/remove", c.Remove)
	g.POST("/cart/clear", c.Clear)
	g.POST("/cart/checkout", c.Checkout)
	g.GET("/my/tickets", c.MyTickets)
	g.GET("/my/orders", c.MyOrders)
}

// RegisterReview registers the order review endpoints for mods, agents and
// admins.
func RegisterReview(e *echo.Echo, o *handler.OrderHandler, jwtSecret string) {
	g := e.Group("/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.Reviewers...),
	)
	g.GET("/orders", o.List)
	g.GET("/orders/:id/proof", o.Proof)
	g.POST("/orders/:id/confirm", o.Confirm)
	g.POST("/orders/:id/cancel", o.Cancel)
	g.POST("/tickets/:code/note", o.Note)
}

// RegisterAdmin registers inventory and account management.
func RegisterAdmin(e *echo.Echo, t *handler.TicketHandler, u *handler.UserAdminHandler, jwtSecret string) {
	g := e.Group("/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.GET("/tickets", t.AdminList)
	g.POST("/tickets", t.Add)
	g.GET("/users", u.List)
	g.POST("/users", u.Create)
	g.GET("/users/:id", u.Get)
	g.POST("/users/:id/role", u.SetRole)
}

// Register wires every route group.
func Register(e *echo.Echo, h Handlers, jwtSecret string, limit echo.MiddlewareFunc) {
	RegisterRoutes(e, h.Health)
	RegisterAuth(e, h.Auth, jwtSecret, limit)
	RegisterPublic(e, h.Tickets)
	RegisterBuyer(e, h.Cart, jwtSecret, limit)
	RegisterReview(e, h.Orders, jwtSecret)
	RegisterAdmin(e, h.Tickets, h.Users, jwtSecret)
}
