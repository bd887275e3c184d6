package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
	"github.com/iliyamo/lottery-ticket-reservation/internal/repository"
	"github.com/iliyamo/lottery-ticket-reservation/internal/utils"
)

// UserAdminHandler lets admins inspect, create and re-role accounts.
// Accounts are never deleted here; tickets and orders keep pointing at
// their buyer.
type UserAdminHandler struct {
	Users      *repository.UserRepo
	PageSize   int
	BcryptCost int
}

func NewUserAdminHandler(users *repository.UserRepo, pageSize, bcryptCost int) *UserAdminHandler {
	return &UserAdminHandler{Users: users, PageSize: pageSize, BcryptCost: bcryptCost}
}

// Get handles GET /v1/admin/users/:id.
func (h *UserAdminHandler) Get(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return fail(c, http.StatusBadRequest, "invalid user id")
	}
	u, err := h.Users.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fail(c, http.StatusNotFound, "User not found")
		}
		c.Logger().Errorf("get user: %v", err)
		return fail(c, http.StatusInternalServerError, "Something went wrong")
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "user": u.Projection()})
}

type createUserReq struct {
	Name     string `json:"name"`
	Phone    string `json:"phone_number"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Create handles POST /v1/admin/users. Role defaults to "user".
func (h *UserAdminHandler) Create(c echo.Context) error {
	var req createUserReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" || req.Phone == "" || req.Password == "" {
		return fail(c, http.StatusBadRequest, "name/phone_number/password required")
	}
	role := model.RoleUser
	if strings.TrimSpace(req.Role) != "" {
		r, err := model.ParseRole(req.Role)
		if err != nil {
			return fail(c, http.StatusUnprocessableEntity, "Invalid role")
		}
		role = r
	}

	nu := repository.NewUser{
		Name: req.Name, Phone: req.Phone, Email: strings.ToLower(strings.TrimSpace(req.Email)),
		Password: req.Password, Role: role,
	}
	id, err := h.Users.Create(c.Request().Context(), nu, h.BcryptCost)
	switch {
	case errors.Is(err, repository.ErrPhoneExists):
		return fail(c, http.StatusConflict, "Phone number already registered")
	case errors.Is(err, utils.ErrWeakPassword):
		return fail(c, http.StatusBadRequest, err.Error())
	case err != nil:
		c.Logger().Errorf("create user: %v", err)
		return fail(c, http.StatusInternalServerError, "Something went wrong")
	}
	u := model.User{ID: id, Name: nu.Name, Phone: nu.Phone, Email: nu.Email, Role: role}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "message": "User created", "user": u.Projection()})
}

// List handles GET /v1/admin/users.
func (h *UserAdminHandler) List(c echo.Context) error {
	users, err := h.Users.List(c.Request().Context(), queryOffset(c), h.PageSize)
	if err != nil {
		c.Logger().Errorf("list users: %v", err)
		return fail(c, http.StatusInternalServerError, "Something went wrong")
	}
	out := make([]model.UserProjection, 0, len(users))
	for _, u := range users {
		out = append(out, u.Projection())
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "users": out})
}

type setRoleReq struct {
	Role string `json:"role"`
}

// SetRole handles POST /v1/admin/users/:id/role. The new role applies to the
// user's next token.
func (h *UserAdminHandler) SetRole(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return fail(c, http.StatusBadRequest, "invalid user id")
	}
	var req setRoleReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body")
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		return fail(c, http.StatusUnprocessableEntity, "Invalid role")
	}
	if err := h.Users.SetRole(c.Request().Context(), id, role); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fail(c, http.StatusNotFound, "User not found")
		}
		c.Logger().Errorf("set role: %v", err)
		return fail(c, http.StatusInternalServerError, "Something went wrong")
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "Role updated", "role": role})
}
