package handler // handler defines http handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lottery-ticket-reservation/internal/middleware"
	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
	"github.com/iliyamo/lottery-ticket-reservation/internal/service"
)

var errNoUser = errors.New("invalid user_id in context")

// getUserID reads the id JWTAuth stored in the context.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get(middleware.CtxUserID).(type) {
	case uint64:
		if t != 0 {
			return t, nil
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n != 0 {
			return n, nil
		}
	}
	return 0, errNoUser
}

func getRole(c echo.Context) model.Role {
	s, _ := c.Get(middleware.CtxRole).(string)
	return model.Role(s)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrDuplicateCode):
		return http.StatusConflict
	case errors.Is(err, model.ErrEmptyCart), errors.Is(err, model.ErrEmptyNote),
		errors.Is(err, model.ErrEmptyProof), errors.Is(err, model.ErrInvalidProof),
		errors.Is(err, model.ErrInvalidCode), errors.Is(err, model.ErrInvalidRole):
		return http.StatusUnprocessableEntity
	case model.IsRetryable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respond writes the success/message envelope for an order operation.
func respond(c echo.Context, out service.Outcome, err error) error {
	if err != nil && statusFor(err) >= http.StatusInternalServerError {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(statusFor(err), service.Envelope(out, err))
}

// fail writes a failed envelope with a fixed message.
func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, service.Result{Success: false, Message: msg})
}

func queryOffset(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("offset"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func paramID(c echo.Context, name string) (uint64, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	return n, err == nil && n != 0
}

// ticketView is the JSON shape of a ticket.
type ticketView struct {
	Code     string     `json:"code"`
	Status   string     `json:"status"`
	BuyerID  uint64     `json:"buyer_id,omitempty"`
	ExpireAt *time.Time `json:"expire_at,omitempty"`
	Note     string     `json:"note_for,omitempty"`
}

func viewTicket(t model.Ticket, withOwner bool) ticketView {
	v := ticketView{Code: t.Code, Status: string(t.Status)}
	if withOwner {
		v.BuyerID = t.BuyerID
		v.Note = t.NoteFor
		if !t.ExpireAt.IsZero() && !t.ExpireAt.Equal(model.Never) {
			exp := t.ExpireAt
			v.ExpireAt = &exp
		}
	}
	return v
}

func viewTickets(ts []model.Ticket, withOwner bool) []ticketView {
	out := make([]ticketView, 0, len(ts))
	for _, t := range ts {
		out = append(out, viewTicket(t, withOwner))
	}
	return out
}
