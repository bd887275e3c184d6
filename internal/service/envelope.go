package service

import (
	"errors"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
)

// Result is the caller-facing envelope of every order operation.
type Result struct {
	Success   bool                  `json:"success"`
	Message   string                `json:"message"`
	Retryable bool                  `json:"retryable,omitempty"`
	User      *model.UserProjection `json:"user,omitempty"`
	Cart      *model.CartProjection `json:"cart,omitempty"`
	Order     *model.CartProjection `json:"order,omitempty"`
}

// Envelope folds an operation's outcome and error into a Result. Internal
// error text never reaches the caller.
func Envelope(out Outcome, err error) Result {
	if err != nil {
		return Result{Success: false, Message: Message(err), Retryable: model.IsRetryable(err)}
	}
	return Result{Success: true, Message: out.Message, User: out.User, Cart: out.Cart, Order: out.Order}
}

// Message maps err onto the text shown to users.
func Message(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, model.ErrTicketNotFound):
		return "Ticket not found"
	case errors.Is(err, model.ErrOrderNotFound):
		return "Order not found"
	case errors.Is(err, model.ErrUserNotFound):
		return "User not found"
	case errors.Is(err, model.ErrTicketUnavailable):
		return "Ticket is not available"
	case errors.Is(err, model.ErrTicketAlreadyAvailable):
		return "Ticket is already available"
	case errors.Is(err, model.ErrNotOwner):
		return "Ticket is held by another buyer"
	case errors.Is(err, model.ErrAlreadySubmitted):
		return "Order was already submitted"
	case errors.Is(err, model.ErrInvalidTransition):
		return "Ticket state does not allow this action"
	case errors.Is(err, model.ErrEmptyCart):
		return "Cart is empty"
	case errors.Is(err, model.ErrEmptyNote):
		return "Note cannot be empty"
	case errors.Is(err, model.ErrEmptyProof):
		return "Proof of payment is required"
	case errors.Is(err, model.ErrInvalidProof):
		return "Proof of payment must be an http(s) link or a base64 image"
	case errors.Is(err, model.ErrInvalidCode):
		return "Invalid ticket code"
	case errors.Is(err, model.ErrDuplicateCode):
		return "Ticket code already exists"
	case errors.Is(err, model.ErrTransactionFailure):
		if model.IsRetryable(err) {
			return "The system is busy, please try again"
		}
		return "Could not save changes"
	}
	return "Something went wrong"
}
