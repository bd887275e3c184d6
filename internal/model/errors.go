// Package model holds the lottery domain types and the rules that govern
// them: the ticket state machine, the cart/order aggregate, the user
// ticket-set projection and the error values shared by every layer above.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// Base error kinds. Handlers and the envelope mapper match on these with
// errors.Is; the specific errors below wrap one of them.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrTransactionFailure = errors.New("transaction failure")
)

var (
	ErrTicketNotFound = fmt.Errorf("ticket %w", ErrNotFound)
	ErrOrderNotFound  = fmt.Errorf("order %w", ErrNotFound)
	ErrUserNotFound   = fmt.Errorf("user %w", ErrNotFound)

	ErrTicketUnavailable      = fmt.Errorf("ticket unavailable: %w", ErrInvalidTransition)
	ErrTicketAlreadyAvailable = fmt.Errorf("ticket already available: %w", ErrInvalidTransition)
	ErrAlreadySubmitted       = fmt.Errorf("order already submitted: %w", ErrInvalidTransition)
	ErrNotOwner               = fmt.Errorf("ticket held by another buyer: %w", ErrInvalidTransition)
	ErrCartExists             = fmt.Errorf("buyer already has an open cart: %w", ErrInvalidTransition)

	ErrEmptyCart  = errors.New("cart is empty")
	ErrEmptyNote  = errors.New("note is empty")
	ErrEmptyProof = errors.New("proof of payment is required")

	// ErrInvalidProof rejects a proof that is neither an http(s) URL nor a
	// base64 image data URI.
	ErrInvalidProof = errors.New("proof of payment is not a valid image link")

	ErrInvalidCode   = errors.New("invalid ticket code")
	ErrDuplicateCode = errors.New("ticket code already exists")
	ErrInvalidRole   = errors.New("invalid role")
)

// TxError wraps a store failure that happened while beginning, locking or
// committing a unit of work. It matches ErrTransactionFailure.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string { return fmt.Sprintf("%s: %s: %v", ErrTransactionFailure, e.Op, e.Err) }

func (e *TxError) Unwrap() error { return e.Err }

func (e *TxError) Is(target error) bool { return target == ErrTransactionFailure }

// Retryable reports whether repeating the whole operation may succeed:
// lock wait timeouts, deadlocks and expired deadlines.
func (e *TxError) Retryable() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(e.Err, &me) {
		return me.Number == 1205 || me.Number == 1213
	}
	return false
}

// WrapTx returns err as a *TxError unless it is nil, already a domain error
// or already wrapped.
func WrapTx(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TxError
	if errors.As(err, &te) || IsDomainError(err) {
		return err
	}
	return &TxError{Op: op, Err: err}
}

// IsRetryable reports whether err is a retryable transaction failure.
func IsRetryable(err error) bool {
	var te *TxError
	return errors.As(err, &te) && te.Retryable()
}

// IsDomainError reports whether err belongs to the domain taxonomy rather
// than to the store.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrInvalidTransition, ErrEmptyCart, ErrEmptyNote,
		ErrEmptyProof, ErrInvalidProof, ErrInvalidCode, ErrDuplicateCode, ErrInvalidRole,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
