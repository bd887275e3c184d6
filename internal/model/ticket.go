package model

import (
	"fmt"
	"time"
)

// TicketStatus is the lifecycle state stored in tickets.status.
type TicketStatus string

const (
	StatusAvailable  TicketStatus = "available"
	StatusOrdered    TicketStatus = "ordered"
	StatusProcessing TicketStatus = "processing"
	StatusConfirmed  TicketStatus = "confirmed"
)

// Valid reports whether s is one of the known statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusOrdered, StatusProcessing, StatusConfirmed:
		return true
	}
	return false
}

// Never is the expire_at value of confirmed tickets. It is far enough in the
// future that an "expire_at <= now" sweep never matches it.
var Never = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Ticket represents a row of the `tickets` table. A zero BuyerID and a zero
// ExpireAt stand for SQL NULL.
type Ticket struct {
	Code     string       // tickets.code
	Status   TicketStatus // tickets.status
	BuyerID  uint64       // tickets.buyer_id (nullable)
	ExpireAt time.Time    // tickets.expire_at (nullable)
	NoteFor  string       // tickets.note_for
}

// NewTicket returns an available ticket with the given code.
func NewTicket(code string) (Ticket, error) {
	if err := ValidateCode(code); err != nil {
		return Ticket{}, err
	}
	return Ticket{Code: code, Status: StatusAvailable}, nil
}

// Order places a hold for buyerID that expires after hold.
func (t *Ticket) Order(buyerID uint64, now time.Time, hold time.Duration) error {
	if t.Status != StatusAvailable {
		return t.transitionErr("order")
	}
	if buyerID == 0 {
		return fmt.Errorf("order ticket %s: %w", t.Code, ErrUserNotFound)
	}
	t.Status = StatusOrdered
	t.BuyerID = buyerID
	t.ExpireAt = now.Add(hold).UTC()
	return nil
}

// RemoveOrder releases the ticket back to available. The note is kept.
func (t *Ticket) RemoveOrder() error {
	if t.Status == StatusAvailable {
		return fmt.Errorf("remove order on ticket %s: %w", t.Code, ErrTicketAlreadyAvailable)
	}
	t.Status = StatusAvailable
	t.BuyerID = 0
	t.ExpireAt = time.Time{}
	return nil
}

// Purchase moves an ordered ticket into review.
func (t *Ticket) Purchase(now time.Time, review time.Duration) error {
	if t.Status != StatusOrdered {
		return t.transitionErr("purchase")
	}
	t.Status = StatusProcessing
	t.ExpireAt = now.Add(review).UTC()
	return nil
}

// Confirm finalizes a ticket under review. Confirmed tickets never expire.
func (t *Ticket) Confirm() error {
	if t.Status != StatusProcessing {
		return t.transitionErr("confirm")
	}
	t.Status = StatusConfirmed
	t.ExpireAt = Never
	return nil
}

// Reset clears every mutable field, including the note.
func (t *Ticket) Reset() {
	t.Status = StatusAvailable
	t.BuyerID = 0
	t.ExpireAt = time.Time{}
	t.NoteFor = ""
}

// AddNote attaches text to the ticket without touching its status.
func (t *Ticket) AddNote(text string) error {
	if text == "" {
		return fmt.Errorf("note on ticket %s: %w", t.Code, ErrEmptyNote)
	}
	t.NoteFor = text
	return nil
}

// Expired reports whether a hold on the ticket has lapsed at now.
func (t Ticket) Expired(now time.Time) bool {
	return !t.ExpireAt.IsZero() && !t.ExpireAt.After(now)
}

// CheckInvariant verifies that availability, ownership and expiry agree.
func (t Ticket) CheckInvariant() error {
	avail := t.Status == StatusAvailable
	noBuyer := t.BuyerID == 0
	noExpiry := t.ExpireAt.IsZero()
	if avail != noBuyer || avail != noExpiry {
		return fmt.Errorf("ticket %s: status=%s buyer=%d expire_at=%v: inconsistent", t.Code, t.Status, t.BuyerID, t.ExpireAt)
	}
	if t.Status == StatusConfirmed && !t.ExpireAt.Equal(Never) {
		return fmt.Errorf("ticket %s: confirmed ticket with finite expiry", t.Code)
	}
	return nil
}

func (t Ticket) transitionErr(op string) error {
	if op == "order" {
		return fmt.Errorf("%s ticket %s from %s: %w", op, t.Code, t.Status, ErrTicketUnavailable)
	}
	return fmt.Errorf("%s ticket %s from %s: %w", op, t.Code, t.Status, ErrInvalidTransition)
}
