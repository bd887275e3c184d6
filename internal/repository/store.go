package repository

import (
	"context"
	"time"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
)

// Store is the transactional reservation store. Every multi-row change runs
// inside one Tx obtained from Begin.
type Store interface {
	Reader
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one unit of work. Methods named ...ForUpdate take a row lock that is
// held until Commit or Rollback. Rows must be locked in the order
// aggregate, tickets by ascending code, user. A buyer has at most one
// in-cart aggregate; InsertOrder reports a second one as ErrCartExists.
type Tx interface {
	TicketForUpdate(ctx context.Context, code string) (model.Ticket, error)
	InsertTicket(ctx context.Context, t model.Ticket) error
	SaveTicket(ctx context.Context, t model.Ticket) error

	OrderForUpdate(ctx context.Context, id uint64) (model.Order, error)
	// CartForUpdate locks aggregate id only when it is buyerID's open cart.
	CartForUpdate(ctx context.Context, id, buyerID uint64) (model.Order, error)
	// OpenCartForUpdate returns the buyer's in-cart aggregate or ErrOrderNotFound.
	OpenCartForUpdate(ctx context.Context, buyerID uint64) (model.Order, error)
	// OrderContainingForUpdate returns the first aggregate whose items hold code.
	OrderContainingForUpdate(ctx context.Context, code string) (model.Order, error)
	InsertOrder(ctx context.Context, o *model.Order) error
	SaveOrder(ctx context.Context, o model.Order) error
	DeleteOrder(ctx context.Context, id uint64) error

	UserForUpdate(ctx context.Context, id uint64) (model.User, error)
	SaveUserTickets(ctx context.Context, u model.User) error

	Commit() error
	Rollback() error
}

// Reader holds the lock-free queries used by listings and the pruner's scans.
type Reader interface {
	GetTicket(ctx context.Context, code string) (model.Ticket, error)
	ListTickets(ctx context.Context, f TicketFilter) ([]model.Ticket, error)
	ExpiredTicketCodes(ctx context.Context, now time.Time) ([]string, error)
	GhostOrderIDs(ctx context.Context) ([]uint64, error)
	GetOrder(ctx context.Context, id uint64) (model.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]OrderListing, error)
}

// TicketFilter narrows ListTickets. Empty fields match everything.
type TicketFilter struct {
	Status  model.TicketStatus
	BuyerID uint64
	Query   string // substring of the code
	Offset  int
	Limit   int
}

// OrderFilter narrows ListOrders to submitted orders.
type OrderFilter struct {
	PendingOnly bool
	BuyerID     uint64
	Offset      int
	Limit       int
}

// OrderListing is an order joined with its buyer's display name.
type OrderListing struct {
	Order     model.Order
	BuyerName string
}
