// Package service holds the order manager, which performs every
// multi-entity reservation change as one transaction, and the pruner that
// reclaims lapsed holds.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lottery-ticket-reservation/internal/logging"
	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
	"github.com/iliyamo/lottery-ticket-reservation/internal/queue"
	"github.com/iliyamo/lottery-ticket-reservation/internal/repository"
)

// Options tunes an OrderManager. Zero values fall back to the defaults.
type Options struct {
	HoldTTL   time.Duration
	ReviewTTL time.Duration
	PriceEach decimal.Decimal
	PageSize  int
	Now       func() time.Time
	Audit     AuditPublisher
}

const (
	DefaultHoldTTL   = time.Hour
	DefaultReviewTTL = 24 * time.Hour
)

// DefaultPrice is the price of one ticket when none is configured.
var DefaultPrice = decimal.NewFromInt(30000)

// OrderManager applies ticket, aggregate and user-projection edits
// atomically. The caller's projections identify the user and cart; the rows
// themselves are always re-read under lock.
type OrderManager struct {
	store     repository.Store
	hold      time.Duration
	review    time.Duration
	priceEach decimal.Decimal
	pageSize  int
	now       func() time.Time
	audit     AuditPublisher
}

func NewOrderManager(store repository.Store, opts Options) *OrderManager {
	m := &OrderManager{
		store:     store,
		hold:      opts.HoldTTL,
		review:    opts.ReviewTTL,
		priceEach: opts.PriceEach,
		pageSize:  opts.PageSize,
		now:       opts.Now,
		audit:     opts.Audit,
	}
	if m.hold <= 0 {
		m.hold = DefaultHoldTTL
	}
	if m.review <= 0 {
		m.review = DefaultReviewTTL
	}
	if m.priceEach.IsZero() {
		m.priceEach = DefaultPrice
	}
	if m.pageSize <= 0 {
		m.pageSize = 28
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.audit == nil {
		m.audit = NopPublisher{}
	}
	return m
}

// Outcome carries the refreshed projections back to the caller, which stores
// them as session state.
type Outcome struct {
	Message string
	User    *model.UserProjection
	Cart    *model.CartProjection
	Order   *model.CartProjection
}

// inTx runs fn in one transaction. Anything fn returns aborts and rolls
// back; store errors come back as *model.TxError.
func (m *OrderManager) inTx(ctx context.Context, op string, fn func(tx repository.Tx) error) (err error) {
	defer func() { orderOperations.WithLabelValues(op, resultLabel(err)).Inc() }()

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return model.WrapTx(op, err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			err = errors.Join(err, model.WrapTx("rollback", rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return model.WrapTx(op, err)
	}
	if err = tx.Commit(); err != nil {
		return model.WrapTx(op, err)
	}
	committed = true
	return nil
}

// lockCart returns the user's open cart. The cartID hint is tried first and
// only matches the user's own open cart. With create set, a missing cart is
// inserted; otherwise ok is false. A concurrent first touch that inserted
// the cart first surfaces as ErrCartExists and the committed cart is used.
func (m *OrderManager) lockCart(ctx context.Context, tx repository.Tx, userID, cartID uint64, create bool) (cart model.Order, ok bool, err error) {
	if cartID != 0 {
		cart, err = tx.CartForUpdate(ctx, cartID, userID)
		if err == nil {
			return cart, true, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return model.Order{}, false, err
		}
	}
	cart, err = tx.OpenCartForUpdate(ctx, userID)
	if err == nil {
		return cart, true, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Order{}, false, err
	}
	if !create {
		return model.Order{}, false, nil
	}
	cart = model.NewCart(userID)
	err = tx.InsertOrder(ctx, &cart)
	if errors.Is(err, model.ErrCartExists) {
		cart, err = tx.OpenCartForUpdate(ctx, userID)
	}
	if err != nil {
		return model.Order{}, false, err
	}
	return cart, true, nil
}

// lockHolder locks the user's open cart that actually holds code, falling
// back to the user's current cart when none does.
func (m *OrderManager) lockHolder(ctx context.Context, tx repository.Tx, userID, cartID uint64, code string) (model.Order, bool, error) {
	o, err := tx.OrderContainingForUpdate(ctx, code)
	switch {
	case err == nil && o.BuyerID == userID && o.InCart():
		return o, true, nil
	case err != nil && !errors.Is(err, model.ErrNotFound):
		return model.Order{}, false, err
	}
	return m.lockCart(ctx, tx, userID, cartID, false)
}

func (m *OrderManager) outcome(msg string, u model.User, cart *model.Order) Outcome {
	up := u.Projection()
	out := Outcome{Message: msg, User: &up}
	if cart != nil {
		cp := cart.Projection(m.priceEach)
		out.Cart = &cp
	}
	return out
}

// CreateCart returns the user's open cart, creating it on first touch.
func (m *OrderManager) CreateCart(ctx context.Context, user model.UserProjection) (Outcome, error) {
	var out Outcome
	err := m.inTx(ctx, "create_cart", func(tx repository.Tx) error {
		cart, _, err := m.lockCart(ctx, tx, user.ID, 0, true)
		if err != nil {
			return err
		}
		u, err := tx.UserForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		out = m.outcome("Cart ready", u, &cart)
		return nil
	})
	return out, err
}

// AddToCart holds an available ticket for the user and adds it to the cart.
func (m *OrderManager) AddToCart(ctx context.Context, code string, user model.UserProjection, cart model.CartProjection) (Outcome, error) {
	if err := model.ValidateCode(code); err != nil {
		return Outcome{}, err
	}
	var out Outcome
	err := m.inTx(ctx, "add_to_cart", func(tx repository.Tx) error {
		c, _, err := m.lockCart(ctx, tx, user.ID, cart.ID, true)
		if err != nil {
			return err
		}
		tk, err := tx.TicketForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if err := tk.Order(user.ID, m.now(), m.hold); err != nil {
			return err
		}
		u, err := tx.UserForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		c.AddItem(code)
		u.HoldTicket(code)

		if err := tx.SaveTicket(ctx, tk); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, c); err != nil {
			return err
		}
		if err := tx.SaveUserTickets(ctx, u); err != nil {
			return err
		}
		out = m.outcome(fmt.Sprintf("Ticket %s added to cart", code), u, &c)
		return nil
	})
	return out, err
}

// RemoveFromCart releases a ticket the user holds in the cart.
func (m *OrderManager) RemoveFromCart(ctx context.Context, code string, user model.UserProjection, cart model.CartProjection) (Outcome, error) {
	if err := model.ValidateCode(code); err != nil {
		return Outcome{}, err
	}
	var out Outcome
	err := m.inTx(ctx, "remove_from_cart", func(tx repository.Tx) error {
		c, hasCart, err := m.lockHolder(ctx, tx, user.ID, cart.ID, code)
		if err != nil {
			return err
		}
		tk, err := tx.TicketForUpdate(ctx, code)
		if err != nil {
			return err
		}
		switch {
		case tk.Status == model.StatusAvailable:
			return fmt.Errorf("remove %s: %w", code, model.ErrTicketAlreadyAvailable)
		case tk.BuyerID != user.ID:
			return fmt.Errorf("remove %s: %w", code, model.ErrNotOwner)
		case tk.Status != model.StatusOrdered:
			return fmt.Errorf("remove %s: ticket is %s: %w", code, tk.Status, model.ErrInvalidTransition)
		}
		if err := tk.RemoveOrder(); err != nil {
			return err
		}
		u, err := tx.UserForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		u.ReleaseTicket(code)

		if err := tx.SaveTicket(ctx, tk); err != nil {
			return err
		}
		var cp *model.Order
		if hasCart {
			c.RemoveItem(code)
			if err := tx.SaveOrder(ctx, c); err != nil {
				return err
			}
			cp = &c
		}
		if err := tx.SaveUserTickets(ctx, u); err != nil {
			return err
		}
		out = m.outcome(fmt.Sprintf("Ticket %s removed from cart", code), u, cp)
		return nil
	})
	return out, err
}

// ClearCart releases every ticket in the user's cart and leaves it empty.
// Items whose hold already lapsed or changed hands are only dropped from the
// cart.
func (m *OrderManager) ClearCart(ctx context.Context, user model.UserProjection, cart model.CartProjection) (Outcome, error) {
	var out Outcome
	err := m.inTx(ctx, "clear_cart", func(tx repository.Tx) error {
		c, hasCart, err := m.lockCart(ctx, tx, user.ID, cart.ID, false)
		if err != nil {
			return err
		}
		if !hasCart || c.Items.Empty() {
			u, err := tx.UserForUpdate(ctx, user.ID)
			if err != nil {
				return err
			}
			var cp *model.Order
			if hasCart {
				cp = &c
			}
			out = m.outcome("Cart is already empty", u, cp)
			return nil
		}

		codes := c.Items.Sorted()
		released := make([]model.Ticket, 0, len(codes))
		for _, code := range codes {
			tk, err := tx.TicketForUpdate(ctx, code)
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if tk.BuyerID != user.ID || tk.Status != model.StatusOrdered {
				continue
			}
			if err := tk.RemoveOrder(); err != nil {
				return err
			}
			released = append(released, tk)
		}
		u, err := tx.UserForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		for _, code := range codes {
			u.Ordered.Remove(code)
			c.RemoveItem(code)
		}

		for _, tk := range released {
			if err := tx.SaveTicket(ctx, tk); err != nil {
				return err
			}
		}
		if err := tx.SaveOrder(ctx, c); err != nil {
			return err
		}
		if err := tx.SaveUserTickets(ctx, u); err != nil {
			return err
		}
		out = m.outcome(fmt.Sprintf("Released %d ticket(s)", len(released)), u, &c)
		return nil
	})
	return out, err
}

// Checkout submits the user's cart with a proof of payment. Every ticket
// moves to processing and is annotated with the buyer; agents and admins
// are confirmed in the same transaction.
func (m *OrderManager) Checkout(ctx context.Context, user model.UserProjection, cart model.CartProjection, proof string) (Outcome, error) {
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return Outcome{}, model.ErrEmptyProof
	}
	var (
		out       Outcome
		submitted model.Order
		confirmed bool
	)
	err := m.inTx(ctx, "checkout", func(tx repository.Tx) error {
		c, hasCart, err := m.lockCart(ctx, tx, user.ID, cart.ID, false)
		if err != nil {
			return err
		}
		if !hasCart || c.Items.Empty() {
			return model.ErrEmptyCart
		}

		now := m.now()
		codes := c.Items.Sorted()
		tickets := make([]model.Ticket, 0, len(codes))
		for _, code := range codes {
			tk, err := tx.TicketForUpdate(ctx, code)
			if err != nil {
				return err
			}
			if tk.BuyerID != user.ID {
				return fmt.Errorf("checkout %s: %w", code, model.ErrNotOwner)
			}
			if err := tk.Purchase(now, m.review); err != nil {
				return err
			}
			tickets = append(tickets, tk)
		}

		u, err := tx.UserForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		for i := range tickets {
			if err := tickets[i].AddNote(u.NoteLabel()); err != nil {
				return err
			}
			u.BuyTicket(tickets[i].Code)
		}
		if err := c.Submit(proof); err != nil {
			return err
		}

		if u.Role.AutoConfirms() {
			if err := confirmTickets(&c, tickets); err != nil {
				return err
			}
			confirmed = true
		}

		for _, tk := range tickets {
			if err := tx.SaveTicket(ctx, tk); err != nil {
				return err
			}
		}
		if err := tx.SaveOrder(ctx, c); err != nil {
			return err
		}
		if err := tx.SaveUserTickets(ctx, u); err != nil {
			return err
		}

		msg := "Order submitted, awaiting confirmation"
		if confirmed {
			msg = "Order confirmed"
		}
		out = m.outcome(msg, u, nil)
		op := c.Projection(m.priceEach)
		out.Order = &op
		submitted = c
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	m.publishOrder(ctx, queue.EventOrderSubmitted, submitted, "")
	if confirmed {
		m.publishOrder(ctx, queue.EventOrderConfirmed, submitted, "auto-confirmed at checkout")
	}
	return out, nil
}

// confirmTickets confirms every ticket of a submitted order in place.
func confirmTickets(o *model.Order, tickets []model.Ticket) error {
	if o.Items.Empty() {
		return fmt.Errorf("confirm order %d: %w", o.ID, model.ErrEmptyCart)
	}
	for i := range tickets {
		if tickets[i].BuyerID != o.BuyerID {
			return fmt.Errorf("confirm %s: %w", tickets[i].Code, model.ErrNotOwner)
		}
		if err := tickets[i].Confirm(); err != nil {
			return err
		}
	}
	return o.Confirm()
}

// AdminConfirm finalizes a submitted order. A single ticket that is not in
// processing aborts the whole confirmation.
func (m *OrderManager) AdminConfirm(ctx context.Context, orderID uint64) (Outcome, error) {
	var (
		out Outcome
		o   model.Order
	)
	err := m.inTx(ctx, "admin_confirm", func(tx repository.Tx) error {
		var err error
		o, err = tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.InCart() {
			return fmt.Errorf("confirm order %d: still a cart: %w", orderID, model.ErrInvalidTransition)
		}
		codes := o.Items.Sorted()
		tickets := make([]model.Ticket, 0, len(codes))
		for _, code := range codes {
			tk, err := tx.TicketForUpdate(ctx, code)
			if err != nil {
				return err
			}
			tickets = append(tickets, tk)
		}
		if err := confirmTickets(&o, tickets); err != nil {
			return err
		}
		for _, tk := range tickets {
			if err := tx.SaveTicket(ctx, tk); err != nil {
				return err
			}
		}
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		op := o.Projection(m.priceEach)
		out = Outcome{Message: fmt.Sprintf("Order %d confirmed", orderID), Order: &op}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	m.publishOrder(ctx, queue.EventOrderConfirmed, o, "")
	return out, nil
}

// AdminCancel returns every ticket of the order to available, strips them
// from the buyer's projection and deletes the order. Tickets that already
// belong to someone else are left alone.
func (m *OrderManager) AdminCancel(ctx context.Context, orderID uint64) (Outcome, error) {
	var o model.Order
	err := m.inTx(ctx, "admin_cancel", func(tx repository.Tx) error {
		var err error
		o, err = tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		codes := o.Items.Sorted()
		var reset []model.Ticket
		for _, code := range codes {
			tk, err := tx.TicketForUpdate(ctx, code)
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if tk.BuyerID != o.BuyerID || tk.Status == model.StatusAvailable {
				logging.FromContext(ctx).WithFields(logrus.Fields{
					"order_id": orderID, "code": code, "status": tk.Status,
				}).Warn("cancel: ticket no longer held by order buyer")
				continue
			}
			tk.Reset()
			reset = append(reset, tk)
		}

		u, err := tx.UserForUpdate(ctx, o.BuyerID)
		hasUser := err == nil
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}

		for _, tk := range reset {
			if err := tx.SaveTicket(ctx, tk); err != nil {
				return err
			}
		}
		if hasUser {
			for _, code := range codes {
				u.ReleaseTicket(code)
			}
			if err := tx.SaveUserTickets(ctx, u); err != nil {
				return err
			}
		}
		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return Outcome{}, err
	}
	m.publishOrder(ctx, queue.EventOrderCancelled, o, "")
	return Outcome{Message: fmt.Sprintf("Order %d cancelled", orderID)}, nil
}

// EditNote replaces the note of a ticket.
func (m *OrderManager) EditNote(ctx context.Context, code, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	err := m.inTx(ctx, "edit_note", func(tx repository.Tx) error {
		tk, err := tx.TicketForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if err := tk.AddNote(text); err != nil {
			return err
		}
		return tx.SaveTicket(ctx, tk)
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Message: fmt.Sprintf("Note saved on %s", code)}, nil
}

// AddTickets seeds inventory. Any invalid or duplicate code aborts the batch.
func (m *OrderManager) AddTickets(ctx context.Context, codes []string) (Outcome, error) {
	set := model.NewCodeSet()
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if err := model.ValidateCode(c); err != nil {
			return Outcome{}, err
		}
		set.Add(c)
	}
	if set.Empty() {
		return Outcome{}, fmt.Errorf("%w: no codes given", model.ErrInvalidCode)
	}
	err := m.inTx(ctx, "add_tickets", func(tx repository.Tx) error {
		for _, code := range set.Sorted() {
			tk, err := model.NewTicket(code)
			if err != nil {
				return err
			}
			if err := tx.InsertTicket(ctx, tk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Message: fmt.Sprintf("Added %d ticket(s)", set.Len())}, nil
}

func (m *OrderManager) publishOrder(ctx context.Context, typ string, o model.Order, reason string) {
	ev := queue.NewAuditEvent(typ, m.now())
	ev.OrderID = o.ID
	ev.BuyerID = o.BuyerID
	ev.Codes = o.Items.Sorted()
	ev.Total = o.Total(m.priceEach).String()
	ev.Reason = reason
	publishAudit(ctx, m.audit, ev)
}
