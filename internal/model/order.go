package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderPhase tags the single cart/order record with where it is in its life.
type OrderPhase int

const (
	// PhaseCart: the buyer is still assembling items.
	PhaseCart OrderPhase = iota
	// PhaseSubmitted: checked out with proof of payment, awaiting review.
	PhaseSubmitted
	// PhaseConfirmed: an operator verified the purchase.
	PhaseConfirmed
)

func (p OrderPhase) String() string {
	switch p {
	case PhaseCart:
		return "cart"
	case PhaseSubmitted:
		return "processing"
	case PhaseConfirmed:
		return "confirmed"
	}
	return "unknown"
}

// Order represents a row of the `orders` table. The same row is the buyer's
// cart until Submit and the durable order afterwards.
type Order struct {
	ID        uint64     // orders.id
	BuyerID   uint64     // orders.buyer_id
	Items     CodeSet    // orders.tickets_bought
	Phase     OrderPhase // orders.is_in_cart + orders.confirmed
	ImgLink   string     // orders.img_link
	CreatedAt time.Time  // orders.created_at
	UpdatedAt time.Time  // orders.updated_at
}

// NewCart returns an empty cart owned by buyerID. The ID is assigned by the
// store.
func NewCart(buyerID uint64) Order {
	return Order{BuyerID: buyerID, Items: NewCodeSet(), Phase: PhaseCart}
}

func (o Order) InCart() bool { return o.Phase == PhaseCart }

func (o Order) Confirmed() bool { return o.Phase == PhaseConfirmed }

// Ghost reports whether a submitted order has lost every item.
func (o Order) Ghost() bool { return !o.InCart() && o.Items.Empty() }

// AddItem adds code to the aggregate.
func (o *Order) AddItem(code string) {
	if o.Items == nil {
		o.Items = NewCodeSet()
	}
	o.Items.Add(code)
}

// RemoveItem removes code; removing an absent code succeeds.
func (o *Order) RemoveItem(code string) {
	if o.Items != nil {
		o.Items.Remove(code)
	}
}

// Submit turns the cart into an order awaiting review.
func (o *Order) Submit(imgLink string) error {
	if !o.InCart() {
		return fmt.Errorf("submit order %d: %w", o.ID, ErrAlreadySubmitted)
	}
	if o.Items.Empty() {
		return fmt.Errorf("submit order %d: %w", o.ID, ErrEmptyCart)
	}
	if imgLink == "" {
		return fmt.Errorf("submit order %d: %w", o.ID, ErrEmptyProof)
	}
	o.Phase = PhaseSubmitted
	o.ImgLink = imgLink
	return nil
}

// Confirm marks a submitted order as verified.
func (o *Order) Confirm() error {
	if o.Phase != PhaseSubmitted {
		return fmt.Errorf("confirm order %d in phase %s: %w", o.ID, o.Phase, ErrInvalidTransition)
	}
	o.Phase = PhaseConfirmed
	return nil
}

// Total is priceEach times the number of items.
func (o Order) Total(priceEach decimal.Decimal) decimal.Decimal {
	return priceEach.Mul(decimal.NewFromInt(int64(o.Items.Len())))
}

// CartProjection is the wire form of an Order kept in session storage and
// returned to callers.
type CartProjection struct {
	ID           uint64 `json:"id"`
	BuyerID      uint64 `json:"buyer_id"`
	Items        string `json:"items"`
	InCart       bool   `json:"in_cart"`
	Confirmed    bool   `json:"confirmed"`
	ImgLink      string `json:"img_link,omitempty"`
	AmountBought int    `json:"amount_bought"`
	PriceEach    string `json:"price_each"`
	Total        string `json:"total"`
}

// Projection renders o for callers.
func (o Order) Projection(priceEach decimal.Decimal) CartProjection {
	return CartProjection{
		ID:           o.ID,
		BuyerID:      o.BuyerID,
		Items:        o.Items.Encode(),
		InCart:       o.InCart(),
		Confirmed:    o.Confirmed(),
		ImgLink:      o.ImgLink,
		AmountBought: o.Items.Len(),
		PriceEach:    priceEach.String(),
		Total:        o.Total(priceEach).String(),
	}
}

// OrderSummary is one line of an order listing joined with its buyer.
type OrderSummary struct {
	ID           uint64          `json:"id"`
	BuyerID      uint64          `json:"buyer_id"`
	BuyerName    string          `json:"buyer_name"`
	Items        string          `json:"items"`
	Status       string          `json:"status"`
	AmountBought int             `json:"amount_bought"`
	Total        decimal.Decimal `json:"total"`
	CreatedAt    time.Time       `json:"created_at"`
}
