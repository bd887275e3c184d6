package service

import (
	"context"
	"strings"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
	"github.com/iliyamo/lottery-ticket-reservation/internal/repository"
)

// ListAvailable returns a page of available tickets whose code contains q.
func (m *OrderManager) ListAvailable(ctx context.Context, q string, offset int) ([]model.Ticket, error) {
	return m.store.ListTickets(ctx, repository.TicketFilter{
		Status: model.StatusAvailable,
		Query:  strings.TrimSpace(q),
		Offset: clampOffset(offset),
		Limit:  m.pageSize,
	})
}

// ListTickets is the operator view of the inventory.
func (m *OrderManager) ListTickets(ctx context.Context, status model.TicketStatus, q string, offset int) ([]model.Ticket, error) {
	return m.store.ListTickets(ctx, repository.TicketFilter{
		Status: status,
		Query:  strings.TrimSpace(q),
		Offset: clampOffset(offset),
		Limit:  m.pageSize,
	})
}

func (m *OrderManager) GetTicket(ctx context.Context, code string) (model.Ticket, error) {
	return m.store.GetTicket(ctx, code)
}

// BoughtTickets lists the tickets a user has checked out, under review or
// confirmed.
func (m *OrderManager) BoughtTickets(ctx context.Context, userID uint64) ([]model.Ticket, error) {
	all, err := m.store.ListTickets(ctx, repository.TicketFilter{BuyerID: userID, Limit: 1000})
	if err != nil {
		return nil, err
	}
	out := make([]model.Ticket, 0, len(all))
	for _, t := range all {
		if t.Status == model.StatusProcessing || t.Status == model.StatusConfirmed {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListOrders returns submitted orders with their totals. pendingOnly keeps
// only orders still awaiting review.
func (m *OrderManager) ListOrders(ctx context.Context, pendingOnly bool, buyerID uint64, offset int) ([]model.OrderSummary, error) {
	rows, err := m.store.ListOrders(ctx, repository.OrderFilter{
		PendingOnly: pendingOnly,
		BuyerID:     buyerID,
		Offset:      clampOffset(offset),
		Limit:       m.pageSize,
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.OrderSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.OrderSummary{
			ID:           r.Order.ID,
			BuyerID:      r.Order.BuyerID,
			BuyerName:    r.BuyerName,
			Items:        r.Order.Items.Encode(),
			Status:       r.Order.Phase.String(),
			AmountBought: r.Order.Items.Len(),
			Total:        r.Order.Total(m.priceEach),
			CreatedAt:    r.Order.CreatedAt,
		})
	}
	return out, nil
}

// OrderProof returns the proof of payment attached at checkout.
func (m *OrderManager) OrderProof(ctx context.Context, orderID uint64) (string, error) {
	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	return o.ImgLink, nil
}

// PriceEach is the configured price of one ticket.
func (m *OrderManager) PriceEach() string { return m.priceEach.String() }

func clampOffset(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
