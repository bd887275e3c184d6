// Package queue defines the audit messages exchanged over the broker and the
// consumer that records them.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// DefaultAuditQueue is the durable queue audit events are routed to.
const DefaultAuditQueue = "lottery.audit"

// Audit event types.
const (
	EventOrderSubmitted   = "order.submitted"
	EventOrderConfirmed   = "order.confirmed"
	EventOrderCancelled   = "order.cancelled"
	EventTicketReclaimed  = "ticket.reclaimed"
	EventOrderGhostDelete = "order.ghost_deleted"
)

// AuditEvent describes one committed change to tickets or orders. It carries
// enough to reconstruct the audit trail without querying the database.
type AuditEvent struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	OrderID       uint64   `json:"order_id,omitempty"`
	BuyerID       uint64   `json:"buyer_id,omitempty"`
	Codes         []string `json:"codes,omitempty"`
	Total         string   `json:"total,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	OccurredAt    string   `json:"occurred_at"`
}

// NewAuditEvent stamps a fresh event of the given type.
func NewAuditEvent(typ string, at time.Time) AuditEvent {
	return AuditEvent{ID: uuid.NewString(), Type: typ, OccurredAt: at.UTC().Format(time.RFC3339)}
}
