package queue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAuditLine(t *testing.T) {
	at := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	ev := NewAuditEvent(EventOrderConfirmed, at)
	ev.ID = "e1"
	ev.OrderID = 12
	ev.BuyerID = 3
	ev.Codes = []string{"A1", "B2"}
	ev.Total = "60000"

	assert.Equal(t,
		"[2024-05-10T08:00:00Z] order.confirmed | id=e1 | order_id=12 | buyer_id=3 | codes=[A1,B2] | total=60000\n",
		FormatAuditLine(ev))

	rec := NewAuditEvent(EventTicketReclaimed, at)
	rec.ID = "e2"
	rec.Codes = []string{"C3"}
	rec.Reason = "hold expired"
	assert.Equal(t,
		"[2024-05-10T08:00:00Z] ticket.reclaimed | id=e2 | codes=[C3] | reason=\"hold expired\"\n",
		FormatAuditLine(rec))
}

func TestAuditConsumerHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	c := AuditConsumer{LogPath: path}

	require.NoError(t, c.handle([]byte(`{"id":"e1","type":"order.cancelled","order_id":4,"occurred_at":"2024-05-10T08:00:00Z"}`)))
	require.NoError(t, c.handle([]byte(`{"id":"e2","type":"order.ghost_deleted","order_id":5,"occurred_at":"2024-05-10T09:00:00Z"}`)))
	assert.Error(t, c.handle([]byte(`{"id":"e3"}`)))
	assert.Error(t, c.handle([]byte(`not json`)))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"[2024-05-10T08:00:00Z] order.cancelled | id=e1 | order_id=4\n"+
			"[2024-05-10T09:00:00Z] order.ghost_deleted | id=e2 | order_id=5\n",
		string(b))
}
