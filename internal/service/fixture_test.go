package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
	"github.com/iliyamo/lottery-ticket-reservation/internal/queue"
	"github.com/iliyamo/lottery-ticket-reservation/internal/repository"
)

var start = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []queue.AuditEvent
}

func (r *recorder) Publish(_ context.Context, ev queue.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	store  *repository.MemoryStore
	clock  *clock
	audit  *recorder
	orders *OrderManager
	pruner *Pruner
}

func newFixture(t *testing.T, codes ...string) *fixture {
	t.Helper()
	f := &fixture{
		store: repository.NewMemoryStore(),
		clock: &clock{now: start},
		audit: &recorder{},
	}
	f.orders = NewOrderManager(f.store, Options{
		HoldTTL:   time.Hour,
		ReviewTTL: 24 * time.Hour,
		PriceEach: decimal.NewFromInt(30000),
		Now:       f.clock.Now,
		Audit:     f.audit,
	})
	f.pruner = NewPruner(f.store, time.Minute, f.clock.Now, f.audit)
	for _, c := range codes {
		tk, err := model.NewTicket(c)
		require.NoError(t, err)
		f.store.PutTicket(tk)
	}
	return f
}

func (f *fixture) addUser(id uint64, name string, role model.Role) model.UserProjection {
	u := model.User{ID: id, Name: name, Phone: fmt.Sprintf("0912%07d", id), Role: role}
	f.store.PutUser(u)
	return u.Projection()
}

func (f *fixture) ticket(t *testing.T, code string) model.Ticket {
	t.Helper()
	tk, err := f.store.GetTicket(context.Background(), code)
	require.NoError(t, err)
	return tk
}

func (f *fixture) user(t *testing.T, id uint64) model.User {
	t.Helper()
	u, ok := f.store.User(id)
	require.True(t, ok)
	return u
}

// fill adds codes to the user's cart and returns the last cart projection.
func (f *fixture) fill(t *testing.T, user model.UserProjection, codes ...string) model.CartProjection {
	t.Helper()
	var cart model.CartProjection
	for _, c := range codes {
		out, err := f.orders.AddToCart(context.Background(), c, user, cart)
		require.NoError(t, err)
		require.NotNil(t, out.Cart)
		cart = *out.Cart
	}
	return cart
}

// submit fills and checks out a cart, returning the order projection.
func (f *fixture) submit(t *testing.T, user model.UserProjection, codes ...string) model.CartProjection {
	t.Helper()
	cart := f.fill(t, user, codes...)
	out, err := f.orders.Checkout(context.Background(), user, cart, "https://img.example/proof.png")
	require.NoError(t, err)
	require.NotNil(t, out.Order)
	return *out.Order
}

// phaseStatus is the ticket status every item of an aggregate in phase p
// must carry.
var phaseStatus = map[model.OrderPhase]model.TicketStatus{
	model.PhaseCart:      model.StatusOrdered,
	model.PhaseSubmitted: model.StatusProcessing,
	model.PhaseConfirmed: model.StatusConfirmed,
}

// assertConsistent checks that the ticket, aggregate and user views
// agree across the whole store. Every held ticket sits in exactly one
// aggregate of its buyer and in the matching set of that buyer.
func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	tickets := map[string]model.Ticket{}
	for _, tk := range f.store.Tickets() {
		assert.NoError(t, tk.CheckInvariant())
		tickets[tk.Code] = tk
	}

	holder := map[string]model.Order{}
	openCarts := map[uint64]int{}
	for _, o := range f.store.Orders() {
		if o.InCart() {
			openCarts[o.BuyerID]++
		}
		for _, code := range o.Items.Sorted() {
			if prev, dup := holder[code]; dup {
				assert.Failf(t, "code in two aggregates", "%s in orders %d and %d", code, prev.ID, o.ID)
			}
			holder[code] = o
			tk, ok := tickets[code]
			if !assert.True(t, ok, "order %d lists unknown ticket %s", o.ID, code) {
				continue
			}
			assert.Equal(t, o.BuyerID, tk.BuyerID, "owner of %s vs order %d", code, o.ID)
			assert.Equal(t, phaseStatus[o.Phase], tk.Status, "status of %s vs order %d", code, o.ID)
		}
	}
	for buyer, n := range openCarts {
		assert.Equal(t, 1, n, "open carts of user %d", buyer)
	}

	users := map[uint64]model.User{}
	for _, u := range f.store.Users() {
		users[u.ID] = u
		for _, code := range u.Ordered.Sorted() {
			tk := tickets[code]
			assert.Equal(t, model.StatusOrdered, tk.Status, "user %d holds %s", u.ID, code)
			assert.Equal(t, u.ID, tk.BuyerID, "user %d holds %s", u.ID, code)
		}
		for _, code := range u.Bought.Sorted() {
			tk := tickets[code]
			assert.Contains(t, []model.TicketStatus{model.StatusProcessing, model.StatusConfirmed}, tk.Status, "user %d bought %s", u.ID, code)
			assert.Equal(t, u.ID, tk.BuyerID, "user %d bought %s", u.ID, code)
		}
	}

	for code, tk := range tickets {
		if tk.Status == model.StatusAvailable {
			_, held := holder[code]
			assert.False(t, held, "available ticket %s is still in an aggregate", code)
			continue
		}
		_, held := holder[code]
		assert.True(t, held, "%s ticket %s is in no aggregate", tk.Status, code)
		u := users[tk.BuyerID]
		if tk.Status == model.StatusOrdered {
			assert.True(t, u.Ordered.Has(code), "%s missing from user %d ordered set", code, tk.BuyerID)
		} else {
			assert.True(t, u.Bought.Has(code), "%s missing from user %d bought set", code, tk.BuyerID)
		}
	}
}
