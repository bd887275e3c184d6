package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
	"github.com/iliyamo/lottery-ticket-reservation/internal/queue"
	"github.com/iliyamo/lottery-ticket-reservation/internal/repository"
)

func TestCreateCart_CreatesOnce(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(1, "Sara", model.RoleUser)
	ctx := context.Background()

	out, err := f.orders.CreateCart(ctx, u)
	require.NoError(t, err)
	require.NotNil(t, out.Cart)
	assert.True(t, out.Cart.InCart)
	assert.Equal(t, uint64(1), out.Cart.BuyerID)

	again, err := f.orders.CreateCart(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, out.Cart.ID, again.Cart.ID)
	assert.Len(t, f.store.Orders(), 1)
}

// racingStore hides the buyer's committed cart from the first open-cart
// lookup, as a concurrent first touch committing between that lookup and
// the insert would.
type racingStore struct {
	*repository.MemoryStore
	missed bool
}

func (s *racingStore) Begin(ctx context.Context) (repository.Tx, error) {
	tx, err := s.MemoryStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &racingTx{Tx: tx, s: s}, nil
}

type racingTx struct {
	repository.Tx
	s *racingStore
}

func (t *racingTx) OpenCartForUpdate(ctx context.Context, buyerID uint64) (model.Order, error) {
	if !t.s.missed {
		t.s.missed = true
		return model.Order{}, fmt.Errorf("cart of user %d: %w", buyerID, model.ErrOrderNotFound)
	}
	return t.Tx.OpenCartForUpdate(ctx, buyerID)
}

func TestCreateCart_LosingFirstTouchReusesWinnerCart(t *testing.T) {
	f := newFixture(t, "A1")
	u := f.addUser(1, "Sara", model.RoleUser)
	winner := f.store.PutOrder(model.NewCart(1))
	orders := NewOrderManager(&racingStore{MemoryStore: f.store}, Options{Now: f.clock.Now})

	out, err := orders.AddToCart(context.Background(), "A1", u, model.CartProjection{})
	require.NoError(t, err)
	assert.Equal(t, winner.ID, out.Cart.ID)
	require.Len(t, f.store.Orders(), 1)
	assert.Equal(t, "A1", f.store.Orders()[0].Items.Encode())
	f.assertConsistent(t)
}

func TestCreateCart_ConcurrentFirstTouch(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(1, "Sara", model.RoleUser)

	var wg sync.WaitGroup
	ids := make([]uint64, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.orders.CreateCart(context.Background(), u)
			if assert.NoError(t, err) {
				ids[i] = out.Cart.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, f.store.Orders(), 1)
	f.assertConsistent(t)
}

func TestAddToCart(t *testing.T) {
	f := newFixture(t, "A1", "B2")
	u := f.addUser(1, "Sara", model.RoleUser)

	out, err := f.orders.AddToCart(context.Background(), "A1", u, model.CartProjection{})
	require.NoError(t, err)
	assert.Equal(t, "Ticket A1 added to cart", out.Message)
	assert.Equal(t, "A1", out.Cart.Items)
	assert.Equal(t, "30000", out.Cart.Total)
	assert.Equal(t, "A1", out.User.TicketsOrdered)

	tk := f.ticket(t, "A1")
	assert.Equal(t, model.StatusOrdered, tk.Status)
	assert.Equal(t, uint64(1), tk.BuyerID)
	assert.Equal(t, start.Add(time.Hour), tk.ExpireAt)
	assert.NoError(t, tk.CheckInvariant())
	assert.Equal(t, "A1", f.user(t, 1).Ordered.Encode())
	assert.Empty(t, f.audit.Types())
	f.assertConsistent(t)
}

func TestAddToCart_TicketTaken(t *testing.T) {
	f := newFixture(t, "A1")
	a := f.addUser(1, "Sara", model.RoleUser)
	b := f.addUser(2, "Reza", model.RoleUser)
	f.fill(t, a, "A1")

	_, err := f.orders.AddToCart(context.Background(), "A1", b, model.CartProjection{})
	assert.ErrorIs(t, err, model.ErrTicketUnavailable)
	assert.Equal(t, uint64(1), f.ticket(t, "A1").BuyerID)
	assert.True(t, f.user(t, 2).Ordered.Empty())
}

func TestAddToCart_UnknownTicketLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(1, "Sara", model.RoleUser)

	_, err := f.orders.AddToCart(context.Background(), "NOPE", u, model.CartProjection{})
	assert.ErrorIs(t, err, model.ErrTicketNotFound)
	assert.Empty(t, f.store.Orders(), "cart insert must roll back")
}

func TestAddToCart_InvalidCode(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(1, "Sara", model.RoleUser)
	_, err := f.orders.AddToCart(context.Background(), "A;B", u, model.CartProjection{})
	assert.ErrorIs(t, err, model.ErrInvalidCode)
}

func TestAddToCart_ConcurrentBuyersGetOneWinner(t *testing.T) {
	f := newFixture(t, "LUCKY")
	const n = 16
	users := make([]model.UserProjection, n)
	for i := range users {
		users[i] = f.addUser(uint64(i+1), "buyer", model.RoleUser)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []uint64
		failures []error
	)
	for _, u := range users {
		wg.Add(1)
		go func(u model.UserProjection) {
			defer wg.Done()
			_, err := f.orders.AddToCart(context.Background(), "LUCKY", u, model.CartProjection{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			winners = append(winners, u.ID)
		}(u)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Len(t, failures, n-1)
	for _, err := range failures {
		assert.ErrorIs(t, err, model.ErrTicketUnavailable)
	}
	tk := f.ticket(t, "LUCKY")
	assert.Equal(t, winners[0], tk.BuyerID)

	holders := 0
	for _, o := range f.store.Orders() {
		if o.Items.Has("LUCKY") {
			holders++
			assert.Equal(t, winners[0], o.BuyerID)
		}
	}
	assert.Equal(t, 1, holders)
	f.assertConsistent(t)
}

func TestRemoveFromCart(t *testing.T) {
	f := newFixture(t, "A1", "B2")
	u := f.addUser(1, "Sara", model.RoleUser)
	cart := f.fill(t, u, "A1", "B2")
	ctx := context.Background()

	out, err := f.orders.RemoveFromCart(ctx, "A1", u, cart)
	require.NoError(t, err)
	assert.Equal(t, "B2", out.Cart.Items)
	assert.Equal(t, "B2", out.User.TicketsOrdered)

	tk := f.ticket(t, "A1")
	assert.Equal(t, model.StatusAvailable, tk.Status)
	assert.NoError(t, tk.CheckInvariant())

	_, err = f.orders.RemoveFromCart(ctx, "A1", u, *out.Cart)
	assert.ErrorIs(t, err, model.ErrTicketAlreadyAvailable)
	f.assertConsistent(t)
}

func TestRemoveFromCart_Rejections(t *testing.T) {
	f := newFixture(t, "A1", "B2")
	a := f.addUser(1, "Sara", model.RoleUser)
	b := f.addUser(2, "Reza", model.RoleUser)
	ctx := context.Background()
	f.fill(t, a, "A1")
	f.submit(t, b, "B2")

	_, err := f.orders.RemoveFromCart(ctx, "A1", b, model.CartProjection{})
	assert.ErrorIs(t, err, model.ErrNotOwner)
	assert.Equal(t, uint64(1), f.ticket(t, "A1").BuyerID)

	_, err = f.orders.RemoveFromCart(ctx, "B2", b, model.CartProjection{})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, model.StatusProcessing, f.ticket(t, "B2").Status)

	_, err = f.orders.RemoveFromCart(ctx, "ZZ", a, model.CartProjection{})
	assert.ErrorIs(t, err, model.ErrTicketNotFound)
}

func TestRemoveFromCart_DropsCodeFromHoldingCart(t *testing.T) {
	f := newFixture(t, "A1", "B2")
	u := f.addUser(1, "Sara", model.RoleUser)
	hold := func(code string) {
		f.store.PutTicket(model.Ticket{Code: code, Status: model.StatusOrdered, BuyerID: 1, ExpireAt: start.Add(time.Hour)})
	}
	hold("A1")
	hold("B2")
	// two open carts left behind by an older deployment
	first := f.store.PutOrder(model.Order{BuyerID: 1, Items: model.NewCodeSet("A1"), Phase: model.PhaseCart})
	second := f.store.PutOrder(model.Order{BuyerID: 1, Items: model.NewCodeSet("B2"), Phase: model.PhaseCart})
	f.store.PutUser(model.User{ID: 1, Name: "Sara", Phone: "09120000001", Role: model.RoleUser, Ordered: model.NewCodeSet("A1", "B2")})

	out, err := f.orders.RemoveFromCart(context.Background(), "B2", u, model.CartProjection{})
	require.NoError(t, err)
	assert.Equal(t, second.ID, out.Cart.ID)
	assert.Empty(t, out.Cart.Items)

	for _, o := range f.store.Orders() {
		assert.False(t, o.Items.Has("B2"), "order %d still lists B2", o.ID)
	}
	got, err := f.store.GetOrder(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "A1", got.Items.Encode())
	assert.Equal(t, model.StatusAvailable, f.ticket(t, "B2").Status)
}

func TestAddToCart_IgnoresForeignCartHint(t *testing.T) {
	f := newFixture(t, "A1", "B2")
	a := f.addUser(1, "Sara", model.RoleUser)
	b := f.addUser(2, "Reza", model.RoleUser)
	foreign := f.fill(t, a, "A1")

	out, err := f.orders.AddToCart(context.Background(), "B2", b, foreign)
	require.NoError(t, err)
	assert.NotEqual(t, foreign.ID, out.Cart.ID)
	assert.Equal(t, uint64(2), out.Cart.BuyerID)

	got, err := f.store.GetOrder(context.Background(), foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, "A1", got.Items.Encode())

	out, err = f.orders.RemoveFromCart(context.Background(), "B2", b, foreign)
	require.NoError(t, err)
	assert.Empty(t, out.Cart.Items)
	f.assertConsistent(t)
}

func TestClearCart(t *testing.T) {
	f := newFixture(t, "A1", "B2")
	u := f.addUser(1, "Sara", model.RoleUser)
	cart := f.fill(t, u, "A1", "B2")

	out, err := f.orders.ClearCart(context.Background(), u, cart)
	require.NoError(t, err)
	assert.Equal(t, "Released 2 ticket(s)", out.Message)
	assert.Equal(t, cart.ID, out.Cart.ID)
	assert.Empty(t, out.Cart.Items)
	assert.Empty(t, out.User.TicketsOrdered)
	for _, c := range []string{"A1", "B2"} {
		assert.Equal(t, model.StatusAvailable, f.ticket(t, c).Status)
	}

	out, err = f.orders.ClearCart(context.Background(), u, *out.Cart)
	require.NoError(t, err)
	assert.Equal(t, "Cart is already empty", out.Message)
	f.assertConsistent(t)
}

func TestCheckout(t *testing.T) {
	f := newFixture(t, "A1", "B2")
	u := f.addUser(1, "Sara", model.RoleUser)
	cart := f.fill(t, u, "B2", "A1")
	f.clock.Advance(10 * time.Minute)

	out, err := f.orders.Checkout(context.Background(), u, cart, " https://img.example/p.png ")
	require.NoError(t, err)
	assert.Equal(t, "Order submitted, awaiting confirmation", out.Message)
	assert.Nil(t, out.Cart)
	require.NotNil(t, out.Order)
	assert.False(t, out.Order.InCart)
	assert.False(t, out.Order.Confirmed)
	assert.Equal(t, "A1;B2", out.Order.Items)
	assert.Equal(t, "60000", out.Order.Total)
	assert.Equal(t, "https://img.example/p.png", out.Order.ImgLink)
	assert.Empty(t, out.User.TicketsOrdered)
	assert.Equal(t, "A1;B2", out.User.TicketsBought)

	for _, c := range []string{"A1", "B2"} {
		tk := f.ticket(t, c)
		assert.Equal(t, model.StatusProcessing, tk.Status)
		assert.Equal(t, start.Add(10*time.Minute+24*time.Hour), tk.ExpireAt)
		assert.Equal(t, "Sara", tk.NoteFor)
	}
	assert.Equal(t, []string{queue.EventOrderSubmitted}, f.audit.Types())
	f.assertConsistent(t)

	// the next touch opens a fresh cart
	next, err := f.orders.CreateCart(context.Background(), *out.User)
	require.NoError(t, err)
	assert.NotEqual(t, out.Order.ID, next.Cart.ID)
}

func TestCheckout_Rejections(t *testing.T) {
	f := newFixture(t, "A1")
	u := f.addUser(1, "Sara", model.RoleUser)
	ctx := context.Background()

	_, err := f.orders.Checkout(ctx, u, model.CartProjection{}, "proof")
	assert.ErrorIs(t, err, model.ErrEmptyCart)

	cart := f.fill(t, u, "A1")
	_, err = f.orders.Checkout(ctx, u, cart, "   ")
	assert.ErrorIs(t, err, model.ErrEmptyProof)
	assert.Equal(t, model.StatusOrdered, f.ticket(t, "A1").Status)
}

func TestCheckout_AllOrNothing(t *testing.T) {
	f := newFixture(t, "A1", "B2")
	u := f.addUser(1, "Sara", model.RoleUser)
	f.addUser(2, "Reza", model.RoleUser)
	cart := f.fill(t, u, "A1", "B2")

	// B2 changed hands behind the cart's back
	f.store.PutTicket(model.Ticket{Code: "B2", Status: model.StatusOrdered, BuyerID: 2, ExpireAt: start.Add(time.Hour)})

	_, err := f.orders.Checkout(context.Background(), u, cart, "proof")
	assert.ErrorIs(t, err, model.ErrNotOwner)

	assert.Equal(t, model.StatusOrdered, f.ticket(t, "A1").Status)
	assert.Empty(t, f.ticket(t, "A1").NoteFor)
	orders := f.store.Orders()
	require.Len(t, orders, 1)
	assert.True(t, orders[0].InCart())
	assert.Equal(t, "A1;B2", f.user(t, 1).Ordered.Encode())
	assert.True(t, f.user(t, 1).Bought.Empty())
	assert.Empty(t, f.audit.Types())
}

func TestCheckout_LapsedHoldNotYetPruned(t *testing.T) {
	f := newFixture(t, "A1")
	u := f.addUser(1, "Sara", model.RoleUser)
	cart := f.fill(t, u, "A1")
	f.clock.Advance(2 * time.Hour)

	_, err := f.orders.Checkout(context.Background(), u, cart, "proof")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, f.ticket(t, "A1").Status)
}

func TestCheckout_AgentAutoConfirms(t *testing.T) {
	for _, role := range []model.Role{model.RoleAgent, model.RoleAdmin} {
		t.Run(string(role), func(t *testing.T) {
			f := newFixture(t, "A1", "B2")
			u := f.addUser(1, "Desk", role)

			order := f.submit(t, u, "A1", "B2")
			assert.True(t, order.Confirmed)
			for _, c := range []string{"A1", "B2"} {
				tk := f.ticket(t, c)
				assert.Equal(t, model.StatusConfirmed, tk.Status)
				assert.True(t, tk.ExpireAt.Equal(model.Never))
				assert.NoError(t, tk.CheckInvariant())
			}
			assert.Equal(t, []string{queue.EventOrderSubmitted, queue.EventOrderConfirmed}, f.audit.Types())
			f.assertConsistent(t)
		})
	}
}

func TestCheckout_RoleComesFromStore(t *testing.T) {
	f := newFixture(t, "A1")
	u := f.addUser(1, "Sara", model.RoleUser)
	u.Role = model.RoleAdmin // stale or forged projection

	order := f.submit(t, u, "A1")
	assert.False(t, order.Confirmed)
	assert.Equal(t, model.StatusProcessing, f.ticket(t, "A1").Status)
}

func TestAdminConfirm(t *testing.T) {
	f := newFixture(t, "A1", "B2")
	u := f.addUser(1, "Sara", model.RoleUser)
	order := f.submit(t, u, "A1", "B2")

	out, err := f.orders.AdminConfirm(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, out.Order.Confirmed)
	for _, c := range []string{"A1", "B2"} {
		assert.Equal(t, model.StatusConfirmed, f.ticket(t, c).Status)
	}
	assert.Equal(t, []string{queue.EventOrderSubmitted, queue.EventOrderConfirmed}, f.audit.Types())

	_, err = f.orders.AdminConfirm(context.Background(), order.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	f.assertConsistent(t)
}

func TestAdminConfirm_OneBadTicketAbortsAll(t *testing.T) {
	f := newFixture(t, "A1", "B2")
	u := f.addUser(1, "Sara", model.RoleUser)
	order := f.submit(t, u, "A1", "B2")

	b2, _ := model.NewTicket("B2")
	f.store.PutTicket(b2)

	_, err := f.orders.AdminConfirm(context.Background(), order.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, model.StatusProcessing, f.ticket(t, "A1").Status)
	o, err := f.store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseSubmitted, o.Phase)
}

func TestAdminConfirm_Rejections(t *testing.T) {
	f := newFixture(t, "A1")
	u := f.addUser(1, "Sara", model.RoleUser)
	cart := f.fill(t, u, "A1")

	_, err := f.orders.AdminConfirm(context.Background(), cart.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = f.orders.AdminConfirm(context.Background(), 999)
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestAdminCancel(t *testing.T) {
	f := newFixture(t, "A1", "B2")
	u := f.addUser(1, "Sara", model.RoleUser)
	f.addUser(2, "Reza", model.RoleUser)
	order := f.submit(t, u, "A1", "B2")

	// B2 was reclaimed and bought by someone else meanwhile
	f.store.PutTicket(model.Ticket{Code: "B2", Status: model.StatusOrdered, BuyerID: 2, ExpireAt: start.Add(time.Hour)})

	out, err := f.orders.AdminCancel(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Contains(t, out.Message, "cancelled")

	a1 := f.ticket(t, "A1")
	assert.Equal(t, model.Ticket{Code: "A1", Status: model.StatusAvailable}, a1)
	assert.Equal(t, uint64(2), f.ticket(t, "B2").BuyerID)
	assert.True(t, f.user(t, 1).Bought.Empty())
	assert.Empty(t, f.store.Orders())
	assert.Contains(t, f.audit.Types(), queue.EventOrderCancelled)

	_, err = f.orders.AdminCancel(context.Background(), order.ID)
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestAdminCancel_ReleasesOrderAndProjection(t *testing.T) {
	f := newFixture(t, "A1", "B2", "C3")
	u := f.addUser(1, "Sara", model.RoleUser)
	order := f.submit(t, u, "A1", "B2")
	f.fill(t, u, "C3")

	_, err := f.orders.AdminCancel(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, f.user(t, 1).Bought.Empty())
	assert.Equal(t, "C3", f.user(t, 1).Ordered.Encode())
	f.assertConsistent(t)
}

func TestEditNote(t *testing.T) {
	f := newFixture(t, "A1")
	u := f.addUser(1, "Sara", model.RoleUser)
	f.submit(t, u, "A1")
	ctx := context.Background()

	_, err := f.orders.EditNote(ctx, "A1", "  gift for Ali ")
	require.NoError(t, err)
	tk := f.ticket(t, "A1")
	assert.Equal(t, "gift for Ali", tk.NoteFor)
	assert.Equal(t, model.StatusProcessing, tk.Status)

	_, err = f.orders.EditNote(ctx, "A1", "   ")
	assert.ErrorIs(t, err, model.ErrEmptyNote)
	_, err = f.orders.EditNote(ctx, "ZZ", "x")
	assert.ErrorIs(t, err, model.ErrTicketNotFound)
	f.assertConsistent(t)
}

func TestAddTickets(t *testing.T) {
	f := newFixture(t, "A1")
	ctx := context.Background()

	out, err := f.orders.AddTickets(ctx, []string{"N1", " N2 ", "N1"})
	require.NoError(t, err)
	assert.Equal(t, "Added 2 ticket(s)", out.Message)
	assert.Equal(t, model.StatusAvailable, f.ticket(t, "N2").Status)

	_, err = f.orders.AddTickets(ctx, []string{"N3", "A1"})
	assert.ErrorIs(t, err, model.ErrDuplicateCode)
	_, err = f.store.GetTicket(ctx, "N3")
	assert.ErrorIs(t, err, model.ErrTicketNotFound, "batch must roll back")

	_, err = f.orders.AddTickets(ctx, []string{"bad code"})
	assert.ErrorIs(t, err, model.ErrInvalidCode)
	_, err = f.orders.AddTickets(ctx, nil)
	assert.ErrorIs(t, err, model.ErrInvalidCode)
}

func TestCommitFailureIsRetryable(t *testing.T) {
	f := newFixture(t, "A1")
	u := f.addUser(1, "Sara", model.RoleUser)
	f.store.FailNextCommit(&mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"})

	out, err := f.orders.AddToCart(context.Background(), "A1", u, model.CartProjection{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTransactionFailure)
	assert.True(t, model.IsRetryable(err))

	res := Envelope(out, err)
	assert.False(t, res.Success)
	assert.True(t, res.Retryable)
	assert.Equal(t, "The system is busy, please try again", res.Message)

	assert.Equal(t, model.StatusAvailable, f.ticket(t, "A1").Status)
	assert.Empty(t, f.store.Orders())

	_, err = f.orders.AddToCart(context.Background(), "A1", u, model.CartProjection{})
	assert.NoError(t, err, "retry succeeds")
}

func TestCommitFailureNotRetryable(t *testing.T) {
	f := newFixture(t, "A1")
	u := f.addUser(1, "Sara", model.RoleUser)
	f.store.FailNextCommit(errors.New("disk full"))

	_, err := f.orders.CreateCart(context.Background(), u)
	assert.ErrorIs(t, err, model.ErrTransactionFailure)
	assert.False(t, model.IsRetryable(err))
	assert.Equal(t, "Could not save changes", Message(err))
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t, "A1")
	u := f.addUser(1, "Sara", model.RoleUser)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orders.AddToCart(ctx, "A1", u, model.CartProjection{})
	assert.ErrorIs(t, err, model.ErrTransactionFailure)
	assert.Equal(t, model.StatusAvailable, f.ticket(t, "A1").Status)
}
