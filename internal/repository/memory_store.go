package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
)

// MemoryStore is an in-process Store. A transaction holds the store lock
// from Begin until Commit or Rollback, so transactions are serializable.
// Writes are staged and applied only on Commit.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]model.Ticket
	orders  map[uint64]model.Order
	users   map[uint64]model.User
	nextID  uint64

	failCommit error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets: map[string]model.Ticket{},
		orders:  map[uint64]model.Order{},
		users:   map[uint64]model.User{},
	}
}

// PutTicket stores t outside any transaction.
func (s *MemoryStore) PutTicket(t model.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.Code] = t
}

// PutUser stores u outside any transaction.
func (s *MemoryStore) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = cloneUser(u)
}

// PutOrder stores o outside any transaction, assigning an ID when zero.
func (s *MemoryStore) PutOrder(o model.Order) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		s.nextID++
		o.ID = s.nextID
	} else if o.ID > s.nextID {
		s.nextID = o.ID
	}
	s.orders[o.ID] = cloneOrder(o)
	return o
}

// User returns a committed user.
func (s *MemoryStore) User(id uint64) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return cloneUser(u), ok
}

// Users returns every committed user ordered by ID.
func (s *MemoryStore) Users() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tickets returns every committed ticket.
func (s *MemoryStore) Tickets() []model.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Orders returns every committed aggregate ordered by ID.
func (s *MemoryStore) Orders() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FailNextCommit makes the next Commit return err and discard its writes.
func (s *MemoryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.WrapTx("begin", err)
	}
	s.mu.Lock()
	return &memTx{
		s:       s,
		tickets: map[string]model.Ticket{},
		orders:  map[uint64]model.Order{},
		deleted: map[uint64]bool{},
		users:   map[uint64]model.User{},
		nextID:  s.nextID,
	}, nil
}

func (s *MemoryStore) GetTicket(_ context.Context, code string) (model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[code]
	if !ok {
		return model.Ticket{}, fmt.Errorf("%s: %w", code, model.ErrTicketNotFound)
	}
	return t, nil
}

func (s *MemoryStore) ListTickets(_ context.Context, f TicketFilter) ([]model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Ticket
	for _, t := range s.tickets {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.BuyerID != 0 && t.BuyerID != f.BuyerID {
			continue
		}
		if f.Query != "" && !strings.Contains(t.Code, f.Query) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return page(out, f.Offset, f.Limit), nil
}

func (s *MemoryStore) ExpiredTicketCodes(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var codes []string
	for code, t := range s.tickets {
		if t.Expired(now) {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *MemoryStore) GhostOrderIDs(_ context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint64
	for id, o := range s.orders {
		if o.Ghost() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id uint64) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("order %d: %w", id, model.ErrOrderNotFound)
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) ListOrders(_ context.Context, f OrderFilter) ([]OrderListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OrderListing
	for _, o := range s.orders {
		if o.InCart() {
			continue
		}
		if f.PendingOnly && o.Confirmed() {
			continue
		}
		if f.BuyerID != 0 && o.BuyerID != f.BuyerID {
			continue
		}
		out = append(out, OrderListing{Order: cloneOrder(o), BuyerName: s.users[o.BuyerID].Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order.ID < out[j].Order.ID })
	return page(out, f.Offset, f.Limit), nil
}

type memTx struct {
	s       *MemoryStore
	tickets map[string]model.Ticket
	orders  map[uint64]model.Order
	deleted map[uint64]bool
	users   map[uint64]model.User
	nextID  uint64
	done    bool
}

func (t *memTx) ticket(code string) (model.Ticket, bool) {
	if tk, ok := t.tickets[code]; ok {
		return tk, true
	}
	tk, ok := t.s.tickets[code]
	return tk, ok
}

func (t *memTx) order(id uint64) (model.Order, bool) {
	if t.deleted[id] {
		return model.Order{}, false
	}
	if o, ok := t.orders[id]; ok {
		return cloneOrder(o), true
	}
	o, ok := t.s.orders[id]
	return cloneOrder(o), ok
}

// orderIDs lists every visible aggregate id in ascending order.
func (t *memTx) orderIDs() []uint64 {
	seen := map[uint64]bool{}
	var ids []uint64
	for id := range t.s.orders {
		seen[id] = true
		ids = append(ids, id)
	}
	for id := range t.orders {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *memTx) TicketForUpdate(_ context.Context, code string) (model.Ticket, error) {
	if err := t.check(); err != nil {
		return model.Ticket{}, err
	}
	tk, ok := t.ticket(code)
	if !ok {
		return model.Ticket{}, fmt.Errorf("%s: %w", code, model.ErrTicketNotFound)
	}
	return tk, nil
}

func (t *memTx) InsertTicket(_ context.Context, tk model.Ticket) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.ticket(tk.Code); ok {
		return fmt.Errorf("%s: %w", tk.Code, model.ErrDuplicateCode)
	}
	t.tickets[tk.Code] = tk
	return nil
}

func (t *memTx) SaveTicket(_ context.Context, tk model.Ticket) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.ticket(tk.Code); !ok {
		return fmt.Errorf("%s: %w", tk.Code, model.ErrTicketNotFound)
	}
	t.tickets[tk.Code] = tk
	return nil
}

func (t *memTx) OrderForUpdate(_ context.Context, id uint64) (model.Order, error) {
	if err := t.check(); err != nil {
		return model.Order{}, err
	}
	o, ok := t.order(id)
	if !ok {
		return model.Order{}, fmt.Errorf("order %d: %w", id, model.ErrOrderNotFound)
	}
	return o, nil
}

func (t *memTx) CartForUpdate(_ context.Context, id, buyerID uint64) (model.Order, error) {
	if err := t.check(); err != nil {
		return model.Order{}, err
	}
	o, ok := t.order(id)
	if !ok || o.BuyerID != buyerID || !o.InCart() {
		return model.Order{}, fmt.Errorf("cart %d of user %d: %w", id, buyerID, model.ErrOrderNotFound)
	}
	return o, nil
}

func (t *memTx) OpenCartForUpdate(_ context.Context, buyerID uint64) (model.Order, error) {
	if err := t.check(); err != nil {
		return model.Order{}, err
	}
	for _, id := range t.orderIDs() {
		if o, ok := t.order(id); ok && o.BuyerID == buyerID && o.InCart() {
			return o, nil
		}
	}
	return model.Order{}, fmt.Errorf("cart of user %d: %w", buyerID, model.ErrOrderNotFound)
}

func (t *memTx) OrderContainingForUpdate(_ context.Context, code string) (model.Order, error) {
	if err := t.check(); err != nil {
		return model.Order{}, err
	}
	for _, id := range t.orderIDs() {
		if o, ok := t.order(id); ok && o.Items.Has(code) {
			return o, nil
		}
	}
	return model.Order{}, fmt.Errorf("order holding %s: %w", code, model.ErrOrderNotFound)
}

func (t *memTx) InsertOrder(ctx context.Context, o *model.Order) error {
	if err := t.check(); err != nil {
		return err
	}
	if o.InCart() {
		if _, err := t.OpenCartForUpdate(ctx, o.BuyerID); err == nil {
			return fmt.Errorf("cart of user %d: %w", o.BuyerID, model.ErrCartExists)
		}
	}
	t.nextID++
	o.ID = t.nextID
	t.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *memTx) SaveOrder(_ context.Context, o model.Order) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.order(o.ID); !ok {
		return fmt.Errorf("order %d: %w", o.ID, model.ErrOrderNotFound)
	}
	t.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) DeleteOrder(_ context.Context, id uint64) error {
	if err := t.check(); err != nil {
		return err
	}
	delete(t.orders, id)
	t.deleted[id] = true
	return nil
}

func (t *memTx) UserForUpdate(_ context.Context, id uint64) (model.User, error) {
	if err := t.check(); err != nil {
		return model.User{}, err
	}
	if u, ok := t.users[id]; ok {
		return cloneUser(u), nil
	}
	u, ok := t.s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %d: %w", id, model.ErrUserNotFound)
	}
	return cloneUser(u), nil
}

func (t *memTx) SaveUserTickets(ctx context.Context, u model.User) error {
	cur, err := t.UserForUpdate(ctx, u.ID)
	if err != nil {
		return err
	}
	cur.Ordered = u.Ordered.Clone()
	cur.Bought = u.Bought.Clone()
	t.users[u.ID] = cur
	return nil
}

func (t *memTx) Commit() error {
	if err := t.check(); err != nil {
		return model.WrapTx("commit", err)
	}
	t.done = true
	defer t.s.mu.Unlock()
	if err := t.s.failCommit; err != nil {
		t.s.failCommit = nil
		return model.WrapTx("commit", err)
	}
	for code, tk := range t.tickets {
		t.s.tickets[code] = tk
	}
	for id := range t.deleted {
		delete(t.s.orders, id)
	}
	for id, o := range t.orders {
		t.s.orders[id] = o
	}
	for id, u := range t.users {
		t.s.users[id] = u
	}
	t.s.nextID = t.nextID
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) check() error {
	if t.done {
		return sql.ErrTxDone
	}
	return nil
}

func cloneOrder(o model.Order) model.Order {
	o.Items = o.Items.Clone()
	return o
}

func cloneUser(u model.User) model.User {
	u.Ordered = u.Ordered.Clone()
	u.Bought = u.Bought.Clone()
	return u
}

func page[T any](items []T, offset, limit int) []T {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
