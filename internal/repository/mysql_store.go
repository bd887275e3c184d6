package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
)

// MySQLStore implements Store on the tickets, orders and users tables.
type MySQLStore struct {
	db *sqlx.DB
}

// NewMySQLStore wraps an open *sql.DB.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: sqlx.NewDb(db, "mysql")}
}

// DB exposes the underlying handle for repositories sharing the pool.
func (s *MySQLStore) DB() *sqlx.DB { return s.db }

type ticketRow struct {
	Code     string        `db:"code"`
	Status   string        `db:"status"`
	BuyerID  sql.NullInt64 `db:"buyer_id"`
	ExpireAt sql.NullTime  `db:"expire_at"`
	NoteFor  string        `db:"note_for"`
}

func (r ticketRow) model() model.Ticket {
	t := model.Ticket{Code: r.Code, Status: model.TicketStatus(r.Status), NoteFor: r.NoteFor}
	if r.BuyerID.Valid {
		t.BuyerID = uint64(r.BuyerID.Int64)
	}
	if r.ExpireAt.Valid {
		t.ExpireAt = r.ExpireAt.Time.UTC()
	}
	return t
}

type orderRow struct {
	ID            uint64         `db:"id"`
	BuyerID       uint64         `db:"buyer_id"`
	AmountBought  int            `db:"amount_bought"`
	TicketsBought sql.NullString `db:"tickets_bought"`
	ImgLink       sql.NullString `db:"img_link"`
	IsInCart      bool           `db:"is_in_cart"`
	Confirmed     bool           `db:"confirmed"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r orderRow) model() model.Order {
	o := model.Order{
		ID:        r.ID,
		BuyerID:   r.BuyerID,
		Items:     model.DecodeCodeSet(r.TicketsBought.String),
		ImgLink:   r.ImgLink.String,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	switch {
	case r.IsInCart:
		o.Phase = model.PhaseCart
	case r.Confirmed:
		o.Phase = model.PhaseConfirmed
	default:
		o.Phase = model.PhaseSubmitted
	}
	return o
}

type userRow struct {
	ID             uint64         `db:"id"`
	Name           string         `db:"name"`
	Phone          string         `db:"phone_number"`
	Email          sql.NullString `db:"email"`
	PasswordHash   string         `db:"password_hash"`
	Role           string         `db:"role"`
	TicketsOrdered sql.NullString `db:"tickets_ordered"`
	TicketsBought  sql.NullString `db:"tickets_bought"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r userRow) model() model.User {
	return model.User{
		ID:           r.ID,
		Name:         r.Name,
		Phone:        r.Phone,
		Email:        r.Email.String,
		PasswordHash: r.PasswordHash,
		Role:         model.Role(r.Role),
		Ordered:      model.DecodeCodeSet(r.TicketsOrdered.String),
		Bought:       model.DecodeCodeSet(r.TicketsBought.String),
		CreatedAt:    r.CreatedAt,
	}
}

const (
	ticketCols = "code, status, buyer_id, expire_at, note_for"
	orderCols  = "id, buyer_id, amount_bought, tickets_bought, img_link, is_in_cart, confirmed, created_at, updated_at"
	userCols   = "id, name, phone_number, email, password_hash, role, tickets_ordered, tickets_bought, created_at"
)

// Begin opens a READ COMMITTED transaction.
func (s *MySQLStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, model.WrapTx("begin", err)
	}
	return &mysqlTx{tx: tx}, nil
}

func (s *MySQLStore) GetTicket(ctx context.Context, code string) (model.Ticket, error) {
	var r ticketRow
	err := s.db.GetContext(ctx, &r, "SELECT "+ticketCols+" FROM tickets WHERE code = ?", code)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Ticket{}, fmt.Errorf("%s: %w", code, model.ErrTicketNotFound)
	}
	if err != nil {
		return model.Ticket{}, err
	}
	return r.model(), nil
}

func (s *MySQLStore) ListTickets(ctx context.Context, f TicketFilter) ([]model.Ticket, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.BuyerID != 0 {
		where = append(where, "buyer_id = ?")
		args = append(args, f.BuyerID)
	}
	if f.Query != "" {
		where = append(where, "code LIKE ?")
		args = append(args, "%"+likeEscape(f.Query)+"%")
	}
	q := "SELECT " + ticketCols + " FROM tickets"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY code LIMIT ? OFFSET ?"
	args = append(args, limitOrDefault(f.Limit), f.Offset)

	var rows []ticketRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]model.Ticket, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *MySQLStore) ExpiredTicketCodes(ctx context.Context, now time.Time) ([]string, error) {
	var codes []string
	err := s.db.SelectContext(ctx, &codes,
		"SELECT code FROM tickets WHERE expire_at IS NOT NULL AND expire_at <= ? ORDER BY code", now.UTC())
	return codes, err
}

func (s *MySQLStore) GhostOrderIDs(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := s.db.SelectContext(ctx, &ids,
		"SELECT id FROM orders WHERE is_in_cart = 0 AND (tickets_bought IS NULL OR tickets_bought = '') ORDER BY id")
	return ids, err
}

func (s *MySQLStore) GetOrder(ctx context.Context, id uint64) (model.Order, error) {
	var r orderRow
	err := s.db.GetContext(ctx, &r, "SELECT "+orderCols+" FROM orders WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("order %d: %w", id, model.ErrOrderNotFound)
	}
	if err != nil {
		return model.Order{}, err
	}
	return r.model(), nil
}

func (s *MySQLStore) ListOrders(ctx context.Context, f OrderFilter) ([]OrderListing, error) {
	q := `SELECT o.id, o.buyer_id, o.amount_bought, o.tickets_bought, o.img_link, o.is_in_cart,
	             o.confirmed, o.created_at, o.updated_at, u.name AS buyer_name
	      FROM orders o JOIN users u ON u.id = o.buyer_id
	      WHERE o.is_in_cart = 0`
	var args []any
	if f.PendingOnly {
		q += " AND o.confirmed = 0"
	}
	if f.BuyerID != 0 {
		q += " AND o.buyer_id = ?"
		args = append(args, f.BuyerID)
	}
	q += " ORDER BY o.id LIMIT ? OFFSET ?"
	args = append(args, limitOrDefault(f.Limit), f.Offset)

	var rows []struct {
		orderRow
		BuyerName string `db:"buyer_name"`
	}
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]OrderListing, 0, len(rows))
	for _, r := range rows {
		out = append(out, OrderListing{Order: r.orderRow.model(), BuyerName: r.BuyerName})
	}
	return out, nil
}

type mysqlTx struct {
	tx *sqlx.Tx
}

func (t *mysqlTx) TicketForUpdate(ctx context.Context, code string) (model.Ticket, error) {
	var r ticketRow
	err := t.tx.GetContext(ctx, &r, "SELECT "+ticketCols+" FROM tickets WHERE code = ? FOR UPDATE", code)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Ticket{}, fmt.Errorf("%s: %w", code, model.ErrTicketNotFound)
	}
	if err != nil {
		return model.Ticket{}, model.WrapTx("lock ticket", err)
	}
	return r.model(), nil
}

func (t *mysqlTx) InsertTicket(ctx context.Context, tk model.Ticket) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO tickets (code, status, buyer_id, expire_at, note_for) VALUES (?, ?, ?, ?, ?)",
		tk.Code, string(tk.Status), nullID(tk.BuyerID), nullTime(tk.ExpireAt), tk.NoteFor)
	if isDuplicateKey(err) {
		return fmt.Errorf("%s: %w", tk.Code, model.ErrDuplicateCode)
	}
	return err
}

func (t *mysqlTx) SaveTicket(ctx context.Context, tk model.Ticket) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE tickets SET status = ?, buyer_id = ?, expire_at = ?, note_for = ? WHERE code = ?",
		string(tk.Status), nullID(tk.BuyerID), nullTime(tk.ExpireAt), tk.NoteFor, tk.Code)
	return err
}

func (t *mysqlTx) OrderForUpdate(ctx context.Context, id uint64) (model.Order, error) {
	return t.lockOrder(ctx, fmt.Sprintf("order %d", id),
		"SELECT "+orderCols+" FROM orders WHERE id = ? FOR UPDATE", id)
}

func (t *mysqlTx) CartForUpdate(ctx context.Context, id, buyerID uint64) (model.Order, error) {
	return t.lockOrder(ctx, fmt.Sprintf("cart %d of user %d", id, buyerID),
		"SELECT "+orderCols+" FROM orders WHERE id = ? AND buyer_id = ? AND is_in_cart = 1 FOR UPDATE", id, buyerID)
}

func (t *mysqlTx) OpenCartForUpdate(ctx context.Context, buyerID uint64) (model.Order, error) {
	return t.lockOrder(ctx, fmt.Sprintf("cart of user %d", buyerID),
		"SELECT "+orderCols+" FROM orders WHERE buyer_id = ? AND is_in_cart = 1 ORDER BY id LIMIT 1 FOR UPDATE", buyerID)
}

func (t *mysqlTx) OrderContainingForUpdate(ctx context.Context, code string) (model.Order, error) {
	return t.lockOrder(ctx, fmt.Sprintf("order holding %s", code),
		`SELECT `+orderCols+` FROM orders
		 WHERE CONCAT(';', COALESCE(tickets_bought, ''), ';') LIKE ?
		 ORDER BY id LIMIT 1 FOR UPDATE`,
		"%;"+likeEscape(code)+";%")
}

func (t *mysqlTx) lockOrder(ctx context.Context, what, q string, args ...any) (model.Order, error) {
	var r orderRow
	err := t.tx.GetContext(ctx, &r, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("%s: %w", what, model.ErrOrderNotFound)
	}
	if err != nil {
		return model.Order{}, model.WrapTx("lock order", err)
	}
	return r.model(), nil
}

func (t *mysqlTx) InsertOrder(ctx context.Context, o *model.Order) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO orders (buyer_id, amount_bought, tickets_bought, img_link, is_in_cart, confirmed)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.BuyerID, o.Items.Len(), o.Items.Encode(), o.ImgLink, o.InCart(), o.Confirmed())
	if isDuplicateKey(err) {
		return fmt.Errorf("cart of user %d: %w", o.BuyerID, model.ErrCartExists)
	}
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	return nil
}

func (t *mysqlTx) SaveOrder(ctx context.Context, o model.Order) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET amount_bought = ?, tickets_bought = ?, img_link = ?, is_in_cart = ?, confirmed = ?
		 WHERE id = ?`,
		o.Items.Len(), o.Items.Encode(), o.ImgLink, o.InCart(), o.Confirmed(), o.ID)
	return err
}

func (t *mysqlTx) DeleteOrder(ctx context.Context, id uint64) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM orders WHERE id = ?", id)
	return err
}

func (t *mysqlTx) UserForUpdate(ctx context.Context, id uint64) (model.User, error) {
	var r userRow
	err := t.tx.GetContext(ctx, &r, "SELECT "+userCols+" FROM users WHERE id = ? FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %d: %w", id, model.ErrUserNotFound)
	}
	if err != nil {
		return model.User{}, model.WrapTx("lock user", err)
	}
	return r.model(), nil
}

func (t *mysqlTx) SaveUserTickets(ctx context.Context, u model.User) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE users SET tickets_ordered = ?, tickets_bought = ? WHERE id = ?",
		u.Ordered.Encode(), u.Bought.Encode(), u.ID)
	return err
}

func (t *mysqlTx) Commit() error { return model.WrapTx("commit", t.tx.Commit()) }

func (t *mysqlTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func nullID(id uint64) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(id), Valid: id != 0}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likeEscape(s string) string { return likeReplacer.Replace(s) }

const defaultPageSize = 28

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	return n
}
