package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the user's privilege level as stored in users.role.
type Role string

const (
	RoleUser  Role = "user"
	RoleMod   Role = "mod"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// ParseRole normalizes s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleUser, RoleMod, RoleAgent, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// AutoConfirms reports whether checkouts by this role skip operator review.
func (r Role) AutoConfirms() bool { return r == RoleAgent || r == RoleAdmin }

// CanReview reports whether the role may confirm, cancel and annotate orders.
func (r Role) CanReview() bool { return r == RoleMod || r.AutoConfirms() }

// User represents a row of the `users` table.
//
// Fields:
//
//	Ordered – codes currently held in the user's cart (users.tickets_ordered).
//	Bought  – codes the user checked out (users.tickets_bought).
type User struct {
	ID           uint64    // users.id
	Name         string    // users.name
	Phone        string    // users.phone_number
	Email        string    // users.email (nullable)
	PasswordHash string    // users.password_hash
	Role         Role      // users.role
	Ordered      CodeSet   // users.tickets_ordered
	Bought       CodeSet   // users.tickets_bought
	CreatedAt    time.Time // users.created_at
}

// NoteLabel is written into note_for of the tickets a user checks out.
func (u User) NoteLabel() string {
	if n := strings.TrimSpace(u.Name); n != "" {
		return n
	}
	if u.Phone != "" {
		return u.Phone
	}
	return fmt.Sprintf("user #%d", u.ID)
}

// HoldTicket records a new cart hold.
func (u *User) HoldTicket(code string) {
	u.ensureSets()
	u.Bought.Remove(code)
	u.Ordered.Add(code)
}

// BuyTicket moves code from the ordered set to the bought set.
func (u *User) BuyTicket(code string) {
	u.ensureSets()
	u.Ordered.Remove(code)
	u.Bought.Add(code)
}

// ReleaseTicket drops code from both sets.
func (u *User) ReleaseTicket(code string) {
	u.ensureSets()
	u.Ordered.Remove(code)
	u.Bought.Remove(code)
}

func (u *User) ensureSets() {
	if u.Ordered == nil {
		u.Ordered = NewCodeSet()
	}
	if u.Bought == nil {
		u.Bought = NewCodeSet()
	}
}

// UserProjection is the session form of a user.
type UserProjection struct {
	ID             uint64 `json:"id"`
	Name           string `json:"name"`
	Role           Role   `json:"role"`
	TicketsOrdered string `json:"tickets_ordered"`
	TicketsBought  string `json:"tickets_bought"`
}

// Projection renders u for session storage.
func (u User) Projection() UserProjection {
	return UserProjection{
		ID:             u.ID,
		Name:           u.Name,
		Role:           u.Role,
		TicketsOrdered: u.Ordered.Encode(),
		TicketsBought:  u.Bought.Encode(),
	}
}

// RefreshToken models an entry in the `refresh_tokens` table. Only the
// SHA-256 hash of the token is stored.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
