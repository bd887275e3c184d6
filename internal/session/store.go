// Package session keeps the user and cart projections between requests.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
)

// ErrNoSession is returned by Load when nothing is stored for the user.
var ErrNoSession = errors.New("no session")

// Session is what a logged-in user carries between requests.
type Session struct {
	User model.UserProjection `json:"user"`
	Cart model.CartProjection `json:"cart"`
}

// Store persists sessions keyed by user id.
type Store interface {
	Load(ctx context.Context, userID uint64) (Session, error)
	Save(ctx context.Context, userID uint64, s Session) error
	Delete(ctx context.Context, userID uint64) error
}

// RedisStore keeps each session as a JSON string with a sliding TTL.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: "session"}
}

func (s *RedisStore) key(userID uint64) string {
	return s.prefix + ":" + strconv.FormatUint(userID, 10)
}

func (s *RedisStore) Load(ctx context.Context, userID uint64) (Session, error) {
	raw, err := s.rdb.Get(ctx, s.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) Save(ctx context.Context, userID uint64, sess Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(userID), string(b), s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID uint64) error {
	if err := s.rdb.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// MemoryStore is the fallback when Redis is unreachable. Sessions do not
// survive a restart and are not shared between instances.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uint64]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[uint64]Session{}}
}

func (m *MemoryStore) Load(_ context.Context, userID uint64) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func (m *MemoryStore) Save(_ context.Context, userID uint64, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}
