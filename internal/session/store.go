package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

// Store returns zero Preferences for a user it has nothing for.
type Store interface {
	Get(ctx context.Context, userID string) (Preferences, error)
	Put(ctx context.Context, userID string, prefs Preferences) error
}

type memEntry struct {
	prefs   Preferences
	expires time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, entries: make(map[string]memEntry), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok || !m.now().Before(e.expires) {
		delete(m.entries, userID)
		return Preferences{}, nil
	}
	return e.prefs, nil
}

func (m *MemoryStore) Put(_ context.Context, userID string, prefs Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = memEntry{prefs: prefs, expires: m.now().Add(m.ttl)}
	return nil
}

type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: "swapbot:session:", ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, userID string) (Preferences, error) {
	data, err := r.client.Get(ctx, r.prefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Preferences{}, nil
		}
		return Preferences{}, fmt.Errorf("get session: %w", err)
	}
	var prefs Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return Preferences{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return prefs, nil
}

func (r *RedisStore) Put(ctx context.Context, userID string, prefs Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+userID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}
