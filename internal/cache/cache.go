// Package cache holds short-lived token snapshots shared between the
// analytics lookups of every user.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kjannette/trahn-swapbot/internal/models"
)

const DefaultTTL = 30 * time.Second

// SnapshotCache returns nil, nil on a miss.
type SnapshotCache interface {
	Get(ctx context.Context, address string) (*models.TokenSnapshot, error)
	Set(ctx context.Context, snap *models.TokenSnapshot) error
}

func key(address string) string { return strings.ToLower(address) }

type entry struct {
	snap    models.TokenSnapshot
	expires time.Time
}

// Memory is a process-local SnapshotCache.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, address string) (*models.TokenSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key(address)]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key(address))
		return nil, nil
	}
	snap := e.snap
	return &snap, nil
}

func (m *Memory) Set(_ context.Context, snap *models.TokenSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key(snap.Address)] = entry{snap: *snap, expires: m.now().Add(m.ttl)}
	return nil
}
