package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kjannette/trahn-swapbot/internal/models"
)

type memoryRow struct {
	doc     string
	version int64
}

// MemoryUserRepo keeps user documents in process memory. Documents are
// stored encoded so callers never share state with the store.
type MemoryUserRepo struct {
	mu   sync.Mutex
	rows map[string]memoryRow
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{rows: make(map[string]memoryRow)}
}

func (r *MemoryUserRepo) FindUser(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	row, ok := r.rows[id]
	r.mu.Unlock()
	if !ok {
		return nil, notFound(id)
	}
	return decodeUser(row.doc, row.version)
}

func (r *MemoryUserRepo) SaveUser(_ context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	doc, err := encodeUser(u)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	row, exists := r.rows[u.ID]
	switch {
	case u.Version == 0 && exists:
		return conflict(u.ID, u.Version)
	case u.Version != 0 && (!exists || row.version != u.Version):
		return conflict(u.ID, u.Version)
	}
	r.rows[u.ID] = memoryRow{doc: doc, version: u.Version + 1}
	u.Version++
	return nil
}

func (r *MemoryUserRepo) ListUserIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rows))
	for id := range r.rows {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryUserRepo) Ping(context.Context) error { return nil }
