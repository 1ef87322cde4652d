package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a time-sortable ULID for the current instant.
func New() string {
	return At(time.Now())
}

// At returns a ULID stamped with t. IDs minted in the same millisecond
// still sort in generation order.
func At(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t.UTC()), entropy).String()
}
