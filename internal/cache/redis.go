package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjannette/trahn-swapbot/internal/models"
)

// Redis shares snapshots between server instances.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: "swapbot:token:", ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, address string) (*models.TokenSnapshot, error) {
	data, err := r.client.Get(ctx, r.prefix+key(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get token snapshot: %w", err)
	}
	var snap models.TokenSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal token snapshot: %w", err)
	}
	return &snap, nil
}

func (r *Redis) Set(ctx context.Context, snap *models.TokenSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal token snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key(snap.Address), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set token snapshot: %w", err)
	}
	return nil
}
