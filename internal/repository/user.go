package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/trahn-swapbot/internal/models"
)

// UserRepo stores user documents in Postgres.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create swap_users: %w", err)
	}
	return nil
}

func (r *UserRepo) FindUser(ctx context.Context, id string) (*models.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT document::text, version FROM swap_users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	return u, nil
}

// SaveUser inserts when u.Version is zero, otherwise replaces the document
// only if the stored version still matches.
func (r *UserRepo) SaveUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	doc, err := encodeUser(u)
	if err != nil {
		return err
	}

	var affected int64
	if u.Version == 0 {
		tag, err := r.pool.Exec(ctx,
			`INSERT INTO swap_users (id, version, document, created_at, updated_at)
			 VALUES ($1, 1, $2, $3, $4)
			 ON CONFLICT (id) DO NOTHING`,
			u.ID, doc, u.CreatedAt, now,
		)
		if err != nil {
			return fmt.Errorf("insert user %s: %w", u.ID, err)
		}
		affected = tag.RowsAffected()
	} else {
		tag, err := r.pool.Exec(ctx,
			`UPDATE swap_users
			 SET document = $2, version = version + 1, updated_at = $3
			 WHERE id = $1 AND version = $4`,
			u.ID, doc, now, u.Version,
		)
		if err != nil {
			return fmt.Errorf("update user %s: %w", u.ID, err)
		}
		affected = tag.RowsAffected()
	}

	if affected == 0 {
		return conflict(u.ID, u.Version)
	}
	u.Version++
	return nil
}

func (r *UserRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM swap_users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

// Ping reports whether the database is reachable.
func (r *UserRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
