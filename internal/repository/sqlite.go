package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kjannette/trahn-swapbot/internal/models"
)

// SQLiteUserRepo stores user documents in a local SQLite file. It backs
// single-node deployments and tests.
type SQLiteUserRepo struct {
	db *sql.DB
}

func NewSQLiteUserRepo(path string) (*SQLiteUserRepo, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create swap_users: %w", err)
	}
	return &SQLiteUserRepo{db: db}, nil
}

func (r *SQLiteUserRepo) FindUser(ctx context.Context, id string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT document, version FROM swap_users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	return u, nil
}

func (r *SQLiteUserRepo) SaveUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	doc, err := encodeUser(u)
	if err != nil {
		return err
	}

	var res sql.Result
	if u.Version == 0 {
		res, err = r.db.ExecContext(ctx,
			`INSERT INTO swap_users (id, version, document, created_at, updated_at)
			 VALUES (?, 1, ?, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			u.ID, doc, u.CreatedAt, now,
		)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE swap_users
			 SET document = ?, version = version + 1, updated_at = ?
			 WHERE id = ? AND version = ?`,
			doc, now, u.ID, u.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	if affected == 0 {
		return conflict(u.ID, u.Version)
	}
	u.Version++
	return nil
}

func (r *SQLiteUserRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM swap_users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (r *SQLiteUserRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteUserRepo) Close() error {
	return r.db.Close()
}
