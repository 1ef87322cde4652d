package repository

import (
	"encoding/json"
	"fmt"

	"github.com/kjannette/trahn-swapbot/internal/models"
)

// Users are stored as one JSON document per row next to a version column.
// The column is authoritative for Version.

const postgresSchema = `
CREATE TABLE IF NOT EXISTS swap_users (
	id         TEXT PRIMARY KEY,
	version    BIGINT      NOT NULL,
	document   JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS swap_users (
	id         TEXT PRIMARY KEY,
	version    INTEGER  NOT NULL,
	document   TEXT     NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);`

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func encodeUser(u *models.User) (string, error) {
	if u.Trades == nil {
		u.Trades = []models.Trade{}
	}
	if u.Positions == nil {
		u.Positions = []models.Position{}
	}
	doc, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("encode user %s: %w", u.ID, err)
	}
	return string(doc), nil
}

func scanUser(row scannable) (*models.User, error) {
	var doc string
	var version int64
	if err := row.Scan(&doc, &version); err != nil {
		return nil, err
	}
	return decodeUser(doc, version)
}

func decodeUser(doc string, version int64) (*models.User, error) {
	var u models.User
	if err := json.Unmarshal([]byte(doc), &u); err != nil {
		return nil, fmt.Errorf("decode user document: %w", err)
	}
	u.Version = version
	return &u, nil
}

func collectIDs(rows rowsIter) ([]string, error) {
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func notFound(id string) error {
	return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
}

func conflict(id string, version int64) error {
	return fmt.Errorf("user %s at version %d: %w", id, version, models.ErrVersionConflict)
}
