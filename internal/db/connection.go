// Package db opens the Postgres pool backing the user store.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

func Connect(ctx context.Context, dsn string, log logrus.FieldLogger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := TestConnection(ctx, p, log); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// TestConnection runs a trivial query and logs the server time.
func TestConnection(ctx context.Context, p *pgxpool.Pool, log logrus.FieldLogger) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var now time.Time
	if err := p.QueryRow(ctx, "SELECT NOW()").Scan(&now); err != nil {
		return fmt.Errorf("test query: %w", err)
	}
	log.WithFields(logrus.Fields{
		"host":        cfgHost(p),
		"server_time": now.Format(time.RFC3339),
	}).Info("database connection successful")
	return nil
}

func cfgHost(p *pgxpool.Pool) string {
	return p.Config().ConnConfig.Host
}
