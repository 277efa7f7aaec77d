package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config selects and configures a store backend.
type Config struct {
	Driver string // sqlite (default), postgres or mysql
	Path   string // SQLite database file
	DSN    string // Postgres or MySQL connection string

	// ConnectTimeout bounds how long Open retries the first connection to a
	// network database. Zero means a single attempt.
	ConnectTimeout time.Duration
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Open creates the configured store and runs its migrations.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite store requires a database path")
		}
		s, err = NewSQLiteStore(cfg.Path)
	case "postgres", "postgresql", "pgx":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres store requires db.dsn")
		}
		s, err = NewPostgresStore(ctx, cfg.DSN)
	case "mysql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("mysql store requires db.dsn")
		}
		s, err = NewMySQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown db driver %q (want sqlite, postgres or mysql)", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if p, ok := s.(pinger); ok {
		if err := waitForDB(ctx, p, cfg.ConnectTimeout); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("connect to %s: %w", cfg.Driver, err)
		}
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// waitForDB pings with exponential backoff until the database answers or the
// timeout elapses.
func waitForDB(ctx context.Context, p pinger, timeout time.Duration) error {
	var b backoff.BackOff
	if timeout <= 0 {
		b = &backoff.StopBackOff{}
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 250 * time.Millisecond
		eb.MaxInterval = 5 * time.Second
		eb.MaxElapsedTime = timeout
		b = eb
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("database not ready, retrying", "error", err, "wait", wait)
	}
	return backoff.RetryNotify(func() error {
		return p.Ping(ctx)
	}, backoff.WithContext(b, ctx), notify)
}
