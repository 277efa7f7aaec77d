package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joescharf/ticketdesk/internal/models"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a pool for the given connection string. The pool
// connects lazily; use Ping to confirm the server is reachable.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	conf, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, "postgres", &pgxMigrator{pool: s.pool})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	created, err := scanTicket(s.pool.QueryRow(ctx,
		`INSERT INTO tickets (username, message, image_url, priority, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+ticketColumns,
		t.Username, t.Message, nullString(t.ImageURL), t.Priority, string(t.Status),
	))
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	*t = *created
	return nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTickets(ctx context.Context, filter TicketListFilter) ([]*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	tickets := []*models.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *PostgresStore) UpdateTicketStatus(ctx context.Context, id int64, status models.TicketStatus, expectedVersion int64) (*models.Ticket, error) {
	query := `UPDATE tickets SET status = $1, updated_at = clock_timestamp(), version = version + 1 WHERE id = $2`
	args := []any{string(status), id}
	if expectedVersion > 0 {
		query += ` AND version = $3`
		args = append(args, expectedVersion)
	}
	query += ` RETURNING ` + ticketColumns

	t, err := scanTicket(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, missingOrConflict(ctx, s, id, expectedVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("update ticket status: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) DeleteTicket(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeClosedTickets(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tickets WHERE status = $1 AND updated_at < $2`,
		string(models.TicketStatusClosed), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge tickets: %w", err)
	}
	return tag.RowsAffected(), nil
}

type pgxMigrator struct {
	pool *pgxpool.Pool
}

func (m *pgxMigrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *pgxMigrator) migrationApplied(ctx context.Context, name string) (bool, error) {
	var count int
	err := m.pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE filename = $1`, name).Scan(&count)
	return count > 0, err
}

func (m *pgxMigrator) applyMigration(ctx context.Context, name, stmt string) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, stmt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}
