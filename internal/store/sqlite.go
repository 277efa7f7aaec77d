package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joescharf/ticketdesk/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	filename TEXT PRIMARY KEY,
	applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
)`

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, "sqlite", &sqlMigrator{db: s.db, createTable: sqliteMigrationsTable})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	now := s.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (username, message, image_url, priority, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Username, t.Message, nullString(t.ImageURL), t.Priority, string(t.Status), t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	t.ID = id
	if t.ImageURL != nil && *t.ImageURL == "" {
		t.ImageURL = nil
	}
	return nil
}

func (s *SQLiteStore) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTickets(ctx context.Context, filter TicketListFilter) ([]*models.Ticket, error) {
	return listTicketsSQL(ctx, s.db, filter)
}

func (s *SQLiteStore) UpdateTicketStatus(ctx context.Context, id int64, status models.TicketStatus, expectedVersion int64) (*models.Ticket, error) {
	query := `UPDATE tickets SET status = ?, updated_at = ?, version = version + 1 WHERE id = ?`
	args := []any{string(status), s.now(), id}
	if expectedVersion > 0 {
		query += ` AND version = ?`
		args = append(args, expectedVersion)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update ticket status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update ticket status: %w", err)
	}
	if n == 0 {
		return nil, missingOrConflict(ctx, s, id, expectedVersion)
	}
	return s.GetTicket(ctx, id)
}

func (s *SQLiteStore) DeleteTicket(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeClosedTickets(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tickets WHERE status = ? AND updated_at < ?`,
		string(models.TicketStatusClosed), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge tickets: %w", err)
	}
	return res.RowsAffected()
}

// listTicketsSQL serves ListTickets for the database/sql backends.
func listTicketsSQL(ctx context.Context, db *sql.DB, filter TicketListFilter) ([]*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
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

// missingOrConflict classifies an update that touched no rows.
func missingOrConflict(ctx context.Context, s Store, id, expectedVersion int64) error {
	if expectedVersion <= 0 {
		return ErrNotFound
	}
	if _, err := s.GetTicket(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}
