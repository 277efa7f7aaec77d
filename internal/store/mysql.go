package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/joescharf/ticketdesk/internal/models"
)

const mysqlMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	filename VARCHAR(255) NOT NULL PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// MySQLStore implements Store using go-sql-driver/mysql.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL database from a DSN such as
// "user:pass@tcp(host:3306)/tickets". Time parsing and the utf8mb4 charset are
// always enabled regardless of what the DSN says.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	cfg.Params["charset"] = "utf8mb4"

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(3 * time.Minute)
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *MySQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, "mysql", &sqlMigrator{db: s.db, createTable: mysqlMigrationsTable})
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (username, message, image_url, priority, status) VALUES (?, ?, ?, ?, ?)`,
		t.Username, t.Message, nullString(t.ImageURL), t.Priority, string(t.Status),
	)
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	created, err := s.GetTicket(ctx, id)
	if err != nil {
		return err
	}
	*t = *created
	return nil
}

func (s *MySQLStore) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *MySQLStore) ListTickets(ctx context.Context, filter TicketListFilter) ([]*models.Ticket, error) {
	return listTicketsSQL(ctx, s.db, filter)
}

func (s *MySQLStore) UpdateTicketStatus(ctx context.Context, id int64, status models.TicketStatus, expectedVersion int64) (*models.Ticket, error) {
	query := `UPDATE tickets SET status = ?, updated_at = CURRENT_TIMESTAMP(6), version = version + 1 WHERE id = ?`
	args := []any{string(status), id}
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

func (s *MySQLStore) DeleteTicket(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	return nil
}

func (s *MySQLStore) PurgeClosedTickets(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tickets WHERE status = ? AND updated_at < ?`,
		string(models.TicketStatusClosed), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge tickets: %w", err)
	}
	return res.RowsAffected()
}
