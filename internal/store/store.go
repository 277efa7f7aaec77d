package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/joescharf/ticketdesk/internal/models"
)

var (
	// ErrNotFound is returned when no ticket matches the requested id.
	ErrNotFound = errors.New("ticket not found")
	// ErrConflict is returned when a conditional update sees a different version.
	ErrConflict = errors.New("ticket version conflict")
)

// TicketListFilter specifies filters for listing tickets.
// A zero Status lists every ticket.
type TicketListFilter struct {
	Status models.TicketStatus
}

// Store defines the persistence interface for tickets.
type Store interface {
	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, id int64) (*models.Ticket, error)
	ListTickets(ctx context.Context, filter TicketListFilter) ([]*models.Ticket, error)
	// UpdateTicketStatus sets the status, refreshes updated_at and bumps the version.
	// When expectedVersion is non-zero the update only applies if it matches.
	UpdateTicketStatus(ctx context.Context, id int64, status models.TicketStatus, expectedVersion int64) (*models.Ticket, error)
	// DeleteTicket removes the ticket. Deleting a missing id is not an error.
	DeleteTicket(ctx context.Context, id int64) error
	// PurgeClosedTickets deletes closed tickets last updated before the cutoff.
	PurgeClosedTickets(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const ticketColumns = `id, username, message, image_url, priority, status, version, created_at, updated_at`

// rowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(r rowScanner) (*models.Ticket, error) {
	t := &models.Ticket{}
	var status string
	var imageURL sql.NullString
	if err := r.Scan(&t.ID, &t.Username, &t.Message, &imageURL, &t.Priority, &status, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = models.TicketStatus(status)
	if imageURL.Valid {
		t.ImageURL = &imageURL.String
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

// nullString maps an absent or empty optional string to SQL NULL.
func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
