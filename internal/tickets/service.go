// Package tickets holds the ticket operations shared by the HTTP API, the MCP
// server and the CLI: input validation, defaults, error classification and
// change notification.
package tickets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joescharf/ticketdesk/internal/events"
	"github.com/joescharf/ticketdesk/internal/models"
	"github.com/joescharf/ticketdesk/internal/store"
)

// Publisher receives a notification after every successful mutation.
type Publisher interface {
	Publish(kind events.Kind, ticketID int64, t *models.Ticket)
}

// Service implements the ticket operations on top of a Store.
type Service struct {
	store store.Store
	pub   Publisher
	now   func() time.Time
}

// NewService creates a Service. pub may be nil when nobody listens for changes.
func NewService(s store.Store, pub Publisher) *Service {
	return &Service{
		store: s,
		pub:   pub,
		now:   time.Now,
	}
}

// CreateInput carries the caller-supplied fields of a new ticket.
type CreateInput struct {
	Username string  `json:"username"`
	Message  string  `json:"message"`
	ImageURL *string `json:"image_url,omitempty"`
	Priority string  `json:"priority,omitempty"`
}

// Create inserts a new open ticket and returns the stored row.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Ticket, error) {
	if strings.TrimSpace(in.Username) == "" || strings.TrimSpace(in.Message) == "" {
		return nil, missingFields("username", "message")
	}

	t := &models.Ticket{
		Username: in.Username,
		Message:  in.Message,
		ImageURL: in.ImageURL,
		Priority: in.Priority,
		Status:   models.TicketStatusOpen,
	}
	if strings.TrimSpace(t.Priority) == "" {
		t.Priority = models.DefaultPriority
	}
	if t.ImageURL != nil && strings.TrimSpace(*t.ImageURL) == "" {
		t.ImageURL = nil
	}

	if err := s.store.CreateTicket(ctx, t); err != nil {
		return nil, wrapStoreErr("create", err)
	}

	slog.Debug("ticket created", "id", t.ID, "username", t.Username, "priority", t.Priority)
	s.publish(events.KindCreated, t.ID, t)
	return t, nil
}

// List returns tickets newest first. An empty status or "all" returns every ticket;
// any other value is matched exactly.
func (s *Service) List(ctx context.Context, status string) ([]*models.Ticket, error) {
	filter := store.TicketListFilter{}
	if status != "" && status != "all" {
		filter.Status = models.TicketStatus(status)
	}
	list, err := s.store.ListTickets(ctx, filter)
	if err != nil {
		return nil, wrapStoreErr("list", err)
	}
	return list, nil
}

// Get returns a single ticket.
func (s *Service) Get(ctx context.Context, id int64) (*models.Ticket, error) {
	if id <= 0 {
		return nil, missingFields("id")
	}
	t, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return nil, wrapStoreErr("get", err)
	}
	return t, nil
}

// UpdateStatus changes a ticket's status. A non-zero version makes the update
// conditional on the stored version.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status string, version int64) (*models.Ticket, error) {
	if id <= 0 || strings.TrimSpace(status) == "" {
		return nil, missingFields("id", "status")
	}
	st, ok := models.ParseTicketStatus(status)
	if !ok {
		return nil, &ValidationError{Message: fmt.Sprintf("Invalid status %q (want open, in_progress or closed)", status)}
	}
	if version < 0 {
		return nil, &ValidationError{Message: "Invalid version"}
	}

	t, err := s.store.UpdateTicketStatus(ctx, id, st, version)
	if err != nil {
		return nil, wrapStoreErr("update", err)
	}

	slog.Debug("ticket status updated", "id", t.ID, "status", t.Status, "version", t.Version)
	s.publish(events.KindUpdated, t.ID, t)
	return t, nil
}

// Delete removes a ticket. Deleting an id that does not exist succeeds.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return missingFields("id")
	}
	if err := s.store.DeleteTicket(ctx, id); err != nil {
		return wrapStoreErr("delete", err)
	}

	slog.Debug("ticket deleted", "id", id)
	s.publish(events.KindDeleted, id, nil)
	return nil
}

// Stats counts all tickets by status.
func (s *Service) Stats(ctx context.Context) (models.TicketStats, error) {
	list, err := s.List(ctx, "")
	if err != nil {
		return models.TicketStats{}, err
	}
	return models.CountByStatus(list), nil
}

// PurgeClosed deletes closed tickets whose last update is older than olderThan.
func (s *Service) PurgeClosed(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, &ValidationError{Message: "Retention period must be positive"}
	}
	cutoff := s.now().Add(-olderThan)
	n, err := s.store.PurgeClosedTickets(ctx, cutoff)
	if err != nil {
		return 0, wrapStoreErr("purge", err)
	}
	if n > 0 {
		slog.Info("purged closed tickets", "count", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
		s.publish(events.KindDeleted, 0, nil)
	}
	return n, nil
}

func (s *Service) publish(kind events.Kind, id int64, t *models.Ticket) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(kind, id, t)
}
