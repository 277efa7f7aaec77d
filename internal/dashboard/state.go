// Package dashboard holds the view state shared by the dashboard renditions:
// the last fetched ticket collection plus local filter and search.
package dashboard

import (
	"context"
	"strings"
	"time"

	"github.com/joescharf/ticketdesk/internal/models"
)

// FilterAll shows tickets of every status.
const FilterAll = "all"

// Filters is the cycle order of the status filter.
var Filters = []string{
	FilterAll,
	string(models.TicketStatusOpen),
	string(models.TicketStatusInProgress),
	string(models.TicketStatusClosed),
}

// Source is the API surface a dashboard needs. *client.Client satisfies it.
type Source interface {
	List(ctx context.Context, status string) ([]*models.Ticket, error)
	UpdateStatus(ctx context.Context, id int64, status models.TicketStatus, version int64) (*models.Ticket, error)
	Delete(ctx context.Context, id int64) error
}

// State is the data behind one dashboard view. It lives as long as the view.
type State struct {
	Tickets     []*models.Ticket
	Filter      string
	Search      string
	LastError   error
	LastRefresh time.Time
	Loading     bool
}

// New returns the state of a view that has not fetched yet.
func New() *State {
	return &State{Filter: FilterAll, Loading: true}
}

// Apply replaces the whole collection with a fresh fetch.
func (s *State) Apply(tickets []*models.Ticket, at time.Time) {
	if tickets == nil {
		tickets = []*models.Ticket{}
	}
	s.Tickets = tickets
	s.LastRefresh = at
	s.LastError = nil
	s.Loading = false
}

// Fail records a failed fetch or mutation. The previous collection is kept.
func (s *State) Fail(err error) {
	s.LastError = err
	s.Loading = false
}

// Visible returns the tickets passing the status filter and search text, in
// collection order.
func (s *State) Visible() []*models.Ticket {
	needle := strings.ToLower(strings.TrimSpace(s.Search))
	out := make([]*models.Ticket, 0, len(s.Tickets))
	for _, t := range s.Tickets {
		if s.Filter != "" && s.Filter != FilterAll && string(t.Status) != s.Filter {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(t.Username), needle) &&
			!strings.Contains(strings.ToLower(t.Message), needle) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Stats counts the full collection, ignoring filter and search.
func (s *State) Stats() models.TicketStats {
	return models.CountByStatus(s.Tickets)
}

// CycleFilter advances the status filter and returns the new value.
func (s *State) CycleFilter() string {
	s.Filter = NextFilter(s.Filter)
	return s.Filter
}

// NextFilter returns the filter after cur in Filters, wrapping around.
func NextFilter(cur string) string {
	for i, f := range Filters {
		if f == cur {
			return Filters[(i+1)%len(Filters)]
		}
	}
	return FilterAll
}
