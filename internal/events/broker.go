// Package events broadcasts ticket changes to dashboards over Server-Sent Events.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/r3labs/sse/v2"

	"github.com/joescharf/ticketdesk/internal/models"
)

// Stream is the name of the single SSE stream carrying ticket changes.
const Stream = "tickets"

// Kind identifies the mutation that produced an event.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
)

// Event is the JSON payload of each SSE message.
type Event struct {
	ID       string         `json:"id"`
	Type     Kind           `json:"type"`
	TicketID int64          `json:"ticket_id"`
	Ticket   *models.Ticket `json:"ticket"`
	At       time.Time      `json:"at"`
}

// Decode parses an SSE data payload into an Event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Broker publishes ticket changes to connected SSE clients.
// Clients only receive events published after they connect.
type Broker struct {
	server *sse.Server
	now    func() time.Time
}

// NewBroker creates a Broker with its stream ready for subscribers.
func NewBroker() *Broker {
	srv := sse.New()
	srv.AutoReplay = false
	srv.AutoStream = false
	srv.CreateStream(Stream)
	return &Broker{
		server: srv,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Publish sends a change event to every subscriber.
func (b *Broker) Publish(kind Kind, ticketID int64, t *models.Ticket) {
	evt := Event{
		ID:       ulid.Make().String(),
		Type:     kind,
		TicketID: ticketID,
		Ticket:   t,
		At:       b.now(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("marshal ticket event", "error", err)
		return
	}
	b.server.Publish(Stream, &sse.Event{
		ID:    []byte(evt.ID),
		Event: []byte(kind),
		Data:  data,
	})
}

// ServeHTTP streams events to a client. The stream query parameter defaults to
// the tickets stream so browsers can connect to the bare path.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("stream") == "" {
		q.Set("stream", Stream)
		r.URL.RawQuery = q.Encode()
	}
	// The stream outlives the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	b.server.ServeHTTP(w, r)
}

// Close disconnects all subscribers.
func (b *Broker) Close() {
	b.server.Close()
}
