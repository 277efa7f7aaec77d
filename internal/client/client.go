// Package client is a typed HTTP client for the ticketdesk API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/r3labs/sse/v2"

	"github.com/joescharf/ticketdesk/internal/events"
	"github.com/joescharf/ticketdesk/internal/models"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status   int
	Message  string
	Detail   string
	Required []string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api: %d %s", e.Status, e.Message)
	if len(e.Required) > 0 {
		msg += " (" + strings.Join(e.Required, ", ") + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Client talks to a ticketdesk server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL (e.g. "http://localhost:8080").
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateRequest is the body of a create call.
type CreateRequest struct {
	Username string  `json:"username"`
	Message  string  `json:"message"`
	ImageURL *string `json:"image_url,omitempty"`
	Priority string  `json:"priority,omitempty"`
}

// TriageResult is the server's triage suggestion for a ticket.
type TriageResult struct {
	TicketID int64  `json:"ticket_id"`
	Priority string `json:"priority"`
	Category string `json:"category"`
	Summary  string `json:"summary"`
}

type ticketEnvelope struct {
	Success bool           `json:"success"`
	Ticket  *models.Ticket `json:"ticket"`
}

type errorBody struct {
	Error    string   `json:"error"`
	Message  string   `json:"message"`
	Required []string `json:"required"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			apiErr.Message = eb.Error
			apiErr.Detail = eb.Message
			apiErr.Required = eb.Required
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// List fetches tickets, newest first. status may be "" or "all" for every ticket.
func (c *Client) List(ctx context.Context, status string) ([]*models.Ticket, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var list []*models.Ticket
	if err := c.do(ctx, http.MethodGet, "/api/tickets", q, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Create submits a new ticket.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*models.Ticket, error) {
	var env ticketEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/tickets/create", nil, req, &env); err != nil {
		return nil, err
	}
	return env.Ticket, nil
}

// UpdateStatus changes a ticket's status. A non-zero version makes the change conditional.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status models.TicketStatus, version int64) (*models.Ticket, error) {
	body := map[string]any{"id": id, "status": string(status)}
	if version > 0 {
		body["version"] = version
	}
	var env ticketEnvelope
	if err := c.do(ctx, http.MethodPatch, "/api/tickets", nil, body, &env); err != nil {
		return nil, err
	}
	return env.Ticket, nil
}

// Delete removes a ticket.
func (c *Client) Delete(ctx context.Context, id int64) error {
	q := url.Values{"id": {strconv.FormatInt(id, 10)}}
	return c.do(ctx, http.MethodDelete, "/api/tickets", q, nil, nil)
}

// Stats fetches per-status counts.
func (c *Client) Stats(ctx context.Context) (models.TicketStats, error) {
	var st models.TicketStats
	err := c.do(ctx, http.MethodGet, "/api/tickets/stats", nil, nil, &st)
	return st, err
}

// Triage asks the server for a triage suggestion.
func (c *Client) Triage(ctx context.Context, id int64) (*TriageResult, error) {
	var res TriageResult
	if err := c.do(ctx, http.MethodPost, "/api/tickets/triage", nil, map[string]int64{"id": id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health reports whether the server answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// Subscribe streams change events to fn until ctx is cancelled. The underlying
// client reconnects with backoff when the stream drops.
func (c *Client) Subscribe(ctx context.Context, fn func(events.Event)) error {
	sc := sse.NewClient(c.baseURL + "/api/events")
	return sc.SubscribeWithContext(ctx, events.Stream, func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		evt, err := events.Decode(msg.Data)
		if err != nil {
			slog.Debug("skipping malformed event", "error", err)
			return
		}
		fn(evt)
	})
}
