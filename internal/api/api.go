package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joescharf/ticketdesk/internal/llm"
	"github.com/joescharf/ticketdesk/internal/models"
	"github.com/joescharf/ticketdesk/internal/store"
	"github.com/joescharf/ticketdesk/internal/tickets"
)

// Triager produces triage suggestions for a ticket.
type Triager interface {
	SuggestTriage(ctx context.Context, t *models.Ticket) (*llm.Suggestion, error)
}

// Server provides the REST API handlers.
type Server struct {
	svc     *tickets.Service
	events  http.Handler
	triager Triager
	ui      http.Handler
	metrics *metrics
}

// NewServer creates a new API server.
// events, triager and ui may be nil; the matching routes are then unavailable.
func NewServer(svc *tickets.Service, events http.Handler, triager Triager, ui http.Handler) *Server {
	return &Server{
		svc:     svc,
		events:  events,
		triager: triager,
		ui:      ui,
		metrics: newMetrics(),
	}
}

// Router returns an http.Handler for all routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// GET patterns also match HEAD; HEAD is not part of the contract.
	mux.HandleFunc("GET /api/tickets", s.listTickets)
	mux.HandleFunc("HEAD /api/tickets", methodNotAllowed)
	mux.HandleFunc("POST /api/tickets", s.createTicket)
	mux.HandleFunc("PATCH /api/tickets", s.updateTicketStatus)
	mux.HandleFunc("DELETE /api/tickets", s.deleteTicket)
	mux.HandleFunc("/api/tickets", methodNotAllowed)

	mux.HandleFunc("POST /api/tickets/create", s.createTicket)
	mux.HandleFunc("/api/tickets/create", methodNotAllowed)

	mux.HandleFunc("GET /api/tickets/stats", s.ticketStats)
	mux.HandleFunc("HEAD /api/tickets/stats", methodNotAllowed)
	mux.HandleFunc("/api/tickets/stats", methodNotAllowed)

	mux.HandleFunc("POST /api/tickets/triage", s.triageTicket)
	mux.HandleFunc("/api/tickets/triage", methodNotAllowed)

	if s.events != nil {
		mux.Handle("GET /api/events", s.events)
		mux.HandleFunc("HEAD /api/events", methodNotAllowed)
		mux.HandleFunc("/api/events", methodNotAllowed)
	}

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", s.metrics.handler())

	if s.ui != nil {
		mux.Handle("/", s.ui)
	}

	return s.observeMiddleware(corsMiddleware(mux))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// writeServiceError maps the service's error classes to HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *tickets.ValidationError
	var se *tickets.StoreError
	switch {
	case errors.As(err, &ve):
		body := map[string]any{"error": ve.Message}
		if len(ve.Required) > 0 {
			body["required"] = ve.Required
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Ticket not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "Ticket was modified by another request")
	case errors.As(err, &se):
		slog.ErrorContext(r.Context(), "database error", "op", se.Op, "error", se.Err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Database error",
			"message": se.Error(),
		})
	default:
		slog.ErrorContext(r.Context(), "request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Internal error",
			"message": err.Error(),
		})
	}
}
