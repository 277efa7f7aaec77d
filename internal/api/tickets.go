package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/joescharf/ticketdesk/internal/llm"
	"github.com/joescharf/ticketdesk/internal/tickets"
)

type createTicketRequest struct {
	Username string  `json:"username"`
	Message  string  `json:"message"`
	ImageURL *string `json:"image_url"`
	Priority string  `json:"priority"`
}

// updateStatusRequest accepts id and version as JSON numbers or numeric strings.
type updateStatusRequest struct {
	ID      json.Number `json:"id"`
	Status  string      `json:"status"`
	Version json.Number `json:"version"`
}

type mutationResponse struct {
	Success bool `json:"success"`
	Ticket  any  `json:"ticket,omitempty"`
}

// decodeBody decodes a JSON request body. An empty body decodes to the zero value.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &tickets.ValidationError{Message: fmt.Sprintf("Invalid id %q", raw)}
	}
	return id, nil
}

func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	t, err := s.svc.Create(r.Context(), tickets.CreateInput{
		Username: req.Username,
		Message:  req.Message,
		ImageURL: req.ImageURL,
		Priority: req.Priority,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.metrics.mutation("create")
	writeJSON(w, http.StatusOK, mutationResponse{Success: true, Ticket: t})
}

func (s *Server) updateTicketStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	id, err := parseID(req.ID.String())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var version int64
	if req.Version != "" {
		version, err = req.Version.Int64()
		if err != nil || version < 0 {
			writeError(w, http.StatusBadRequest, "Invalid version")
			return
		}
	}

	t, err := s.svc.UpdateStatus(r.Context(), id, req.Status, version)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.metrics.mutation("update_status")
	writeJSON(w, http.StatusOK, mutationResponse{Success: true, Ticket: t})
}

func (s *Server) deleteTicket(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.URL.Query().Get("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.metrics.mutation("delete")
	writeJSON(w, http.StatusOK, mutationResponse{Success: true})
}

func (s *Server) ticketStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type triageRequest struct {
	ID json.Number `json:"id"`
}

type triageResponse struct {
	TicketID int64 `json:"ticket_id"`
	*llm.Suggestion
}

func (s *Server) triageTicket(w http.ResponseWriter, r *http.Request) {
	if s.triager == nil {
		writeError(w, http.StatusServiceUnavailable, "Triage not configured (set anthropic.api_key)")
		return
	}

	var req triageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	id, err := parseID(req.ID.String())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	t, err := s.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	sugg, err := s.triager.SuggestTriage(r.Context(), t)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Triage failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, triageResponse{TicketID: t.ID, Suggestion: sugg})
}
