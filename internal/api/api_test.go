package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/ticketdesk/internal/llm"
	"github.com/joescharf/ticketdesk/internal/models"
	"github.com/joescharf/ticketdesk/internal/store"
	"github.com/joescharf/ticketdesk/internal/tickets"
)

type fakeTriager struct {
	sugg *llm.Suggestion
	err  error
	seen *models.Ticket
}

func (f *fakeTriager) SuggestTriage(_ context.Context, t *models.Ticket) (*llm.Suggestion, error) {
	f.seen = t
	return f.sugg, f.err
}

// brokenStore fails every call with a driver-style error.
type brokenStore struct {
	store.Store
}

var errDBDown = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

func (brokenStore) CreateTicket(context.Context, *models.Ticket) error { return errDBDown }
func (brokenStore) ListTickets(context.Context, store.TicketListFilter) ([]*models.Ticket, error) {
	return nil, errDBDown
}
func (brokenStore) UpdateTicketStatus(context.Context, int64, models.TicketStatus, int64) (*models.Ticket, error) {
	return nil, errDBDown
}
func (brokenStore) DeleteTicket(context.Context, int64) error { return errDBDown }

func setupTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	srv := NewServer(tickets.NewService(s, nil), nil, nil, nil)
	return srv, s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

type ticketEnvelope struct {
	Success bool           `json:"success"`
	Ticket  *models.Ticket `json:"ticket"`
}

func createTicket(t *testing.T, h http.Handler, body string) *models.Ticket {
	t.Helper()
	w := do(t, h, "POST", "/api/tickets/create", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := decode[ticketEnvelope](t, w)
	require.True(t, env.Success)
	require.NotNil(t, env.Ticket)
	return env.Ticket
}

func TestListTickets_Empty(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv.Router(), "GET", "/api/tickets", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestCreateTicket(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := do(t, router, "POST", "/api/tickets/create", `{"username":"alice","message":"VPN broken"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, true, raw["success"])
	tk := raw["ticket"].(map[string]any)
	assert.Equal(t, "alice", tk["username"])
	assert.Equal(t, "open", tk["status"])
	assert.Equal(t, "medium", tk["priority"])
	assert.Nil(t, tk["image_url"])
	assert.Contains(t, tk, "created_at")
	assert.Contains(t, tk, "updated_at")
	assert.Equal(t, tk["created_at"], tk["updated_at"])
}

func TestCreateTicket_BothRoutes(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	a := createTicket(t, router, `{"username":"a","message":"one","image_url":"https://img/x.png","priority":"high"}`)
	require.NotNil(t, a.ImageURL)
	assert.Equal(t, "https://img/x.png", *a.ImageURL)
	assert.Equal(t, "high", a.Priority)

	w := do(t, router, "POST", "/api/tickets", `{"username":"b","message":"two"}`)
	require.Equal(t, http.StatusOK, w.Code)
	b := decode[ticketEnvelope](t, w).Ticket
	assert.NotEqual(t, a.ID, b.ID)
}

func TestCreateTicket_Validation(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	for _, body := range []string{
		`{"message":"no user"}`,
		`{"username":"no message"}`,
		`{"username":"  ","message":"blank user"}`,
		``,
	} {
		w := do(t, router, "POST", "/api/tickets/create", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		resp := decode[map[string]any](t, w)
		assert.Equal(t, "Missing required fields", resp["error"])
		assert.Equal(t, []any{"username", "message"}, resp["required"])
	}

	w := do(t, router, "POST", "/api/tickets/create", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "GET", "/api/tickets", "")
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestListTickets_StatusFilter(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	a := createTicket(t, router, `{"username":"a","message":"1"}`)
	createTicket(t, router, `{"username":"b","message":"2"}`)

	w := do(t, router, "PATCH", "/api/tickets", `{"id":`+itoa(a.ID)+`,"status":"closed"}`)
	require.Equal(t, http.StatusOK, w.Code)

	closed := decode[[]*models.Ticket](t, do(t, router, "GET", "/api/tickets?status=closed", ""))
	require.Len(t, closed, 1)
	assert.Equal(t, a.ID, closed[0].ID)

	all := decode[[]*models.Ticket](t, do(t, router, "GET", "/api/tickets?status=all", ""))
	assert.Len(t, all, 2)
}

func TestUpdateTicketStatus(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	tk := createTicket(t, router, `{"username":"a","message":"1"}`)
	time.Sleep(5 * time.Millisecond)

	w := do(t, router, "PATCH", "/api/tickets", `{"id":"`+itoa(tk.ID)+`","status":"in_progress"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := decode[ticketEnvelope](t, w)
	assert.True(t, env.Success)
	assert.Equal(t, models.TicketStatusInProgress, env.Ticket.Status)
	assert.True(t, env.Ticket.UpdatedAt.After(env.Ticket.CreatedAt))
	assert.Equal(t, tk.CreatedAt, env.Ticket.CreatedAt)
	assert.Equal(t, int64(2), env.Ticket.Version)
}

func TestUpdateTicketStatus_Errors(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	tk := createTicket(t, router, `{"username":"a","message":"1"}`)
	id := itoa(tk.ID)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing id", `{"status":"closed"}`, http.StatusBadRequest},
		{"missing status", `{"id":` + id + `}`, http.StatusBadRequest},
		{"unknown status", `{"id":` + id + `,"status":"resolved"}`, http.StatusBadRequest},
		{"non-integer id", `{"id":1.5,"status":"closed"}`, http.StatusBadRequest},
		{"no such ticket", `{"id":99999,"status":"closed"}`, http.StatusNotFound},
		{"stale version", `{"id":` + id + `,"status":"closed","version":3}`, http.StatusConflict},
		{"bad version", `{"id":` + id + `,"status":"closed","version":-1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "PATCH", "/api/tickets", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			resp := decode[map[string]any](t, w)
			assert.NotEmpty(t, resp["error"])
		})
	}

	w := do(t, router, "PATCH", "/api/tickets", `{"id":`+id+`,"status":"closed","version":1}`)
	assert.Equal(t, http.StatusOK, w.Code)

	// Version 0 means unconditional, same as omitting it.
	w = do(t, router, "PATCH", "/api/tickets", `{"id":`+id+`,"status":"open","version":0}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[map[string]any](t, w)
	ticket := resp["ticket"].(map[string]any)
	assert.Equal(t, "open", ticket["status"])
	assert.EqualValues(t, 3, ticket["version"])
}

func TestDeleteTicket(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	tk := createTicket(t, router, `{"username":"a","message":"1"}`)

	w := do(t, router, "DELETE", "/api/tickets?id="+itoa(tk.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	// Deleting again still succeeds.
	w = do(t, router, "DELETE", "/api/tickets?id="+itoa(tk.ID), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "DELETE", "/api/tickets", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "DELETE", "/api/tickets?id=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSAndMethods(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	for _, path := range []string{"/api/tickets", "/api/tickets/create"} {
		w := do(t, router, "OPTIONS", path, "")
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Empty(t, w.Body.String())
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "OPTIONS")
	}
	assert.Equal(t, "POST, OPTIONS",
		do(t, router, "OPTIONS", "/api/tickets/create", "").Header().Get("Access-Control-Allow-Methods"))

	for _, tc := range []struct{ method, path string }{
		{"PUT", "/api/tickets"},
		{"GET", "/api/tickets/create"},
		{"DELETE", "/api/tickets/create"},
		{"POST", "/api/tickets/stats"},
		{"HEAD", "/api/tickets"},
		{"HEAD", "/api/tickets/create"},
		{"HEAD", "/api/tickets/stats"},
	} {
		w := do(t, router, tc.method, tc.path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, tc.method+" "+tc.path)
		assert.JSONEq(t, `{"error":"Method not allowed"}`, w.Body.String())
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	}

	w := do(t, router, "GET", "/api/tickets", "")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestStoreFailureReturns500(t *testing.T) {
	srv := NewServer(tickets.NewService(brokenStore{}, nil), nil, nil, nil)
	router := srv.Router()

	w := do(t, router, "GET", "/api/tickets", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode[map[string]string](t, w)
	assert.Equal(t, "Database error", resp["error"])
	assert.Equal(t, errDBDown.Error(), resp["message"])

	w = do(t, router, "POST", "/api/tickets/create", `{"username":"a","message":"b"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(t, router, "PATCH", "/api/tickets", `{"id":1,"status":"closed"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(t, router, "DELETE", "/api/tickets?id=1", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTicketStats(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	a := createTicket(t, router, `{"username":"a","message":"1"}`)
	createTicket(t, router, `{"username":"b","message":"2"}`)
	do(t, router, "PATCH", "/api/tickets", `{"id":`+itoa(a.ID)+`,"status":"in_progress"}`)

	w := do(t, router, "GET", "/api/tickets/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.TicketStats{Open: 1, InProgress: 1, Total: 2}, decode[models.TicketStats](t, w))
}

func TestTriage(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		srv, _ := setupTestServer(t)
		w := do(t, srv.Router(), "POST", "/api/tickets/triage", `{"id":1}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("suggestion", func(t *testing.T) {
		_, s := setupTestServer(t)
		triager := &fakeTriager{sugg: &llm.Suggestion{Priority: "urgent", Category: "tech", Summary: "Site down."}}
		srv := NewServer(tickets.NewService(s, nil), nil, triager, nil)
		router := srv.Router()

		tk := createTicket(t, router, `{"username":"a","message":"everything is down"}`)

		w := do(t, router, "POST", "/api/tickets/triage", `{"id":`+itoa(tk.ID)+`}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[map[string]any](t, w)
		assert.Equal(t, "urgent", resp["priority"])
		assert.Equal(t, "tech", resp["category"])
		assert.Equal(t, float64(tk.ID), resp["ticket_id"])
		require.NotNil(t, triager.seen)
		assert.Equal(t, "everything is down", triager.seen.Message)

		// Suggestion is never persisted.
		got, err := s.GetTicket(context.Background(), tk.ID)
		require.NoError(t, err)
		assert.Equal(t, "medium", got.Priority)

		w = do(t, router, "POST", "/api/tickets/triage", `{"id":4242}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("llm failure", func(t *testing.T) {
		_, s := setupTestServer(t)
		srv := NewServer(tickets.NewService(s, nil), nil, &fakeTriager{err: errors.New("overloaded")}, nil)
		router := srv.Router()
		tk := createTicket(t, router, `{"username":"a","message":"b"}`)

		w := do(t, router, "POST", "/api/tickets/triage", `{"id":`+itoa(tk.ID)+`}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "overloaded")
	})
}

func TestHealthzAndMetrics(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := do(t, router, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	createTicket(t, router, `{"username":"a","message":"b"}`)
	assert.Equal(t, float64(1), testutil.ToFloat64(srv.metrics.mutations.WithLabelValues("create")))
	assert.Equal(t, float64(1), testutil.ToFloat64(srv.metrics.requests.WithLabelValues("POST /api/tickets/create", "POST", "200")))

	w = do(t, router, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ticketdesk_ticket_mutations_total")
	assert.Contains(t, w.Body.String(), "ticketdesk_http_requests_total")
}

func TestUnknownAPIPath(t *testing.T) {
	ui := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>dashboard</html>"))
	})
	_, s := setupTestServer(t)
	srv := NewServer(tickets.NewService(s, nil), nil, nil, ui)
	router := srv.Router()

	w := do(t, router, "GET", "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, w.Body.String())

	w = do(t, router, "GET", "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dashboard")
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
