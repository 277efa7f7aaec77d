package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/ticketdesk/internal/llm"
	"github.com/joescharf/ticketdesk/internal/models"
	"github.com/joescharf/ticketdesk/internal/store"
	"github.com/joescharf/ticketdesk/internal/tickets"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockStore implements store.Store in memory.
type mockStore struct {
	tickets []*models.Ticket
	nextID  int64

	// Optional error injection.
	listErr   error
	createErr error
	updateErr error
	deleteErr error
}

func (m *mockStore) CreateTicket(_ context.Context, t *models.Ticket) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	t.ID = m.nextID
	t.Version = 1
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	m.tickets = append(m.tickets, t)
	return nil
}

func (m *mockStore) GetTicket(_ context.Context, id int64) (*models.Ticket, error) {
	for _, t := range m.tickets {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) ListTickets(_ context.Context, filter store.TicketListFilter) ([]*models.Ticket, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []*models.Ticket{}
	for i := len(m.tickets) - 1; i >= 0; i-- {
		t := m.tickets[i]
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *mockStore) UpdateTicketStatus(ctx context.Context, id int64, status models.TicketStatus, expectedVersion int64) (*models.Ticket, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	t, err := m.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != 0 && t.Version != expectedVersion {
		return nil, store.ErrConflict
	}
	t.Status = status
	t.Version++
	t.UpdatedAt = time.Now()
	return t, nil
}

func (m *mockStore) DeleteTicket(_ context.Context, id int64) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for i, t := range m.tickets {
		if t.ID == id {
			m.tickets = append(m.tickets[:i], m.tickets[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockStore) PurgeClosedTickets(context.Context, time.Time) (int64, error) { return 0, nil }
func (m *mockStore) Migrate(context.Context) error                               { return nil }
func (m *mockStore) Close() error                                                { return nil }

type mockTriager struct {
	sug *llm.Suggestion
	err error
	got *models.Ticket
}

func (m *mockTriager) SuggestTriage(_ context.Context, t *models.Ticket) (*llm.Suggestion, error) {
	m.got = t
	return m.sug, m.err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*Server, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	srv := NewServer(tickets.NewService(ms, nil), nil, "test")
	require.NotNil(t, srv)
	return srv, ms
}

// callToolReq builds a CallToolRequest with the given tool name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target), "failed to parse result JSON: %s", text)
}

func seedTicket(t *testing.T, ms *mockStore, username, message string, status models.TicketStatus) *models.Ticket {
	t.Helper()
	tk := &models.Ticket{Username: username, Message: message, Priority: models.DefaultPriority, Status: status}
	require.NoError(t, ms.CreateTicket(context.Background(), tk))
	return tk
}

// ---------------------------------------------------------------------------
// Tests: ticket_list
// ---------------------------------------------------------------------------

func TestHandleListTickets_Empty(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleListTickets(context.Background(), callToolReq("ticket_list", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "[]", resultText(t, result))
}

func TestHandleListTickets_NewestFirst(t *testing.T) {
	srv, ms := newTestServer(t)
	seedTicket(t, ms, "alice", "VPN down", models.TicketStatusOpen)
	seedTicket(t, ms, "bob", "invoice", models.TicketStatusClosed)

	result, err := srv.handleListTickets(context.Background(), callToolReq("ticket_list", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got []models.Ticket
	resultJSON(t, result, &got)
	require.Len(t, got, 2)
	assert.Equal(t, "bob", got[0].Username)
	assert.Equal(t, "alice", got[1].Username)
}

func TestHandleListTickets_StatusFilter(t *testing.T) {
	srv, ms := newTestServer(t)
	seedTicket(t, ms, "alice", "VPN down", models.TicketStatusOpen)
	seedTicket(t, ms, "bob", "invoice", models.TicketStatusClosed)

	result, err := srv.handleListTickets(context.Background(), callToolReq("ticket_list", map[string]any{"status": "closed"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "bob")
	assert.NotContains(t, text, "alice")
}

func TestHandleListTickets_StoreError(t *testing.T) {
	srv, ms := newTestServer(t)
	ms.listErr = errors.New("disk on fire")

	result, err := srv.handleListTickets(context.Background(), callToolReq("ticket_list", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "disk on fire")
}

// ---------------------------------------------------------------------------
// Tests: ticket_get
// ---------------------------------------------------------------------------

func TestHandleGetTicket(t *testing.T) {
	srv, ms := newTestServer(t)
	tk := seedTicket(t, ms, "alice", "VPN down", models.TicketStatusOpen)

	result, err := srv.handleGetTicket(context.Background(), callToolReq("ticket_get", map[string]any{"id": float64(tk.ID)}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got models.Ticket
	resultJSON(t, result, &got)
	assert.Equal(t, "VPN down", got.Message)
}

func TestHandleGetTicket_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleGetTicket(context.Background(), callToolReq("ticket_get", map[string]any{"id": 99}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "ticket not found: 99")
}

func TestHandleGetTicket_BadID(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, args := range []map[string]any{nil, {"id": 0}, {"id": -3}} {
		result, err := srv.handleGetTicket(context.Background(), callToolReq("ticket_get", args))
		require.NoError(t, err)
		assert.True(t, result.IsError, "args %v", args)
	}
}

// ---------------------------------------------------------------------------
// Tests: ticket_create
// ---------------------------------------------------------------------------

func TestHandleCreateTicket(t *testing.T) {
	srv, ms := newTestServer(t)

	req := callToolReq("ticket_create", map[string]any{
		"username":  "alice",
		"message":   "Printer jammed",
		"image_url": "https://img.example/jam.png",
		"priority":  "high",
	})
	result, err := srv.handleCreateTicket(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var got models.Ticket
	resultJSON(t, result, &got)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, models.TicketStatusOpen, got.Status)
	assert.Equal(t, "high", got.Priority)
	require.NotNil(t, got.ImageURL)
	assert.Equal(t, "https://img.example/jam.png", *got.ImageURL)
	assert.Len(t, ms.tickets, 1)
}

func TestHandleCreateTicket_Defaults(t *testing.T) {
	srv, ms := newTestServer(t)

	result, err := srv.handleCreateTicket(context.Background(), callToolReq("ticket_create", map[string]any{
		"username": "alice",
		"message":  "hello",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	require.Len(t, ms.tickets, 1)
	assert.Equal(t, models.DefaultPriority, ms.tickets[0].Priority)
	assert.Nil(t, ms.tickets[0].ImageURL)
}

func TestHandleCreateTicket_MissingFields(t *testing.T) {
	srv, ms := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"no username", map[string]any{"message": "x"}, "username"},
		{"no message", map[string]any{"username": "alice"}, "message"},
		{"blank message", map[string]any{"username": "alice", "message": "   "}, "Missing required fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.handleCreateTicket(context.Background(), callToolReq("ticket_create", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
	assert.Empty(t, ms.tickets)
}

func TestHandleCreateTicket_StoreError(t *testing.T) {
	srv, ms := newTestServer(t)
	ms.createErr = errors.New("constraint failed")

	result, err := srv.handleCreateTicket(context.Background(), callToolReq("ticket_create", map[string]any{
		"username": "alice",
		"message":  "hello",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "constraint failed")
}

// ---------------------------------------------------------------------------
// Tests: ticket_update_status
// ---------------------------------------------------------------------------

func TestHandleUpdateStatus(t *testing.T) {
	srv, ms := newTestServer(t)
	tk := seedTicket(t, ms, "alice", "VPN down", models.TicketStatusOpen)

	result, err := srv.handleUpdateStatus(context.Background(), callToolReq("ticket_update_status", map[string]any{
		"id":     float64(tk.ID),
		"status": "in_progress",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var got models.Ticket
	resultJSON(t, result, &got)
	assert.Equal(t, models.TicketStatusInProgress, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestHandleUpdateStatus_VersionConflict(t *testing.T) {
	srv, ms := newTestServer(t)
	tk := seedTicket(t, ms, "alice", "VPN down", models.TicketStatusOpen)

	result, err := srv.handleUpdateStatus(context.Background(), callToolReq("ticket_update_status", map[string]any{
		"id":      float64(tk.ID),
		"status":  "closed",
		"version": float64(7),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "modified by another request")
	assert.Equal(t, models.TicketStatusOpen, ms.tickets[0].Status)
}

func TestHandleUpdateStatus_InvalidStatus(t *testing.T) {
	srv, ms := newTestServer(t)
	tk := seedTicket(t, ms, "alice", "VPN down", models.TicketStatusOpen)

	result, err := srv.handleUpdateStatus(context.Background(), callToolReq("ticket_update_status", map[string]any{
		"id":     float64(tk.ID),
		"status": "resolved",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), `Invalid status "resolved"`)
}

func TestHandleUpdateStatus_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleUpdateStatus(context.Background(), callToolReq("ticket_update_status", map[string]any{
		"id":     float64(42),
		"status": "closed",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "ticket not found: 42")
}

func TestHandleUpdateStatus_MissingStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleUpdateStatus(context.Background(), callToolReq("ticket_update_status", map[string]any{"id": float64(1)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "status")
}

// ---------------------------------------------------------------------------
// Tests: ticket_delete and ticket_stats
// ---------------------------------------------------------------------------

func TestHandleDeleteTicket(t *testing.T) {
	srv, ms := newTestServer(t)
	tk := seedTicket(t, ms, "alice", "VPN down", models.TicketStatusOpen)

	result, err := srv.handleDeleteTicket(context.Background(), callToolReq("ticket_delete", map[string]any{"id": float64(tk.ID)}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"success":true`)
	assert.Empty(t, ms.tickets)

	// Deleting again is not an error.
	result, err = srv.handleDeleteTicket(context.Background(), callToolReq("ticket_delete", map[string]any{"id": float64(tk.ID)}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestHandleDeleteTicket_StoreError(t *testing.T) {
	srv, ms := newTestServer(t)
	ms.deleteErr = errors.New("locked")

	result, err := srv.handleDeleteTicket(context.Background(), callToolReq("ticket_delete", map[string]any{"id": float64(1)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "failed to delete ticket: locked")
}

func TestHandleStats(t *testing.T) {
	srv, ms := newTestServer(t)
	seedTicket(t, ms, "a", "1", models.TicketStatusOpen)
	seedTicket(t, ms, "b", "2", models.TicketStatusOpen)
	seedTicket(t, ms, "c", "3", models.TicketStatusClosed)

	result, err := srv.handleStats(context.Background(), callToolReq("ticket_stats", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got models.TicketStats
	resultJSON(t, result, &got)
	assert.Equal(t, models.TicketStats{Open: 2, Closed: 1, Total: 3}, got)
}

// ---------------------------------------------------------------------------
// Tests: ticket_triage
// ---------------------------------------------------------------------------

func TestHandleTriage(t *testing.T) {
	ms := &mockStore{}
	tr := &mockTriager{sug: &llm.Suggestion{Priority: "urgent", Category: "tech", Summary: "VPN outage"}}
	srv := NewServer(tickets.NewService(ms, nil), tr, "")
	tk := seedTicket(t, ms, "alice", "VPN down for everyone", models.TicketStatusOpen)

	result, err := srv.handleTriage(context.Background(), callToolReq("ticket_triage", map[string]any{"id": float64(tk.ID)}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got llm.Suggestion
	resultJSON(t, result, &got)
	assert.Equal(t, "urgent", got.Priority)
	require.NotNil(t, tr.got)
	assert.Equal(t, tk.ID, tr.got.ID)
}

func TestHandleTriage_Failure(t *testing.T) {
	ms := &mockStore{}
	tr := &mockTriager{err: errors.New("rate limited")}
	srv := NewServer(tickets.NewService(ms, nil), tr, "")
	tk := seedTicket(t, ms, "alice", "VPN down", models.TicketStatusOpen)

	result, err := srv.handleTriage(context.Background(), callToolReq("ticket_triage", map[string]any{"id": float64(tk.ID)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "rate limited")
}

// ---------------------------------------------------------------------------
// Tests: Integration -- verify tool registration via HandleMessage
// ---------------------------------------------------------------------------

func listToolNames(t *testing.T, srv *Server) map[string]bool {
	t.Helper()
	respMsg := srv.MCPServer().HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))
	require.NotNil(t, respMsg)

	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	names := make(map[string]bool)
	for _, tool := range rpcResp.Result.Tools {
		names[tool.Name] = true
	}
	return names
}

func TestMCPIntegration_ListTools(t *testing.T) {
	srv, _ := newTestServer(t)
	names := listToolNames(t, srv)

	for _, name := range []string{
		"ticket_list",
		"ticket_get",
		"ticket_create",
		"ticket_update_status",
		"ticket_delete",
		"ticket_stats",
	} {
		assert.True(t, names[name], "expected tool %q to be registered", name)
	}
	assert.False(t, names["ticket_triage"], "triage needs a triager")

	withTriage := NewServer(tickets.NewService(&mockStore{}, nil), &mockTriager{}, "")
	assert.True(t, listToolNames(t, withTriage)["ticket_triage"])
}

// Compile-time interface check for the mock.
var _ store.Store = (*mockStore)(nil)
