package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/ticketdesk/internal/llm"
	"github.com/joescharf/ticketdesk/internal/models"
	"github.com/joescharf/ticketdesk/internal/store"
	"github.com/joescharf/ticketdesk/internal/tickets"
)

// Triager produces triage suggestions for a ticket.
type Triager interface {
	SuggestTriage(ctx context.Context, t *models.Ticket) (*llm.Suggestion, error)
}

// Server exposes the ticket operations as MCP tools.
type Server struct {
	svc     *tickets.Service
	triager Triager
	version string
}

// NewServer creates the MCP server wrapper. triager may be nil, in which case
// the triage tool is not registered.
func NewServer(svc *tickets.Service, triager Triager, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{svc: svc, triager: triager, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("ticketdesk", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listTicketsTool())
	srv.AddTool(s.getTicketTool())
	srv.AddTool(s.createTicketTool())
	srv.AddTool(s.updateStatusTool())
	srv.AddTool(s.deleteTicketTool())
	srv.AddTool(s.statsTool())
	if s.triager != nil {
		srv.AddTool(s.triageTool())
	}

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// ticket_list
func (s *Server) listTicketsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ticket_list",
		mcp.WithDescription("List support tickets, newest first. Returns a JSON array of tickets with id, username, message, image_url, priority, status, version and timestamps."),
		mcp.WithString("status", mcp.Description("Filter by status: open, in_progress, closed (default: all)")),
	)
	return tool, s.handleListTickets
}

func (s *Server) handleListTickets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.svc.List(ctx, request.GetString("status", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tickets: %v", err)), nil
	}
	return jsonResult(list, "tickets")
}

// ticket_get
func (s *Server) getTicketTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ticket_get",
		mcp.WithDescription("Get a single ticket by id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Ticket id")),
	)
	return tool, s.handleGetTicket
}

func (s *Server) handleGetTicket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(request)
	if errResult != nil {
		return errResult, nil
	}
	t, err := s.svc.Get(ctx, int64(id))
	if err != nil {
		return toolError("get ticket", id, err), nil
	}
	return jsonResult(t, "ticket")
}

// ticket_create
func (s *Server) createTicketTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ticket_create",
		mcp.WithDescription("Open a new support ticket. Returns the created ticket as JSON."),
		mcp.WithString("username", mcp.Required(), mcp.Description("Name of the person reporting the problem")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Problem description")),
		mcp.WithString("image_url", mcp.Description("Link to a screenshot")),
		mcp.WithString("priority", mcp.Description("Priority label (default: medium)")),
	)
	return tool, s.handleCreateTicket
}

func (s *Server) handleCreateTicket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := request.RequireString("username")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: username"), nil
	}
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: message"), nil
	}

	in := tickets.CreateInput{
		Username: username,
		Message:  message,
		Priority: request.GetString("priority", ""),
	}
	if img := request.GetString("image_url", ""); img != "" {
		in.ImageURL = &img
	}

	t, err := s.svc.Create(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create ticket: %v", err)), nil
	}
	return jsonResult(t, "ticket")
}

// ticket_update_status
func (s *Server) updateStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ticket_update_status",
		mcp.WithDescription("Move a ticket to a new status. Pass the version last seen to reject the change if someone else modified the ticket since."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Ticket id")),
		mcp.WithString("status", mcp.Required(), mcp.Description("New status: open, in_progress, closed")),
		mcp.WithNumber("version", mcp.Description("Expected current version (optional)")),
	)
	return tool, s.handleUpdateStatus
}

func (s *Server) handleUpdateStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(request)
	if errResult != nil {
		return errResult, nil
	}
	status, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}

	t, err := s.svc.UpdateStatus(ctx, int64(id), status, int64(request.GetInt("version", 0)))
	if err != nil {
		return toolError("update ticket", id, err), nil
	}
	return jsonResult(t, "ticket")
}

// ticket_delete
func (s *Server) deleteTicketTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ticket_delete",
		mcp.WithDescription("Delete a ticket. Deleting a ticket that does not exist succeeds."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Ticket id")),
	)
	return tool, s.handleDeleteTicket
}

func (s *Server) handleDeleteTicket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(request)
	if errResult != nil {
		return errResult, nil
	}
	if err := s.svc.Delete(ctx, int64(id)); err != nil {
		return toolError("delete ticket", id, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"success":true,"id":%d}`, id)), nil
}

// ticket_stats
func (s *Server) statsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ticket_stats",
		mcp.WithDescription("Count tickets per status. Returns {open, in_progress, closed, total}."),
	)
	return tool, s.handleStats
}

func (s *Server) handleStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.svc.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to count tickets: %v", err)), nil
	}
	return jsonResult(st, "stats")
}

// ticket_triage
func (s *Server) triageTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ticket_triage",
		mcp.WithDescription("Suggest a priority, category and one-line summary for a ticket. The suggestion is not saved."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Ticket id")),
	)
	return tool, s.handleTriage
}

func (s *Server) handleTriage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requireID(request)
	if errResult != nil {
		return errResult, nil
	}
	t, err := s.svc.Get(ctx, int64(id))
	if err != nil {
		return toolError("get ticket", id, err), nil
	}
	sug, err := s.triager.SuggestTriage(ctx, t)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("triage failed: %v", err)), nil
	}
	return jsonResult(sug, "suggestion")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func requireID(request mcp.CallToolRequest) (int, *mcp.CallToolResult) {
	id, err := request.RequireInt("id")
	if err != nil {
		return 0, mcp.NewToolResultError("missing required parameter: id")
	}
	if id <= 0 {
		return 0, mcp.NewToolResultError(fmt.Sprintf("invalid id: %d", id))
	}
	return id, nil
}

func toolError(action string, id int, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("ticket not found: %d", id))
	case errors.Is(err, store.ErrConflict):
		return mcp.NewToolResultError(fmt.Sprintf("ticket %d was modified by another request; reload and retry", id))
	}
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", action, err))
}

func jsonResult(v any, what string) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal %s: %v", what, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
