package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/ticketdesk/internal/mcp"
	"github.com/joescharf/ticketdesk/internal/tickets"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio so assistants
can read and update tickets. Configure it in your MCP client with:

  {
    "mcpServers": {
      "ticketdesk": { "command": "ticketdesk", "args": ["mcp"] }
    }
  }

Available tools: ticket_list, ticket_get, ticket_create,
ticket_update_status, ticket_delete, ticket_stats, and ticket_triage
when an Anthropic API key is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var triager mcp.Triager
	if c := newTriager(); c != nil {
		triager = c
	}

	return withService(ctx, func(svc *tickets.Service) error {
		srv := mcp.NewServer(svc, triager, buildVersion)
		if err := srv.ServeStdio(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})
}
