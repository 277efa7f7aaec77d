package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/ticketdesk/internal/models"
	"github.com/joescharf/ticketdesk/internal/output"
	"github.com/joescharf/ticketdesk/internal/store"
	"github.com/joescharf/ticketdesk/internal/tickets"
)

var (
	ticketUser     string
	ticketImage    string
	ticketPriority string
	ticketStatus   string
	ticketJSON     bool
	ticketWidth    int
	ticketVersion  int64
	purgeOlderThan string
)

var ticketCmd = &cobra.Command{
	Use:     "ticket",
	Aliases: []string{"t"},
	Short:   "Manage tickets directly in the database",
	Long: `Manage tickets directly in the configured database.

These commands do not go through a running server; dashboards pick up
the changes on their next poll.`,
}

var ticketAddCmd = &cobra.Command{
	Use:   "add <message>",
	Short: "Open a new ticket",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketAddRun(cmd.Context(), strings.Join(args, " "))
	},
}

var ticketListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tickets, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketListRun(cmd.Context())
	},
}

var ticketShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTicketID(args[0])
		if err != nil {
			return err
		}
		return ticketShowRun(cmd.Context(), id)
	},
}

var ticketStatusCmd = &cobra.Command{
	Use:   "status <id> <open|in_progress|closed>",
	Short: "Change a ticket's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTicketID(args[0])
		if err != nil {
			return err
		}
		return ticketStatusRun(cmd.Context(), id, args[1])
	},
}

var ticketDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a ticket",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTicketID(args[0])
		if err != nil {
			return err
		}
		return ticketDeleteRun(cmd.Context(), id)
	},
}

var ticketPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete closed tickets not updated for a while",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketPurgeRun(cmd.Context())
	},
}

var ticketTriageCmd = &cobra.Command{
	Use:   "triage <id>",
	Short: "Ask Claude for a priority, category and summary",
	Long: `Ask Claude for a suggested priority, category and one-line summary.
The suggestion is printed only; nothing is saved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTicketID(args[0])
		if err != nil {
			return err
		}
		return ticketTriageRun(cmd.Context(), id)
	},
}

func init() {
	ticketAddCmd.Flags().StringVarP(&ticketUser, "user", "u", "", "Reporter's name (required)")
	ticketAddCmd.Flags().StringVar(&ticketImage, "image", "", "Screenshot URL")
	ticketAddCmd.Flags().StringVarP(&ticketPriority, "priority", "p", "", "Priority (default: medium)")
	_ = ticketAddCmd.MarkFlagRequired("user")

	ticketListCmd.Flags().StringVarP(&ticketStatus, "status", "s", "", "Filter by status: open, in_progress, closed")
	ticketListCmd.Flags().BoolVar(&ticketJSON, "json", false, "Print JSON")
	ticketListCmd.Flags().IntVarP(&ticketWidth, "width", "w", 60, "Cut messages to this many characters (0: no limit)")

	ticketStatusCmd.Flags().Int64Var(&ticketVersion, "version", 0, "Only update if the ticket is still at this version")

	ticketPurgeCmd.Flags().StringVar(&purgeOlderThan, "older-than", "", "Age cutoff, e.g. 720h or 30d (default: retention.closed_after)")

	ticketCmd.AddCommand(ticketAddCmd, ticketListCmd, ticketShowCmd, ticketStatusCmd,
		ticketDeleteCmd, ticketPurgeCmd, ticketTriageCmd)
	rootCmd.AddCommand(ticketCmd)
}

func parseTicketID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ticket id %q", s)
	}
	return id, nil
}

func ticketAddRun(ctx context.Context, message string) error {
	in := tickets.CreateInput{
		Username: ticketUser,
		Message:  message,
		Priority: ticketPriority,
	}
	if ticketImage != "" {
		in.ImageURL = &ticketImage
	}

	if dryRun {
		ui.DryRunMsg("Would open ticket for %s: %s", in.Username, output.Abbrev(in.Message, 60))
		return nil
	}

	return withService(ctx, func(svc *tickets.Service) error {
		t, err := svc.Create(ctx, in)
		if err != nil {
			return err
		}
		ui.Success("Opened ticket #%d (%s)", t.ID, t.Priority)
		return nil
	})
}

func ticketListRun(ctx context.Context) error {
	if ticketStatus != "" && ticketStatus != "all" {
		if _, ok := models.ParseTicketStatus(ticketStatus); !ok {
			return fmt.Errorf("invalid status %q (want open, in_progress or closed)", ticketStatus)
		}
	}

	return withService(ctx, func(svc *tickets.Service) error {
		list, err := svc.List(ctx, ticketStatus)
		if err != nil {
			return err
		}
		if ticketJSON {
			enc := json.NewEncoder(ui.Out)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		if len(list) == 0 {
			ui.Info("No tickets")
			return nil
		}
		return ui.TicketTable(list, ticketWidth)
	})
}

func ticketShowRun(ctx context.Context, id int64) error {
	return withService(ctx, func(svc *tickets.Service) error {
		t, err := svc.Get(ctx, id)
		if err != nil {
			return describeErr(id, err)
		}
		ui.TicketDetail(t)
		return nil
	})
}

func ticketStatusRun(ctx context.Context, id int64, status string) error {
	if dryRun {
		ui.DryRunMsg("Would set ticket #%d to %s", id, status)
		return nil
	}
	return withService(ctx, func(svc *tickets.Service) error {
		t, err := svc.UpdateStatus(ctx, id, status, ticketVersion)
		if err != nil {
			return describeErr(id, err)
		}
		ui.Success("Ticket #%d is now %s (version %d)", t.ID, output.StatusColor(string(t.Status)), t.Version)
		return nil
	})
}

func ticketDeleteRun(ctx context.Context, id int64) error {
	if dryRun {
		ui.DryRunMsg("Would delete ticket #%d", id)
		return nil
	}
	return withService(ctx, func(svc *tickets.Service) error {
		if err := svc.Delete(ctx, id); err != nil {
			return err
		}
		ui.Success("Deleted ticket #%d", id)
		return nil
	})
}

func ticketPurgeRun(ctx context.Context) error {
	raw := purgeOlderThan
	if raw == "" {
		raw = viper.GetString("retention.closed_after")
	}
	olderThan, err := parseRetention(raw)
	if err != nil {
		return err
	}
	if olderThan == 0 {
		return fmt.Errorf("no retention period: pass --older-than or set retention.closed_after")
	}

	return withService(ctx, func(svc *tickets.Service) error {
		if dryRun {
			closed, err := svc.List(ctx, string(models.TicketStatusClosed))
			if err != nil {
				return err
			}
			cutoff := time.Now().Add(-olderThan)
			n := 0
			for _, t := range closed {
				if t.UpdatedAt.Before(cutoff) {
					ui.DryRunMsg("Would delete #%d (%s, closed %s)", t.ID, t.Username, t.UpdatedAt.Local().Format(time.DateOnly))
					n++
				}
			}
			ui.DryRunMsg("%d ticket(s) older than %s", n, olderThan)
			return nil
		}

		n, err := svc.PurgeClosed(ctx, olderThan)
		if err != nil {
			return err
		}
		ui.Success("Purged %d closed ticket(s) older than %s", n, olderThan)
		return nil
	})
}

func ticketTriageRun(ctx context.Context, id int64) error {
	triager := newTriager()
	if triager == nil {
		return fmt.Errorf("triage needs an Anthropic API key: set anthropic.api_key or ANTHROPIC_API_KEY")
	}
	return withService(ctx, func(svc *tickets.Service) error {
		t, err := svc.Get(ctx, id)
		if err != nil {
			return describeErr(id, err)
		}
		ui.VerboseLog("Asking %s about ticket #%d", viper.GetString("anthropic.model"), id)
		sug, err := triager.SuggestTriage(ctx, t)
		if err != nil {
			return err
		}
		fmt.Fprintf(ui.Out, "Ticket #%d  %s\n", t.ID, output.Abbrev(t.Message, 60))
		fmt.Fprintf(ui.Out, "  Priority: %s (currently %s)\n", output.PriorityColor(sug.Priority), t.Priority)
		fmt.Fprintf(ui.Out, "  Category: %s\n", sug.Category)
		fmt.Fprintf(ui.Out, "  Summary:  %s\n", sug.Summary)
		return nil
	})
}

// describeErr turns store sentinels into messages that name the ticket.
func describeErr(id int64, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("ticket #%d not found", id)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("ticket #%d was modified since version %d; reload and retry", id, ticketVersion)
	}
	return err
}
