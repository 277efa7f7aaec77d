package cmd

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/ticketdesk/internal/models"
	"github.com/joescharf/ticketdesk/internal/output"
	"github.com/joescharf/ticketdesk/internal/tickets"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count tickets per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func statsRun(ctx context.Context) error {
	return withService(ctx, func(svc *tickets.Service) error {
		st, err := svc.Stats(ctx)
		if err != nil {
			return err
		}
		return renderStats(st)
	})
}

func renderStats(st models.TicketStats) error {
	table := ui.Table([]string{"Status", "Tickets"})
	rows := [][]string{
		{output.StatusColor(string(models.TicketStatusOpen)), strconv.Itoa(st.Open)},
		{output.StatusColor(string(models.TicketStatusInProgress)), strconv.Itoa(st.InProgress)},
		{output.StatusColor(string(models.TicketStatusClosed)), strconv.Itoa(st.Closed)},
		{"total", strconv.Itoa(st.Total)},
	}
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			return err
		}
	}
	return table.Render()
}
