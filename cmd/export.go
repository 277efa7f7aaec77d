package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/ticketdesk/internal/models"
	"github.com/joescharf/ticketdesk/internal/tickets"
)

var (
	exportFormat string
	exportStatus string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export tickets as JSON, CSV or Markdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun(cmd.Context())
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVarP(&exportStatus, "status", "s", "", "Only export tickets with this status")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}

var exporters = map[string]func(io.Writer, []*models.Ticket) error{
	"json":     exportJSON,
	"csv":      exportCSV,
	"markdown": exportMarkdown,
	"md":       exportMarkdown,
}

func exportRun(ctx context.Context) error {
	write, ok := exporters[strings.ToLower(exportFormat)]
	if !ok {
		return fmt.Errorf("unknown format %q (want json, csv or markdown)", exportFormat)
	}

	return withService(ctx, func(svc *tickets.Service) error {
		list, err := svc.List(ctx, exportStatus)
		if err != nil {
			return err
		}

		if exportOutput == "" {
			return write(ui.Out, list)
		}
		if dryRun {
			ui.DryRunMsg("Would write %d ticket(s) to %s", len(list), exportOutput)
			return nil
		}
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOutput, err)
		}
		if err := write(f, list); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		ui.Success("Exported %d ticket(s) to %s", len(list), exportOutput)
		return nil
	})
}

func exportJSON(w io.Writer, list []*models.Ticket) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}

func exportCSV(w io.Writer, list []*models.Ticket) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "username", "message", "image_url", "priority", "status", "version", "created_at", "updated_at"})
	for _, t := range list {
		img := ""
		if t.ImageURL != nil {
			img = *t.ImageURL
		}
		_ = cw.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Username,
			t.Message,
			img,
			t.Priority,
			string(t.Status),
			strconv.FormatInt(t.Version, 10),
			t.CreatedAt.UTC().Format(time.RFC3339),
			t.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
	return cw.Error()
}

func exportMarkdown(w io.Writer, list []*models.Ticket) error {
	var b strings.Builder
	b.WriteString("# Tickets\n\n")
	st := models.CountByStatus(list)
	fmt.Fprintf(&b, "%d open, %d in progress, %d closed (%d total)\n\n", st.Open, st.InProgress, st.Closed, st.Total)
	b.WriteString("| ID | Status | Priority | User | Message | Created |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, t := range list {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n",
			t.ID, t.Status, mdCell(t.Priority), mdCell(t.Username), mdCell(t.Message),
			t.CreatedAt.UTC().Format(time.DateOnly))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// mdCell keeps a value inside one table cell.
func mdCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
