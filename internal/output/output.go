package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/ticketdesk/internal/models"
)

// UI provides colored output and respects verbose/dry-run modes.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	faint         = color.New(color.Faint).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// StatusColor returns the string colored by ticket status.
func StatusColor(status string) string {
	switch strings.ToLower(status) {
	case string(models.TicketStatusOpen):
		return green(status)
	case string(models.TicketStatusInProgress):
		return yellow(status)
	case string(models.TicketStatusClosed):
		return faint(status)
	default:
		return status
	}
}

// PriorityColor highlights the priorities that need attention. Priority is
// free-form, so unknown labels pass through.
func PriorityColor(priority string) string {
	switch strings.ToLower(priority) {
	case "urgent", "critical":
		return red(priority)
	case "high":
		return yellow(priority)
	case "low":
		return cyan(priority)
	default:
		return priority
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// TicketTable renders tickets one per row. Messages are cut to msgWidth runes
// on a single line; msgWidth <= 0 leaves them whole.
func (u *UI) TicketTable(list []*models.Ticket, msgWidth int) error {
	table := u.Table([]string{"ID", "Status", "Priority", "User", "Message", "Created"})
	for _, t := range list {
		if err := table.Append([]string{
			fmt.Sprintf("%d", t.ID),
			StatusColor(string(t.Status)),
			PriorityColor(t.Priority),
			t.Username,
			Abbrev(t.Message, msgWidth),
			humanize.Time(t.CreatedAt),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// TicketDetail prints every field of one ticket.
func (u *UI) TicketDetail(t *models.Ticket) {
	fmt.Fprintf(u.Out, "%s #%d\n", Cyan("Ticket"), t.ID)
	fmt.Fprintf(u.Out, "  Status:   %s\n", StatusColor(string(t.Status)))
	fmt.Fprintf(u.Out, "  Priority: %s\n", PriorityColor(t.Priority))
	fmt.Fprintf(u.Out, "  User:     %s\n", t.Username)
	if t.ImageURL != nil {
		fmt.Fprintf(u.Out, "  Image:    %s\n", *t.ImageURL)
	}
	fmt.Fprintf(u.Out, "  Version:  %d\n", t.Version)
	fmt.Fprintf(u.Out, "  Created:  %s (%s)\n", t.CreatedAt.Local().Format(time.DateTime), humanize.Time(t.CreatedAt))
	fmt.Fprintf(u.Out, "  Updated:  %s (%s)\n", t.UpdatedAt.Local().Format(time.DateTime), humanize.Time(t.UpdatedAt))
	fmt.Fprintf(u.Out, "\n%s\n", t.Message)
}

// Abbrev collapses whitespace and cuts s to width runes, marking the cut with "...".
func Abbrev(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}
