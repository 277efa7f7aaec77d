package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/joescharf/ticketdesk/internal/client"
	"github.com/joescharf/ticketdesk/internal/tui"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"dash"},
	Short:   "Watch and triage tickets in the terminal",
	Long: `Open the terminal dashboard against a running server.

The view refreshes every --interval and immediately when the server
reports a change. Keys: j/k move, f cycles the status filter, / searches,
o/p/c set open/in progress/closed, d deletes, r refreshes, q quits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return dashboardRun(cmd.Context())
	},
}

func init() {
	dashboardCmd.Flags().String("server", "http://localhost:8080", "ticketdesk server URL")
	dashboardCmd.Flags().Duration("interval", 5*time.Second, "Poll interval")
	_ = viper.BindPFlag("dashboard.server", dashboardCmd.Flags().Lookup("server"))
	_ = viper.BindPFlag("dashboard.interval", dashboardCmd.Flags().Lookup("interval"))
	rootCmd.AddCommand(dashboardCmd)
}

func dashboardRun(ctx context.Context) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("dashboard needs an interactive terminal; use 'ticketdesk ticket list' instead")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// Log lines would tear the full-screen view; send them to a file.
	restore, err := logToFile(filepath.Join(viper.GetString("state_dir"), "ticketdesk-dashboard.log"))
	if err != nil {
		return err
	}
	defer restore()

	server := viper.GetString("dashboard.server")
	c := client.New(server)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := tui.NewModel(c, tui.Options{
		Title:    c.BaseURL(),
		Interval: viper.GetDuration("dashboard.interval"),
		Changes:  tui.WatchChanges(ctx, c),
	})
	slog.Info("dashboard started", "server", server)

	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

// logToFile points the default logger at path until the returned func is called.
func logToFile(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	prev := slog.Default()
	logger, err := newLogger(f, viper.GetString("log.level"), viper.GetString("log.format"))
	if err != nil {
		logger, _ = newLogger(f, "info", "text")
	}
	slog.SetDefault(logger)
	return func() {
		slog.SetDefault(prev)
		_ = f.Close()
	}, nil
}
