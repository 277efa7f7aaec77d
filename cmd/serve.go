package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/ticketdesk/internal/api"
	"github.com/joescharf/ticketdesk/internal/client"
	"github.com/joescharf/ticketdesk/internal/daemon"
	"github.com/joescharf/ticketdesk/internal/events"
	"github.com/joescharf/ticketdesk/internal/llm"
	"github.com/joescharf/ticketdesk/internal/store"
	"github.com/joescharf/ticketdesk/internal/tickets"
	webui "github.com/joescharf/ticketdesk/internal/ui"
)

const (
	purgeInterval   = time.Hour
	shutdownTimeout = 10 * time.Second
	stopTimeout     = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and web dashboard",
	Long: `Run the HTTP server in the foreground: the JSON API under /api,
the change stream at /api/events, the web dashboard at /, plus /healthz
and /metrics. Use 'serve start' to run it in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8080, "Port to listen on")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "ticketdesk-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "ticketdesk-serve.log")
}

func serveAddr() string {
	return ":" + strconv.Itoa(viper.GetInt("port"))
}

// newTriager returns the configured triage client, or nil without an API key.
func newTriager() *llm.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"))
}

// parseRetention parses retention.closed_after. Besides Go durations it
// accepts whole days ("30d"). Empty or zero disables retention.
func parseRetention(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid retention %q", s)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, fmt.Errorf("invalid retention %q: %w", s, err)
		}
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid retention %q: must not be negative", s)
	}
	return d, nil
}

// newHTTPServer wires the API, change stream and web dashboard onto one handler.
func newHTTPServer(addr string, svc *tickets.Service, broker *events.Broker, triager api.Triager) (*http.Server, error) {
	web, err := webui.Handler()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize UI handler: %w", err)
	}
	srv := api.NewServer(svc, broker, triager, web)
	return &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}, nil
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	retention, err := parseRetention(viper.GetString("retention.closed_after"))
	if err != nil {
		return err
	}

	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := pf.Release(); err != nil {
			slog.Warn("remove pid file", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	s, err := store.Open(ctx, storeConfig())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	broker := events.NewBroker()
	svc := tickets.NewService(s, broker)

	var triager api.Triager
	if c := newTriager(); c != nil {
		triager = c
	} else {
		slog.Info("no Anthropic API key configured, triage disabled")
	}

	httpSrv, err := newHTTPServer(serveAddr(), svc, broker, triager)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", httpSrv.Addr, err)
	}

	slog.Info("ticketdesk serving", "addr", ln.Addr().String(), "driver", storeConfig().Driver, "version", buildVersion)
	ui.Info("Serving at http://localhost:%d", ln.Addr().(*net.TCPAddr).Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		// Streams never go idle on their own.
		broker.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if retention > 0 {
		g.Go(func() error {
			runPurgeLoop(gctx, svc, purgeInterval, retention)
			return nil
		})
	}
	return g.Wait()
}

// runPurgeLoop deletes expired closed tickets now and then every interval
// until ctx ends. Failures are logged and retried on the next tick.
func runPurgeLoop(ctx context.Context, svc *tickets.Service, every, olderThan time.Duration) {
	slog.Info("retention enabled", "closed_after", olderThan.String(), "every", every.String())
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if _, err := svc.PurgeClosed(ctx, olderThan); err != nil && ctx.Err() == nil {
			slog.Error("purge closed tickets", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	args := []string{"serve", "--port", strconv.Itoa(viper.GetInt("port"))}
	if cfg := viper.ConfigFileUsed(); cfg != "" {
		args = append(args, "--config", cfg)
	}

	if dryRun {
		ui.DryRunMsg("Would run %s %s", exe, strings.Join(args, " "))
		return nil
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	// The child writes its own PID file once it owns the port.
	_ = child.Process.Release()

	ui.Success("Server started (PID %d) on port %d", child.Process.Pid, viper.GetInt("port"))
	ui.Info("Logs: %s", serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		if pid != 0 {
			_ = pf.Remove()
		}
		return fmt.Errorf("server is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (PID %d)", pid)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := pf.WaitExit(ctx, 200*time.Millisecond); err != nil {
		ui.Warning("Server did not exit after %s, killing it", stopTimeout)
		if err := pf.Signal(sigKILL()); err != nil {
			return fmt.Errorf("kill server: %w", err)
		}
		_ = pf.Remove()
	}

	ui.Success("Server stopped (PID %d)", pid)
	return nil
}

func serveStatusRun() error {
	pid, running := pidFile().IsRunning()
	if !running {
		ui.Info("Server is not running")
		return nil
	}

	base := fmt.Sprintf("http://localhost:%d", viper.GetInt("port"))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.New(base).Health(ctx); err != nil {
		ui.Warning("Server running (PID %d) but %s is not answering: %v", pid, base, err)
		return nil
	}
	ui.Success("Server running (PID %d) at %s", pid, base)
	return nil
}
