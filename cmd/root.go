package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/ticketdesk/internal/output"
	"github.com/joescharf/ticketdesk/internal/store"
	"github.com/joescharf/ticketdesk/internal/tickets"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui *output.UI

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "ticketdesk",
	Short: "Support ticket tracker with a web and terminal dashboard",
	Long: `ticketdesk records support tickets, serves a JSON API with a live
dashboard, and lets operators triage tickets from the terminal.

Start the server with 'ticketdesk serve' and watch it with
'ticketdesk dashboard'.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/ticketdesk/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// A .env next to the working directory is optional.
	_ = godotenv.Load()

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TICKETDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers the default of every config key under stateDir.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.path", filepath.Join(stateDir, "tickets.db"))
	viper.SetDefault("db.dsn", "")
	viper.SetDefault("db.connect_timeout", 30*time.Second)
	viper.SetDefault("port", 8080)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("dashboard.server", "http://localhost:8080")
	viper.SetDefault("dashboard.interval", 5*time.Second)
	viper.SetDefault("retention.closed_after", "0")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	logger, err := newLogger(os.Stderr, viper.GetString("log.level"), viper.GetString("log.format"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		logger, _ = newLogger(os.Stderr, "info", "text")
	}
	slog.SetDefault(logger)
}

// storeConfig builds the store settings from config.
func storeConfig() store.Config {
	return store.Config{
		Driver:         viper.GetString("db.driver"),
		Path:           viper.GetString("db.path"),
		DSN:            viper.GetString("db.dsn"),
		ConnectTimeout: viper.GetDuration("db.connect_timeout"),
	}
}

// withService opens the configured store for the duration of fn. Commands
// run outside the server, so there is no change publisher.
func withService(ctx context.Context, fn func(*tickets.Service) error) error {
	s, err := store.Open(ctx, storeConfig())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("close database", "error", err)
		}
	}()
	return fn(tickets.NewService(s, nil))
}
