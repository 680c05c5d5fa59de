package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facecensus/internal/config"
	"github.com/andresmejia3/facecensus/internal/store"
	"github.com/andresmejia3/facecensus/internal/utils"
	"github.com/andresmejia3/facecensus/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// DB is the database connection shared by subcommands. Nil when no
	// database is configured.
	DB *store.Store
	// Cfg is the environment configuration, loaded before any command runs.
	Cfg *config.Config
	// Log is the structured logger shared by subcommands.
	Log *zap.Logger

	dbURL    string
	logLevel string
)

// errNoDatabase is returned by commands that only work against PostgreSQL.
var errNoDatabase = errors.New("no database configured (set DATABASE_URL, POSTGRES_HOST or --db)")

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "facecensus",
	Short:         "Count distinct faces in a video and estimate their age and gender",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			Cfg.LogLevel = logLevel
		}
		if dbURL != "" {
			Cfg.DatabaseURL = dbURL
		}

		Log, err = logger.New(Cfg.LogLevel)
		if err != nil {
			return err
		}

		dsn := Cfg.DSN()
		if dsn == "" {
			Log.Debug("no database configured, scans are not persisted")
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), dsn)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// The command context may already be cancelled by Ctrl+C.
			DB.Close(context.Background())
		}
		if Log != nil {
			_ = Log.Sync()
		}
	},
}

// requireDB is used by commands that have nothing to do without PostgreSQL.
func requireDB() (*store.Store, error) {
	if DB == nil {
		return nil, errNoDatabase
	}
	return DB, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		utils.ShowError(os.Stderr, rootCmd.Name()+" failed", err, nil)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: DATABASE_URL or POSTGRES_* environment)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}
