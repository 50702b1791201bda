package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlog/internal/appender"
	"github.com/roach88/sqlog/internal/config"
	"github.com/roach88/sqlog/internal/handler"
	"github.com/roach88/sqlog/internal/server"
	"github.com/roach88/sqlog/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
	Database   string
	Addr       string
	Token      string
	GenToken   bool
	LogToDB    bool

	// Tokens allows overriding the auth token generator (for testing).
	// If nil, defaults to server.UUIDGenerator.
	Tokens server.TokenGenerator
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingest daemon",
		Long: `Run the HTTP ingest daemon.

Configuration is read from the optional YAML file, then SQLOG_*
environment variables, then flags, each layer overriding the last.
The daemon accepts JSON records on POST /api/ingest, reports health
on GET /api/health, and exports counters on GET /metrics.

Example:
  sqlog serve --config ./sqlog.yaml
  sqlog serve --db /tmp/sqlog.db --addr :9090 --gen-token`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token for /api/ingest (overrides config)")
	cmd.Flags().BoolVar(&opts.GenToken, "gen-token", false, "mint and log an auth token when none is configured")
	cmd.Flags().BoolVar(&opts.LogToDB, "log-to-db", false, "persist the daemon's own records into the served database")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	// Flags override file and environment.
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Token != "" {
		cfg.Server.AuthToken = opts.Token
	}
	if opts.LogToDB {
		cfg.Logging.ToDB = true
	}

	// Configure logging from the verbose flag, falling back to the config level
	logLevel := cfg.Logging.SlogLevel()
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	textHandler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(textHandler))
	log := slog.Default()

	dialect, err := cfg.Database.DialectValue()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid dialect", err)
	}
	if dialect.Name != appender.SQLite.Name {
		return NewExitError(ExitCommandError, fmt.Sprintf(
			"serve embeds only sqlite3, got dialect %q; use the library against an external database", dialect.Name))
	}

	slog.Info("opening database", "path", cfg.Database.Path)
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database ready")

	app := appender.New(dialect,
		appender.WithLogger(log), // stays text-only so appender warnings never recurse into the database
		appender.WithCapabilities(cfg.Database.Capabilities(dialect)),
		appender.WithMismatchPolicy(cfg.Database.Policy()),
	)

	// Dogfooding: the daemon's own records can ride the same three-table
	// write path as ingested events.
	serveLog := log
	if cfg.Logging.ToDB {
		dbHandler := handler.New(app, st.DB(), handler.Options{
			LoggerName: "sqlog.serve",
			Level:      logLevel,
			OnError: func(err error) {
				log.Warn("failed to persist own record", "error", err)
			},
		})
		serveLog = slog.New(handler.Fanout(textHandler, dbHandler))
		slog.SetDefault(serveLog)
		slog.Info("persisting own records", "logger_name", "sqlog.serve")
	}

	srv := server.New(app, st.DB(), server.Options{
		Addr:          cfg.Server.Addr,
		AuthToken:     cfg.Server.AuthToken,
		GenerateToken: opts.GenToken,
		Tokens:        opts.Tokens,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		Logger:        serveLog,
	})

	// Use command's context if available (for testing), otherwise create one
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Ingest server listening on %s\n", cfg.Server.Addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "server error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
