package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlog/internal/appender"
	"github.com/roach88/sqlog/internal/store"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Database string
}

// InitResult holds what init reports after bootstrapping the database.
type InitResult struct {
	Path   string   `json:"path"`
	Tables []string `json:"tables"`
	Events int64    `json:"events"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or verify the event database",
		Long: `Create the SQLite event database with its three tables and indexes.

Running init against an existing database is safe: the schema is applied
with IF NOT EXISTS and existing rows are preserved.

Example:
  sqlog init --db ./sqlog.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return commandError(formatter, ExitCommandError, ErrCodeOpenFailed,
			fmt.Sprintf("opening database: %v", err))
	}
	defer st.Close()

	result := InitResult{
		Path: opts.Database,
		Tables: []string{
			appender.TableEvent,
			appender.TableProperty,
			appender.TableException,
		},
	}

	// Prove the parent table answers queries, and report how full it is.
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", appender.TableEvent)
	if err := st.DB().QueryRow(query).Scan(&result.Events); err != nil {
		return commandError(formatter, ExitCommandError, ErrCodeOpenFailed,
			fmt.Sprintf("verifying schema: %v", err))
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Database ready at %s\n", result.Path)
	fmt.Fprintf(formatter.Writer, "  tables: %s\n", strings.Join(result.Tables, ", "))
	fmt.Fprintf(formatter.Writer, "  events: %d\n", result.Events)
	return nil
}
