package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlog/internal/appender"
	"github.com/roach88/sqlog/internal/event"
	"github.com/roach88/sqlog/internal/store"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	Database   string
	Message    string
	Level      string
	Logger     string
	Thread     string
	Timestamp  int64
	Properties []string
	Context    []string
	TraceLines []string
	Caller     string
	Policy     string
}

// AppendResult holds what append reports for a persisted event.
type AppendResult struct {
	EventID    int64 `json:"event_id"`
	Properties int   `json:"properties"`
	TraceLines int   `json:"trace_lines"`
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append one event to the database",
		Long: `Append a single log event built from flags.

The parent row is written first, then one property row per merged
key (event-scope --property beats context-scope --context on
collision), then one exception row per --trace-line.

Example:
  sqlog append --db ./sqlog.db --message "payment captured" --level WARN \
    --logger com.example.billing --context env=prod --property order=o-991 \
    --trace-line "gateway timeout" --trace-line "caused by: i/o timeout"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Message, "message", "", "formatted message (required)")
	cmd.Flags().StringVar(&opts.Level, "level", "INFO", "level string")
	cmd.Flags().StringVar(&opts.Logger, "logger", "root", "logger name")
	cmd.Flags().StringVar(&opts.Thread, "thread", "", "thread name")
	cmd.Flags().Int64Var(&opts.Timestamp, "timestamp", 0, "event time as epoch milliseconds (0 = now)")
	cmd.Flags().StringArrayVar(&opts.Properties, "property", nil, "event-scope property as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Context, "context", nil, "context-scope property as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.TraceLines, "trace-line", nil, "stack trace line (repeatable, ordered)")
	cmd.Flags().StringVar(&opts.Caller, "caller", "", "caller as file:class:method:line")
	cmd.Flags().StringVar(&opts.Policy, "policy", "warn", "rows-affected mismatch policy (warn|abort)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

func runAppend(opts *AppendOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	policy, err := policyFromName(opts.Policy)
	if err != nil {
		return commandError(formatter, ExitCommandError, ErrCodeBadFlag, err.Error())
	}

	ev, err := eventFromFlags(opts)
	if err != nil {
		return commandError(formatter, ExitCommandError, ErrCodeBadFlag, err.Error())
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return commandError(formatter, ExitCommandError, ErrCodeOpenFailed,
			fmt.Sprintf("opening database: %v", err))
	}
	defer st.Close()

	app := appender.New(appender.SQLite, appender.WithMismatchPolicy(policy))

	formatter.VerboseLog("appending %q to %s", ev.Message, opts.Database)

	id, err := app.Append(cmd.Context(), st.DB(), ev)
	if err != nil {
		_ = formatter.Error(ErrCodeAppend, fmt.Sprintf("append failed: %v", err), nil)
		return WrapExitError(ExitFailure, "append failed", err)
	}

	result := AppendResult{
		EventID:    id,
		Properties: len(ev.MergedProperties()),
		TraceLines: len(ev.Throwable),
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Appended event %d", result.EventID)
	if result.Properties > 0 {
		fmt.Fprintf(formatter.Writer, " (%d properties)", result.Properties)
	}
	if result.TraceLines > 0 {
		fmt.Fprintf(formatter.Writer, " (%d trace lines)", result.TraceLines)
	}
	fmt.Fprintln(formatter.Writer)
	return nil
}

func policyFromName(name string) (appender.MismatchPolicy, error) {
	switch name {
	case "warn", "":
		return appender.MismatchWarn, nil
	case "abort":
		return appender.MismatchAbort, nil
	default:
		return appender.MismatchWarn, fmt.Errorf("invalid --policy %q: must be warn or abort", name)
	}
}

func eventFromFlags(opts *AppendOptions) (*event.Event, error) {
	ts := opts.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	ev := &event.Event{
		Timestamp:  ts,
		Message:    opts.Message,
		LoggerName: opts.Logger,
		Level:      opts.Level,
		ThreadName: opts.Thread,
		Throwable:  opts.TraceLines,
	}

	var err error
	if ev.EventProperties, err = parsePairs(opts.Properties); err != nil {
		return nil, fmt.Errorf("invalid --property: %w", err)
	}
	if ev.ContextProperties, err = parsePairs(opts.Context); err != nil {
		return nil, fmt.Errorf("invalid --context: %w", err)
	}

	if opts.Caller != "" {
		frame, err := parseCaller(opts.Caller)
		if err != nil {
			return nil, err
		}
		ev.Caller = []event.CallerFrame{frame}
	}

	return ev, nil
}

func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed pair %q, want key=value", p)
		}
		m[k] = v
	}
	return m, nil
}

func parseCaller(s string) (event.CallerFrame, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return event.CallerFrame{}, fmt.Errorf("malformed --caller %q, want file:class:method:line", s)
	}
	line, err := strconv.Atoi(parts[3])
	if err != nil {
		return event.CallerFrame{}, fmt.Errorf("malformed --caller line %q: %w", parts[3], err)
	}
	return event.CallerFrame{
		File:   parts[0],
		Class:  parts[1],
		Method: parts[2],
		Line:   line,
	}, nil
}
