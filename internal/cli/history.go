package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devpoll/devpoll/internal/config"
	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/store"
	"github.com/devpoll/devpoll/internal/ui"
)

// HistoryOptions holds the history command's flags.
type HistoryOptions struct {
	Store   string
	Host    string
	RunID   string
	Limit   int
	Runs    bool
	Markers bool
	JSON    bool
}

var historyOpts HistoryOptions

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show results recorded with --store",
	Long: `Show poll results from a results database, newest first.

The database is the one given with --store here, or output.store in the
config file.

Examples:
  devpoll history --store sqlite:results.db --host core-1
  devpoll history --runs
  devpoll history --run 7c9e6679-7425-40de-944b-e07fc1f90ae7 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd.Context(), cmd.OutOrStdout(), historyOpts)
	},
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyOpts.Store, "store", "", "results database (sqlite:path or postgres://...)")
	f.StringVar(&historyOpts.Host, "host", "", "only this host")
	f.StringVar(&historyOpts.RunID, "run", "", "only this run")
	f.IntVar(&historyOpts.Limit, "limit", store.DefaultHistoryLimit, "maximum rows")
	f.BoolVar(&historyOpts.Runs, "runs", false, "list runs instead of results")
	f.BoolVar(&historyOpts.Markers, "markers", false, "include end-of-run markers")
	f.BoolVar(&historyOpts.JSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context, w io.Writer, opts HistoryOptions) error {
	dsn := opts.Store
	if dsn == "" {
		cfg, _, err := config.LoadOrDefault(configFlag)
		if err != nil {
			return err
		}
		dsn = cfg.Output.Store
	}
	if dsn == "" {
		return errors.New(errors.ErrConfig,
			"No results database",
			"Pass --store or set output.store in "+config.ConfigFileName)
	}

	st, err := store.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.Runs {
		runs, err := st.Runs(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return printRuns(w, runs, opts.JSON)
	}

	rows, err := st.History(ctx, store.HistoryQuery{
		Host:       opts.Host,
		RunID:      opts.RunID,
		IncludeEnd: opts.Markers,
		Limit:      opts.Limit,
	})
	if err != nil {
		return err
	}
	return printHistory(w, rows, opts.JSON)
}

func printRuns(w io.Writer, runs []store.Run, asJSON bool) error {
	if asJSON {
		if runs == nil {
			runs = []store.Run{}
		}
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	titles := []string{"RUN", "STARTED", "DURATION", "HOSTS", "COMPLETED", "ABORTED", "POLLS", "FAILED"}
	cells := make([][]string, len(runs))
	for i, r := range runs {
		took := "running"
		if !r.FinishedAt.IsZero() {
			took = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		cells[i] = []string{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			took,
			strconv.Itoa(r.Hosts),
			strconv.Itoa(r.Completed),
			strconv.Itoa(r.Aborted),
			strconv.Itoa(r.Results),
			strconv.Itoa(r.Failed),
		}
	}
	fmt.Fprintln(w, ui.RenderSimpleTable(ui.FitColumns(titles, cells, 40), cells))
	return nil
}

func printHistory(w io.Writer, rows []store.Row, asJSON bool) error {
	if asJSON {
		if rows == nil {
			rows = []store.Row{}
		}
		return writeJSON(w, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No results recorded.")
		return nil
	}

	titles := []string{"TIME", "HOST", "SEQ", "LATENCY", "RESULT"}
	cells := make([][]string, len(rows))
	for i, r := range rows {
		seq := strconv.Itoa(r.Seq)
		result := firstLine(r.Output)
		switch {
		case r.End:
			seq = "end"
			result = fmt.Sprintf("%s after %d polls", r.State, r.Ticks)
		case r.Failed():
			result = ui.SymbolFail + " " + r.ErrorKind + ": " + firstLine(r.Error)
		}
		cells[i] = []string{
			r.Timestamp.Local().Format(time.DateTime),
			r.Host,
			seq,
			fmt.Sprintf("%.0fms", r.LatencyMS),
			result,
		}
	}
	fmt.Fprintln(w, ui.RenderSimpleTable(ui.FitColumns(titles, cells, 60), cells))
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i]) + " ..."
	}
	return s
}
