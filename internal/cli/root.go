package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devpoll/devpoll/internal/logger"
)

// Global flags
var (
	configFlag   string
	verboseCount int
	noColorFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "devpoll",
	Short: "Poll network devices on a schedule and collect the output",
	Long: `devpoll runs a command against many devices at a fixed interval for a
fixed window, over SSH, WinRM or SNMP, and streams every result as it
arrives.

Examples:
  devpoll poll core-1 core-2 --command "display version" --interval 5s --duration 1m
  devpoll poll --tag edge --output dashboard
  devpoll hosts
  devpoll history --store sqlite:results.db --host core-1`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default: ./devpoll.yaml, then parents, then ~/.config/devpoll/config.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verboseCount, "verbose", "v", "log more (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "disable colored output")
}

// newLogger builds the command logger on stderr at the -v level.
func newLogger(w io.Writer) logger.Logger {
	l := logger.NewLevelLogger(w, "devpoll", logger.LevelFromVerbosity(verboseCount))
	logger.SetDefault(l)
	return l
}

// exitError carries a process exit code without printing anything more.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command and exits on failure.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	os.Exit(reportError(os.Stderr, err))
}

// reportError prints err and returns the exit code for it.
func reportError(w io.Writer, err error) int {
	var exit *exitError
	if stderrors.As(err, &exit) {
		return exit.code
	}
	if isUnknownCommandError(err) {
		fmt.Fprintf(w, "%v\nRun 'devpoll --help' for usage.\n", err)
		return 1
	}
	fmt.Fprintln(w, err)
	return 1
}

func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag")
}
