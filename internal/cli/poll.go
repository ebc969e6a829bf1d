package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devpoll/devpoll/internal/config"
	"github.com/devpoll/devpoll/internal/dashboard"
	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/logger"
	"github.com/devpoll/devpoll/internal/poll"
	"github.com/devpoll/devpoll/internal/server"
	"github.com/devpoll/devpoll/internal/sink"
	"github.com/devpoll/devpoll/internal/store"
	"github.com/devpoll/devpoll/internal/transport"
	"github.com/devpoll/devpoll/pkg/sshutil"
)

// Exit codes for poll.
const (
	exitAborted     = 2
	exitInterrupted = 130
)

// PollOptions holds the poll command's flags. Zero values leave the
// config file's setting alone.
type PollOptions struct {
	Hosts   []string
	Tags    []string
	Devices string

	Command     string
	Interval    time.Duration
	Duration    time.Duration
	Timeout     time.Duration
	Concurrency int
	Threshold   int
	Session     string
	DeviceType  string
	Protocol    string
	Port        int

	User        string
	KeyFile     string
	AskPassword bool
	InsecureKey bool
	KnownHosts  string
	SSHConfig   string

	Output     string
	CSV        string
	LogDir     string
	Store      string
	Listen     string
	HideOutput bool
}

var pollOpts PollOptions

var pollCmd = &cobra.Command{
	Use:   "poll [hosts...]",
	Short: "Run a command on hosts at a fixed interval",
	Long: `Poll every selected host: run the command once per interval until the
duration elapses, and stream each result as it arrives.

Hosts come from the config file, from --devices (one "hostname, ipv4" per
line), or straight from the command line; a name that isn't in the config
is polled as an ad-hoc host at that address.

A host that fails --threshold polls in a row is marked unreachable and
stops early. The exit status is 2 when any host stopped early.

Examples:
  devpoll poll core-1 core-2 --command "display version" -i 5s -d 1m
  devpoll poll --tag edge --output dashboard
  devpoll poll --devices devices.lst --user admin --ask-password --csv report.csv
  devpoll poll --protocol snmp --command "1.3.6.1.2.1.1.3.0" --store sqlite:results.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := pollOpts
		opts.Hosts = append(append([]string{}, args...), opts.Hosts...)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env := defaultPollEnv(cmd.OutOrStdout(), cmd.ErrOrStderr())
		summary, err := runPoll(ctx, opts, env)
		sshutil.CloseAgent()
		if err != nil {
			return err
		}
		return pollExit(ctx, summary)
	},
}

func init() {
	f := pollCmd.Flags()
	f.StringSliceVar(&pollOpts.Hosts, "hosts", nil, "hosts to poll (comma-separated names or addresses)")
	f.StringSliceVar(&pollOpts.Tags, "tag", nil, "only poll hosts with one of these tags")
	f.StringVar(&pollOpts.Devices, "devices", "", "file of 'hostname, ipv4' lines to poll")

	f.StringVarP(&pollOpts.Command, "command", "c", "", "command to run on every host")
	f.DurationVarP(&pollOpts.Interval, "interval", "i", 0, "time between polls (e.g. 5s)")
	f.DurationVarP(&pollOpts.Duration, "duration", "d", 0, "how long to keep polling (e.g. 10m)")
	f.DurationVar(&pollOpts.Timeout, "timeout", 0, "limit for a single command")
	f.IntVar(&pollOpts.Concurrency, "concurrency", 0, "hosts polled at once")
	f.IntVar(&pollOpts.Threshold, "threshold", 0, "consecutive failures before a host is unreachable")
	f.StringVar(&pollOpts.Session, "session", "", "session reuse: auto, per-call or persistent")
	f.StringVar(&pollOpts.DeviceType, "device-type", "", "device dialect for error detection (e.g. huawei, cisco_ios)")
	f.StringVar(&pollOpts.Protocol, "protocol", "", "transport: ssh, winrm or snmp")
	f.IntVar(&pollOpts.Port, "port", 0, "port for every host")

	f.StringVarP(&pollOpts.User, "user", "u", "", "login user for hosts without a credential")
	f.StringVar(&pollOpts.KeyFile, "key", "", "private key for hosts without a credential")
	f.BoolVar(&pollOpts.AskPassword, "ask-password", false, "prompt for passwords that aren't configured")
	f.BoolVar(&pollOpts.InsecureKey, "insecure-host-key", false, "skip SSH host key checks")
	f.StringVar(&pollOpts.KnownHosts, "known-hosts", "", "SSH known_hosts file (default ~/.ssh/known_hosts)")
	f.StringVar(&pollOpts.SSHConfig, "ssh-config", "", "ssh_config file for host aliases, or - to ignore it")

	f.StringVarP(&pollOpts.Output, "output", "o", "", "stream, json, csv, dashboard or quiet")
	f.StringVar(&pollOpts.CSV, "csv", "", "append every result to this CSV file")
	f.StringVar(&pollOpts.LogDir, "log-dir", "", "write per-host logs under this directory")
	f.StringVar(&pollOpts.Store, "store", "", "record results in a database (sqlite:path or postgres://...)")
	f.StringVar(&pollOpts.Listen, "listen", "", "serve the status API and /metrics on this address")
	f.BoolVar(&pollOpts.HideOutput, "no-output", false, "stream status lines only, without command output")

	_ = pollCmd.RegisterFlagCompletionFunc("output", cobra.FixedCompletions(config.OutputFormats, cobra.ShellCompDirectiveNoFileComp))
	_ = pollCmd.RegisterFlagCompletionFunc("protocol", cobra.FixedCompletions(config.Protocols, cobra.ShellCompDirectiveNoFileComp))
	_ = pollCmd.RegisterFlagCompletionFunc("session", cobra.FixedCompletions([]string{"auto", "per-call", "persistent"}, cobra.ShellCompDirectiveNoFileComp))
	_ = pollCmd.RegisterFlagCompletionFunc("device-type", cobra.FixedCompletions(transport.DialectNames(), cobra.ShellCompDirectiveNoFileComp))

	rootCmd.AddCommand(pollCmd)
}

// pollEnv holds what runPoll takes from the outside world.
type pollEnv struct {
	stdout, stderr io.Writer
	// interactive is true when stdout is a terminal.
	interactive bool
	log         logger.Logger
	prompt      config.PromptFunc
	transport   func(cfg *config.Config) poll.Transport
	runID       func() string
}

func defaultPollEnv(stdout, stderr io.Writer) pollEnv {
	return pollEnv{
		stdout:      stdout,
		stderr:      stderr,
		interactive: isTerminal(stdout),
		log:         newLogger(stderr),
		prompt:      config.TerminalPrompt(stderr),
		transport: func(cfg *config.Config) poll.Transport {
			return transport.Default(transportOptions(cfg))
		},
		runID: uuid.NewString,
	}
}

// transportOptions maps the ssh, winrm and snmp sections onto the
// transports. Zero values keep each transport's own default.
func transportOptions(cfg *config.Config) transport.Options {
	return transport.Options{
		SSH: transport.SSHOptions{
			DialTimeout:    cfg.SSH.DialTimeout,
			KnownHostsFile: cfg.SSH.KnownHosts,
			SSHConfigFile:  cfg.SSH.ConfigFile,
		},
		WinRM: transport.WinRMOptions{
			HTTPS:    cfg.WinRM.HTTPS,
			Insecure: cfg.WinRM.Insecure,
			Timeout:  cfg.Defaults.Timeout,
		},
		SNMP: transport.SNMPOptions{
			Timeout: cfg.SNMP.Timeout,
			Retries: cfg.SNMP.Retries,
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// runPoll loads config, polls the selected hosts into the configured sinks
// and returns the run summary.
func runPoll(ctx context.Context, opts PollOptions, env pollEnv) (*poll.Summary, error) {
	if env.log == nil {
		env.log = logger.Noop()
	}
	log := env.log

	cfg, path, err := config.LoadOrDefault(configFlag)
	if err != nil {
		return nil, err
	}
	if path != "" {
		log.Debug("config: %s", path)
	}

	if opts.Devices != "" {
		devices, err := config.LoadDevices(opts.Devices)
		if err != nil {
			return nil, err
		}
		cfg.Hosts = append(cfg.Hosts, devices...)
		if len(opts.Hosts) == 0 && len(opts.Tags) == 0 {
			for _, d := range devices {
				opts.Hosts = append(opts.Hosts, d.Name)
			}
		}
	}
	applyPollFlags(cfg, opts)

	if err := config.Validate(cfg, config.WithDialects(transport.DialectNames()), config.RequireCommand()); err != nil {
		return nil, err
	}

	hosts := config.Select(cfg, config.Filter{Names: opts.Hosts, Tags: opts.Tags})
	if len(hosts) == 0 {
		return nil, errors.New(errors.ErrConfig,
			"No hosts to poll",
			"Name hosts on the command line, pass --devices, or add hosts to "+config.ConfigFileName)
	}
	jobs, err := config.Jobs(cfg, hosts)
	if err != nil {
		return nil, err
	}

	var prompt config.PromptFunc
	if opts.AskPassword {
		prompt = env.prompt
	}
	creds := config.NewCredentials(cfg.Credentials, config.Credential{
		Username:        opts.User,
		KeyFile:         config.ExpandTilde(opts.KeyFile),
		InsecureHostKey: opts.InsecureKey,
	}, prompt)
	if err := creds.Preload(credentialRefs(jobs)); err != nil {
		return nil, err
	}

	format := cfg.Output.Format
	if format == "dashboard" && !env.interactive {
		log.Warn("dashboard needs a terminal, streaming instead")
		format = "stream"
	}
	// Per-tick warnings would tear up the dashboard.
	poolLog := log
	if format == "dashboard" {
		poolLog = logger.Noop()
	}

	policy, err := poll.ParsePolicy(cfg.Defaults.Session)
	if err != nil {
		return nil, err
	}
	pool := poll.NewHostPool(env.transport(cfg), creds, poll.Options{
		MaxConcurrency:   cfg.Concurrency,
		FailureThreshold: cfg.FailureThreshold,
		Timeout:          cfg.Defaults.Timeout,
		Policy:           policy,
	}, poolLog)

	runID := env.runID()
	log.Info("run %s: %d host(s), %s every %s for %s", runID, len(jobs),
		quoteCommand(cfg.Defaults.Command), cfg.Defaults.Interval, cfg.Defaults.Duration)
	noColor := cfg.Output.Color == "never" ||
		(cfg.Output.Color == "auto" && (!env.interactive || os.Getenv("NO_COLOR") != ""))

	out, err := openSinks(ctx, cfg, format, runID, jobs, env, noColor, opts.HideOutput)
	if err != nil {
		return nil, err
	}

	run := func(ctx context.Context, extra poll.Sink) (*poll.Summary, error) {
		out.multi.Add(extra)
		return pool.Run(ctx, jobs, out.multi)
	}

	var summary *poll.Summary
	var runErr error
	if format == "dashboard" {
		summary, runErr = dashboard.Run(ctx, jobs, run)
	} else {
		summary, runErr = run(ctx, nil)
	}

	closeErr := out.close()
	if summary == nil {
		return nil, runErr
	}
	if cfg.Output.LogDir != "" {
		removed, err := sink.Prune(cfg.Output.LogDir, sink.Retention{KeepRuns: cfg.Output.KeepRuns, KeepDays: cfg.Output.KeepDays})
		if err != nil {
			log.Warn("%s", errors.OneLine(err))
		} else if removed > 0 {
			log.Info("removed %d old run director%s", removed, plural(removed, "y", "ies"))
		}
	}

	if format != "json" && format != "csv" {
		printSummary(env.stderr, summary, out.logDir, noColor)
	}
	if runErr != nil {
		return summary, runErr
	}
	return summary, closeErr
}

// applyPollFlags copies set flags over the loaded config.
func applyPollFlags(cfg *config.Config, opts PollOptions) {
	d := &cfg.Defaults
	if opts.Command != "" {
		d.Command = opts.Command
	}
	if opts.Interval > 0 {
		d.Interval = opts.Interval
	}
	if opts.Duration > 0 {
		d.Duration = opts.Duration
	}
	if opts.Timeout > 0 {
		d.Timeout = opts.Timeout
	}
	if opts.Session != "" {
		d.Session = opts.Session
	}
	if opts.DeviceType != "" {
		d.DeviceType = opts.DeviceType
	}
	if opts.Protocol != "" {
		d.Protocol = opts.Protocol
	}
	if opts.Port > 0 {
		d.Port = opts.Port
	}
	if opts.Concurrency > 0 {
		cfg.Concurrency = opts.Concurrency
	}
	if opts.Threshold > 0 {
		cfg.FailureThreshold = opts.Threshold
	}
	// A schedule flag also beats the hosts' own settings.
	for i := range cfg.Hosts {
		h := &cfg.Hosts[i]
		if opts.Command != "" {
			h.Command = ""
		}
		if opts.Interval > 0 {
			h.Interval = 0
		}
		if opts.Duration > 0 {
			h.Duration = 0
		}
		if opts.Timeout > 0 {
			h.Timeout = 0
		}
		if opts.Session != "" {
			h.Session = ""
		}
		if opts.Threshold > 0 {
			h.FailureThreshold = 0
		}
	}
	if opts.KnownHosts != "" {
		cfg.SSH.KnownHosts = config.ExpandTilde(opts.KnownHosts)
	}
	if opts.SSHConfig != "" {
		cfg.SSH.ConfigFile = config.ExpandTilde(opts.SSHConfig)
	}

	o := &cfg.Output
	if opts.Output != "" {
		o.Format = opts.Output
	}
	if opts.CSV != "" {
		o.CSV = config.ExpandTilde(opts.CSV)
	}
	if opts.LogDir != "" {
		o.LogDir = config.ExpandTilde(opts.LogDir)
	}
	if opts.Store != "" {
		o.Store = opts.Store
	}
	if opts.Listen != "" {
		o.Listen = opts.Listen
	}
	if noColorFlag {
		o.Color = "never"
	}
}

func credentialRefs(jobs []poll.PollJob) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, j := range jobs {
		if !seen[j.Host.CredentialRef] {
			seen[j.Host.CredentialRef] = true
			refs = append(refs, j.Host.CredentialRef)
		}
	}
	return refs
}

func quoteCommand(c string) string {
	if strings.ContainsAny(c, " \t") {
		return "'" + c + "'"
	}
	return c
}

// pollExit turns the outcome into an exit status.
func pollExit(ctx context.Context, summary *poll.Summary) error {
	if ctx.Err() != nil {
		return &exitError{code: exitInterrupted}
	}
	if !summary.Success() {
		return &exitError{code: exitAborted}
	}
	return nil
}

// runSinks is everything a run writes to, plus the resources behind it.
type runSinks struct {
	multi   *sink.Multi
	logDir  string
	closers []func() error
}

func (r *runSinks) close() error {
	first := r.multi.Close()
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openSinks(ctx context.Context, cfg *config.Config, format, runID string, jobs []poll.PollJob,
	env pollEnv, noColor, hideOutput bool) (out *runSinks, err error) {
	out = &runSinks{multi: sink.NewMulti()}
	defer func() {
		if err != nil {
			_ = out.close()
		}
	}()

	switch format {
	case "stream":
		out.multi.Add(sink.NewStream(env.stdout, sink.StreamOptions{NoColor: noColor, HideOutput: hideOutput}))
	case "json":
		out.multi.Add(sink.NewJSONLines(env.stdout, runID))
	case "csv":
		c, err := sink.NewCSV(env.stdout, runID)
		if err != nil {
			return out, err
		}
		out.multi.Add(c)
	}

	if cfg.Output.CSV != "" {
		c, err := sink.OpenCSV(cfg.Output.CSV, runID)
		if err != nil {
			return out, err
		}
		out.multi.Add(c)
	}

	if cfg.Output.LogDir != "" {
		l, err := sink.NewLogDir(cfg.Output.LogDir, runID, jobs)
		if err != nil {
			return out, err
		}
		out.logDir = l.Dir()
		out.multi.Add(l)
	}

	if cfg.Output.Store != "" {
		st, err := store.Open(ctx, cfg.Output.Store)
		if err != nil {
			return out, err
		}
		out.closers = append(out.closers, st.Close)
		w, err := st.StartRun(ctx, runID, jobs, store.WriterOptions{Log: env.log})
		if err != nil {
			return out, err
		}
		out.multi.Add(w)
	}

	if cfg.Output.Listen != "" {
		stop, err := startStatusServer(cfg.Output.Listen, runID, jobs, out.multi, env.log)
		if err != nil {
			return out, err
		}
		out.closers = append(out.closers, stop)
	}
	return out, nil
}

// startStatusServer serves the status API until the returned stop func is called.
func startStatusServer(addr, runID string, jobs []poll.PollJob, multi *sink.Multi, log logger.Logger) (func() error, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	status := server.NewStatus(jobs, reg)
	srv := server.New(runID, status, reg, log)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, addr, ready) }()

	select {
	case <-ready:
	case err := <-errCh:
		cancel()
		return nil, err
	}
	multi.Add(status)
	return func() error {
		cancel()
		return <-errCh
	}, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// pollSummaryLine is the first line printSummary writes, exposed for tests.
func pollSummaryLine(s *poll.Summary) string {
	completed, aborted := s.Counts()
	total, failed := s.Results()
	return fmt.Sprintf("Polled %d host%s in %s: %d completed, %d aborted; %d poll%s, %d failed",
		len(s.Hosts), plural(len(s.Hosts), "", "s"), sink.FormatDuration(s.Duration()),
		completed, aborted, total, plural(total, "", "s"), failed)
}
