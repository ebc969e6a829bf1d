package cli

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/devpoll/devpoll/internal/config"
	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/transport"
	"github.com/devpoll/devpoll/internal/ui"
)

// InitOptions holds options for the init command.
type InitOptions struct {
	Path           string // Where to write; default ./devpoll.yaml
	Address        string // First host's address
	Name           string // First host's name
	DeviceType     string
	Protocol       string
	User           string
	Command        string
	Overwrite      bool // Overwrite existing config without asking
	NonInteractive bool // Skip prompts
}

var initOpts InitOptions

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a devpoll.yaml config",
	Long: `Create devpoll.yaml in the current directory with one host, a default
command and a credential entry.

Runs an interactive form on a terminal. In scripts, pass the values as
flags (or DEVPOLL_INIT_* variables) with --non-interactive.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := mergeInitDefaults(initOpts, getInitDefaults())
		if !opts.NonInteractive && !isTerminal(cmd.OutOrStdout()) {
			opts.NonInteractive = true
		}
		return Init(cmd.OutOrStdout(), opts)
	},
}

func init() {
	f := initCmd.Flags()
	f.StringVar(&initOpts.Path, "path", "", "file to write (default ./"+config.ConfigFileName+")")
	f.StringVar(&initOpts.Address, "address", "", "address of the first host")
	f.StringVar(&initOpts.Name, "name", "", "name of the first host")
	f.StringVar(&initOpts.DeviceType, "device-type", "", "device dialect (e.g. huawei, cisco_ios)")
	f.StringVar(&initOpts.Protocol, "protocol", "", "ssh, winrm or snmp")
	f.StringVar(&initOpts.User, "user", "", "login user")
	f.StringVar(&initOpts.Command, "command", "", "command to poll")
	f.BoolVar(&initOpts.Overwrite, "force", false, "overwrite an existing config")
	f.BoolVar(&initOpts.NonInteractive, "non-interactive", false, "don't prompt")
	rootCmd.AddCommand(initCmd)
}

// getInitDefaults reads DEVPOLL_INIT_* variables. CI=true implies
// non-interactive.
func getInitDefaults() InitOptions {
	return InitOptions{
		Address:        os.Getenv("DEVPOLL_INIT_ADDRESS"),
		Name:           os.Getenv("DEVPOLL_INIT_NAME"),
		DeviceType:     os.Getenv("DEVPOLL_INIT_DEVICE_TYPE"),
		User:           os.Getenv("DEVPOLL_INIT_USER"),
		Command:        os.Getenv("DEVPOLL_INIT_COMMAND"),
		NonInteractive: os.Getenv("DEVPOLL_NON_INTERACTIVE") == "true" || os.Getenv("CI") == "true",
	}
}

// mergeInitDefaults fills empty flag values from env defaults.
func mergeInitDefaults(flags, env InitOptions) InitOptions {
	out := flags
	if out.Address == "" {
		out.Address = env.Address
	}
	if out.Name == "" {
		out.Name = env.Name
	}
	if out.DeviceType == "" {
		out.DeviceType = env.DeviceType
	}
	if out.User == "" {
		out.User = env.User
	}
	if out.Command == "" {
		out.Command = env.Command
	}
	out.NonInteractive = out.NonInteractive || env.NonInteractive
	return out
}

// Init writes a starter config.
func Init(w io.Writer, opts InitOptions) error {
	path := opts.Path
	if path == "" {
		path = filepath.Join(".", config.ConfigFileName)
	}

	if _, err := os.Stat(path); err == nil && !opts.Overwrite {
		if opts.NonInteractive {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Config file already exists: %s", path),
				"Use --force to overwrite")
		}
		var overwrite bool
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("'%s' already exists. Overwrite?", path)).
				Value(&overwrite),
		))
		if err := form.Run(); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get user input",
				"Try running with --force to overwrite")
		}
		if !overwrite {
			fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	}

	if opts.NonInteractive {
		if opts.Address == "" {
			return errors.New(errors.ErrConfig,
				"Host address is required in non-interactive mode",
				"Provide --address or run interactively")
		}
	} else if err := initForm(&opts); err != nil {
		return err
	}

	cfg := buildInitConfig(opts)
	if err := config.Validate(cfg, config.WithDialects(transport.DialectNames())); err != nil {
		return err
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}

	header := "# devpoll configuration\n# Run 'devpoll poll' to poll every host below, 'devpoll hosts' to list them.\n\n"
	// Credentials may hold passwords.
	if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Failed to write config file: %s", path),
			"Check directory permissions")
	}

	fmt.Fprintf(w, "%s Created %s\n\n", ui.SymbolSuccess, path)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  devpoll config validate  - Check the config")
	fmt.Fprintln(w, "  devpoll hosts            - List hosts")
	fmt.Fprintln(w, "  devpoll poll             - Start polling")
	return nil
}

func initForm(opts *InitOptions) error {
	if opts.Protocol == "" {
		opts.Protocol = transport.ProtocolSSH
	}
	dialects := []huh.Option[string]{huh.NewOption("generic", "")}
	for _, name := range transport.DialectNames() {
		if name != "generic" {
			dialects = append(dialects, huh.NewOption(name, name))
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Host address").
				Description("IPv4 address or DNS name of the first device").
				Placeholder("10.0.0.1").
				Value(&opts.Address).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("address is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Host name").
				Description("A friendly name for this device (optional)").
				Placeholder("core-1").
				Value(&opts.Name).
				Validate(func(s string) error {
					if strings.ContainsAny(s, " \t\n") {
						return fmt.Errorf("host name cannot contain whitespace")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Protocol").
				Options(huh.NewOptions(config.Protocols...)...).
				Value(&opts.Protocol),
			huh.NewSelect[string]().
				Title("Device type").
				Description("Picks the error markers and default command").
				Options(dialects...).
				Value(&opts.DeviceType),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Login user").
				Description("Leave empty for SSH config / SNMP community setups").
				Value(&opts.User),
			huh.NewInput().
				Title("Command").
				Description("What to run every interval; empty uses the device type's default").
				Value(&opts.Command),
		),
	)
	if err := form.Run(); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to get user input",
			"Check terminal compatibility or use --non-interactive")
	}
	return nil
}

// buildInitConfig turns answers into a config with one host.
func buildInitConfig(opts InitOptions) *config.Config {
	cfg := config.DefaultConfig()
	d := &cfg.Defaults
	if opts.Protocol != "" {
		d.Protocol = strings.ToLower(opts.Protocol)
	}
	d.DeviceType = opts.DeviceType
	d.Command = opts.Command
	if d.Command == "" {
		d.Command = transport.DialectFor(opts.DeviceType).DefaultCommand
	}

	host := config.Host{Name: opts.Name, Address: strings.TrimSpace(opts.Address)}
	if host.Name == "" && net.ParseIP(host.Address) == nil {
		host.Name = strings.SplitN(host.Address, ".", 2)[0]
	}

	if opts.User != "" {
		cfg.Credentials["default"] = config.Credential{
			Username:    opts.User,
			PasswordEnv: "DEVPOLL_PASSWORD",
		}
		d.Credential = "default"
	}
	cfg.Hosts = []config.Host{host}
	return cfg
}
