package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devpoll/devpoll/internal/config"
	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/ui"
	"github.com/devpoll/devpoll/pkg/sshutil"
)

var (
	hostsTags      []string
	hostsDevices   string
	hostsJSON      bool
	hostsSSHConfig string
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List the hosts devpoll would poll",
	Long: `List the configured hosts with the protocol, device type and credential
each one resolves to after defaults are applied.

With --ssh-config, list the aliases in an SSH config file instead, which
are valid host names for 'devpoll poll'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("ssh-config") {
			return listSSHAliases(cmd.OutOrStdout(), hostsSSHConfig, hostsJSON)
		}
		return listHosts(cmd.OutOrStdout(), hostsTags, hostsDevices, hostsJSON)
	},
}

func init() {
	hostsCmd.Flags().StringSliceVar(&hostsTags, "tag", nil, "only list hosts with one of these tags")
	hostsCmd.Flags().StringVar(&hostsDevices, "devices", "", "also list hosts from a 'hostname, ipv4' file")
	hostsCmd.Flags().BoolVar(&hostsJSON, "json", false, "print JSON instead of a table")
	hostsCmd.Flags().StringVar(&hostsSSHConfig, "ssh-config", "", "list aliases from this SSH config (default ~/.ssh/config)")
	hostsCmd.Flags().Lookup("ssh-config").NoOptDefVal = "~/.ssh/config"
	rootCmd.AddCommand(hostsCmd)
}

// hostRow is one resolved host, as printed by 'devpoll hosts --json'.
type hostRow struct {
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	Port       int      `json:"port,omitempty"`
	Protocol   string   `json:"protocol"`
	DeviceType string   `json:"device_type,omitempty"`
	Credential string   `json:"credential,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

func listHosts(w io.Writer, tags []string, devices string, asJSON bool) error {
	cfg, _, err := config.LoadOrDefault(configFlag)
	if err != nil {
		return err
	}
	if devices != "" {
		hosts, err := config.LoadDevices(devices)
		if err != nil {
			return err
		}
		cfg.Hosts = append(cfg.Hosts, hosts...)
	}

	// Command is irrelevant to listing.
	if cfg.Defaults.Command == "" {
		cfg.Defaults.Command = "-"
	}
	jobs, err := config.Jobs(cfg, config.Select(cfg, config.Filter{Tags: tags}))
	if err != nil {
		return err
	}

	rows := make([]hostRow, 0, len(jobs))
	for _, j := range jobs {
		h := j.Host
		protocol := h.Protocol
		if protocol == "" {
			protocol = "ssh"
		}
		rows = append(rows, hostRow{
			Name:       h.ID(),
			Address:    h.Address,
			Port:       h.Port,
			Protocol:   protocol,
			DeviceType: h.DeviceType,
			Credential: h.CredentialRef,
			Tags:       h.Tags,
		})
	}

	if asJSON {
		return writeJSON(w, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintf(w, "No hosts configured. Add some to %s or run 'devpoll init'.\n", config.ConfigFileName)
		return nil
	}

	titles := []string{"NAME", "ADDRESS", "PORT", "PROTOCOL", "DEVICE", "CREDENTIAL", "TAGS"}
	cells := make([][]string, len(rows))
	for i, r := range rows {
		port := "-"
		if r.Port > 0 {
			port = strconv.Itoa(r.Port)
		}
		cells[i] = []string{r.Name, r.Address, port, r.Protocol, dash(r.DeviceType), dash(r.Credential), dash(strings.Join(r.Tags, ","))}
	}
	fmt.Fprintln(w, ui.RenderSimpleTable(ui.FitColumns(titles, cells, 40), cells))
	return nil
}

func listSSHAliases(w io.Writer, path string, asJSON bool) error {
	var entries []sshutil.SSHHostEntry
	var err error
	if path == "" || path == "~/.ssh/config" {
		entries, err = sshutil.ParseSSHConfig()
	} else {
		entries, err = sshutil.ParseSSHConfigFile(config.ExpandTilde(path))
	}
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't read SSH config",
			"Check the file exists and is valid ssh_config syntax")
	}

	if asJSON {
		if entries == nil {
			entries = []sshutil.SSHHostEntry{}
		}
		return writeJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No SSH host aliases found.")
		return nil
	}
	titles := []string{"ALIAS", "DETAILS"}
	cells := make([][]string, len(entries))
	for i, e := range entries {
		cells[i] = []string{e.Alias, e.Description()}
	}
	fmt.Fprintln(w, ui.RenderSimpleTable(ui.FitColumns(titles, cells, 60), cells))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
