package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/devpoll/devpoll/internal/config"
	"github.com/devpoll/devpoll/internal/transport"
	"github.com/devpoll/devpoll/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the devpoll config",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file for mistakes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateConfig(cmd.OutOrStdout())
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config, defaults and environment applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showConfig(cmd.OutOrStdout())
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the config file",
	Long: `Print a JSON schema for devpoll.yaml. Point your editor's YAML
language server at it for completion and inline validation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd, configShowCmd, configSchemaCmd)
	rootCmd.AddCommand(configCmd)
}

func validateConfig(w io.Writer) error {
	cfg, path, err := config.LoadOrDefault(configFlag)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg, config.WithDialects(transport.DialectNames())); err != nil {
		return err
	}
	if path == "" {
		path = "defaults (no config file found)"
	}
	fmt.Fprintf(w, "%s %s is valid: %d host%s, %d credential%s\n", ui.SymbolSuccess, path,
		len(cfg.Hosts), plural(len(cfg.Hosts), "", "s"),
		len(cfg.Credentials), plural(len(cfg.Credentials), "", "s"))
	return nil
}

func showConfig(w io.Writer) error {
	cfg, _, err := config.LoadOrDefault(configFlag)
	if err != nil {
		return err
	}
	// Secrets stay out of terminal scrollback.
	for name, c := range cfg.Credentials {
		if c.Password != "" {
			c.Password = "********"
		}
		if c.Passphrase != "" {
			c.Passphrase = "********"
		}
		if c.Community != "" {
			c.Community = "********"
		}
		cfg.Credentials[name] = c
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
