package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/devpoll/devpoll/internal/errors"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "devpoll.yaml"
	// GlobalConfigDir is the directory for global config.
	GlobalConfigDir = ".config/devpoll"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
	// EnvPrefix prefixes environment overrides, e.g. DEVPOLL_DEFAULTS_INTERVAL.
	EnvPrefix = "DEVPOLL"
)

// Load reads config from the specified path. Environment variables
// override scalar keys.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Run 'devpoll init' to create a config file, or specify one with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// LoadOrDefault loads config from the found path, or returns defaults
// (with environment overrides applied) when there is none.
func LoadOrDefault(explicit string) (*Config, string, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		cfg, err := parseConfig(newViper(), "environment")
		return cfg, "", err
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. devpoll.yaml in current directory
// 3. devpoll.yaml in parent directories (stops at git root or home)
// 4. ~/.config/devpoll/config.yaml (global defaults)
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	if p := filepath.Join(cwd, ConfigFileName); fileExists(p) {
		return p, nil
	}

	home, _ := os.UserHomeDir()
	dir := cwd
	for !isGitRoot(dir) {
		parent := filepath.Dir(dir)
		if parent == dir || (home != "" && parent == home) {
			break
		}
		dir = parent
		if p := filepath.Join(dir, ConfigFileName); fileExists(p) {
			return p, nil
		}
	}

	if home != "" {
		if p := filepath.Join(home, GlobalConfigDir, GlobalConfigFile); fileExists(p) {
			return p, nil
		}
	}

	return "", nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// setDefaults registers every scalar key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("failure_threshold", d.FailureThreshold)
	v.SetDefault("defaults.command", d.Defaults.Command)
	v.SetDefault("defaults.interval", d.Defaults.Interval)
	v.SetDefault("defaults.duration", d.Defaults.Duration)
	v.SetDefault("defaults.timeout", d.Defaults.Timeout)
	v.SetDefault("defaults.session", d.Defaults.Session)
	v.SetDefault("defaults.device_type", d.Defaults.DeviceType)
	v.SetDefault("defaults.protocol", d.Defaults.Protocol)
	v.SetDefault("defaults.credential", d.Defaults.Credential)
	v.SetDefault("defaults.port", d.Defaults.Port)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.color", d.Output.Color)
	v.SetDefault("output.log_dir", "")
	v.SetDefault("output.keep_runs", 0)
	v.SetDefault("output.keep_days", 0)
	v.SetDefault("output.csv", "")
	v.SetDefault("output.store", "")
	v.SetDefault("output.listen", "")
	v.SetDefault("ssh.dial_timeout", 0)
	v.SetDefault("ssh.known_hosts", "")
	v.SetDefault("ssh.config_file", "")
	v.SetDefault("winrm.https", false)
	v.SetDefault("winrm.insecure", false)
	v.SetDefault("snmp.timeout", 0)
	v.SetDefault("snmp.retries", 0)
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	for name, c := range cfg.Credentials {
		c.KeyFile = ExpandTilde(c.KeyFile)
		c.PasswordFile = ExpandTilde(c.PasswordFile)
		cfg.Credentials[name] = c
	}
	cfg.Output.LogDir = ExpandTilde(cfg.Output.LogDir)
	cfg.Output.CSV = ExpandTilde(cfg.Output.CSV)
	cfg.SSH.KnownHosts = ExpandTilde(cfg.SSH.KnownHosts)
	cfg.SSH.ConfigFile = ExpandTilde(cfg.SSH.ConfigFile)

	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// isGitRoot checks if a directory is a git repository root.
func isGitRoot(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

// ExpandTilde replaces ~ or ~/path with the user's home directory.
func ExpandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
