package config

import "time"

// CurrentConfigVersion is the schema version for the config file.
const CurrentConfigVersion = 1

// Config represents the complete devpoll.yaml file.
type Config struct {
	Version          int                   `yaml:"version" mapstructure:"version"`
	Concurrency      int                   `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=1,lte=10000"`
	FailureThreshold int                   `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=1"`
	Defaults         Defaults              `yaml:"defaults" mapstructure:"defaults"`
	Credentials      map[string]Credential `yaml:"credentials,omitempty" mapstructure:"credentials" validate:"dive"`
	Hosts            []Host                `yaml:"hosts" mapstructure:"hosts" validate:"dive"`
	Output           OutputConfig          `yaml:"output" mapstructure:"output"`
	SSH              SSHConfig             `yaml:"ssh,omitempty" mapstructure:"ssh"`
	WinRM            WinRMConfig           `yaml:"winrm,omitempty" mapstructure:"winrm"`
	SNMP             SNMPConfig            `yaml:"snmp,omitempty" mapstructure:"snmp"`
}

// Defaults apply to every host that doesn't set its own value.
type Defaults struct {
	Command    string        `yaml:"command,omitempty" mapstructure:"command"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval" validate:"gt=0"`
	Duration   time.Duration `yaml:"duration" mapstructure:"duration" validate:"gt=0"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	Session    string        `yaml:"session" mapstructure:"session"`
	DeviceType string        `yaml:"device_type,omitempty" mapstructure:"device_type"`
	Protocol   string        `yaml:"protocol,omitempty" mapstructure:"protocol"`
	Credential string        `yaml:"credential,omitempty" mapstructure:"credential"`
	Port       int           `yaml:"port,omitempty" mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Credential is a named set of login material. Secrets can come from the
// file itself, an environment variable, or a file on disk.
type Credential struct {
	Username        string `yaml:"username,omitempty" mapstructure:"username"`
	Password        string `yaml:"password,omitempty" mapstructure:"password"`
	PasswordEnv     string `yaml:"password_env,omitempty" mapstructure:"password_env"`
	PasswordFile    string `yaml:"password_file,omitempty" mapstructure:"password_file"`
	KeyFile         string `yaml:"key_file,omitempty" mapstructure:"key_file"`
	Passphrase      string `yaml:"passphrase,omitempty" mapstructure:"passphrase"`
	Community       string `yaml:"community,omitempty" mapstructure:"community"`
	InsecureHostKey bool   `yaml:"insecure_host_key,omitempty" mapstructure:"insecure_host_key"`
}

// Host is one device to poll.
type Host struct {
	// Name identifies the host in output. Defaults to the address.
	Name    string `yaml:"name,omitempty" mapstructure:"name"`
	Address string `yaml:"address" mapstructure:"address" validate:"required"`
	Port    int    `yaml:"port,omitempty" mapstructure:"port" validate:"gte=0,lte=65535"`

	DeviceType string   `yaml:"device_type,omitempty" mapstructure:"device_type"`
	Protocol   string   `yaml:"protocol,omitempty" mapstructure:"protocol"`
	Credential string   `yaml:"credential,omitempty" mapstructure:"credential"`
	Tags       []string `yaml:"tags,omitempty" mapstructure:"tags"`

	// These override the matching defaults for this host.
	Command          string        `yaml:"command,omitempty" mapstructure:"command"`
	Interval         time.Duration `yaml:"interval,omitempty" mapstructure:"interval" validate:"gte=0"`
	Duration         time.Duration `yaml:"duration,omitempty" mapstructure:"duration" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout" validate:"gte=0"`
	Session          string        `yaml:"session,omitempty" mapstructure:"session"`
	FailureThreshold int           `yaml:"failure_threshold,omitempty" mapstructure:"failure_threshold" validate:"gte=0"`
}

// SSHConfig tunes the SSH transport.
type SSHConfig struct {
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" mapstructure:"dial_timeout" validate:"gte=0"`
	// KnownHosts defaults to ~/.ssh/known_hosts.
	KnownHosts string `yaml:"known_hosts,omitempty" mapstructure:"known_hosts"`
	// ConfigFile is read for host aliases. "-" skips ssh_config entirely.
	ConfigFile string `yaml:"config_file,omitempty" mapstructure:"config_file"`
}

// WinRMConfig tunes the WinRM transport.
type WinRMConfig struct {
	HTTPS    bool `yaml:"https,omitempty" mapstructure:"https"`
	Insecure bool `yaml:"insecure,omitempty" mapstructure:"insecure"`
}

// SNMPConfig tunes the SNMP transport.
type SNMPConfig struct {
	Timeout time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout" validate:"gte=0"`
	Retries int           `yaml:"retries,omitempty" mapstructure:"retries" validate:"gte=0,lte=10"`
}

// OutputConfig controls where results go.
type OutputConfig struct {
	// Format: "stream", "json", "csv", "dashboard" or "quiet".
	Format string `yaml:"format" mapstructure:"format"`

	// Color mode: "auto", "always", or "never".
	Color string `yaml:"color" mapstructure:"color"`

	// LogDir gets one <host>.log per host plus summary.json per run.
	LogDir string `yaml:"log_dir,omitempty" mapstructure:"log_dir"`

	// KeepRuns and KeepDays prune old run directories under LogDir.
	KeepRuns int `yaml:"keep_runs,omitempty" mapstructure:"keep_runs" validate:"gte=0"`
	KeepDays int `yaml:"keep_days,omitempty" mapstructure:"keep_days" validate:"gte=0"`

	// CSV is a file path receiving every result as a row.
	CSV string `yaml:"csv,omitempty" mapstructure:"csv"`

	// Store is a database DSN: sqlite:<path> or postgres://...
	Store string `yaml:"store,omitempty" mapstructure:"store"`

	// Listen serves /metrics and the host status API while polling.
	Listen string `yaml:"listen,omitempty" mapstructure:"listen"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:          CurrentConfigVersion,
		Concurrency:      20,
		FailureThreshold: 3,
		Defaults: Defaults{
			Interval: 5 * time.Second,
			Duration: time.Minute,
			Timeout:  30 * time.Second,
			Session:  "auto",
			Protocol: "ssh",
		},
		Credentials: make(map[string]Credential),
		Output: OutputConfig{
			Format: "stream",
			Color:  "auto",
		},
	}
}
