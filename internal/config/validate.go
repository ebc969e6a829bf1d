package config

import (
	"fmt"
	"net"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
)

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Known values for enumerated fields.
var (
	OutputFormats = []string{"stream", "json", "csv", "dashboard", "quiet"}
	ColorModes    = []string{"auto", "always", "never"}
	Protocols     = []string{"ssh", "winrm", "snmp"}
)

// ValidationOption controls validation behavior.
type ValidationOption func(*validationContext)

type validationContext struct {
	dialects   []string
	requireCmd bool
}

// WithDialects restricts device_type to the given names (and "" for generic).
func WithDialects(names []string) ValidationOption {
	return func(c *validationContext) { c.dialects = names }
}

// RequireCommand fails hosts that end up with no command to run.
func RequireCommand() ValidationOption {
	return func(c *validationContext) { c.requireCmd = true }
}

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config, opts ...ValidationOption) error {
	ctx := &validationContext{}
	for _, opt := range opts {
		opt(ctx)
	}

	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but devpoll only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade devpoll")
	}

	if err := validate.Struct(cfg); err != nil {
		return fieldError(err)
	}

	if _, err := poll.ParsePolicy(cfg.Defaults.Session); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Unknown session policy %q", cfg.Defaults.Session),
			"Use auto, per-call or persistent")
	}
	if err := oneOf("defaults.protocol", cfg.Defaults.Protocol, Protocols, true); err != nil {
		return err
	}
	if err := oneOf("output.format", cfg.Output.Format, OutputFormats, true); err != nil {
		return err
	}
	if err := oneOf("output.color", cfg.Output.Color, ColorModes, true); err != nil {
		return err
	}
	if cfg.Output.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Output.Listen); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("output.listen %q is not host:port", cfg.Output.Listen),
				"Use something like :9100 or 127.0.0.1:9100")
		}
	}
	if cfg.Defaults.Credential != "" {
		if _, ok := cfg.Credentials[cfg.Defaults.Credential]; !ok {
			return unknownCredential("defaults", cfg.Defaults.Credential, cfg)
		}
	}

	for name, c := range cfg.Credentials {
		if c.Password != "" && (c.PasswordEnv != "" || c.PasswordFile != "") {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Credential '%s' sets more than one password source", name),
				"Pick one of password, password_env or password_file")
		}
	}

	seen := make(map[string]int, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		if err := validateHost(ctx, cfg, i, h); err != nil {
			return err
		}
		id := h.Name
		if id == "" {
			id = h.Address
		}
		if prev, dup := seen[id]; dup {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Hosts %d and %d are both called '%s'", prev+1, i+1, id),
				"Give each host a unique name")
		}
		seen[id] = i
	}

	return nil
}

func validateHost(ctx *validationContext, cfg *Config, i int, h Host) error {
	where := fmt.Sprintf("hosts[%d] (%s)", i, hostLabel(h))

	if strings.ContainsAny(h.Name, " \t/") {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("%s: name can't contain spaces or slashes", where),
			"Names are used as log file names; keep them simple")
	}
	if err := oneOf(where+".protocol", h.Protocol, Protocols, true); err != nil {
		return err
	}
	if ctx.dialects != nil && h.DeviceType != "" {
		if err := oneOf(where+".device_type", h.DeviceType, ctx.dialects, false); err != nil {
			return err
		}
	}
	if h.Credential != "" {
		if _, ok := cfg.Credentials[h.Credential]; !ok {
			return unknownCredential(where, h.Credential, cfg)
		}
	}
	if h.Session != "" {
		if _, err := poll.ParsePolicy(h.Session); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("%s.session: '%s' isn't recognized", where, h.Session),
				"Use one of: auto, per-call, persistent")
		}
	}
	if ctx.requireCmd && h.Command == "" && cfg.Defaults.Command == "" {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("%s has no command to poll", where),
			"Set defaults.command, the host's command, or pass --command")
	}
	return nil
}

func oneOf(field, value string, allowed []string, allowEmpty bool) error {
	if value == "" && allowEmpty {
		return nil
	}
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("%s: '%s' isn't recognized", field, value),
		fmt.Sprintf("Use one of: %s", strings.Join(allowed, ", ")))
}

func unknownCredential(where, ref string, cfg *Config) error {
	names := make([]string, 0, len(cfg.Credentials))
	for n := range cfg.Credentials {
		names = append(names, n)
	}
	sort.Strings(names)
	suggestion := "Add it under 'credentials' in your config"
	if len(names) > 0 {
		suggestion = fmt.Sprintf("Defined credentials: %s", strings.Join(names, ", "))
	}
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("%s refers to unknown credential '%s'", where, ref), suggestion)
}

// fieldError turns validator output into one structured error naming the
// first offending field.
func fieldError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return errors.WrapWithCode(err, errors.ErrConfig, "Invalid config", "")
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")

	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", field)
	case "gt":
		msg = fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		msg = fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		msg = fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		msg = fmt.Sprintf("%s failed '%s' check", field, fe.Tag())
	}
	if len(verrs) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(verrs)-1)
	}
	return errors.WrapWithCode(err, errors.ErrConfig, msg, "Fix the value in your devpoll.yaml")
}
