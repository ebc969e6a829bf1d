package poll

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
)

// Host identifies one device to poll.
type Host struct {
	Name          string   `json:"name,omitempty"`
	Address       string   `json:"address"`
	Port          int      `json:"port,omitempty"`
	DeviceType    string   `json:"device_type,omitempty"`
	Protocol      string   `json:"protocol,omitempty"`
	CredentialRef string   `json:"credential,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// ID returns the name if set, otherwise the address.
func (h Host) ID() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Address
}

// Credential is the resolved secret material for a host.
type Credential struct {
	Username   string
	Password   string
	KeyFile    string
	Passphrase string
	// Community is the SNMP community string.
	Community string
	// InsecureHostKey disables SSH host key verification.
	InsecureHostKey bool
}

// CredentialResolver turns a host's credential reference into a Credential.
type CredentialResolver interface {
	Resolve(ref string) (Credential, error)
}

// CredentialFunc adapts a function to CredentialResolver.
type CredentialFunc func(ref string) (Credential, error)

// Resolve calls f(ref).
func (f CredentialFunc) Resolve(ref string) (Credential, error) {
	return f(ref)
}

// Transport opens sessions to hosts. Implementations live in internal/transport.
type Transport interface {
	Open(ctx context.Context, host Host, cred Credential) (Session, error)
	// ReusableSessions reports whether a Session may run more than one command.
	ReusableSessions() bool
}

// HostReuser is implemented by transports whose session reuse depends on
// the host, such as one that dispatches on Host.Protocol.
type HostReuser interface {
	ReusableSessionsFor(Host) bool
}

// Session runs commands against one host. Run is never called
// concurrently, but Close may be called while a Run is in flight to
// abandon it.
type Session interface {
	Run(ctx context.Context, command string) (string, error)
	Close() error
}

// AliveChecker is implemented by sessions that can tell whether their
// connection is still up without running a command. A persistent runner
// checks a held session before reusing it and reopens it when the check
// fails.
type AliveChecker interface {
	Alive(ctx context.Context) bool
}

// Sink consumes the aggregated result stream.
type Sink interface {
	Write(PollResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(PollResult) error

// Write calls f(r).
func (f SinkFunc) Write(r PollResult) error {
	return f(r)
}

// SessionPolicy controls whether a runner keeps its session between ticks.
type SessionPolicy string

const (
	// PolicyAuto keeps the session when the transport supports reuse.
	PolicyAuto SessionPolicy = "auto"
	// PolicyPerCall opens and closes a session for every command.
	PolicyPerCall SessionPolicy = "per-call"
	// PolicyPersistent keeps one session for the host's whole run and
	// reopens it after a failure.
	PolicyPersistent SessionPolicy = "persistent"
)

// ParsePolicy parses a policy name. The empty string means PolicyAuto.
func ParsePolicy(s string) (SessionPolicy, error) {
	switch SessionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAuto:
		return PolicyAuto, nil
	case PolicyPerCall, "percall", "per_call":
		return PolicyPerCall, nil
	case PolicyPersistent:
		return PolicyPersistent, nil
	default:
		return "", errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown session policy %q", s),
			"Use one of: auto, per-call, persistent")
	}
}

// PollJob is one host's polling assignment.
type PollJob struct {
	Host     Host
	Command  string
	Interval time.Duration
	Duration time.Duration
	// Timeout bounds a single command. Zero uses the pool default.
	Timeout time.Duration
	Policy  SessionPolicy
	// FailureThreshold is the number of consecutive failed ticks after which
	// the host is declared unreachable. Zero uses the pool default.
	FailureThreshold int
}

// TotalTicks returns how many ticks the job fires.
func (j PollJob) TotalTicks() int {
	return TotalTicks(j.Duration, j.Interval)
}

// Validate checks the job's own fields.
func (j PollJob) Validate() error {
	id := j.Host.ID()
	switch {
	case id == "":
		return errors.New(errors.ErrConfig, "Poll job has no host name or address", "Set 'address' on every host")
	case strings.TrimSpace(j.Command) == "":
		return errors.New(errors.ErrConfig, fmt.Sprintf("No command for host %s", id), "Set 'command' on the host or in defaults")
	case j.Interval <= 0:
		return errors.New(errors.ErrConfig, fmt.Sprintf("Interval for host %s must be positive, got %s", id, j.Interval), "Use a duration like 5s")
	case j.Duration <= 0:
		return errors.New(errors.ErrConfig, fmt.Sprintf("Duration for host %s must be positive, got %s", id, j.Duration), "Use a duration like 1m")
	case j.Timeout < 0:
		return errors.New(errors.ErrConfig, fmt.Sprintf("Timeout for host %s can't be negative", id), "")
	}
	return nil
}

// TotalTicks returns the number of ticks inside a window: one at every
// multiple of interval strictly less than duration. A window shorter than
// the interval still fires once.
func TotalTicks(duration, interval time.Duration) int {
	if duration <= 0 || interval <= 0 {
		return 0
	}
	n := int(duration / interval)
	if duration%interval != 0 {
		n++
	}
	return n
}

// ErrorKind classifies a failed attempt.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindConnect means the session could not be opened or was lost.
	KindConnect
	// KindExec means the device reported a failure for the command.
	KindExec
	// KindTimeout means the command exceeded its timeout.
	KindTimeout
	// KindUnreachable means the failure threshold was reached.
	KindUnreachable
)

// String returns the kind's wire name.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return ""
	case KindConnect:
		return "connect_error"
	case KindExec:
		return "exec_error"
	case KindTimeout:
		return "timeout"
	case KindUnreachable:
		return "host_unreachable"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// State is a scheduler's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether s is Completed or Aborted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// PollResult is one attempt's outcome, or a host's end-of-stream marker
// when End is set.
type PollResult struct {
	Host      string
	Address   string
	Command   string
	Seq       int
	Timestamp time.Time
	Output    string
	Kind      ErrorKind
	Err       error
	Latency   time.Duration

	// End marks the host's final record. State and Ticks are only
	// meaningful on it.
	End   bool
	State State
	Ticks int
}

// Failed reports whether the attempt carries an error.
func (r PollResult) Failed() bool {
	return r.Kind != KindNone
}

// ErrString returns the error flattened to one line, or "".
func (r PollResult) ErrString() string {
	return errors.OneLine(r.Err)
}
