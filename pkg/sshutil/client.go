package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Client wraps an SSH connection with additional metadata.
type Client struct {
	*ssh.Client
	Host    string // The original host/alias used to connect
	Address string // The resolved address (host:port)
}

// DialOptions carries the per-host credentials and connection knobs.
// Zero values fall back to ~/.ssh/config and then to defaults.
type DialOptions struct {
	User       string
	Port       int
	Password   string
	KeyFile    string
	Passphrase string
	Timeout    time.Duration

	// KnownHostsFile overrides ~/.ssh/known_hosts.
	KnownHostsFile string
	// InsecureIgnoreHostKey skips host key verification. Lab gear
	// regenerates keys on every reload, so this is opt-in per host.
	InsecureIgnoreHostKey bool
	// SSHConfigFile overrides ~/.ssh/config. Set to "-" to skip it.
	SSHConfigFile string
}

const defaultDialTimeout = 10 * time.Second

// Dial establishes an SSH connection to the specified host.
// The host can be:
//   - An SSH config alias (e.g., "core-1")
//   - A hostname or IP (e.g., "10.0.0.1")
//   - A user@hostname (e.g., "admin@10.0.0.1")
//   - A hostname:port (e.g., "10.0.0.1:2222")
//
// Explicit options win over ~/.ssh/config, which wins over defaults.
func Dial(ctx context.Context, host string, opts DialOptions) (*Client, error) {
	settings := resolveSSHSettings(host, opts)

	config, err := buildSSHConfig(settings, opts)
	if err != nil {
		var devErr *errors.Error
		if stderrors.As(err, &devErr) {
			return nil, err
		}
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Couldn't set up SSH for '%s'", host),
			"Check the credential configured for this host")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	config.Timeout = timeout

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	address := settings.address()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Can't reach '%s' at %s", host, address),
			suggestionForDialError(err))
	}

	// Bound the handshake by the same deadline as the dial.
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()

		var hostKeyErr *HostKeyMismatchError
		if stderrors.As(err, &hostKeyErr) {
			return nil, errors.New(errors.ErrSSH,
				hostKeyErr.Error(),
				hostKeyErr.Suggestion())
		}

		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("SSH handshake with '%s' didn't go through", host),
			suggestionForHandshakeError(err, settings.encryptedKeys))
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    host,
		Address: address,
	}, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// GetHost returns the original host/alias used to connect.
func (c *Client) GetHost() string {
	return c.Host
}

// GetAddress returns the resolved host:port address.
func (c *Client) GetAddress() string {
	return c.Address
}

// Alive sends a keepalive global request and reports whether the peer
// answered before ctx was done. A refusal still counts: only a dead
// connection fails the request.
func (c *Client) Alive(ctx context.Context) bool {
	if c.Client == nil {
		return false
	}
	done := make(chan error, 1)
	go func() {
		_, _, err := c.Client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return false
	case err := <-done:
		return err == nil
	}
}

// sshSettings holds resolved SSH connection parameters.
type sshSettings struct {
	hostname      string
	port          string
	user          string
	identityFile  string
	encryptedKeys []string
}

// address returns the host:port string for dialing.
func (s *sshSettings) address() string {
	return net.JoinHostPort(s.hostname, s.port)
}

// resolveSSHSettings parses the host string and layers ~/.ssh/config and
// explicit options on top of the defaults.
func resolveSSHSettings(host string, opts DialOptions) *sshSettings {
	settings := &sshSettings{
		port: "22",
		user: currentUser(),
	}

	explicitUser := false
	if atIdx := strings.Index(host, "@"); atIdx != -1 {
		settings.user = host[:atIdx]
		host = host[atIdx+1:]
		explicitUser = true
	}

	explicitPort := false
	if colonIdx := strings.LastIndex(host, ":"); colonIdx != -1 && !strings.Contains(host[:colonIdx], ":") {
		if _, err := strconv.Atoi(host[colonIdx+1:]); err == nil {
			settings.port = host[colonIdx+1:]
			host = host[:colonIdx]
			explicitPort = true
		}
	}

	settings.hostname = host

	configPath := opts.SSHConfigFile
	if configPath == "" {
		configPath = filepath.Join(homeDir(), ".ssh", "config")
	}
	if configPath != "-" {
		applySSHConfig(settings, host, configPath, explicitUser, explicitPort)
	}

	if opts.User != "" {
		settings.user = opts.User
	}
	if opts.Port > 0 {
		settings.port = strconv.Itoa(opts.Port)
	}
	if opts.KeyFile != "" {
		settings.identityFile = expandPath(opts.KeyFile)
	}

	return settings
}

func applySSHConfig(settings *sshSettings, alias, configPath string, explicitUser, explicitPort bool) {
	content, _, err := preprocessSSHConfig(configPath)
	if err != nil {
		return
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return
	}

	if hostname, _ := cfg.Get(alias, "HostName"); hostname != "" {
		settings.hostname = hostname
	}
	if port, _ := cfg.Get(alias, "Port"); port != "" && !explicitPort {
		settings.port = port
	}
	if user, _ := cfg.Get(alias, "User"); user != "" && !explicitUser {
		settings.user = user
	}
	if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
		settings.identityFile = expandPath(identity)
	}
}

// buildSSHConfig creates an SSH client config with authentication methods.
// It also populates settings.encryptedKeys with any keys that exist but are encrypted.
func buildSSHConfig(settings *sshSettings, opts DialOptions) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	tryKeyFile := func(keyPath, passphrase string) {
		keyAuth, err := keyFileAuth(keyPath, passphrase)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				settings.encryptedKeys = append(settings.encryptedKeys, keyPath)
			}
			return
		}
		authMethods = append(authMethods, keyAuth)
	}

	if settings.identityFile != "" {
		tryKeyFile(settings.identityFile, opts.Passphrase)
	}

	if opts.Password != "" {
		// Most network operating systems only offer keyboard-interactive.
		password := opts.Password
		authMethods = append(authMethods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if agentAuth := sshAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	if opts.Password == "" && opts.KeyFile == "" {
		for _, keyPath := range defaultKeyFiles() {
			if keyPath == settings.identityFile {
				continue
			}
			tryKeyFile(keyPath, "")
		}
	}

	if len(authMethods) == 0 {
		msg := "No SSH auth methods available"
		suggestion := "Set a password, password_env or key_file on the host's credential"
		if len(settings.encryptedKeys) > 0 {
			msg = fmt.Sprintf("Found SSH key(s) but they're encrypted: %s", strings.Join(settings.encryptedKeys, ", "))
			suggestion = "Set 'passphrase' on the credential or add the key to the agent: ssh-add <key>"
		}
		return nil, errors.New(errors.ErrSSH, msg, suggestion)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if opts.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // explicitly requested per host
	} else {
		knownHostsPath := opts.KnownHostsFile
		if knownHostsPath == "" {
			knownHostsPath = filepath.Join(homeDir(), ".ssh", "known_hosts")
		}
		var err error
		hostKeyCallback, err = createHostKeyCallback(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            settings.user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         defaultDialTimeout,
	}, nil
}

var (
	agentMu       sync.Mutex
	agentConn     net.Conn
	agentClient   agent.ExtendedAgent
	agentConnOnce sync.Once
)

// sshAgentAuth returns an auth method using the SSH agent if available.
// The agent connection is reused across connections.
// Returns nil if the agent has no keys loaded.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentMu.Lock()
	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})
	client := agentClient
	agentMu.Unlock()

	if client == nil {
		return nil
	}

	// An empty agent causes auth failures when placed before other methods.
	signers, err := client.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeysCallback(client.Signers)
}

// CloseAgent closes the SSH agent connection if one is open. A later dial
// connects to the agent again.
func CloseAgent() {
	agentMu.Lock()
	defer agentMu.Unlock()
	if agentConn != nil {
		agentConn.Close()
	}
	agentConn = nil
	agentClient = nil
	agentConnOnce = sync.Once{}
}

// keyFileAuth returns an auth method using a private key file.
// Returns EncryptedKeyError if the key requires a passphrase that wasn't given.
func keyFileAuth(keyPath, passphrase string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(key)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) || isEncryptedPEM(key) {
			return nil, &EncryptedKeyError{Path: keyPath}
		}
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}

func defaultKeyFiles() []string {
	return []string{
		filepath.Join(homeDir(), ".ssh", "id_ed25519"),
		filepath.Join(homeDir(), ".ssh", "id_rsa"),
		filepath.Join(homeDir(), ".ssh", "id_ecdsa"),
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return "Is SSH enabled on the device? Check 'stelnet server enable' or 'ip ssh' settings"
	case strings.Contains(errStr, "no route to host"), strings.Contains(errStr, "network is unreachable"):
		return "Can't route to the host. Check the management network."
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "Connection timed out. Host might be offline or filtered by an ACL."
	default:
		return "Make sure the host is reachable: ping <host>"
	}
}

func suggestionForHandshakeError(err error, encryptedKeys []string) string {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "unable to authenticate"), strings.Contains(errStr, "no supported methods"):
		if len(encryptedKeys) > 0 {
			return "Your key(s) are encrypted. Set 'passphrase' on the credential or run: ssh-add " + strings.Join(encryptedKeys, " ")
		}
		return "Auth failed. Check the username and password for this host."
	case strings.Contains(errStr, "host key"):
		return "Host key issue. Add the device to known_hosts: ssh-keyscan <host> >> ~/.ssh/known_hosts"
	case strings.Contains(errStr, "no common algorithm"):
		return "The device only offers legacy algorithms. Upgrade its SSH server or firmware."
	default:
		return "Something went wrong during SSH setup. Try: ssh <host>"
	}
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides helpful context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the host key mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"The device's host key doesn't match known_hosts (known: %s, sent: %s).\n"+
			"  If the device was replaced or re-keyed, remove the old entry:\n"+
			"    ssh-keygen -R %s -f %s",
		wantStr, e.ReceivedType, host, e.KnownHosts)
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive,
// which ssh_config cannot parse. Also returns the 1-indexed line of that directive (0 if none).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

// isEncryptedPEM checks if PEM data contains encryption markers.
func isEncryptedPEM(data []byte) bool {
	return bytes.Contains(data, []byte("ENCRYPTED"))
}

// createHostKeyCallback wraps the knownhosts callback to provide better error messages.
func createHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(knownHostsPath), err)
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0600); err != nil {
			return nil, fmt.Errorf("failed to create known_hosts: %w", err)
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err != nil {
			var keyErr *knownhosts.KeyError
			if stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 {
				return &HostKeyMismatchError{
					Hostname:     hostname,
					ReceivedType: key.Type(),
					KnownHosts:   knownHostsPath,
					Want:         keyErr.Want,
				}
			}
		}
		return err
	}, nil
}
