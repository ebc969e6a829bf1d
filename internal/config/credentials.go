package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
)

// PromptFunc asks for a secret; label says what for.
type PromptFunc func(label string) (string, error)

// Credentials resolves credential references against the config. It is
// safe for concurrent use; each reference is resolved at most once.
type Credentials struct {
	defs     map[string]Credential
	fallback Credential
	prompt   PromptFunc

	mu    sync.Mutex
	cache map[string]poll.Credential
}

// NewCredentials creates a resolver. fallback fills fields of every
// credential left empty, which is how --user applies to all hosts. prompt
// may be nil; when set, a credential with a username and no secret asks
// for a password.
func NewCredentials(defs map[string]Credential, fallback Credential, prompt PromptFunc) *Credentials {
	return &Credentials{
		defs:     defs,
		fallback: fallback,
		prompt:   prompt,
		cache:    make(map[string]poll.Credential),
	}
}

// Resolve implements poll.CredentialResolver. The empty reference is the
// fallback credential alone.
func (c *Credentials) Resolve(ref string) (poll.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cred, ok := c.cache[ref]; ok {
		return cred, nil
	}

	def := c.fallback
	if ref != "" {
		d, ok := c.defs[ref]
		if !ok {
			return poll.Credential{}, errors.New(errors.ErrConfig,
				fmt.Sprintf("Unknown credential '%s'", ref),
				"Add it under 'credentials' in your config")
		}
		def = merge(d, c.fallback)
	}

	password, err := c.password(ref, def)
	if err != nil {
		return poll.Credential{}, err
	}

	cred := poll.Credential{
		Username:        def.Username,
		Password:        password,
		KeyFile:         def.KeyFile,
		Passphrase:      def.Passphrase,
		Community:       def.Community,
		InsecureHostKey: def.InsecureHostKey,
	}
	c.cache[ref] = cred
	return cred, nil
}

// Preload resolves every reference up front so prompts happen before
// polling output starts.
func (c *Credentials) Preload(refs []string) error {
	for _, ref := range refs {
		if _, err := c.Resolve(ref); err != nil {
			return err
		}
	}
	return nil
}

func (c *Credentials) password(ref string, def Credential) (string, error) {
	name := ref
	if name == "" {
		name = "default"
	}

	switch {
	case def.Password != "":
		return def.Password, nil

	case def.PasswordEnv != "":
		v, ok := os.LookupEnv(def.PasswordEnv)
		if !ok {
			return "", errors.New(errors.ErrConfig,
				fmt.Sprintf("Credential '%s' reads $%s, which isn't set", name, def.PasswordEnv),
				fmt.Sprintf("export %s=...", def.PasswordEnv))
		}
		return v, nil

	case def.PasswordFile != "":
		data, err := os.ReadFile(def.PasswordFile)
		if err != nil {
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Can't read password file for credential '%s'", name),
				"Check the password_file path and permissions")
		}
		return strings.TrimRight(string(data), "\r\n"), nil

	case c.prompt != nil && def.Username != "" && def.KeyFile == "" && def.Community == "":
		p, err := c.prompt(fmt.Sprintf("%s password for %s", name, def.Username))
		if err != nil {
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("No password entered for credential '%s'", name), "")
		}
		return p, nil
	}
	return "", nil
}

// merge fills empty fields of c from fb.
func merge(c, fb Credential) Credential {
	if c.Username == "" {
		c.Username = fb.Username
	}
	if c.Password == "" && c.PasswordEnv == "" && c.PasswordFile == "" {
		c.Password = fb.Password
	}
	if c.KeyFile == "" {
		c.KeyFile = fb.KeyFile
	}
	if c.Community == "" {
		c.Community = fb.Community
	}
	c.InsecureHostKey = c.InsecureHostKey || fb.InsecureHostKey
	return c
}

// TerminalPrompt reads a secret from the terminal without echo. It fails
// when stdin isn't a terminal.
func TerminalPrompt(out io.Writer) PromptFunc {
	var mu sync.Mutex
	return func(label string) (string, error) {
		mu.Lock()
		defer mu.Unlock()

		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("stdin is not a terminal")
		}
		fmt.Fprintf(out, "%s: ", label)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
