package integration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/devpoll/devpoll/internal/poll"
)

// SkipIfNoSSH skips the current test unless DEVPOLL_TEST_SSH_HOST is set.
// These tests need a reachable sshd that accepts the configured key.
func SkipIfNoSSH(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping SSH test in short mode")
	}
	if os.Getenv("DEVPOLL_TEST_SSH_HOST") == "" {
		t.Skip("Skipping SSH test: DEVPOLL_TEST_SSH_HOST not set")
	}
}

// GetTestSSHHost returns the SSH host configured for testing.
func GetTestSSHHost() string {
	return os.Getenv("DEVPOLL_TEST_SSH_HOST")
}

// GetTestSSHUser returns the SSH user configured for testing.
// Defaults to the current user if DEVPOLL_TEST_SSH_USER is not set.
func GetTestSSHUser() string {
	user := os.Getenv("DEVPOLL_TEST_SSH_USER")
	if user == "" {
		return os.Getenv("USER")
	}
	return user
}

// GetTestSSHKey returns the path to the SSH key for testing.
// Defaults to ~/.ssh/id_rsa if DEVPOLL_TEST_SSH_KEY is not set.
func GetTestSSHKey() string {
	key := os.Getenv("DEVPOLL_TEST_SSH_KEY")
	if key == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		return filepath.Join(home, ".ssh", "id_rsa")
	}
	return key
}

// testCredentials resolves every reference to the test user and key.
func testCredentials() poll.CredentialResolver {
	return poll.CredentialFunc(func(string) (poll.Credential, error) {
		return poll.Credential{
			Username:        GetTestSSHUser(),
			KeyFile:         GetTestSSHKey(),
			InsecureHostKey: true,
		}, nil
	})
}

func testHost(name string) poll.Host {
	return poll.Host{Name: name, Address: GetTestSSHHost(), DeviceType: "linux", Protocol: "ssh"}
}
