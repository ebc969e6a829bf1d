package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/masterzen/winrm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
)

type fakeWinRM struct {
	stdout, stderr string
	code           int
	err            error
	block          bool
}

func (f *fakeWinRM) RunWithContextWithString(ctx context.Context, _ string, _ string) (string, string, int, error) {
	if f.block {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}
	return f.stdout, f.stderr, f.code, f.err
}

func fakeWinRMTransport(opts WinRMOptions, fake *fakeWinRM, gotPort *int, gotNTLM *bool) *WinRM {
	t := NewWinRM(opts)
	t.newClient = func(endpoint *winrm.Endpoint, user, password string, ntlm bool) (winrmRunner, error) {
		*gotPort = endpoint.Port
		*gotNTLM = ntlm
		return fake, nil
	}
	return t
}

func TestWinRM_OpenDefaults(t *testing.T) {
	var port int
	var ntlm bool
	fake := &fakeWinRM{stdout: "ok"}

	tr := fakeWinRMTransport(WinRMOptions{}, fake, &port, &ntlm)
	assert.False(t, tr.ReusableSessions())

	_, err := tr.Open(context.Background(), poll.Host{Address: "win1"}, poll.Credential{Username: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 5985, port)
	assert.False(t, ntlm)

	tr = fakeWinRMTransport(WinRMOptions{HTTPS: true}, fake, &port, &ntlm)
	_, err = tr.Open(context.Background(), poll.Host{Address: "win1"}, poll.Credential{Username: `CORP\svc`})
	require.NoError(t, err)
	assert.Equal(t, 5986, port)
	assert.True(t, ntlm)
}

func TestWinRM_OpenRequiresUsername(t *testing.T) {
	_, err := NewWinRM(WinRMOptions{}).Open(context.Background(), poll.Host{Address: "win1"}, poll.Credential{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestWinRM_Run(t *testing.T) {
	var port int
	var ntlm bool

	tests := []struct {
		name     string
		fake     *fakeWinRM
		wantOut  string
		wantKind poll.ErrorKind
	}{
		{"success", &fakeWinRM{stdout: "Windows Server 2022\r\n"}, "Windows Server 2022\r\n", poll.KindNone},
		{"exit status", &fakeWinRM{stdout: "x", stderr: "denied", code: 5}, "xdenied", poll.KindExec},
		{"http failure", &fakeWinRM{err: fmt.Errorf("http response error: 401")}, "", poll.KindConnect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := fakeWinRMTransport(WinRMOptions{}, tt.fake, &port, &ntlm)
			sess, err := tr.Open(context.Background(), poll.Host{Address: "win1"}, poll.Credential{Username: "admin"})
			require.NoError(t, err)
			defer sess.Close()

			out, err := sess.Run(context.Background(), "ver")
			assert.Equal(t, tt.wantOut, out)
			if tt.wantKind == poll.KindNone {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantKind, poll.KindOf(err))
		})
	}
}

func TestWinRM_RunTimeout(t *testing.T) {
	var port int
	var ntlm bool
	tr := fakeWinRMTransport(WinRMOptions{}, &fakeWinRM{block: true}, &port, &ntlm)
	sess, err := tr.Open(context.Background(), poll.Host{Address: "win1"}, poll.Credential{Username: "admin"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sess.Run(ctx, "ver")
	assert.Equal(t, poll.KindTimeout, poll.KindOf(err))
}

func TestUsesNTLM(t *testing.T) {
	assert.True(t, usesNTLM(`CORP\admin`))
	assert.True(t, usesNTLM("admin@corp.local"))
	assert.False(t, usesNTLM("Administrator"))
}
