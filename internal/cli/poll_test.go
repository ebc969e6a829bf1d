package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devpoll/devpoll/internal/config"
	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/logger"
	"github.com/devpoll/devpoll/internal/poll"
	polltesting "github.com/devpoll/devpoll/internal/poll/testing"
	"github.com/devpoll/devpoll/internal/store"
)

const testConfig = `version: 1
concurrency: 4
failure_threshold: 2
defaults:
  command: display version
  interval: 20ms
  duration: 60ms
  timeout: 1s
  device_type: huawei
hosts:
  - name: core-1
    address: 10.0.0.1
    tags: [core]
  - name: edge-2
    address: 10.0.0.2
    tags: [edge]
`

// useConfig points --config at a fresh file for the test.
func useConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, config.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	prev := configFlag
	configFlag = path
	t.Cleanup(func() { configFlag = prev })
	return dir
}

type testEnv struct {
	pollEnv
	stdout, stderr *bytes.Buffer
	fake           *polltesting.FakeTransport
}

func newTestEnv() *testEnv {
	fake := polltesting.NewFakeTransport(true)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	return &testEnv{
		pollEnv: pollEnv{
			stdout:    stdout,
			stderr:    stderr,
			log:       logger.Noop(),
			transport: func(*config.Config) poll.Transport { return fake },
			runID:     func() string { return "run-1" },
		},
		stdout: stdout,
		stderr: stderr,
		fake:   fake,
	}
}

func TestRunPoll_Stream(t *testing.T) {
	useConfig(t, testConfig)
	env := newTestEnv()

	summary, err := runPoll(context.Background(), PollOptions{}, env.pollEnv)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.True(t, summary.Success())
	require.Len(t, summary.Hosts, 2)

	for _, host := range []string{"core-1", "edge-2"} {
		assert.Equal(t, 3, env.fake.Calls(host))
		assert.Equal(t, 1, env.fake.Opens(host), "one session reused across ticks")
		assert.Zero(t, env.fake.OpenSessions())
	}

	out := env.stdout.String()
	assert.Contains(t, out, "[core-1] #0 ✓")
	assert.Contains(t, out, "[edge-2] edge-2: display version")
	assert.Contains(t, out, "[core-1] ● completed after 3 ticks")
	assert.Contains(t, env.stderr.String(), "Polled 2 hosts")
	assert.Contains(t, env.stderr.String(), "2 completed, 0 aborted; 6 polls, 0 failed")
	assert.NoError(t, pollExit(context.Background(), summary))
}

func TestRunPoll_FlagOverrides(t *testing.T) {
	useConfig(t, testConfig)
	env := newTestEnv()

	summary, err := runPoll(context.Background(), PollOptions{
		Hosts:      []string{"core-1", "10.9.9.9"},
		Command:    "display clock",
		Interval:   10 * time.Millisecond,
		Duration:   20 * time.Millisecond,
		HideOutput: true,
	}, env.pollEnv)
	require.NoError(t, err)
	require.Len(t, summary.Hosts, 2)
	assert.Equal(t, "core-1", summary.Hosts[0].Host)
	assert.Equal(t, "10.9.9.9", summary.Hosts[1].Host, "unknown names poll as ad-hoc hosts")
	assert.Equal(t, []string{"display clock", "display clock"}, env.fake.Commands("core-1"))
	assert.Zero(t, env.fake.Calls("edge-2"))
	assert.NotContains(t, env.stdout.String(), "core-1: display clock")
}

func TestRunPoll_TagFilter(t *testing.T) {
	useConfig(t, testConfig)
	env := newTestEnv()

	summary, err := runPoll(context.Background(), PollOptions{Tags: []string{"edge"}, Output: "quiet"}, env.pollEnv)
	require.NoError(t, err)
	require.Len(t, summary.Hosts, 1)
	assert.Equal(t, "edge-2", summary.Hosts[0].Host)
	assert.Empty(t, env.stdout.String())
}

func TestRunPoll_UnreachableHostAborts(t *testing.T) {
	useConfig(t, testConfig)
	env := newTestEnv()
	env.fake.OnOpen = func(host poll.Host, _ int) error {
		if host.ID() == "edge-2" {
			return errors.New(errors.ErrConnect, "Connection refused", "")
		}
		return nil
	}

	summary, err := runPoll(context.Background(), PollOptions{}, env.pollEnv)
	require.NoError(t, err)
	assert.False(t, summary.Success())

	edge := summary.Host("edge-2")
	require.NotNil(t, edge)
	assert.Equal(t, poll.StateAborted, edge.State)
	assert.Equal(t, 2, edge.Failures, "stops at the threshold")
	assert.Equal(t, poll.StateCompleted, summary.Host("core-1").State)

	assert.Contains(t, env.stdout.String(), "[edge-2] ⊘ aborted after 2 ticks")
	assert.Contains(t, env.stderr.String(), "edge-2 2/2 failed")

	var exit *exitError
	require.ErrorAs(t, pollExit(context.Background(), summary), &exit)
	assert.Equal(t, exitAborted, exit.code)
}

func TestRunPoll_JSONOutput(t *testing.T) {
	useConfig(t, testConfig)
	env := newTestEnv()

	_, err := runPoll(context.Background(), PollOptions{Hosts: []string{"core-1"}, Output: "json"}, env.pollEnv)
	require.NoError(t, err)
	assert.Empty(t, env.stderr.String(), "no summary mixed into machine output")

	var lines []map[string]any
	sc := bufio.NewScanner(env.stdout)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 4)
	assert.Equal(t, "run-1", lines[0]["run_id"])
	assert.Equal(t, "core-1", lines[0]["host"])
	assert.Equal(t, true, lines[3]["end"])
}

func TestRunPoll_FileSinks(t *testing.T) {
	dir := useConfig(t, testConfig)
	env := newTestEnv()

	csvPath := filepath.Join(dir, "report.csv")
	logDir := filepath.Join(dir, "logs")
	dsn := "sqlite:" + filepath.Join(dir, "results.db")

	_, err := runPoll(context.Background(), PollOptions{
		Output: "quiet",
		CSV:    csvPath,
		LogDir: logDir,
		Store:  dsn,
		Listen: "127.0.0.1:0",
	}, env.pollEnv)
	require.NoError(t, err)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, 1+6, strings.Count(string(data), "\n"), "header plus one row per poll")

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, env.stderr.String(), "Logs: "+filepath.Join(logDir, entries[0].Name()))

	st, err := store.Open(context.Background(), dsn)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, 6, runs[0].Results)
	assert.Equal(t, 2, runs[0].Completed)
}

func TestRunPoll_Devices(t *testing.T) {
	dir := useConfig(t, "defaults:\n  command: show version\n  interval: 10ms\n  duration: 10ms\n")
	devices := filepath.Join(dir, "devices.lst")
	require.NoError(t, os.WriteFile(devices, []byte("sw-1, 10.1.0.1\nsw-2 , 10.1.0.2\n"), 0o644))
	env := newTestEnv()

	summary, err := runPoll(context.Background(), PollOptions{Devices: devices}, env.pollEnv)
	require.NoError(t, err)
	require.Len(t, summary.Hosts, 2)
	assert.Equal(t, "sw-2", summary.Hosts[1].Host)
	assert.Equal(t, 1, env.fake.Calls("sw-1"))
}

func TestRunPoll_DashboardNeedsTerminal(t *testing.T) {
	useConfig(t, testConfig)
	env := newTestEnv()

	_, err := runPoll(context.Background(), PollOptions{Hosts: []string{"core-1"}, Output: "dashboard"}, env.pollEnv)
	require.NoError(t, err)
	assert.Contains(t, env.stdout.String(), "[core-1] ● completed", "falls back to the stream")
}

func TestRunPoll_Errors(t *testing.T) {
	t.Run("no hosts", func(t *testing.T) {
		useConfig(t, "defaults:\n  command: show version\n")
		_, err := runPoll(context.Background(), PollOptions{}, newTestEnv().pollEnv)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
		assert.Contains(t, err.Error(), "No hosts to poll")
	})

	t.Run("no command", func(t *testing.T) {
		useConfig(t, "hosts:\n  - address: 10.0.0.1\n")
		_, err := runPoll(context.Background(), PollOptions{}, newTestEnv().pollEnv)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
	})

	t.Run("bad output format", func(t *testing.T) {
		useConfig(t, testConfig)
		_, err := runPoll(context.Background(), PollOptions{Output: "xml"}, newTestEnv().pollEnv)
		require.Error(t, err)
	})

	t.Run("bad store", func(t *testing.T) {
		useConfig(t, testConfig)
		env := newTestEnv()
		_, err := runPoll(context.Background(), PollOptions{Store: "mysql://db/devpoll"}, env.pollEnv)
		require.Error(t, err)
		assert.Zero(t, env.fake.Calls("core-1"), "nothing polls when a sink can't open")
	})
}

func TestRunPoll_Cancelled(t *testing.T) {
	useConfig(t, testConfig)
	env := newTestEnv()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := runPoll(ctx, PollOptions{Duration: time.Minute}, env.pollEnv)
	require.NoError(t, err)

	var exit *exitError
	require.ErrorAs(t, pollExit(ctx, summary), &exit)
	assert.Equal(t, exitInterrupted, exit.code)
}

func TestApplyPollFlags(t *testing.T) {
	cfg := config.DefaultConfig()
	applyPollFlags(cfg, PollOptions{
		Command:     "uptime",
		Interval:    time.Second,
		Concurrency: 7,
		Threshold:   5,
		Protocol:    "winrm",
		Output:      "csv",
	})
	assert.Equal(t, "uptime", cfg.Defaults.Command)
	assert.Equal(t, time.Second, cfg.Defaults.Interval)
	assert.Equal(t, time.Minute, cfg.Defaults.Duration, "unset flags keep config values")
	assert.Equal(t, 7, cfg.Concurrency)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, "winrm", cfg.Defaults.Protocol)
	assert.Equal(t, "csv", cfg.Output.Format)
}

func TestApplyPollFlags_BeatHostSettings(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Hosts = []config.Host{{
		Address:          "10.0.0.1",
		Command:          "display clock",
		Interval:         time.Minute,
		Session:          "per-call",
		FailureThreshold: 9,
		DeviceType:       "huawei",
	}}
	applyPollFlags(cfg, PollOptions{Interval: time.Second, Session: "persistent", KnownHosts: "/etc/devpoll/known_hosts"})

	h := cfg.Hosts[0]
	assert.Zero(t, h.Interval)
	assert.Empty(t, h.Session)
	assert.Equal(t, "display clock", h.Command, "unset flags keep host values")
	assert.Equal(t, 9, h.FailureThreshold)
	assert.Equal(t, "huawei", h.DeviceType)
	assert.Equal(t, "/etc/devpoll/known_hosts", cfg.SSH.KnownHosts)
}

func TestRunPoll_PerHostSchedule(t *testing.T) {
	useConfig(t, testConfig+`  - name: ups-1
    address: 10.0.2.1
    interval: 30ms
    duration: 90ms
    session: per-call
`)
	env := newTestEnv()

	summary, err := runPoll(context.Background(), PollOptions{Output: "quiet"}, env.pollEnv)
	require.NoError(t, err)
	assert.True(t, summary.Success())

	assert.Equal(t, 3, env.fake.Calls("core-1"))
	assert.Equal(t, 1, env.fake.Opens("core-1"))
	assert.Equal(t, 3, env.fake.Calls("ups-1"))
	assert.Equal(t, 3, env.fake.Opens("ups-1"), "per-call opens a session every tick")
}

func TestTransportOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SSH = config.SSHConfig{DialTimeout: 4 * time.Second, KnownHosts: "/tmp/kh", ConfigFile: "-"}
	cfg.WinRM = config.WinRMConfig{HTTPS: true, Insecure: true}
	cfg.SNMP = config.SNMPConfig{Timeout: time.Second, Retries: 2}

	opts := transportOptions(cfg)
	assert.Equal(t, 4*time.Second, opts.SSH.DialTimeout)
	assert.Equal(t, "/tmp/kh", opts.SSH.KnownHostsFile)
	assert.Equal(t, "-", opts.SSH.SSHConfigFile)
	assert.True(t, opts.WinRM.HTTPS)
	assert.True(t, opts.WinRM.Insecure)
	assert.Equal(t, cfg.Defaults.Timeout, opts.WinRM.Timeout)
	assert.Equal(t, time.Second, opts.SNMP.Timeout)
	assert.Equal(t, 2, opts.SNMP.Retries)
}

func TestCredentialRefs(t *testing.T) {
	jobs := []poll.PollJob{
		{Host: poll.Host{Address: "a", CredentialRef: "netops"}},
		{Host: poll.Host{Address: "b"}},
		{Host: poll.Host{Address: "c", CredentialRef: "netops"}},
	}
	assert.Equal(t, []string{"netops", ""}, credentialRefs(jobs))
}
