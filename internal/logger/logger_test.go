package logger

import (
	"bytes"
	"log"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvLogger_Debug(t *testing.T) {
	tests := []struct {
		name      string
		envValue  string
		expectLog bool
	}{
		{name: "logs when DEVPOLL_DEBUG is set", envValue: "1", expectLog: true},
		{name: "logs when DEVPOLL_DEBUG is any value", envValue: "true", expectLog: true},
		{name: "does not log when DEVPOLL_DEBUG is empty", envValue: "", expectLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log.SetOutput(&buf)
			defer log.SetOutput(os.Stderr)

			t.Setenv(DebugEnv, tt.envValue)

			l := NewEnvLogger("[test]")
			l.Debug("test message %s", "arg")

			if tt.expectLog {
				assert.Contains(t, buf.String(), "[test] test message arg")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestEnvLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	l := NewEnvLogger("[pool]")
	l.Info("admitted %d", 3)
	l.Warn("slow host")
	l.Error("sink failed")

	out := buf.String()
	assert.Contains(t, out, "[pool] admitted 3")
	assert.Contains(t, out, "[pool] WARN: slow host")
	assert.Contains(t, out, "[pool] ERROR: sink failed")
}

func TestLevelLogger(t *testing.T) {
	tests := []struct {
		name     string
		min      Level
		expected []string
		absent   []string
	}{
		{
			name:     "warn drops info and debug",
			min:      LevelWarn,
			expected: []string{"WARN: w", "ERROR: e"},
			absent:   []string{"DEBUG: d", "[x] i"},
		},
		{
			name:     "debug keeps everything",
			min:      LevelDebug,
			expected: []string{"DEBUG: d", "[x] i", "WARN: w", "ERROR: e"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewLevelLogger(&buf, "[x]", tt.min)
			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")

			for _, s := range tt.expected {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	t.Setenv(DebugEnv, "")
	assert.Equal(t, LevelWarn, LevelFromVerbosity(0))
	assert.Equal(t, LevelInfo, LevelFromVerbosity(1))
	assert.Equal(t, LevelDebug, LevelFromVerbosity(2))
	assert.Equal(t, LevelDebug, LevelFromVerbosity(3))

	t.Setenv(DebugEnv, "1")
	assert.Equal(t, LevelDebug, LevelFromVerbosity(0))
}

func TestWith(t *testing.T) {
	buf := NewBufferLogger()
	l := With(buf, "[core-1]")
	l.Info("tick %d", 2)
	l.Warn("failed")

	assert.True(t, buf.Contains("[core-1] tick 2"))
	assert.True(t, buf.HasLevel("warn"))

	// nil falls back to a discarding logger
	assert.NotPanics(t, func() { With(nil, "[x]").Error("dropped") })
}

func TestNoopLogger(t *testing.T) {
	l := Noop()
	assert.NotPanics(t, func() {
		l.Debug("a")
		l.Info("b")
		l.Warn("c")
		l.Error("d")
	})
}

func TestBufferLogger_Concurrent(t *testing.T) {
	buf := NewBufferLogger()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			buf.Info("host %d", n)
		}(i)
	}
	wg.Wait()

	assert.Len(t, buf.Messages, 20)
	buf.Clear()
	assert.Empty(t, buf.Messages)
	assert.False(t, buf.HasLevel("info"))
}

func TestDefault(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	buf := NewBufferLogger()
	SetDefault(buf)
	Default().Info("hello")
	assert.True(t, buf.Contains("hello"))
}
