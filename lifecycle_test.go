package habitat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleCommandsPerStyle(t *testing.T) {
	tests := []struct {
		name  string
		call  func(*Lifecycle, context.Context) error
		wants string
	}{
		{"start transient", func(l *Lifecycle, ctx context.Context) error { return l.Start(ctx, redis, StyleTransient) }, "sup start core/redis"},
		{"start persistent", func(l *Lifecycle, ctx context.Context) error { return l.Start(ctx, redis, StylePersistent) }, "sup load core/redis"},
		{"stop transient", func(l *Lifecycle, ctx context.Context) error { return l.Stop(ctx, redis, StyleTransient) }, "sup stop core/redis"},
		{"stop persistent", func(l *Lifecycle, ctx context.Context) error { return l.Stop(ctx, redis, StylePersistent) }, "sup unload core/redis"},
		{"config apply", func(l *Lifecycle, ctx context.Context) error { return l.ApplyConfig(ctx, redis, 7, "/tmp/x.toml") }, "config apply redis.default 7 /tmp/x.toml"},
		{"term", func(l *Lifecycle, ctx context.Context) error { return l.TermSupervisor(ctx) }, "sup term"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockSupervisor(t)
			m.Static = true
			l := NewLifecycle("hab", WithRunner(m))

			require.NoError(t, tt.call(l, testContext(t)))
			assert.Equal(t, []string{tt.wants}, m.commands())
		})
	}
}

func TestLifecycleUnknownStyle(t *testing.T) {
	m := newMockSupervisor(t)
	l := NewLifecycle("", WithRunner(m))
	assert.Equal(t, DefaultBinary, l.Binary)

	require.ErrorIs(t, l.Start(testContext(t), redis, StyleUnknown), ErrInvalidDesired)
	require.ErrorIs(t, l.Stop(testContext(t), redis, StyleUnknown), ErrInvalidDesired)
	assert.Empty(t, m.commands(), "no command for an unknown style")
}

func TestLifecycleToggleAlwaysUnloadsFirst(t *testing.T) {
	for _, current := range []StartStyle{StylePersistent, StyleTransient, StyleUnknown} {
		for _, target := range []StartStyle{StylePersistent, StyleTransient} {
			t.Run(current.String()+"->"+target.String(), func(t *testing.T) {
				m := newMockSupervisor(t)
				m.Static = true
				l := NewLifecycle("hab", WithRunner(m))

				require.NoError(t, l.ToggleStyle(testContext(t), redis, current, target))

				start := "sup start core/redis"
				if target == StylePersistent {
					start = "sup load core/redis"
				}
				assert.Equal(t, []string{"sup unload core/redis", start}, m.commands())
			})
		}
	}
}

func TestLifecycleToggleUnloadFailure(t *testing.T) {
	t.Run("tolerated when not persistent", func(t *testing.T) {
		m := newMockSupervisor(t)
		m.Static = true
		m.ExitCodes["sup unload"] = 1
		l := NewLifecycle("hab", WithRunner(m))

		require.NoError(t, l.ToggleStyle(testContext(t), redis, StyleTransient, StylePersistent))
		assert.Equal(t, []string{"sup unload core/redis", "sup load core/redis"}, m.commands())
	})

	t.Run("fatal when persistent", func(t *testing.T) {
		m := newMockSupervisor(t)
		m.Static = true
		m.ExitCodes["sup unload"] = 1
		l := NewLifecycle("hab", WithRunner(m))

		err := l.ToggleStyle(testContext(t), redis, StylePersistent, StyleTransient)
		require.ErrorIs(t, err, ErrSupervisorCommand)
		assert.Equal(t, []string{"sup unload core/redis"}, m.commands())
	})
}

func TestLifecycleCommandFailure(t *testing.T) {
	m := newMockSupervisor(t)
	m.ExitCodes["sup load"] = 2
	l := NewLifecycle("/usr/bin/hab", WithRunner(m))

	err := l.Start(testContext(t), redis, StylePersistent)
	require.ErrorIs(t, err, ErrSupervisorCommand)

	var cerr *CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 2, cerr.ExitCode)
	assert.Equal(t, []string{"/usr/bin/hab", "sup", "load", "core/redis"}, cerr.Args)
	assert.Contains(t, cerr.Stderr, "forced failure")

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, OpLoad, opErr.Op)
}

type failingRunner struct{ err error }

func (f failingRunner) Run(context.Context, string, ...string) (CommandResult, error) {
	return CommandResult{ExitCode: -1}, f.err
}

func TestLifecycleRunnerError(t *testing.T) {
	boom := errors.New("exec: \"hab\": executable file not found in $PATH")
	l := NewLifecycle("hab", WithRunner(failingRunner{err: boom}))

	err := l.Stop(testContext(t), redis, StyleTransient)
	require.ErrorIs(t, err, ErrSupervisorCommand)
	require.ErrorIs(t, err, boom)

	_, err = l.SupervisorRunning(testContext(t))
	require.ErrorIs(t, err, boom)
}

func TestSupervisorRunning(t *testing.T) {
	m := newMockSupervisor(t)
	l := NewLifecycle("hab", WithRunner(m))

	running, err := l.SupervisorRunning(testContext(t))
	require.NoError(t, err)
	assert.True(t, running)

	m.SupRunning = false
	running, err = l.SupervisorRunning(testContext(t))
	require.NoError(t, err, "exit 3 means not running")
	assert.False(t, running)

	m.ExitCodes["sup status"] = 1
	_, err = l.SupervisorRunning(testContext(t))
	require.ErrorIs(t, err, ErrSupervisorCommand)
}

func TestStartSupervisorUnsupported(t *testing.T) {
	m := newMockSupervisor(t)
	l := NewLifecycle("hab", WithRunner(m))

	err := l.StartSupervisor(testContext(t))
	require.ErrorIs(t, err, ErrUnsupported)
	assert.Empty(t, m.commands())
}

type countingRecorder struct {
	nopRecorder
	ok, failed int
}

func (c *countingRecorder) ObserveCommand(_ Operation, ok bool) {
	if ok {
		c.ok++
	} else {
		c.failed++
	}
}

func TestLifecycleRecordsCommands(t *testing.T) {
	m := newMockSupervisor(t)
	m.SupRunning = false
	rec := &countingRecorder{}
	l := NewLifecycle("hab", WithRunner(m), WithLifecycleRecorder(rec))

	_, _ = l.SupervisorRunning(testContext(t))
	m.ExitCodes["sup stop"] = 1
	_ = l.Stop(testContext(t), redis, StyleTransient)

	assert.Equal(t, 1, rec.ok, "exit 3 from sup status counts as success")
	assert.Equal(t, 1, rec.failed)
}

func TestMockSupervisorLongestExitPrefix(t *testing.T) {
	m := newMockSupervisor(t)
	m.ExitCodes["sup"] = 5
	m.ExitCodes["sup unload"] = 1
	l := NewLifecycle("hab", WithRunner(m))

	for range 20 {
		var cerr *CommandError
		require.ErrorAs(t, l.Stop(testContext(t), redis, StylePersistent), &cerr)
		require.Equal(t, 1, cerr.ExitCode)

		require.ErrorAs(t, l.Stop(testContext(t), redis, StyleTransient), &cerr)
		require.Equal(t, 5, cerr.ExitCode)
	}
}
