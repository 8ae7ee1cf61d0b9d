package habitat

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func desiredRedis(state ServiceState, style StartStyle, cfg map[string]any) Desired {
	return Desired{Identity: redis, State: state, Style: style, Config: MustFromMap(cfg)}
}

func TestReconcileNoop(t *testing.T) {
	m := newMockSupervisor(t)
	m.set("redis", &mockService{Registered: true, State: "up", Style: "Persistent", Config: map[string]any{"port": 8080}})

	out, err := m.Reconciler().Reconcile(testContext(t), desiredRedis(StateUp, StylePersistent, map[string]any{"port": 8080}))
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, "no changes", out.Message)
	assert.Empty(t, m.commands())
}

func TestReconcileBootstrapToggleApply(t *testing.T) {
	m := newMockSupervisor(t)
	m.Static = true
	m.set("redis", &mockService{Registered: true, State: "down", Config: map[string]any{}})
	settler := &recordingSettler{}

	out, err := m.Reconciler(WithSettler(settler)).Reconcile(testContext(t), desiredRedis(StateUp, StylePersistent, map[string]any{"port": 8080}))
	require.NoError(t, err)
	assert.Equal(t, Outcome{Changed: true, Message: "redis.default updated"}, out)

	cmds := m.commands()
	require.Len(t, cmds, 4)
	assert.Equal(t, []string{"sup start core/redis", "sup unload core/redis", "sup load core/redis"}, cmds[:3])
	assert.Regexp(t, `^config apply redis\.default 1 `, cmds[3])
	assert.Equal(t, []SettlePhase{SettleBootstrap, SettleToggle}, settler.Phases())

	require.Len(t, m.Applied, 1)
	assert.Contains(t, m.Applied[0], "port = 8080")
}

func TestReconcileStyleOnly(t *testing.T) {
	m := newMockSupervisor(t)
	m.set("redis", &mockService{Registered: true, State: "up", Style: "Transient", Config: map[string]any{"port": 8080}})
	settler := &recordingSettler{}

	out, err := m.Reconciler(WithSettler(settler)).Reconcile(testContext(t), desiredRedis(StateUp, StylePersistent, map[string]any{"port": 8080}))
	require.NoError(t, err)
	assert.Equal(t, Outcome{Changed: true, Message: "core/redis started"}, out)
	assert.Equal(t, []string{"sup unload core/redis", "sup load core/redis"}, m.commands())
	assert.Empty(t, settler.Phases())
	assert.Empty(t, m.Applied)
}

func TestReconcileApplySendsWholeTree(t *testing.T) {
	m := newMockSupervisor(t)
	m.Census["redis.default"] = 2
	m.set("redis", &mockService{Registered: true, State: "up", Style: "Persistent", Config: map[string]any{
		"db": map[string]any{"host": "b", "port": 5432},
	}})

	out, err := m.Reconciler().Reconcile(testContext(t), desiredRedis(StateUp, StylePersistent, map[string]any{
		"db": map[string]any{"host": "a", "port": 5432},
	}))
	require.NoError(t, err)
	assert.True(t, out.Changed)

	cmds := m.commands()
	require.Len(t, cmds, 1)
	assert.Regexp(t, `^config apply redis\.default 3 `, cmds[0])
	require.Len(t, m.Applied, 1)
	assert.Contains(t, m.Applied[0], `host = "a"`)
	assert.Contains(t, m.Applied[0], "port = 5432")
}

func TestReconcileUnregisteredConverges(t *testing.T) {
	m := newMockSupervisor(t)
	settler := &recordingSettler{}
	r := m.Reconciler(WithSettler(settler))
	want := desiredRedis(StateUp, StylePersistent, map[string]any{"port": 8080, "tls": map[string]any{"enabled": true}})

	out, err := r.Reconcile(testContext(t), want)
	require.NoError(t, err)
	assert.True(t, out.Changed)

	cmds := m.commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "sup load core/redis", cmds[0])
	assert.Regexp(t, `^config apply redis\.default 1 `, cmds[1])
	assert.Equal(t, []SettlePhase{SettleBootstrap}, settler.Phases())

	out, err = r.Reconcile(testContext(t), want)
	require.NoError(t, err)
	assert.False(t, out.Changed, "second run is a no-op")
	assert.Len(t, m.commands(), 2)
}

func TestReconcileStoppedTransient(t *testing.T) {
	m := newMockSupervisor(t)
	m.set("redis", &mockService{Registered: true, State: "down", Style: "Transient"})

	out, err := m.Reconciler().Reconcile(testContext(t), desiredRedis(StateUp, StyleTransient, nil))
	require.NoError(t, err)
	assert.Equal(t, Outcome{Changed: true, Message: "Started core/redis"}, out)
	assert.Equal(t, []string{"sup start core/redis"}, m.commands())
}

func TestReconcileConfigFetchFatal(t *testing.T) {
	m := newMockSupervisor(t)
	m.ConfigStatus = http.StatusInternalServerError
	m.set("redis", &mockService{Registered: true, State: "up", Style: "Persistent"})

	_, err := m.Reconciler().Reconcile(testContext(t), desiredRedis(StateUp, StylePersistent, map[string]any{"port": 1}))
	require.ErrorIs(t, err, ErrConfigFetch)
	assert.Empty(t, m.commands())
}

func TestReconcilePartialOutcome(t *testing.T) {
	m := newMockSupervisor(t)
	m.ExitCodes["config apply"] = 1

	out, err := m.Reconciler().Reconcile(testContext(t), desiredRedis(StateUp, StylePersistent, map[string]any{"port": 1}))
	require.ErrorIs(t, err, ErrSupervisorCommand)
	assert.Equal(t, Outcome{Changed: true, Message: "Started core/redis"}, out, "the load already happened")
}

func TestReconcileInvalidDesired(t *testing.T) {
	m := newMockSupervisor(t)
	r := m.Reconciler()

	_, err := r.Reconcile(testContext(t), Desired{Identity: NewServiceIdentity("", "", ""), State: StateUp, Style: StylePersistent})
	require.ErrorIs(t, err, ErrInvalidDesired)

	_, err = r.Reconcile(testContext(t), Desired{Identity: redis, State: StateUp})
	require.ErrorIs(t, err, ErrInvalidDesired)
	assert.Empty(t, m.commands())
}

func TestReconcileDown(t *testing.T) {
	tests := []struct {
		name    string
		svc     *mockService
		style   StartStyle
		want    Outcome
		command []string
	}{
		{
			name:    "running persistent",
			svc:     &mockService{Registered: true, State: "up", Style: "Persistent"},
			style:   StylePersistent,
			want:    Outcome{Changed: true, Message: "Stopped core/redis"},
			command: []string{"sup unload core/redis"},
		},
		{
			name:    "running transient",
			svc:     &mockService{Registered: true, State: "up", Style: "Transient"},
			style:   StyleTransient,
			want:    Outcome{Changed: true, Message: "Stopped core/redis"},
			command: []string{"sup stop core/redis"},
		},
		{
			name:    "running persistent wanted transient",
			svc:     &mockService{Registered: true, State: "up", Style: "Persistent"},
			style:   StyleTransient,
			want:    Outcome{Changed: true, Message: "Stopped core/redis"},
			command: []string{"sup unload core/redis"},
		},
		{
			name:    "stopped persistent wanted transient",
			svc:     &mockService{Registered: true, State: "down", Style: "Persistent"},
			style:   StyleTransient,
			want:    Outcome{Changed: true, Message: "Unloaded core/redis"},
			command: []string{"sup unload core/redis"},
		},
		{
			name:  "stopped",
			svc:   &mockService{Registered: true, State: "down", Style: "Transient"},
			style: StyleTransient,
			want:  Outcome{Message: "no changes"},
		},
		{
			name:  "not registered",
			svc:   &mockService{},
			style: StylePersistent,
			want:  Outcome{Message: "no changes"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockSupervisor(t)
			m.set("redis", tt.svc)

			out, err := m.Reconciler().Reconcile(testContext(t), desiredRedis(StateDown, tt.style, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.command, m.commands())
		})
	}
}

func TestConverge(t *testing.T) {
	t.Run("terminates running supervisor", func(t *testing.T) {
		m := newMockSupervisor(t)
		svc := desiredRedis(StateUp, StylePersistent, nil)

		out, err := m.Reconciler().Converge(testContext(t), Request{Supervisor: SupervisorDown, Service: &svc})
		require.NoError(t, err)
		assert.Equal(t, Outcome{Changed: true, Message: "Terminated Habitat supervisor"}, out)
		assert.Equal(t, []string{"sup status", "sup term"}, m.commands(), "service is not touched")
	})

	t.Run("stopped supervisor stays stopped", func(t *testing.T) {
		m := newMockSupervisor(t)
		m.SupRunning = false

		out, err := m.Reconciler().Converge(testContext(t), Request{Supervisor: SupervisorDown})
		require.NoError(t, err)
		assert.False(t, out.Changed)
		assert.Equal(t, []string{"sup status"}, m.commands())
	})

	t.Run("starting the supervisor is unsupported", func(t *testing.T) {
		m := newMockSupervisor(t)
		m.SupRunning = false

		_, err := m.Reconciler().Converge(testContext(t), Request{Supervisor: SupervisorUp})
		require.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("running supervisor reconciles service", func(t *testing.T) {
		m := newMockSupervisor(t)
		m.set("redis", &mockService{Registered: true, State: "down", Style: "Transient"})
		svc := desiredRedis(StateUp, StyleTransient, nil)

		out, err := m.Reconciler().Converge(testContext(t), Request{Supervisor: SupervisorUp, Service: &svc})
		require.NoError(t, err)
		assert.True(t, out.Changed)
		assert.Equal(t, []string{"sup status", "sup start core/redis"}, m.commands())
	})

	t.Run("ignore skips the supervisor check", func(t *testing.T) {
		m := newMockSupervisor(t)
		out, err := m.Reconciler().Converge(testContext(t), Request{})
		require.NoError(t, err)
		assert.Equal(t, Outcome{}, out)
		assert.Empty(t, m.commands())
	})

	t.Run("status failure", func(t *testing.T) {
		m := newMockSupervisor(t)
		m.ExitCodes["sup status"] = 127

		_, err := m.Reconciler().Converge(testContext(t), Request{Supervisor: SupervisorUp})
		require.ErrorIs(t, err, ErrSupervisorCommand)
	})
}

func TestReconcilerWiring(t *testing.T) {
	r := New()
	assert.Equal(t, DefaultBinary, r.Lifecycle().Binary)
	assert.Equal(t, DefaultAPIURL, r.Probe().BaseURL)
	assert.IsType(t, SleepSettler{}, r.Settler)

	r = New(WithPolling(time.Millisecond, time.Second), WithTempDir("/var/tmp"))
	assert.IsType(t, PollSettler{}, r.Settler)
	assert.Equal(t, "/var/tmp", r.Applier().TempDir)

	r = New(WithSettleDelays(0, 0))
	assert.Equal(t, SleepSettler{}, r.Settler)
}

func TestReconcileNullLeavesConverge(t *testing.T) {
	m := newMockSupervisor(t)
	m.set("redis", &mockService{Registered: true, State: "up", Style: "Persistent", Config: map[string]any{}})

	var cfg Tree
	require.NoError(t, cfg.UnmarshalJSON([]byte(`{"a":null,"b":1}`)))
	want := Desired{Identity: redis, State: StateUp, Style: StylePersistent, Config: cfg}
	r := m.Reconciler()

	out, err := r.Reconcile(testContext(t), want)
	require.NoError(t, err)
	assert.True(t, out.Changed)

	out, err = r.Reconcile(testContext(t), want)
	require.NoError(t, err)
	assert.False(t, out.Changed, "second run is a no-op")
	assert.Len(t, m.Applied, 1)
	assert.Len(t, m.commands(), 1)
}
