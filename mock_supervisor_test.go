package habitat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// mockService is one service as the fake supervisor sees it
type mockService struct {
	Registered bool
	State      string // "up" or "down"; empty omits process.state
	Style      string // "Persistent" or "Transient"; empty omits start_style
	Config     map[string]any
}

// MockSupervisor fakes both the supervisor's HTTP gateway and the hab
// CLI. Commands are recorded and, unless Static is set, change the fake
// state the way the real supervisor would.
type MockSupervisor struct {
	mu sync.Mutex

	// Services are keyed by service name; every service is in group Group
	Services map[string]*mockService
	Group    string
	// Census holds the last applied incarnation per "name.group"
	Census map[string]uint64
	// Static freezes state: commands are recorded but have no effect
	Static bool
	// SupRunning is what `hab sup status` reports
	SupRunning bool
	// ExitCodes forces the exit code of commands starting with the key,
	// e.g. "sup unload"; the longest matching key wins
	ExitCodes map[string]int
	// ConfigStatus overrides the HTTP status of the config endpoint
	ConfigStatus int

	Commands []string
	// Applied holds the TOML documents passed to `hab config apply`
	Applied []string

	server *httptest.Server
}

func newMockSupervisor(t testing.TB) *MockSupervisor {
	t.Helper()
	m := &MockSupervisor{
		Services:   map[string]*mockService{},
		Group:      DefaultGroup,
		Census:     map[string]uint64{},
		SupRunning: true,
		ExitCodes:  map[string]int{},
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serveHTTP))
	t.Cleanup(m.server.Close)
	return m
}

// URL is the base URL of the fake gateway
func (m *MockSupervisor) URL() string {
	return m.server.URL
}

// Reconciler returns a Reconciler wired to the mock with no settle delay
func (m *MockSupervisor) Reconciler(opts ...Option) *Reconciler {
	base := []Option{
		WithBinary("hab"),
		WithGateway(m.URL()),
		WithCommandRunner(m),
		WithSettler(&recordingSettler{}),
	}
	return New(append(base, opts...)...)
}

func (m *MockSupervisor) set(name string, svc *mockService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Services[name] = svc
}

func (m *MockSupervisor) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Commands...)
}

func (m *MockSupervisor) serveHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.URL.Path == "/census" {
		groups := map[string]any{}
		for group, inc := range m.Census {
			groups[group] = map[string]any{"service_config": map[string]any{"incarnation": inc}}
		}
		writeJSON(w, map[string]any{"census_groups": groups})
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "services" || parts[2] != m.Group {
		http.NotFound(w, r)
		return
	}
	svc, ok := m.Services[parts[1]]
	if !ok || !svc.Registered {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 4 && parts[3] == "config" {
		if m.ConfigStatus != 0 {
			w.WriteHeader(m.ConfigStatus)
			return
		}
		cfg := svc.Config
		if cfg == nil {
			cfg = map[string]any{}
		}
		writeJSON(w, cfg)
		return
	}

	doc := map[string]any{}
	if svc.State != "" {
		doc["process"] = map[string]any{"state": svc.State, "pid": 4242}
	}
	if svc.Style != "" {
		doc["start_style"] = svc.Style
	}
	writeJSON(w, doc)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Run implements CommandRunner
func (m *MockSupervisor) Run(_ context.Context, _ string, args ...string) (CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	line := strings.Join(args, " ")
	m.Commands = append(m.Commands, line)

	if code, ok := m.forcedExit(line); ok {
		return CommandResult{Stderr: []byte("forced failure: " + line), ExitCode: code}, nil
	}

	if line == "sup status" {
		if m.SupRunning {
			return CommandResult{}, nil
		}
		return CommandResult{ExitCode: exitSupervisorNotRunning}, nil
	}

	if len(args) == 5 && args[0] == "config" && args[1] == "apply" {
		data, err := os.ReadFile(args[4])
		if err != nil {
			return CommandResult{Stderr: []byte(err.Error()), ExitCode: 1}, nil
		}
		m.Applied = append(m.Applied, string(data))
		if !m.Static {
			inc, _ := strconv.ParseUint(args[3], 10, 64)
			m.Census[args[2]] = inc
			var cfg map[string]any
			if _, err := toml.Decode(string(data), &cfg); err == nil {
				name := strings.TrimSuffix(args[2], "."+m.Group)
				if svc, ok := m.Services[name]; ok {
					svc.Config = cfg
				}
			}
		}
		return CommandResult{Stdout: []byte("Applied configuration")}, nil
	}

	if m.Static || len(args) < 3 || args[0] != "sup" {
		return CommandResult{}, nil
	}

	name := args[2][strings.LastIndex(args[2], "/")+1:]
	svc, ok := m.Services[name]
	if !ok {
		svc = &mockService{}
		m.Services[name] = svc
	}
	switch args[1] {
	case "start":
		svc.Registered, svc.State, svc.Style = true, "up", "Transient"
	case "load":
		svc.Registered, svc.State, svc.Style = true, "up", "Persistent"
	case "stop":
		svc.State = "down"
	case "unload":
		svc.Registered = false
	case "term":
		m.SupRunning = false
	}
	return CommandResult{}, nil
}

// forcedExit returns the exit code of the longest ExitCodes prefix of line
func (m *MockSupervisor) forcedExit(line string) (int, bool) {
	best, code := -1, 0
	for prefix, c := range m.ExitCodes {
		if strings.HasPrefix(line, prefix) && len(prefix) > best {
			best, code = len(prefix), c
		}
	}
	return code, best >= 0
}

// recordingSettler records phases instead of waiting
type recordingSettler struct {
	mu     sync.Mutex
	phases []SettlePhase
}

func (s *recordingSettler) Settle(_ context.Context, _ ServiceIdentity, phase SettlePhase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, phase)
	return nil
}

func (s *recordingSettler) Phases() []SettlePhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SettlePhase(nil), s.phases...)
}

// testContext returns a context that ends with the test
func testContext(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testLogger routes log output through t.Log
func testLogger(t testing.TB) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}
