// Package habitat converges a service run by the Habitat supervisor to a
// declared state: running or stopped, persistent or transient, and a
// desired configuration.
//
// A Reconciler reads the service from the supervisor's HTTP gateway,
// computes what differs and issues only the hab commands needed:
//
//	r := habitat.New(habitat.WithBinary("/bin/hab"))
//
//	out, err := r.Reconcile(ctx, habitat.Desired{
//	    Identity: habitat.NewServiceIdentity("core", "redis", "default"),
//	    State:    habitat.StateUp,
//	    Style:    habitat.StylePersistent,
//	    Config:   habitat.MustFromMap(map[string]any{"port": 6379}),
//	})
//	fmt.Println(out.Changed, out.Message)
//
// # Components
//
// The Reconciler is built from parts that can be used on their own:
//
//   - Probe: read-only gateway queries (state, start style, config,
//     census incarnation)
//   - Diff: one-directional structural diff of configuration trees
//   - Lifecycle: hab sup start/load/stop/unload and supervisor checks
//   - Applier: renders a Tree to TOML and runs hab config apply
//
// # Readiness
//
// After starting a service or switching its start style the supervisor
// needs time before the gateway reports on it. By default the Reconciler
// waits fixed durations (SleepSettler). WithPolling swaps this for
// bounded polling of the gateway (PollSettler), which fails with
// ErrSettleTimeout instead of proceeding blindly.
//
// # Errors
//
// Failures reading state or style are soft: they come back as a
// *ProbeError next to StateUnknown or StyleUnknown and only steer the
// reconciliation. Failing to read configuration (ErrConfigFetch) and any
// hab command exiting non-zero (ErrSupervisorCommand) abort the run.
// Nothing is rolled back.
package habitat
