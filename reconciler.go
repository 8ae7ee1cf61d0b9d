package habitat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Reconciler converges one supervised service to a desired state. It
// keeps no state between calls: every Reconcile re-reads the supervisor.
//
// Calls are sequential and unsynchronised; running two reconciliations
// against the same service at once is not supported.
type Reconciler struct {
	// Binary is the path of the hab executable
	Binary string

	// APIURL is the supervisor gateway base URL
	APIURL string

	// TempDir is where rendered configuration files are written
	TempDir string

	// Runner executes hab subprocesses
	Runner CommandRunner

	// HTTPClient queries the gateway
	HTTPClient *http.Client

	// Settler waits after lifecycle transitions
	Settler Settler

	pollInterval time.Duration
	pollTimeout  time.Duration
	poll         bool

	logger   zerolog.Logger
	recorder Recorder

	probe     *Probe
	lifecycle *Lifecycle
	applier   *Applier
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithBinary sets the hab executable path
func WithBinary(path string) Option {
	return func(r *Reconciler) {
		r.Binary = path
	}
}

// WithGateway sets the supervisor gateway base URL
func WithGateway(u string) Option {
	return func(r *Reconciler) {
		r.APIURL = u
	}
}

// WithTempDir sets where rendered configuration files are written
func WithTempDir(dir string) Option {
	return func(r *Reconciler) {
		r.TempDir = dir
	}
}

// WithCommandRunner sets the subprocess runner
func WithCommandRunner(cr CommandRunner) Option {
	return func(r *Reconciler) {
		r.Runner = cr
	}
}

// WithGatewayClient sets the HTTP client used against the gateway
func WithGatewayClient(c *http.Client) Option {
	return func(r *Reconciler) {
		r.HTTPClient = c
	}
}

// WithSettler sets how the reconciler waits after lifecycle transitions
func WithSettler(s Settler) Option {
	return func(r *Reconciler) {
		r.Settler = s
		r.poll = false
	}
}

// WithSettleDelays uses fixed waits of the given durations
func WithSettleDelays(bootstrap, toggle time.Duration) Option {
	return WithSettler(SleepSettler{Bootstrap: bootstrap, Toggle: toggle})
}

// WithPolling replaces the fixed waits with bounded readiness polling
func WithPolling(interval, timeout time.Duration) Option {
	return func(r *Reconciler) {
		r.poll = true
		r.pollInterval = interval
		r.pollTimeout = timeout
	}
}

// WithLogger sets the logger shared by all components
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// WithRecorder sets the recorder for command and reconciliation counts
func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// New creates a Reconciler with default settings
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		Binary:   DefaultBinary,
		APIURL:   DefaultAPIURL,
		Runner:   ExecRunner{},
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}

	probeOpts := []ProbeOption{WithAPIURL(r.APIURL), WithProbeLogger(r.logger)}
	if r.HTTPClient != nil {
		probeOpts = append(probeOpts, WithHTTPClient(r.HTTPClient))
	}
	r.probe = NewProbe(probeOpts...)

	r.lifecycle = NewLifecycle(r.Binary,
		WithRunner(r.Runner),
		WithLifecycleLogger(r.logger),
		WithLifecycleRecorder(r.recorder),
	)

	r.applier = NewApplier(r.lifecycle, r.probe, r.logger)
	r.applier.TempDir = r.TempDir

	switch {
	case r.poll:
		r.Settler = PollSettler{Probe: r.probe, Interval: r.pollInterval, Timeout: r.pollTimeout}
	case r.Settler == nil:
		r.Settler = NewSleepSettler()
	}

	return r
}

// Probe returns the gateway probe used by the reconciler
func (r *Reconciler) Probe() *Probe {
	return r.probe
}

// Lifecycle returns the command issuer used by the reconciler
func (r *Reconciler) Lifecycle() *Lifecycle {
	return r.lifecycle
}

// Applier returns the configuration applier used by the reconciler
func (r *Reconciler) Applier() *Applier {
	return r.applier
}

// Request is a full invocation: the supervisor process state and,
// optionally, one service
type Request struct {
	Supervisor SupervisorState
	Service    *Desired
}

// Converge checks the supervisor process, terminating it when it should be
// down, and then reconciles the requested service if any
func (r *Reconciler) Converge(ctx context.Context, req Request) (Outcome, error) {
	if req.Supervisor != SupervisorIgnore {
		running, err := r.lifecycle.SupervisorRunning(ctx)
		if err != nil {
			return Outcome{}, err
		}
		switch {
		case running && req.Supervisor == SupervisorDown:
			if err := r.lifecycle.TermSupervisor(ctx); err != nil {
				return Outcome{}, err
			}
			out := Outcome{Changed: true, Message: "Terminated Habitat supervisor"}
			r.logger.Info().Msg(out.Message)
			return out, nil
		case !running && req.Supervisor == SupervisorUp:
			return Outcome{}, r.lifecycle.StartSupervisor(ctx)
		}
	}

	if req.Service == nil {
		return Outcome{}, nil
	}
	return r.Reconcile(ctx, *req.Service)
}

// Reconcile brings the service to the desired state with as few commands
// as it can. On error the returned outcome reflects the commands that
// already ran; nothing is rolled back.
func (r *Reconciler) Reconcile(ctx context.Context, d Desired) (out Outcome, err error) {
	start := time.Now()
	defer func() {
		r.recorder.ObserveReconcile(out, err, time.Since(start))
		ev := r.logger.Info()
		if err != nil {
			ev = r.logger.Error().Err(err)
		}
		ev.Str("service", d.Identity.String()).
			Bool("changed", out.Changed).
			Dur("elapsed", time.Since(start)).
			Msg("reconcile finished")
	}()

	if err := d.Validate(); err != nil {
		return Outcome{}, err
	}
	if d.State == StateDown {
		return r.reconcileDown(ctx, d)
	}
	return r.reconcileUp(ctx, d)
}

func (r *Reconciler) reconcileUp(ctx context.Context, d Desired) (Outcome, error) {
	id := d.Identity
	out := Outcome{Message: "no changes"}

	state, err := r.probe.State(ctx, id)
	r.soft(id, "state", err)

	if state != StateUp {
		// A stopped service only needs starting; an unregistered one has
		// to be loaded before the gateway will report on it.
		bootStyle := StyleTransient
		if state == StateUnknown {
			bootStyle = StylePersistent
		}
		if err := r.lifecycle.Start(ctx, id, bootStyle); err != nil {
			return out, err
		}
		out = Outcome{Changed: true, Message: "Started " + id.Ident()}
		if err := r.Settler.Settle(ctx, id, SettleBootstrap); err != nil {
			return out, err
		}
	}

	observed, err := r.probe.Config(ctx, id)
	if err != nil {
		return out, err
	}
	patch := Diff(d.Config, observed)

	style, err := r.probe.Style(ctx, id)
	r.soft(id, "style", err)

	r.logger.Debug().
		Str("service", id.String()).
		Stringer("state", state).
		Stringer("style", style).
		Strs("patch", patch.Keys()).
		Msg("observed service")

	if len(patch) > 0 {
		if style != d.Style {
			if err := r.lifecycle.ToggleStyle(ctx, id, style, d.Style); err != nil {
				return out, err
			}
			out.Changed = true
			if err := r.Settler.Settle(ctx, id, SettleToggle); err != nil {
				return out, err
			}
		}
		// The diff only decides whether to act; the supervisor gets the
		// whole desired document.
		applied, err := r.applier.Apply(ctx, id, d.Config)
		if err != nil {
			return out, err
		}
		return applied, nil
	}

	if style != d.Style {
		if err := r.lifecycle.ToggleStyle(ctx, id, style, d.Style); err != nil {
			return out, err
		}
		return Outcome{Changed: true, Message: id.Ident() + " started"}, nil
	}
	return out, nil
}

func (r *Reconciler) reconcileDown(ctx context.Context, d Desired) (Outcome, error) {
	id := d.Identity

	state, err := r.probe.State(ctx, id)
	r.soft(id, "state", err)
	style, err := r.probe.Style(ctx, id)
	r.soft(id, "style", err)

	// Going from persistent to transient while stopping means the durable
	// registration has to go, or the supervisor brings the service back
	// on its next start.
	dropDurable := style == StylePersistent && d.Style == StyleTransient

	if state == StateUp {
		stopStyle := d.Style
		if dropDurable {
			stopStyle = StylePersistent
		}
		if err := r.lifecycle.Stop(ctx, id, stopStyle); err != nil {
			return Outcome{}, err
		}
		return Outcome{Changed: true, Message: "Stopped " + id.Ident()}, nil
	}

	if dropDurable {
		if err := r.lifecycle.Stop(ctx, id, StylePersistent); err != nil {
			return Outcome{}, err
		}
		return Outcome{Changed: true, Message: "Unloaded " + id.Ident()}, nil
	}
	return Outcome{Message: "no changes"}, nil
}

// soft logs a probe failure that only steers control flow
func (r *Reconciler) soft(id ServiceIdentity, what string, err error) {
	if err == nil {
		return
	}
	var pe *ProbeError
	ev := r.logger.Debug().Err(err).Str("service", id.String()).Str("probe", what)
	if errors.As(err, &pe) {
		ev = ev.Stringer("kind", pe.Kind)
	}
	ev.Msg("probe returned no value")
}
