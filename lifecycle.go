package habitat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Lifecycle issues supervisor commands through the hab CLI. Each method
// runs exactly one subprocess, except ToggleStyle which runs two.
type Lifecycle struct {
	// Binary is the path of the hab executable
	Binary string

	// Runner executes the subprocesses
	Runner CommandRunner

	logger   zerolog.Logger
	recorder Recorder
}

// LifecycleOption configures a Lifecycle
type LifecycleOption func(*Lifecycle)

// WithRunner sets the command runner
func WithRunner(r CommandRunner) LifecycleOption {
	return func(l *Lifecycle) {
		l.Runner = r
	}
}

// WithLifecycleLogger sets the logger for issued commands
func WithLifecycleLogger(lg zerolog.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		l.logger = lg
	}
}

// WithLifecycleRecorder sets the recorder notified of every command
func WithLifecycleRecorder(r Recorder) LifecycleOption {
	return func(l *Lifecycle) {
		if r != nil {
			l.recorder = r
		}
	}
}

// NewLifecycle creates a Lifecycle for the given hab binary
func NewLifecycle(binary string, opts ...LifecycleOption) *Lifecycle {
	if binary == "" {
		binary = DefaultBinary
	}
	l := &Lifecycle{
		Binary:   binary,
		Runner:   ExecRunner{},
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start starts the service: `sup start` for transient, `sup load` for
// persistent
func (l *Lifecycle) Start(ctx context.Context, id ServiceIdentity, style StartStyle) error {
	switch style {
	case StyleTransient:
		return l.mustRun(ctx, OpStart, id.Ident(), id.Ident())
	case StylePersistent:
		return l.mustRun(ctx, OpLoad, id.Ident(), id.Ident())
	default:
		return &OpError{Op: OpStart, Target: id.Ident(), Err: fmt.Errorf("%w: unknown style %q", ErrInvalidDesired, style)}
	}
}

// Stop stops the service: `sup stop` for transient, `sup unload` for
// persistent
func (l *Lifecycle) Stop(ctx context.Context, id ServiceIdentity, style StartStyle) error {
	switch style {
	case StyleTransient:
		return l.mustRun(ctx, OpStop, id.Ident(), id.Ident())
	case StylePersistent:
		return l.mustRun(ctx, OpUnload, id.Ident(), id.Ident())
	default:
		return &OpError{Op: OpStop, Target: id.Ident(), Err: fmt.Errorf("%w: unknown style %q", ErrInvalidDesired, style)}
	}
}

// ToggleStyle switches the service to the target style. A durable
// registration has to be unloaded before a style change takes effect, so
// the service is always unloaded first and then started with target.
// When current is not persistent the unload has nothing to remove and a
// failure of it is logged rather than returned.
func (l *Lifecycle) ToggleStyle(ctx context.Context, id ServiceIdentity, current, target StartStyle) error {
	l.logger.Info().Str("service", id.String()).Stringer("from", current).Stringer("to", target).Msg("switching start style")

	if err := l.Stop(ctx, id, StylePersistent); err != nil {
		var cerr *CommandError
		if current == StylePersistent || !errors.As(err, &cerr) {
			return err
		}
		l.logger.Warn().Err(err).Str("service", id.String()).Msg("unload before style switch failed, continuing")
	}
	return l.Start(ctx, id, target)
}

// ApplyConfig runs `hab config apply {name}.{group} {incarnation} {file}`
func (l *Lifecycle) ApplyConfig(ctx context.Context, id ServiceIdentity, incarnation uint64, path string) error {
	return l.mustRun(ctx, OpConfigApply, id.ServiceGroup(), id.ServiceGroup(), strconv.FormatUint(incarnation, 10), path)
}

// SupervisorRunning reports whether the supervisor process is up. Exit
// code 3 is the documented "not running" answer and is not an error.
func (l *Lifecycle) SupervisorRunning(ctx context.Context) (bool, error) {
	res, err := l.run(ctx, OpSupStatus)
	if err != nil {
		return false, &OpError{Op: OpSupStatus, Target: "supervisor", Err: err}
	}
	switch res.ExitCode {
	case exitSupervisorRunning:
		return true, nil
	case exitSupervisorNotRunning:
		return false, nil
	default:
		return false, &OpError{Op: OpSupStatus, Target: "supervisor", Err: l.commandError(OpSupStatus, nil, res, nil)}
	}
}

// TermSupervisor stops the supervisor process
func (l *Lifecycle) TermSupervisor(ctx context.Context) error {
	return l.mustRun(ctx, OpSupTerm, "supervisor")
}

// StartSupervisor always fails: running the supervisor in the background
// is not something a one-shot reconciliation can own.
func (l *Lifecycle) StartSupervisor(_ context.Context) error {
	return &OpError{Op: OpSupRun, Target: "supervisor", Err: fmt.Errorf("%w: starting the supervisor in the background", ErrUnsupported)}
}

// mustRun runs op and requires exit code 0
func (l *Lifecycle) mustRun(ctx context.Context, op Operation, target string, extra ...string) error {
	res, err := l.run(ctx, op, extra...)
	if err != nil {
		return &OpError{Op: op, Target: target, Err: err}
	}
	if res.ExitCode != 0 {
		return &OpError{Op: op, Target: target, Err: l.commandError(op, extra, res, nil)}
	}
	return nil
}

// run executes op and returns its result. The error is non-nil only if
// the process could not be run at all.
func (l *Lifecycle) run(ctx context.Context, op Operation, extra ...string) (CommandResult, error) {
	args := append(op.args(), extra...)

	l.logger.Debug().Str("cmd", l.Binary+" "+strings.Join(args, " ")).Msg("running supervisor command")
	res, err := l.Runner.Run(ctx, l.Binary, args...)
	if err != nil {
		l.recorder.ObserveCommand(op, false)
		return res, l.commandError(op, extra, res, err)
	}

	// sup status answers with 3 when the supervisor is down, which is
	// still a successful query
	ok := res.ExitCode == 0 || (op == OpSupStatus && res.ExitCode == exitSupervisorNotRunning)
	l.recorder.ObserveCommand(op, ok)

	ev := l.logger.Debug()
	if !ok {
		ev = l.logger.Warn()
	}
	ev.Str("op", op.String()).Int("exit", res.ExitCode).Msg("supervisor command finished")
	return res, nil
}

func (l *Lifecycle) commandError(op Operation, extra []string, res CommandResult, err error) *CommandError {
	args := append([]string{l.Binary}, op.args()...)
	args = append(args, extra...)
	code := res.ExitCode
	if err != nil && code == 0 {
		code = -1
	}
	return &CommandError{
		Args:     args,
		ExitCode: code,
		Stdout:   string(res.Stdout),
		Stderr:   string(res.Stderr),
		Err:      err,
	}
}
