package habitat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/siderolabs/go-retry/retry"
)

// SettlePhase identifies which transition a Settler waits after
type SettlePhase int

const (
	// SettleBootstrap follows starting a service that was down or unregistered
	SettleBootstrap SettlePhase = iota
	// SettleToggle follows a start style switch
	SettleToggle
)

// String returns the string representation of the SettlePhase
func (p SettlePhase) String() string {
	if p == SettleToggle {
		return "toggle"
	}
	return "bootstrap"
}

// Settler waits for a service to become queryable after a lifecycle
// transition
type Settler interface {
	Settle(ctx context.Context, id ServiceIdentity, phase SettlePhase) error
}

// SleepSettler waits a fixed duration per phase. It does not look at the
// service at all, so the durations must be long enough for the supervisor
// to publish state and configuration.
type SleepSettler struct {
	Bootstrap time.Duration
	Toggle    time.Duration
}

// NewSleepSettler returns a SleepSettler with the default durations
func NewSleepSettler() SleepSettler {
	return SleepSettler{Bootstrap: DefaultBootstrapSettle, Toggle: DefaultToggleSettle}
}

// Settle sleeps for the phase's duration or until ctx is done
func (s SleepSettler) Settle(ctx context.Context, _ ServiceIdentity, phase SettlePhase) error {
	d := s.Bootstrap
	if phase == SettleToggle {
		d = s.Toggle
	}
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollSettler polls the gateway until the service reports up and serves
// its configuration, bounded by Timeout
type PollSettler struct {
	Probe    *Probe
	Interval time.Duration
	Timeout  time.Duration
}

// NewPollSettler returns a PollSettler with the default interval and timeout
func NewPollSettler(probe *Probe) PollSettler {
	return PollSettler{Probe: probe, Interval: DefaultPollInterval, Timeout: DefaultPollTimeout}
}

// Settle polls until the service is ready. It returns an error wrapping
// ErrSettleTimeout when the timeout elapses first.
func (s PollSettler) Settle(ctx context.Context, id ServiceIdentity, phase SettlePhase) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	err := retry.Constant(timeout, retry.WithUnits(interval)).
		RetryWithContext(ctx, func(ctx context.Context) error {
			state, err := s.Probe.State(ctx, id)
			if err != nil {
				return retry.ExpectedError(err)
			}
			if state != StateUp {
				return retry.ExpectedError(fmt.Errorf("service %s is %s", id, state))
			}
			if _, err := s.Probe.Config(ctx, id); err != nil {
				return retry.ExpectedError(err)
			}
			return nil
		})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return fmt.Errorf("%w: %s after %s: %w", ErrSettleTimeout, id, phase, err)
	}
	return nil
}
