// Package watch re-runs a reconciliation whenever the desired-state
// document changes on disk, and optionally on a fixed interval to catch
// drift made behind the reconciler's back.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	habitat "github.com/axondata/go-habitat"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"vawter.tech/stopper"
)

// DefaultDebounce coalesces the burst of events editors produce on save
const DefaultDebounce = 200 * time.Millisecond

// stopGrace is how long running work gets after the context is cancelled
const stopGrace = 2 * time.Second

// ErrWatcherClosed is returned by Run when the file watcher shuts down
// while the context is still live
var ErrWatcherClosed = errors.New("watch: file watcher closed")

// LoadFunc reads the desired-state document
type LoadFunc func(path string) (habitat.Request, error)

// ConvergeFunc runs one reconciliation
type ConvergeFunc func(ctx context.Context, req habitat.Request) (habitat.Outcome, error)

// Watcher ties a document on disk to a reconciliation
type Watcher struct {
	// Path is the desired-state document
	Path string
	// Debounce is the quiet period after a change before converging
	Debounce time.Duration
	// Interval re-converges periodically when positive
	Interval time.Duration

	Load     LoadFunc
	Converge ConvergeFunc
	Logger   zerolog.Logger

	mu   sync.Mutex
	runs int // completed convergence attempts

	// newWatcher is fsnotify.NewWatcher unless a test replaces it
	newWatcher func() (*fsnotify.Watcher, error)
}

// Runs returns how many convergence attempts have completed
func (w *Watcher) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

// Run converges once, then again after each change to Path, until ctx is
// cancelled or the file notifier closes. Convergences never overlap. Load and reconcile errors are
// logged and do not stop the watch.
func (w *Watcher) Run(ctx context.Context) error {
	abs, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", w.Path, err)
	}

	open := w.newWatcher
	if open == nil {
		open = fsnotify.NewWatcher
	}
	watcher, err := open()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory: editors often replace the file by rename,
	// which drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
	})

	trigger := make(chan struct{}, 1)
	kick := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	// event loop
	loopDone := make(chan struct{})
	sctx.Go(func(sctx *stopper.Context) error {
		defer close(loopDone)
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.Logger.Debug().Str("file", abs).Stringer("op", event.Op).Msg("desired state changed")
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, kick)

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				w.Logger.Warn().Err(err).Msg("watch error")
			}
		}
	})

	// worker: the only goroutine that converges
	sctx.Go(func(sctx *stopper.Context) error {
		var tick <-chan time.Time
		if w.Interval > 0 {
			t := time.NewTicker(w.Interval)
			defer t.Stop()
			tick = t.C
		}

		w.converge(sctx, abs)
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case <-trigger:
				w.converge(sctx, abs)
			case <-tick:
				w.converge(sctx, abs)
			}
		}
	})

	var result error
	select {
	case <-ctx.Done():
	case <-loopDone:
		if ctx.Err() == nil {
			result = ErrWatcherClosed
		}
	}
	sctx.Stop(stopGrace)
	if err := sctx.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return result
}

func (w *Watcher) converge(ctx context.Context, path string) {
	defer func() {
		w.mu.Lock()
		w.runs++
		w.mu.Unlock()
	}()

	req, err := w.Load(path)
	if err != nil {
		w.Logger.Error().Err(err).Str("file", path).Msg("loading desired state")
		return
	}

	out, err := w.Converge(ctx, req)
	if err != nil {
		w.Logger.Error().Err(err).Msg("converge failed")
		return
	}
	w.Logger.Info().Bool("changed", out.Changed).Str("msg", out.Message).Msg("converged")
}
