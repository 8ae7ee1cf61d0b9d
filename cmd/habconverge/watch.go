package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	habitat "github.com/axondata/go-habitat"
	"github.com/axondata/go-habitat/internal/desired"
	"github.com/axondata/go-habitat/internal/metrics"
	"github.com/axondata/go-habitat/internal/watch"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var (
		file        string
		interval    time.Duration
		debounce    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-converge whenever the desired-state document changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			rec := metrics.NewRecorder()
			r, err := opts.reconciler(logger, habitat.WithRecorder(rec))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           metricsMux(rec),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error().Err(err).Str("addr", metricsAddr).Msg("metrics server stopped")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
			}

			w := &watch.Watcher{
				Path:     file,
				Debounce: debounce,
				Interval: interval,
				Load:     desired.Load,
				Converge: r.Converge,
				Logger:   logger,
			}
			if err := w.Run(ctx); err != nil {
				return fmt.Errorf("watching %s: %w", file, err)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&file, "file", "f", "", "desired-state document to watch")
	fl.DurationVar(&interval, "interval", 0, "also re-converge at this interval (0 disables)")
	fl.DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period after a change before converging")
	fl.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func metricsMux(rec *metrics.Recorder) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	return mux
}
