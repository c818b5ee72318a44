package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/tasksync/pkg/cache"
	"github.com/Sternrassler/tasksync/pkg/connectivity"
	"github.com/Sternrassler/tasksync/pkg/metrics"
	"github.com/Sternrassler/tasksync/pkg/task"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type watchOptions struct {
	MetricsAddr string
	Refresh     time.Duration
	Duration    time.Duration
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	wopts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the task list and serve metrics",
		Long: `Observe the task list and print it whenever it changes.

The list is refetched when it turns stale and whenever connectivity returns.
While running, /metrics, /health and /ready are served on --metrics-addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, out printer) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				if wopts.Duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, wopts.Duration)
					defer cancel()
				}
				if !cmd.Flags().Changed("metrics-addr") {
					wopts.MetricsAddr = a.cfg.Metrics.Addr
				}
				return runWatch(ctx, a, out, wopts)
			})
		},
	}

	cmd.Flags().StringVar(&wopts.MetricsAddr, "metrics-addr", "", "listen address for /metrics, /health and /ready (empty disables)")
	cmd.Flags().DurationVar(&wopts.Refresh, "refresh", 30*time.Second, "how often to check the list for staleness")
	cmd.Flags().DurationVar(&wopts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func runWatch(ctx context.Context, a *app, out printer, opts *watchOptions) error {
	sub := a.tasks.ObserveList()
	defer sub.Close()

	g, ctx := errgroup.WithContext(ctx)

	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           newMux(a.tracker),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info().Str("addr", opts.MetricsAddr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return ignoreDone(a.tracker.Probe(ctx, a.cfg.Connectivity.ProbeInterval, a.client.Ping))
	})
	g.Go(func() error {
		return ignoreDone(a.queries.Run(ctx))
	})
	g.Go(func() error {
		ticker := time.NewTicker(opts.Refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.queries.EnsureFresh(task.Lists(), nil)
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-sub.C:
				if !ok {
					return nil
				}
				if err := printEntry(out, e); err != nil {
					return err
				}
			}
		}
	})

	a.logger.Info().Msg("Watching task list")
	err := g.Wait()
	a.logger.Info().Msg("Watch stopped")
	return err
}

// printEntry renders a settled list entry; in-flight states are skipped.
func printEntry(out printer, e cache.Entry) error {
	switch e.Status {
	case cache.StatusSuccess:
	case cache.StatusError:
		if !e.HasData() {
			fmt.Fprintf(out.w, "# fetch failed: %v\n", e.Err)
			return nil
		}
		fmt.Fprintf(out.w, "# fetch failed, showing cached tasks: %v\n", e.Err)
	default:
		return nil
	}
	tasks, _ := cache.DataAs[[]task.Task](e)
	fmt.Fprintf(out.w, "# %s\n", e.LastUpdated.Local().Format(time.RFC3339))
	return out.tasks(tasks)
}

func ignoreDone(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func newMux(tracker *connectivity.Tracker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(tracker))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 while the task API is unreachable.
func readyHandler(tracker *connectivity.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := tracker.State()
		w.Header().Set("Content-Type", "application/json")
		if !state.Online {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(state)
	}
}
