package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-dev/lattice/pkg/collab"
	"github.com/lattice-dev/lattice/pkg/inspector"
	"github.com/lattice-dev/lattice/pkg/reactive"
	"github.com/lattice-dev/lattice/pkg/telemetry"
)

func serveCmd() *cobra.Command {
	var (
		addr    string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo collaboration server with a graph inspector",
		Long: `Run a demo server.

The server hosts collaboration rooms under /collab (connect with the
collab client and shared signals sync between every participant) and
a graph inspector under /debug: /debug/graph and /debug/stats as
JSON, /debug/metrics in Prometheus format, /debug/ws as a live event
stream. A small demo graph keeps the inspector busy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr, verbose)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8844", "listen address")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func runServe(ctx context.Context, addr string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	collector := telemetry.NewCollector(telemetry.WithRegistry(reg))
	insp := inspector.New(
		inspector.WithLogger(logger),
		inspector.WithRegistry(reg),
		inspector.WithCheckOrigin(func(*http.Request) bool { return true }),
	)

	rt := reactive.New(
		reactive.WithLogger(logger),
		reactive.WithHooks(telemetry.Merge(collector.Hooks(), insp.Hooks())),
	)
	defer rt.Dispose()
	insp.Attach(rt)

	hubCfg := collab.DefaultHubConfig()
	hubCfg.Logger = logger
	hubCfg.CheckOrigin = func(*http.Request) bool { return true }
	hub := collab.NewHub(hubCfg)

	mux := chi.NewRouter()
	mux.Mount("/collab", hub.Routes())
	mux.Mount("/debug", insp.Routes())

	server := &http.Server{Addr: addr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		runDemoGraph(ctx, rt, logger)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Shutdown(shutdownCtx)
		insp.Close()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// runDemoGraph builds a small reactive graph and nudges it on a timer
// so the inspector's stream and metrics have something to show. All
// writes happen on this goroutine; the runtime is single-owner.
func runDemoGraph(ctx context.Context, rt *reactive.Runtime, logger *slog.Logger) {
	temperature := reactive.NewSignal(rt, 21.0).WithName("temperature")
	threshold := reactive.NewSignal(rt, 25.0).WithName("threshold")
	ticks := reactive.NewIntSignal(rt, 0)
	ticks.WithName("ticks")

	alarm := reactive.NewMemo(rt, func() bool {
		return temperature.Get() > threshold.Get()
	}).WithName("alarm")

	reactive.NewEffect(rt, func() reactive.Cleanup {
		if alarm.Get() {
			logger.Warn("demo alarm raised", "temperature", temperature.Peek())
		}
		return nil
	}, reactive.EffectName("alarm-log"))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.Batch(func() {
				ticks.Inc()
				temperature.Update(func(t float64) float64 {
					return t + rng.Float64()*2 - 1
				})
			})
		}
	}
}
