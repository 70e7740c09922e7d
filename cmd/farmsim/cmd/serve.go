package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/psantana5/farmsim/internal/report"
	"github.com/psantana5/farmsim/pkg/api"
	"github.com/psantana5/farmsim/pkg/auth"
	"github.com/psantana5/farmsim/pkg/logging"
	"github.com/psantana5/farmsim/pkg/middleware"
	"github.com/psantana5/farmsim/pkg/ratelimit"
	"github.com/psantana5/farmsim/pkg/shutdown"
	"github.com/psantana5/farmsim/pkg/store"
	"github.com/psantana5/farmsim/pkg/tracing"
)

var (
	serveAddr           string
	serveRate           float64
	serveBurst          int
	serveMaxRuns        int
	serveGracePeriod    time.Duration
	serveAPIKeys        []string
	serveTrustedProxies []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the simulation HTTP API",
	Long: `Starts an HTTP server that accepts simulation runs and serves their results.

Endpoints:
  POST /runs                 submit a run (body: config overrides, ?wait=true to block)
  GET  /runs                 list runs with their summaries
  GET  /runs/{id}            run status and full report
  GET  /runs/{id}/chart.png  utilization and completion chart
  GET  /metrics              Prometheus metrics
  GET  /health               liveness`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().Float64Var(&serveRate, "rate", 5, "requests per second allowed per client")
	serveCmd.Flags().IntVar(&serveBurst, "burst", 10, "request burst allowed per client")
	serveCmd.Flags().IntVar(&serveMaxRuns, "max-runs", 100, "runs retained in memory (0 for unbounded)")
	serveCmd.Flags().DurationVar(&serveGracePeriod, "grace-period", 30*time.Second, "time allowed for shutdown")
	serveCmd.Flags().StringSliceVar(&serveAPIKeys, "api-key", nil, "API key required to submit runs (repeatable, also FARMSIM_API_KEY)")
	serveCmd.Flags().StringSliceVar(&serveTrustedProxies, "trusted-proxy", nil, "proxy address whose X-Forwarded-For header is honoured (repeatable)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger("serve", cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()

	provider, err := initTracing(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handler := api.NewRunsHandler(store.NewMemoryStore(serveMaxRuns), cfg, logger)
	handler.SetTracer(provider.Tracer())
	handler.AddObserver(report.NewMetrics(registry))

	limiter := ratelimit.NewLimiter(serveRate, serveBurst)

	keys := auth.NewAPIKeys()
	for i, key := range append(serveAPIKeys, apiKeyFromEnv()) {
		if key != "" {
			keys.Add(key, fmt.Sprintf("key-%d", i))
		}
	}
	if keys.Len() == 0 {
		logger.Warn("No API key configured, run submission is open")
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(logger))
	router.Use(tracing.HTTPMiddleware(provider))
	router.Use(limiter.Middleware(ratelimit.ClientIP(serveTrustedProxies...)))
	router.Use(keys.Middleware)
	handler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")

	server := &http.Server{
		Addr:              serveAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// hooks run last registered first: stop accepting, finish runs, flush traces
	mgr := shutdown.New(serveGracePeriod, logger)
	mgr.Register("tracing", provider.Shutdown)
	mgr.Register("runs", handler.Close)
	mgr.Register("http", shutdown.StopHTTPServer(server))

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-mgr.Done():
				return
			case <-ticker.C:
				if n := limiter.Cleanup(10 * time.Minute); n > 0 {
					logger.Debug("Dropped idle rate limit entries", logging.Fields{"count": n})
				}
			}
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("API listening", logging.Fields{"addr": serveAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			mgr.Trigger()
		}
	}()

	if err := mgr.Wait(cmd.Context()); err != nil {
		return err
	}
	select {
	case err := <-serverErr:
		return err
	default:
		return nil
	}
}
