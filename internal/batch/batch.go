// Package batch turns a validated config into a simulated, summarized report.
package batch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/farmsim/internal/config"
	"github.com/psantana5/farmsim/internal/report"
	"github.com/psantana5/farmsim/pkg/generator"
	"github.com/psantana5/farmsim/pkg/logging"
	"github.com/psantana5/farmsim/pkg/simulation"
	"github.com/psantana5/farmsim/pkg/tracing"
)

// Options carries the collaborators a batch reports to
type Options struct {
	// ID names the run; a UUID is generated when empty
	ID        string
	Logger    *logging.Logger
	Tracer    trace.Tracer
	Observers []simulation.Observer
}

// ResolveSeed returns seed, or a fresh random seed in (0, config.MaxSeed)
// when seed is 0, so the recorded value survives a trip through the config file
func ResolveSeed(seed int64) int64 {
	for seed == 0 {
		seed = rand.Int64N(config.MaxSeed)
	}
	return seed
}

// Execute validates cfg, runs every repetition and returns the report.
// cfg is not modified; the seed actually used is recorded on the report.
func Execute(ctx context.Context, cfg *config.Config, opts Options) (*report.Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithField("run_id", id)

	seed := ResolveSeed(cfg.Seed)
	population := generator.Population{
		Ranges:   cfg.Ranges(),
		JobCount: cfg.JobCount,
		Seed:     uint64(seed),
	}
	runner := &simulation.Runner{
		CPUCapacity: cfg.CPUCapacity,
		MaxCycles:   cfg.MaxCycles,
		Workers:     cfg.Workers,
		Logger:      logger,
		Tracer:      opts.Tracer,
		Observers:   opts.Observers,
	}

	logger.Info("Run started", logging.Fields{
		"repetitions":  cfg.Repetitions,
		"cpu_capacity": cfg.CPUCapacity,
		"job_count":    cfg.JobCount,
		"seed":         seed,
	})
	start := time.Now()

	ctx, span := tracing.StartRun(ctx, opts.Tracer, id,
		attribute.Int64("farmsim.seed", seed),
		attribute.Int("farmsim.job_count", cfg.JobCount),
	)
	defer span.End()

	results, err := runner.RunBatch(ctx, cfg.Repetitions, population)
	if err != nil {
		tracing.SetError(ctx, err)
		return nil, err
	}

	summary := simulation.Summarize(results)
	span.SetAttributes(
		attribute.Int("farmsim.drained", summary.Drained),
		attribute.Float64("farmsim.median_cycles", summary.Cycles.Center),
	)
	logger.Info("Run complete", logging.Fields{
		"drained":          summary.Drained,
		"median_cycles":    summary.Cycles.Center,
		"mean_utilization": fmt.Sprintf("%.2f", summary.MeanUtilization),
		"elapsed":          time.Since(start).String(),
	})

	recorded := *cfg
	recorded.Seed = seed
	return &report.Report{
		ID:        id,
		CreatedAt: start.UTC(),
		Seed:      seed,
		Config:    &recorded,
		Summary:   summary,
		Results:   results,
	}, nil
}
