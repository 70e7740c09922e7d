package simulation

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/farmsim/pkg/farm"
	"github.com/psantana5/farmsim/pkg/logging"
	"github.com/psantana5/farmsim/pkg/models"
	"github.com/psantana5/farmsim/pkg/tracing"
)

const tracerName = "github.com/psantana5/farmsim/pkg/simulation"

// JobFactory supplies a fresh job population for each repetition
type JobFactory interface {
	Jobs(repetition int) ([]*models.Job, error)
}

// JobFactoryFunc adapts a function to JobFactory
type JobFactoryFunc func(repetition int) ([]*models.Job, error)

// Jobs calls f(repetition)
func (f JobFactoryFunc) Jobs(repetition int) ([]*models.Job, error) {
	return f(repetition)
}

// Observer receives per-cycle samples and finished results. Observers may be
// called from several goroutines when repetitions run in parallel.
type Observer interface {
	ObserveCycle(repetition int, stats farm.CycleStats)
	ObserveResult(result *Result)
}

// Runner executes batches of independent repetitions
type Runner struct {
	CPUCapacity int
	MaxCycles   int
	// Workers bounds how many repetitions run at once; 0 or 1 runs them in order.
	Workers   int
	Logger    *logging.Logger
	Tracer    trace.Tracer
	Observers []Observer
}

// RunBatch runs repetitions with a default sequential runner
func RunBatch(repetitions int, factory JobFactory, cpuCapacity, maxCycles int) ([]*Result, error) {
	r := &Runner{CPUCapacity: cpuCapacity, MaxCycles: maxCycles}
	return r.RunBatch(context.Background(), repetitions, factory)
}

func (r *Runner) logger() *logging.Logger {
	if r.Logger == nil {
		return logging.Nop()
	}
	return r.Logger
}

func (r *Runner) tracer() trace.Tracer {
	if r.Tracer == nil {
		return otel.Tracer(tracerName)
	}
	return r.Tracer
}

// RunBatch runs repetitions, each on a fresh farm with a fresh population.
// Results are indexed by repetition. Cancellation is checked between
// repetitions; a repetition in progress always runs to completion.
func (r *Runner) RunBatch(ctx context.Context, repetitions int, factory JobFactory) ([]*Result, error) {
	if repetitions < 0 {
		return nil, fmt.Errorf("repetitions must be >= 0 (got %d)", repetitions)
	}
	if _, err := farm.NewFarm(r.CPUCapacity); err != nil {
		return nil, err
	}

	ctx, span := r.tracer().Start(ctx, "simulation.batch", trace.WithAttributes(
		attribute.Int("farmsim.repetitions", repetitions),
		attribute.Int("farmsim.cpu_capacity", r.CPUCapacity),
		attribute.Int("farmsim.max_cycles", r.MaxCycles),
		attribute.Int("farmsim.workers", r.Workers),
	))
	defer span.End()

	r.logger().Info("Starting batch", logging.Fields{
		"repetitions":  repetitions,
		"cpu_capacity": r.CPUCapacity,
		"max_cycles":   r.MaxCycles,
		"workers":      r.Workers,
	})

	results := make([]*Result, repetitions)
	var err error
	if r.Workers > 1 {
		p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(r.Workers)
		for i := 0; i < repetitions; i++ {
			p.Go(func(ctx context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				res, err := r.RunRepetition(ctx, i, factory)
				results[i] = res
				return err
			})
		}
		err = p.Wait()
	} else {
		for i := 0; i < repetitions; i++ {
			if err = ctx.Err(); err != nil {
				break
			}
			if results[i], err = r.RunRepetition(ctx, i, factory); err != nil {
				break
			}
		}
	}

	if err != nil {
		tracing.SetError(ctx, err)
		return nil, fmt.Errorf("batch aborted: %w", err)
	}

	r.logger().Info("Batch finished", logging.Fields{"repetitions": repetitions})
	return results, nil
}

// RunRepetition builds a fresh farm, submits the factory's jobs and drives
// it to completion or the cycle cap
func (r *Runner) RunRepetition(ctx context.Context, repetition int, factory JobFactory) (*Result, error) {
	jobs, err := factory.Jobs(repetition)
	if err != nil {
		return nil, fmt.Errorf("repetition %d: failed to generate jobs: %w", repetition, err)
	}

	f, err := farm.NewFarm(r.CPUCapacity)
	if err != nil {
		return nil, fmt.Errorf("repetition %d: %w", repetition, err)
	}
	for _, job := range jobs {
		f.Submit(job)
	}

	ctx, span := r.tracer().Start(ctx, "simulation.repetition", trace.WithAttributes(
		attribute.Int("farmsim.repetition", repetition),
		attribute.Int("farmsim.jobs", len(jobs)),
		attribute.Int("farmsim.units", f.RemainingUnits()),
	))
	defer span.End()

	log := r.logger().WithField("repetition", repetition)
	debug := log.Enabled(logging.DEBUG)

	result := runRepetition(f, r.MaxCycles, func(stats farm.CycleStats) {
		if debug {
			log.Debug(fmt.Sprintf("Cycle: %d", stats.Cycle), logging.Fields{
				"utilization": stats.Utilization,
				"completion":  stats.Completion,
				"active_jobs": stats.ActiveJobs,
			})
		}
		for _, o := range r.Observers {
			o.ObserveCycle(repetition, stats)
		}
	})
	result.Repetition = repetition

	span.SetAttributes(
		attribute.Int("farmsim.cycles", result.Cycles()),
		attribute.Bool("farmsim.drained", result.Drained),
	)

	fields := logging.Fields{
		"cycles":           result.Cycles(),
		"last_active":      result.LastActiveCycle,
		"total_units":      result.TotalUnitsAtStart,
		"mean_utilization": fmt.Sprintf("%.2f", result.MeanUtilization()),
	}
	if result.Drained {
		tracing.AddEvent(ctx, "repetition.drained", attribute.Int("farmsim.last_active_cycle", result.LastActiveCycle))
		log.Info("Repetition drained", fields)
	} else {
		left := summarizeBacklog(f.Jobs())
		tracing.AddEvent(ctx, "repetition.capped",
			attribute.Int("farmsim.pending_jobs", left.Pending),
			attribute.Int("farmsim.rendering_jobs", left.Rendering),
		)
		fields["remaining_jobs"] = result.RemainingJobs
		fields["pending_jobs"] = left.Pending
		fields["rendering_jobs"] = left.Rendering
		fields["mean_job_progress"] = fmt.Sprintf("%.1f", left.MeanProgress)
		log.Warn("Cycle cap reached before farm drained", fields)
	}

	for _, o := range r.Observers {
		o.ObserveResult(result)
	}
	return result, nil
}

// backlog describes the jobs still queued when a repetition stops
type backlog struct {
	Pending      int
	Rendering    int
	MeanProgress float64
}

func summarizeBacklog(jobs []*models.Job) backlog {
	var b backlog
	if len(jobs) == 0 {
		return b
	}
	for _, job := range jobs {
		switch job.Status() {
		case models.JobStatusPending:
			b.Pending++
		case models.JobStatusRendering:
			b.Rendering++
		}
		b.MeanProgress += job.Progress()
	}
	b.MeanProgress /= float64(len(jobs))
	return b
}
