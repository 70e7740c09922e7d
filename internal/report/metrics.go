package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/farmsim/pkg/farm"
	"github.com/psantana5/farmsim/pkg/simulation"
)

// Metrics exports simulation progress as Prometheus collectors. It satisfies
// simulation.Observer and is safe for parallel repetitions.
type Metrics struct {
	cycles          prometheus.Counter
	slotClaims      prometheus.Counter
	jobsFinished    prometheus.Counter
	utilization     prometheus.Histogram
	repetitions     *prometheus.CounterVec
	lastActiveCycle *prometheus.GaugeVec
	unitsAtStart    *prometheus.GaugeVec
}

var _ simulation.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmsim_cycles_total",
			Help: "Total simulation cycles executed",
		}),
		slotClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmsim_cpu_slot_claims_total",
			Help: "Total CPU slots claimed by tasks across all cycles",
		}),
		jobsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmsim_jobs_finished_total",
			Help: "Total jobs that finished rendering",
		}),
		utilization: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "farmsim_cycle_utilization_percent",
			Help:    "Per-cycle CPU utilization in percent",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
		repetitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmsim_repetitions_total",
			Help: "Repetitions finished, by whether the farm drained before the cycle cap",
		}, []string{"drained"}),
		lastActiveCycle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "farmsim_last_active_cycle",
			Help: "Cycle at which each repetition stopped",
		}, []string{"repetition"}),
		unitsAtStart: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "farmsim_units_at_start",
			Help: "Total work units submitted to each repetition",
		}, []string{"repetition"}),
	}

	reg.MustRegister(
		m.cycles,
		m.slotClaims,
		m.jobsFinished,
		m.utilization,
		m.repetitions,
		m.lastActiveCycle,
		m.unitsAtStart,
	)
	return m
}

// ObserveCycle records one allocation pass
func (m *Metrics) ObserveCycle(_ int, stats farm.CycleStats) {
	m.cycles.Inc()
	m.slotClaims.Add(float64(stats.UsedCPUs))
	m.jobsFinished.Add(float64(stats.FinishedJobs))
	m.utilization.Observe(stats.Utilization)
}

// ObserveResult records a finished repetition
func (m *Metrics) ObserveResult(r *simulation.Result) {
	rep := strconv.Itoa(r.Repetition)
	m.repetitions.WithLabelValues(strconv.FormatBool(r.Drained)).Inc()
	m.lastActiveCycle.WithLabelValues(rep).Set(float64(r.LastActiveCycle))
	m.unitsAtStart.WithLabelValues(rep).Set(float64(r.TotalUnitsAtStart))
}

// WriteTextfile writes everything in g to path in the Prometheus text
// exposition format, suitable for the node_exporter textfile collector
func WriteTextfile(path string, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer f.Close()

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			return fmt.Errorf("failed to write metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
