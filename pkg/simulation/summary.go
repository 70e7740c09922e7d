package simulation

import (
	"math"
	"slices"

	"golang.org/x/perf/benchmath"
)

// Confidence is the level of the median intervals in a Summary
const Confidence = 0.95

// Estimate is a sample median with a distribution-free confidence interval.
// Bounded is false when there are too few repetitions to bound the median at
// Confidence; Lo and Hi then span the observed values.
type Estimate struct {
	Center     float64 `json:"center" yaml:"center"`
	Lo         float64 `json:"lo" yaml:"lo"`
	Hi         float64 `json:"hi" yaml:"hi"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Bounded    bool    `json:"bounded" yaml:"bounded"`
}

// Summary aggregates a batch of repetitions
type Summary struct {
	Repetitions int      `json:"repetitions" yaml:"repetitions"`
	Drained     int      `json:"drained" yaml:"drained"`
	MinCycles   int      `json:"min_cycles" yaml:"min_cycles"`
	MaxCycles   int      `json:"max_cycles" yaml:"max_cycles"`
	Cycles      Estimate `json:"cycles" yaml:"cycles"`
	// MeanUtilization averages the per-repetition means; Utilization is
	// the median of the same values
	MeanUtilization float64  `json:"mean_utilization" yaml:"mean_utilization"`
	Utilization     Estimate `json:"utilization" yaml:"utilization"`
	PeakUtilization float64  `json:"peak_utilization" yaml:"peak_utilization"`
	TotalUnits      int      `json:"total_units" yaml:"total_units"`
}

// Summarize computes drain cycle and utilization statistics over results.
// Cycle statistics use LastActiveCycle, so undrained repetitions count at the cap.
func Summarize(results []*Result) Summary {
	s := Summary{Repetitions: len(results)}
	if len(results) == 0 {
		return s
	}

	cycles := make([]float64, 0, len(results))
	utils := make([]float64, 0, len(results))
	for _, r := range results {
		if r.Drained {
			s.Drained++
		}
		cycles = append(cycles, float64(r.LastActiveCycle))
		utils = append(utils, r.MeanUtilization())
		s.TotalUnits += r.TotalUnitsAtStart
		for _, u := range r.UtilizationSeries {
			s.PeakUtilization = max(s.PeakUtilization, u)
		}
	}

	utilSum := 0.0
	for _, u := range utils {
		utilSum += u
	}
	s.MeanUtilization = utilSum / float64(len(utils))

	s.Cycles = estimate(cycles)
	s.Utilization = estimate(utils)
	s.MinCycles = int(cycles[0])
	s.MaxCycles = int(cycles[len(cycles)-1])
	return s
}

// estimate sorts values in place and summarizes them without assuming a
// distribution
func estimate(values []float64) Estimate {
	slices.Sort(values)
	thresholds := benchmath.DefaultThresholds
	sample := benchmath.NewSample(values, &thresholds)
	sum := benchmath.AssumeNothing.Summary(sample, Confidence)

	e := Estimate{
		Center:     sum.Center,
		Lo:         sum.Lo,
		Hi:         sum.Hi,
		Confidence: sum.Confidence,
		Bounded:    true,
	}
	if !isFinite(e.Lo) || !isFinite(e.Hi) || !isFinite(e.Confidence) {
		e.Lo = values[0]
		e.Hi = values[len(values)-1]
		e.Confidence = 0
		e.Bounded = false
	}
	return e
}

func isFinite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}
