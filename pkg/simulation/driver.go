// Package simulation drives farms cycle by cycle and collects utilization
// and completion series for each repetition.
package simulation

import (
	"github.com/psantana5/farmsim/pkg/farm"
)

// Result is the outcome of one repetition
type Result struct {
	Repetition        int       `json:"repetition" yaml:"repetition"`
	CPUCapacity       int       `json:"cpu_capacity" yaml:"cpu_capacity"`
	JobCount          int       `json:"job_count" yaml:"job_count"`
	TotalUnitsAtStart int       `json:"total_units_at_start" yaml:"total_units_at_start"`
	UtilizationSeries []float64 `json:"utilization" yaml:"utilization"`
	CompletionSeries  []float64 `json:"completion" yaml:"completion"`
	// LastActiveCycle is the cycle at which the drained farm was detected.
	// When the cycle cap is hit first it equals the cap.
	LastActiveCycle int  `json:"last_active_cycle" yaml:"last_active_cycle"`
	Drained         bool `json:"drained" yaml:"drained"`
	RemainingJobs   int  `json:"remaining_jobs" yaml:"remaining_jobs"`
	RemainingUnits  int  `json:"remaining_units" yaml:"remaining_units"`
}

// Cycles returns the number of cycles executed
func (r *Result) Cycles() int {
	return len(r.UtilizationSeries)
}

// MeanUtilization averages the utilization series
func (r *Result) MeanUtilization() float64 {
	if len(r.UtilizationSeries) == 0 {
		return 0
	}
	sum := 0.0
	for _, u := range r.UtilizationSeries {
		sum += u
	}
	return sum / float64(len(r.UtilizationSeries))
}

// phase tracks drain detection. The stop is taken one cycle after the farm
// is first seen empty, so LastActiveCycle includes one idle cycle.
type phase int

const (
	phaseActive phase = iota
	phaseDraining
	phaseStopped
)

// RunRepetition cycles f until it drains or maxCycles cycles have run
func RunRepetition(f *farm.Farm, maxCycles int) *Result {
	return runRepetition(f, maxCycles, nil)
}

func runRepetition(f *farm.Farm, maxCycles int, onCycle func(farm.CycleStats)) *Result {
	result := &Result{
		CPUCapacity:       f.Capacity(),
		JobCount:          f.SubmittedCount(),
		TotalUnitsAtStart: f.RemainingUnits(),
		UtilizationSeries: make([]float64, 0),
		CompletionSeries:  make([]float64, 0),
		LastActiveCycle:   maxCycles,
	}

	state := phaseActive
	for cycle := 0; cycle < maxCycles && state != phaseStopped; cycle++ {
		stats := f.RenderCycle()
		result.UtilizationSeries = append(result.UtilizationSeries, stats.Utilization)
		result.CompletionSeries = append(result.CompletionSeries, stats.Completion)
		if onCycle != nil {
			onCycle(stats)
		}

		switch {
		case state == phaseDraining:
			result.LastActiveCycle = cycle
			result.Drained = true
			state = phaseStopped
		case f.Empty():
			state = phaseDraining
		}
	}

	result.RemainingJobs = f.JobCount()
	result.RemainingUnits = f.RemainingUnits()
	return result
}
