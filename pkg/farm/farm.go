package farm

import (
	"errors"
	"fmt"
	"slices"

	"github.com/psantana5/farmsim/pkg/models"
)

// ErrDegenerateCapacity is returned when a farm is created without any CPU slots
var ErrDegenerateCapacity = errors.New("cpu capacity must be at least 1")

// CycleStats describes one allocation pass
type CycleStats struct {
	Cycle        int     `json:"cycle"`
	UsedCPUs     int     `json:"used_cpus"`
	Utilization  float64 `json:"utilization"` // percent of capacity claimed, 0-100
	Completion   float64 `json:"completion"`  // percent of submitted jobs finished, 0-100
	ActiveJobs   int     `json:"active_jobs"`
	FinishedJobs int     `json:"finished_jobs"` // removed during this cycle
}

// Farm is a fixed pool of CPU slots that greedily services its job queue.
// A Farm is owned by a single driver and is not safe for concurrent use.
type Farm struct {
	jobs        []*models.Job // submission order is allocation priority
	cpuCapacity int
	freeCPUs    int
	submitted   int
	cycle       int
}

// NewFarm creates a farm with the given number of CPU slots
func NewFarm(cpuCapacity int) (*Farm, error) {
	if cpuCapacity < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrDegenerateCapacity, cpuCapacity)
	}
	return &Farm{
		jobs:        make([]*models.Job, 0),
		cpuCapacity: cpuCapacity,
		freeCPUs:    cpuCapacity,
	}, nil
}

// Submit appends a job to the back of the queue
func (f *Farm) Submit(job *models.Job) {
	f.jobs = append(f.jobs, job)
	f.submitted++
}

// RenderCycle runs one allocation pass. Jobs are walked in submission order
// and each may claim up to TaskCount slots; every claimed slot advances the
// job by one unit. Once the pool is exhausted no further job is serviced
// this cycle.
func (f *Farm) RenderCycle() CycleStats {
	f.freeCPUs = f.cpuCapacity

walk:
	for _, job := range f.jobs {
		for task := 0; task < job.TaskCount; task++ {
			if f.freeCPUs == 0 {
				break walk
			}
			f.freeCPUs--
			job.Advance()
			if job.Done() {
				break
			}
		}
	}

	before := len(f.jobs)
	f.jobs = slices.DeleteFunc(f.jobs, (*models.Job).Done)

	used := f.cpuCapacity - f.freeCPUs
	stats := CycleStats{
		Cycle:        f.cycle,
		UsedCPUs:     used,
		Utilization:  float64(used) / float64(f.cpuCapacity) * 100.0,
		Completion:   f.completion(),
		ActiveJobs:   len(f.jobs),
		FinishedJobs: before - len(f.jobs),
	}

	f.freeCPUs = f.cpuCapacity
	f.cycle++
	return stats
}

func (f *Farm) completion() float64 {
	if f.submitted == 0 {
		return 100.0
	}
	return float64(f.submitted-len(f.jobs)) / float64(f.submitted) * 100.0
}

// Empty reports whether every submitted job has finished
func (f *Farm) Empty() bool {
	return len(f.jobs) == 0
}

// Jobs returns the unfinished jobs in priority order
func (f *Farm) Jobs() []*models.Job {
	return slices.Clone(f.jobs)
}

// JobCount returns the number of unfinished jobs
func (f *Farm) JobCount() int {
	return len(f.jobs)
}

// SubmittedCount returns the number of jobs ever submitted
func (f *Farm) SubmittedCount() int {
	return f.submitted
}

// Capacity returns the number of CPU slots
func (f *Farm) Capacity() int {
	return f.cpuCapacity
}

// FreeCPUs returns the slots available outside an allocation pass, which is
// always the full capacity
func (f *Farm) FreeCPUs() int {
	return f.freeCPUs
}

// RemainingUnits sums the outstanding work of all unfinished jobs
func (f *Farm) RemainingUnits() int {
	total := 0
	for _, job := range f.jobs {
		total += job.RemainingUnits
	}
	return total
}
