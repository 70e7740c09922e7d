package models

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidChunkSize is returned when a job is built with a chunk size below 1
	ErrInvalidChunkSize = errors.New("invalid chunk size: must be at least 1")
	// ErrInvalidJobParameters is returned for negative frame or startup counts
	ErrInvalidJobParameters = errors.New("invalid job parameters")
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRendering JobStatus = "rendering"
	JobStatusCompleted JobStatus = "completed"
)

// JobSpec is the parameter triple a job is built from
type JobSpec struct {
	Frames        int `json:"frames" yaml:"frames"`
	ChunkSize     int `json:"chunk_size" yaml:"chunk_size"`
	StartupCycles int `json:"startup_cycles" yaml:"startup_cycles"` // per task
}

func (s JobSpec) String() string {
	return fmt.Sprintf("frames=%d chunk=%d startup=%d", s.Frames, s.ChunkSize, s.StartupCycles)
}

// Job is a render job split into TaskCount equal chunks. Startup overhead
// is folded into RemainingUnits once per task.
type Job struct {
	Spec           JobSpec `json:"spec"`
	TaskCount      int     `json:"task_count"`
	RemainingUnits int     `json:"remaining_units"`
	InitialUnits   int     `json:"initial_units"`
}

// NewJob creates a job from its frame count, chunk size and per-task startup cycles
func NewJob(totalFrames, chunkSize, startupCyclesPerTask int) (*Job, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidChunkSize, chunkSize)
	}
	if totalFrames < 0 {
		return nil, fmt.Errorf("%w: frames must be >= 0 (got %d)", ErrInvalidJobParameters, totalFrames)
	}
	if startupCyclesPerTask < 0 {
		return nil, fmt.Errorf("%w: startup cycles must be >= 0 (got %d)", ErrInvalidJobParameters, startupCyclesPerTask)
	}

	taskCount := totalFrames / chunkSize
	if totalFrames%chunkSize != 0 {
		taskCount++
	}
	if startupCyclesPerTask > 0 && taskCount > (math.MaxInt-totalFrames)/startupCyclesPerTask {
		return nil, fmt.Errorf("%w: %d frames in %d tasks with %d startup cycles overflows the work counter",
			ErrInvalidJobParameters, totalFrames, taskCount, startupCyclesPerTask)
	}
	units := totalFrames + taskCount*startupCyclesPerTask

	return &Job{
		Spec: JobSpec{
			Frames:        totalFrames,
			ChunkSize:     chunkSize,
			StartupCycles: startupCyclesPerTask,
		},
		TaskCount:      taskCount,
		RemainingUnits: units,
		InitialUnits:   units,
	}, nil
}

// NewJobFromSpec is NewJob for a generated triple
func NewJobFromSpec(spec JobSpec) (*Job, error) {
	return NewJob(spec.Frames, spec.ChunkSize, spec.StartupCycles)
}

// Advance consumes one unit of work. It is a no-op once the job is done.
func (j *Job) Advance() {
	if j.RemainingUnits > 0 {
		j.RemainingUnits--
	}
}

// Done reports whether all work has been consumed
func (j *Job) Done() bool {
	return j.RemainingUnits == 0
}

// Status derives the lifecycle state from the remaining work
func (j *Job) Status() JobStatus {
	switch {
	case j.RemainingUnits == 0:
		return JobStatusCompleted
	case j.RemainingUnits == j.InitialUnits:
		return JobStatusPending
	default:
		return JobStatusRendering
	}
}

// Progress returns completed work as a percentage (0-100)
func (j *Job) Progress() float64 {
	if j.InitialUnits == 0 {
		return 100.0
	}
	return float64(j.InitialUnits-j.RemainingUnits) / float64(j.InitialUnits) * 100.0
}
