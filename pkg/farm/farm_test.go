package farm

import (
	"errors"
	"testing"

	"github.com/psantana5/farmsim/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustJob(t testing.TB, frames, chunk, startup int) *models.Job {
	t.Helper()
	job, err := models.NewJob(frames, chunk, startup)
	if err != nil {
		t.Fatalf("NewJob(%d, %d, %d): %v", frames, chunk, startup, err)
	}
	return job
}

func mustFarm(t testing.TB, capacity int) *Farm {
	t.Helper()
	f, err := NewFarm(capacity)
	if err != nil {
		t.Fatalf("NewFarm(%d): %v", capacity, err)
	}
	return f
}

func TestNewFarm_DegenerateCapacity(t *testing.T) {
	for _, capacity := range []int{0, -4} {
		f, err := NewFarm(capacity)
		assert.Nil(t, f)
		if !errors.Is(err, ErrDegenerateCapacity) {
			t.Errorf("NewFarm(%d) error = %v, expected ErrDegenerateCapacity", capacity, err)
		}
	}
}

func TestRenderCycle_SingleCPU(t *testing.T) {
	f := mustFarm(t, 1)
	f.Submit(mustJob(t, 1, 1000, 0))

	stats := f.RenderCycle()
	assert.Equal(t, 100.0, stats.Utilization)
	assert.Equal(t, 100.0, stats.Completion)
	assert.Equal(t, 1, stats.FinishedJobs)
	assert.True(t, f.Empty())

	stats = f.RenderCycle()
	assert.Equal(t, 0.0, stats.Utilization)
	assert.Equal(t, 1, stats.Cycle)
}

func TestRenderCycle_OneTaskOnFourCPUs(t *testing.T) {
	f := mustFarm(t, 4)
	f.Submit(mustJob(t, 4, 1000, 0))

	for cycle := 0; cycle < 4; cycle++ {
		stats := f.RenderCycle()
		if stats.Utilization != 25.0 {
			t.Errorf("cycle %d: utilization = %.1f, expected 25.0", cycle, stats.Utilization)
		}
		if stats.UsedCPUs != 1 {
			t.Errorf("cycle %d: used CPUs = %d, expected 1", cycle, stats.UsedCPUs)
		}
	}
	assert.True(t, f.Empty())
	assert.Equal(t, 0.0, f.RenderCycle().Utilization)
}

func TestRenderCycle_SubmissionOrderPriority(t *testing.T) {
	f := mustFarm(t, 2)
	first := mustJob(t, 10, 5, 0)  // 2 tasks
	second := mustJob(t, 10, 5, 0) // 2 tasks
	f.Submit(first)
	f.Submit(second)

	stats := f.RenderCycle()
	assert.Equal(t, 100.0, stats.Utilization)
	assert.Equal(t, 8, first.RemainingUnits)
	assert.Equal(t, 10, second.RemainingUnits, "second job must not be serviced while the first holds every CPU")
}

func TestRenderCycle_ExhaustionAbortsWholeWalk(t *testing.T) {
	f := mustFarm(t, 2)
	a := mustJob(t, 3, 1, 0) // 3 tasks, 3 units
	b := mustJob(t, 5, 5, 0) // 1 task, 5 units
	f.Submit(a)
	f.Submit(b)

	f.RenderCycle()
	assert.Equal(t, 1, a.RemainingUnits)
	assert.Equal(t, 5, b.RemainingUnits)

	stats := f.RenderCycle()
	assert.Equal(t, 100.0, stats.Utilization)
	assert.True(t, a.Done())
	assert.Equal(t, 4, b.RemainingUnits)
	assert.Equal(t, 1, stats.FinishedJobs)
	assert.Equal(t, 50.0, stats.Completion)

	stats = f.RenderCycle()
	assert.Equal(t, 50.0, stats.Utilization)
}

func TestRenderCycle_FinishedJobReleasesSlots(t *testing.T) {
	f := mustFarm(t, 3)
	short := mustJob(t, 1, 1, 0)  // 1 task, 1 unit
	long := mustJob(t, 10, 1, 0)  // 10 tasks
	f.Submit(short)
	f.Submit(long)

	stats := f.RenderCycle()
	assert.Equal(t, 3, stats.UsedCPUs)
	assert.True(t, short.Done())
	assert.Equal(t, 8, long.RemainingUnits)
}

func TestRenderCycle_JobStopsClaimingAtZero(t *testing.T) {
	f := mustFarm(t, 8)
	f.Submit(mustJob(t, 3, 1, 0)) // 3 tasks, 3 units

	stats := f.RenderCycle()
	assert.Equal(t, 3, stats.UsedCPUs)
	assert.Equal(t, 37.5, stats.Utilization)
	assert.Equal(t, 8, f.FreeCPUs(), "capacity is renewed after every pass")
}

func TestRenderCycle_RemovalPreservesOrder(t *testing.T) {
	f := mustFarm(t, 4)
	a := mustJob(t, 5, 5, 0)
	b := mustJob(t, 1, 1, 0)
	c := mustJob(t, 5, 5, 0)
	f.Submit(a)
	f.Submit(b)
	f.Submit(c)

	f.RenderCycle()
	jobs := f.Jobs()
	require.Len(t, jobs, 2)
	assert.Same(t, a, jobs[0])
	assert.Same(t, c, jobs[1])
	assert.Equal(t, 3, f.SubmittedCount())
}

func TestRenderCycle_ZeroFrameJob(t *testing.T) {
	f := mustFarm(t, 2)
	f.Submit(mustJob(t, 0, 3, 4))

	stats := f.RenderCycle()
	assert.Equal(t, 0, stats.UsedCPUs)
	assert.Equal(t, 1, stats.FinishedJobs)
	assert.True(t, f.Empty())
}

func TestRenderCycle_EmptyFarm(t *testing.T) {
	f := mustFarm(t, 2)
	stats := f.RenderCycle()
	assert.Equal(t, 0.0, stats.Utilization)
	assert.Equal(t, 100.0, stats.Completion)
}

func TestRenderCycle_UtilizationBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 64).Draw(t, "capacity")
		f, err := NewFarm(capacity)
		if err != nil {
			t.Fatalf("NewFarm: %v", err)
		}
		jobCount := rapid.IntRange(0, 10).Draw(t, "jobs")
		for i := 0; i < jobCount; i++ {
			job, err := models.NewJob(
				rapid.IntRange(0, 100).Draw(t, "frames"),
				rapid.IntRange(1, 20).Draw(t, "chunk"),
				rapid.IntRange(0, 3).Draw(t, "startup"),
			)
			if err != nil {
				t.Fatalf("NewJob: %v", err)
			}
			f.Submit(job)
		}

		for i := 0; i < 50; i++ {
			before := f.RemainingUnits()
			stats := f.RenderCycle()
			if stats.Utilization < 0 || stats.Utilization > 100 {
				t.Fatalf("utilization %.2f out of range", stats.Utilization)
			}
			if stats.UsedCPUs == capacity && stats.Utilization != 100.0 {
				t.Fatalf("full pool reported %.2f%%", stats.Utilization)
			}
			if consumed := before - f.RemainingUnits(); consumed != stats.UsedCPUs {
				t.Fatalf("consumed %d units with %d claimed slots", consumed, stats.UsedCPUs)
			}
			if f.FreeCPUs() != capacity {
				t.Fatalf("free CPUs %d after pass, expected %d", f.FreeCPUs(), capacity)
			}
		}
	})
}
