package generator

import (
	"errors"
	"math"
	"testing"

	"github.com/psantana5/farmsim/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testRanges = Ranges{
	MinFrames: 10, MaxFrames: 20,
	MinChunkSize: 1, MaxChunkSize: 5,
	MinStartupCycles: 0, MaxStartupCycles: 3,
}

func TestUniform_StaysInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lo := rapid.IntRange(0, 100).Draw(t, "lo")
		span := rapid.IntRange(0, 100).Draw(t, "span")
		ranges := Ranges{
			MinFrames: lo, MaxFrames: lo + span,
			MinChunkSize: 1, MaxChunkSize: 1 + span,
			MinStartupCycles: 0, MaxStartupCycles: span,
		}
		src := NewUniform(ranges, rapid.Uint64().Draw(t, "seed"), 0)
		for i := 0; i < 20; i++ {
			spec := src.Next()
			if spec.Frames < ranges.MinFrames || spec.Frames > ranges.MaxFrames {
				t.Fatalf("frames %d outside [%d, %d]", spec.Frames, ranges.MinFrames, ranges.MaxFrames)
			}
			if spec.ChunkSize < ranges.MinChunkSize || spec.ChunkSize > ranges.MaxChunkSize {
				t.Fatalf("chunk %d outside [%d, %d]", spec.ChunkSize, ranges.MinChunkSize, ranges.MaxChunkSize)
			}
			if spec.StartupCycles < 0 || spec.StartupCycles > ranges.MaxStartupCycles {
				t.Fatalf("startup %d outside [0, %d]", spec.StartupCycles, ranges.MaxStartupCycles)
			}
		}
	})
}

func TestUniform_DegenerateRange(t *testing.T) {
	src := NewUniform(Ranges{MinFrames: 7, MaxFrames: 7, MinChunkSize: 3, MaxChunkSize: 2}, 1, 1)
	spec := src.Next()
	assert.Equal(t, 7, spec.Frames)
	assert.Equal(t, 3, spec.ChunkSize)
}

func TestUniform_WideRange(t *testing.T) {
	u := NewUniform(Ranges{
		MinFrames: 1, MaxFrames: math.MaxInt,
		MinChunkSize: 1, MaxChunkSize: 1,
		MinStartupCycles: 0, MaxStartupCycles: math.MaxInt,
	}, 5, 0)
	for i := 0; i < 100; i++ {
		spec := u.Next()
		assert.GreaterOrEqual(t, spec.Frames, 1)
		assert.GreaterOrEqual(t, spec.StartupCycles, 0)
	}

	full := NewUniform(Ranges{MinFrames: math.MinInt, MaxFrames: math.MaxInt}, 5, 0)
	assert.NotPanics(t, func() { full.Next() })
}

func TestPopulation_Deterministic(t *testing.T) {
	pop := Population{Ranges: testRanges, JobCount: 8, Seed: 42}

	a, err := pop.Jobs(3)
	require.NoError(t, err)
	b, err := pop.Jobs(3)
	require.NoError(t, err)
	require.Len(t, a, 8)

	for i := range a {
		assert.Equal(t, a[i].Spec, b[i].Spec)
		assert.NotSame(t, a[i], b[i])
	}
}

func TestPopulation_RepetitionsDiffer(t *testing.T) {
	pop := Population{Ranges: Ranges{MinFrames: 1, MaxFrames: 1 << 20, MinChunkSize: 1, MaxChunkSize: 1}, JobCount: 4, Seed: 7}

	a, err := pop.Jobs(0)
	require.NoError(t, err)
	b, err := pop.Jobs(1)
	require.NoError(t, err)

	same := true
	for i := range a {
		if a[i].Spec != b[i].Spec {
			same = false
		}
	}
	assert.False(t, same, "separate repetitions should draw separate streams")
}

func TestBuild_RejectsZeroChunk(t *testing.T) {
	_, err := Fixed{{Frames: 5, ChunkSize: 0}}.Jobs(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidChunkSize))
}

func TestRepeat(t *testing.T) {
	spec := models.JobSpec{Frames: 10, ChunkSize: 5, StartupCycles: 2}
	jobs, err := Repeat(spec, 2).Jobs(0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.Equal(t, 14, job.RemainingUnits)
	}
}
