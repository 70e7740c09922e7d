// Package generator produces randomized job populations for farm simulations.
package generator

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/psantana5/farmsim/pkg/models"
)

// Source yields job parameter triples
type Source interface {
	Next() models.JobSpec
}

// Ranges bounds every generated parameter (inclusive)
type Ranges struct {
	MinFrames        int `json:"min_frames" yaml:"min_frames"`
	MaxFrames        int `json:"max_frames" yaml:"max_frames"`
	MinChunkSize     int `json:"min_chunk_size" yaml:"min_chunk_size"`
	MaxChunkSize     int `json:"max_chunk_size" yaml:"max_chunk_size"`
	MinStartupCycles int `json:"min_startup_cycles" yaml:"min_startup_cycles"`
	MaxStartupCycles int `json:"max_startup_cycles" yaml:"max_startup_cycles"`
}

// Uniform draws each parameter uniformly from its range
type Uniform struct {
	ranges Ranges
	rng    *rand.Rand
}

// NewUniform creates a seeded uniform source. Sources with the same seed and
// stream produce the same sequence.
func NewUniform(ranges Ranges, seed, stream uint64) *Uniform {
	return &Uniform{
		ranges: ranges,
		rng:    rand.New(rand.NewPCG(seed, stream)),
	}
}

// between draws from [lo, hi]. The width is taken in uint64 so ranges
// spanning more than math.MaxInt values do not overflow.
func (u *Uniform) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	width := uint64(hi) - uint64(lo)
	if width == math.MaxUint64 {
		return int(u.rng.Uint64())
	}
	return int(uint64(lo) + u.rng.Uint64N(width+1))
}

// Next draws a triple
func (u *Uniform) Next() models.JobSpec {
	return models.JobSpec{
		Frames:        u.between(u.ranges.MinFrames, u.ranges.MaxFrames),
		ChunkSize:     u.between(u.ranges.MinChunkSize, u.ranges.MaxChunkSize),
		StartupCycles: u.between(u.ranges.MinStartupCycles, u.ranges.MaxStartupCycles),
	}
}

// Population builds JobCount jobs per repetition. Each repetition gets its
// own stream so repetitions can be generated in any order.
type Population struct {
	Ranges   Ranges
	JobCount int
	Seed     uint64
}

// Jobs generates the job set for one repetition
func (p Population) Jobs(repetition int) ([]*models.Job, error) {
	return Build(NewUniform(p.Ranges, p.Seed, uint64(repetition)), p.JobCount)
}

// Build draws count triples from src and turns them into jobs
func Build(src Source, count int) ([]*models.Job, error) {
	jobs := make([]*models.Job, 0, count)
	for i := 0; i < count; i++ {
		spec := src.Next()
		job, err := models.NewJobFromSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("job %d (%s): %w", i, spec, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Fixed yields the same literal job set for every repetition
type Fixed []models.JobSpec

// Jobs builds fresh jobs from the literal specs
func (f Fixed) Jobs(int) ([]*models.Job, error) {
	return Build(&sequence{specs: f}, len(f))
}

// Repeat returns a Fixed population of n copies of spec
func Repeat(spec models.JobSpec, n int) Fixed {
	specs := make(Fixed, n)
	for i := range specs {
		specs[i] = spec
	}
	return specs
}

type sequence struct {
	specs []models.JobSpec
	next  int
}

func (s *sequence) Next() models.JobSpec {
	spec := s.specs[s.next%len(s.specs)]
	s.next++
	return spec
}
