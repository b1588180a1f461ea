package optimizers

import (
	"sort"
	"time"

	"github.com/promptforge/teleprompt/pkg/core"
	"github.com/promptforge/teleprompt/pkg/errors"
)

// Trajectory is a single recorded execution of one candidate program on one
// example. Created once per (candidate, example) pair during a sampling
// round and never mutated.
type Trajectory struct {
	// CandidateIndex is the pool index of the candidate that produced the
	// trajectory; the association must be preserved exactly within a bucket.
	CandidateIndex int
	Program        core.Program
	Inputs         map[string]interface{}
	Outputs        map[string]interface{}
	Score          float64
	Successful     bool
	Duration       time.Duration
	Metadata       map[string]interface{}
}

// Bucket groups the trajectories produced by all current candidates on one
// example, plus derived disagreement statistics. Candidates disagreeing on
// an example (a large max-to-min gap) is exactly where a strategy can learn
// something. Buckets are built fresh each optimization step and never
// persisted across steps.
type Bucket struct {
	Example      core.Example
	Trajectories []Trajectory

	MaxScore    float64
	MinScore    float64
	AvgScore    float64
	MaxToMinGap float64
	MaxToAvgGap float64

	Metadata map[string]interface{}
}

// NewBucket builds a bucket over a non-empty trajectory list and computes
// its statistics.
func NewBucket(example core.Example, trajectories []Trajectory) (*Bucket, error) {
	if len(trajectories) == 0 {
		return nil, errors.New(errors.InvalidInput, "bucket requires at least one trajectory")
	}

	b := &Bucket{
		Example:      example,
		Trajectories: trajectories,
		MaxScore:     trajectories[0].Score,
		MinScore:     trajectories[0].Score,
	}

	var total float64
	for _, t := range trajectories {
		total += t.Score
		if t.Score > b.MaxScore {
			b.MaxScore = t.Score
		}
		if t.Score < b.MinScore {
			b.MinScore = t.Score
		}
	}
	b.AvgScore = total / float64(len(trajectories))
	b.MaxToMinGap = b.MaxScore - b.MinScore
	b.MaxToAvgGap = b.MaxScore - b.AvgScore

	return b, nil
}

// HasImprovementPotential reports whether candidates disagree on this
// example by more than epsilon. A bucket with all-equal scores has nothing
// to teach a strategy.
func (b *Bucket) HasImprovementPotential(epsilon float64) bool {
	return b.MaxToMinGap > epsilon
}

// Best returns the highest-scoring trajectory; ties break toward the
// earliest entry for determinism.
func (b *Bucket) Best() Trajectory {
	best := b.Trajectories[0]
	for _, t := range b.Trajectories[1:] {
		if t.Score > best.Score {
			best = t
		}
	}
	return best
}

// Worst returns the lowest-scoring trajectory; ties break toward the
// earliest entry.
func (b *Bucket) Worst() Trajectory {
	worst := b.Trajectories[0]
	for _, t := range b.Trajectories[1:] {
		if t.Score < worst.Score {
			worst = t
		}
	}
	return worst
}

// ScoreVariance returns the population variance of trajectory scores.
func (b *Bucket) ScoreVariance() float64 {
	var sum float64
	for _, t := range b.Trajectories {
		d := t.Score - b.AvgScore
		sum += d * d
	}
	return sum / float64(len(b.Trajectories))
}

// SortBucketsByGap orders buckets by max-to-min gap descending so strategy
// effort is spent on the examples with the most exploitable disagreement
// first. The sort is stable to keep rounds reproducible under a fixed seed.
func SortBucketsByGap(buckets []*Bucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].MaxToMinGap > buckets[j].MaxToMinGap
	})
}
