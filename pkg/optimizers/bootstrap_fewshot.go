package optimizers

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/promptforge/teleprompt/pkg/core"
	"github.com/promptforge/teleprompt/pkg/errors"
	"github.com/promptforge/teleprompt/pkg/evaluate"
	"github.com/promptforge/teleprompt/pkg/logging"
)

// BootstrapFewShot generates demonstrations once by running a stronger
// teacher program over the trainset, keeping only the (example, prediction)
// pairs that score at or above a quality threshold. It is the non-iterative
// baseline the stochastic optimizer extends.
type BootstrapFewShot struct {
	metric           core.Metric
	evaluator        *evaluate.Evaluator
	maxDemos         int
	qualityThreshold float64
	logger           *logging.Logger
}

// BootstrapOption configures a BootstrapFewShot teleprompter.
type BootstrapOption func(*BootstrapFewShot)

// WithBootstrapMaxDemos caps the demonstrations retained.
func WithBootstrapMaxDemos(max int) BootstrapOption {
	return func(b *BootstrapFewShot) {
		b.maxDemos = max
	}
}

// WithQualityThreshold sets the minimum metric score a demonstration needs
// to be retained.
func WithQualityThreshold(threshold float64) BootstrapOption {
	return func(b *BootstrapFewShot) {
		b.qualityThreshold = threshold
	}
}

// WithBootstrapEvaluator supplies the evaluator used to execute the teacher.
func WithBootstrapEvaluator(evaluator *evaluate.Evaluator) BootstrapOption {
	return func(b *BootstrapFewShot) {
		b.evaluator = evaluator
	}
}

// NewBootstrapFewShot creates the teleprompter. Defaults: 4 demos, quality
// threshold 0.7.
func NewBootstrapFewShot(metric core.Metric, opts ...BootstrapOption) *BootstrapFewShot {
	b := &BootstrapFewShot{
		metric:           metric,
		maxDemos:         4,
		qualityThreshold: 0.7,
		logger:           logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.evaluator == nil {
		b.evaluator = evaluate.NewEvaluator()
	}
	return b
}

// scoredDemo is a candidate demonstration with the index it came from, kept
// for deterministic ordering among equal scores.
type scoredDemo struct {
	demo  core.Example
	score float64
	index int
}

// Compile runs the teacher over the trainset, filters by quality, and wraps
// the surviving demonstrations around the student. Zero surviving
// demonstrations is success, not failure: the result is an OptimizedProgram
// with an empty demonstration list flagged no_quality_demonstrations.
func (b *BootstrapFewShot) Compile(ctx context.Context, student, teacher core.Program, trainset []core.Example) (*core.OptimizedProgram, error) {
	if student == nil {
		return nil, errors.New(errors.InvalidConfig, "student program is required")
	}
	if teacher == nil {
		teacher = student
	}
	if b.metric == nil {
		return nil, errors.New(errors.InvalidConfig, "metric is required")
	}
	if len(trainset) == 0 {
		return nil, errors.New(errors.InvalidConfig, "trainset is empty")
	}
	if b.maxDemos <= 0 {
		return nil, errors.WithFields(
			errors.New(errors.InvalidConfig, "max demonstrations must be positive"),
			errors.Fields{"max_demos": b.maxDemos})
	}

	runID := uuid.New().String()
	ctx = logging.WithCorrelationID(ctx, runID)
	b.logger.Info(ctx, "bootstrapping demonstrations: trainset=%d max_demos=%d threshold=%.2f",
		len(trainset), b.maxDemos, b.qualityThreshold)

	// The per-example primitive is used instead of the aggregate path
	// because the teacher's outputs, not just its scores, must be retained.
	outcomes := make([]evaluate.Outcome, len(trainset))
	p := pool.New().WithMaxGoroutines(b.evaluator.Options().MaxConcurrency)
	for i, example := range trainset {
		i, example := i, example
		p.Go(func() {
			outcomes[i] = b.evaluator.RunOne(ctx, teacher, example, b.metric)
		})
	}
	p.Wait()

	var kept []scoredDemo
	for i, outcome := range outcomes {
		if !outcome.Successful || outcome.Score < b.qualityThreshold {
			continue
		}
		demo, err := b.wrapDemo(trainset[i], outcome, teacher, runID)
		if err != nil {
			b.logger.Warn(ctx, "discarding malformed demonstration %d: %v", i, err)
			continue
		}
		kept = append(kept, scoredDemo{demo: demo, score: outcome.Score, index: i})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].index < kept[j].index
	})
	if len(kept) > b.maxDemos {
		kept = kept[:b.maxDemos]
	}

	demos := make([]core.Example, len(kept))
	for i, s := range kept {
		demos[i] = s.demo
	}

	optimized := core.NewOptimizedProgram(student,
		core.WithDemonstrations(demos),
		core.WithMaxDemos(b.maxDemos),
		core.WithMetadataValue("method", "BootstrapFewShot"),
		core.WithMetadataValue("run_id", runID),
		core.WithMetadataValue("teacher", teacher.Kind()),
		core.WithMetadataValue("demo_count", len(demos)),
		core.WithMetadataValue("quality_threshold", b.qualityThreshold),
		core.WithMetadataValue("compiled_at", time.Now().UTC()),
	)

	if len(demos) == 0 {
		optimized.SetMetadata("no_quality_demonstrations", true)
		b.logger.Info(ctx, "no demonstrations met the quality threshold; returning student unchanged")
	} else {
		b.logger.Info(ctx, "bootstrapped %d demonstrations", len(demos))
	}

	return optimized, nil
}

// wrapDemo promotes a teacher prediction into a demonstration Example with
// provenance metadata.
func (b *BootstrapFewShot) wrapDemo(example core.Example, outcome evaluate.Outcome, teacher core.Program, runID string) (core.Example, error) {
	inputs := example.Inputs()
	fields := make(map[string]interface{}, len(inputs)+len(outcome.Outputs))
	inputKeys := make([]string, 0, len(inputs))
	for k, v := range inputs {
		fields[k] = v
		inputKeys = append(inputKeys, k)
	}
	for k, v := range outcome.Outputs {
		fields[k] = v
	}

	demo, err := core.NewExample(fields, inputKeys...)
	if err != nil {
		return core.Example{}, err
	}

	demo = demo.WithMetadata("generator", "BootstrapFewShot").
		WithMetadata("teacher", teacher.Kind()).
		WithMetadata("run_id", runID).
		WithMetadata("quality_score", outcome.Score).
		WithMetadata("created_at", time.Now().UTC())
	return demo, nil
}
