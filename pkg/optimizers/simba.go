package optimizers

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/promptforge/teleprompt/pkg/core"
	"github.com/promptforge/teleprompt/pkg/errors"
	"github.com/promptforge/teleprompt/pkg/evaluate"
	"github.com/promptforge/teleprompt/pkg/logging"
)

// SIMBAConfig contains configuration options for the SIMBA teleprompter.
type SIMBAConfig struct {
	// Mini-batch configuration
	BatchSize     int `json:"batch_size"`     // Default: 8
	MaxSteps      int `json:"max_steps"`      // Default: 8
	NumCandidates int `json:"num_candidates"` // Default: 6
	MaxDemos      int `json:"max_demos"`      // Default: 4

	// Temperature controls. SamplingTemperature is reserved for weighted
	// minibatch draws; the default draw is uniform. CandidateTemperature
	// drives softmax source selection: 0 is strictly greedy, higher values
	// give lower-scoring candidates proportionally more probability.
	SamplingTemperature  float64 `json:"sampling_temperature"`  // Default: 0.2
	CandidateTemperature float64 `json:"candidate_temperature"` // Default: 0.2

	// ImprovementEpsilon is the minimum max-to-min gap for a bucket to
	// count as having improvement potential.
	ImprovementEpsilon float64 `json:"improvement_epsilon"` // Default: 1e-4

	// PoolRetention caps the candidate pool size between steps; the
	// baseline never counts against eviction.
	PoolRetention int `json:"pool_retention"` // Default: 10

	// Seed fixes the random source for reproducible runs; 0 seeds from
	// the clock.
	Seed int64 `json:"seed"`
}

// StepStats captures metrics for one optimization step.
type StepStats struct {
	Step            int           `json:"step"`
	PoolSize        int           `json:"pool_size"`
	BestScore       float64       `json:"best_score"`
	NewCandidates   int           `json:"new_candidates"`
	BucketsWithGap  int           `json:"buckets_with_gap"`
	SelectedSources []int         `json:"selected_sources"`
	Duration        time.Duration `json:"duration"`
}

// ProgressFunc receives step telemetry: at least step, pool_size and
// best_score. Its return value is ignored; panics are caught and logged.
type ProgressFunc func(progress map[string]interface{})

// SIMBA implements stochastic mini-batch hill climbing over a pool of
// candidate programs: sample a minibatch, execute every pooled candidate on
// it, find the examples where candidates disagree, let strategies turn that
// disagreement into new candidates, re-score, and keep the best pool.
type SIMBA struct {
	config     SIMBAConfig
	metric     core.Metric
	evaluator  *evaluate.Evaluator
	strategies *StrategyList
	ruleGen    RuleGenerator
	progress   ProgressFunc
	rng        *rand.Rand
	logger     *logging.Logger
}

// SIMBAOption defines functional options for SIMBA configuration.
type SIMBAOption func(*SIMBA)

// WithSIMBABatchSize sets the mini-batch size.
func WithSIMBABatchSize(size int) SIMBAOption {
	return func(s *SIMBA) {
		s.config.BatchSize = size
	}
}

// WithSIMBAMaxSteps sets the maximum optimization steps.
func WithSIMBAMaxSteps(steps int) SIMBAOption {
	return func(s *SIMBA) {
		s.config.MaxSteps = steps
	}
}

// WithSIMBANumCandidates sets the branches explored per step.
func WithSIMBANumCandidates(num int) SIMBAOption {
	return func(s *SIMBA) {
		s.config.NumCandidates = num
	}
}

// WithSIMBAMaxDemos sets the maximum demonstrations per candidate.
func WithSIMBAMaxDemos(maxDemos int) SIMBAOption {
	return func(s *SIMBA) {
		s.config.MaxDemos = maxDemos
	}
}

// WithTemperatures sets sampling and candidate-selection temperatures.
func WithTemperatures(sampling, candidate float64) SIMBAOption {
	return func(s *SIMBA) {
		s.config.SamplingTemperature = sampling
		s.config.CandidateTemperature = candidate
	}
}

// WithImprovementEpsilon sets the disagreement gate for buckets.
func WithImprovementEpsilon(epsilon float64) SIMBAOption {
	return func(s *SIMBA) {
		s.config.ImprovementEpsilon = epsilon
	}
}

// WithPoolRetention sets the between-step pool size cap.
func WithPoolRetention(k int) SIMBAOption {
	return func(s *SIMBA) {
		s.config.PoolRetention = k
	}
}

// WithSeed fixes the random source for reproducible runs.
func WithSeed(seed int64) SIMBAOption {
	return func(s *SIMBA) {
		s.config.Seed = seed
	}
}

// WithSIMBAEvaluator supplies the evaluation engine.
func WithSIMBAEvaluator(evaluator *evaluate.Evaluator) SIMBAOption {
	return func(s *SIMBA) {
		s.evaluator = evaluator
	}
}

// WithStrategies supplies the ordered strategy list.
func WithStrategies(strategies *StrategyList) SIMBAOption {
	return func(s *SIMBA) {
		s.strategies = strategies
	}
}

// WithRuleGenerator enables the AppendRule strategy in the default
// strategy list.
func WithRuleGenerator(generator RuleGenerator) SIMBAOption {
	return func(s *SIMBA) {
		s.ruleGen = generator
	}
}

// WithProgressCallback registers an optional per-step callback.
func WithProgressCallback(progress ProgressFunc) SIMBAOption {
	return func(s *SIMBA) {
		s.progress = progress
	}
}

// defaultDemoFloor is the minimum trajectory score AppendDemo treats as
// high-scoring.
const defaultDemoFloor = 0.5

// defaultRuleVariance is the minimum bucket score variance AppendRule
// needs for a useful contrast.
const defaultRuleVariance = 0.01

// NewSIMBA creates a SIMBA teleprompter with the given metric function.
func NewSIMBA(metric core.Metric, opts ...SIMBAOption) *SIMBA {
	s := &SIMBA{
		config: SIMBAConfig{
			BatchSize:            8,
			MaxSteps:             8,
			NumCandidates:        6,
			MaxDemos:             4,
			SamplingTemperature:  0.2,
			CandidateTemperature: 0.2,
			ImprovementEpsilon:   1e-4,
			PoolRetention:        10,
		},
		metric: metric,
		logger: logging.GetLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	seed := s.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s.rng = rand.New(rand.NewSource(seed))

	if s.evaluator == nil {
		s.evaluator = evaluate.NewEvaluator()
	}
	if s.strategies == nil {
		strategies := []Strategy{NewAppendDemo(s.config.MaxDemos, defaultDemoFloor)}
		if s.ruleGen != nil {
			strategies = append(strategies, NewAppendRule(s.ruleGen, defaultRuleVariance))
		}
		s.strategies = NewStrategyList(FirstApplicable, strategies...)
	}

	return s
}

// Config returns the effective configuration.
func (s *SIMBA) Config() SIMBAConfig {
	return s.config
}

// candidate is one pool entry: a program plus every score observed for it
// across rounds. Evidence accumulates over time, which dampens noise from
// any single minibatch.
type candidate struct {
	program core.Program
	scores  []float64
	step    int // step the candidate was created in; 0 for the baseline
}

func (c *candidate) meanScore() float64 {
	if len(c.scores) == 0 {
		return 0.0
	}
	var total float64
	for _, score := range c.scores {
		total += score
	}
	return total / float64(len(c.scores))
}

func (c *candidate) observe(score float64) {
	c.scores = append(c.scores, core.ClampScore(score))
}

// candidatePool is the optimizer's working set. Index 0 is the baseline
// (the original student) and is never evicted. The pool is owned
// exclusively by the optimization loop and only mutated between rounds.
type candidatePool struct {
	entries []*candidate
}

func newCandidatePool(baseline core.Program) *candidatePool {
	return &candidatePool{entries: []*candidate{{program: baseline}}}
}

func (p *candidatePool) size() int {
	return len(p.entries)
}

// bestIndex returns the index with the highest mean score, ties breaking
// toward the lowest index.
func (p *candidatePool) bestIndex() int {
	best := 0
	bestMean := p.entries[0].meanScore()
	for i, entry := range p.entries[1:] {
		if mean := entry.meanScore(); mean > bestMean {
			best = i + 1
			bestMean = mean
		}
	}
	return best
}

// selectSources picks n source programs by softmax sampling over mean
// historical scores, with replacement: the same pooled program may be drawn
// several times, so a stochastic program gets several chances to disagree
// with itself on the same example. Temperature 0 is strictly greedy, always
// the highest-mean candidate with ties toward the lowest index.
func (p *candidatePool) selectSources(rng *rand.Rand, temperature float64, n int) []int {
	selected := make([]int, 0, n)
	for len(selected) < n {
		selected = append(selected, p.softmaxPick(rng, temperature))
	}
	return selected
}

// softmaxPick samples one pool index.
func (p *candidatePool) softmaxPick(rng *rand.Rand, temperature float64) int {
	if temperature <= 0 || len(p.entries) == 1 {
		return p.bestIndex()
	}

	// Standard exponential softmax with max subtraction for stability.
	maxMean := p.entries[0].meanScore()
	for _, entry := range p.entries[1:] {
		if mean := entry.meanScore(); mean > maxMean {
			maxMean = mean
		}
	}

	weights := make([]float64, len(p.entries))
	var sum float64
	for i, entry := range p.entries {
		weights[i] = math.Exp((entry.meanScore() - maxMean) / temperature)
		sum += weights[i]
	}

	r := rng.Float64() * sum
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if r <= cumulative {
			return i
		}
	}
	return len(p.entries) - 1
}

// merge appends a new candidate created at the given step.
func (p *candidatePool) merge(program core.Program, firstScore float64, step int) {
	entry := &candidate{program: program, step: step}
	entry.observe(firstScore)
	p.entries = append(p.entries, entry)
}

// prune keeps the baseline unconditionally plus the top retention-1
// non-baseline candidates by mean score, preserving insertion order among
// survivors.
func (p *candidatePool) prune(retention int) {
	if retention <= 0 || len(p.entries) <= retention {
		return
	}

	type ranked struct {
		index int
		mean  float64
	}
	others := make([]ranked, 0, len(p.entries)-1)
	for i, entry := range p.entries[1:] {
		others = append(others, ranked{index: i + 1, mean: entry.meanScore()})
	}

	keep := retention - 1
	// Selection by mean descending, stable on index.
	for i := 0; i < keep && i < len(others); i++ {
		best := i
		for j := i + 1; j < len(others); j++ {
			if others[j].mean > others[best].mean {
				best = j
			}
		}
		others[i], others[best] = others[best], others[i]
	}
	others = others[:keep]

	surviving := make(map[int]bool, keep+1)
	surviving[0] = true
	for _, r := range others {
		surviving[r.index] = true
	}

	entries := make([]*candidate, 0, retention)
	for i, entry := range p.entries {
		if surviving[i] {
			entries = append(entries, entry)
		}
	}
	p.entries = entries
}

// Compile runs the optimization loop and returns the best candidate found,
// wrapped as an OptimizedProgram carrying the full score history. If no
// candidate ever beats the baseline, the baseline is returned trivially
// wrapped; that is a valid, expected outcome.
func (s *SIMBA) Compile(ctx context.Context, student core.Program, trainset []core.Example) (*core.OptimizedProgram, error) {
	if err := s.validate(student, trainset); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	ctx = logging.WithCorrelationID(ctx, runID)
	startTime := time.Now()

	s.logger.Info(ctx, "starting SIMBA optimization: batch_size=%d max_steps=%d num_candidates=%d",
		s.config.BatchSize, s.config.MaxSteps, s.config.NumCandidates)

	cpool := newCandidatePool(student)
	history := make([]StepStats, 0, s.config.MaxSteps)
	converged := false

	for step := 1; step <= s.config.MaxSteps; step++ {
		if err := errors.CheckContext(ctx, "SIMBA step"); err != nil {
			return nil, err
		}
		stepStart := time.Now()

		// 1. Select source programs to branch from.
		sources := cpool.selectSources(s.rng, s.config.CandidateTemperature, s.config.NumCandidates)

		// 2. Sample a minibatch. Uniform draw; SamplingTemperature is
		// reserved for uncertainty-weighted sampling strategies.
		batch := s.sampleMiniBatch(trainset)

		// 3. Build trajectories and buckets.
		buckets := s.buildBuckets(ctx, cpool, sources, batch)

		// 4. Keep buckets where candidates disagree, most exploitable first.
		potential := buckets[:0]
		for _, bucket := range buckets {
			if bucket.HasImprovementPotential(s.config.ImprovementEpsilon) {
				potential = append(potential, bucket)
			}
		}
		SortBucketsByGap(potential)

		// Apply strategies against each bucket's originating source program.
		newPrograms := make([]core.Program, 0, s.config.NumCandidates)
		for _, bucket := range potential {
			if len(newPrograms) >= s.config.NumCandidates {
				break
			}
			base := bucket.Best().Program
			produced := s.strategies.Apply(ctx, bucket, base)
			for _, program := range produced {
				if len(newPrograms) >= s.config.NumCandidates {
					break
				}
				newPrograms = append(newPrograms, program)
			}
		}

		// 5. Score new candidates on the current minibatch.
		scores := s.scoreCandidates(ctx, newPrograms, batch)

		// 6. Merge and prune; the baseline survives unconditionally.
		for i, program := range newPrograms {
			cpool.merge(program, scores[i], step)
		}
		cpool.prune(s.config.PoolRetention)

		bestMean := cpool.entries[cpool.bestIndex()].meanScore()
		stats := StepStats{
			Step:            step,
			PoolSize:        cpool.size(),
			BestScore:       bestMean,
			NewCandidates:   len(newPrograms),
			BucketsWithGap:  len(potential),
			SelectedSources: sources,
			Duration:        time.Since(stepStart),
		}
		history = append(history, stats)

		s.logger.Info(ctx, "step %d: pool=%d best=%.4f new=%d disagreeing_buckets=%d",
			step, stats.PoolSize, stats.BestScore, stats.NewCandidates, stats.BucketsWithGap)

		// 7. Progress callback; failures never abort the loop.
		s.reportProgress(ctx, stats)

		if len(potential) == 0 {
			s.logger.Info(ctx, "converged at step %d: no bucket retains improvement potential", step)
			converged = true
			break
		}
	}

	return s.finalize(ctx, cpool, history, runID, converged, time.Since(startTime)), nil
}

func (s *SIMBA) validate(student core.Program, trainset []core.Example) error {
	if student == nil {
		return errors.New(errors.InvalidConfig, "student program is required")
	}
	if s.metric == nil {
		return errors.New(errors.InvalidConfig, "metric is required")
	}
	if len(trainset) == 0 {
		return errors.New(errors.InvalidConfig, "trainset is empty")
	}
	if s.config.MaxSteps < 0 {
		return errors.WithFields(
			errors.New(errors.InvalidConfig, "max steps must not be negative"),
			errors.Fields{"max_steps": s.config.MaxSteps})
	}
	if s.config.BatchSize <= 0 {
		return errors.WithFields(
			errors.New(errors.InvalidConfig, "batch size must be positive"),
			errors.Fields{"batch_size": s.config.BatchSize})
	}
	if s.config.NumCandidates <= 0 {
		return errors.WithFields(
			errors.New(errors.InvalidConfig, "num candidates must be positive"),
			errors.Fields{"num_candidates": s.config.NumCandidates})
	}
	return nil
}

// sampleMiniBatch draws bsize examples uniformly; repetition across rounds
// is allowed.
func (s *SIMBA) sampleMiniBatch(trainset []core.Example) []core.Example {
	size := s.config.BatchSize
	if size > len(trainset) {
		size = len(trainset)
	}

	batch := make([]core.Example, 0, size)
	for _, idx := range s.rng.Perm(len(trainset))[:size] {
		batch = append(batch, trainset[idx])
	}
	return batch
}

// buildBuckets executes every selected source on every minibatch example
// concurrently and groups the trajectories per example. The trajectory
// grid is indexed so trajectory-to-candidate association is preserved
// exactly; aggregation order does not matter. Each source's minibatch mean
// is recorded as an observation, accumulating evidence for softmax
// selection in later rounds.
func (s *SIMBA) buildBuckets(ctx context.Context, cpool *candidatePool, sources []int, batch []core.Example) []*Bucket {
	grid := make([][]Trajectory, len(batch))
	for i := range grid {
		grid[i] = make([]Trajectory, len(sources))
	}

	p := pool.New().WithMaxGoroutines(s.evaluator.Options().MaxConcurrency)
	for ei, example := range batch {
		for si, poolIdx := range sources {
			ei, si, poolIdx, example := ei, si, poolIdx, example
			program := cpool.entries[poolIdx].program
			p.Go(func() {
				outcome := s.evaluator.RunOne(ctx, program, example, s.metric)
				grid[ei][si] = Trajectory{
					CandidateIndex: poolIdx,
					Program:        program,
					Inputs:         example.Inputs(),
					Outputs:        outcome.Outputs,
					Score:          outcome.Score,
					Successful:     outcome.Successful,
					Duration:       outcome.Duration,
				}
			})
		}
	}
	p.Wait()

	// Record each source's minibatch mean into its history, once per pool
	// index even when a source was drawn more than once this round.
	recorded := make(map[int]bool, len(sources))
	for si, poolIdx := range sources {
		if recorded[poolIdx] {
			continue
		}
		recorded[poolIdx] = true
		var total float64
		for ei := range batch {
			total += grid[ei][si].Score
		}
		cpool.entries[poolIdx].observe(total / float64(len(batch)))
	}

	buckets := make([]*Bucket, 0, len(batch))
	for ei, example := range batch {
		bucket, err := NewBucket(example, grid[ei])
		if err != nil {
			continue
		}
		buckets = append(buckets, bucket)
	}
	return buckets
}

// scoreCandidates evaluates each new candidate on the minibatch. A
// candidate whose whole evaluation fails scores the failure score; the
// step proceeds.
func (s *SIMBA) scoreCandidates(ctx context.Context, candidates []core.Program, batch []core.Example) []float64 {
	scores := make([]float64, len(candidates))
	if len(candidates) == 0 {
		return scores
	}

	p := pool.New().WithMaxGoroutines(len(candidates))
	for i, program := range candidates {
		i, program := i, program
		p.Go(func() {
			result, err := s.evaluator.Run(ctx, program, batch, s.metric)
			if err != nil {
				s.logger.Warn(ctx, "candidate evaluation failed, scoring as failure: %v", err)
				scores[i] = s.evaluator.Options().FailureScore
				return
			}
			scores[i] = result.Score
		})
	}
	p.Wait()
	return scores
}

// reportProgress invokes the callback behind a recover boundary.
func (s *SIMBA) reportProgress(ctx context.Context, stats StepStats) {
	if s.progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn(ctx, "progress callback panicked: %v", r)
		}
	}()
	s.progress(map[string]interface{}{
		"step":       stats.Step,
		"pool_size":  stats.PoolSize,
		"best_score": stats.BestScore,
	})
}

// finalize wraps the best pool member with the run's audit trail.
func (s *SIMBA) finalize(ctx context.Context, cpool *candidatePool, history []StepStats, runID string, converged bool, elapsed time.Duration) *core.OptimizedProgram {
	bestIdx := cpool.bestIndex()
	best := cpool.entries[bestIdx]

	scoreHistory := make([][]float64, len(cpool.entries))
	for i, entry := range cpool.entries {
		scoreHistory[i] = append([]float64(nil), entry.scores...)
	}

	s.logger.Info(ctx, "SIMBA finished: best_mean=%.4f pool=%d steps=%d baseline_beaten=%v duration=%v",
		best.meanScore(), cpool.size(), len(history), bestIdx != 0, elapsed)

	return core.NewOptimizedProgram(best.program,
		core.WithMaxDemos(s.config.MaxDemos),
		core.WithMetadataValue("method", "SIMBA"),
		core.WithMetadataValue("run_id", runID),
		core.WithMetadataValue("best_mean_score", best.meanScore()),
		core.WithMetadataValue("best_pool_index", bestIdx),
		core.WithMetadataValue("baseline_beaten", bestIdx != 0),
		core.WithMetadataValue("converged", converged),
		core.WithMetadataValue("steps", history),
		core.WithMetadataValue("score_history", scoreHistory),
		core.WithMetadataValue("pool_size", cpool.size()),
		core.WithMetadataValue("duration", elapsed),
		core.WithMetadataValue("compiled_at", time.Now().UTC()),
	)
}
