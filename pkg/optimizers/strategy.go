package optimizers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/teleprompt/pkg/core"
	"github.com/promptforge/teleprompt/pkg/logging"
)

// Skip is the structured non-fatal outcome of a strategy that declined to
// produce a candidate. Strategy failure is never fatal to an optimization
// round; malformed input yields a Skip, not a panic.
type Skip struct {
	Strategy string
	Reason   string
}

func (s *Skip) Error() string {
	return fmt.Sprintf("strategy %s skipped: %s", s.Strategy, s.Reason)
}

// IsSkip reports whether err is a strategy skip.
func IsSkip(err error) bool {
	_, ok := err.(*Skip)
	return ok
}

// Strategy is a stateless, pluggable transformation: given a bucket and a
// base program it either returns a new candidate program (a new value,
// never a mutation of the input) or a Skip.
type Strategy interface {
	Name() string
	// Applicable is a cheap precondition check on the bucket alone.
	Applicable(bucket *Bucket) bool
	// Apply produces a new candidate or returns a *Skip error.
	Apply(ctx context.Context, bucket *Bucket, base core.Program) (core.Program, error)
}

// ApplyPolicy selects how a strategy list turns one bucket into candidates.
type ApplyPolicy int

const (
	// FirstApplicable tries strategies in priority order and uses the first
	// one that produces a candidate.
	FirstApplicable ApplyPolicy = iota
	// BestOfAll lets every applicable strategy produce a candidate; the
	// optimizer's re-scoring pass decides which survives.
	BestOfAll
)

// StrategyList applies an ordered set of strategies to buckets under a
// configured policy.
type StrategyList struct {
	strategies []Strategy
	policy     ApplyPolicy
	logger     *logging.Logger
}

// NewStrategyList builds a strategy list; priority follows argument order.
func NewStrategyList(policy ApplyPolicy, strategies ...Strategy) *StrategyList {
	return &StrategyList{
		strategies: strategies,
		policy:     policy,
		logger:     logging.GetLogger(),
	}
}

// Strategies returns the configured strategies in priority order.
func (l *StrategyList) Strategies() []Strategy {
	return append([]Strategy(nil), l.strategies...)
}

// Apply runs the list against one bucket and base program, returning the
// produced candidates (at most one under FirstApplicable). Skips are logged
// and swallowed.
func (l *StrategyList) Apply(ctx context.Context, bucket *Bucket, base core.Program) []core.Program {
	var produced []core.Program

	for _, strategy := range l.strategies {
		if bucket == nil || len(bucket.Trajectories) == 0 {
			return produced
		}
		if !strategy.Applicable(bucket) {
			continue
		}

		candidate, err := safeApply(ctx, strategy, bucket, base)
		if err != nil {
			l.logger.Debug(ctx, "strategy %s declined: %v", strategy.Name(), err)
			continue
		}

		produced = append(produced, candidate)
		if l.policy == FirstApplicable {
			return produced
		}
	}

	return produced
}

// safeApply converts a panicking strategy into a Skip.
func safeApply(ctx context.Context, strategy Strategy, bucket *Bucket, base core.Program) (candidate core.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			candidate = nil
			err = &Skip{Strategy: strategy.Name(), Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return strategy.Apply(ctx, bucket, base)
}

// AppendDemo promotes the bucket's best trajectory into a new demonstration
// appended to the base program.
type AppendDemo struct {
	// MaxDemos bounds the demonstrations a candidate may carry; zero means
	// use the program's own bound.
	MaxDemos int
	// MinScore is the minimum trajectory score worth promoting.
	MinScore float64
}

// NewAppendDemo creates the demo-promotion strategy.
func NewAppendDemo(maxDemos int, minScore float64) *AppendDemo {
	return &AppendDemo{MaxDemos: maxDemos, MinScore: minScore}
}

func (s *AppendDemo) Name() string { return "append_demo" }

// Applicable requires at least one successful trajectory scoring at or
// above the promotion floor.
func (s *AppendDemo) Applicable(bucket *Bucket) bool {
	if bucket == nil || len(bucket.Trajectories) == 0 {
		return false
	}
	for _, t := range bucket.Trajectories {
		if t.Successful && t.Score >= s.MinScore {
			return true
		}
	}
	return false
}

func (s *AppendDemo) Apply(ctx context.Context, bucket *Bucket, base core.Program) (core.Program, error) {
	if bucket == nil || len(bucket.Trajectories) == 0 {
		return nil, &Skip{Strategy: s.Name(), Reason: "empty bucket"}
	}
	if base == nil {
		return nil, &Skip{Strategy: s.Name(), Reason: "nil base program"}
	}

	best := bucket.Best()
	if !best.Successful || best.Score < s.MinScore {
		return nil, &Skip{Strategy: s.Name(), Reason: "no successful high-scoring trajectory"}
	}
	if best.Outputs == nil {
		return nil, &Skip{Strategy: s.Name(), Reason: "best trajectory has no outputs"}
	}

	maxDemos := s.MaxDemos
	if capable, ok := base.(core.DemoCapable); ok {
		if bound := capable.MaxDemos(); bound > 0 && (maxDemos == 0 || bound < maxDemos) {
			maxDemos = bound
		}
	}
	if maxDemos > 0 && base.DemoCount() >= maxDemos {
		return nil, &Skip{Strategy: s.Name(), Reason: "no demonstration capacity"}
	}

	demo, err := trajectoryToDemo(best)
	if err != nil {
		return nil, &Skip{Strategy: s.Name(), Reason: err.Error()}
	}

	if capable, ok := base.(core.DemoCapable); ok {
		return capable.WithDemos(append(capable.Demos(), demo)), nil
	}

	return core.NewOptimizedProgram(base,
		core.WithDemonstrations([]core.Example{demo}),
		core.WithMaxDemos(maxDemos),
		core.WithMetadataValue("method", s.Name()),
	), nil
}

// trajectoryToDemo wraps a trajectory's inputs and outputs as an Example
// carrying provenance metadata.
func trajectoryToDemo(t Trajectory) (core.Example, error) {
	fields := make(map[string]interface{}, len(t.Inputs)+len(t.Outputs))
	inputKeys := make([]string, 0, len(t.Inputs))
	for k, v := range t.Inputs {
		fields[k] = v
		inputKeys = append(inputKeys, k)
	}
	for k, v := range t.Outputs {
		fields[k] = v
	}

	demo, err := core.NewExample(fields, inputKeys...)
	if err != nil {
		return core.Example{}, err
	}

	demo = demo.WithMetadata("generator", "append_demo").
		WithMetadata("score", t.Score).
		WithMetadata("demo_id", uuid.New().String()).
		WithMetadata("created_at", time.Now().UTC())
	return demo, nil
}

// RuleGenerator synthesizes an instruction refinement from a contrast
// between a good and a bad execution. The LM-backed implementation lives
// with the LM clients; tests supply fakes.
type RuleGenerator interface {
	GenerateRule(ctx context.Context, instruction string, good, bad Trajectory) (string, error)
}

// LMRuleGenerator derives rules by prompting a language model with the
// best/worst contrast.
type LMRuleGenerator struct {
	LM core.LM
}

func (g *LMRuleGenerator) GenerateRule(ctx context.Context, instruction string, good, bad Trajectory) (string, error) {
	prompt := fmt.Sprintf(`A task instruction is being refined. Two attempts at the same task follow.

Current instruction: %s

Successful attempt (score %.2f):
inputs: %v
outputs: %v

Failed attempt (score %.2f):
inputs: %v
outputs: %v

State one concise rule, phrased as an imperative instruction, that would steer the failed attempt toward the successful one:`,
		instruction, good.Score, good.Inputs, good.Outputs, bad.Score, bad.Inputs, bad.Outputs)

	response, err := g.LM.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// AppendRule synthesizes a natural-language instruction refinement by
// contrasting the best- and worst-scoring trajectories in the bucket.
type AppendRule struct {
	Generator RuleGenerator
	// MinVariance gates application: near-uniform buckets give no useful
	// contrast.
	MinVariance float64
}

// NewAppendRule creates the instruction-refinement strategy.
func NewAppendRule(generator RuleGenerator, minVariance float64) *AppendRule {
	return &AppendRule{Generator: generator, MinVariance: minVariance}
}

func (s *AppendRule) Name() string { return "append_rule" }

// Applicable requires enough score variance to give a useful contrast.
func (s *AppendRule) Applicable(bucket *Bucket) bool {
	if bucket == nil || len(bucket.Trajectories) < 2 {
		return false
	}
	return bucket.ScoreVariance() > s.MinVariance
}

func (s *AppendRule) Apply(ctx context.Context, bucket *Bucket, base core.Program) (core.Program, error) {
	if bucket == nil || len(bucket.Trajectories) < 2 {
		return nil, &Skip{Strategy: s.Name(), Reason: "need at least two trajectories to contrast"}
	}
	if base == nil {
		return nil, &Skip{Strategy: s.Name(), Reason: "nil base program"}
	}
	if s.Generator == nil {
		return nil, &Skip{Strategy: s.Name(), Reason: "no rule generator configured"}
	}

	best, worst := bucket.Best(), bucket.Worst()
	if best.Score <= worst.Score {
		return nil, &Skip{Strategy: s.Name(), Reason: "no score contrast in bucket"}
	}

	instruction := ""
	if capable, ok := base.(core.InstructionCapable); ok {
		instruction = capable.Instruction()
	}

	rule, err := s.Generator.GenerateRule(ctx, instruction, best, worst)
	if err != nil {
		return nil, &Skip{Strategy: s.Name(), Reason: fmt.Sprintf("rule generation failed: %v", err)}
	}
	if rule == "" {
		return nil, &Skip{Strategy: s.Name(), Reason: "empty rule generated"}
	}

	refined := rule
	if instruction != "" {
		refined = instruction + "\n" + rule
	}

	if capable, ok := base.(core.InstructionCapable); ok {
		return capable.WithInstruction(refined), nil
	}

	return core.NewOptimizedProgram(base,
		core.WithInstructionRefinement(refined),
		core.WithMetadataValue("method", s.Name()),
	), nil
}
