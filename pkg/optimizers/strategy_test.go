package optimizers

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/teleprompt/internal/testutil"
	"github.com/promptforge/teleprompt/pkg/core"
)

func successfulBucket(t *testing.T, scores ...float64) *Bucket {
	t.Helper()
	trajectories := make([]Trajectory, 0, len(scores))
	for i, score := range scores {
		trajectories = append(trajectories, Trajectory{
			CandidateIndex: i,
			Inputs:         map[string]interface{}{"question": "q"},
			Outputs:        map[string]interface{}{"answer": fmt.Sprintf("a%d", i)},
			Score:          score,
			Successful:     true,
		})
	}
	bucket, err := NewBucket(bucketExample(t), trajectories)
	require.NoError(t, err)
	return bucket
}

// staticRuleGenerator returns a fixed rule, or an error when Fail is set.
type staticRuleGenerator struct {
	Rule string
	Fail bool

	lastGood Trajectory
	lastBad  Trajectory
}

func (g *staticRuleGenerator) GenerateRule(ctx context.Context, instruction string, good, bad Trajectory) (string, error) {
	if g.Fail {
		return "", fmt.Errorf("generator unavailable")
	}
	g.lastGood, g.lastBad = good, bad
	return g.Rule, nil
}

func TestAppendDemoPromotesBestTrajectory(t *testing.T) {
	strategy := NewAppendDemo(4, 0.5)
	bucket := successfulBucket(t, 0.3, 0.9, 0.6)
	base := testutil.DemoAwareProgram()

	require.True(t, strategy.Applicable(bucket))

	candidate, err := strategy.Apply(context.Background(), bucket, base)
	require.NoError(t, err)
	require.NotNil(t, candidate)

	// The base program is never mutated; the candidate carries the promoted
	// demonstration built from the best trajectory.
	assert.Equal(t, 0, base.DemoCount())
	assert.Equal(t, 1, candidate.DemoCount())

	capable, ok := candidate.(core.DemoCapable)
	require.True(t, ok)
	demos := capable.Demos()
	require.Len(t, demos, 1)

	answer, _ := demos[0].Get("answer")
	assert.Equal(t, "a1", answer)
	assert.Equal(t, 0.9, demos[0].Metadata()["score"])
	assert.NotEmpty(t, demos[0].Metadata()["demo_id"])
}

func TestAppendDemoSkipsBelowFloor(t *testing.T) {
	strategy := NewAppendDemo(4, 0.5)
	bucket := successfulBucket(t, 0.1, 0.3)

	assert.False(t, strategy.Applicable(bucket))

	_, err := strategy.Apply(context.Background(), bucket, testutil.DemoAwareProgram())
	require.Error(t, err)
	assert.True(t, IsSkip(err))
}

func TestAppendDemoSkipsAtCapacity(t *testing.T) {
	strategy := NewAppendDemo(1, 0.5)
	bucket := successfulBucket(t, 0.9)

	base := testutil.DemoAwareProgram().WithDemos([]core.Example{bucketExample(t)})

	_, err := strategy.Apply(context.Background(), bucket, base)
	require.Error(t, err)
	assert.True(t, IsSkip(err))
}

func TestAppendDemoWrapsNonDemoCapableBase(t *testing.T) {
	strategy := NewAppendDemo(4, 0.5)
	bucket := successfulBucket(t, 0.8)

	base := &minimalProgram{}
	candidate, err := strategy.Apply(context.Background(), bucket, base)
	require.NoError(t, err)

	_, ok := candidate.(*core.OptimizedProgram)
	assert.True(t, ok)
	assert.Equal(t, 1, candidate.DemoCount())
}

func TestAppendRuleRefinesInstruction(t *testing.T) {
	generator := &staticRuleGenerator{Rule: "Always answer with a number."}
	strategy := NewAppendRule(generator, 0.01)
	bucket := successfulBucket(t, 0.1, 0.9)

	base := testutil.DemoAwareProgram().WithInstruction("Answer the question.")
	require.True(t, strategy.Applicable(bucket))

	candidate, err := strategy.Apply(context.Background(), bucket, base)
	require.NoError(t, err)

	capable, ok := candidate.(core.InstructionCapable)
	require.True(t, ok)
	assert.Equal(t, "Answer the question.\nAlways answer with a number.", capable.Instruction())

	// The contrast fed to the generator is best versus worst.
	assert.Equal(t, 0.9, generator.lastGood.Score)
	assert.Equal(t, 0.1, generator.lastBad.Score)
}

func TestAppendRuleVarianceGate(t *testing.T) {
	strategy := NewAppendRule(&staticRuleGenerator{Rule: "rule"}, 0.01)

	uniform := successfulBucket(t, 0.5, 0.5, 0.5)
	assert.False(t, strategy.Applicable(uniform))

	spread := successfulBucket(t, 0.1, 0.9)
	assert.True(t, strategy.Applicable(spread))
}

func TestAppendRuleGeneratorFailureIsSkip(t *testing.T) {
	strategy := NewAppendRule(&staticRuleGenerator{Fail: true}, 0.01)
	bucket := successfulBucket(t, 0.1, 0.9)

	_, err := strategy.Apply(context.Background(), bucket, testutil.DemoAwareProgram())
	require.Error(t, err)
	assert.True(t, IsSkip(err))
}

func TestStrategyListFirstApplicable(t *testing.T) {
	list := NewStrategyList(FirstApplicable,
		NewAppendDemo(4, 0.5),
		NewAppendRule(&staticRuleGenerator{Rule: "rule"}, 0.01),
	)
	bucket := successfulBucket(t, 0.1, 0.9)

	produced := list.Apply(context.Background(), bucket, testutil.DemoAwareProgram())
	require.Len(t, produced, 1)
	assert.Equal(t, 1, produced[0].DemoCount())
}

func TestStrategyListBestOfAll(t *testing.T) {
	list := NewStrategyList(BestOfAll,
		NewAppendDemo(4, 0.5),
		NewAppendRule(&staticRuleGenerator{Rule: "rule"}, 0.01),
	)
	bucket := successfulBucket(t, 0.1, 0.9)

	produced := list.Apply(context.Background(), bucket, testutil.DemoAwareProgram())
	assert.Len(t, produced, 2)
}

func TestStrategyListPanicBecomesSkip(t *testing.T) {
	list := NewStrategyList(BestOfAll,
		&panickingStrategy{},
		NewAppendDemo(4, 0.5),
	)
	bucket := successfulBucket(t, 0.9)

	// The panicking strategy is swallowed; the list keeps going.
	produced := list.Apply(context.Background(), bucket, testutil.DemoAwareProgram())
	assert.Len(t, produced, 1)
}

type panickingStrategy struct{}

func (s *panickingStrategy) Name() string                   { return "panicking" }
func (s *panickingStrategy) Applicable(bucket *Bucket) bool { return true }
func (s *panickingStrategy) Apply(ctx context.Context, bucket *Bucket, base core.Program) (core.Program, error) {
	panic("strategy bug")
}

// minimalProgram implements only the Program contract, with no demo or
// instruction capability.
type minimalProgram struct{}

func (p *minimalProgram) Forward(ctx context.Context, inputs map[string]interface{}, opts ...core.ForwardOption) (map[string]interface{}, error) {
	return map[string]interface{}{"answer": "fixed"}, nil
}

func (p *minimalProgram) HasDemos() bool { return false }
func (p *minimalProgram) DemoCount() int { return 0 }
func (p *minimalProgram) Kind() string   { return "minimal" }
