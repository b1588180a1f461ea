package optimizers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/teleprompt/internal/testutil"
	"github.com/promptforge/teleprompt/pkg/core"
	"github.com/promptforge/teleprompt/pkg/errors"
)

func arithmeticTrainset(t *testing.T) []core.Example {
	t.Helper()
	return []core.Example{
		core.MustExample(map[string]interface{}{"question": "2+2", "answer": "4"}, "question"),
		core.MustExample(map[string]interface{}{"question": "3+5", "answer": "8"}, "question"),
	}
}

func answerMatchMetric(example core.Example, outputs map[string]interface{}) float64 {
	want, _ := example.Get("answer")
	if outputs["answer"] == want {
		return 1.0
	}
	return 0.0
}

func TestBootstrapFewShotCompile(t *testing.T) {
	trainset := arithmeticTrainset(t)

	// The teacher only knows 2+2; the other demonstration scores 0 and is
	// filtered out by the threshold.
	teacher := testutil.LookupProgram(map[string]string{"2+2": "4"})
	student := testutil.DemoAwareProgram()

	bootstrap := NewBootstrapFewShot(answerMatchMetric, WithQualityThreshold(0.5))
	optimized, err := bootstrap.Compile(context.Background(), student, teacher, trainset)
	require.NoError(t, err)

	demos := optimized.Demos()
	require.Len(t, demos, 1)

	question, _ := demos[0].Get("question")
	answer, _ := demos[0].Get("answer")
	assert.Equal(t, "2+2", question)
	assert.Equal(t, "4", answer)

	// Provenance travels with the demonstration.
	assert.Equal(t, "BootstrapFewShot", demos[0].Metadata()["generator"])
	assert.Equal(t, 1.0, demos[0].Metadata()["quality_score"])

	meta := optimized.Metadata()
	assert.Equal(t, "BootstrapFewShot", meta["method"])
	assert.Equal(t, 1, meta["demo_count"])
	assert.NotContains(t, meta, "no_quality_demonstrations")

	// The compiled student now answers the bootstrapped question.
	outputs, err := optimized.Forward(context.Background(), map[string]interface{}{"question": "2+2"})
	require.NoError(t, err)
	assert.Equal(t, "4", outputs["answer"])
}

func TestBootstrapFewShotCapsDemos(t *testing.T) {
	trainset := []core.Example{
		core.MustExample(map[string]interface{}{"question": "a", "answer": "1"}, "question"),
		core.MustExample(map[string]interface{}{"question": "b", "answer": "2"}, "question"),
		core.MustExample(map[string]interface{}{"question": "c", "answer": "3"}, "question"),
	}
	teacher := testutil.LookupProgram(map[string]string{"a": "1", "b": "2", "c": "3"})

	bootstrap := NewBootstrapFewShot(answerMatchMetric, WithBootstrapMaxDemos(2))
	optimized, err := bootstrap.Compile(context.Background(), testutil.DemoAwareProgram(), teacher, trainset)
	require.NoError(t, err)

	assert.Len(t, optimized.Demos(), 2)
}

func TestBootstrapFewShotNoQualityDemos(t *testing.T) {
	trainset := arithmeticTrainset(t)
	teacher := testutil.EchoProgram(map[string]interface{}{"answer": "wrong"})

	bootstrap := NewBootstrapFewShot(answerMatchMetric)
	optimized, err := bootstrap.Compile(context.Background(), testutil.DemoAwareProgram(), teacher, trainset)
	require.NoError(t, err)

	assert.Empty(t, optimized.Demos())
	assert.Equal(t, true, optimized.Metadata()["no_quality_demonstrations"])
}

func TestBootstrapFewShotTeacherDefaultsToStudent(t *testing.T) {
	trainset := []core.Example{
		core.MustExample(map[string]interface{}{"question": "a", "answer": "1"}, "question"),
	}
	student := testutil.LookupProgram(map[string]string{"a": "1"})

	bootstrap := NewBootstrapFewShot(answerMatchMetric)
	optimized, err := bootstrap.Compile(context.Background(), student, nil, trainset)
	require.NoError(t, err)

	assert.Len(t, optimized.Demos(), 1)
	assert.Equal(t, "lookup", optimized.Metadata()["teacher"])
}

func TestBootstrapFewShotValidation(t *testing.T) {
	trainset := arithmeticTrainset(t)
	student := testutil.DemoAwareProgram()

	t.Run("nil student", func(t *testing.T) {
		bootstrap := NewBootstrapFewShot(answerMatchMetric)
		_, err := bootstrap.Compile(context.Background(), nil, nil, trainset)
		assert.Equal(t, errors.InvalidConfig, errors.CodeOf(err))
	})

	t.Run("nil metric", func(t *testing.T) {
		bootstrap := NewBootstrapFewShot(nil)
		_, err := bootstrap.Compile(context.Background(), student, nil, trainset)
		assert.Equal(t, errors.InvalidConfig, errors.CodeOf(err))
	})

	t.Run("empty trainset", func(t *testing.T) {
		bootstrap := NewBootstrapFewShot(answerMatchMetric)
		_, err := bootstrap.Compile(context.Background(), student, nil, nil)
		assert.Equal(t, errors.InvalidConfig, errors.CodeOf(err))
	})

	t.Run("non-positive max demos", func(t *testing.T) {
		bootstrap := NewBootstrapFewShot(answerMatchMetric, WithBootstrapMaxDemos(0))
		_, err := bootstrap.Compile(context.Background(), student, nil, trainset)
		assert.Equal(t, errors.InvalidConfig, errors.CodeOf(err))
	})
}
