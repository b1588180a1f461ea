package predict

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/teleprompt/internal/testutil"
	"github.com/promptforge/teleprompt/pkg/core"
	"github.com/promptforge/teleprompt/pkg/errors"
)

func TestNewValidation(t *testing.T) {
	_, err := New(nil, []string{"question"}, []string{"answer"})
	assert.Equal(t, errors.InvalidConfig, errors.CodeOf(err))

	_, err = New(&testutil.StaticLM{}, nil, []string{"answer"})
	assert.Equal(t, errors.InvalidConfig, errors.CodeOf(err))

	_, err = New(&testutil.StaticLM{}, []string{"question"}, nil)
	assert.Equal(t, errors.InvalidConfig, errors.CodeOf(err))
}

func TestForwardParsesFieldLines(t *testing.T) {
	lm := &testutil.StaticLM{Content: "answer: 4\nconfidence: high"}
	p, err := New(lm, []string{"question"}, []string{"answer", "confidence"})
	require.NoError(t, err)

	outputs, err := p.Forward(context.Background(), map[string]interface{}{"question": "2+2"})
	require.NoError(t, err)

	assert.Equal(t, "4", outputs["answer"])
	assert.Equal(t, "high", outputs["confidence"])
}

func TestForwardSingleFieldFallback(t *testing.T) {
	lm := &testutil.StaticLM{Content: "  just the answer  "}
	p, err := New(lm, []string{"question"}, []string{"answer"})
	require.NoError(t, err)

	outputs, err := p.Forward(context.Background(), map[string]interface{}{"question": "2+2"})
	require.NoError(t, err)
	assert.Equal(t, "just the answer", outputs["answer"])
}

func TestForwardMissingInputField(t *testing.T) {
	p, err := New(&testutil.StaticLM{Content: "x"}, []string{"question"}, []string{"answer"})
	require.NoError(t, err)

	_, err = p.Forward(context.Background(), map[string]interface{}{"not_question": "2+2"})
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
}

func TestForwardWrapsGenerationFailure(t *testing.T) {
	lm := &testutil.MockLM{}
	lm.On("Generate", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("rate limited"))

	p, err := New(lm, []string{"question"}, []string{"answer"})
	require.NoError(t, err)

	_, err = p.Forward(context.Background(), map[string]interface{}{"question": "2+2"})
	require.Error(t, err)
	assert.Equal(t, errors.ExecutionFailed, errors.CodeOf(err))
	lm.AssertExpectations(t)
}

func TestPromptLayout(t *testing.T) {
	lm := &testutil.MockLM{}
	var prompt string
	lm.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool {
		prompt = p
		return true
	})).Return(&core.LMResponse{Content: "answer: 8"}, nil)

	demo := core.MustExample(map[string]interface{}{"question": "2+2", "answer": "4"}, "question")
	p, err := New(lm, []string{"question"}, []string{"answer"},
		WithInstruction("Answer the arithmetic question."),
		WithDemos([]core.Example{demo}),
	)
	require.NoError(t, err)

	_, err = p.Forward(context.Background(), map[string]interface{}{"question": "3+5"})
	require.NoError(t, err)

	// Instruction first, then the demonstration block, then the live inputs
	// and the output stub the model is asked to complete.
	assert.True(t, strings.HasPrefix(prompt, "Answer the arithmetic question.\n\n"))
	assert.Contains(t, prompt, "question: 2+2\nanswer: 4\n")
	assert.Contains(t, prompt, "question: 3+5\n")
	assert.True(t, strings.HasSuffix(prompt, "answer:"))

	demoPos := strings.Index(prompt, "question: 2+2")
	livePos := strings.Index(prompt, "question: 3+5")
	assert.Less(t, demoPos, livePos)
}

func TestWithDemosReturnsNewValue(t *testing.T) {
	p, err := New(&testutil.StaticLM{Content: "x"}, []string{"question"}, []string{"answer"})
	require.NoError(t, err)

	demo := core.MustExample(map[string]interface{}{"question": "q", "answer": "a"}, "question")
	updated := p.WithDemos([]core.Example{demo})

	assert.Equal(t, 0, p.DemoCount())
	assert.Equal(t, 1, updated.DemoCount())
}

func TestWithDemosTruncatesToBound(t *testing.T) {
	p, err := New(&testutil.StaticLM{Content: "x"}, []string{"question"}, []string{"answer"},
		WithMaxDemos(2))
	require.NoError(t, err)

	demos := make([]core.Example, 0, 3)
	for i := 0; i < 3; i++ {
		demos = append(demos, core.MustExample(map[string]interface{}{
			"question": fmt.Sprintf("q%d", i),
			"answer":   fmt.Sprintf("a%d", i),
		}, "question"))
	}

	updated := p.WithDemos(demos)
	assert.Equal(t, 2, updated.DemoCount())
}

func TestWithInstructionReturnsNewValue(t *testing.T) {
	p, err := New(&testutil.StaticLM{Content: "x"}, []string{"question"}, []string{"answer"},
		WithInstruction("old"))
	require.NoError(t, err)

	updated := p.WithInstruction("new")

	assert.Equal(t, "old", p.Instruction())
	capable, ok := updated.(core.InstructionCapable)
	require.True(t, ok)
	assert.Equal(t, "new", capable.Instruction())
}

func TestFingerprintTracksLearnedState(t *testing.T) {
	p, err := New(&testutil.StaticLM{Content: "x"}, []string{"question"}, []string{"answer"})
	require.NoError(t, err)

	base := p.Fingerprint()
	assert.Equal(t, base, p.Fingerprint())

	demo := core.MustExample(map[string]interface{}{"question": "q", "answer": "a"}, "question")
	withDemo := p.WithDemos([]core.Example{demo}).(*Predict)
	assert.NotEqual(t, base, withDemo.Fingerprint())

	refined := p.WithInstruction("be terse").(*Predict)
	assert.NotEqual(t, base, refined.Fingerprint())
}
