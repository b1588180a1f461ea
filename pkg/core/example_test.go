package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExample(t *testing.T) {
	t.Run("partitions fields into inputs and labels", func(t *testing.T) {
		ex, err := NewExample(map[string]interface{}{
			"question": "What is 2+2?",
			"hint":     "arithmetic",
			"answer":   "4",
		}, "question", "hint")
		require.NoError(t, err)

		inputs := ex.Inputs()
		labels := ex.Labels()

		assert.Equal(t, map[string]interface{}{"question": "What is 2+2?", "hint": "arithmetic"}, inputs)
		assert.Equal(t, map[string]interface{}{"answer": "4"}, labels)

		// No overlap and no loss.
		assert.Len(t, inputs, 2)
		assert.Len(t, labels, 1)
		for k := range inputs {
			assert.NotContains(t, labels, k)
		}
	})

	t.Run("rejects empty fields", func(t *testing.T) {
		_, err := NewExample(nil)
		assert.Error(t, err)
	})

	t.Run("rejects input key without a field", func(t *testing.T) {
		_, err := NewExample(map[string]interface{}{"a": 1}, "missing")
		assert.Error(t, err)
	})

	t.Run("rejects duplicate input keys", func(t *testing.T) {
		_, err := NewExample(map[string]interface{}{"a": 1}, "a", "a")
		assert.Error(t, err)
	})
}

func TestExampleImmutability(t *testing.T) {
	fields := map[string]interface{}{"question": "q", "answer": "a"}
	ex := MustExample(fields, "question")

	// Mutating the source map must not affect the example.
	fields["question"] = "mutated"
	inputs := ex.Inputs()
	assert.Equal(t, "q", inputs["question"])

	// Mutating returned maps must not affect the example either.
	inputs["question"] = "mutated again"
	assert.Equal(t, map[string]interface{}{"question": "q"}, ex.Inputs())
}

func TestExampleWithMetadata(t *testing.T) {
	ex := MustExample(map[string]interface{}{"question": "q", "answer": "a"}, "question")

	annotated := ex.WithMetadata("quality_score", 0.9)

	assert.Empty(t, ex.Metadata())
	assert.Equal(t, 0.9, annotated.Metadata()["quality_score"])

	// Fields carry over unchanged.
	assert.Equal(t, ex.Inputs(), annotated.Inputs())
	assert.Equal(t, ex.Labels(), annotated.Labels())
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-0.5))
	assert.Equal(t, 1.0, ClampScore(1.5))
	assert.Equal(t, 0.7, ClampScore(0.7))
	assert.Equal(t, 0.0, ClampScore(nan()))
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
