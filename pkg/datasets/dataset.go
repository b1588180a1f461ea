// Package datasets provides concrete core.Dataset implementations and the
// sampling helpers the optimizer draws minibatches with.
package datasets

import (
	"math/rand"

	"github.com/promptforge/teleprompt/pkg/core"
	"github.com/promptforge/teleprompt/pkg/errors"
)

// InMemoryDataset iterates over a fixed slice of examples.
type InMemoryDataset struct {
	examples []core.Example
	position int
}

// NewInMemoryDataset wraps the given examples.
func NewInMemoryDataset(examples []core.Example) *InMemoryDataset {
	return &InMemoryDataset{examples: append([]core.Example(nil), examples...)}
}

// FromRecords builds a dataset from raw field maps, declaring the same
// input keys for every record.
func FromRecords(records []map[string]interface{}, inputKeys ...string) (*InMemoryDataset, error) {
	examples := make([]core.Example, 0, len(records))
	for i, record := range records {
		example, err := core.NewExample(record, inputKeys...)
		if err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.InvalidInput, "invalid record"),
				errors.Fields{"index": i})
		}
		examples = append(examples, example)
	}
	return NewInMemoryDataset(examples), nil
}

var _ core.Dataset = (*InMemoryDataset)(nil)

// Next returns the next example in the dataset.
func (d *InMemoryDataset) Next() (core.Example, bool) {
	if d.position >= len(d.examples) {
		return core.Example{}, false
	}
	example := d.examples[d.position]
	d.position++
	return example, true
}

// Reset resets the dataset iterator.
func (d *InMemoryDataset) Reset() {
	d.position = 0
}

// Len returns the number of examples.
func (d *InMemoryDataset) Len() int {
	return len(d.examples)
}

// Examples returns a copy of the underlying slice.
func (d *InMemoryDataset) Examples() []core.Example {
	return append([]core.Example(nil), d.examples...)
}

// Sampler draws minibatches from a fixed example set with a seeded random
// source, so runs are reproducible.
type Sampler struct {
	examples []core.Example
	rng      *rand.Rand
}

// NewSampler creates a sampler over examples.
func NewSampler(examples []core.Example, seed int64) *Sampler {
	return &Sampler{
		examples: append([]core.Example(nil), examples...),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Draw returns size examples sampled uniformly without replacement within
// a draw; repetition across draws is expected.
func (s *Sampler) Draw(size int) []core.Example {
	if size > len(s.examples) {
		size = len(s.examples)
	}
	batch := make([]core.Example, 0, size)
	for _, idx := range s.rng.Perm(len(s.examples))[:size] {
		batch = append(batch, s.examples[idx])
	}
	return batch
}
