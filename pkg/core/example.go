package core

import (
	"sort"
	"time"

	"github.com/promptforge/teleprompt/pkg/errors"
)

// Example is one task instance: a set of named fields split into input
// fields and label (expected output) fields. Which subset is input is
// declared explicitly at construction and carried with the value.
// Examples are immutable once constructed; annotated copies are produced
// with the With* methods.
type Example struct {
	fields    map[string]interface{}
	inputKeys []string
	metadata  map[string]interface{}
}

// NewExample constructs an Example from raw fields and the declared input
// keys. Every input key must name an existing field; the remaining fields
// are the labels.
func NewExample(fields map[string]interface{}, inputKeys ...string) (Example, error) {
	if len(fields) == 0 {
		return Example{}, errors.New(errors.InvalidInput, "example requires at least one field")
	}

	seen := make(map[string]bool, len(inputKeys))
	for _, key := range inputKeys {
		if _, ok := fields[key]; !ok {
			return Example{}, errors.WithFields(
				errors.New(errors.InvalidInput, "input key does not name a field"),
				errors.Fields{"key": key})
		}
		if seen[key] {
			return Example{}, errors.WithFields(
				errors.New(errors.InvalidInput, "duplicate input key"),
				errors.Fields{"key": key})
		}
		seen[key] = true
	}

	fieldsCopy := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		fieldsCopy[k] = v
	}

	keys := make([]string, len(inputKeys))
	copy(keys, inputKeys)

	return Example{fields: fieldsCopy, inputKeys: keys}, nil
}

// MustExample is NewExample that panics on invalid input, for fixtures
// and tests.
func MustExample(fields map[string]interface{}, inputKeys ...string) Example {
	ex, err := NewExample(fields, inputKeys...)
	if err != nil {
		panic(err)
	}
	return ex
}

// Inputs returns a copy of the input fields.
func (e Example) Inputs() map[string]interface{} {
	inputs := make(map[string]interface{}, len(e.inputKeys))
	for _, key := range e.inputKeys {
		inputs[key] = e.fields[key]
	}
	return inputs
}

// Labels returns a copy of the expected output fields, i.e. every field
// not declared as an input.
func (e Example) Labels() map[string]interface{} {
	labels := make(map[string]interface{})
	inputSet := make(map[string]bool, len(e.inputKeys))
	for _, key := range e.inputKeys {
		inputSet[key] = true
	}
	for k, v := range e.fields {
		if !inputSet[k] {
			labels[k] = v
		}
	}
	return labels
}

// Get returns the named field value.
func (e Example) Get(name string) (interface{}, bool) {
	v, ok := e.fields[name]
	return v, ok
}

// InputKeys returns the declared input keys in declaration order.
func (e Example) InputKeys() []string {
	keys := make([]string, len(e.inputKeys))
	copy(keys, e.inputKeys)
	return keys
}

// FieldNames returns all field names, sorted for determinism.
func (e Example) FieldNames() []string {
	names := make([]string, 0, len(e.fields))
	for k := range e.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Metadata returns a copy of the annotation map attached to this example.
func (e Example) Metadata() map[string]interface{} {
	meta := make(map[string]interface{}, len(e.metadata))
	for k, v := range e.metadata {
		meta[k] = v
	}
	return meta
}

// WithMetadata returns a copy of the example carrying an extra annotation.
// The receiver is not modified.
func (e Example) WithMetadata(key string, value interface{}) Example {
	meta := make(map[string]interface{}, len(e.metadata)+1)
	for k, v := range e.metadata {
		meta[k] = v
	}
	meta[key] = value

	return Example{fields: e.fields, inputKeys: e.inputKeys, metadata: meta}
}

// Prediction holds the outputs a program produced for one execution, plus
// optional execution metadata. Ownership belongs to the caller that invoked
// the execution.
type Prediction struct {
	Outputs  map[string]interface{}
	RawText  string
	Latency  time.Duration
	Metadata map[string]interface{}
}
