package core

import (
	"context"
	"time"
)

// ForwardOptions carries advisory per-call settings. Both fields are
// forwarded unchanged to any nested program.
type ForwardOptions struct {
	// Timeout bounds the execution, zero means no bound.
	Timeout time.Duration
	// CorrelationID ties the execution to one optimization run for tracing.
	CorrelationID string
}

// ForwardOption configures a single Forward call.
type ForwardOption func(*ForwardOptions)

// WithTimeout sets the advisory timeout for a Forward call.
func WithTimeout(d time.Duration) ForwardOption {
	return func(o *ForwardOptions) {
		o.Timeout = d
	}
}

// WithCorrelationID sets the tracing identifier for a Forward call.
func WithCorrelationID(id string) ForwardOption {
	return func(o *ForwardOptions) {
		o.CorrelationID = id
	}
}

// NewForwardOptions collects ForwardOptions from a variadic option list.
func NewForwardOptions(opts ...ForwardOption) ForwardOptions {
	var options ForwardOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Options converts the collected settings back into an option list so a
// wrapper can forward them unchanged to an inner program.
func (o ForwardOptions) Options() []ForwardOption {
	opts := make([]ForwardOption, 0, 2)
	if o.Timeout > 0 {
		opts = append(opts, WithTimeout(o.Timeout))
	}
	if o.CorrelationID != "" {
		opts = append(opts, WithCorrelationID(o.CorrelationID))
	}
	return opts
}

// Program is the unit of execution the optimizer works on: given inputs it
// produces outputs or an error. Implementations must treat the value as
// immutable during execution; optimization produces new values rather than
// editing pooled ones in place.
type Program interface {
	Forward(ctx context.Context, inputs map[string]interface{}, opts ...ForwardOption) (map[string]interface{}, error)

	// HasDemos reports whether the program carries demonstrations.
	HasDemos() bool
	// DemoCount returns the number of attached demonstrations.
	DemoCount() int
	// Kind names the program variant for logging and telemetry only; core
	// logic must branch via capability interfaces, never on Kind.
	Kind() string
}

// DemoCapable is the capability interface for programs that can carry
// few-shot demonstrations. WithDemos returns a new program value.
type DemoCapable interface {
	Demos() []Example
	WithDemos(demos []Example) Program
	MaxDemos() int
}

// InstructionCapable is the capability interface for programs whose
// instruction text can be refined. WithInstruction returns a new value.
type InstructionCapable interface {
	Instruction() string
	WithInstruction(instruction string) Program
}

// Metric scores a program's outputs against an example's labels,
// returning a value in [0, 1].
type Metric func(example Example, outputs map[string]interface{}) float64

// Dataset represents a collection of examples for training/evaluation.
type Dataset interface {
	// Next returns the next example in the dataset
	Next() (Example, bool)
	// Reset resets the dataset iterator
	Reset()
}

// ClampScore forces a score into the [0, 1] range; NaN maps to 0.
func ClampScore(score float64) float64 {
	if score != score { // NaN
		return 0.0
	}
	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

// CollectExamples drains a Dataset into a slice, resetting it first.
func CollectExamples(dataset Dataset) []Example {
	dataset.Reset()
	var examples []Example
	for {
		example, ok := dataset.Next()
		if !ok {
			break
		}
		examples = append(examples, example)
	}
	return examples
}
