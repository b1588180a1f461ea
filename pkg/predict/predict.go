// Package predict provides the leaf predictor: a Program that formats a
// plain prompt from its instruction, demonstrations and inputs, calls a
// language model, and parses named output fields from the completion.
// Richer adapter layers (provider-specific message shapes, schema
// validation) live outside this module.
package predict

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/promptforge/teleprompt/pkg/core"
	"github.com/promptforge/teleprompt/pkg/errors"
	"github.com/promptforge/teleprompt/pkg/logging"
)

// Predict is a single-step LM program. Values are treated as immutable
// during execution; WithDemos and WithInstruction return new values.
type Predict struct {
	lm           core.LM
	instruction  string
	inputFields  []string
	outputFields []string
	demos        []core.Example
	maxDemos     int
	logger       *logging.Logger
}

// Option configures a Predict at construction.
type Option func(*Predict)

// WithInstruction sets the base instruction text.
func WithInstruction(instruction string) Option {
	return func(p *Predict) {
		p.instruction = instruction
	}
}

// WithDemos seeds the predictor with demonstrations.
func WithDemos(demos []core.Example) Option {
	return func(p *Predict) {
		p.demos = append([]core.Example(nil), demos...)
	}
}

// WithMaxDemos bounds the demonstrations the predictor will carry.
func WithMaxDemos(max int) Option {
	return func(p *Predict) {
		p.maxDemos = max
	}
}

// New creates a predictor for the given model and field names.
func New(lm core.LM, inputFields, outputFields []string, opts ...Option) (*Predict, error) {
	if lm == nil {
		return nil, errors.New(errors.InvalidConfig, "language model is required")
	}
	if len(inputFields) == 0 || len(outputFields) == 0 {
		return nil, errors.New(errors.InvalidConfig, "input and output fields are required")
	}

	p := &Predict{
		lm:           lm,
		inputFields:  append([]string(nil), inputFields...),
		outputFields: append([]string(nil), outputFields...),
		maxDemos:     4,
		logger:       logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxDemos > 0 && len(p.demos) > p.maxDemos {
		p.demos = p.demos[:p.maxDemos]
	}
	return p, nil
}

var _ core.Program = (*Predict)(nil)
var _ core.DemoCapable = (*Predict)(nil)
var _ core.InstructionCapable = (*Predict)(nil)

// Forward formats the prompt, calls the model, and parses output fields.
func (p *Predict) Forward(ctx context.Context, inputs map[string]interface{}, opts ...core.ForwardOption) (map[string]interface{}, error) {
	options := core.NewForwardOptions(opts...)
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}
	if options.CorrelationID != "" {
		ctx = logging.WithCorrelationID(ctx, options.CorrelationID)
	}

	for _, field := range p.inputFields {
		if _, ok := inputs[field]; !ok {
			return nil, errors.WithFields(
				errors.New(errors.InvalidInput, "missing input field"),
				errors.Fields{"field": field})
		}
	}

	prompt := p.buildPrompt(inputs)
	start := time.Now()

	response, err := p.lm.Generate(ctx, prompt)
	if err != nil {
		return nil, errors.Wrap(err, errors.ExecutionFailed, "lm generation failed")
	}

	outputs := p.parseOutputs(response.Content)
	p.logger.Debug(ctx, "predict completed in %v: model=%s", time.Since(start), p.lm.ModelID())
	return outputs, nil
}

// buildPrompt renders instruction, demonstrations and inputs as
// field-per-line blocks.
func (p *Predict) buildPrompt(inputs map[string]interface{}) string {
	var b strings.Builder

	if p.instruction != "" {
		b.WriteString(p.instruction)
		b.WriteString("\n\n")
	}

	for _, demo := range p.demos {
		demoInputs := demo.Inputs()
		for _, field := range p.inputFields {
			if v, ok := demoInputs[field]; ok {
				fmt.Fprintf(&b, "%s: %v\n", field, v)
			}
		}
		for _, field := range p.outputFields {
			if v, ok := demo.Get(field); ok {
				fmt.Fprintf(&b, "%s: %v\n", field, v)
			}
		}
		b.WriteString("\n")
	}

	for _, field := range p.inputFields {
		fmt.Fprintf(&b, "%s: %v\n", field, inputs[field])
	}
	for _, field := range p.outputFields {
		fmt.Fprintf(&b, "%s:", field)
		if field != p.outputFields[len(p.outputFields)-1] {
			b.WriteString("\n")
		}
	}

	return b.String()
}

// parseOutputs extracts "field: value" lines from the completion. When the
// predictor has a single output field and no line matched, the whole
// trimmed completion is the value.
func (p *Predict) parseOutputs(content string) map[string]interface{} {
	outputs := make(map[string]interface{}, len(p.outputFields))

	for _, line := range strings.Split(content, "\n") {
		for _, field := range p.outputFields {
			prefix := field + ":"
			if strings.HasPrefix(strings.TrimSpace(line), prefix) {
				value := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), prefix))
				if _, exists := outputs[field]; !exists {
					outputs[field] = value
				}
			}
		}
	}

	if len(outputs) == 0 && len(p.outputFields) == 1 {
		outputs[p.outputFields[0]] = strings.TrimSpace(content)
	}

	return outputs
}

// HasDemos reports whether the predictor carries demonstrations.
func (p *Predict) HasDemos() bool {
	return len(p.demos) > 0
}

// DemoCount returns the number of attached demonstrations.
func (p *Predict) DemoCount() int {
	return len(p.demos)
}

// Kind identifies the variant for telemetry.
func (p *Predict) Kind() string {
	return "predict"
}

// Demos returns a copy of the demonstrations, in order. Order matters for
// prompt construction reproducibility.
func (p *Predict) Demos() []core.Example {
	return append([]core.Example(nil), p.demos...)
}

// WithDemos returns a new predictor carrying the given demonstrations,
// truncated to the configured bound.
func (p *Predict) WithDemos(demos []core.Example) core.Program {
	clone := p.clone()
	clone.demos = append([]core.Example(nil), demos...)
	if clone.maxDemos > 0 && len(clone.demos) > clone.maxDemos {
		clone.demos = clone.demos[:clone.maxDemos]
	}
	return clone
}

// MaxDemos returns the demonstration bound, zero for unbounded.
func (p *Predict) MaxDemos() int {
	return p.maxDemos
}

// Instruction returns the predictor's instruction text.
func (p *Predict) Instruction() string {
	return p.instruction
}

// WithInstruction returns a new predictor with the given instruction.
func (p *Predict) WithInstruction(instruction string) core.Program {
	clone := p.clone()
	clone.instruction = instruction
	return clone
}

// Fingerprint returns a stable identity for the predictor's learned state,
// used as a cache key component.
func (p *Predict) Fingerprint() string {
	var b strings.Builder
	b.WriteString(p.instruction)
	b.WriteString("|")
	b.WriteString(p.lm.ModelID())
	for _, demo := range p.demos {
		for _, name := range demo.FieldNames() {
			v, _ := demo.Get(name)
			fmt.Fprintf(&b, "|%s=%v", name, v)
		}
	}
	return b.String()
}

func (p *Predict) clone() *Predict {
	return &Predict{
		lm:           p.lm,
		instruction:  p.instruction,
		inputFields:  append([]string(nil), p.inputFields...),
		outputFields: append([]string(nil), p.outputFields...),
		demos:        append([]core.Example(nil), p.demos...),
		maxDemos:     p.maxDemos,
		logger:       p.logger,
	}
}
