package core

import (
	"context"
)

// OptimizedProgram wraps a base program with learned demonstrations and an
// optional instruction refinement without changing the Program contract. It
// composes: Forward merges the learned state into the inner program and
// delegates, it never re-implements prediction logic. OptimizedPrograms can
// nest arbitrarily.
type OptimizedProgram struct {
	inner       Program
	demos       []Example
	instruction string
	maxDemos    int
	metadata    map[string]interface{}
}

// OptimizedOption configures an OptimizedProgram at construction.
type OptimizedOption func(*OptimizedProgram)

// WithDemonstrations attaches learned demonstrations, in order.
func WithDemonstrations(demos []Example) OptimizedOption {
	return func(p *OptimizedProgram) {
		p.demos = append([]Example(nil), demos...)
	}
}

// WithInstructionRefinement attaches a learned instruction refinement.
func WithInstructionRefinement(instruction string) OptimizedOption {
	return func(p *OptimizedProgram) {
		p.instruction = instruction
	}
}

// WithMaxDemos bounds the number of demonstrations the program will carry.
func WithMaxDemos(max int) OptimizedOption {
	return func(p *OptimizedProgram) {
		p.maxDemos = max
	}
}

// WithMetadataValue records one metadata entry (method name, scores,
// timestamps) on the program.
func WithMetadataValue(key string, value interface{}) OptimizedOption {
	return func(p *OptimizedProgram) {
		p.metadata[key] = value
	}
}

// NewOptimizedProgram wraps inner with learned state. The demonstration
// list is truncated to the configured maximum.
func NewOptimizedProgram(inner Program, opts ...OptimizedOption) *OptimizedProgram {
	p := &OptimizedProgram{
		inner:    inner,
		metadata: make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxDemos > 0 && len(p.demos) > p.maxDemos {
		p.demos = p.demos[:p.maxDemos]
	}
	return p
}

var _ Program = (*OptimizedProgram)(nil)
var _ DemoCapable = (*OptimizedProgram)(nil)
var _ InstructionCapable = (*OptimizedProgram)(nil)

// Forward merges the learned demonstrations and instruction into the inner
// program, then delegates. Advisory options are forwarded unchanged.
func (p *OptimizedProgram) Forward(ctx context.Context, inputs map[string]interface{}, opts ...ForwardOption) (map[string]interface{}, error) {
	effective := p.inner

	if len(p.demos) > 0 {
		if capable, ok := effective.(DemoCapable); ok {
			merged := append(capable.Demos(), p.demos...)
			if p.maxDemos > 0 && len(merged) > p.maxDemos {
				merged = merged[:p.maxDemos]
			}
			effective = capable.WithDemos(merged)
		}
	}

	if p.instruction != "" {
		if capable, ok := effective.(InstructionCapable); ok {
			effective = capable.WithInstruction(p.instruction)
		}
	}

	return effective.Forward(ctx, inputs, opts...)
}

// HasDemos reports whether learned or inner demonstrations are present.
func (p *OptimizedProgram) HasDemos() bool {
	return len(p.demos) > 0 || p.inner.HasDemos()
}

// DemoCount counts learned plus inner demonstrations.
func (p *OptimizedProgram) DemoCount() int {
	return len(p.demos) + p.inner.DemoCount()
}

// Kind identifies the variant for telemetry.
func (p *OptimizedProgram) Kind() string {
	return "optimized(" + p.inner.Kind() + ")"
}

// Demos returns a copy of the learned demonstrations, in order.
func (p *OptimizedProgram) Demos() []Example {
	return append([]Example(nil), p.demos...)
}

// WithDemos returns a new OptimizedProgram carrying the given
// demonstrations; the receiver is unchanged.
func (p *OptimizedProgram) WithDemos(demos []Example) Program {
	clone := p.clone()
	clone.demos = append([]Example(nil), demos...)
	if clone.maxDemos > 0 && len(clone.demos) > clone.maxDemos {
		clone.demos = clone.demos[:clone.maxDemos]
	}
	return clone
}

// MaxDemos returns the configured demonstration bound, zero for unbounded.
func (p *OptimizedProgram) MaxDemos() int {
	return p.maxDemos
}

// Instruction returns the learned instruction refinement.
func (p *OptimizedProgram) Instruction() string {
	return p.instruction
}

// WithInstruction returns a new OptimizedProgram carrying the given
// instruction; the receiver is unchanged.
func (p *OptimizedProgram) WithInstruction(instruction string) Program {
	clone := p.clone()
	clone.instruction = instruction
	return clone
}

// Inner returns the wrapped program.
func (p *OptimizedProgram) Inner() Program {
	return p.inner
}

// Metadata returns a copy of the program's metadata map.
func (p *OptimizedProgram) Metadata() map[string]interface{} {
	meta := make(map[string]interface{}, len(p.metadata))
	for k, v := range p.metadata {
		meta[k] = v
	}
	return meta
}

// SetMetadata records a metadata entry. Metadata is audit information, not
// behavior; it may be written between rounds by the owning optimizer.
func (p *OptimizedProgram) SetMetadata(key string, value interface{}) {
	p.metadata[key] = value
}

func (p *OptimizedProgram) clone() *OptimizedProgram {
	meta := make(map[string]interface{}, len(p.metadata))
	for k, v := range p.metadata {
		meta[k] = v
	}
	return &OptimizedProgram{
		inner:       p.inner,
		demos:       append([]Example(nil), p.demos...),
		instruction: p.instruction,
		maxDemos:    p.maxDemos,
		metadata:    meta,
	}
}
