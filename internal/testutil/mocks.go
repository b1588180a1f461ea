// Package testutil provides shared fakes for exercising the optimization
// pipeline without a real language model.
package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/promptforge/teleprompt/pkg/core"
)

// MockLM is a testify mock implementation of core.LM.
type MockLM struct {
	mock.Mock
}

func (m *MockLM) Generate(ctx context.Context, prompt string) (*core.LMResponse, error) {
	args := m.Called(ctx, prompt)
	if response := args.Get(0); response != nil {
		return response.(*core.LMResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLM) ModelID() string {
	return "mock-model"
}

// StaticLM returns a fixed completion for every prompt.
type StaticLM struct {
	Content string
}

func (s *StaticLM) Generate(ctx context.Context, prompt string) (*core.LMResponse, error) {
	return &core.LMResponse{Content: s.Content}, nil
}

func (s *StaticLM) ModelID() string {
	return "static-model"
}

// FakeProgram is a scriptable Program with demonstration and instruction
// capabilities, so tests can model programs whose behavior changes as the
// optimizer attaches learned state.
type FakeProgram struct {
	Name         string
	MaxDemoSlots int
	Respond      func(ctx context.Context, inputs map[string]interface{}, demos []core.Example, instruction string) (map[string]interface{}, error)

	demos       []core.Example
	instruction string
}

var _ core.Program = (*FakeProgram)(nil)
var _ core.DemoCapable = (*FakeProgram)(nil)
var _ core.InstructionCapable = (*FakeProgram)(nil)

func (p *FakeProgram) Forward(ctx context.Context, inputs map[string]interface{}, opts ...core.ForwardOption) (map[string]interface{}, error) {
	return p.Respond(ctx, inputs, p.demos, p.instruction)
}

func (p *FakeProgram) HasDemos() bool {
	return len(p.demos) > 0
}

func (p *FakeProgram) DemoCount() int {
	return len(p.demos)
}

func (p *FakeProgram) Kind() string {
	if p.Name != "" {
		return p.Name
	}
	return "fake"
}

func (p *FakeProgram) Demos() []core.Example {
	return append([]core.Example(nil), p.demos...)
}

func (p *FakeProgram) WithDemos(demos []core.Example) core.Program {
	clone := p.clone()
	clone.demos = append([]core.Example(nil), demos...)
	if clone.MaxDemoSlots > 0 && len(clone.demos) > clone.MaxDemoSlots {
		clone.demos = clone.demos[:clone.MaxDemoSlots]
	}
	return clone
}

func (p *FakeProgram) MaxDemos() int {
	return p.MaxDemoSlots
}

func (p *FakeProgram) Instruction() string {
	return p.instruction
}

func (p *FakeProgram) WithInstruction(instruction string) core.Program {
	clone := p.clone()
	clone.instruction = instruction
	return clone
}

func (p *FakeProgram) clone() *FakeProgram {
	return &FakeProgram{
		Name:         p.Name,
		MaxDemoSlots: p.MaxDemoSlots,
		Respond:      p.Respond,
		demos:        append([]core.Example(nil), p.demos...),
		instruction:  p.instruction,
	}
}

// EchoProgram returns the same outputs for every input.
func EchoProgram(outputs map[string]interface{}) *FakeProgram {
	return &FakeProgram{
		Name: "echo",
		Respond: func(ctx context.Context, inputs map[string]interface{}, demos []core.Example, instruction string) (map[string]interface{}, error) {
			copied := make(map[string]interface{}, len(outputs))
			for k, v := range outputs {
				copied[k] = v
			}
			return copied, nil
		},
	}
}

// LookupProgram answers from a fixed question-to-answer table, keyed on
// the "question" input, answering in the "answer" output.
func LookupProgram(table map[string]string) *FakeProgram {
	return &FakeProgram{
		Name: "lookup",
		Respond: func(ctx context.Context, inputs map[string]interface{}, demos []core.Example, instruction string) (map[string]interface{}, error) {
			question, _ := inputs["question"].(string)
			if answer, ok := table[question]; ok {
				return map[string]interface{}{"answer": answer}, nil
			}
			return map[string]interface{}{"answer": "unknown"}, nil
		},
	}
}

// DemoAwareProgram answers correctly only for questions it has seen as a
// demonstration, modeling a student that learns from few-shot context.
func DemoAwareProgram() *FakeProgram {
	return &FakeProgram{
		Name:         "demo_aware",
		MaxDemoSlots: 8,
		Respond: func(ctx context.Context, inputs map[string]interface{}, demos []core.Example, instruction string) (map[string]interface{}, error) {
			question, _ := inputs["question"].(string)
			for _, demo := range demos {
				demoQuestion, _ := demo.Get("question")
				if demoQuestion == question {
					answer, _ := demo.Get("answer")
					return map[string]interface{}{"answer": answer}, nil
				}
			}
			return map[string]interface{}{"answer": "I don't know"}, nil
		},
	}
}
