// Package evaluate runs a Program across a dataset concurrently, applies a
// caller-supplied metric, isolates per-example failures, and returns
// aggregate statistics. A single failing execution never aborts a batch;
// failures are normalized into a failure score and recorded.
package evaluate

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/promptforge/teleprompt/pkg/core"
	"github.com/promptforge/teleprompt/pkg/errors"
	"github.com/promptforge/teleprompt/pkg/logging"
)

// Options configures an Evaluator.
type Options struct {
	// MaxConcurrency bounds in-flight executions. Defaults to a small
	// multiple of available hardware parallelism.
	MaxConcurrency int
	// Timeout bounds each example's execution; zero disables the bound.
	Timeout time.Duration
	// FailureScore is the score recorded for failed executions.
	FailureScore float64
	// MaxErrors aborts the run once exceeded; zero or negative disables
	// the ceiling.
	MaxErrors int
}

// Option configures an Evaluator.
type Option func(*Options)

// WithMaxConcurrency bounds the number of in-flight executions.
func WithMaxConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxConcurrency = n
		}
	}
}

// WithTimeout sets the per-example execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithFailureScore sets the score recorded for failed executions.
func WithFailureScore(score float64) Option {
	return func(o *Options) {
		o.FailureScore = score
	}
}

// WithMaxErrors sets the error ceiling that aborts a run.
func WithMaxErrors(n int) Option {
	return func(o *Options) {
		o.MaxErrors = n
	}
}

// Stats aggregates per-example outcomes for one run.
type Stats struct {
	Total       int      `json:"total"`
	Successful  int      `json:"successful"`
	Failed      int      `json:"failed"`
	SuccessRate float64  `json:"success_rate"`
	Errors      []string `json:"errors,omitempty"`
}

// Result is the aggregate outcome of evaluating a program over a dataset.
// Score is the arithmetic mean over all examples, failed ones counted at
// the failure score, so a mostly-failing program scores near zero instead
// of looking good on its survivors.
type Result struct {
	Score float64 `json:"score"`
	Stats Stats   `json:"stats"`
}

// Outcome is the normalized result of one (program, example) execution.
// A returned failure, a timeout, and a recovered panic all collapse into
// Successful=false with the failure score.
type Outcome struct {
	Outputs    map[string]interface{}
	Score      float64
	Successful bool
	Err        error
	Duration   time.Duration
}

// Evaluator executes programs against examples with bounded concurrency.
type Evaluator struct {
	options Options
	logger  *logging.Logger
}

// NewEvaluator creates an Evaluator. Defaults: concurrency 4x GOMAXPROCS,
// no timeout, failure score 0.0, no error ceiling.
func NewEvaluator(opts ...Option) *Evaluator {
	options := Options{
		MaxConcurrency: 4 * runtime.GOMAXPROCS(0),
		FailureScore:   0.0,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Evaluator{
		options: options,
		logger:  logging.GetLogger(),
	}
}

// Options returns the evaluator's effective configuration.
func (e *Evaluator) Options() Options {
	return e.options
}

// RunOne executes a program on a single example and scores the outputs.
// This is the per-example primitive: it retains outputs (needed by
// bootstrap and trajectory sampling), wraps the execution in a recover
// boundary, enforces the timeout, and guards against panicking metrics.
func (e *Evaluator) RunOne(ctx context.Context, program core.Program, example core.Example, metric core.Metric) Outcome {
	start := time.Now()
	outcome := Outcome{Score: e.options.FailureScore}

	outputs, err := e.forward(ctx, program, example)
	outcome.Duration = time.Since(start)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Outputs = outputs

	score, err := safeScore(metric, example, outputs)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	outcome.Score = core.ClampScore(score)
	outcome.Successful = true
	return outcome
}

// forward invokes the program behind a recover boundary and a timeout. The
// timeout is enforced here as well as advertised through ForwardOptions, so
// a non-cooperative program cannot stall the batch.
func (e *Evaluator) forward(ctx context.Context, program core.Program, example core.Example) (map[string]interface{}, error) {
	execCtx := ctx
	var cancel context.CancelFunc
	if e.options.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, e.options.Timeout)
		defer cancel()
	}

	opts := []core.ForwardOption{}
	if e.options.Timeout > 0 {
		opts = append(opts, core.WithTimeout(e.options.Timeout))
	}
	if id, ok := logging.GetCorrelationID(ctx); ok {
		opts = append(opts, core.WithCorrelationID(id))
	}

	type forwardResult struct {
		outputs map[string]interface{}
		err     error
	}
	done := make(chan forwardResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- forwardResult{err: errors.WithFields(
					errors.New(errors.ExecutionFailed, "program panicked"),
					errors.Fields{"panic": fmt.Sprintf("%v", r)})}
			}
		}()
		outputs, err := program.Forward(execCtx, example.Inputs(), opts...)
		done <- forwardResult{outputs: outputs, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			return nil, errors.Wrap(result.err, errors.ExecutionFailed, "program execution failed")
		}
		return result.outputs, nil
	case <-execCtx.Done():
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.Timeout, "program execution timed out")
		}
		return nil, errors.Wrap(execCtx.Err(), errors.Canceled, "program execution canceled")
	}
}

// safeScore applies the metric behind a recover boundary; a raising metric
// is a scoring failure for that example only.
func safeScore(metric core.Metric, example core.Example, outputs map[string]interface{}) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithFields(
				errors.New(errors.MetricFailed, "metric panicked"),
				errors.Fields{"panic": fmt.Sprintf("%v", r)})
		}
	}()
	return metric(example, outputs), nil
}

// Run evaluates the program over all examples with up to MaxConcurrency
// executions in flight. It always completes unless the configured error
// ceiling is breached, in which case it aborts with a structured error.
func (e *Evaluator) Run(ctx context.Context, program core.Program, examples []core.Example, metric core.Metric) (*Result, error) {
	if program == nil {
		return nil, errors.New(errors.InvalidConfig, "program is required")
	}
	if metric == nil {
		return nil, errors.New(errors.InvalidConfig, "metric is required")
	}
	if len(examples) == 0 {
		return nil, errors.New(errors.InvalidConfig, "at least one example is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make([]Outcome, len(examples))
	var mu sync.Mutex
	failed := 0

	p := pool.New().WithMaxGoroutines(e.options.MaxConcurrency)
	for i, example := range examples {
		i, example := i, example
		p.Go(func() {
			if runCtx.Err() != nil {
				outcomes[i] = Outcome{
					Score: e.options.FailureScore,
					Err:   errors.Wrap(runCtx.Err(), errors.Canceled, "evaluation aborted"),
				}
				return
			}

			outcome := e.RunOne(runCtx, program, example, metric)
			outcomes[i] = outcome

			if !outcome.Successful {
				mu.Lock()
				failed++
				breach := e.options.MaxErrors > 0 && failed > e.options.MaxErrors
				mu.Unlock()
				if breach {
					cancel()
				}
			}
		})
	}
	p.Wait()

	if e.options.MaxErrors > 0 && failed > e.options.MaxErrors {
		return nil, errors.WithFields(
			errors.New(errors.MaxErrorsExceeded, "evaluation aborted: too many failed examples"),
			errors.Fields{"failed": failed, "max_errors": e.options.MaxErrors, "total": len(examples)})
	}

	result := &Result{Stats: Stats{Total: len(examples)}}
	var totalScore float64
	for _, outcome := range outcomes {
		totalScore += outcome.Score
		if outcome.Successful {
			result.Stats.Successful++
		} else {
			result.Stats.Failed++
			if outcome.Err != nil {
				result.Stats.Errors = append(result.Stats.Errors, outcome.Err.Error())
			}
		}
	}

	result.Score = core.ClampScore(totalScore / float64(len(examples)))
	result.Stats.SuccessRate = float64(result.Stats.Successful) / float64(len(examples))

	e.logger.Debug(ctx, "evaluation complete: score=%.4f successful=%d failed=%d total=%d",
		result.Score, result.Stats.Successful, result.Stats.Failed, result.Stats.Total)

	return result, nil
}
