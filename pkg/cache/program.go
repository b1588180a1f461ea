package cache

import (
	"context"
	"time"

	"github.com/promptforge/teleprompt/pkg/core"
	"github.com/promptforge/teleprompt/pkg/logging"
)

// CachedProgram wraps a Program with a prediction cache. Only programs
// exposing a stable fingerprint are cacheable; otherwise every call falls
// through to the inner program.
type CachedProgram struct {
	inner  core.Program
	cache  Cache
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedProgram wraps inner with cache; ttl zero means entries never
// expire.
func NewCachedProgram(inner core.Program, c Cache, ttl time.Duration) *CachedProgram {
	return &CachedProgram{
		inner:  inner,
		cache:  c,
		ttl:    ttl,
		logger: logging.GetLogger(),
	}
}

var _ core.Program = (*CachedProgram)(nil)

// Forward returns cached outputs when available, otherwise delegates and
// stores the result. Cache failures are logged and never fail the call.
func (p *CachedProgram) Forward(ctx context.Context, inputs map[string]interface{}, opts ...core.ForwardOption) (map[string]interface{}, error) {
	fingerprinter, ok := p.inner.(Fingerprinter)
	if !ok {
		return p.inner.Forward(ctx, inputs, opts...)
	}

	key := Key(fingerprinter.Fingerprint(), inputs)

	if outputs, hit, err := p.cache.Get(ctx, key); err != nil {
		p.logger.Warn(ctx, "cache read failed, executing program: %v", err)
	} else if hit {
		return outputs, nil
	}

	outputs, err := p.inner.Forward(ctx, inputs, opts...)
	if err != nil {
		return nil, err
	}

	if err := p.cache.Set(ctx, key, outputs, p.ttl); err != nil {
		p.logger.Warn(ctx, "cache write failed: %v", err)
	}
	return outputs, nil
}

func (p *CachedProgram) HasDemos() bool {
	return p.inner.HasDemos()
}

func (p *CachedProgram) DemoCount() int {
	return p.inner.DemoCount()
}

func (p *CachedProgram) Kind() string {
	return "cached(" + p.inner.Kind() + ")"
}

// Inner returns the wrapped program.
func (p *CachedProgram) Inner() core.Program {
	return p.inner
}
