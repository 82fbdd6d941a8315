package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Provider serves one capability.
type Provider[Req, Res any] interface {
	Name() string
	Invoke(ctx context.Context, req Req) (Res, error)
}

// Func adapts a function to a Provider.
type Func[Req, Res any] struct {
	ProviderName string
	Fn           func(ctx context.Context, req Req) (Res, error)
}

func (f Func[Req, Res]) Name() string {
	return f.ProviderName
}

func (f Func[Req, Res]) Invoke(ctx context.Context, req Req) (Res, error) {
	return f.Fn(ctx, req)
}

// Result is a successful chain call.
type Result[Res any] struct {
	Value    Res
	Provider string
}

// Chain tries providers in rank order until one succeeds.
type Chain[Req, Res any] struct {
	capability string
	providers  []Provider[Req, Res]
	timeout    time.Duration
	logger     *slog.Logger
}

// NewChain returns a chain. A zero timeout leaves calls bounded only by ctx.
func NewChain[Req, Res any](capability string, timeout time.Duration, logger *slog.Logger, providers ...Provider[Req, Res]) *Chain[Req, Res] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain[Req, Res]{
		capability: capability,
		providers:  providers,
		timeout:    timeout,
		logger:     logger.With("capability", capability),
	}
}

// Capability returns the served capability.
func (c *Chain[Req, Res]) Capability() string {
	return c.capability
}

// Len returns the number of ranked providers.
func (c *Chain[Req, Res]) Len() int {
	return len(c.providers)
}

// Names returns provider names in rank order.
func (c *Chain[Req, Res]) Names() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Invoke calls providers in order, each under its own timeout. Cancellation
// of ctx stops the chain and is returned as is.
func (c *Chain[Req, Res]) Invoke(ctx context.Context, req Req) (Result[Res], error) {
	exhausted := &ExhaustedError{Capability: c.capability}
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return Result[Res]{}, err
		}

		res, err := c.call(ctx, p, req)
		if err == nil {
			return Result[Res]{Value: res, Provider: p.Name()}, nil
		}
		if ctx.Err() != nil {
			return Result[Res]{}, ctx.Err()
		}

		kind := Classify(err)
		c.logger.Warn("provider call failed", "provider", p.Name(), "kind", kind, "error", err)
		exhausted.Attempts = append(exhausted.Attempts, &Error{
			Kind:       kind,
			Capability: c.capability,
			Provider:   p.Name(),
			Err:        err,
		})
	}
	return Result[Res]{}, exhausted
}

func (c *Chain[Req, Res]) call(ctx context.Context, p Provider[Req, Res], req Req) (res Res, err error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked: %v", r)
		}
	}()

	res, err = p.Invoke(callCtx, req)
	if err != nil && callCtx.Err() != nil && ctx.Err() == nil {
		// per-call deadline fired
		if !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		err = &Error{Kind: KindTimeout, Err: err}
	}
	return res, err
}
