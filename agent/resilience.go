package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paletteops/tokenflow/token"
)

// WithTimeout wraps an agent so each Process call is bounded by d. A
// call that exceeds the deadline is abandoned, not retried, and reported
// as an extraction error.
func WithTimeout(ag Agent, d time.Duration) Agent {
	return &timeoutAgent{inner: ag, timeout: d}
}

type timeoutAgent struct {
	inner   Agent
	timeout time.Duration
}

func (a *timeoutAgent) Name() string { return a.inner.Name() }

func (a *timeoutAgent) Process(ctx context.Context, task token.PipelineTask) (*token.StageOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.inner.Process(ctx, task)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, token.NewExtractionError(
			fmt.Sprintf("agent %q timed out", a.inner.Name()),
			map[string]any{"agent": a.inner.Name(), "timeout": a.timeout.String(), "task": task.ID},
			err,
		)
	}
	return out, err
}

func (a *timeoutAgent) HealthCheck(ctx context.Context) error {
	return a.inner.HealthCheck(ctx)
}

// RetryConfig tunes the exponential backoff applied to rate-limited
// extraction calls.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, first call included.
	// Defaults to 3.
	MaxAttempts int
	// InitialDelay is the backoff before the second attempt. Defaults to
	// one second.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth. Defaults to 30 seconds.
	MaxDelay time.Duration
	// Multiplier scales the delay each attempt. Defaults to 2.
	Multiplier float64

	Logger *slog.Logger
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// WithRetry wraps an agent so calls failing with token.ErrRateLimited
// are retried with exponential backoff up to MaxAttempts. Any other
// error fails immediately.
func WithRetry(ag Agent, cfg RetryConfig) Agent {
	return &retryAgent{inner: ag, cfg: cfg.withDefaults()}
}

type retryAgent struct {
	inner Agent
	cfg   RetryConfig
}

func (a *retryAgent) Name() string { return a.inner.Name() }

func (a *retryAgent) Process(ctx context.Context, task token.PipelineTask) (*token.StageOutput, error) {
	delay := a.cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		out, err := a.inner.Process(ctx, task)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, token.ErrRateLimited) {
			return nil, err
		}
		lastErr = err

		if attempt == a.cfg.MaxAttempts {
			break
		}
		a.cfg.Logger.Warn("agent rate limited, backing off",
			"agent", a.inner.Name(), "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("agent %q: context cancelled after %d attempts: %w",
				a.inner.Name(), attempt, ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * a.cfg.Multiplier)
		if delay > a.cfg.MaxDelay {
			delay = a.cfg.MaxDelay
		}
	}

	return nil, fmt.Errorf("agent %q: all %d attempts rate limited: %w",
		a.inner.Name(), a.cfg.MaxAttempts, lastErr)
}

func (a *retryAgent) HealthCheck(ctx context.Context) error {
	return a.inner.HealthCheck(ctx)
}
