// Package pool provides the bounded-concurrency executor that every
// pipeline stage invocation runs through. The pool is agnostic to which
// stage or agent type submits work; it only enforces the global
// concurrency ceiling and keeps execution counters.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/paletteops/tokenflow/agent"
	"github.com/paletteops/tokenflow/token"
)

// ErrShutdown is returned by Submit after the pool has been shut down.
var ErrShutdown = errors.New("agent pool is shut down")

// Stats holds the pool's execution counters. Active and Queued reflect
// the instantaneous state; Completed and Failed accumulate until
// ResetStats.
type Stats struct {
	Active    int64 `json:"active"`
	Queued    int64 `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// AgentPool executes agent work under a fixed concurrency limit. Callers
// beyond the limit block in FIFO-ish semaphore order until a slot frees.
type AgentPool struct {
	sem    *semaphore.Weighted
	size   int64
	logger *slog.Logger

	active    atomic.Int64
	queued    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures an AgentPool.
type Option func(*AgentPool)

// WithLogger sets the pool's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *AgentPool) { p.logger = logger }
}

// New creates a pool allowing at most size simultaneous in-flight agent
// calls. A non-positive size defaults to 5.
func New(size int, opts ...Option) *AgentPool {
	if size <= 0 {
		size = 5
	}
	p := &AgentPool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Size returns the pool's concurrency limit.
func (p *AgentPool) Size() int { return int(p.size) }

// Submit runs ag.Process(task) once a concurrency slot is available. It
// blocks while waiting for a slot; cancellation of ctx while queued
// releases the caller with the context's error. The slot is released on
// every exit path, including agent panics, which are converted into
// errors rather than crashing the pipeline.
func (p *AgentPool) Submit(ctx context.Context, ag agent.Agent, task token.PipelineTask) (out *token.StageOutput, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShutdown
	}
	p.inflight.Add(1)
	p.mu.Unlock()
	defer p.inflight.Done()

	p.queued.Add(1)
	acquireErr := p.sem.Acquire(ctx, 1)
	p.queued.Add(-1)
	if acquireErr != nil {
		p.failed.Add(1)
		return nil, fmt.Errorf("waiting for pool slot: %w", acquireErr)
	}
	defer p.sem.Release(1)

	p.active.Add(1)
	defer p.active.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("agent panicked", "agent", ag.Name(), "task", task.ID, "panic", r)
			out = nil
			err = fmt.Errorf("agent %q panicked: %v", ag.Name(), r)
		}
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}()

	return ag.Process(ctx, task)
}

// Shutdown stops the pool. New submissions fail fast with ErrShutdown.
// When wait is true, Shutdown blocks until all in-flight work drains.
func (p *AgentPool) Shutdown(wait bool) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if wait {
		p.inflight.Wait()
	}
}

// HealthCheck reports whether the pool accepts work.
func (p *AgentPool) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrShutdown
	}
	return nil
}

// Stats returns a snapshot of the pool's counters.
func (p *AgentPool) Stats() Stats {
	return Stats{
		Active:    p.active.Load(),
		Queued:    p.queued.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// ResetStats zeroes the cumulative counters without affecting in-flight
// work. Active and Queued are live gauges and are left alone.
func (p *AgentPool) ResetStats() {
	p.completed.Store(0)
	p.failed.Store(0)
}
