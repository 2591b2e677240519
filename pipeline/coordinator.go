// Package pipeline contains the coordinator that drives the five-stage
// extraction pipeline: preprocess, extract, aggregate, validate,
// generate. Stage work runs through the shared agent pool, execution is
// gated by a named circuit breaker, and every failure is returned as
// data inside the PipelineResult rather than thrown past the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paletteops/tokenflow/agent"
	"github.com/paletteops/tokenflow/aggregate"
	"github.com/paletteops/tokenflow/breaker"
	"github.com/paletteops/tokenflow/observability"
	"github.com/paletteops/tokenflow/pool"
	"github.com/paletteops/tokenflow/spacing"
	"github.com/paletteops/tokenflow/token"
)

// Config holds the coordinator's tunables.
type Config struct {
	// FailOnPartialExtraction makes any extraction agent failure fatal
	// for the whole run. When false, the pipeline proceeds with tokens
	// from the agents that succeeded and records the failures as
	// non-fatal errors.
	FailOnPartialExtraction bool

	// StageTimeout bounds each single-agent stage invocation. Zero
	// disables the bound.
	StageTimeout time.Duration

	// ExtractTimeout bounds each extraction agent call. Zero disables
	// the bound.
	ExtractTimeout time.Duration

	// Breaker configures the circuit breaker gating execution. The name
	// defaults to "pipeline"; coordinators sharing a registry and a
	// breaker name share the breaker's state.
	Breaker breaker.Config
}

// Deps carries the coordinator's collaborators. Preprocessor,
// Aggregator, Validator, and Generator fall back to the built-in agents
// when nil; Extractors must contain at least one agent.
type Deps struct {
	Preprocessor agent.Agent
	Extractors   []agent.Agent
	Aggregator   agent.Agent
	Validator    agent.Agent
	Generator    agent.Agent

	Pool     *pool.AgentPool
	Breakers *breaker.Registry
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// Stats counts pipeline executions since construction or the last
// ResetStats call.
type Stats struct {
	Total     int64      `json:"total"`
	Succeeded int64      `json:"succeeded"`
	Failed    int64      `json:"failed"`
	Pool      pool.Stats `json:"pool"`
}

// Coordinator executes pipeline tasks. It holds agent interface
// references only and is safe for concurrent use.
type Coordinator struct {
	cfg Config

	preprocessor agent.Agent
	extractors   []agent.Agent
	aggregator   agent.Agent
	validator    agent.Agent
	generator    agent.Agent

	pool    *pool.AgentPool
	cb      *breaker.CircuitBreaker
	logger  *slog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	total     int64
	succeeded int64
	failed    int64
}

// New creates a coordinator. The breaker is resolved through the
// registry so multiple coordinators can share fault-tolerance state by
// name.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if len(deps.Extractors) == 0 {
		return nil, fmt.Errorf("coordinator requires at least one extraction agent")
	}

	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "pipeline"
	}
	if deps.Breakers == nil {
		deps.Breakers = breaker.NewRegistry()
	}
	if deps.Pool == nil {
		deps.Pool = pool.New(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Preprocessor == nil {
		deps.Preprocessor = agent.NewPreprocessAgent("preprocessor", agent.PassthroughPreprocessor{})
	}
	if deps.Aggregator == nil {
		deps.Aggregator = agent.NewAggregatorAgent(
			aggregate.NewEngine(aggregate.Config{Logger: deps.Logger}),
			spacing.NewEngine(spacing.Config{Logger: deps.Logger}),
		)
	}
	if deps.Validator == nil {
		deps.Validator = agent.ValidatorAgent{}
	}
	if deps.Generator == nil {
		deps.Generator = agent.GeneratorAgent{}
	}

	c := &Coordinator{
		cfg:          cfg,
		preprocessor: deps.Preprocessor,
		extractors:   deps.Extractors,
		aggregator:   deps.Aggregator,
		validator:    deps.Validator,
		generator:    deps.Generator,
		pool:         deps.Pool,
		cb:           deps.Breakers.GetOrCreate(cfg.Breaker),
		logger:       deps.Logger,
		metrics:      deps.Metrics,
	}
	c.cb.OnStateChange(func(_, to breaker.State) {
		c.metrics.SetBreakerState(cfg.Breaker.Name, float64(to))
	})
	return c, nil
}

// Execute runs the task through every stage not listed in skip. It
// always returns a PipelineResult; stage failures and the breaker's
// "circuit is open" rejection are reported in-band through Success and
// Errors.
func (c *Coordinator) Execute(ctx context.Context, task token.PipelineTask, skip ...token.Stage) token.PipelineResult {
	started := time.Now()
	done := c.metrics.PipelineStarted()
	defer done()

	result := token.PipelineResult{
		TaskID:       task.ID,
		StageResults: make(map[token.Stage]token.StageResult, len(token.Stages())),
		StartedAt:    started,
	}

	skipSet := make(map[token.Stage]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}

	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		c.run(ctx, task, skipSet, &result)
		if !result.Success {
			return fmt.Errorf("pipeline %s failed", task.ID)
		}
		return nil
	})
	if errors.Is(err, breaker.ErrOpen) {
		c.logger.Warn("pipeline rejected by circuit breaker", "task", task.ID, "breaker", c.cb.Name())
		result.Success = false
		result.Errors = append(result.Errors, "circuit is open")
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(started)

	c.recordExecution(result.Success)
	c.logger.Info("pipeline finished",
		"task", task.ID, "success", result.Success,
		"tokens", len(result.Tokens), "elapsed", result.Duration)
	return result
}

// run executes the stage sequence, updating result in place. The task's
// context is never mutated: each stage hand-off constructs a new task
// value carrying the cumulative tokens and images.
func (c *Coordinator) run(ctx context.Context, task token.PipelineTask, skipSet map[token.Stage]bool, result *token.PipelineResult) {
	var images []token.ProcessedImage

	for _, stage := range token.Stages() {
		if skipSet[stage] {
			result.StageResults[stage] = token.StageResult{
				Stage:   stage,
				Status:  token.StageSkipped,
				Success: true,
			}
			continue
		}

		var sr token.StageResult
		var out *token.StageOutput

		if stage == token.StageExtract {
			sr, out = c.runExtract(ctx, task, result)
		} else {
			sr, out = c.runStage(ctx, stage, c.agentFor(stage), task)
		}
		result.StageResults[stage] = sr
		c.metrics.RecordStage(string(stage), string(sr.Status), sr.Duration)

		if !sr.Success {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", stage, sr.Error))
			result.Success = false
			return
		}

		if out != nil {
			result.Errors = append(result.Errors, out.Warnings...)
			updates := map[string]any{}
			if len(out.Images) > 0 {
				images = append(images, out.Images...)
				updates[token.CtxKeyImages] = images
			}
			if out.Tokens != nil {
				result.Tokens = out.Tokens
				updates[token.CtxKeyTokens] = out.Tokens
			}
			if len(updates) > 0 {
				task = task.WithContextValues(updates)
			}
		}
	}

	result.Success = true
}

// agentFor maps a single-agent stage to its agent.
func (c *Coordinator) agentFor(stage token.Stage) agent.Agent {
	switch stage {
	case token.StagePreprocess:
		return c.preprocessor
	case token.StageAggregate:
		return c.aggregator
	case token.StageValidate:
		return c.validator
	default:
		return c.generator
	}
}

// runStage submits one agent invocation to the pool and flattens its
// outcome into a StageResult.
func (c *Coordinator) runStage(ctx context.Context, stage token.Stage, ag agent.Agent, task token.PipelineTask) (token.StageResult, *token.StageOutput) {
	if c.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	c.logger.Debug("stage started", "task", task.ID, "stage", stage, "agent", ag.Name())
	out, err := c.pool.Submit(ctx, ag, task)
	elapsed := time.Since(start)

	if err != nil {
		c.logger.Error("stage failed", "task", task.ID, "stage", stage, "error", err, "elapsed", elapsed)
		return token.StageResult{
			Stage:    stage,
			Status:   token.StageFailed,
			Error:    err.Error(),
			Duration: elapsed,
		}, nil
	}

	c.logger.Debug("stage completed", "task", task.ID, "stage", stage, "elapsed", elapsed)
	sr := token.StageResult{
		Stage:    stage,
		Status:   token.StageSucceeded,
		Success:  true,
		Duration: elapsed,
	}
	if out != nil {
		sr.Tokens = out.Tokens
	}
	return sr, out
}

// runExtract fans the extraction agents out in parallel through the
// pool and gathers their results. Sibling failures never cancel each
// other; errors are reported in configured-agent order so failure output
// is deterministic regardless of completion order.
func (c *Coordinator) runExtract(ctx context.Context, task token.PipelineTask, result *token.PipelineResult) (token.StageResult, *token.StageOutput) {
	start := time.Now()

	type extraction struct {
		out *token.StageOutput
		err error
	}
	results := make([]extraction, len(c.extractors))

	var wg sync.WaitGroup
	for i, ag := range c.extractors {
		wg.Add(1)
		go func(i int, ag agent.Agent) {
			defer wg.Done()
			callCtx := ctx
			if c.cfg.ExtractTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, c.cfg.ExtractTimeout)
				defer cancel()
			}
			out, err := c.pool.Submit(callCtx, ag, task)
			results[i] = extraction{out: out, err: err}
		}(i, ag)
	}
	wg.Wait()

	var merged []token.TokenResult
	var failures []string
	for i, ag := range c.extractors {
		if results[i].err != nil {
			c.metrics.RecordExtractionFailure(ag.Name())
			failures = append(failures, fmt.Sprintf("extraction agent %q: %v", ag.Name(), results[i].err))
			continue
		}
		if results[i].out != nil {
			merged = append(merged, results[i].out.Tokens...)
		}
	}
	elapsed := time.Since(start)

	allFailed := len(failures) == len(c.extractors)
	if len(failures) > 0 && (c.cfg.FailOnPartialExtraction || allFailed) {
		return token.StageResult{
			Stage:    token.StageExtract,
			Status:   token.StageFailed,
			Error:    fmt.Sprintf("%d of %d extraction agents failed: %v", len(failures), len(c.extractors), failures),
			Duration: elapsed,
		}, nil
	}

	// Non-fatal partial failures still appear in the result's error list.
	result.Errors = append(result.Errors, failures...)

	if merged == nil {
		merged = []token.TokenResult{}
	}
	return token.StageResult{
		Stage:    token.StageExtract,
		Status:   token.StageSucceeded,
		Success:  true,
		Tokens:   merged,
		Duration: elapsed,
	}, &token.StageOutput{Tokens: merged}
}

func (c *Coordinator) recordExecution(success bool) {
	c.mu.Lock()
	c.total++
	if success {
		c.succeeded++
	} else {
		c.failed++
	}
	c.mu.Unlock()

	status := "failed"
	if success {
		status = "succeeded"
	}
	c.metrics.RecordExecution(status)
}

// GetStats returns a snapshot of the execution counters and the pool's
// counters.
func (c *Coordinator) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Total:     c.total,
		Succeeded: c.succeeded,
		Failed:    c.failed,
		Pool:      c.pool.Stats(),
	}
}

// ResetStats zeroes the execution counters without affecting in-flight
// work.
func (c *Coordinator) ResetStats() {
	c.mu.Lock()
	c.total, c.succeeded, c.failed = 0, 0, 0
	c.mu.Unlock()
	c.pool.ResetStats()
}

// HealthCheck probes every configured agent and the pool, returning nil
// only when all report healthy. Individual failures are joined so the
// caller sees every unhealthy component at once.
func (c *Coordinator) HealthCheck(ctx context.Context) error {
	var errs []error

	check := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	check("pool", c.pool.HealthCheck)
	check(c.preprocessor.Name(), c.preprocessor.HealthCheck)
	for _, ag := range c.extractors {
		check(ag.Name(), ag.HealthCheck)
	}
	check(c.aggregator.Name(), c.aggregator.HealthCheck)
	check(c.validator.Name(), c.validator.HealthCheck)
	check(c.generator.Name(), c.generator.HealthCheck)

	return errors.Join(errs...)
}
