package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/klubi/reagent/internal/agent"
	"github.com/klubi/reagent/internal/config"
	"github.com/klubi/reagent/internal/llm"
	"github.com/klubi/reagent/internal/store"
	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

// AgentBuilder creates the agent that executes one run.
type AgentBuilder func(spec v1.RunSpec) (*agent.Agent, error)

// ConfigBuilder returns an AgentBuilder that applies each run's overrides on
// top of cfg.
func ConfigBuilder(cfg *config.Config, client llm.Client, logger *zap.Logger) AgentBuilder {
	return func(spec v1.RunSpec) (*agent.Agent, error) {
		runCfg := Overlay(cfg, spec)
		if err := runCfg.Validate(); err != nil {
			return nil, err
		}
		return agent.FromConfig(runCfg, client, logger)
	}
}

// Overlay returns a copy of cfg with spec's non-zero fields applied.
func Overlay(cfg *config.Config, spec v1.RunSpec) *config.Config {
	c := *cfg
	if spec.Model != "" {
		c.Backend.Model = spec.Model
	}
	if spec.MaxSteps > 0 {
		c.Agent.MaxSteps = spec.MaxSteps
	}
	if spec.Mode != "" {
		c.Agent.Mode = spec.Mode
	}
	if spec.Grammar != "" {
		c.Agent.Grammar = spec.Grammar
	}
	if spec.Planning {
		c.Agent.Planning = true
	}
	if spec.Verify != nil {
		c.Agent.Verify = *spec.Verify
	}
	return &c
}

// RunController executes Pending runs. Runs never resume: a run found
// Running that this process is not executing is marked Failed.
type RunController struct {
	runs   *store.Runs
	build  AgentBuilder
	logger *zap.Logger

	mu sync.Mutex
	// active tracks in-flight runs by name so deletes can cancel them.
	active map[string]context.CancelFunc
}

// NewRunController creates a new RunController.
func NewRunController(runs *store.Runs, build AgentBuilder, logger *zap.Logger) *RunController {
	return &RunController{
		runs:   runs,
		build:  build,
		logger: logger,
		active: make(map[string]context.CancelFunc),
	}
}

// Reconcile drives one run:
//
//   - Pending:  execute it to completion.
//   - Running:  fail it if no worker in this process owns it.
//   - Deleted:  cancel it if it is in flight.
//   - Terminal: nothing to do.
func (c *RunController) Reconcile(ctx context.Context, key string) error {
	name := store.NameFromKey(key)

	run, err := c.runs.Get(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.cancel(name)
			return nil
		}
		return err
	}

	c.logger.Debug("reconciling run",
		zap.String("run", name),
		zap.String("phase", string(run.Status.Phase)),
	)

	switch run.Status.Phase {
	case v1.RunPending:
		return c.execute(ctx, run)

	case v1.RunRunning:
		if c.isActive(name) {
			return nil
		}
		c.logger.Warn("orphaned run, marking failed", zap.String("run", name))
		run.Status.Phase = v1.RunFailed
		run.Status.Error = "run was interrupted before it finished"
		run.Status.FinishedAt = time.Now().UTC()
		return c.runs.Update(run)

	case v1.RunSucceeded, v1.RunExhausted, v1.RunFailed:
		return nil

	default:
		c.logger.Warn("unknown run phase",
			zap.String("run", name),
			zap.String("phase", string(run.Status.Phase)),
		)
		return nil
	}
}

func (c *RunController) execute(ctx context.Context, run *v1.Run) error {
	name := run.Metadata.Name

	a, err := c.build(run.Spec)
	if err != nil {
		// A bad spec will not get better on retry.
		c.logger.Warn("invalid run spec", zap.String("run", name), zap.Error(err))
		run.Status.Phase = v1.RunFailed
		run.Status.Error = err.Error()
		run.Status.FinishedAt = time.Now().UTC()
		return c.runs.Update(run)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.active[name] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, name)
		c.mu.Unlock()
	}()

	run.Status.Phase = v1.RunRunning
	run.Status.StartedAt = time.Now().UTC()
	if err := c.runs.Update(run); err != nil {
		return fmt.Errorf("marking run %s running: %w", name, err)
	}

	c.logger.Info("executing run",
		zap.String("run", name),
		zap.String("model", a.Options().Model),
		zap.Int("maxSteps", a.Options().MaxSteps),
	)

	res, runErr := a.Run(runCtx, run.Spec.Query, NewRecorder(c.runs, run, c.logger))
	ApplyResult(run, res)
	if runErr != nil && runCtx.Err() != nil && ctx.Err() == nil {
		run.Status.Message = "cancelled"
	}

	if err := c.runs.Update(run); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Info("run deleted while executing", zap.String("run", name))
			return nil
		}
		return fmt.Errorf("recording result of run %s: %w", name, err)
	}

	c.logger.Info("run finished",
		zap.String("run", name),
		zap.String("phase", string(run.Status.Phase)),
		zap.Int("steps", run.Status.Steps),
	)
	return nil
}

// Deleted cancels the named run if it is executing.
func (c *RunController) Deleted(key string) {
	c.cancel(store.NameFromKey(key))
}

func (c *RunController) isActive(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[name]
	return ok
}

func (c *RunController) cancel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.active[name]; ok {
		c.logger.Info("cancelling deleted run", zap.String("run", name))
		cancel()
	}
}
