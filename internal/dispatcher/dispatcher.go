// Package dispatcher drains the run queue into the orchestrator. Runs
// execute one at a time: the browser session is shared, and interleaving
// two runs through it would break both pacing and clearance.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/paddockdata/racepipe/internal/scraper"
)

// Queue hands off run IDs between submission and execution.
type Queue interface {
	Enqueue(ctx context.Context, runID string) error
	Dequeue(ctx context.Context) (string, error)
}

// Executor runs a pipeline run to completion.
type Executor interface {
	Execute(ctx context.Context, runID string) (scraper.RunResult, error)
}

// Dispatcher executes queued runs sequentially.
type Dispatcher struct {
	queue    Queue
	executor Executor
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(queue Queue, executor Executor, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		executor: executor,
		logger:   logger,
	}
}

// Run blocks, executing runs as they arrive, until the context finishes or
// the queue closes. Execution errors are logged, never fatal: the failed
// run's own record carries the failure for pollers.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		runID, err := d.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				d.logger.Info("dispatcher stopped", zap.Error(err))
			}
			return
		}
		if _, err := d.executor.Execute(ctx, runID); err != nil {
			d.logger.Error("run execution failed",
				zap.String("run_id", runID), zap.Error(err))
		}
	}
}

// Launch submits a run for execution.
func (d *Dispatcher) Launch(ctx context.Context, runID string) error {
	if err := d.queue.Enqueue(ctx, runID); err != nil {
		return fmt.Errorf("queue run: %w", err)
	}
	return nil
}
