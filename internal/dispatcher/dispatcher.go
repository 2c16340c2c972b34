// Package dispatcher runs a session's worker pool alongside its lease sweeper.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner is a worker loop. *worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context) error
}

// Sweeper reclaims expired leases until its context ends. *frontier.Manager satisfies it.
type Sweeper interface {
	RunSweeper(ctx context.Context) error
}

// Dispatcher fans a session out to a fixed pool of workers.
type Dispatcher struct {
	sweeper Sweeper
	workers []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher. sweeper may be nil.
func New(sweeper Sweeper, workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sweeper: sweeper,
		workers: workers,
		logger:  logger.Named("dispatcher"),
	}
}

// Run starts every worker and blocks until all of them return, either
// because the session is exhausted or because ctx ended. The sweeper runs for
// exactly as long as the workers do.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.workers) == 0 {
		return fmt.Errorf("dispatcher has no workers")
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan error, 1)
	if d.sweeper != nil {
		go func() { sweepDone <- d.sweeper.RunSweeper(sweepCtx) }()
	} else {
		sweepDone <- nil
	}

	d.logger.Info("Starting workers", zap.Int("workers", len(d.workers)))
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	err := g.Wait()

	stopSweep()
	if serr := <-sweepDone; serr != nil {
		d.logger.Warn("Lease sweeper stopped with error", zap.Error(serr))
	}
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	d.logger.Info("Workers finished")
	return nil
}
