package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alouette-a11y/alouette/internal/cli"
	"github.com/alouette-a11y/alouette/internal/logging"
	"github.com/alouette-a11y/alouette/internal/queue"
)

// recoverer is implemented by queues that park in-flight jobs per consumer.
type recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// Application is the global runtime state container.
// It holds config, parsed CLI args and the core services that are shared
// across modules (orchestrator, queue, logger). Pass Application into
// modules that need access to the global state rather than using
// package-level variables.
type Application struct {
	Config *Config
	Args   *cli.Args

	Logger    logging.Logger
	Deps      Deps
	Orch      *Orchestrator
	Scheduler *Scheduler

	// internal context for cancellation / lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApplication constructs an Application from already-built components.
func NewApplication(cfg *Config, args *cli.Args, logger logging.Logger, deps Deps) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	orch, err := NewOrchestrator(cfg, deps, logger)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		Config:    cfg,
		Args:      args,
		Logger:    logger,
		Deps:      deps,
		Orch:      orch,
		Scheduler: NewScheduler(cfg.Scheduler, cfg.Queue.DedupTTL, deps.Store, deps.Queue, logger),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// StartWorkers re-queues jobs this consumer left in flight, then consumes
// the queue (and runs the scheduler when enabled) in the background until
// Shutdown.
func (a *Application) StartWorkers() error {
	if a == nil {
		return errors.New("application is nil")
	}
	if r, ok := a.Deps.Queue.(recoverer); ok {
		n, err := r.Recover(a.ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			a.Logger.Info("requeued interrupted jobs", logging.Field{Key: "count", Value: n})
		}
	}

	a.Logger.Info("workers starting",
		logging.Field{Key: "concurrency", Value: a.Config.Worker.Concurrency},
		logging.Field{Key: "queue", Value: a.Config.Queue.Backend})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		queue.Consume(a.ctx, a.Deps.Queue, a.Config.Worker.Concurrency, a.Orch.HandleJob, a.Logger)
	}()

	if a.Config.Scheduler.Enabled {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Scheduler.Run(a.ctx)
		}()
	}
	return nil
}

// Shutdown stops the workers, waiting for in-flight jobs within a bounded
// time, then closes the queue and the store.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// cancel internal ctx to stop consumers and the scheduler
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.Logger.Warn("workers did not stop in time")
	}

	var errs []error
	if err := a.Deps.Queue.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Deps.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
