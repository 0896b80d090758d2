package daemon

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/untoldecay/space/internal/config"
	"github.com/untoldecay/space/internal/scheduler"
	"github.com/untoldecay/space/internal/spawn"
	"github.com/untoldecay/space/internal/state"
	"github.com/untoldecay/space/internal/storage/sqlite"
)

// EmailSyncer ingests outside mail into the ledger between scheduling
// passes. The worker treats it as an optional adapter and keeps ticking
// when none is wired.
type EmailSyncer interface {
	Sync(ctx context.Context) error
}

// Worker is the daemon's long-running half: the process the supervisor
// forks and respawns. It owns the only spawn engine that monitors child
// processes across ticks.
type Worker struct {
	store  *sqlite.Store
	cfg    *config.Service
	state  *state.Service
	engine *spawn.Engine
	sched  *scheduler.Scheduler
	email  EmailSyncer
	logger *slog.Logger

	lastHousekeep time.Time
}

// NewWorker wires a worker over already-open services.
func NewWorker(store *sqlite.Store, cfg *config.Service, st *state.Service, engine *spawn.Engine, sched *scheduler.Scheduler, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{
		store:  store,
		cfg:    cfg,
		state:  st,
		engine: engine,
		sched:  sched,
		logger: logger,
	}
}

// SetEmail installs the optional email adapter.
func (w *Worker) SetEmail(e EmailSyncer) { w.email = e }

// Run ticks until SIGTERM, SIGINT, or context cancellation, then stops
// every child the engine owns and returns. The shutdown flag is checked
// each second between ticks so a signal never waits out a full interval.
func (w *Worker) Run(ctx context.Context) error {
	w.startup(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGINT)
	defer signal.Stop(sigCh)

	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	var lastTick time.Time
	for {
		select {
		case <-ctx.Done():
			w.shutdown("context cancelled")
			return ctx.Err()
		case sig := <-sigCh:
			w.shutdown(sig.String())
			return nil
		case <-poll.C:
			if time.Since(lastTick) < w.cfg.Current().Tick {
				continue
			}
			lastTick = time.Now()
			w.tick(ctx)
		}
	}
}

// startup runs the once-per-boot repairs: rebuild any corrupt search
// index and forget launch failures from the previous life.
func (w *Worker) startup(ctx context.Context) {
	w.logger.Info("worker starting", "pid", os.Getpid())
	if rebuilt, err := w.store.RepairFTS(ctx); err != nil {
		w.logger.Warn("search index repair failed", "error", err)
	} else if len(rebuilt) > 0 {
		w.logger.Info("rebuilt search index", "tables", rebuilt)
	}
	if err := w.state.ClearFailures(); err != nil {
		w.logger.Warn("failed to clear launch failures", "error", err)
	}
}

func (w *Worker) shutdown(cause string) {
	w.logger.Info("worker stopping", "cause", cause)
	w.engine.Shutdown()
}

// tick is one pass of daemon duties. Maintenance always runs; scheduling
// only while the swarm is enabled. Errors are logged, never fatal: the
// next tick retries.
func (w *Worker) tick(ctx context.Context) {
	if err := w.engine.Reconcile(ctx); err != nil {
		w.logger.Warn("reconcile failed", "error", err)
	}
	if _, err := w.engine.Reap(ctx); err != nil {
		w.logger.Warn("reap failed", "error", err)
	}
	w.housekeepIfDue(ctx)

	snap := w.cfg.Current()
	if !snap.Swarm.Enabled {
		return
	}
	if tripped, err := w.sched.EnforceLimit(ctx); err != nil {
		w.logger.Warn("limit check failed", "error", err)
		return
	} else if tripped {
		return
	}
	if w.email != nil {
		if err := w.email.Sync(ctx); err != nil {
			w.logger.Warn("email sync failed", "error", err)
		}
	}
	if err := w.sched.Tick(ctx); err != nil {
		w.logger.Warn("scheduler tick failed", "error", err)
	}
}
