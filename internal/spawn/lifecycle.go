package spawn

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/untoldecay/space/internal/provider"
	"github.com/untoldecay/space/internal/types"
)

// Terminate stops a running spawn: SIGTERM to its session group, a short
// grace, then SIGKILL, and the row goes done with error "terminated".
// Terminating an already done spawn returns it unchanged.
func (e *Engine) Terminate(ctx context.Context, ref string) (*types.Spawn, error) {
	sp, err := e.store.GetSpawn(ctx, ref)
	if err != nil {
		return nil, err
	}
	if sp.Status == types.SpawnDone {
		return sp, nil
	}

	if sp.PID != nil {
		killWithGrace(*sp.PID, e.cfg.Current().TerminateGrace)
	}

	applied, err := e.store.FinishSpawn(ctx, sp.ID, "", provider.ErrTerminated)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	_, owned := e.active[sp.ID]
	e.mu.Unlock()
	if applied && !owned {
		// No monitor in this process will seal the trace.
		if path, ok := e.locator.Find(string(sp.ID)); ok {
			e.sealTrace(ctx, sp.ID, path)
		}
		e.bus.Clear(string(sp.ID))
	}
	e.logger.Info("terminated spawn", "spawn", sp.ID.Short())

	return e.store.GetSpawn(ctx, string(sp.ID))
}

// Shutdown stops every process this engine owns and waits for their
// monitors to settle the rows. Each session group gets SIGTERM, the
// shutdown grace, then SIGKILL.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	pids := make([]int, 0, len(e.active))
	for _, cmd := range e.active {
		if cmd.Process != nil {
			pids = append(pids, cmd.Process.Pid)
		}
	}
	e.mu.Unlock()

	for _, pid := range pids {
		killWithGrace(pid, shutdownGrace)
	}
	e.wg.Wait()
}

const shutdownGrace = 5 * time.Second

// Reap settles active spawns whose process is gone: nothing bound after
// the grace period, or a bound pid that no longer answers signal 0. The
// row goes done with error "reaped", keeping any session id so the
// scheduler can offer one resume.
func (e *Engine) Reap(ctx context.Context) (int, error) {
	grace := e.cfg.Current().ReapGrace
	candidates, err := e.store.ReapCandidates(ctx, time.Now().UTC().Add(-grace))
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, sp := range candidates {
		e.mu.Lock()
		_, owned := e.active[sp.ID]
		e.mu.Unlock()
		if owned {
			continue
		}
		if sp.PID != nil && processAlive(*sp.PID) {
			continue
		}
		if e.reapOne(ctx, sp) {
			reaped++
		}
	}
	return reaped, nil
}

func (e *Engine) reapOne(ctx context.Context, sp *types.Spawn) bool {
	summaryArg := ""
	path, hasTrace := e.locator.Find(string(sp.ID))
	if hasTrace && sp.Summary == "" {
		if agent, err := e.store.GetAgent(ctx, string(sp.AgentID)); err == nil && agent.Model != "" {
			if adapter, aerr := e.reg.ForModel(agent.Model); aerr == nil {
				summaryArg = clipSummary(lastTraceText(adapter, agent.Handle, path))
			}
		}
	}

	applied, err := e.store.FinishSpawn(ctx, sp.ID, summaryArg, provider.ErrReaped)
	if err != nil {
		e.logger.Warn("failed to reap spawn", "spawn", sp.ID.Short(), "error", err)
		return false
	}
	if !applied {
		return false
	}
	if hasTrace {
		e.sealTrace(ctx, sp.ID, path)
	}
	e.bus.Clear(string(sp.ID))
	e.logger.Info("reaped spawn", "spawn", sp.ID.Short(), "agent", string(sp.AgentID))
	return true
}

// Reconcile clears leaked processes: done rows that still carry a pid,
// left behind by a crash between kill and bookkeeping. Live leftovers are
// killed outright; either way the pid comes off the row.
func (e *Engine) Reconcile(ctx context.Context) error {
	leaked, err := e.store.LeakedSpawns(ctx)
	if err != nil {
		return err
	}
	for _, sp := range leaked {
		if sp.PID == nil {
			continue
		}
		if processAlive(*sp.PID) {
			e.logger.Warn("killing leaked process", "spawn", sp.ID.Short(), "pid", *sp.PID)
			_ = signalGroup(*sp.PID, unix.SIGKILL)
		}
		if err := e.store.ClearPID(ctx, sp.ID); err != nil {
			e.logger.Warn("failed to clear pid", "spawn", sp.ID.Short(), "error", err)
		}
	}
	return nil
}
