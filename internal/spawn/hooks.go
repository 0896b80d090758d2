package spawn

import (
	"context"

	"github.com/untoldecay/space/internal/types"
)

// Output is what a completion hook learns about a finished spawn beyond
// the row itself.
type Output struct {
	TimedOut   bool
	ExitStatus int
	Error      string
}

// CompletionHook runs after a monitored spawn settles. Hook errors are
// logged and swallowed; they never touch the spawn row.
type CompletionHook interface {
	OnComplete(ctx context.Context, sp *types.Spawn, out Output) error
}

// AddHook registers a completion hook.
func (e *Engine) AddHook(h CompletionHook) {
	e.hookMu.Lock()
	e.hooks = append(e.hooks, h)
	e.hookMu.Unlock()
}

func (e *Engine) runHooks(ctx context.Context, id types.SpawnID, out Output) {
	e.hookMu.Lock()
	hooks := make([]CompletionHook, len(e.hooks))
	copy(hooks, e.hooks)
	e.hookMu.Unlock()
	if len(hooks) == 0 {
		return
	}

	sp, err := e.store.GetSpawn(ctx, string(id))
	if err != nil {
		e.logger.Warn("completion hooks skipped", "spawn", id.Short(), "error", err)
		return
	}
	for _, h := range hooks {
		if err := h.OnComplete(ctx, sp, out); err != nil {
			e.logger.Warn("completion hook failed", "spawn", id.Short(), "error", err)
		}
	}
}
