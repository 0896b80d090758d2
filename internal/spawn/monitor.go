package spawn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/untoldecay/space/internal/provider"
	"github.com/untoldecay/space/internal/trace"
	"github.com/untoldecay/space/internal/types"
)

// monitorPoll is how often the tail loop drains new trace lines.
const monitorPoll = time.Second

// maxAutoSummary caps summaries auto-filled from trace text.
const maxAutoSummary = 280

type monitorArgs struct {
	spawnID    types.SpawnID
	agent      string
	provider   string
	adapter    provider.Adapter
	cmd        *exec.Cmd
	tracePath  string
	stderrPath string
	timeout    time.Duration
}

// progress accumulates what the tail loop has seen so far.
type progress struct {
	session      string
	producedWork bool
	lastText     string
}

// monitor owns a running spawn from fork to settled row. It tails the
// trace, captures the vendor session id, keeps last_active_at fresh, and
// classifies the exit.
func (e *Engine) monitor(args monitorArgs) {
	defer e.wg.Done()
	ctx := context.Background()

	waitCh := make(chan error, 1)
	go func() { waitCh <- args.cmd.Wait() }()

	tailer := trace.NewTailer(args.tracePath)
	tools := provider.ToolMap{}
	prog := &progress{}
	deadline := time.Now().Add(args.timeout)

	ticker := time.NewTicker(monitorPoll)
	defer ticker.Stop()

	var waitErr error
	timedOut := false

loop:
	for {
		select {
		case waitErr = <-waitCh:
			break loop
		case <-ticker.C:
			e.drainTrace(ctx, args, tailer, tools, prog)
			if time.Now().After(deadline) {
				timedOut = true
				e.logger.Warn("spawn timed out", "spawn", args.spawnID.Short(), "agent", args.agent, "timeout", args.timeout)
				killWithGrace(args.cmd.Process.Pid, e.cfg.Current().TerminateGrace)
				waitErr = <-waitCh
				break loop
			}
		}
	}

	// Catch anything written between the last poll and exit.
	e.drainTrace(ctx, args, tailer, tools, prog)

	e.mu.Lock()
	delete(e.active, args.spawnID)
	e.mu.Unlock()

	e.finalize(ctx, args, prog, timedOut, waitErr)
}

// drainTrace feeds new trace lines through the adapter: session capture,
// liveness touches, and canonical events onto the bus.
func (e *Engine) drainTrace(ctx context.Context, args monitorArgs, tailer *trace.Tailer, tools provider.ToolMap, prog *progress) {
	lines, err := tailer.Next()
	if err != nil {
		e.logger.Warn("trace tail failed", "spawn", args.spawnID.Short(), "error", err)
		return
	}

	touched := false
	for _, raw := range lines {
		if id, ok := args.adapter.SessionCapture(raw); ok && id != prog.session {
			if err := e.store.CaptureSession(ctx, args.spawnID, id); err != nil {
				e.logger.Warn("failed to capture session", "spawn", args.spawnID.Short(), "error", err)
			} else {
				prog.session = id
			}
		}
		for _, ev := range args.adapter.NormalizeEvent(raw, args.agent, tools) {
			switch ev.Type {
			case trace.EventText:
				if ev.Text != "" {
					prog.lastText = ev.Text
				}
				prog.producedWork = true
				touched = true
			case trace.EventToolCall:
				prog.producedWork = true
				touched = true
			}
			e.bus.Publish(string(args.spawnID), ev)
		}
	}
	if touched {
		if err := e.store.TouchSpawnActive(ctx, args.spawnID); err != nil {
			e.logger.Warn("failed to touch spawn", "spawn", args.spawnID.Short(), "error", err)
		}
	}
}

// finalize settles the row for an exited or timed-out process: derive the
// error, feed quota errors to the router, auto-fill the summary, seal the
// trace, and run completion hooks.
func (e *Engine) finalize(ctx context.Context, args monitorArgs, prog *progress, timedOut bool, waitErr error) {
	status := exitStatus(waitErr)

	var token string
	sessionInvalid := false
	switch {
	case timedOut:
		token = provider.ErrTimeout
	case status == 0:
		token = ""
	default:
		stderrTail, rerr := os.ReadFile(args.stderrPath)
		if rerr != nil && !os.IsNotExist(rerr) {
			e.logger.Warn("failed to read stderr", "spawn", args.spawnID.Short(), "error", rerr)
		}
		token, sessionInvalid = provider.DeriveStderrError(string(stderrTail))
		if token == "" {
			if status == 143 {
				token = provider.ErrTerminated
			} else {
				token = fmt.Sprintf("exit status %d", status)
			}
		}
	}

	if sessionInvalid {
		if err := e.store.ClearSession(ctx, args.spawnID); err != nil {
			e.logger.Warn("failed to clear session", "spawn", args.spawnID.Short(), "error", err)
		}
	}
	if provider.IsQuotaError(token) {
		if _, err := e.router.RecordProviderError(ctx, args.provider, token); err != nil {
			e.logger.Warn("failed to record provider error", "provider", args.provider, "error", err)
		}
	}

	// A spawn that did real work and then tripped on the way out still
	// counts as a completed run. Quota exhaustion and timeouts do not.
	if !timedOut && token != "" && prog.producedWork && !provider.IsQuotaError(token) {
		e.logger.Info("ignoring exit error after completed work", "spawn", args.spawnID.Short(), "error", token)
		token = ""
	}

	summaryArg := ""
	if prog.lastText != "" {
		if row, err := e.store.GetSpawn(ctx, string(args.spawnID)); err == nil && row.Summary == "" {
			summaryArg = clipSummary(prog.lastText)
		}
	}

	applied, err := e.store.FinishSpawn(ctx, args.spawnID, summaryArg, token)
	if err != nil {
		e.logger.Error("failed to finish spawn", "spawn", args.spawnID.Short(), "error", err)
	} else if !applied {
		e.logger.Debug("spawn already settled elsewhere", "spawn", args.spawnID.Short())
	}

	e.sealTrace(ctx, args.spawnID, args.tracePath)
	e.bus.Clear(string(args.spawnID))
	e.runHooks(ctx, args.spawnID, Output{TimedOut: timedOut, ExitStatus: status, Error: token})

	e.logger.Info("spawn finished",
		"spawn", args.spawnID.Short(),
		"agent", args.agent,
		"exit", status,
		"error", token,
		"timed_out", timedOut)
}

// clipSummary keeps auto-filled summaries to one line of sane length.
func clipSummary(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	r := []rune(text)
	if len(r) > maxAutoSummary {
		text = string(r[:maxAutoSummary-3]) + "..."
	}
	return text
}

// lastTraceText replays a trace from the top and returns the final text
// event, for summaries of spawns no monitor was watching.
func lastTraceText(adapter provider.Adapter, agent, path string) string {
	lines, err := trace.NewTailer(path).Next()
	if err != nil {
		return ""
	}
	tools := provider.ToolMap{}
	last := ""
	for _, raw := range lines {
		for _, ev := range adapter.NormalizeEvent(raw, agent, tools) {
			if ev.Type == trace.EventText && ev.Text != "" {
				last = ev.Text
			}
		}
	}
	return last
}
