// Package spawn runs vendor CLI processes on behalf of agents: it reserves
// the spawn row, frames the context, forks the CLI into its own session
// group, tails the trace while the process lives, and settles the row when
// the process exits, times out, or disappears.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/untoldecay/space/internal/config"
	"github.com/untoldecay/space/internal/eventbus"
	"github.com/untoldecay/space/internal/prompt"
	"github.com/untoldecay/space/internal/provider"
	"github.com/untoldecay/space/internal/router"
	"github.com/untoldecay/space/internal/storage/sqlite"
	"github.com/untoldecay/space/internal/trace"
	"github.com/untoldecay/space/internal/types"
)

// maxLaunchErr caps the error text recorded when a launch dies before the
// process is up.
const maxLaunchErr = 120

// Lifecycle notes the engine appends to the trace before vendor output.
const (
	noteStarting = "starting"
	noteResuming = "resuming"
)

// errLostRace means another launcher bound a pid to the row first. The
// loser kills its own child and walks away without touching the row.
var errLostRace = errors.New("another launcher bound the spawn first")

// identityFiles maps each provider to the memory file its CLI reads from
// the working directory.
var identityFiles = map[string]string{
	types.ProviderClaude: "CLAUDE.md",
	types.ProviderCodex:  "AGENTS.md",
	types.ProviderGemini: "GEMINI.md",
}

// Registry resolves models to vendor adapters. *provider.Registry
// implements it.
type Registry interface {
	ForModel(model string) (provider.Adapter, error)
	ProviderFor(model string) (string, error)
}

// Engine owns every child process this daemon forked. One engine per
// process; CLI one-shots build their own short-lived engine over the same
// store and rely on the row for coordination.
type Engine struct {
	store   *sqlite.Store
	cfg     *config.Service
	router  *router.Router
	bus     *eventbus.Bus
	prompts *prompt.Builder
	reg     Registry
	locator trace.Locator
	paths   config.Paths
	logger  *slog.Logger

	mu     sync.Mutex
	active map[types.SpawnID]*exec.Cmd
	locks  map[types.AgentID]*sync.Mutex

	hookMu sync.Mutex
	hooks  []CompletionHook

	wg sync.WaitGroup
}

// New wires an engine over the shared store. The logger may be nil.
func New(store *sqlite.Store, cfg *config.Service, rt *router.Router, bus *eventbus.Bus, reg Registry, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	prompts, err := prompt.NewBuilder(store)
	if err != nil {
		return nil, err
	}
	paths := cfg.Paths()
	return &Engine{
		store:   store,
		cfg:     cfg,
		router:  rt,
		bus:     bus,
		prompts: prompts,
		reg:     reg,
		locator: trace.NewLocator(paths),
		paths:   paths,
		logger:  logger,
		active:  map[types.SpawnID]*exec.Cmd{},
		locks:   map[types.AgentID]*sync.Mutex{},
	}, nil
}

// LaunchRequest names the agent to run and how to frame the spawn.
type LaunchRequest struct {
	// AgentRef is the agent's id, id prefix, or handle. Ignored when
	// Spawn is set; the row already knows its agent.
	AgentRef string

	// Spawn relaunches an existing row instead of reserving a new one. A
	// captured session id makes the relaunch a resume.
	Spawn *types.Spawn

	// Mode selects sovereign (the default) or directed.
	Mode types.SpawnMode

	// CallerSpawnID attributes the launch to the spawn that asked for it.
	CallerSpawnID *types.SpawnID

	// Instruction is extra framing added to the wake context, or the
	// message delivered into a resumed session.
	Instruction string

	// Skills are surfaced verbatim in the wake context.
	Skills []string

	// Images are file paths attached to the opening message where the
	// vendor supports them.
	Images []string

	// Dir overrides the working directory. The default is the agent's
	// own directory under the state root, where the identity files live.
	Dir string

	// Model overrides the agent's configured model.
	Model string

	// Timeout overrides the configured spawn timeout.
	Timeout time.Duration
}

// Launch runs one spawn for an agent and returns the row with its pid
// bound. The process keeps running after Launch returns; a monitor
// goroutine settles the row when it exits.
func (e *Engine) Launch(ctx context.Context, req LaunchRequest) (*types.Spawn, error) {
	agentRef := req.AgentRef
	var prior *types.Spawn
	if req.Spawn != nil {
		fresh, err := e.store.GetSpawn(ctx, string(req.Spawn.ID))
		if err != nil {
			return nil, err
		}
		prior = fresh
		agentRef = string(fresh.AgentID)
	}

	agent, err := e.store.GetAgent(ctx, agentRef)
	if err != nil {
		return nil, err
	}
	if agent.Archived() {
		return nil, types.Statef("agent %s is archived", agent.Handle)
	}
	if agent.Type != types.AgentAI {
		return nil, types.Validationf("agent %s is %s; only ai agents spawn", agent.Handle, agent.Type)
	}

	model := req.Model
	if model == "" {
		model = agent.Model
	}
	if model == "" {
		return nil, types.Validationf("agent %s has no model", agent.Handle)
	}
	adapter, err := e.reg.ForModel(model)
	if err != nil {
		return nil, err
	}
	prov, err := e.reg.ProviderFor(model)
	if err != nil {
		return nil, err
	}

	until, blocked, err := e.router.BlockedUntil(prov)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, types.Statef("provider %s is on cooldown until %s", prov, until.UTC().Format(time.RFC3339))
	}

	lock := e.agentLock(agent.ID)
	lock.Lock()
	defer lock.Unlock()

	var (
		sp     *types.Spawn
		resume bool
	)
	switch {
	case prior != nil:
		if prior.Status == types.SpawnActive && prior.PID != nil && processAlive(*prior.PID) {
			return nil, types.Statef("spawn s/%s is still running (pid %d)", prior.ID.Short(), *prior.PID)
		}
		if prior.Status == types.SpawnDone && prior.SessionID == "" {
			return nil, types.Statef("spawn s/%s has no session to resume", prior.ID.Short())
		}
		resume = prior.SessionID != ""
		if err := e.store.ReactivateSpawn(ctx, prior.ID, resume); err != nil {
			return nil, err
		}
		sp = prior
	case req.Mode == types.ModeDirected:
		sp, err = e.store.CreateDirectedSpawn(ctx, agent.ID, req.CallerSpawnID)
		if err != nil {
			return nil, err
		}
	default:
		var created bool
		sp, created, err = e.store.GetOrCreateSovereign(ctx, agent.ID, req.CallerSpawnID)
		if err != nil {
			return nil, err
		}
		if !created && sp.PID != nil && processAlive(*sp.PID) {
			return nil, types.Statef("agent %s already has a running spawn (s/%s)", agent.Handle, sp.ID.Short())
		}
	}

	if err := e.start(ctx, agent, sp, adapter, prov, model, resume, req); err != nil {
		if errors.Is(err, errLostRace) {
			return nil, types.Conflictf("spawn s/%s is already being launched", sp.ID.Short())
		}
		e.failLaunch(sp.ID, err)
		return nil, err
	}
	return e.store.GetSpawn(ctx, string(sp.ID))
}

// start performs the irreversible half of a launch: context framing,
// identity files, trace boundary, fork, pid binding, monitor. Any error
// before the pid wins leaves the row to failLaunch.
func (e *Engine) start(ctx context.Context, agent *types.Agent, sp *types.Spawn, adapter provider.Adapter, prov, model string, resume bool, req LaunchRequest) error {
	cfg := e.cfg.Current()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = cfg.SpawnTimeout
	}

	var contextText string
	if resume {
		contextText = prompt.Resume(req.Instruction)
	} else {
		var err error
		contextText, err = e.prompts.Wake(ctx, agent, req.Instruction, req.Skills)
		if err != nil {
			return err
		}
	}

	agentDir := e.paths.AgentDir(agent.Handle)
	if err := e.injectIdentity(agent, agentDir, prov); err != nil {
		return err
	}
	dir := req.Dir
	if dir == "" {
		dir = agentDir
	}

	if err := e.locator.EnsureProviderDir(prov); err != nil {
		return err
	}
	tracePath := e.locator.Path(prov, string(sp.ID))
	contextCase := trace.ContextWake
	note := noteStarting
	if resume {
		contextCase = trace.ContextResume
		note = noteResuming
	}
	if err := trace.Append(tracePath, trace.ContextInit(agent.Handle, contextCase)); err != nil {
		return err
	}
	if err := trace.Append(tracePath, trace.DaemonNote(agent.Handle, note)); err != nil {
		return err
	}

	creq := provider.CommandRequest{
		Model:   model,
		Context: contextText,
		Dir:     dir,
		Images:  req.Images,
	}
	if resume {
		creq.SessionID = sp.SessionID
	} else {
		creq.AssignSessionID = uuid.NewString()
	}
	cmd, err := adapter.BuildCommand(creq)
	if err != nil {
		return err
	}

	child := exec.Command(cmd.Argv[0], cmd.Argv[1:]...)
	child.Dir = dir
	child.Env = append(os.Environ(),
		"SPACE_SPAWN_ID="+string(sp.ID),
		"SPACE_AGENT="+agent.Handle,
		config.EnvStateRoot+"="+e.paths.Root,
		"GIT_CONFIG_GLOBAL="+filepath.Join(agentDir, ".gitconfig"),
	)
	// A fresh session group so killing the spawn takes its whole process
	// tree, and a daemon restart never orphans a half-killed group.
	child.SysProcAttr = &unix.SysProcAttr{Setsid: true}

	traceFile, err := os.OpenFile(tracePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open trace: %w", err)
	}
	stderrPath := e.locator.StderrPath(prov, string(sp.ID))
	stderrFile, err := os.Create(stderrPath)
	if err != nil {
		traceFile.Close()
		return fmt.Errorf("failed to open stderr sink: %w", err)
	}
	child.Stdout = traceFile
	child.Stderr = stderrFile

	if len(cmd.Stdin) > 0 {
		stdinPath := strings.TrimSuffix(tracePath, ".jsonl") + ".stdin"
		if err := os.WriteFile(stdinPath, cmd.Stdin, 0o600); err != nil {
			traceFile.Close()
			stderrFile.Close()
			return fmt.Errorf("failed to write stdin file: %w", err)
		}
		stdinFile, err := os.Open(stdinPath)
		if err != nil {
			traceFile.Close()
			stderrFile.Close()
			return fmt.Errorf("failed to open stdin file: %w", err)
		}
		defer stdinFile.Close()
		child.Stdin = stdinFile
	}

	err = child.Start()
	traceFile.Close()
	stderrFile.Close()
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Argv[0], err)
	}

	pid := child.Process.Pid
	won, err := e.store.BindPID(ctx, sp.ID, pid)
	if err != nil || !won {
		_ = signalGroup(pid, unix.SIGKILL)
		go func() { _ = child.Wait() }()
		if err != nil {
			return err
		}
		e.logger.Debug("lost pid binding race", "spawn", sp.ID.Short(), "pid", pid)
		return errLostRace
	}

	e.mu.Lock()
	e.active[sp.ID] = child
	e.mu.Unlock()

	if err := e.store.TouchLastSpawned(ctx, agent.ID); err != nil {
		e.logger.Warn("failed to touch last_spawned_at", "agent", agent.Handle, "error", err)
	}

	e.logger.Info("spawn started",
		"spawn", sp.ID.Short(),
		"agent", agent.Handle,
		"provider", prov,
		"model", model,
		"pid", pid,
		"resume", resume)

	e.wg.Add(1)
	go e.monitor(monitorArgs{
		spawnID:    sp.ID,
		agent:      agent.Handle,
		provider:   prov,
		adapter:    adapter,
		cmd:        child,
		tracePath:  tracePath,
		stderrPath: stderrPath,
		timeout:    timeout,
	})
	return nil
}

// injectIdentity writes the agent's git identity and the provider memory
// file into dir, removing memory files left by other providers.
func (e *Engine) injectIdentity(agent *types.Agent, dir, prov string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create agent dir: %w", err)
	}

	name := agent.IdentityName
	if name == "" {
		name = agent.Handle
	}
	gitconfig := fmt.Sprintf("[user]\n\tname = %s\n\temail = %s@space.local\n", name, agent.Handle)
	if err := os.WriteFile(filepath.Join(dir, ".gitconfig"), []byte(gitconfig), 0o644); err != nil {
		return fmt.Errorf("failed to write .gitconfig: %w", err)
	}

	identity := fmt.Sprintf("# %s\n\nYou are %s, one agent among several sharing a ledger.\nRead and write the ledger with the `space` CLI. Your git commits are\nattributed to %s.\n", agent.Handle, agent.Handle, name)
	for p, filename := range identityFiles {
		path := filepath.Join(dir, filename)
		if p != prov {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove stale %s: %w", filename, err)
			}
			continue
		}
		if err := os.WriteFile(path, []byte(identity), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", filename, err)
		}
	}
	return nil
}

// failLaunch settles a reserved row after a launch died before its process
// was up. Runs on a fresh context; the launch context may already be gone.
func (e *Engine) failLaunch(id types.SpawnID, cause error) {
	msg := cause.Error()
	if len(msg) > maxLaunchErr {
		msg = msg[:maxLaunchErr]
	}
	if _, err := e.store.FinishSpawn(context.Background(), id, "", msg); err != nil {
		e.logger.Warn("failed to record launch failure", "spawn", id.Short(), "error", err)
	}
}

func (e *Engine) agentLock(id types.AgentID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// sealTrace hash-chains the finished trace and records the result.
func (e *Engine) sealTrace(ctx context.Context, id types.SpawnID, path string) {
	hash, err := trace.ChainFile(path)
	if err != nil {
		e.logger.Warn("failed to hash trace", "spawn", id.Short(), "error", err)
		return
	}
	if err := e.store.SetTraceHash(ctx, id, hash); err != nil {
		e.logger.Warn("failed to record trace hash", "spawn", id.Short(), "error", err)
	}
}

// ActiveCount reports how many spawns this engine is monitoring.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Wait blocks until every monitor goroutine has settled its spawn.
func (e *Engine) Wait() { e.wg.Wait() }
