package spawn

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/untoldecay/space/internal/config"
	"github.com/untoldecay/space/internal/eventbus"
	"github.com/untoldecay/space/internal/provider"
	"github.com/untoldecay/space/internal/router"
	"github.com/untoldecay/space/internal/state"
	"github.com/untoldecay/space/internal/storage/sqlite"
	"github.com/untoldecay/space/internal/trace"
	"github.com/untoldecay/space/internal/types"
)

// fakeAdapter launches plain shell commands and reads canonical JSON
// lines straight off the trace.
type fakeAdapter struct {
	name  string
	build func(req provider.CommandRequest) (provider.Command, error)

	mu   sync.Mutex
	reqs []provider.CommandRequest
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) BuildCommand(req provider.CommandRequest) (provider.Command, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.build(req)
}

func (f *fakeAdapter) lastRequest(t *testing.T) provider.CommandRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		t.Fatal("no command was built")
	}
	return f.reqs[len(f.reqs)-1]
}

func (f *fakeAdapter) NormalizeEvent(raw []byte, agent string, tools provider.ToolMap) []trace.Event {
	var ev trace.Event
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
		return nil
	}
	if ev.Agent == "" {
		ev.Agent = agent
	}
	return []trace.Event{ev}
}

func (f *fakeAdapter) SessionCapture(raw []byte) (string, bool) {
	var line struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &line); err != nil || line.SessionID == "" {
		return "", false
	}
	return line.SessionID, true
}

func (f *fakeAdapter) ParseUsage(string) (trace.Usage, error) { return trace.Usage{}, nil }
func (f *fakeAdapter) InputTokensFromEvent([]byte) int64      { return 0 }

type fakeRegistry struct {
	mu      sync.Mutex
	prov    string
	adapter *fakeAdapter
}

func (f *fakeRegistry) ForModel(model string) (provider.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adapter == nil {
		return nil, types.NotFoundf("no adapter installed")
	}
	return f.adapter, nil
}

func (f *fakeRegistry) ProviderFor(model string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prov, nil
}

type engineEnv struct {
	t      *testing.T
	ctx    context.Context
	root   string
	store  *sqlite.Store
	cfg    *config.Service
	bus    *eventbus.Bus
	reg    *fakeRegistry
	router *router.Router
	engine *Engine
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()
	root := t.TempDir()
	paths := config.Paths{Root: root}
	if err := paths.EnsureLayout(); err != nil {
		t.Fatalf("failed to lay out state root: %v", err)
	}
	ctx := context.Background()

	store, err := sqlite.New(ctx, paths.Database())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("failed to close store: %v", cerr)
		}
	})

	cfg, err := config.New(paths, nil)
	if err != nil {
		t.Fatalf("failed to build config service: %v", err)
	}
	t.Cleanup(func() { cfg.Close() })

	realReg, err := provider.NewRegistry()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	st := state.New(paths.StateYAML(), nil)
	rt := router.New(store, st, cfg, realReg, nil)

	reg := &fakeRegistry{prov: types.ProviderClaude}
	bus := eventbus.New()
	engine, err := New(store, cfg, rt, bus, reg, nil)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	env := &engineEnv{
		t:      t,
		ctx:    ctx,
		root:   root,
		store:  store,
		cfg:    cfg,
		bus:    bus,
		reg:    reg,
		router: rt,
		engine: engine,
	}
	env.script("true")
	return env
}

// install makes a the active adapter for every model.
func (env *engineEnv) install(a *fakeAdapter) *fakeAdapter {
	env.reg.mu.Lock()
	env.reg.adapter = a
	env.reg.mu.Unlock()
	return a
}

// script installs an adapter whose vendor CLI is /bin/sh running script.
func (env *engineEnv) script(script string) *fakeAdapter {
	return env.install(&fakeAdapter{
		name: env.reg.prov,
		build: func(req provider.CommandRequest) (provider.Command, error) {
			return provider.Command{Argv: []string{"/bin/sh", "-c", script}}, nil
		},
	})
}

func (env *engineEnv) createAgent(handle string) *types.Agent {
	env.t.Helper()
	agent, err := env.store.CreateAgent(env.ctx, handle, types.AgentAI, "claude-sonnet-4-5", "")
	if err != nil {
		env.t.Fatalf("failed to create agent: %v", err)
	}
	return agent
}

func (env *engineEnv) getSpawn(id types.SpawnID) *types.Spawn {
	env.t.Helper()
	sp, err := env.store.GetSpawn(env.ctx, string(id))
	if err != nil {
		env.t.Fatalf("failed to fetch spawn: %v", err)
	}
	return sp
}

// waitIdle blocks until every monitor has settled its spawn.
func (env *engineEnv) waitIdle() {
	env.t.Helper()
	done := make(chan struct{})
	go func() {
		env.engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		env.t.Fatal("engine did not settle in time")
	}
}

func TestLaunchRunsToCompletion(t *testing.T) {
	env := newEngineEnv(t)
	env.createAgent("ada")
	env.script(`echo '{"session_id":"sess-1"}'; echo '{"type":"text","text":"did the thing"}'`)

	sp, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"})
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	if sp.Status != types.SpawnActive || sp.PID == nil {
		t.Fatalf("launch did not return a live row: %+v", sp)
	}
	if sp.Mode != types.ModeSovereign {
		t.Fatalf("mode = %s, want sovereign", sp.Mode)
	}
	env.waitIdle()

	got := env.getSpawn(sp.ID)
	if got.Status != types.SpawnDone {
		t.Fatalf("status = %s, want done", got.Status)
	}
	if got.Error != "" {
		t.Fatalf("error = %q, want empty", got.Error)
	}
	if got.SessionID != "sess-1" {
		t.Fatalf("session = %q, want sess-1", got.SessionID)
	}
	if got.Summary != "did the thing" {
		t.Fatalf("summary = %q, want auto-fill from the last text event", got.Summary)
	}
	if got.PID != nil {
		t.Fatalf("pid should clear on finish, got %d", *got.PID)
	}
	if !got.Resumable() {
		t.Fatal("clean spawn with a session should be resumable")
	}

	path, ok := trace.NewLocator(config.Paths{Root: env.root}).Find(string(sp.ID))
	if !ok {
		t.Fatal("trace file missing")
	}
	if got.TraceHash == "" {
		t.Fatal("trace hash not sealed")
	}
	if err := trace.VerifyFile(path, got.TraceHash); err != nil {
		t.Fatalf("sealed hash does not verify: %v", err)
	}
}

func TestLaunchContextAndEnvironment(t *testing.T) {
	env := newEngineEnv(t)
	env.createAgent("ada")
	adapter := env.script(`[ -n "$SPACE_SPAWN_ID" ] || exit 9; printf '{"type":"text","text":"%s"}\n' "$SPACE_AGENT"`)

	sp, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada", Instruction: "check the backlog"})
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	env.waitIdle()

	got := env.getSpawn(sp.ID)
	if got.Error != "" {
		t.Fatalf("error = %q (exit 9 means the spawn env was missing)", got.Error)
	}
	if got.Summary != "ada" {
		t.Fatalf("summary = %q, want the agent handle read from the child env", got.Summary)
	}

	req := adapter.lastRequest(t)
	if !strings.Contains(req.Context, "# projects") {
		t.Fatalf("wake context missing projects block:\n%s", req.Context)
	}
	if !strings.Contains(req.Context, "check the backlog") {
		t.Fatal("wake context missing the instruction")
	}
	if req.AssignSessionID == "" {
		t.Fatal("fresh launch should pre-assign a session id")
	}
	if req.SessionID != "" {
		t.Fatalf("fresh launch should not resume, got session %q", req.SessionID)
	}
	agentDir := config.Paths{Root: env.root}.AgentDir("ada")
	if req.Dir != agentDir {
		t.Fatalf("dir = %q, want the agent dir %q", req.Dir, agentDir)
	}
}

func TestLaunchWritesIdentityFiles(t *testing.T) {
	env := newEngineEnv(t)
	if _, err := env.store.CreateAgent(env.ctx, "ada", types.AgentAI, "claude-sonnet-4-5", "Ada Lovelace"); err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}

	if _, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"}); err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	env.waitIdle()

	dir := config.Paths{Root: env.root}.AgentDir("ada")
	gitconfig, err := os.ReadFile(filepath.Join(dir, ".gitconfig"))
	if err != nil {
		t.Fatalf("missing .gitconfig: %v", err)
	}
	for _, want := range []string{"name = Ada Lovelace", "email = ada@space.local"} {
		if !strings.Contains(string(gitconfig), want) {
			t.Fatalf(".gitconfig missing %q:\n%s", want, gitconfig)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "CLAUDE.md")); err != nil {
		t.Fatalf("missing CLAUDE.md: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "AGENTS.md")); !os.IsNotExist(err) {
		t.Fatal("AGENTS.md should not exist for a claude spawn")
	}

	// Moving the agent to codex swaps the memory file.
	env.reg.mu.Lock()
	env.reg.prov = types.ProviderCodex
	env.reg.mu.Unlock()
	if _, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"}); err != nil {
		t.Fatalf("second launch failed: %v", err)
	}
	env.waitIdle()

	if _, err := os.Stat(filepath.Join(dir, "AGENTS.md")); err != nil {
		t.Fatalf("missing AGENTS.md after provider switch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "CLAUDE.md")); !os.IsNotExist(err) {
		t.Fatal("stale CLAUDE.md should be removed on provider switch")
	}
}

func TestLaunchRejectsIneligibleAgents(t *testing.T) {
	env := newEngineEnv(t)

	if _, err := env.store.CreateAgent(env.ctx, "grace", types.AgentHuman, "", ""); err != nil {
		t.Fatalf("failed to create human: %v", err)
	}
	_, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "grace"})
	if types.KindOf(err) != types.KindValidation {
		t.Fatalf("human agent: err = %v, want validation", err)
	}

	_, err = env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "nobody"})
	if types.KindOf(err) != types.KindNotFound {
		t.Fatalf("unknown agent: err = %v, want not found", err)
	}

	env.createAgent("ada")
	if err := env.store.ArchiveAgent(env.ctx, "ada"); err != nil {
		t.Fatalf("failed to archive agent: %v", err)
	}
	_, err = env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"})
	if types.KindOf(err) != types.KindState {
		t.Fatalf("archived agent: err = %v, want state", err)
	}
}

func TestSovereignUniqueWhileRunning(t *testing.T) {
	env := newEngineEnv(t)
	env.createAgent("ada")
	env.script("sleep 30")

	sp, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"})
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	_, err = env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"})
	if types.KindOf(err) != types.KindState {
		t.Fatalf("second sovereign launch: err = %v, want state", err)
	}

	// Directed spawns are not bound by sovereign uniqueness.
	directed, err := env.engine.Launch(env.ctx, LaunchRequest{
		AgentRef:      "ada",
		Mode:          types.ModeDirected,
		CallerSpawnID: &sp.ID,
	})
	if err != nil {
		t.Fatalf("directed launch failed: %v", err)
	}
	if directed.Mode != types.ModeDirected {
		t.Fatalf("mode = %s, want directed", directed.Mode)
	}
	if directed.CallerSpawnID == nil || *directed.CallerSpawnID != sp.ID {
		t.Fatal("caller spawn not recorded")
	}

	if _, err := env.engine.Terminate(env.ctx, string(sp.ID)); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	if _, err := env.engine.Terminate(env.ctx, string(directed.ID)); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	env.waitIdle()
}

func TestResumeRelaunch(t *testing.T) {
	env := newEngineEnv(t)
	env.createAgent("ada")
	env.script(`echo '{"session_id":"sess-r"}'; echo '{"type":"text","text":"first pass"}'`)

	sp, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"})
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	env.waitIdle()
	done := env.getSpawn(sp.ID)
	if !done.Resumable() {
		t.Fatalf("setup: spawn not resumable: %s/%q", done.Status, done.Error)
	}

	adapter := env.script(`echo '{"type":"text","text":"picked it back up"}'`)
	resumed, err := env.engine.Launch(env.ctx, LaunchRequest{Spawn: done})
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.ID != done.ID {
		t.Fatal("resume must reuse the row")
	}
	if resumed.ResumeCount != 1 {
		t.Fatalf("resume_count = %d, want 1", resumed.ResumeCount)
	}
	env.waitIdle()

	req := adapter.lastRequest(t)
	if req.SessionID != "sess-r" {
		t.Fatalf("resume used session %q, want sess-r", req.SessionID)
	}
	if req.AssignSessionID != "" {
		t.Fatal("resume must not assign a fresh session")
	}
	if !strings.HasPrefix(req.Context, "<system-reminder>") {
		t.Fatalf("resume context not framed:\n%s", req.Context)
	}

	final := env.getSpawn(sp.ID)
	if final.Status != types.SpawnDone || final.Error != "" {
		t.Fatalf("resumed run = %s/%q", final.Status, final.Error)
	}
	// The summary from the first pass stands until the agent replaces it.
	if final.Summary != "first pass" {
		t.Fatalf("summary = %q, want the earlier summary kept", final.Summary)
	}
}

func TestRelaunchGuards(t *testing.T) {
	env := newEngineEnv(t)
	env.createAgent("ada")
	env.script("sleep 30")

	running, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"})
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	_, err = env.engine.Launch(env.ctx, LaunchRequest{Spawn: running})
	if types.KindOf(err) != types.KindState {
		t.Fatalf("relaunch of live spawn: err = %v, want state", err)
	}
	if _, err := env.engine.Terminate(env.ctx, string(running.ID)); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	env.waitIdle()

	// Terminated without a session: nothing to resume.
	deadRow := env.getSpawn(running.ID)
	_, err = env.engine.Launch(env.ctx, LaunchRequest{Spawn: deadRow})
	if types.KindOf(err) != types.KindState {
		t.Fatalf("resume without session: err = %v, want state", err)
	}
}

func TestQuotaFailurePutsProviderOnCooldown(t *testing.T) {
	env := newEngineEnv(t)
	env.createAgent("ada")
	env.script(`echo 'rate limit exceeded, try later' >&2; exit 1`)

	sp, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"})
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	env.waitIdle()

	got := env.getSpawn(sp.ID)
	if got.Error != provider.ErrRateLimited {
		t.Fatalf("error = %q, want %q", got.Error, provider.ErrRateLimited)
	}
	if _, blocked, err := env.router.BlockedUntil(types.ProviderClaude); err != nil || !blocked {
		t.Fatalf("provider should be on cooldown after a quota failure (blocked=%v err=%v)", blocked, err)
	}

	// And the next launch is refused outright.
	_, err = env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"})
	if types.KindOf(err) != types.KindState {
		t.Fatalf("launch during cooldown: err = %v, want state", err)
	}
}

func TestWorkedSpawnSurvivesExitError(t *testing.T) {
	env := newEngineEnv(t)
	env.createAgent("ada")
	env.script(`echo '{"type":"text","text":"shipped the fix"}'; exit 4`)

	sp, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"})
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	env.waitIdle()

	got := env.getSpawn(sp.ID)
	if got.Error != "" {
		t.Fatalf("error = %q; the exit code should be forgiven after real work", got.Error)
	}
	if got.Summary != "shipped the fix" {
		t.Fatalf("summary = %q", got.Summary)
	}
}

func TestPlainFailureKeepsStderrTail(t *testing.T) {
	env := newEngineEnv(t)
	env.createAgent("ada")
	env.script(`echo 'config file corrupt' >&2; exit 2`)

	sp, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"})
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	env.waitIdle()

	got := env.getSpawn(sp.ID)
	if got.Error != "config file corrupt" {
		t.Fatalf("error = %q, want the stderr tail", got.Error)
	}
	if got.Resumable() {
		t.Fatal("free-form failures are not resumable")
	}
}

func TestLaunchModelOverride(t *testing.T) {
	env := newEngineEnv(t)
	env.createAgent("ada")
	adapter := env.script("true")

	if _, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada", Model: "claude-opus-4-1"}); err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	env.waitIdle()
	if req := adapter.lastRequest(t); req.Model != "claude-opus-4-1" {
		t.Fatalf("model = %q, want the override", req.Model)
	}
}

func TestStdinMaterialized(t *testing.T) {
	env := newEngineEnv(t)
	env.createAgent("ada")
	env.install(&fakeAdapter{
		name: types.ProviderClaude,
		build: func(req provider.CommandRequest) (provider.Command, error) {
			return provider.Command{
				Argv:  []string{"/bin/sh", "-c", "cat"},
				Stdin: []byte(`{"type":"text","text":"came in on stdin"}` + "\n"),
			}, nil
		},
	})

	sp, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"})
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	env.waitIdle()

	got := env.getSpawn(sp.ID)
	if got.Summary != "came in on stdin" {
		t.Fatalf("summary = %q; stdin did not reach the child", got.Summary)
	}
	tracePath := trace.NewLocator(config.Paths{Root: env.root}).Path(types.ProviderClaude, string(sp.ID))
	stdinPath := strings.TrimSuffix(tracePath, ".jsonl") + ".stdin"
	if _, err := os.Stat(stdinPath); err != nil {
		t.Fatalf("stdin file not materialized: %v", err)
	}
}

type recordingHook struct {
	mu    sync.Mutex
	calls []Output
	rows  []*types.Spawn
	fail  bool
}

func (h *recordingHook) OnComplete(_ context.Context, sp *types.Spawn, out Output) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, out)
	h.rows = append(h.rows, sp)
	if h.fail {
		return errors.New("hook exploded")
	}
	return nil
}

func TestCompletionHooks(t *testing.T) {
	env := newEngineEnv(t)
	env.createAgent("ada")
	env.script(`echo '{"type":"text","text":"done and dusted"}'`)

	failing := &recordingHook{fail: true}
	recording := &recordingHook{}
	env.engine.AddHook(failing)
	env.engine.AddHook(recording)

	if _, err := env.engine.Launch(env.ctx, LaunchRequest{AgentRef: "ada"}); err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	env.waitIdle()

	recording.mu.Lock()
	defer recording.mu.Unlock()
	if len(recording.calls) != 1 {
		t.Fatalf("hook calls = %d, want 1", len(recording.calls))
	}
	if recording.calls[0].Error != "" || recording.calls[0].TimedOut {
		t.Fatalf("hook saw %+v, want a clean completion", recording.calls[0])
	}
	if recording.rows[0].Status != types.SpawnDone {
		t.Fatalf("hook saw status %s, want done", recording.rows[0].Status)
	}

	failing.mu.Lock()
	defer failing.mu.Unlock()
	if len(failing.calls) != 1 {
		t.Fatal("a failing hook must not stop the others, and must still run")
	}
}
