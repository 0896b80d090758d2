package router

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/space/internal/config"
	"github.com/untoldecay/space/internal/provider"
	"github.com/untoldecay/space/internal/state"
	"github.com/untoldecay/space/internal/storage/sqlite"
	"github.com/untoldecay/space/internal/types"
)

type routerEnv struct {
	t      *testing.T
	ctx    context.Context
	store  *sqlite.Store
	router *Router
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	store, err := sqlite.New(ctx, filepath.Join(dir, "space.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("failed to close store: %v", cerr)
		}
	})

	cfg, err := config.New(config.Paths{Root: dir}, nil)
	if err != nil {
		t.Fatalf("failed to build config service: %v", err)
	}
	t.Cleanup(func() { cfg.Close() })

	reg, err := provider.NewRegistry()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	st := state.New(filepath.Join(dir, "state.yaml"), nil)
	r := New(store, st, cfg, reg, nil)
	// Tests install their own probes; the real ones reach the network.
	r.probes = map[string]Prober{}

	return &routerEnv{t: t, ctx: ctx, store: store, router: r}
}

func (e *routerEnv) mustAvailable(prov string) bool {
	e.t.Helper()
	ok, err := e.router.Available(e.ctx, prov)
	if err != nil {
		e.t.Fatalf("Available(%s): %v", prov, err)
	}
	return ok
}

func (e *routerEnv) statusInsights() []string {
	e.t.Helper()
	domain := "status"
	insights, err := e.store.FetchInsights(e.ctx, types.InsightFilter{Domain: &domain})
	if err != nil {
		e.t.Fatalf("failed to fetch insights: %v", err)
	}
	var contents []string
	for _, in := range insights {
		contents = append(contents, in.Content)
	}
	return contents
}

type fakeProbe struct {
	available bool
	err       error
	calls     int
	threshold float64
}

func (p *fakeProbe) Probe(ctx context.Context, threshold float64) (bool, error) {
	p.calls++
	p.threshold = threshold
	return p.available, p.err
}

func TestAvailableByDefault(t *testing.T) {
	env := newRouterEnv(t)
	for _, prov := range types.Providers() {
		if !env.mustAvailable(prov) {
			t.Errorf("provider %s should be available with no cooldowns or probes", prov)
		}
	}
}

func TestUnknownProviderRejected(t *testing.T) {
	env := newRouterEnv(t)
	_, err := env.router.Available(env.ctx, "openai")
	if types.KindOf(err) != types.KindValidation {
		t.Fatalf("expected validation error for unknown provider, got %v", err)
	}
	if err := env.router.BlockProviderFor(env.ctx, "openai", time.Hour); types.KindOf(err) != types.KindValidation {
		t.Fatalf("expected validation error from block, got %v", err)
	}
}

func TestCooldownBlocksProvider(t *testing.T) {
	env := newRouterEnv(t)
	if err := env.router.BlockProviderFor(env.ctx, types.ProviderClaude, 30*time.Minute); err != nil {
		t.Fatalf("failed to block: %v", err)
	}
	if env.mustAvailable(types.ProviderClaude) {
		t.Fatal("claude should be blocked")
	}
	if !env.mustAvailable(types.ProviderCodex) {
		t.Fatal("codex should be unaffected")
	}

	until, blocked, err := env.router.BlockedUntil(types.ProviderClaude)
	if err != nil || !blocked {
		t.Fatalf("expected active cooldown, blocked=%v err=%v", blocked, err)
	}
	want := time.Now().Add(30 * time.Minute)
	if until.Before(want.Add(-time.Minute)) || until.After(want.Add(time.Minute)) {
		t.Errorf("cooldown expiry %v not near %v", until, want)
	}

	if err := env.router.Unblock(types.ProviderClaude); err != nil {
		t.Fatalf("failed to unblock: %v", err)
	}
	if !env.mustAvailable(types.ProviderClaude) {
		t.Fatal("claude should be available after unblock")
	}
}

func TestRecordProviderErrorParsesReset(t *testing.T) {
	env := newRouterEnv(t)

	blocked, err := env.router.RecordProviderError(env.ctx, types.ProviderCodex, "rate limited")
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if blocked {
		t.Fatal("a plain rate-limit error should not set a cooldown")
	}

	blocked, err = env.router.RecordProviderError(env.ctx, types.ProviderCodex, "quota exhausted (resets 2h30m)")
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !blocked {
		t.Fatal("quota error should set a cooldown")
	}
	until, ok, err := env.router.BlockedUntil(types.ProviderCodex)
	if err != nil || !ok {
		t.Fatalf("expected cooldown, ok=%v err=%v", ok, err)
	}
	want := time.Now().Add(2*time.Hour + 30*time.Minute)
	if until.Before(want.Add(-time.Minute)) || until.After(want.Add(time.Minute)) {
		t.Errorf("cooldown expiry %v not near %v", until, want)
	}
}

func TestRecordProviderErrorUnparsableResetUsesDefault(t *testing.T) {
	env := newRouterEnv(t)
	blocked, err := env.router.RecordProviderError(env.ctx, types.ProviderGemini, "quota exhausted (resets soonish)")
	if err != nil || !blocked {
		t.Fatalf("expected default cooldown, blocked=%v err=%v", blocked, err)
	}
	until, _, err := env.router.BlockedUntil(types.ProviderGemini)
	if err != nil {
		t.Fatalf("blocked until: %v", err)
	}
	want := time.Now().Add(defaultCooldown)
	if until.Before(want.Add(-time.Minute)) || until.After(want.Add(time.Minute)) {
		t.Errorf("cooldown expiry %v not near default %v", until, want)
	}
}

func TestCooldownAnnouncedOncePerCooldown(t *testing.T) {
	env := newRouterEnv(t)

	for i := 0; i < 3; i++ {
		if _, err := env.router.RecordProviderError(env.ctx, types.ProviderClaude, "quota exhausted (resets 1h)"); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	contents := env.statusInsights()
	if len(contents) != 1 {
		t.Fatalf("expected one announcement, got %d: %v", len(contents), contents)
	}
	if !strings.Contains(contents[0], "provider claude on cooldown until") {
		t.Errorf("unexpected announcement content: %q", contents[0])
	}

	// A fresh cooldown after the old one is lifted announces again.
	if err := env.router.Unblock(types.ProviderClaude); err != nil {
		t.Fatalf("unblock failed: %v", err)
	}
	if _, err := env.router.RecordProviderError(env.ctx, types.ProviderClaude, "quota exhausted (resets 1h)"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if contents = env.statusInsights(); len(contents) != 2 {
		t.Fatalf("expected a second announcement, got %d", len(contents))
	}

	agent, err := env.store.GetAgentByHandle(env.ctx, systemHandle)
	if err != nil {
		t.Fatalf("system agent missing: %v", err)
	}
	if agent.Type != types.AgentSystem {
		t.Errorf("announcement author type = %s, want system", agent.Type)
	}
}

func TestCapacityProbeCachedUntilTTL(t *testing.T) {
	env := newRouterEnv(t)
	probe := &fakeProbe{available: false}
	env.router.probes[types.ProviderClaude] = probe

	if env.mustAvailable(types.ProviderClaude) {
		t.Fatal("probe said below threshold, provider should be unavailable")
	}
	if env.mustAvailable(types.ProviderClaude) {
		t.Fatal("cached verdict should still be unavailable")
	}
	if probe.calls != 1 {
		t.Fatalf("probe ran %d times within TTL, want 1", probe.calls)
	}
	if probe.threshold != 10.0 {
		t.Errorf("probe threshold = %v, want the configured default 10", probe.threshold)
	}

	env.router.ttl = 0
	probe.available = true
	if !env.mustAvailable(types.ProviderClaude) {
		t.Fatal("expired cache should re-probe and see recovery")
	}
	if probe.calls != 2 {
		t.Fatalf("probe ran %d times after TTL expiry, want 2", probe.calls)
	}
}

func TestProbeErrorAssumesAvailable(t *testing.T) {
	env := newRouterEnv(t)
	env.router.probes[types.ProviderClaude] = &fakeProbe{available: false, err: errors.New("probe down")}
	if !env.mustAvailable(types.ProviderClaude) {
		t.Fatal("probe errors must not block the provider")
	}
}

func TestBlockInvalidatesCapacityCache(t *testing.T) {
	env := newRouterEnv(t)
	probe := &fakeProbe{available: true}
	env.router.probes[types.ProviderClaude] = probe

	if !env.mustAvailable(types.ProviderClaude) {
		t.Fatal("expected available")
	}
	if err := env.router.BlockProviderFor(env.ctx, types.ProviderClaude, time.Hour); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	if err := env.router.Unblock(types.ProviderClaude); err != nil {
		t.Fatalf("unblock failed: %v", err)
	}
	if !env.mustAvailable(types.ProviderClaude) {
		t.Fatal("expected available after unblock")
	}
	if probe.calls != 2 {
		t.Fatalf("block/unblock should drop the cache entry, probe ran %d times, want 2", probe.calls)
	}
}

func TestResolve(t *testing.T) {
	env := newRouterEnv(t)

	ai, err := env.store.CreateAgent(env.ctx, "ada", types.AgentAI, "claude-sonnet-4-5", "")
	if err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}
	human, err := env.store.CreateAgent(env.ctx, "boss", types.AgentHuman, "", "")
	if err != nil {
		t.Fatalf("failed to create human: %v", err)
	}

	model, err := env.router.Resolve(env.ctx, ai)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if model != "claude-sonnet-4-5" {
		t.Errorf("resolve = %q, want the configured model", model)
	}

	model, err = env.router.Resolve(env.ctx, human)
	if err != nil || model != "" {
		t.Errorf("model-less agent should resolve to empty, got %q err=%v", model, err)
	}

	if err := env.router.BlockProviderFor(env.ctx, types.ProviderClaude, time.Hour); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	model, err = env.router.Resolve(env.ctx, ai)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if model != "" {
		t.Errorf("blocked provider should resolve to empty, got %q", model)
	}

	ai.Model = "mystery-model"
	if _, err := env.router.Resolve(env.ctx, ai); types.KindOf(err) != types.KindNotFound {
		t.Errorf("unroutable model should fail with not-found, got %v", err)
	}
}

func TestRatelimitPercentages(t *testing.T) {
	h := http.Header{}
	h.Set("Anthropic-Ratelimit-Requests-Remaining", "50")
	h.Set("Anthropic-Ratelimit-Requests-Limit", "100")
	h.Set("Anthropic-Ratelimit-Input-Tokens-Remaining", "9")
	h.Set("Anthropic-Ratelimit-Input-Tokens-Limit", "1000")
	h.Set("Anthropic-Ratelimit-Requests-Reset", "2026-01-01T00:00:00Z")
	h.Set("Anthropic-Ratelimit-Orphan-Remaining", "7") // no limit header

	got := ratelimitPercentages(h)
	if len(got) != 2 {
		t.Fatalf("expected 2 buckets, got %v", got)
	}
	if got["requests"] != 50 {
		t.Errorf("requests = %v, want 50", got["requests"])
	}
	if got["input-tokens"] != 0.9 {
		t.Errorf("input-tokens = %v, want 0.9", got["input-tokens"])
	}
}
