// Package scheduler decides which agents wake up on each daemon tick.
//
// A tick only acts while the swarm is enabled and a concurrency slot is
// free. Crashed spawns with a live session get first claim on a slot;
// the rest are filled by drawing fresh agents without replacement,
// weighted so the agents that have run least today are favored. A
// failed launch puts its agent on a short backoff list and ends the
// tick, so one broken provider cannot burn every slot in a single pass.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/space/internal/config"
	"github.com/untoldecay/space/internal/provider"
	"github.com/untoldecay/space/internal/router"
	"github.com/untoldecay/space/internal/spawn"
	"github.com/untoldecay/space/internal/state"
	"github.com/untoldecay/space/internal/storage/sqlite"
	"github.com/untoldecay/space/internal/types"
)

const (
	// failureTTL is how long a failed launch keeps its agent out of
	// the draw.
	failureTTL = 5 * time.Minute

	// recencyWindow halves the weight of an agent spawned this
	// recently.
	recencyWindow = 300 * time.Second

	// resumeFetch bounds how many crashed spawns one tick examines
	// before giving up on the resume step.
	resumeFetch = 10

	// streamDomain is the insight domain whose open entries signal
	// fresh outside input waiting to be processed.
	streamDomain = "stream"
)

// Scheduler owns the spawn tick. Ticks arrive one at a time from the
// worker loop, so the draw source is not locked.
type Scheduler struct {
	store  *sqlite.Store
	cfg    *config.Service
	state  *state.Service
	router *router.Router
	engine *spawn.Engine
	reg    spawn.Registry
	logger *slog.Logger
	rnd    *rand.Rand
}

// New builds a Scheduler over the shared services. A nil logger
// discards.
func New(store *sqlite.Store, cfg *config.Service, st *state.Service, rt *router.Router, eng *spawn.Engine, reg spawn.Registry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		store:  store,
		cfg:    cfg,
		state:  st,
		router: rt,
		engine: eng,
		reg:    reg,
		logger: logger,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Tick runs one scheduling pass: the resume step, then the weighted
// pick. Errors from the ledger or config abort the pass; launch
// failures are recorded as backoff and swallowed.
func (s *Scheduler) Tick(ctx context.Context) error {
	snap := s.cfg.Current()
	if !snap.Swarm.Enabled {
		return nil
	}

	active, err := s.store.ActiveSovereignCount(ctx)
	if err != nil {
		return err
	}
	slots := snap.Swarm.Concurrency - active
	if slots <= 0 {
		s.recordSkip()
		return nil
	}

	resumed, stop, err := s.resume(ctx, snap)
	if err != nil || stop {
		return err
	}
	slots -= resumed
	if slots <= 0 {
		return nil
	}
	return s.pick(ctx, snap, slots)
}

// EnforceLimit disables the swarm once the spawn budget of the current
// session is spent, and reports whether it tripped. A config that was
// hand-enabled without an enabled_at stamp has no baseline to count
// from and is left alone.
func (s *Scheduler) EnforceLimit(ctx context.Context) (bool, error) {
	sw := s.cfg.Current().Swarm
	if !sw.Enabled || sw.Limit <= 0 || sw.EnabledAt.IsZero() {
		return false, nil
	}
	n, err := s.store.SpawnsSince(ctx, sw.EnabledAt)
	if err != nil {
		return false, err
	}
	if n < sw.Limit {
		return false, nil
	}
	if err := s.cfg.SetSwarmEnabled(false, 0); err != nil {
		return false, fmt.Errorf("failed to disable swarm: %w", err)
	}
	s.logger.Info("swarm spawn limit reached, disabling", "limit", sw.Limit, "spawns", n)
	return true, nil
}

// resume relaunches at most one crashed sovereign spawn per tick,
// reusing its captured session. The store already filters for the
// recognized crash errors, the single-retry budget, and an idle agent;
// what remains here is the swarm filter and provider availability. A
// launch failure stops the whole tick.
func (s *Scheduler) resume(ctx context.Context, snap config.Config) (launched int, stop bool, err error) {
	rows, err := s.store.ResumableSpawns(ctx, provider.ResumableErrors(), resumeFetch)
	if err != nil {
		return 0, false, err
	}
	for _, sp := range rows {
		agent, err := s.store.GetAgent(ctx, string(sp.AgentID))
		if err != nil {
			s.logger.Warn("resumable spawn has no agent row", "spawn", sp.ID, "error", err)
			continue
		}
		ok, err := s.admits(ctx, snap, agent)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			continue
		}
		if _, err := s.engine.Launch(ctx, spawn.LaunchRequest{Spawn: sp}); err != nil {
			s.noteFailure(agent.Handle, err)
			return 0, true, nil
		}
		s.logger.Info("resuming crashed spawn",
			"spawn", sp.ID, "agent", agent.Handle, "cause", sp.Error)
		return 1, false, nil
	}
	return 0, false, nil
}

// pick fills count slots with a weighted draw over the eligible agents
// and records the wave in the state file.
func (s *Scheduler) pick(ctx context.Context, snap config.Config, count int) error {
	cands, err := s.candidates(ctx, snap)
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		s.recordSkip()
		return nil
	}

	var handles []string
	for _, c := range s.draw(cands, count) {
		req := spawn.LaunchRequest{AgentRef: string(c.agent.ID)}
		if snap.Swarm.Project != "" {
			req.Instruction = fmt.Sprintf("Focus on the %s project.", snap.Swarm.Project)
		}
		if _, err := s.engine.Launch(ctx, req); err != nil {
			s.noteFailure(c.agent.Handle, err)
			break
		}
		handles = append(handles, c.agent.Handle)
	}
	if len(handles) == 0 {
		return nil
	}

	batch := state.Batch{
		ID:        uuid.NewString()[:8],
		Agents:    handles,
		StartedAt: time.Now().UTC(),
	}
	if err := s.state.RecordBatch(batch); err != nil {
		s.logger.Warn("failed to record launch batch", "error", err)
	}
	s.logger.Info("launched agents", "batch", batch.ID, "agents", handles)
	return nil
}

type candidate struct {
	agent  *types.Agent
	weight float64
}

// candidates lists the agents eligible for a fresh sovereign spawn this
// tick, each with its draw weight. The agent whose spawn finished last
// sits out one round, as does anyone on the failure backoff list or
// already running.
func (s *Scheduler) candidates(ctx context.Context, snap config.Config) ([]candidate, error) {
	typ := types.AgentAI
	agents, err := s.store.FetchAgents(ctx, types.AgentFilter{Type: &typ})
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, nil
	}

	lastID, err := s.store.LastFinishedAgent(ctx)
	if err != nil {
		return nil, err
	}
	failures, err := s.state.RecentFailures(failureTTL)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.SpawnCountsSince(ctx, startOfDay(time.Now()))
	if err != nil {
		return nil, err
	}
	maxToday := 0
	for _, n := range counts {
		if n > maxToday {
			maxToday = n
		}
	}
	streamPending, err := s.streamPending(ctx)
	if err != nil {
		return nil, err
	}

	var out []candidate
	for _, agent := range agents {
		if agent.ID == lastID {
			continue
		}
		if _, backedOff := failures[agent.Handle]; backedOff {
			continue
		}
		ok, err := s.admits(ctx, snap, agent)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		busy, err := s.store.AgentHasActiveSpawn(ctx, agent.ID)
		if err != nil {
			return nil, err
		}
		if busy {
			continue
		}
		w, err := s.weigh(ctx, snap, agent, counts[agent.ID], maxToday, streamPending)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{agent: agent, weight: w})
	}
	return out, nil
}

// admits applies the swarm filters and provider availability to one
// agent. A model the catalog cannot route counts as ineligible rather
// than failing the tick.
func (s *Scheduler) admits(ctx context.Context, snap config.Config, agent *types.Agent) (bool, error) {
	if agent.Archived() || !snap.Swarm.AllowsAgent(agent.Handle) {
		return false, nil
	}
	model, err := s.router.Resolve(ctx, agent)
	if err != nil {
		if types.KindOf(err) != types.KindUnknown {
			return false, nil
		}
		return false, err
	}
	if model == "" {
		return false, nil
	}
	prov, err := s.reg.ProviderFor(model)
	if err != nil {
		return false, nil
	}
	return snap.Swarm.AllowsProvider(prov), nil
}

// weigh scores one eligible agent for the draw:
//
//	fairness       (1 + (max_today - mine)/(max_today + 1))^2
//	inbox_mult     1.5 when anything in the agent's inbox is waiting
//	stream_mult    1.5 while an open stream insight exists
//	recency        0.5 when the agent spawned within the last 5 minutes
//	bias           the configured per-handle weight, default 1.0
func (s *Scheduler) weigh(ctx context.Context, snap config.Config, agent *types.Agent, mine, maxToday int, streamPending bool) (float64, error) {
	fairness := 1 + float64(maxToday-mine)/float64(maxToday+1)
	w := fairness * fairness

	waiting, err := s.store.InboxCount(ctx, agent.ID)
	if err != nil {
		return 0, err
	}
	if waiting > 0 {
		w *= 1.5
	}
	if streamPending {
		w *= 1.5
	}
	if agent.LastSpawnedAt != nil && time.Since(*agent.LastSpawnedAt) < recencyWindow {
		w *= 0.5
	}
	return w * snap.Swarm.Weight(agent.Handle), nil
}

// streamPending reports whether any open stream-domain insight is
// waiting.
func (s *Scheduler) streamPending(ctx context.Context) (bool, error) {
	open := true
	domain := streamDomain
	rows, err := s.store.FetchInsights(ctx, types.InsightFilter{Domain: &domain, Open: &open, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// draw selects up to count candidates without replacement, each pick
// proportional to the remaining weights. Weights are strictly positive
// by construction, so the cumulative walk always lands.
func (s *Scheduler) draw(cands []candidate, count int) []candidate {
	pool := append([]candidate(nil), cands...)
	if count > len(pool) {
		count = len(pool)
	}
	out := make([]candidate, 0, count)
	for len(out) < count {
		total := 0.0
		for _, c := range pool {
			total += c.weight
		}
		r := s.rnd.Float64() * total
		idx := len(pool) - 1
		for i, c := range pool {
			r -= c.weight
			if r < 0 {
				idx = i
				break
			}
		}
		out = append(out, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return out
}

// noteFailure puts handle on the backoff list so the next ticks skip
// it.
func (s *Scheduler) noteFailure(handle string, cause error) {
	s.logger.Warn("launch failed, backing off", "agent", handle, "error", cause)
	if err := s.state.RecordFailure(handle, time.Now()); err != nil {
		s.logger.Warn("failed to record launch failure", "agent", handle, "error", err)
	}
}

func (s *Scheduler) recordSkip() {
	if err := s.state.SetLastSkip(time.Now()); err != nil {
		s.logger.Warn("failed to record skipped tick", "error", err)
	}
}

// startOfDay floors t to UTC midnight, the fairness counting window.
func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
