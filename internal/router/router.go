// Package router decides whether a provider is currently usable.
//
// Availability combines two signals: persisted cooldowns, set when a
// vendor reports quota exhaustion and pruned as they expire, and a
// short-lived capacity cache fed by out-of-band probes of the vendor's
// usage API. Probe failures never block a launch; the router assumes a
// provider is available unless it has positive evidence otherwise.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/untoldecay/space/internal/config"
	"github.com/untoldecay/space/internal/provider"
	"github.com/untoldecay/space/internal/state"
	"github.com/untoldecay/space/internal/storage/sqlite"
	"github.com/untoldecay/space/internal/types"
)

const (
	// capacityTTL bounds how long one probe result is trusted.
	capacityTTL = 60 * time.Second

	// defaultCooldown applies when a quota error carries no parsable
	// reset duration.
	defaultCooldown = time.Hour

	// systemHandle names the ledger agent that authors daemon-side
	// entries such as the blocked-provider announcement.
	systemHandle = "space"
)

var quotaResetRe = regexp.MustCompile(`quota exhausted \(resets ([^)]+)\)`)

type capacityEntry struct {
	available bool
	checked   time.Time
}

// Router answers whether a provider can take another spawn right now.
// One instance is shared by the scheduler, the spawn engine, and the
// CLI; the capacity cache lives on the struct.
type Router struct {
	store  *sqlite.Store
	state  *state.Service
	cfg    *config.Service
	reg    *provider.Registry
	logger *slog.Logger

	mu     sync.Mutex
	cache  map[string]capacityEntry
	ttl    time.Duration
	probes map[string]Prober
}

// New builds a Router over the ledger, the cooldown state file, and the
// live config. A nil logger discards.
func New(store *sqlite.Store, st *state.Service, cfg *config.Service, reg *provider.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		store:  store,
		state:  st,
		cfg:    cfg,
		reg:    reg,
		logger: logger,
		cache:  make(map[string]capacityEntry),
		ttl:    capacityTTL,
		probes: map[string]Prober{
			types.ProviderClaude: claudeProbe{},
		},
	}
}

func knownProvider(prov string) bool {
	for _, p := range types.Providers() {
		if p == prov {
			return true
		}
	}
	return false
}

// Available reports whether prov can take a launch right now. An active
// cooldown wins over everything; otherwise the cached capacity verdict
// applies, refreshed by probe when stale.
func (r *Router) Available(ctx context.Context, prov string) (bool, error) {
	if !knownProvider(prov) {
		return false, types.Validationf("unknown provider %q", prov)
	}
	_, blocked, err := r.state.ProviderBlockedUntil(prov)
	if err != nil {
		return false, err
	}
	if blocked {
		return false, nil
	}
	return r.capacity(ctx, prov), nil
}

// Resolve returns the model to launch the agent with, or "" when the
// agent has no model or its provider is currently unavailable.
func (r *Router) Resolve(ctx context.Context, agent *types.Agent) (string, error) {
	if agent.Model == "" {
		return "", nil
	}
	prov, err := r.reg.ProviderFor(agent.Model)
	if err != nil {
		return "", err
	}
	ok, err := r.Available(ctx, prov)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return agent.Model, nil
}

// RecordProviderError inspects a canonical spawn error and, when it is
// quota exhaustion, places the provider on cooldown for the reset
// duration the vendor reported. Any other error text is ignored.
// Returns whether a cooldown was set.
func (r *Router) RecordProviderError(ctx context.Context, prov, text string) (bool, error) {
	if !knownProvider(prov) {
		return false, types.Validationf("unknown provider %q", prov)
	}
	if !provider.IsQuotaError(text) {
		return false, nil
	}
	d := defaultCooldown
	if m := quotaResetRe.FindStringSubmatch(text); m != nil {
		if parsed, err := time.ParseDuration(strings.TrimSuffix(m[1], ".")); err == nil && parsed > 0 {
			d = parsed
		}
	}
	if err := r.BlockProviderFor(ctx, prov, d); err != nil {
		return false, err
	}
	return true, nil
}

// BlockProviderFor imperatively places prov on cooldown and announces
// the block in the ledger, once per cooldown.
func (r *Router) BlockProviderFor(ctx context.Context, prov string, d time.Duration) error {
	if !knownProvider(prov) {
		return types.Validationf("unknown provider %q", prov)
	}
	if d <= 0 {
		return types.Validationf("cooldown duration must be positive")
	}
	if err := r.state.BlockProviderFor(prov, d); err != nil {
		return err
	}
	r.invalidate(prov)
	r.announce(ctx, prov, time.Now().Add(d))
	return nil
}

// Unblock lifts an active cooldown.
func (r *Router) Unblock(prov string) error {
	if !knownProvider(prov) {
		return types.Validationf("unknown provider %q", prov)
	}
	r.invalidate(prov)
	return r.state.UnblockProvider(prov)
}

// BlockedUntil reports the provider's cooldown expiry, if one is active.
func (r *Router) BlockedUntil(prov string) (time.Time, bool, error) {
	return r.state.ProviderBlockedUntil(prov)
}

// NeedsNotification reports whether the provider's current cooldown has
// not yet been announced, marking it announced in the same step.
func (r *Router) NeedsNotification(prov string) (bool, error) {
	return r.state.MarkNotified(prov)
}

func (r *Router) announce(ctx context.Context, prov string, until time.Time) {
	first, err := r.NeedsNotification(prov)
	if err != nil {
		r.logger.Warn("cooldown notification check failed", "provider", prov, "error", err)
		return
	}
	if !first {
		return
	}
	if err := r.insertCooldownInsight(ctx, prov, until); err != nil {
		r.logger.Warn("failed to announce provider cooldown", "provider", prov, "error", err)
	}
}

func (r *Router) insertCooldownInsight(ctx context.Context, prov string, until time.Time) error {
	agent, err := r.systemAgent(ctx)
	if err != nil {
		return err
	}
	project, err := r.store.GetProject(ctx, types.GlobalProject)
	if err != nil {
		return err
	}
	content := fmt.Sprintf("provider %s on cooldown until %s", prov, until.UTC().Format(time.RFC3339))
	_, err = r.store.CreateInsight(ctx, sqlite.CreateInsightArgs{
		ProjectID: project.ID,
		AgentID:   agent.ID,
		Domain:    "status",
		Content:   content,
	})
	return err
}

// systemAgent returns the agent that authors daemon-side ledger rows,
// creating it on first use.
func (r *Router) systemAgent(ctx context.Context) (*types.Agent, error) {
	agent, err := r.store.GetAgentByHandle(ctx, systemHandle)
	if err == nil {
		return agent, nil
	}
	if types.KindOf(err) != types.KindNotFound {
		return nil, err
	}
	agent, err = r.store.CreateAgent(ctx, systemHandle, types.AgentSystem, "", "")
	if types.KindOf(err) == types.KindConflict {
		return r.store.GetAgentByHandle(ctx, systemHandle)
	}
	return agent, err
}

// capacity returns the cached probe verdict for prov, refreshing it when
// older than the TTL. The probe runs outside the lock; a failed probe
// counts as available.
func (r *Router) capacity(ctx context.Context, prov string) bool {
	now := time.Now()
	r.mu.Lock()
	if ent, ok := r.cache[prov]; ok && now.Sub(ent.checked) < r.ttl {
		r.mu.Unlock()
		return ent.available
	}
	r.mu.Unlock()

	available := true
	if probe, ok := r.probes[prov]; ok {
		threshold := r.cfg.Current().Swarm.CapacityThreshold
		got, err := probe.Probe(ctx, threshold)
		if err != nil {
			r.logger.Warn("capacity probe failed", "provider", prov, "error", err)
		} else {
			available = got
			if !got {
				r.logger.Info("provider below capacity threshold",
					"provider", prov, "threshold", threshold)
			}
		}
	}

	r.mu.Lock()
	r.cache[prov] = capacityEntry{available: available, checked: now}
	r.mu.Unlock()
	return available
}

func (r *Router) invalidate(prov string) {
	r.mu.Lock()
	delete(r.cache, prov)
	r.mu.Unlock()
}
