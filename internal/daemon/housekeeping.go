package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// staleStatusAge is how old an uncited status insight may grow before
// housekeeping prunes it.
const staleStatusAge = 72 * time.Hour

// decayHours is how long a human-blocked decision waits before decaying
// back to proposed.
const decayHours = 48

// housekeepIfDue runs the slow maintenance pass when its interval has
// elapsed. Each chore is independent; one failing never blocks the rest.
func (w *Worker) housekeepIfDue(ctx context.Context) {
	snap := w.cfg.Current()
	if time.Since(w.lastHousekeep) < snap.Housekeeping {
		return
	}
	w.lastHousekeep = time.Now()

	if n, err := w.store.PruneStaleStatusInsights(ctx, time.Now().Add(-staleStatusAge)); err != nil {
		w.logger.Warn("insight prune failed", "error", err)
	} else if n > 0 {
		w.logger.Info("pruned stale status insights", "count", n)
	}

	if n, err := w.store.ClearInertiaSummaries(ctx, snap.NoWorkPhrases); err != nil {
		w.logger.Warn("summary clear failed", "error", err)
	} else if n > 0 {
		w.logger.Info("cleared inertia summaries", "count", n)
	}

	if err := w.writeStats(ctx); err != nil {
		w.logger.Warn("stats write failed", "error", err)
	}

	if ids, err := w.store.DecayHumanBlocked(ctx, decayHours); err != nil {
		w.logger.Warn("decision decay failed", "error", err)
	} else if len(ids) > 0 {
		w.logger.Info("decayed human-blocked decisions", "decisions", ids)
	}
}

// writeStats publishes ledger totals as a JSON file other tooling can
// poll without opening the database. The write is atomic so readers
// never see a torn file.
func (w *Worker) writeStats(ctx context.Context) error {
	stats, err := w.store.Stats(ctx)
	if err != nil {
		return err
	}
	path := w.cfg.Current().StatsJSONPath
	if path == "" {
		path = w.cfg.Paths().StatsJSON()
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
