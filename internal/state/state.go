// Package state persists the daemon's ephemeral scratch state in
// state.yaml under the state root: provider cooldowns, the blocked-provider
// notification set, the recent launch-failure map, and scheduler batch
// descriptors. The file is advisory and safe to delete; losing it costs at
// most a duplicate notification or an early retry.
//
// Every access takes a file lock on a sibling lock file so the daemon and
// concurrent CLI invocations never interleave read-modify-write cycles.
package state

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// Batch describes one scheduler launch wave.
type Batch struct {
	ID        string    `yaml:"id"`
	Agents    []string  `yaml:"agents"`
	StartedAt time.Time `yaml:"started_at"`
}

// State is the on-disk shape of state.yaml.
type State struct {
	// Cooldowns maps provider name to the wall-clock instant the block
	// lapses. Expired entries are pruned on every access.
	Cooldowns map[string]time.Time `yaml:"cooldowns,omitempty"`

	// Notified lists providers whose current cooldown has already been
	// announced in the ledger. Pruned together with the cooldown so the
	// next quota exhaustion announces again.
	Notified []string `yaml:"notified,omitempty"`

	// Failures maps agent handle to the last failed launch attempt.
	Failures map[string]time.Time `yaml:"failures,omitempty"`

	// LastSkip records the last tick the scheduler skipped for lack of
	// slots or eligible agents.
	LastSkip time.Time `yaml:"last_skip,omitempty"`

	// Batches keeps the most recent launch waves, newest last.
	Batches []Batch `yaml:"batches,omitempty"`

	// BackupMark is the total spawn count at the last ledger backup.
	BackupMark int64 `yaml:"backup_mark,omitempty"`
}

func (st *State) init() {
	if st.Cooldowns == nil {
		st.Cooldowns = map[string]time.Time{}
	}
	if st.Failures == nil {
		st.Failures = map[string]time.Time{}
	}
}

func (st *State) notifiedContains(provider string) bool {
	for _, p := range st.Notified {
		if p == provider {
			return true
		}
	}
	return false
}

func (st *State) removeNotified(provider string) {
	kept := st.Notified[:0]
	for _, p := range st.Notified {
		if p != provider {
			kept = append(kept, p)
		}
	}
	st.Notified = kept
}

// pruneExpired drops cooldowns whose expiry has passed, together with their
// notification markers.
func (st *State) pruneExpired(now time.Time) {
	for provider, expiry := range st.Cooldowns {
		if !expiry.After(now) {
			delete(st.Cooldowns, provider)
			st.removeNotified(provider)
		}
	}
}

// maxBatches bounds the batch history kept in the file.
const maxBatches = 20

// Service owns state.yaml. All methods are safe for concurrent use across
// goroutines and across processes.
type Service struct {
	path     string
	lockPath string
	logger   *slog.Logger

	mu sync.Mutex
}

// New builds a Service persisting to path. The file need not exist yet.
func New(path string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		path:     path,
		lockPath: path + ".lock",
		logger:   logger,
	}
}

// read loads and prunes the current state. A missing file yields a zero
// state; a corrupt file is discarded with a warning since the contents are
// ephemeral.
func (s *Service) read(now time.Time) (*State, error) {
	st := &State{}
	raw, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read state file: %w", err)
	default:
		if err := yaml.Unmarshal(raw, st); err != nil {
			s.logger.Warn("discarding corrupt state file", "path", s.path, "error", err)
			st = &State{}
		}
	}
	st.init()
	st.pruneExpired(now)
	return st, nil
}

func (s *Service) write(st *State) error {
	raw, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// update runs fn against the current state under an exclusive file lock and
// writes the result back.
func (s *Service) update(fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := flock.New(s.lockPath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	st, err := s.read(time.Now())
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return s.write(st)
}

// view runs fn against a pruned read-only copy under a shared file lock.
func (s *Service) view(fn func(st *State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := flock.New(s.lockPath)
	if err := lock.RLock(); err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	st, err := s.read(time.Now())
	if err != nil {
		return err
	}
	fn(st)
	return nil
}

// Snapshot returns a pruned copy of the whole state, for status output.
func (s *Service) Snapshot() (State, error) {
	var out State
	err := s.view(func(st *State) {
		out = *st
		out.Cooldowns = make(map[string]time.Time, len(st.Cooldowns))
		for k, v := range st.Cooldowns {
			out.Cooldowns[k] = v
		}
		out.Failures = make(map[string]time.Time, len(st.Failures))
		for k, v := range st.Failures {
			out.Failures[k] = v
		}
		out.Notified = append([]string(nil), st.Notified...)
		out.Batches = append([]Batch(nil), st.Batches...)
	})
	return out, err
}

// BlockProvider records a cooldown lapsing at until. An expiry in the past
// is a no-op beyond pruning.
func (s *Service) BlockProvider(provider string, until time.Time) error {
	return s.update(func(st *State) error {
		if until.After(time.Now()) {
			st.Cooldowns[provider] = until.UTC()
		}
		return nil
	})
}

// BlockProviderFor is the duration form of BlockProvider.
func (s *Service) BlockProviderFor(provider string, d time.Duration) error {
	return s.BlockProvider(provider, time.Now().Add(d))
}

// UnblockProvider clears a cooldown and its notification marker.
func (s *Service) UnblockProvider(provider string) error {
	return s.update(func(st *State) error {
		delete(st.Cooldowns, provider)
		st.removeNotified(provider)
		return nil
	})
}

// ProviderBlockedUntil reports the active cooldown expiry for provider, if
// any.
func (s *Service) ProviderBlockedUntil(provider string) (time.Time, bool, error) {
	var (
		until   time.Time
		blocked bool
	)
	err := s.view(func(st *State) {
		until, blocked = st.Cooldowns[provider]
	})
	return until, blocked, err
}

// ActiveCooldowns returns the pruned cooldown map.
func (s *Service) ActiveCooldowns() (map[string]time.Time, error) {
	out := map[string]time.Time{}
	err := s.view(func(st *State) {
		for k, v := range st.Cooldowns {
			out[k] = v
		}
	})
	return out, err
}

// MarkNotified records that provider's current cooldown has been announced.
// It reports whether the marker was newly set, which gates the one-shot
// ledger insight.
func (s *Service) MarkNotified(provider string) (bool, error) {
	first := false
	err := s.update(func(st *State) error {
		if st.notifiedContains(provider) {
			return nil
		}
		st.Notified = append(st.Notified, provider)
		first = true
		return nil
	})
	return first, err
}

// IsNotified reports whether provider's current cooldown has been announced.
func (s *Service) IsNotified(provider string) (bool, error) {
	var notified bool
	err := s.view(func(st *State) {
		notified = st.notifiedContains(provider)
	})
	return notified, err
}

// RecordFailure notes a failed launch attempt for handle at the given time.
func (s *Service) RecordFailure(handle string, at time.Time) error {
	return s.update(func(st *State) error {
		st.Failures[handle] = at.UTC()
		return nil
	})
}

// RecentFailures returns handles whose last failure is within ttl of now.
func (s *Service) RecentFailures(ttl time.Duration) (map[string]time.Time, error) {
	cutoff := time.Now().Add(-ttl)
	out := map[string]time.Time{}
	err := s.view(func(st *State) {
		for handle, at := range st.Failures {
			if at.After(cutoff) {
				out[handle] = at
			}
		}
	})
	return out, err
}

// ClearFailures empties the failure map. The daemon calls this on start so a
// restart never inherits a stale backoff.
func (s *Service) ClearFailures() error {
	return s.update(func(st *State) error {
		st.Failures = map[string]time.Time{}
		return nil
	})
}

// SetLastSkip records when the scheduler last skipped a tick.
func (s *Service) SetLastSkip(at time.Time) error {
	return s.update(func(st *State) error {
		st.LastSkip = at.UTC()
		return nil
	})
}

// RecordBatch appends a launch-wave descriptor, trimming history to the
// most recent entries.
func (s *Service) RecordBatch(b Batch) error {
	return s.update(func(st *State) error {
		st.Batches = append(st.Batches, b)
		if len(st.Batches) > maxBatches {
			st.Batches = st.Batches[len(st.Batches)-maxBatches:]
		}
		return nil
	})
}

// BackupMark returns the total spawn count recorded at the last backup.
func (s *Service) BackupMark() (int64, error) {
	var mark int64
	err := s.view(func(st *State) {
		mark = st.BackupMark
	})
	return mark, err
}

// SetBackupMark records the total spawn count after a backup completes.
func (s *Service) SetBackupMark(total int64) error {
	return s.update(func(st *State) error {
		st.BackupMark = total
		return nil
	})
}
