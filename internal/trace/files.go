package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/untoldecay/space/internal/config"
	"github.com/untoldecay/space/internal/types"
)

// Locator resolves trace file locations under the state root.
type Locator struct {
	paths config.Paths
}

// NewLocator builds a Locator over paths.
func NewLocator(paths config.Paths) Locator {
	return Locator{paths: paths}
}

// Path is where a spawn's trace lives in the provider-segmented layout.
func (l Locator) Path(provider, spawnID string) string {
	return filepath.Join(l.paths.SpawnsDir(provider), spawnID+".jsonl")
}

// StderrPath is the sibling file capturing the vendor CLI's stderr.
func (l Locator) StderrPath(provider, spawnID string) string {
	return filepath.Join(l.paths.SpawnsDir(provider), spawnID+".stderr")
}

// Find locates an existing trace for spawnID, checking each provider
// directory and then the legacy flat layout.
func (l Locator) Find(spawnID string) (string, bool) {
	for _, provider := range types.Providers() {
		p := l.Path(provider, spawnID)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	legacy := filepath.Join(l.paths.LegacySpawnsDir(), spawnID+".jsonl")
	if _, err := os.Stat(legacy); err == nil {
		return legacy, true
	}
	return "", false
}

// EnsureProviderDir creates the spawn directory for provider.
func (l Locator) EnsureProviderDir(provider string) error {
	dir := l.paths.SpawnsDir(provider)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// Append writes ev as one JSONL line at the end of path, creating the
// file if needed. The vendor CLI appends to the same file afterwards.
func Append(path string, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode trace event: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("failed to append trace event: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}
