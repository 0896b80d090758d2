package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvStateRoot overrides the default ~/.space state root.
const EnvStateRoot = "SPACE_DOT_SPACE"

// DefaultRoot resolves the state root: $SPACE_DOT_SPACE when set,
// otherwise ~/.space.
func DefaultRoot() (string, error) {
	if v := os.Getenv(EnvStateRoot); v != "" {
		abs, err := filepath.Abs(v)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", EnvStateRoot, err)
		}
		return abs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".space"), nil
}

// Paths lays out the state root. Everything the daemon and CLI touch on
// disk hangs off one of these.
type Paths struct {
	Root string
}

func (p Paths) Database() string   { return filepath.Join(p.Root, "space.db") }
func (p Paths) ConfigYAML() string { return filepath.Join(p.Root, "config.yaml") }
func (p Paths) StateYAML() string  { return filepath.Join(p.Root, "state.yaml") }
func (p Paths) DaemonLock() string { return filepath.Join(p.Root, "daemon.lock") }
func (p Paths) DaemonPID() string  { return filepath.Join(p.Root, "daemon.pid") }
func (p Paths) LogsDir() string    { return filepath.Join(p.Root, "logs") }
func (p Paths) DaemonLog() string  { return filepath.Join(p.LogsDir(), "daemon.log") }
func (p Paths) StatsJSON() string  { return filepath.Join(p.Root, "stats.json") }

// SpawnsDir holds per-provider trace directories.
func (p Paths) SpawnsDir(provider string) string {
	return filepath.Join(p.Root, "spawns", provider)
}

// LegacySpawnsDir is the flat pre-provider layout, still read for old
// traces.
func (p Paths) LegacySpawnsDir() string {
	return filepath.Join(p.Root, "spawns")
}

// AgentDir is the per-agent working directory the vendor CLI runs in
// when a spawn has no project checkout.
func (p Paths) AgentDir(handle string) string {
	return filepath.Join(p.Root, "agents", handle)
}

// BackupsDir lives next to, not inside, the state root so a backup never
// recurses into itself.
func (p Paths) BackupsDir() string {
	return filepath.Join(filepath.Dir(p.Root), filepath.Base(p.Root)+"-backups")
}

// EnsureLayout creates the directories the daemon expects.
func (p Paths) EnsureLayout() error {
	for _, dir := range []string{p.Root, p.LogsDir(), p.LegacySpawnsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
