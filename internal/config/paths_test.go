package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRootEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvStateRoot, dir)

	root, err := DefaultRoot()
	if err != nil {
		t.Fatalf("DefaultRoot: %v", err)
	}
	if root != dir {
		t.Errorf("root = %q, want %q from %s", root, dir, EnvStateRoot)
	}
}

func TestDefaultRootFallsBackToHome(t *testing.T) {
	t.Setenv(EnvStateRoot, "")

	root, err := DefaultRoot()
	if err != nil {
		t.Fatalf("DefaultRoot: %v", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir: %v", err)
	}
	if root != filepath.Join(home, ".space") {
		t.Errorf("root = %q, want ~/.space", root)
	}
}

func TestPathsLayout(t *testing.T) {
	p := Paths{Root: "/srv/space"}

	cases := []struct {
		got, want string
	}{
		{p.Database(), "/srv/space/space.db"},
		{p.ConfigYAML(), "/srv/space/config.yaml"},
		{p.StateYAML(), "/srv/space/state.yaml"},
		{p.DaemonLock(), "/srv/space/daemon.lock"},
		{p.DaemonPID(), "/srv/space/daemon.pid"},
		{p.DaemonLog(), "/srv/space/logs/daemon.log"},
		{p.StatsJSON(), "/srv/space/stats.json"},
		{p.SpawnsDir("claude"), "/srv/space/spawns/claude"},
		{p.LegacySpawnsDir(), "/srv/space/spawns"},
		{p.AgentDir("ada"), "/srv/space/agents/ada"},
		{p.BackupsDir(), "/srv/space-backups"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("path = %q, want %q", tc.got, tc.want)
		}
	}
}

func TestEnsureLayout(t *testing.T) {
	p := Paths{Root: filepath.Join(t.TempDir(), "state")}
	if err := p.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	for _, dir := range []string{p.Root, p.LogsDir(), p.LegacySpawnsDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("missing %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}
