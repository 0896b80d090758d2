package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is an immutable snapshot of the daemon configuration. Callers get a
// fresh snapshot from Service.Current on every tick; a snapshot never changes
// under them.
type Config struct {
	Swarm           Swarm
	Email           Email
	Backup          Backup
	DefaultIdentity string
	StatsJSONPath   string
	LogLevel        string

	Tick           time.Duration
	Housekeeping   time.Duration
	SpawnTimeout   time.Duration
	ReapGrace      time.Duration
	TerminateGrace time.Duration

	// NoWorkPhrases are matched case-insensitively against spawn summaries
	// during housekeeping; matching summaries are cleared so they never roll
	// into the next prompt.
	NoWorkPhrases []string
}

// Swarm holds the autonomous-scheduling block of config.yaml.
type Swarm struct {
	Enabled           bool
	Limit             int // 0 means no limit
	EnabledAt         time.Time
	Concurrency       int
	Agents            []string
	Providers         []string
	Weights           map[string]float64
	CapacityThreshold float64 // percent of quota remaining below which a provider is skipped
	Project           string
}

// AllowsAgent reports whether the swarm agent filter admits handle. An empty
// filter admits every agent.
func (sw Swarm) AllowsAgent(handle string) bool {
	if len(sw.Agents) == 0 {
		return true
	}
	for _, h := range sw.Agents {
		if h == handle {
			return true
		}
	}
	return false
}

// AllowsProvider reports whether the swarm provider filter admits provider.
// An empty filter admits every provider.
func (sw Swarm) AllowsProvider(provider string) bool {
	if len(sw.Providers) == 0 {
		return true
	}
	for _, p := range sw.Providers {
		if p == provider {
			return true
		}
	}
	return false
}

// Weight returns the configured selection bias for handle. Unlisted handles
// and non-positive entries weigh 1.0.
func (sw Swarm) Weight(handle string) float64 {
	if w, ok := sw.Weights[handle]; ok && w > 0 {
		return w
	}
	return 1.0
}

// Email holds delivery settings for capacity notifications.
type Email struct {
	APIKey   string
	FromAddr string
}

// Backup controls periodic ledger snapshots.
type Backup struct {
	SpawnsPerBackup int
}

// SlogLevel maps the configured log_level to a slog.Level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Service reads config.yaml under the state root and hands out Config
// snapshots. The snapshot is rebuilt when the file changes on disk, detected
// either by an fsnotify event or by a modification-time check on access.
type Service struct {
	paths  Paths
	logger *slog.Logger

	mu      sync.Mutex
	v       *viper.Viper
	snap    Config
	mtime   time.Time
	hadFile bool

	dirty atomic.Bool

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// New builds a Service rooted at paths and loads the initial snapshot. A
// missing config.yaml is not an error; defaults apply and the swarm stays
// off. A present but malformed file is an error.
func New(paths Paths, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(paths.ConfigYAML())

	// Environment variables take precedence over the config file,
	// e.g. SPACE_SWARM_CONCURRENCY, SPACE_LOG_LEVEL.
	v.SetEnvPrefix("SPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	s := &Service{paths: paths, logger: logger, v: v}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	s.watch()
	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("swarm.enabled", false)
	v.SetDefault("swarm.limit", 0)
	v.SetDefault("swarm.concurrency", 1)
	v.SetDefault("swarm.capacity_threshold", 10.0)
	v.SetDefault("swarm.project", "")

	v.SetDefault("email.api_key", "")
	v.SetDefault("email.from_addr", "space-daemon@localhost")

	v.SetDefault("backup.spawns_per_backup", 20)

	v.SetDefault("default_identity", "")
	v.SetDefault("stats_json_path", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("tick", "2s")
	v.SetDefault("housekeeping_interval", "60s")
	v.SetDefault("spawn_timeout", "30m")
	v.SetDefault("reap_grace", "30s")
	v.SetDefault("terminate_grace", "2s")

	v.SetDefault("no_work_phrases", []string{
		"no new work",
		"nothing to do",
		"no pending work",
		"no outstanding work",
		"all caught up",
	})
}

// Current returns the active configuration, rereading config.yaml first when
// it changed on disk since the last snapshot. A failed reread keeps the
// previous snapshot and logs a warning rather than wedging the daemon.
func (s *Service) Current() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty.Swap(false) || s.fileChanged() {
		if err := s.load(); err != nil {
			s.logger.Warn("failed to reload config, keeping previous settings",
				"path", s.paths.ConfigYAML(), "error", err)
		}
	}
	return s.snap
}

// Reload forces a reread of config.yaml regardless of modification time.
func (s *Service) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// fileChanged reports whether config.yaml appeared, disappeared, or has a
// different modification time than the loaded snapshot. Caller holds s.mu.
func (s *Service) fileChanged() bool {
	info, err := os.Stat(s.paths.ConfigYAML())
	if err != nil {
		return s.hadFile
	}
	return !s.hadFile || !info.ModTime().Equal(s.mtime)
}

// load rereads the file and rebuilds the snapshot. Caller holds s.mu.
func (s *Service) load() error {
	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", s.paths.ConfigYAML(), err)
		}
	}

	snap := Config{
		Email: Email{
			APIKey:   s.v.GetString("email.api_key"),
			FromAddr: s.v.GetString("email.from_addr"),
		},
		Backup: Backup{
			SpawnsPerBackup: s.v.GetInt("backup.spawns_per_backup"),
		},
		DefaultIdentity: s.v.GetString("default_identity"),
		StatsJSONPath:   s.v.GetString("stats_json_path"),
		LogLevel:        s.v.GetString("log_level"),
		Tick:            s.v.GetDuration("tick"),
		Housekeeping:    s.v.GetDuration("housekeeping_interval"),
		SpawnTimeout:    s.v.GetDuration("spawn_timeout"),
		ReapGrace:       s.v.GetDuration("reap_grace"),
		TerminateGrace:  s.v.GetDuration("terminate_grace"),
		NoWorkPhrases:   s.v.GetStringSlice("no_work_phrases"),
	}

	sw := Swarm{
		Enabled:           s.v.GetBool("swarm.enabled"),
		Limit:             s.v.GetInt("swarm.limit"),
		EnabledAt:         s.v.GetTime("swarm.enabled_at"),
		Concurrency:       s.v.GetInt("swarm.concurrency"),
		Agents:            s.v.GetStringSlice("swarm.agents"),
		Providers:         s.v.GetStringSlice("swarm.providers"),
		CapacityThreshold: s.v.GetFloat64("swarm.capacity_threshold"),
		Project:           s.v.GetString("swarm.project"),
	}
	if sw.Concurrency < 1 {
		sw.Concurrency = 1
	}
	weights := map[string]float64{}
	if err := s.v.UnmarshalKey("swarm.weights", &weights); err != nil {
		s.logger.Warn("ignoring malformed swarm.weights", "error", err)
		weights = map[string]float64{}
	}
	sw.Weights = weights
	snap.Swarm = sw

	if info, err := os.Stat(s.paths.ConfigYAML()); err == nil {
		s.mtime = info.ModTime()
		s.hadFile = true
	} else {
		s.mtime = time.Time{}
		s.hadFile = false
	}
	s.snap = snap
	return nil
}

// watch subscribes to filesystem events for the state root so config edits
// take effect before the next mtime poll. Editors and atomic writers replace
// the file rather than writing in place, so the watch is on the directory and
// events are filtered by name. When no watcher can be established the mtime
// check in Current remains the only trigger.
func (s *Service) watch() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("config watcher unavailable, relying on modification times", "error", err)
		return
	}
	if err := w.Add(s.paths.Root); err != nil {
		s.logger.Warn("cannot watch state root, relying on modification times",
			"dir", s.paths.Root, "error", err)
		w.Close()
		return
	}

	s.watcher = w
	s.watchDone = make(chan struct{})
	go func() {
		defer close(s.watchDone)
		target := s.paths.ConfigYAML()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					s.dirty.Store(true)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("config watcher error", "error", err)
			}
		}
	}()
}

// Paths returns the state root layout this service reads from.
func (s *Service) Paths() Paths { return s.paths }

// Close stops the filesystem watcher, if one was established.
func (s *Service) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	<-s.watchDone
	return err
}

// SetSwarmEnabled rewrites the swarm block of config.yaml in place, leaving
// unrelated keys untouched, then reloads the snapshot. Enabling records
// enabled_at and the optional spawn limit; disabling keeps enabled_at as a
// record of the last session.
func (s *Service) SetSwarmEnabled(enabled bool, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.paths.ConfigYAML()
	doc := map[string]any{}
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	sw, _ := doc["swarm"].(map[string]any)
	if sw == nil {
		sw = map[string]any{}
	}
	sw["enabled"] = enabled
	if enabled {
		sw["enabled_at"] = time.Now().UTC().Format(time.RFC3339)
		if limit > 0 {
			sw["limit"] = limit
		} else {
			delete(sw, "limit")
		}
	}
	doc["swarm"] = sw

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return s.load()
}

// Identity resolves the handle an interactive command acts as.
// Priority chain:
//  1. flagValue (from --as)
//  2. default_identity from config.yaml / SPACE_DEFAULT_IDENTITY
//  3. git config user.name
//  4. hostname
func (s *Service) Identity(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if id := s.Current().DefaultIdentity; id != "" {
		return id
	}

	cmd := exec.Command("git", "config", "user.name")
	if output, err := cmd.Output(); err == nil {
		if gitUser := strings.TrimSpace(string(output)); gitUser != "" {
			return gitUser
		}
	}

	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}

	return "unknown"
}
