package daemon

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/untoldecay/space/internal/config"
)

// RollingWriter returns the sink for daemon log output: a size-capped
// rolling file under logs/ so a chatty swarm cannot fill the disk.
func RollingWriter(paths config.Paths) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   paths.DaemonLog(),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
}

// NewLogger builds the daemon's structured logger on w. JSON keeps the
// rolling file machine-parseable for `space daemon logs`.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
