package daemon

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/untoldecay/space/internal/config"
)

// writePIDFile records pid as the single line of the daemon pid file.
func writePIDFile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// readPIDFile parses the single-line pid file. A missing or malformed
// file reads as no pid.
func readPIDFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// pidAlive reports whether pid answers signal 0. EPERM still means the
// process exists.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

// Running reports the supervisor's pid when the pid file names a live
// process. The pid file is the sole source of truth; a stale file whose
// process is gone reads as not running.
func Running(paths config.Paths) (int, bool) {
	pid, ok := readPIDFile(paths.DaemonPID())
	if !ok || !pidAlive(pid) {
		return 0, false
	}
	return pid, true
}

// Stop signals the running supervisor with SIGTERM and reports whether
// anything was running to stop.
func Stop(paths config.Paths) (int, bool, error) {
	pid, ok := Running(paths)
	if !ok {
		return 0, false, nil
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return pid, true, err
	}
	return pid, true, nil
}
