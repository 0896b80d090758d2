package spawn

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// processAlive reports whether pid answers signal 0. EPERM still means
// the process exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

// signalGroup signals the spawn's whole session group, falling back to
// the single process when the group is already gone.
func signalGroup(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}

// killWithGrace sends SIGTERM, waits up to grace for the process to go,
// then SIGKILLs survivors.
func killWithGrace(pid int, grace time.Duration) {
	if pid <= 0 {
		return
	}
	_ = signalGroup(pid, unix.SIGTERM)
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if processAlive(pid) {
		_ = signalGroup(pid, unix.SIGKILL)
	}
}

// exitStatus extracts a shell-convention exit code from cmd.Wait's error:
// 0 on success, 128+signal for signal deaths, -1 when the process never
// ran.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return -1
	}
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ee.ExitCode()
}
