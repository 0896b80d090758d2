package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/untoldecay/space/internal/config"
)

// ErrAlreadyRunning reports that another supervisor holds the daemon
// lock. Callers treat it as success: the daemon the user wanted is up.
var ErrAlreadyRunning = errors.New("daemon already running")

const (
	respawnInitial = 2 * time.Second
	respawnMax     = 120 * time.Second

	// healthyUptime is how long a worker must live before a crash stops
	// counting against the backoff curve.
	healthyUptime = 10 * time.Second

	// stopGrace is how long a signalled worker gets to settle its
	// children before SIGKILL.
	stopGrace = 5 * time.Second
)

// Supervisor keeps exactly one worker process alive. It holds the
// daemon lock and pid file for its lifetime and respawns the worker on
// crash with exponential backoff.
type Supervisor struct {
	paths      config.Paths
	workerArgs []string
	out        io.Writer
	logger     *slog.Logger
}

// NewSupervisor builds a supervisor that re-execs the current binary
// with workerArgs and streams the worker's stderr to out.
func NewSupervisor(paths config.Paths, workerArgs []string, out io.Writer, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{paths: paths, workerArgs: workerArgs, out: out, logger: logger}
}

// Run supervises until SIGTERM, SIGINT, or context cancellation. A
// held lock returns ErrAlreadyRunning without touching the pid file.
func (s *Supervisor) Run(ctx context.Context) error {
	lock := flock.New(s.paths.DaemonLock())
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer func() { _ = lock.Unlock() }()

	if err := writePIDFile(s.paths.DaemonPID(), os.Getpid()); err != nil {
		return err
	}
	defer func() { _ = os.Remove(s.paths.DaemonPID()) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGINT)
	defer signal.Stop(sigCh)

	s.logger.Info("supervisor started", "pid", os.Getpid())
	bo := respawnBackoff()
	for {
		child, err := s.startWorker()
		if err != nil {
			return err
		}
		started := time.Now()
		exitCh := make(chan error, 1)
		go func() { exitCh <- child.Wait() }()

		select {
		case sig := <-sigCh:
			s.logger.Info("supervisor stopping", "signal", sig.String())
			s.stopWorker(child, exitCh)
			return nil
		case <-ctx.Done():
			s.stopWorker(child, exitCh)
			return ctx.Err()
		case err := <-exitCh:
			uptime := time.Since(started)
			if uptime >= healthyUptime {
				bo.Reset()
			}
			delay := bo.NextBackOff()
			s.logger.Warn("worker exited", "error", err, "uptime", uptime.Round(time.Millisecond), "respawn_in", delay.Round(time.Millisecond))
			select {
			case sig := <-sigCh:
				s.logger.Info("supervisor stopping", "signal", sig.String())
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

func (s *Supervisor) startWorker() (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(exe, s.workerArgs...)
	cmd.Env = os.Environ()
	cmd.Stderr = s.out
	if devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0); err == nil {
		cmd.Stdin = devNull
		cmd.Stdout = devNull
		defer func() { _ = devNull.Close() }()
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	s.logger.Info("worker started", "pid", cmd.Process.Pid)
	return cmd, nil
}

// stopWorker forwards SIGTERM, waits out the grace, then SIGKILLs.
func (s *Supervisor) stopWorker(child *exec.Cmd, exitCh <-chan error) {
	if child.Process == nil {
		return
	}
	_ = child.Process.Signal(unix.SIGTERM)
	select {
	case <-exitCh:
	case <-time.After(stopGrace):
		_ = child.Process.Kill()
		<-exitCh
	}
}

// respawnBackoff builds the crash-restart schedule. BackOff values are
// stateful; every supervisor gets a fresh one.
func respawnBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = respawnInitial
	bo.MaxInterval = respawnMax
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Detach re-execs the current binary with args as a session leader wired
// to /dev/null and returns its pid. The caller polls Running to confirm
// the supervisor took the lock.
func Detach(args []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	cmd := exec.Command(exe, args...)
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0); err == nil {
		cmd.Stdin = devNull
		cmd.Stdout = devNull
		cmd.Stderr = devNull
		defer func() { _ = devNull.Close() }()
	}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Reap the supervisor if it exits while we linger.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// WaitRunning polls for the pid file to name a live process, returning
// its pid or false after the deadline.
func WaitRunning(paths config.Paths, timeout time.Duration) (int, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pid, ok := Running(paths); ok {
			return pid, true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return Running(paths)
}
