package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	apperrors "github.com/nyasuto/hive/internal/common/errors"
)

// Pidfile handling for `beehive daemon`. The daemon writes its pid on start;
// stop/status/restart read it back. A stale pidfile (process gone) is
// overwritten silently.

// WritePIDFile records the current process id, refusing when another live
// daemon already holds the file.
func WritePIDFile(path string) error {
	if pid, running := PIDFileRunning(path); running {
		return apperrors.Precondition("daemon already running with pid %d", pid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Internal("failed to create pidfile directory", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return apperrors.Internal("failed to write pidfile", err)
	}
	return nil
}

// ReadPIDFile returns the recorded pid.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, apperrors.NotFound("pidfile", path)
	}
	if err != nil {
		return 0, apperrors.Internal("failed to read pidfile", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, apperrors.Internal("pidfile is corrupt", err)
	}
	return pid, nil
}

// PIDFileRunning reports whether the pidfile names a live process.
func PIDFileRunning(path string) (int, bool) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}

// RemovePIDFile deletes the pidfile. Missing files are fine.
func RemovePIDFile(path string) {
	_ = os.Remove(path)
}

// SignalStop sends SIGTERM to the daemon named by the pidfile.
func SignalStop(path string) error {
	pid, running := PIDFileRunning(path)
	if !running {
		return apperrors.Precondition("daemon is not running")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return apperrors.Internal("failed to signal daemon", err)
	}
	return nil
}

// RemindSignalFile is the path the daemon polls for forced reminders; it
// lives next to the pidfile.
func RemindSignalFile(pidPath string) string {
	return filepath.Join(filepath.Dir(pidPath), "beehive.remind")
}

// RequestRemind asks a running daemon to run the reminder duty on its next
// tick.
func RequestRemind(signalPath string) error {
	if err := os.MkdirAll(filepath.Dir(signalPath), 0o755); err != nil {
		return apperrors.Internal("failed to create signal directory", err)
	}
	if err := os.WriteFile(signalPath, []byte("remind\n"), 0o644); err != nil {
		return apperrors.Internal("failed to write remind signal", err)
	}
	return nil
}

// ConsumeRemindSignal atomically claims a pending remind request.
func ConsumeRemindSignal(signalPath string) bool {
	if signalPath == "" {
		return false
	}
	if err := os.Remove(signalPath); err != nil {
		return false
	}
	return true
}

// processAlive probes a pid with signal 0. EPERM means the process exists
// but belongs to someone else.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
