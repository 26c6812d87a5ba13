// Package lockfile guards a RelayNote state directory against a second
// running instance.
//
// The durable offset log assumes a single writer; two bots polling the same
// token would also steal each other's updates. The lock is an flock on a
// file inside the state directory, so the kernel drops it when the process
// dies, however it dies.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "relaynote.lock"

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Started string
}

func (o Owner) String() string {
	if o.PID == 0 {
		return ""
	}
	s := "PID " + strconv.Itoa(o.PID)
	if o.Started != "" {
		s += " started " + o.Started
	}
	return s
}

// Lock represents an active directory lock
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory
// if needed. When another process holds it the error is a *LockError.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("AcquireLock: acquiring", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	// O_TRUNC would wipe the owner's details before we know the lock is ours.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		info := describeExistingLock(lockPath)
		slog.Error("AcquireLock: state directory is locked by another instance",
			"lock_path", lockPath, "existing_lock_info", info, "error", err)
		return nil, &LockError{LockPath: lockPath, ExistingInfo: info, Cause: err}
	}

	l := &Lock{file: file, path: lockPath}
	if err := l.writeOwner(); err != nil {
		l.unlock()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("AcquireLock: state directory locked", "lock_path", lockPath, "pid", os.Getpid())
	return l, nil
}

func (l *Lock) writeOwner() error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := l.file.WriteAt([]byte(content), 0); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		slog.Warn("Lock.writeOwner: sync failed", "lock_path", l.path, "error", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.unlock()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: could not remove lock file", "lock_path", l.path, "error", err)
	}
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

func (l *Lock) unlock() {
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lock.unlock: flock release failed", "lock_path", l.path, "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lock.unlock: close failed", "lock_path", l.path, "error", err)
	}
	l.file = nil
}

// LockError represents an error when failing to acquire a lock due to another process
type LockError struct {
	LockPath     string
	ExistingInfo string
	Cause        error
}

func (e *LockError) Error() string {
	var b strings.Builder
	b.WriteString("Another RelayNote instance is already running using the same state directory.\n\n")
	fmt.Fprintf(&b, "Lock file: %s", e.LockPath)
	if e.ExistingInfo != "" {
		fmt.Fprintf(&b, "\nExisting process: %s", e.ExistingInfo)
	}
	b.WriteString("\n\nIf no other RelayNote instance is running the lock file may be stale and can be removed with:\n")
	fmt.Fprintf(&b, "  rm %s\n", e.LockPath)
	b.WriteString("\nWARNING: two instances sharing a state directory will both advance the update offset and can lose messages.")
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeExistingLock summarizes the lock file of the current holder.
func describeExistingLock(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "lock file exists but contains no process information"
	}
	owner := parseOwner(string(data))
	if owner.PID == 0 {
		return fmt.Sprintf("process information: %s", strings.TrimSpace(string(data)))
	}
	if isProcessRunning(owner.PID) {
		return owner.String() + " (running)"
	}
	return owner.String() + " (not running - stale lock)"
}

// parseOwner reads the key=value lines written by writeOwner.
func parseOwner(content string) Owner {
	var o Owner
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				o.PID = pid
			}
		case "started":
			o.Started = value
		}
	}
	return o
}

// isProcessRunning checks pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
