// Package lockfile implements advisory cross-process locks keyed by
// filesystem path.
//
// A lock is a directory next to the guarded path (<path>.lockdir): the
// atomic create-if-absent semantics of mkdir are the mutual-exclusion
// primitive, which works on every local filesystem without fcntl
// portability concerns. The holder records its PID and acquisition time in
// a pid.lock file inside the directory so that contenders can detect and
// reclaim locks left behind by dead processes.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/0kenx/mcp-servers/internal/logging"
)

const (
	// Suffix appended to the guarded path to form the lock directory.
	Suffix = ".lockdir"

	pidFileName = "pid.lock"

	// DefaultTimeout bounds acquisition when the caller does not configure one.
	DefaultTimeout = 10 * time.Second

	// staleAge debounces stale-lock reclaim: a lock is only considered
	// stale once it is at least this old, so a slow acquirer that created
	// the directory but has not yet written its PID is not raced.
	staleAge = 5 * time.Second

	retryInterval = 50 * time.Millisecond
)

// ErrTimeout is returned when a lock cannot be acquired within the timeout.
var ErrTimeout = errors.New("lock acquisition timed out")

// Lock is a held advisory lock. It is not reentrant; callers needing
// multiple locks must acquire them in ascending path order.
type Lock struct {
	target  string
	dir     string
	pidFile string
	held    bool
	logger  *logging.AppLogger
}

// Acquire obtains the exclusive lock for path, retrying with bounded
// backoff until timeout elapses. Acquisition exactly at the timeout
// boundary fails with ErrTimeout.
func Acquire(path string, timeout time.Duration, logger *logging.AppLogger) (*Lock, error) {
	if logger == nil {
		logger = logging.GetDefault()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	l := &Lock{
		target:  path,
		dir:     path + Suffix,
		pidFile: filepath.Join(path+Suffix, pidFileName),
		logger:  logger,
	}

	deadline := time.Now().Add(timeout)
	for {
		err := os.Mkdir(l.dir, 0o755)
		if err == nil {
			if werr := l.writePIDFile(); werr != nil {
				// Could not record ownership; give the lock back.
				os.Remove(l.dir)
				return nil, werr
			}
			l.held = true
			logger.Debug("Acquired lock", "dir", l.dir)
			return l, nil
		}
		if !os.IsExist(err) {
			// The parent directory may not exist yet (e.g. first write in a
			// fresh workspace subtree).
			if os.IsNotExist(err) {
				if merr := os.MkdirAll(filepath.Dir(l.dir), 0o755); merr == nil {
					continue
				}
			}
			return nil, fmt.Errorf("failed to create lock directory %q: %w", l.dir, err)
		}

		// Contended: see if the holder is gone.
		if reclaimed, rerr := reclaimIfStale(l.dir); rerr == nil && reclaimed {
			logger.Debug("Reclaimed stale lock", "dir", l.dir)
			continue
		}

		if !time.Now().Before(deadline) {
			holder := holderDescription(l.pidFile)
			logger.Error("Timeout acquiring lock", "dir", l.dir, "holder", holder, "timeout", timeout)
			return nil, fmt.Errorf("%w: %s (held by %s)", ErrTimeout, l.target, holder)
		}
		time.Sleep(retryInterval)
	}
}

// Release removes the PID file and then the lock directory. It is safe to
// call more than once and must run on every exit path (typically deferred).
func (l *Lock) Release() {
	if l == nil || !l.held {
		return
	}
	l.held = false
	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("Could not remove lock PID file", "file", l.pidFile, "error", err)
	}
	if err := os.Remove(l.dir); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("Could not remove lock directory", "dir", l.dir, "error", err)
	}
	l.logger.Debug("Released lock", "dir", l.dir)
}

// Target returns the path the lock guards.
func (l *Lock) Target() string {
	return l.target
}

func (l *Lock) writePIDFile() error {
	content := fmt.Sprintf("%d %d\n", os.Getpid(), time.Now().Unix())
	f, err := os.OpenFile(l.pidFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create lock PID file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write lock PID file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync lock PID file: %w", err)
	}
	return nil
}

// reclaimIfStale removes the lock directory when its holder is provably
// gone. Reclaim is debounced by staleAge so a freshly created lock whose
// PID file has not landed yet is left alone.
func reclaimIfStale(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		// Already released by the holder.
		return os.IsNotExist(err), nil
	}
	if time.Since(info.ModTime()) < staleAge {
		return false, nil
	}

	pidFile := filepath.Join(dir, pidFileName)
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			// Old directory without a PID file: the acquirer died mid-acquire.
			return forceRemove(dir), nil
		}
		return false, err
	}

	pid, perr := parsePID(data)
	if perr != nil || pid <= 0 {
		return forceRemove(dir), nil
	}
	if processAlive(pid) {
		return false, nil
	}
	return forceRemove(dir), nil
}

func forceRemove(dir string) bool {
	return os.RemoveAll(dir) == nil
}

func parsePID(data []byte) (int, error) {
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, errors.New("empty PID file")
	}
	return strconv.Atoi(fields[0])
}

// processAlive reports whether a process with the given PID exists on this
// host. Signal 0 performs the existence check without delivering anything;
// EPERM still means the process is there.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

func holderDescription(pidFile string) string {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return "unknown holder"
	}
	pid, err := parsePID(data)
	if err != nil {
		return "unreadable PID file"
	}
	return fmt.Sprintf("PID %d", pid)
}

// CleanupStale walks root and removes every stale lock directory found.
// Locks with live holders are left in place unless force is set. It
// returns the number of locks removed.
func CleanupStale(root string, force bool, logger *logging.AppLogger) (int, error) {
	if logger == nil {
		logger = logging.GetDefault()
	}
	removed := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() || !strings.HasSuffix(path, Suffix) {
			return nil
		}
		if force {
			if forceRemove(path) {
				removed++
				logger.Info("Removed lock", "dir", path)
			}
			return filepath.SkipDir
		}
		reclaimed, rerr := reclaimIfStale(path)
		if rerr != nil {
			logger.Warn("Could not inspect lock", "dir", path, "error", rerr)
			return filepath.SkipDir
		}
		if reclaimed {
			removed++
			logger.Info("Removed stale lock", "dir", path)
		}
		return filepath.SkipDir
	})
	if err != nil {
		return removed, fmt.Errorf("stale lock sweep failed under %q: %w", root, err)
	}
	return removed, nil
}
