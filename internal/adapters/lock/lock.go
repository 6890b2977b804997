// Package lock serializes transactions per target root with an advisory
// flock on a PID file in the state directory.
package lock

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.trai.ch/zerr"
	"golang.org/x/sys/unix"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
)

const pollInterval = 200 * time.Millisecond

// FileLock implements ports.Locker on the target root's lock file.
type FileLock struct {
	Logger ports.Logger
	Layout domain.Layout

	file *os.File
}

// New builds a FileLock for the configured target root.
func New(log ports.Logger, cfg domain.Config) *FileLock {
	return &FileLock{Logger: log, Layout: domain.NewLayout(cfg.Root)}
}

// Acquire takes the exclusive transaction lock. With wait it polls until
// the lock frees or ctx is cancelled; without it a held lock fails
// immediately, naming the holder PID when readable.
func (l *FileLock) Acquire(ctx context.Context, wait bool) error {
	path := l.Layout.LockFile()
	if err := os.MkdirAll(filepath.Dir(path), domain.DirPerm); err != nil {
		return zerr.Wrap(err, domain.ErrLockHeld.Error())
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, domain.PrivateFilePerm)
	if err != nil {
		return zerr.Wrap(err, domain.ErrLockHeld.Error())
	}

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return zerr.Wrap(err, domain.ErrLockHeld.Error())
		}
		if !wait {
			holder := l.holderPID(f)
			f.Close()
			if holder > 0 {
				return zerr.With(domain.ErrLockHeld, "pid", holder)
			}
			return domain.ErrLockHeld
		}

		select {
		case <-ctx.Done():
			f.Close()
			return zerr.Wrap(ctx.Err(), domain.ErrInterrupted.Error())
		case <-time.After(pollInterval):
		}
	}

	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	l.file = f
	l.Logger.Debug("transaction lock acquired", "path", path)
	return nil
}

// Release drops the lock and clears the PID file.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	f.Truncate(0)
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return zerr.Wrap(err, domain.ErrLockHeld.Error())
	}
	if err := f.Close(); err != nil {
		return zerr.Wrap(err, domain.ErrLockHeld.Error())
	}
	return nil
}

func (l *FileLock) holderPID(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}

var _ ports.Locker = (*FileLock)(nil)
