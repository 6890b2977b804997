package ports

import "context"

// Locker serializes transactions per target root.
type Locker interface {
	// Acquire takes the exclusive transaction lock, blocking until
	// available unless wait is false.
	Acquire(ctx context.Context, wait bool) error

	// Release drops the lock.
	Release() error
}
