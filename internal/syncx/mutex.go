// Package syncx provides small synchronization helpers shared by the
// resilience primitives.
package syncx

import (
	"fmt"
	"log/slog"
	"sync"
)

// Mutex serializes critical sections. Unlike a bare sync.Mutex it recovers a
// panicking section, logs it, and converts it into an error so one misbehaving
// caller cannot poison the lock for everyone queued behind it.
type Mutex struct {
	mu     sync.Mutex
	logger *slog.Logger
}

// NewMutex returns a Mutex that logs recovered panics to logger.
func NewMutex(logger *slog.Logger) *Mutex {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mutex{logger: logger}
}

// RunExclusive runs fn while holding the lock. A panic inside fn is recovered
// and returned as an error; the lock is always released.
func (m *Mutex) RunExclusive(fn func() error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in exclusive section", "panic", r)
			err = fmt.Errorf("exclusive section panicked: %v", r)
		}
	}()
	return fn()
}
