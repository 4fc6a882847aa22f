package lock

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/flowstate/pkg/models"
)

// MemoryLocker is an in-process Locker. Suitable for testing and
// single-instance deployments.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*memoryLock
}

type memoryLock struct {
	token     string
	expiresAt time.Time
}

// NewMemoryLocker creates a new in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]*memoryLock),
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	if held, exists := l.locks[key]; exists && now.Before(held.expiresAt) {
		return "", ErrAlreadyLocked
	}

	token := models.NewID()
	l.locks[key] = &memoryLock{token: token, expiresAt: now.Add(ttl)}

	return token, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, exists := l.locks[key]
	if !exists || held.token != token {
		return nil
	}

	delete(l.locks, key)

	return nil
}
