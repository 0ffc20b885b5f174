package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"content-batch/internal/domain"
	"content-batch/internal/domain/ports/repository"
)

var _ repository.Locker = (*KeyedLocker)(nil)

// KeyedLocker is a per-key mutex for a single process. ttl is ignored:
// a holder cannot outlive the process.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch    chan struct{}
	token string
	refs  int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: map[string]*keyLock{}}
}

// TryLock blocks until key is free or ctx ends.
func (l *KeyedLocker) TryLock(ctx context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		token := uuid.NewString()
		l.mu.Lock()
		kl.token = token
		l.mu.Unlock()
		return token, nil
	case <-ctx.Done():
		l.mu.Lock()
		l.release(key, kl)
		l.mu.Unlock()
		return "", fmt.Errorf("%w: %s: %v", domain.ErrLockNotAcquired, key, ctx.Err())
	}
}

func (l *KeyedLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok || kl.token == "" || kl.token != token {
		return domain.ErrLockNotAcquired
	}
	kl.token = ""
	<-kl.ch
	l.release(key, kl)
	return nil
}

func (l *KeyedLocker) release(key string, kl *keyLock) {
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
