package agent

import (
	"context"
	"sync"
)

// sessionLocks serializes turns of the same tenant session.
type sessionLocks struct {
	locks map[string]*sessionLock
	mu    sync.Mutex
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire blocks until key is free or ctx is done. The returned func releases it.
func (l *sessionLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sessionLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.ch
			l.drop(key, lock)
		})
	}, nil
}

func (l *sessionLocks) drop(key string, lock *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
