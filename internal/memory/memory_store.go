// Package memory holds the short-term conversational memory of each
// (tenant, session) pair. A missing entry always reads as an empty memory.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

// DefaultTTL is how long an untouched memory is kept.
const DefaultTTL = 24 * time.Hour

type entry struct {
	touched time.Time
	memory  model.Memory
}

// MemoryStore implements service.SessionMemory in process.
// It suits a single server instance; use RedisStore to share memory across instances.
type MemoryStore struct {
	now             func() time.Time
	entries         map[string]entry
	stopCh          chan struct{}
	cleanupInterval time.Duration
	ttl             time.Duration
	mu              sync.RWMutex
	stopOnce        sync.Once
}

// NewMemoryStore creates a store whose entries expire ttl after their last write.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := ttl / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	if interval < time.Second {
		interval = time.Second
	}

	store := &MemoryStore{
		now:             time.Now,
		entries:         make(map[string]entry),
		cleanupInterval: interval,
		ttl:             ttl,
		stopCh:          make(chan struct{}),
	}

	go store.cleanupLoop()

	return store
}

// Get returns a copy of the scope's memory, or an empty one.
func (s *MemoryStore) Get(ctx context.Context, scope model.Scope) (model.Memory, error) {
	if err := validate(ctx, scope); err != nil {
		return model.Memory{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[scope.Key()]
	if !ok || s.expired(e) {
		return model.Memory{}, nil
	}
	return e.memory.Clone(), nil
}

// Put stores a copy of memory for the scope.
func (s *MemoryStore) Put(ctx context.Context, scope model.Scope, memory model.Memory) error {
	if err := validate(ctx, scope); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[scope.Key()] = entry{memory: memory.Clone(), touched: s.now()}
	return nil
}

// Delete forgets the scope's memory.
func (s *MemoryStore) Delete(ctx context.Context, scope model.Scope) error {
	if err := validate(ctx, scope); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, scope.Key())
	return nil
}

// Len reports how many memories are held, expired ones included until cleanup runs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) expired(e entry) bool {
	return s.now().Sub(e.touched) > s.ttl
}

// cleanupLoop periodically removes expired memories.
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, key)
		}
	}
}

// Stop gracefully shuts down the cleanup goroutine. It is safe to call twice.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func validate(ctx context.Context, scope model.Scope) error {
	if ctx == nil {
		return fmt.Errorf("%w: context cannot be nil", common.ErrValidation)
	}
	return scope.ValidateSession()
}
