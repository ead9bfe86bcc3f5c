package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryStore keeps counters in a mutex-guarded map. Entries are created
// lazily and removed by Sweep once both of their windows are over.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewMemoryStore returns an empty store. Call StartSweeper to bound memory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Take implements Store.
func (m *MemoryStore) Take(_ context.Context, key string, policy Policy, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &Entry{}
		m.entries[key] = e
	}
	return Apply(e, policy, now), nil
}

// Sweep deletes entries whose windows have both ended and returns how many
// were removed.
func (m *MemoryStore) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// StartSweeper runs Sweep every interval until Close. Only the first call
// starts a sweeper, and none starts after Close.
func (m *MemoryStore) StartSweeper(interval time.Duration, clock Clock) {
	m.startOnce.Do(func() {
		go m.sweep(interval, clock)
	})
}

func (m *MemoryStore) sweep(interval time.Duration, clock Clock) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(clock.Now()); n > 0 {
				log.Debug().Int("removed", n).Int("remaining", m.Len()).Msg("Swept rate limit entries")
			}
		case <-m.stop:
			return
		}
	}
}

// Close stops the sweeper and waits for it to exit. It is safe to call
// more than once and concurrently with StartSweeper.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	// Claims the start slot when no sweeper ran, so done still closes.
	m.startOnce.Do(func() { close(m.done) })
	<-m.done
	return nil
}
