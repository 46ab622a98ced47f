package session

import (
	"sync"
	"time"
)

// Manager serializes update handling per chat so that replies to quick
// successive messages from one chat go out in order.
type Manager struct {
	mu      sync.Mutex
	mutexes map[int64]*chatLock
}

type chatLock struct {
	mu       sync.Mutex
	users    int
	lastUsed time.Time
}

func NewManager() *Manager {
	return &Manager{
		mutexes: make(map[int64]*chatLock),
	}
}

// WithLock executes fn while holding the per-chat mutex.
// Concurrent updates from the same chat are serialized; different chats run in parallel.
func (m *Manager) WithLock(chatID int64, fn func()) {
	m.mu.Lock()
	cl, ok := m.mutexes[chatID]
	if !ok {
		cl = &chatLock{}
		m.mutexes[chatID] = cl
	}
	cl.users++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		cl.users--
		cl.lastUsed = time.Now()
		m.mu.Unlock()
	}()

	cl.mu.Lock()
	defer cl.mu.Unlock()
	fn()
}

// Cleanup removes idle locks not used within maxAge and returns how many were dropped.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for chatID, cl := range m.mutexes {
		if cl.users == 0 && now.Sub(cl.lastUsed) > maxAge {
			delete(m.mutexes, chatID)
			removed++
		}
	}
	return removed
}

// Len reports how many chats currently have a lock entry.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mutexes)
}
