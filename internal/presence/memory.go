package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/halaqah-id/halaqah-realtime/internal/types"
)

type memoryEntry struct {
	user      types.PresenceUser
	conns     map[string]struct{}
	expiresAt time.Time
}

// MemoryStore is a Store for single-process deployments.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	users map[string]*memoryEntry
	now   func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return NewMemoryStoreWithClock(ttl, time.Now)
}

// NewMemoryStoreWithClock expires markers against now instead of the wall clock.
func NewMemoryStoreWithClock(ttl time.Duration, now func() time.Time) *MemoryStore {
	return &MemoryStore{
		ttl:   ttl,
		users: make(map[string]*memoryEntry),
		now:   now,
	}
}

func (s *MemoryStore) alive(e *memoryEntry) bool {
	return s.now().Before(e.expiresAt)
}

func (s *MemoryStore) AddConnection(_ context.Context, user types.PresenceUser, connId string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[user.UserId]
	if !ok || !s.alive(e) {
		// expired leftovers belong to a dead process
		e = &memoryEntry{conns: make(map[string]struct{})}
		s.users[user.UserId] = e
	}

	e.user = user
	e.conns[connId] = struct{}{}
	e.expiresAt = s.now().Add(s.ttl)

	return int64(len(e.conns)), nil
}

func (s *MemoryStore) RemoveConnection(_ context.Context, userId, connId string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userId]
	if !ok {
		return 0, ErrConnectionNotFound
	}
	if _, ok := e.conns[connId]; !ok {
		return 0, ErrConnectionNotFound
	}

	delete(e.conns, connId)
	if len(e.conns) == 0 {
		delete(s.users, userId)
	}

	return int64(len(e.conns)), nil
}

func (s *MemoryStore) Refresh(_ context.Context, user types.PresenceUser, connId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revived := false
	e, ok := s.users[user.UserId]
	if !ok {
		e = &memoryEntry{user: user, conns: make(map[string]struct{})}
		s.users[user.UserId] = e
		revived = true
	}

	e.conns[connId] = struct{}{}
	e.expiresAt = s.now().Add(s.ttl)

	return revived, nil
}

func (s *MemoryStore) OnlineUsers(_ context.Context) ([]types.PresenceUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]types.PresenceUser, 0, len(s.users))
	for _, e := range s.users {
		if !s.alive(e) {
			continue
		}
		u := e.user
		u.Status = types.StatusOnline
		users = append(users, u)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].UserId < users[j].UserId })
	return users, nil
}

func (s *MemoryStore) IsOnline(_ context.Context, userId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userId]
	return ok && s.alive(e), nil
}

func (s *MemoryStore) PruneExpired(_ context.Context) ([]types.PresenceUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned []types.PresenceUser
	for id, e := range s.users {
		if s.alive(e) {
			continue
		}
		delete(s.users, id)
		u := e.user
		u.Status = types.StatusOffline
		pruned = append(pruned, u)
	}

	return pruned, nil
}
