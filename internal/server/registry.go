package server

import (
	"sort"
	"time"

	"github.com/halaqah-id/halaqah-realtime/internal/types"
)

type userEntry struct {
	user          types.PresenceUser
	clients       map[*Client]struct{}
	lastHeartbeat time.Time
}

// Registry maps each locally connected user to its connections. It is owned
// by the ChatServer loop and is never accessed from another goroutine.
type Registry struct {
	users map[string]*userEntry
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]*userEntry),
	}
}

// Add registers c under user and stamps the heartbeat. It reports whether c
// is the user's first connection in this process.
func (r *Registry) Add(c *Client, user types.PresenceUser, now time.Time) bool {
	e, ok := r.users[user.UserId]
	if !ok {
		e = &userEntry{clients: make(map[*Client]struct{})}
		r.users[user.UserId] = e
	}

	e.user = user
	e.clients[c] = struct{}{}
	e.lastHeartbeat = now

	return !ok
}

// Remove unregisters c. last reports that the user's entry was destroyed.
// ok is false when c was not registered.
func (r *Registry) Remove(c *Client) (user types.PresenceUser, last bool, ok bool) {
	e, found := r.users[c.user.UserId]
	if !found {
		return types.PresenceUser{}, false, false
	}
	if _, found := e.clients[c]; !found {
		return types.PresenceUser{}, false, false
	}

	delete(e.clients, c)
	if len(e.clients) == 0 {
		delete(r.users, c.user.UserId)
		return e.user, true, true
	}

	return e.user, false, true
}

// Heartbeat refreshes the entry owning c. Unknown connections are ignored.
func (r *Registry) Heartbeat(c *Client, now time.Time) bool {
	e, ok := r.users[c.user.UserId]
	if !ok {
		return false
	}
	if _, ok := e.clients[c]; !ok {
		return false
	}

	e.lastHeartbeat = now
	return true
}

func (r *Registry) Clients(userId string) []*Client {
	e, ok := r.users[userId]
	if !ok {
		return nil
	}

	clients := make([]*Client, 0, len(e.clients))
	for c := range e.clients {
		clients = append(clients, c)
	}
	return clients
}

func (r *Registry) Has(userId string) bool {
	_, ok := r.users[userId]
	return ok
}

func (r *Registry) LastHeartbeat(userId string) (time.Time, bool) {
	e, ok := r.users[userId]
	if !ok {
		return time.Time{}, false
	}
	return e.lastHeartbeat, true
}

// Users returns the locally known online users ordered by id.
func (r *Registry) Users() []types.PresenceUser {
	users := make([]types.PresenceUser, 0, len(r.users))
	for _, e := range r.users {
		u := e.user
		u.Status = types.StatusOnline
		users = append(users, u)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].UserId < users[j].UserId })
	return users
}

// Stale returns the connections of every user whose last heartbeat is older than ttl.
func (r *Registry) Stale(now time.Time, ttl time.Duration) []*Client {
	var stale []*Client
	for _, e := range r.users {
		if now.Sub(e.lastHeartbeat) <= ttl {
			continue
		}
		for c := range e.clients {
			stale = append(stale, c)
		}
	}
	return stale
}

func (r *Registry) Len() int {
	return len(r.users)
}
