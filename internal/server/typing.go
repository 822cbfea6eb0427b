package server

import (
	"time"
)

type typingEntry struct {
	userName  string
	client    *Client
	startedAt time.Time
}

// typingChange is a typer removed from a room without an explicit stop.
type typingChange struct {
	conversationId string
	userId         string
	userName       string
}

// TypingState tracks who is typing in each conversation.
type TypingState struct {
	rooms map[string]map[string]*typingEntry
}

func NewTypingState() *TypingState {
	return &TypingState{
		rooms: make(map[string]map[string]*typingEntry),
	}
}

// Start flags userId as typing in the conversation. Repeated starts extend
// the entry and move it to the latest connection.
func (ts *TypingState) Start(conversationId, userId, userName string, c *Client, now time.Time) {
	typers, ok := ts.rooms[conversationId]
	if !ok {
		typers = make(map[string]*typingEntry)
		ts.rooms[conversationId] = typers
	}

	typers[userId] = &typingEntry{
		userName:  userName,
		client:    c,
		startedAt: now,
	}
}

func (ts *TypingState) Stop(conversationId, userId string) bool {
	typers, ok := ts.rooms[conversationId]
	if !ok {
		return false
	}
	if _, ok := typers[userId]; !ok {
		return false
	}

	ts.remove(conversationId, userId)
	return true
}

func (ts *TypingState) IsTyping(conversationId, userId string) bool {
	_, ok := ts.rooms[conversationId][userId]
	return ok
}

// Typers returns the user ids typing in the conversation.
func (ts *TypingState) Typers(conversationId string) []string {
	ids := make([]string, 0, len(ts.rooms[conversationId]))
	for id := range ts.rooms[conversationId] {
		ids = append(ids, id)
	}
	return ids
}

// ClearClient removes every entry last started from c.
func (ts *TypingState) ClearClient(c *Client) []typingChange {
	var cleared []typingChange
	for conversationId, typers := range ts.rooms {
		for userId, e := range typers {
			if e.client != c {
				continue
			}
			cleared = append(cleared, typingChange{
				conversationId: conversationId,
				userId:         userId,
				userName:       e.userName,
			})
		}
	}

	for _, ch := range cleared {
		ts.remove(ch.conversationId, ch.userId)
	}
	return cleared
}

// Expire removes entries started more than timeout ago.
func (ts *TypingState) Expire(now time.Time, timeout time.Duration) []typingChange {
	var expired []typingChange
	for conversationId, typers := range ts.rooms {
		for userId, e := range typers {
			if now.Sub(e.startedAt) < timeout {
				continue
			}
			expired = append(expired, typingChange{
				conversationId: conversationId,
				userId:         userId,
				userName:       e.userName,
			})
		}
	}

	for _, ch := range expired {
		ts.remove(ch.conversationId, ch.userId)
	}
	return expired
}

func (ts *TypingState) remove(conversationId, userId string) {
	typers := ts.rooms[conversationId]
	delete(typers, userId)
	if len(typers) == 0 {
		delete(ts.rooms, conversationId)
	}
}
