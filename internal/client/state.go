package client

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/halaqah-id/halaqah-realtime/internal/protocol"
	"github.com/halaqah-id/halaqah-realtime/internal/types"
)

type Message struct {
	MessageId      string     `json:"messageId"`
	ConversationId string     `json:"conversationId"`
	SenderId       string     `json:"senderId"`
	RecipientId    string     `json:"recipientId"`
	SenderName     string     `json:"senderName"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"createdAt"`
	EditedAt       *time.Time `json:"editedAt,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
	ReadBy         []string   `json:"readBy,omitempty"`
}

// State is a copy of the context's view at one instant.
type State struct {
	Connected     bool
	OnlineUsers   map[string]types.PresenceUser
	TypingUsers   map[string][]string
	LastSeen      map[string]time.Time
	Messages      map[string][]Message
	Notifications []protocol.MessageNotification
}

func (p *PresenceContext) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	s := State{
		Connected:     p.connected,
		OnlineUsers:   make(map[string]types.PresenceUser, len(p.online)),
		TypingUsers:   make(map[string][]string),
		LastSeen:      make(map[string]time.Time, len(p.lastSeen)),
		Messages:      make(map[string][]Message, len(p.messages)),
		Notifications: slices.Clone(p.notifications),
	}
	for id, u := range p.online {
		s.OnlineUsers[id] = u
	}
	for conv := range p.typing {
		if typers := p.typersLocked(conv, now); len(typers) > 0 {
			s.TypingUsers[conv] = typers
		}
	}
	for id, t := range p.lastSeen {
		s.LastSeen[id] = t
	}
	for conv, msgs := range p.messages {
		cp := make([]Message, len(msgs))
		for i, m := range msgs {
			m.ReadBy = slices.Clone(m.ReadBy)
			cp[i] = m
		}
		s.Messages[conv] = cp
	}
	return s
}

func (p *PresenceContext) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *PresenceContext) IsOnline(userId string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[userId]
	return ok
}

// Typing lists the users typing in a conversation, sorted by id.
func (p *PresenceContext) Typing(conversationId string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typersLocked(conversationId, p.now())
}

func (p *PresenceContext) LastSeen(userId string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.lastSeen[userId]
	return t, ok
}

func (p *PresenceContext) Messages(conversationId string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.messages[conversationId])
}

func (p *PresenceContext) typersLocked(conversationId string, now time.Time) []string {
	var typers []string
	for id, e := range p.typing[conversationId] {
		if now.Sub(e.startedAt) < p.opts.TypingTimeout {
			typers = append(typers, id)
		}
	}
	slices.Sort(typers)
	return typers
}

// expireTyping drops typing entries older than the typing timeout and
// reports whether any were dropped.
func (p *PresenceContext) expireTyping(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := false
	for conv, users := range p.typing {
		for id, e := range users {
			if now.Sub(e.startedAt) >= p.opts.TypingTimeout {
				delete(users, id)
				changed = true
			}
		}
		if len(users) == 0 {
			delete(p.typing, conv)
		}
	}
	return changed
}

// upsertMessage inserts msg or replaces the message with the same id.
func (p *PresenceContext) upsertMessage(msg Message) {
	msgs := p.messages[msg.ConversationId]
	for i := range msgs {
		if msgs[i].MessageId == msg.MessageId {
			msg.ReadBy = msgs[i].ReadBy
			msgs[i] = msg
			return
		}
	}
	p.messages[msg.ConversationId] = append(msgs, msg)
}

func (p *PresenceContext) findMessage(conversationId, messageId string) *Message {
	msgs := p.messages[conversationId]
	for i := range msgs {
		if msgs[i].MessageId == messageId {
			return &msgs[i]
		}
	}
	return nil
}

func decodeData[T any](f protocol.Frame) (T, error) {
	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return v, nil
}

// apply folds one server frame into the state. Applying the same frame
// twice leaves the state as applying it once.
func (p *PresenceContext) apply(f protocol.Frame) error {
	switch f.Event {
	case protocol.EventPresenceUpdate:
		u, err := decodeData[protocol.PresenceUpdate](f)
		if err != nil {
			return err
		}
		p.mu.Lock()
		if u.Status == types.StatusOnline {
			p.online[u.UserId] = types.PresenceUser{UserId: u.UserId, Name: u.Name, Status: types.StatusOnline}
		} else {
			delete(p.online, u.UserId)
		}
		p.mu.Unlock()
	case protocol.EventPresenceList:
		list, err := decodeData[protocol.PresenceList](f)
		if err != nil {
			return err
		}
		online := make(map[string]types.PresenceUser, len(list))
		for _, u := range list {
			u.Status = types.StatusOnline
			online[u.UserId] = u
		}
		p.mu.Lock()
		p.online = online
		p.mu.Unlock()
	case protocol.EventMessageReceive:
		m, err := decodeData[protocol.MessageReceive](f)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.upsertMessage(Message{
			MessageId:      m.MessageId,
			ConversationId: m.ConversationId,
			SenderId:       m.SenderId,
			RecipientId:    m.RecipientId,
			SenderName:     m.SenderName,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		})
		p.mu.Unlock()
	case protocol.EventMessageNotification:
		n, err := decodeData[protocol.MessageNotification](f)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.notifications = append(p.notifications, n)
		if len(p.notifications) > maxNotifications {
			p.notifications = p.notifications[len(p.notifications)-maxNotifications:]
		}
		p.mu.Unlock()
	case protocol.EventTypingUpdate:
		u, err := decodeData[protocol.TypingUpdate](f)
		if err != nil {
			return err
		}
		p.mu.Lock()
		if u.IsTyping {
			users, ok := p.typing[u.ConversationId]
			if !ok {
				users = make(map[string]typingEntry)
				p.typing[u.ConversationId] = users
			}
			users[u.UserId] = typingEntry{userName: u.UserName, startedAt: p.now()}
		} else if users, ok := p.typing[u.ConversationId]; ok {
			delete(users, u.UserId)
			if len(users) == 0 {
				delete(p.typing, u.ConversationId)
			}
		}
		p.mu.Unlock()
	case protocol.EventMessageReadUpdate:
		u, err := decodeData[protocol.MessageReadUpdate](f)
		if err != nil {
			return err
		}
		p.mu.Lock()
		for _, id := range u.MessageIds {
			if m := p.findMessage(u.ConversationId, id); m != nil && !slices.Contains(m.ReadBy, u.UserId) {
				m.ReadBy = append(m.ReadBy, u.UserId)
			}
		}
		p.mu.Unlock()
	case protocol.EventMessageEdited:
		e, err := decodeData[protocol.MessageEdited](f)
		if err != nil {
			return err
		}
		p.mu.Lock()
		if m := p.findMessage(e.ConversationId, e.MessageId); m != nil {
			editedAt := e.EditedAt
			m.Content = e.NewContent
			m.EditedAt = &editedAt
		}
		p.mu.Unlock()
	case protocol.EventMessageDeleted:
		d, err := decodeData[protocol.MessageDeleted](f)
		if err != nil {
			return err
		}
		p.mu.Lock()
		if m := p.findMessage(d.ConversationId, d.MessageId); m != nil {
			m.Deleted = true
			m.Content = ""
		}
		p.mu.Unlock()
	case protocol.EventLastSeenUpdated:
		u, err := decodeData[protocol.LastSeenUpdated](f)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.lastSeen[u.UserId] = u.LastSeen
		p.mu.Unlock()
	default:
		return fmt.Errorf("unknown event %q", f.Event)
	}

	p.notify()
	return nil
}
