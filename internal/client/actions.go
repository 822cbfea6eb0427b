package client

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/halaqah-id/halaqah-realtime/internal/protocol"
)

// newMessageId returns msg-<unix seconds>-<8 hex>.
func newMessageId(unix int64) string {
	return fmt.Sprintf("msg-%d-%s", unix, uuid.NewString()[:8])
}

// JoinConversation subscribes to a conversation now and after every reconnect.
func (p *PresenceContext) JoinConversation(conversationId string) error {
	p.mu.Lock()
	p.rooms[conversationId] = struct{}{}
	connected := p.connected
	p.mu.Unlock()

	if !connected {
		return nil
	}
	return p.send(&protocol.ConversationJoin{ConversationId: conversationId})
}

func (p *PresenceContext) LeaveConversation(conversationId string) error {
	p.mu.Lock()
	delete(p.rooms, conversationId)
	_, hadTypers := p.typing[conversationId]
	delete(p.typing, conversationId)
	connected := p.connected
	p.mu.Unlock()

	if hadTypers {
		p.notify()
	}
	if !connected {
		return nil
	}
	return p.send(&protocol.ConversationLeave{ConversationId: conversationId})
}

// SendMessage appends the message locally and relays it to the conversation.
func (p *PresenceContext) SendMessage(conversationId, recipientId, content string) (Message, error) {
	now := p.now().UTC()
	msg := Message{
		MessageId:      newMessageId(now.Unix()),
		ConversationId: conversationId,
		SenderId:       p.opts.User.UserId,
		RecipientId:    recipientId,
		SenderName:     p.opts.User.Name,
		Content:        content,
		CreatedAt:      now,
	}

	err := p.send(&protocol.MessageSend{
		ConversationId: msg.ConversationId,
		SenderId:       msg.SenderId,
		RecipientId:    msg.RecipientId,
		Content:        msg.Content,
		MessageId:      msg.MessageId,
		SenderName:     msg.SenderName,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		return Message{}, err
	}

	p.mu.Lock()
	p.upsertMessage(msg)
	p.mu.Unlock()
	p.notify()

	return msg, nil
}

func (p *PresenceContext) StartTyping(conversationId string) error {
	return p.send(&protocol.TypingStart{
		ConversationId: conversationId,
		UserId:         p.opts.User.UserId,
		UserName:       p.opts.User.Name,
	})
}

func (p *PresenceContext) StopTyping(conversationId string) error {
	return p.send(&protocol.TypingStop{
		ConversationId: conversationId,
		UserId:         p.opts.User.UserId,
	})
}

func (p *PresenceContext) MarkRead(conversationId string, messageIds ...string) error {
	return p.send(&protocol.MessageRead{
		ConversationId: conversationId,
		UserId:         p.opts.User.UserId,
		MessageIds:     messageIds,
	})
}

func (p *PresenceContext) EditMessage(conversationId, messageId, newContent string) error {
	return p.send(&protocol.MessageEdit{
		MessageId:      messageId,
		ConversationId: conversationId,
		NewContent:     newContent,
		EditedAt:       p.now().UTC(),
	})
}

func (p *PresenceContext) DeleteMessage(conversationId, messageId string) error {
	return p.send(&protocol.MessageDelete{
		MessageId:      messageId,
		ConversationId: conversationId,
		DeletedAt:      p.now().UTC(),
	})
}

func (p *PresenceContext) UpdateLastSeen() error {
	return p.send(&protocol.UpdateLastSeen{UserId: p.opts.User.UserId})
}
