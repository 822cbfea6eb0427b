package protocol

import (
	"time"

	"github.com/halaqah-id/halaqah-realtime/internal/types"
)

// Outbound events.
const (
	EventPresenceUpdate      = "presence:update"
	EventPresenceList        = "presence:list"
	EventMessageReceive      = "message:receive"
	EventMessageNotification = "message:notification"
	EventTypingUpdate        = "typing:update"
	EventMessageReadUpdate   = "message:read:update"
	EventMessageEdited       = "message:edited"
	EventMessageDeleted      = "message:deleted"
	EventLastSeenUpdated     = "user:last-seen-updated"
)

// PreviewLength is the maximum number of characters in a notification preview.
const PreviewLength = 50

type PresenceUpdate struct {
	UserId string               `json:"userId"`
	Status types.PresenceStatus `json:"status"`
	Name   string               `json:"name"`
}

type PresenceList []types.PresenceUser

type MessageReceive struct {
	ConversationId string    `json:"conversationId"`
	SenderId       string    `json:"senderId"`
	RecipientId    string    `json:"recipientId"`
	Content        string    `json:"content"`
	MessageId      string    `json:"messageId"`
	SenderName     string    `json:"senderName"`
	CreatedAt      time.Time `json:"createdAt"`
}

type MessageNotification struct {
	ConversationId string `json:"conversationId"`
	SenderId       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Preview        string `json:"preview"`
}

type TypingUpdate struct {
	ConversationId string `json:"conversationId"`
	UserId         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

type MessageReadUpdate struct {
	ConversationId string   `json:"conversationId"`
	UserId         string   `json:"userId"`
	MessageIds     []string `json:"messageIds"`
}

type MessageEdited struct {
	MessageId      string    `json:"messageId"`
	ConversationId string    `json:"conversationId"`
	NewContent     string    `json:"newContent"`
	EditedAt       time.Time `json:"editedAt"`
}

type MessageDeleted struct {
	MessageId      string    `json:"messageId"`
	ConversationId string    `json:"conversationId"`
	Deleted        bool      `json:"deleted"`
	DeletedAt      time.Time `json:"deletedAt"`
}

type LastSeenUpdated struct {
	UserId   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// Preview shortens content for a message notification.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength])
}
