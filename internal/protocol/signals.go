package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Inbound events.
const (
	EventUserJoin          = "user:join"
	EventPresencePing      = "presence:ping"
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventMessageSend       = "message:send"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventMessageRead       = "message:read"
	EventMessageEdit       = "message:edit"
	EventMessageDelete     = "message:delete"
	EventUpdateLastSeen    = "user:update-last-seen"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed payload")
)

// Frame is the unit sent over the wire in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Signal is one of the inbound signal types declared in this file.
type Signal interface {
	Event() string
	signal()
}

type UserJoin struct {
	UserId string `json:"userId" validate:"required"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

type PresencePing struct{}

type ConversationJoin struct {
	ConversationId string `validate:"required"`
}

type ConversationLeave struct {
	ConversationId string `validate:"required"`
}

type MessageSend struct {
	ConversationId string    `json:"conversationId" validate:"required"`
	SenderId       string    `json:"senderId" validate:"required"`
	RecipientId    string    `json:"recipientId" validate:"required"`
	Content        string    `json:"content" validate:"required"`
	MessageId      string    `json:"messageId" validate:"required"`
	SenderName     string    `json:"senderName"`
	CreatedAt      time.Time `json:"createdAt"`
}

type TypingStart struct {
	ConversationId string `json:"conversationId" validate:"required"`
	UserId         string `json:"userId" validate:"required"`
	UserName       string `json:"userName"`
}

type TypingStop struct {
	ConversationId string `json:"conversationId" validate:"required"`
	UserId         string `json:"userId" validate:"required"`
}

type MessageRead struct {
	ConversationId string   `json:"conversationId" validate:"required"`
	UserId         string   `json:"userId" validate:"required"`
	MessageIds     []string `json:"messageIds" validate:"required,min=1,dive,required"`
}

type MessageEdit struct {
	MessageId      string    `json:"messageId" validate:"required"`
	ConversationId string    `json:"conversationId" validate:"required"`
	NewContent     string    `json:"newContent" validate:"required"`
	EditedAt       time.Time `json:"editedAt"`
}

type MessageDelete struct {
	MessageId      string    `json:"messageId" validate:"required"`
	ConversationId string    `json:"conversationId" validate:"required"`
	DeletedAt      time.Time `json:"deletedAt"`
}

type UpdateLastSeen struct {
	UserId string `validate:"required"`
}

func (*UserJoin) Event() string          { return EventUserJoin }
func (*PresencePing) Event() string      { return EventPresencePing }
func (*ConversationJoin) Event() string  { return EventConversationJoin }
func (*ConversationLeave) Event() string { return EventConversationLeave }
func (*MessageSend) Event() string       { return EventMessageSend }
func (*TypingStart) Event() string       { return EventTypingStart }
func (*TypingStop) Event() string        { return EventTypingStop }
func (*MessageRead) Event() string       { return EventMessageRead }
func (*MessageEdit) Event() string       { return EventMessageEdit }
func (*MessageDelete) Event() string     { return EventMessageDelete }
func (*UpdateLastSeen) Event() string    { return EventUpdateLastSeen }

func (*UserJoin) signal()          {}
func (*PresencePing) signal()      {}
func (*ConversationJoin) signal()  {}
func (*ConversationLeave) signal() {}
func (*MessageSend) signal()       {}
func (*TypingStart) signal()       {}
func (*TypingStop) signal()        {}
func (*MessageRead) signal()       {}
func (*MessageEdit) signal()       {}
func (*MessageDelete) signal()     {}
func (*UpdateLastSeen) signal()    {}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode parses a raw websocket message into a validated Signal.
func Decode(raw []byte) (Signal, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return DecodeFrame(f)
}

// DecodeFrame turns a frame into a validated Signal.
func DecodeFrame(f Frame) (Signal, error) {
	var (
		sig Signal
		err error
	)

	switch f.Event {
	case EventUserJoin:
		sig, err = decodeObject(f.Data, &UserJoin{})
	case EventPresencePing:
		sig = &PresencePing{}
	case EventConversationJoin:
		var id string
		id, err = decodeString(f.Data)
		sig = &ConversationJoin{ConversationId: id}
	case EventConversationLeave:
		var id string
		id, err = decodeString(f.Data)
		sig = &ConversationLeave{ConversationId: id}
	case EventMessageSend:
		sig, err = decodeObject(f.Data, &MessageSend{})
	case EventTypingStart:
		sig, err = decodeObject(f.Data, &TypingStart{})
	case EventTypingStop:
		sig, err = decodeObject(f.Data, &TypingStop{})
	case EventMessageRead:
		sig, err = decodeObject(f.Data, &MessageRead{})
	case EventMessageEdit:
		sig, err = decodeObject(f.Data, &MessageEdit{})
	case EventMessageDelete:
		sig, err = decodeObject(f.Data, &MessageDelete{})
	case EventUpdateLastSeen:
		var id string
		id, err = decodeString(f.Data)
		sig = &UpdateLastSeen{UserId: id}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Event, err)
	}

	if err := validate.Struct(sig); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Event, err)
	}

	return sig, nil
}

func decodeObject[T Signal](data json.RawMessage, dst T) (Signal, error) {
	if len(data) == 0 {
		return nil, errors.New("missing data")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// decodeString accepts either a bare JSON string or an object with an "id" field.
func decodeString(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", errors.New("missing data")
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}

	var obj struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	return obj.Id, nil
}

// Encode builds a frame for the given event and payload.
func Encode(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", event, err)
	}

	return Frame{Event: event, Data: data}, nil
}

// EncodeSignal builds the frame a client sends for sig.
func EncodeSignal(sig Signal) (Frame, error) {
	switch s := sig.(type) {
	case *PresencePing:
		return Encode(s.Event(), struct{}{})
	case *ConversationJoin:
		return Encode(s.Event(), s.ConversationId)
	case *ConversationLeave:
		return Encode(s.Event(), s.ConversationId)
	case *UpdateLastSeen:
		return Encode(s.Event(), s.UserId)
	default:
		return Encode(sig.Event(), sig)
	}
}
