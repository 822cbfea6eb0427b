package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/halaqah-id/halaqah-realtime/internal/protocol"
	"github.com/halaqah-id/halaqah-realtime/internal/types"
)

// ServerMessage is a frame queued for a single connection.
type ServerMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newServerMessage(event string, payload any) (*ServerMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}

	return &ServerMessage{Event: event, Data: data}, nil
}

func presenceUpdate(user types.PresenceUser, status types.PresenceStatus) protocol.PresenceUpdate {
	return protocol.PresenceUpdate{
		UserId: user.UserId,
		Status: status,
		Name:   user.Name,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
