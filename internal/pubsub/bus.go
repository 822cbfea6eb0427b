// Package pubsub carries scoped deliveries between server processes so that
// every process can fan them out to its own local connections.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrClosed = errors.New("bus is closed")

type Scope string

const (
	// ScopeAll reaches every identified connection.
	ScopeAll Scope = "all"
	// ScopeRoom reaches connections joined to the conversation named by Target.
	ScopeRoom Scope = "room"
	// ScopeUser reaches every connection of the user named by Target.
	ScopeUser Scope = "user"
)

// Delivery is one outbound frame together with the audience it is meant for.
type Delivery struct {
	Origin   string          `json:"origin,omitempty"`
	Scope    Scope           `json:"scope"`
	Target   string          `json:"target,omitempty"`
	SkipConn string          `json:"skipConn,omitempty"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type Bus interface {
	Publish(ctx context.Context, d *Delivery) error
	// Subscribe returns a channel of deliveries published by any process,
	// including this one. The channel is closed when ctx ends or the bus closes.
	Subscribe(ctx context.Context) (<-chan *Delivery, error)
	Close() error
}
