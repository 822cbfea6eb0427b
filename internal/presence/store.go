package presence

import (
	"context"
	"errors"

	"github.com/halaqah-id/halaqah-realtime/internal/types"
)

// ErrConnectionNotFound is returned when removing a connection the store does not hold.
var ErrConnectionNotFound = errors.New("connection not found")

// Store records which connections each user holds across every server
// process, plus an expiring marker meaning the user is reachable.
//
// Every method is a single atomic step in the backing store so that
// concurrent processes never race on a read-then-write of a user's
// connection set.
type Store interface {
	// AddConnection adds connId to the user's connection set, arms the
	// reachability marker and returns the set's size after insertion.
	AddConnection(ctx context.Context, user types.PresenceUser, connId string) (int64, error)
	// RemoveConnection removes connId and returns how many connections the
	// user still holds. When none remain the marker is dropped as well.
	RemoveConnection(ctx context.Context, userId, connId string) (int64, error)
	// Refresh re-arms the marker for a live connection. revived reports
	// that the user had been dropped from the store in the meantime.
	Refresh(ctx context.Context, user types.PresenceUser, connId string) (revived bool, err error)
	// OnlineUsers returns every user whose marker is alive.
	OnlineUsers(ctx context.Context) ([]types.PresenceUser, error)
	IsOnline(ctx context.Context, userId string) (bool, error)
	// PruneExpired drops users whose marker expired without a clean
	// disconnect. A user is returned to exactly one caller.
	PruneExpired(ctx context.Context) ([]types.PresenceUser, error)
}
