package database

import (
	"context"
	"time"
)

// Repository is the slice of the platform database the realtime core reads
// and writes: session identities and last-seen timestamps.
type Repository interface {
	Ping(ctx context.Context) error
	GetUserById(ctx context.Context, userId string) (User, error)
	UpdateLastSeen(ctx context.Context, userId string, lastSeen time.Time) error
	GetLastSeen(ctx context.Context, userId string) (*time.Time, error)
}
