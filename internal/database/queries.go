package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	getUserQuery        = "SELECT id, name, role, last_seen FROM users WHERE id = $1"
	updateLastSeenQuery = "UPDATE users SET last_seen = $2 WHERE id = $1"
	getLastSeenQuery    = "SELECT last_seen FROM users WHERE id = $1"
)

func (db *PgRepository) GetUserById(ctx context.Context, userId string) (User, error) {
	var (
		u        User
		lastSeen sql.NullTime
	)

	err := db.conn.QueryRowContext(ctx, getUserQuery, userId).Scan(
		&u.Id,
		&u.Name,
		&u.Role,
		&lastSeen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("get user %s: %w", userId, err)
	}

	if lastSeen.Valid {
		u.LastSeen = &lastSeen.Time
	}

	return u, nil
}

func (db *PgRepository) UpdateLastSeen(ctx context.Context, userId string, lastSeen time.Time) error {
	res, err := db.conn.ExecContext(ctx, updateLastSeenQuery, userId, lastSeen.UTC())
	if err != nil {
		return fmt.Errorf("update last seen for %s: %w", userId, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update last seen for %s: %w", userId, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (db *PgRepository) GetLastSeen(ctx context.Context, userId string) (*time.Time, error) {
	var lastSeen sql.NullTime
	if err := db.conn.QueryRowContext(ctx, getLastSeenQuery, userId).Scan(&lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get last seen for %s: %w", userId, err)
	}

	if !lastSeen.Valid {
		return nil, nil
	}
	return &lastSeen.Time, nil
}
