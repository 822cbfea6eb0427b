package types

import (
	"time"
)

// Roles issued by the platform's session provider.
const (
	RoleAdmin  = "ADMIN"
	RoleMentor = "MENTOR"
	RoleMember = "MEMBER"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// User is the session identity of an authenticated account.
type User struct {
	Id       string     `json:"id"`
	Name     string     `json:"name"`
	Role     string     `json:"role"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// PresenceUser is a user as seen by the presence layer.
type PresenceUser struct {
	UserId string         `json:"userId"`
	Name   string         `json:"name"`
	Role   string         `json:"role,omitempty"`
	Status PresenceStatus `json:"status,omitempty"`
}
