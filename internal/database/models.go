package database

import "time"

type User struct {
	Id       string
	Name     string
	Role     string
	LastSeen *time.Time
}
