package models

import (
	"time"
)

// Roles recognised by the tournament backend.
const (
	RoleAdmin      = "admin"
	RoleTeamLeader = "team_leader"
	RoleSpectator  = "spectator"
)

type User struct {
	ID            string
	Email         string
	PasswordHash  string
	Name          string
	Role          string
	Active        bool
	EmailVerified bool
	LastLoginAt   *time.Time
	LastLoginIP   *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
