package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventKind enumerates security journal entries.
type EventKind string

const (
	EventLoginSuccess       EventKind = "login_success"
	EventLoginFailed        EventKind = "login_failed"
	EventLogout             EventKind = "logout"
	EventPasswordChanged    EventKind = "password_changed"
	EventAccountLocked      EventKind = "account_locked"
	EventAccountUnlocked    EventKind = "account_unlocked"
	EventTokenRevoked       EventKind = "token_revoked"
	EventSuspiciousActivity EventKind = "suspicious_activity"
	EventRegistered         EventKind = "registered"
	EventEmailVerified      EventKind = "email_verified"
)

// SecurityEvent is an append-only journal entry.
type SecurityEvent struct {
	ID        string      `db:"id" json:"id"`
	Kind      EventKind   `db:"event_kind" json:"event_kind"`
	UserID    *string     `db:"user_id" json:"user_id,omitempty"`
	Identity  *string     `db:"identity" json:"identity,omitempty"`
	IPAddress *string     `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent *string     `db:"user_agent" json:"user_agent,omitempty"`
	Detail    EventDetail `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// EventDetail holds free-form context for an event, stored as JSONB.
type EventDetail map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *EventDetail) Scan(value interface{}) error {
	if value == nil {
		*d = make(EventDetail)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("event detail: unsupported type %T", value)
	}

	m := make(map[string]interface{})
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*d = EventDetail(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetail) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}
