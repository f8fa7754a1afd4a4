package models

import "time"

// RateLimitWindow is a fixed-window request counter for one identity on one
// endpoint. Only one window per (identity, endpoint) is current at a time.
type RateLimitWindow struct {
	ID           string     `db:"id" json:"id"`
	Identity     string     `db:"identity" json:"identity"`
	Endpoint     string     `db:"endpoint" json:"endpoint"`
	WindowStart  time.Time  `db:"window_start" json:"window_start"`
	WindowEnd    time.Time  `db:"window_end" json:"window_end"`
	RequestCount int        `db:"request_count" json:"request_count"`
	BlockedUntil *time.Time `db:"blocked_until" json:"blocked_until,omitempty"`
	IsCurrent    bool       `db:"is_current" json:"is_current"`
}

// IsBlocked reports whether the window is serving a ban at now.
func (w *RateLimitWindow) IsBlocked(now time.Time) bool {
	return w.BlockedUntil != nil && w.BlockedUntil.After(now)
}

// RateLimitPolicy configures one endpoint's budget.
type RateLimitPolicy struct {
	MaxRequests int
	Window      time.Duration
	Ban         time.Duration
}

// RateDecision is the outcome of a rate-limit check. Remaining is -1 when the
// limiter could not reach its store and let the request through.
type RateDecision struct {
	Allowed   bool       `json:"allowed"`
	Remaining int        `json:"remaining"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

// Err returns ErrRateLimited for a denied decision and nil otherwise.
func (d RateDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrRateLimited
}
