package auth_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BradenHooton/torneo/internal/models"
	"github.com/google/uuid"
)

type fakeRefreshStore struct {
	mu      sync.Mutex
	rows    map[string]*models.RefreshToken
	failGet error
}

func newFakeRefreshStore() *fakeRefreshStore {
	return &fakeRefreshStore{rows: make(map[string]*models.RefreshToken)}
}

func (s *fakeRefreshStore) Create(_ context.Context, t *models.RefreshToken) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	cp.ID = uuid.New().String()
	s.rows[cp.TokenHash] = &cp
	out := cp
	return &out, nil
}

func (s *fakeRefreshStore) GetByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	row, ok := s.rows[hash]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *row
	return &out, nil
}

func (s *fakeRefreshStore) Revoke(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == id && !row.IsRevoked {
			row.IsRevoked = true
			row.RevokedAt = &at
		}
	}
	return nil
}

func (s *fakeRefreshStore) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if row.UserID == userID && !row.IsRevoked {
			row.IsRevoked = true
			row.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (s *fakeRefreshStore) DeleteRevokedExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, row := range s.rows {
		if row.IsRevoked && row.ExpiresAt.Before(now) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

func (s *fakeRefreshStore) only() *models.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		return row
	}
	return nil
}

type fakeRevocationStore struct {
	mu      sync.Mutex
	rows    map[string]*models.RevokedToken
	lookups int
	failErr error
}

func newFakeRevocationStore() *fakeRevocationStore {
	return &fakeRevocationStore{rows: make(map[string]*models.RevokedToken)}
}

func (s *fakeRevocationStore) RevokeToken(_ context.Context, t *models.RevokedToken) (*models.RevokedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rows[t.JTI]; ok {
		out := *existing
		return &out, nil
	}
	cp := *t
	cp.ID = uuid.New().String()
	s.rows[t.JTI] = &cp
	out := cp
	return &out, nil
}

func (s *fakeRevocationStore) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.failErr != nil {
		return false, s.failErr
	}
	_, ok := s.rows[jti]
	return ok, nil
}

func (s *fakeRevocationStore) CleanupExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, row := range s.rows {
		if row.ExpiresAt.Before(now) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (f *fakeUsers) set(u *models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.users[u.ID] = &cp
}

type recordingAudit struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (a *recordingAudit) Log(_ context.Context, e models.SecurityEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAudit) kinds() []models.EventKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.EventKind, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Kind)
	}
	return out
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]bool
	failGet bool
}

func (c *fakeCache) Get(_ context.Context, jti string) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return false, false, errors.New("redis down")
	}
	v, ok := c.entries[jti]
	return v, ok, nil
}

func (c *fakeCache) MarkRevoked(_ context.Context, jti string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[jti] = true
	return nil
}

func (c *fakeCache) MarkNotRevoked(_ context.Context, jti string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[jti]; !ok {
		c.entries[jti] = false
	}
	return nil
}
