package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/BradenHooton/torneo/internal/auth"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc           func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc        func(ctx context.Context, email string) (*models.User, error)
	CreateFunc            func(ctx context.Context, user *models.User) (*models.User, error)
	RecordLoginFunc       func(ctx context.Context, id string, at time.Time, ip string) error
	MarkEmailVerifiedFunc func(ctx context.Context, id string) error
	UpdatePasswordFunc    func(ctx context.Context, id, passwordHash string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) RecordLogin(ctx context.Context, id string, at time.Time, ip string) error {
	if m.RecordLoginFunc != nil {
		return m.RecordLoginFunc(ctx, id, at, ip)
	}
	return nil
}

func (m *MockUserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	if m.MarkEmailVerifiedFunc != nil {
		return m.MarkEmailVerifiedFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

// MockTokenService implements TokenService for testing
type MockTokenService struct {
	IssueFunc              func(ctx context.Context, user *models.User, ip, userAgent string) (*auth.TokenPair, error)
	RefreshFunc            func(ctx context.Context, refreshToken, ip, userAgent string) (*auth.AccessGrant, error)
	RevokeFunc             func(ctx context.Context, jti string, kind models.TokenKind, userID string, expiresAt time.Time, reason string) (*models.RevokedToken, error)
	RevokeRefreshTokenFunc func(ctx context.Context, refreshToken, userID string) error
	RevokeAllForUserFunc   func(ctx context.Context, userID, reason string) (int64, error)
}

func (m *MockTokenService) Issue(ctx context.Context, user *models.User, ip, userAgent string) (*auth.TokenPair, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, user, ip, userAgent)
	}
	return &auth.TokenPair{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer", ExpiresIn: 900}, nil
}

func (m *MockTokenService) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*auth.AccessGrant, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken, ip, userAgent)
	}
	return &auth.AccessGrant{AccessToken: "access", TokenType: "Bearer", ExpiresIn: 900}, nil
}

func (m *MockTokenService) Revoke(ctx context.Context, jti string, kind models.TokenKind, userID string, expiresAt time.Time, reason string) (*models.RevokedToken, error) {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, jti, kind, userID, expiresAt, reason)
	}
	return &models.RevokedToken{JTI: jti, Kind: kind, UserID: userID, ExpiresAt: expiresAt, Reason: reason}, nil
}

func (m *MockTokenService) RevokeRefreshToken(ctx context.Context, refreshToken, userID string) error {
	if m.RevokeRefreshTokenFunc != nil {
		return m.RevokeRefreshTokenFunc(ctx, refreshToken, userID)
	}
	return nil
}

func (m *MockTokenService) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	if m.RevokeAllForUserFunc != nil {
		return m.RevokeAllForUserFunc(ctx, userID, reason)
	}
	return 0, nil
}

// MockEmailVerificationRepository implements EmailVerificationRepository for testing
type MockEmailVerificationRepository struct {
	CreateFunc            func(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error)
	GetByTokenHashFunc    func(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error)
	MarkAsUsedFunc        func(ctx context.Context, id string) error
	DeleteByUserIDFunc    func(ctx context.Context, userID string) error
	CleanupExpiredFunc    func(ctx context.Context, cutoff time.Time) (int64, error)
	GetPendingByEmailFunc func(ctx context.Context, email string) (*models.EmailVerificationToken, error)
}

func (m *MockEmailVerificationRepository) Create(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, tokenHash, email, expiresAt)
	}
	return &models.EmailVerificationToken{ID: "token_123", UserID: userID, TokenHash: tokenHash, Email: email, ExpiresAt: expiresAt}, nil
}

func (m *MockEmailVerificationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockEmailVerificationRepository) MarkAsUsed(ctx context.Context, id string) error {
	if m.MarkAsUsedFunc != nil {
		return m.MarkAsUsedFunc(ctx, id)
	}
	return nil
}

func (m *MockEmailVerificationRepository) DeleteByUserID(ctx context.Context, userID string) error {
	if m.DeleteByUserIDFunc != nil {
		return m.DeleteByUserIDFunc(ctx, userID)
	}
	return nil
}

func (m *MockEmailVerificationRepository) CleanupExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.CleanupExpiredFunc != nil {
		return m.CleanupExpiredFunc(ctx, cutoff)
	}
	return 0, nil
}

func (m *MockEmailVerificationRepository) GetPendingByEmail(ctx context.Context, email string) (*models.EmailVerificationToken, error) {
	if m.GetPendingByEmailFunc != nil {
		return m.GetPendingByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

// MockVerificationSender implements VerificationSender for testing
type MockVerificationSender struct {
	SendVerificationEmailFunc func(ctx context.Context, userID, email string) error
}

func (m *MockVerificationSender) SendVerificationEmail(ctx context.Context, userID, email string) error {
	if m.SendVerificationEmailFunc != nil {
		return m.SendVerificationEmailFunc(ctx, userID, email)
	}
	return nil
}

// RecordingNotifier implements Notifier and keeps every request.
type RecordingNotifier struct {
	mu            sync.Mutex
	UnlockCodes   []string
	Verifications []string
	Err           error
}

func (n *RecordingNotifier) SendUnlockCode(ctx context.Context, to, name, code string, lockedUntil, codeExpiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.UnlockCodes = append(n.UnlockCodes, code)
	return n.Err
}

func (n *RecordingNotifier) SendVerificationEmail(ctx context.Context, to, token string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Verifications = append(n.Verifications, token)
	return n.Err
}

func (n *RecordingNotifier) UnlockCodeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.UnlockCodes)
}

// RecordingAuditor implements SecurityAuditor and keeps every event.
type RecordingAuditor struct {
	mu     sync.Mutex
	Events []models.SecurityEvent
}

func (a *RecordingAuditor) Log(ctx context.Context, event models.SecurityEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Events = append(a.Events, event)
}

// Kinds returns the recorded event kinds in order.
func (a *RecordingAuditor) Kinds() []models.EventKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	kinds := make([]models.EventKind, 0, len(a.Events))
	for _, e := range a.Events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// Count returns how many events of kind were recorded.
func (a *RecordingAuditor) Count(kind models.EventKind) int {
	n := 0
	for _, k := range a.Kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// TestClock is a settable time source.
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewTestClock(start time.Time) *TestClock {
	return &TestClock{now: start}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MemoryLoginAttemptRepository is an in-memory LoginAttemptRepository.
type MemoryLoginAttemptRepository struct {
	mu       sync.Mutex
	seq      int
	attempts []*models.LoginAttempt
	resets   map[string]time.Time
	Err      error
}

func NewMemoryLoginAttemptRepository() *MemoryLoginAttemptRepository {
	return &MemoryLoginAttemptRepository{resets: make(map[string]time.Time)}
}

func (r *MemoryLoginAttemptRepository) Create(ctx context.Context, a *models.LoginAttempt) (*models.LoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	r.seq++
	cp := *a
	cp.ID = "attempt-" + strconv.Itoa(r.seq)
	r.attempts = append(r.attempts, &cp)
	return &cp, nil
}

func (r *MemoryLoginAttemptRepository) CountFailuresSince(ctx context.Context, identity string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	if reset, ok := r.resets[identity]; ok && reset.After(since) {
		since = reset
	}
	n := 0
	for _, a := range r.attempts {
		if a.Identity == identity && !a.Success && !a.AttemptedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryLoginAttemptRepository) ListSince(ctx context.Context, identity string, since time.Time) ([]*models.LoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.LoginAttempt
	for _, a := range r.attempts {
		if a.Identity == identity && !a.AttemptedAt.Before(since) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptedAt.After(out[j].AttemptedAt) })
	return out, nil
}

func (r *MemoryLoginAttemptRepository) MarkReset(ctx context.Context, identity string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.resets[identity]; !ok || at.After(prev) {
		r.resets[identity] = at
	}
	return nil
}

func (r *MemoryLoginAttemptRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.attempts[:0]
	var n int64
	for _, a := range r.attempts {
		if a.AttemptedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.attempts = kept
	return n, nil
}

// Len returns the number of stored attempts.
func (r *MemoryLoginAttemptRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

// MemoryLockoutRepository is an in-memory LockoutRepository that keeps at
// most one active lockout per account.
type MemoryLockoutRepository struct {
	mu       sync.Mutex
	seq      int
	lockouts []*models.AccountLockout
}

func NewMemoryLockoutRepository() *MemoryLockoutRepository {
	return &MemoryLockoutRepository{}
}

func (r *MemoryLockoutRepository) Create(ctx context.Context, l *models.AccountLockout) (*models.AccountLockout, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.lockouts {
		if existing.AccountID != l.AccountID || !existing.IsActive {
			continue
		}
		if !existing.LockedUntil.After(l.LockedAt) {
			at := l.LockedAt
			existing.IsActive = false
			existing.UnlockedAt = &at
			continue
		}
		cp := *existing
		return &cp, false, nil
	}

	r.seq++
	cp := *l
	cp.ID = "lockout-" + strconv.Itoa(r.seq)
	cp.IsActive = true
	r.lockouts = append(r.lockouts, &cp)
	out := cp
	return &out, true, nil
}

func (r *MemoryLockoutRepository) GetActive(ctx context.Context, accountID string) (*models.AccountLockout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lockouts {
		if l.AccountID == accountID && l.IsActive {
			cp := *l
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *MemoryLockoutRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lockouts {
		if l.ID == id && l.IsActive {
			l.IsActive = false
			l.UnlockedAt = &at
			return nil
		}
	}
	return models.ErrNotFound
}

func (r *MemoryLockoutRepository) History(ctx context.Context, accountID string, limit int) ([]*models.AccountLockout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AccountLockout
	for i := len(r.lockouts) - 1; i >= 0 && len(out) < limit; i-- {
		if r.lockouts[i].AccountID == accountID {
			cp := *r.lockouts[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryLockoutRepository) DeactivateLapsed(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, l := range r.lockouts {
		if l.IsActive && !l.LockedUntil.After(now) && !l.UnlockCodeExpiresAt.After(now) {
			at := now
			l.IsActive = false
			l.UnlockedAt = &at
			n++
		}
	}
	return n, nil
}

// Count returns how many lockouts were ever created for accountID.
func (r *MemoryLockoutRepository) Count(accountID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.lockouts {
		if l.AccountID == accountID {
			n++
		}
	}
	return n
}

// MemoryRateLimitRepository is an in-memory RateLimitRepository with the
// same conditional-update semantics as the SQL one.
type MemoryRateLimitRepository struct {
	mu      sync.Mutex
	seq     int
	windows []*models.RateLimitWindow
	Err     error
}

func NewMemoryRateLimitRepository() *MemoryRateLimitRepository {
	return &MemoryRateLimitRepository{}
}

func (r *MemoryRateLimitRepository) GetLive(ctx context.Context, identity, endpoint string, now time.Time) (*models.RateLimitWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, w := range r.windows {
		if w.Identity == identity && w.Endpoint == endpoint && w.IsCurrent && w.WindowEnd.After(now) {
			cp := *w
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *MemoryRateLimitRepository) CreateWindow(ctx context.Context, identity, endpoint string, start, end time.Time) (*models.RateLimitWindow, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, false, r.Err
	}
	for _, w := range r.windows {
		if w.Identity != identity || w.Endpoint != endpoint || !w.IsCurrent {
			continue
		}
		if !w.WindowEnd.After(start) {
			w.IsCurrent = false
			continue
		}
		return nil, false, nil
	}

	r.seq++
	w := &models.RateLimitWindow{
		ID:           "window-" + strconv.Itoa(r.seq),
		Identity:     identity,
		Endpoint:     endpoint,
		WindowStart:  start,
		WindowEnd:    end,
		RequestCount: 1,
		IsCurrent:    true,
	}
	r.windows = append(r.windows, w)
	cp := *w
	return &cp, true, nil
}

func (r *MemoryRateLimitRepository) Increment(ctx context.Context, id string, now time.Time, max int, blockUntil time.Time) (*models.RateLimitWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, w := range r.windows {
		if w.ID != id || !w.IsCurrent || !w.WindowEnd.After(now) || w.IsBlocked(now) {
			continue
		}
		w.RequestCount++
		if w.RequestCount > max {
			b := blockUntil
			w.BlockedUntil = &b
			if b.After(w.WindowEnd) {
				w.WindowEnd = b
			}
		}
		cp := *w
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

func (r *MemoryRateLimitRepository) ListCurrent(ctx context.Context, identity string) ([]*models.RateLimitWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RateLimitWindow
	for _, w := range r.windows {
		if w.Identity == identity && w.IsCurrent {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRateLimitRepository) Delete(ctx context.Context, identity, endpoint string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.windows[:0]
	var n int64
	for _, w := range r.windows {
		if w.Identity == identity && (endpoint == "" || w.Endpoint == endpoint) {
			n++
			continue
		}
		kept = append(kept, w)
	}
	r.windows = kept
	return n, nil
}

func (r *MemoryRateLimitRepository) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.windows[:0]
	var n int64
	for _, w := range r.windows {
		if w.WindowEnd.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, w)
	}
	r.windows = kept
	return n, nil
}

// MemorySecurityEventRepository is an in-memory SecurityEventRepository.
type MemorySecurityEventRepository struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
	Err    error
}

func (r *MemorySecurityEventRepository) Create(ctx context.Context, e *models.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	cp := *e
	r.events = append(r.events, &cp)
	return nil
}

func (r *MemorySecurityEventRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SecurityEvent
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if e := r.events[i]; e.UserID != nil && *e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemorySecurityEventRepository) ListByKindSince(ctx context.Context, kind models.EventKind, since time.Time, limit int) ([]*models.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SecurityEvent
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if e := r.events[i]; e.Kind == kind && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemorySecurityEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	var n int64
	for _, e := range r.events {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return n, nil
}

// NewTestUser returns a verified, active spectator.
func NewTestUser(id, email, name string) *models.User {
	now := time.Now()
	return &models.User{
		ID:            id,
		Email:         email,
		Name:          name,
		Role:          models.RoleSpectator,
		Active:        true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewTestUserWithPassword returns NewTestUser with the given hash.
func NewTestUserWithPassword(id, email, name, passwordHash string) *models.User {
	user := NewTestUser(id, email, name)
	user.PasswordHash = passwordHash
	return user
}

// NewTestEmailVerificationToken returns an unused token.
func NewTestEmailVerificationToken(id, userID, email string, expiresAt time.Time) *models.EmailVerificationToken {
	return &models.EmailVerificationToken{
		ID:        id,
		UserID:    userID,
		Email:     email,
		ExpiresAt: expiresAt,
		CreatedAt: expiresAt.Add(-24 * time.Hour),
	}
}

// NewTokenClaims returns access claims expiring in 15 minutes.
func NewTokenClaims(userID, email, role string) *models.TokenClaims {
	claims := &models.TokenClaims{
		Kind:   models.TokenKindAccess,
		UserID: userID,
		Email:  email,
		Role:   role,
	}
	claims.ID = "jti-" + userID
	claims.Subject = userID
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(15 * time.Minute))
	return claims
}

// NewDiscardLogger returns a logger that drops everything.
func NewDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
