package trustcore

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/relathq/trustcore/internal"
	"github.com/relathq/trustcore/rbac"
)

func backupCodeHash(code string) [32]byte {
	return internal.HashBytes([]byte(code))
}

type mockUserProvider struct {
	users       map[string]UserRecord
	byEmail     map[string]string
	totpRecords map[string]TwoFactorRecord
	backupCodes map[string][]BackupCodeRecord
	updateErr   error
	mu          sync.Mutex

	getByEmailCalls         int
	getByIDCalls            int
	incrementCalls          int
	resetCalls              int
	setLockedCalls          int
	clearLockCalls          int
	touchCalls              int
	saveSecretCalls         int
	getSecretCalls          int
	markVerifiedCalls       int
	enableTwoFactorCalls    int
	disableTwoFactorCalls   int
	replaceBackupCodesCalls int
	consumeBackupCodeCalls  int
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{
		users:       make(map[string]UserRecord),
		byEmail:     make(map[string]string),
		totpRecords: make(map[string]TwoFactorRecord),
		backupCodes: make(map[string][]BackupCodeRecord),
	}
}

func (m *mockUserProvider) addUser(user UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.UserID] = user
	m.byEmail[user.Email] = user.UserID
}

func (m *mockUserProvider) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByEmailCalls++

	userID, ok := m.byEmail[email]
	if !ok {
		return UserRecord{}, errors.New("not found")
	}
	return m.users[userID], nil
}

func (m *mockUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByIDCalls++

	user, ok := m.users[userID]
	if !ok {
		return UserRecord{}, errors.New("not found")
	}
	return user, nil
}

func (m *mockUserProvider) IncrementFailedLogins(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incrementCalls++

	if m.updateErr != nil {
		return 0, m.updateErr
	}
	user, ok := m.users[userID]
	if !ok {
		return 0, errors.New("not found")
	}
	user.FailedLoginAttempts++
	m.users[userID] = user
	return user.FailedLoginAttempts, nil
}

func (m *mockUserProvider) ResetFailedLogins(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCalls++

	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.FailedLoginAttempts = 0
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) SetLockedUntil(_ context.Context, userID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLockedCalls++

	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.LockedUntil = &until
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) ClearLock(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLockCalls++

	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.LockedUntil = nil
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchCalls++

	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.LastLoginAt = &at
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) SaveTwoFactorSecret(_ context.Context, userID string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveSecretCalls++

	m.totpRecords[userID] = TwoFactorRecord{Secret: secret}
	return nil
}

func (m *mockUserProvider) GetTwoFactorSecret(_ context.Context, userID string) (*TwoFactorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getSecretCalls++

	record, ok := m.totpRecords[userID]
	if !ok {
		return nil, errors.New("not found")
	}
	out := record
	return &out, nil
}

func (m *mockUserProvider) MarkTwoFactorVerified(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markVerifiedCalls++

	record := m.totpRecords[userID]
	record.Verified = true
	m.totpRecords[userID] = record

	user := m.users[userID]
	user.TwoFactorVerified = true
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) EnableTwoFactor(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enableTwoFactorCalls++

	record := m.totpRecords[userID]
	record.Enabled = true
	m.totpRecords[userID] = record

	user := m.users[userID]
	user.TwoFactorEnabled = true
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) DisableTwoFactor(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disableTwoFactorCalls++

	delete(m.totpRecords, userID)
	user := m.users[userID]
	user.TwoFactorEnabled = false
	user.TwoFactorVerified = false
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) ReplaceBackupCodes(_ context.Context, userID string, codes []BackupCodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceBackupCodesCalls++

	m.backupCodes[userID] = codes
	return nil
}

func (m *mockUserProvider) ConsumeBackupCode(_ context.Context, userID string, codeHash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumeBackupCodeCalls++

	codes := m.backupCodes[userID]
	for i, record := range codes {
		if bytes.Equal(record.Hash[:], codeHash[:]) {
			m.backupCodes[userID] = append(codes[:i], codes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type mockRoleProvider struct {
	grants map[string][]rbac.Grant

	countErr error
}

func newMockRoleProvider() *mockRoleProvider {
	return &mockRoleProvider{grants: make(map[string][]rbac.Grant)}
}

func (m *mockRoleProvider) GrantsForUser(_ context.Context, userID string) ([]rbac.Grant, error) {
	return m.grants[userID], nil
}

func (m *mockRoleProvider) CountAdminHolders(_ context.Context, organizationID *string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}

	h := rbac.NewHierarchy()
	seen := make(map[string]bool)
	for userID, grants := range m.grants {
		for _, grant := range grants {
			if organizationID == nil {
				if grant.PlatformScoped() && h.AdminEquivalent(grant.Role, false) {
					seen[userID] = true
				}
				continue
			}
			if grant.OrganizationID != nil && *grant.OrganizationID == *organizationID &&
				h.AdminEquivalent(grant.Role, true) {
				seen[userID] = true
			}
		}
	}
	return len(seen), nil
}

type mockMailer struct {
	mu       sync.Mutex
	sent     []Message
	sendErr  error
	failNext int
}

func (m *mockMailer) Send(_ context.Context, msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		return "", errors.New("smtp unavailable")
	}
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, msg)
	return "msg-1", nil
}

func (m *mockMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Session.SealKey = bytes.Repeat([]byte{0x7f}, 32)
	// Cheap hashing keeps the suite fast; production defaults are far
	// heavier.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newTestEngine(t *testing.T, cfg Config, up UserProvider) (*Engine, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(up).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return engine, mr, func() {
		engine.Close()
		mr.Close()
	}
}

func newTestEngineMail(t *testing.T, cfg Config, up UserProvider, mailer Mailer) (*Engine, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(up).
		WithMailer(mailer).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return engine, mr, func() {
		engine.Close()
		mr.Close()
	}
}

func seedUser(t *testing.T, engine *Engine, up *mockUserProvider, userID, email, pass string, role rbac.Role) {
	t.Helper()

	hash, err := engine.passwordHash.Hash(pass)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	up.addUser(UserRecord{
		UserID:       userID,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	})
}

func loggedInSession(t *testing.T, engine *Engine, userID string) string {
	t.Helper()

	sealed, err := engine.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return sealed
}
