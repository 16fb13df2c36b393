package trustcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/relathq/trustcore/rbac"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

func enableTwoFactorFor(up *mockUserProvider, userID string) {
	up.mu.Lock()
	defer up.mu.Unlock()

	up.totpRecords[userID] = TwoFactorRecord{
		Secret:   []byte(testTOTPSecret),
		Enabled:  true,
		Verified: true,
	}
	user := up.users[userID]
	user.TwoFactorEnabled = true
	user.TwoFactorVerified = true
	up.users[userID] = user
}

func currentTOTPCode(t *testing.T) string {
	t.Helper()

	code, err := totp.GenerateCode(testTOTPSecret, time.Now().UTC())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	return code
}

func TestLoginSuccess(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)

	result, err := engine.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.TwoFactorRequired {
		t.Fatal("did not expect a two-factor challenge")
	}
	if result.SealedSession == "" {
		t.Fatal("expected a sealed session")
	}
	if result.UserID != "u1" {
		t.Fatalf("unexpected user id %q", result.UserID)
	}

	data, _ := engine.GetSession(context.Background(), result.SealedSession)
	if !data.IsLoggedIn || data.UserID != "u1" {
		t.Fatalf("session does not reflect the login: %+v", data)
	}

	if got := engine.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("login success counter = %d, want 1", got)
	}
}

func TestLoginNormalizesEmail(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)

	if _, err := engine.Login(context.Background(), "  Alice@Example.COM ", "hunter22"); err != nil {
		t.Fatalf("Login with unnormalized email failed: %v", err)
	}
}

func TestLoginEmptyInput(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	if _, err := engine.Login(context.Background(), "", "pw"); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty email: got %v, want ErrValidation", err)
	}
	if _, err := engine.Login(context.Background(), "a@b.c", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty password: got %v, want ErrValidation", err)
	}
}

func TestLoginUniformFailure(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)

	// Unknown account and wrong password must be indistinguishable.
	_, unknownErr := engine.Login(context.Background(), "nobody@example.com", "hunter22")
	_, wrongErr := engine.Login(context.Background(), "alice@example.com", "wrong-pw")

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown account: got %v, want ErrInvalidCredentials", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", wrongErr)
	}
}

func TestLoginLockoutAfterThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.Threshold = 3
	cfg.Lockout.Duration = 10 * time.Minute

	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, cfg, up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)

	for i := 0; i < 3; i++ {
		if _, err := engine.Login(context.Background(), "alice@example.com", "wrong-pw"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	if up.setLockedCalls != 1 {
		t.Fatalf("SetLockedUntil calls = %d, want 1", up.setLockedCalls)
	}

	// Even the correct password bounces while the lock holds.
	if _, err := engine.Login(context.Background(), "alice@example.com", "hunter22"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked login: got %v, want ErrAccountLocked", err)
	}

	if got := engine.MetricsSnapshot().Counters[MetricAccountLocked]; got != 1 {
		t.Fatalf("account locked counter = %d, want 1", got)
	}
}

func TestLoginExpiredLockClears(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)

	past := time.Now().Add(-time.Minute)
	up.mu.Lock()
	user := up.users["u1"]
	user.LockedUntil = &past
	user.FailedLoginAttempts = 5
	up.users["u1"] = user
	up.mu.Unlock()

	result, err := engine.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login after lock expiry failed: %v", err)
	}
	if result.SealedSession == "" {
		t.Fatal("expected a sealed session")
	}
	if up.clearLockCalls != 1 {
		t.Fatalf("ClearLock calls = %d, want 1", up.clearLockCalls)
	}
	if up.resetCalls != 1 {
		t.Fatalf("ResetFailedLogins calls = %d, want 1", up.resetCalls)
	}
}

func TestLoginRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxLoginAttempts = 2
	cfg.RateLimit.LoginCooldown = time.Minute

	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, cfg, up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)

	for i := 0; i < 2; i++ {
		if _, err := engine.Login(context.Background(), "alice@example.com", "wrong-pw"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v", i+1, err)
		}
	}

	if _, err := engine.Login(context.Background(), "alice@example.com", "hunter22"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("throttled login: got %v, want ErrLoginRateLimited", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricLoginRateLimited]; got != 1 {
		t.Fatalf("rate limited counter = %d, want 1", got)
	}
}

func TestLoginRateLimitResetsOnSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxLoginAttempts = 3
	cfg.Lockout.Threshold = 10

	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, cfg, up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)

	for i := 0; i < 2; i++ {
		_, _ = engine.Login(context.Background(), "alice@example.com", "wrong-pw")
	}
	if _, err := engine.Login(context.Background(), "alice@example.com", "hunter22"); err != nil {
		t.Fatalf("login under the limit failed: %v", err)
	}

	// The successful login cleared the window; failures start fresh.
	for i := 0; i < 2; i++ {
		if _, err := engine.Login(context.Background(), "alice@example.com", "wrong-pw"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("post-reset attempt %d: got %v, want ErrInvalidCredentials", i+1, err)
		}
	}
}

func TestLoginIssuesChallengeWhenTwoFactorActive(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	enableTwoFactorFor(up, "u1")

	result, err := engine.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.TwoFactorRequired {
		t.Fatal("expected a two-factor challenge")
	}
	if result.Challenge == "" {
		t.Fatal("expected a challenge id")
	}
	if result.SealedSession != "" {
		t.Fatal("no session may exist before the second factor")
	}
}

func TestConfirmLoginWithTOTP(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	enableTwoFactorFor(up, "u1")

	first, err := engine.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	result, err := engine.ConfirmLogin(context.Background(), first.Challenge, currentTOTPCode(t))
	if err != nil {
		t.Fatalf("ConfirmLogin failed: %v", err)
	}
	if result.SealedSession == "" {
		t.Fatal("expected a sealed session after the second factor")
	}

	// The challenge is single-use.
	if _, err := engine.ConfirmLogin(context.Background(), first.Challenge, currentTOTPCode(t)); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("replayed challenge: got %v, want ErrChallengeInvalid", err)
	}
}

func TestConfirmLoginWrongCode(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	enableTwoFactorFor(up, "u1")

	first, err := engine.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := engine.ConfirmLogin(context.Background(), first.Challenge, "000000"); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("wrong code: got %v, want ErrTwoFactorCodeInvalid", err)
	}

	// The challenge survives a single failure; the right code still works.
	if _, err := engine.ConfirmLogin(context.Background(), first.Challenge, currentTOTPCode(t)); err != nil {
		t.Fatalf("ConfirmLogin after one failure failed: %v", err)
	}
}

func TestConfirmLoginAttemptsExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.Challenge.MaxAttempts = 2

	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, cfg, up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	enableTwoFactorFor(up, "u1")

	first, err := engine.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := engine.ConfirmLogin(context.Background(), first.Challenge, "000000"); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("first failure: got %v", err)
	}
	if _, err := engine.ConfirmLogin(context.Background(), first.Challenge, "000000"); !errors.Is(err, ErrChallengeAttemptsExceeded) {
		t.Fatalf("second failure: got %v, want ErrChallengeAttemptsExceeded", err)
	}

	// The burned challenge rejects even the correct code.
	if _, err := engine.ConfirmLogin(context.Background(), first.Challenge, currentTOTPCode(t)); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("burned challenge: got %v, want ErrChallengeInvalid", err)
	}
}

func TestConfirmLoginWithBackupCode(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	enableTwoFactorFor(up, "u1")

	code := "ABCDEFGH23"
	up.mu.Lock()
	up.backupCodes["u1"] = []BackupCodeRecord{{Hash: backupCodeHash(code)}}
	up.mu.Unlock()

	first, err := engine.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	result, err := engine.ConfirmLogin(context.Background(), first.Challenge, code)
	if err != nil {
		t.Fatalf("ConfirmLogin with backup code failed: %v", err)
	}
	if result.SealedSession == "" {
		t.Fatal("expected a sealed session")
	}

	up.mu.Lock()
	remaining := len(up.backupCodes["u1"])
	up.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("backup code not consumed, %d remaining", remaining)
	}
}

func TestConfirmLoginExpiredChallenge(t *testing.T) {
	up := newMockUserProvider()
	engine, mr, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	enableTwoFactorFor(up, "u1")

	first, err := engine.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	mr.FastForward(6 * time.Minute)

	if _, err := engine.ConfirmLogin(context.Background(), first.Challenge, currentTOTPCode(t)); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expired challenge: got %v, want ErrChallengeInvalid", err)
	}
}

func TestLoginWithRememberReturnsToken(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)

	result, err := engine.LoginWithRemember(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("LoginWithRemember failed: %v", err)
	}
	if result.RememberToken == "" {
		t.Fatal("expected a remember token")
	}
}

func TestLoginWithRememberSurvivesChallenge(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	enableTwoFactorFor(up, "u1")

	first, err := engine.LoginWithRemember(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("LoginWithRemember failed: %v", err)
	}
	if !first.TwoFactorRequired {
		t.Fatal("expected a two-factor challenge")
	}

	result, err := engine.ConfirmLogin(context.Background(), first.Challenge, currentTOTPCode(t))
	if err != nil {
		t.Fatalf("ConfirmLogin failed: %v", err)
	}
	if result.RememberToken == "" {
		t.Fatal("remember request must carry across the challenge step")
	}
}
