package trustcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/relathq/trustcore/rbac"
)

func enrollTwoFactor(t *testing.T, engine *Engine, sealed string) (*TwoFactorSetup, string) {
	t.Helper()

	setup, err := engine.SetupTwoFactor(context.Background(), sealed)
	if err != nil {
		t.Fatalf("SetupTwoFactor failed: %v", err)
	}

	code, err := totp.GenerateCode(setup.SecretBase32, time.Now().UTC())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}

	resealed, err := engine.ConfirmTwoFactor(context.Background(), sealed, code)
	if err != nil {
		t.Fatalf("ConfirmTwoFactor failed: %v", err)
	}
	return setup, resealed
}

func TestTwoFactorEnrollment(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	sealed := loggedInSession(t, engine, "u1")

	setup, err := engine.SetupTwoFactor(context.Background(), sealed)
	if err != nil {
		t.Fatalf("SetupTwoFactor failed: %v", err)
	}
	if setup.SecretBase32 == "" {
		t.Fatal("expected a base32 secret")
	}
	if !strings.HasPrefix(setup.OTPAuthURL, "otpauth://totp/") {
		t.Fatalf("unexpected otpauth URL %q", setup.OTPAuthURL)
	}
	if !strings.HasPrefix(setup.QRCodeDataURL, "data:image/png;base64,") {
		t.Fatalf("unexpected QR data URL prefix %q", setup.QRCodeDataURL[:32])
	}
	if len(setup.BackupCodes) != 10 {
		t.Fatalf("backup code count = %d, want 10", len(setup.BackupCodes))
	}
	if strings.ReplaceAll(setup.ManualEntryKey, " ", "") != setup.SecretBase32 {
		t.Fatalf("manual entry key %q does not match the secret", setup.ManualEntryKey)
	}

	// The secret is saved but not yet active.
	if up.users["u1"].TwoFactorEnabled {
		t.Fatal("two-factor must stay off until confirmed")
	}

	code, err := totp.GenerateCode(setup.SecretBase32, time.Now().UTC())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	resealed, err := engine.ConfirmTwoFactor(context.Background(), sealed, code)
	if err != nil {
		t.Fatalf("ConfirmTwoFactor failed: %v", err)
	}
	if resealed == "" || resealed == sealed {
		t.Fatal("confirmation must rotate and reseal the session")
	}

	if !up.users["u1"].TwoFactorEnabled || !up.users["u1"].TwoFactorVerified {
		t.Fatalf("account not flipped on: %+v", up.users["u1"])
	}
}

func TestSetupTwoFactorRejectsWhenEnabled(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	sealed := loggedInSession(t, engine, "u1")
	enrollTwoFactor(t, engine, sealed)

	if _, err := engine.SetupTwoFactor(context.Background(), sealed); !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("re-setup: got %v, want ErrTwoFactorAlreadyEnabled", err)
	}
}

func TestSetupTwoFactorFeatureDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.TwoFactor.Enabled = false

	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, cfg, up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	sealed := loggedInSession(t, engine, "u1")

	if _, err := engine.SetupTwoFactor(context.Background(), sealed); !errors.Is(err, ErrTwoFactorDisabled) {
		t.Fatalf("got %v, want ErrTwoFactorDisabled", err)
	}
}

func TestSetupTwoFactorRequiresSession(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	if _, err := engine.SetupTwoFactor(context.Background(), "garbage"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
}

func TestSetupTwoFactorThrottled(t *testing.T) {
	cfg := testConfig()
	cfg.TwoFactor.SetupMaxAttempts = 1
	cfg.TwoFactor.SetupCooldown = time.Minute

	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, cfg, up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	sealed := loggedInSession(t, engine, "u1")

	if _, err := engine.SetupTwoFactor(context.Background(), sealed); err != nil {
		t.Fatalf("first setup failed: %v", err)
	}
	if _, err := engine.SetupTwoFactor(context.Background(), sealed); !errors.Is(err, ErrTwoFactorRateLimited) {
		t.Fatalf("second setup: got %v, want ErrTwoFactorRateLimited", err)
	}
}

func TestConfirmTwoFactorWrongCode(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	sealed := loggedInSession(t, engine, "u1")

	if _, err := engine.SetupTwoFactor(context.Background(), sealed); err != nil {
		t.Fatalf("SetupTwoFactor failed: %v", err)
	}

	if _, err := engine.ConfirmTwoFactor(context.Background(), sealed, "000000"); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("got %v, want ErrTwoFactorCodeInvalid", err)
	}
	if up.users["u1"].TwoFactorEnabled {
		t.Fatal("wrong code must not enable two-factor")
	}
}

func TestConfirmTwoFactorWithoutSetup(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	sealed := loggedInSession(t, engine, "u1")

	if _, err := engine.ConfirmTwoFactor(context.Background(), sealed, "123456"); !errors.Is(err, ErrTwoFactorNotConfigured) {
		t.Fatalf("got %v, want ErrTwoFactorNotConfigured", err)
	}
}

func TestDisableTwoFactor(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	sealed := loggedInSession(t, engine, "u1")
	setup, resealed := enrollTwoFactor(t, engine, sealed)

	if _, err := engine.DisableTwoFactor(context.Background(), resealed, "000000"); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("wrong code: got %v, want ErrTwoFactorCodeInvalid", err)
	}

	code, err := totp.GenerateCode(setup.SecretBase32, time.Now().UTC())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if _, err := engine.DisableTwoFactor(context.Background(), resealed, code); err != nil {
		t.Fatalf("DisableTwoFactor failed: %v", err)
	}

	if up.users["u1"].TwoFactorEnabled {
		t.Fatal("two-factor still on after disable")
	}
	if got := engine.MetricsSnapshot().Counters[MetricTOTPDisabled]; got != 1 {
		t.Fatalf("disabled counter = %d, want 1", got)
	}
}

func TestDisableTwoFactorWithBackupCode(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	sealed := loggedInSession(t, engine, "u1")
	setup, resealed := enrollTwoFactor(t, engine, sealed)

	if _, err := engine.DisableTwoFactor(context.Background(), resealed, setup.BackupCodes[0]); err != nil {
		t.Fatalf("DisableTwoFactor with backup code failed: %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricBackupCodeUsed]; got != 1 {
		t.Fatalf("backup code used counter = %d, want 1", got)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	up := newMockUserProvider()
	engine, _, cleanup := newTestEngine(t, testConfig(), up)
	defer cleanup()

	seedUser(t, engine, up, "u1", "alice@example.com", "hunter22", rbac.RoleUser)
	sealed := loggedInSession(t, engine, "u1")
	setup, resealed := enrollTwoFactor(t, engine, sealed)

	code, err := totp.GenerateCode(setup.SecretBase32, time.Now().UTC())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	fresh, err := engine.RegenerateBackupCodes(context.Background(), resealed, code)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(fresh) != 10 {
		t.Fatalf("regenerated count = %d, want 10", len(fresh))
	}

	// Codes from the old set are dead.
	up.mu.Lock()
	records := up.backupCodes["u1"]
	up.mu.Unlock()
	for _, old := range setup.BackupCodes {
		for _, record := range records {
			if record.Hash == backupCodeHash(old) {
				t.Fatalf("old backup code %q survived regeneration", old)
			}
		}
	}
}
