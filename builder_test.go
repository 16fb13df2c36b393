package trustcore

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestBuildRequiresRedis(t *testing.T) {
	up := newMockUserProvider()

	_, err := New().
		WithConfig(testConfig()).
		WithUserProvider(up).
		Build()
	if err == nil || !strings.Contains(err.Error(), "redis") {
		t.Fatalf("Build without redis: got %v, want redis client error", err)
	}
}

func TestBuildRequiresUserProvider(t *testing.T) {
	mr, client := newTestRedis(t)
	defer mr.Close()

	_, err := New().
		WithConfig(testConfig()).
		WithRedis(client).
		Build()
	if err == nil || !strings.Contains(err.Error(), "user provider") {
		t.Fatalf("Build without user provider: got %v, want user provider error", err)
	}
}

func TestBuildRejectsSecondUse(t *testing.T) {
	mr, client := newTestRedis(t)
	defer mr.Close()
	up := newMockUserProvider()

	b := New().
		WithConfig(testConfig()).
		WithRedis(client).
		WithUserProvider(up)

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("second Build on the same builder succeeded")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	mr, client := newTestRedis(t)
	defer mr.Close()
	up := newMockUserProvider()

	cfg := testConfig()
	cfg.Session.SealKey = []byte("short")

	_, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(up).
		Build()
	if err == nil {
		t.Fatal("Build accepted a 5-byte seal key")
	}
}

func TestWithMetricsEnabledOverride(t *testing.T) {
	mr, client := newTestRedis(t)
	defer mr.Close()
	up := newMockUserProvider()

	cfg := testConfig()
	cfg.Metrics.Enabled = true

	engine, err := New().
		WithConfig(cfg).
		WithMetricsEnabled(false).
		WithRedis(client).
		WithUserProvider(up).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	engine.metrics.Inc(MetricLoginSuccess)
	if got := engine.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 0 {
		t.Fatalf("counter moved to %d with metrics disabled", got)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := testConfig()
	if err := valid.Validate(); err != nil {
		t.Fatalf("baseline config invalid: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero session duration", func(c *Config) { c.Session.Duration = 0 }},
		{"short seal key", func(c *Config) { c.Session.SealKey = bytes.Repeat([]byte{1}, 16) }},
		{"zero lockout threshold", func(c *Config) { c.Lockout.Threshold = 0 }},
		{"zero lockout duration", func(c *Config) { c.Lockout.Duration = 0 }},
		{"bad totp digits", func(c *Config) { c.TwoFactor.Digits = 7 }},
		{"zero totp period", func(c *Config) { c.TwoFactor.Period = 0 }},
		{"too many backup codes", func(c *Config) { c.TwoFactor.BackupCodeCount = 33 }},
		{"zero remember ttl", func(c *Config) { c.RememberMe.TTL = 0 }},
		{"zero impersonation cutoff", func(c *Config) { c.Impersonation.MaxDuration = 0 }},
		{"zero unlock ttl", func(c *Config) { c.Unlock.TokenTTL = 0 }},
		{"zero unlock attempts", func(c *Config) { c.Unlock.MaxAttempts = 0 }},
		{"zero challenge ttl", func(c *Config) { c.Challenge.TTL = 0 }},
		{"zero breaker failure threshold", func(c *Config) { c.Mail.FailureThreshold = 0 }},
		{"zero breaker reset timeout", func(c *Config) { c.Mail.ResetTimeout = 0 }},
		{"zero breaker probe budget", func(c *Config) { c.Mail.HalfOpenMaxRequests = 0 }},
		{"token without ttl", func(c *Config) {
			c.Token.Enabled = true
			c.Token.AccessTTL = 0
			c.Token.SigningMethod = "hs256"
		}},
		{"token with unknown method", func(c *Config) {
			c.Token.Enabled = true
			c.Token.AccessTTL = time.Minute
			c.Token.SigningMethod = "rs256"
		}},
	}

	for _, tc := range cases {
		cfg := testConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate accepted the config", tc.name)
		}
	}
}

func TestConfigCloneIsolation(t *testing.T) {
	mr, client := newTestRedis(t)
	defer mr.Close()
	up := newMockUserProvider()

	cfg := testConfig()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(up).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	seedUser(t, engine, up, "u1", "u1@example.com", "correct horse battery", "USER")

	// Mutating the caller's copy after Build must not reach the engine.
	cfg.Session.SealKey[0] ^= 0xff
	cfg.Lockout.Threshold = 999

	sealed, err := engine.CreateSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	data, _ := engine.GetSession(context.Background(), sealed)
	if data.UserID != "u1" {
		t.Fatalf("session did not survive caller-side config mutation: %+v", data)
	}
}
