package trustcore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/relathq/trustcore/breaker"
	"github.com/relathq/trustcore/internal/rate"
	"github.com/relathq/trustcore/jwt"
	"github.com/relathq/trustcore/password"
	"github.com/relathq/trustcore/rbac"
	"github.com/relathq/trustcore/session"
)

// Builder defines a public type used by trustcore APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	roleProvider RoleProvider
	mailer       Mailer
	auditSink    AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSealKey sets the 32-byte key protecting sealed session records.
func (b *Builder) WithSealKey(key []byte) *Builder {
	b.config.Session.SealKey = cloneBytes(key)
	return b
}

// WithUserProvider describes the withuserprovider operation and its observable behavior.
//
// WithUserProvider may return an error when input validation, dependency calls, or security checks fail.
// WithUserProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithRoleProvider describes the withroleprovider operation and its observable behavior.
//
// WithRoleProvider may return an error when input validation, dependency calls, or security checks fail.
// WithRoleProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRoleProvider(rp RoleProvider) *Builder {
	b.roleProvider = rp
	return b
}

// WithMailer describes the withmailer operation and its observable behavior.
//
// WithMailer may return an error when input validation, dependency calls, or security checks fail.
// WithMailer does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	// -------- SESSION SEALING --------
	sealer, err := session.NewSealer(cfg.Session.SealKey)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cloneConfig(cfg),
		sealer:    sealer,
		hierarchy: rbac.NewHierarchy(),
	}

	engine.userProvider = b.userProvider
	engine.roleProvider = b.roleProvider
	engine.mailer = b.mailer

	engine.deviceStore = session.NewStore(b.redis, cfg.Session.RedisPrefix)
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle:   cfg.RateLimit.EnableIPThrottle,
		MaxLoginAttempts:   cfg.RateLimit.MaxLoginAttempts,
		LoginWindow:        cfg.RateLimit.LoginCooldown,
		MaxUnlockRequests:  cfg.RateLimit.MaxUnlockRequests,
		UnlockWindow:       cfg.RateLimit.UnlockCooldown,
		MaxTwoFactorChecks: cfg.TwoFactor.SetupMaxAttempts,
		TwoFactorWindow:    cfg.TwoFactor.SetupCooldown,
	})
	engine.tokenStore = newOneShotTokenStore(b.redis)
	engine.rememberStore = newRememberStore(b.redis)
	engine.challengeStore = newLoginChallengeStore(b.redis)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.mailBreaker = breaker.New(breaker.Config{
		FailureThreshold:    cfg.Mail.FailureThreshold,
		SuccessThreshold:    cfg.Mail.SuccessThreshold,
		ResetTimeout:        cfg.Mail.ResetTimeout,
		HalfOpenMaxRequests: cfg.Mail.HalfOpenMaxRequests,
	})

	ph, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	if cfg.Token.Enabled {
		jm, err := jwt.NewManager(jwt.Config{
			AccessTTL:     cfg.Token.AccessTTL,
			SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
			PublicKey:     cloneBytes(cfg.Token.PublicKey),
			Issuer:        cfg.Token.Issuer,
		})
		if err != nil {
			return nil, err
		}
		engine.jwtManager = jm
	}

	b.built = true

	return engine, nil
}
