// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/memory"
	"github.com/holomush/authcore/internal/auth/postgres"
	authredis "github.com/holomush/authcore/internal/auth/redis"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/store"
)

// redisKeyPrefix namespaces rate limit keys in a shared Redis.
const redisKeyPrefix = "authcore:"

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// Connect opens the PostgreSQL pool.
	// Default: store.Connect with store.DefaultConnectOptions
	Connect func(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error)

	// ConnectRedis opens the Redis client.
	// Default: redis.NewClient
	ConnectRedis func(ctx context.Context, url string, logger *slog.Logger) (*goredis.Client, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker) ObservabilityServer

	// Clock supplies time to every service.
	// Default: auth.SystemClock
	Clock auth.Clock

	// Memory backs store_backend=memory. Sharing one value across commands
	// shares their state. Default: fresh stores per command.
	Memory *MemoryStores
}

// ObservabilityServer is the subset of observability.Server used by serve.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registerer() prometheus.Registerer
}

// MemoryStores are the in-process stores.
type MemoryStores struct {
	Identities *memory.IdentityRepository
	Sessions   *memory.SessionRepository
	Attempts   *memory.AttemptStore
	Windows    *memory.WindowStore
}

// NewMemoryStores creates empty stores. reg may be nil.
func NewMemoryStores(reg prometheus.Registerer) *MemoryStores {
	identities := memory.NewIdentityRepository()
	return &MemoryStores{
		Identities: identities,
		Sessions:   memory.NewSessionRepository(identities),
		Attempts:   memory.NewAttemptStore(),
		Windows:    memory.NewWindowStoreWithRegistry(reg),
	}
}

func (d *Deps) connect() func(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	if d.Connect != nil {
		return d.Connect
	}
	return func(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
		return store.Connect(ctx, dsn, store.DefaultConnectOptions(), logger)
	}
}

func (d *Deps) connectRedis() func(ctx context.Context, url string, logger *slog.Logger) (*goredis.Client, error) {
	if d.ConnectRedis != nil {
		return d.ConnectRedis
	}
	return authredis.NewClient
}

func (d *Deps) observabilityServer(addr string, ready observability.ReadinessChecker) ObservabilityServer {
	if d.ObservabilityServerFactory != nil {
		return d.ObservabilityServerFactory(addr, ready)
	}
	return observability.NewServer(addr, ready)
}

func (d *Deps) clock() auth.Clock {
	if d.Clock != nil {
		return d.Clock
	}
	return auth.SystemClock{}
}

// readinessCheck is one backing service the app depends on.
type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

// app bundles the services built from one configuration.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	accounts  *auth.AccountService
	signIn    *auth.SignInService
	validator *auth.SessionValidator
	sessions  *auth.SessionService

	checks  []readinessCheck
	closers []func()
}

// Close releases every connection the app opened.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Ready pings every backing service.
func (a *app) Ready(ctx context.Context) error {
	for _, c := range a.checks {
		if err := c.check(ctx); err != nil {
			return oops.Code("NOT_READY").With("dependency", c.name).Wrap(err)
		}
	}
	return nil
}

// buildApp wires the auth services for cfg. reg receives store collectors
// and may be nil. The caller must Close the app.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger, deps *Deps, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	clock := deps.clock()

	var (
		identities  auth.IdentityRepository
		sessionRepo auth.SessionRepository
		attempts    auth.AttemptStore
		mem         *MemoryStores
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := deps.connect()(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.checks = append(a.checks, readinessCheck{name: "postgres", check: pool.Ping})
		identities = postgres.NewIdentityRepository(pool)
		sessionRepo = postgres.NewSessionRepository(pool)
		attempts = postgres.NewAttemptRepository(pool)
	case config.BackendMemory:
		mem = deps.Memory
		if mem == nil {
			mem = NewMemoryStores(reg)
		}
		identities, sessionRepo, attempts = mem.Identities, mem.Sessions, mem.Attempts
	default:
		return nil, oops.Code("CONFIG_INVALID").With("store_backend", cfg.StoreBackend).Errorf("unknown store backend")
	}

	var windows auth.WindowStore
	switch cfg.RateLimitBackend {
	case config.BackendRedis:
		client, err := deps.connectRedis()(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.checks = append(a.checks, readinessCheck{name: "redis", check: func(ctx context.Context) error {
			return authredis.Ping(ctx, client)
		}})
		windows = authredis.NewWindowStore(client, redisKeyPrefix)
	case config.BackendMemory:
		if mem != nil {
			windows = mem.Windows
		} else {
			windows = memory.NewWindowStoreWithRegistry(reg)
		}
	default:
		return nil, oops.Code("CONFIG_INVALID").With("rate_limit_backend", cfg.RateLimitBackend).Errorf("unknown rate limit backend")
	}

	if err := a.wireServices(cfg, clock, identities, sessionRepo, attempts, windows); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *app) wireServices(cfg config.Config, clock auth.Clock, identities auth.IdentityRepository, sessionRepo auth.SessionRepository, attemptStore auth.AttemptStore, windows auth.WindowStore) error {
	logger := a.logger

	hasher, err := auth.NewPasswordHasher(cfg.HashAlgorithm, cfg.HashCost)
	if err != nil {
		return err
	}
	limiter, err := auth.NewRateLimiter(windows, cfg.RateLimitPolicy(), clock, logger)
	if err != nil {
		return err
	}
	attempts, err := auth.NewLoginAttempts(attemptStore, cfg.LockoutPolicy(), clock, logger)
	if err != nil {
		return err
	}
	issuer, err := auth.NewTokenIssuer(cfg.AccessTTL(), cfg.ResetTTL(), clock)
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessionStore(sessionRepo)
	if err != nil {
		return err
	}

	a.signIn, err = auth.NewSignInService(auth.SignInDeps{
		Identities: identities,
		Hasher:     hasher,
		Limiter:    limiter,
		Attempts:   attempts,
		Issuer:     issuer,
		Sessions:   sessions,
		Clock:      clock,
		Logger:     logger,
	},
		auth.WithMaxSessions(cfg.SessionMaxPerIdentity),
		auth.WithOperationTimeout(cfg.OperationTimeout()),
		auth.WithMaxPasswordLength(cfg.PasswordMaxLength),
	)
	if err != nil {
		return err
	}

	a.validator, err = auth.NewSessionValidator(sessions, identities, clock, logger,
		auth.WithValidationTimeout(cfg.OperationTimeout()))
	if err != nil {
		return err
	}
	a.sessions, err = auth.NewSessionService(sessions, identities, issuer, clock, logger, cfg.SessionMaxPerIdentity)
	if err != nil {
		return err
	}
	a.accounts, err = auth.NewAccountService(auth.AccountDeps{
		Identities: identities,
		Sessions:   sessions,
		Hasher:     hasher,
		Limiter:    limiter,
		Attempts:   attempts,
		Clock:      clock,
		Logger:     logger,
	}, cfg.PasswordPolicy())
	return err
}
