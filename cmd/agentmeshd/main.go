// Command agentmeshd runs the agent execution coordination daemon:
// registry, rate limiter, interaction recorder, session sweeper, and
// the envelope gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"agentmesh/internal/adapter/connection"
	"agentmesh/internal/adapter/counter"
	"agentmesh/internal/adapter/directory"
	"agentmesh/internal/adapter/gateway"
	"agentmesh/internal/adapter/knowledge"
	"agentmesh/internal/adapter/llm"
	"agentmesh/internal/adapter/platform"
	"agentmesh/internal/adapter/store"
	"agentmesh/internal/agents"
	"agentmesh/internal/domain"
	"agentmesh/internal/infra/config"
	"agentmesh/internal/infra/logger"
	"agentmesh/internal/infra/middleware"
	"agentmesh/internal/infra/tracer"
	"agentmesh/internal/usecase"
	"agentmesh/internal/usecase/eventbus"
	"agentmesh/internal/usecase/ratelimit"
	"agentmesh/internal/usecase/registry"
	"agentmesh/internal/usecase/scheduling"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// configPath returns the --config flag value or the default.
func configPath() string {
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--config" && i+1 < len(os.Args):
			return os.Args[i+1]
		case strings.HasPrefix(os.Args[i], "--config="):
			return strings.TrimPrefix(os.Args[i], "--config=")
		}
	}
	return "config.yaml"
}

// lazyResolver breaks the constructor cycle between the registry and
// the runtimes it builds: runtimes receive the resolver before the
// registry exists.
type lazyResolver struct {
	reg *registry.Registry
}

func (r *lazyResolver) Resolve(ctx context.Context, agentID, callerTenantID string, allowCrossTenant bool) (domain.AgentRuntime, error) {
	if r.reg == nil {
		return nil, domain.ErrAgentNotFound
	}
	return r.reg.Resolve(ctx, agentID, callerTenantID, allowCrossTenant)
}

func limitsFromConfig(cfg config.RateLimitConfig) ratelimit.Limits {
	return ratelimit.Limits{
		AgentMinute:  ratelimit.Limit{Count: cfg.Agent.Minute, Window: time.Minute},
		AgentHour:    ratelimit.Limit{Count: cfg.Agent.Hour, Window: time.Hour},
		TenantMinute: ratelimit.Limit{Count: cfg.Tenant.Minute, Window: time.Minute},
		TenantHour:   ratelimit.Limit{Count: cfg.Tenant.Hour, Window: time.Hour},
		UserMinute:   ratelimit.Limit{Count: cfg.User.Minute, Window: time.Minute},
		UserHour:     ratelimit.Limit{Count: cfg.User.Hour, Window: time.Hour},
	}
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Storage
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	dir, err := directory.NewSQLiteDirectory(db)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	sessionStore, err := store.NewSQLiteSessionStore(db)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	interactionStore, err := store.NewSQLiteInteractionStore(db)
	if err != nil {
		return fmt.Errorf("interaction store: %w", err)
	}
	connStore, err := connection.NewSQLiteConnectionStore(db)
	if err != nil {
		return fmt.Errorf("connection store: %w", err)
	}

	// 4. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 5. Rate limiter: Redis when configured, local fallback otherwise.
	var primary ratelimit.Counter
	if cfg.Redis.Enabled {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		primary = counter.NewRedisCounter(redisClient)
		log.Info("rate limiter using redis counter", "addr", cfg.Redis.Addr)
	} else {
		log.Info("rate limiter using local counter only")
	}
	limiter := ratelimit.New(primary, log)
	limits := limitsFromConfig(cfg.RateLimit)

	// 6. Interaction recorder
	recorder := usecase.NewRecorder(interactionStore, bus, log,
		cfg.Recorder.BufferSize, cfg.Recorder.WriteTimeout)
	defer recorder.Close()

	// 7. Knowledge and language-model collaborators (both optional;
	// runtimes degrade when absent).
	var searcher domain.KnowledgeSearcher
	if cfg.Knowledge.BaseURL != "" {
		searcher = knowledge.NewCircuitBreakerSearcher(
			knowledge.NewHTTPSearcher(cfg.Knowledge.BaseURL, cfg.Knowledge.Timeout, log), log)
	}
	var provider domain.LLMProvider
	if cfg.LLM.BaseURL != "" {
		provider = llm.NewCircuitBreakerProvider(
			llm.NewHTTPProvider(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout, log), log)
	}

	// 8. Registry with the closed constructor table
	resolver := &lazyResolver{}
	deps := usecase.RuntimeDeps{
		Recorder:   recorder,
		Sessions:   sessionStore,
		Resolver:   resolver,
		Knowledge:  searcher,
		LLM:        provider,
		Bus:        bus,
		Logger:     log,
		SessionTTL: cfg.Sessions.TTL,
	}
	reg := registry.New(dir, agents.Constructors(deps), bus, log)
	resolver.reg = reg

	// 9. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 10. Scheduler: session expiry sweep + local counter sweep
	scheduler := scheduling.NewScheduler(log)
	scheduler.RegisterAction(scheduling.ActionSessionSweep,
		scheduling.SessionSweep(sessionStore, bus, log))
	scheduler.RegisterAction(scheduling.ActionCounterSweep, func(context.Context) error {
		limiter.SweepLocal()
		return nil
	})
	if err := scheduler.AddTask(scheduling.ScheduledTask{
		Name:     "session-sweep",
		Schedule: cfg.Sessions.SweepSchedule,
		Action:   scheduling.ActionSessionSweep,
	}); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := scheduler.AddTask(scheduling.ScheduledTask{
		Name:     "counter-sweep",
		Schedule: "1m",
		Action:   scheduling.ActionCounterSweep,
	}); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	go func() {
		if err := scheduler.Start(ctx); err != nil {
			log.Error("scheduler error", "error", err)
		}
	}()
	defer scheduler.Stop()

	// 11. Outbound platform notifier
	notifier := platform.NewNotifier(platform.NewClient(0, log), connStore, log)
	notifier.Start(bus)
	defer notifier.Stop()

	// 12. Gateway
	handler := gateway.NewHandler(reg, dir, connStore, limiter, limits, bus, log)
	srv := gateway.NewServer(gateway.NewConnectionAuth(connStore), handler, bus, cfg.Gateway.Addr, log)
	srv.Use(
		middleware.SecurityHeaders,
		middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
			Burst:             cfg.Gateway.Burst,
		}),
	)

	log.Info("agentmeshd starting",
		"gateway_addr", cfg.Gateway.Addr,
		"storage_path", cfg.Storage.Path,
		"redis", cfg.Redis.Enabled,
	)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("gateway shutdown error", "error", err)
	}

	log.Info("agentmeshd stopped")
	return nil
}
