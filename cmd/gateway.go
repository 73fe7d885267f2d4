package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/edugate/internal/bus"
	"github.com/nextlevelbuilder/edugate/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/edugate/internal/config"
	"github.com/nextlevelbuilder/edugate/internal/connections"
	"github.com/nextlevelbuilder/edugate/internal/dispatch"
	"github.com/nextlevelbuilder/edugate/internal/gateway"
	httpapi "github.com/nextlevelbuilder/edugate/internal/http"
	"github.com/nextlevelbuilder/edugate/internal/metrics"
	"github.com/nextlevelbuilder/edugate/internal/routing"
	"github.com/nextlevelbuilder/edugate/internal/sessions"
	"github.com/nextlevelbuilder/edugate/internal/store"
	"github.com/nextlevelbuilder/edugate/internal/store/pg"
	"github.com/nextlevelbuilder/edugate/internal/store/sqlite"
	"github.com/nextlevelbuilder/edugate/internal/tracing"
	"github.com/nextlevelbuilder/edugate/pkg/protocol"
)

const shutdownGrace = 10 * time.Second

func runGateway() {
	// Setup structured logging. The level is a LevelVar so config reloads
	// can change it without rebuilding the handler.
	var logLevel slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: &logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	applyLogLevel(&logLevel, cfg.Level())

	if err := serveGateway(cfg, cfgPath, &logLevel); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

func serveGateway(cfg *config.Config, cfgPath string, logLevel *slog.LevelVar) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	sessStore, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	sweeper, err := sessions.NewSweeper(sessStore, cfg.Sessions.SweepSchedule)
	if err != nil {
		return fmt.Errorf("session sweeper: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNewMetrics(reg)

	msgBus := bus.New()

	// Routing: binding lookups go through an LRU that drops entries when a
	// line is rebound anywhere in the process.
	bindingCache := routing.NewBindingCache(stores.Bindings, cfg.Routing.BindingCacheSize, cfg.Routing.BindingCacheTTL())
	msgBus.Subscribe("routing.binding-cache", bindingCache.HandleEvent)
	defer msgBus.Unsubscribe("routing.binding-cache")

	resolver := routing.NewTenantResolver(bindingCache, stores.Tenants, stores.Identities, stores.Tokens)
	identity := routing.NewIdentityBridge(stores.Tenants, stores.Identities, stores.Tokens, sessStore)
	router := routing.NewRouter(resolver, identity, m)

	dedupe, err := dispatch.NewDeduper(0, cfg.Routing.DedupeTTL())
	if err != nil {
		return fmt.Errorf("dedupe cache: %w", err)
	}
	var dispatcher dispatch.Dispatcher = dispatch.LogDispatcher{}
	if cfg.Dispatch.WebhookURL != "" {
		dispatcher = dispatch.NewWebhookDispatcher(cfg.Dispatch.WebhookURL, cfg.Dispatch.Timeout())
	}
	consumer := dispatch.NewConsumer(msgBus, router, dispatcher, dedupe, 0)
	consumer.SetContextWriter(sessStore)

	provider, err := whatsapp.NewProvider(cfg.Bridge, msgBus)
	if err != nil {
		return fmt.Errorf("whatsapp provider: %w", err)
	}

	connMgr := connections.NewManager(provider, stores.Connections, stores.Bindings,
		connections.WithMetrics(m),
		connections.WithEventBus(msgBus),
	)

	auth := httpapi.NewAuthenticator(cfg.Gateway.Token, cfg.Gateway.JWTSecret)
	if auth.Open() {
		slog.Warn("gateway auth disabled: set EDUGATE_GATEWAY_TOKEN or EDUGATE_JWT_SECRET")
	}
	connHandler := httpapi.NewConnectionHandler(connMgr, stores.Tenants, auth, httpapi.NewRateLimiter(cfg.Gateway.RateLimitRPM, 5))
	connHandler.SetAllowedOrigins(cfg.Gateway.AllowedOrigins)

	server := gateway.NewServer(cfg, connHandler, reg)

	mode := "standalone"
	if cfg.IsManagedMode() {
		mode = "managed"
	}
	slog.Info("edugate gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"mode", mode,
		"sessions", sessionsBackend(cfg),
		"bridge", cfg.Bridge.URL,
		"addr", server.Addr(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		provider.RunOutbound(gctx)
		return nil
	})
	g.Go(func() error {
		err := config.Watch(gctx, cfgPath, func(fresh *config.Config) {
			cfg.Replace(fresh)
			applyLogLevel(logLevel, cfg.Level())
		})
		if err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("graceful shutdown initiated")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if serr := connMgr.Shutdown(sctx); serr != nil {
		slog.Warn("connection manager shutdown", "error", serr)
	}
	return err
}

// openStores selects the durable backend: Postgres in managed mode, an
// embedded SQLite file otherwise.
func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.IsManagedMode() {
		stores, err := pg.NewPGStores(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres stores: %w", err)
		}
		return stores, nil
	}
	if cfg.Database.Mode == "managed" {
		slog.Warn("managed mode requested but EDUGATE_POSTGRES_DSN is not set, falling back to sqlite")
	}
	stores, err := sqlite.NewStores(cfg.SQLitePath())
	if err != nil {
		return nil, fmt.Errorf("open sqlite stores: %w", err)
	}
	return stores, nil
}

func openSessions(ctx context.Context, cfg *config.Config) (sessions.Store, error) {
	ttl := sessions.WithTTL(cfg.Sessions.TTL())
	if sessionsBackend(cfg) != "redis" {
		return sessions.NewMemoryStore(ttl), nil
	}
	rdb, err := sessions.NewRedisClient(ctx, cfg.Sessions.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return sessions.NewRedisStore(rdb, ttl), nil
}

func sessionsBackend(cfg *config.Config) string {
	if cfg.Sessions.Backend == "redis" && cfg.Sessions.RedisURL != "" {
		return "redis"
	}
	return "memory"
}

func applyLogLevel(v *slog.LevelVar, level string) {
	if verbose {
		v.Set(slog.LevelDebug)
		return
	}
	switch strings.ToLower(level) {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn", "warning":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
