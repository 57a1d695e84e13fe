// relayd is the routing daemon: it consumes posts and operator commands for
// one instance and performs the forwards they imply.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dyluth/chanrelay/internal/config"
	"github.com/dyluth/chanrelay/internal/engine"
	"github.com/dyluth/chanrelay/internal/gateway"
	"github.com/dyluth/chanrelay/internal/index"
	"github.com/dyluth/chanrelay/internal/logging"
	"github.com/dyluth/chanrelay/internal/router"
	"github.com/dyluth/chanrelay/internal/routing"
	"github.com/dyluth/chanrelay/internal/session"
	"github.com/dyluth/chanrelay/internal/store"
	"github.com/dyluth/chanrelay/pkg/relay"
)

func main() {
	// 1. Load relay.yml, then environment overrides
	path := os.Getenv("RELAY_CONFIG")
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", path, err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid environment override: %v\n", err)
		os.Exit(1)
	}

	// 2. Logger
	logger, err := logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Service:  "relayd",
		Instance: cfg.Instance,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("relayd failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("relayd stopped")
}

func run(cfg *config.RelayConfig, logger *zap.Logger) error {
	ctx := context.Background()

	// 3. Relay client over Redis
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("invalid redis.url: %w", err)
	}
	client, err := relay.NewClient(redisOpts, cfg.Instance)
	if err != nil {
		return fmt.Errorf("failed to create relay client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("redis not accessible: %w", err)
	}

	// 4. Routing store; a schema failure is fatal
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("failed to open routing store: %w", err)
	}
	defer st.Close()

	// 5. Index built from the store before any event is consumed
	svc := routing.NewService(st, index.New(), client, logger)
	if err := svc.Rebuild(ctx); err != nil {
		return err
	}

	gw, err := buildGateway(cfg, client, os.Getenv, logger)
	if err != nil {
		return err
	}

	rt := router.New(svc.Index(), gw, cfg.Router.MaxParallelForwards, logger)
	sessions := session.NewManager(svc, session.Options{
		Tenancy:     cfg.Tenancy,
		IdleTimeout: cfg.Session.IdleTimeout,
		Logger:      logger,
	})

	eng := engine.NewEngine(client, rt, sessions, svc, engine.Options{
		Workers:       cfg.Router.Workers,
		SweepInterval: cfg.Session.SweepInterval,
		Health:        engine.NewHealthServer(cfg.Health.Addr, client, st, logger),
		Lease:         engine.NewLease(client, "relayd-"+uuid.New().String(), cfg.Leader.TTL),
		Logger:        logger,
	})

	// 6. Graceful shutdown
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger.Info("relayd starting",
		zap.String("gateway", gw.Name()),
		zap.String("store", cfg.Store.Driver),
		zap.String("tenancy", string(cfg.Tenancy)))

	return eng.Run(runCtx)
}

// buildGateway selects how forwards are performed.
func buildGateway(cfg *config.RelayConfig, client *relay.Client, getenv func(string) string, logger *zap.Logger) (router.Gateway, error) {
	switch cfg.Gateway.Kind {
	case "telegram":
		token, err := cfg.TelegramToken(getenv)
		if err != nil {
			return nil, fmt.Errorf("telegram gateway: %w", err)
		}
		tg := cfg.Gateway.Telegram
		gw, err := gateway.NewTelegram(gateway.TelegramOptions{
			Token:              token,
			APIURL:             tg.APIURL,
			Timeout:            tg.Timeout,
			MaxRetries:         tg.Retries,
			BreakerMaxFailures: tg.Breaker.MaxFailures,
			BreakerOpenTimeout: tg.Breaker.OpenTimeout,
			Logger:             logger,
		})
		if err != nil {
			return nil, err
		}
		return gw, nil
	case "redis":
		return gateway.NewRedis(client, cfg.Router.HistoryLimit, logger), nil
	default:
		return nil, fmt.Errorf("unknown gateway kind %q", cfg.Gateway.Kind)
	}
}
