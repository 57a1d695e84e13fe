package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/chanrelay/internal/config"
	"github.com/dyluth/chanrelay/internal/printer"
	"github.com/dyluth/chanrelay/internal/store"
	"github.com/dyluth/chanrelay/pkg/relay"
)

// loadConfig reads relay.yml and applies the same environment overrides as relayd.
func loadConfig() (*config.RelayConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, printer.Error(
				"configuration not found",
				fmt.Sprintf("No configuration file at %s.", configPath),
				[]string{
					"Create one:\n  chanrelay init",
					"Point at an existing file:\n  chanrelay --config /path/to/relay.yml",
				},
			)
		}
		return nil, printer.Error("invalid configuration", err.Error(), nil)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, printer.Error("invalid environment override", err.Error(), nil)
	}
	return cfg, nil
}

// connectRelay opens the relay bus for cfg.Instance and checks Redis is up.
func connectRelay(ctx context.Context, cfg *config.RelayConfig) (*relay.Client, error) {
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client, err := relay.NewClient(redisOpts, cfg.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.Redis.URL),
			map[string]string{"Instance": cfg.Instance, "Error": err.Error()},
			[]string{"Check redis.url in relay.yml or set REDIS_URL"},
		)
	}
	return client, nil
}

// openStore opens the routing store relayd uses.
func openStore(ctx context.Context, cfg *config.RelayConfig) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"routing store unavailable",
			"Could not open the routing store.",
			map[string]string{"Driver": cfg.Store.Driver, "Error": err.Error()},
			[]string{"Check store.dsn in relay.yml or set RELAY_STORE_DSN"},
		)
	}
	return st, nil
}
