package cmd

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bilalbayram/adplan/internal/auth"
	"github.com/bilalbayram/adplan/internal/catalog"
	"github.com/bilalbayram/adplan/internal/config"
	"github.com/bilalbayram/adplan/internal/observability"
	"github.com/bilalbayram/adplan/internal/store"
)

// Runtime carries the global flags and the process-level dependencies shared
// by every command. Nil hooks fall back to the real implementations.
type Runtime struct {
	ConfigPath *string
	Output     *string
	Debug      *bool

	OpenStore func(ctx context.Context, cfg config.Store) (store.Store, error)
	Secrets   auth.SecretStore
	Now       func() time.Time
}

func (r Runtime) configPath() (string, error) {
	if r.ConfigPath != nil && strings.TrimSpace(*r.ConfigPath) != "" {
		return *r.ConfigPath, nil
	}
	return config.DefaultPath()
}

func (r Runtime) loadConfig() (*config.Config, error) {
	path, err := r.configPath()
	if err != nil {
		return nil, WrapExit(ExitCodeConfig, err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, WrapExit(ExitCodeConfig, err)
	}
	return cfg, nil
}

func (r Runtime) logger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	level := cfg.Log.Level
	if r.Debug != nil && *r.Debug {
		level = "debug"
	}
	logger, err := observability.NewLogger(cmd.ErrOrStderr(), level, cfg.Log.Format)
	if err != nil {
		return nil, WrapExit(ExitCodeConfig, err)
	}
	return logger, nil
}

// openStore opens the configured metrics store. Without an injected
// OpenStore hook the memory driver is refused unless inProcess is set: its
// rows vanish when the command exits, so a later command would read nothing.
func (r Runtime) openStore(ctx context.Context, cfg *config.Config, inProcess bool) (store.Store, error) {
	open := r.OpenStore
	if open == nil {
		if isMemoryDriver(cfg.Store.Driver) && !inProcess {
			return nil, WrapExit(ExitCodeConfig, errMemoryStore)
		}
		open = func(ctx context.Context, settings config.Store) (store.Store, error) {
			return store.Open(ctx, settings.Driver, settings.DSN)
		}
	}
	s, err := open(ctx, cfg.Store)
	if err != nil {
		return nil, WrapExit(ExitCodeStore, err)
	}
	return s, nil
}

var errMemoryStore = errors.New("store.driver memory does not persist between commands; set store.driver: postgres with store.dsn, or run serve --sync-interval to sync and report in one process")

func isMemoryDriver(driver string) bool {
	driver = strings.ToLower(strings.TrimSpace(driver))
	return driver == "" || driver == store.DriverMemory
}

func (r Runtime) secrets() auth.SecretStore {
	if r.Secrets != nil {
		return r.Secrets
	}
	return auth.NewKeychainStore()
}

func (r Runtime) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// catalogProvider routes every configured account to its catalog file and
// caches snapshots in Redis when cache.redis_addr is set.
func catalogProvider(cfg *config.Config, logger *slog.Logger) (catalog.Provider, func()) {
	providers := catalog.AccountProviders{}
	for _, profile := range cfg.Profiles {
		if strings.TrimSpace(profile.CatalogPath) == "" {
			continue
		}
		providers[profile.AccountID] = catalog.NewFileProvider(profile.CatalogPath)
	}
	if strings.TrimSpace(cfg.Cache.RedisAddr) == "" {
		return providers, func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	cached := catalog.NewCachedProvider(providers, client, cfg.Cache.TTL, logger)
	return cached, func() { _ = client.Close() }
}

func writeFormat(runtime Runtime) string {
	if runtime.Output == nil || *runtime.Output == "" {
		return "json"
	}
	return *runtime.Output
}
