package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bilalbayram/adplan/internal/config"
	"github.com/bilalbayram/adplan/internal/httpapi"
	"github.com/bilalbayram/adplan/internal/observability"
	"github.com/bilalbayram/adplan/internal/plan"
)

const (
	DefaultServeAddr = ":8080"
	shutdownTimeout  = 10 * time.Second
)

func NewServeCommand(runtime Runtime) *cobra.Command {
	var (
		addr         string
		syncInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and action plans over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			const commandName = "adplan serve"

			cfg, err := runtime.loadConfig()
			if err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, err)
			}
			logger, err := runtime.logger(cmd, cfg)
			if err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, err)
			}
			if syncInterval < 0 {
				return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, errors.New("--sync-interval must not be negative")))
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := runtime.openStore(ctx, cfg, syncInterval > 0)
			if err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, err)
			}
			defer s.Close()
			provider, closeCatalog := catalogProvider(cfg, logger)
			defer closeCatalog()

			metrics := observability.NewMetrics("adplan")
			service := plan.NewService(s, provider, logger, metrics)
			if runtime.Now != nil {
				service.Now = runtime.Now
			}
			handler := httpapi.NewRouter(&httpapi.Server{
				Reports:  service,
				Accounts: profileAccounts(cfg),
				Logger:   logger,
				Metrics:  metrics,
			})

			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, WrapExit(ExitCodeInput, fmt.Errorf("listen on %s: %w", addr, err)))
			}
			logger.Info("serving", "addr", listener.Addr().String(), "sync_interval", syncInterval)

			syncCtx, cancelSync := context.WithCancel(ctx)
			var syncDone sync.WaitGroup
			if syncInterval > 0 {
				scheduler := &scheduledSync{
					runner: newSyncRunner(runtime, cfg, provider, s, logger, metrics),
					cfg:    cfg,
					now:    runtime.now,
					logger: logger,
				}
				syncDone.Add(1)
				go func() {
					defer syncDone.Done()
					scheduler.loop(syncCtx, syncInterval)
				}()
			}
			err = serveUntilDone(ctx, &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}, listener)
			cancelSync()
			syncDone.Wait()
			if err != nil {
				return writeCommandError(cmd, runtime, commandName, nil, err)
			}
			logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", DefaultServeAddr, "Listen address")
	cmd.Flags().DurationVar(&syncInterval, "sync-interval", 0, "Sync every profile on this interval while serving, for example 6h (0 disables)")
	return cmd
}

// serveUntilDone serves on listener until ctx ends, then drains in-flight
// requests.
func serveUntilDone(ctx context.Context, server *http.Server, listener net.Listener) error {
	errs := make(chan error, 1)
	go func() {
		errs <- server.Serve(listener)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func profileAccounts(cfg *config.Config) httpapi.AccountResolver {
	return func(name string) (string, error) {
		profile, ok := cfg.Profiles[name]
		if !ok {
			return "", fmt.Errorf("%w %q", httpapi.ErrUnknownProfile, name)
		}
		return profile.AccountID, nil
	}
}
