package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prudhvinik1/moonbattery/internal/config"
	"github.com/prudhvinik1/moonbattery/internal/database"
	"github.com/prudhvinik1/moonbattery/internal/events"
	"github.com/prudhvinik1/moonbattery/internal/handlers"
	"github.com/prudhvinik1/moonbattery/internal/logging"
	"github.com/prudhvinik1/moonbattery/internal/repositories"
	"github.com/prudhvinik1/moonbattery/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

const (
	presenceBackendRedis       = "redis"
	presenceBackendLastContact = "last_contact"
)

func newServeCmd(configPath *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending schema migrations before serving")
	return cmd
}

func runServe(ctx context.Context, configPath string, migrate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync fails on some platforms

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	if migrate {
		applied, err := st.migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		logger.Info("schema up to date", zap.Strings("applied", applied))
	}

	healthChecks := []handlers.HealthCheck{st.health}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		defer redisClient.Close()

		healthChecks = append(healthChecks, handlers.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	presence := selectPresence(cfg.PresenceTTL, st.devices, redisClient, logger)

	sink, closeSinks, err := openEventSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	credentials, err := services.NewCredentialService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return err
	}

	deviceService := services.NewDeviceService(st.devices, st.configurations, presence, credentials, sink, logger)

	server := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: handlers.NewRouter(handlers.RouterDeps{
			Devices:      deviceService,
			Credentials:  credentials,
			HealthChecks: healthChecks,
			Logger:       logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr), zap.String("store", st.dialect))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// selectPresence keeps presence in Redis when a client is available and
// otherwise derives it from the devices' last contact.
func selectPresence(ttl time.Duration, devices repositories.DeviceRepository, redisClient *redis.Client, logger *zap.Logger) repositories.PresenceRepository {
	if redisClient != nil {
		logger.Info("presence backend selected", zap.String("backend", presenceBackendRedis), zap.Duration("ttl", ttl))
		return repositories.NewRedisPresenceRepository(redisClient, ttl)
	}
	logger.Info("presence backend selected", zap.String("backend", presenceBackendLastContact), zap.Duration("ttl", ttl))
	return repositories.NewContactPresenceRepository(devices, ttl)
}

// openEventSinks connects the optional MQTT and InfluxDB sinks. Neither is
// required; a broker that is down at startup is logged and skipped.
func openEventSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) (events.Sink, func(), error) {
	var (
		sinks   events.Fanout
		closers []func()
	)

	if cfg.MQTT.BrokerURL != "" {
		publisher, err := events.ConnectMQTT(cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			logger.Warn("mqtt disabled", zap.Error(err))
		} else {
			sinks = append(sinks, publisher)
			closers = append(closers, publisher.Close)
		}
	}

	if cfg.Influx.URL != "" {
		recorder, err := events.ConnectInflux(ctx, cfg.Influx, logger.Named("influxdb"))
		if err != nil {
			logger.Warn("influxdb disabled", zap.Error(err))
		} else {
			sinks = append(sinks, recorder)
			closers = append(closers, recorder.Close)
		}
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if len(sinks) == 0 {
		return events.Nop{}, closeAll, nil
	}
	return sinks, closeAll, nil
}
