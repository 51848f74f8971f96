package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"device-control-relay/internal/command"
	"device-control-relay/internal/config"
	"device-control-relay/internal/handler"
	"device-control-relay/internal/middleware"
	"device-control-relay/internal/presence"
	"device-control-relay/internal/relay"
	"device-control-relay/internal/repository"
	"device-control-relay/internal/service"
	"device-control-relay/internal/session"
	"device-control-relay/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type stores struct {
	devices     repository.DeviceRepository
	users       repository.UserRepository
	permissions repository.PermissionRepository
	activity    repository.ActivityRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*stores, error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory stores, nothing will be persisted")
		return &stores{
			devices:     repository.NewMemoryDeviceRepository(),
			users:       repository.NewMemoryUserRepository(),
			permissions: repository.NewMemoryPermissionRepository(),
			activity:    repository.NewMemoryActivityRepository(),
		}, nil
	}

	client, err := kivik.New("couch", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, cfg.Name); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("created database", "name", cfg.Name)
	}
	logger.Info("connected to CouchDB", "host", cfg.Host, "port", cfg.Port, "database", cfg.Name)

	return &stores{
		devices:     repository.NewDeviceRepository(client, cfg.Name),
		users:       repository.NewUserRepository(client, cfg.Name),
		permissions: repository.NewPermissionRepository(client, cfg.Name),
		activity:    repository.NewActivityRepository(client, cfg.Name),
	}, nil
}

func openRevocationList(cfg config.RedisConfig, logger *slog.Logger) (repository.TokenRevocationList, error) {
	if cfg.URL == "" {
		logger.Info("no Redis URL configured, token revocations are process-local")
		return repository.NewMemoryRevocationList(), nil
	}
	return repository.NewRedisRevocationList(cfg.URL)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	revoked, err := openRevocationList(cfg.Redis, logger)
	if err != nil {
		return err
	}

	registry := session.NewRegistry(cfg.WebSocket.MaxSessionsPerAdmin, logger)
	tracker := presence.NewTracker(st.devices, logger)
	router := command.NewRouter(registry, logger)

	authService := service.NewAuthService(st.devices, st.users, revoked, cfg.JWT.Secret, logger)
	permissionService := service.NewPermissionService(st.devices, st.permissions, st.activity, router, logger)
	deviceService := service.NewDeviceService(st.devices, st.activity, permissionService, router, tracker, registry, logger)

	rl := relay.New(registry, tracker, router, deviceService, permissionService, st.activity, relay.Options{
		SendQueueSize:    cfg.WebSocket.SendQueueSize,
		HeartbeatTimeout: cfg.Presence.HeartbeatTimeout,
	}, logger)

	wsHandler := handler.NewWebSocketHandler(authService, rl, ws.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
	}, websocket.Options{
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingPeriod:     cfg.WebSocket.PingPeriod,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, logger)
	deviceHandler := handler.NewDeviceHandler(deviceService, logger)
	permissionHandler := handler.NewPermissionHandler(permissionService, logger)
	healthHandler := handler.NewHealthHandler(registry)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.AuthMiddleware(authService))

	api.HandleFunc("/devices/live", deviceHandler.Live).Methods("GET", "OPTIONS")
	api.HandleFunc("/devices/{id}/lock", deviceHandler.Lock).Methods("POST", "OPTIONS")
	api.HandleFunc("/devices/{id}/unlock", deviceHandler.Unlock).Methods("POST", "OPTIONS")
	api.HandleFunc("/devices/{id}/screenshot", deviceHandler.Screenshot).Methods("POST", "OPTIONS")

	api.HandleFunc("/permissions", permissionHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/permissions", permissionHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/permissions/mine", permissionHandler.Mine).Methods("GET", "OPTIONS")
	api.HandleFunc("/permissions/{id}", permissionHandler.Resolve).Methods("PUT", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)
	r.HandleFunc("/health", healthHandler.Health).Methods("GET")
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler()).Methods("GET")
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting device control relay", "addr", addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return permissionService.RunSweeper(gctx, cfg.Permissions.SweepInterval)
	})

	g.Go(func() error {
		return rl.RunReaper(gctx, cfg.Presence.ReaperInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		rl.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
