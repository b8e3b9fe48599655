// Package app wires the configuration, database, services and both HTTP
// listeners into one Runtime.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"

	"chat-backend/internal/admin"
	"chat-backend/internal/auth"
	"chat-backend/internal/chat"
	"chat-backend/internal/config"
	"chat-backend/internal/db"
	"chat-backend/internal/httpx"
	"chat-backend/internal/maintenance"
	"chat-backend/internal/observability"
	"chat-backend/internal/router"
	"chat-backend/internal/security"
	"chat-backend/internal/store"
)

const eventBuffer = 32

type Options struct {
	ConfigPath string
}

type Runtime struct {
	UserHandler  http.Handler
	AdminHandler http.Handler
	Config       *config.Store
	Logger       *observability.Logger

	database *sql.DB
	auth     *auth.Service
	pipeline *security.Pipeline
	sweeper  *maintenance.Sweeper
	reloadMu sync.Mutex
}

// Build loads the configuration, opens and migrates the database, seeds the
// bootstrap admin and assembles both handlers.
func Build(ctx context.Context, options Options) (*Runtime, error) {
	cfg, err := config.Load(options.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("missing required env: DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("missing required env: JWT_SECRET")
	}

	logger := observability.NewLogger(cfg.Env)
	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	database.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	database.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	database.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeMinutes) * time.Minute)

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Database.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	rt, err := Assemble(config.NewStore(cfg), database, logger)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	if err := rt.auth.BootstrapAdmin(ctx, os.Getenv("ADMIN_USERNAME"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	return rt, nil
}

// Assemble builds the services and both handler stacks on an open database.
func Assemble(cfgStore *config.Store, database *sql.DB, logger *observability.Logger) (*Runtime, error) {
	cfg := cfgStore.Current().Config

	repo := store.NewRepository(database)
	codec := auth.NewCodec(cfg.JWTSecret)
	validator := auth.NewValidator(codec, repo, logger)

	metrics := security.NewMetrics()
	pipeline, err := security.NewPipeline(cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("build request pipeline: %w", err)
	}

	authService := auth.NewService(repo, codec, cfgStore)
	authHandler := auth.NewHandler(authService, validator, cfgStore, logger)
	throttle := auth.NewLoginThrottle(
		cfg.Auth.LoginRateLimitMax,
		time.Duration(cfg.Auth.LoginRateLimitWindowSecs)*time.Second,
		pipeline.ClientKey,
	)

	hub := chat.NewHub(eventBuffer)
	chatHandler := chat.NewHandler(chat.NewService(repo, hub), hub, logger)

	sweeper := maintenance.NewSweeper(
		repo,
		logger,
		time.Duration(cfg.Auth.SessionSweepIntervalMins)*time.Minute,
		0,
	)

	adminHandler := admin.NewHandler(repo, cfgStore, metrics, hub, sweeper, logger)

	health := healthHandler(repo)

	users := router.New(validator, logger)
	users.Open(http.MethodPost, "/api/register", authHandler.Register)
	users.Open(http.MethodPost, "/api/login", throttle.Wrap(authHandler.Login))
	users.Open(http.MethodPost, "/api/logout", authHandler.Logout)
	users.Open(http.MethodGet, "/api/config", authHandler.PublicConfig)
	users.Open(http.MethodGet, "/health", health)

	users.Light(http.MethodGet, "/api/profile", authHandler.Profile)
	users.Light(http.MethodGet, "/api/messages", chatHandler.Messages)
	users.Light(http.MethodGet, "/api/messages/unread", chatHandler.Unread)
	users.Light(http.MethodGet, "/api/chats", chatHandler.Chats)
	users.Light(http.MethodGet, "/api/groups", chatHandler.Groups)
	users.Light(http.MethodGet, "/api/groups/:id/members", chatHandler.GroupMembers)
	users.Light(http.MethodGet, "/api/events", chatHandler.Events)

	users.Hard(http.MethodPost, "/api/messages/send", chatHandler.Send)
	users.Hard(http.MethodPost, "/api/messages/read", chatHandler.MarkRead)
	users.Hard(http.MethodPost, "/api/messages/delivered", chatHandler.MarkDelivered)
	users.Hard(http.MethodDelete, "/api/messages/:id", chatHandler.DeleteMessage)
	users.Hard(http.MethodPost, "/api/chats", chatHandler.StartDirect)
	users.Hard(http.MethodPost, "/api/groups", chatHandler.CreateGroup)
	users.Hard(http.MethodPost, "/api/groups/:id/members", chatHandler.AddMember)
	users.Hard(http.MethodDelete, "/api/groups/:id/members", chatHandler.RemoveMember)
	users.Hard(http.MethodPost, "/api/profile/update", authHandler.UpdateProfile)
	users.Hard(http.MethodPost, "/api/settings/password", authHandler.ChangePassword)
	users.Hard(http.MethodPost, "/api/settings/logout-all", authHandler.LogoutAll)

	// Static paths follow the live config so a reload can move them.
	users.Fallback(func(w http.ResponseWriter, r *http.Request) bool {
		paths := cfgStore.Current().Config.Paths
		return router.NewStatic(paths.WebDir, paths.Icons, paths.BlockedPaths).Serve(w, r)
	})

	admins := router.New(validator, logger)
	admins.Open(http.MethodPost, "/admin/api/login", throttle.Wrap(authHandler.AdminLogin))
	admins.Open(http.MethodGet, "/health", health)
	admins.Admin(http.MethodPost, "/admin/api/stats", adminHandler.Stats)
	admins.Admin(http.MethodPost, "/admin/api/users", adminHandler.Users)
	admins.Admin(http.MethodPost, "/admin/api/users/ban", adminHandler.Ban)
	admins.Admin(http.MethodPost, "/admin/api/users/unban", adminHandler.Unban)
	admins.Admin(http.MethodPost, "/admin/api/users/promote", adminHandler.Promote)
	admins.Admin(http.MethodPost, "/admin/api/users/demote", adminHandler.Demote)
	admins.Admin(http.MethodDelete, "/admin/api/users/:id", adminHandler.DeleteUser)
	admins.Admin(http.MethodGet, "/admin/api/metrics", adminHandler.Metrics)
	admins.Admin(http.MethodPost, "/admin/api/maintenance/cleanup", adminHandler.Cleanup)

	gzip, err := gzhttp.NewWrapper(gzhttp.ExceptContentTypes([]string{"text/event-stream"}))
	if err != nil {
		return nil, fmt.Errorf("build gzip wrapper: %w", err)
	}
	staged := security.NewStagedTimeout(
		time.Duration(cfg.Server.ConnectionGraceSeconds)*time.Second,
		time.Duration(cfg.Server.ConnectionHardSeconds)*time.Second,
		logger,
	)

	var userHandler http.Handler = pipeline.Wrap(users)
	userHandler = gzip(userHandler)
	userHandler = staged.Middleware(userHandler)
	userHandler = observability.RequestLoggingMiddleware(logger, "client", userHandler)
	userHandler = observability.RecoverMiddleware(logger, userHandler)
	userHandler = middleware.RequestID(userHandler)

	// Both listeners share one pipeline: the connection cap, IP lists, buckets
	// and metrics cover the admin surface too.
	var adminStack http.Handler = pipeline.Wrap(admins)
	adminStack = staged.Middleware(adminStack)
	adminStack = observability.RequestLoggingMiddleware(logger, "admin", adminStack)
	adminStack = observability.RecoverMiddleware(logger, adminStack)
	adminStack = middleware.RequestID(adminStack)

	return &Runtime{
		UserHandler:  userHandler,
		AdminHandler: adminStack,
		Config:       cfgStore,
		Logger:       logger,
		database:     database,
		auth:         authService,
		pipeline:     pipeline,
		sweeper:      sweeper,
	}, nil
}

// Start runs the background loops until ctx ends.
func (rt *Runtime) Start(ctx context.Context) {
	go rt.pipeline.Limiter.Run(ctx)
	go rt.sweeper.Run(ctx)
}

// Reload re-reads the configuration and applies it to the live pipeline.
// A bad file leaves the running configuration untouched.
func (rt *Runtime) Reload(path string) (config.Snapshot, error) {
	rt.reloadMu.Lock()
	defer rt.reloadMu.Unlock()

	next, err := config.Load(path)
	if err != nil {
		return rt.Config.Current(), err
	}
	if _, err := security.ParseNetworks(next.Security.BlockedNetworks); err != nil {
		return rt.Config.Current(), fmt.Errorf("blocked_networks: %w", err)
	}
	if _, err := security.ParseNetworks(next.Security.AllowedNetworks); err != nil {
		return rt.Config.Current(), fmt.Errorf("allowed_networks: %w", err)
	}

	snap, err := rt.Config.Swap(next)
	if err != nil {
		return snap, err
	}
	if err := rt.pipeline.Apply(snap.Config); err != nil {
		return snap, fmt.Errorf("apply pipeline settings: %w", err)
	}
	rt.Logger.Info("config_reloaded", map[string]any{"version": snap.Version})
	return snap, nil
}

func (rt *Runtime) Close() error {
	observability.FlushSentry()
	return rt.database.Close()
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(database pinger) router.OpenHandler {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		now := time.Now().UTC().Format(time.RFC3339)
		if err := database.Ping(ctx); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "time": now})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": now})
	}
}
