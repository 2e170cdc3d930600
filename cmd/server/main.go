// shsh-webssh - browser SSH client server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/shsh-webssh/internal/api"
	"github.com/ashureev/shsh-webssh/internal/catalog"
	"github.com/ashureev/shsh-webssh/internal/config"
	"github.com/ashureev/shsh-webssh/internal/container"
	"github.com/ashureev/shsh-webssh/internal/crypto"
	"github.com/ashureev/shsh-webssh/internal/domain"
	"github.com/ashureev/shsh-webssh/internal/identity"
	"github.com/ashureev/shsh-webssh/internal/middleware"
	"github.com/ashureev/shsh-webssh/internal/remote"
	"github.com/ashureev/shsh-webssh/internal/store"
	"github.com/ashureev/shsh-webssh/internal/terminal"
	"github.com/ashureev/shsh-webssh/internal/workspace"
	"github.com/ashureev/shsh-webssh/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "container", config.IsContainer())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	sealer, err := crypto.LoadSealer(context.Background(), repo, cfg.SecretKey)
	if err != nil {
		slog.Error("Failed to load secret key", "error", err)
		os.Exit(1)
	}

	// Remote session provider and its connectors.
	provider := remote.NewProvider(logger)
	provider.Register(domain.HostSSH, &remote.SSHConnector{DialTimeout: cfg.Terminal.SSHDialTimeout})

	var containers container.Manager
	if cfg.Shell.DockerEnabled {
		mgr, err := container.NewDockerManager()
		if err != nil {
			slog.Error("Failed to initialize container manager", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := mgr.Close(); closeErr != nil {
				slog.Error("Failed to close container manager", "error", closeErr)
			}
		}()
		containers = mgr
		provider.Register(domain.HostDocker, &remote.DockerConnector{Manager: mgr, User: cfg.Shell.DockerUser})
		slog.Info("Docker connector enabled")
	}
	if cfg.Shell.LocalShellEnabled {
		provider.Register(domain.HostLocal, &remote.LocalConnector{Shell: cfg.Shell.LocalShell})
		slog.Warn("Local shell connector enabled", "shell", cfg.Shell.LocalShell)
	}
	slog.Info("Remote provider ready", "kinds", provider.Kinds())

	// Initialize services.
	viewers := terminal.NewViewerSet()
	workspaces := workspace.NewManager(workspace.Options{
		Provider:          provider,
		Connections:       repo,
		Sealer:            sealer,
		Local:             catalog.NewLocalDir(cfg.LocalCatalogDir, sealer),
		ScrollbackBytes:   cfg.Terminal.ScrollbackBytes,
		DisconnectTimeout: cfg.Terminal.DisconnectTimeout,
		OnClose:           viewers.CloseUser,
		Logger:            logger,
	})

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, workspaces, viewers, containers, provider, cfg)
	wsHandler := terminal.NewWebSocketHandler(workspaces, repo, viewers, cfg.FrontendURL, cfg.IsDevelopment(),
		cfg.Terminal.InitWaitTimeout, cfg.Terminal.InitPollInterval)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
	r.Use(middleware.Activity(workspaces))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/terminal", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE needs WriteTimeout 0.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Closing workspaces ends their event streams so Shutdown can drain.
	srv.RegisterOnShutdown(func() {
		workspaces.CloseAll(context.Background())
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workspace.StartIdleWorker(ctx, repo, workspaces, cfg.Workspace.TTL, cfg.Workspace.SweepInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	workspaces.CloseAll(shutdownCtx)
	provider.Close(shutdownCtx)

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
