// Package app assembles the chat relay from its components and owns their
// startup and shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chatrelay/internal/api"
	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/database"
	"chatrelay/internal/hub"
	"chatrelay/internal/notify"
	"chatrelay/internal/presence"
	"chatrelay/internal/push"
	"chatrelay/internal/registry"
	"chatrelay/internal/router"
	"chatrelay/internal/typing"
	"chatrelay/internal/websocket"
	"chatrelay/pkg/interfaces"
	pkgdatabase "chatrelay/pkg/database"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// drainTimeout bounds how long Stop waits for closed connections to leave
// the registry before the presence broadcaster is stopped.
const drainTimeout = time.Second

// Application coordinates all system components.
type Application struct {
	config *config.Config
	logger zerolog.Logger

	dbManager   *database.Manager
	redisClient *redis.Client
	registry    *registry.Registry
	messageHub  *hub.Hub
	gate        *notify.Gate
	presence    *presence.Broadcaster
	limiter     *router.RateLimiter
	router      *router.Router
	httpServer  *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
}

// NewApplication creates an application with all components initialized.
// Component initialization follows dependency order:
// Database → Auth → Registry → Hub → Push → Gate → Router → Broadcasters → HTTP
func NewApplication(cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: database, schema and optional seed
	dbManager, err := openDatabase(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewJWTVerifier(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Leeway, dbManager)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to create verifier: %w", err)
	}

	// STEP 2: live state
	reg := registry.NewRegistry(cfg.Registry.Shards, logger)
	messageHub := hub.NewHub(logger)

	// STEP 3: offline notifications
	sender, redisClient, err := newPushSender(cfg.Push, logger)
	if err != nil {
		_ = dbManager.Close()
		return nil, err
	}
	gate := notify.NewGate(dbManager, sender, notify.Config{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		SendTimeout: cfg.Notify.SendTimeout,
	}, logger)

	// STEP 4: routing and ephemeral signals
	messageRouter := router.NewRouter(reg, dbManager, dbManager, gate, logger)
	presenceBroadcaster := presence.NewBroadcaster(dbManager, messageHub, cfg.Presence.StoreTimeout, logger)
	typingBroadcaster := typing.NewBroadcaster(reg, dbManager, logger)
	limiter := router.NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window)

	// STEP 5: transports
	wsHandler := websocket.NewHandler(verifier, reg, messageHub, messageRouter, typingBroadcaster, limiter, websocket.Options{
		Connection: websocket.ConnectionOptions{
			SendBuffer:   cfg.WebSocket.SendBuffer,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			PingInterval: cfg.WebSocket.PingInterval,
		},
		PongWait:       cfg.WebSocket.PongWait,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		RequestTimeout: cfg.WebSocket.RequestTimeout,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, logger)

	apiServer := api.NewServer(api.Dependencies{
		Verifier:  verifier,
		Directory: dbManager,
		Messages:  dbManager,
		Presence:  dbManager,
		Tokens:    dbManager,
		Health:    dbManager,
		Live:      reg,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)
	mux.Handle("/", apiServer)

	return &Application{
		config:      cfg,
		logger:      logger.With().Str("component", "app").Logger(),
		dbManager:   dbManager,
		redisClient: redisClient,
		registry:    reg,
		messageHub:  messageHub,
		gate:        gate,
		presence:    presenceBroadcaster,
		limiter:     limiter,
		router:      messageRouter,
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      mux,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}, nil
}

func openDatabase(cfg *config.DatabaseConfig, logger zerolog.Logger) (*database.Manager, error) {
	if dir := filepath.Dir(cfg.Path); !pkgdatabase.IsMemory(cfg.Path) && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Path
	dbConfig.MaxConnections = cfg.MaxConnections
	dbConfig.WriteTimeout = cfg.WriteTimeout
	dbConfig.RetryDelay = cfg.RetryDelay

	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
	defer cancel()

	applied, err := pkgdatabase.NewMigrationManager(dbManager.DB(), pkgdatabase.Migrations()).ApplyMigrations(ctx)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.DB()).Validate(ctx); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("database schema is invalid: %w", err)
	}
	logger.Info().Strs("applied", applied).Str("path", cfg.Path).Msg("database ready")

	if cfg.SeedPath != "" {
		seed, err := database.LoadSeed(cfg.SeedPath)
		if err != nil {
			_ = dbManager.Close()
			return nil, err
		}
		if err := dbManager.ApplySeed(ctx, seed); err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to apply seed: %w", err)
		}
		logger.Info().
			Int("users", len(seed.Users)).
			Int("channels", len(seed.Channels)).
			Str("path", cfg.SeedPath).
			Msg("seed applied")
	}
	return dbManager, nil
}

func newPushSender(cfg *config.PushConfig, logger zerolog.Logger) (interfaces.PushSender, *redis.Client, error) {
	if cfg.Type != config.PushRedis {
		return push.NewLogSender(logger), nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	sender, err := push.NewRedisQueueSender(client, cfg.Redis.Key, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to create push sender: %w", err)
	}
	return sender, client, nil
}

// Start begins background processing and then accepts connections. It
// returns once the listener is bound; serving continues until Stop.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.started {
		return ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	// Background work outlives the start ctx; Stop cancels it.
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	// STEP 1: topic hub (presence frames are published through it). It is
	// stopped explicitly after the presence broadcaster has flushed.
	if err := app.messageHub.Start(context.WithoutCancel(ctx)); err != nil {
		cancel()
		_ = listener.Close()
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// STEP 2: workers
	app.goBackground(func() { app.presence.Run(bgCtx, app.registry) })
	app.goBackground(func() {
		if err := app.gate.Run(bgCtx); err != nil {
			app.logger.Error().Err(err).Msg("notification gate stopped")
		}
	})
	app.goBackground(func() { app.limiter.Run(bgCtx, app.config.RateLimit.CleanupInterval) })

	// STEP 3: HTTP server
	app.goBackground(func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error().Err(err).Msg("http server stopped")
		}
	})

	app.listener = listener
	app.cancel = cancel
	app.started = true
	app.logger.Info().Str("addr", listener.Addr().String()).Msg("chat relay started")
	return nil
}

func (app *Application) goBackground(fn func()) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		fn()
	}()
}

// Stop shuts down in reverse dependency order: HTTP → Connections →
// Workers → Hub → Push → Database. Every step runs even if an earlier one
// fails; the errors are joined.
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if !app.started {
		return ErrNotStarted
	}
	app.started = false

	app.logger.Info().Msg("shutting down chat relay")
	var errs []error

	// STEP 1: stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// STEP 2: close live sockets; their read pumps unregister them, which
	// queues the final offline transitions
	for _, conn := range app.registry.Connections() {
		_ = conn.Close()
	}
	app.waitForDrain(ctx)

	// STEP 3: stop workers; the presence broadcaster announces what is queued
	app.cancel()
	app.wg.Wait()

	// STEP 4: hub, push transport, database
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	app.logger.Info().Msg("chat relay shutdown complete")
	return errors.Join(errs...)
}

func (app *Application) waitForDrain(ctx context.Context) {
	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for app.registry.Stats()["online_users"] > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			app.logger.Warn().Int("online_users", app.registry.Stats()["online_users"]).Msg("connections still registered at shutdown")
			return
		case <-ticker.C:
		}
	}
}

// Addr returns the bound listener address once started, otherwise the
// configured one.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Stats aggregates component counters for diagnostics.
func (app *Application) Stats() map[string]interface{} {
	return map[string]interface{}{
		"registry": app.registry.Stats(),
		"hub":      app.messageHub.Stats(),
		"router":   app.router.Stats(),
		"notify":   app.gate.Stats(),
		"database": app.dbManager.Stats(),
	}
}
