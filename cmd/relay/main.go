package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aircast/internal/core/ports"
	"aircast/internal/core/services"
	httphandlers "aircast/internal/handlers/http"
	"aircast/internal/infrastructure/events"
	"aircast/internal/infrastructure/middleware"
	"aircast/internal/infrastructure/monitoring"
	"aircast/internal/infrastructure/relay"
	"aircast/internal/infrastructure/reliability"
	"aircast/internal/infrastructure/repositories"
	"aircast/pkg/circuitbreaker"
	"aircast/pkg/config"
	"aircast/pkg/logger"
	"aircast/pkg/retry"
	"aircast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const dependencyCheckTimeout = 2 * time.Second

func main() {
	startTime := time.Now()

	configPath := os.Getenv("AIRCAST_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Initialize the store backend and its decorators
	factory, err := repositories.NewStoreFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create store factory", "error", err)
	}

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	var store ports.StreamStore = factory.CreateStreamStore()
	store = reliability.NewReliableStreamStore(store, retry.DefaultConfig(), circuitbreaker.DefaultConfig(), log)
	store = services.NewCachedStreamStore(store, cfg.Store.CacheTTL)
	store = monitoring.NewInstrumentedStreamStore(store, collector)
	store = repositories.NewBatchedStreamStore(store, cfg.Store.ViewerCountBatchSize, cfg.Store.ViewerCountFlushInterval)

	// Initialize services
	tokens := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	history := services.NewChatHistoryService(cfg.History.Capacity)

	var eventBus *events.RedisEventBus
	if cfg.Events.Enabled {
		if client := factory.RedisClient(); client != nil {
			eventBus = events.NewRedisEventBus(client, uuid.NewString(), log)
		} else {
			log.Warn("events enabled but Redis is unavailable, event bus disabled")
		}
	}

	// The instrumented publisher records transition metrics even when the
	// bus itself is disabled.
	var busPublisher ports.EventPublisher
	if eventBus != nil {
		busPublisher = eventBus
	}
	publisher := monitoring.NewInstrumentedEventPublisher(busPublisher, collector)

	lifecycle := services.NewLifecycleService(store, publisher, log)

	// Initialize the connection registry and websocket servers
	hub := relay.NewHub(
		lifecycle,
		history,
		collector,
		cfg.Relay.SendBufferSize,
		cfg.Relay.PingInterval,
		cfg.Relay.PongTimeout,
		cfg.RateLimiting.WebSocket.MaxConcurrent,
		log,
	)
	lifecycle.SetNotifier(hub)

	chatServer := relay.NewChatServer(hub, store, lifecycle, tokens, cfg, log)
	audioServer := relay.NewAudioServer(hub, store, lifecycle, tokens, cfg, log)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Sibling relay instances announce lifecycle transitions over the bus.
	// Only the local frames react; session state stays with the instance
	// that holds the broadcaster connection.
	if eventBus != nil {
		go func() {
			err := eventBus.Subscribe(appCtx, func(event *events.Event) error {
				switch event.Type {
				case events.EventStreamLive:
					hub.BroadcastStreamStatus(event.StreamID, true)
				case events.EventStreamEnded:
					hub.BroadcastStreamStatus(event.StreamID, false)
					hub.CloseAudio(event.StreamID, "stream ended")
				}
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("event subscription terminated", "error", err)
			}
		}()
	}

	// Initialize health checks
	checker := monitoring.NewHealthChecker()
	checker.AddStoreCheck(store, cfg.Monitoring.HealthCheckInterval, dependencyCheckTimeout)
	if client := factory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, cfg.Monitoring.HealthCheckInterval, dependencyCheckTimeout)
	}
	checker.StartBackgroundChecks(appCtx)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	streamHandler := httphandlers.NewStreamHandler(store, lifecycle, tokens)
	streamHandler.SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"streams":     hub.StreamCount(),
			"connections": hub.ConnectionCount(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), dependencyCheckTimeout)
		defer cancel()

		status := checker.CheckAll(ctx)
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// The websocket endpoints bypass the Gin middleware chain. An upgraded
	// connection would otherwise hold an HTTP concurrency slot for its
	// whole lifetime; connection admission runs its own limits.
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", chatServer.HandleWebSocket)
	mux.HandleFunc("/ws/audio", audioServer.HandleWebSocket)
	mux.Handle("/", router)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting Aircast relay on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down Aircast relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests and drain in-flight HTTP. Hijacked websocket
	// connections are not covered by Shutdown; the registry closes those.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	hub.Shutdown()

	// Stops the event subscription and the background health checks.
	appCancel()

	// Flushes pending viewer-count writes before the backend goes away.
	if stopper, ok := store.(interface{ Stop() }); ok {
		stopper.Stop()
	}

	if err := factory.Close(); err != nil {
		log.Errorw("Error closing store factory", "error", err)
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("Aircast relay stopped")
}
