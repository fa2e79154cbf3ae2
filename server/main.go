package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/cache"
	"github.com/san-kum/medassist/server/config"
	"github.com/san-kum/medassist/server/emitter"
	"github.com/san-kum/medassist/server/handlers"
	"github.com/san-kum/medassist/server/media"
	"github.com/san-kum/medassist/server/middleware"
	"github.com/san-kum/medassist/server/ml"
	"github.com/san-kum/medassist/server/orchestrator"
	"github.com/san-kum/medassist/server/processor"
)

type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	processor   *processor.DiagnosisProcessor
	perception  *ml.Client
	emitter     *emitter.MQTTEmitter
	rateLimiter *middleware.RateLimiter
	config      *config.Config
	cancel      context.CancelFunc
}

func main() {
	cfg := config.LoadConfig()

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))

		var err error
		if cfg.Security.EnableHTTPS {
			err = srv.ListenAndServeTLS(cfg.Security.CertFile, cfg.Security.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting requests before the workers go away.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	server.Shutdown()
	logger.Info("Server exited")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = level

	if cfg.Output != "" {
		zcfg.OutputPaths = []string{cfg.Output}
	}
	return zcfg.Build()
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	server, err := newServer(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	server.cancel = cancel
	return server, nil
}

func newServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	rules, err := config.LoadRules(cfg.Analysis.RulesFile)
	if err != nil {
		return nil, err
	}
	suite, err := rules.Suite(cfg.Analysis)
	if err != nil {
		return nil, fmt.Errorf("failed to build analyzers: %w", err)
	}

	perception := ml.NewClient(cfg.Perception.BaseURL, &ml.ClientConfig{
		Timeout:             cfg.Perception.Timeout,
		MaxRetries:          cfg.Perception.MaxRetries,
		RetryDelay:          cfg.Perception.RetryDelay,
		HealthCheckInterval: cfg.Perception.HealthCheckInterval,
	}, logger)
	perception.Start(ctx)

	var video orchestrator.VideoExtractor = perception
	if cfg.Perception.LocalDecode {
		video = &media.Fallback{
			Local:  media.NewDecoder(perception, suite.Sampler, logger),
			Remote: perception,
			Logger: logger,
		}
	}

	orch := orchestrator.New(suite,
		orchestrator.WithVideoExtractor(video),
		orchestrator.WithAudioExtractor(perception),
		orchestrator.WithImageExtractor(perception),
		orchestrator.WithTextClassifier(perception),
		orchestrator.WithRecommender(rules.Recommender()),
		orchestrator.WithAliases(rules.Aliases),
		orchestrator.WithModalityTimeout(cfg.Analysis.ModalityTimeout),
		orchestrator.WithLogger(logger),
	)

	opts := []processor.Option{processor.WithCache(newCache(ctx, cfg, logger))}

	var mqttEmitter *emitter.MQTTEmitter
	if cfg.MQTT.Enabled {
		mqttEmitter = emitter.NewMQTTEmitter(cfg.MQTT, logger)
		if err := mqttEmitter.Connect(ctx); err != nil {
			logger.Warn("Failed to connect to MQTT broker, reports will not be published", zap.Error(err))
			mqttEmitter = nil
		} else {
			opts = append(opts, processor.WithPublisher(mqttEmitter))
		}
	}

	diagnosisProcessor := processor.NewDiagnosisProcessor(orch, processor.ProcessorConfig{
		Workers:           cfg.Processor.Workers,
		QueueSize:         cfg.Processor.QueueSize,
		CacheTTL:          cfg.Processor.CacheTTL,
		JobRetention:      cfg.Processor.JobRetention,
		ProcessingTimeout: cfg.Security.RequestTimeout,
	}, logger, opts...)

	if err := os.MkdirAll(cfg.Analysis.UploadDir, 0o750); err != nil {
		diagnosisProcessor.Shutdown()
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)
	authMiddleware := middleware.NewAuthMiddleware(cfg.Security.JWTSecretKey, logger)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))
	router.Use(middleware.TimeoutHandler(cfg.Security.RequestTimeout))

	diagnosisHandler := handlers.NewDiagnosisHandler(diagnosisProcessor, perception, cfg.Analysis.UploadDir, logger)
	wsHandler := handlers.NewWebSocketHandler(suite, diagnosisProcessor, cfg.Security.AllowedOrigins, logger)

	setupRoutes(router, cfg, diagnosisHandler, wsHandler, authMiddleware, rateLimiter)

	return &Server{
		router:      router,
		logger:      logger,
		processor:   diagnosisProcessor,
		perception:  perception,
		emitter:     mqttEmitter,
		rateLimiter: rateLimiter,
		config:      cfg,
	}, nil
}

// newCache prefers Redis and falls back to the in-process LRU.
func newCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) cache.Cache {
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			TTL:      cfg.Processor.CacheTTL,
		}, logger)
		if err == nil {
			return redisCache
		}
		logger.Warn("Failed to connect to Redis, using memory cache", zap.Error(err))
	}
	return cache.NewMemoryCache(cfg.Processor.CacheSize, cfg.Processor.CacheTTL, logger)
}

func setupRoutes(router *gin.Engine, cfg *config.Config, diagnosis *handlers.DiagnosisHandler, wsHandler *handlers.WebSocketHandler, auth *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter) {
	router.GET("/health", diagnosis.Health)

	// Live pose and face frames.
	router.GET("/ws", rateLimiter.RateLimit(), wsHandler.HandleWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/health", diagnosis.Health)

		protected := api.Group("/")
		protected.Use(rateLimiter.RateLimit())
		{
			// Uploads run the perception models, so they get a tighter budget.
			uploadRPS := max(cfg.Security.RateLimitRPS/4, 1)
			protected.POST("/diagnose",
				rateLimiter.RateLimitWithConfig(uploadRPS, uploadRPS*2),
				middleware.ContentTypes("multipart/form-data"),
				diagnosis.Diagnose)
			protected.POST("/diagnose/features", middleware.ContentTypes("application/json"), diagnosis.DiagnoseFeatures)

			protected.POST("/jobs", middleware.ContentTypes("application/json"), diagnosis.SubmitJob)
			protected.GET("/jobs/:job_id", diagnosis.GetJob)

			protected.GET("/stats", diagnosis.GetStats)
		}

		admin := api.Group("/admin")
		admin.Use(auth.RequireAuth())
		admin.Use(auth.RequireRole(middleware.RoleAdmin))
		{
			admin.GET("/stats", diagnosis.GetStats)
			admin.GET("/cache-stats", diagnosis.GetCacheStats)
		}
	}
}

func (s *Server) Shutdown() {
	if err := s.processor.Shutdown(); err != nil {
		s.logger.Error("Failed to shutdown diagnosis processor", zap.Error(err))
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Shutdown()
	}

	if s.emitter != nil {
		s.emitter.Disconnect()
	}

	// Stops the perception health checker.
	if s.cancel != nil {
		s.cancel()
	}
}
