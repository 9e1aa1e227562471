package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/config"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/database"
	wsHandler "github.com/Vivekkumarprince1/vaani-sub000/internal/handler/ws"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/middleware"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/provider/google"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/registry"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/repository/cockroach"
	mongoRepo "github.com/Vivekkumarprince1/vaani-sub000/internal/repository/mongo"
	redisRepo "github.com/Vivekkumarprince1/vaani-sub000/internal/repository/redis"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/service/groupcall"
	signalService "github.com/Vivekkumarprince1/vaani-sub000/internal/service/signal"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/service/speech"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/jwt"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/logger"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/metrics"
)

func main() {
	// Root context cancels the background janitors on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize logger
	if err := logger.Init(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: cfg.Server.ServiceName,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 3. Setup JWT manager
	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// 4. Connect to CockroachDB for the room directory with retry logic
	dbConfig := database.DefaultDBConfig()
	dbConfig.MaxOpenConns = cfg.Database.MaxConns

	var db *database.DB

	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err = database.NewDB(ctx, cfg.Database.DSN(), dbConfig)
	if err == nil {
		log.Println("✅ Connected to CockroachDB")
	} else {
		// Retry with exponential backoff
		for attempt := 2; attempt <= maxRetries; attempt++ {
			delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > maxDelay {
				delay = maxDelay
			}
			log.Printf("⚠️  CockroachDB connection attempt %d failed: %v. Retrying in %v...", attempt-1, err, delay)
			time.Sleep(delay)

			db, err = database.NewDB(ctx, cfg.Database.DSN(), dbConfig)
			if err == nil {
				log.Printf("✅ Connected to CockroachDB (attempt %d/%d)", attempt, maxRetries)
				break
			}
		}
	}
	if err != nil {
		// Room membership gates signaling rooms and group calls, so there is
		// no limited mode without it
		log.Fatalf("Failed to connect to CockroachDB after %d attempts: %v", maxRetries, err)
	}
	defer db.Close()

	roomRepo := cockroach.NewRoomRepository(db.Pool)

	// 5. Connect to MongoDB for group call records
	mongoDB, err := database.NewMongo(ctx, &database.MongoConfig{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Mongo.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close(ctx)
	log.Println("✅ Connected to MongoDB")

	if err := mongoDB.EnsureIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to ensure MongoDB indexes: %v", err)
	}

	callRepo := mongoRepo.NewGroupCallRepository(mongoDB.DB)

	// 6. Initialize Redis with degraded mode support
	database.InitRedisMetrics()
	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to create Redis client: %v", err)
	}
	defer redisDB.Close()

	// First check runs inline so degraded mode is accurate before traffic
	if err := redisDB.HealthCheck(ctx); err != nil {
		log.Printf("Warning: Redis unreachable, presence mirror and cache tier run degraded: %v", err)
	} else {
		log.Println("✅ Connected to Redis")
	}

	redisDB.StartHealthCheck(ctx, 10*time.Second)
	log.Println("✅ Redis health check started (10s interval)")

	// Presence mirror entries outlive the offline grace so a restart never
	// resurrects users the janitor already let go
	presenceMirror := redisRepo.NewPresenceRepository(redisDB, 2*cfg.Presence.OfflineGrace)

	// 7. Initialize Google Cloud speech providers
	recognizer, err := google.NewSpeech(ctx)
	if err != nil {
		log.Fatalf("Failed to create speech client: %v", err)
	}
	defer recognizer.Close()

	translator, err := google.NewTranslate(ctx)
	if err != nil {
		log.Fatalf("Failed to create translate client: %v", err)
	}
	defer translator.Close()

	synthesizer, err := google.NewTextToSpeech(ctx)
	if err != nil {
		log.Fatalf("Failed to create text-to-speech client: %v", err)
	}
	defer synthesizer.Close()
	log.Println("✅ Google Cloud speech providers ready")

	// 8. Build the live state and the hub
	presence := registry.NewPresence(cfg.Presence.OfflineGrace)
	rooms := registry.NewRoomIndex()

	hub := wsHandler.NewHub(presence, rooms, presenceMirror, jwtManager, wsHandler.Config{
		MaxConnections: cfg.Server.MaxConnections,
		QueueDepth:     cfg.Speech.PlaybackQueueDepth,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// 9. Initialize services
	signalSvc := signalService.NewService(hub, presence, cfg.Call.DeliveryTimeout)
	groupSvc := groupcall.NewService(callRepo, roomRepo, hub, presence, cfg.Call.GroupRingingTimeout)

	translationCache := speech.NewTranslationCache(cfg.Speech.CacheSize, cfg.Speech.CacheTTL, redisDB)
	orchestrator := speech.NewOrchestrator(speech.Providers{
		Recognizer:  recognizer,
		Translator:  translator,
		Synthesizer: synthesizer,
	}, translationCache, rooms, presence, hub, hub, speech.Config{
		ProviderTimeout: cfg.Speech.ProviderTimeout,
		Retries:         cfg.Speech.ProviderRetries,
		MinAudioBytes:   cfg.Speech.MinAudioBytes,
		MaxAudioBytes:   cfg.Speech.MaxAudioBytes,
		PartialResults:  cfg.Speech.PartialResults,
	})

	dispatcher := wsHandler.NewDispatcher(hub, signalSvc, groupSvc, orchestrator, roomRepo)
	hub.SetDispatcher(dispatcher)
	hub.OnDisconnect(signalSvc.DropUser)
	hub.OnDisconnect(func(userID string) {
		orchestrator.CancelSpeaker(userID, "disconnect")
	})

	// 10. Start background janitors
	hub.StartJanitor(ctx, cfg.Presence.SweepInterval)
	groupSvc.StartReaper(ctx, cfg.Call.ReaperInterval)
	orchestrator.StartJanitor(ctx, 0)

	// 11. Initialize metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 12. Setup Gin router
	router := gin.New() // Don't use Default() to have full control

	// Configure trusted proxies for production
	trustedProxies := []string{}
	if cfg.Server.Environment != "production" {
		// Development: allow localhost proxies
		trustedProxies = []string{"127.0.0.1", "::1"}
	}
	router.SetTrustedProxies(trustedProxies)

	// Apply global middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(prometheusMiddleware.Handler())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"redis":   !redisDB.IsDegraded(),
			"time":    time.Now().UTC(),
		})
	})

	// Metrics endpoint (for Prometheus scraping)
	router.GET("/metrics", middleware.MetricsHandler())

	// WebSocket endpoint for the event channel
	v1 := router.Group("/v1")
	v1.GET("/ws", hub.ServeWS)

	// 13. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Hub Service starting on port %d\n", cfg.Server.Port)
		log.Println("📡 WebSocket endpoint: /v1/ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 14. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
