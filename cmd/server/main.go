package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"capora-backend/internal/captions"
	"capora-backend/internal/config"
	"capora-backend/internal/database"
	"capora-backend/internal/events"
	"capora-backend/internal/handlers"
	"capora-backend/internal/logger"
	"capora-backend/internal/middleware"
	"capora-backend/internal/models"
	"capora-backend/internal/platforms"
	"capora-backend/internal/repository"
	"capora-backend/internal/router"
	"capora-backend/internal/services"
	"capora-backend/internal/storage"
	"capora-backend/internal/transcode"
	"capora-backend/internal/websocket"
	"capora-backend/internal/worker"
)

// eventBus is satisfied by both the Redis bus and the in-process one.
type eventBus interface {
	services.EventPublisher
	websocket.Subscriber
	handlers.StatusWaiter
}

func main() {
	ctx := context.Background()

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	log := logger.For("main")
	log.Info("🚀 Starting Capora Backend...")
	log.Info("✓ Environment variables loaded")

	specs, err := config.LoadPlatformSpecs(cfg.PlatformSpecsPath)
	if err != nil {
		log.Fatalf("✗ Platform table invalid: %v", err)
	}

	// ──── Step 2: Initialize Stores ────
	var (
		contentStore services.ContentStore
		jobStore     interface {
			worker.JobStore
			handlers.JobReader
		}
		health = map[string]handlers.Pinger{}
	)
	switch cfg.StoreBackend {
	case "memory":
		contentStore = repository.NewMemoryStore()
		jobStore = repository.NewMemoryJobRepo()
		log.Warn("✓ In-memory store enabled (data is lost on restart)")
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, database.DefaultPoolOptions())
		if err != nil {
			log.Fatalf("✗ PostgreSQL connection failed: %v", err)
		}
		defer pool.Close()
		log.Info("✓ PostgreSQL connected")

		if err := database.RunMigrations(ctx, pool, "migrations", logger.For("migrations")); err != nil {
			log.Fatalf("✗ Database migration failed: %v", err)
		}
		log.Info("✓ Database migrations applied")

		contentStore = repository.NewPostgresStore(pool)
		jobStore = repository.NewJobRepo(pool)
		health["postgres"] = handlers.PingFunc(pool.Ping)
	}

	// ──── Step 3: Initialize Redis Clients ────
	var (
		bus           eventBus
		broker        worker.Broker
		scheduleStore services.ScheduleStore
		accountStore  platforms.AccountStore
	)
	if cfg.RedisURL != "" {
		redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("✗ Redis connection failed: %v", err)
		}
		defer redisClients.Close()

		bus = events.NewBus(redisClients.PubSub)
		broker = worker.NewRedisBroker(redisClients.Queue)
		scheduleStore = repository.NewScheduleRepo(redisClients.Queue)
		accountStore = platforms.NewRedisAccountStore(redisClients.Queue)
		health["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClients.Queue.Ping(ctx).Err()
		})
		log.Info("✓ Redis connected")
	} else {
		bus = events.NewLocal()
		broker = worker.NewMemoryBroker(0)
		scheduleStore = repository.NewMemoryScheduleRepo()
		accountStore = platforms.NewMemoryAccountStore()
		log.Warn("✓ REDIS_URL not set, using in-process queue and events")
	}

	// ──── Step 4: Initialize Media Storage ────
	var (
		mediaStore storage.Backend
		mediaFiles http.Handler
	)
	switch cfg.StorageType {
	case "gcs":
		gcs, err := storage.NewGCSStorage(ctx, cfg.GCSBucket, cfg.PublicMediaBaseURL, cfg.WorkDir)
		if err != nil {
			log.Fatalf("✗ GCS storage initialization failed: %v", err)
		}
		defer gcs.Close()
		mediaStore = gcs
		log.Infof("✓ GCS storage ready (bucket %s)", cfg.GCSBucket)
	default:
		local, err := storage.NewLocalStorage(cfg.StoragePath, cfg.PublicMediaBaseURL)
		if err != nil {
			log.Fatalf("✗ Local storage initialization failed: %v", err)
		}
		mediaStore = local
		mediaFiles = http.FileServer(http.Dir(local.Root()))
		log.Infof("✓ Local storage ready at %s", local.Root())
	}

	// ──── Step 5: Initialize Caption Provider ────
	var provider captions.Provider
	switch cfg.CaptionProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			log.Warn("GEMINI_API_KEY not set, captions use templates")
			break
		}
		gemini, err := captions.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalf("✗ Gemini client initialization failed: %v", err)
		}
		defer gemini.Close()
		provider = gemini
		log.Info("✓ Gemini caption provider initialized")
	case "groq":
		if cfg.GroqAPIKey == "" {
			log.Warn("GROQ_API_KEY not set, captions use templates")
			break
		}
		groq, err := captions.NewGroqProvider(cfg.GroqAPIKey, cfg.GroqModel)
		if err != nil {
			log.Fatalf("✗ Groq client initialization failed: %v", err)
		}
		provider = groq
		log.Info("✓ Groq caption provider initialized")
	default:
		log.Info("✓ Caption provider disabled, using templates")
	}
	captionGenerator := captions.NewGenerator(provider, cfg.CaptionConcurrentReqs)

	// ──── Step 6: Initialize Platform Connectors ────
	apps := make(map[models.Platform]platforms.OAuthApp, len(cfg.OAuthApps))
	for p, app := range cfg.OAuthApps {
		apps[p] = platforms.OAuthApp{ClientID: app.ClientID, ClientSecret: app.ClientSecret}
	}
	connector := platforms.NewConnector(apps, cfg.OAuthRedirectBaseURL, accountStore)

	endpoints := platforms.DefaultEndpoints()
	retry := platforms.DefaultRetryConfig()
	youtube := platforms.NewYouTube(connector, mediaStore, endpoints, retry)
	tiktok := platforms.NewTikTok(connector, endpoints, retry)
	instagram := platforms.NewInstagram(connector, endpoints, retry)
	facebook := platforms.NewFacebook(connector, endpoints, retry)
	twitter := platforms.NewTwitter(connector, mediaStore, endpoints, retry)
	connector.WithResolvers(youtube, tiktok, instagram, facebook, twitter)
	adapters := []services.PlatformAdapter{youtube, tiktok, instagram, facebook, twitter}
	log.Info("✓ Platform adapters registered")

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	transcoder := transcode.New(mediaStore, transcode.Options{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		WorkDir:     cfg.WorkDir,
	})
	contentService := services.NewContentService(contentStore, bus)
	processor := services.NewVariantProcessor(contentStore, transcoder, mediaStore, specs, bus, cfg.TranscodeTimeout)
	publisher := services.NewPublishOrchestrator(contentStore, adapters, mediaStore, bus, cfg.PublishTimeout)
	queue := worker.NewQueue(broker, jobStore)
	scheduler := services.NewPublishScheduler(scheduleStore, publisher, queue, bus)

	// ──── Initialize Handlers ────
	contentHandler := handlers.NewContentHandler(contentService, processor, publisher, queue, bus, mediaStore, cfg.MaxUploadMB)
	scheduleHandler := handlers.NewScheduleHandler(scheduler)
	captionHandler := handlers.NewCaptionHandler(captionGenerator, contentService)
	accountHandler := handlers.NewAccountHandler(connector, cfg.FrontendURL)
	platformHandler := handlers.NewPlatformHandler(specs)
	jobHandler := handlers.NewJobHandler(jobStore)
	healthHandler := handlers.NewHealthHandler(health)
	captionLimiter := middleware.NewRateLimiter(cfg.CaptionRatePerMinute, time.Minute)
	defer captionLimiter.Stop()

	// ──── Step 7: Start Job Worker Pool ────
	workerPool := worker.NewPool(broker, jobStore, processor, publisher, bus, cfg.WorkerCount)
	workerPool.Start()
	log.Infof("✓ Worker pool started (%d goroutines)", cfg.WorkerCount)

	scheduler.Start()
	log.Info("✓ Publish scheduler started")

	// ──── Step 8: Start WebSocket Hub ────
	wsHub := websocket.NewHub(bus, jwtAuth)
	log.Info("✓ WebSocket hub started")

	// ──── Step 9: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		contentHandler,
		scheduleHandler,
		captionHandler,
		accountHandler,
		platformHandler,
		jobHandler,
		healthHandler,
		wsHub,
		captionLimiter,
		mediaFiles,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 5 * time.Minute,
		// sync publish and ?wait status requests hold the response open
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down...")
		scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		workerPool.Stop()
	}()

	log.Infof("✓ Capora Backend ready on http://localhost:%s", cfg.Port)
	log.Infof("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Infof("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
