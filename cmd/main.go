package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgebb/edgebb/internal/archive"
	"github.com/edgebb/edgebb/internal/cache"
	"github.com/edgebb/edgebb/internal/captcha"
	"github.com/edgebb/edgebb/internal/config"
	"github.com/edgebb/edgebb/internal/db"
	"github.com/edgebb/edgebb/internal/handlers"
	"github.com/edgebb/edgebb/internal/logger"
	"github.com/edgebb/edgebb/internal/middleware"
	"github.com/edgebb/edgebb/internal/ratelimit"
	"github.com/edgebb/edgebb/internal/routes"
	"github.com/edgebb/edgebb/internal/sweep"
	"github.com/edgebb/edgebb/internal/tinker"
)

const siteTitle = "edgebb"

func main() {
	// Configuration from environment
	port := getEnv("API_PORT", "8000")
	logLevel := getEnv("LOG_LEVEL", "info")
	logPretty := getEnv("LOG_PRETTY", "false") == "true"
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "edgebb")
	dbPassword := getEnv("DB_PASSWORD", "edgebb")
	dbName := getEnv("DB_NAME", "edgebb")
	dbSSLMode := getEnv("DB_SSL_MODE", "disable") // SECURITY: Should be "require" in production
	shardDBs := getEnv("RESPONSE_SHARD_DBS", "")  // comma-separated shard db names; empty = single shard
	rateLimitEnabled := getEnv("RATE_LIMIT_ENABLED", "false") == "true"
	rateLimitRPS := getEnvInt("RATE_LIMIT_REQUESTS_PER_SECOND", 20)
	sweepSchedule := getEnv("SWEEP_SCHEDULE", "@hourly")
	hardMinSpan := getEnv("HARD_MIN_RECENT_RES_SPAN_CAP", "false") == "true"
	webuiEnabled := getEnv("WEBUI", "true") != "false"

	logger.Initialize(logger.Options{Service: siteTitle + "-api", Level: logLevel, Pretty: logPretty})
	log.Println("Starting edgebb API server...")

	// CAPTCHA and token secrets
	siteKey := os.Getenv("SITE_KEY")
	secretKey := os.Getenv("SECRET_KEY")
	if siteKey == "" || secretKey == "" {
		log.Fatal("SITE_KEY and SECRET_KEY environment variables must be set")
	}
	recaptchaSiteKey := os.Getenv("RECAPTCHA_SITE_KEY")
	recaptchaSecretKey := os.Getenv("RECAPTCHA_SECRET_KEY")

	signer, err := tinker.NewSigner(os.Getenv("TINKER_SECRET"))
	if err != nil {
		log.Fatalf("Invalid TINKER_SECRET: %v", err)
	}
	if signer == nil {
		log.Println("TINKER_SECRET not set - tinker tokens disabled")
	}

	// Board table
	boards, err := config.LoadBoards(os.Getenv)
	if err != nil {
		log.Fatalf("Failed to load board configuration: %v", err)
	}
	log.Printf("Loaded %d board(s)", len(boards.List))

	// Database (metadata + response shards)
	log.Println("Connecting to database...")
	var shardNames []string
	if shardDBs != "" {
		shardNames = strings.Split(shardDBs, ",")
	}
	database, err := db.NewDatabase(db.Config{
		Host:         dbHost,
		Port:         dbPort,
		User:         dbUser,
		Password:     dbPassword,
		DBName:       dbName,
		SSLMode:      dbSSLMode,
		ShardDBNames: shardNames,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	log.Println("Running database migrations...")
	if err := database.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	repo := db.NewBbsRepository(database)

	// Seed the boards table from configuration so head.txt and the web UI
	// agree with the environment.
	seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
	for i := range boards.List {
		if err := repo.UpsertBoard(seedCtx, &boards.List[i]); err != nil {
			seedCancel()
			log.Fatalf("Failed to seed board %s: %v", boards.List[i].BoardKey, err)
		}
	}
	seedCancel()

	// Redis page cache (optional)
	log.Println("Initializing Redis cache...")
	cacheEnabled := getEnv("CACHE_ENABLED", "false") == "true"
	pageCache, err := cache.NewCache(cache.Config{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       0,
		Enabled:  cacheEnabled,
	})
	if err != nil {
		log.Printf("Failed to initialize Redis cache (continuing without caching): %v", err)
		pageCache, _ = cache.NewCache(cache.Config{Enabled: false})
	} else if cacheEnabled {
		log.Println("Redis cache enabled and connected")
	} else {
		log.Println("Redis cache disabled")
	}
	defer pageCache.Close()

	// Archive bucket (optional)
	bucket, err := archive.NewBucket(archive.Config{
		Bucket:    os.Getenv("ARCHIVE_BUCKET"),
		Endpoint:  os.Getenv("S3_ENDPOINT"),
		Region:    os.Getenv("S3_REGION"),
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		log.Fatalf("Failed to initialize archive bucket: %v", err)
	}
	if bucket == nil {
		log.Println("ARCHIVE_BUCKET not set - archive fallback disabled")
	}

	// Archival sweep
	sweeper := sweep.New(database.Meta(), database.Shards())
	if err := sweeper.Start(sweepSchedule); err != nil {
		log.Fatalf("Failed to start archival sweep: %v", err)
	}
	defer sweeper.Stop()
	log.Printf("Archival sweep scheduled (%s)", sweepSchedule)

	// Handler wiring
	h := handlers.New(handlers.Config{
		Repo:             repo,
		Boards:           boards,
		Limiter:          ratelimit.NewLimiter(),
		Signer:           signer,
		Verifier:         captcha.NewVerifier(secretKey, recaptchaSecretKey),
		Bucket:           bucket,
		SiteKey:          siteKey,
		RecaptchaSiteKey: recaptchaSiteKey,
		DebugIP:          os.Getenv("DEBUG_IP"),
		HardMinSpan:      hardMinSpan,
		WebUIEnabled:     webuiEnabled,
		SiteTitle:        siteTitle,
	})

	// Gin router
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(gin.Recovery())
	router.Use(middleware.StructuredLogger())
	router.Use(middleware.DefaultSizeLimiter())

	if rateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(float64(rateLimitRPS), rateLimitRPS*2)
		router.Use(rateLimiter.Middleware())
		log.Printf("Global rate limiting ENABLED (%d req/s per IP)", rateLimitRPS)
	}

	// Page cache in front of the flat-file endpoints only; the write path
	// and auth endpoints must never be replayed.
	router.Use(cachedPaths(pageCache, boards))

	// The whole legacy URL surface dispatches through the route analyser.
	router.NoRoute(h.Dispatch)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}

// cachedPaths applies the KV response cache to the read-only flat files.
func cachedPaths(pageCache *cache.Cache, boards *config.Boards) gin.HandlerFunc {
	cached := cache.PageCache(pageCache, time.Hour)
	return func(c *gin.Context) {
		route := routes.AnalyzeRoute(c.Request.URL.Path, boards.Keys)
		switch route.Kind {
		case routes.KindDat, routes.KindKakoDat, routes.KindSubjectTxt:
			cached(c)
		default:
			c.Next()
		}
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
