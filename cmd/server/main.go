package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/tapclash/backend/internal/api"
	"github.com/tapclash/backend/internal/auth"
	"github.com/tapclash/backend/internal/bot"
	"github.com/tapclash/backend/internal/config"
	"github.com/tapclash/backend/internal/database"
	"github.com/tapclash/backend/internal/matchmaking"
	"github.com/tapclash/backend/internal/migrations"
	"github.com/tapclash/backend/internal/redis"
	"github.com/tapclash/backend/internal/session"
	"github.com/tapclash/backend/internal/settlement"
	"github.com/tapclash/backend/internal/wallet"
	"github.com/tapclash/backend/internal/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize Redis
	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	// Wire components. Handlers share no in-process state; everything
	// cross-connection lives in Redis or Postgres.
	store := wallet.NewStore(db, cfg.HistoryLimit)
	pool := matchmaking.NewPool(rdb, 2*time.Duration(cfg.QueueTimeoutSeconds)*time.Second)
	sessions := session.NewStore(rdb,
		time.Duration(cfg.SessionTTLSeconds)*time.Second,
		time.Duration(cfg.MatchInitTimeoutSecs)*time.Second)
	engine := settlement.NewEngine(rdb, sessions, store, cfg.StakeAmount, cfg.PlatformFee)
	resolver := auth.NewResolver(cfg.JWTSecret, cfg.BotServiceSecret)
	spawner := bot.NewSpawner(rdb, cfg.BotWakeupQueue)
	wsHandler := ws.NewHandler(cfg, pool, sessions, engine, store, resolver, spawner)

	if cfg.BotServiceSecret == "" {
		log.Printf("[BOT] Bot fallback not configured (BOT_SERVICE_SECRET missing) - queue timeouts will refund")
	}

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Initialize API handlers
	api.SetupRoutes(router, cfg, store, resolver, wsHandler)

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting TapClash server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
