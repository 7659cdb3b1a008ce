package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/tapclash/backend/internal/auth"
	"github.com/tapclash/backend/internal/bot"
	"github.com/tapclash/backend/internal/config"
	"github.com/tapclash/backend/internal/database"
	"github.com/tapclash/backend/internal/redis"
	"github.com/tapclash/backend/internal/wallet"
)

// The bot worker runs out of process from the game server. It drains the
// wake-up list and joins matches over the public match socket with a
// service credential, so from the server's point of view it is just
// another client.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	if cfg.BotWorkerSecret == "" {
		log.Fatal("BOT_WORKER_SECRET is required")
	}

	db, err := database.Connect(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Claim a bot account; its id rides inside the service token so the
	// server can charge and settle it like any player.
	store := wallet.NewStore(db, cfg.HistoryLimit)
	botUser, err := store.GetBotUser(ctx)
	if err != nil {
		log.Fatalf("Failed to claim a bot account: %v", err)
	}
	log.Printf("[BOT] Playing as %s (%s)", botUser.Username, botUser.ID)

	token := auth.ServiceToken(botUser.ID, cfg.BotWorkerSecret)
	worker := bot.NewWorker(rdb, cfg.BotWakeupQueue, cfg.BotServerWSBase, token)
	worker.Run(ctx)
}
