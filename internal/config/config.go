package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Economy
	StakeAmount float64
	PlatformFee float64

	// Matchmaking
	QueueTimeoutSeconds  int
	QueuePollSeconds     int
	AggressorEveryNTicks int

	// Match session
	SessionTTLSeconds      int
	MatchInitTimeoutSecs   int
	FleeGraceSeconds       int
	SyncPollMillis         int
	TotalRounds            int
	HistoryLimit           int

	// Bot worker
	BotWakeupQueue   string
	BotServiceSecret string // bcrypt hash checked by the server
	BotWorkerSecret  string // plain secret held only by the worker
	BotServerWSBase  string

	// Security
	JWTSecret string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/tapclash?sslmode=disable"),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Economy
		StakeAmount: getEnvFloat("STAKE_AMOUNT", 50.0),
		PlatformFee: getEnvFloat("PLATFORM_FEE", 10.0),

		// Matchmaking
		QueueTimeoutSeconds:  getEnvInt("QUEUE_TIMEOUT_SECONDS", 60),
		QueuePollSeconds:     getEnvInt("QUEUE_POLL_SECONDS", 2),
		AggressorEveryNTicks: getEnvInt("QUEUE_AGGRESSOR_EVERY_N_TICKS", 3),

		// Match session
		SessionTTLSeconds:    getEnvInt("SESSION_TTL_SECONDS", 600),
		MatchInitTimeoutSecs: getEnvInt("MATCH_INIT_TIMEOUT_SECONDS", 30),
		FleeGraceSeconds:     getEnvInt("FLEE_GRACE_SECONDS", 12),
		SyncPollMillis:       getEnvInt("SYNC_POLL_MS", 1000),
		TotalRounds:          getEnvInt("TOTAL_ROUNDS", 20),
		HistoryLimit:         getEnvInt("MATCH_HISTORY_LIMIT", 20),

		// Bot worker
		BotWakeupQueue:   getEnv("BOT_WAKEUP_QUEUE", "bot:wakeup"),
		BotServiceSecret: getEnv("BOT_SERVICE_SECRET", ""),
		BotWorkerSecret:  getEnv("BOT_WORKER_SECRET", ""),
		BotServerWSBase:  getEnv("BOT_SERVER_WS_BASE", "ws://localhost:8080"),

		// Security
		JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
