package database

import (
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect establishes the PostgreSQL pool shared by the wallet and match
// record stores. Every settlement runs through this pool, so its size
// bounds how many matches can finalize concurrently.
func Connect(databaseURL string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	log.Printf("[DB] Connected to Postgres (max_open=%d max_idle=%d)", maxOpen, maxIdle)
	return db, nil
}
