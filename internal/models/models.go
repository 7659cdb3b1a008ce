package models

import (
	"database/sql"
	"time"
)

// User represents a registered player (or bot account)
type User struct {
	ID            string    `db:"id" json:"id"`
	Username      string    `db:"username" json:"username"`
	PasswordHash  string    `db:"password_hash" json:"-"`
	WalletBalance float64   `db:"wallet_balance" json:"wallet_balance"`
	TotalMatches  int       `db:"total_matches" json:"total_matches"`
	TotalWins     int       `db:"total_wins" json:"total_wins"`
	IsBot         bool      `db:"is_bot" json:"is_bot"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// MatchRecord is the durable audit-trail row for one match
type MatchRecord struct {
	MatchID      string         `db:"match_id" json:"match_id"`
	Player1ID    string         `db:"player1_id" json:"player1_id"`
	Player2ID    sql.NullString `db:"player2_id" json:"player2_id,omitempty"`
	StakeAmount  float64        `db:"stake_amount" json:"stake_amount"`
	Status       string         `db:"status" json:"status"`
	WinnerID     sql.NullString `db:"winner_id" json:"winner_id,omitempty"`
	Player1Score sql.NullInt64  `db:"player1_score" json:"player1_score,omitempty"`
	Player2Score sql.NullInt64  `db:"player2_score" json:"player2_score,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	FinishedAt   sql.NullTime   `db:"finished_at" json:"finished_at,omitempty"`
}

// WalletTransaction records one balance adjustment
type WalletTransaction struct {
	ID              int64     `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"user_id"`
	Amount          float64   `db:"amount" json:"amount"`
	TransactionType string    `db:"transaction_type" json:"transaction_type"`
	Reference       string    `db:"reference" json:"reference,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// MatchHistoryEntry is one row of a player's recent-match log
type MatchHistoryEntry struct {
	ID           int64     `db:"id" json:"-"`
	UserID       string    `db:"user_id" json:"-"`
	MatchID      string    `db:"match_id" json:"match_id"`
	OpponentName string    `db:"opponent_name" json:"opponent_name"`
	Result       string    `db:"result" json:"result"`
	ScoreLine    string    `db:"score_line" json:"score"`
	CreatedAt    time.Time `db:"created_at" json:"timestamp"`
}
