package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/tapclash/backend/internal/models"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// transaction types recorded in wallet_transactions
const (
	TxStake  = "STAKE"
	TxRefund = "REFUND"
	TxPayout = "PAYOUT"
	TxSplit  = "DRAW_SPLIT"
)

// Store is the durable side of the core: user balances, match records,
// win/loss counters and the recent-match log, all in Postgres.
type Store struct {
	db           *sqlx.DB
	historyLimit int
}

func NewStore(db *sqlx.DB, historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Store{db: db, historyLimit: historyLimit}
}

// AdjustBalance atomically applies delta to a user's balance. Deductions
// only succeed if the user has enough balance; the guard is the WHERE
// clause, not a read-then-write.
func (s *Store) AdjustBalance(ctx context.Context, userID string, delta float64, txType, reference string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if delta < 0 {
		res, err = tx.ExecContext(ctx,
			`UPDATE users SET wallet_balance = wallet_balance + $1 WHERE id = $2 AND wallet_balance >= $3`,
			delta, userID, -delta)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE users SET wallet_balance = wallet_balance + $1 WHERE id = $2`,
			delta, userID)
	}
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		if delta < 0 {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("user %s not found", userID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_transactions (user_id, amount, transaction_type, reference, created_at) VALUES ($1,$2,$3,$4,NOW())`,
		userID, delta, txType, reference); err != nil {
		return fmt.Errorf("failed to insert wallet transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}

	log.Printf("[WALLET] Balance adjusted: user=%s delta=%.2f type=%s ref=%s", userID, delta, txType, reference)
	return nil
}

// Balance returns the current wallet balance.
func (s *Store) Balance(ctx context.Context, userID string) (float64, error) {
	var balance float64
	if err := s.db.GetContext(ctx, &balance, `SELECT wallet_balance FROM users WHERE id=$1`, userID); err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// GetUser loads a user row.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	if err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id=$1`, userID); err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	return &u, nil
}

// GetBotUser returns any bot account for the fallback opponent.
func (s *Store) GetBotUser(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE is_bot = TRUE ORDER BY random() LIMIT 1`); err != nil {
		return nil, fmt.Errorf("no bot user available: %w", err)
	}
	return &u, nil
}

// CreateMatchRecord writes the durable audit row at match creation.
// player2 may be empty (bot fallback resolves it later).
func (s *Store) CreateMatchRecord(ctx context.Context, matchID, player1, player2 string, stake float64) error {
	p2 := sql.NullString{String: player2, Valid: player2 != ""}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (match_id, player1_id, player2_id, stake_amount, status, created_at) VALUES ($1,$2,$3,$4,'ongoing',NOW())`,
		matchID, player1, p2, stake); err != nil {
		return fmt.Errorf("failed to create match record: %w", err)
	}
	return nil
}

// Settlement is the fully computed outcome handed to SettleMatch. Payout
// amounts are computed once by the settlement engine; this layer only
// applies them.
type Settlement struct {
	MatchID  string
	WinnerID string // empty on draw
	Draw     bool

	// Payouts maps user id to the amount credited (winner pot, or each
	// player's own stake on a draw). Empty for a forfeited loser.
	Payouts map[string]float64

	// Per-player final state, keyed by user id.
	Scores map[string]int
	Names  map[string]string

	// PlayerIDs in a stable order: [caller, opponent].
	PlayerIDs [2]string
}

// SettleMatch commits the match outcome in one atomic unit: match record,
// wallet credits, win/loss counters and both history entries. Idempotent
// per match id: re-running after completion is a logged no-op.
func (s *Store) SettleMatch(ctx context.Context, st Settlement) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	caller, opponent := st.PlayerIDs[0], st.PlayerIDs[1]
	winner := sql.NullString{String: st.WinnerID, Valid: st.WinnerID != ""}

	// Idempotency guard: only one settle transitions ongoing -> completed.
	res, err := tx.ExecContext(ctx, `
		UPDATE matches
		SET status = 'completed',
		    winner_id = $2,
		    player2_id = COALESCE(player2_id, $3),
		    player1_score = CASE WHEN player1_id = $4 THEN $5 ELSE $6 END,
		    player2_score = CASE WHEN player1_id = $4 THEN $6 ELSE $5 END,
		    finished_at = NOW()
		WHERE match_id = $1 AND status = 'ongoing'
	`, st.MatchID, winner, opponent, caller, st.Scores[caller], st.Scores[opponent])
	if err != nil {
		return fmt.Errorf("failed to complete match record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Printf("[WALLET] Duplicate finalize for match %s - already completed, skipping", st.MatchID)
		return nil
	}

	for userID, amount := range st.Payouts {
		if amount <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET wallet_balance = wallet_balance + $1 WHERE id = $2`, amount, userID); err != nil {
			return fmt.Errorf("failed to credit %s: %w", userID, err)
		}
		txType := TxPayout
		if st.Draw {
			txType = TxSplit
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallet_transactions (user_id, amount, transaction_type, reference, created_at) VALUES ($1,$2,$3,$4,NOW())`,
			userID, amount, txType, st.MatchID); err != nil {
			return fmt.Errorf("failed to insert payout transaction: %w", err)
		}
	}

	for _, userID := range []string{caller, opponent} {
		win := !st.Draw && userID == st.WinnerID
		if _, err := tx.ExecContext(ctx, `
			UPDATE users
			SET total_matches = total_matches + 1,
			    total_wins = total_wins + CASE WHEN $2 THEN 1 ELSE 0 END
			WHERE id = $1
		`, userID, win); err != nil {
			return fmt.Errorf("failed to update stats for %s: %w", userID, err)
		}
	}

	if err := s.appendHistory(ctx, tx, st, caller, opponent); err != nil {
		return err
	}
	if err := s.appendHistory(ctx, tx, st, opponent, caller); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}

	log.Printf("[WALLET] Match %s settled: winner=%s draw=%v payouts=%v", st.MatchID, st.WinnerID, st.Draw, st.Payouts)
	return nil
}

// appendHistory inserts a history entry for userID and trims the log to
// the configured bound (newest-first).
func (s *Store) appendHistory(ctx context.Context, tx *sqlx.Tx, st Settlement, userID, otherID string) error {
	result := "DRAW"
	if !st.Draw {
		if userID == st.WinnerID {
			result = "WON"
		} else {
			result = "LOST"
		}
	}
	scoreLine := fmt.Sprintf("%d - %d", st.Scores[userID], st.Scores[otherID])

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO match_history (user_id, match_id, opponent_name, result, score_line, created_at) VALUES ($1,$2,$3,$4,$5,NOW())`,
		userID, st.MatchID, st.Names[otherID], result, scoreLine); err != nil {
		return fmt.Errorf("failed to append history for %s: %w", userID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM match_history
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM match_history WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
		)
	`, userID, s.historyLimit); err != nil {
		return fmt.Errorf("failed to trim history for %s: %w", userID, err)
	}
	return nil
}

// RecentMatches returns the bounded newest-first match log.
func (s *Store) RecentMatches(ctx context.Context, userID string) ([]models.MatchHistoryEntry, error) {
	entries := []models.MatchHistoryEntry{}
	if err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM match_history WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, s.historyLimit); err != nil {
		return nil, fmt.Errorf("failed to load match history: %w", err)
	}
	return entries, nil
}
