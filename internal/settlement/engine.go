package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tapclash/backend/internal/session"
	"github.com/tapclash/backend/internal/wallet"
)

// Reason codes for Finalize.
const (
	ReasonNormal       = "NORMAL"
	ReasonOpponentFled = "OPPONENT_FLED"
)

// Per-player outcome statuses.
const (
	OutcomeWon  = "WON"
	OutcomeLost = "LOST"
	OutcomeDraw = "DRAW"
)

const finalizeLockTTL = 30 * time.Second

// Ledger is the durable transaction behind a finalize. Implemented by
// wallet.Store; a fake suffices in tests.
type Ledger interface {
	SettleMatch(ctx context.Context, st wallet.Settlement) error
}

// Result is the per-player outcome payload delivered over the match
// socket and replayed to reconnecting clients.
type Result struct {
	Status       string `json:"status"`
	Summary      string `json:"summary"`
	MyScore      int    `json:"my_score"`
	OpScore      int    `json:"op_score"`
	OpponentName string `json:"opponent_name"`
}

// Engine performs the exactly-once finalize for a match.
type Engine struct {
	rdb      *redis.Client
	sessions *session.Store
	ledger   Ledger
	stake    float64
	fee      float64
}

func NewEngine(rdb *redis.Client, sessions *session.Store, ledger Ledger, stake, fee float64) *Engine {
	return &Engine{rdb: rdb, sessions: sessions, ledger: ledger, stake: stake, fee: fee}
}

func lockKey(matchID string) string { return "lock:finalizing:" + matchID }

// Finalize computes the outcome, commits the durable settlement and
// publishes both players' results into the session store, exactly once per
// match. When another caller already holds the finalize lock this returns
// (nil, nil): the loser of the race picks the published result up from the
// session in its own sync loop.
func (e *Engine) Finalize(ctx context.Context, matchID, callerID, opponentID, reason, callerName, opponentName string) (*Result, error) {
	acquired, err := e.rdb.SetNX(ctx, lockKey(matchID), "true", finalizeLockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire finalize lock: %w", err)
	}
	if !acquired {
		log.Printf("[SETTLE] Finalize race lost for match %s by %s", matchID, callerID)
		return nil, nil
	}

	// Fresh scores from the source of truth, not the caller's last poll.
	myScore, opScore, err := e.sessions.Scores(ctx, matchID, callerID, opponentID)
	if err != nil {
		return nil, err
	}

	callerRes := Result{MyScore: myScore, OpScore: opScore, OpponentName: opponentName, Summary: "Match Over"}
	oppRes := Result{MyScore: opScore, OpScore: myScore, OpponentName: callerName, Summary: "Match Over"}

	var winnerID string
	var draw bool
	switch {
	case reason == ReasonOpponentFled:
		// The survivor wins unconditionally, whatever the scores say.
		winnerID = callerID
		callerRes.Status = OutcomeWon
		callerRes.Summary = "Opponent Disconnected! You Win!"
		oppRes.Status = OutcomeLost
		oppRes.Summary = "You abandoned the match."
	case myScore > opScore:
		winnerID = callerID
		callerRes.Status, oppRes.Status = OutcomeWon, OutcomeLost
	case opScore > myScore:
		winnerID = opponentID
		callerRes.Status, oppRes.Status = OutcomeLost, OutcomeWon
	default:
		draw = true
		callerRes.Status, oppRes.Status = OutcomeDraw, OutcomeDraw
	}

	// Payout amounts are computed once, here, and handed to the ledger.
	payouts := map[string]float64{}
	if draw {
		payouts[callerID] = e.stake
		payouts[opponentID] = e.stake
	} else {
		payouts[winnerID] = e.stake*2 - e.fee
	}

	st := wallet.Settlement{
		MatchID:   matchID,
		WinnerID:  winnerID,
		Draw:      draw,
		Payouts:   payouts,
		Scores:    map[string]int{callerID: myScore, opponentID: opScore},
		Names:     map[string]string{callerID: callerName, opponentID: opponentName},
		PlayerIDs: [2]string{callerID, opponentID},
	}
	if err := e.ledger.SettleMatch(ctx, st); err != nil {
		// Results are still published so both players see the outcome;
		// the missed payout is reconciled manually from this log line.
		log.Printf("[SETTLE] CRITICAL: durable settlement failed for match %s (winner=%s payouts=%v): %v",
			matchID, winnerID, payouts, err)
	}

	callerJSON, err := json.Marshal(callerRes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal caller result: %w", err)
	}
	oppJSON, err := json.Marshal(oppRes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal opponent result: %w", err)
	}
	if err := e.sessions.WriteResults(ctx, matchID, callerID, callerJSON, opponentID, oppJSON); err != nil {
		return nil, err
	}

	log.Printf("[SETTLE] Match %s finalized by %s: reason=%s status=%s scores=%d-%d",
		matchID, callerID, reason, callerRes.Status, myScore, opScore)
	return &callerRes, nil
}
