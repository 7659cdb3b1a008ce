package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tapclash/backend/internal/game"
	"github.com/tapclash/backend/internal/session"
	"github.com/tapclash/backend/internal/settlement"
	"github.com/tapclash/backend/internal/wallet"
)

// HandleMatch serves the live match socket. One instance of this handler
// runs per connected player; the two handlers for a match coordinate only
// through the session store and may live on different server instances.
func (h *Handler) HandleMatch(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}
	conn := newConn(ws)
	defer conn.close()

	userID, err := h.resolver.Resolve(c.Query("token"))
	if err != nil {
		conn.closeWith(websocket.ClosePolicyViolation, "unauthenticated")
		return
	}
	matchID := c.Param("match_id")
	if matchID == "" {
		conn.closeWith(websocket.CloseUnsupportedData, "missing match id")
		return
	}

	ctx := c.Request.Context()

	// Reconnect replay: a finalized match answers with the stored result
	// and nothing else. The session outlives the sockets for exactly this.
	if payload, err := h.sessions.FinalResult(ctx, matchID, userID); err == nil && payload != nil {
		conn.sendRaw("RESULT", payload)
		return
	}

	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		log.Printf("[MATCH] Unknown user %s on match %s: %v", userID, matchID, err)
		conn.sendError("Account not found")
		return
	}

	// Charge at most once per (match, user). The matchmaking handler marks
	// players it already deducted for, so first==true here means this
	// connection owes the stake (direct joins, bot accounts).
	first, err := h.sessions.MarkCharged(ctx, matchID, userID)
	if err != nil {
		conn.sendError("Match unavailable")
		return
	}
	if first {
		if err := h.store.AdjustBalance(ctx, userID, -h.cfg.StakeAmount, wallet.TxStake, matchID); err != nil {
			h.sessions.ClearCharged(ctx, matchID, userID)
			if errors.Is(err, wallet.ErrInsufficientFunds) {
				conn.sendError("Insufficient Balance")
			} else {
				log.Printf("[MATCH] Stake deduction failed for %s on %s: %v", userID, matchID, err)
				conn.sendError("Match unavailable")
			}
			return
		}
	}

	if err := h.sessions.RegisterPlayer(ctx, matchID, userID, user.Username); err != nil {
		log.Printf("[MATCH] Failed to register %s on %s: %v", userID, matchID, err)
		conn.sendError("Match unavailable")
		return
	}
	defer h.sessions.ConnClosed(context.Background(), matchID)

	// One-writer election for the shared round payload. Whoever wins
	// generates; the other side just waits for the rounds to appear.
	host, err := h.sessions.ElectHost(ctx, matchID)
	if err != nil {
		conn.sendError("Match unavailable")
		return
	}
	if host {
		roundsJSON, err := json.Marshal(game.GenerateRounds(h.cfg.TotalRounds))
		if err != nil {
			conn.sendError("Match unavailable")
			return
		}
		if err := h.sessions.WriteRounds(ctx, matchID, roundsJSON); err != nil {
			log.Printf("[MATCH] Failed to write rounds for %s: %v", matchID, err)
			conn.sendError("Match unavailable")
			return
		}
		log.Printf("[MATCH] %s elected host for %s", userID, matchID)
	}

	initTimeout := time.Duration(h.cfg.MatchInitTimeoutSecs) * time.Second
	rounds, opponentID, opponentName, err := h.sessions.WaitForOpponent(ctx, matchID, userID, initTimeout)
	if err != nil {
		if errors.Is(err, session.ErrMatchInitTimeout) {
			cancelUnstartedMatch(context.Background(), h.sessions, h.store, matchID, userID, h.cfg.StakeAmount)
			conn.send(map[string]interface{}{"type": "MATCH_CANCELLED", "reason": "Opponent never joined. Stake refunded."})
		}
		return
	}

	myScore, opScore, err := h.sessions.Scores(ctx, matchID, userID, opponentID)
	if err != nil {
		conn.sendError("Match unavailable")
		return
	}
	if err := conn.send(map[string]interface{}{
		"type":               "GAME_START",
		"rounds":             json.RawMessage(rounds),
		"opponent_name":      opponentName,
		"your_current_score": myScore,
		"op_current_score":   opScore,
	}); err != nil {
		return
	}
	log.Printf("[MATCH] %s started on %s vs %s (%s)", userID, matchID, opponentID, opponentName)

	// The listener owns all reads; the monitor loop below owns the pacing.
	// They share the session store and the write-locked connection only.
	listenerDone := make(chan struct{})
	go h.listen(conn, matchID, userID, listenerDone)

	h.monitor(ctx, conn, matchID, userID, opponentID, user.Username, opponentName, listenerDone)

	// Force the blocked read to fail, then wait for the listener to drain.
	conn.close()
	<-listenerDone
}

// cancelUnstartedMatch undoes the stake for a match nobody else joined.
// The charged flag is released before the credit: a refund is only issued
// once the flag is gone, and any later connection then charges afresh, so
// one deduction can never be refunded twice. If the flag cannot be
// released the hold simply stays in place for a later attempt.
func cancelUnstartedMatch(ctx context.Context, sessions *session.Store, funds balanceAdjuster, matchID, userID string, stake float64) {
	if err := sessions.ClearCharged(ctx, matchID, userID); err != nil {
		log.Printf("[MATCH] Failed to clear charge flag for %s on %s - keeping stake held: %v", userID, matchID, err)
		return
	}
	if err := funds.AdjustBalance(ctx, userID, stake, wallet.TxRefund, matchID); err != nil {
		log.Printf("[MATCH] CRITICAL: init refund failed for %s on %s (amount=%.2f): %v",
			userID, matchID, stake, err)
	}
}

// listen consumes client frames until the socket dies. Score updates are
// applied through the monotonic write path, so stale or replayed frames
// can never lower a score.
func (h *Handler) listen(conn *wsConn, matchID, userID string, done chan<- struct{}) {
	defer close(done)
	ctx := context.Background()

	conn.ws.SetReadLimit(maxFrameSize)
	for {
		conn.ws.SetReadDeadline(time.Now().Add(readTimeout))
		var msg clientMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "SCORE_UPDATE":
			h.sessions.Touch(ctx, matchID, userID)
			if err := h.sessions.RecordScore(ctx, matchID, userID, msg.Score); err != nil {
				log.Printf("[MATCH] Failed to record score for %s on %s: %v", userID, matchID, err)
			}
		case "GAME_OVER":
			h.sessions.Touch(ctx, matchID, userID)
			if err := h.sessions.RecordScore(ctx, matchID, userID, msg.FinalScore); err != nil {
				log.Printf("[MATCH] Failed to record final score for %s on %s: %v", userID, matchID, err)
			}
			if err := h.sessions.MarkFinished(ctx, matchID, userID); err != nil {
				log.Printf("[MATCH] Failed to mark %s finished on %s: %v", userID, matchID, err)
			}
		case "PING":
			conn.send(map[string]interface{}{"type": "PONG"})
		}
	}
}

// monitor drives the match from the server side: it polls the session,
// pushes state to the client and triggers finalization when the match is
// decided or the opponent has fled. Returns when a result was delivered,
// the client vanished or the request context ended.
func (h *Handler) monitor(ctx context.Context, conn *wsConn, matchID, userID, opponentID, userName, opponentName string, listenerDone <-chan struct{}) {
	poll := time.Duration(h.cfg.SyncPollMillis) * time.Millisecond
	grace := time.Duration(h.cfg.FleeGraceSeconds) * time.Second
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-listenerDone:
			// Client is gone. The opponent's monitor takes it from here.
			return
		case <-ticker.C:
		}

		// A published result always wins, whoever published it.
		if payload, err := h.sessions.FinalResult(ctx, matchID, userID); err == nil && payload != nil {
			conn.sendRaw("RESULT", payload)
			return
		}

		h.sessions.Touch(ctx, matchID, userID)

		snap, err := h.sessions.Snapshot(ctx, matchID, userID, opponentID)
		if err != nil {
			log.Printf("[MATCH] Snapshot failed for %s on %s: %v", userID, matchID, err)
			continue
		}
		if snap.Finalized {
			// Result payload lands momentarily; pick it up next tick.
			continue
		}

		switch d, secondsLeft := decide(snap, grace); d {
		case decideWaitForOpponent:
			if err := conn.send(map[string]interface{}{"type": "WAITING_FOR_OPPONENT", "seconds_left": secondsLeft}); err != nil {
				return
			}

		case decideFinalizeFled, decideFinalizeNormal:
			reason := settlement.ReasonNormal
			if d == decideFinalizeFled {
				reason = settlement.ReasonOpponentFled
			}
			result, err := h.engine.Finalize(ctx, matchID, userID, opponentID, reason, userName, opponentName)
			if err != nil {
				log.Printf("[MATCH] Finalize failed for %s on %s: %v", userID, matchID, err)
				continue
			}
			if result == nil {
				// Lost the finalize race; the winner's published result
				// arrives on a following tick.
				continue
			}
			payload, err := json.Marshal(result)
			if err != nil {
				log.Printf("[MATCH] Failed to marshal result for %s on %s: %v", userID, matchID, err)
				return
			}
			conn.sendRaw("RESULT", payload)
			return

		default:
			if err := conn.send(map[string]interface{}{
				"type":           "SYNC_STATE",
				"your_score":     snap.MyScore,
				"opponent_score": snap.OpponentScore,
			}); err != nil {
				return
			}
		}
	}
}
