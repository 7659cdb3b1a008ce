package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tapclash/backend/internal/matchmaking"
	"github.com/tapclash/backend/internal/wallet"
)

// balanceAdjuster is the slice of the wallet the websocket handlers touch
// for stake holds and refunds. Implemented by wallet.Store.
type balanceAdjuster interface {
	AdjustBalance(ctx context.Context, userID string, delta float64, txType, reference string) error
}

// HandleMatchmaking serves the matchmaking socket. The client connects
// with a bearer credential and only listens; the server answers with
// SEARCHING / WAITING heartbeats and eventually MATCH_FOUND, TIMEOUT or
// ERROR.
func (h *Handler) HandleMatchmaking(c *gin.Context) {
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

	ctx := c.Request.Context()

	locked, err := h.pool.AcquireUserLock(ctx, userID)
	if err != nil {
		conn.sendError("Matchmaking unavailable")
		return
	}
	if !locked {
		conn.sendError("Session already active.")
		conn.closeWith(websocket.ClosePolicyViolation, "session active")
		return
	}
	defer func() {
		if err := h.pool.ReleaseUserLock(context.Background(), userID); err != nil {
			log.Printf("[POOL] Failed to release user lock for %s: %v", userID, err)
		}
	}()

	// A pending notification means a previous search already matched us
	// and that search's stake hold rides into the match; replay it before
	// touching funds or the pool.
	if matchID, err := h.pool.CheckNotify(ctx, userID); err == nil && matchID != "" {
		h.deliverNotify(ctx, conn, userID, matchID)
		return
	}

	// Pessimistic hold: the stake is deducted before the caller can appear
	// in the pool, so a pairing never needs a second balance round-trip.
	if err := h.store.AdjustBalance(ctx, userID, -h.cfg.StakeAmount, wallet.TxStake, "matchmaking"); err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			conn.sendError("Insufficient Balance")
		} else {
			log.Printf("[POOL] Stake hold failed for %s: %v", userID, err)
			conn.sendError("Matchmaking unavailable")
		}
		return
	}

	matchConfirmed := false
	defer func() {
		if matchConfirmed {
			return
		}
		releaseSearchStake(context.Background(), h.pool, h.store, userID, h.cfg.StakeAmount)
	}()

	matchID := matchmaking.NewMatchID()
	opponentID, alreadyClaimed, err := h.pool.TryPairOrEnqueue(ctx, userID, matchID)
	if err != nil {
		conn.sendError("Matchmaking unavailable")
		return
	}
	if alreadyClaimed {
		matchConfirmed = h.deliverClaim(ctx, conn, userID)
		return
	}
	if opponentID != "" {
		matchConfirmed = h.createMatch(ctx, conn, matchID, userID, opponentID)
		return
	}

	conn.send(map[string]interface{}{"type": "SEARCHING"})

	deadline := time.Now().Add(time.Duration(h.cfg.QueueTimeoutSeconds) * time.Second)
	pollInterval := time.Duration(h.cfg.QueuePollSeconds) * time.Second
	tick := 0

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
		tick++

		if matchID, err := h.pool.CheckNotify(ctx, userID); err == nil && matchID != "" {
			matchConfirmed = h.deliverNotify(ctx, conn, userID, matchID)
			return
		}

		// Aggressor path: two passively polling entries would deadlock, so
		// every few ticks the waiter also tries to claim an opponent. The
		// pair script refuses the claim if this waiter was itself claimed
		// in the meantime.
		if tick%h.cfg.AggressorEveryNTicks == 0 {
			aggressorMatchID := matchmaking.NewMatchID()
			opponentID, alreadyClaimed, err := h.pool.TryPairOrEnqueue(ctx, userID, aggressorMatchID)
			if err == nil && alreadyClaimed {
				matchConfirmed = h.deliverClaim(ctx, conn, userID)
				return
			}
			if err == nil && opponentID != "" {
				matchConfirmed = h.createMatch(ctx, conn, aggressorMatchID, userID, opponentID)
				return
			}
		}

		if err := conn.send(map[string]interface{}{"type": "WAITING"}); err != nil {
			return
		}
	}

	// Bounded wait exhausted: substitute a bot when a worker is
	// configured, otherwise time out and let the cleanup refund run.
	if err := h.pool.Remove(ctx, userID); err != nil {
		log.Printf("[POOL] Failed to remove %s from pool at timeout: %v", userID, err)
	}
	if h.cfg.BotServiceSecret == "" {
		conn.send(map[string]interface{}{"type": "TIMEOUT"})
		return
	}

	botMatchID := matchmaking.NewMatchID()
	if err := h.store.CreateMatchRecord(ctx, botMatchID, userID, "", h.cfg.StakeAmount); err != nil {
		log.Printf("[POOL] Failed to create bot match record for %s: %v", userID, err)
		conn.send(map[string]interface{}{"type": "TIMEOUT"})
		return
	}
	h.sessions.MarkCharged(ctx, botMatchID, userID)
	h.spawner.NotifyBotWorker(ctx, botMatchID)
	if err := conn.send(map[string]interface{}{"type": "MATCH_FOUND", "match_id": botMatchID}); err != nil {
		h.pool.Notify(ctx, userID, botMatchID)
	}
	matchConfirmed = true
	log.Printf("[POOL] Bot fallback for %s: match %s", userID, botMatchID)
}

// deliverClaim runs when the pair script refused the caller because it was
// itself claimed by another aggressor. The claimer has already reserved
// this caller's notification, so it is read and delivered here.
func (h *Handler) deliverClaim(ctx context.Context, conn *wsConn, userID string) bool {
	matchID, err := h.pool.CheckNotify(ctx, userID)
	if err != nil || matchID == "" {
		log.Printf("[POOL] Claimed user %s has no notification: %v", userID, err)
		conn.sendError("Matchmaking unavailable")
		return false
	}
	return h.deliverNotify(ctx, conn, userID, matchID)
}

// deliverNotify consumes a pending match notification and hands the match
// to the client. The stake held at enqueue rides into the match via the
// charged flag.
func (h *Handler) deliverNotify(ctx context.Context, conn *wsConn, userID, matchID string) bool {
	h.pool.ClearNotify(ctx, userID)
	h.sessions.MarkCharged(ctx, matchID, userID)
	if err := conn.send(map[string]interface{}{"type": "MATCH_FOUND", "match_id": matchID}); err != nil {
		// The client is gone but the opponent already committed to this
		// match; the stake stays held and the notification is re-issued
		// for the reconnect.
		h.pool.Notify(ctx, userID, matchID)
	}
	return true
}

// createMatch is the aggressor side of a pairing: the pair script popped
// opponentID from the pool and reserved their notification for matchID, so
// the opponent is committed; this writes the durable record and confirms
// to the caller. Both stakes are already held (each side deducted before
// entering the pool), so both are marked charged here.
func (h *Handler) createMatch(ctx context.Context, conn *wsConn, matchID, userID, opponentID string) bool {
	if err := h.store.CreateMatchRecord(ctx, matchID, userID, opponentID, h.cfg.StakeAmount); err != nil {
		log.Printf("[POOL] Failed to create match record %s: %v", matchID, err)
		// Withdraw the opponent's notification and put them back so their
		// wait can continue.
		h.pool.ClearNotify(ctx, opponentID)
		h.pool.Requeue(ctx, opponentID)
		conn.sendError("Matchmaking unavailable")
		return false
	}

	h.sessions.MarkCharged(ctx, matchID, userID)
	h.sessions.MarkCharged(ctx, matchID, opponentID)

	if err := conn.send(map[string]interface{}{"type": "MATCH_FOUND", "match_id": matchID}); err != nil {
		// Same as the waiter path: the match exists, keep it alive for a
		// reconnect.
		h.pool.Notify(ctx, userID, matchID)
	}
	log.Printf("[POOL] Paired %s vs %s -> match %s", userID, opponentID, matchID)
	return true
}

// releaseSearchStake is the cleanup for a search that ended without a
// confirmed match: take the user out of the pool and make them whole,
// exactly once. A notification present at this point means a match was
// created after all, so the stake stays in play for that match.
func releaseSearchStake(ctx context.Context, pool *matchmaking.Pool, funds balanceAdjuster, userID string, stake float64) {
	if err := pool.Remove(ctx, userID); err != nil {
		log.Printf("[POOL] Cleanup removal failed for %s: %v", userID, err)
	}
	if matchID, err := pool.CheckNotify(ctx, userID); err == nil && matchID != "" {
		log.Printf("[POOL] Late match %s found for %s during cleanup - keeping stake held", matchID, userID)
		return
	}
	if err := funds.AdjustBalance(ctx, userID, stake, wallet.TxRefund, "matchmaking timeout"); err != nil {
		log.Printf("[POOL] CRITICAL: refund failed for %s (amount=%.2f): %v", userID, stake, err)
	}
}
