package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// Worker is the out-of-process synthetic opponent. It drains match ids
// from the wake-up list and joins each one over the same match socket a
// human client uses, authenticated with the shared service credential.
type Worker struct {
	rdb          *redis.Client
	queueKey     string
	serverWSBase string // e.g. ws://localhost:8080
	serviceToken string
}

func NewWorker(rdb *redis.Client, queueKey, serverWSBase, serviceToken string) *Worker {
	return &Worker{
		rdb:          rdb,
		queueKey:     queueKey,
		serverWSBase: serverWSBase,
		serviceToken: serviceToken,
	}
}

// Run blocks, popping wake-ups until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("[BOT] Worker started (queue=%s server=%s)", w.queueKey, w.serverWSBase)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[BOT] Worker stopped")
			return
		default:
		}

		res, err := w.rdb.BLPop(ctx, 5*time.Second, w.queueKey).Result()
		if err == redis.Nil || len(res) < 2 {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[BOT] BLPOP failed: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}

		matchID := res[1]
		if err := w.Play(ctx, matchID); err != nil {
			log.Printf("[BOT] Match %s failed: %v", matchID, err)
		}
	}
}

type serverFrame struct {
	Type   string          `json:"type"`
	Rounds json.RawMessage `json:"rounds,omitempty"`
	Status string          `json:"status,omitempty"`
}

// Play joins one match and plays it out with a paced, bounded random
// score. The bot behaves like any client: it reports scores, declares
// GAME_OVER and waits for its RESULT frame.
func (w *Worker) Play(ctx context.Context, matchID string) error {
	url := fmt.Sprintf("%s/api/v1/ws/match/%s?token=%s", w.serverWSBase, matchID, w.serviceToken)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	log.Printf("[BOT] Joined match %s", matchID)

	// Wait for GAME_START before scoring.
	totalRounds := 20
	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		var frame serverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read before start failed: %w", err)
		}
		if frame.Type == "MATCH_CANCELLED" || frame.Type == "ERROR" {
			return fmt.Errorf("match ended before start: %s", frame.Type)
		}
		if frame.Type == "GAME_START" {
			var rounds []json.RawMessage
			if err := json.Unmarshal(frame.Rounds, &rounds); err == nil && len(rounds) > 0 {
				totalRounds = len(rounds)
			}
			break
		}
	}

	// Results arrive interleaved with SYNC_STATE frames; drain reads in
	// the background while the score loop writes.
	done := make(chan string, 1)
	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			var frame serverFrame
			if err := conn.ReadJSON(&frame); err != nil {
				done <- ""
				return
			}
			if frame.Type == "RESULT" || frame.Type == "MATCH_CANCELLED" {
				done <- frame.Status
				return
			}
		}
	}()

	score := 0
	for r := 0; r < totalRounds; r++ {
		select {
		case status := <-done:
			log.Printf("[BOT] Match %s ended early (status=%s)", matchID, status)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(800+rand.Intn(1200)) * time.Millisecond):
		}

		score += rand.Intn(3) // 0..2 points per round, human-ish
		msg := map[string]interface{}{"type": "SCORE_UPDATE", "score": score}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("score write failed: %w", err)
		}
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(map[string]interface{}{"type": "GAME_OVER", "final_score": score}); err != nil {
		return fmt.Errorf("game over write failed: %w", err)
	}

	select {
	case status := <-done:
		log.Printf("[BOT] Match %s finished with score %d (status=%s)", matchID, score, status)
	case <-time.After(90 * time.Second):
		log.Printf("[BOT] Match %s: no result within deadline", matchID)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
