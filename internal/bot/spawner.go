package bot

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

const eventsChannel = "bot:events"

// Spawner wakes the out-of-process bot worker when a human could not be
// paired in time. Notification is fire-and-forget: a failure is logged and
// the human player's flow proceeds regardless (the worker also drains the
// wake-up list on its own schedule).
type Spawner struct {
	rdb      *redis.Client
	queueKey string
}

func NewSpawner(rdb *redis.Client, queueKey string) *Spawner {
	return &Spawner{rdb: rdb, queueKey: queueKey}
}

// NotifyBotWorker asks a bot to join the given match.
func (s *Spawner) NotifyBotWorker(ctx context.Context, matchID string) {
	if err := s.rdb.LPush(ctx, s.queueKey, matchID).Err(); err != nil {
		log.Printf("[BOT] Failed to enqueue bot wakeup for match %s: %v", matchID, err)
		return
	}
	if err := s.rdb.Publish(ctx, eventsChannel, matchID).Err(); err != nil {
		log.Printf("[BOT] Failed to publish bot wakeup for match %s: %v", matchID, err)
	}
	log.Printf("[BOT] Bot worker notified for match %s", matchID)
}
