package matchmaking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	poolKey         = "matchmaking:pool"
	notifyKeyPrefix = "matchmaking:notify:"
	userLockPrefix  = "lock:user:"

	notifyTTL = 120 * time.Second
)

// pairScript is the single atomic pair-or-enqueue step. A caller whose
// own notify key exists has already been claimed into a match and is
// refused, and a successful claim writes the opponent's notify key in the
// same script. Together those close both halves of the double-pairing
// race: two callers can never pop the same third party, and a waiter that
// was just popped can never go on to claim someone else before the
// notification lands.
const pairScript = `
local caller = ARGV[1]
local matchID = ARGV[2]
local prefix = ARGV[3]
local ttl = tonumber(ARGV[4])
if redis.call('EXISTS', prefix .. caller) == 1 then
  return {'claimed', ''}
end
redis.call('SREM', KEYS[1], caller)
local opp = redis.call('SPOP', KEYS[1])
if opp then
  redis.call('SET', prefix .. opp, matchID, 'EX', ttl)
  return {'paired', opp}
end
redis.call('SADD', KEYS[1], caller)
return {'queued', ''}
`

// Pool is the Redis-backed set of users currently searching for a match.
type Pool struct {
	rdb     *redis.Client
	lockTTL time.Duration
}

func NewPool(rdb *redis.Client, lockTTL time.Duration) *Pool {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Pool{rdb: rdb, lockTTL: lockTTL}
}

// TryPairOrEnqueue attempts to claim a waiting opponent for the given
// prospective match id. On a claim the opponent's notification is already
// written when this returns, so the opponent id comes back with their
// commitment in place. alreadyClaimed means the caller was itself claimed
// by someone else and must pick up its own notification instead.
func (p *Pool) TryPairOrEnqueue(ctx context.Context, userID, matchID string) (opponentID string, alreadyClaimed bool, err error) {
	res, err := p.rdb.Eval(ctx, pairScript, []string{poolKey},
		userID, matchID, notifyKeyPrefix, int(notifyTTL.Seconds())).Result()
	if err != nil {
		return "", false, fmt.Errorf("pair script failed: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return "", false, fmt.Errorf("pair script returned unexpected value: %v", res)
	}
	status, _ := arr[0].(string)
	value, _ := arr[1].(string)
	switch status {
	case "paired":
		return value, false, nil
	case "claimed":
		return "", true, nil
	default:
		return "", false, nil
	}
}

// Requeue puts a user back into the pool after a failed pairing.
func (p *Pool) Requeue(ctx context.Context, userID string) error {
	return p.rdb.SAdd(ctx, poolKey, userID).Err()
}

// Remove idempotently takes the caller out of the pool.
func (p *Pool) Remove(ctx context.Context, userID string) error {
	return p.rdb.SRem(ctx, poolKey, userID).Err()
}

// Notify tells a waiting user which match they were paired into.
func (p *Pool) Notify(ctx context.Context, userID, matchID string) error {
	return p.rdb.Set(ctx, notifyKeyPrefix+userID, matchID, notifyTTL).Err()
}

// CheckNotify returns the pending match id for a user, or "".
func (p *Pool) CheckNotify(ctx context.Context, userID string) (string, error) {
	matchID, err := p.rdb.Get(ctx, notifyKeyPrefix+userID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return matchID, nil
}

// ClearNotify removes a consumed notification.
func (p *Pool) ClearNotify(ctx context.Context, userID string) error {
	return p.rdb.Del(ctx, notifyKeyPrefix+userID).Err()
}

// AcquireUserLock takes the per-user session lock so a user cannot run
// two matchmaking sessions at once. Returns false if already held.
func (p *Pool) AcquireUserLock(ctx context.Context, userID string) (bool, error) {
	return p.rdb.SetNX(ctx, userLockPrefix+userID, "locked", p.lockTTL).Result()
}

// ReleaseUserLock drops the per-user session lock.
func (p *Pool) ReleaseUserLock(ctx context.Context, userID string) error {
	return p.rdb.Del(ctx, userLockPrefix+userID).Err()
}

// Size reports how many users are waiting (monitoring only).
func (p *Pool) Size(ctx context.Context) (int64, error) {
	return p.rdb.SCard(ctx, poolKey).Result()
}

// NewMatchID generates a match id in the wire format clients expect.
func NewMatchID() string {
	return "match_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
