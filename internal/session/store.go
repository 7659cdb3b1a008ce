package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrMatchInitTimeout = errors.New("match initialization timed out")

// Player status values inside a session.
const (
	StatusPlaying  = "PLAYING"
	StatusFinished = "FINISHED"
)

const waitPollInterval = 500 * time.Millisecond

// maxScoreScript keeps the stored score monotonic: client updates can only
// raise it.
const maxScoreScript = `
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local new = tonumber(ARGV[2])
if new > cur then
  redis.call('HSET', KEYS[1], ARGV[1], new)
  return new
end
return cur
`

// Store is the glue over the shared external store that holds the
// authoritative record of one live match. There is deliberately no
// in-process caching: two handlers for one match may live on different
// server instances and coordinate only through these keys.
type Store struct {
	rdb        *redis.Client
	sessionTTL time.Duration
	initTTL    time.Duration
}

func NewStore(rdb *redis.Client, sessionTTL, initTTL time.Duration) *Store {
	if sessionTTL <= 0 {
		sessionTTL = 10 * time.Minute
	}
	if initTTL <= 0 {
		initTTL = 30 * time.Second
	}
	return &Store{rdb: rdb, sessionTTL: sessionTTL, initTTL: initTTL}
}

func matchKey(matchID string) string { return "match:live:" + matchID }
func initKey(matchID string) string  { return "match:init:" + matchID }

func nameField(userID string) string     { return "name:" + userID }
func scoreField(userID string) string    { return "score:" + userID }
func statusField(userID string) string   { return "status:" + userID }
func lastSeenField(userID string) string { return "last_seen:" + userID }
func resultField(userID string) string   { return "final_result:" + userID }
func chargedField(userID string) string  { return "charged:" + userID }

// RegisterPlayer records a player's presence in the session and bumps the
// live connection counter. Score is HSETNX so a reconnect never resets it.
func (s *Store) RegisterPlayer(ctx context.Context, matchID, userID, name string) error {
	key := matchKey(matchID)
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, nameField(userID), name)
	pipe.HSetNX(ctx, key, scoreField(userID), 0)
	pipe.HSet(ctx, key, statusField(userID), StatusPlaying)
	pipe.HSet(ctx, key, lastSeenField(userID), time.Now().Unix())
	pipe.HIncrBy(ctx, key, "active_conns", 1)
	pipe.Expire(ctx, key, s.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register player: %w", err)
	}
	return nil
}

// MarkCharged flips the per-session charged flag for a user. Returns true
// exactly once per (match, user); a reconnecting client sees false and is
// not charged again.
func (s *Store) MarkCharged(ctx context.Context, matchID, userID string) (bool, error) {
	first, err := s.rdb.HSetNX(ctx, matchKey(matchID), chargedField(userID), 1).Result()
	if err != nil {
		return false, err
	}
	s.rdb.Expire(ctx, matchKey(matchID), s.sessionTTL)
	return first, nil
}

// ClearCharged reverts the charged flag when the deduction behind it
// failed or was refunded, so a later attempt can charge again.
func (s *Store) ClearCharged(ctx context.Context, matchID, userID string) error {
	return s.rdb.HDel(ctx, matchKey(matchID), chargedField(userID)).Err()
}

// ElectHost runs the one-writer election for round generation. Exactly one
// caller per match gets true, even when both sides connect concurrently.
func (s *Store) ElectHost(ctx context.Context, matchID string) (bool, error) {
	return s.rdb.SetNX(ctx, initKey(matchID), "1", s.initTTL).Result()
}

// WriteRounds stores the generated round payload (host only) and pins the
// session TTL.
func (s *Store) WriteRounds(ctx context.Context, matchID string, roundsJSON []byte) error {
	key := matchKey(matchID)
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, "rounds", roundsJSON)
	pipe.Expire(ctx, key, s.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write rounds: %w", err)
	}
	return nil
}

// WaitForOpponent polls the session until both the rounds payload and a
// second player's name are present. The opponent is whoever owns a name
// field that is not the caller's; it can never be the caller itself.
func (s *Store) WaitForOpponent(ctx context.Context, matchID, userID string, timeout time.Duration) (rounds []byte, opponentID, opponentName string, err error) {
	deadline := time.Now().Add(timeout)
	key := matchKey(matchID)

	for time.Now().Before(deadline) {
		fields, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, "", "", fmt.Errorf("failed to read session: %w", err)
		}

		roundsJSON := fields["rounds"]
		oppID, oppName := "", ""
		for field, value := range fields {
			if strings.HasPrefix(field, "name:") && field != nameField(userID) {
				oppID = strings.TrimPrefix(field, "name:")
				oppName = value
				break
			}
		}

		if roundsJSON != "" && oppID != "" {
			return []byte(roundsJSON), oppID, oppName, nil
		}

		select {
		case <-ctx.Done():
			return nil, "", "", ctx.Err()
		case <-time.After(waitPollInterval):
		}
	}
	return nil, "", "", ErrMatchInitTimeout
}

// RecordScore writes a client-reported score, accepting only increases.
func (s *Store) RecordScore(ctx context.Context, matchID, userID string, score int) error {
	if err := s.rdb.Eval(ctx, maxScoreScript, []string{matchKey(matchID)}, scoreField(userID), score).Err(); err != nil {
		return fmt.Errorf("failed to record score: %w", err)
	}
	return nil
}

// Touch refreshes the caller's last-activity timestamp.
func (s *Store) Touch(ctx context.Context, matchID, userID string) error {
	return s.rdb.HSet(ctx, matchKey(matchID), lastSeenField(userID), time.Now().Unix()).Err()
}

// MarkFinished records that the caller has completed all rounds.
func (s *Store) MarkFinished(ctx context.Context, matchID, userID string) error {
	return s.rdb.HSet(ctx, matchKey(matchID), statusField(userID), StatusFinished).Err()
}

// ConnClosed decrements the live connection counter. Called on every exit
// path, including errors and disconnects.
func (s *Store) ConnClosed(ctx context.Context, matchID string) {
	s.rdb.HIncrBy(ctx, matchKey(matchID), "active_conns", -1)
}

// Snapshot is one poll-tick view of the session used by the monitor loop.
type Snapshot struct {
	MyScore         int
	OpponentScore   int
	MyStatus        string
	OpponentStatus  string
	ActiveConns     int
	OpponentSeenAgo time.Duration
	Finalized       bool
}

// Snapshot reads the whole session hash once and projects it for the
// caller's side.
func (s *Store) Snapshot(ctx context.Context, matchID, userID, opponentID string) (*Snapshot, error) {
	fields, err := s.rdb.HGetAll(ctx, matchKey(matchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	snap := &Snapshot{
		MyScore:        atoi(fields[scoreField(userID)]),
		OpponentScore:  atoi(fields[scoreField(opponentID)]),
		MyStatus:       fields[statusField(userID)],
		OpponentStatus: fields[statusField(opponentID)],
		ActiveConns:    atoi(fields["active_conns"]),
		Finalized:      fields["finalized"] == "true",
	}
	if ts := atoi64(fields[lastSeenField(opponentID)]); ts > 0 {
		snap.OpponentSeenAgo = time.Since(time.Unix(ts, 0))
	}
	return snap, nil
}

// Scores reads both players' current scores in one round trip.
func (s *Store) Scores(ctx context.Context, matchID, userID, opponentID string) (int, int, error) {
	vals, err := s.rdb.HMGet(ctx, matchKey(matchID), scoreField(userID), scoreField(opponentID)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read scores: %w", err)
	}
	return atoiAny(vals[0]), atoiAny(vals[1]), nil
}

// FinalResult returns the stored per-user result payload if the match is
// finalized, or nil. This is the reconnect replay path.
func (s *Store) FinalResult(ctx context.Context, matchID, userID string) ([]byte, error) {
	res, err := s.rdb.HGet(ctx, matchKey(matchID), resultField(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read final result: %w", err)
	}
	return []byte(res), nil
}

// WriteResults atomically publishes both players' result payloads, marks
// both finished and sets the finalized flag. Called exactly once, by
// whichever side holds the finalize lock. The TTL is refreshed so a
// reconnecting client can still replay its result.
func (s *Store) WriteResults(ctx context.Context, matchID, callerID string, callerResult []byte, opponentID string, opponentResult []byte) error {
	key := matchKey(matchID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, statusField(callerID), StatusFinished)
	pipe.HSet(ctx, key, statusField(opponentID), StatusFinished)
	pipe.HSet(ctx, key, resultField(callerID), callerResult)
	pipe.HSet(ctx, key, resultField(opponentID), opponentResult)
	pipe.HSet(ctx, key, "finalized", "true")
	pipe.Expire(ctx, key, s.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}

// Finalized reports whether the session outcome has been published.
func (s *Store) Finalized(ctx context.Context, matchID string) (bool, error) {
	v, err := s.rdb.HGet(ctx, matchKey(matchID), "finalized").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func atoiAny(v interface{}) int {
	s, _ := v.(string)
	return atoi(s)
}
