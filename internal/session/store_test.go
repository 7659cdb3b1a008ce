package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type StoreSuite struct {
	suite.Suite
	mini  *miniredis.Miniredis
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.mini.Addr()})
	s.store = NewStore(client, 10*time.Minute, 30*time.Second)
	s.ctx = context.Background()
}

func (s *StoreSuite) TestRegisterPlayerSetsUpSession() {
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "alice", "Alice"))

	s.Equal("Alice", s.mini.HGet(matchKey("m1"), "name:alice"))
	s.Equal("0", s.mini.HGet(matchKey("m1"), "score:alice"))
	s.Equal(StatusPlaying, s.mini.HGet(matchKey("m1"), "status:alice"))
	s.Equal("1", s.mini.HGet(matchKey("m1"), "active_conns"))
	s.Greater(s.mini.TTL(matchKey("m1")), time.Duration(0))
}

func (s *StoreSuite) TestReconnectKeepsScore() {
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "alice", "Alice"))
	s.Require().NoError(s.store.RecordScore(s.ctx, "m1", "alice", 7))

	// Second register must not reset the score.
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "alice", "Alice"))
	s.Equal("7", s.mini.HGet(matchKey("m1"), "score:alice"))
	s.Equal("2", s.mini.HGet(matchKey("m1"), "active_conns"))
}

func (s *StoreSuite) TestScoreIsMonotonic() {
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "alice", "Alice"))

	s.Require().NoError(s.store.RecordScore(s.ctx, "m1", "alice", 5))
	s.Require().NoError(s.store.RecordScore(s.ctx, "m1", "alice", 3))
	s.Equal("5", s.mini.HGet(matchKey("m1"), "score:alice"))

	s.Require().NoError(s.store.RecordScore(s.ctx, "m1", "alice", 9))
	s.Equal("9", s.mini.HGet(matchKey("m1"), "score:alice"))
}

func (s *StoreSuite) TestMarkChargedOnlyOnce() {
	first, err := s.store.MarkCharged(s.ctx, "m1", "alice")
	s.Require().NoError(err)
	s.True(first)

	again, err := s.store.MarkCharged(s.ctx, "m1", "alice")
	s.Require().NoError(err)
	s.False(again)

	// Clearing reopens the charge for a retry.
	s.Require().NoError(s.store.ClearCharged(s.ctx, "m1", "alice"))
	first, err = s.store.MarkCharged(s.ctx, "m1", "alice")
	s.Require().NoError(err)
	s.True(first)
}

func (s *StoreSuite) TestElectHostPicksExactlyOne() {
	a, err := s.store.ElectHost(s.ctx, "m1")
	s.Require().NoError(err)
	b, err := s.store.ElectHost(s.ctx, "m1")
	s.Require().NoError(err)

	s.True(a)
	s.False(b)
}

func (s *StoreSuite) TestWaitForOpponentFindsOtherPlayer() {
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "alice", "Alice"))
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "bob", "Bob"))
	s.Require().NoError(s.store.WriteRounds(s.ctx, "m1", []byte(`[{"round":1}]`)))

	rounds, oppID, oppName, err := s.store.WaitForOpponent(s.ctx, "m1", "alice", 2*time.Second)
	s.Require().NoError(err)
	s.JSONEq(`[{"round":1}]`, string(rounds))
	s.Equal("bob", oppID)
	s.Equal("Bob", oppName)
}

func (s *StoreSuite) TestWaitForOpponentNeverReturnsSelf() {
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "alice", "Alice"))
	s.Require().NoError(s.store.WriteRounds(s.ctx, "m1", []byte(`[]`)))

	_, _, _, err := s.store.WaitForOpponent(s.ctx, "m1", "alice", 700*time.Millisecond)
	s.Require().ErrorIs(err, ErrMatchInitTimeout)
}

func (s *StoreSuite) TestSnapshotProjectsBothSides() {
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "alice", "Alice"))
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "bob", "Bob"))
	s.Require().NoError(s.store.RecordScore(s.ctx, "m1", "alice", 4))
	s.Require().NoError(s.store.RecordScore(s.ctx, "m1", "bob", 11))
	s.Require().NoError(s.store.MarkFinished(s.ctx, "m1", "bob"))

	snap, err := s.store.Snapshot(s.ctx, "m1", "alice", "bob")
	s.Require().NoError(err)
	s.Equal(4, snap.MyScore)
	s.Equal(11, snap.OpponentScore)
	s.Equal(StatusPlaying, snap.MyStatus)
	s.Equal(StatusFinished, snap.OpponentStatus)
	s.Equal(2, snap.ActiveConns)
	s.False(snap.Finalized)
}

func (s *StoreSuite) TestWriteResultsPublishesAndReplays() {
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "alice", "Alice"))
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "bob", "Bob"))

	aliceRes := []byte(`{"status":"WON"}`)
	bobRes := []byte(`{"status":"LOST"}`)
	s.Require().NoError(s.store.WriteResults(s.ctx, "m1", "alice", aliceRes, "bob", bobRes))

	finalized, err := s.store.Finalized(s.ctx, "m1")
	s.Require().NoError(err)
	s.True(finalized)

	// Replay returns the stored payload unchanged, for either player, any
	// number of times.
	for i := 0; i < 2; i++ {
		got, err := s.store.FinalResult(s.ctx, "m1", "alice")
		s.Require().NoError(err)
		s.JSONEq(string(aliceRes), string(got))
	}
	got, err := s.store.FinalResult(s.ctx, "m1", "bob")
	s.Require().NoError(err)
	s.JSONEq(string(bobRes), string(got))
}

func (s *StoreSuite) TestFinalResultNilBeforeFinalize() {
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "alice", "Alice"))

	got, err := s.store.FinalResult(s.ctx, "m1", "alice")
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *StoreSuite) TestConnClosedDecrements() {
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "alice", "Alice"))
	s.Require().NoError(s.store.RegisterPlayer(s.ctx, "m1", "bob", "Bob"))

	s.store.ConnClosed(s.ctx, "m1")
	s.Equal("1", s.mini.HGet(matchKey("m1"), "active_conns"))
}
