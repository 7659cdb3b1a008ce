package ws

import (
	"time"

	"github.com/tapclash/backend/internal/session"
)

type decision int

const (
	decideSync decision = iota
	decideWaitForOpponent
	decideFinalizeFled
	decideFinalizeNormal
)

// decide maps one session snapshot to the monitor loop's next step,
// evaluated in priority order:
//
//  1. opponent's socket is gone and they are not finished: past the grace
//     period they have fled (immediately if the caller already finished,
//     since the match cannot change anymore);
//  2. both finished: settle by score;
//  3. opponent finished and the caller is strictly ahead: the outcome is
//     already mathematically decided, settle early.
//
// Anything else keeps the match running and syncs scores. secondsLeft is
// only meaningful for decideWaitForOpponent.
func decide(s *session.Snapshot, grace time.Duration) (d decision, secondsLeft int) {
	if s.ActiveConns < 2 && s.OpponentStatus != session.StatusFinished {
		if s.MyStatus == session.StatusFinished {
			return decideFinalizeNormal, 0
		}
		if s.OpponentSeenAgo > grace {
			return decideFinalizeFled, 0
		}
		return decideWaitForOpponent, int((grace - s.OpponentSeenAgo).Seconds())
	}

	if s.MyStatus == session.StatusFinished && s.OpponentStatus == session.StatusFinished {
		return decideFinalizeNormal, 0
	}

	if s.OpponentStatus == session.StatusFinished && s.MyStatus == session.StatusPlaying && s.MyScore > s.OpponentScore {
		return decideFinalizeNormal, 0
	}

	return decideSync, 0
}
