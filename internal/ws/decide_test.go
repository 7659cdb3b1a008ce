package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tapclash/backend/internal/session"
)

func TestDecide(t *testing.T) {
	grace := 12 * time.Second

	tests := []struct {
		name        string
		snap        session.Snapshot
		want        decision
		wantSeconds int
	}{
		{
			name: "both playing and connected keeps syncing",
			snap: session.Snapshot{
				MyStatus:       session.StatusPlaying,
				OpponentStatus: session.StatusPlaying,
				ActiveConns:    2,
			},
			want: decideSync,
		},
		{
			name: "opponent gone within grace waits",
			snap: session.Snapshot{
				MyStatus:        session.StatusPlaying,
				OpponentStatus:  session.StatusPlaying,
				ActiveConns:     1,
				OpponentSeenAgo: 4 * time.Second,
			},
			want:        decideWaitForOpponent,
			wantSeconds: 8,
		},
		{
			name: "opponent gone past grace is a forfeit",
			snap: session.Snapshot{
				MyStatus:        session.StatusPlaying,
				OpponentStatus:  session.StatusPlaying,
				ActiveConns:     1,
				OpponentSeenAgo: 13 * time.Second,
			},
			want: decideFinalizeFled,
		},
		{
			name: "opponent gone but caller finished settles immediately",
			snap: session.Snapshot{
				MyStatus:        session.StatusFinished,
				OpponentStatus:  session.StatusPlaying,
				ActiveConns:     1,
				OpponentSeenAgo: 2 * time.Second,
			},
			want: decideFinalizeNormal,
		},
		{
			name: "opponent finished then disconnected is not a forfeit",
			snap: session.Snapshot{
				MyStatus:       session.StatusPlaying,
				OpponentStatus: session.StatusFinished,
				ActiveConns:    1,
				MyScore:        5,
				OpponentScore:  9,
			},
			want: decideSync,
		},
		{
			name: "both finished settles",
			snap: session.Snapshot{
				MyStatus:       session.StatusFinished,
				OpponentStatus: session.StatusFinished,
				ActiveConns:    2,
			},
			want: decideFinalizeNormal,
		},
		{
			name: "opponent finished and caller strictly ahead settles early",
			snap: session.Snapshot{
				MyStatus:       session.StatusPlaying,
				OpponentStatus: session.StatusFinished,
				ActiveConns:    2,
				MyScore:        12,
				OpponentScore:  11,
			},
			want: decideFinalizeNormal,
		},
		{
			name: "opponent finished and caller tied keeps playing",
			snap: session.Snapshot{
				MyStatus:       session.StatusPlaying,
				OpponentStatus: session.StatusFinished,
				ActiveConns:    2,
				MyScore:        11,
				OpponentScore:  11,
			},
			want: decideSync,
		},
		{
			name: "opponent finished and caller behind keeps playing",
			snap: session.Snapshot{
				MyStatus:       session.StatusPlaying,
				OpponentStatus: session.StatusFinished,
				ActiveConns:    2,
				MyScore:        3,
				OpponentScore:  11,
			},
			want: decideSync,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, seconds := decide(&tt.snap, grace)
			assert.Equal(t, tt.want, got)
			if tt.want == decideWaitForOpponent {
				assert.Equal(t, tt.wantSeconds, seconds)
			}
		})
	}
}
