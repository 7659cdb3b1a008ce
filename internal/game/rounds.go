package game

import (
	"math"
	"math/rand"
)

// Position is a percentage placement of one target on the play area.
type Position struct {
	Left float64 `json:"left"`
	Top  float64 `json:"top"`
}

// Round is one puzzle round: a set of numbers placed without overlap.
type Round struct {
	Round     int        `json:"round"`
	Numbers   []int      `json:"numbers"`
	Positions []Position `json:"positions"`
}

const (
	maxNumbersPerRound = 8
	numberRange        = 20
	placementAttempts  = 500
	// Squared min distance between targets; vertical distance is weighted
	// 1.5x because the play area is wider than tall.
	minDistanceSq = 500.0
)

// GenerateRounds builds the shared round payload. Difficulty ramps by
// adding one number every second round, capped at maxNumbersPerRound.
func GenerateRounds(totalRounds int) []Round {
	rounds := make([]Round, 0, totalRounds)
	for r := 1; r <= totalRounds; r++ {
		count := 3 + (r-1)/2
		if count > maxNumbersPerRound {
			count = maxNumbersPerRound
		}

		numbers := rand.Perm(numberRange)[:count]
		for i := range numbers {
			numbers[i]++ // 1..numberRange
		}

		positions := make([]Position, 0, count)
		for i := 0; i < count; i++ {
			positions = append(positions, placeTarget(positions))
		}

		rounds = append(rounds, Round{Round: r, Numbers: numbers, Positions: positions})
	}
	return rounds
}

// placeTarget picks a spot that does not collide with already-placed
// targets, falling back to an unchecked central spot after too many tries.
func placeTarget(placed []Position) Position {
	for attempt := 0; attempt < placementAttempts; attempt++ {
		p := Position{
			Left: round2(10 + rand.Float64()*75), // 10..85
			Top:  round2(10 + rand.Float64()*70), // 10..80
		}
		if !collides(p, placed) {
			return p
		}
	}
	return Position{
		Left: round2(20 + rand.Float64()*50),
		Top:  round2(20 + rand.Float64()*50),
	}
}

func collides(p Position, placed []Position) bool {
	for _, q := range placed {
		dx := q.Left - p.Left
		dy := (q.Top - p.Top) * 1.5
		if dx*dx+dy*dy < minDistanceSq {
			return true
		}
	}
	return false
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
