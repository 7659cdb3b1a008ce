package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRounds(t *testing.T) {
	rounds := GenerateRounds(20)
	require.Len(t, rounds, 20)

	for _, r := range rounds {
		expected := 3 + (r.Round-1)/2
		if expected > maxNumbersPerRound {
			expected = maxNumbersPerRound
		}
		assert.Len(t, r.Numbers, expected, "round %d", r.Round)
		assert.Len(t, r.Positions, expected, "round %d", r.Round)

		// Numbers are distinct and within 1..numberRange.
		seen := map[int]bool{}
		for _, n := range r.Numbers {
			assert.GreaterOrEqual(t, n, 1)
			assert.LessOrEqual(t, n, numberRange)
			assert.False(t, seen[n], "round %d repeats %d", r.Round, n)
			seen[n] = true
		}

		for _, p := range r.Positions {
			assert.GreaterOrEqual(t, p.Left, 10.0)
			assert.LessOrEqual(t, p.Left, 85.0)
			assert.GreaterOrEqual(t, p.Top, 10.0)
			assert.LessOrEqual(t, p.Top, 80.0)
		}
	}
}

func TestGenerateRoundsDifficultyRamp(t *testing.T) {
	rounds := GenerateRounds(20)

	assert.Len(t, rounds[0].Numbers, 3)
	assert.Len(t, rounds[1].Numbers, 3)
	assert.Len(t, rounds[2].Numbers, 4)

	// The ramp caps out and stays capped.
	for _, r := range rounds[10:] {
		assert.Len(t, r.Numbers, maxNumbersPerRound, "round %d", r.Round)
	}
}
