package zaber

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnitsRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		units Units
	}{
		{"integral steps per mm", Units{StepsPerUnit: 100}},
		{"LST0250A-E08 microstepping", Units{StepsPerUnit: 2015.748}},
		{"with home offset", Units{StepsPerUnit: 1000, HomeOffset: 5}},
	}

	positions := []float64{0, 0.5, 1, 12.345, 25, 49.99, 250}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, pos := range positions {
				steps := tt.units.Steps(pos)
				got := tt.units.Position(steps)
				// round-trips within one step's resolution
				require.InDelta(t, pos, got, 1.0/tt.units.StepsPerUnit,
					"position %v", pos)
			}
		})
	}
}

func TestUnitsHomeOffset(t *testing.T) {
	require := require.New(t)

	u := Units{StepsPerUnit: 100, HomeOffset: 2}

	// the home reference (step 0) sits at the offset position
	require.Equal(2.0, u.Position(0))
	require.EqualValues(0, u.Steps(2))
	require.EqualValues(300, u.Steps(5))
}

func TestUnitsRelativeIgnoresOffset(t *testing.T) {
	require := require.New(t)

	u := Units{StepsPerUnit: 100, HomeOffset: 2}
	require.EqualValues(-3000, u.StepsRel(-30))
	require.EqualValues(500, u.StepsRel(5))
}

func TestUnitsRounding(t *testing.T) {
	require := require.New(t)

	u := Units{StepsPerUnit: 3}
	steps := u.Steps(1.0 / 3.0)
	require.EqualValues(1, steps)
	require.True(math.Abs(u.Position(steps)-1.0/3.0) < 1.0/3.0)
}
