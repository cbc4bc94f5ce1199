package engine

import (
	"sort"
	"testing"

	"github.com/herohde/outpost/pkg/chess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreOrdering(t *testing.T) {
	// Ascending per the total order.
	ordered := []Score{
		Mate(0), Mate(-1), Mate(-5), Cp(-1000), Cp(-50), Cp(0), Cp(200), Cp(1000), Mate(7), Mate(4), Mate(1), MateGiven,
	}

	for i := range ordered {
		for j := range ordered {
			assert.Equal(t, i < j, ordered[i].Less(ordered[j]), "%v < %v", ordered[i], ordered[j])

			// The order agrees with negation: a < b iff -b < -a.
			assert.Equal(t, ordered[i].Less(ordered[j]), ordered[j].Neg().Less(ordered[i].Neg()),
				"negation antisymmetry: %v, %v", ordered[i], ordered[j])
		}
	}

	shuffled := []Score{Cp(200), Mate(1), Mate(-5), MateGiven, Cp(-50), Mate(0)}
	sort.Slice(shuffled, func(i, j int) bool { return shuffled[i].Less(shuffled[j]) })
	assert.Equal(t, []Score{Mate(0), Mate(-5), Cp(-50), Cp(200), Mate(1), MateGiven}, shuffled)
}

func TestScoreNegation(t *testing.T) {
	assert.Equal(t, Cp(-20), Cp(20).Neg())
	assert.Equal(t, Mate(4), Mate(-4).Neg())
	assert.Equal(t, MateGiven, Mate(0).Neg())
	assert.Equal(t, Mate(0), MateGiven.Neg())
	assert.Equal(t, Cp(13), Cp(13).Neg().Neg())
}

func TestScoreClamp(t *testing.T) {
	assert.Equal(t, -300, Cp(-300).Clamp(100000))
	assert.Equal(t, 99995, Mate(5).Clamp(100000))
	assert.Equal(t, -99995, Mate(-5).Clamp(100000))
	assert.Equal(t, 100000, MateGiven.Clamp(100000))
	assert.Equal(t, -100000, Mate(0).Clamp(100000))
}

func TestScoreAccessors(t *testing.T) {
	cp, ok := Cp(42).Centipawns()
	require.True(t, ok)
	assert.Equal(t, 42, cp)
	_, ok = Mate(3).Centipawns()
	assert.False(t, ok)

	m, ok := Mate(-2).Mate()
	require.True(t, ok)
	assert.Equal(t, -2, m)
	m, ok = MateGiven.Mate()
	require.True(t, ok)
	assert.Equal(t, 0, m)
	_, ok = Cp(0).Mate()
	assert.False(t, ok)

	assert.True(t, MateGiven.IsMate())
	assert.False(t, Cp(7).IsMate())
}

func TestScoreString(t *testing.T) {
	assert.Equal(t, "+34", Cp(34).String())
	assert.Equal(t, "-3", Cp(-3).String())
	assert.Equal(t, "0", Cp(0).String())
	assert.Equal(t, "#+3", Mate(3).String())
	assert.Equal(t, "#-2", Mate(-2).String())
	assert.Equal(t, "#+0", MateGiven.String())
}

func TestPovScore(t *testing.T) {
	s := PovScore{Relative: Cp(30), Turn: chess.Black}

	assert.Equal(t, Cp(30), s.POV(chess.Black))
	assert.Equal(t, Cp(-30), s.POV(chess.White))
	assert.Equal(t, Cp(-30), s.White())
	assert.Equal(t, Cp(30), s.Black())
	assert.False(t, s.IsMate())

	m := PovScore{Relative: Mate(0), Turn: chess.White}
	assert.Equal(t, MateGiven, m.Black())
}
