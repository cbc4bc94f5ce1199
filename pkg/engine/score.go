package engine

import (
	"fmt"

	"github.com/herohde/outpost/pkg/chess"
)

type scoreKind int8

const (
	kindCp scoreKind = iota
	kindMate
	kindMateGiven
)

// Score is an engine evaluation: centipawns, signed moves to forced mate, or
// the terminal "mate delivered" value. Positive favors the side the score is
// relative to. The zero value is Cp(0).
//
// Scores are totally ordered:
//
//	Mate(-0) < Mate(-1) < Cp(-50) < Cp(200) < Mate(4) < Mate(1) < MateGiven
type Score struct {
	kind  scoreKind
	value int
}

// Cp returns a centipawn score.
func Cp(cp int) Score {
	return Score{kind: kindCp, value: cp}
}

// Mate returns a mate score: moves to mate, negative if we are getting mated.
func Mate(moves int) Score {
	return Score{kind: kindMate, value: moves}
}

// MateGiven is the winning terminal value, equivalent to Mate(0).Neg().
var MateGiven = Score{kind: kindMateGiven}

// Centipawns returns the centipawn value, or false for mate scores.
func (s Score) Centipawns() (int, bool) {
	if s.kind != kindCp {
		return 0, false
	}
	return s.value, true
}

// Mate returns the number of moves to mate, negative if we are getting
// mated, or false for centipawn scores. Note that Mate(0) (we lost) and
// MateGiven (we won) both report zero.
func (s Score) Mate() (int, bool) {
	switch s.kind {
	case kindMate:
		return s.value, true
	case kindMateGiven:
		return 0, true
	default:
		return 0, false
	}
}

// IsMate reports whether this is a mate score.
func (s Score) IsMate() bool {
	return s.kind != kindCp
}

// Clamp returns the score in centipawns, mapping mate scores into the band
// around the given large value: mateScore-n for mate in n, -mateScore-n when
// getting mated, mateScore exactly for MateGiven.
func (s Score) Clamp(mateScore int) int {
	switch s.kind {
	case kindMateGiven:
		return mateScore
	case kindMate:
		if s.value > 0 {
			return mateScore - s.value
		}
		return -mateScore - s.value
	default:
		return s.value
	}
}

// Neg returns the score from the opponent's point of view.
func (s Score) Neg() Score {
	switch s.kind {
	case kindMateGiven:
		return Mate(0)
	case kindMate:
		if s.value == 0 {
			return MateGiven
		}
		return Mate(-s.value)
	default:
		return Cp(-s.value)
	}
}

// order maps the score onto a lexicographic key consistent with Less.
func (s Score) order() (int, int) {
	switch s.kind {
	case kindMateGiven:
		return 4, 0
	case kindMate:
		switch {
		case s.value > 0:
			return 3, -s.value
		case s.value == 0:
			return 0, 0
		default:
			return 1, -s.value
		}
	default:
		return 2, s.value
	}
}

// Less is a total order over scores, consistent with negation.
func (s Score) Less(o Score) bool {
	a1, a2 := s.order()
	b1, b2 := o.order()
	return a1 < b1 || (a1 == b1 && a2 < b2)
}

func (s Score) String() string {
	switch s.kind {
	case kindMateGiven:
		return "#+0"
	case kindMate:
		if s.value > 0 {
			return fmt.Sprintf("#+%d", s.value)
		}
		return fmt.Sprintf("#-%d", -s.value)
	default:
		if s.value > 0 {
			return fmt.Sprintf("+%d", s.value)
		}
		return fmt.Sprintf("%d", s.value)
	}
}

// PovScore is a relative Score plus the point of view it is relative to.
type PovScore struct {
	Relative Score
	Turn     chess.Color
}

// POV returns the score from the given color's point of view.
func (p PovScore) POV(c chess.Color) Score {
	if c == p.Turn {
		return p.Relative
	}
	return p.Relative.Neg()
}

// White returns the score from white's point of view.
func (p PovScore) White() Score {
	return p.POV(chess.White)
}

// Black returns the score from black's point of view.
func (p PovScore) Black() Score {
	return p.POV(chess.Black)
}

// IsMate reports whether this is a mate score.
func (p PovScore) IsMate() bool {
	return p.Relative.IsMate()
}

func (p PovScore) String() string {
	return fmt.Sprintf("%v (%v)", p.Relative, p.Turn)
}
