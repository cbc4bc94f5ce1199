package engine

import (
	"time"

	"github.com/herohde/outpost/pkg/chess"
	"github.com/seekerror/stdlib/pkg/lang"
)

// InfoMask selects which information the drivers parse out of engine output.
type InfoMask uint8

const (
	InfoNone       InfoMask = 0
	InfoBasic      InfoMask = 1
	InfoScore      InfoMask = 2
	InfoPV         InfoMask = 4
	InfoRefutation InfoMask = 8
	InfoCurrLine   InfoMask = 16
	InfoAll                 = InfoBasic | InfoScore | InfoPV | InfoRefutation | InfoCurrLine
)

// Info is one record of search information emitted by the engine. Unset
// fields were not present (or not selected) on the wire.
type Info struct {
	// Depth is the search depth in plies, SelDepth the selective depth.
	Depth, SelDepth lang.Optional[int]
	// Time is the time searched so far.
	Time lang.Optional[time.Duration]
	// Nodes is the number of nodes searched, NPS the nodes per second.
	Nodes, NPS lang.Optional[int64]
	// Score is the evaluation relative to the root side to move.
	Score lang.Optional[PovScore]
	// LowerBound and UpperBound qualify Score as a bound only.
	LowerBound, UpperBound lang.Optional[bool]
	// PV is the principal variation from the root position.
	PV lang.Optional[[]chess.Move]
	// MultiPV is the 1-based rank of this line in multi-PV mode.
	MultiPV lang.Optional[int]
	// CurrMove is the root move currently searched, CurrMoveNumber its
	// 1-based index.
	CurrMove       lang.Optional[chess.Move]
	CurrMoveNumber lang.Optional[int]
	// HashFull is the transposition table fill in permill.
	HashFull lang.Optional[int]
	// TBHits is the number of endgame tablebase probes that hit.
	TBHits lang.Optional[int64]
	// CPULoad is the engine CPU usage in permill.
	CPULoad lang.Optional[int]
	// EBF is the effective branching factor.
	EBF lang.Optional[float64]
	// String is free-form text from the engine.
	String lang.Optional[string]
	// Refutation maps a root move (in UCI notation) to the line refuting
	// it.
	Refutation lang.Optional[map[string][]chess.Move]
	// CurrLine maps a CPU number to the line it is currently searching.
	CurrLine lang.Optional[map[int][]chess.Move]
}

// merge overlays the set fields of o onto i.
func (i *Info) merge(o Info) {
	mergeField(&i.Depth, o.Depth)
	mergeField(&i.SelDepth, o.SelDepth)
	mergeField(&i.Time, o.Time)
	mergeField(&i.Nodes, o.Nodes)
	mergeField(&i.NPS, o.NPS)
	mergeField(&i.Score, o.Score)
	mergeField(&i.LowerBound, o.LowerBound)
	mergeField(&i.UpperBound, o.UpperBound)
	mergeField(&i.PV, o.PV)
	mergeField(&i.MultiPV, o.MultiPV)
	mergeField(&i.CurrMove, o.CurrMove)
	mergeField(&i.CurrMoveNumber, o.CurrMoveNumber)
	mergeField(&i.HashFull, o.HashFull)
	mergeField(&i.TBHits, o.TBHits)
	mergeField(&i.CPULoad, o.CPULoad)
	mergeField(&i.EBF, o.EBF)
	mergeField(&i.String, o.String)
	mergeField(&i.Refutation, o.Refutation)
	mergeField(&i.CurrLine, o.CurrLine)
}

func mergeField[T any](dst *lang.Optional[T], src lang.Optional[T]) {
	if v, ok := src.V(); ok {
		*dst = lang.Some(v)
	}
}
