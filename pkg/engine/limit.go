package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/seekerror/stdlib/pkg/lang"
)

// Limit holds search termination constraints. Unset fields do not constrain
// the search; the zero value leaves the search open-ended. Time quantities
// are durations; the drivers convert to protocol units on the wire.
type Limit struct {
	// Time is a fixed budget for this search.
	Time lang.Optional[time.Duration]
	// Depth limits the search to the given ply depth.
	Depth lang.Optional[int]
	// Nodes limits the number of searched nodes.
	Nodes lang.Optional[int64]
	// Mate searches for a mate in the given number of moves.
	Mate lang.Optional[int]
	// WhiteClock and BlackClock are the remaining clock times.
	WhiteClock, BlackClock lang.Optional[time.Duration]
	// WhiteInc and BlackInc are the per-move clock increments.
	WhiteInc, BlackInc lang.Optional[time.Duration]
	// RemainingMoves is the number of moves to the next time control.
	RemainingMoves lang.Optional[int]
}

func (l Limit) String() string {
	var ret []string
	if v, ok := l.Time.V(); ok {
		ret = append(ret, fmt.Sprintf("time=%v", v))
	}
	if v, ok := l.Depth.V(); ok {
		ret = append(ret, fmt.Sprintf("depth=%v", v))
	}
	if v, ok := l.Nodes.V(); ok {
		ret = append(ret, fmt.Sprintf("nodes=%v", v))
	}
	if v, ok := l.Mate.V(); ok {
		ret = append(ret, fmt.Sprintf("mate=%v", v))
	}
	if v, ok := l.WhiteClock.V(); ok {
		ret = append(ret, fmt.Sprintf("wclock=%v", v))
	}
	if v, ok := l.BlackClock.V(); ok {
		ret = append(ret, fmt.Sprintf("bclock=%v", v))
	}
	if v, ok := l.WhiteInc.V(); ok {
		ret = append(ret, fmt.Sprintf("winc=%v", v))
	}
	if v, ok := l.BlackInc.V(); ok {
		ret = append(ret, fmt.Sprintf("binc=%v", v))
	}
	if v, ok := l.RemainingMoves.V(); ok {
		ret = append(ret, fmt.Sprintf("moves=%v", v))
	}
	return fmt.Sprintf("[%v]", strings.Join(ret, ", "))
}

// isSet reports whether an optional holds a value.
func isSet[T any](o lang.Optional[T]) bool {
	_, ok := o.V()
	return ok
}
