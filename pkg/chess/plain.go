package chess

import (
	"fmt"
	"regexp"
	"strings"
)

// uciMove matches coordinate notation with an optional promotion piece, plus
// the UCI null move.
var uciMove = regexp.MustCompile(`^([a-h][1-8][a-h][1-8][nbrqk]?|0000|@@@@)$`)

// PlainMove is a move held as its textual form.
type PlainMove string

func (m PlainMove) UCI() string {
	return string(m)
}

// PlainBoard is a minimal Board for hosts without a full rules engine. It
// tracks a root FEN and a move stack, performing no legality checking:
// PushUCI and ParseUCI accept any move in coordinate syntax, and PushXBoard
// accepts any non-empty token. Since positions
// cannot be recomputed without move semantics, Copy never flattens the stack
// and FEN always returns the root position.
type PlainBoard struct {
	fen      string
	chess960 bool
	stack    []Move
}

// NewPlainBoard returns a board rooted at the given FEN, or the standard
// starting position if empty.
func NewPlainBoard(fen string) *PlainBoard {
	if fen == "" {
		fen = StartingFEN
	}
	return &PlainBoard{fen: fen}
}

// SetChess960 marks the board as using Chess960 castling rules.
func (b *PlainBoard) SetChess960(on bool) {
	b.chess960 = on
}

func (b *PlainBoard) Copy(withStack bool) Board {
	ret := &PlainBoard{fen: b.fen, chess960: b.chess960}
	ret.stack = append([]Move(nil), b.stack...)
	return ret
}

func (b *PlainBoard) Root() Board {
	return &PlainBoard{fen: b.fen, chess960: b.chess960}
}

func (b *PlainBoard) FEN() string {
	return b.fen
}

func (b *PlainBoard) ShredderFEN() string {
	return b.fen
}

func (b *PlainBoard) Turn() Color {
	turn := White
	if parts := strings.Fields(b.fen); len(parts) > 1 && parts[1] == "b" {
		turn = Black
	}
	if len(b.stack)%2 == 1 {
		return turn.Other()
	}
	return turn
}

func (b *PlainBoard) Chess960() bool {
	return b.chess960
}

func (b *PlainBoard) MoveStack() []Move {
	return append([]Move(nil), b.stack...)
}

func (b *PlainBoard) Push(m Move) {
	b.stack = append(b.stack, m)
}

func (b *PlainBoard) Pop() (Move, bool) {
	if len(b.stack) == 0 {
		return nil, false
	}
	m := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return m, true
}

func (b *PlainBoard) PushUCI(s string) (Move, error) {
	m, err := b.ParseUCI(s)
	if err != nil {
		return nil, err
	}
	b.Push(m)
	return m, nil
}

func (b *PlainBoard) PushXBoard(s string) (Move, error) {
	if s == "" {
		return nil, fmt.Errorf("empty move")
	}
	m := PlainMove(s)
	b.Push(m)
	return m, nil
}

func (b *PlainBoard) ParseUCI(s string) (Move, error) {
	if !uciMove.MatchString(s) {
		return nil, fmt.Errorf("invalid move: %q", s)
	}
	return PlainMove(s), nil
}

func (b *PlainBoard) XBoard(m Move) string {
	return m.UCI()
}

func (b *PlainBoard) UCIVariant() string {
	return "chess"
}

func (b *PlainBoard) XBoardVariant() string {
	return "normal"
}

func (b *PlainBoard) String() string {
	if len(b.stack) == 0 {
		return b.fen
	}
	var moves []string
	for _, m := range b.stack {
		moves = append(moves, m.UCI())
	}
	return fmt.Sprintf("%v moves %v", b.fen, strings.Join(moves, " "))
}
