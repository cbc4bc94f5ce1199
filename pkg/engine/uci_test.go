package engine

import (
	"context"
	"testing"
	"time"

	"github.com/herohde/outpost/pkg/chess"
	"github.com/seekerror/stdlib/pkg/lang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUCIPlay runs a full play exchange: position framing, info capture and
// the bestmove/ponder reply.
func TestUCIPlay(t *testing.T) {
	ctx := context.Background()
	s, m := newTestUCISession(t)

	board := chess.NewPlainBoard("")
	_, err := board.PushUCI("e2e4")
	require.NoError(t, err)

	m.expect("ucinewgame")
	m.expect("position startpos moves e2e4")
	m.expect("go movetime 1000",
		"info depth 10 score cp 34 pv e7e5 g1f3",
		"bestmove e7e5 ponder g1f3",
	)

	res, err := s.Play(ctx, board, Limit{Time: lang.Some(time.Second)}, WithGame("x"), WithInfo(InfoAll))
	require.NoError(t, err)
	m.assertDone()

	require.NotNil(t, res.Move)
	assert.Equal(t, "e7e5", res.Move.UCI())
	require.NotNil(t, res.Ponder)
	assert.Equal(t, "g1f3", res.Ponder.UCI())
	assert.False(t, res.DrawOffered)

	depth, ok := res.Info.Depth.V()
	require.True(t, ok)
	assert.Equal(t, 10, depth)

	score, ok := res.Info.Score.V()
	require.True(t, ok)
	assert.Equal(t, PovScore{Relative: Cp(34), Turn: chess.Black}, score)

	pv, ok := res.Info.PV.V()
	require.True(t, ok)
	require.Len(t, pv, 2)
	assert.Equal(t, "e7e5", pv[0].UCI())
	assert.Equal(t, "g1f3", pv[1].UCI())
}

// TestUCIPlayNoMove covers "bestmove (none)" on game-over positions: the
// request succeeds with a nil move.
func TestUCIPlayNoMove(t *testing.T) {
	ctx := context.Background()
	s, m := newTestUCISession(t)

	m.expect("position startpos")
	m.expect("go movetime 1000", "bestmove (none)")

	res, err := s.Play(ctx, chess.NewPlainBoard(""), Limit{Time: lang.Some(time.Second)})
	require.NoError(t, err)
	assert.Nil(t, res.Move)
	assert.Nil(t, res.Ponder)
	m.assertDone()
}

func TestUCIPlayInvalidBestMove(t *testing.T) {
	ctx := context.Background()
	s, m := newTestUCISession(t)

	m.expect("position startpos")
	m.expect("go movetime 1000", "bestmove garbage")

	_, err := s.Play(ctx, chess.NewPlainBoard(""), Limit{Time: lang.Some(time.Second)})
	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	assert.Contains(t, engineErr.Reason, "invalid best move")
	m.assertDone()
}

// TestUCIOptionRestoration applies a transient option for one search and
// expects the configured value to be restored afterwards.
func TestUCIOptionRestoration(t *testing.T) {
	ctx := context.Background()
	s, m := newTestUCISession(t,
		"option name Hash type spin default 16 min 1 max 1024",
	)

	m.expect("setoption name Hash value 256")
	require.NoError(t, s.Configure(ctx, map[string]any{"Hash": 256}))

	m.expect("setoption name Hash value 16")
	m.expect("position startpos")
	m.expect("go movetime 1000", "bestmove e2e4")
	m.expect("setoption name Hash value 256")

	res, err := s.Play(ctx, chess.NewPlainBoard(""), Limit{Time: lang.Some(time.Second)}, WithOptions(map[string]any{"Hash": 16}))
	require.NoError(t, err)
	require.NotNil(t, res.Move)
	assert.Equal(t, "e2e4", res.Move.UCI())
	m.assertDone()
}

// TestUCIPonderPipeline drives the ponder flow: after bestmove, the driver
// re-frames the position with the ponder line and keeps searching; the next
// request stops the ponder search and waits for its bestmove.
func TestUCIPonderPipeline(t *testing.T) {
	ctx := context.Background()
	s, m := newTestUCISession(t,
		"option name Ponder type check default false",
	)

	m.expect("setoption name Ponder value true")
	m.expect("position startpos")
	m.expect("go movetime 1000", "bestmove e2e4 ponder e7e5")
	m.expect("position startpos moves e2e4 e7e5")
	m.expect("go ponder movetime 1000")

	res, err := s.Play(ctx, chess.NewPlainBoard(""), Limit{Time: lang.Some(time.Second)}, WithPonder())
	require.NoError(t, err)
	require.NotNil(t, res.Move)
	assert.Equal(t, "e2e4", res.Move.UCI())
	require.NotNil(t, res.Ponder)
	assert.Equal(t, "e7e5", res.Ponder.UCI())
	require.Eventually(t, func() bool { return m.pending() == 0 }, time.Second, time.Millisecond)

	// A new request pre-empts the ponder search and fences on its bestmove.
	m.expect("stop", "bestmove e7e5")
	m.expect("setoption name Ponder value false")
	m.expect("position startpos")
	m.expect("go movetime 1000", "bestmove d2d4")
	m.expect("setoption name Ponder value true")

	res, err = s.Play(ctx, chess.NewPlainBoard(""), Limit{Time: lang.Some(time.Second)})
	require.NoError(t, err)
	require.NotNil(t, res.Move)
	assert.Equal(t, "d2d4", res.Move.UCI())
	m.assertDone()
}

// TestUCIAnalysisStop starts an infinite analysis, consumes the stream and
// stops it.
func TestUCIAnalysisStop(t *testing.T) {
	ctx := context.Background()
	s, m := newTestUCISession(t,
		"option name UCI_AnalyseMode type check default false",
		"option name MultiPV type spin default 1 min 1 max 500",
	)

	m.expect("setoption name UCI_AnalyseMode value true")
	m.expect("position startpos")
	m.expect("go infinite", "info depth 5 score cp 12 pv e2e4")

	a, err := s.Analysis(ctx, chess.NewPlainBoard(""))
	require.NoError(t, err)

	info, ok := a.Next(ctx)
	require.True(t, ok)
	depth, _ := info.Depth.V()
	assert.Equal(t, 5, depth)

	m.expect("stop", "bestmove e2e4")
	a.Stop()

	require.NoError(t, a.Wait(ctx))

	latest := a.Info()
	score, ok := latest.Score.V()
	require.True(t, ok)
	assert.Equal(t, Cp(12), score.Relative)
	m.assertDone()
}

// TestUCIAnalysisMultiPV merges info records per root-move rank.
func TestUCIAnalysisMultiPV(t *testing.T) {
	ctx := context.Background()
	s, m := newTestUCISession(t,
		"option name MultiPV type spin default 1 min 1 max 500",
	)

	m.expect("setoption name MultiPV value 2")
	m.expect("position startpos")
	m.expect("go movetime 1000",
		"info multipv 1 depth 8 score cp 30 pv e2e4",
		"info multipv 2 depth 8 score cp 22 pv d2d4",
		"bestmove e2e4",
	)

	lines, err := s.Analyse(ctx, chess.NewPlainBoard(""), Limit{Time: lang.Some(time.Second)}, WithMultiPV(2))
	require.NoError(t, err)
	require.Len(t, lines, 2)

	first, _ := lines[0].Score.V()
	second, _ := lines[1].Score.V()
	assert.Equal(t, Cp(30), first.Relative)
	assert.Equal(t, Cp(22), second.Relative)
	m.assertDone()
}

// TestUCIAnalyseFinite lets the engine terminate the analysis by itself.
func TestUCIAnalyseFinite(t *testing.T) {
	ctx := context.Background()
	s, m := newTestUCISession(t)

	m.expect("position startpos")
	m.expect("go depth 3",
		"info depth 1 score cp 10 pv e2e4",
		"info depth 3 score cp 17 pv e2e4 e7e5",
		"bestmove e2e4",
	)

	lines, err := s.Analyse(ctx, chess.NewPlainBoard(""), Limit{Depth: lang.Some(3)})
	require.NoError(t, err)
	require.Len(t, lines, 1)

	depth, _ := lines[0].Depth.V()
	assert.Equal(t, 3, depth)
	m.assertDone()
}

func TestUCIGoFraming(t *testing.T) {
	ctx := context.Background()
	s, m := newTestUCISession(t)

	board := chess.NewPlainBoard("")
	limit := Limit{
		WhiteClock:     lang.Some(60 * time.Second),
		BlackClock:     lang.Some(45 * time.Second),
		WhiteInc:       lang.Some(2 * time.Second),
		BlackInc:       lang.Some(2 * time.Second),
		RemainingMoves: lang.Some(40),
	}

	m.expect("position startpos")
	m.expect("go wtime 60000 btime 45000 winc 2000 binc 2000 movestogo 40", "bestmove e2e4")

	_, err := s.Play(ctx, board, limit)
	require.NoError(t, err)
	m.assertDone()
}

func TestParseUCIInfo(t *testing.T) {
	ctx := context.Background()
	root := chess.NewPlainBoard("")

	t.Run("roundtrip", func(t *testing.T) {
		info := parseUCIInfo(ctx, "depth 20 seldepth 31 time 12006 nodes 144541 nps 12041 score cp 305 hashfull 945 tbhits 0 multipv 1 pv e2e4 e7e5 g1f3", root, InfoAll)

		depth, _ := info.Depth.V()
		assert.Equal(t, 20, depth)
		seldepth, _ := info.SelDepth.V()
		assert.Equal(t, 31, seldepth)
		d, _ := info.Time.V()
		assert.Equal(t, 12006*time.Millisecond, d)
		nodes, _ := info.Nodes.V()
		assert.Equal(t, int64(144541), nodes)
		score, _ := info.Score.V()
		assert.Equal(t, PovScore{Relative: Cp(305), Turn: chess.White}, score)
		pv, _ := info.PV.V()
		require.Len(t, pv, 3)
		assert.Equal(t, "e2e4", pv[0].UCI())
		assert.Equal(t, "g1f3", pv[2].UCI())
	})

	t.Run("mate", func(t *testing.T) {
		info := parseUCIInfo(ctx, "depth 7 score mate 3 lowerbound", root, InfoAll)

		score, _ := info.Score.V()
		assert.Equal(t, Mate(3), score.Relative)
		lower, ok := info.LowerBound.V()
		assert.True(t, ok && lower)
		assert.False(t, isSet(info.UpperBound))
	})

	t.Run("string", func(t *testing.T) {
		info := parseUCIInfo(ctx, "string 7man tablebase hit: score cp 0", root, InfoAll)

		s, ok := info.String.V()
		require.True(t, ok)
		assert.Equal(t, "7man tablebase hit: score cp 0", s)
		assert.False(t, isSet(info.Score), "string consumes the remainder")
	})

	t.Run("refutation", func(t *testing.T) {
		info := parseUCIInfo(ctx, "refutation d1h5 g6h5", root, InfoAll)

		refutation, ok := info.Refutation.V()
		require.True(t, ok)
		require.Len(t, refutation, 1)
		require.Len(t, refutation["d1h5"], 1)
		assert.Equal(t, "g6h5", refutation["d1h5"][0].UCI())
	})

	t.Run("currline", func(t *testing.T) {
		info := parseUCIInfo(ctx, "currline 1 e2e4 e7e5", root, InfoAll)

		currline, ok := info.CurrLine.V()
		require.True(t, ok)
		require.Len(t, currline[1], 2)
	})

	t.Run("selector", func(t *testing.T) {
		info := parseUCIInfo(ctx, "depth 10 score cp 40 pv e2e4", root, InfoBasic)

		assert.True(t, isSet(info.Depth))
		assert.False(t, isSet(info.Score))
		assert.False(t, isSet(info.PV))
	})

	t.Run("malformed", func(t *testing.T) {
		info := parseUCIInfo(ctx, "depth x nodes 100 pv zzz e2e4", root, InfoAll)

		assert.False(t, isSet(info.Depth), "bad integer skipped")
		nodes, _ := info.Nodes.V()
		assert.Equal(t, int64(100), nodes)
		pv, ok := info.PV.V()
		require.True(t, ok)
		require.Len(t, pv, 1, "bad move skipped")
		assert.Equal(t, "e2e4", pv[0].UCI())
	})

	t.Run("ebf", func(t *testing.T) {
		info := parseUCIInfo(ctx, "ebf 1.87", root, InfoAll)

		ebf, ok := info.EBF.V()
		require.True(t, ok)
		assert.InDelta(t, 1.87, ebf, 1e-9)
	})
}
