// livechess-play lets a DGT EBoard via LiveChess play against an external
// UCI engine. Engine moves are announced in the log; the human executes them
// on the physical board for both sides.
package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/herohde/livechess-go/pkg/livechess"
	"github.com/herohde/outpost/pkg/chess"
	"github.com/herohde/outpost/pkg/engine"
	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/lang"
)

var (
	serial     = flag.String("serial", "auto", "Board selection by serial number (default: auto)")
	flip       = flag.Bool("flip", false, "Flip board")
	enginePath = flag.String("engine", "", "Engine executable")
	engineArgs = flag.String("args", "", "Engine arguments, space-separated")
	movetime   = flag.Duration("movetime", 5*time.Second, "Engine time per move")
	white      = flag.Bool("white", false, "Engine plays white (default: black)")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	if *enginePath == "" {
		flag.Usage()
		logw.Exitf(ctx, "No engine given")
	}

	id := livechess.EBoardSerial(*serial)
	if id == "auto" {
		auto, err := livechess.AutoDetect(ctx, livechess.DefaultClient)
		if err != nil {
			logw.Exitf(ctx, "Failed to autodetect board: %v", err)
		}
		id = auto
	}

	client, events, err := livechess.NewFeed(ctx, id)
	if err != nil {
		logw.Exitf(ctx, "Feed for %v failed: %v", id, err)
	}
	if *flip {
		if err := client.Flip(ctx, true); err != nil {
			logw.Exitf(ctx, "Flip board %v failed: %v", id, err)
		}
	}
	if err := client.Setup(ctx, chess.StartingFEN); err != nil {
		logw.Exitf(ctx, "Setup board %v failed: %v", id, err)
	}

	s, err := engine.LaunchUCI(ctx, *enginePath, strings.Fields(*engineArgs)...)
	if err != nil {
		logw.Exitf(ctx, "Failed to start engine: %v", err)
	}
	defer s.Close()

	logw.Infof(ctx, "Playing %v against %v", id, s.ID()["name"])

	engineColor := chess.Black
	if *white {
		engineColor = chess.White
	}
	game := uuid.NewString()
	limit := engine.Limit{Time: lang.Some(*movetime)}

	played := -1
	for event := range events {
		if len(event.San) == played {
			continue // already answered this position
		}

		board := chess.NewPlainBoard("")
		for _, san := range event.San {
			if _, err := board.PushXBoard(san); err != nil {
				logw.Errorf(ctx, "Invalid move %v from board feed: %v", san, err)
				return
			}
		}
		if board.Turn() != engineColor {
			continue
		}

		res, err := s.Play(ctx, board, limit, engine.WithGame(game))
		if err != nil {
			logw.Exitf(ctx, "Engine failed to move: %v", err)
		}
		if res.Move == nil {
			logw.Infof(ctx, "Game over")
			return
		}

		played = len(event.San)
		logw.Infof(ctx, "Engine plays %v. Execute it on the board.", res.Move.UCI())
		if res.DrawOffered {
			logw.Infof(ctx, "Engine offers a draw")
		}
	}
}
