// outpost analyses chess positions with an external engine, driven over the
// UCI or XBoard protocol.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/herohde/outpost/pkg/chess"
	"github.com/herohde/outpost/pkg/engine"
	"github.com/seekerror/build"
	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/lang"
	"gopkg.in/yaml.v3"
)

var version = build.NewVersion(0, 1, 0)

var (
	enginePath = flag.String("engine", "", "Engine executable")
	engineArgs = flag.String("args", "", "Engine arguments, space-separated")
	roster     = flag.String("roster", "", "YAML engine roster file")
	use        = flag.String("use", "", "Named engine from the roster")
	xboard     = flag.Bool("xboard", false, "Drive the engine over XBoard (CECP) instead of UCI")
	depth      = flag.Int("depth", 0, "Search depth limit (zero for none)")
	movetime   = flag.Duration("movetime", 10*time.Second, "Search time per position")
	multipv    = flag.Int("multipv", 1, "Number of principal variations (UCI only)")
	verbose    = flag.Bool("version", false, "Print version and exit")
)

// rosterFile is the YAML roster format:
//
//	engines:
//	  - name: stockfish
//	    command: /usr/bin/stockfish
//	    args: []
//	    options:
//	      Hash: 128
type rosterFile struct {
	Engines []engineSpec `yaml:"engines"`
}

type engineSpec struct {
	Name    string         `yaml:"name"`
	Command string         `yaml:"command"`
	Args    []string       `yaml:"args"`
	Options map[string]any `yaml:"options"`
}

func init() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `usage: outpost [options] [FEN ...]

OUTPOST analyses chess positions with an external engine. Positions are given
as FEN arguments, or read from stdin one per line.
Options:
`)
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	ctx := context.Background()

	if *verbose {
		fmt.Printf("outpost %v\n", version)
		return
	}

	spec, err := resolveEngine()
	if err != nil {
		flag.Usage()
		logw.Exitf(ctx, "No engine: %v", err)
	}

	launch := engine.LaunchUCI
	if *xboard {
		launch = engine.LaunchXBoard
	}
	s, err := launch(ctx, spec.Command, spec.Args...)
	if err != nil {
		logw.Exitf(ctx, "Failed to start %v: %v", spec.Command, err)
	}
	defer func() {
		quitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.Quit(quitCtx); err != nil {
			s.Close()
		}
	}()

	if len(spec.Options) > 0 {
		if err := s.Configure(ctx, spec.Options); err != nil {
			logw.Exitf(ctx, "Failed to configure engine: %v", err)
		}
	}

	logw.Infof(ctx, "Analysing with %v", s.ID()["name"])

	limit := engine.Limit{Time: lang.Some(*movetime)}
	if *depth > 0 {
		limit.Depth = lang.Some(*depth)
	}

	var opts []engine.SearchOption
	opts = append(opts, engine.WithGame(uuid.NewString()))
	if *multipv > 1 {
		opts = append(opts, engine.WithMultiPV(*multipv))
	}

	for _, fen := range positions() {
		lines, err := s.Analyse(ctx, chess.NewPlainBoard(fen), limit, opts...)
		if err != nil {
			logw.Exitf(ctx, "Analysis of %v failed: %v", fen, err)
		}
		report(fen, lines)
	}
}

func resolveEngine() (engineSpec, error) {
	if *enginePath != "" {
		return engineSpec{Command: *enginePath, Args: strings.Fields(*engineArgs)}, nil
	}
	if *roster == "" {
		return engineSpec{}, fmt.Errorf("-engine or -roster required")
	}

	data, err := os.ReadFile(*roster)
	if err != nil {
		return engineSpec{}, err
	}
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return engineSpec{}, fmt.Errorf("invalid roster %v: %w", *roster, err)
	}
	if len(file.Engines) == 0 {
		return engineSpec{}, fmt.Errorf("empty roster: %v", *roster)
	}
	if *use == "" {
		return file.Engines[0], nil
	}
	for _, spec := range file.Engines {
		if spec.Name == *use {
			return spec, nil
		}
	}
	return engineSpec{}, fmt.Errorf("engine %v not in roster %v", *use, *roster)
}

func positions() []string {
	if args := flag.Args(); len(args) > 0 {
		return args
	}

	var ret []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			ret = append(ret, line)
		}
	}
	return ret
}

func report(fen string, lines []engine.Info) {
	fmt.Printf("%v\n", fen)
	for i, info := range lines {
		score := "?"
		if s, ok := info.Score.V(); ok {
			score = s.White().String()
		}
		depth := 0
		if d, ok := info.Depth.V(); ok {
			depth = d
		}
		var moves []string
		if pv, ok := info.PV.V(); ok {
			for _, m := range pv {
				moves = append(moves, m.UCI())
			}
		}
		fmt.Printf(" %2d. %v\tdepth=%v\tpv %v\n", i+1, score, depth, strings.Join(moves, " "))
	}
}
