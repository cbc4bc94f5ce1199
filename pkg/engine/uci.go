package engine

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/herohde/outpost/pkg/chess"
	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/lang"
)

// uciDriver implements the UCI dialect.
type uciDriver struct {
	s *Session

	options *OptionMap
	config  *caseMap[any]
	id      map[string]string

	// board is the position most recently sent, kept in lock-step with
	// the engine.
	board chess.Board
	game  string
}

func newUCIDriver(s *Session) *uciDriver {
	return &uciDriver{
		s:       s,
		options: NewOptionMap(true),
		config:  newCaseMap[any](true),
		id:      map[string]string{},
	}
}

func (d *uciDriver) protocolName() string {
	return "uci"
}

func (d *uciDriver) identity() map[string]string {
	return d.id
}

func (d *uciDriver) declaredOptions() *OptionMap {
	return d.options
}

func (d *uciDriver) debug(on bool) error {
	if on {
		d.s.send("debug on")
	} else {
		d.s.send("debug off")
	}
	return nil
}

func (d *uciDriver) terminate() {
	d.s.send("quit")
}

func (d *uciDriver) initialize() (*command, error) {
	cmd := newCommand("uci")

	cmd.start = func() error {
		d.s.send("uci")
		return nil
	}
	cmd.line = func(line string) {
		switch {
		case line == "uciok":
			cmd.setFinished()
		case strings.HasPrefix(line, "option "):
			d.declareOption(strings.TrimPrefix(line, "option "))
		case strings.HasPrefix(line, "id "):
			if key, value, ok := strings.Cut(strings.TrimPrefix(line, "id "), " "); ok {
				d.id[key] = value
			}
		}
	}
	return cmd, nil
}

// declareOption parses an "option ..." declaration. Tokens between the field
// markers accumulate with space separation, so names with spaces round-trip.
func (d *uciDriver) declareOption(arg string) {
	var name, typ, def []string
	var min, max lang.Optional[int]
	minSeen, maxSeen := false, false
	var currentVar []string
	varSeen := false
	var vars []string

	current := ""
	for _, token := range strings.Split(arg, " ") {
		switch {
		case token == "name" && len(name) == 0:
			current = "name"
		case token == "type" && len(typ) == 0:
			current = "type"
		case token == "default" && len(def) == 0:
			current = "default"
		case token == "min" && !minSeen:
			current = "min"
			minSeen = true
		case token == "max" && !maxSeen:
			current = "max"
			maxSeen = true
		case token == "var":
			current = "var"
			if varSeen {
				vars = append(vars, strings.Join(currentVar, " "))
			}
			varSeen = true
			currentVar = nil
		default:
			switch current {
			case "name":
				name = append(name, token)
			case "type":
				typ = append(typ, token)
			case "default":
				def = append(def, token)
			case "var":
				currentVar = append(currentVar, token)
			case "min":
				if n, err := strconv.Atoi(token); err != nil {
					logw.Errorf(d.s.ctx, "uci: failed to parse option min: %q", arg)
				} else {
					min = lang.Some(n)
				}
			case "max":
				if n, err := strconv.Atoi(token); err != nil {
					logw.Errorf(d.s.ctx, "uci: failed to parse option max: %q", arg)
				} else {
					max = lang.Some(n)
				}
			}
		}
	}
	if varSeen {
		vars = append(vars, strings.Join(currentVar, " "))
	}

	opt := Option{
		Name: strings.Join(name, " "),
		Type: OptionType(strings.Join(typ, " ")),
		Min:  min,
		Max:  max,
		Var:  vars,
	}
	if def, err := opt.Parse(strings.Join(def, " ")); err != nil {
		logw.Warningf(d.s.ctx, "uci: invalid default for option %v: %v", opt.Name, err)
	} else {
		opt.Default = def
	}
	d.options.Set(opt)
}

func (d *uciDriver) ping() (*command, error) {
	cmd := newCommand("isready")

	cmd.start = func() error {
		d.s.send("isready")
		return nil
	}
	cmd.line = func(line string) {
		if line == "readyok" {
			cmd.setFinished()
		} else {
			logw.Warningf(d.s.ctx, "uci: unexpected engine output: %v", line)
		}
	}
	return cmd, nil
}

func (d *uciDriver) configure(options map[string]any) (*command, error) {
	cmd := newCommand("configure")

	cmd.start = func() error {
		if err := d.applyConfig(options); err != nil {
			return err
		}
		cmd.setFinished()
		return nil
	}
	return cmd, nil
}

// getOption returns the effective value of an option: the applied
// configuration, the engine default, or the given fallback.
func (d *uciDriver) getOption(name string, fallback any) any {
	if v, ok := d.config.Get(name); ok {
		return v
	}
	if opt, ok := d.options.Get(name); ok && opt.Default != nil {
		return opt.Default
	}
	return fallback
}

// setOption emits a setoption line if the value differs from the effective
// one, and records it in the configuration.
func (d *uciDriver) setOption(name string, value any) error {
	opt, ok := d.options.Get(name)
	if !ok {
		return errorf("engine does not support option %v (available options: %v)", name, strings.Join(d.options.Names(), ", "))
	}
	v, err := opt.Parse(value)
	if err != nil {
		return err
	}

	if v != nil && v == d.getOption(name, nil) {
		return nil
	}

	builder := []string{"setoption name", name}
	switch v {
	case nil:
		// Buttons take no value.
	case false:
		builder = append(builder, "value false")
	case true:
		builder = append(builder, "value true")
	default:
		builder = append(builder, "value", toString(v))
	}

	d.s.send(strings.Join(builder, " "))
	d.config.Set(name, v)
	return nil
}

// applyConfig applies caller options, rejecting the managed set.
func (d *uciDriver) applyConfig(options map[string]any) error {
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if (Option{Name: name}).IsManagedUCI() {
			return errorf("cannot set %v which is automatically managed", name)
		}
		if err := d.setOption(name, options[name]); err != nil {
			return err
		}
	}
	return nil
}

// restore re-applies the given configuration snapshot and resets options
// outside it to their defaults, excluding the given managed names.
func (d *uciDriver) restore(previous *caseMap[any], exclude ...string) {
	for _, name := range previous.Names() {
		v, _ := previous.Get(name)
		if err := d.setOption(name, v); err != nil {
			logw.Errorf(d.s.ctx, "uci: failed to restore option %v: %v", name, err)
		}
	}
	for _, name := range d.options.Names() {
		opt, _ := d.options.Get(name)
		if opt.Default == nil || previous.Contains(name) || contains(exclude, name) {
			continue
		}
		if err := d.setOption(name, opt.Default); err != nil {
			logw.Errorf(d.s.ctx, "uci: failed to reset option %v: %v", name, err)
		}
	}
}

// position frames the given board for the engine, selecting UCI_Variant and
// UCI_Chess960 when they differ from the effective values.
func (d *uciDriver) position(b chess.Board) error {
	variant := b.UCIVariant()
	if variant != toString(d.getOption("UCI_Variant", "chess")) {
		if !d.options.Contains("UCI_Variant") {
			return errorf("engine does not support UCI_Variant")
		}
		if err := d.setOption("UCI_Variant", variant); err != nil {
			return err
		}
	}
	if b.Chess960() != asBool(d.getOption("UCI_Chess960", false)) {
		if !d.options.Contains("UCI_Chess960") {
			return errorf("engine does not support UCI_Chess960")
		}
		if err := d.setOption("UCI_Chess960", b.Chess960()); err != nil {
			return err
		}
	}

	builder := []string{"position"}
	root := b.Root()
	fen := root.FEN()
	if variant == "chess" && fen == chess.StartingFEN {
		builder = append(builder, "startpos")
	} else if b.Chess960() {
		builder = append(builder, "fen", root.ShredderFEN())
	} else {
		builder = append(builder, "fen", fen)
	}

	if stack := b.MoveStack(); len(stack) > 0 {
		builder = append(builder, "moves")
		for _, m := range stack {
			builder = append(builder, m.UCI())
		}
	}

	d.s.send(strings.Join(builder, " "))
	d.board = b.Copy(false)
	return nil
}

// goSearch emits the go line for the given limit.
func (d *uciDriver) goSearch(limit *Limit, rootMoves []chess.Move, ponder, infinite bool) {
	builder := []string{"go"}
	if ponder {
		builder = append(builder, "ponder")
	}

	var l Limit
	if limit != nil {
		l = *limit
	}
	if v, ok := l.WhiteClock.V(); ok {
		builder = append(builder, "wtime", millis(v))
	}
	if v, ok := l.BlackClock.V(); ok {
		builder = append(builder, "btime", millis(v))
	}
	if v, ok := l.WhiteInc.V(); ok {
		builder = append(builder, "winc", millis(v))
	}
	if v, ok := l.BlackInc.V(); ok {
		builder = append(builder, "binc", millis(v))
	}
	if v, ok := l.RemainingMoves.V(); ok && v > 0 {
		builder = append(builder, "movestogo", strconv.Itoa(v))
	}
	if v, ok := l.Depth.V(); ok {
		builder = append(builder, "depth", strconv.Itoa(v))
	}
	if v, ok := l.Nodes.V(); ok {
		builder = append(builder, "nodes", strconv.FormatInt(v, 10))
	}
	if v, ok := l.Mate.V(); ok {
		builder = append(builder, "mate", strconv.Itoa(v))
	}
	if v, ok := l.Time.V(); ok {
		builder = append(builder, "movetime", millis(v))
	}
	if infinite {
		builder = append(builder, "infinite")
	}
	if len(rootMoves) > 0 {
		builder = append(builder, "searchmoves")
		for _, m := range rootMoves {
			builder = append(builder, m.UCI())
		}
	}

	d.s.send(strings.Join(builder, " "))
}

func (d *uciDriver) play(req *searchRequest) (*command, error) {
	d.s.mu.Lock()
	previous := d.config.Copy()
	d.s.mu.Unlock()

	cmd := newCommand("play")
	var latest Info
	pondering := false

	end := func() {
		d.restore(previous, "UCI_AnalyseMode", "Ponder")
		cmd.setFinished()
	}

	cmd.start = func() error {
		if d.options.Contains("UCI_AnalyseMode") {
			if err := d.setOption("UCI_AnalyseMode", false); err != nil {
				return err
			}
		}
		if d.options.Contains("Ponder") {
			if err := d.setOption("Ponder", req.ponder); err != nil {
				return err
			}
		}
		if opt, ok := d.options.Get("MultiPV"); ok {
			if err := d.setOption("MultiPV", opt.Default); err != nil {
				return err
			}
		}
		if err := d.applyConfig(req.options); err != nil {
			return err
		}

		if d.game != req.game {
			d.s.send("ucinewgame")
		}
		d.game = req.game

		if err := d.position(req.board); err != nil {
			return err
		}
		d.goSearch(req.limit, req.rootMoves, false, false)
		return nil
	}
	cmd.line = func(line string) {
		switch {
		case strings.HasPrefix(line, "info "):
			if !pondering {
				latest.merge(parseUCIInfo(d.s.ctx, strings.TrimPrefix(line, "info "), d.board, req.info))
			}
		case strings.HasPrefix(line, "bestmove "):
			d.bestmove(cmd, strings.TrimPrefix(line, "bestmove "), req, &pondering, &latest, end)
		default:
			logw.Warningf(d.s.ctx, "uci: unexpected engine output: %v", line)
		}
	}
	cmd.cancel = func() {
		d.s.send("stop")
	}
	return cmd, nil
}

func (d *uciDriver) bestmove(cmd *command, arg string, req *searchRequest, pondering *bool, latest *Info, end func()) {
	if *pondering {
		// End of the ponder search.
		*pondering = false
	} else if !cmd.result.isCancelled() {
		tokens := strings.Fields(arg)

		var best chess.Move
		if len(tokens) > 0 && tokens[0] != "(none)" {
			m, err := d.board.ParseUCI(tokens[0])
			if err != nil {
				cmd.result.fail(errorf("engine sent invalid best move: %v", err))
				end()
				return
			}
			best = m
		}

		var ponderMove chess.Move
		if best != nil && len(tokens) >= 3 && tokens[1] == "ponder" && tokens[2] != "(none)" {
			d.board.Push(best)
			if m, err := d.board.PushUCI(tokens[2]); err != nil {
				logw.Warningf(d.s.ctx, "uci: engine sent invalid ponder move %q: %v", tokens[2], err)
			} else {
				ponderMove = m
			}
		}

		cmd.result.resolve(&PlayResult{Move: best, Ponder: ponderMove, Info: *latest})

		if req.ponder && ponderMove != nil {
			*pondering = true
			if err := d.position(d.board); err != nil {
				cmd.handleError(d.s.ctx, err)
				return
			}
			d.goSearch(req.limit, nil, true, false)
		}
	}

	if !*pondering {
		end()
	}
}

func (d *uciDriver) analysis(req *searchRequest) (*command, error) {
	d.s.mu.Lock()
	previous := d.config.Copy()
	d.s.mu.Unlock()

	cmd := newCommand("analysis")
	cmd.cancel = func() {
		d.s.send("stop")
	}

	analysis := newAnalysis(func() {
		cmd.cancel()
	})

	cmd.start = func() error {
		if d.options.Contains("UCI_AnalyseMode") {
			if err := d.setOption("UCI_AnalyseMode", true); err != nil {
				return err
			}
		}
		multipv, requested := req.multipv.V()
		if d.options.Contains("MultiPV") || (requested && multipv > 1) {
			if !requested {
				multipv = 1
			}
			if err := d.setOption("MultiPV", multipv); err != nil {
				return err
			}
		}
		if err := d.applyConfig(req.options); err != nil {
			return err
		}

		if d.game != req.game {
			d.s.send("ucinewgame")
		}
		d.game = req.game

		if err := d.position(req.board); err != nil {
			return err
		}
		d.goSearch(req.limit, req.rootMoves, false, req.limit == nil)

		cmd.result.resolve(analysis)
		return nil
	}
	cmd.line = func(line string) {
		switch {
		case strings.HasPrefix(line, "info "):
			analysis.post(parseUCIInfo(d.s.ctx, strings.TrimPrefix(line, "info "), d.board, req.info))
		case strings.HasPrefix(line, "bestmove "):
			d.restore(previous, "UCI_AnalyseMode", "Ponder", "MultiPV")
			analysis.setFinished()
			cmd.setFinished()
		default:
			logw.Warningf(d.s.ctx, "uci: unexpected engine output: %v", line)
		}
	}
	cmd.terminated = func(err error) {
		logw.Debugf(d.s.ctx, "uci: closing analysis, engine terminated: %v", err)
		analysis.setError(err)
	}
	return cmd, nil
}

// uciInfoKeywords are the parameter markers of an info line. Each keyword
// terminates the previous variable-length parameter.
var uciInfoKeywords = []string{
	"depth", "seldepth", "time", "nodes", "pv", "multipv", "score", "currmove",
	"currmovenumber", "hashfull", "nps", "tbhits", "cpuload", "refutation",
	"currline", "ebf", "string",
}

// parseUCIInfo converts one info line (without the "info " prefix) into a
// typed record, restricted by the selector. Unparseable fields are logged
// and omitted.
func parseUCIInfo(ctx context.Context, arg string, root chess.Board, selector InfoMask) Info {
	var info Info
	if selector == InfoNone {
		return info
	}

	var board chess.Board
	var pv []chess.Move
	pvSeen := false
	scoreKind := ""
	refutationKey := ""
	refutationSeen := false
	var refutedBy []chess.Move
	currlineCPU := 0
	currlineSeen := false
	var currlineMoves []chess.Move
	var stringTokens []string

	endOfParameter := func() {
		// Variable-length parameters are committed when the next marker
		// starts, or at end of line.
		if pvSeen {
			info.PV = lang.Some(pv)
		}
		if refutationSeen {
			m := map[string][]chess.Move{}
			if v, ok := info.Refutation.V(); ok {
				m = v
			}
			m[refutationKey] = refutedBy
			info.Refutation = lang.Some(m)
		}
		if currlineSeen {
			m := map[int][]chess.Move{}
			if v, ok := info.CurrLine.V(); ok {
				m = v
			}
			m[currlineCPU] = currlineMoves
			info.CurrLine = lang.Some(m)
		}
	}

	current := ""
	for _, token := range strings.Split(arg, " ") {
		if current == "string" {
			stringTokens = append(stringTokens, token)
			continue
		}
		if token == "" {
			continue
		}

		if contains(uciInfoKeywords, token) {
			endOfParameter()
			current = token

			board = nil
			pv = nil
			pvSeen = false
			scoreKind = ""
			refutationKey = ""
			refutationSeen = false
			refutedBy = nil
			currlineCPU = 0
			currlineSeen = false
			currlineMoves = nil

			switch {
			case token == "pv" && selector&InfoPV != 0:
				pv = []chess.Move{}
				pvSeen = true
				board = root.Copy(false)
			case token == "refutation" && selector&InfoRefutation != 0:
				board = root.Copy(false)
			case token == "currline" && selector&InfoCurrLine != 0:
				board = root.Copy(false)
			}
			continue
		}

		switch current {
		case "depth", "seldepth", "multipv", "currmovenumber", "hashfull", "cpuload":
			n, err := strconv.Atoi(token)
			if err != nil {
				logw.Errorf(ctx, "uci: failed to parse %v from info: %q", current, arg)
				continue
			}
			switch current {
			case "depth":
				info.Depth = lang.Some(n)
			case "seldepth":
				info.SelDepth = lang.Some(n)
			case "multipv":
				info.MultiPV = lang.Some(n)
			case "currmovenumber":
				info.CurrMoveNumber = lang.Some(n)
			case "hashfull":
				info.HashFull = lang.Some(n)
			case "cpuload":
				info.CPULoad = lang.Some(n)
			}

		case "nodes", "nps", "tbhits":
			n, err := strconv.ParseInt(token, 10, 64)
			if err != nil {
				logw.Errorf(ctx, "uci: failed to parse %v from info: %q", current, arg)
				continue
			}
			switch current {
			case "nodes":
				info.Nodes = lang.Some(n)
			case "nps":
				info.NPS = lang.Some(n)
			case "tbhits":
				info.TBHits = lang.Some(n)
			}

		case "time":
			ms, err := strconv.Atoi(token)
			if err != nil {
				logw.Errorf(ctx, "uci: failed to parse time from info: %q", arg)
				continue
			}
			info.Time = lang.Some(time.Duration(ms) * time.Millisecond)

		case "ebf":
			f, err := strconv.ParseFloat(token, 64)
			if err != nil {
				logw.Errorf(ctx, "uci: failed to parse ebf from info: %q", arg)
				continue
			}
			info.EBF = lang.Some(f)

		case "pv":
			if board == nil {
				continue
			}
			m, err := board.PushUCI(token)
			if err != nil {
				logw.Errorf(ctx, "uci: failed to parse pv from info: %q, root: %v", arg, root.FEN())
				continue
			}
			pv = append(pv, m)

		case "score":
			if selector&InfoScore == 0 {
				continue
			}
			switch token {
			case "cp", "mate":
				scoreKind = token
			case "lowerbound":
				info.LowerBound = lang.Some(true)
			case "upperbound":
				info.UpperBound = lang.Some(true)
			default:
				n, err := strconv.Atoi(token)
				if err != nil {
					logw.Errorf(ctx, "uci: failed to parse score %v from info: %q", scoreKind, arg)
					continue
				}
				switch scoreKind {
				case "cp":
					info.Score = lang.Some(PovScore{Relative: Cp(n), Turn: root.Turn()})
				case "mate":
					info.Score = lang.Some(PovScore{Relative: Mate(n), Turn: root.Turn()})
				}
			}

		case "currmove":
			m, err := root.ParseUCI(token)
			if err != nil {
				logw.Errorf(ctx, "uci: failed to parse currmove from info: %q", arg)
				continue
			}
			info.CurrMove = lang.Some(m)

		case "refutation":
			if board == nil {
				continue
			}
			m, err := board.PushUCI(token)
			if err != nil {
				logw.Errorf(ctx, "uci: failed to parse refutation from info: %q, root: %v", arg, root.FEN())
				continue
			}
			if !refutationSeen {
				refutationSeen = true
				refutationKey = m.UCI()
			} else {
				refutedBy = append(refutedBy, m)
			}

		case "currline":
			if board == nil {
				continue
			}
			if !currlineSeen {
				n, err := strconv.Atoi(token)
				if err != nil {
					logw.Errorf(ctx, "uci: failed to parse currline from info: %q", arg)
					continue
				}
				currlineSeen = true
				currlineCPU = n
			} else {
				m, err := board.PushUCI(token)
				if err != nil {
					logw.Errorf(ctx, "uci: failed to parse currline from info: %q, root: %v", arg, root.FEN())
					continue
				}
				currlineMoves = append(currlineMoves, m)
			}
		}
	}
	endOfParameter()

	if len(stringTokens) > 0 {
		info.String = lang.Some(strings.Join(stringTokens, " "))
	}
	return info
}

func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
