package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/herohde/outpost/pkg/chess"
	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/lang"
	"go.uber.org/atomic"
)

// xboardMateScore is the centipawn band XBoard engines use to encode mate
// scores in post lines.
const xboardMateScore = 100000

// xboardDriver implements the XBoard (CECP) dialect, protocol version 2.
type xboardDriver struct {
	s *Session

	features map[string]any
	id       map[string]string
	options  *OptionMap
	config   *caseMap[any]

	board chess.Board
	game  string

	pings atomic.Uint32
}

func newXBoardDriver(s *Session) *xboardDriver {
	d := &xboardDriver{
		s:        s,
		features: map[string]any{},
		id:       map[string]string{},
		options:  NewOptionMap(false),
		config:   newCaseMap[any](false),
		board:    chess.NewPlainBoard(chess.StartingFEN),
	}
	// random and computer are driven by dedicated lines rather than the
	// option command, but configured like any other option.
	d.options.Set(Option{Name: "random", Type: OptionCheck, Default: false})
	d.options.Set(Option{Name: "computer", Type: OptionCheck, Default: false})
	return d
}

func (d *xboardDriver) protocolName() string {
	return "xboard"
}

func (d *xboardDriver) identity() map[string]string {
	return d.id
}

func (d *xboardDriver) declaredOptions() *OptionMap {
	return d.options
}

func (d *xboardDriver) debug(on bool) error {
	return errorf("xboard engine does not support debug mode")
}

func (d *xboardDriver) terminate() {
	d.s.send("quit")
}

func (d *xboardDriver) featureInt(key string) int {
	if v, ok := d.features[key]; ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return 0
}

// featureIntDefault is featureInt with an explicit value for undeclared
// features, for those CECP defaults to on.
func (d *xboardDriver) featureIntDefault(key string, def int) int {
	if v, ok := d.features[key]; ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return def
}

func (d *xboardDriver) featureStr(key string) string {
	if v, ok := d.features[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (d *xboardDriver) initialize() (*command, error) {
	cmd := newCommand("protover")

	var timer *time.Timer
	ended := false

	end := func() {
		if ended {
			return
		}
		ended = true
		if timer != nil {
			timer.Stop()
		}

		if d.featureInt("ping") == 0 {
			cmd.result.fail(errorf("xboard engine did not declare required feature: ping"))
		}
		if d.featureInt("setboard") == 0 {
			cmd.result.fail(errorf("xboard engine did not declare required feature: setboard"))
		}

		if d.featureIntDefault("reuse", 1) == 0 {
			logw.Warningf(d.s.ctx, "xboard: rejecting feature reuse=0")
			d.s.send("reject reuse")
		}
		if d.featureIntDefault("sigterm", 1) == 0 {
			logw.Warningf(d.s.ctx, "xboard: rejecting feature sigterm=0")
			d.s.send("reject sigterm")
		}
		if d.featureInt("usermove") != 0 {
			logw.Warningf(d.s.ctx, "xboard: rejecting feature usermove=1")
			d.s.send("reject usermove")
		}
		if d.featureInt("san") != 0 {
			logw.Warningf(d.s.ctx, "xboard: rejecting feature san=1")
			d.s.send("reject san")
		}

		if myname := d.featureStr("myname"); myname != "" {
			d.id["name"] = myname
		}

		if d.featureInt("memory") != 0 {
			d.options.Set(Option{Name: "memory", Type: OptionSpin, Default: 16, Min: lang.Some(1)})
			d.s.send("accept memory")
		}
		if d.featureInt("smp") != 0 {
			d.options.Set(Option{Name: "cores", Type: OptionSpin, Default: 1, Min: lang.Some(1)})
			d.s.send("accept smp")
		}
		if egt := d.featureStr("egt"); egt != "" {
			for _, kind := range strings.Split(egt, ",") {
				name := fmt.Sprintf("egtpath %v", kind)
				d.options.Set(Option{Name: name, Type: OptionPath})
			}
			d.s.send("accept egt")
		}

		cmd.setFinished()
	}

	cmd.start = func() error {
		d.s.send("xboard")
		d.s.send("protover 2")
		timer = time.AfterFunc(2*time.Second, func() {
			d.s.locked(func() {
				logw.Errorf(d.s.ctx, "xboard: timeout during initialization")
				end()
			})
		})
		return nil
	}
	cmd.line = func(line string) {
		switch {
		case strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "feature "):
			d.feature(strings.TrimPrefix(line, "feature "), timer, end)
		}
	}
	return cmd, nil
}

// feature collects "feature k=v ..." declarations, shell-tokenised so that
// quoted values round-trip.
func (d *xboardDriver) feature(arg string, timer *time.Timer, end func()) {
	tokens, err := shlex.Split(arg)
	if err != nil {
		logw.Errorf(d.s.ctx, "xboard: failed to parse feature declaration: %q", arg)
		return
	}

	for _, token := range tokens {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			logw.Warningf(d.s.ctx, "xboard: malformed feature token: %q", token)
			continue
		}
		if key == "option" {
			opt, err := parseXBoardOption(value)
			if err != nil {
				logw.Errorf(d.s.ctx, "xboard: invalid option feature %q: %v", value, err)
				continue
			}
			if !contains([]string{"random", "computer", "cores", "memory"}, opt.Name) {
				d.options.Set(opt)
			}
		} else if n, err := strconv.Atoi(value); err == nil {
			d.features[key] = n
		} else {
			d.features[key] = value
		}
	}

	if _, ok := d.features["done"]; ok && timer != nil {
		timer.Stop()
	}
	if d.featureInt("done") != 0 {
		end()
	}
}

func (d *xboardDriver) ping() (*command, error) {
	cmd := newCommand("ping")

	var pong string
	cmd.start = func() error {
		n := int(d.pings.Inc()) & 0xffff
		pong = fmt.Sprintf("pong %v", n)
		d.s.send(fmt.Sprintf("ping %v", n))
		return nil
	}
	cmd.line = func(line string) {
		if line == pong {
			cmd.setFinished()
		} else if !strings.HasPrefix(line, "#") {
			logw.Warningf(d.s.ctx, "xboard: unexpected engine output: %v", line)
		}
	}
	return cmd, nil
}

func (d *xboardDriver) configure(options map[string]any) (*command, error) {
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

// applyConfig applies options the XBoard way: dedicated lines for memory,
// cores and egtpath, toggles held back for the next new, and the option
// command for engine-declared options.
func (d *xboardDriver) applyConfig(options map[string]any) error {
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := options[name]
		if value != nil {
			if cur, ok := d.config.Get(name); ok && cur == value {
				continue
			}
		}

		opt, ok := d.options.Get(name)
		if !ok {
			return errorf("unsupported xboard option or command: %v", name)
		}
		v, err := opt.Parse(value)
		if err != nil {
			return err
		}
		d.config.Set(name, v)

		switch {
		case name == "random" || name == "computer":
			// Sent as dedicated lines when the next game starts.
		case name == "memory" || name == "cores" || strings.HasPrefix(name, "egtpath "):
			d.s.send(fmt.Sprintf("%v %v", name, toString(v)))
		case v == nil:
			d.s.send(fmt.Sprintf("option %v", name))
		case v == true:
			d.s.send(fmt.Sprintf("option %v=1", name))
		case v == false:
			d.s.send(fmt.Sprintf("option %v=0", name))
		default:
			d.s.send(fmt.Sprintf("option %v=%v", name, toString(v)))
		}
	}
	return nil
}

// restore re-applies the given configuration snapshot and resets options
// outside it to their defaults.
func (d *xboardDriver) restore(previous *caseMap[any]) {
	for _, name := range previous.Names() {
		v, _ := previous.Get(name)
		if err := d.applyConfig(map[string]any{name: v}); err != nil {
			logw.Errorf(d.s.ctx, "xboard: failed to restore option %v: %v", name, err)
		}
	}
	for _, name := range d.options.Names() {
		opt, _ := d.options.Get(name)
		if previous.Contains(name) || opt.Default == nil {
			continue
		}
		if err := d.applyConfig(map[string]any{name: opt.Default}); err != nil {
			logw.Errorf(d.s.ctx, "xboard: failed to reset option %v: %v", name, err)
		}
	}
}

func (d *xboardDriver) variant(name string) error {
	variants := strings.Split(d.featureStr("variants"), ",")
	if name == "" || !contains(variants, name) {
		return errorf("unsupported xboard variant: %v (available: %v)", name, strings.Join(variants, ", "))
	}
	d.s.send(fmt.Sprintf("variant %v", name))
	return nil
}

// reset establishes the game and position: a full setup when the game or
// root changed, otherwise an incremental move-stack sync against the
// engine's state.
func (d *xboardDriver) reset(board chess.Board, game string, options map[string]any) error {
	if err := d.applyConfig(options); err != nil {
		return err
	}

	root := board.Root()
	_, hasRandom := options["random"]
	_, hasComputer := options["computer"]
	newOptions := hasRandom || hasComputer
	newGame := d.game != game || newOptions || d.board.Root().FEN() != root.FEN()
	d.game = game

	variant := board.XBoardVariant()
	if newGame {
		d.board = root
		d.s.send("new")

		if variant == "normal" && board.Chess960() {
			if err := d.variant("fischerandom"); err != nil {
				return err
			}
		} else if variant != "normal" {
			if err := d.variant(variant); err != nil {
				return err
			}
		}

		if v, _ := d.config.Get("random"); asBool(v) {
			d.s.send("random")
		}
		if v, _ := d.config.Get("computer"); asBool(v) {
			d.s.send("computer")
		}
	}

	d.s.send("force")

	if newGame {
		fen := root.FEN()
		if variant != "normal" || fen != chess.StartingFEN || board.Chess960() {
			if board.Chess960() {
				d.s.send(fmt.Sprintf("setboard %v", root.ShredderFEN()))
			} else {
				d.s.send(fmt.Sprintf("setboard %v", fen))
			}
		}
	}

	// Undo moves until the longest common prefix of the stacks.
	common := 0
	if !newGame {
		mine, theirs := d.board.MoveStack(), board.MoveStack()
		for common < len(mine) && common < len(theirs) && mine[common].UCI() == theirs[common].UCI() {
			common++
		}

		for len(d.board.MoveStack()) > common+1 {
			d.s.send("remove")
			d.board.Pop()
			d.board.Pop()
		}
		for len(d.board.MoveStack()) > common {
			d.s.send("undo")
			d.board.Pop()
		}
	}

	// Play the remaining moves.
	for _, m := range board.MoveStack()[common:] {
		d.s.send(d.board.XBoard(m))
		d.board.Push(m)
	}
	return nil
}

func (d *xboardDriver) play(req *searchRequest) (*command, error) {
	if len(req.rootMoves) > 0 {
		return nil, errorf("play with root_moves, but xboard supports include only in analysis mode")
	}

	d.s.mu.Lock()
	previous := d.config.Copy()
	d.s.mu.Unlock()

	cmd := newCommand("play")
	var latest Info
	drawOffered := false
	stopped := atomic.NewBool(false)
	finalPong := atomic.NewString("")

	end := func() {
		if cmd.finished.isDone() {
			return
		}
		d.restore(previous)
		cmd.setFinished()
	}

	cmd.start = func() error {
		if err := d.reset(req.board, req.game, req.options); err != nil {
			return err
		}

		var l Limit
		if req.limit != nil {
			l = *req.limit
		}
		turn := req.board.Turn()

		myClock, myInc := l.WhiteClock, l.WhiteInc
		if turn == chess.Black {
			myClock, myInc = l.BlackClock, l.BlackInc
		}

		if isSet(l.RemainingMoves) || isSet(myInc) {
			var base time.Duration
			if v, ok := myClock.V(); ok {
				base = v
			}
			mtg, _ := l.RemainingMoves.V()
			var inc time.Duration
			if v, ok := myInc.V(); ok {
				inc = v
			}
			d.s.send(fmt.Sprintf("level %v %v:%02v %v", mtg, int(base.Minutes()), int(base.Seconds())%60, int(inc.Seconds())))
		}

		if nodes, ok := l.Nodes.V(); ok {
			if isSet(l.Time) || isSet(l.WhiteClock) || isSet(l.BlackClock) || isSet(myInc) {
				return errorf("xboard does not support mixing node limits with time limits")
			}
			if _, declared := d.features["nps"]; !declared {
				logw.Warningf(d.s.ctx, "xboard: engine did not declare explicit support for node limits (feature nps=?)")
			} else if d.featureInt("nps") == 0 {
				return errorf("xboard engine does not support node limits (feature nps=0)")
			}
			// Count nodes as time: 100 nodes per second, st in "seconds".
			d.s.send("nps 100")
			d.s.send(fmt.Sprintf("st %v", nodes))
		}
		if v, ok := l.Depth.V(); ok {
			d.s.send(fmt.Sprintf("sd %v", v))
		}
		if v, ok := l.Time.V(); ok {
			d.s.send(fmt.Sprintf("st %v", centis(v)))
		}
		if v, ok := l.WhiteClock.V(); ok {
			kw := "time"
			if turn != chess.White {
				kw = "otim"
			}
			d.s.send(fmt.Sprintf("%v %v", kw, centis(v)))
		}
		if v, ok := l.BlackClock.V(); ok {
			kw := "otim"
			if turn != chess.White {
				kw = "time"
			}
			d.s.send(fmt.Sprintf("%v %v", kw, centis(v)))
		}

		if req.info != InfoNone {
			d.s.send("post")
		} else {
			d.s.send("nopost")
		}
		if req.ponder {
			d.s.send("hard")
		} else {
			d.s.send("easy")
		}
		d.s.send("go")
		return nil
	}

	cmd.line = func(line string) {
		pong := finalPong.Load()
		switch {
		case strings.HasPrefix(line, "move "):
			d.moveReceived(cmd, strings.TrimPrefix(line, "move "), req, &latest, &drawOffered, end)
		case pong != "" && line == pong:
			if !cmd.result.isDone() {
				cmd.result.fail(errorf("xboard engine answered final pong before sending move"))
			}
			end()
		case line == "offer draw":
			drawOffered = true
		case line == "resign":
			cmd.result.fail(errorf("xboard engine resigned"))
			end()
		case strings.HasPrefix(line, "1-0") || strings.HasPrefix(line, "0-1") || strings.HasPrefix(line, "1/2-1/2"):
			cmd.result.resolve(&PlayResult{Info: latest, DrawOffered: drawOffered})
			end()
		case strings.HasPrefix(line, "#") || strings.HasPrefix(line, "Hint:"):
		case isXBoardPost(line):
			if !cmd.result.isDone() {
				latest = parseXBoardPost(d.s.ctx, line, d.board, req.info)
			}
		default:
			logw.Warningf(d.s.ctx, "xboard: unexpected engine output: %v", line)
		}
	}
	cmd.cancel = func() {
		if !stopped.CAS(false, true) {
			return
		}
		if cmd.result.isCancelled() {
			d.s.send("?")
		}
		if req.ponder {
			d.s.send("easy")
			n := int(d.pings.Inc()) & 0xffff
			finalPong.Store(fmt.Sprintf("pong %v", n))
			d.s.send(fmt.Sprintf("ping %v", n))
		}
	}
	return cmd, nil
}

func (d *xboardDriver) moveReceived(cmd *command, arg string, req *searchRequest, latest *Info, drawOffered *bool, end func()) {
	if !cmd.result.isCancelled() {
		m, err := d.board.PushXBoard(arg)
		if err != nil {
			cmd.result.fail(errorf("engine sent invalid move %q: %v", arg, err))
			end()
			return
		}
		cmd.result.resolve(&PlayResult{Move: m, Info: *latest, DrawOffered: *drawOffered})
	}

	if !req.ponder {
		end()
	}
}

func (d *xboardDriver) analysis(req *searchRequest) (*command, error) {
	if isSet(req.multipv) {
		return nil, errorf("xboard engine does not support multipv")
	}
	if req.limit != nil && (isSet(req.limit.WhiteClock) || isSet(req.limit.BlackClock)) {
		return nil, errorf("xboard analysis does not support clock limits")
	}

	d.s.mu.Lock()
	previous := d.config.Copy()
	d.s.mu.Unlock()

	cmd := newCommand("analyze")
	stopped := atomic.NewBool(false)
	finalPong := atomic.NewString("")
	var timer *time.Timer

	cmd.cancel = func() {
		if !stopped.CAS(false, true) {
			return
		}
		d.s.send(".")
		d.s.send("exit")
		n := int(d.pings.Inc()) & 0xffff
		finalPong.Store(fmt.Sprintf("pong %v", n))
		d.s.send(fmt.Sprintf("ping %v", n))
	}

	analysis := newAnalysis(func() {
		cmd.cancel()
	})

	end := func() {
		if timer != nil {
			timer.Stop()
		}
		analysis.setFinished()
		d.restore(previous)
		cmd.setFinished()
	}

	cmd.start = func() error {
		if err := d.reset(req.board, req.game, req.options); err != nil {
			return err
		}

		if req.rootMoves != nil {
			if d.featureInt("exclude") == 0 {
				return errorf("xboard engine does not support root_moves (feature exclude=0)")
			}
			d.s.send("exclude all")
			for _, m := range req.rootMoves {
				d.s.send(fmt.Sprintf("include %v", d.board.XBoard(m)))
			}
		}

		d.s.send("post")
		d.s.send("analyze")

		cmd.result.resolve(analysis)

		if req.limit != nil {
			if v, ok := req.limit.Time.V(); ok {
				timer = time.AfterFunc(v, func() {
					cmd.cancel()
				})
			}
		}
		return nil
	}
	cmd.line = func(line string) {
		pong := finalPong.Load()
		switch {
		case strings.HasPrefix(line, "#"):
		case isXBoardPost(line):
			d.postReceived(cmd, line, req, analysis)
		case pong != "" && line == pong:
			end()
		default:
			logw.Warningf(d.s.ctx, "xboard: unexpected engine output: %v", line)
		}
	}
	cmd.terminated = func(err error) {
		logw.Debugf(d.s.ctx, "xboard: closing analysis, engine terminated: %v", err)
		if timer != nil {
			timer.Stop()
		}
		analysis.setError(err)
	}
	return cmd, nil
}

// postReceived streams one post line and cancels the analysis once a
// non-clock limit is reached.
func (d *xboardDriver) postReceived(cmd *command, line string, req *searchRequest, analysis *Analysis) {
	info := parseXBoardPost(d.s.ctx, line, d.board, req.info|InfoBasic)
	analysis.post(info)

	if req.limit == nil {
		return
	}
	l := *req.limit
	if v, ok := l.Time.V(); ok {
		if t, seen := info.Time.V(); seen && t >= v {
			cmd.cancel()
		}
	}
	if v, ok := l.Nodes.V(); ok {
		if n, seen := info.Nodes.V(); seen && n >= v {
			cmd.cancel()
		}
	}
	if v, ok := l.Depth.V(); ok {
		if n, seen := info.Depth.V(); seen && n >= v {
			cmd.cancel()
		}
	}
	if v, ok := l.Mate.V(); ok {
		if score, seen := info.Score.V(); seen && !score.Relative.Less(Mate(v)) {
			cmd.cancel()
		}
	}
}

// isXBoardPost recognizes a thinking-output line: at least four tokens, the
// first of which starts with a digit.
func isXBoardPost(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" || trimmed[0] < '0' || trimmed[0] > '9' {
		return false
	}
	return len(strings.Fields(line)) >= 4
}

// parseXBoardOption parses an option feature payload:
// "<name> -<type> <payload>".
func parseXBoardOption(spec string) (Option, error) {
	params := strings.Fields(spec)
	if len(params) < 2 || !strings.HasPrefix(params[1], "-") {
		return Option{}, errorf("invalid xboard option: %q", spec)
	}

	opt := Option{Name: params[0], Type: OptionType(params[1][1:])}
	switch opt.Type {
	case OptionCombo:
		for _, choice := range params[2:] {
			if choice == "///" {
				continue
			}
			if choice[0] == '*' {
				opt.Default = choice[1:]
				opt.Var = append(opt.Var, choice[1:])
			} else {
				opt.Var = append(opt.Var, choice)
			}
		}

	case OptionCheck:
		if len(params) < 3 {
			return Option{}, errorf("missing default for check option: %q", spec)
		}
		n, err := strconv.Atoi(params[2])
		if err != nil {
			return Option{}, errorf("invalid default for check option: %q", spec)
		}
		opt.Default = n != 0

	case OptionSpin:
		if len(params) < 5 {
			return Option{}, errorf("missing default/min/max for spin option: %q", spec)
		}
		def, err1 := strconv.Atoi(params[2])
		min, err2 := strconv.Atoi(params[3])
		max, err3 := strconv.Atoi(params[4])
		if err1 != nil || err2 != nil || err3 != nil {
			return Option{}, errorf("invalid spin option: %q", spec)
		}
		opt.Default = def
		opt.Min = lang.Some(min)
		opt.Max = lang.Some(max)

	case OptionString, OptionFile, OptionPath:
		if len(params) > 2 {
			opt.Default = params[2]
		} else {
			opt.Default = ""
		}

	case OptionButton, OptionReset, OptionSave:
		// No payload.

	default:
		return Option{}, errorf("unknown xboard option type: %q", spec)
	}
	return opt, nil
}

// parseXBoardPost converts one post line into a typed record. Format:
// depth score time nodes [seldepth [nps [reserved...] tbhits]] pv.
func parseXBoardPost(ctx context.Context, line string, root chess.Board, selector InfoMask) Info {
	var info Info

	// Split leading integer tokens from the pv.
	tokens := strings.Fields(line)
	var ints []int64
	rest := tokens
	for len(rest) > 0 {
		n, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			break
		}
		ints = append(ints, n)
		rest = rest[1:]
	}

	if len(ints) < 4 || selector == InfoNone {
		return info
	}

	info.Depth = lang.Some(int(ints[0]))
	cp := ints[1]
	info.Time = lang.Some(time.Duration(ints[2]) * 10 * time.Millisecond)
	info.Nodes = lang.Some(ints[3])
	ints = ints[4:]

	var score Score
	switch {
	case cp <= -xboardMateScore:
		score = Mate(int(cp + xboardMateScore))
	case cp == xboardMateScore:
		score = MateGiven
	case cp >= xboardMateScore:
		score = Mate(int(cp - xboardMateScore))
	default:
		score = Cp(int(cp))
	}
	info.Score = lang.Some(PovScore{Relative: score, Turn: root.Turn()})

	if len(ints) > 0 {
		info.SelDepth = lang.Some(int(ints[0]))
		ints = ints[1:]
	}
	if len(ints) > 0 {
		info.NPS = lang.Some(ints[0])
		ints = ints[1:]
	}
	for len(ints) > 1 {
		// Reserved for future extensions.
		ints = ints[1:]
	}
	if len(ints) > 0 {
		info.TBHits = lang.Some(ints[0])
	}

	if selector&InfoPV == 0 {
		return info
	}

	pv := []chess.Move{}
	board := root.Copy(false)
	for _, token := range rest {
		if isMoveNumber(token) {
			continue
		}
		m, err := board.PushXBoard(token)
		if err != nil {
			logw.Debugf(ctx, "xboard: pv stops at %q: %v", token, err)
			break
		}
		pv = append(pv, m)
	}
	info.PV = lang.Some(pv)
	return info
}

// isMoveNumber matches move-number tokens like "12." or "3..." in pv output.
func isMoveNumber(token string) bool {
	digits := strings.TrimRight(token, ".")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func centis(d time.Duration) string {
	return strconv.FormatInt(int64(d/(10*time.Millisecond)), 10)
}
