package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/herohde/outpost/pkg/chess"
	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/lang"
)

// PlayResult is the outcome of a Play request.
type PlayResult struct {
	// Move is the engine's chosen move. Nil if the engine had none
	// (game-over position).
	Move chess.Move
	// Ponder is the expected reply the engine would ponder on, if any.
	Ponder chess.Move
	// Info is the last search information seen before the move.
	Info Info
	// DrawOffered reports whether the engine offered a draw (XBoard).
	DrawOffered bool
}

func (r *PlayResult) String() string {
	move := "(none)"
	if r.Move != nil {
		move = r.Move.UCI()
	}
	return fmt.Sprintf("{move=%v, draw_offered=%v}", move, r.DrawOffered)
}

// searchRequest carries the parameters of one play or analysis request.
type searchRequest struct {
	board     chess.Board
	limit     *Limit
	game      string
	info      InfoMask
	ponder    bool
	rootMoves []chess.Move
	multipv   lang.Optional[int]
	options   map[string]any
}

// SearchOption adjusts a single Play, Analysis or Analyse request.
type SearchOption func(*searchRequest)

// WithGame tags the request with an opaque game identifier. The driver
// signals a new game to the engine when it changes between searches.
func WithGame(id string) SearchOption {
	return func(r *searchRequest) {
		r.game = id
	}
}

// WithInfo selects which information to parse out of engine output. Play
// defaults to InfoNone, analysis to InfoAll.
func WithInfo(mask InfoMask) SearchOption {
	return func(r *searchRequest) {
		r.info = mask
	}
}

// WithPonder lets the engine continue thinking on its expected reply after
// moving. Play only.
func WithPonder() SearchOption {
	return func(r *searchRequest) {
		r.ponder = true
	}
}

// WithRootMoves restricts the search to the given root moves.
func WithRootMoves(moves ...chess.Move) SearchOption {
	return func(r *searchRequest) {
		r.rootMoves = moves
	}
}

// WithOptions applies engine options for the duration of this request only.
func WithOptions(options map[string]any) SearchOption {
	return func(r *searchRequest) {
		r.options = options
	}
}

// WithMultiPV requests simultaneous analysis of the given number of root
// moves. Analysis only.
func WithMultiPV(n int) SearchOption {
	return func(r *searchRequest) {
		r.multipv = lang.Some(n)
	}
}

// WithLimit bounds an analysis. Without it, analysis runs until stopped.
func WithLimit(limit Limit) SearchOption {
	return func(r *searchRequest) {
		l := limit
		r.limit = &l
	}
}

// protocol is the capability set a wire dialect implements. Drivers own the
// engine-declared options, the applied configuration, the engine identity
// and the position state, and construct the commands the session schedules.
type protocol interface {
	protocolName() string
	initialize() (*command, error)
	ping() (*command, error)
	configure(options map[string]any) (*command, error)
	play(req *searchRequest) (*command, error)
	analysis(req *searchRequest) (*command, error)
	debug(on bool) error
	terminate()
	identity() map[string]string
	declaredOptions() *OptionMap
}

// Session drives a single engine process. All methods are safe for
// concurrent use; requests are serialized with at most one command active
// against the engine, and a newer request pre-empts the active one.
type Session struct {
	ctx   context.Context
	t     Transport
	proto protocol

	mu      sync.Mutex
	current *command
	next    *command
	dead    bool
	code    int
}

// NewUCISession attaches a UCI driver to the given transport and performs
// protocol initialization.
func NewUCISession(ctx context.Context, t Transport) (*Session, error) {
	s := &Session{ctx: ctx, t: t}
	s.proto = newUCIDriver(s)
	return s.start(ctx)
}

// NewXBoardSession attaches an XBoard (CECP) driver to the given transport
// and performs protocol initialization.
func NewXBoardSession(ctx context.Context, t Transport) (*Session, error) {
	s := &Session{ctx: ctx, t: t}
	s.proto = newXBoardDriver(s)
	return s.start(ctx)
}

// LaunchUCI spawns the given engine executable and initializes a UCI
// session against it.
func LaunchUCI(ctx context.Context, name string, args ...string) (*Session, error) {
	t, err := Popen(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return NewUCISession(ctx, t)
}

// LaunchXBoard spawns the given engine executable and initializes an XBoard
// session against it.
func LaunchXBoard(ctx context.Context, name string, args ...string) (*Session, error) {
	t, err := Popen(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return NewXBoardSession(ctx, t)
}

func (s *Session) start(ctx context.Context) (*Session, error) {
	go s.pump()

	cmd, err := s.proto.initialize()
	if err != nil {
		s.t.Close()
		return nil, err
	}
	if _, err := s.communicate(ctx, cmd); err != nil {
		s.t.Close()
		return nil, err
	}

	logw.Infof(ctx, "%v: engine initialized: %v", s.proto.protocolName(), s.ID())
	return s, nil
}

// ID returns the engine's self-identification, such as its name and author.
func (s *Session) ID() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret := map[string]string{}
	for k, v := range s.proto.identity() {
		ret[k] = v
	}
	return ret
}

// Options returns the options the engine declared.
func (s *Session) Options() *OptionMap {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.proto.declaredOptions().Copy()
}

// Configure applies engine options that stay in effect for subsequent
// requests. Options managed by the driver itself are rejected.
func (s *Session) Configure(ctx context.Context, options map[string]any) error {
	cmd, err := s.proto.configure(options)
	if err != nil {
		return err
	}
	_, err = s.communicate(ctx, cmd)
	return err
}

// Ping synchronizes with the engine and verifies it is responsive.
func (s *Session) Ping(ctx context.Context) error {
	cmd, err := s.proto.ping()
	if err != nil {
		return err
	}
	_, err = s.communicate(ctx, cmd)
	return err
}

// Play asks the engine to choose a move in the given position, within the
// given limit.
func (s *Session) Play(ctx context.Context, board chess.Board, limit Limit, opts ...SearchOption) (*PlayResult, error) {
	l := limit
	req := &searchRequest{board: board, limit: &l, info: InfoNone}
	for _, fn := range opts {
		fn(req)
	}

	cmd, err := s.proto.play(req)
	if err != nil {
		return nil, err
	}
	v, err := s.communicate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return v.(*PlayResult), nil
}

// Analysis starts analysing the given position and returns a streaming
// handle immediately. Without WithLimit, the analysis runs until stopped.
func (s *Session) Analysis(ctx context.Context, board chess.Board, opts ...SearchOption) (*Analysis, error) {
	req := &searchRequest{board: board, info: InfoAll}
	for _, fn := range opts {
		fn(req)
	}

	cmd, err := s.proto.analysis(req)
	if err != nil {
		return nil, err
	}
	v, err := s.communicate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return v.(*Analysis), nil
}

// Analyse analyses the given position within the given limit and returns
// the aggregated information per root-move rank, best line first.
func (s *Session) Analyse(ctx context.Context, board chess.Board, limit Limit, opts ...SearchOption) ([]Info, error) {
	a, err := s.Analysis(ctx, board, append([]SearchOption{WithLimit(limit)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := a.Wait(ctx); err != nil {
		a.Stop()
		return nil, err
	}
	return a.MultiPV(), nil
}

// Debug toggles the engine's debug mode, if the protocol supports it. This
// does not interrupt other ongoing operations.
func (s *Session) Debug(on bool) error {
	return s.proto.debug(on)
}

// Quit asks the engine to exit and waits for the process to terminate.
func (s *Session) Quit(ctx context.Context) error {
	s.mu.Lock()
	dead := s.dead
	s.mu.Unlock()

	if !dead {
		s.proto.terminate()
	}

	select {
	case <-s.t.Exited():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitCode returns the engine's exit code, once it has exited.
func (s *Session) ExitCode() (int, bool) {
	select {
	case <-s.t.Exited():
		return s.t.ExitCode(), true
	default:
		return 0, false
	}
}

// Close terminates the engine process without a protocol goodbye.
func (s *Session) Close() {
	s.t.Close()
}

// communicate is the dispatch primitive: it schedules the command and
// blocks until its result resolves. A submission while another command is
// active pre-empts it; a submission while one is already queued replaces
// the queued one, which resolves as cancelled without engine I/O.
func (s *Session) communicate(ctx context.Context, cmd *command) (any, error) {
	s.mu.Lock()
	if s.dead {
		code := s.code
		s.mu.Unlock()
		return nil, &TerminatedError{Code: code}
	}

	if s.next != nil {
		s.next.result.fail(ErrCancelled)
		s.next.finished.resolve(struct{}{})
		s.next.state = cmdDone
	}
	s.next = cmd

	if s.current == nil {
		s.promoteLocked()
	} else if !s.current.result.isDone() {
		s.current.result.fail(ErrCancelled)
		s.cancelCurrentLocked()
	} else if !s.current.result.isCancelled() {
		s.cancelCurrentLocked()
	}
	s.mu.Unlock()

	v, err := cmd.result.await(ctx)
	if err != nil && ctx.Err() != nil {
		// The caller abandoned the request: withdraw the command.
		s.abort(cmd)
		return nil, err
	}
	return v, err
}

// promoteLocked advances the queued command to Active. Caller holds mu.
func (s *Session) promoteLocked() {
	if s.current != nil {
		s.current.state = cmdDone
	}
	s.current, s.next = s.next, nil
	if s.current == nil {
		return
	}

	cmd := s.current
	cmd.state = cmdActive
	if err := cmd.start(); err != nil {
		cmd.handleError(s.ctx, err)
	}

	// The caller may have bailed before the command ever started.
	if cmd.result.isCancelled() {
		s.cancelCurrentLocked()
	}

	go func() {
		<-cmd.finished.done
		s.mu.Lock()
		if s.current == cmd {
			s.promoteLocked()
		}
		s.mu.Unlock()
	}()
}

// cancelCurrentLocked transitions the active command to Cancelling and
// invokes its protocol stop hook. Caller holds mu.
func (s *Session) cancelCurrentLocked() {
	cmd := s.current
	if cmd == nil || cmd.state != cmdActive {
		return
	}
	cmd.state = cmdCancelling
	if cmd.cancel != nil {
		cmd.cancel()
	}
}

// abort withdraws a command on behalf of a caller that stopped waiting.
func (s *Session) abort(cmd *command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd.result.fail(ErrCancelled)
	if s.next == cmd {
		// Never started; unqueue it.
		s.next = nil
		cmd.finished.resolve(struct{}{})
		cmd.state = cmdDone
		return
	}
	if s.current == cmd {
		s.cancelCurrentLocked()
	}
}

// pump routes engine output to the active command and handles process
// death. It is the only goroutine that reads the transport.
func (s *Session) pump() {
	name := s.proto.protocolName()

	for line := range s.t.Lines() {
		if line.FD == 2 {
			logw.Warningf(s.ctx, "%v: stderr >> %v", name, line.Text)
			continue
		}
		logw.Debugf(s.ctx, "%v: >> %v", name, line.Text)

		s.mu.Lock()
		if cmd := s.current; cmd != nil && (cmd.state == cmdActive || cmd.state == cmdCancelling) && cmd.line != nil {
			cmd.line(line.Text)
		}
		s.mu.Unlock()
	}

	<-s.t.Exited()
	code := s.t.ExitCode()

	s.mu.Lock()
	s.dead = true
	s.code = code
	current, next := s.current, s.next
	s.current, s.next = nil, nil
	s.mu.Unlock()

	if current != nil {
		current.engineTerminated(s.ctx, code)
	}
	if next != nil {
		next.engineTerminated(s.ctx, code)
	}
}

// locked runs fn holding the session mutex, for driver timers that fire off
// the pump goroutine.
func (s *Session) locked(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn()
}

// send writes one protocol line to the engine.
func (s *Session) send(line string) {
	logw.Debugf(s.ctx, "%v: << %v", s.proto.protocolName(), line)
	if err := s.t.WriteLine(line); err != nil {
		logw.Errorf(s.ctx, "%v: write failed: %v", s.proto.protocolName(), err)
	}
}
