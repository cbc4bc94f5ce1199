package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/herohde/outpost/pkg/chess"
	"github.com/seekerror/stdlib/pkg/lang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExchange is one expected write and the scripted engine response.
type mockExchange struct {
	send      string
	ping      bool
	exit      bool
	code      int
	responses []string
}

// mockTransport scripts the engine side of a session: each write must match
// the next expectation, in order, and triggers its canned responses.
type mockTransport struct {
	t *testing.T

	mu       sync.Mutex
	expected []mockExchange
	exited   bool
	code     int

	lines chan Line
	done  chan struct{}
}

func newMockTransport(t *testing.T) *mockTransport {
	return &mockTransport{
		t:     t,
		lines: make(chan Line, 256),
		done:  make(chan struct{}),
	}
}

func (m *mockTransport) expect(send string, responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expected = append(m.expected, mockExchange{send: send, responses: responses})
}

// expectPing expects a "ping <n>" write and answers with the matching pong.
func (m *mockTransport) expectPing() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expected = append(m.expected, mockExchange{ping: true})
}

// expectQuit expects the given write and exits the fake process.
func (m *mockTransport) expectQuit(send string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expected = append(m.expected, mockExchange{send: send, exit: true, code: code})
}

func (m *mockTransport) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.expected)
}

func (m *mockTransport) assertDone() {
	m.mu.Lock()
	defer m.mu.Unlock()

	assert.Empty(m.t, m.expected, "expected exchanges left")
}

// push delivers unsolicited engine output.
func (m *mockTransport) push(lines ...string) {
	for _, line := range lines {
		m.lines <- Line{FD: 1, Text: line}
	}
}

// exit simulates engine process death.
func (m *mockTransport) exit(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exitLocked(code)
}

func (m *mockTransport) exitLocked(code int) {
	if m.exited {
		return
	}
	m.exited = true
	m.code = code
	close(m.lines)
	close(m.done)
}

func (m *mockTransport) WriteLine(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.expected) == 0 {
		m.t.Errorf("unexpected write: %q", line)
		return nil
	}
	e := m.expected[0]
	m.expected = m.expected[1:]

	if e.ping {
		if !strings.HasPrefix(line, "ping ") {
			m.t.Errorf("expected ping, got %q", line)
			return nil
		}
		m.lines <- Line{FD: 1, Text: "pong " + strings.TrimPrefix(line, "ping ")}
		return nil
	}
	if line != e.send {
		m.t.Errorf("expected write %q, got %q", e.send, line)
		return nil
	}
	for _, r := range e.responses {
		m.lines <- Line{FD: 1, Text: r}
	}
	if e.exit {
		m.exitLocked(e.code)
	}
	return nil
}

func (m *mockTransport) Lines() <-chan Line {
	return m.lines
}

func (m *mockTransport) Exited() <-chan struct{} {
	return m.done
}

func (m *mockTransport) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.code
}

func (m *mockTransport) Close() {
	m.exit(0)
}

// newTestUCISession initializes a UCI session against a scripted engine that
// declares the given option lines.
func newTestUCISession(t *testing.T, options ...string) (*Session, *mockTransport) {
	m := newMockTransport(t)

	responses := []string{"id name Mock Engine", "id author Mock Author"}
	responses = append(responses, options...)
	responses = append(responses, "uciok")
	m.expect("uci", responses...)

	s, err := NewUCISession(context.Background(), m)
	require.NoError(t, err)
	return s, m
}

func TestUCIInitialize(t *testing.T) {
	s, m := newTestUCISession(t,
		"option name Hash type spin default 16 min 1 max 1024",
		"option name Clear Hash type button",
		"option name Style type combo default Normal var Solid var Normal var Risky",
	)
	m.assertDone()

	assert.Equal(t, map[string]string{"name": "Mock Engine", "author": "Mock Author"}, s.ID())

	opts := s.Options()
	assert.Equal(t, 3, opts.Len())

	hash, ok := opts.Get("hash")
	require.True(t, ok, "case-insensitive lookup")
	assert.Equal(t, OptionSpin, hash.Type)
	assert.Equal(t, 16, hash.Default)
	min, _ := hash.Min.V()
	max, _ := hash.Max.V()
	assert.Equal(t, 1, min)
	assert.Equal(t, 1024, max)

	clear, ok := opts.Get("Clear Hash")
	require.True(t, ok, "option name with spaces")
	assert.Equal(t, OptionButton, clear.Type)

	style, ok := opts.Get("Style")
	require.True(t, ok)
	assert.Equal(t, "Normal", style.Default)
	assert.Equal(t, []string{"Solid", "Normal", "Risky"}, style.Var)
}

func TestUCIPing(t *testing.T) {
	s, m := newTestUCISession(t)

	m.expect("isready", "readyok")
	require.NoError(t, s.Ping(context.Background()))
	m.assertDone()
}

// TestQueueDiscipline submits overlapping requests: only the first and the
// last reach the engine, intermediates resolve as cancelled without wire
// traffic.
func TestQueueDiscipline(t *testing.T) {
	ctx := context.Background()
	s, m := newTestUCISession(t)

	m.expect("position startpos")
	m.expect("go movetime 100")

	play := make(chan error, 1)
	go func() {
		_, err := s.Play(ctx, chess.NewPlainBoard(""), Limit{Time: lang.Some(100 * time.Millisecond)})
		play <- err
	}()
	require.Eventually(t, func() bool { return m.pending() == 0 }, time.Second, time.Millisecond)

	m.expect("stop")

	ping1 := make(chan error, 1)
	go func() {
		ping1 <- s.Ping(ctx)
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.next != nil
	}, time.Second, time.Millisecond)

	ping2 := make(chan error, 1)
	go func() {
		ping2 <- s.Ping(ctx)
	}()

	// The intermediate request is superseded without wire traffic.
	assert.ErrorIs(t, <-ping1, ErrCancelled)

	m.expect("isready", "readyok")
	m.push("bestmove e2e4")

	assert.ErrorIs(t, <-play, ErrCancelled)
	assert.NoError(t, <-ping2)
	m.assertDone()
}

// TestEngineDeath kills the engine mid-search: the active command fails with
// the exit code, and later calls fail without touching the wire.
func TestEngineDeath(t *testing.T) {
	ctx := context.Background()
	s, m := newTestUCISession(t)

	m.expect("position startpos")
	m.expect("go movetime 100")

	play := make(chan error, 1)
	go func() {
		_, err := s.Play(ctx, chess.NewPlainBoard(""), Limit{Time: lang.Some(100 * time.Millisecond)})
		play <- err
	}()
	require.Eventually(t, func() bool { return m.pending() == 0 }, time.Second, time.Millisecond)

	m.exit(3)

	err := <-play
	var terminated *TerminatedError
	require.ErrorAs(t, err, &terminated)
	assert.Equal(t, 3, terminated.Code)

	err = s.Ping(ctx)
	require.ErrorAs(t, err, &terminated)
	assert.Equal(t, 3, terminated.Code)

	code, ok := s.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 3, code)
	m.assertDone()
}

func TestQuit(t *testing.T) {
	s, m := newTestUCISession(t)

	m.expectQuit("quit", 0)
	require.NoError(t, s.Quit(context.Background()))

	code, ok := s.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 0, code)
	m.assertDone()
}

func TestConfigureManagedRejected(t *testing.T) {
	s, m := newTestUCISession(t,
		"option name MultiPV type spin default 1 min 1 max 500",
	)

	err := s.Configure(context.Background(), map[string]any{"MultiPV": 4})
	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	assert.Contains(t, engineErr.Reason, "automatically managed")
	m.assertDone()
}

func TestConfigureUnknownOption(t *testing.T) {
	s, m := newTestUCISession(t)

	err := s.Configure(context.Background(), map[string]any{"Hash": 128})
	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	assert.Contains(t, engineErr.Reason, "does not support option")
	m.assertDone()
}
