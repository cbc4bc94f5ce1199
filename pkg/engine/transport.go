package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/util/iox"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Line is one complete line of engine output.
type Line struct {
	// FD identifies the stream: 1 for stdout, 2 for stderr.
	FD int
	// Text is the line without its terminating newline. A trailing
	// carriage return is preserved.
	Text string
}

// Transport is the byte-level connection to an engine process. It does not
// interpret content.
type Transport interface {
	// WriteLine writes one line to the engine's stdin, appending a
	// newline.
	WriteLine(line string) error
	// Lines returns engine output in arrival order, exactly once per
	// complete line. The channel is closed when the process exits.
	Lines() <-chan Line
	// Exited is closed once the process has exited.
	Exited() <-chan struct{}
	// ExitCode returns the process exit code. Valid after Exited.
	ExitCode() int
	// Close terminates the process. Idempotent.
	Close()
}

// procTransport runs an engine as a child process with line-buffered pipes.
type procTransport struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	wmu   sync.Mutex

	lines  chan Line
	exited iox.AsyncCloser
	code   int

	killed atomic.Bool
}

// Popen spawns the given engine executable and returns a transport attached
// to its pipes.
func Popen(ctx context.Context, name string, args ...string) (Transport, error) {
	cmd := exec.Command(name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %v: %w", name, err)
	}

	t := &procTransport{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan Line, 64),
		exited: iox.NewAsyncCloser(),
	}
	go t.pump(ctx, stdout, stderr)

	logw.Infof(ctx, "Started engine process: %v (pid=%v)", name, cmd.Process.Pid)
	return t, nil
}

func (t *procTransport) pump(ctx context.Context, stdout, stderr io.Reader) {
	var g errgroup.Group
	g.Go(func() error {
		return t.scan(1, stdout)
	})
	g.Go(func() error {
		return t.scan(2, stderr)
	})
	if err := g.Wait(); err != nil {
		logw.Warningf(ctx, "Engine output closed: %v", err)
	}

	_ = t.cmd.Wait()
	t.code = t.cmd.ProcessState.ExitCode()

	close(t.lines)
	t.exited.Close()

	logw.Infof(ctx, "Engine process exited: code=%v", t.code)
}

func (t *procTransport) scan(fd int, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanLinesKeepCR)
	for scanner.Scan() {
		t.lines <- Line{FD: fd, Text: scanner.Text()}
	}
	return scanner.Err()
}

func (t *procTransport) WriteLine(line string) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if _, err := fmt.Fprintf(t.stdin, "%s\n", line); err != nil {
		return fmt.Errorf("failed to write %q: %w", line, err)
	}
	return nil
}

func (t *procTransport) Lines() <-chan Line {
	return t.lines
}

func (t *procTransport) Exited() <-chan struct{} {
	return t.exited.Closed()
}

func (t *procTransport) ExitCode() int {
	return t.code
}

func (t *procTransport) Close() {
	if t.killed.CAS(false, true) {
		_ = t.stdin.Close()
		_ = t.cmd.Process.Kill()
	}
}

// scanLinesKeepCR is bufio.ScanLines without carriage-return stripping.
func scanLinesKeepCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
