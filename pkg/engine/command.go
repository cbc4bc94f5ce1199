package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/seekerror/logw"
)

// future is a one-shot result container. It resolves exactly once; later
// attempts are ignored.
type future[T any] struct {
	mu    sync.Mutex
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

func (f *future[T]) resolve(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.done:
		return false
	default:
		f.value = v
		close(f.done)
		return true
	}
}

func (f *future[T]) fail(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.done:
		return false
	default:
		f.err = err
		close(f.done)
		return true
	}
}

func (f *future[T]) isDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *future[T]) isCancelled() bool {
	if !f.isDone() {
		return false
	}
	return errors.Is(f.err, ErrCancelled)
}

// await blocks until the future resolves or the context expires.
func (f *future[T]) await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type commandState int32

const (
	cmdNew commandState = iota
	cmdActive
	cmdCancelling
	cmdDone
)

// command is one unit of work against the engine. The protocol drivers
// construct commands whose hooks close over the driver state; the session
// schedules them with at most one active at a time.
//
// A command carries two completion signals: result is the caller-visible
// outcome, finished is the point at which the session may advance to the
// next command. They are distinct because a command may deliver its result
// while background work (pondering, analysis streaming) continues.
type command struct {
	name  string
	state commandState

	result   *future[any]
	finished *future[struct{}]

	// start begins engine I/O. A returned error fails the result.
	start func() error
	// line handles one line of engine output while Active or Cancelling.
	line func(string)
	// cancel asks the engine to wind down the command. May be nil.
	cancel func()
	// terminated is an extra hook invoked when the engine dies while the
	// command is in flight. May be nil.
	terminated func(err error)
}

func newCommand(name string) *command {
	return &command{
		name:     name,
		result:   newFuture[any](),
		finished: newFuture[struct{}](),
	}
}

// setFinished resolves the result (if still open) and releases the session
// to promote the next command.
func (c *command) setFinished() {
	c.result.resolve(nil)
	c.finished.resolve(struct{}{})
}

// handleError routes an error to the result future, or out-of-band to the
// log if the caller contract has already been fulfilled.
func (c *command) handleError(ctx context.Context, err error) {
	if !c.result.fail(err) {
		logw.Errorf(ctx, "Command %v failed after returning preliminary result: %v", c.name, err)
	}
	c.finished.resolve(struct{}{})
}

// engineTerminated aborts the command because the engine process died.
func (c *command) engineTerminated(ctx context.Context, code int) {
	err := &TerminatedError{Code: code}
	inFlight := c.state == cmdActive || c.state == cmdCancelling

	c.handleError(ctx, err)

	if inFlight && c.terminated != nil {
		c.terminated(err)
	}
}
