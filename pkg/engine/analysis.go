package engine

import (
	"context"
	"sync"

	"github.com/seekerror/stdlib/pkg/util/iox"
	"go.uber.org/atomic"
)

// analysisBuffer bounds the number of unconsumed info records. The driver
// blocks once it is full, so a slow consumer back-pressures the engine
// output pump rather than growing without bound.
const analysisBuffer = 64

// Analysis is a handle to an ongoing analysis. The driver streams Info
// records into it; the caller ranges over Stream or polls Info/MultiPV for
// the latest lines. Stop the analysis when done with it:
//
//	a, err := s.Analysis(ctx, board)
//	...
//	defer a.Stop()
//	for info := range a.Stream() {
//	    ...
//	}
type Analysis struct {
	stop    func()
	stopped atomic.Bool

	c    chan Info
	quit iox.AsyncCloser

	finished *future[struct{}]

	mu      sync.Mutex
	multipv []Info
}

func newAnalysis(stop func()) *Analysis {
	return &Analysis{
		stop:     stop,
		c:        make(chan Info, analysisBuffer),
		quit:     iox.NewAsyncCloser(),
		finished: newFuture[struct{}](),
		multipv:  make([]Info, 1),
	}
}

// post merges the record into the per-rank latest info and enqueues it.
// Driver side.
func (a *Analysis) post(info Info) {
	rank := 1
	if v, ok := info.MultiPV.V(); ok && v > 0 {
		rank = v
	}

	a.mu.Lock()
	for len(a.multipv) < rank {
		a.multipv = append(a.multipv, Info{})
	}
	a.multipv[rank-1].merge(info)
	a.mu.Unlock()

	select {
	case a.c <- info:
	case <-a.quit.Closed():
		// Stream abandoned. Drop the record.
	}
}

// setFinished closes the stream and resolves the completion signal. Driver
// side.
func (a *Analysis) setFinished() {
	a.finished.resolve(struct{}{})
	a.quit.Close()
	close(a.c)
}

// setError closes the stream and resolves the completion signal with the
// given error. Driver side.
func (a *Analysis) setError(err error) {
	a.finished.fail(err)
	a.quit.Close()
	close(a.c)
}

// Stream returns the info records in arrival order. The channel is closed
// when the engine stops emitting for this analysis; check Err afterwards.
func (a *Analysis) Stream() <-chan Info {
	return a.c
}

// Next returns the next info record, or false once the stream has ended or
// the context expired.
func (a *Analysis) Next(ctx context.Context) (Info, bool) {
	select {
	case info, ok := <-a.c:
		return info, ok
	case <-ctx.Done():
		return Info{}, false
	}
}

// Info returns the latest aggregated info for the best line.
func (a *Analysis) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.multipv[0]
}

// MultiPV returns the latest aggregated info per root-move rank.
func (a *Analysis) MultiPV() []Info {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]Info(nil), a.multipv...)
}

// Wait blocks until the analysis is complete or stopped, and returns the
// terminal error, if any.
func (a *Analysis) Wait(ctx context.Context) error {
	_, err := a.finished.await(ctx)
	return err
}

// Err returns the terminal error, if the analysis failed. Valid once Wait
// has returned or Stream has closed.
func (a *Analysis) Err() error {
	if !a.finished.isDone() {
		return nil
	}
	return a.finished.err
}

// Stop stops the analysis as soon as possible. Idempotent.
func (a *Analysis) Stop() {
	if a.stopped.CAS(false, true) {
		a.quit.Close()
		if a.stop != nil && !a.finished.isDone() {
			a.stop()
		}
	}
}
