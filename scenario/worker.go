package scenario

import (
	"context"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"hazeltopo/grid"
	"sync"
	"time"
)

type (
	unitFunc     func(ctx context.Context) error
	workerResult struct {
		Units      int
		Failures   int
		Retries    int
		FirstError error
	}
	// worker repeats one unit of work in the background until asked to stop. Units that fail because a partition
	// is between owners are counted as retries, not failures.
	worker struct {
		name    string
		unit    unitFunc
		pause   time.Duration
		started chan struct{}
		done    chan struct{}
		stop    context.CancelFunc
		mu      sync.Mutex
		r       workerResult
	}
)

var ErrStartTimeout = errors.New("background worker did not complete its first unit within start gate timeout")

// startWorker launches the worker. The stop signal is checked between units only; a unit in flight runs to
// completion against the parent context.
func startWorker(ctx context.Context, name string, unit unitFunc, pause time.Duration) *worker {

	stopCtx, stop := context.WithCancel(ctx)
	w := &worker{
		name:    name,
		unit:    unit,
		pause:   pause,
		started: make(chan struct{}),
		done:    make(chan struct{}),
		stop:    stop,
	}

	go w.loop(ctx, stopCtx)

	return w

}

func (w *worker) loop(ctx, stopCtx context.Context) {

	defer close(w.done)
	gateOpen := false

	for {
		w.account(w.run(ctx))

		if !gateOpen {
			close(w.started)
			gateOpen = true
		}

		select {
		case <-stopCtx.Done():
			return
		case <-time.After(w.pause):
		}
	}

}

// run executes one unit. A panicking unit counts as failed so the worker keeps its gates and the process survives.
func (w *worker) run(ctx context.Context) (err error) {

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: background unit panicked: %v", ErrUnexpected, p)
		}
	}()

	return w.unit(ctx)

}

func (w *worker) account(err error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	w.r.Units++
	switch {
	case err == nil:
	case errors.Is(err, grid.ErrPartitionUnavailable):
		w.r.Retries++
		lp.LogScenarioEvent(w.name, fmt.Sprintf("background unit hit partition without owner, retrying: %v", err), log.DebugLevel)
	default:
		w.r.Failures++
		if w.r.FirstError == nil {
			w.r.FirstError = err
		}
		lp.LogScenarioEvent(w.name, fmt.Sprintf("background unit failed: %v", err), log.WarnLevel)
	}

}

func (w *worker) result() workerResult {

	w.mu.Lock()
	defer w.mu.Unlock()

	return w.r

}

func (w *worker) awaitStart(timeout time.Duration) error {

	select {
	case <-w.started:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w: %v", ErrStartTimeout, timeout)
	}

}

// stopAndJoin signals the worker and waits up to timeout for it to exit. A worker that does not exit in time is
// abandoned; the result then covers the units completed so far.
func (w *worker) stopAndJoin(timeout time.Duration) (workerResult, bool) {

	w.stop()

	select {
	case <-w.done:
		return w.result(), true
	case <-time.After(timeout):
		lp.LogScenarioEvent(w.name, fmt.Sprintf("background worker did not exit within %v", timeout), log.WarnLevel)
		return w.result(), false
	}

}
