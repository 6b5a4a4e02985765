package broker

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"kiwoomd/internal/logger"
)

// Invoker owns the exclusive execution context. One goroutine runs every
// call into the Control and delivers every callback out of it; violating
// that corrupts the control's internal state, so nothing else may touch
// it directly.
//
// Invoke from an arbitrary goroutine enqueues the action and hands back a
// future. Invoke from within the loop itself (i.e. from inside a
// callback) runs the action synchronously, which keeps callback handlers
// free to issue follow-up control calls without deadlocking.
type Invoker struct {
	tasks   chan *Call
	stopCh  chan struct{}
	wg      sync.WaitGroup
	loopGID atomic.Int64
	stopped atomic.Bool
}

// Call is the future for one scheduled action.
type Call struct {
	fn   func() error
	err  error
	done chan struct{}
}

// Err returns the action's outcome; only valid after done is closed.
func (c *Call) Err() error { return c.err }

// Wait blocks until the action finished or ctx is canceled. The action
// keeps running on the loop either way; a canceled waiter just stops
// waiting.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func NewInvoker(queueSize int) *Invoker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Invoker{
		tasks:  make(chan *Call, queueSize),
		stopCh: make(chan struct{}),
	}
}

func (iv *Invoker) Start() {
	iv.wg.Add(1)
	go iv.runLoop()
}

func (iv *Invoker) Stop() {
	if iv.stopped.Swap(true) {
		return
	}
	close(iv.stopCh)
	iv.wg.Wait()
}

func (iv *Invoker) runLoop() {
	defer iv.wg.Done()
	iv.loopGID.Store(goroutineID())
	logger.Infof("invoker: exclusive context started")
	for {
		select {
		case call := <-iv.tasks:
			iv.execute(call)
		case <-iv.stopCh:
			// Drain what is already queued so no waiter hangs.
			for {
				select {
				case call := <-iv.tasks:
					call.err = fmt.Errorf("invoker stopped")
					close(call.done)
				default:
					logger.Infof("invoker: exclusive context stopped")
					return
				}
			}
		}
	}
}

func (iv *Invoker) execute(call *Call) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("invoker: action panicked: %v", r)
			debug.PrintStack()
			call.err = fmt.Errorf("panic on exclusive context: %v", r)
		}
		close(call.done)
		if dur := time.Since(start); dur > 500*time.Millisecond {
			logger.Warnf("invoker: slow action took %v", dur)
		}
	}()
	call.err = call.fn()
}

// Invoke schedules fn onto the exclusive context and returns its future.
// When called from the loop goroutine it runs fn immediately.
func (iv *Invoker) Invoke(fn func() error) *Call {
	call := &Call{fn: fn, done: make(chan struct{})}
	if iv.onLoop() {
		iv.execute(call)
		return call
	}
	// After Stop both select arms can be ready; a task enqueued then
	// would never run and its waiter would hang.
	if iv.stopped.Load() {
		call.err = fmt.Errorf("invoker stopped")
		close(call.done)
		return call
	}
	select {
	case iv.tasks <- call:
	case <-iv.stopCh:
		call.err = fmt.Errorf("invoker stopped")
		close(call.done)
	}
	return call
}

// InvokeSync is Invoke followed by Wait.
func (iv *Invoker) InvokeSync(ctx context.Context, fn func() error) error {
	return iv.Invoke(fn).Wait(ctx)
}

func (iv *Invoker) onLoop() bool {
	gid := iv.loopGID.Load()
	return gid != 0 && gid == goroutineID()
}

// goroutineID parses the current goroutine id out of the runtime stack
// header ("goroutine 123 ["). There is no public accessor; the header
// format has been stable across every supported Go release.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	frame := buf[:n]
	frame = bytes.TrimPrefix(frame, []byte("goroutine "))
	if idx := bytes.IndexByte(frame, ' '); idx > 0 {
		frame = frame[:idx]
	}
	id, err := strconv.ParseInt(string(frame), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
