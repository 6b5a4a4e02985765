// Package correlator matches asynchronous TR callbacks back to the
// requests that caused them. The broker reports results through a
// shared callback stream keyed only by the request name, so every
// dispatched query gets a unique generated name and a pending entry;
// the callback resolves the entry exactly once, and a waiter that gives
// up first consumes the entry instead.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"kiwoomd/internal/broker"
	"kiwoomd/internal/logger"
)

var (
	// ErrTimeout means no callback arrived inside the request deadline.
	// The caller receives it together with an empty result so screens
	// can render blanks instead of stale data.
	ErrTimeout = errors.New("tr request timed out")
	// ErrShutdown means the correlator was closed while the request was
	// still pending.
	ErrShutdown = errors.New("correlator closed")
)

// Request describes one bulk query. TrCode doubles as the id prefix so
// late or mangled callbacks can still be attributed (see HandleTrData).
type Request struct {
	TrCode string
	// Input is staged via SetInput before dispatch.
	Input map[string]string
	// Fields are read per row; Summary fields are read once at row 0.
	Fields  []string
	Summary []string
	Screen  string
	// Next is 0 for a fresh query, 2 to continue a paged one.
	Next    int
	Timeout time.Duration
}

// RowResult is a resolved query. Field values are verbatim broker
// strings; normalization is the consumer's concern.
type RowResult struct {
	Rows    []map[string]string
	Summary map[string]string
	// Continuation is "2" when the broker holds more pages.
	Continuation string
}

type outcome struct {
	res RowResult
	err error
}

type pendingQuery struct {
	id     string
	trCode string
	// ord orders entries by registration; seq cannot, it wraps.
	ord     uint64
	fields  []string
	summary []string
	ch      chan outcome // cap 1, send happens at most once
}

// Correlator serializes dispatches through the exclusive context and
// pairs them with their OnTrData callbacks.
type Correlator struct {
	ctrl broker.Control
	iv   *broker.Invoker

	mu      sync.Mutex
	seq     int
	ord     uint64
	pending map[string]*pendingQuery
	closed  bool
}

func New(ctrl broker.Control, iv *broker.Invoker) *Correlator {
	return &Correlator{
		ctrl:    ctrl,
		iv:      iv,
		pending: make(map[string]*pendingQuery),
	}
}

// DefaultTimeout applies when a Request carries none.
const DefaultTimeout = 5 * time.Second

// Query dispatches req and blocks until its callback, its deadline, or
// ctx. On timeout the result is empty, never partial.
func (c *Correlator) Query(ctx context.Context, req Request) (RowResult, error) {
	p, err := c.register(req)
	if err != nil {
		return RowResult{}, err
	}

	err = c.iv.InvokeSync(ctx, func() error {
		for k, v := range req.Input {
			c.ctrl.SetInput(k, v)
		}
		if code := c.ctrl.Dispatch(p.id, req.TrCode, req.Next, req.Screen); code != 0 {
			return &broker.DispatchError{Op: "CommRqData " + req.TrCode, Code: code}
		}
		return nil
	})
	if err != nil {
		c.abandon(p)
		return RowResult{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.ch:
		return out.res, out.err
	case <-timer.C:
		if out, resolved := c.consume(p); resolved {
			return out.res, out.err
		}
		logger.Warnf("correlator: %s timed out after %v", p.id, timeout)
		return RowResult{}, ErrTimeout
	case <-ctx.Done():
		if out, resolved := c.consume(p); resolved {
			return out.res, out.err
		}
		return RowResult{}, ctx.Err()
	}
}

func (c *Correlator) register(req Request) (*pendingQuery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrShutdown
	}
	seq := c.seq
	c.seq = (c.seq + 1) % 10000
	c.ord++
	p := &pendingQuery{
		id:      fmt.Sprintf("%s_%04d", req.TrCode, seq),
		trCode:  req.TrCode,
		ord:     c.ord,
		fields:  req.Fields,
		summary: req.Summary,
		ch:      make(chan outcome, 1),
	}
	c.pending[p.id] = p
	return p, nil
}

// abandon drops a pending entry that will never see a callback.
func (c *Correlator) abandon(p *pendingQuery) {
	c.mu.Lock()
	delete(c.pending, p.id)
	c.mu.Unlock()
}

// consume is the loser's side of the resolution race. If the entry is
// still pending the waiter takes ownership and the eventual callback is
// treated as an orphan; if the callback already claimed it, its send is
// guaranteed, so block for the result.
func (c *Correlator) consume(p *pendingQuery) (outcome, bool) {
	c.mu.Lock()
	_, stillPending := c.pending[p.id]
	if stillPending {
		delete(c.pending, p.id)
	}
	c.mu.Unlock()
	if stillPending {
		return outcome{}, false
	}
	return <-p.ch, true
}

// HandleTrData resolves one callback. It runs on the exclusive context,
// so reading row data back through the control is safe here and only
// here. Unmatched callbacks are logged and dropped.
func (c *Correlator) HandleTrData(ev broker.TrDataEvent) {
	p := c.claim(ev)
	if p == nil {
		logger.Warnf("correlator: orphan callback rqname=%q trcode=%s", ev.RQName, ev.TrCode)
		return
	}
	res := RowResult{Continuation: strings.TrimSpace(ev.Continuation)}
	if len(p.summary) > 0 {
		res.Summary = make(map[string]string, len(p.summary))
		for _, f := range p.summary {
			res.Summary[f] = c.ctrl.Field(ev.TrCode, ev.RQName, 0, f)
		}
	}
	if len(p.fields) > 0 {
		n := c.ctrl.RowCount(ev.TrCode, ev.RQName)
		res.Rows = make([]map[string]string, 0, n)
		for i := 0; i < n; i++ {
			row := make(map[string]string, len(p.fields))
			for _, f := range p.fields {
				row[f] = c.ctrl.Field(ev.TrCode, ev.RQName, i, f)
			}
			res.Rows = append(res.Rows, row)
		}
	}
	p.ch <- outcome{res: res}
}

// claim removes and returns the pending entry for ev. Exact id match
// first; if the broker mangled the request name, fall back to the
// oldest pending query of the same TR code. The fallback can in theory
// pair a late callback with the wrong waiter of the same code, which is
// accepted: both asked the same question.
func (c *Correlator) claim(ev broker.TrDataEvent) *pendingQuery {
	id := strings.TrimSpace(ev.RQName)
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[id]; ok {
		delete(c.pending, id)
		return p
	}
	var oldest *pendingQuery
	prefix := ev.TrCode + "_"
	for _, p := range c.pending {
		if !strings.HasPrefix(p.id, prefix) {
			continue
		}
		if oldest == nil || p.ord < oldest.ord {
			oldest = p
		}
	}
	if oldest != nil {
		logger.Warnf("correlator: matched %q to %s by tr code", ev.RQName, oldest.id)
		delete(c.pending, oldest.id)
	}
	return oldest
}

// Close fails every in-flight request and rejects new ones.
func (c *Correlator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, p := range c.pending {
		delete(c.pending, id)
		p.ch <- outcome{err: ErrShutdown}
	}
}

// PendingCount is exposed for the status endpoint.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
