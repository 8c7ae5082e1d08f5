package dialer

import (
	"context"
	"sync"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/pkg/logger"
)

// runtime is the in-process state of one campaign. It outlives Stop while
// calls it placed are still live, so late terminal events find their campaign,
// and is evicted once dormant: inactive, unpinned and with no live calls.
//
// Lock order: ctl, then tickMu, then mu.
type runtime struct {
	id string

	// ctl serializes start, stop and resume.
	ctl sync.Mutex
	// tickMu makes scheduling passes single-flight.
	tickMu sync.Mutex

	mu          sync.Mutex
	campaign    Campaign
	active      bool
	stats       Stats
	activeCalls map[string]activeCall

	events chan eventRequest
	quit   chan struct{}

	// pins counts callers holding the runtime outside the ticker. Guarded by
	// Engine.mu.
	pins int

	stopTicker context.CancelFunc
	tickerDone chan struct{}
}

// activeCall is keyed by provider call id in runtime.activeCalls.
type activeCall struct {
	contactID string
	callID    string
	startedAt time.Time
	// checkedAt is the last provider status poll for a quiet call.
	checkedAt time.Time
}

type eventRequest struct {
	ctx context.Context
	ev  calls.Event
	// onlyTracked drops a completion whose call is no longer in activeCalls.
	onlyTracked bool
	done        chan error
}

func (e *Engine) lookup(id string) *runtime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runtimes[id]
}

// runtime returns the runtime for c pinned, creating a dormant one from the
// persisted row if none exists yet. Callers must unpin it.
func (e *Engine) runtime(c Campaign) (*runtime, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if rt, ok := e.runtimes[c.ID]; ok {
		rt.pins++
		return rt, nil
	}
	rt := &runtime{
		id:          c.ID,
		campaign:    c,
		stats:       c.Stats,
		activeCalls: map[string]activeCall{},
		events:      make(chan eventRequest),
		quit:        make(chan struct{}),
		pins:        1,
	}
	e.runtimes[c.ID] = rt
	e.wg.Add(1)
	go e.eventLoop(rt)
	return rt, nil
}

// pinned returns the existing runtime for id pinned, or nil.
func (e *Engine) pinned(id string) *runtime {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	rt := e.runtimes[id]
	if rt != nil {
		rt.pins++
	}
	return rt
}

// unpin drops a reference taken by runtime or pinned and evicts the runtime
// once it is dormant. Every counter of a dormant runtime is already persisted.
// Callers must not hold rt.mu.
func (e *Engine) unpin(rt *runtime) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rt.pins--
	if rt.pins > 0 || e.closed || e.runtimes[rt.id] != rt {
		return
	}
	rt.mu.Lock()
	dormant := !rt.active && len(rt.activeCalls) == 0
	rt.mu.Unlock()
	if !dormant {
		return
	}
	delete(e.runtimes, rt.id)
	close(rt.quit)
}

// attachTicker starts the recurring pass. Caller holds rt.ctl.
func (e *Engine) attachTicker(rt *runtime) {
	ctx, cancel := context.WithCancel(e.ctx)
	done := make(chan struct{})
	rt.stopTicker = cancel
	rt.tickerDone = done

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)

		log := logger.From(ctx).With("campaign_id", rt.id)
		t := time.NewTicker(e.tickInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				res, err := e.tick(ctx, rt)
				if err != nil {
					log.Error("campaign tick failed", "err", err)
					continue
				}
				if res.Claimed > 0 {
					log.Debug("campaign tick", "claimed", res.Claimed, "placed", res.Placed, "failed", res.Failed)
				}
			}
		}
	}()
}

// detachTicker cancels the ticker and waits for its goroutine, including any
// pass it is running. Caller holds rt.ctl.
func (rt *runtime) detachTicker() {
	if rt.stopTicker == nil {
		return
	}
	rt.stopTicker()
	<-rt.tickerDone
	rt.stopTicker = nil
	rt.tickerDone = nil
}

func (e *Engine) eventLoop(rt *runtime) {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-rt.quit:
			return
		case req := <-rt.events:
			req.done <- e.applyEvent(context.WithoutCancel(req.ctx), rt, req.ev, req.onlyTracked)
		}
	}
}

// submit hands ev to the campaign's event loop and waits for the result.
func (rt *runtime) submit(ctx context.Context, engineDone <-chan struct{}, ev calls.Event) error {
	return rt.send(ctx, engineDone, eventRequest{ctx: ctx, ev: ev, done: make(chan error, 1)})
}

// submitTracked is submit for completions the engine derives itself; they
// apply only while the call still holds a slot.
func (rt *runtime) submitTracked(ctx context.Context, engineDone <-chan struct{}, ev calls.Event) error {
	return rt.send(ctx, engineDone, eventRequest{ctx: ctx, ev: ev, onlyTracked: true, done: make(chan error, 1)})
}

func (rt *runtime) send(ctx context.Context, engineDone <-chan struct{}, req eventRequest) error {
	select {
	case rt.events <- req:
	case <-engineDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-engineDone:
		return ErrClosed
	}
}
