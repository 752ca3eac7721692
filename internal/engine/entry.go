package engine

import (
	"context"
	"sync"

	"github.com/specialistvlad/buildgridgo/internal/graph"
	"github.com/specialistvlad/buildgridgo/internal/rule"
	"github.com/specialistvlad/buildgridgo/internal/workunit"
)

// computation is one in-flight execution of a node. Its result fields are
// written exactly once, before done is closed, and are immutable afterward,
// so waiters read them without the entry lock.
type computation struct {
	done    chan struct{}
	cancel  context.CancelFunc
	waiters int

	value rule.Value
	err   error
}

// entry is the scheduling state of one node: the memoized result of its last
// completed epoch plus the in-flight computation, if any.
type entry struct {
	node *graph.Node

	mu       sync.Mutex
	memoized bool
	dirty    bool
	value    rule.Value
	err      error
	inflight *computation
}

func (ent *entry) markDirty() {
	ent.mu.Lock()
	defer ent.mu.Unlock()
	ent.dirty = true
}

// demand returns the node's result, starting a computation if none is
// memoized or in flight. Concurrent demanders of the same node attach to
// the single in-flight computation; the result is broadcast to all of them.
func (e *Engine) demand(ctx context.Context, n *graph.Node) (rule.Value, error) {
	ent := e.entryFor(n)

	ent.mu.Lock()
	if ent.memoized && !ent.dirty {
		value, err := ent.value, ent.err
		ent.mu.Unlock()
		return value, err
	}

	c := ent.inflight
	if c != nil {
		c.waiters++
	} else {
		runCtx, cancel := context.WithCancel(e.baseCtx)
		runCtx = workunit.Inherit(runCtx, ctx)
		c = &computation{done: make(chan struct{}), cancel: cancel, waiters: 1}
		ent.inflight = c
		ent.dirty = false
		go e.run(runCtx, ent, c)
	}
	ent.mu.Unlock()

	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		e.abandon(ent, c)
		return rule.Value{}, &Error{Kind: classify(ctx.Err()), Node: n.String(), Err: ctx.Err()}
	}
}

// abandon detaches a waiter whose context died. The computation is
// cancelled only when its last waiter detaches, which gives
// reference-counted cancellation: work shared with another live request
// keeps running.
func (e *Engine) abandon(ent *entry, c *computation) {
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.inflight != c {
		return
	}
	c.waiters--
	if c.waiters <= 0 {
		c.cancel()
	}
}

// finish publishes a computation's result and wakes every waiter. Results
// are memoized for the epoch unless the computation was cancelled or timed
// out, so a later demand retries transient outcomes.
func (e *Engine) finish(ent *entry, c *computation, value rule.Value, err error) {
	ent.mu.Lock()
	c.value, c.err = value, err
	if ent.inflight == c {
		ent.inflight = nil
		if memoizable(err) {
			ent.memoized = true
			ent.value, ent.err = value, err
		}
	}
	ent.mu.Unlock()
	close(c.done)
	c.cancel()
}
