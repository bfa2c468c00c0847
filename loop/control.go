// Package loop implements Components F and G: the single-threaded
// deferred-work control loop and the single-threaded real-time data loop
// (§3 invariants, §4.4, §5, §9).
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package loop

import (
	"sync"

	"github.com/553481221/pipewire/wire"
)

// Task is one unit of deferred work run on the control loop's single
// goroutine, in the order it was enqueued (§5 "strict FIFO within a loop").
type Task func()

// contKey identifies one outstanding async-completion continuation by the
// object that issued it (a node or link id) and its sequence number (§9
// "Async completion coupling").
type contKey struct {
	obj string
	seq int64
}

// ControlLoop is Component F: a single-threaded deferred-work queue plus
// the (obj, seq) -> continuation table that async_complete fires into.
type ControlLoop struct {
	tasks chan Task
	done  chan struct{}
	wg    sync.WaitGroup

	contMu        sync.Mutex
	continuations map[contKey]func(wire.Result)

	onTick func()
}

// SetOnTick installs a hook run once per task drained off the queue
// (pipewire_control_loop_ticks_total).
func (c *ControlLoop) SetOnTick(fn func()) { c.onTick = fn }

// NewControlLoop builds a control loop with a generously sized task queue;
// Defer blocks once it fills, which is the backpressure signal that a
// caller is enqueuing faster than the loop drains.
func NewControlLoop() *ControlLoop {
	return &ControlLoop{
		tasks:         make(chan Task, 1024),
		done:          make(chan struct{}),
		continuations: make(map[contKey]func(wire.Result)),
	}
}

// Start runs the loop's single goroutine.
func (c *ControlLoop) Start() {
	c.wg.Add(1)
	go c.run()
}

func (c *ControlLoop) run() {
	defer c.wg.Done()
	for {
		select {
		case t := <-c.tasks:
			t()
			c.tick()
		case <-c.done:
			// Drain whatever is already queued before exiting so a Stop
			// racing with in-flight Defer calls doesn't drop work silently.
			for {
				select {
				case t := <-c.tasks:
					t()
					c.tick()
				default:
					return
				}
			}
		}
	}
}

func (c *ControlLoop) tick() {
	if c.onTick != nil {
		c.onTick()
	}
}

// Stop signals the loop to drain and exit, and waits for it to do so.
func (c *ControlLoop) Stop() {
	close(c.done)
	c.wg.Wait()
}

// Defer enqueues fn to run on the loop, preserving FIFO order relative to
// every other Defer call (§5).
func (c *ControlLoop) Defer(fn Task) {
	c.tasks <- fn
}

// Register records a continuation for (obj, seq); Complete looks it up and
// fires it exactly once (§9).
func (c *ControlLoop) Register(obj string, seq int64, cont func(wire.Result)) {
	c.contMu.Lock()
	defer c.contMu.Unlock()
	c.continuations[contKey{obj, seq}] = cont
}

// Complete enqueues the (obj, seq) continuation lookup-and-fire onto the
// control loop itself, so a continuation always runs with the same
// ordering guarantees as any other deferred task.
func (c *ControlLoop) Complete(obj string, seq int64, result wire.Result) {
	c.Defer(func() {
		c.contMu.Lock()
		key := contKey{obj, seq}
		cont, ok := c.continuations[key]
		if ok {
			delete(c.continuations, key)
		}
		c.contMu.Unlock()
		if ok {
			cont(result)
		}
	})
}

// Pending reports the number of continuations still awaiting completion,
// for the pipewire_control_loop_ticks_total-adjacent diagnostics.
func (c *ControlLoop) Pending() int {
	c.contMu.Lock()
	defer c.contMu.Unlock()
	return len(c.continuations)
}
