// Package coordinator implements the per-table concurrent-write
// coordinator: one mutual-exclusion lock per table, a bounded submission
// queue, and lock-acquisition timeouts. A bounded channel backs the
// queue, atomic counters track stats, and context cancellation is
// honored after a queue slot is claimed and until the lock is acquired —
// a generic task pool narrowed into a per-key serializing gate.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/reedbase/reedbase/pkg/reederr"
)

// Write is the unit of work a coordinator serializes. It runs with the
// table's lock held and returns nil on commit or an error; a
// ConflictDetected error is counted in the table's Stats.
type Write func(ctx context.Context) error

type tableGate struct {
	mu       sync.Mutex
	queue    chan struct{}
	tasks    int64
	conflict int64
}

// Coordinator owns one gate per table name, created lazily on first use.
type Coordinator struct {
	lockTimeout time.Duration
	queueSize   int

	mu    sync.Mutex
	gates map[string]*tableGate
}

// New creates a coordinator with the given lock-acquisition timeout and
// per-table queue depth.
func New(lockTimeout time.Duration, queueSize int) *Coordinator {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Coordinator{
		lockTimeout: lockTimeout,
		queueSize:   queueSize,
		gates:       make(map[string]*tableGate),
	}
}

func (c *Coordinator) gateFor(table string) *tableGate {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.gates[table]
	if !ok {
		g = &tableGate{queue: make(chan struct{}, c.queueSize)}
		c.gates[table] = g
	}
	return g
}

// Submit enqueues w against table and runs it once the table's lock is
// acquired. Returns QueueFull at once, without waiting, if the table's
// queue is saturated. Once a slot is claimed, an already-done ctx returns
// ctx.Err(); a ctx cancelled while waiting for the lock, or the
// coordinator's configured timeout expiring first, returns LockTimeout.
// Once the lock is held, w always runs to completion.
func (c *Coordinator) Submit(ctx context.Context, table string, w Write) error {
	g := c.gateFor(table)

	select {
	case g.queue <- struct{}{}:
	default:
		return reederr.New(reederr.KindQueueFull, "write queue saturated for table "+table)
	}
	defer func() { <-g.queue }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	defer cancel()

	locked := make(chan struct{})
	go func() {
		g.mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
	case <-lockCtx.Done():
		// The goroutine above will still acquire g.mu eventually and
		// immediately unlock it again; we never got to run w.
		go func() { <-locked; g.mu.Unlock() }()
		return reederr.New(reederr.KindLockTimeout, "lock acquisition timed out for table "+table)
	}
	defer g.mu.Unlock()

	g.tasks++
	if err := w(ctx); err != nil {
		if reederr.Of(err) == reederr.KindConflictDetected {
			g.conflict++
		}
		return err
	}
	return nil
}

// Stats reports coordinator activity for one table.
type Stats struct {
	Writes     int64
	Conflicts  int64
	QueueDepth int
	QueueMax   int
}

// StatsFor returns current counters for table, or a zero Stats if no
// write has ever touched it.
func (c *Coordinator) StatsFor(table string) Stats {
	c.mu.Lock()
	g, ok := c.gates[table]
	c.mu.Unlock()
	if !ok {
		return Stats{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Writes:     g.tasks,
		Conflicts:  g.conflict,
		QueueDepth: len(g.queue),
		QueueMax:   cap(g.queue),
	}
}
