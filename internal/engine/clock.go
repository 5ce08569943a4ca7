package engine

import (
	"context"
	"sync"
	"time"
)

// autosaveEveryTicks is the autosave cadence: one fire-and-forget snapshot
// enqueue every ten one-second ticks.
const autosaveEveryTicks = 10

// clock is the countdown ticker bound to one active session. It is
// cancelled, not paused, whenever the session leaves Active.
type clock struct {
	stopOnce sync.Once
	stopped  chan struct{}
}

func newClock() *clock {
	return &clock{stopped: make(chan struct{})}
}

// stop cancels the tick loop. Safe to call more than once.
func (k *clock) stop() {
	k.stopOnce.Do(func() { close(k.stopped) })
}

// startClockLocked spawns the tick loop for the current session.
// Caller holds c.mu.
func (c *Controller) startClockLocked() {
	k := newClock()
	c.clock = k

	go func() {
		ticker := time.NewTicker(c.deps.tickInterval())
		defer ticker.Stop()

		for {
			select {
			case <-k.stopped:
				return
			case <-ticker.C:
				if !c.tick() {
					k.stop()
					return
				}
			}
		}
	}()
}

// tick advances the countdown by one second, fires the terminal routine at
// zero, and enqueues an autosave snapshot on cadence. Returns false once
// the session has left Active.
func (c *Controller) tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusActive {
		return false
	}

	c.ticks++
	c.remaining--

	// The decremented counter is advisory; wall-clock elapsed time is the
	// source of truth and wins whenever the two disagree.
	wall := c.sess.TimeLimitSeconds - int(c.deps.now().Sub(c.sess.StartedAt)/time.Second)
	if wall < c.remaining {
		c.remaining = wall
	}

	if c.remaining <= 0 {
		c.remaining = 0
		if err := c.terminalLocked(context.Background(), true); err != nil {
			// Terminal write failed — the session stays Active and the next
			// tick retries the auto-submit.
			c.log.Error().Err(err).Msg("Auto-submit failed, retrying next tick")
			return true
		}
		return false
	}

	if c.ticks%autosaveEveryTicks == 0 {
		// Enqueue never blocks; autosave latency must not stall the loop.
		c.deps.Cache.Enqueue(c.sess.ID, c.snapshotLocked())
	}

	return true
}
