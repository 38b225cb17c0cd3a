package autosave

import (
	"sort"
	"sync"
	"time"
)

// ManualClock is a Clock whose callbacks run synchronously from Advance. It lets callers
// step through debounce windows without sleeping.
type ManualClock struct {
	mu      sync.Mutex
	elapsed time.Duration
	seq     int
	timers  []*manualTimer
}

type manualTimer struct {
	clock    *ManualClock
	due      time.Duration
	seq      int
	callback func()
	done     bool
}

// NewManualClock returns a clock at elapsed time zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// AfterFunc registers callback to run once Advance passes the delay.
func (c *ManualClock) AfterFunc(delay time.Duration, callback func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	timer := &manualTimer{clock: c, due: c.elapsed + delay, seq: c.seq, callback: callback}
	c.timers = append(c.timers, timer)
	return timer
}

// Elapsed returns the total advanced duration.
func (c *ManualClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Advance moves the clock forward and runs due callbacks in due order.
func (c *ManualClock) Advance(step time.Duration) {
	c.mu.Lock()
	target := c.elapsed + step
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.elapsed = target
			c.mu.Unlock()
			return
		}
		next.done = true
		c.elapsed = next.due
		c.mu.Unlock()

		next.callback()
	}
}

// Waiting returns the number of registered callbacks that have neither fired nor stopped.
func (c *ManualClock) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, timer := range c.timers {
		if !timer.done {
			count++
		}
	}
	return count
}

func (c *ManualClock) nextDueLocked(target time.Duration) *manualTimer {
	live := c.timers[:0]
	for _, timer := range c.timers {
		if !timer.done {
			live = append(live, timer)
		}
	}
	c.timers = live
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].due == c.timers[j].due {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].due < c.timers[j].due
	})
	if len(c.timers) == 0 || c.timers[0].due > target {
		return nil
	}
	return c.timers[0]
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}
