package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrStopped is returned from any gate point after the operator requests a
// stop. It is not an account failure; statuses become interrupted, not
// errored.
var ErrStopped = errors.New("run stopped")

// Control carries the operator's pause/resume/stop intent into every worker.
// One Control is shared by all workers in a run.
type Control struct {
	paused  atomic.Bool
	stopped atomic.Bool
}

func NewControl() *Control { return &Control{} }

func (c *Control) Pause()  { c.paused.Store(true) }
func (c *Control) Resume() { c.paused.Store(false) }
func (c *Control) Stop()   { c.stopped.Store(true) }

func (c *Control) Stopped() bool { return c.stopped.Load() }
func (c *Control) Paused() bool  { return c.paused.Load() }

// Gate blocks while paused and returns ErrStopped once stopped. Sessions
// call it between page operations so pause takes effect at the next step
// boundary rather than mid-interaction.
func (c *Control) Gate(ctx context.Context) error {
	for {
		if c.stopped.Load() {
			return ErrStopped
		}
		if !c.paused.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
