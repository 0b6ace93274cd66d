// Package cleanup tears down every browser a run has opened inside a hard
// wall-clock budget. Graceful quits are attempted first and escalated per
// target; a name-based process sweep is the last resort for browsers whose
// pid was never learned.
package cleanup

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Target is one browser-owning component. *session.Controller satisfies it.
type Target interface {
	// Close quits the browser gracefully.
	Close() error
	// ForceKill terminates the browser process without handshake.
	ForceKill()
	// PID reports the browser process id, or 0 when unknown.
	PID() int
}

// ProcessReaper kills stray browser processes the graceful path missed.
type ProcessReaper interface {
	// Kill terminates one process by pid.
	Kill(pid int) error
	// KillByName terminates every process whose command line matches name.
	KillByName(name string) error
}

// OSReaper is the real ProcessReaper.
type OSReaper struct{}

func (OSReaper) Kill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := p.Kill(); err != nil {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}

func (OSReaper) KillByName(name string) error {
	if err := exec.Command("pkill", "-f", name).Run(); err != nil {
		return fmt.Errorf("pkill %s: %w", name, err)
	}
	return nil
}

// Coordinator shuts down all targets concurrently within its budget.
type Coordinator struct {
	budget      time.Duration
	grace       time.Duration
	reaper      ProcessReaper
	processName string
	logger      *zap.Logger
}

func New(budget time.Duration, reaper ProcessReaper, logger *zap.Logger) *Coordinator {
	if budget <= 0 {
		budget = 5 * time.Second
	}
	grace := 2 * time.Second
	if grace > budget/2 {
		grace = budget / 2
	}
	if reaper == nil {
		reaper = OSReaper{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		budget:      budget,
		grace:       grace,
		reaper:      reaper,
		processName: "chrome",
		logger:      logger,
	}
}

// Shutdown closes every target. Each gets a grace window for a clean quit,
// then its process is killed; targets that never report inside the overall
// budget are killed by pid, and a name sweep runs only when a stray browser
// has no known pid.
func (c *Coordinator) Shutdown(targets []Target) {
	if len(targets) == 0 {
		return
	}
	start := time.Now()

	type outcome struct {
		idx    int
		err    error
		forced bool
	}
	results := make(chan outcome, len(targets))

	pids := make([]int, len(targets))
	for i, t := range targets {
		pids[i] = t.PID()
		go func(i int, t Target) {
			closed := make(chan error, 1)
			go func() { closed <- t.Close() }()
			select {
			case err := <-closed:
				if err != nil {
					t.ForceKill()
				}
				results <- outcome{idx: i, err: err}
			case <-time.After(c.grace):
				t.ForceKill()
				results <- outcome{idx: i, forced: true}
			}
		}(i, t)
	}

	handled := make([]bool, len(targets))
	timer := time.NewTimer(c.budget)
	defer timer.Stop()

	collected := 0
collect:
	for collected < len(targets) {
		select {
		case o := <-results:
			collected++
			handled[o.idx] = true
			switch {
			case o.forced:
				c.logger.Warn("browser close timed out, process killed",
					zap.Int("pid", pids[o.idx]))
			case o.err != nil:
				c.logger.Warn("browser close failed, process killed",
					zap.Int("pid", pids[o.idx]), zap.Error(o.err))
			}
		case <-timer.C:
			break collect
		}
	}

	sweep := false
	for i, ok := range handled {
		if ok {
			continue
		}
		if pids[i] > 0 {
			if err := c.reaper.Kill(pids[i]); err != nil {
				c.logger.Warn("pid kill failed", zap.Int("pid", pids[i]), zap.Error(err))
				sweep = true
			}
		} else {
			sweep = true
		}
	}
	if sweep {
		c.logger.Warn("sweeping stray browser processes", zap.String("name", c.processName))
		if err := c.reaper.KillByName(c.processName); err != nil {
			c.logger.Warn("process sweep failed", zap.Error(err))
		}
	}

	c.logger.Info("cleanup finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("targets", len(targets)))
}
