// Package worker spreads the account roster over concurrent browser
// sessions. Each worker owns one Runner (and so one browser) and walks a
// contiguous slice of the roster; workers never share accounts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LampLure/taoshiwan-auto-answer/internal/accounts"
	"github.com/LampLure/taoshiwan-auto-answer/internal/config"
	"github.com/LampLure/taoshiwan-auto-answer/internal/events"
	"github.com/LampLure/taoshiwan-auto-answer/internal/session"
)

// Runner processes single accounts. *session.Controller satisfies it.
type Runner interface {
	RunAccount(ctx context.Context, index int, acct accounts.Account) error
	Close() error
}

// Assignment is one worker's contiguous share of the roster. Start is the
// global index of its first account, so emitted events address the full
// roster, not the slice.
type Assignment struct {
	Start    int
	Accounts []accounts.Account
}

// Distribute splits the roster into count contiguous slices. Sizes differ
// by at most one, with the remainder going to the earlier slices: 7 accounts
// over 3 workers yields 3, 2, 2.
func Distribute(list []accounts.Account, count int) []Assignment {
	if count <= 0 {
		count = 1
	}
	if count > len(list) {
		count = len(list)
	}
	if count == 0 {
		return nil
	}

	base := len(list) / count
	extra := len(list) % count

	out := make([]Assignment, 0, count)
	start := 0
	for i := 0; i < count; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, Assignment{Start: start, Accounts: list[start : start+size]})
		start += size
	}
	return out
}

// Worker runs one assignment to completion on one Runner.
type Worker struct {
	id         int
	assignment Assignment
	runner     Runner
	sink       events.Sink
	logger     *zap.Logger
}

func NewWorker(id int, assignment Assignment, runner Runner, sink events.Sink, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = events.Nop{}
	}
	return &Worker{id: id, assignment: assignment, runner: runner, sink: sink, logger: logger}
}

// Run processes every assigned account in order. Per-account failures are
// already recorded by the runner and do not stop the slice; only an
// operator stop or context cancellation ends it early.
func (w *Worker) Run(ctx context.Context) {
	defer w.sink.Emit(events.Event{Worker: w.id, Account: -1, Kind: events.KindFinished})

	for i, acct := range w.assignment.Accounts {
		global := w.assignment.Start + i
		err := w.runner.RunAccount(ctx, global, acct)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			w.markRemaining(global + 1)
			w.logger.Info("worker stopped early", zap.Int("worker", w.id), zap.Int("at", global))
			return
		default:
			w.logger.Warn("account failed, advancing",
				zap.Int("worker", w.id),
				zap.String("account", acct.Username),
				zap.Error(err))
		}

		w.sink.Emit(events.Event{
			Worker:    w.id,
			Account:   global,
			Kind:      events.KindProgress,
			Percent:   100 * (i + 1) / len(w.assignment.Accounts),
			Message:   acct.Username,
			Important: true,
		})
	}
}

// markRemaining flags the untouched tail of the slice as interrupted so the
// roster file reflects what never ran.
func (w *Worker) markRemaining(from int) {
	for i := from - w.assignment.Start; i < len(w.assignment.Accounts); i++ {
		w.sink.Emit(events.Event{
			Worker:  w.id,
			Account: w.assignment.Start + i,
			Kind:    events.KindStatus,
			Status:  accounts.StatusInterrupted,
		})
	}
}

// RunnerFactory builds one Runner per worker. The factory is called from
// the worker's own goroutine; implementations must be safe for concurrent
// calls.
type RunnerFactory func(ctx context.Context, workerID int, sink events.Sink) (Runner, error)

// Orchestrator fans a roster out over staggered workers.
type Orchestrator struct {
	cfg       config.Config
	newRunner RunnerFactory
	sink      events.Sink
	logger    *zap.Logger
	runners   []Runner
}

func NewOrchestrator(cfg config.Config, newRunner RunnerFactory, sink events.Sink, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = events.Nop{}
	}
	return &Orchestrator{cfg: cfg, newRunner: newRunner, sink: sink, logger: logger}
}

// Runners returns the runners created so far, for teardown.
func (o *Orchestrator) Runners() []Runner { return o.runners }

// Run processes the whole roster and blocks until every worker finishes.
// With more than one worker each worker's sink is importance-filtered so
// the combined stream stays readable.
func (o *Orchestrator) Run(ctx context.Context, roster []accounts.Account) error {
	assignments := Distribute(roster, o.cfg.Workers.WorkerCount())
	if len(assignments) == 0 {
		return fmt.Errorf("no accounts to process")
	}

	workerSink := o.sink
	if len(assignments) > 1 {
		workerSink = events.Filtered{Next: o.sink}
	}

	// Runners are created up front so teardown can reach every browser even
	// if a later worker's start fails.
	o.runners = make([]Runner, len(assignments))
	for i := range assignments {
		r, err := o.newRunner(ctx, i, workerSink)
		if err != nil {
			return fmt.Errorf("start worker %d: %w", i, err)
		}
		o.runners[i] = r
	}

	o.logger.Info("run starting",
		zap.Int("accounts", len(roster)),
		zap.Int("workers", len(assignments)))

	g, ctx := errgroup.WithContext(ctx)
	for i, a := range assignments {
		i, a := i, a
		g.Go(func() error {
			// Staggered starts keep the site from seeing a login burst.
			if i > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Duration(i) * o.cfg.Workers.Stagger()):
				}
			}
			NewWorker(i, a, o.runners[i], workerSink, o.logger).Run(ctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Every worker has reported in; tell stream consumers the whole run is
	// over with a single event they can match on Worker -1.
	o.sink.Emit(events.Event{Worker: -1, Account: -1, Kind: events.KindFinished})
	o.logger.Info("run finished", zap.Int("workers", len(assignments)))
	return nil
}
