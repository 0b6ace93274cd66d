package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/LampLure/taoshiwan-auto-answer/internal/accounts"
	"github.com/LampLure/taoshiwan-auto-answer/internal/config"
	"github.com/LampLure/taoshiwan-auto-answer/internal/events"
	"github.com/LampLure/taoshiwan-auto-answer/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func roster(n int) []accounts.Account {
	out := make([]accounts.Account, n)
	for i := range out {
		out[i] = accounts.Account{Username: string(rune('a' + i))}
	}
	return out
}

func sizes(assignments []Assignment) []int {
	out := make([]int, len(assignments))
	for i, a := range assignments {
		out[i] = len(a.Accounts)
	}
	return out
}

func TestDistributeRemainderGoesFirst(t *testing.T) {
	a := Distribute(roster(7), 3)
	assert.Equal(t, []int{3, 2, 2}, sizes(a))
	assert.Equal(t, 0, a[0].Start)
	assert.Equal(t, 3, a[1].Start)
	assert.Equal(t, 5, a[2].Start)
}

func TestDistributeExactPartition(t *testing.T) {
	a := Distribute(roster(6), 3)
	assert.Equal(t, []int{2, 2, 2}, sizes(a))
}

func TestDistributeMoreWorkersThanAccounts(t *testing.T) {
	a := Distribute(roster(2), 5)
	assert.Equal(t, []int{1, 1}, sizes(a))
}

func TestDistributeEmptyRoster(t *testing.T) {
	assert.Nil(t, Distribute(nil, 3))
}

func TestDistributeCoversEveryAccountOnce(t *testing.T) {
	list := roster(11)
	seen := map[string]int{}
	for _, a := range Distribute(list, 4) {
		for _, acct := range a.Accounts {
			seen[acct.Username]++
		}
	}
	require.Len(t, seen, 11)
	for name, n := range seen {
		assert.Equal(t, 1, n, "account %s", name)
	}
}

type recordingRunner struct {
	mu      sync.Mutex
	indices []int
	errs    map[int]error
	closed  bool
}

func (r *recordingRunner) RunAccount(ctx context.Context, index int, acct accounts.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indices = append(r.indices, index)
	return r.errs[index]
}

func (r *recordingRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingRunner) seen() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]int(nil), r.indices...)
	sort.Ints(out)
	return out
}

func TestWorkerAdvancesPastAccountFailure(t *testing.T) {
	r := &recordingRunner{errs: map[int]error{1: errors.New("boom")}}
	w := NewWorker(0, Assignment{Start: 0, Accounts: roster(3)}, r, events.Nop{}, nil)
	w.Run(context.Background())
	assert.Equal(t, []int{0, 1, 2}, r.seen(), "a failed account must not stop the slice")
}

func TestWorkerStopMarksRemainingInterrupted(t *testing.T) {
	r := &recordingRunner{errs: map[int]error{3: session.ErrStopped}}
	sink := events.NewChannelSink(16)
	w := NewWorker(1, Assignment{Start: 2, Accounts: roster(4)}, r, sink, nil)
	w.Run(context.Background())
	sink.Close()

	var interrupted []int
	finished := 0
	for e := range sink.Events() {
		switch {
		case e.Kind == events.KindStatus && e.Status == accounts.StatusInterrupted:
			interrupted = append(interrupted, e.Account)
		case e.Kind == events.KindFinished:
			finished++
		}
	}
	assert.Equal(t, []int{2, 3}, r.seen(), "stop at the second account")
	assert.Equal(t, []int{4, 5}, interrupted, "untouched tail flagged with global indices")
	assert.Equal(t, 1, finished)
}

func TestOrchestratorRunsEveryAccountOnce(t *testing.T) {
	cfg := config.Default()
	cfg.Workers.Count = 3
	cfg.Workers.StaggerMs = 1

	shared := &recordingRunner{}
	sink := events.NewChannelSink(128)
	o := NewOrchestrator(cfg,
		func(ctx context.Context, workerID int, s events.Sink) (Runner, error) {
			return shared, nil
		}, sink, nil)

	require.NoError(t, o.Run(context.Background(), roster(7)))
	sink.Close()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, shared.seen())
	assert.Len(t, o.Runners(), 3)

	var finished []int
	for e := range sink.Events() {
		if e.Kind == events.KindFinished {
			finished = append(finished, e.Worker)
		}
	}
	require.Len(t, finished, 4, "one event per worker plus the run-level one")
	assert.Equal(t, -1, finished[3], "the run-level event arrives after every worker reported")
	assert.ElementsMatch(t, []int{0, 1, 2}, finished[:3])
}

func TestOrchestratorRunnerFactoryFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Workers.Count = 2
	cfg.Workers.StaggerMs = 1

	o := NewOrchestrator(cfg,
		func(ctx context.Context, workerID int, s events.Sink) (Runner, error) {
			if workerID == 1 {
				return nil, errors.New("no browser")
			}
			return &recordingRunner{}, nil
		}, events.Nop{}, nil)

	err := o.Run(context.Background(), roster(4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker 1")
}

func TestOrchestratorEmptyRoster(t *testing.T) {
	o := NewOrchestrator(config.Default(),
		func(ctx context.Context, workerID int, s events.Sink) (Runner, error) {
			return &recordingRunner{}, nil
		}, events.Nop{}, nil)
	assert.Error(t, o.Run(context.Background(), nil))
}
