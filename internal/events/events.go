// Package events carries run progress from workers to whatever front end is
// consuming it. Workers emit; the command layer decides how to render.
package events

import (
	"sync"

	"go.uber.org/zap"
)

// Kind discriminates event payloads.
type Kind int

const (
	// KindLog is a free-form progress line.
	KindLog Kind = iota
	// KindStatus is an account status transition.
	KindStatus
	// KindProgress reports completion percentage with a description.
	KindProgress
	// KindFinished marks a worker as done with its whole slice. The
	// orchestrator emits one more with Worker -1 once every worker has
	// reported, marking the whole run complete.
	KindFinished
)

// Event is one unit of progress. Account is the global roster index, or -1
// when the event is not about a specific account.
type Event struct {
	Worker  int
	Account int
	Kind    Kind
	Status  string
	Message string
	// Percent accompanies KindProgress, in [0,100].
	Percent int
	// Important marks lines that must survive multi-worker filtering:
	// account boundaries, errors, recoveries and final outcomes.
	Important bool
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(Event) {}

// ChannelSink buffers events for a consuming goroutine. Log and progress
// chatter is dropped when the buffer is full; status and finish events carry
// state the consumer must see, so Emit blocks for those until the buffer has
// room.
type ChannelSink struct {
	ch   chan Event
	once sync.Once
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(e Event) {
	switch e.Kind {
	case KindStatus, KindFinished:
		s.ch <- e
	default:
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Events returns the consumer side of the buffer.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Close ends the stream. Emit after Close would panic, so callers must stop
// all workers first.
func (s *ChannelSink) Close() {
	s.once.Do(func() { close(s.ch) })
}

// Filtered drops unimportant log and progress chatter, keeping multi-worker
// output readable. Status and finish events always pass.
type Filtered struct {
	Next Sink
}

func (f Filtered) Emit(e Event) {
	if (e.Kind == KindLog || e.Kind == KindProgress) && !e.Important {
		return
	}
	f.Next.Emit(e)
}

// LoggerSink mirrors events into a zap logger, used when no interactive
// consumer is attached.
type LoggerSink struct {
	Logger *zap.Logger
}

func (l LoggerSink) Emit(e Event) {
	fields := []zap.Field{zap.Int("worker", e.Worker)}
	if e.Account >= 0 {
		fields = append(fields, zap.Int("account", e.Account))
	}
	switch e.Kind {
	case KindStatus:
		l.Logger.Info("account status", append(fields, zap.String("status", e.Status))...)
	case KindProgress:
		l.Logger.Info("progress", append(fields, zap.Int("percent", e.Percent), zap.String("desc", e.Message))...)
	case KindFinished:
		l.Logger.Info("worker finished", fields...)
	default:
		l.Logger.Info(e.Message, fields...)
	}
}

// Tee fans one event out to several sinks.
type Tee []Sink

func (t Tee) Emit(e Event) {
	for _, s := range t {
		s.Emit(e)
	}
}
