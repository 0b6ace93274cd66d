package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(s *ChannelSink) []Event {
	s.Close()
	var out []Event
	for e := range s.Events() {
		out = append(out, e)
	}
	return out
}

func TestChannelSinkDelivers(t *testing.T) {
	s := NewChannelSink(4)
	s.Emit(Event{Worker: 0, Account: 2, Kind: KindStatus, Status: "已完成"})
	s.Emit(Event{Worker: 1, Account: -1, Kind: KindFinished})

	got := drain(s)
	require.Len(t, got, 2)
	assert.Equal(t, KindStatus, got[0].Kind)
	assert.Equal(t, "已完成", got[0].Status)
	assert.Equal(t, KindFinished, got[1].Kind)
}

func TestChannelSinkDropsChatterWhenFull(t *testing.T) {
	s := NewChannelSink(1)
	s.Emit(Event{Kind: KindLog, Message: "kept"})
	s.Emit(Event{Kind: KindLog, Message: "dropped"})

	got := drain(s)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Message)
}

func TestChannelSinkNeverDropsStatus(t *testing.T) {
	s := NewChannelSink(1)
	s.Emit(Event{Kind: KindLog, Message: "filler"})

	delivered := make(chan struct{})
	go func() {
		s.Emit(Event{Kind: KindStatus, Status: "已完成"})
		close(delivered)
	}()

	first := <-s.Events()
	assert.Equal(t, "filler", first.Message)
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("status emit did not complete once the buffer had room")
	}

	got := drain(s)
	require.Len(t, got, 1)
	assert.Equal(t, KindStatus, got[0].Kind)
	assert.Equal(t, "已完成", got[0].Status)
}

func TestFilteredPassesImportantAndStatus(t *testing.T) {
	inner := NewChannelSink(8)
	f := Filtered{Next: inner}

	f.Emit(Event{Kind: KindLog, Message: "chatter"})
	f.Emit(Event{Kind: KindProgress, Percent: 40})
	f.Emit(Event{Kind: KindLog, Message: "account done", Important: true})
	f.Emit(Event{Kind: KindProgress, Percent: 50, Important: true})
	f.Emit(Event{Kind: KindStatus, Status: "出错"})
	f.Emit(Event{Kind: KindFinished})

	got := drain(inner)
	require.Len(t, got, 4)
	assert.Equal(t, "account done", got[0].Message)
	assert.Equal(t, KindProgress, got[1].Kind)
	assert.Equal(t, KindStatus, got[2].Kind)
	assert.Equal(t, KindFinished, got[3].Kind)
}

func TestTeeFansOut(t *testing.T) {
	a := NewChannelSink(4)
	b := NewChannelSink(4)
	Tee{a, b}.Emit(Event{Message: "hello"})

	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}
