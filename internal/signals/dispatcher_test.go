package signals

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// captureSink records emitted events
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcher_EmitAndClose(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, 16)

	for i := 0; i < 5; i++ {
		d.Emit(Event{Kind: KindStepUpDenied, Scope: "admin_create"})
	}

	d.Close()

	assert.Equal(t, 5, sink.count(), "all buffered events should be delivered on close")
	assert.Equal(t, uint64(0), d.Dropped())
}

func TestDispatcher_EmitAfterCloseIsNoop(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, 4)
	d.Close()

	d.Emit(Event{Kind: KindLoginFailed})
	assert.Equal(t, 0, sink.count())
}

func TestDispatcher_NilIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Emit(Event{Kind: KindSessionRevoked})
	d.Close()
	assert.Equal(t, uint64(0), d.Dropped())
}

func TestDispatcher_SetsTimestamp(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, 4)

	d.Emit(Event{Kind: KindSecondFactorSet})
	d.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if assert.Len(t, sink.events, 1) {
		assert.WithinDuration(t, time.Now().UTC(), sink.events[0].At, time.Minute)
	}
}
