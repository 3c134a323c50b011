// Package signals delivers security events to an external collaborator on a
// fire-and-forget basis. Emission never blocks a request and never fails it.
package signals

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a single security signal
type Event struct {
	Kind      string         `json:"kind"`
	AdminID   string         `json:"admin_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Scope     string         `json:"scope,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	At        time.Time      `json:"at"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Event kinds emitted by this module
const (
	KindStepUpDenied    = "step_up_denied"
	KindLoginFailed     = "login_failed"
	KindSessionRevoked  = "session_revoked"
	KindSecondFactorSet = "second_factor_enrolled"
)

// Sink receives events. Implementations must tolerate concurrent calls.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// LogSink writes events to the default slog logger
type LogSink struct{}

// Emit logs the event
func (LogSink) Emit(_ context.Context, ev Event) {
	slog.Warn("security signal",
		"kind", ev.Kind,
		"admin_id", ev.AdminID,
		"session_id", ev.SessionID,
		"scope", ev.Scope,
		"request_id", ev.RequestID,
	)
}

// Dispatcher fans events out to a sink from a buffered channel. Emit is
// non-blocking: when the buffer is full the event is dropped and counted.
type Dispatcher struct {
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher over sink with the given buffer size
func NewDispatcher(sink Sink, bufferSize int) *Dispatcher {
	if sink == nil {
		sink = LogSink{}
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}

	d := &Dispatcher{
		sink: sink,
		ch:   make(chan Event, bufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case ev := <-d.ch:
			d.sink.Emit(context.Background(), ev)
		case <-d.done:
			// Drain whatever is still buffered, then stop
			for {
				select {
				case ev := <-d.ch:
					d.sink.Emit(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

// Emit queues an event without blocking. A nil dispatcher is a no-op so
// callers never need to guard emission.
func (d *Dispatcher) Emit(ev Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	select {
	case d.ch <- ev:
	default:
		d.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the buffer was full
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Close drains buffered events and stops the dispatcher
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}
