package callwire

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SessionState represents the lifecycle state of a call session.
type SessionState int

const (
	// StateIdle is the initial state before the first start.
	StateIdle SessionState = iota
	// StateRequesting is the call-placing request phase, retries included.
	StateRequesting
	// StateConnecting is the media-stream dial phase.
	StateConnecting
	// StateActive is a live call: capture running, frames flowing.
	StateActive
	// StateEnding is a deliberate end in progress.
	StateEnding
	// StateEnded is a session that finished cleanly.
	StateEnded
	// StateFailed is a session that terminated with an error; Reason
	// carries the cause.
	StateFailed
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRequesting:
		return "REQUESTING"
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateEnding:
		return "ENDING"
	case StateEnded:
		return "ENDED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// SessionEvent is the interface for all session events.
type SessionEvent interface {
	EventType() string
}

// StateChangeEvent is emitted on every state transition. Reason is non-nil
// only when the new state is Failed.
type StateChangeEvent struct {
	From   SessionState
	To     SessionState
	Reason error
}

func (e *StateChangeEvent) EventType() string { return "state.changed" }

// CaptureSource produces microphone audio for a session. Start yields an
// ordered stream of PCM chunks that closes once the device is released;
// Stop releases the device and is safe to call more than once.
type CaptureSource interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Stop()
}

// Session orchestrates one call session end to end: place the call, open
// the media stream, pump microphone audio out, dispatch inbound frames, and
// tear everything down exactly once on any exit path. A Session owns at
// most one live call's resources at a time; once a run reaches Ended or
// Failed the same Session may be started again for a fresh call.
type Session struct {
	client   *Client
	capture  CaptureSource
	playback PlaybackSink

	mu     sync.Mutex
	state  SessionState
	reason error
	stream *MediaStream
	cancel context.CancelFunc
	done   chan struct{}

	events chan SessionEvent
}

// NewSession creates a session controller. capture must not be nil;
// playback may be nil for callers that only consume transcripts.
func NewSession(client *Client, capture CaptureSource, playback PlaybackSink) *Session {
	return &Session{
		client:   client,
		capture:  capture,
		playback: playback,
		state:    StateIdle,
		events:   make(chan SessionEvent, 100),
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns the failure cause of the last run, or nil.
func (s *Session) Reason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Events returns the channel carrying state changes and transcript lines.
// The channel spans all runs of the controller and is never closed; a
// StateChangeEvent to Ended or Failed marks the end of a run.
func (s *Session) Events() <-chan SessionEvent {
	return s.events
}

// Done returns a channel closed when the current run has finished and all
// of its resources are released. Before the first start it is already
// closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Start places the call and drives the session to Active: request with
// retries, stream open, capture start, outbound pump. It returns once the
// session is Active or has terminally failed. Ending the session mid-start
// (or cancelling ctx) abandons the in-flight step and lands in Ended with a
// nil error rather than a failure. Valid from Idle, Ended, or Failed only.
func (s *Session) Start(ctx context.Context, call CallRequest) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateEnded, StateFailed:
	default:
		state := s.state
		s.mu.Unlock()
		return NewInvalidStateError(fmt.Sprintf("cannot start session while %s", state))
	}
	from := s.state
	runCtx, cancel := context.WithCancel(ctx)
	s.state = StateRequesting
	s.reason = nil
	s.stream = nil
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.emit(&StateChangeEvent{From: from, To: StateRequesting})

	if s.capture == nil {
		return s.failOrEnd(NewCaptureUnavailableError("no capture source configured", nil))
	}

	callID, err := s.client.PlaceCall(runCtx, call)
	if err != nil {
		return s.failOrEnd(err)
	}

	s.setState(StateConnecting)

	dispatcher := NewDispatcher(s.playback, sessionTranscript{s}, s.client.logger)
	stream := s.client.MediaStream(dispatcher)

	if err := stream.Open(runCtx, callID); err != nil {
		return s.failOrEnd(err)
	}

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	frames, err := s.capture.Start(runCtx)
	if err != nil {
		_ = stream.Close()
		return s.failOrEnd(NewCaptureUnavailableError("microphone unavailable", err))
	}

	s.setState(StateActive)

	go s.run(runCtx, stream, frames)
	return nil
}

// End terminates the session from any point in its lifecycle: mid-request,
// mid-retry-wait, mid-dial, or while Active. It abandons whatever step is
// in flight, waits until all resources are released, and lands the session
// in Ended. Ending a session that was never started is an invalid state
// error; ending one that already finished is a no-op.
func (s *Session) End() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return NewInvalidStateError("session has not been started")
	case StateEnded, StateFailed:
		s.mu.Unlock()
		return nil
	case StateEnding:
		done := s.done
		s.mu.Unlock()
		<-done
		return nil
	}
	from := s.state
	s.state = StateEnding
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	s.emit(&StateChangeEvent{From: from, To: StateEnding})
	if cancel != nil {
		cancel()
	}
	<-done
	return nil
}

// run supervises an active session until the stream ends or the run context
// is cancelled, then releases capture and transport and resolves the
// terminal state.
func (s *Session) run(ctx context.Context, stream *MediaStream, frames <-chan []byte) {
	go func() {
		for pcm := range frames {
			if err := stream.Send(pcm); err != nil {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		s.capture.Stop()
		_ = stream.Close()
		s.finish(nil)
	case <-stream.Done():
		err := stream.Err()
		s.capture.Stop()
		_ = stream.Close()
		s.finish(err)
	}
}

// failOrEnd resolves a failed start step. A cancellation, whether from End
// or from the caller's context, finishes in Ended with no error; everything
// else is a terminal failure surfaced to the caller.
func (s *Session) failOrEnd(err error) error {
	if errors.Is(err, context.Canceled) {
		s.finish(nil)
		return nil
	}
	s.finish(err)
	return err
}

// finish resolves the terminal state of the current run and releases its
// waiters. An explicit End always lands in Ended, even when a transport
// error raced it; otherwise a non-nil err means Failed with that reason.
func (s *Session) finish(err error) {
	s.mu.Lock()
	from := s.state
	if from == StateEnded || from == StateFailed {
		s.mu.Unlock()
		return
	}
	to := StateEnded
	if from != StateEnding && err != nil {
		to = StateFailed
		s.reason = err
	}
	s.state = to
	done := s.done
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	event := &StateChangeEvent{From: from, To: to}
	if to == StateFailed {
		event.Reason = err
	}
	s.emit(event)

	if done != nil {
		close(done)
	}
}

// setState advances a start in progress and emits the change. It never
// clobbers an end that raced it: once the session is Ending or finished the
// start path keeps going only until its next step observes the cancelled
// run context.
func (s *Session) setState(to SessionState) {
	s.mu.Lock()
	from := s.state
	if from == StateEnding || from == StateEnded || from == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	if from != to {
		s.emit(&StateChangeEvent{From: from, To: to})
	}
}

// emit delivers an event without ever blocking the caller. When the
// consumer lags behind the buffer the event is dropped; state remains
// queryable through State.
func (s *Session) emit(event SessionEvent) {
	select {
	case s.events <- event:
	default:
	}
}

// sessionTranscript forwards dispatched transcript lines into the session's
// event channel, preserving arrival order.
type sessionTranscript struct {
	s *Session
}

func (t sessionTranscript) OnTranscript(sender, text string) {
	t.s.emit(TranscriptEvent{Sender: sender, Text: text})
}
