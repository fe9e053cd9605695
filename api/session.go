package api

import (
	"context"
	"sync"
)

// SessionState tracks the generation task lifecycle for one session
type SessionState int

const (
	// StateIdle means no generation task exists
	StateIdle SessionState = iota
	// StateRunning means a generation task is executing
	StateRunning
	// StateStopped is terminal: the session has been torn down
	StateStopped
)

// String returns the string representation of the session state
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// sendBufferSize bounds the per-session outbound queue. A client that cannot
// drain this many frames is treated as broken and disconnected.
const sendBufferSize = 256

// Session is the per-client state bundle: the outbound queue and the handle
// of the at-most-one generation task.
type Session struct {
	// ClientID is the opaque connection identifier assigned at connect time
	ClientID string

	// send carries marshaled outbound frames to the connection writer, in
	// enqueue order
	send chan []byte

	// taskMu serializes generation task transitions (start/replace/stop)
	taskMu sync.Mutex

	// mu guards the fields below
	mu     sync.Mutex
	state  SessionState
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func newSession(clientID string) *Session {
	return &Session{
		ClientID: clientID,
		send:     make(chan []byte, sendBufferSize),
	}
}

// State returns the current session state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Frames exposes the outbound queue to the connection writer
func (s *Session) Frames() <-chan []byte {
	return s.send
}

// enqueue appends a marshaled frame to the outbound queue. It reports false
// when the session is closed (expected when sends race a disconnect) or the
// queue is full (broken client).
func (s *Session) enqueue(data []byte) (ok, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.send <- data:
		return true, false
	default:
		return false, true
	}
}

// startTask replaces any live generation task with a new one running run.
// Replace semantics: the previous task is cancelled and its exit is awaited
// before the new task starts, so two loops never race on one connection.
func (s *Session) startTask(run func(ctx context.Context)) {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	taskDone := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancelFn()
		return
	}
	s.cancel = cancelFn
	s.done = taskDone
	s.state = StateRunning
	s.mu.Unlock()

	go func() {
		defer close(taskDone)
		run(ctx)
	}()
}

// stopTask cancels the live generation task, if any. With wait set the call
// blocks until the task acknowledges cancellation; without it cancellation is
// fire-and-forget so teardown is never blocked.
func (s *Session) stopTask(wait bool) {
	s.taskMu.Lock()

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	if s.state == StateRunning {
		s.state = StateIdle
	}
	s.mu.Unlock()

	s.taskMu.Unlock()

	if cancel != nil {
		cancel()
		if wait {
			<-done
		}
	}
}

// close cancels any live task and closes the outbound queue. Idempotent.
func (s *Session) close() {
	s.stopTask(false)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.state = StateStopped
	close(s.send)
}
