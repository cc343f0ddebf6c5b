package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"medistream/constant"
)

var ErrInvalidTransition = errors.New("invalid session transition")

// transitions is the allowed lifecycle. stopped and error are terminal for a
// given session; restarting a stopped stream always creates a new session.
var transitions = map[constant.StreamStatus][]constant.StreamStatus{
	constant.StreamStatusIdle:      {constant.StreamStatusRecording, constant.StreamStatusStopped, constant.StreamStatusError},
	constant.StreamStatusRecording: {constant.StreamStatusStopped, constant.StreamStatusError},
	constant.StreamStatusStopped:   {},
	constant.StreamStatusError:     {},
}

// Session is the recorder-owned state machine for one stream. All status
// reads across the pipeline's async callbacks go through here instead of
// flags captured in closures.
type Session struct {
	mu        sync.Mutex
	streamId  uuid.UUID
	status    constant.StreamStatus
	err       error
	updatedAt time.Time
}

func NewSession(streamId uuid.UUID) *Session {
	return &Session{
		streamId:  streamId,
		status:    constant.StreamStatusIdle,
		updatedAt: time.Now(),
	}
}

func (s *Session) StreamId() uuid.UUID {
	return s.streamId
}

func (s *Session) Status() constant.StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the failure that moved the session to error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func (s *Session) Transition(to constant.StreamStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, allowed := range transitions[s.status] {
		if allowed == to {
			s.status = to
			s.updatedAt = time.Now()
			return nil
		}
	}
	return ErrInvalidTransition
}

// Fail moves the session to error from any non-terminal state and records
// the cause. Failing an already-terminal session keeps the first cause.
func (s *Session) Fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = constant.StreamStatusError
	s.err = cause
	s.updatedAt = time.Now()
}
