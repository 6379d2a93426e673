package scheduler

import (
	"sync"

	"github.com/vampirenirmal/storyfactory/internal/domain"
)

// SessionStatus is the control state of one active run.
type SessionStatus string

const (
	SessionRunning SessionStatus = "running"
	SessionPaused  SessionStatus = "paused"
	SessionStopped SessionStatus = "stopped"
	SessionDone    SessionStatus = "done"
)

// Session is the in-memory control block for one project run. Control flags
// are observed cooperatively at chapter boundaries; an in-flight chapter is
// never cancelled mid-call.
type Session struct {
	mu sync.Mutex

	ProjectID    string
	StartChapter int
	EndChapter   int

	status          SessionStatus
	shouldStop      bool
	chaptersWritten int
	chaptersFailed  int
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

func (s *Session) ShouldStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldStop
}

func (s *Session) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == SessionPaused
}

func (s *Session) pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == SessionRunning {
		s.status = SessionPaused
	}
}

func (s *Session) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == SessionPaused {
		s.status = SessionRunning
	}
}

func (s *Session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldStop = true
	if s.status == SessionRunning || s.status == SessionPaused {
		s.status = SessionStopped
	}
}

func (s *Session) recordResult(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		s.chaptersWritten++
	} else {
		s.chaptersFailed++
	}
}

// Progress reports chapters written and failed so far.
func (s *Session) Progress() (written, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chaptersWritten, s.chaptersFailed
}

// sessions is the process-wide projectID to Session table. Control endpoints
// reach running loops through it.
type sessions struct {
	mu sync.Mutex
	m  map[string]*Session
}

func newSessions() *sessions {
	return &sessions{m: make(map[string]*Session)}
}

// create registers a fresh session, replacing any finished predecessor.
func (t *sessions) create(projectID string, start, end int) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &Session{
		ProjectID:    projectID,
		StartChapter: start,
		EndChapter:   end,
		status:       SessionRunning,
	}
	t.m[projectID] = s
	return s
}

func (t *sessions) get(projectID string) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.m[projectID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (t *sessions) remove(projectID string, s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Only the loop that owns the session may remove it; a replacement
	// session created meanwhile stays.
	if t.m[projectID] == s {
		delete(t.m, projectID)
	}
}
