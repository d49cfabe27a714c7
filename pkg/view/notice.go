package view

import "time"

// Level is the severity of a Notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a transient, non-blocking message for the reviewer.
type Notice struct {
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Notify queues a notice. A ttl of zero keeps it until Dismiss.
func (s *State) Notify(level Level, message string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := Notice{Level: level, Message: message, CreatedAt: now}
	if ttl > 0 {
		n.ExpiresAt = now.Add(ttl)
	}
	s.notices = append(s.notices, n)
}

// Notices returns the live notices, newest first, and forgets expired ones.
func (s *State) Notices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	live := s.notices[:0]
	for _, n := range s.notices {
		if n.ExpiresAt.IsZero() || now.Before(n.ExpiresAt) {
			live = append(live, n)
		}
	}
	s.notices = live

	out := make([]Notice, len(live))
	for i, n := range live {
		out[len(live)-1-i] = n
	}
	return out
}

// Dismiss drops every queued notice.
func (s *State) Dismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = nil
}
