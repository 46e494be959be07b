package commands

import (
	"context"
	"sync"

	"github.com/jensholdgaard/auction-house/internal/coordinator"
	"github.com/jensholdgaard/auction-house/internal/market"
)

// Session is one Discord user's view of the auction house.
type Session struct {
	Store       *market.Store
	Coordinator *coordinator.Coordinator
}

// Sessions creates a Session per user on first use and keeps it.
type Sessions struct {
	newSession func(userID string) *Session

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates an empty set that builds sessions with fn.
func NewSessions(fn func(userID string) *Session) *Sessions {
	return &Sessions{newSession: fn, sessions: make(map[string]*Session)}
}

// Get returns userID's session, creating it if needed.
func (s *Sessions) Get(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = s.newSession(userID)
		s.sessions[userID] = sess
	}
	return sess
}

// Wait blocks until every session's in-flight commits are reconciled.
func (s *Sessions) Wait(ctx context.Context) error {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	for _, sess := range all {
		if err := sess.Coordinator.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
