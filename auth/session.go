// Package auth opens marketplace sessions, either through the hosted
// embedded-wallet provider's email OTP flow or by a wallet signing a login
// challenge, and keeps them until they expire.
package auth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a session issued by Sessions stays valid
const DefaultSessionTTL = 24 * time.Hour

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionExpired = errors.New("session expired")
)

// Session is an authenticated wallet
type Session struct {
	Token     string    `json:"accessToken"`
	Wallet    string    `json:"walletAddress"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is no longer valid at now
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Sessions is an in-memory, expiry-aware session store
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessions creates a store issuing sessions valid for ttl (DefaultSessionTTL when 0)
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue creates a session for wallet
func (s *Sessions) Issue(wallet, email string) *Session {
	session := &Session{
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		Wallet:    wallet,
		Email:     email,
		ExpiresAt: s.now().Add(s.ttl),
	}
	s.Put(session)
	return session
}

// Put stores a session issued elsewhere, e.g. by the wallet provider
func (s *Sessions) Put(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *session
	s.sessions[session.Token] = &c
}

// Lookup resolves a bearer token
func (s *Sessions) Lookup(token string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	if session.Expired(s.now()) {
		s.Revoke(token)
		return nil, ErrSessionExpired
	}
	c := *session
	return &c, nil
}

// Revoke ends a session
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// Sweep drops expired sessions and returns how many were removed
func (s *Sessions) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}
