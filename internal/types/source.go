package types

import (
	"fmt"
	"sync"
)

// DefaultPort is the ZVM REST API port
const DefaultPort = 9669

// Source identifies one monitored ZVM. The cache keys on the *Source
// pointer, so each physical endpoint must be represented by exactly one value.
type Source struct {
	Label    string
	Address  string
	Port     int
	Username string
	Password string

	mu    sync.RWMutex
	token string
}

// BaseURL returns the REST endpoint root of the ZVM
func (s *Source) BaseURL() string {
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("https://%s:%d", s.Address, port)
}

// Token returns the current session token, empty when not logged in
func (s *Source) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the session token
func (s *Source) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// String implements fmt.Stringer without leaking credentials
func (s *Source) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.Label
}
