// Package state holds the platform-state handle threaded through every call
// into the application core.
package state

import (
	"fmt"
	"sync"
)

// Handle is an opaque token owned and interpreted by the core. The host only
// stores it and hands it back. The zero Handle is the null state.
type Handle uint32

// IsNull reports whether h is the null state.
func (h Handle) IsNull() bool {
	return h == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("state#%08x", uint32(h))
}

// Session carries one platform-state handle across host calls. It is created
// by an init call and passed to every dispatch that follows.
//
// Calls against a session are serialised: Acquire blocks until the previous
// call has released it.
type Session struct {
	call sync.Mutex

	mu          sync.RWMutex
	handle      Handle
	initialized bool
	calls       uint64
}

// NewSession returns a session holding the null state.
func NewSession() *Session {
	return &Session{}
}

// Read returns the current handle.
func (s *Session) Read() Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

// Write replaces the current handle unconditionally.
func (s *Session) Write(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
	s.calls++
}

// MarkInitialized records that an init call completed on this session.
func (s *Session) MarkInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
}

// Initialized reports whether an init call has completed.
func (s *Session) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Calls returns how many core invocations have written this session.
func (s *Session) Calls() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// Acquire takes exclusive use of the session for one core invocation.
func (s *Session) Acquire() {
	s.call.Lock()
}

// Release ends the invocation started by Acquire.
func (s *Session) Release() {
	s.call.Unlock()
}
