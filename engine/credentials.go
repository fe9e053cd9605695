package engine

import "sync"

// CredentialStore holds API credentials keyed by their conventional
// environment-variable name. It replaces process-wide environment mutation so
// credential updates stay scoped to the engine that uses them.
type CredentialStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewCredentialStore creates an empty credential store
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{keys: make(map[string]string)}
}

// Set stores or replaces the credential for key
func (s *CredentialStore) Set(key, value string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = value
}

// Get returns the credential for key, or empty if unset
func (s *CredentialStore) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[key]
}
