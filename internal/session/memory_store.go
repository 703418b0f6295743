package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps refresh sessions and the access-token denylist in
// process memory. It backs single-node deployments running without
// Redis; sessions do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	revoked  map[string]time.Time
}

type memorySession struct {
	identity  Identity
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memorySession),
		revoked:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) SaveRefreshSession(ctx context.Context, tokenHash string, identity Identity, expiresAt time.Time) error {
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now()
	}
	if time.Until(expiresAt) <= 0 {
		expiresAt = time.Now().Add(defaultTTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Keeps the map bounded without a janitor goroutine.
	s.purgeExpiredLocked()
	s.sessions[tokenHash] = memorySession{identity: identity, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[tokenHash]
	if !ok {
		return Identity{}, ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.sessions, tokenHash)
		return Identity{}, ErrNotFound
	}
	return entry.identity, nil
}

func (s *MemoryStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

func (s *MemoryStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if time.Until(expiresAt) <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked()
	s.revoked[jti] = expiresAt
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.revoked[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiresAt) {
		delete(s.revoked, jti)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]memorySession)
	s.revoked = make(map[string]time.Time)
	return nil
}

func (s *MemoryStore) purgeExpiredLocked() {
	now := time.Now()
	for hash, entry := range s.sessions {
		if now.After(entry.expiresAt) {
			delete(s.sessions, hash)
		}
	}
	for jti, expiresAt := range s.revoked {
		if now.After(expiresAt) {
			delete(s.revoked, jti)
		}
	}
}
