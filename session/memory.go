package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
// A single mutex covers every operation, which gives Rotate the same
// exactly-one-winner guarantee as the Redis script.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	byID    map[string]map[string]struct{}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		byID:    make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	if rec.TokenHash == "" || rec.IdentityID == "" {
		return errors.New("session: record needs token hash and identity id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.records[stored.TokenHash] = stored
	if s.byID[stored.IdentityID] == nil {
		s.byID[stored.IdentityID] = make(map[string]struct{})
	}
	s.byID[stored.IdentityID][stored.TokenHash] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tokenHash string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	if !rec.ExpiresAt.After(time.Now()) {
		s.remove(tokenHash)
		return nil, ErrExpired
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Rotate(_ context.Context, oldHash, newHash string, expiresAt time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[oldHash]
	if !ok {
		return nil, ErrNotFound
	}
	s.remove(oldHash)
	if !rec.ExpiresAt.After(time.Now()) {
		return nil, ErrExpired
	}

	rotated := rec.clone()
	rotated.TokenHash = newHash
	rotated.ExpiresAt = expiresAt
	s.records[newHash] = rotated
	if s.byID[rotated.IdentityID] == nil {
		s.byID[rotated.IdentityID] = make(map[string]struct{})
	}
	s.byID[rotated.IdentityID][newHash] = struct{}{}
	return rotated.clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(tokenHash)
	return nil
}

func (s *MemoryStore) DeleteAllForIdentity(_ context.Context, identityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes := s.byID[identityID]
	for h := range hashes {
		delete(s.records, h)
	}
	delete(s.byID, identityID)
	return len(hashes), nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for h, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			s.remove(h)
			removed++
		}
	}
	return removed, nil
}

// remove expects s.mu held.
func (s *MemoryStore) remove(tokenHash string) {
	rec, ok := s.records[tokenHash]
	if !ok {
		return
	}
	delete(s.records, tokenHash)
	if set := s.byID[rec.IdentityID]; set != nil {
		delete(set, tokenHash)
		if len(set) == 0 {
			delete(s.byID, rec.IdentityID)
		}
	}
}
