package storage

import (
	"context"
	"sync"

	"github.com/shohag/chatrelay/internal/models"
)

type MemoryStore struct {
	mu        sync.RWMutex
	endpoints []models.Endpoint
}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, ep *models.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.endpoints {
		if existing.URL == ep.URL {
			return ErrDuplicateURL
		}
	}
	s.endpoints = append(s.endpoints, *ep)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.endpoints {
		if s.endpoints[i].ID == id {
			ep := s.endpoints[i]
			return &ep, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Delete(_ context.Context, id string) (*models.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.endpoints {
		if s.endpoints[i].ID == id {
			ep := s.endpoints[i]
			s.endpoints = append(s.endpoints[:i], s.endpoints[i+1:]...)
			return &ep, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) List(_ context.Context) ([]models.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Endpoint, len(s.endpoints))
	copy(out, s.endpoints)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
