package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"remotedesk/internal/storage"
)

type Store struct {
	mu        sync.Mutex
	transfers map[string]map[int][]byte
}

func New() *Store {
	return &Store{transfers: map[string]map[int][]byte{}}
}

func (s *Store) WriteChunk(_ context.Context, transferID string, index int, data []byte) error {
	if transferID == "" || index < 0 {
		return storage.ErrInvalidChunk
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks, ok := s.transfers[transferID]
	if !ok {
		chunks = map[int][]byte{}
		s.transfers[transferID] = chunks
	}
	if existing, ok := chunks[index]; ok {
		if bytes.Equal(existing, data) {
			return nil
		}
		return storage.ErrConflict
	}
	chunks[index] = append([]byte(nil), data...)
	return nil
}

func (s *Store) ReadChunk(_ context.Context, transferID string, index int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.transfers[transferID][index]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) ListChunks(_ context.Context, transferID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks, ok := s.transfers[transferID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	indices := make([]int, 0, len(chunks))
	for index := range chunks {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices, nil
}

func (s *Store) DeleteTransfer(_ context.Context, transferID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[transferID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.transfers, transferID)
	return nil
}

func (s *Store) Sweep(_ context.Context, live func(string) bool) (storage.SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := storage.SweepReport{}
	for id, chunks := range s.transfers {
		if live(id) {
			continue
		}
		report.Transfers++
		report.Chunks += len(chunks)
		delete(s.transfers, id)
	}
	return report, nil
}
