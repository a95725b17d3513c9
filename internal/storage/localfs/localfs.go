package localfs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"remotedesk/internal/storage"
)

const chunkSuffix = ".chunk"

// Store stages chunks as one file per index under root/transfers/<id>.
type Store struct {
	mu           sync.Mutex
	root         string
	transfersDir string
}

func New(root string) (*Store, error) {
	if root == "" {
		root = "data"
	}
	transfersDir := filepath.Join(root, "transfers")
	if err := os.MkdirAll(transfersDir, 0700); err != nil {
		return nil, err
	}
	return &Store{root: root, transfersDir: transfersDir}, nil
}

func (s *Store) WriteChunk(_ context.Context, transferID string, index int, data []byte) error {
	if !validID(transferID) || index < 0 {
		return storage.ErrInvalidChunk
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.chunkPath(transferID, index)
	if existing, err := os.ReadFile(path); err == nil {
		if bytes.Equal(existing, data) {
			return nil
		}
		return storage.ErrConflict
	}
	return writeFileAtomic(path, data, 0600)
}

func (s *Store) ReadChunk(_ context.Context, transferID string, index int) ([]byte, error) {
	if !validID(transferID) || index < 0 {
		return nil, storage.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.chunkPath(transferID, index))
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (s *Store) ListChunks(_ context.Context, transferID string) ([]int, error) {
	if !validID(transferID) {
		return nil, storage.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.transfersDir, transferID))
	if err != nil {
		return nil, storage.ErrNotFound
	}
	indices := make([]int, 0, len(entries))
	for _, entry := range entries {
		if index, ok := parseChunkName(entry.Name()); ok {
			indices = append(indices, index)
		}
	}
	sort.Ints(indices)
	return indices, nil
}

func (s *Store) DeleteTransfer(_ context.Context, transferID string) error {
	if !validID(transferID) {
		return storage.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.transfersDir, transferID)
	if _, err := os.Stat(dir); err != nil {
		return storage.ErrNotFound
	}
	return os.RemoveAll(dir)
}

func (s *Store) Sweep(_ context.Context, live func(string) bool) (storage.SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := storage.SweepReport{}
	entries, err := os.ReadDir(s.transfersDir)
	if err != nil {
		return report, err
	}
	for _, entry := range entries {
		if !entry.IsDir() || live(entry.Name()) {
			continue
		}
		dir := filepath.Join(s.transfersDir, entry.Name())
		if chunks, err := os.ReadDir(dir); err == nil {
			for _, chunk := range chunks {
				if _, ok := parseChunkName(chunk.Name()); ok {
					report.Chunks++
				}
			}
		}
		if err := os.RemoveAll(dir); err != nil {
			return report, err
		}
		report.Transfers++
	}
	return report, nil
}

func (s *Store) chunkPath(transferID string, index int) string {
	return filepath.Join(s.transfersDir, transferID, strconv.Itoa(index)+chunkSuffix)
}

func parseChunkName(name string) (int, bool) {
	if !strings.HasSuffix(name, chunkSuffix) {
		return 0, false
	}
	index, err := strconv.Atoi(strings.TrimSuffix(name, chunkSuffix))
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

// validID keeps transfer ids from escaping the staging directory.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
