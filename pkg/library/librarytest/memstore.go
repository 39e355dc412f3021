// Package librarytest provides an in-memory library.Store for tests.
package librarytest

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shelfopds/shelfopds/pkg/models"
)

// MemStore is a map-backed store with failure injection.
type MemStore struct {
	mu    sync.Mutex
	books map[string]*models.Book

	// FailBatch makes every BatchUpsert fail without persisting anything.
	FailBatch bool
	// FailPaths makes Upsert and BatchUpsert fail for books at these paths.
	FailPaths map[string]bool
	// FailLoad makes LoadAll fail.
	FailLoad bool

	BatchCalls  int
	UpsertCalls int
	Cleared     bool
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		books:     make(map[string]*models.Book),
		FailPaths: make(map[string]bool),
	}
}

// Seed stores books directly, bypassing the index.
func (s *MemStore) Seed(books ...*models.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range books {
		s.books[b.ID] = b.Clone()
	}
}

// Len is the number of stored books.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.books)
}

// Has reports whether id is stored.
func (s *MemStore) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.books[id]
	return ok
}

func (s *MemStore) Upsert(_ context.Context, book *models.Book) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls++
	if s.FailPaths[book.Filepath] {
		return false, errors.Errorf("injected failure for %s", book.Filepath)
	}
	if _, ok := s.books[book.ID]; ok {
		return false, nil
	}
	s.books[book.ID] = book.Clone()
	return true, nil
}

func (s *MemStore) BatchUpsert(_ context.Context, books []*models.Book) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BatchCalls++
	if s.FailBatch {
		return nil, errors.New("injected batch failure")
	}
	for _, b := range books {
		if s.FailPaths[b.Filepath] {
			return nil, errors.Errorf("injected failure for %s", b.Filepath)
		}
	}
	out := make([]bool, len(books))
	for i, b := range books {
		if _, ok := s.books[b.ID]; ok {
			continue
		}
		s.books[b.ID] = b.Clone()
		out[i] = true
	}
	return out, nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, id)
	return nil
}

func (s *MemStore) LoadAll(_ context.Context) ([]*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailLoad {
		return nil, errors.New("injected load failure")
	}
	out := make([]*models.Book, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, b.Clone())
	}
	return out, nil
}

func (s *MemStore) ClearDatabase(_ context.Context, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books = make(map[string]*models.Book)
	s.Cleared = true
	return nil
}
