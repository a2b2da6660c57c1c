package docs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ent0n29/clawboard/internal/store"
)

// InMemoryStore keeps documents in process for tests and throwaway runs.
type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[string]store.Doc
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{docs: make(map[string]store.Doc)}
}

func (s *InMemoryStore) Get(_ context.Context, key string) (store.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return store.Doc{}, store.ErrNotFound
	}
	return doc, nil
}

func (s *InMemoryStore) Put(_ context.Context, key, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = store.Doc{Key: key, Content: content, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *InMemoryStore) Append(_ context.Context, key, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[key]
	s.docs[key] = store.Doc{Key: key, Content: doc.Content + entry, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]store.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Doc, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
