package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-rewrite/internal/storage"
)

// Store is an in-memory ProductStore
type Store struct {
	mu       sync.RWMutex
	products map[int64]storage.Product
	nextID   int64
}

var _ storage.ProductStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		products: make(map[int64]storage.Product),
		nextID:   1,
	}
}

func (s *Store) Add(ctx context.Context, p storage.Product) (storage.Product, error) {
	if p.Name == "" {
		return storage.Product{}, fmt.Errorf("product name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.nextID
	p.CreatedAt = time.Now()
	s.nextID++
	s.products[p.ID] = p
	return p, nil
}

func (s *Store) Get(ctx context.Context, id int64) (storage.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.products[id]
	if !exists {
		return storage.Product{}, fmt.Errorf("product %d: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) List(ctx context.Context) ([]storage.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
