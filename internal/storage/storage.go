// Package storage defines the product store used by the showcase rules.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalogue entry.
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       float64
	CreatedAt   time.Time
}

// ProductStore persists products. IDs are assigned by the store.
type ProductStore interface {
	// Add stores p, assigns its ID and returns the stored copy.
	Add(ctx context.Context, p Product) (Product, error)
	// Get returns ErrNotFound when id is unknown.
	Get(ctx context.Context, id int64) (Product, error)
	// List returns every product ordered by ID.
	List(ctx context.Context) ([]Product, error)
	Close() error
}
