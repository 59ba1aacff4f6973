package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/polyglot-rewrite/internal/storage"
)

// Store is a SQLite implementation of ProductStore
type Store struct {
	db *sql.DB
}

var _ storage.ProductStore = (*Store)(nil)

// New opens (and creates if needed) the database at dbPath
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_name ON products(name)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) Add(ctx context.Context, p storage.Product) (storage.Product, error) {
	if p.Name == "" {
		return storage.Product{}, fmt.Errorf("product name is required")
	}
	p.CreatedAt = time.Now().UTC()

	query := `INSERT INTO products (name, description, price, created_at)
	          VALUES (?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query, p.Name, p.Description, p.Price, p.CreatedAt)
	if err != nil {
		return storage.Product{}, fmt.Errorf("failed to add product: %w", err)
	}

	p.ID, err = res.LastInsertId()
	if err != nil {
		return storage.Product{}, fmt.Errorf("failed to read product id: %w", err)
	}
	return p, nil
}

func (s *Store) Get(ctx context.Context, id int64) (storage.Product, error) {
	query := `SELECT id, name, description, price, created_at
	          FROM products WHERE id = ?`

	var p storage.Product
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return storage.Product{}, fmt.Errorf("product %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return storage.Product{}, fmt.Errorf("failed to get product: %w", err)
	}

	return p, nil
}

func (s *Store) List(ctx context.Context) ([]storage.Product, error) {
	query := `SELECT id, name, description, price, created_at
	          FROM products ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []storage.Product
	for rows.Next() {
		var p storage.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
