package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// BookmakerStore implements domain.BookmakerStore using PostgreSQL.
type BookmakerStore struct {
	pool *pgxpool.Pool
}

// NewBookmakerStore creates a new BookmakerStore backed by the given pool.
func NewBookmakerStore(pool *pgxpool.Pool) *BookmakerStore {
	return &BookmakerStore{pool: pool}
}

const bookmakerCols = `id, name, display_name, website_url, is_active, created_at, updated_at`

// Upsert inserts the bookmaker or updates its mutable attributes. The name
// slug is the conflict key; identity is never rewritten.
func (s *BookmakerStore) Upsert(ctx context.Context, b domain.Bookmaker) (domain.Bookmaker, error) {
	const query = `
		INSERT INTO bookmakers (name, display_name, website_url, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			website_url  = EXCLUDED.website_url,
			is_active    = EXCLUDED.is_active,
			updated_at   = NOW()
		RETURNING ` + bookmakerCols

	row := s.pool.QueryRow(ctx, query, b.Name, b.DisplayName, b.WebsiteURL, b.IsActive)
	out, err := scanBookmaker(row)
	if err != nil {
		return domain.Bookmaker{}, fmt.Errorf("postgres: upsert bookmaker %s: %w", b.Name, err)
	}
	return out, nil
}

// GetByName returns the bookmaker with the given slug.
func (s *BookmakerStore) GetByName(ctx context.Context, name string) (domain.Bookmaker, error) {
	query := `SELECT ` + bookmakerCols + ` FROM bookmakers WHERE name = $1`

	row := s.pool.QueryRow(ctx, query, name)
	b, err := scanBookmaker(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bookmaker{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Bookmaker{}, fmt.Errorf("postgres: get bookmaker %s: %w", name, err)
	}
	return b, nil
}

// List returns all bookmakers ordered by slug.
func (s *BookmakerStore) List(ctx context.Context) ([]domain.Bookmaker, error) {
	query := `SELECT ` + bookmakerCols + ` FROM bookmakers ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bookmakers: %w", err)
	}
	defer rows.Close()

	var books []domain.Bookmaker
	for rows.Next() {
		b, err := scanBookmaker(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bookmaker: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bookmakers rows: %w", err)
	}
	return books, nil
}

// SetActive flips the active flag for a bookmaker.
func (s *BookmakerStore) SetActive(ctx context.Context, name string, active bool) error {
	const query = `UPDATE bookmakers SET is_active = $2, updated_at = NOW() WHERE name = $1`

	tag, err := s.pool.Exec(ctx, query, name, active)
	if err != nil {
		return fmt.Errorf("postgres: set bookmaker %s active=%t: %w", name, active, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanBookmaker(row pgx.Row) (domain.Bookmaker, error) {
	var b domain.Bookmaker
	err := row.Scan(&b.ID, &b.Name, &b.DisplayName, &b.WebsiteURL, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// Compile-time interface check.
var _ domain.BookmakerStore = (*BookmakerStore)(nil)
