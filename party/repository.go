package party

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested organization does not exist.
var ErrNotFound = errors.New("party: not found")

// Repository provides read access to organization profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches an organization profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	const query = `
		SELECT id, name, org_type, verified, created_at
		FROM organizations
		WHERE id = $1
	`

	var (
		profile Profile
		orgType string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&profile.ID,
		&profile.Name,
		&orgType,
		&profile.Verified,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("party: query by id: %w", err)
	}
	profile.OrgType = OrgType(orgType)

	return profile, nil
}

// List fetches up to limit organization profiles ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, name, org_type, verified, created_at
		FROM organizations
		ORDER BY name ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("party: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		var (
			profile Profile
			orgType string
		)
		if err := rows.Scan(&profile.ID, &profile.Name, &orgType, &profile.Verified, &profile.CreatedAt); err != nil {
			return nil, fmt.Errorf("party: scan profile: %w", err)
		}
		profile.OrgType = OrgType(orgType)
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("party: iterate profiles: %w", err)
	}

	return profiles, nil
}
