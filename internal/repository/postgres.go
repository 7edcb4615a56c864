package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"csfdsync/internal/models"
)

const createRatingsTable = `
CREATE TABLE IF NOT EXISTS ratings (
	id             TEXT PRIMARY KEY,
	user_slug      TEXT NOT NULL,
	movie_id       BIGINT NOT NULL,
	url            TEXT NOT NULL DEFAULT '',
	full_url       TEXT NOT NULL DEFAULT '',
	name           TEXT NOT NULL DEFAULT '',
	year           INT NOT NULL DEFAULT 0,
	type           TEXT NOT NULL DEFAULT 'movie',
	rating         SMALLINT,
	rating_date    TEXT NOT NULL DEFAULT '',
	parent_id      BIGINT NOT NULL DEFAULT 0,
	parent_name    TEXT NOT NULL DEFAULT '',
	computed       BOOLEAN NOT NULL DEFAULT FALSE,
	computed_count INT NOT NULL DEFAULT 0,
	computed_from  TEXT NOT NULL DEFAULT '',
	last_update    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ratings_user_slug ON ratings(user_slug);
`

const upsertRating = `
INSERT INTO ratings (
	id, user_slug, movie_id, url, full_url, name, year, type, rating,
	rating_date, parent_id, parent_name, computed, computed_count,
	computed_from, last_update
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
	user_slug      = EXCLUDED.user_slug,
	movie_id       = EXCLUDED.movie_id,
	url            = EXCLUDED.url,
	full_url       = EXCLUDED.full_url,
	name           = EXCLUDED.name,
	year           = EXCLUDED.year,
	type           = EXCLUDED.type,
	rating         = EXCLUDED.rating,
	rating_date    = EXCLUDED.rating_date,
	parent_id      = EXCLUDED.parent_id,
	parent_name    = EXCLUDED.parent_name,
	computed       = EXCLUDED.computed,
	computed_count = EXCLUDED.computed_count,
	computed_from  = EXCLUDED.computed_from,
	last_update    = EXCLUDED.last_update
`

const selectRating = `
SELECT id, user_slug, movie_id, url, full_url, name, year, type, rating,
       rating_date, parent_id, parent_name, computed, computed_count,
       computed_from, last_update
FROM ratings
`

// PostgresRepository stores rating records in a single Postgres table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates the ratings table if it does not exist yet
// and returns a ready repository. The CREATE IF NOT EXISTS migration is
// idempotent, so concurrent opens cannot race-create duplicate schemas.
func NewPostgresRepository(ctx context.Context, db *pgxpool.Pool) (*PostgresRepository, error) {
	if _, err := db.Exec(ctx, createRatingsTable); err != nil {
		return nil, storageErr("create ratings table", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Put(ctx context.Context, rating *models.Rating) error {
	if _, err := r.db.Exec(ctx, upsertRating, upsertArgs(rating)...); err != nil {
		return storageErr("put rating", err)
	}
	return nil
}

// PutAll upserts the records in one batched round trip. Atomicity across
// records follows whatever the engine provides for the batch; callers must
// not rely on cross-record atomicity.
func (r *PostgresRepository) PutAll(ctx context.Context, ratings []*models.Rating) error {
	if len(ratings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rating := range ratings {
		batch.Queue(upsertRating, upsertArgs(rating)...)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range ratings {
		if _, err := results.Exec(); err != nil {
			return storageErr("put ratings batch", err)
		}
	}
	return nil
}

func (r *PostgresRepository) GetAll(ctx context.Context, userSlug string) ([]*models.Rating, error) {
	rows, err := r.db.Query(ctx, selectRating+"WHERE user_slug = $1 ORDER BY id", userSlug)
	if err != nil {
		return nil, storageErr("get all ratings", err)
	}
	defer rows.Close()

	var ratings []*models.Rating
	for rows.Next() {
		rating, err := scanRating(rows)
		if err != nil {
			return nil, storageErr("scan rating row", err)
		}
		ratings = append(ratings, rating)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate rating rows", err)
	}
	return ratings, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Rating, error) {
	rows, err := r.db.Query(ctx, selectRating+"WHERE id = $1", id)
	if err != nil {
		return nil, storageErr("get rating by id", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, storageErr("get rating by id", err)
		}
		return nil, ErrNotFound
	}

	rating, err := scanRating(rows)
	if err != nil {
		return nil, storageErr("scan rating row", err)
	}
	return rating, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM ratings WHERE id = $1", id); err != nil {
		return storageErr("delete rating", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteAll(ctx context.Context, userSlug string) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM ratings WHERE user_slug = $1", userSlug); err != nil {
		return storageErr("delete all ratings", err)
	}
	return nil
}

func (r *PostgresRepository) Count(ctx context.Context, userSlug string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM ratings WHERE user_slug = $1", userSlug).Scan(&count)
	if err != nil {
		return 0, storageErr("count ratings", err)
	}
	return count, nil
}

func upsertArgs(rating *models.Rating) []any {
	return []any{
		rating.ID, rating.UserSlug, rating.MovieID, rating.URL, rating.FullURL,
		rating.Name, rating.Year, string(rating.Type), rating.Rating,
		rating.Date, rating.ParentID, rating.ParentName, rating.Computed,
		rating.ComputedCount, rating.ComputedFromText, rating.LastUpdate,
	}
}

func scanRating(rows pgx.Rows) (*models.Rating, error) {
	var rating models.Rating
	var itemType string
	err := rows.Scan(
		&rating.ID, &rating.UserSlug, &rating.MovieID, &rating.URL,
		&rating.FullURL, &rating.Name, &rating.Year, &itemType, &rating.Rating,
		&rating.Date, &rating.ParentID, &rating.ParentName, &rating.Computed,
		&rating.ComputedCount, &rating.ComputedFromText, &rating.LastUpdate,
	)
	if err != nil {
		return nil, err
	}
	rating.Type = models.ItemType(itemType)
	return &rating, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// IsStorageUnavailable reports whether err came from the persistence layer.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
