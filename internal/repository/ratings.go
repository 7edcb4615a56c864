package repository

import (
	"context"
	"errors"

	"csfdsync/internal/models"
)

// ErrNotFound is returned when no record exists for the requested key.
var ErrNotFound = errors.New("record not found")

// ErrStorageUnavailable marks failures of the underlying store. A failed
// operation means "no change happened"; callers abort the current step and
// leave prior state untouched.
var ErrStorageUnavailable = errors.New("storage unavailable")

// RatingRepository is the keyed store for rating records. Put has upsert
// semantics: a record wholly replaces any existing record with the same ID,
// no partial merge happens at this layer. Reads and bulk deletes are always
// scoped to one user slug; the table is multi-tenant.
type RatingRepository interface {
	Put(ctx context.Context, rating *models.Rating) error
	PutAll(ctx context.Context, ratings []*models.Rating) error
	GetAll(ctx context.Context, userSlug string) ([]*models.Rating, error)
	GetByID(ctx context.Context, id string) (*models.Rating, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context, userSlug string) error
	Count(ctx context.Context, userSlug string) (int, error)
}
