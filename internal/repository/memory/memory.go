package memory

import (
	"context"
	"sync"

	"csfdsync/internal/models"
	"csfdsync/internal/repository"
)

// Repository is an in-memory rating store. It backs tests and offline runs
// with the same contract as the Postgres repository.
type Repository struct {
	sync.RWMutex
	data map[string]*models.Rating
}

// New creates an empty in-memory repository.
func New() *Repository {
	return &Repository{data: map[string]*models.Rating{}}
}

func (r *Repository) Put(ctx context.Context, rating *models.Rating) error {
	r.Lock()
	defer r.Unlock()

	r.data[rating.ID] = clone(rating)
	return nil
}

func (r *Repository) PutAll(ctx context.Context, ratings []*models.Rating) error {
	r.Lock()
	defer r.Unlock()

	for _, rating := range ratings {
		r.data[rating.ID] = clone(rating)
	}
	return nil
}

func (r *Repository) GetAll(ctx context.Context, userSlug string) ([]*models.Rating, error) {
	r.RLock()
	defer r.RUnlock()

	var ratings []*models.Rating
	for _, rating := range r.data {
		if rating.UserSlug == userSlug {
			ratings = append(ratings, clone(rating))
		}
	}
	return ratings, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*models.Rating, error) {
	r.RLock()
	defer r.RUnlock()

	rating, ok := r.data[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(rating), nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	r.Lock()
	defer r.Unlock()

	delete(r.data, id)
	return nil
}

func (r *Repository) DeleteAll(ctx context.Context, userSlug string) error {
	r.Lock()
	defer r.Unlock()

	for id, rating := range r.data {
		if rating.UserSlug == userSlug {
			delete(r.data, id)
		}
	}
	return nil
}

func (r *Repository) Count(ctx context.Context, userSlug string) (int, error) {
	r.RLock()
	defer r.RUnlock()

	count := 0
	for _, rating := range r.data {
		if rating.UserSlug == userSlug {
			count++
		}
	}
	return count, nil
}

// clone copies a record so callers cannot mutate stored state through a
// shared pointer.
func clone(rating *models.Rating) *models.Rating {
	copied := *rating
	if rating.Rating != nil {
		value := *rating.Rating
		copied.Rating = &value
	}
	return &copied
}
