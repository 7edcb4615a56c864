package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csfdsync/internal/models"
	"csfdsync/internal/repository"
)

func sampleRating(userSlug, urlSlug string, value *int) *models.Rating {
	return &models.Rating{
		ID:         models.RecordID(userSlug, urlSlug),
		UserSlug:   userSlug,
		MovieID:    1058697,
		URL:        urlSlug,
		FullURL:    "https://www.csfd.cz/film/" + urlSlug + "/",
		Name:       "Spider-Man: Bez domova",
		Year:       2021,
		Type:       models.ItemTypeMovie,
		Rating:     value,
		Date:       "17.12.2021",
		LastUpdate: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	repo := New()

	stored := sampleRating("123-user", "1058697-spider-man", models.RatingValue(4))
	require.NoError(t, repo.Put(ctx, stored))

	got, err := repo.GetByID(ctx, stored.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(stored, got); diff != "" {
		t.Errorf("stored record mismatch (-want +got):\n%s", diff)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	_, err := New().GetByID(context.Background(), "123-user:missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPutUpsertsByID(t *testing.T) {
	ctx := context.Background()
	repo := New()

	require.NoError(t, repo.Put(ctx, sampleRating("123-user", "1058697-spider-man", models.RatingValue(3))))
	require.NoError(t, repo.Put(ctx, sampleRating("123-user", "1058697-spider-man", models.RatingValue(5))))

	count, err := repo.Count(ctx, "123-user")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := repo.GetByID(ctx, models.RecordID("123-user", "1058697-spider-man"))
	require.NoError(t, err)
	assert.Equal(t, models.RatingValue(5), got.Rating)
}

func TestStoredRecordsAreIsolatedFromCallers(t *testing.T) {
	ctx := context.Background()
	repo := New()

	original := sampleRating("123-user", "1058697-spider-man", models.RatingValue(4))
	require.NoError(t, repo.Put(ctx, original))

	// Mutating the caller's copy must not leak into the store.
	original.Name = "changed"
	*original.Rating = 1

	got, err := repo.GetByID(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, "Spider-Man: Bez domova", got.Name)
	assert.Equal(t, models.RatingValue(4), got.Rating)
}

func TestUserPartitioning(t *testing.T) {
	ctx := context.Background()
	repo := New()

	require.NoError(t, repo.PutAll(ctx, []*models.Rating{
		sampleRating("123-user", "1058697-spider-man", models.RatingValue(4)),
		sampleRating("123-user", "697624-love-death-robots", nil),
		sampleRating("456-other", "1058697-spider-man", models.RatingValue(2)),
	}))

	mine, err := repo.GetAll(ctx, "123-user")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	require.NoError(t, repo.DeleteAll(ctx, "123-user"))

	count, err := repo.Count(ctx, "123-user")
	require.NoError(t, err)
	assert.Zero(t, count)

	otherCount, err := repo.Count(ctx, "456-other")
	require.NoError(t, err)
	assert.Equal(t, 1, otherCount)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := New()

	stored := sampleRating("123-user", "1058697-spider-man", models.RatingValue(4))
	require.NoError(t, repo.Put(ctx, stored))
	require.NoError(t, repo.Delete(ctx, stored.ID))
	require.NoError(t, repo.Delete(ctx, stored.ID))

	_, err := repo.GetByID(ctx, stored.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
