package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csfdsync/internal/models"
	"csfdsync/internal/repository"
	"csfdsync/internal/repository/memory"
	"csfdsync/internal/scraper"
)

const testUser = "123-user"

// fakeFetcher serves canned HTML per URL and records every fetch.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
	failOn  string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}}
}

func (f *fakeFetcher) FetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = append(f.fetched, url)
	if f.failOn != "" && url == f.failOn {
		return nil, fmt.Errorf("status 429 for %s", url)
	}
	html, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("no canned page for %s", url)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (f *fakeFetcher) fetchedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

// ctxAwareStateStore refuses writes once the context is canceled, the way
// the Redis-backed store does.
type ctxAwareStateStore struct {
	*memory.StateStore
}

func (s ctxAwareStateStore) SaveWalkerState(ctx context.Context, state *models.WalkerState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.StateStore.SaveWalkerState(ctx, state)
}

// flakyRepo fails every PutAll after the first allowed ones.
type flakyRepo struct {
	*memory.Repository
	putAllBudget int
}

func (r *flakyRepo) PutAll(ctx context.Context, ratings []*models.Rating) error {
	if r.putAllBudget <= 0 {
		return repository.ErrStorageUnavailable
	}
	r.putAllBudget--
	return r.Repository.PutAll(ctx, ratings)
}

// recordingNotifier counts change notifications.
type recordingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *recordingNotifier) RatingsChanged(ctx context.Context, userSlug string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
}

func (n *recordingNotifier) notifications() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

func listingRow(slug, name string, stars int) string {
	return fmt.Sprintf(`<tr>
		<td class="name"><h3>
			<a class="film-title-name" href="/film/%s/">%s</a>
			<span class="film-title-info"><span class="info">(2020)</span></span>
		</h3></td>
		<td class="star-rating-only"><span class="star-rating"><span class="stars stars-%d"></span></span></td>
		<td class="date-only">01.02.2020</td>
	</tr>`, slug, name, stars)
}

func listingPage(total, maxPage int, rows ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<h2>Hodnocení <span>(%d)</span></h2><table>`, total)
	for _, row := range rows {
		b.WriteString(row)
	}
	b.WriteString("</table>")
	if maxPage > 1 {
		fmt.Fprintf(&b, `<div class="pagination"><a href="?strana-%d">%d</a></div>`, maxPage, maxPage)
	}
	return b.String()
}

func newLoaderHarness(fetcher *fakeFetcher) (*Loader, *memory.Repository, *memory.StateStore, *recordingNotifier) {
	repo := memory.New()
	state := memory.NewStateStore()
	notifier := &recordingNotifier{}
	loader := NewLoader(LoaderConfig{
		Repo:     repo,
		State:    state,
		Fetcher:  fetcher,
		Site:     scraper.NewSite("https://www.csfd.cz"),
		Notifier: notifier,
	})
	return loader, repo, state, notifier
}

func pageURL(page int) string {
	return scraper.NewSite("https://www.csfd.cz").RatingsPageURL(testUser, page)
}

func TestLoaderWalksAllPages(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.pages[pageURL(1)] = listingPage(3, 2,
		listingRow("100-first", "First", 4),
		listingRow("200-second", "Second", 3),
	)
	fetcher.pages[pageURL(2)] = listingPage(3, 2,
		listingRow("300-third", "Third", 5),
	)

	loader, repo, state, notifier := newLoaderHarness(fetcher)

	result, err := loader.Start(ctx, testUser, 0)
	require.NoError(t, err)
	assert.Equal(t, LoadStatusDone, result.Status)
	assert.Equal(t, 2, result.LoadedPages)
	assert.Equal(t, 3, result.TotalParsed)
	assert.Equal(t, 3, result.TotalRatings)

	count, err := repo.Count(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	stored, err := repo.GetByID(ctx, models.RecordID(testUser, "100-first"))
	require.NoError(t, err)
	assert.Equal(t, testUser, stored.UserSlug)
	assert.Equal(t, models.RatingValue(4), stored.Rating)

	// Finished walks leave no resumable progress behind.
	saved, err := state.LoadWalkerState(ctx, testUser)
	require.NoError(t, err)
	assert.Nil(t, saved)

	// One notification for the whole walk, not one per page.
	assert.Equal(t, 1, notifier.notifications())

	assert.Equal(t, []string{pageURL(1), pageURL(2)}, fetcher.fetchedURLs())
}

func TestLoaderHonorsPageCap(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.pages[pageURL(1)] = listingPage(150, 3, listingRow("100-first", "First", 4))

	loader, _, _, _ := newLoaderHarness(fetcher)

	result, err := loader.Start(ctx, testUser, 1)
	require.NoError(t, err)
	assert.Equal(t, LoadStatusDone, result.Status)
	assert.Equal(t, []string{pageURL(1)}, fetcher.fetchedURLs())
}

func TestLoaderResumeFetchesOnlyRemainingPages(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.pages[pageURL(2)] = listingPage(150, 3, listingRow("200-second", "Second", 3))
	fetcher.pages[pageURL(3)] = listingPage(150, 3, listingRow("300-third", "Third", 5))

	loader, repo, state, _ := newLoaderHarness(fetcher)
	require.NoError(t, state.SaveWalkerState(ctx, &models.WalkerState{
		Status:       models.WalkerStatusPaused,
		UserSlug:     testUser,
		NextPage:     2,
		TargetPages:  3,
		LoadedPages:  1,
		TotalParsed:  50,
		TotalRatings: 150,
		PauseReason:  "interrupted",
	}))

	result, err := loader.Resume(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, LoadStatusDone, result.Status)
	assert.Equal(t, 3, result.LoadedPages)
	assert.Equal(t, 52, result.TotalParsed)

	// Page 1 was processed before the pause; only 2 and 3 are fetched now.
	assert.Equal(t, []string{pageURL(2), pageURL(3)}, fetcher.fetchedURLs())

	count, err := repo.Count(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLoaderResumeWithoutSavedProgress(t *testing.T) {
	loader, _, _, _ := newLoaderHarness(newFakeFetcher())
	_, err := loader.Resume(context.Background(), testUser)
	assert.Error(t, err)
}

func TestLoaderFetchErrorPausesWithProgressKept(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.pages[pageURL(1)] = listingPage(150, 3, listingRow("100-first", "First", 4))
	fetcher.failOn = pageURL(2)

	loader, repo, state, _ := newLoaderHarness(fetcher)

	result, err := loader.Start(ctx, testUser, 0)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, LoadStatusPaused, result.Status)

	// Page 1's records survived the failure.
	count, err := repo.Count(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	saved, err := state.LoadWalkerState(ctx, testUser)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, models.WalkerStatusPaused, saved.Status)
	assert.Equal(t, 2, saved.NextPage)
	assert.NotEmpty(t, saved.PauseReason)
}

func TestLoaderStopsOnEmptyPage(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.pages[pageURL(1)] = listingPage(150, 3, listingRow("100-first", "First", 4))
	fetcher.pages[pageURL(2)] = listingPage(150, 3)

	loader, _, state, _ := newLoaderHarness(fetcher)

	result, err := loader.Start(ctx, testUser, 0)
	require.NoError(t, err)
	assert.Equal(t, LoadStatusDone, result.Status)

	// Page 3 was never requested once page 2 came back empty.
	assert.Equal(t, []string{pageURL(1), pageURL(2)}, fetcher.fetchedURLs())

	saved, err := state.LoadWalkerState(ctx, testUser)
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestLoaderPauseRequestHonoredBetweenPages(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.pages[pageURL(1)] = listingPage(150, 3, listingRow("100-first", "First", 4))

	repo := memory.New()
	state := memory.NewStateStore()
	notifier := &recordingNotifier{}

	var loader *Loader
	loader = NewLoader(LoaderConfig{
		Repo:     repo,
		State:    state,
		Fetcher:  fetcher,
		Site:     scraper.NewSite("https://www.csfd.cz"),
		Notifier: notifier,
		OnProgress: func(p Progress) {
			loader.RequestPause("interrupted")
		},
	})

	result, err := loader.Start(ctx, testUser, 0)
	require.NoError(t, err)
	assert.Equal(t, LoadStatusPaused, result.Status)
	assert.Equal(t, "interrupted", result.PauseReason)

	// The in-flight page completed and was saved before the pause.
	count, err := repo.Count(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	saved, err := state.LoadWalkerState(ctx, testUser)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 2, saved.NextPage)

	require.NoError(t, loader.Abandon(ctx, testUser))
	saved, err = state.LoadWalkerState(ctx, testUser)
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestLoaderPauseRequestDoesNotNeedContextCancel(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.pages[pageURL(1)] = listingPage(150, 3, listingRow("100-first", "First", 4))

	repo := memory.New()
	inner := memory.NewStateStore()
	notifier := &recordingNotifier{}

	var loader *Loader
	loader = NewLoader(LoaderConfig{
		Repo:     repo,
		State:    ctxAwareStateStore{inner},
		Fetcher:  fetcher,
		Site:     scraper.NewSite("https://www.csfd.cz"),
		Notifier: notifier,
		OnProgress: func(p Progress) {
			// An interrupt arrives while page 1 is being processed; only a
			// pause is requested, the context stays live.
			loader.RequestPause("interrupted")
		},
	})

	result, err := loader.Start(ctx, testUser, 0)
	require.NoError(t, err)
	assert.Equal(t, LoadStatusPaused, result.Status)

	// The in-flight page completed, was saved, and the paused progress
	// reached the store.
	count, err := repo.Count(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	saved, err := inner.LoadWalkerState(ctx, testUser)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, models.WalkerStatusPaused, saved.Status)
	assert.Equal(t, 2, saved.NextPage)
	assert.Equal(t, "interrupted", saved.PauseReason)
}

func TestLoaderCancelStillPersistsPausedState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := newFakeFetcher()
	fetcher.pages[pageURL(1)] = listingPage(150, 3, listingRow("100-first", "First", 4))

	repo := memory.New()
	inner := memory.NewStateStore()

	loader := NewLoader(LoaderConfig{
		Repo:    repo,
		State:   ctxAwareStateStore{inner},
		Fetcher: fetcher,
		Site:    scraper.NewSite("https://www.csfd.cz"),
		OnProgress: func(p Progress) {
			cancel()
		},
	})

	result, err := loader.Start(ctx, testUser, 0)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, LoadStatusPaused, result.Status)

	// Cancellation must not lose the paused progress: a store that rejects
	// canceled contexts still received the paused state.
	saved, err := inner.LoadWalkerState(context.Background(), testUser)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, models.WalkerStatusPaused, saved.Status)
	assert.Equal(t, 2, saved.NextPage)
	assert.Equal(t, "context canceled", saved.PauseReason)

	// Page 2 was never fetched.
	assert.Equal(t, []string{pageURL(1)}, fetcher.fetchedURLs())
}

func TestLoaderSaveFailurePausesWithPriorPagesKept(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.pages[pageURL(1)] = listingPage(150, 3, listingRow("100-first", "First", 4))
	fetcher.pages[pageURL(2)] = listingPage(150, 3, listingRow("200-second", "Second", 3))

	repo := &flakyRepo{Repository: memory.New(), putAllBudget: 1}
	state := memory.NewStateStore()

	loader := NewLoader(LoaderConfig{
		Repo:    repo,
		State:   state,
		Fetcher: fetcher,
		Site:    scraper.NewSite("https://www.csfd.cz"),
	})

	result, err := loader.Start(ctx, testUser, 0)
	require.ErrorIs(t, err, repository.ErrStorageUnavailable)
	require.NotNil(t, result)
	assert.Equal(t, LoadStatusPaused, result.Status)

	// Page 1's records survived, page 2's failed save left nothing behind.
	count, err := repo.Count(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	saved, err := state.LoadWalkerState(ctx, testUser)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, models.WalkerStatusPaused, saved.Status)
	assert.Equal(t, 2, saved.NextPage)
	assert.Equal(t, "storage unavailable", saved.PauseReason)
}
