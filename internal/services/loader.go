package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"csfdsync/internal/models"
	"csfdsync/internal/notify"
	"csfdsync/internal/repository"
	"csfdsync/internal/scraper"
)

// Walk outcome statuses.
const (
	LoadStatusDone   = "done"
	LoadStatusPaused = "paused"
)

// Progress is one per-page progress report from a running walk.
type Progress struct {
	Page         int
	TargetPages  int
	LoadedPages  int
	TotalParsed  int
	TotalRatings int
}

// LoadResult summarizes a finished or paused walk.
type LoadResult struct {
	Status       string
	UserSlug     string
	TargetPages  int
	LoadedPages  int
	TotalParsed  int
	TotalRatings int
	PauseReason  string
}

// LoaderConfig wires the walker's collaborators.
type LoaderConfig struct {
	Repo       repository.RatingRepository
	State      repository.StateStore
	Fetcher    scraper.DocumentFetcher
	Site       *scraper.Site
	Notifier   notify.Notifier
	Logger     *logrus.Logger
	PerPage    int
	DelayMin   time.Duration
	DelayMax   time.Duration
	OnProgress func(Progress)
}

// Loader walks a user's paginated ratings listing sequentially, persisting
// parsed records and resumable progress after every page. Pages are never
// fetched in parallel; the site rate-limits and a randomized delay separates
// consecutive fetches.
type Loader struct {
	repo       repository.RatingRepository
	state      repository.StateStore
	fetcher    scraper.DocumentFetcher
	site       *scraper.Site
	notifier   notify.Notifier
	logger     *logrus.Logger
	perPage    int
	delayMin   time.Duration
	delayMax   time.Duration
	onProgress func(Progress)

	mu          sync.Mutex
	pauseAsked  bool
	pauseReason string
}

func NewLoader(config LoaderConfig) *Loader {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Notifier == nil {
		config.Notifier = notify.NoopNotifier{}
	}
	if config.PerPage <= 0 {
		config.PerPage = 50
	}
	return &Loader{
		repo:       config.Repo,
		state:      config.State,
		fetcher:    config.Fetcher,
		site:       config.Site,
		notifier:   config.Notifier,
		logger:     config.Logger,
		perPage:    config.PerPage,
		delayMin:   config.DelayMin,
		delayMax:   config.DelayMax,
		onProgress: config.OnProgress,
	}
}

// RequestPause asks the walker to stop. The request is honored at the top of
// the next page iteration; the in-flight page always completes and is saved.
func (l *Loader) RequestPause(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pauseAsked = true
	l.pauseReason = reason
}

func (l *Loader) pausePending() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pauseAsked {
		return "", false
	}
	return l.pauseReason, true
}

func (l *Loader) resetPause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pauseAsked = false
	l.pauseReason = ""
}

// Start begins a fresh walk for the user. Page 1 is fetched first to detect
// the listing's total item and page counts; maxPages > 0 caps the target.
// Any previously persisted progress for the user is overwritten.
func (l *Loader) Start(ctx context.Context, userSlug string, maxPages int) (*LoadResult, error) {
	firstDoc, err := l.fetcher.FetchDocument(ctx, l.site.RatingsPageURL(userSlug, 1))
	if err != nil {
		return nil, fmt.Errorf("fetch first ratings page: %w", err)
	}

	totalRatings := scraper.ParseTotalRatings(firstDoc)
	targetPages := scraper.ParseMaxPage(firstDoc, l.perPage)
	if maxPages > 0 && maxPages < targetPages {
		targetPages = maxPages
	}

	state := &models.WalkerState{
		Status:       models.WalkerStatusRunning,
		UserSlug:     userSlug,
		NextPage:     1,
		TargetPages:  targetPages,
		TotalRatings: totalRatings,
	}

	l.logger.WithFields(logrus.Fields{
		"user_slug":     userSlug,
		"target_pages":  targetPages,
		"total_ratings": totalRatings,
	}).Info("Starting ratings walk")

	return l.run(ctx, state, firstDoc)
}

// Resume continues a previously paused walk from its persisted progress,
// fetching exactly the pages that were not yet processed.
func (l *Loader) Resume(ctx context.Context, userSlug string) (*LoadResult, error) {
	state, err := l.state.LoadWalkerState(ctx, userSlug)
	if err != nil {
		return nil, fmt.Errorf("load walker state: %w", err)
	}
	if state == nil {
		return nil, fmt.Errorf("no paused walk for user %s", userSlug)
	}

	state.Status = models.WalkerStatusRunning
	state.PauseReason = ""

	l.logger.WithFields(logrus.Fields{
		"user_slug":    userSlug,
		"next_page":    state.NextPage,
		"target_pages": state.TargetPages,
	}).Info("Resuming ratings walk")

	return l.run(ctx, state, nil)
}

// Abandon drops persisted progress without touching stored records
// (the paused -> idle transition).
func (l *Loader) Abandon(ctx context.Context, userSlug string) error {
	return l.state.ClearWalkerState(ctx, userSlug)
}

func (l *Loader) run(ctx context.Context, state *models.WalkerState, firstDoc *goquery.Document) (*LoadResult, error) {
	l.resetPause()
	changed := false
	firstIteration := true

	for page := state.NextPage; page <= state.TargetPages; page++ {
		if reason, asked := l.pausePending(); asked {
			return l.pause(ctx, state, reason, changed)
		}
		if err := ctx.Err(); err != nil {
			result, pauseErr := l.pause(ctx, state, "context canceled", changed)
			if pauseErr != nil {
				return nil, pauseErr
			}
			return result, err
		}

		doc := firstDoc
		firstDoc = nil
		if doc == nil {
			if !firstIteration {
				l.sleepBetweenPages(ctx)
			}
			var err error
			doc, err = l.fetcher.FetchDocument(ctx, l.site.RatingsPageURL(state.UserSlug, page))
			if err != nil {
				// Progress stays at the last completed page so a later run
				// can resume; the error is surfaced, not retried.
				result, pauseErr := l.pause(ctx, state, err.Error(), changed)
				if pauseErr != nil {
					return nil, pauseErr
				}
				return result, fmt.Errorf("fetch ratings page %d: %w", page, err)
			}
		}
		firstIteration = false

		ratings := scraper.ParseListingPage(doc, l.site)
		if page > 1 && len(ratings) == 0 {
			// Listing ended earlier than the detected page count.
			break
		}

		for _, rating := range ratings {
			rating.UserSlug = state.UserSlug
			rating.ID = models.RecordID(state.UserSlug, rating.URL)
		}

		if err := l.repo.PutAll(ctx, ratings); err != nil {
			result, pauseErr := l.pause(ctx, state, "storage unavailable", changed)
			if pauseErr != nil {
				return nil, pauseErr
			}
			return result, fmt.Errorf("save ratings page %d: %w", page, err)
		}
		if len(ratings) > 0 {
			changed = true
		}

		state.NextPage = page + 1
		state.LoadedPages++
		state.TotalParsed += len(ratings)

		state.Status = models.WalkerStatusRunning
		if err := l.state.SaveWalkerState(ctx, state); err != nil {
			return nil, fmt.Errorf("persist walker progress: %w", err)
		}

		l.reportProgress(page, state)
		l.logger.WithFields(logrus.Fields{
			"user_slug": state.UserSlug,
			"page":      page,
			"parsed":    len(ratings),
			"total":     state.TotalParsed,
		}).Info("Ratings page saved")
	}

	if err := l.state.ClearWalkerState(ctx, state.UserSlug); err != nil {
		return nil, fmt.Errorf("clear walker state: %w", err)
	}
	if changed {
		l.notifier.RatingsChanged(ctx, state.UserSlug)
	}

	return &LoadResult{
		Status:       LoadStatusDone,
		UserSlug:     state.UserSlug,
		TargetPages:  state.TargetPages,
		LoadedPages:  state.LoadedPages,
		TotalParsed:  state.TotalParsed,
		TotalRatings: state.TotalRatings,
	}, nil
}

func (l *Loader) pause(ctx context.Context, state *models.WalkerState, reason string, changed bool) (*LoadResult, error) {
	// The walk may be pausing because ctx was canceled; the paused progress
	// must still reach the store or resume starts from the wrong page.
	ctx = context.WithoutCancel(ctx)

	state.Status = models.WalkerStatusPaused
	state.PauseReason = reason
	if err := l.state.SaveWalkerState(ctx, state); err != nil {
		return nil, fmt.Errorf("persist paused state: %w", err)
	}
	if changed {
		l.notifier.RatingsChanged(ctx, state.UserSlug)
	}

	l.logger.WithFields(logrus.Fields{
		"user_slug": state.UserSlug,
		"next_page": state.NextPage,
		"reason":    reason,
	}).Info("Ratings walk paused")

	return &LoadResult{
		Status:       LoadStatusPaused,
		UserSlug:     state.UserSlug,
		TargetPages:  state.TargetPages,
		LoadedPages:  state.LoadedPages,
		TotalParsed:  state.TotalParsed,
		TotalRatings: state.TotalRatings,
		PauseReason:  reason,
	}, nil
}

func (l *Loader) sleepBetweenPages(ctx context.Context) {
	delay := l.delayMin
	if l.delayMax > l.delayMin {
		delay += time.Duration(rand.Int63n(int64(l.delayMax - l.delayMin)))
	}
	if delay <= 0 {
		return
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func (l *Loader) reportProgress(page int, state *models.WalkerState) {
	if l.onProgress == nil {
		return
	}
	l.onProgress(Progress{
		Page:         page,
		TargetPages:  state.TargetPages,
		LoadedPages:  state.LoadedPages,
		TotalParsed:  state.TotalParsed,
		TotalRatings: state.TotalRatings,
	})
}
