package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"csfdsync/internal/models"
	"csfdsync/internal/notify"
	"csfdsync/internal/repository"
	"csfdsync/internal/scraper"
)

// Reconciler keeps the store consistent with what a single film page shows:
// the page's own-rating state is authoritative for that one record.
type Reconciler struct {
	repo       repository.RatingRepository
	fetcher    scraper.DocumentFetcher
	site       *scraper.Site
	notifier   notify.Notifier
	logger     *logrus.Logger
	retryDelay time.Duration
}

// ReconcilerConfig wires the reconciler's collaborators. RetryDelay is the
// wait before the page is re-read when the rating widget was absent on the
// first parse (it renders after the rest of the page).
type ReconcilerConfig struct {
	Repo       repository.RatingRepository
	Fetcher    scraper.DocumentFetcher
	Site       *scraper.Site
	Notifier   notify.Notifier
	Logger     *logrus.Logger
	RetryDelay time.Duration
}

func NewReconciler(config ReconcilerConfig) *Reconciler {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Notifier == nil {
		config.Notifier = notify.NoopNotifier{}
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 250 * time.Millisecond
	}
	return &Reconciler{
		repo:       config.Repo,
		fetcher:    config.Fetcher,
		site:       config.Site,
		notifier:   config.Notifier,
		logger:     config.Logger,
		retryDelay: config.RetryDelay,
	}
}

// ReconcileURL fetches the film page and reconciles it against the store.
// When the first fetch shows no own rating, the page is fetched once more
// after a short delay before the rating is treated as removed.
func (r *Reconciler) ReconcileURL(ctx context.Context, userSlug, pageURL string) (bool, error) {
	doc, err := r.fetcher.FetchDocument(ctx, pageURL)
	if err != nil {
		return false, fmt.Errorf("fetch film page: %w", err)
	}

	if scraper.ParseOwnRating(doc) == nil {
		select {
		case <-time.After(r.retryDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
		if refetched, err := r.fetcher.FetchDocument(ctx, pageURL); err == nil {
			doc = refetched
		}
	}

	return r.ReconcilePage(ctx, userSlug, pageURL, doc)
}

// ReconcilePage reconciles an already-fetched film page against the store.
// It returns whether the store changed. Running it twice against the same
// page state writes nothing the second time.
func (r *Reconciler) ReconcilePage(ctx context.Context, userSlug, pageURL string, doc *goquery.Document) (bool, error) {
	path := pageURL
	if parsed, err := url.Parse(pageURL); err == nil && parsed.Path != "" {
		path = parsed.Path
	}

	ids := scraper.ParseItemIDs(path)
	if ids.MovieID == 0 || ids.URLSlug == "" {
		return false, nil
	}

	recordID := models.RecordID(userSlug, ids.URLSlug)
	existing, err := r.repo.GetByID(ctx, recordID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return false, fmt.Errorf("look up record %s: %w", recordID, err)
	}

	ownRating := scraper.ParseOwnRating(doc)
	if ownRating == nil {
		if existing == nil {
			return false, nil
		}
		// The user removed their rating on the site.
		if err := r.repo.Delete(ctx, recordID); err != nil {
			return false, fmt.Errorf("delete record %s: %w", recordID, err)
		}
		r.notifier.RatingsChanged(ctx, userSlug)
		r.logger.WithFields(logrus.Fields{
			"user_slug": userSlug,
			"record_id": recordID,
		}).Info("Rating removed on page, record deleted")
		return true, nil
	}

	computed := scraper.ParseComputedInfo(doc)
	if existing != nil &&
		models.SameRating(existing.Rating, ownRating) &&
		existing.Computed == computed.Computed &&
		existing.ComputedCount == computed.Count &&
		existing.ComputedFromText == computed.FromText {
		return false, nil
	}

	updated := r.buildRecord(userSlug, recordID, ids, path, doc, ownRating, computed, existing)
	if err := r.repo.Put(ctx, updated); err != nil {
		return false, fmt.Errorf("save record %s: %w", recordID, err)
	}
	r.notifier.RatingsChanged(ctx, userSlug)

	r.logger.WithFields(logrus.Fields{
		"user_slug": userSlug,
		"record_id": recordID,
		"rating":    *ownRating,
		"computed":  computed.Computed,
	}).Info("Record updated from page")
	return true, nil
}

// buildRecord assembles the updated record, keeping fields the current page
// cannot supply (title, rating date, year) from the existing record.
func (r *Reconciler) buildRecord(
	userSlug, recordID string,
	ids scraper.ItemIDs,
	path string,
	doc *goquery.Document,
	ownRating *int,
	computed scraper.ComputedInfo,
	existing *models.Rating,
) *models.Rating {
	name := scraper.ParsePageName(doc)
	date := scraper.ParsePageRatingDate(doc)
	year := scraper.ParsePageYear(doc)
	if existing != nil {
		if name == "" {
			name = existing.Name
		}
		if date == "" {
			date = existing.Date
		}
		if year == 0 {
			year = existing.Year
		}
	}

	return &models.Rating{
		ID:               recordID,
		UserSlug:         userSlug,
		MovieID:          ids.MovieID,
		URL:              ids.URLSlug,
		FullURL:          r.site.ItemFullURL(path),
		Name:             name,
		Year:             year,
		Type:             scraper.ParsePageType(doc),
		Rating:           ownRating,
		Date:             date,
		ParentID:         ids.ParentID,
		ParentName:       ids.ParentName,
		Computed:         computed.Computed,
		ComputedCount:    computed.Count,
		ComputedFromText: computed.FromText,
		LastUpdate:       time.Now().UTC(),
	}
}
