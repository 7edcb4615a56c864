package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DocumentFetcher retrieves one HTML document. The walker and reconciler
// depend on this interface so they can be exercised without the network.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, url string) (*goquery.Document, error)
}

// FetcherConfig configures the HTTP document fetcher.
type FetcherConfig struct {
	UserAgent   string
	Timeout     time.Duration
	MinInterval time.Duration
	Logger      *logrus.Logger
}

// Fetcher loads pages over HTTP with a floor on the request rate. The target
// site rate-limits aggressively; the randomized inter-page delay lives in the
// walker, this limiter just guarantees a minimum spacing across all flows.
//
// Failed fetches are not retried here. Persisted walker progress is the retry
// mechanism, driven by an explicit later run.
type Fetcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	logger     *logrus.Logger
}

func NewFetcher(config FetcherConfig) *Fetcher {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if config.MinInterval > 0 {
		limit = rate.Every(config.MinInterval)
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(limit, 1),
		userAgent: config.UserAgent,
		logger:    config.Logger,
	}
}

// FetchDocument GETs the URL and parses the response body. Any non-200
// status is an error; the body is not inspected in that case.
func (f *Fetcher) FetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html")

	started := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	f.logger.WithFields(logrus.Fields{
		"url":      url,
		"duration": time.Since(started).String(),
	}).Debug("Page fetched")

	return doc, nil
}
