package scraper

import (
	"fmt"
	"regexp"
	"strings"
)

var userSlugPattern = regexp.MustCompile(`/uzivatel/(\d+-[^/]+)/`)

// Site builds URLs for one CSFD deployment. The Czech and Slovak sites share
// markup but use different path segments for the ratings listing.
type Site struct {
	BaseURL string
}

func NewSite(baseURL string) *Site {
	return &Site{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Site) ratingsSegment() string {
	if strings.HasSuffix(s.BaseURL, ".sk") {
		return "hodnotenia"
	}
	return "hodnoceni"
}

// RatingsPageURL returns the URL of one page of a user's ratings listing.
// Page 1 has no page suffix.
func (s *Site) RatingsPageURL(userSlug string, page int) string {
	base := fmt.Sprintf("%s/uzivatel/%s/%s/", s.BaseURL, userSlug, s.ratingsSegment())
	if page <= 1 {
		return base
	}
	return fmt.Sprintf("%sstrana-%d/", base, page)
}

// ItemFullURL resolves a relative film path against the site origin and
// strips listing-tab suffixes so the same title always maps to one URL.
func (s *Site) ItemFullURL(relPath string) string {
	cleaned := tabSuffixPattern.ReplaceAllString(relPath, "/")
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	return s.BaseURL + cleaned
}

var tabSuffixPattern = regexp.MustCompile(`(?i)/(recenze|komentare|prehled|prehlad)/?$`)

// ExtractUserSlug pulls the "123456-username" slug out of a profile URL or
// path. Returns "" when the URL is not a profile link.
func ExtractUserSlug(profileURL string) string {
	match := userSlugPattern.FindStringSubmatch(profileURL)
	if match == nil {
		return ""
	}
	return match[1]
}
