package scraper

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"csfdsync/internal/models"
)

// Extraction is best-effort throughout this file: missing markup degrades to
// the unknown sentinel for the affected field, never to an error, and never
// blocks the other fields or rows.

var (
	starsClassPattern  = regexp.MustCompile(`(?:^|\s)stars-(\d)(?:\s|$)`)
	itemSlugPattern    = regexp.MustCompile(`/(\d+-[^/]+)`)
	yearPattern        = regexp.MustCompile(`^\d{4}$`)
	pageLinkPattern    = regexp.MustCompile(`strana-(\d+)`)
	headingCountGroup  = regexp.MustCompile(`\(([^)]+)\)`)
	originYearPattern  = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	ratingDatePattern  = regexp.MustCompile(`(\d{1,2}\.\d{1,2}\.\d{4})`)
	computedCountInner = regexp.MustCompile(`(\d+)`)
)

// ItemIDs is the identity a film URL path carries: the item's own numeric id
// and slug, plus the parent season/series when the path nests two segments.
type ItemIDs struct {
	MovieID    int
	URLSlug    string
	ParentID   int
	ParentName string
}

// ParseItemIDs extracts ids from a film URL path. With two numeric-prefixed
// segments the first is the parent and the second the item itself; with one,
// the item has no parent.
func ParseItemIDs(path string) ItemIDs {
	matches := itemSlugPattern.FindAllStringSubmatch(path, -1)
	if len(matches) == 0 {
		return ItemIDs{}
	}

	slugs := make([]string, 0, len(matches))
	for _, m := range matches {
		slugs = append(slugs, m[1])
	}

	ids := ItemIDs{URLSlug: slugs[len(slugs)-1]}
	ids.MovieID = leadingID(slugs[len(slugs)-1])
	if len(slugs) > 1 {
		ids.ParentID = leadingID(slugs[0])
		ids.ParentName = slugs[0]
	}
	return ids
}

func leadingID(slug string) int {
	dash := strings.IndexByte(slug, '-')
	if dash < 0 {
		return 0
	}
	id, err := strconv.Atoi(slug[:dash])
	if err != nil {
		return 0
	}
	return id
}

// ParseStarRating reads the rating off a star widget in a listing row. The
// widget carries exactly one of six state markers: the trash class means an
// explicit 0, stars-1..stars-5 give the star count, and no marker at all
// means the row is unrated (nil, not 0).
func ParseStarRating(stars *goquery.Selection) *int {
	if stars == nil || stars.Length() == 0 {
		return nil
	}

	class, _ := stars.Attr("class")
	if strings.Contains(class, "trash") {
		return models.RatingValue(0)
	}
	if m := starsClassPattern.FindStringSubmatch(class); m != nil {
		value, err := strconv.Atoi(m[1])
		if err == nil {
			return models.RatingValue(value)
		}
	}
	return nil
}

// ParseListingRow extracts one rating record from a row of the paginated
// ratings table. Returns nil for rows that are not rating rows (headers,
// spacers). ID and UserSlug are left for the caller to assign.
func ParseListingRow(row *goquery.Selection, site *Site) *models.Rating {
	titleLink := row.Find("td.name a.film-title-name").First()
	if titleLink.Length() == 0 {
		return nil
	}

	relURL, _ := titleLink.Attr("href")
	name := strings.TrimSpace(titleLink.Text())

	var year int
	var rawType string
	row.Find(".film-title-info .info").Each(func(_ int, info *goquery.Selection) {
		value := strings.Trim(strings.TrimSpace(info.Text()), "()")
		if yearPattern.MatchString(value) {
			if year == 0 {
				year, _ = strconv.Atoi(value)
			}
		} else if rawType == "" && value != "" {
			rawType = value
		}
	})

	stars := row.Find("td.star-rating-only .star-rating .stars").First()
	date := strings.TrimSpace(row.Find("td.date-only").First().Text())
	ids := ParseItemIDs(relURL)

	return &models.Rating{
		MovieID:    ids.MovieID,
		URL:        ids.URLSlug,
		FullURL:    site.ItemFullURL(relURL),
		Name:       name,
		Year:       year,
		Type:       models.NormalizeItemType(rawType),
		Rating:     ParseStarRating(stars),
		Date:       date,
		ParentID:   ids.ParentID,
		ParentName: ids.ParentName,
		LastUpdate: time.Now().UTC(),
	}
}

// ParseListingPage extracts every rating row from one listing document.
func ParseListingPage(doc *goquery.Document, site *Site) []*models.Rating {
	var ratings []*models.Rating
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		if rating := ParseListingRow(row, site); rating != nil {
			ratings = append(ratings, rating)
		}
	})
	return ratings
}

// ParseTotalRatings reads the rating count out of the listing heading, e.g.
// "Hodnocení (1 234)". Returns 0 when the heading is missing or unreadable.
func ParseTotalRatings(doc *goquery.Document) int {
	heading := doc.Find("h2").First().Text()
	match := headingCountGroup.FindStringSubmatch(heading)
	if match == nil {
		return 0
	}

	numeric := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, match[1])

	total, err := strconv.Atoi(numeric)
	if err != nil {
		return 0
	}
	return total
}

// ParseMaxPage determines the page count of the listing from its pagination
// links, falling back to the heading total divided by the fixed page size
// when no links are present.
func ParseMaxPage(doc *goquery.Document, perPage int) int {
	maxPage := 0
	doc.Find(`a[href*="strana-"]`).Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if m := pageLinkPattern.FindStringSubmatch(href); m != nil {
			if page, err := strconv.Atoi(m[1]); err == nil && page > maxPage {
				maxPage = page
			}
		}
	})
	if maxPage > 0 {
		return maxPage
	}

	total := ParseTotalRatings(doc)
	if total > 0 && perPage > 0 {
		return (total + perPage - 1) / perPage
	}
	return 1
}

// ParseOwnRating reads the signed-in user's own rating off a film page. The
// active star markers carry data-rating values on a 0..100 percent scale; a
// 0-percent marker forces the trash rating regardless of other markers. No
// active marker means unrated (nil).
func ParseOwnRating(doc *goquery.Document) *int {
	var percents []int
	doc.Find(".my-rating .stars-rating a.star.active[data-rating]").Each(func(_ int, star *goquery.Selection) {
		raw, _ := star.Attr("data-rating")
		if value, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			percents = append(percents, value)
		}
	})
	if len(percents) == 0 {
		return nil
	}

	maxPercent := 0
	for _, p := range percents {
		if p == 0 {
			return models.RatingValue(0)
		}
		if p > maxPercent {
			maxPercent = p
		}
	}

	value := int(math.Round(float64(maxPercent) / 20))
	if value < 0 {
		value = 0
	}
	if value > 5 {
		value = 5
	}
	return models.RatingValue(value)
}

// ComputedInfo describes a rating the site derived from child items (e.g. a
// series rating computed from episode ratings) rather than one the user
// entered directly.
type ComputedInfo struct {
	Computed bool
	Count    int
	FromText string
}

var computedTitleSelectors = []string{
	".others-rating .current-user-rating [title]",
	".mobile-film-rating-detail [title]",
	".my-rating .stars-rating[title]",
}

// ParseComputedInfo detects the computed-from-children state of the page's
// own rating from the star widget classes and the provenance tooltip.
func ParseComputedInfo(doc *goquery.Document) ComputedInfo {
	info := ComputedInfo{
		Computed: doc.Find(".my-rating .stars-rating a.star.computed").Length() > 0,
	}

	for _, selector := range computedTitleSelectors {
		doc.Find(selector).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			title, _ := el.Attr("title")
			lowered := strings.ToLower(title)
			if strings.Contains(lowered, "spočten") || strings.Contains(lowered, "spocten") {
				info.FromText = title
				return false
			}
			return true
		})
		if info.FromText != "" {
			break
		}
	}

	if info.FromText != "" {
		info.Computed = true
		if m := computedCountInner.FindStringSubmatch(info.FromText); m != nil {
			info.Count, _ = strconv.Atoi(m[1])
		}
	}
	return info
}

// ParsePageName returns the film page's display title.
func ParsePageName(doc *goquery.Document) string {
	name := doc.Find(".film-header h1").First().Text()
	return strings.Join(strings.Fields(name), " ")
}

// ParsePageYear returns the release year from the origin line, 0 if absent.
func ParsePageYear(doc *goquery.Document) int {
	origin := doc.Find(".film-info-content .origin").First().Text()
	match := originYearPattern.FindString(origin)
	if match == "" {
		return 0
	}
	year, _ := strconv.Atoi(match)
	return year
}

// ParsePageType returns the item kind from the header type label. Pages
// without a label are plain movies.
func ParsePageType(doc *goquery.Document) models.ItemType {
	return models.NormalizeItemType(doc.Find(".film-header .type").First().Text())
}

// ParsePageRatingDate reads the DD.MM.YYYY date the rating was given from
// the star-widget tooltip, "" when not present.
func ParsePageRatingDate(doc *goquery.Document) string {
	title, _ := doc.Find(".my-rating .stars-rating").First().Attr("title")
	if title == "" {
		title, _ = doc.Find(".mobile-film-rating-detail a span").First().Attr("title")
	}
	return ratingDatePattern.FindString(title)
}
