package models

import (
	"fmt"
	"strings"
	"time"
)

// ItemType is the canonical kind of a rated title.
type ItemType string

const (
	ItemTypeMovie   = ItemType("movie")
	ItemTypeSeries  = ItemType("series")
	ItemTypeSeason  = ItemType("season")
	ItemTypeEpisode = ItemType("episode")
)

// NormalizeItemType maps the free-text type label from the site (Czech or
// Slovak locale) to the canonical enum. Unrecognized text defaults to movie.
func NormalizeItemType(raw string) ItemType {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case normalized == "":
		return ItemTypeMovie
	case strings.Contains(normalized, "epizoda"), normalized == "episode":
		return ItemTypeEpisode
	case strings.Contains(normalized, "seriál"), strings.Contains(normalized, "serial"):
		return ItemTypeSeries
	case strings.HasPrefix(normalized, "série"), strings.HasPrefix(normalized, "serie"), normalized == "season":
		return ItemTypeSeason
	default:
		return ItemTypeMovie
	}
}

// Rating is one stored user rating of a movie, series, season or episode.
//
// Rating is a pointer because 0 is a real value (the "trash" rating) and must
// stay distinct from "not rated". Year, ParentID and ComputedCount use 0 as
// the unknown sentinel; 0 is not a valid year, CSFD id or child count.
type Rating struct {
	ID               string    `json:"id"`
	UserSlug         string    `json:"userSlug"`
	MovieID          int       `json:"movieId"`
	URL              string    `json:"url"`
	FullURL          string    `json:"fullUrl"`
	Name             string    `json:"name"`
	Year             int       `json:"year,omitempty"`
	Type             ItemType  `json:"type"`
	Rating           *int      `json:"rating"`
	Date             string    `json:"date,omitempty"`
	ParentID         int       `json:"parentId,omitempty"`
	ParentName       string    `json:"parentName,omitempty"`
	Computed         bool      `json:"computed"`
	ComputedCount    int       `json:"computedCount,omitempty"`
	ComputedFromText string    `json:"computedFromText,omitempty"`
	LastUpdate       time.Time `json:"lastUpdate"`
}

// RecordID builds the composite store key. The store is multi-tenant; every
// key is prefixed with the owning user's slug.
func RecordID(userSlug, urlSlug string) string {
	return fmt.Sprintf("%s:%s", userSlug, urlSlug)
}

// RatingValue returns a pointer to v, for literal rating values.
func RatingValue(v int) *int {
	return &v
}

// SameRating reports whether two rating values are equal, treating nil
// (unrated) as its own state.
func SameRating(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
