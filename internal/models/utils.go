package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateRecordID creates a stable ID for an event based on its core attributes
func GenerateRecordID(title, date, venue string) string {
	// Normalize inputs
	normalizedTitle := strings.ToLower(strings.TrimSpace(title))
	normalizedDate := strings.ToLower(strings.TrimSpace(date))
	normalizedVenue := strings.ToLower(strings.TrimSpace(venue))

	input := fmt.Sprintf("%s|%s|%s", normalizedTitle, normalizedDate, normalizedVenue)
	hash := sha256.Sum256([]byte(input))

	// First 8 hex characters with prefix
	return "evt_" + hex.EncodeToString(hash[:])[:8]
}

// NewExtractionID creates a unique ID for one extraction run over one page
func NewExtractionID() string {
	return "ext_" + uuid.NewString()
}

// ValidateCategory checks if the category belongs to the closed category set
func ValidateCategory(category string) bool {
	validCategories := []string{
		CategoryMusic,
		CategoryNightlife,
		CategoryArts,
		CategoryComedy,
		CategoryFoodDrink,
		CategorySports,
		CategoryCommunity,
		CategoryFamily,
		CategoryFilm,
		CategoryEducation,
	}

	for _, validCategory := range validCategories {
		if category == validCategory {
			return true
		}
	}
	return false
}

// ValidateISODate checks for a YYYY-MM-DD calendar date
func ValidateISODate(date string) bool {
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

// ValidateClockTime checks for a HH:mm:ss 24-hour time
func ValidateClockTime(clock string) bool {
	_, err := time.Parse("15:04:05", clock)
	return err == nil
}

// IsValidURL performs basic URL validation
func IsValidURL(url string) bool {
	if url == "" {
		return false
	}

	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// ValidateImageURL performs image URL validation; extensionless CDN URLs are accepted.
// Only the path's final extension is checked, so ".svg" in a host or query is fine.
func ValidateImageURL(rawURL string) bool {
	if !IsValidURL(rawURL) {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}

	switch strings.ToLower(path.Ext(u.Path)) {
	case ".svg", ".ico":
		return false
	}
	return true
}

// ValidateRecord returns the list of issues found in a merged record
func ValidateRecord(record EventRecord) []string {
	var issues []string

	if record.Title == "" {
		issues = append(issues, "missing title")
	}

	if record.Date == "" {
		issues = append(issues, "missing date")
	} else if !ValidateISODate(record.Date) {
		issues = append(issues, "invalid date: "+record.Date)
	}

	for _, clock := range []struct{ name, value string }{
		{"start time", record.StartTime},
		{"end time", record.EndTime},
	} {
		if clock.value != "" && !ValidateClockTime(clock.value) {
			issues = append(issues, fmt.Sprintf("invalid %s: %s", clock.name, clock.value))
		}
	}

	if record.Venue == "" {
		issues = append(issues, "missing venue")
	}

	if record.Address == "" {
		issues = append(issues, "missing address")
	} else if !strings.Contains(record.Address, ",") {
		issues = append(issues, "address has no street/city separator: "+record.Address)
	}

	if len(record.Categories) > MaxCategories {
		issues = append(issues, fmt.Sprintf("too many categories: %d", len(record.Categories)))
	}
	for _, category := range record.Categories {
		if !ValidateCategory(category) {
			issues = append(issues, "invalid category: "+category)
		}
	}

	if record.ImageURL != "" && !ValidateImageURL(record.ImageURL) {
		issues = append(issues, "invalid image URL: "+record.ImageURL)
	}

	return issues
}

// GetCategoryDisplayName returns a human-readable name for a category
func GetCategoryDisplayName(category string) string {
	displayNames := map[string]string{
		CategoryMusic:     "Music",
		CategoryNightlife: "Nightlife",
		CategoryArts:      "Arts & Theatre",
		CategoryComedy:    "Comedy",
		CategoryFoodDrink: "Food & Drink",
		CategorySports:    "Sports & Fitness",
		CategoryCommunity: "Community",
		CategoryFamily:    "Family",
		CategoryFilm:      "Film",
		CategoryEducation: "Talks & Education",
	}

	if displayName, exists := displayNames[category]; exists {
		return displayName
	}

	return category
}

// CalculateDuplicateSimilarity calculates similarity between two records (0.0 to 1.0)
func CalculateDuplicateSimilarity(r1, r2 EventRecord) float64 {
	score := 0.0
	maxScore := 4.0 // 4 comparison criteria

	// Title similarity (most important)
	t1, t2 := strings.ToLower(r1.Title), strings.ToLower(r2.Title)
	if t1 != "" && t1 == t2 {
		score += 2.0
	} else if t1 != "" && t2 != "" && (strings.Contains(t1, t2) || strings.Contains(t2, t1)) {
		score += 1.0
	}

	// Venue similarity
	if r1.Venue != "" && strings.EqualFold(r1.Venue, r2.Venue) {
		score += 1.0
	} else if r1.Address != "" && r2.Address != "" &&
		strings.Contains(strings.ToLower(r1.Address), strings.ToLower(r2.Address)) {
		score += 0.5
	}

	if r1.Date != "" && r1.Date == r2.Date {
		score += 1.0
	}

	return score / maxScore
}
