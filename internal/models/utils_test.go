package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGenerateRecordID(t *testing.T) {
	id1 := GenerateRecordID("Jazz Night", "2024-09-01", "Blue Note")
	id2 := GenerateRecordID("  jazz night ", "2024-09-01", "BLUE NOTE")
	id3 := GenerateRecordID("Jazz Night", "2024-09-02", "Blue Note")

	if id1 != id2 {
		t.Errorf("Expected normalized inputs to produce the same ID, got %s and %s", id1, id2)
	}
	if id1 == id3 {
		t.Error("Expected different dates to produce different IDs")
	}
	if !strings.HasPrefix(id1, "evt_") || len(id1) != 12 {
		t.Errorf("Expected evt_ prefix and 12 characters, got %s", id1)
	}

	if NewExtractionID() == NewExtractionID() {
		t.Error("Expected extraction IDs to be unique")
	}
}

func TestValidators(t *testing.T) {
	testCases := []struct {
		name     string
		got      bool
		expected bool
	}{
		{"valid category", ValidateCategory(CategoryComedy), true},
		{"invalid category", ValidateCategory("arts-creativity"), false},
		{"iso date", ValidateISODate("2024-09-01"), true},
		{"us date", ValidateISODate("09/01/2024"), false},
		{"clock time", ValidateClockTime("19:30:00"), true},
		{"short clock time", ValidateClockTime("19:30"), false},
		{"https url", IsValidURL("https://example.com"), true},
		{"relative url", IsValidURL("/events/1"), false},
		{"cdn image", ValidateImageURL("https://cdn.example.com/img?id=4"), true},
		{"svg image", ValidateImageURL("https://example.com/logo.svg"), false},
		{"uppercase ico", ValidateImageURL("https://example.com/favicon.ICO"), false},
		{"svg in directory", ValidateImageURL("https://cdn.example.com/.svg-assets/poster.jpg"), true},
		{"icon host", ValidateImageURL("https://img.icons8.com/flyer.png"), true},
		{"svg in query", ValidateImageURL("https://cdn.example.com/render?fmt=.svg&id=4"), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.expected {
				t.Errorf("Expected %t, got %t", tc.expected, tc.got)
			}
		})
	}
}

func TestValidateRecord(t *testing.T) {
	free := true
	record := EventRecord{
		Title:      "Jazz Night",
		Venue:      "Blue Note",
		Address:    "131 W 3rd St, New York",
		Date:       "2024-09-01",
		StartTime:  "20:00:00",
		Categories: []string{CategoryMusic},
		Free:       &free,
	}

	if issues := ValidateRecord(record); len(issues) != 0 {
		t.Errorf("Expected no issues, got %v", issues)
	}

	record.Address = "131 W 3rd St New York"
	record.StartTime = "8pm"
	record.Categories = []string{CategoryMusic, CategoryFilm, CategoryArts}
	issues := ValidateRecord(record)
	if len(issues) != 3 {
		t.Errorf("Expected 3 issues, got %d: %v", len(issues), issues)
	}

	if issues := ValidateRecord(EventRecord{}); len(issues) != 4 {
		t.Errorf("Expected 4 missing-field issues for empty record, got %v", issues)
	}
}

func TestEventRecordJSON(t *testing.T) {
	record := EventRecord{Title: "Jazz Night", Venue: "Blue Note"}

	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("Failed to marshal record: %v", err)
	}

	// Absent fields must not be defaulted in the output
	for _, absent := range []string{"address", "date", "free", "categories"} {
		if strings.Contains(string(data), `"`+absent+`"`) {
			t.Errorf("Expected %s to be omitted, got %s", absent, data)
		}
	}

	if !record.Has(FieldTitle) || record.Has(FieldFree) {
		t.Error("Has reported the wrong presence for title/free")
	}
}

func TestEventRecordClone(t *testing.T) {
	free := false
	record := EventRecord{Categories: []string{CategoryMusic}, Free: &free}
	clone := record.Clone()

	clone.Categories[0] = CategoryFilm
	*clone.Free = true

	if record.Categories[0] != CategoryMusic || *record.Free {
		t.Error("Expected clone to be independent of the original")
	}
}

func TestCalculateDuplicateSimilarity(t *testing.T) {
	a := EventRecord{Title: "Jazz Night", Venue: "Blue Note", Date: "2024-09-01"}
	b := EventRecord{Title: "jazz night", Venue: "blue note", Date: "2024-09-01"}

	if score := CalculateDuplicateSimilarity(a, b); score != 1.0 {
		t.Errorf("Expected similarity 1.0, got %f", score)
	}
	if score := CalculateDuplicateSimilarity(a, EventRecord{}); score != 0 {
		t.Errorf("Expected similarity 0 against empty record, got %f", score)
	}
}
