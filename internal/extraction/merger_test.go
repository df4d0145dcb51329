package extraction

import (
	"math"
	"testing"

	"event-extraction-engine/internal/models"
)

func text(t *testing.T, field models.FieldName, value string, confidence float64, layer models.LayerID) models.FieldCandidate {
	t.Helper()
	c, ok := models.TextCandidate(field, value, confidence, layer)
	if !ok {
		t.Fatalf("Failed to build %s candidate %q", field, value)
	}
	return c
}

func TestMergeJazzNight(t *testing.T) {
	candidates := []models.FieldCandidate{
		text(t, models.FieldTitle, "Jazz Night", 90, models.LayerStructuredData),
		text(t, models.FieldVenue, "Blue Note", 85, models.LayerStructuredData),
		text(t, models.FieldVenue, "131 West 3rd St", 40, models.LayerTextPatterns),
	}

	result := NewMerger(nil).Merge(candidates)

	if result.Record.Title != "Jazz Night" {
		t.Errorf("Expected title Jazz Night, got %q", result.Record.Title)
	}
	if result.Record.Venue != "Blue Note" {
		t.Errorf("Expected venue Blue Note, got %q", result.Record.Venue)
	}
	if result.Record.Date != "" || result.Record.Address != "" {
		t.Errorf("Expected missing fields to stay absent, got date %q address %q", result.Record.Date, result.Record.Address)
	}

	// (90*2 + 85*1.5) / (2 + 1.5 + 2 date + 1.5 address)
	expected := 307.5 / 7
	if math.Abs(result.Overall-expected) > 1e-9 {
		t.Errorf("Expected overall %.4f, got %.4f", expected, result.Overall)
	}
	if got := result.FieldConfidence[models.FieldVenue]; got != 85 {
		t.Errorf("Expected venue confidence 85, got %v", got)
	}
}

func TestMergeTieBreaks(t *testing.T) {
	t.Run("lower layer wins equal scores", func(t *testing.T) {
		result := NewMerger(nil).Merge([]models.FieldCandidate{
			text(t, models.FieldTitle, "From Layer 3", 70, models.LayerSemanticHTML),
			text(t, models.FieldTitle, "From Layer 2", 70, models.LayerMetaTags),
		})
		if result.Record.Title != "From Layer 2" {
			t.Errorf("Expected layer 2 to win the tie, got %q", result.Record.Title)
		}
		if result.Winners[models.FieldTitle].Layer != models.LayerMetaTags {
			t.Errorf("Expected winner layer 2, got %d", result.Winners[models.FieldTitle].Layer)
		}
	})

	t.Run("earlier candidate wins full tie", func(t *testing.T) {
		result := NewMerger(nil).Merge([]models.FieldCandidate{
			text(t, models.FieldTitle, "First", 70, models.LayerSemanticHTML),
			text(t, models.FieldTitle, "Second", 70, models.LayerSemanticHTML),
		})
		if result.Record.Title != "First" {
			t.Errorf("Expected first candidate to win, got %q", result.Record.Title)
		}
	})

	t.Run("higher confidence beats lower layer", func(t *testing.T) {
		result := NewMerger(nil).Merge([]models.FieldCandidate{
			text(t, models.FieldDate, "2024-09-01", 60, models.LayerStructuredData),
			text(t, models.FieldDate, "2024-09-02", 61, models.LayerTextPatterns),
		})
		if result.Record.Date != "2024-09-02" {
			t.Errorf("Expected higher confidence date, got %q", result.Record.Date)
		}
	})
}

func TestMergeValueKinds(t *testing.T) {
	cats, ok := models.CategoriesCandidate([]string{"music", "nightlife", "arts"}, 80, models.LayerHeuristics)
	if !ok {
		t.Fatal("Expected categories candidate")
	}

	result := NewMerger(nil).Merge([]models.FieldCandidate{
		models.FreeCandidate(true, 50, models.LayerTextPatterns),
		models.FreeCandidate(false, 40, models.LayerHeuristics),
		cats,
	})

	if result.Record.Free == nil || !*result.Record.Free {
		t.Errorf("Expected free=true, got %v", result.Record.Free)
	}
	if len(result.Record.Categories) != 2 || result.Record.Categories[0] != "music" {
		t.Errorf("Expected [music nightlife], got %v", result.Record.Categories)
	}
}

func TestMergeEmpty(t *testing.T) {
	result := NewMerger(nil).Merge(nil)
	if result.Overall != 0 {
		t.Errorf("Expected overall 0 for no candidates, got %f", result.Overall)
	}
	if result.Record.Has(models.FieldTitle) {
		t.Error("Expected empty record")
	}
}

func TestMergerWeightOverrides(t *testing.T) {
	m := NewMerger(map[string]float64{"price": 3, "title": 0})

	if got := m.Weight(models.FieldPrice); got != 3 {
		t.Errorf("Expected price weight 3, got %f", got)
	}
	if got := m.Weight(models.FieldTitle); got != 2 {
		t.Errorf("Expected non-positive override to be ignored, got %f", got)
	}
	if got := m.Weight(models.FieldCity); got != 1 {
		t.Errorf("Expected default weight 1, got %f", got)
	}
}
