package models

import "time"

// EventRecord is the reconciled output for a single page
type EventRecord struct {
	Title       string   `json:"title,omitempty"`
	Venue       string   `json:"venue,omitempty"`
	Address     string   `json:"address,omitempty"`     // "street, city" once finalized
	City        string   `json:"city,omitempty"`
	Date        string   `json:"date,omitempty"`        // ISO date (YYYY-MM-DD)
	StartTime   string   `json:"startTime,omitempty"`   // HH:mm:ss
	EndTime     string   `json:"endTime,omitempty"`     // HH:mm:ss
	Categories  []string `json:"categories,omitempty"`  // 1-2 values from the category set
	Free        *bool    `json:"free,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	Description string   `json:"description,omitempty"`
	Price       string   `json:"price,omitempty"`
}

// Has reports whether the record carries a value for the field
func (r EventRecord) Has(field FieldName) bool {
	switch field {
	case FieldTitle:
		return r.Title != ""
	case FieldVenue:
		return r.Venue != ""
	case FieldAddress:
		return r.Address != ""
	case FieldCity:
		return r.City != ""
	case FieldDate:
		return r.Date != ""
	case FieldStartTime:
		return r.StartTime != ""
	case FieldEndTime:
		return r.EndTime != ""
	case FieldCategories:
		return len(r.Categories) > 0
	case FieldFree:
		return r.Free != nil
	case FieldImage:
		return r.ImageURL != ""
	case FieldDescription:
		return r.Description != ""
	case FieldPrice:
		return r.Price != ""
	}
	return false
}

// Clone returns a deep copy so post-processing never aliases a merged record
func (r EventRecord) Clone() EventRecord {
	out := r
	if r.Categories != nil {
		out.Categories = append([]string(nil), r.Categories...)
	}
	if r.Free != nil {
		free := *r.Free
		out.Free = &free
	}
	return out
}

// LayerReport describes one layer invocation for a page
type LayerReport struct {
	Layer      LayerID       `json:"layer"`
	Name       string        `json:"name"`
	Candidates int           `json:"candidates"`
	Elapsed    time.Duration `json:"elapsed"`
	TimedOut   bool          `json:"timedOut,omitempty"`
	Skipped    bool          `json:"skipped,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Resolution records how the venue/address pair was finalized
type Resolution struct {
	Venue      string  `json:"venue,omitempty"`
	Address    string  `json:"address"`
	City       string  `json:"city,omitempty"`
	Confidence float64 `json:"confidence"` // 0-1
	Strategy   string  `json:"strategy"`
}

// ExtractionResult is everything the engine emits for one page
type ExtractionResult struct {
	ID              string                `json:"id"`
	URL             string                `json:"url"`
	Record          EventRecord           `json:"record"`
	FieldConfidence map[FieldName]float64 `json:"fieldConfidence"`
	LayersUsed      []LayerID             `json:"layersUsed"`
	LayerReports    []LayerReport         `json:"layerReports"`
	TotalConfidence float64               `json:"totalConfidence"`
	Resolution      *Resolution           `json:"resolution,omitempty"`
	OCRRan          bool                  `json:"ocrRan"`
	EarlyTerminated bool                  `json:"earlyTerminated"`
	ExtractedAt     time.Time             `json:"extractedAt"`
	Duration        time.Duration         `json:"duration"`
}

// Acceptable reports whether the result clears the caller's minimum confidence
func (r *ExtractionResult) Acceptable(minConfidence float64) bool {
	return r != nil && r.TotalConfidence >= minConfidence
}

// Validate lists problems with the finalized record; an empty slice means it is complete
func (r *ExtractionResult) Validate() []string {
	if r == nil {
		return []string{"nil result"}
	}
	return ValidateRecord(r.Record)
}

// OCRResult is what the OCR collaborator returns for one image
type OCRResult struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"` // 0-100
	Words      []string `json:"words"`
}

// Category constants (closed set)
const (
	CategoryMusic     = "music"
	CategoryNightlife = "nightlife"
	CategoryArts      = "arts"
	CategoryComedy    = "comedy"
	CategoryFoodDrink = "food-drink"
	CategorySports    = "sports"
	CategoryCommunity = "community"
	CategoryFamily    = "family"
	CategoryFilm      = "film"
	CategoryEducation = "education"
)

// MaxCategories is the most categories a record may carry
const MaxCategories = 2
