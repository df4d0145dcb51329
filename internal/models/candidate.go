package models

import (
	"fmt"
	"math"
	"strings"
)

// FieldName identifies one field of an EventRecord
type FieldName string

// Event record fields
const (
	FieldTitle       FieldName = "title"
	FieldVenue       FieldName = "venue"
	FieldAddress     FieldName = "address"
	FieldCity        FieldName = "city"
	FieldDate        FieldName = "date"
	FieldStartTime   FieldName = "startTime"
	FieldEndTime     FieldName = "endTime"
	FieldCategories  FieldName = "categories"
	FieldFree        FieldName = "free"
	FieldImage       FieldName = "image"
	FieldDescription FieldName = "description"
	FieldPrice       FieldName = "price"
)

// AllFields lists every record field in output order
var AllFields = []FieldName{
	FieldTitle, FieldVenue, FieldAddress, FieldCity, FieldDate, FieldStartTime,
	FieldEndTime, FieldCategories, FieldFree, FieldImage, FieldDescription, FieldPrice,
}

// RequiredFields are counted against the overall confidence even when no layer produced them
var RequiredFields = []FieldName{FieldTitle, FieldDate, FieldVenue, FieldAddress}

// IsRequired reports whether the field belongs to the required set
func (f FieldName) IsRequired() bool {
	for _, r := range RequiredFields {
		if f == r {
			return true
		}
	}
	return false
}

// ValueKind is the tag of a FieldValue
type ValueKind int

const (
	KindText ValueKind = iota
	KindFlag
	KindCategories
)

// Kind returns the single value kind a field accepts
func (f FieldName) Kind() ValueKind {
	switch f {
	case FieldFree:
		return KindFlag
	case FieldCategories:
		return KindCategories
	default:
		return KindText
	}
}

// LayerID orders extraction layers from most to least trusted
type LayerID int

// Extraction layers
const (
	LayerStructuredData LayerID = 1
	LayerMetaTags       LayerID = 2
	LayerSemanticHTML   LayerID = 3
	LayerTextPatterns   LayerID = 4
	LayerHeuristics     LayerID = 5
	LayerOCR            LayerID = 6
)

var layerNames = map[LayerID]string{
	LayerStructuredData: "structured-data",
	LayerMetaTags:       "meta-tags",
	LayerSemanticHTML:   "semantic-html",
	LayerTextPatterns:   "text-patterns",
	LayerHeuristics:     "heuristics",
	LayerOCR:            "ocr",
}

func (l LayerID) String() string {
	if name, ok := layerNames[l]; ok {
		return name
	}
	return fmt.Sprintf("layer-%d", int(l))
}

// FieldValue is the closed set of values a candidate may carry
type FieldValue interface {
	Kind() ValueKind
	String() string
	isFieldValue()
}

// Text is a string-valued field
type Text string

func (Text) Kind() ValueKind  { return KindText }
func (t Text) String() string { return string(t) }
func (Text) isFieldValue()    {}

// Flag is a boolean-valued field
type Flag bool

func (Flag) Kind() ValueKind { return KindFlag }
func (f Flag) String() string {
	if f {
		return "true"
	}
	return "false"
}
func (Flag) isFieldValue() {}

// CategoryList holds one or two categories from the closed category set
type CategoryList []string

func (CategoryList) Kind() ValueKind    { return KindCategories }
func (c CategoryList) String() string { return strings.Join(c, ",") }
func (CategoryList) isFieldValue()      {}

// FieldCandidate is a single (field, value, confidence, layer) answer produced by a layer.
// Candidates are never mutated after creation.
type FieldCandidate struct {
	Field      FieldName  `json:"field"`
	Value      FieldValue `json:"value"`
	Confidence float64    `json:"confidence"` // 0-100
	Layer      LayerID    `json:"layer"`
}

// NewCandidate builds a candidate, rejecting values whose kind does not match the field
// and clamping confidence into 0-100.
func NewCandidate(field FieldName, value FieldValue, confidence float64, layer LayerID) (FieldCandidate, error) {
	if value == nil {
		return FieldCandidate{}, fmt.Errorf("nil value for field %s", field)
	}
	if value.Kind() != field.Kind() {
		return FieldCandidate{}, fmt.Errorf("field %s does not accept %T", field, value)
	}
	if cats, ok := value.(CategoryList); ok {
		cats = append(CategoryList(nil), cats...)
		value = cats
	}
	return FieldCandidate{
		Field:      field,
		Value:      value,
		Confidence: ClampConfidence(confidence),
		Layer:      layer,
	}, nil
}

// TextCandidate builds a text candidate; ok is false for empty values or non-text fields
func TextCandidate(field FieldName, value string, confidence float64, layer LayerID) (FieldCandidate, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return FieldCandidate{}, false
	}
	c, err := NewCandidate(field, Text(value), confidence, layer)
	return c, err == nil
}

// FreeCandidate builds a candidate for the free flag
func FreeCandidate(free bool, confidence float64, layer LayerID) FieldCandidate {
	c, _ := NewCandidate(FieldFree, Flag(free), confidence, layer)
	return c
}

// CategoriesCandidate builds a candidate for the categories field; at most two valid
// categories are kept and ok is false when none survive.
func CategoriesCandidate(categories []string, confidence float64, layer LayerID) (FieldCandidate, bool) {
	var kept CategoryList
	for _, category := range categories {
		if !ValidateCategory(category) || containsString(kept, category) {
			continue
		}
		kept = append(kept, category)
		if len(kept) == MaxCategories {
			break
		}
	}
	if len(kept) == 0 {
		return FieldCandidate{}, false
	}
	c, err := NewCandidate(FieldCategories, kept, confidence, layer)
	return c, err == nil
}

// ClampConfidence bounds a confidence value into 0-100; NaN maps to 0
func ClampConfidence(confidence float64) float64 {
	switch {
	case math.IsNaN(confidence), confidence < 0:
		return 0
	case confidence > 100:
		return 100
	default:
		return confidence
	}
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
