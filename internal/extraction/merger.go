package extraction

import (
	"event-extraction-engine/internal/models"
)

// DefaultFieldWeights is the importance of each field in winner selection and the overall score
var DefaultFieldWeights = map[models.FieldName]float64{
	models.FieldTitle:       2.0,
	models.FieldDate:        2.0,
	models.FieldAddress:     1.5,
	models.FieldVenue:       1.5,
	models.FieldDescription: 1.0,
	models.FieldImage:       1.0,
	models.FieldPrice:       0.8,
}

const defaultFieldWeight = 1.0

// MergeResult is the reconciled record with its per-field winning confidences
type MergeResult struct {
	Record          models.EventRecord
	FieldConfidence map[models.FieldName]float64
	Winners         map[models.FieldName]models.FieldCandidate
	Overall         float64
}

// Merger reconciles candidates from every layer into one record.
// It is a pure function of its input and safe for concurrent use.
type Merger struct {
	weights map[models.FieldName]float64
}

// NewMerger builds a merger; overrides replace individual default field weights
func NewMerger(overrides map[string]float64) *Merger {
	weights := make(map[models.FieldName]float64, len(DefaultFieldWeights)+len(overrides))
	for field, w := range DefaultFieldWeights {
		weights[field] = w
	}
	for field, w := range overrides {
		if w > 0 {
			weights[models.FieldName(field)] = w
		}
	}
	return &Merger{weights: weights}
}

// Weight returns the importance weight of a field
func (m *Merger) Weight(field models.FieldName) float64 {
	if w, ok := m.weights[field]; ok {
		return w
	}
	return defaultFieldWeight
}

// Merge picks one winner per field by confidence times field weight. Ties go to the
// lower layer, then to the earlier candidate. Missing required fields count against
// the overall confidence; other missing fields are simply absent.
func (m *Merger) Merge(candidates []models.FieldCandidate) MergeResult {
	result := MergeResult{
		FieldConfidence: map[models.FieldName]float64{},
		Winners:         map[models.FieldName]models.FieldCandidate{},
	}

	for _, c := range candidates {
		if c.Value == nil || c.Value.Kind() != c.Field.Kind() {
			continue
		}
		current, ok := result.Winners[c.Field]
		if !ok || m.beats(c, current) {
			result.Winners[c.Field] = c
		}
	}

	var weighted, totalWeight float64
	for _, field := range models.AllFields {
		w := m.Weight(field)
		winner, ok := result.Winners[field]
		if !ok {
			if field.IsRequired() {
				totalWeight += w
			}
			continue
		}
		applyField(&result.Record, winner)
		result.FieldConfidence[field] = winner.Confidence
		weighted += w * winner.Confidence
		totalWeight += w
	}

	if totalWeight > 0 {
		result.Overall = weighted / totalWeight
	}
	return result
}

// beats reports whether challenger displaces the current winner. Equal scores keep
// the current winner unless the challenger comes from a lower layer.
func (m *Merger) beats(challenger, current models.FieldCandidate) bool {
	w := m.Weight(challenger.Field)
	cs, ws := challenger.Confidence*w, current.Confidence*w
	if cs != ws {
		return cs > ws
	}
	return challenger.Layer < current.Layer
}

func applyField(record *models.EventRecord, c models.FieldCandidate) {
	switch v := c.Value.(type) {
	case models.Flag:
		free := bool(v)
		record.Free = &free
	case models.CategoryList:
		record.Categories = append([]string(nil), v...)
	case models.Text:
		text := string(v)
		switch c.Field {
		case models.FieldTitle:
			record.Title = text
		case models.FieldVenue:
			record.Venue = text
		case models.FieldAddress:
			record.Address = text
		case models.FieldCity:
			record.City = text
		case models.FieldDate:
			record.Date = text
		case models.FieldStartTime:
			record.StartTime = text
		case models.FieldEndTime:
			record.EndTime = text
		case models.FieldImage:
			record.ImageURL = text
		case models.FieldDescription:
			record.Description = text
		case models.FieldPrice:
			record.Price = text
		}
	}
}
