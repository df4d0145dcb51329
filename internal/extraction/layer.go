// Package extraction runs the six extraction layers over a page and reconciles
// their field candidates into a single event record.
package extraction

import (
	"context"
	"time"

	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/page"
	"event-extraction-engine/internal/venue"
)

// Layer is one independently pluggable extraction strategy
type Layer interface {
	ID() models.LayerID
	// Extract returns the layer's candidates. snap is the merge of every earlier
	// layer, so later layers can concentrate on what is still missing.
	Extract(ctx context.Context, acc page.Accessor, snap Snapshot) ([]models.FieldCandidate, error)
}

// Snapshot is a read-only view of the merge state handed to a layer
type Snapshot struct {
	result MergeResult
}

func newSnapshot(result MergeResult) Snapshot {
	return Snapshot{result: result}
}

// Record returns a copy of the merged record so far
func (s Snapshot) Record() models.EventRecord {
	return s.result.Record.Clone()
}

// Has reports whether an earlier layer produced the field
func (s Snapshot) Has(field models.FieldName) bool {
	_, ok := s.result.FieldConfidence[field]
	return ok
}

// Confidence returns the winning confidence for a field, or 0
func (s Snapshot) Confidence(field models.FieldName) float64 {
	return s.result.FieldConfidence[field]
}

// Overall returns the aggregate confidence so far
func (s Snapshot) Overall() float64 {
	return s.result.Overall
}

// Missing lists the fields no earlier layer produced, in output order
func (s Snapshot) Missing() []models.FieldName {
	var missing []models.FieldName
	for _, field := range models.AllFields {
		if !s.Has(field) {
			missing = append(missing, field)
		}
	}
	return missing
}

// Observer is notified after every layer invocation. Failed and timed-out
// layers report no candidates.
type Observer interface {
	OnLayerComplete(layer models.LayerID, candidates []models.FieldCandidate, elapsed time.Duration)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(layer models.LayerID, candidates []models.FieldCandidate, elapsed time.Duration)

func (f ObserverFunc) OnLayerComplete(layer models.LayerID, candidates []models.FieldCandidate, elapsed time.Duration) {
	f(layer, candidates, elapsed)
}

// Observers fans a notification out to several observers
type Observers []Observer

func (o Observers) OnLayerComplete(layer models.LayerID, candidates []models.FieldCandidate, elapsed time.Duration) {
	for _, observer := range o {
		if observer != nil {
			observer.OnLayerComplete(layer, candidates, elapsed)
		}
	}
}

// DefaultProvider fills fields after the merge from explicit configuration.
// It runs as a separate step so merged values are never overwritten.
type DefaultProvider interface {
	ApplyDefaults(record models.EventRecord) models.EventRecord
}

// VenueDefaults supplies a configured address for known venues whose page carried none
type VenueDefaults struct {
	addresses map[string]string
}

// NewVenueDefaults keys the configured addresses by normalized venue name
func NewVenueDefaults(addresses map[string]string) *VenueDefaults {
	d := &VenueDefaults{addresses: make(map[string]string, len(addresses))}
	for name, address := range addresses {
		if key := venue.Normalize(name); key != "" && address != "" {
			d.addresses[key] = address
		}
	}
	return d
}

func (d *VenueDefaults) ApplyDefaults(record models.EventRecord) models.EventRecord {
	if record.Address != "" || record.Venue == "" {
		return record
	}
	if address, ok := d.addresses[venue.Normalize(record.Venue)]; ok {
		record.Address = address
	}
	return record
}
