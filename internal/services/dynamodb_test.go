package services

import (
	"context"
	"sort"
	"sync"
	"testing"

	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/venue"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rotisserie/eris"
)

// fakeDynamoDB keeps items by PK and pages scans one item at a time
type fakeDynamoDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	scans int
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: map[string]map[string]types.AttributeValue{}}
}

func pkOf(item map[string]types.AttributeValue) string {
	if v, ok := item["PK"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamoDB) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++

	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	after := pkOf(params.ExclusiveStartKey)
	for i, k := range keys {
		if after != "" && k <= after {
			continue
		}
		out := &dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{f.items[k]}}
		if i < len(keys)-1 {
			out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: k}}
		}
		return out, nil
	}
	return &dynamodb.ScanOutput{}, nil
}

func (f *fakeDynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(params.Key)]}, nil
}

func (f *fakeDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := pkOf(params.Item)
	if pk == "" {
		return nil, eris.New("ValidationException: missing PK")
	}
	f.items[pk] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestVenueStore_SaveAndLoad(t *testing.T) {
	fake := newFakeDynamoDB()
	store := NewVenueStore(fake, "venues", nil)
	ctx := context.Background()

	venues := []models.VenueRecord{
		{CanonicalName: "Blue Note", Address: "131 W 3rd St, New York", Region: "nyc"},
		{CanonicalName: "The Chapel", Address: "777 Valencia St, San Francisco", Region: "sf"},
		{CanonicalName: "Rickshaw Stop", Address: "155 Fell St, San Francisco", Region: "sf"},
	}
	for _, v := range venues {
		if err := store.SaveVenue(ctx, v); err != nil {
			t.Fatalf("Expected save of %s to succeed, got %v", v.CanonicalName, err)
		}
	}

	if _, ok := fake.items["blue note"]; !ok {
		t.Errorf("Expected item keyed by normalized name, got keys %v", fake.items)
	}

	records, err := store.LoadVenues(ctx)
	if err != nil {
		t.Fatalf("Expected load to succeed, got %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 venues, got %d", len(records))
	}
	if fake.scans != 3 {
		t.Errorf("Expected one scan per page (3), got %d", fake.scans)
	}
	if records["The Chapel"].Address != "777 Valencia St, San Francisco" {
		t.Errorf("Unexpected record %+v", records["The Chapel"])
	}

	registry := venue.NewRegistry(records)
	if rec, ok := registry.Lookup("the chapel"); !ok || rec.Region != "sf" {
		t.Errorf("Expected loaded venues to feed the registry, got %+v %t", rec, ok)
	}
}

func TestVenueStore_GetVenue(t *testing.T) {
	store := NewVenueStore(newFakeDynamoDB(), "venues", nil)
	ctx := context.Background()

	if err := store.SaveVenue(ctx, models.VenueRecord{CanonicalName: "Blue Note", Address: "131 W 3rd St, New York"}); err != nil {
		t.Fatal(err)
	}

	rec, err := store.GetVenue(ctx, "BLUE NOTE")
	if err != nil {
		t.Fatalf("Expected case-insensitive lookup, got %v", err)
	}
	if rec.CanonicalName != "Blue Note" || rec.NormalizedKey != "blue note" {
		t.Errorf("Unexpected record %+v", rec)
	}

	if _, err := store.GetVenue(ctx, "Nowhere Hall"); !eris.Is(err, ErrVenueNotFound) {
		t.Errorf("Expected ErrVenueNotFound, got %v", err)
	}
}

func TestVenueStore_Validation(t *testing.T) {
	store := NewVenueStore(newFakeDynamoDB(), "venues", nil)

	testCases := []struct {
		name   string
		record models.VenueRecord
	}{
		{"missing name", models.VenueRecord{Address: "1 Main St"}},
		{"missing address", models.VenueRecord{CanonicalName: "Blue Note"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.SaveVenue(context.Background(), tc.record); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestVenueStore_SaveLearned(t *testing.T) {
	fake := newFakeDynamoDB()
	store := NewVenueStore(fake, "venues", nil)

	registry := venue.NewRegistry(nil)
	registry.Learn(models.VenueRecord{CanonicalName: "Elbo Room", Address: "647 Valencia St, San Francisco"})
	registry.Learn(models.VenueRecord{CanonicalName: "Bottom of the Hill", Address: "1233 17th St, San Francisco"})

	saved, err := store.SaveLearned(context.Background(), registry)
	if err != nil {
		t.Fatalf("Expected save to succeed, got %v", err)
	}
	if saved != 2 || len(fake.items) != 2 {
		t.Errorf("Expected 2 saved venues, got %d (%d items)", saved, len(fake.items))
	}
}
