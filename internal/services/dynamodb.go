package services

import (
	"context"
	"strings"

	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/venue"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrVenueNotFound is returned by GetVenue for unknown names
var ErrVenueNotFound = eris.New("venue not found")

// DynamoDBAPI is the subset of the DynamoDB client the venue store uses
type DynamoDBAPI interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// VenueStore persists the venue registry in a DynamoDB table keyed by the
// normalized venue name (PK)
type VenueStore struct {
	client DynamoDBAPI
	table  string
	logger *zap.Logger
}

// NewVenueStore creates a venue store instance
func NewVenueStore(client DynamoDBAPI, table string, logger *zap.Logger) *VenueStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VenueStore{
		client: client,
		table:  table,
		logger: logger.Named("venue_store"),
	}
}

// NewVenueStoreFromConfig creates a store backed by a real DynamoDB client
func NewVenueStoreFromConfig(awsCfg aws.Config, table string, logger *zap.Logger) *VenueStore {
	return NewVenueStore(dynamodb.NewFromConfig(awsCfg), table, logger)
}

// LoadVenues scans the whole table into the name -> record map venue.NewRegistry expects
func (s *VenueStore) LoadVenues(ctx context.Context) (map[string]models.VenueRecord, error) {
	records := make(map[string]models.VenueRecord)
	var startKey map[string]types.AttributeValue

	for {
		result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, eris.Wrap(err, "failed to scan venues")
		}

		var page []models.VenueRecord
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, eris.Wrap(err, "failed to unmarshal venues")
		}
		for _, record := range page {
			if strings.TrimSpace(record.CanonicalName) == "" || strings.TrimSpace(record.Address) == "" {
				s.logger.Warn("skipping incomplete venue", zap.String("key", record.NormalizedKey))
				continue
			}
			records[record.CanonicalName] = record
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	s.logger.Info("venues loaded", zap.String("table", s.table), zap.Int("count", len(records)))
	return records, nil
}

// GetVenue retrieves one venue by any spelling of its name
func (s *VenueStore) GetVenue(ctx context.Context, name string) (models.VenueRecord, error) {
	key := venue.Normalize(name)
	if key == "" {
		return models.VenueRecord{}, ErrVenueNotFound
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return models.VenueRecord{}, eris.Wrap(err, "failed to get venue")
	}
	if result.Item == nil {
		return models.VenueRecord{}, eris.Wrapf(ErrVenueNotFound, "%q", name)
	}

	var record models.VenueRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return models.VenueRecord{}, eris.Wrap(err, "failed to unmarshal venue")
	}
	return record, nil
}

// SaveVenue upserts one venue
func (s *VenueStore) SaveVenue(ctx context.Context, record models.VenueRecord) error {
	if strings.TrimSpace(record.CanonicalName) == "" || strings.TrimSpace(record.Address) == "" {
		return eris.New("venue name and address are required")
	}
	record.NormalizedKey = venue.Normalize(record.CanonicalName)

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return eris.Wrap(err, "failed to marshal venue")
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return eris.Wrap(err, "failed to save venue")
	}
	return nil
}

// SaveLearned persists a registry's learned overlay and returns how many were written.
// It stops at the first failure.
func (s *VenueStore) SaveLearned(ctx context.Context, registry *venue.Registry) (int, error) {
	saved := 0
	for _, record := range registry.Learned() {
		if err := s.SaveVenue(ctx, record); err != nil {
			return saved, eris.Wrapf(err, "venue %q", record.CanonicalName)
		}
		saved++
	}
	if saved > 0 {
		s.logger.Info("learned venues saved", zap.Int("count", saved))
	}
	return saved, nil
}
