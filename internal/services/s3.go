package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// S3API is the subset of the S3 client the sink uses
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// RecordSink stores extraction results as JSON objects under
// {prefix}/{yyyy-mm-dd}/{id}.json
type RecordSink struct {
	client     S3API
	bucketName string
	keyPrefix  string
	region     string
	logger     *zap.Logger
}

// S3UploadResult represents the result of an S3 upload operation
type S3UploadResult struct {
	Key         string    `json:"key"`
	ETag        string    `json:"etag"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
	ContentType string    `json:"content_type"`
	PublicURL   string    `json:"public_url"`
}

// LoadAWSConfig loads the default credential chain, honoring an optional
// profile and region override
func LoadAWSConfig(ctx context.Context, cfg config.AWS) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, eris.Wrap(err, "failed to load AWS config")
	}
	return awsCfg, nil
}

// NewRecordSink creates a sink backed by a real S3 client
func NewRecordSink(awsCfg aws.Config, cfg config.AWS, logger *zap.Logger) *RecordSink {
	sink := NewRecordSinkWithClient(s3.NewFromConfig(awsCfg), cfg, logger)
	if awsCfg.Region != "" {
		sink.region = awsCfg.Region
	}
	return sink
}

// NewRecordSinkWithClient creates a sink over any S3API implementation
func NewRecordSinkWithClient(client S3API, cfg config.AWS, logger *zap.Logger) *RecordSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix == "" {
		prefix = "events"
	}
	return &RecordSink{
		client:     client,
		bucketName: cfg.BucketName,
		keyPrefix:  prefix,
		region:     cfg.Region,
		logger:     logger.Named("sink"),
	}
}

// Key returns the object key a result is stored under
func (s *RecordSink) Key(result *models.ExtractionResult) string {
	day := result.ExtractedAt.UTC().Format("2006-01-02")
	return fmt.Sprintf("%s/%s/%s.json", s.keyPrefix, day, result.ID)
}

// Put uploads one extraction result
func (s *RecordSink) Put(ctx context.Context, result *models.ExtractionResult) (*S3UploadResult, error) {
	if result == nil || result.ID == "" {
		return nil, eris.New("result must have an ID")
	}

	jsonData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal extraction result to JSON")
	}

	key := s.Key(result)
	metadata := map[string]string{
		"uploaded-by":      "event-extraction-engine",
		"extraction-id":    result.ID,
		"total-confidence": strconv.FormatFloat(result.TotalConfidence, 'f', 1, 64),
		"upload-time":      time.Now().UTC().Format(time.RFC3339),
	}
	return s.uploadJSON(ctx, jsonData, key, metadata)
}

// uploadJSON is a helper method to upload JSON data to S3
func (s *RecordSink) uploadJSON(ctx context.Context, data []byte, key string, metadata map[string]string) (*S3UploadResult, error) {
	key = strings.TrimPrefix(key, "/")
	contentType := "application/json"

	output, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucketName),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=300"),
		Metadata:     metadata,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to upload %s to S3", key)
	}

	etag := ""
	if output != nil && output.ETag != nil {
		etag = strings.Trim(*output.ETag, `"`)
	}

	s.logger.Debug("result uploaded", zap.String("bucket", s.bucketName), zap.String("key", key), zap.Int("bytes", len(data)))

	return &S3UploadResult{
		Key:         key,
		ETag:        etag,
		Size:        int64(len(data)),
		UploadedAt:  time.Now(),
		ContentType: contentType,
		PublicURL:   s.PublicURL(key),
	}, nil
}

// Get downloads and decodes a stored result
func (s *RecordSink) Get(ctx context.Context, key string) (*models.ExtractionResult, error) {
	key = strings.TrimPrefix(key, "/")

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to download %s from S3", key)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read S3 object body")
	}

	var result models.ExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal extraction result JSON")
	}
	return &result, nil
}

// BucketName returns the configured bucket name
func (s *RecordSink) BucketName() string {
	return s.bucketName
}

// PublicURL generates the public URL for an S3 object
func (s *RecordSink) PublicURL(key string) string {
	key = strings.TrimPrefix(key, "/")
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucketName, s.region, key)
}
