package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const dynamoTimeFormat = "2006-01-02T15:04:05.000Z"

// DynamoDBConfig configures the DynamoDB-backed mirror store.
type DynamoDBConfig struct {
	Table       string
	Region      string
	EndpointURL string
}

// DynamoDBStore mirrors object metadata into a single DynamoDB table
// keyed by {bucket, key}, adapted from the teacher's DynamoDBStore.PutObject
// / DeleteObject but dropping the versioned sort-key scheme that store uses
// for multipart sessions: the mirror has no upload-session concept, only
// the current object view.
type DynamoDBStore struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamoDBStore dials DynamoDB per cfg.
func NewDynamoDBStore(ctx context.Context, cfg DynamoDBConfig) (*DynamoDBStore, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("mirror: dynamodb table name is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("mirror: loading aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}

	return &DynamoDBStore{
		client:    dynamodb.NewFromConfig(awsCfg),
		tableName: cfg.Table,
	}, nil
}

func mirrorPK(bucket, key string) string {
	return "OBJECT#" + bucket + "#" + key
}

const mirrorSK = "#MIRROR"

// PutObjectNoVer upserts the current, version-agnostic object record.
func (s *DynamoDBStore) PutObjectNoVer(ctx context.Context, rec Record) error {
	userMeta := "{}"
	if rec.UserMetadata != nil {
		b, err := json.Marshal(rec.UserMetadata)
		if err != nil {
			return fmt.Errorf("mirror: marshaling user metadata: %w", err)
		}
		userMeta = string(b)
	}
	contentType := rec.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	item := map[string]types.AttributeValue{
		"pk":               &types.AttributeValueMemberS{Value: mirrorPK(rec.Bucket, rec.Key)},
		"sk":               &types.AttributeValueMemberS{Value: mirrorSK},
		"bucket":           &types.AttributeValueMemberS{Value: rec.Bucket},
		"key":              &types.AttributeValueMemberS{Value: rec.Key},
		"size":             &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.Size)},
		"etag":             &types.AttributeValueMemberS{Value: rec.ETag},
		"content_type":     &types.AttributeValueMemberS{Value: contentType},
		"user_metadata":    &types.AttributeValueMemberS{Value: userMeta},
		"data_store_name":  &types.AttributeValueMemberS{Value: rec.DataStoreName},
		"data_store_type":  &types.AttributeValueMemberS{Value: rec.DataStoreType},
		"is_delete_marker": &types.AttributeValueMemberBOOL{Value: rec.IsDeleteMarker},
		"mirrored_at":      &types.AttributeValueMemberS{Value: time.Now().UTC().Format(dynamoTimeFormat)},
	}
	if rec.VersionID != "" {
		item["data_store_version_id"] = &types.AttributeValueMemberS{Value: rec.VersionID}
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("mirror: putting object %s/%s: %w", rec.Bucket, rec.Key, err)
	}
	return nil
}

// GetObjectNoVer reads back the current mirrored object record.
func (s *DynamoDBStore) GetObjectNoVer(ctx context.Context, bucket, key string) (Record, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: mirrorPK(bucket, key)},
			"sk": &types.AttributeValueMemberS{Value: mirrorSK},
		},
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("mirror: getting object %s/%s: %w", bucket, key, err)
	}
	if out.Item == nil {
		return Record{}, false, nil
	}

	rec := Record{Bucket: bucket, Key: key}
	if v, ok := out.Item["etag"].(*types.AttributeValueMemberS); ok {
		rec.ETag = v.Value
	}
	if v, ok := out.Item["content_type"].(*types.AttributeValueMemberS); ok {
		rec.ContentType = v.Value
	}
	if v, ok := out.Item["data_store_name"].(*types.AttributeValueMemberS); ok {
		rec.DataStoreName = v.Value
	}
	if v, ok := out.Item["data_store_type"].(*types.AttributeValueMemberS); ok {
		rec.DataStoreType = v.Value
	}
	if v, ok := out.Item["data_store_version_id"].(*types.AttributeValueMemberS); ok {
		rec.VersionID = v.Value
	}
	if v, ok := out.Item["is_delete_marker"].(*types.AttributeValueMemberBOOL); ok {
		rec.IsDeleteMarker = v.Value
	}
	if v, ok := out.Item["size"].(*types.AttributeValueMemberN); ok {
		fmt.Sscanf(v.Value, "%d", &rec.Size)
	}
	if v, ok := out.Item["user_metadata"].(*types.AttributeValueMemberS); ok {
		_ = json.Unmarshal([]byte(v.Value), &rec.UserMetadata)
	}
	return rec, true, nil
}

// DeleteObjectNoVer removes the mirrored object record.
func (s *DynamoDBStore) DeleteObjectNoVer(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: mirrorPK(bucket, key)},
			"sk": &types.AttributeValueMemberS{Value: mirrorSK},
		},
	})
	if err != nil {
		return fmt.Errorf("mirror: deleting object %s/%s: %w", bucket, key, err)
	}
	return nil
}

var _ Store = (*DynamoDBStore)(nil)
