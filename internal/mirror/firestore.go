package mirror

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const firestoreTimeFormat = "2006-01-02T15:04:05.000Z"

// FirestoreConfig configures the Firestore-backed mirror store.
type FirestoreConfig struct {
	ProjectID       string
	Collection      string
	CredentialsFile string
}

// FirestoreStore mirrors object metadata into a Firestore collection keyed
// by {bucket, key}, adapted from the teacher's FirestoreStore.PutObject /
// DeleteObject.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore dials Firestore per cfg.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("mirror: firestore project id is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("mirror: creating firestore client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "replication-mirror"
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) collectionRef() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func mirrorDocID(bucket, key string) string {
	return "object_" + bucket + "_" + key
}

// Ping checks connectivity, mirroring the teacher's store health check.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.collectionRef().Limit(1).Documents(ctx).Next()
	if err != nil && err != iterator.Done {
		return err
	}
	return nil
}

// Close releases the underlying Firestore client.
func (s *FirestoreStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// PutObjectNoVer upserts the current, version-agnostic object document.
func (s *FirestoreStore) PutObjectNoVer(ctx context.Context, rec Record) error {
	contentType := rec.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	data := map[string]interface{}{
		"bucket":         rec.Bucket,
		"key":            rec.Key,
		"size":           rec.Size,
		"etag":           rec.ETag,
		"contentType":    contentType,
		"userMetadata":   rec.UserMetadata,
		"dataStoreName":  rec.DataStoreName,
		"dataStoreType":  rec.DataStoreType,
		"isDeleteMarker": rec.IsDeleteMarker,
	}
	if rec.VersionID != "" {
		data["dataStoreVersionId"] = rec.VersionID
	}

	docRef := s.collectionRef().Doc(mirrorDocID(rec.Bucket, rec.Key))
	if _, err := docRef.Set(ctx, data); err != nil {
		return fmt.Errorf("mirror: putting object %s/%s: %w", rec.Bucket, rec.Key, err)
	}
	return nil
}

// GetObjectNoVer reads back the current mirrored object document.
func (s *FirestoreStore) GetObjectNoVer(ctx context.Context, bucket, key string) (Record, bool, error) {
	snap, err := s.collectionRef().Doc(mirrorDocID(bucket, key)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("mirror: getting object %s/%s: %w", bucket, key, err)
	}

	var data struct {
		Size               int64             `firestore:"size"`
		ETag               string            `firestore:"etag"`
		ContentType        string            `firestore:"contentType"`
		UserMetadata       map[string]string `firestore:"userMetadata"`
		DataStoreName      string            `firestore:"dataStoreName"`
		DataStoreType      string            `firestore:"dataStoreType"`
		IsDeleteMarker     bool              `firestore:"isDeleteMarker"`
		DataStoreVersionID string            `firestore:"dataStoreVersionId"`
	}
	if err := snap.DataTo(&data); err != nil {
		return Record{}, false, fmt.Errorf("mirror: decoding object %s/%s: %w", bucket, key, err)
	}

	return Record{
		Bucket:         bucket,
		Key:            key,
		VersionID:      data.DataStoreVersionID,
		Size:           data.Size,
		ETag:           data.ETag,
		ContentType:    data.ContentType,
		UserMetadata:   data.UserMetadata,
		DataStoreName:  data.DataStoreName,
		DataStoreType:  data.DataStoreType,
		IsDeleteMarker: data.IsDeleteMarker,
	}, true, nil
}

// DeleteObjectNoVer removes the mirrored object document.
func (s *FirestoreStore) DeleteObjectNoVer(ctx context.Context, bucket, key string) error {
	docRef := s.collectionRef().Doc(mirrorDocID(bucket, key))
	if _, err := docRef.Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("mirror: deleting object %s/%s: %w", bucket, key, err)
	}
	return nil
}

var _ Store = (*FirestoreStore)(nil)
