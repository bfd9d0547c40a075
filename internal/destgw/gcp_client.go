package destgw

import (
	"context"
	"errors"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// realGCSClient wraps the official GCS client to satisfy GCSAPI, adapted
// from the teacher's realGCSClient: same bucket/object handle plumbing,
// narrowed to the destination gateway's write-and-compose surface.
type realGCSClient struct {
	client *gcs.Client
}

// NewRealGCSClient builds a GCSAPI backed by the official GCS client,
// bootstrapped via Application Default Credentials exactly as the
// teacher's NewGCPGatewayBackend does.
func NewRealGCSClient(ctx context.Context) (GCSAPI, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	return &realGCSClient{client: client}, nil
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string) GCSWriter {
	return c.client.Bucket(bucket).Object(object).NewWriter(ctx)
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Attrs(ctx context.Context, bucket, object string) (string, error) {
	attrs, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", attrs.MD5), nil
}

func (c *realGCSClient) Compose(ctx context.Context, bucket, dstObject string, srcObjects []string) (string, error) {
	dst := c.client.Bucket(bucket).Object(dstObject)
	srcs := make([]*gcs.ObjectHandle, len(srcObjects))
	for i, name := range srcObjects {
		srcs[i] = c.client.Bucket(bucket).Object(name)
	}
	attrs, err := dst.ComposerFrom(srcs...).Run(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", attrs.MD5), nil
}

// ListObjects lists objects with the given prefix, adapted from the
// teacher's realGCSClient.ListObjects.
func (c *realGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

var _ GCSAPI = (*realGCSClient)(nil)
