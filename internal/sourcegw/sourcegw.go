// Package sourcegw implements the read-only source-side gateway: fetching
// bucket replication policy, object metadata, and object bytes from the
// S3-compatible service the engine replicates out of. It is grounded on
// the teacher's AWSGatewayBackend, generalized from a read/write proxy
// backend into a read-only gateway and narrowed to the three operations
// the replication task actually needs.
package sourcegw

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	replerrors "github.com/bleepstore/replicator/internal/errors"
	"github.com/bleepstore/replicator/internal/rangeplan"
)

// ReplicationRule is one rule from a bucket's replication configuration.
type ReplicationRule struct {
	ID                 string
	Prefix             string
	Enabled             bool
	Destination        string
	StorageClass       string
}

// ReplicationPolicy is the decoded bucket replication configuration.
type ReplicationPolicy struct {
	Rules []ReplicationRule
}

// ObjectMetadata is the subset of S3 HEAD-object metadata the task needs
// to classify and plan a replication attempt.
type ObjectMetadata struct {
	ContentLength      int64
	ContentMD5         string
	ContentType        string
	CacheControl       string
	ContentDisposition string
	ContentEncoding    string
	UserMetadata       map[string]string
	IsDeleteMarker     bool
}

// SourceGateway is the read-only surface the replication task issues
// calls against. Every error returned carries errors.OriginSource.
type SourceGateway interface {
	GetBucketReplicationPolicy(ctx context.Context, bucket string) (*ReplicationPolicy, error)
	GetMetadata(ctx context.Context, bucket, key, versionID string) (*ObjectMetadata, error)
	GetObject(ctx context.Context, bucket, key, versionID string, rng *rangeplan.Range, partNumber int) (io.ReadCloser, error)
}

// S3API is the subset of the AWS S3 client the gateway depends on, mirroring
// the teacher's S3API interface so tests can inject a fake client.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetBucketReplication(ctx context.Context, params *s3.GetBucketReplicationInput, optFns ...func(*s3.Options)) (*s3.GetBucketReplicationOutput, error)
}

// Gateway implements SourceGateway over an S3API client.
type Gateway struct {
	client S3API
}

// New builds a Gateway over client.
func New(client S3API) *Gateway {
	return &Gateway{client: client}
}

// GetBucketReplicationPolicy fetches and decodes the bucket's replication
// configuration.
func (g *Gateway) GetBucketReplicationPolicy(ctx context.Context, bucket string) (*ReplicationPolicy, error) {
	out, err := g.client.GetBucketReplication(ctx, &s3.GetBucketReplicationInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isPermanentPolicyError(err) {
			return nil, replerrors.New(replerrors.KindPermanentSource, replerrors.OriginSource,
				fmt.Sprintf("fetching replication policy for bucket %s", bucket), err)
		}
		return nil, replerrors.Transient(replerrors.OriginSource,
			fmt.Sprintf("fetching replication policy for bucket %s", bucket), err)
	}

	policy := &ReplicationPolicy{}
	if out.ReplicationConfiguration == nil {
		return policy, nil
	}
	for _, rule := range out.ReplicationConfiguration.Rules {
		r := ReplicationRule{Enabled: rule.Status == types.ReplicationRuleStatusEnabled}
		if rule.ID != nil {
			r.ID = *rule.ID
		}
		if rule.Filter != nil && rule.Filter.Prefix != nil {
			r.Prefix = *rule.Filter.Prefix
		}
		if rule.Destination != nil && rule.Destination.Bucket != nil {
			r.Destination = *rule.Destination.Bucket
		}
		if rule.Destination != nil {
			r.StorageClass = string(rule.Destination.StorageClass)
		}
		policy.Rules = append(policy.Rules, r)
	}
	return policy, nil
}

// GetMetadata issues a HEAD request for the object version.
func (g *Gateway) GetMetadata(ctx context.Context, bucket, key, versionID string) (*ObjectMetadata, error) {
	in := &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if versionID != "" {
		in.VersionId = aws.String(versionID)
	}

	out, err := g.client.HeadObject(ctx, in)
	if err != nil {
		if isNotFound(err) {
			return nil, replerrors.ObjNotFound(fmt.Sprintf("%s/%s version %s", bucket, key, versionID), err)
		}
		if isInvalidState(err) {
			return nil, replerrors.New(replerrors.KindInvalidObjectState, replerrors.OriginSource,
				fmt.Sprintf("%s/%s version %s is not currently readable", bucket, key, versionID), err)
		}
		return nil, replerrors.Transient(replerrors.OriginSource,
			fmt.Sprintf("fetching metadata for %s/%s", bucket, key), err)
	}

	md := &ObjectMetadata{UserMetadata: out.Metadata}
	if out.ContentLength != nil {
		md.ContentLength = *out.ContentLength
	}
	if out.ETag != nil {
		md.ContentMD5 = *out.ETag
	}
	if out.ContentType != nil {
		md.ContentType = *out.ContentType
	}
	if out.CacheControl != nil {
		md.CacheControl = *out.CacheControl
	}
	if out.ContentDisposition != nil {
		md.ContentDisposition = *out.ContentDisposition
	}
	if out.ContentEncoding != nil {
		md.ContentEncoding = *out.ContentEncoding
	}
	if out.DeleteMarker != nil {
		md.IsDeleteMarker = *out.DeleteMarker
	}
	return md, nil
}

// GetObject streams the object body, optionally restricted to rng or to a
// single multipart-upload part.
func (g *Gateway) GetObject(ctx context.Context, bucket, key, versionID string, rng *rangeplan.Range, partNumber int) (io.ReadCloser, error) {
	in := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if versionID != "" {
		in.VersionId = aws.String(versionID)
	}
	if rng != nil && !rng.NilRange() {
		in.Range = aws.String(fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))
	}
	if partNumber > 0 {
		in.PartNumber = aws.Int32(int32(partNumber))
	}

	out, err := g.client.GetObject(ctx, in)
	if err != nil {
		if isNotFound(err) {
			return nil, replerrors.ObjNotFound(fmt.Sprintf("%s/%s version %s", bucket, key, versionID), err)
		}
		return nil, replerrors.Transient(replerrors.OriginSource,
			fmt.Sprintf("reading %s/%s version %s", bucket, key, versionID), err)
	}
	return out.Body, nil
}

// isNotFound mirrors the teacher's isAWSNotFound helper.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404", "NoSuchVersion":
			return true
		}
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return true
		}
	}
	return false
}

// isInvalidState reports whether err indicates the object exists but is
// not currently readable (e.g. archived storage class not yet restored).
func isInvalidState(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidObjectState":
			return true
		}
	}
	return false
}

// isPermanentPolicyError reports whether a replication-policy fetch error
// is non-retryable: the bucket/role does not exist, or access is denied.
func isPermanentPolicyError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchEntity", "AccessDenied", "BadRole", "ReplicationConfigurationNotFoundError":
			return true
		}
	}
	return false
}

var _ SourceGateway = (*Gateway)(nil)
