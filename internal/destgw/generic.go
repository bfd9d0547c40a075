package destgw

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	replerrors "github.com/bleepstore/replicator/internal/errors"
)

// GenericS3API is the subset of the AWS S3 client the generic destination
// backend depends on, mirroring the teacher's S3API interface so tests can
// inject a fake client.
type GenericS3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	DeleteObjectTagging(ctx context.Context, params *s3.DeleteObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectTaggingOutput, error)
}

// GenericBackend implements DestinationGateway over a native
// AWS-SDK-v2-compatible S3 endpoint, grounded on the teacher's
// AWSGatewayBackend: native MPU via CreateMultipartUpload/UploadPart/
// CompleteMultipartUpload, no intermediate compose/commit step.
type GenericBackend struct {
	client GenericS3API
}

// NewGenericBackend builds a GenericBackend over client.
func NewGenericBackend(client GenericS3API) *GenericBackend {
	return &GenericBackend{client: client}
}

func (b *GenericBackend) PutObject(ctx context.Context, p PutObjectParams) (string, string, error) {
	out, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.Bucket),
		Key:          aws.String(p.Key),
		Body:         p.Body,
		ContentType:  aws.String(p.ContentType),
		StorageClass: types.StorageClass(p.StorageClass),
		Metadata:     p.UserMetadata,
	})
	if err != nil {
		return "", "", classifyGeneric(err, fmt.Sprintf("putting object %s/%s", p.Bucket, p.Key))
	}
	versionID := ""
	if out.VersionId != nil {
		versionID = *out.VersionId
	}
	etag := ""
	if out.ETag != nil {
		etag = *out.ETag
	}
	return versionID, etag, nil
}

func (b *GenericBackend) InitiateMPU(ctx context.Context, p InitiateMPUParams) (string, error) {
	out, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(p.Bucket),
		Key:          aws.String(p.Key),
		ContentType:  aws.String(p.ContentType),
		StorageClass: types.StorageClass(p.StorageClass),
		Metadata:     p.UserMetadata,
	})
	if err != nil {
		return "", classifyGeneric(err, fmt.Sprintf("initiating MPU for %s/%s", p.Bucket, p.Key))
	}
	return aws.ToString(out.UploadId), nil
}

func (b *GenericBackend) PutMPUPart(ctx context.Context, p PutMPUPartParams) (string, error) {
	out, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(p.Bucket),
		Key:           aws.String(p.Key),
		UploadId:      aws.String(p.UploadID),
		PartNumber:    aws.Int32(int32(p.PartNumber)),
		Body:          p.Body,
		ContentLength: aws.Int64(p.ContentLength),
	})
	if err != nil {
		return "", classifyGeneric(err, fmt.Sprintf("uploading part %d for %s/%s", p.PartNumber, p.Bucket, p.Key))
	}
	return aws.ToString(out.ETag), nil
}

func (b *GenericBackend) CompleteMPU(ctx context.Context, p CompleteMPUParams) (string, error) {
	parts := make([]types.CompletedPart, len(p.Parts))
	for i, cp := range p.Parts {
		parts[i] = types.CompletedPart{
			PartNumber: aws.Int32(int32(cp.PartNumber)),
			ETag:       aws.String(cp.ETag),
		}
	}
	out, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(p.Bucket),
		Key:             aws.String(p.Key),
		UploadId:        aws.String(p.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return "", classifyGeneric(err, fmt.Sprintf("completing MPU for %s/%s", p.Bucket, p.Key))
	}
	return aws.ToString(out.VersionId), nil
}

func (b *GenericBackend) AbortMPU(ctx context.Context, p AbortMPUParams) error {
	_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(p.Bucket),
		Key:      aws.String(p.Key),
		UploadId: aws.String(p.UploadID),
	})
	if err != nil {
		return classifyGeneric(err, fmt.Sprintf("aborting MPU for %s/%s", p.Bucket, p.Key))
	}
	return nil
}

func (b *GenericBackend) DeleteObject(ctx context.Context, p DeleteObjectParams) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(p.Key),
	})
	if err != nil {
		return classifyGeneric(err, fmt.Sprintf("deleting object %s/%s", p.Bucket, p.Key))
	}
	return nil
}

func (b *GenericBackend) PutObjectTagging(ctx context.Context, p TaggingParams) (string, error) {
	tagSet := make([]types.Tag, 0, len(p.Tags))
	for k, v := range p.Tags {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	out, err := b.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:    aws.String(p.Bucket),
		Key:       aws.String(p.Key),
		VersionId: nonEmpty(p.VersionID),
		Tagging:   &types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return "", classifyGeneric(err, fmt.Sprintf("putting tags for %s/%s", p.Bucket, p.Key))
	}
	return aws.ToString(out.VersionId), nil
}

func (b *GenericBackend) DeleteObjectTagging(ctx context.Context, p TaggingParams) (string, error) {
	out, err := b.client.DeleteObjectTagging(ctx, &s3.DeleteObjectTaggingInput{
		Bucket:    aws.String(p.Bucket),
		Key:       aws.String(p.Key),
		VersionId: nonEmpty(p.VersionID),
	})
	if err != nil {
		return "", classifyGeneric(err, fmt.Sprintf("deleting tags for %s/%s", p.Bucket, p.Key))
	}
	return aws.ToString(out.VersionId), nil
}

// nonEmpty returns nil for an empty string so the AWS SDK omits the field
// rather than sending an explicit empty VersionId.
func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

// classifyGeneric mirrors the teacher's isAWSNotFound/isAWSEntityTooSmall
// helpers, folded into the engine's origin=target error model.
func classifyGeneric(err error, message string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NoSuchUpload", "AccessDenied", "InvalidBucketName",
			"BucketAlreadyExists", "EntityTooLarge", "QuotaExceeded":
			return replerrors.PermanentTarget(message, err)
		case "EntityTooSmall", "InvalidPart", "InvalidPartOrder":
			return replerrors.PermanentTarget(message, err)
		}
	}
	return replerrors.Transient(replerrors.OriginTarget, message, err)
}

var _ DestinationGateway = (*GenericBackend)(nil)
