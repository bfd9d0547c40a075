package destgw

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	replerrors "github.com/bleepstore/replicator/internal/errors"
)

// AzureBlobAPI is the subset of the Azure SDK the azure destination
// backend depends on, mirroring the teacher's AzureBlobAPI interface.
type AzureBlobAPI interface {
	UploadBlob(ctx context.Context, containerName, blobName string, data []byte) (etag string, err error)
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	StageBlock(ctx context.Context, containerName, blobName, blockID string, data []byte) error
	CommitBlockList(ctx context.Context, containerName, blobName string, blockIDs []string) (etag string, err error)
}

// AzureBackend implements DestinationGateway over Azure Block Blob,
// grounded on the teacher's AzureGatewayBackend: parts are staged directly
// on the final blob via StageBlock, with no temporary objects and no
// DeleteParts step, since uncommitted blocks auto-expire.
type AzureBackend struct {
	client AzureBlobAPI
}

// NewAzureBackend builds an AzureBackend over client.
func NewAzureBackend(client AzureBlobAPI) *AzureBackend {
	return &AzureBackend{client: client}
}

// blockID generates a block ID for Azure staged blocks, matching the
// teacher's blockID format exactly: base64("{uploadID}:{partNumber:05d}").
// Block IDs must be base64-encoded and the same length within one blob.
func blockID(uploadID string, partNumber int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%05d", uploadID, partNumber)))
}

func (b *AzureBackend) PutObject(ctx context.Context, p PutObjectParams) (string, string, error) {
	data, err := io.ReadAll(p.Body)
	if err != nil {
		return "", "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("reading object body for %s/%s", p.Bucket, p.Key), err)
	}
	etag, err := b.client.UploadBlob(ctx, p.Bucket, p.Key, data)
	if err != nil {
		return "", "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("uploading %s/%s to Azure Blob", p.Bucket, p.Key), err)
	}
	return "", etag, nil
}

// InitiateMPU always returns a Malformed error: Azure Block Blob has no
// server-side MPU session. The caller generates the upload ID itself (from
// internal/uid) and passes it to PutMPUPart, where it namespaces the staged
// blocks for this upload.
func (b *AzureBackend) InitiateMPU(ctx context.Context, p InitiateMPUParams) (string, error) {
	return "", replerrors.Malformed("Azure backend requires a caller-supplied upload ID; InitiateMPU must not be called directly", nil)
}

func (b *AzureBackend) PutMPUPart(ctx context.Context, p PutMPUPartParams) (string, error) {
	data, err := io.ReadAll(p.Body)
	if err != nil {
		return "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("reading part %d body for %s/%s", p.PartNumber, p.Bucket, p.Key), err)
	}
	blkID := blockID(p.UploadID, p.PartNumber)
	if err := b.client.StageBlock(ctx, p.Bucket, p.Key, blkID, data); err != nil {
		return "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("staging block for part %d of %s/%s", p.PartNumber, p.Bucket, p.Key), err)
	}
	return blkID, nil
}

func (b *AzureBackend) CompleteMPU(ctx context.Context, p CompleteMPUParams) (string, error) {
	blockIDs := make([]string, len(p.Parts))
	for i, part := range p.Parts {
		blockIDs[i] = blockID(p.UploadID, part.PartNumber)
	}
	etag, err := b.client.CommitBlockList(ctx, p.Bucket, p.Key, blockIDs)
	if err != nil {
		return "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("committing block list for %s/%s", p.Bucket, p.Key), err)
	}
	return etag, nil
}

// AbortMPU is a no-op: uncommitted staged blocks auto-expire after 7 days,
// matching the teacher's DeleteParts comment for the Azure backend.
func (b *AzureBackend) AbortMPU(ctx context.Context, p AbortMPUParams) error {
	return nil
}

func (b *AzureBackend) DeleteObject(ctx context.Context, p DeleteObjectParams) error {
	if err := b.client.DeleteBlob(ctx, p.Bucket, p.Key); err != nil {
		return replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("deleting %s/%s from Azure Blob", p.Bucket, p.Key), err)
	}
	return nil
}

func (b *AzureBackend) PutObjectTagging(ctx context.Context, p TaggingParams) (string, error) {
	return "", replerrors.Malformed("Azure Block Blob backend does not support object tagging", nil)
}

func (b *AzureBackend) DeleteObjectTagging(ctx context.Context, p TaggingParams) (string, error) {
	return "", replerrors.Malformed("Azure Block Blob backend does not support object tagging", nil)
}

var _ DestinationGateway = (*AzureBackend)(nil)
