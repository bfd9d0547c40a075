package destgw

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
)

// realAzureClient wraps the official Azure SDK client to satisfy
// AzureBlobAPI, adapted from the teacher's realAzureClient: same
// credential bootstrapping, narrowed to the destination gateway's
// stage/commit surface. UploadBlob returns an ETag computed locally from
// the uploaded bytes (an MD5 hex digest); CommitBlockList returns the ETag
// Azure reports for the committed blob.
type realAzureClient struct {
	client *azblob.Client
}

// NewRealAzureClient creates a real Azure Blob client using
// DefaultAzureCredential, mirroring the teacher's fallback branch in
// newRealAzureClient.
func NewRealAzureClient(accountURL string) (AzureBlobAPI, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure Blob client: %w", err)
	}
	return &realAzureClient{client: client}, nil
}

func localETag(data []byte) string {
	h := md5.Sum(data)
	return fmt.Sprintf(`"%x"`, h)
}

func (c *realAzureClient) UploadBlob(ctx context.Context, containerName, blobName string, data []byte) (string, error) {
	if _, err := c.client.UploadBuffer(ctx, containerName, blobName, data, nil); err != nil {
		return "", err
	}
	return localETag(data), nil
}

func (c *realAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	_, err := c.client.DeleteBlob(ctx, containerName, blobName, nil)
	return err
}

func (c *realAzureClient) StageBlock(ctx context.Context, containerName, blobName, blockID string, data []byte) error {
	bbClient := c.client.ServiceClient().NewContainerClient(containerName).NewBlockBlobClient(blobName)
	body := streaming.NopCloser(bytes.NewReader(data))
	_, err := bbClient.StageBlock(ctx, blockID, body, nil)
	return err
}

func (c *realAzureClient) CommitBlockList(ctx context.Context, containerName, blobName string, blockIDs []string) (string, error) {
	bbClient := c.client.ServiceClient().NewContainerClient(containerName).NewBlockBlobClient(blobName)
	resp, err := bbClient.CommitBlockList(ctx, blockIDs, &blockblob.CommitBlockListOptions{})
	if err != nil {
		return "", err
	}
	if resp.ETag != nil {
		return string(*resp.ETag), nil
	}
	return "", nil
}

var _ AzureBlobAPI = (*realAzureClient)(nil)
