// Package destgw implements the destination-side gateway: the write
// surface fanning out to whichever heterogeneous backend a replication
// site names (generic S3-API, GCP Cloud Storage, Azure Blob). Each family
// implementation is grounded directly on the teacher's
// storage.AWSGatewayBackend / GCPGatewayBackend / AzureGatewayBackend,
// generalized from object-storage CRUD to the multi-backend put surface a
// replication task drives.
package destgw

import (
	"context"
	"fmt"
	"io"

	replerrors "github.com/bleepstore/replicator/internal/errors"
)

// Family identifies which destination-specific MPU semantics apply.
type Family string

const (
	FamilyGeneric Family = "generic"
	FamilyGCP     Family = "gcp"
	FamilyAzure   Family = "azure"
)

// PutObjectParams carries everything needed for a single-shot (non-MPU)
// object write.
type PutObjectParams struct {
	StorageType  string
	StorageClass string
	Bucket       string
	Key          string
	ContentMD5   string
	ContentType  string
	UserMetadata map[string]string
	Body         io.Reader
	ContentLength int64
}

// InitiateMPUParams starts a multipart upload.
type InitiateMPUParams struct {
	StorageType  string
	StorageClass string
	Bucket       string
	Key          string
	ContentType  string
	UserMetadata map[string]string
}

// PutMPUPartParams uploads one part of an in-progress multipart upload.
type PutMPUPartParams struct {
	StorageType   string
	StorageClass  string
	Bucket        string
	Key           string
	UploadID      string
	PartNumber    int
	ContentLength int64
	Body          io.Reader
}

// CompletedPart is one entry in the ordered part list passed to
// CompleteMPU, generalized with an optional NumberSubParts for azure-family
// uploads where a logical "part" may itself be split into sub-blocks.
type CompletedPart struct {
	PartNumber     int
	ETag           string
	NumberSubParts int
}

// CompleteMPUParams finalizes a multipart upload from its ordered parts.
type CompleteMPUParams struct {
	StorageType string
	Bucket      string
	Key         string
	UploadID    string
	Parts       []CompletedPart
}

// AbortMPUParams aborts an in-progress multipart upload.
type AbortMPUParams struct {
	StorageType string
	Bucket      string
	Key         string
	UploadID    string
}

// DeleteObjectParams deletes an object (or delete-marks it).
type DeleteObjectParams struct {
	StorageType string
	Bucket      string
	Key         string
}

// TaggingParams puts or deletes tags on an object. VersionID is the
// destination-side version id previously recorded for this site, read from
// the entry's per-site replication info before the call and updated from
// the response afterward.
type TaggingParams struct {
	StorageType string
	Bucket      string
	Key         string
	VersionID   string
	Tags        map[string]string
}

// DestinationGateway is the write surface the replication task drives.
// Every error returned carries errors.OriginTarget, except the Malformed
// errors the GCP and Azure backends return for operations they do not
// support (InitiateMPU, PutObjectTagging, DeleteObjectTagging), which carry
// no origin.
type DestinationGateway interface {
	PutObject(ctx context.Context, p PutObjectParams) (versionID, etag string, err error)
	InitiateMPU(ctx context.Context, p InitiateMPUParams) (uploadID string, err error)
	PutMPUPart(ctx context.Context, p PutMPUPartParams) (etag string, err error)
	CompleteMPU(ctx context.Context, p CompleteMPUParams) (versionID string, err error)
	AbortMPU(ctx context.Context, p AbortMPUParams) error
	DeleteObject(ctx context.Context, p DeleteObjectParams) error
	PutObjectTagging(ctx context.Context, p TaggingParams) (versionID string, err error)
	DeleteObjectTagging(ctx context.Context, p TaggingParams) (versionID string, err error)
}

// Multiplexer dispatches each call to the DestinationGateway registered for
// the params' StorageType, the generalized form of the teacher's per-family
// backend selection switch in cmd/bleepstore/main.go.
type Multiplexer struct {
	backends map[string]DestinationGateway
}

// NewMultiplexer builds a Multiplexer over the given storageType ->
// DestinationGateway map.
func NewMultiplexer(backends map[string]DestinationGateway) *Multiplexer {
	return &Multiplexer{backends: backends}
}

func (m *Multiplexer) resolve(storageType string) (DestinationGateway, error) {
	gw, ok := m.backends[storageType]
	if !ok {
		return nil, replerrors.New(replerrors.KindPermanentTarget, replerrors.OriginTarget,
			fmt.Sprintf("no destination gateway registered for storage type %q", storageType), nil)
	}
	return gw, nil
}

func (m *Multiplexer) PutObject(ctx context.Context, p PutObjectParams) (string, string, error) {
	gw, err := m.resolve(p.StorageType)
	if err != nil {
		return "", "", err
	}
	return gw.PutObject(ctx, p)
}

func (m *Multiplexer) InitiateMPU(ctx context.Context, p InitiateMPUParams) (string, error) {
	gw, err := m.resolve(p.StorageType)
	if err != nil {
		return "", err
	}
	return gw.InitiateMPU(ctx, p)
}

func (m *Multiplexer) PutMPUPart(ctx context.Context, p PutMPUPartParams) (string, error) {
	gw, err := m.resolve(p.StorageType)
	if err != nil {
		return "", err
	}
	return gw.PutMPUPart(ctx, p)
}

func (m *Multiplexer) CompleteMPU(ctx context.Context, p CompleteMPUParams) (string, error) {
	gw, err := m.resolve(p.StorageType)
	if err != nil {
		return "", err
	}
	return gw.CompleteMPU(ctx, p)
}

func (m *Multiplexer) AbortMPU(ctx context.Context, p AbortMPUParams) error {
	gw, err := m.resolve(p.StorageType)
	if err != nil {
		return err
	}
	return gw.AbortMPU(ctx, p)
}

func (m *Multiplexer) DeleteObject(ctx context.Context, p DeleteObjectParams) error {
	gw, err := m.resolve(p.StorageType)
	if err != nil {
		return err
	}
	return gw.DeleteObject(ctx, p)
}

func (m *Multiplexer) PutObjectTagging(ctx context.Context, p TaggingParams) (string, error) {
	gw, err := m.resolve(p.StorageType)
	if err != nil {
		return "", err
	}
	return gw.PutObjectTagging(ctx, p)
}

func (m *Multiplexer) DeleteObjectTagging(ctx context.Context, p TaggingParams) (string, error) {
	gw, err := m.resolve(p.StorageType)
	if err != nil {
		return "", err
	}
	return gw.DeleteObjectTagging(ctx, p)
}

var _ DestinationGateway = (*Multiplexer)(nil)
