package destgw

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	replerrors "github.com/bleepstore/replicator/internal/errors"
)

// maxComposeSources mirrors the teacher's GCPGatewayBackend: GCS Compose
// accepts at most 32 source objects per call.
const maxComposeSources = 32

// GCSAPI is the subset of the GCS client the GCP destination backend
// depends on, mirroring the teacher's GCSAPI interface.
type GCSAPI interface {
	NewWriter(ctx context.Context, bucket, object string) GCSWriter
	Delete(ctx context.Context, bucket, object string) error
	Compose(ctx context.Context, bucket, dstObject string, srcObjects []string) (etag string, err error)
	Attrs(ctx context.Context, bucket, object string) (etag string, err error)
	// ListObjects lists objects with the given prefix, mirroring the
	// teacher's GCSAPI.ListObjects; used by AbortMPU to discover staged
	// part objects left behind by a failed Compose-based upload.
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// GCSWriter is a writer interface for writing to GCS objects.
type GCSWriter interface {
	io.WriteCloser
}

// GCPBackend implements DestinationGateway over GCS, using per-part
// temporary objects assembled with Compose instead of native MPU, grounded
// on the teacher's GCPGatewayBackend.AssembleParts/chainCompose.
type GCPBackend struct {
	client GCSAPI
	bucket func(storageType string) string
	log    *slog.Logger
}

// NewGCPBackend builds a GCPBackend over client. Bucket names in the
// request params are used as the physical GCS bucket names unchanged.
func NewGCPBackend(client GCSAPI, log *slog.Logger) *GCPBackend {
	return &GCPBackend{client: client, log: log}
}

func partObjectName(key, uploadID string, partNumber int) string {
	return partObjectPrefix(key, uploadID) + strconv.Itoa(partNumber)
}

// partObjectPrefix is the common prefix of every part object staged for
// one upload, used by AbortMPU to list and delete them by ListObjects.
func partObjectPrefix(key, uploadID string) string {
	return key + ".__mpu_part_" + uploadID + "_"
}

func (b *GCPBackend) PutObject(ctx context.Context, p PutObjectParams) (string, string, error) {
	w := b.client.NewWriter(ctx, p.Bucket, p.Key)
	if _, err := io.Copy(w, p.Body); err != nil {
		_ = w.Close()
		return "", "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("writing object %s/%s to GCS", p.Bucket, p.Key), err)
	}
	if err := w.Close(); err != nil {
		return "", "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("finalizing object %s/%s in GCS", p.Bucket, p.Key), err)
	}
	etag, err := b.client.Attrs(ctx, p.Bucket, p.Key)
	if err != nil {
		return "", "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("reading attrs for %s/%s", p.Bucket, p.Key), err)
	}
	return "", etag, nil
}

// InitiateMPU always returns a Malformed error: GCS has no server-side MPU
// session to open. The caller generates the upload ID itself (e.g. from
// internal/uid) and passes it to PutMPUPart, where it only namespaces the
// temporary part objects.
func (b *GCPBackend) InitiateMPU(ctx context.Context, p InitiateMPUParams) (string, error) {
	return "", replerrors.Malformed("GCP backend requires a caller-supplied upload ID; InitiateMPU must not be called directly", nil)
}

func (b *GCPBackend) PutMPUPart(ctx context.Context, p PutMPUPartParams) (string, error) {
	name := partObjectName(p.Key, p.UploadID, p.PartNumber)
	w := b.client.NewWriter(ctx, p.Bucket, name)
	if _, err := io.Copy(w, p.Body); err != nil {
		_ = w.Close()
		return "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("staging part %d for %s/%s in GCS", p.PartNumber, p.Bucket, p.Key), err)
	}
	if err := w.Close(); err != nil {
		return "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("finalizing part %d for %s/%s in GCS", p.PartNumber, p.Bucket, p.Key), err)
	}
	etag, err := b.client.Attrs(ctx, p.Bucket, name)
	if err != nil {
		return "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("reading attrs for part %d", p.PartNumber), err)
	}
	return etag, nil
}

// CompleteMPU composes the staged part objects into the final object,
// chaining compose calls in batches of maxComposeSources when there are
// more parts than GCS allows in a single call, exactly as the teacher's
// chainCompose does.
func (b *GCPBackend) CompleteMPU(ctx context.Context, p CompleteMPUParams) (string, error) {
	sourceNames := make([]string, len(p.Parts))
	for i, part := range p.Parts {
		sourceNames[i] = partObjectName(p.Key, p.UploadID, part.PartNumber)
	}

	var intermediates []string
	if len(sourceNames) <= maxComposeSources {
		if _, err := b.client.Compose(ctx, p.Bucket, p.Key, sourceNames); err != nil {
			return "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("composing parts for %s/%s", p.Bucket, p.Key), err)
		}
	} else {
		var err error
		intermediates, err = b.chainCompose(ctx, p.Bucket, sourceNames, p.Key)
		if err != nil {
			return "", err
		}
	}

	for _, name := range append(intermediates, sourceNames...) {
		if delErr := b.client.Delete(ctx, p.Bucket, name); delErr != nil {
			b.log.Warn("failed to clean up compose source", "object", name, "error", delErr)
		}
	}

	etag, err := b.client.Attrs(ctx, p.Bucket, p.Key)
	if err != nil {
		return "", replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("reading attrs for composed object %s/%s", p.Bucket, p.Key), err)
	}
	return etag, nil
}

// chainCompose mirrors the teacher's batching-by-32 reasoning exactly,
// generalized to generic part-size doubling elsewhere; here it still caps
// at maxComposeSources sources per Compose call.
func (b *GCPBackend) chainCompose(ctx context.Context, bucket string, sourceNames []string, finalName string) ([]string, error) {
	var allIntermediates []string
	current := sourceNames
	generation := 0

	for len(current) > maxComposeSources {
		var next []string
		for i := 0; i < len(current); i += maxComposeSources {
			end := i + maxComposeSources
			if end > len(current) {
				end = len(current)
			}
			batch := current[i:end]
			if len(batch) == 1 {
				next = append(next, batch[0])
				continue
			}
			name := fmt.Sprintf("%s.__compose_tmp_%d_%d", finalName, generation, i)
			if _, err := b.client.Compose(ctx, bucket, name, batch); err != nil {
				return allIntermediates, replerrors.Transient(replerrors.OriginTarget,
					fmt.Sprintf("composing intermediate batch gen=%d offset=%d", generation, i), err)
			}
			next = append(next, name)
			allIntermediates = append(allIntermediates, name)
		}
		current = next
		generation++
	}

	if _, err := b.client.Compose(ctx, bucket, finalName, current); err != nil {
		return allIntermediates, replerrors.Transient(replerrors.OriginTarget, "final compose in GCS", err)
	}
	return allIntermediates, nil
}

// AbortMPU lists and deletes every part object staged under this upload's
// prefix, since GCS has no MPU session to cancel server-side and a failed
// Compose otherwise leaves them orphaned, mirroring the teacher's
// GCPGatewayBackend.DeleteParts.
func (b *GCPBackend) AbortMPU(ctx context.Context, p AbortMPUParams) error {
	names, err := b.client.ListObjects(ctx, p.Bucket, partObjectPrefix(p.Key, p.UploadID))
	if err != nil {
		return replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("listing staged parts for upload %s", p.UploadID), err)
	}
	for _, name := range names {
		if delErr := b.client.Delete(ctx, p.Bucket, name); delErr != nil {
			b.log.Warn("failed to clean up staged part on abort", "object", name, "error", delErr)
		}
	}
	return nil
}

func (b *GCPBackend) DeleteObject(ctx context.Context, p DeleteObjectParams) error {
	if err := b.client.Delete(ctx, p.Bucket, p.Key); err != nil {
		return replerrors.Transient(replerrors.OriginTarget, fmt.Sprintf("deleting %s/%s from GCS", p.Bucket, p.Key), err)
	}
	return nil
}

func (b *GCPBackend) PutObjectTagging(ctx context.Context, p TaggingParams) (string, error) {
	return "", replerrors.Malformed("GCS backend does not support object tagging", nil)
}

func (b *GCPBackend) DeleteObjectTagging(ctx context.Context, p TaggingParams) (string, error) {
	return "", replerrors.Malformed("GCS backend does not support object tagging", nil)
}

var _ DestinationGateway = (*GCPBackend)(nil)
