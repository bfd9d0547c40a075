package destgw

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	replerrors "github.com/bleepstore/replicator/internal/errors"
)

// --- generic backend ---

type fakeGenericS3 struct {
	completeMPUFn func(*s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error)
}

func (f *fakeGenericS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{ETag: aws.String("etag"), VersionId: aws.String("v1")}, nil
}
func (f *fakeGenericS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return &s3.DeleteObjectOutput{}, nil
}
func (f *fakeGenericS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}
func (f *fakeGenericS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("part-%d", *in.PartNumber))}, nil
}
func (f *fakeGenericS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if f.completeMPUFn != nil {
		return f.completeMPUFn(in)
	}
	return &s3.CompleteMultipartUploadOutput{VersionId: aws.String("v-final")}, nil
}
func (f *fakeGenericS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}
func (f *fakeGenericS3) PutObjectTagging(ctx context.Context, in *s3.PutObjectTaggingInput, _ ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error) {
	return &s3.PutObjectTaggingOutput{VersionId: aws.String("v2")}, nil
}
func (f *fakeGenericS3) DeleteObjectTagging(ctx context.Context, in *s3.DeleteObjectTaggingInput, _ ...func(*s3.Options)) (*s3.DeleteObjectTaggingOutput, error) {
	return &s3.DeleteObjectTaggingOutput{VersionId: aws.String("v3")}, nil
}

func TestGenericBackendMPUFlow(t *testing.T) {
	b := NewGenericBackend(&fakeGenericS3{})
	ctx := context.Background()

	uploadID, err := b.InitiateMPU(ctx, InitiateMPUParams{Bucket: "dst", Key: "k"})
	if err != nil || uploadID != "upload-1" {
		t.Fatalf("InitiateMPU = %q, %v", uploadID, err)
	}

	etag, err := b.PutMPUPart(ctx, PutMPUPartParams{Bucket: "dst", Key: "k", UploadID: uploadID, PartNumber: 1, Body: strings.NewReader("data")})
	if err != nil || etag != "part-1" {
		t.Fatalf("PutMPUPart = %q, %v", etag, err)
	}

	versionID, err := b.CompleteMPU(ctx, CompleteMPUParams{Bucket: "dst", Key: "k", UploadID: uploadID, Parts: []CompletedPart{{PartNumber: 1, ETag: etag}}})
	if err != nil || versionID != "v-final" {
		t.Fatalf("CompleteMPU = %q, %v", versionID, err)
	}
}

func TestGenericBackendClassifiesPermanentTargetError(t *testing.T) {
	b := NewGenericBackend(&fakeGenericS3{
		completeMPUFn: func(*s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			return nil, genericAPIErr{code: "NoSuchUpload"}
		},
	})

	_, err := b.CompleteMPU(context.Background(), CompleteMPUParams{Bucket: "dst", Key: "k", UploadID: "gone"})
	if replerrors.KindOf(err) != replerrors.KindPermanentTarget {
		t.Fatalf("KindOf(err) = %v, want PermanentTarget", replerrors.KindOf(err))
	}
}

type genericAPIErr struct{ code string }

func (e genericAPIErr) Error() string                { return e.code }
func (e genericAPIErr) ErrorCode() string            { return e.code }
func (e genericAPIErr) ErrorMessage() string         { return e.code }
func (e genericAPIErr) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

// --- GCP backend ---

type fakeGCS struct {
	mu        sync.Mutex
	objects   map[string]string // object name -> content
	composeCalls int
}

func newFakeGCS() *fakeGCS {
	return &fakeGCS{objects: make(map[string]string)}
}

func (f *fakeGCS) NewWriter(ctx context.Context, bucket, object string) GCSWriter {
	return &captureWriter{gcs: f, object: object}
}

type captureWriter struct {
	gcs    *fakeGCS
	object string
	buf    strings.Builder
}

func (w *captureWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *captureWriter) Close() error {
	w.gcs.mu.Lock()
	defer w.gcs.mu.Unlock()
	w.gcs.objects[w.object] = w.buf.String()
	return nil
}

func (f *fakeGCS) Delete(ctx context.Context, bucket, object string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, object)
	return nil
}

func (f *fakeGCS) Compose(ctx context.Context, bucket, dstObject string, srcObjects []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composeCalls++
	var combined strings.Builder
	for _, name := range srcObjects {
		combined.WriteString(f.objects[name])
	}
	f.objects[dstObject] = combined.String()
	return "etag-" + dstObject, nil
}

func (f *fakeGCS) Attrs(ctx context.Context, bucket, object string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[object]; !ok {
		return "", fmt.Errorf("not found: %s", object)
	}
	return "etag-" + object, nil
}

func (f *fakeGCS) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func TestGCPBackendComposeChainingOverLimit(t *testing.T) {
	fake := newFakeGCS()
	b := NewGCPBackend(fake, slog.Default())
	ctx := context.Background()

	uploadID := "upload-1"
	numParts := maxComposeSources*2 + 5 // forces chaining across generations
	var parts []CompletedPart
	for i := 1; i <= numParts; i++ {
		etag, err := b.PutMPUPart(ctx, PutMPUPartParams{Bucket: "b", Key: "k", UploadID: uploadID, PartNumber: i, Body: strings.NewReader("x")})
		if err != nil {
			t.Fatalf("PutMPUPart(%d): %v", i, err)
		}
		parts = append(parts, CompletedPart{PartNumber: i, ETag: etag})
	}

	etag, err := b.CompleteMPU(ctx, CompleteMPUParams{Bucket: "b", Key: "k", UploadID: uploadID, Parts: parts})
	if err != nil {
		t.Fatalf("CompleteMPU: %v", err)
	}
	if etag == "" {
		t.Errorf("expected a non-empty etag for the composed object")
	}

	content, err := fake.Attrs(ctx, "b", "k")
	if err != nil {
		t.Fatalf("final object missing: %v", err)
	}
	if content == "" {
		t.Errorf("expected final object to have recorded an etag")
	}
	if fake.composeCalls < 2 {
		t.Errorf("composeCalls = %d, want at least 2 for chaining to kick in", fake.composeCalls)
	}
}

func TestGCPBackendAbortMPUCleansUpStagedParts(t *testing.T) {
	fake := newFakeGCS()
	b := NewGCPBackend(fake, slog.Default())
	ctx := context.Background()

	uploadID := "upload-abort"
	for i := 1; i <= 3; i++ {
		if _, err := b.PutMPUPart(ctx, PutMPUPartParams{Bucket: "b", Key: "k", UploadID: uploadID, PartNumber: i, Body: strings.NewReader("x")}); err != nil {
			t.Fatalf("PutMPUPart(%d): %v", i, err)
		}
	}
	// An unrelated object staged under a different upload must survive.
	if _, err := b.PutMPUPart(ctx, PutMPUPartParams{Bucket: "b", Key: "k", UploadID: "other-upload", PartNumber: 1, Body: strings.NewReader("y")}); err != nil {
		t.Fatalf("PutMPUPart(other): %v", err)
	}

	if err := b.AbortMPU(ctx, AbortMPUParams{Bucket: "b", Key: "k", UploadID: uploadID}); err != nil {
		t.Fatalf("AbortMPU: %v", err)
	}

	remaining, err := fake.ListObjects(ctx, "b", partObjectPrefix("k", uploadID))
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected all staged parts for %q to be deleted, got %v", uploadID, remaining)
	}

	survivors, err := fake.ListObjects(ctx, "b", partObjectPrefix("k", "other-upload"))
	if err != nil {
		t.Fatalf("ListObjects(other): %v", err)
	}
	if len(survivors) != 1 {
		t.Errorf("expected the other upload's staged part to survive, got %v", survivors)
	}
}

// --- Azure backend ---

type fakeAzure struct {
	mu     sync.Mutex
	blocks map[string][]byte
}

func newFakeAzure() *fakeAzure {
	return &fakeAzure{blocks: make(map[string][]byte)}
}

func (f *fakeAzure) UploadBlob(ctx context.Context, containerName, blobName string, data []byte) (string, error) {
	return "etag", nil
}
func (f *fakeAzure) DeleteBlob(ctx context.Context, containerName, blobName string) error { return nil }
func (f *fakeAzure) StageBlock(ctx context.Context, containerName, blobName, blockID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[blockID] = data
	return nil
}
func (f *fakeAzure) CommitBlockList(ctx context.Context, containerName, blobName string, blockIDs []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range blockIDs {
		if _, ok := f.blocks[id]; !ok {
			return "", fmt.Errorf("unknown block id %s", id)
		}
	}
	return "final-etag", nil
}

func TestAzureBackendStageAndCommit(t *testing.T) {
	fake := newFakeAzure()
	b := NewAzureBackend(fake)
	ctx := context.Background()

	uploadID := "upload-xyz"
	blk1, err := b.PutMPUPart(ctx, PutMPUPartParams{Bucket: "c", Key: "blob", UploadID: uploadID, PartNumber: 1, Body: strings.NewReader("abc")})
	if err != nil {
		t.Fatalf("PutMPUPart: %v", err)
	}
	blk2, err := b.PutMPUPart(ctx, PutMPUPartParams{Bucket: "c", Key: "blob", UploadID: uploadID, PartNumber: 2, Body: strings.NewReader("def")})
	if err != nil {
		t.Fatalf("PutMPUPart: %v", err)
	}
	if blk1 == blk2 {
		t.Fatalf("block IDs for different part numbers must differ")
	}

	etag, err := b.CompleteMPU(ctx, CompleteMPUParams{Bucket: "c", Key: "blob", UploadID: uploadID, Parts: []CompletedPart{{PartNumber: 1}, {PartNumber: 2}}})
	if err != nil {
		t.Fatalf("CompleteMPU: %v", err)
	}
	if etag != "final-etag" {
		t.Errorf("etag = %q, want final-etag", etag)
	}
}

func TestAzureBlockIDDeterministicPerUploadAndPart(t *testing.T) {
	id1 := blockID("upload-a", 1)
	id2 := blockID("upload-a", 1)
	id3 := blockID("upload-b", 1)
	if id1 != id2 {
		t.Errorf("blockID should be deterministic for the same upload/part")
	}
	if id1 == id3 {
		t.Errorf("blockID should differ across uploads to avoid collisions")
	}
}

// --- multiplexer ---

type fakeGateway struct {
	name string
}

func (f *fakeGateway) PutObject(ctx context.Context, p PutObjectParams) (string, string, error) {
	return f.name, f.name, nil
}
func (f *fakeGateway) InitiateMPU(ctx context.Context, p InitiateMPUParams) (string, error) {
	return f.name, nil
}
func (f *fakeGateway) PutMPUPart(ctx context.Context, p PutMPUPartParams) (string, error) {
	return f.name, nil
}
func (f *fakeGateway) CompleteMPU(ctx context.Context, p CompleteMPUParams) (string, error) {
	return f.name, nil
}
func (f *fakeGateway) AbortMPU(ctx context.Context, p AbortMPUParams) error { return nil }
func (f *fakeGateway) DeleteObject(ctx context.Context, p DeleteObjectParams) error { return nil }
func (f *fakeGateway) PutObjectTagging(ctx context.Context, p TaggingParams) (string, error) {
	return f.name, nil
}
func (f *fakeGateway) DeleteObjectTagging(ctx context.Context, p TaggingParams) (string, error) {
	return f.name, nil
}

func TestMultiplexerDispatchesByStorageType(t *testing.T) {
	m := NewMultiplexer(map[string]DestinationGateway{
		"aws_s3":   &fakeGateway{name: "aws"},
		"gcp_gcs":  &fakeGateway{name: "gcp"},
		"azure_blob": &fakeGateway{name: "azure"},
	})

	versionID, _, err := m.PutObject(context.Background(), PutObjectParams{StorageType: "gcp_gcs"})
	if err != nil || versionID != "gcp" {
		t.Fatalf("PutObject routed to %q, %v, want gcp", versionID, err)
	}
}

func TestMultiplexerUnknownStorageType(t *testing.T) {
	m := NewMultiplexer(map[string]DestinationGateway{})
	_, _, err := m.PutObject(context.Background(), PutObjectParams{StorageType: "unknown"})
	if replerrors.KindOf(err) != replerrors.KindPermanentTarget {
		t.Fatalf("KindOf(err) = %v, want PermanentTarget", replerrors.KindOf(err))
	}
}
