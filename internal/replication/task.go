// Package replication implements the Replication Task (C6): the state
// machine that reproduces one log entry's effect at a single destination
// site, driving the source and destination gateways through the Retry
// Runner with concurrency-bounded part transfer.
package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bleepstore/replicator/internal/destgw"
	replerrors "github.com/bleepstore/replicator/internal/errors"
	"github.com/bleepstore/replicator/internal/logentry"
	"github.com/bleepstore/replicator/internal/metrics"
	"github.com/bleepstore/replicator/internal/publish"
	"github.com/bleepstore/replicator/internal/rangeplan"
	"github.com/bleepstore/replicator/internal/retry"
	"github.com/bleepstore/replicator/internal/sourcegw"
	"github.com/bleepstore/replicator/internal/uid"
)

// Outcome reports how the harness should treat the log offset after Run
// returns: Committable tells the harness whether it may advance past this
// entry, Status carries the site status the task settled on (meaningful
// only for ObjectEntry processing).
type Outcome struct {
	Committable bool
	Status      logentry.SiteStatus
}

// DestinationGatewayFactory builds a fresh DestinationGateway bound to
// host, called once up front and again after every target-origin retry
// with the next host in the picker's rotation. The rotation wraps around,
// so a failed host is used again once every other host has been tried.
type DestinationGatewayFactory func(host string) destgw.DestinationGateway

// Config bounds a task's concurrency and retry behavior.
type Config struct {
	Concurrency int
	Retry       retry.Config
}

// DefaultConfig matches spec's concurrency ≤ 10 and the retry runner's
// default backoff curve.
func DefaultConfig() Config {
	return Config{Concurrency: 10, Retry: retry.DefaultConfig()}
}

// Task owns one entry's replication attempt at one destination site. It
// holds no cross-entry state: a fresh Task is constructed per (entry,
// site) pair by the worker harness.
type Task struct {
	Entry       logentry.Entry
	Site        string
	Family      rangeplan.Family
	SourceGW    sourcegw.SourceGateway
	DestFactory DestinationGatewayFactory
	Hosts       *retry.HostPicker
	Publisher   *publish.Publisher
	Cfg         Config

	dest destgw.DestinationGateway
}

// errInvalidObjectStateMidTransfer signals an NFS source mutation detected
// between part uploads; it never escapes Run as a returned error, only as
// an Outcome.
var errInvalidObjectStateMidTransfer = errors.New("replication: source object mutated mid-transfer")

// Run executes the state machine for t.Entry at t.Site.
func (t *Task) Run(ctx context.Context) (Outcome, error) {
	if t.dest == nil {
		t.dest = t.DestFactory(t.Hosts.Current())
	}

	switch e := t.Entry.(type) {
	case *logentry.ObjectEntry:
		return t.runObject(ctx, e)
	case *logentry.DeleteEntry:
		return t.runDelete(ctx, e)
	default:
		// ActionEntry, BucketEntry, BucketMdEntry belong to the
		// metadata-mirror collaborator, not the core task engine.
		return Outcome{Committable: true}, nil
	}
}

func (t *Task) rebindDest() {
	host := t.Hosts.Next()
	t.dest = t.DestFactory(host)
}

// retrySource wraps a source-gateway call; source-origin retries never
// fail over a host, since the host picker only tracks destination hosts.
func (t *Task) retrySource(ctx context.Context, describe string, attempt retry.Attempt) error {
	return retry.Run(ctx, t.Cfg.Retry, describe, attempt, replerrors.Retryable, func(err error) {
		metrics.ReplicationRetriesTotal.WithLabelValues(string(replerrors.KindOf(err))).Inc()
	})
}

// retryTarget wraps a destination-gateway call; a retryable failure whose
// origin is the target advances to the next destination host before the
// following attempt.
func (t *Task) retryTarget(ctx context.Context, describe string, attempt retry.Attempt) error {
	return retry.Run(ctx, t.Cfg.Retry, describe, attempt, replerrors.Retryable, func(err error) {
		metrics.ReplicationRetriesTotal.WithLabelValues(string(replerrors.KindOf(err))).Inc()
		if replerrors.OriginOf(err) == replerrors.OriginTarget {
			t.rebindDest()
		}
	})
}

func (t *Task) runObject(ctx context.Context, e *logentry.ObjectEntry) (Outcome, error) {
	// S1 FetchPolicy
	var policy *sourcegw.ReplicationPolicy
	err := t.retrySource(ctx, "fetch replication policy", func(ctx context.Context) error {
		p, err := t.SourceGW.GetBucketReplicationPolicy(ctx, e.Bucket)
		if err != nil {
			return err
		}
		policy = p
		return nil
	})
	if err != nil {
		if isTerminal(err) {
			return t.skip(e), nil
		}
		return Outcome{Committable: false}, err
	}
	if !ruleMatches(policy, e.Key) {
		return t.skip(e), nil
	}

	// S2 FetchSourceMD
	err = t.retrySource(ctx, "fetch source metadata", func(ctx context.Context) error {
		_, err := t.SourceGW.GetMetadata(ctx, e.Bucket, e.Key, e.VersionID)
		return err
	})
	if err != nil {
		switch {
		case replerrors.KindOf(err) == replerrors.KindObjNotFound && e.IsDeleteMarker:
			// Delete markers for a versioning-suspended/non-versioned
			// object have no underlying source object; proceed anyway.
		case replerrors.KindOf(err) == replerrors.KindObjNotFound && e.ReplicationInfo.IsNFS && !e.IsDeleteMarker:
			return t.skip(e), nil
		case replerrors.KindOf(err) == replerrors.KindObjNotFound:
			return t.skip(e), nil
		case isTerminal(err):
			return t.skip(e), nil
		default:
			return Outcome{Committable: false}, err
		}
	}

	// S3 ClassifyContent
	if e.IsDeleteMarker {
		return t.putDeleteMarker(ctx, e)
	}

	currentStatus := e.ReplicationInfo.Sites[t.Site]
	if currentStatus == logentry.SiteStatusCompleted && hasCategory(e.ReplicationInfo.Content, logentry.ContentData) {
		return t.skip(e), nil
	}

	switch {
	case hasCategory(e.ReplicationInfo.Content, logentry.ContentMPU):
		return t.replicateMPU(ctx, e)
	case hasCategory(e.ReplicationInfo.Content, logentry.ContentPutTagging):
		return t.putTagging(ctx, e)
	case hasCategory(e.ReplicationInfo.Content, logentry.ContentDeleteTagging):
		return t.deleteTagging(ctx, e)
	default:
		return t.replicateData(ctx, e)
	}
}

func (t *Task) runDelete(ctx context.Context, e *logentry.DeleteEntry) (Outcome, error) {
	err := t.retryTarget(ctx, "delete object", func(ctx context.Context) error {
		return t.dest.DeleteObject(ctx, destgw.DeleteObjectParams{Bucket: e.Bucket, Key: e.VersionedKey})
	})
	if err != nil {
		if replerrors.KindOf(err) == replerrors.KindObjNotFound {
			return Outcome{Committable: true, Status: logentry.SiteStatusCompleted}, nil
		}
		return Outcome{Committable: true, Status: logentry.SiteStatusFailed}, nil
	}
	return Outcome{Committable: true, Status: logentry.SiteStatusCompleted}, nil
}

// skip settles the task without publishing a status or metrics record,
// matching the error-handling design's "log, status unchanged, skip entry
// (committable)" contract for PermanentSource/ObjNotFound/InvalidObjectState.
func (t *Task) skip(e *logentry.ObjectEntry) Outcome {
	return Outcome{Committable: true, Status: e.ReplicationInfo.Sites[t.Site]}
}

// isTerminal reports whether err is one of the non-retryable,
// skip-without-failing kinds: PermanentSource, ObjNotFound, or
// InvalidObjectState.
func isTerminal(err error) bool {
	switch replerrors.KindOf(err) {
	case replerrors.KindPermanentSource, replerrors.KindObjNotFound, replerrors.KindInvalidObjectState:
		return true
	}
	return false
}

func ruleMatches(policy *sourcegw.ReplicationPolicy, key string) bool {
	if policy == nil {
		return false
	}
	for _, r := range policy.Rules {
		if !r.Enabled {
			continue
		}
		if r.Prefix == "" || strings.HasPrefix(key, r.Prefix) {
			return true
		}
	}
	return false
}

func hasCategory(content []logentry.ContentCategory, want logentry.ContentCategory) bool {
	for _, c := range content {
		if c == want {
			return true
		}
	}
	return false
}

// complete marks the site status COMPLETED, records the destination
// version id, and publishes the status record. partsMetered tells complete
// whether the caller already published one PublishCompleted event per part
// summing to size (the MPU and multi-part assembly paths do, to report
// progress as parts land); when true, complete does not publish a further
// whole-object event, since that would double-count size in
// metrics.ReplicationQueueDepth and any completed-bytes consumer.
func (t *Task) complete(ctx context.Context, e *logentry.ObjectEntry, versionID string, size int64, partsMetered bool) (Outcome, error) {
	if e.ReplicationInfo.Sites == nil {
		e.ReplicationInfo.Sites = make(map[string]logentry.SiteStatus)
	}
	e.ReplicationInfo.Sites[t.Site] = logentry.SiteStatusCompleted
	if versionID != "" {
		e.SetReplicationSiteDataStoreVersionID(t.Site, versionID)
	}

	if err := t.Publisher.PublishStatus(ctx, e); err != nil {
		return Outcome{Committable: false}, fmt.Errorf("replication: publishing COMPLETED status: %w", err)
	}
	if !partsMetered {
		_ = t.Publisher.PublishCompleted(ctx, string(t.Family), t.Site, publish.ExtensionCRR, e.Bucket, e.Key, e.VersionID, size)
	}
	metrics.ReplicationTasksTotal.WithLabelValues(string(t.Family), "completed").Inc()
	return Outcome{Committable: true, Status: logentry.SiteStatusCompleted}, nil
}

// fail marks the site status FAILED and publishes both the status record
// and the failed metrics event, matching scenario 6's "publishes FAILED
// with the error description" contract.
func (t *Task) fail(ctx context.Context, e *logentry.ObjectEntry, cause error, size int64) (Outcome, error) {
	if e.ReplicationInfo.Sites == nil {
		e.ReplicationInfo.Sites = make(map[string]logentry.SiteStatus)
	}
	e.ReplicationInfo.Sites[t.Site] = logentry.SiteStatusFailed

	if err := t.Publisher.PublishStatus(ctx, e); err != nil {
		return Outcome{Committable: false}, fmt.Errorf("replication: publishing FAILED status: %w", err)
	}
	_ = t.Publisher.PublishFailed(ctx, string(t.Family), t.Site, publish.ExtensionCRR, e.Bucket, e.Key, e.VersionID, size)
	return Outcome{Committable: true, Status: logentry.SiteStatusFailed}, fmt.Errorf("replication: task failed: %w", cause)
}

func (t *Task) putDeleteMarker(ctx context.Context, e *logentry.ObjectEntry) (Outcome, error) {
	err := t.retryTarget(ctx, "delete marker", func(ctx context.Context) error {
		return t.dest.DeleteObject(ctx, destgw.DeleteObjectParams{
			StorageType: e.ReplicationInfo.StorageType,
			Bucket:      e.Bucket,
			Key:         e.Key,
		})
	})
	if err != nil && replerrors.KindOf(err) != replerrors.KindObjNotFound {
		return t.fail(ctx, e, err, 0)
	}
	return t.complete(ctx, e, "", 0, false)
}

func (t *Task) putTagging(ctx context.Context, e *logentry.ObjectEntry) (Outcome, error) {
	versionID, _ := e.SiteDataStoreVersionID(t.Site)
	var newVersionID string
	err := t.retryTarget(ctx, "put object tagging", func(ctx context.Context) error {
		v, err := t.dest.PutObjectTagging(ctx, destgw.TaggingParams{
			StorageType: e.ReplicationInfo.StorageType,
			Bucket:      e.Bucket,
			Key:         e.Key,
			VersionID:   versionID,
			Tags:        e.Tags,
		})
		if err != nil {
			return err
		}
		newVersionID = v
		return nil
	})
	if err != nil {
		return t.fail(ctx, e, err, 0)
	}
	return t.complete(ctx, e, newVersionID, 0, false)
}

func (t *Task) deleteTagging(ctx context.Context, e *logentry.ObjectEntry) (Outcome, error) {
	versionID, _ := e.SiteDataStoreVersionID(t.Site)
	var newVersionID string
	err := t.retryTarget(ctx, "delete object tagging", func(ctx context.Context) error {
		v, err := t.dest.DeleteObjectTagging(ctx, destgw.TaggingParams{
			StorageType: e.ReplicationInfo.StorageType,
			Bucket:      e.Bucket,
			Key:         e.Key,
			VersionID:   versionID,
		})
		if err != nil {
			return err
		}
		newVersionID = v
		return nil
	})
	if err != nil {
		return t.fail(ctx, e, err, 0)
	}
	return t.complete(ctx, e, newVersionID, 0, false)
}

// sourceMD5 re-fetches the source object's metadata and reports its
// current ContentMD5, used by the NFS mid-transfer mutation check.
func (t *Task) sourceMD5(ctx context.Context, e *logentry.ObjectEntry) (string, error) {
	var md *sourcegw.ObjectMetadata
	err := t.retrySource(ctx, "re-check NFS source state", func(ctx context.Context) error {
		m, err := t.SourceGW.GetMetadata(ctx, e.Bucket, e.Key, e.VersionID)
		if err != nil {
			return err
		}
		md = m
		return nil
	})
	if err != nil {
		return "", err
	}
	return md.ContentMD5, nil
}

func (t *Task) nfsMutated(ctx context.Context, e *logentry.ObjectEntry) (bool, error) {
	current, err := t.sourceMD5(ctx, e)
	if err != nil {
		return false, err
	}
	return current != e.ContentMD5, nil
}

// abortMPU best-effort aborts the upload session, itself retried, per the
// cancellation contract in spec §5.
func (t *Task) abortMPU(ctx context.Context, e *logentry.ObjectEntry, uploadID string) {
	_ = t.retryTarget(ctx, "abort MPU", func(ctx context.Context) error {
		return t.dest.AbortMPU(ctx, destgw.AbortMPUParams{
			StorageType: e.ReplicationInfo.StorageType,
			Bucket:      e.Bucket,
			Key:         e.Key,
			UploadID:    uploadID,
		})
	})
}

func (t *Task) replicateMPU(ctx context.Context, e *logentry.ObjectEntry) (Outcome, error) {
	if e.ReplicationInfo.IsNFS {
		mutated, err := t.nfsMutated(ctx, e)
		if err != nil {
			return Outcome{Committable: false}, err
		}
		if mutated {
			return t.skip(e), nil
		}
	}

	_ = t.Publisher.PublishQueued(ctx, t.Site, publish.ExtensionCRR, e.Bucket, e.Key, e.VersionID, e.ContentLength)

	var uploadID string
	if t.Family == rangeplan.FamilyGeneric {
		err := t.retryTarget(ctx, "initiate MPU", func(ctx context.Context) error {
			id, err := t.dest.InitiateMPU(ctx, destgw.InitiateMPUParams{
				StorageType:  e.ReplicationInfo.StorageType,
				StorageClass: e.ReplicationInfo.StorageClass,
				Bucket:       e.Bucket,
				Key:          e.Key,
				ContentType:  e.ContentType,
				UserMetadata: e.UserMetadata,
			})
			if err != nil {
				return err
			}
			uploadID = id
			return nil
		})
		if err != nil {
			return t.fail(ctx, e, err, e.ContentLength)
		}
	} else {
		uploadID = uid.New()
	}

	ranges := rangeplan.Plan(e.ContentLength, t.Family)
	parts := make([]destgw.CompletedPart, len(ranges))

	sem := semaphore.NewWeighted(int64(t.Cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i, rng := range ranges {
		i, rng := i, rng
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			partNumber := i + 1

			if e.ReplicationInfo.IsNFS {
				mutated, err := t.nfsMutated(gctx, e)
				if err != nil {
					return err
				}
				if mutated {
					return errInvalidObjectStateMidTransfer
				}
			}

			var body io.ReadCloser
			if err := t.retrySource(gctx, fmt.Sprintf("read source part %d", partNumber), func(ctx context.Context) error {
				r, err := t.SourceGW.GetObject(ctx, e.Bucket, e.Key, e.VersionID, &rng, partNumber)
				if err != nil {
					return err
				}
				body = r
				return nil
			}); err != nil {
				return err
			}
			defer body.Close()

			var etag string
			if err := t.retryTarget(gctx, fmt.Sprintf("upload part %d", partNumber), func(ctx context.Context) error {
				putEtag, err := t.dest.PutMPUPart(ctx, destgw.PutMPUPartParams{
					StorageType:   e.ReplicationInfo.StorageType,
					StorageClass:  e.ReplicationInfo.StorageClass,
					Bucket:        e.Bucket,
					Key:           e.Key,
					UploadID:      uploadID,
					PartNumber:    partNumber,
					ContentLength: rng.End - rng.Start + 1,
					Body:          body,
				})
				if err != nil {
					return err
				}
				etag = putEtag
				return nil
			}); err != nil {
				return err
			}

			parts[i] = destgw.CompletedPart{PartNumber: partNumber, ETag: etag}
			_ = t.Publisher.PublishCompleted(gctx, string(t.Family), t.Site, publish.ExtensionCRR, e.Bucket, e.Key, e.VersionID, rng.End-rng.Start+1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.abortMPU(ctx, e, uploadID)
		if errors.Is(err, errInvalidObjectStateMidTransfer) {
			return t.skip(e), nil
		}
		return t.fail(ctx, e, err, e.ContentLength)
	}

	var versionID string
	err := t.retryTarget(ctx, "complete MPU", func(ctx context.Context) error {
		v, err := t.dest.CompleteMPU(ctx, destgw.CompleteMPUParams{
			StorageType: e.ReplicationInfo.StorageType,
			Bucket:      e.Bucket,
			Key:         e.Key,
			UploadID:    uploadID,
			Parts:       parts,
		})
		if err != nil {
			return err
		}
		versionID = v
		return nil
	})
	if err != nil {
		t.abortMPU(ctx, e, uploadID)
		return t.fail(ctx, e, err, e.ContentLength)
	}

	return t.complete(ctx, e, versionID, e.ContentLength, true)
}

func (t *Task) replicateData(ctx context.Context, e *logentry.ObjectEntry) (Outcome, error) {
	_ = t.Publisher.PublishQueued(ctx, t.Site, publish.ExtensionCRR, e.Bucket, e.Key, e.VersionID, e.ContentLength)

	if len(e.Location) == 0 {
		// Metadata-only mutation: no body to transfer.
		var versionID string
		err := t.retryTarget(ctx, "put object (metadata-only)", func(ctx context.Context) error {
			v, _, err := t.dest.PutObject(ctx, destgw.PutObjectParams{
				StorageType:   e.ReplicationInfo.StorageType,
				StorageClass:  e.ReplicationInfo.StorageClass,
				Bucket:        e.Bucket,
				Key:           e.Key,
				ContentType:   e.ContentType,
				UserMetadata:  e.UserMetadata,
				ContentLength: e.ContentLength,
			})
			if err != nil {
				return err
			}
			versionID = v
			return nil
		})
		if err != nil {
			return t.fail(ctx, e, err, e.ContentLength)
		}
		return t.complete(ctx, e, versionID, e.ContentLength, false)
	}

	for _, loc := range e.Location {
		if loc.DataStoreETag == "" {
			return t.fail(ctx, e, replerrors.Malformed("part location missing dataStoreETag", nil), e.ContentLength)
		}
	}

	reduced := reduceLocations(e.Location)

	if len(reduced) == 1 {
		return t.replicateSinglePart(ctx, e, reduced[0])
	}
	return t.replicateMultiPart(ctx, e, reduced)
}

func (t *Task) replicateSinglePart(ctx context.Context, e *logentry.ObjectEntry, part ReducedPart) (Outcome, error) {
	var body io.ReadCloser
	rng := rangeplan.Range{Start: part.Start, End: part.End}
	err := t.retrySource(ctx, "read source object", func(ctx context.Context) error {
		r, err := t.SourceGW.GetObject(ctx, e.Bucket, e.Key, e.VersionID, &rng, 0)
		if err != nil {
			return err
		}
		body = r
		return nil
	})
	if err != nil {
		return t.fail(ctx, e, err, e.ContentLength)
	}
	defer body.Close()

	var versionID string
	err = t.retryTarget(ctx, "put object", func(ctx context.Context) error {
		v, _, err := t.dest.PutObject(ctx, destgw.PutObjectParams{
			StorageType:   e.ReplicationInfo.StorageType,
			StorageClass:  e.ReplicationInfo.StorageClass,
			Bucket:        e.Bucket,
			Key:           e.Key,
			ContentMD5:    e.ContentMD5,
			ContentType:   e.ContentType,
			UserMetadata:  e.UserMetadata,
			ContentLength: part.Size,
			Body:          body,
		})
		if err != nil {
			return err
		}
		versionID = v
		return nil
	})
	if err != nil {
		return t.fail(ctx, e, err, e.ContentLength)
	}
	return t.complete(ctx, e, versionID, part.Size, false)
}

// replicateMultiPart assembles several reduced source parts into one
// destination object via an internal MPU session, the same native-MPU
// assembly shape as the teacher's AssembleParts multi-part branch, applied
// here to the engine's own destination gateway instead of a local
// CopyObject/UploadPartCopy pair.
func (t *Task) replicateMultiPart(ctx context.Context, e *logentry.ObjectEntry, reduced []ReducedPart) (Outcome, error) {
	var uploadID string
	if t.Family == rangeplan.FamilyGeneric {
		err := t.retryTarget(ctx, "initiate assembly MPU", func(ctx context.Context) error {
			id, err := t.dest.InitiateMPU(ctx, destgw.InitiateMPUParams{
				StorageType:  e.ReplicationInfo.StorageType,
				StorageClass: e.ReplicationInfo.StorageClass,
				Bucket:       e.Bucket,
				Key:          e.Key,
				ContentType:  e.ContentType,
				UserMetadata: e.UserMetadata,
			})
			if err != nil {
				return err
			}
			uploadID = id
			return nil
		})
		if err != nil {
			return t.fail(ctx, e, err, e.ContentLength)
		}
	} else {
		uploadID = uid.New()
	}

	parts := make([]destgw.CompletedPart, len(reduced))
	sem := semaphore.NewWeighted(int64(t.Cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i, rp := range reduced {
		i, rp := i, rp
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			partNumber := i + 1
			rng := rangeplan.Range{Start: rp.Start, End: rp.End}

			var body io.ReadCloser
			if err := t.retrySource(gctx, fmt.Sprintf("read source part %d", partNumber), func(ctx context.Context) error {
				r, err := t.SourceGW.GetObject(ctx, e.Bucket, e.Key, e.VersionID, &rng, 0)
				if err != nil {
					return err
				}
				body = r
				return nil
			}); err != nil {
				return err
			}
			defer body.Close()

			var etag string
			if err := t.retryTarget(gctx, fmt.Sprintf("upload assembly part %d", partNumber), func(ctx context.Context) error {
				putEtag, err := t.dest.PutMPUPart(ctx, destgw.PutMPUPartParams{
					StorageType:   e.ReplicationInfo.StorageType,
					StorageClass:  e.ReplicationInfo.StorageClass,
					Bucket:        e.Bucket,
					Key:           e.Key,
					UploadID:      uploadID,
					PartNumber:    partNumber,
					ContentLength: rp.Size,
					Body:          body,
				})
				if err != nil {
					return err
				}
				etag = putEtag
				return nil
			}); err != nil {
				return err
			}

			parts[i] = destgw.CompletedPart{PartNumber: partNumber, ETag: etag}
			_ = t.Publisher.PublishCompleted(gctx, string(t.Family), t.Site, publish.ExtensionCRR, e.Bucket, e.Key, e.VersionID, rp.Size)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.abortMPU(ctx, e, uploadID)
		return t.fail(ctx, e, err, e.ContentLength)
	}

	var versionID string
	err := t.retryTarget(ctx, "complete assembly MPU", func(ctx context.Context) error {
		v, err := t.dest.CompleteMPU(ctx, destgw.CompleteMPUParams{
			StorageType: e.ReplicationInfo.StorageType,
			Bucket:      e.Bucket,
			Key:         e.Key,
			UploadID:    uploadID,
			Parts:       parts,
		})
		if err != nil {
			return err
		}
		versionID = v
		return nil
	})
	if err != nil {
		t.abortMPU(ctx, e, uploadID)
		return t.fail(ctx, e, err, e.ContentLength)
	}
	return t.complete(ctx, e, versionID, e.ContentLength, true)
}
