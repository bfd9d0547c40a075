// Package mirror implements the Metadata Mirror Processor (C9): a
// collaborator, not part of the core task engine, that consumes the same
// log bus and writes a denormalized, version-agnostic copy of each
// object's metadata into a document database. Grounded on the teacher's
// internal/metadata backends (DynamoDBStore, FirestoreStore), narrowed
// from the full bucket/object/multipart-upload CRUD surface those stores
// expose down to the two operations this collaborator actually drives.
package mirror

import (
	"context"
	"log/slog"

	"github.com/bleepstore/replicator/internal/bus"
	"github.com/bleepstore/replicator/internal/logentry"
)

// Record is the denormalized, version-agnostic object record written into
// the mirror store: the "current" view of an object, keyed by
// {bucket, key} rather than {bucket, key, versionId}.
type Record struct {
	Bucket         string
	Key            string
	VersionID      string
	Size           int64
	ETag           string
	ContentType    string
	UserMetadata   map[string]string
	DataStoreName  string
	DataStoreType  string
	IsDeleteMarker bool
}

// Store is the narrow write surface the mirror processor drives. Both
// PutObjectNoVer and DeleteObjectNoVer operate on the canonical
// {bucket, key} identity; versioning semantics are preserved by the
// versioned key the task engine already resolved upstream, per spec.md
// §4.9.
type Store interface {
	PutObjectNoVer(ctx context.Context, rec Record) error
	DeleteObjectNoVer(ctx context.Context, bucket, key string) error
	// GetObjectNoVer reads back the current mirrored record, used by
	// replctl's status/requeue inspection commands rather than by the
	// processor itself. found is false when no record exists.
	GetObjectNoVer(ctx context.Context, bucket, key string) (rec Record, found bool, err error)
}

// Config parameterizes the processor's rewrite targets and optional
// bucket-event handling.
type Config struct {
	// DataStoreName and DataStoreType overwrite every mirrored record's
	// backend identity fields, canonicalizing them to the mirror's own
	// values regardless of which site replicated the object.
	DataStoreName string
	DataStoreType string
	// HandleBucketEvents is off by default (see DESIGN.md). Under either
	// setting BucketEntry/BucketMdEntry records are acked without any Store
	// write, since Store has no bucket-level operation.
	HandleBucketEvents bool
}

// Processor binds a log-bus consumer to a Store, dispatching on Entry
// variant. It never contends with the replication task engine: it reads
// the same log, writes to a different downstream, and has no concept of
// destination sites or retries beyond the bus's own redelivery.
type Processor struct {
	Consumer bus.Consumer
	Store    Store
	Cfg      Config
	Logger   *slog.Logger
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Run consumes until ctx is cancelled or the consumer returns a fatal
// error.
func (p *Processor) Run(ctx context.Context) error {
	return p.Consumer.Consume(ctx, func(rec bus.AckableRecord) error {
		p.process(ctx, rec)
		return nil
	})
}

func (p *Processor) process(ctx context.Context, rec bus.AckableRecord) {
	log := p.logger()

	entry, err := logentry.Parse(rec.Value)
	if err != nil {
		log.Error("mirror: dropping malformed log entry", "error", err)
		p.ack(rec)
		return
	}

	var procErr error
	switch e := entry.(type) {
	case *logentry.ObjectEntry:
		procErr = p.mirrorObject(ctx, e)
	case *logentry.DeleteEntry:
		procErr = p.Store.DeleteObjectNoVer(ctx, e.Bucket, e.VersionedKey)
	case *logentry.BucketEntry, *logentry.BucketMdEntry:
		if !p.Cfg.HandleBucketEvents {
			p.ack(rec)
			return
		}
		// Bucket-level mirroring is out of scope for the document schema
		// this processor currently writes; HandleBucketEvents exists for a
		// future bucket-aware Store implementation to opt into.
	default:
		// ActionEntry carries no metadata to mirror.
	}

	if procErr != nil {
		log.Error("mirror: processing entry failed", "error", procErr)
		p.nak(rec)
		return
	}
	p.ack(rec)
}

func (p *Processor) mirrorObject(ctx context.Context, e *logentry.ObjectEntry) error {
	e.RewriteLocationNames(p.Cfg.DataStoreName, p.Cfg.DataStoreType)

	rec := Record{
		Bucket:         e.Bucket,
		Key:            e.Key,
		VersionID:      e.VersionID,
		ContentType:    e.ContentType,
		UserMetadata:   e.UserMetadata,
		DataStoreName:  p.Cfg.DataStoreName,
		DataStoreType:  p.Cfg.DataStoreType,
		IsDeleteMarker: e.IsDeleteMarker,
	}
	if len(e.Location) > 0 {
		rec.ETag = e.Location[0].DataStoreETag
		for _, loc := range e.Location {
			rec.Size += loc.PartSize
		}
	} else {
		rec.Size = e.ContentLength
	}

	return p.Store.PutObjectNoVer(ctx, rec)
}

func (p *Processor) ack(rec bus.AckableRecord) {
	if err := rec.Ack(); err != nil {
		p.logger().Error("mirror: ack failed", "error", err)
	}
}

func (p *Processor) nak(rec bus.AckableRecord) {
	if err := rec.Nak(); err != nil {
		p.logger().Error("mirror: nak failed", "error", err)
	}
}
