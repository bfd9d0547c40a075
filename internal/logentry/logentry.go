// Package logentry defines the replication log entry model: a tagged union
// of operations read off the log bus, dispatched by a Go interface and a
// type switch rather than an embedded discriminator struct, the same shape
// the teacher's serialization package uses to dispatch on a table name
// instead of branching on field presence.
package logentry

import (
	"encoding/json"
	"fmt"

	replerrors "github.com/bleepstore/replicator/internal/errors"
)

// Entry is the tagged union of everything that can appear on the log bus.
// Consumers type-switch on the concrete type; there is deliberately no
// shared "Type" field on the interface itself.
type Entry interface {
	entryType() string
}

// SiteStatus is the per-destination-site replication state.
type SiteStatus string

const (
	SiteStatusPending   SiteStatus = "PENDING"
	SiteStatusCompleted SiteStatus = "COMPLETED"
	SiteStatusFailed    SiteStatus = "FAILED"
)

// ContentCategory enumerates what a replication attempt must move.
type ContentCategory string

const (
	ContentMetadata      ContentCategory = "METADATA"
	ContentData          ContentCategory = "DATA"
	ContentMPU           ContentCategory = "MPU"
	ContentPutTagging    ContentCategory = "PUT_TAGGING"
	ContentDeleteTagging ContentCategory = "DELETE_TAGGING"
)

// ReplicationInfo carries the per-site replication intent and progress
// attached to an ObjectEntry.
type ReplicationInfo struct {
	Sites        map[string]SiteStatus `json:"sites"`
	Content      []ContentCategory     `json:"content"`
	StorageClass string                `json:"storageClass"`
	StorageType  string                `json:"storageType"`
	IsNFS        bool                  `json:"isNFS"`
	Role         string                `json:"role"`
}

// PartLocation describes where one part of a (possibly multipart) source
// object lives. A missing DataStoreETag is a permanent, pre-I/O error: the
// entry cannot be trusted to describe a stable source object.
type PartLocation struct {
	PartNumber    int    `json:"partNumber"`
	PartSize      int64  `json:"partSize"`
	PartETag      string `json:"partETag"`
	DataStoreETag string `json:"dataStoreETag"`
	DataStoreName string `json:"dataStoreName"`
}

// ErrMissingDataStoreETag is returned by Validate when a PartLocation has
// no DataStoreETag.
var ErrMissingDataStoreETag = replerrors.Malformed("part location missing dataStoreETag", nil)

// ErrMalformed wraps decode failures and missing-required-field errors
// from Parse.
var ErrMalformed = replerrors.Malformed("malformed log entry", nil)

// ObjectEntry is a put/copy/tag operation on a versioned object.
type ObjectEntry struct {
	Bucket             string            `json:"bucket"`
	Key                string            `json:"key"`
	VersionID          string            `json:"versionID"`
	ContentLength      int64             `json:"contentLength"`
	ContentMD5         string            `json:"contentMD5"`
	UserMetadata       map[string]string `json:"userMetadata,omitempty"`
	ContentType        string            `json:"contentType,omitempty"`
	CacheControl       string            `json:"cacheControl,omitempty"`
	ContentDisposition string            `json:"contentDisposition,omitempty"`
	ContentEncoding    string            `json:"contentEncoding,omitempty"`
	OwnerID            string            `json:"ownerID"`
	OwnerDisplayName   string            `json:"ownerDisplayName,omitempty"`
	Location           []PartLocation    `json:"location,omitempty"`
	Tags               map[string]string `json:"tags,omitempty"`
	IsDeleteMarker     bool              `json:"isDeleteMarker"`
	ReplicationInfo    ReplicationInfo   `json:"replicationInfo"`

	// siteVersionIDs holds the destination version ID assigned per site
	// after a successful write. Not part of the wire format: it is
	// recomputed by the task as it runs, never read back off the bus.
	siteVersionIDs map[string]string `json:"-"`
}

func (*ObjectEntry) entryType() string { return "put" }

// SetReplicationSiteDataStoreVersionID records the destination version ID
// assigned by site after a successful write, keyed by site name inside the
// opaque per-site status map's companion version-ID map.
func (e *ObjectEntry) SetReplicationSiteDataStoreVersionID(site, id string) {
	if e.siteVersionIDs == nil {
		e.siteVersionIDs = make(map[string]string)
	}
	e.siteVersionIDs[site] = id
}

// SiteDataStoreVersionID returns the destination version ID recorded for
// site, if any.
func (e *ObjectEntry) SiteDataStoreVersionID(site string) (string, bool) {
	id, ok := e.siteVersionIDs[site]
	return id, ok
}

// SetOwner overwrites the object owner fields, used by the mirror
// processor when canonicalizing ownership on write-through.
func (e *ObjectEntry) SetOwner(id, displayName string) {
	e.OwnerID = id
	e.OwnerDisplayName = displayName
}

// RewriteLocationNames overwrites every PartLocation's DataStoreName and
// the entry's ReplicationInfo.StorageType, used only by internal/mirror to
// canonicalize the mirrored record's backend identity.
func (e *ObjectEntry) RewriteLocationNames(dataStoreName, dataStoreType string) {
	for i := range e.Location {
		e.Location[i].DataStoreName = dataStoreName
	}
	e.ReplicationInfo.StorageType = dataStoreType
}

// Validate checks the invariants Parse cannot express structurally: every
// PartLocation must carry a DataStoreETag.
func (e *ObjectEntry) Validate() error {
	for _, loc := range e.Location {
		if loc.DataStoreETag == "" {
			return ErrMissingDataStoreETag
		}
	}
	return nil
}

// DeleteEntry is a hard delete of a specific version.
type DeleteEntry struct {
	Bucket       string `json:"bucket"`
	VersionedKey string `json:"versionedKey"`
}

func (*DeleteEntry) entryType() string { return "delete" }

// ActionEntry carries an out-of-band administrative action (e.g. a resync
// trigger) that does not describe an object mutation.
type ActionEntry struct {
	ActionType string            `json:"actionType"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

func (*ActionEntry) entryType() string { return "action" }

// BucketEntry and BucketMdEntry are consumed only by internal/mirror; the
// replication task engine itself never schedules work from them.
type BucketEntry struct {
	Bucket string            `json:"bucket"`
	Owner  string             `json:"owner"`
	Tags   map[string]string `json:"tags,omitempty"`
}

func (*BucketEntry) entryType() string { return "bucket" }

type BucketMdEntry struct {
	Bucket   string            `json:"bucket"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (*BucketMdEntry) entryType() string { return "bucketMetadata" }

// envelope is the wire shape Parse and Serialize exchange: a discriminator
// field plus the raw payload, the same two-field shape the teacher's
// serialization package uses for its table-name-tagged export rows.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	wireTypePut            = "put"
	wireTypeDelete         = "del"
	wireTypeAction         = "action"
	wireTypeBucket         = "bucket"
	wireTypeBucketMetadata = "bucketMetadata"
)

// Parse decodes a raw bus record into the concrete Entry it describes,
// dispatching on the envelope's "type" field.
func Parse(raw []byte) (Entry, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case wireTypePut:
		var e ObjectEntry
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("%w: decoding put payload: %v", ErrMalformed, err)
		}
		if e.Bucket == "" || e.Key == "" {
			return nil, fmt.Errorf("%w: put entry missing bucket/key", ErrMalformed)
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		return &e, nil
	case wireTypeDelete:
		var e DeleteEntry
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("%w: decoding delete payload: %v", ErrMalformed, err)
		}
		if e.Bucket == "" || e.VersionedKey == "" {
			return nil, fmt.Errorf("%w: delete entry missing bucket/versionedKey", ErrMalformed)
		}
		return &e, nil
	case wireTypeAction:
		var e ActionEntry
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("%w: decoding action payload: %v", ErrMalformed, err)
		}
		if e.ActionType == "" {
			return nil, fmt.Errorf("%w: action entry missing actionType", ErrMalformed)
		}
		return &e, nil
	case wireTypeBucket:
		var e BucketEntry
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("%w: decoding bucket payload: %v", ErrMalformed, err)
		}
		return &e, nil
	case wireTypeBucketMetadata:
		var e BucketMdEntry
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("%w: decoding bucketMetadata payload: %v", ErrMalformed, err)
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("%w: unknown entry type %q", ErrMalformed, env.Type)
	}
}

// Serialize encodes an Entry back into its envelope wire form, the inverse
// of Parse.
func Serialize(e Entry) ([]byte, error) {
	var wireType string
	switch e.(type) {
	case *ObjectEntry:
		wireType = wireTypePut
	case *DeleteEntry:
		wireType = wireTypeDelete
	case *ActionEntry:
		wireType = wireTypeAction
	case *BucketEntry:
		wireType = wireTypeBucket
	case *BucketMdEntry:
		wireType = wireTypeBucketMetadata
	default:
		return nil, fmt.Errorf("logentry: Serialize: unsupported entry type %T", e)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("logentry: Serialize: %w", err)
	}
	return json.Marshal(envelope{Type: wireType, Payload: payload})
}
