package logentry

import (
	"testing"
)

func TestParseSerializeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{
			name: "object entry",
			entry: &ObjectEntry{
				Bucket:        "src-bucket",
				Key:           "a/b/c.bin",
				VersionID:     "v1",
				ContentLength: 4096,
				ContentMD5:    "deadbeef",
				OwnerID:       "owner-1",
				Location: []PartLocation{
					{PartNumber: 1, PartSize: 4096, PartETag: "etag1", DataStoreETag: "1:etag1", DataStoreName: "site-a"},
				},
				ReplicationInfo: ReplicationInfo{
					Sites:        map[string]SiteStatus{"site-a": SiteStatusPending},
					Content:      []ContentCategory{ContentData, ContentMetadata},
					StorageClass: "STANDARD",
					StorageType:  "aws_s3",
				},
			},
		},
		{
			name:  "delete entry",
			entry: &DeleteEntry{Bucket: "src-bucket", VersionedKey: "a/b/c.bin\x00v1"},
		},
		{
			name:  "action entry",
			entry: &ActionEntry{ActionType: "resync", Parameters: map[string]string{"site": "site-a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Serialize(tt.entry)
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}

			got, err := Parse(raw)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}

			gotRaw, err := Serialize(got)
			if err != nil {
				t.Fatalf("re-Serialize: %v", err)
			}
			if string(gotRaw) != string(raw) {
				t.Errorf("round trip mismatch:\n got: %s\nwant: %s", gotRaw, raw)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `not json at all`},
		{"unknown type", `{"type":"unknown","payload":{}}`},
		{"put missing bucket", `{"type":"put","payload":{"key":"k","versionID":"v1"}}`},
		{"put missing dataStoreETag", `{"type":"put","payload":{"bucket":"b","key":"k","location":[{"partNumber":1}]}}`},
		{"delete missing versionedKey", `{"type":"del","payload":{"bucket":"b"}}`},
		{"action missing actionType", `{"type":"action","payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.raw)); err == nil {
				t.Errorf("Parse(%s) should have failed", tt.raw)
			}
		})
	}
}

func TestObjectEntryMutators(t *testing.T) {
	e := &ObjectEntry{Bucket: "b", Key: "k", OwnerID: "old-owner"}

	e.SetOwner("new-owner", "New Owner")
	if e.OwnerID != "new-owner" || e.OwnerDisplayName != "New Owner" {
		t.Errorf("SetOwner did not update owner fields")
	}

	e.Location = []PartLocation{
		{PartNumber: 1, DataStoreName: "old-site", DataStoreETag: "x"},
		{PartNumber: 2, DataStoreName: "old-site", DataStoreETag: "y"},
	}
	e.RewriteLocationNames("mirror-site", "mirror_type")
	for _, loc := range e.Location {
		if loc.DataStoreName != "mirror-site" {
			t.Errorf("RewriteLocationNames left DataStoreName = %q", loc.DataStoreName)
		}
	}
	if e.ReplicationInfo.StorageType != "mirror_type" {
		t.Errorf("RewriteLocationNames did not set StorageType")
	}

	e.SetReplicationSiteDataStoreVersionID("site-a", "vA")
	id, ok := e.SiteDataStoreVersionID("site-a")
	if !ok || id != "vA" {
		t.Errorf("SetReplicationSiteDataStoreVersionID/SiteDataStoreVersionID round trip failed")
	}
	if _, ok := e.SiteDataStoreVersionID("site-b"); ok {
		t.Errorf("expected no recorded version ID for site-b")
	}
}

func TestValidateMissingDataStoreETag(t *testing.T) {
	e := &ObjectEntry{
		Bucket:   "b",
		Key:      "k",
		Location: []PartLocation{{PartNumber: 1}},
	}
	if err := e.Validate(); err == nil {
		t.Errorf("Validate should fail on missing DataStoreETag")
	}
}

type unsupportedEntry struct{}

func (*unsupportedEntry) entryType() string { return "unsupported" }

func TestSerializeUnsupportedType(t *testing.T) {
	if _, err := Serialize(&unsupportedEntry{}); err == nil {
		t.Errorf("Serialize of an unregistered Entry type should fail")
	}
}
