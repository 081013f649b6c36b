package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    EventPath
		wantErr bool
	}{
		{
			name: "valid path",
			path: "buckets/tenant-a/documents/notes/2026/journal.md",
			want: EventPath{TenantID: "tenant-a", Category: "documents", FilePath: "notes/2026/journal.md"},
		},
		{
			name: "single-level file path",
			path: "buckets/tenant-a/audio/recording.wav",
			want: EventPath{TenantID: "tenant-a", Category: "audio", FilePath: "recording.wav"},
		},
		{name: "directory marker", path: "buckets/tenant-a/documents/notes/", wantErr: true},
		{name: "missing prefix", path: "objects/tenant-a/documents/a.txt", wantErr: true},
		{name: "too few segments", path: "buckets/tenant-a/a.txt", wantErr: true},
		{name: "empty tenant", path: "buckets//documents/a.txt", wantErr: true},
		{name: "dot-dot traversal", path: "buckets/tenant-a/documents/../../etc/passwd", wantErr: true},
		{name: "empty string", path: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, commonerrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventPath_Helpers(t *testing.T) {
	p, err := ParsePath("buckets/tenant-a/documents/notes/journal.md")
	require.NoError(t, err)
	assert.Equal(t, "journal.md", p.Basename())
	assert.Equal(t, "buckets/tenant-a/documents/notes/journal.md", p.Full())
}

func TestStorageEvent_UnmarshalCoercesStrings(t *testing.T) {
	raw := `{"event_type":"create","path":"buckets/t/docs/a.txt","timestamp":"1756000000.25","file_size":"2048"}`
	var ev StorageEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	assert.Equal(t, "create", ev.EventType)
	assert.InDelta(t, 1756000000.25, ev.Timestamp, 1e-6)
	assert.Equal(t, int64(2048), ev.FileSize)
	assert.Equal(t, int64(1756000000), ev.Time().Unix())

	raw = `{"event_type":"update","path":"buckets/t/docs/a.txt","timestamp":1756000000,"file_size":1024}`
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	assert.Equal(t, int64(1024), ev.FileSize)

	raw = `{"event_type":"update","path":"buckets/t/docs/a.txt","timestamp":"soon"}`
	assert.Error(t, json.Unmarshal([]byte(raw), &ev))
}

func TestStorageEvent_Validate(t *testing.T) {
	ev := StorageEvent{EventType: "create", Path: "buckets/t/docs/a.txt"}
	assert.NoError(t, ev.Validate())

	ev.EventType = "rename"
	err := ev.Validate()
	require.Error(t, err)
	assert.True(t, commonerrors.IsValidation(err))

	ev = StorageEvent{EventType: "delete", Path: "not/a/bucket/path/"}
	assert.Error(t, ev.Validate())
}
