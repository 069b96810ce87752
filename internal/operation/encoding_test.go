package operation

import (
	"bytes"
	"testing"

	"github.com/offs-project/offs/internal/store"
)

func testDirEntity() *store.DirEntity {
	return &store.DirEntity{
		ID:             "0000000000000000000000000000000000000000000000000000000000000000",
		DirentVersion:  3,
		ContentVersion: 5,
		Stat:           store.FileStat{FileType: store.TypeDirectory, Mode: 0o755},
	}
}

func TestEncodeDecode(t *testing.T) {
	parent := testDirEntity()

	tests := []struct {
		name string
		op   ModifyOperation
	}{
		{
			name: "create file",
			op:   MakeCreateFileOp(parent, store.NewTimespec(10, 20), "a.txt", store.TypeRegularFile, 0o644, 0),
		},
		{
			name: "create symlink",
			op:   MakeCreateSymlinkOp(parent, store.NewTimespec(10, 20), "l", "target"),
		},
		{
			name: "write",
			op:   MakeWriteOp(parent, store.NewTimespec(10, 20), 42, []byte{0x00, 0x01, 0xFF}),
		},
		{
			name: "remove",
			op:   MakeRemoveFileOp(parent, store.NewTimespec(10, 20)),
		},
		{
			name: "rename",
			op:   MakeRenameOp(parent, store.NewTimespec(10, 20), "p", "n"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(&tt.op)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if decoded.Type != tt.op.Type || decoded.ID != tt.op.ID {
				t.Errorf("Decode() = (%s, %s), want (%s, %s)",
					decoded.Type, decoded.ID, tt.op.Type, tt.op.ID)
			}
			if decoded.DirentVersion != tt.op.DirentVersion ||
				decoded.ContentVersion != tt.op.ContentVersion {
				t.Errorf("Decode() versions = (%d, %d), want (%d, %d)",
					decoded.DirentVersion, decoded.ContentVersion,
					tt.op.DirentVersion, tt.op.ContentVersion)
			}
			if tt.op.Write != nil && !bytes.Equal(decoded.Write.Data, tt.op.Write.Data) {
				t.Errorf("Decode() write data = %v, want %v", decoded.Write.Data, tt.op.Write.Data)
			}
		})
	}
}

func TestDecode_RejectsMismatchedPayload(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "missing payload", data: `{"type":0,"id":"x"}`},
		{name: "missing target", data: `{"type":7,"write":{"offset":0}}`},
		{name: "unknown type", data: `{"type":99,"id":"x"}`},
		{name: "garbage", data: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); err == nil {
				t.Errorf("Decode(%q) succeeded, want error", tt.data)
			}
		})
	}
}
