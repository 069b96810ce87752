package operation

import (
	"github.com/offs-project/offs/internal/store"
)

// OpType tags the closed set of mutations.
type OpType int

const (
	OpCreateFile OpType = iota
	OpCreateSymlink
	OpCreateDirectory
	OpRemoveFile
	OpRemoveDirectory
	OpRename
	OpSetAttributes
	OpWrite
)

func (t OpType) String() string {
	switch t {
	case OpCreateFile:
		return "create_file"
	case OpCreateSymlink:
		return "create_symlink"
	case OpCreateDirectory:
		return "create_directory"
	case OpRemoveFile:
		return "remove_file"
	case OpRemoveDirectory:
		return "remove_directory"
	case OpRename:
		return "rename"
	case OpSetAttributes:
		return "set_attributes"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

type CreateFileOperation struct {
	Name     string         `json:"name"`
	FileType store.FileType `json:"fileType"`
	Mode     uint32         `json:"mode"`
	Dev      uint32         `json:"dev"`
}

type CreateSymlinkOperation struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

type CreateDirectoryOperation struct {
	Name string `json:"name"`
	Mode uint32 `json:"mode"`
}

type RenameOperation struct {
	NewParent string `json:"newParent"`
	NewName   string `json:"newName"`
}

// SetAttributesOperation carries partial attribute updates; nil fields
// are untouched.
type SetAttributesOperation struct {
	Mode *uint32         `json:"mode,omitempty"`
	UID  *uint32         `json:"uid,omitempty"`
	GID  *uint32         `json:"gid,omitempty"`
	Size *uint64         `json:"size,omitempty"`
	Atim *store.Timespec `json:"atim,omitempty"`
	Mtim *store.Timespec `json:"mtim,omitempty"`
}

// WriteOperation's Data travels inline on the single-operation path.
// Journal replay strips it and ships the resulting chunk list plus raw
// blobs instead; Size then records the write length.
type WriteOperation struct {
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	Data   []byte `json:"data,omitempty"`
}

// ModifyOperation is one entry of the mutation vocabulary. ID is the
// target entity — for creates, the parent directory. The carried
// version pair is the issuing client's view of the target, checked by
// the engine's optimistic compare-and-apply.
type ModifyOperation struct {
	Type OpType `json:"type"`

	ID        string         `json:"id"`
	OpID      string         `json:"opId"`
	Timestamp store.Timespec `json:"timestamp"`

	// ProvisionalID is set on create operations a client journals: the
	// locally minted id of the new entity. The server maps it to the
	// assigned id during replay so later operations in the same batch
	// can reference the entity.
	ProvisionalID string `json:"provisionalId,omitempty"`

	DirentVersion  int64 `json:"direntVersion"`
	ContentVersion int64 `json:"contentVersion"`

	CreateFile      *CreateFileOperation      `json:"createFile,omitempty"`
	CreateSymlink   *CreateSymlinkOperation   `json:"createSymlink,omitempty"`
	CreateDirectory *CreateDirectoryOperation `json:"createDirectory,omitempty"`
	Rename          *RenameOperation          `json:"rename,omitempty"`
	SetAttributes   *SetAttributesOperation   `json:"setAttributes,omitempty"`
	Write           *WriteOperation           `json:"write,omitempty"`
}

// IsCreate reports whether the operation mints a new entity (and so
// receives a server-assigned id on journal acceptance).
func (op *ModifyOperation) IsCreate() bool {
	switch op.Type {
	case OpCreateFile, OpCreateSymlink, OpCreateDirectory:
		return true
	default:
		return false
	}
}

// IntroducesContent reports whether the operation carries blob
// references that must travel with a journal.
func (op *ModifyOperation) IntroducesContent() bool {
	switch op.Type {
	case OpCreateFile, OpCreateSymlink, OpWrite:
		return true
	default:
		return false
	}
}
