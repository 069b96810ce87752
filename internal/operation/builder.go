package operation

import (
	"github.com/google/uuid"

	"github.com/offs-project/offs/internal/store"
)

// Builder constructs operations that capture the caller's current view
// of the target's version pair. Clients build every mutation through
// it so the server's compare-and-apply sees the versions the client
// acted on.

func newOp(opType OpType, target *store.DirEntity, timestamp store.Timespec) ModifyOperation {
	return ModifyOperation{
		Type:           opType,
		ID:             target.ID,
		OpID:           uuid.New().String(),
		Timestamp:      timestamp,
		DirentVersion:  target.DirentVersion,
		ContentVersion: target.ContentVersion,
	}
}

func MakeCreateFileOp(parent *store.DirEntity, timestamp store.Timespec,
	name string, fileType store.FileType, mode uint32, dev uint32) ModifyOperation {
	op := newOp(OpCreateFile, parent, timestamp)
	op.CreateFile = &CreateFileOperation{
		Name:     name,
		FileType: fileType,
		Mode:     mode,
		Dev:      dev,
	}

	return op
}

func MakeCreateSymlinkOp(parent *store.DirEntity, timestamp store.Timespec,
	name, link string) ModifyOperation {
	op := newOp(OpCreateSymlink, parent, timestamp)
	op.CreateSymlink = &CreateSymlinkOperation{Name: name, Link: link}

	return op
}

func MakeCreateDirectoryOp(parent *store.DirEntity, timestamp store.Timespec,
	name string, mode uint32) ModifyOperation {
	op := newOp(OpCreateDirectory, parent, timestamp)
	op.CreateDirectory = &CreateDirectoryOperation{Name: name, Mode: mode}

	return op
}

func MakeRemoveFileOp(target *store.DirEntity, timestamp store.Timespec) ModifyOperation {
	return newOp(OpRemoveFile, target, timestamp)
}

func MakeRemoveDirectoryOp(target *store.DirEntity, timestamp store.Timespec) ModifyOperation {
	return newOp(OpRemoveDirectory, target, timestamp)
}

func MakeRenameOp(target *store.DirEntity, timestamp store.Timespec,
	newParent, newName string) ModifyOperation {
	op := newOp(OpRename, target, timestamp)
	op.Rename = &RenameOperation{NewParent: newParent, NewName: newName}

	return op
}

func MakeSetAttributesOp(target *store.DirEntity, timestamp store.Timespec,
	attrs SetAttributesOperation) ModifyOperation {
	op := newOp(OpSetAttributes, target, timestamp)
	op.SetAttributes = &attrs

	return op
}

func MakeWriteOp(target *store.DirEntity, timestamp store.Timespec,
	offset int64, data []byte) ModifyOperation {
	op := newOp(OpWrite, target, timestamp)
	op.Write = &WriteOperation{Offset: offset, Size: int64(len(data)), Data: data}

	return op
}

// MakeRecreateFileOp rebuilds a create operation for an entity that
// lost a version conflict. The local copy is re-journaled as a fresh
// creation under its current parent; the server resolves the name
// collision with a conflicted-copy name.
func MakeRecreateFileOp(parent, target *store.DirEntity, timestamp store.Timespec) ModifyOperation {
	switch target.Stat.FileType {
	case store.TypeDirectory:
		return MakeCreateDirectoryOp(parent, timestamp, target.Name, target.Stat.Mode)
	default:
		return MakeCreateFileOp(parent, timestamp, target.Name,
			target.Stat.FileType, target.Stat.Mode, target.Stat.Dev)
	}
}

// MakeResetAttributesOp re-applies an entity's full attribute set,
// used after a conflict recreate so the copy keeps its metadata.
func MakeResetAttributesOp(target *store.DirEntity, timestamp store.Timespec) ModifyOperation {
	mode := target.Stat.Mode
	userID := target.Stat.UID
	groupID := target.Stat.GID
	size := target.Stat.Size
	atim := target.Stat.Atim
	mtim := target.Stat.Mtim

	attrs := SetAttributesOperation{
		Mode: &mode,
		UID:  &userID,
		GID:  &groupID,
		Atim: &atim,
		Mtim: &mtim,
	}
	if target.Stat.HasSize() {
		attrs.Size = &size
	}

	return MakeSetAttributesOp(target, timestamp, attrs)
}
