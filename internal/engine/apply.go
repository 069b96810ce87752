package engine

import (
	"fmt"

	"github.com/offs-project/offs/internal/id_service"
	"github.com/offs-project/offs/internal/operation"
	"github.com/offs-project/offs/internal/store"
)

func (e *Engine) touch(tx *store.Tx, id string, timestamp store.Timespec, mtime, ctime bool) error {
	attrs := store.SetAttrs{}
	if mtime {
		attrs.Mtim = &timestamp
	}
	if ctime {
		attrs.Ctim = &timestamp
	}

	return tx.UpdateAttributes(id, attrs)
}

// prepareCreate resolves and checks the parent directory for a create
// operation and settles the final name.
func (e *Engine) prepareCreate(tx *store.Tx, op *operation.ModifyOperation, mode Mode, name string) (string, error) {
	parent, err := tx.DirEntity(op.ID)
	if err != nil {
		return "", err
	}
	if parent.Stat.FileType != store.TypeDirectory {
		return "", fmt.Errorf("parent %s: %w", parent.ID, store.ErrNotADirectory)
	}
	if err := store.ValidateName(name); err != nil {
		return "", err
	}
	if err := checkStrict(parent, op, mode); err != nil {
		return "", err
	}

	taken, err := tx.ExistsByName(parent.ID, name)
	if err != nil {
		return "", err
	}
	if taken {
		if mode != ModeDeferred {
			return "", fmt.Errorf("%s/%s: %w", parent.ID, name, store.ErrAlreadyExists)
		}
		// A concurrent creation won the name while this client was
		// offline; keep both under a conflicted-copy name.
		name, err = conflictedName(tx, parent.ID, name, op.Timestamp)
		if err != nil {
			return "", err
		}
	}

	return name, nil
}

func (e *Engine) finishCreate(tx *store.Tx, op *operation.ModifyOperation,
	name string, fileType store.FileType, mode uint32, dev uint32) (string, error) {
	newID := e.gen.GenerateID()
	if err := tx.CreateDirEntity(newID, op.ID, name, fileType, mode, dev, op.Timestamp); err != nil {
		return "", err
	}

	if err := tx.BumpDirentVersion(op.ID); err != nil {
		return "", err
	}
	if err := e.touch(tx, op.ID, op.Timestamp, true, true); err != nil {
		return "", err
	}

	return newID, nil
}

func (e *Engine) applyCreateFile(tx *store.Tx, op *operation.ModifyOperation, mode Mode, chunks []string) (string, error) {
	payload := op.CreateFile
	if payload.FileType == store.TypeDirectory {
		return "", fmt.Errorf("%w: create_file cannot create a directory", store.ErrInvalidOperation)
	}

	name, err := e.prepareCreate(tx, op, mode, payload.Name)
	if err != nil {
		return "", err
	}

	newID, err := e.finishCreate(tx, op, name, payload.FileType, payload.Mode, payload.Dev)
	if err != nil {
		return "", err
	}

	// A journaled create may arrive with content already chunked (a
	// conflicted copy re-created from a client's cache).
	if mode == ModeDeferred && len(chunks) > 0 && payload.FileType == store.TypeRegularFile {
		if err := e.installChunkMap(tx, newID, chunks); err != nil {
			return "", err
		}
	}

	return newID, nil
}

func (e *Engine) applyCreateSymlink(tx *store.Tx, op *operation.ModifyOperation, mode Mode) (string, error) {
	payload := op.CreateSymlink

	name, err := e.prepareCreate(tx, op, mode, payload.Name)
	if err != nil {
		return "", err
	}

	newID, err := e.finishCreate(tx, op, name, store.TypeSymlink, 0o777, 0)
	if err != nil {
		return "", err
	}

	// The link text is the symlink's content: a single blob.
	if payload.Link != "" {
		blobID, err := tx.PutBlob([]byte(payload.Link))
		if err != nil {
			return "", err
		}
		if err := tx.ReplaceChunkMap(newID, []string{blobID}); err != nil {
			return "", err
		}
		if err := tx.Resize(newID, uint64(len(payload.Link))); err != nil {
			return "", err
		}
	}

	return newID, nil
}

func (e *Engine) applyCreateDirectory(tx *store.Tx, op *operation.ModifyOperation, mode Mode) (string, error) {
	payload := op.CreateDirectory

	name, err := e.prepareCreate(tx, op, mode, payload.Name)
	if err != nil {
		return "", err
	}

	return e.finishCreate(tx, op, name, store.TypeDirectory, payload.Mode, 0)
}

func (e *Engine) applyRemoveFile(tx *store.Tx, op *operation.ModifyOperation, mode Mode) error {
	target, err := tx.DirEntity(op.ID)
	if err != nil {
		return err
	}
	if target.Stat.FileType == store.TypeDirectory {
		return fmt.Errorf("%s: %w", target.ID, store.ErrIsADirectory)
	}

	if err := checkDeferredDirent(target, op, mode); err != nil {
		return err
	}

	// Chunk rows cascade with the dirent; blobs linger until GC.
	if err := tx.RemoveDirEntity(target.ID); err != nil {
		return err
	}
	if err := tx.BumpDirentVersion(target.Parent); err != nil {
		return err
	}

	return e.touch(tx, target.Parent, op.Timestamp, true, true)
}

func (e *Engine) applyRemoveDirectory(tx *store.Tx, op *operation.ModifyOperation, mode Mode) error {
	target, err := tx.DirEntity(op.ID)
	if err != nil {
		return err
	}
	if target.ID == id_service.RootID {
		return fmt.Errorf("%w: cannot remove the root directory", store.ErrInvalidOperation)
	}
	if target.Stat.FileType != store.TypeDirectory {
		return fmt.Errorf("%s: %w", target.ID, store.ErrNotADirectory)
	}

	if err := checkDeferredDirent(target, op, mode); err != nil {
		return err
	}

	hasChildren, err := tx.ChildExists(target.ID)
	if err != nil {
		return err
	}
	if hasChildren {
		return fmt.Errorf("%s: %w", target.ID, store.ErrNotEmpty)
	}

	if err := tx.RemoveDirEntity(target.ID); err != nil {
		return err
	}
	if err := tx.BumpDirentVersion(target.Parent); err != nil {
		return err
	}

	return e.touch(tx, target.Parent, op.Timestamp, true, true)
}

func (e *Engine) applyRename(tx *store.Tx, op *operation.ModifyOperation, mode Mode) error {
	payload := op.Rename

	target, err := tx.DirEntity(op.ID)
	if err != nil {
		return err
	}
	if target.ID == id_service.RootID {
		return fmt.Errorf("%w: cannot rename the root directory", store.ErrInvalidOperation)
	}

	if err := checkDeferredDirent(target, op, mode); err != nil {
		return err
	}

	newParent, err := tx.DirEntity(payload.NewParent)
	if err != nil {
		return err
	}
	if newParent.Stat.FileType != store.TypeDirectory {
		return fmt.Errorf("parent %s: %w", newParent.ID, store.ErrNotADirectory)
	}

	newName := payload.NewName
	if err := store.ValidateName(newName); err != nil {
		return err
	}

	// Moving a directory under itself or one of its descendants would
	// detach a cycle from the tree.
	if newParent.ID == target.ID {
		return fmt.Errorf("%w: cannot move %s into itself", store.ErrInvalidOperation, target.ID)
	}
	isDescendant, err := tx.IsDescendant(newParent.ID, target.ID)
	if err != nil {
		return err
	}
	if isDescendant {
		return fmt.Errorf("%w: cannot move %s under its descendant %s",
			store.ErrInvalidOperation, target.ID, newParent.ID)
	}

	taken, err := tx.ExistsByName(newParent.ID, newName)
	if err != nil {
		return err
	}
	if taken {
		if mode != ModeDeferred {
			return fmt.Errorf("%s/%s: %w", newParent.ID, newName, store.ErrAlreadyExists)
		}
		newName, err = conflictedName(tx, newParent.ID, newName, op.Timestamp)
		if err != nil {
			return err
		}
	}

	oldParent := target.Parent
	if err := tx.Rename(target.ID, newParent.ID, newName); err != nil {
		return err
	}

	if err := tx.BumpDirentVersion(target.ID); err != nil {
		return err
	}
	if err := e.touch(tx, target.ID, op.Timestamp, false, true); err != nil {
		return err
	}

	if err := tx.BumpDirentVersion(oldParent); err != nil {
		return err
	}
	if err := e.touch(tx, oldParent, op.Timestamp, true, true); err != nil {
		return err
	}
	if newParent.ID != oldParent {
		if err := tx.BumpDirentVersion(newParent.ID); err != nil {
			return err
		}
		if err := e.touch(tx, newParent.ID, op.Timestamp, true, true); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) applySetAttributes(tx *store.Tx, op *operation.ModifyOperation, mode Mode) error {
	payload := op.SetAttributes

	target, err := tx.DirEntity(op.ID)
	if err != nil {
		return err
	}

	size := payload.Size
	if size != nil && !target.Stat.HasSize() {
		// Truncating anything but a regular file is meaningless; drop
		// the field rather than failing the whole journal.
		size = nil
	}

	if size != nil {
		err = checkDeferredContent(target, op, mode)
	} else {
		err = checkDeferredDirent(target, op, mode)
	}
	if err != nil {
		return err
	}

	attrs := store.SetAttrs{
		Mode: payload.Mode,
		UID:  payload.UID,
		GID:  payload.GID,
		Atim: payload.Atim,
		Mtim: payload.Mtim,
	}

	sizeChanged := false
	if size != nil && *size != target.Stat.Size {
		if err := e.resizeContent(tx, target, *size); err != nil {
			return err
		}
		sizeChanged = true
		attrs.Mtim = &op.Timestamp
	}

	if payload.Mode != nil || payload.UID != nil || payload.GID != nil || size != nil {
		attrs.Ctim = &op.Timestamp
	}

	if err := tx.UpdateAttributes(target.ID, attrs); err != nil {
		return err
	}

	if err := tx.BumpDirentVersion(target.ID); err != nil {
		return err
	}
	if sizeChanged {
		if err := tx.BumpContentVersion(target.ID); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) applyWrite(tx *store.Tx, op *operation.ModifyOperation, mode Mode, chunks []string) error {
	payload := op.Write

	target, err := tx.DirEntity(op.ID)
	if err != nil {
		return err
	}
	if target.Stat.FileType == store.TypeDirectory {
		return fmt.Errorf("%s: %w", target.ID, store.ErrIsADirectory)
	}
	if target.Stat.FileType != store.TypeRegularFile {
		return fmt.Errorf("%w: write to a non-regular file %s", store.ErrInvalidOperation, target.ID)
	}

	if err := checkDeferredContent(target, op, mode); err != nil {
		return err
	}

	if mode == ModeDeferred && len(payload.Data) == 0 {
		// Journal replay: the write's bytes arrived as blobs and the
		// resulting chunk map rides next to the operation.
		if err := e.installChunkMap(tx, target.ID, chunks); err != nil {
			return err
		}
	} else {
		if err := e.writeContent(tx, target, payload.Offset, payload.Data); err != nil {
			return err
		}
	}

	if err := tx.BumpContentVersion(target.ID); err != nil {
		return err
	}

	return e.touch(tx, target.ID, op.Timestamp, true, true)
}

// installChunkMap points a file at an externally supplied chunk list,
// verifying every referenced blob is present.
func (e *Engine) installChunkMap(tx *store.Tx, id string, chunks []string) error {
	sizes, missing, err := tx.BlobSizes(chunks)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &MissingBlobsError{BlobIDs: missing}
	}

	if err := tx.ReplaceChunkMap(id, chunks); err != nil {
		return err
	}

	var total uint64
	for _, size := range sizes {
		total += uint64(size)
	}

	return tx.Resize(id, total)
}
