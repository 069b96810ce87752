package client_service

import (
	"context"
	"errors"
	"fmt"

	"github.com/offs-project/offs/internal/communication"
	"github.com/offs-project/offs/internal/engine"
	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/operation"
	"github.com/offs-project/offs/internal/store"
)

func isNetworkError(err error) bool {
	return errors.Is(err, communication.ErrNetworkUnavailable)
}

// performOperation is the single write path: the operation is applied
// eagerly to the local cache and journaled in one transaction. When
// online with an empty journal it is also dispatched immediately; the
// authoritative result then replaces the local guess. A transport
// failure leaves the entry journaled and flips the client into
// degraded mode — the write has succeeded as far as the adapter is
// concerned.
func (fs *Filesystem) performOperation(ctx context.Context, op *operation.ModifyOperation) (*store.DirEntity, error) {
	var result *store.DirEntity

	err := fs.store.Update(ctx, func(tx *store.Tx) error {
		newID, err := fs.engine.Apply(tx, op, engine.ModeStrict, nil)
		if err != nil {
			return err
		}

		if op.IsCreate() {
			op.ProvisionalID = newID
		}

		// Content the operation produced is already chunked locally;
		// record the resulting map so a journal replay can ship it.
		var chunks []string
		if op.IntroducesContent() || (op.SetAttributes != nil && op.SetAttributes.Size != nil) {
			if chunks, err = tx.Chunks(newID); err != nil {
				return err
			}
			if err := tx.SetRetrievedVersion(newID); err != nil {
				return err
			}
		}

		journalOp := stripInlineData(op)
		encoded, err := operation.Encode(journalOp)
		if err != nil {
			return err
		}

		journalID := op.ID
		if op.IsCreate() {
			journalID = newID
		}
		var journalChunks []string
		if op.IntroducesContent() {
			journalChunks = chunks
		}
		seq, err := tx.AppendJournal(journalID, encoded, op.Timestamp, journalChunks)
		if err != nil {
			return err
		}

		pending, err := tx.JournalLen()
		if err != nil {
			return err
		}

		// Dispatch online only when this entry is alone in the
		// journal; anything queued behind older entries must wait for
		// the pump so the server sees operations in program order.
		if fs.IsOffline() || pending > 1 {
			// Removes leave nothing to return.
			result, err = tx.TryDirEntity(newID)
			return err
		}

		authoritative, err := fs.remote.ApplyOperation(ctx, op)
		if err != nil {
			if isNetworkError(err) {
				fs.markNetworkDown()
				result, err = tx.TryDirEntity(newID)
				return err
			}
			// A protocol rejection rolls back the eager local apply
			// and the journal entry together.
			return err
		}

		if err := tx.RemoveJournalEntry(seq); err != nil {
			return err
		}

		if authoritative == nil {
			// Removes return no entity.
			result = nil
			return nil
		}

		if authoritative.ID != newID {
			if err := tx.ChangeID(newID, authoritative.ID); err != nil {
				return err
			}
			fs.inodes.rename(newID, authoritative.ID)
			fs.openFiles.renameID(newID, authoritative.ID)
		}
		if err := fs.addDirent(tx, authoritative); err != nil {
			return err
		}
		if op.IntroducesContent() || (op.SetAttributes != nil && op.SetAttributes.Size != nil) {
			if err := tx.SetRetrievedVersion(authoritative.ID); err != nil {
				return err
			}
		}

		result = authoritative
		return nil
	})
	if err != nil {
		return nil, err
	}

	if fs.IsOffline() {
		fs.wakePump()
	}

	return result, nil
}

// stripInlineData drops a write's inline bytes for the journal copy:
// the content travels as blobs on replay.
func stripInlineData(op *operation.ModifyOperation) *operation.ModifyOperation {
	if op.Write == nil {
		return op
	}

	journalOp := *op
	payload := *op.Write
	payload.Data = nil
	journalOp.Write = &payload

	return &journalOp
}

// --- Create ---

func (fs *Filesystem) Create(ctx context.Context, parentID, name string,
	fileType store.FileType, mode uint32, dev uint32) (*store.DirEntity, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.getEntity(ctx, parentID)
	if err != nil {
		return nil, err
	}

	op := operation.MakeCreateFileOp(parent, store.Now(), name, fileType, mode, dev)
	return fs.performOperation(ctx, &op)
}

func (fs *Filesystem) Mkdir(ctx context.Context, parentID, name string, mode uint32) (*store.DirEntity, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.getEntity(ctx, parentID)
	if err != nil {
		return nil, err
	}

	op := operation.MakeCreateDirectoryOp(parent, store.Now(), name, mode)
	return fs.performOperation(ctx, &op)
}

func (fs *Filesystem) Symlink(ctx context.Context, parentID, name, link string) (*store.DirEntity, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.getEntity(ctx, parentID)
	if err != nil {
		return nil, err
	}

	op := operation.MakeCreateSymlinkOp(parent, store.Now(), name, link)
	return fs.performOperation(ctx, &op)
}

// --- Remove ---

func (fs *Filesystem) Unlink(ctx context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	target, err := fs.getEntity(ctx, id)
	if err != nil {
		return err
	}

	op := operation.MakeRemoveFileOp(target, store.Now())
	_, err = fs.performOperation(ctx, &op)

	return err
}

func (fs *Filesystem) Rmdir(ctx context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	target, err := fs.getEntity(ctx, id)
	if err != nil {
		return err
	}

	op := operation.MakeRemoveDirectoryOp(target, store.Now())
	_, err = fs.performOperation(ctx, &op)

	return err
}

// --- Modify ---

func (fs *Filesystem) Rename(ctx context.Context, id, newParentID, newName string) (*store.DirEntity, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	target, err := fs.getEntity(ctx, id)
	if err != nil {
		return nil, err
	}

	op := operation.MakeRenameOp(target, store.Now(), newParentID, newName)
	return fs.performOperation(ctx, &op)
}

func (fs *Filesystem) SetAttributes(ctx context.Context, id string,
	attrs operation.SetAttributesOperation) (*store.DirEntity, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	target, err := fs.getEntity(ctx, id)
	if err != nil {
		return nil, err
	}

	op := operation.MakeSetAttributesOp(target, store.Now(), attrs)
	return fs.performOperation(ctx, &op)
}

// --- Open files, reads and writes ---

// Open fetches the file's content into the cache if needed and hands
// out a file handle. Online opens refresh the access time.
func (fs *Filesystem) Open(ctx context.Context, id string) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.ensureContent(ctx, id); err != nil {
		return 0, err
	}

	fh := fs.openFiles.open(id)

	if !fs.IsOffline() {
		target, err := fs.getEntity(ctx, id)
		if err == nil {
			now := store.Now()
			op := operation.MakeSetAttributesOp(target, now,
				operation.SetAttributesOperation{Atim: &now})
			if _, err := fs.performOperation(ctx, &op); err != nil {
				fs.ls.Debug(log_service.LogEvent{
					Message:  "Failed to refresh atime on open",
					Metadata: map[string]any{"id": id, "error": err.Error()},
				})
			}
		}
	}

	return fh, nil
}

// ensureContent makes the file's blobs locally complete, fetching the
// chunk list and any absent blobs from the server.
func (fs *Filesystem) ensureContent(ctx context.Context, id string) error {
	return fs.store.Update(ctx, func(tx *store.Tx) error {
		target, err := tx.DirEntity(id)
		if err != nil {
			return err
		}
		if !target.Stat.FileType.HasContent() {
			return nil
		}
		if target.IsRetrieved() && target.IsUpToDate() {
			return nil
		}

		if fs.IsOffline() {
			if target.Stat.Size == 0 {
				return tx.SetRetrievedVersion(id)
			}
			return fmt.Errorf("%s: %w", id, ErrOfflineUnavailable)
		}

		chunks, err := fs.remote.GetChunks(ctx, id)
		if err != nil {
			if isNetworkError(err) {
				fs.markNetworkDown()
				return fmt.Errorf("%s: %w", id, ErrOfflineUnavailable)
			}
			return err
		}

		missing, err := tx.MissingBlobs(chunks)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			blobs, err := fs.remote.GetBlobs(ctx, missing)
			if err != nil {
				if isNetworkError(err) {
					fs.markNetworkDown()
					return fmt.Errorf("%s: %w", id, ErrOfflineUnavailable)
				}
				return err
			}
			for _, blobID := range missing {
				content, ok := blobs[blobID]
				if !ok {
					return fmt.Errorf("server omitted blob %s: %w", blobID, store.ErrMissingBlob)
				}
				if _, err := tx.PutBlob(content); err != nil {
					return err
				}
			}
		}

		if err := tx.ReplaceChunkMap(id, chunks); err != nil {
			return err
		}

		return tx.SetRetrievedVersion(id)
	})
}

// Read serves bytes from the local cache. Buffered writes on the
// handle are flushed first so a process reads its own writes.
func (fs *Filesystem) Read(ctx context.Context, fh uint64, offset, length int64) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	file, ok := fs.openFiles.get(fh)
	if !ok {
		return nil, ErrInvalidHandle
	}

	if err := fs.flushHandle(ctx, file); err != nil {
		return nil, err
	}

	var data []byte
	err := fs.store.View(ctx, func(tx *store.Tx) error {
		target, err := tx.DirEntity(file.id)
		if err != nil {
			return err
		}

		data, err = fs.engine.ReadRange(tx, target, offset, length)
		return err
	})
	if err != nil {
		var missingErr *engine.MissingBlobsError
		if errors.As(err, &missingErr) {
			if fetchErr := fs.ensureContent(ctx, file.id); fetchErr != nil {
				return nil, fetchErr
			}
			err = fs.store.View(ctx, func(tx *store.Tx) error {
				target, err := tx.DirEntity(file.id)
				if err != nil {
					return err
				}
				data, err = fs.engine.ReadRange(tx, target, offset, length)
				return err
			})
		}
		if err != nil {
			return nil, err
		}
	}

	return data, nil
}

// ReadLink returns a symlink's target text.
func (fs *Filesystem) ReadLink(ctx context.Context, id string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.ensureContent(ctx, id); err != nil {
		return "", err
	}

	var link []byte
	err := fs.store.View(ctx, func(tx *store.Tx) error {
		target, err := tx.DirEntity(id)
		if err != nil {
			return err
		}
		if target.Stat.FileType != store.TypeSymlink {
			return fmt.Errorf("%s: %w", id, store.ErrInvalidOperation)
		}

		link, err = fs.engine.ReadRange(tx, target, 0, int64(target.Stat.Size))
		return err
	})
	if err != nil {
		return "", err
	}

	return string(link), nil
}

// Write buffers the bytes on the handle; the buffer drains into write
// operations when it fills, on Flush and on Release.
func (fs *Filesystem) Write(ctx context.Context, fh uint64, offset int64, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	file, ok := fs.openFiles.get(fh)
	if !ok {
		return ErrInvalidHandle
	}

	if file.buffer.add(offset, data) {
		return fs.flushHandle(ctx, file)
	}

	return nil
}

func (fs *Filesystem) Flush(ctx context.Context, fh uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	file, ok := fs.openFiles.get(fh)
	if !ok {
		return ErrInvalidHandle
	}

	return fs.flushHandle(ctx, file)
}

func (fs *Filesystem) Release(ctx context.Context, fh uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	file, ok := fs.openFiles.close(fh)
	if !ok {
		return ErrInvalidHandle
	}

	return fs.flushHandle(ctx, file)
}

func (fs *Filesystem) flushHandle(ctx context.Context, file *openFile) error {
	if file.buffer.empty() {
		return nil
	}

	for _, write := range file.buffer.flush() {
		target, err := fs.getEntity(ctx, file.id)
		if err != nil {
			return err
		}

		op := operation.MakeWriteOp(target, store.Now(), write.offset, write.data)
		if _, err := fs.performOperation(ctx, &op); err != nil {
			return err
		}
	}

	return nil
}
