package client_service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/offs-project/offs/internal/communication"
	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/operation"
	"github.com/offs-project/offs/internal/store"
)

// journalMaxRetries bounds the replay loop: each round either empties
// the journal or strictly shrinks the unresolved set, so hitting the
// bound means something is badly wrong.
const journalMaxRetries = 10

const submissionTokenKey = "journal:submission_token"

// ReplayJournal drains the journal against the server: it transfers
// blobs the server is missing, submits the batch, and interprets the
// outcome — rewriting provisional ids on success, invoking conflict
// resolution on version conflicts, and pruning entries whose blobs are
// lost. It loops until the journal is empty or a fatal outcome occurs.
func (fs *Filesystem) ReplayJournal(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for attempt := 0; attempt < journalMaxRetries; attempt++ {
		done, err := fs.tryReplayJournal(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	return ErrJournalReplayFailed
}

func (fs *Filesystem) tryReplayJournal(ctx context.Context) (bool, error) {
	done := false
	err := fs.store.Update(ctx, func(tx *store.Tx) error {
		entries, err := tx.Journal()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			done = true
			return nil
		}

		ops := make([]communication.JournalOp, 0, len(entries))
		var blobPlan []string
		planSeen := make(map[string]bool)
		for _, entry := range entries {
			op, err := operation.Decode(entry.Operation)
			if err != nil {
				return fmt.Errorf("%w: %v", store.ErrJournalCorruption, err)
			}
			ops = append(ops, communication.JournalOp{Operation: *op, Chunks: entry.Chunks})

			for _, blobID := range entry.Chunks {
				if !planSeen[blobID] {
					planSeen[blobID] = true
					blobPlan = append(blobPlan, blobID)
				}
			}
		}

		toSend, err := fs.remote.GetMissingBlobs(ctx, blobPlan)
		if err != nil {
			return err
		}

		blobs, err := tx.GetBlobs(toSend)
		if err != nil {
			return err
		}

		var lost []string
		rawBlobs := make([][]byte, 0, len(toSend))
		for _, blobID := range toSend {
			content, ok := blobs[blobID]
			if !ok {
				lost = append(lost, blobID)
				continue
			}
			rawBlobs = append(rawBlobs, content)
		}
		if len(lost) > 0 {
			// The blobs exist nowhere: local data loss. Drop the
			// affected files' entries and surface loudly.
			return fs.pruneLostEntries(tx, entries, lost)
		}

		token := fs.submissionToken(tx)
		resp, err := fs.remote.ApplyJournal(ctx, &communication.ApplyJournalRequest{
			Token:      token,
			Operations: ops,
			Blobs:      rawBlobs,
		})
		if err != nil {
			return err
		}

		switch resp.Result {
		case communication.JournalResultOK:
			if err := fs.commitReplay(tx, ops, resp); err != nil {
				return err
			}
			if err := tx.SetKV(submissionTokenKey, strconv.FormatUint(token+1, 10)); err != nil {
				return err
			}
			done = true
			return nil

		case communication.JournalResultConflictingFiles:
			fs.ls.Warn(log_service.LogEvent{
				Message:  "Journal conflicts, resolving",
				Metadata: map[string]any{"ids": resp.ConflictingIDs, "policy": string(fs.policy)},
			})
			return fs.resolveConflicts(tx, resp.ConflictingIDs)

		case communication.JournalResultMissingBlobs:
			return fs.pruneLostEntries(tx, entries, resp.MissingBlobIDs)

		case communication.JournalResultInvalidJournal:
			return fmt.Errorf("server rejected the journal: %w", store.ErrJournalCorruption)

		default:
			return fmt.Errorf("unknown journal result %q", resp.Result)
		}
	})

	return done, err
}

func (fs *Filesystem) submissionToken(tx *store.Tx) uint64 {
	value, found, err := tx.GetKV(submissionTokenKey)
	if err != nil || !found {
		return 1
	}

	token, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 1
	}

	return token
}

// commitReplay installs the server's verdict: provisional ids become
// assigned ids, authoritative entities replace local guesses, and the
// journal empties.
func (fs *Filesystem) commitReplay(tx *store.Tx, ops []communication.JournalOp,
	resp *communication.ApplyJournalResponse) error {
	createIdx := 0
	for i := range ops {
		op := &ops[i].Operation
		if !op.IsCreate() {
			continue
		}
		if createIdx >= len(resp.AssignedIDs) {
			return fmt.Errorf("server returned %d assigned ids for more creates: %w",
				len(resp.AssignedIDs), store.ErrJournalCorruption)
		}

		assigned := resp.AssignedIDs[createIdx]
		createIdx++

		if op.ProvisionalID != assigned {
			if err := tx.ChangeID(op.ProvisionalID, assigned); err != nil {
				return err
			}
			fs.inodes.rename(op.ProvisionalID, assigned)
			fs.openFiles.renameID(op.ProvisionalID, assigned)
		}
	}

	for _, entity := range resp.DirEntities {
		if err := fs.addDirent(tx, entity); err != nil {
			return err
		}

		if !entity.Stat.FileType.HasContent() {
			continue
		}
		chunks, err := tx.Chunks(entity.ID)
		if err != nil {
			return err
		}
		missing, err := tx.MissingBlobs(chunks)
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			if err := tx.SetRetrievedVersion(entity.ID); err != nil {
				return err
			}
		}
	}

	if err := tx.ClearJournal(); err != nil {
		return err
	}
	fs.gen.ResetGenerator()

	fs.ls.Info(log_service.LogEvent{
		Message:  "Journal replayed",
		Metadata: map[string]any{"assignedIds": len(resp.AssignedIDs)},
	})

	return nil
}

// pruneLostEntries handles blobs that are neither on the server nor in
// the local store: the files referencing them cannot be replayed, so
// their entries are dropped and the loss is surfaced.
func (fs *Filesystem) pruneLostEntries(tx *store.Tx, entries []store.JournalEntry, lostBlobs []string) error {
	lost := make(map[string]bool, len(lostBlobs))
	for _, blobID := range lostBlobs {
		lost[blobID] = true
	}

	affected := make(map[string]bool)
	for _, entry := range entries {
		for _, blobID := range entry.Chunks {
			if lost[blobID] {
				affected[entry.FileID] = true
				break
			}
		}
	}

	if len(affected) == 0 {
		return fmt.Errorf("missing blobs do not match any journal entry: %w", store.ErrJournalCorruption)
	}

	for fileID := range affected {
		fs.ls.Error(log_service.LogEvent{
			Message:  "Dropping journaled changes: content blobs are lost",
			Metadata: map[string]any{"file": fileID},
		})
		if err := tx.RemoveFileFromJournal(fileID); err != nil {
			return err
		}
	}

	return nil
}

// resolveConflicts applies the configured policy to every conflicting
// target, then the replay loop resubmits what remains.
func (fs *Filesystem) resolveConflicts(tx *store.Tx, ids []string) error {
	for _, id := range ids {
		switch fs.policy {
		case PolicyServerWins:
			if err := fs.resolveServerWins(tx, id); err != nil {
				return err
			}
		default:
			if err := fs.resolveRecreateLocal(tx, id); err != nil {
				return err
			}
		}
	}

	// Entries whose file vanished during resolution are unreplayable.
	entries, err := tx.Journal()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		exists, err := tx.Exists(entry.FileID)
		if err != nil {
			return err
		}
		if !exists {
			if err := tx.RemoveJournalEntry(entry.Seq); err != nil {
				return err
			}
		}
	}

	return nil
}

// resolveRecreateLocal moves the local copy aside under a fresh
// provisional id and re-journals it as a creation; the server's copy
// keeps the original id and the recreated one surfaces as a conflicted
// copy.
func (fs *Filesystem) resolveRecreateLocal(tx *store.Tx, id string) error {
	if err := tx.RemoveFileFromJournal(id); err != nil {
		return err
	}

	target, err := tx.TryDirEntity(id)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}

	newID := fs.gen.GenerateID()
	if err := tx.ChangeID(id, newID); err != nil {
		return err
	}
	fs.inodes.rename(id, newID)
	fs.openFiles.renameID(id, newID)

	parent, err := tx.DirEntity(target.Parent)
	if err != nil {
		return err
	}

	now := store.Now()
	recreate := operation.MakeRecreateFileOp(parent, target, now)
	recreate.ProvisionalID = newID

	var chunks []string
	if target.Stat.FileType.HasContent() {
		if chunks, err = tx.Chunks(newID); err != nil {
			return err
		}
	}

	encoded, err := operation.Encode(&recreate)
	if err != nil {
		return err
	}
	if _, err := tx.AppendJournal(newID, encoded, now, chunks); err != nil {
		return err
	}

	// The recreated entity starts at version (1, 1) on the server;
	// the attribute reset must carry that view.
	reset := *target
	reset.ID = newID
	reset.DirentVersion = 1
	reset.ContentVersion = 1
	resetOp := operation.MakeResetAttributesOp(&reset, now)

	encoded, err = operation.Encode(&resetOp)
	if err != nil {
		return err
	}
	if _, err := tx.AppendJournal(newID, encoded, now, nil); err != nil {
		return err
	}

	return nil
}

// resolveServerWins discards the local copy and every pending
// operation on it; the server's state is refetched on next access.
func (fs *Filesystem) resolveServerWins(tx *store.Tx, id string) error {
	if err := tx.RemoveFileFromJournal(id); err != nil {
		return err
	}

	exists, err := tx.Exists(id)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	return tx.RemoveDirEntity(id)
}
