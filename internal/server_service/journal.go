package server_service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/offs-project/offs/internal/communication"
	"github.com/offs-project/offs/internal/engine"
	"github.com/offs-project/offs/internal/id_service"
	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/store"
)

// errJournalAbort rolls back the journal transaction while keeping the
// structured outcome for the in-band reply.
var errJournalAbort = errors.New("journal apply aborted")

func journalTokenKey(clientID string) string {
	return "journal:token:" + clientID
}

func journalResultKey(clientID string) string {
	return "journal:result:" + clientID
}

func (s *ServerService) handleApplyJournal(ctx context.Context, msg communication.Message) (*communication.Response, error) {
	var req communication.ApplyJournalRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
	}

	// A resubmission of an already committed journal (a retry after a
	// lost reply) must return the original result instead of
	// re-applying.
	if req.ClientID != "" {
		var cached *communication.ApplyJournalResponse
		err := s.store.View(ctx, func(tx *store.Tx) error {
			token, found, err := tx.GetKV(journalTokenKey(req.ClientID))
			if err != nil || !found {
				return err
			}
			if token != strconv.FormatUint(req.Token, 10) {
				return nil
			}

			result, found, err := tx.GetKV(journalResultKey(req.ClientID))
			if err != nil || !found {
				return err
			}

			cached = &communication.ApplyJournalResponse{}
			return json.Unmarshal([]byte(result), cached)
		})
		if err != nil {
			return respond(codeForError(err), nil)
		}
		if cached != nil {
			s.ls.Info(log_service.LogEvent{
				Message:  "Returning cached journal result for resubmission",
				Metadata: map[string]any{"client": req.ClientID, "token": req.Token},
			})
			return respond(communication.CodeOK, cached)
		}
	}

	result, err := s.applyJournal(ctx, &req)
	if err != nil {
		return respond(codeForError(err), nil)
	}

	s.ls.Info(log_service.LogEvent{
		Message: "Journal applied",
		Metadata: map[string]any{
			"client": req.ClientID, "ops": len(req.Operations), "result": result.Result,
		},
	})

	return respond(communication.CodeOK, result)
}

// applyJournal runs the whole batch in one transaction: ingest blobs,
// apply operations in order under deferred semantics, and commit only
// on full success. Conflicts and missing blobs are collected across
// the batch so the client learns about all of them at once.
func (s *ServerService) applyJournal(ctx context.Context, req *communication.ApplyJournalRequest) (*communication.ApplyJournalResponse, error) {
	resp := &communication.ApplyJournalResponse{}

	err := s.store.Update(ctx, func(tx *store.Tx) error {
		for _, content := range req.Blobs {
			if _, err := tx.PutBlob(content); err != nil {
				return err
			}
		}

		var (
			assigned     = make(map[string]string)
			assignedIDs  []string
			processedIDs []string
			conflictSet  = make(map[string]bool)
			conflictIDs  []string
			missingSet   = make(map[string]bool)
			missingIDs   []string
		)

		invalid := func(format string, args ...any) error {
			s.ls.Warn(log_service.LogEvent{
				Message:  "Invalid journal",
				Metadata: map[string]any{"client": req.ClientID, "reason": fmt.Sprintf(format, args...)},
			})
			resp.Result = communication.JournalResultInvalidJournal
			return errJournalAbort
		}
		conflict := func(id string) {
			if !conflictSet[id] {
				conflictSet[id] = true
				conflictIDs = append(conflictIDs, id)
			}
		}

		for i := range req.Operations {
			jop := &req.Operations[i]
			op := jop.Operation

			// Resolve provisional references against creates applied
			// earlier in this batch.
			if id_service.IsProvisional(op.ID) {
				mapped, ok := assigned[op.ID]
				if !ok {
					return invalid("operation %d references unknown provisional id %s", i, op.ID)
				}
				op.ID = mapped
			}
			if op.Rename != nil && id_service.IsProvisional(op.Rename.NewParent) {
				mapped, ok := assigned[op.Rename.NewParent]
				if !ok {
					return invalid("operation %d renames into unknown provisional id %s", i, op.Rename.NewParent)
				}
				renamePayload := *op.Rename
				renamePayload.NewParent = mapped
				op.Rename = &renamePayload
			}
			if op.IsCreate() {
				if !id_service.IsProvisional(op.ProvisionalID) {
					return invalid("create operation %d carries no provisional id", i)
				}
				if _, dup := assigned[op.ProvisionalID]; dup {
					return invalid("duplicate provisional id %s", op.ProvisionalID)
				}
			}

			newID, err := s.engine.Apply(tx, &op, engine.ModeDeferred, jop.Chunks)
			if err != nil {
				var conflictErr *engine.ConflictError
				var missingErr *engine.MissingBlobsError
				switch {
				case errors.As(err, &conflictErr):
					conflict(conflictErr.TargetID)
				case errors.As(err, &missingErr):
					for _, id := range missingErr.BlobIDs {
						if !missingSet[id] {
							missingSet[id] = true
							missingIDs = append(missingIDs, id)
						}
					}
				case errors.Is(err, store.ErrNotFound) && !op.IsCreate():
					// The target vanished server-side; treat the
					// removal as the final version change and let the
					// reconciler resolve it.
					conflict(op.ID)
				case errors.Is(err, store.ErrNotEmpty):
					conflict(op.ID)
				case errors.Is(err, store.ErrStorageCorruption):
					return err
				default:
					return invalid("operation %d (%s on %s) failed: %v", i, op.Type, op.ID, err)
				}
				continue
			}

			if op.IsCreate() {
				assigned[op.ProvisionalID] = newID
				assignedIDs = append(assignedIDs, newID)
			}
			processedIDs = append(processedIDs, newID)
		}

		if len(missingIDs) > 0 {
			resp.Result = communication.JournalResultMissingBlobs
			resp.MissingBlobIDs = missingIDs
			return errJournalAbort
		}
		if len(conflictIDs) > 0 {
			resp.Result = communication.JournalResultConflictingFiles
			resp.ConflictingIDs = conflictIDs
			return errJournalAbort
		}

		resp.Result = communication.JournalResultOK
		resp.AssignedIDs = assignedIDs
		for _, id := range processedIDs {
			entity, err := tx.TryDirEntity(id)
			if err != nil {
				return err
			}
			if entity != nil {
				resp.DirEntities = append(resp.DirEntities, entity)
			}
		}

		if req.ClientID != "" {
			encoded, err := json.Marshal(resp)
			if err != nil {
				return err
			}
			if err := tx.SetKV(journalTokenKey(req.ClientID), strconv.FormatUint(req.Token, 10)); err != nil {
				return err
			}
			if err := tx.SetKV(journalResultKey(req.ClientID), string(encoded)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil && !errors.Is(err, errJournalAbort) {
		return nil, err
	}

	return resp, nil
}
