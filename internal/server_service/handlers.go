package server_service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/offs-project/offs/internal/communication"
	"github.com/offs-project/offs/internal/engine"
	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/store"
)

func (s *ServerService) handleList(ctx context.Context, payload []byte, send func(*communication.Response) error) error {
	var req communication.ListRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
	}

	var entities []*store.DirEntity
	err := s.store.View(ctx, func(tx *store.Tx) error {
		parent, err := tx.DirEntity(req.ID)
		if err != nil {
			return err
		}
		if parent.Stat.FileType != store.TypeDirectory {
			return fmt.Errorf("%s: %w", parent.ID, store.ErrNotADirectory)
		}

		entities, err = tx.List(req.ID)
		return err
	})
	if err != nil {
		return send(&communication.Response{Code: codeForError(err)})
	}

	for _, entity := range entities {
		resp, err := respond(communication.CodeOK, entity)
		if err != nil {
			return err
		}
		if err := send(resp); err != nil {
			return err
		}
	}

	return nil
}

func (s *ServerService) handleListChunks(ctx context.Context, payload []byte) (*communication.Response, error) {
	var req communication.ListChunksRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
	}

	var blobIDs []string
	err := s.store.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.DirEntity(req.ID); err != nil {
			return err
		}

		var err error
		blobIDs, err = tx.Chunks(req.ID)
		return err
	})
	if err != nil {
		return respond(codeForError(err), nil)
	}

	return respond(communication.CodeOK, communication.ListChunksResponse{BlobIDs: blobIDs})
}

func (s *ServerService) handleGetBlobs(ctx context.Context, payload []byte, send func(*communication.Response) error) error {
	var req communication.GetBlobsRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
	}

	// Present blobs stream one per frame; missing ids are silently
	// omitted (callers probe with get_missing_blobs first).
	var blobs map[string][]byte
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		blobs, err = tx.GetBlobs(req.IDs)
		return err
	})
	if err != nil {
		return send(&communication.Response{Code: codeForError(err)})
	}

	for _, id := range req.IDs {
		content, ok := blobs[id]
		if !ok {
			continue
		}

		resp, err := respond(communication.CodeOK, communication.Blob{ID: id, Content: content})
		if err != nil {
			return err
		}
		if err := send(resp); err != nil {
			return err
		}
	}

	return nil
}

func (s *ServerService) handleGetMissingBlobs(ctx context.Context, payload []byte) (*communication.Response, error) {
	var req communication.GetMissingBlobsRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
	}

	var missing []string
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		missing, err = tx.MissingBlobs(req.IDs)
		return err
	})
	if err != nil {
		return respond(codeForError(err), nil)
	}

	return respond(communication.CodeOK, communication.GetMissingBlobsResponse{BlobIDs: missing})
}

func (s *ServerService) handleApplyOperation(ctx context.Context, payload []byte) (*communication.Response, error) {
	var req communication.ApplyOperationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
	}

	var result *store.DirEntity
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		newID, err := s.engine.Apply(tx, &req.Operation, engine.ModeStrict, nil)
		if err != nil {
			return err
		}

		result, err = tx.TryDirEntity(newID)
		return err
	})
	if err != nil {
		s.ls.Debug(log_service.LogEvent{
			Message: "Operation rejected",
			Metadata: map[string]any{
				"type": req.Operation.Type.String(), "target": req.Operation.ID,
				"error": err.Error(),
			},
		})
		return respond(codeForError(err), nil)
	}

	return respond(communication.CodeOK, communication.ApplyOperationResponse{DirEntity: result})
}
