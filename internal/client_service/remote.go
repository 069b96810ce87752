package client_service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/offs-project/offs/internal/communication"
	"github.com/offs-project/offs/internal/operation"
	"github.com/offs-project/offs/internal/store"
)

const defaultRequestTimeout = 30 * time.Second

// RemoteClient speaks the six server endpoints over a Communicator,
// translating in-band response codes back into core errors.
type RemoteClient struct {
	comm          communication.Communicator
	serverAddress string
	clientID      string
	timeout       time.Duration
}

func NewRemoteClient(comm communication.Communicator, serverAddress, clientID string) *RemoteClient {
	return &RemoteClient{
		comm:          comm,
		serverAddress: serverAddress,
		clientID:      clientID,
		timeout:       defaultRequestTimeout,
	}
}

func errorForCode(code communication.Code) error {
	switch code {
	case communication.CodeOK:
		return nil
	case communication.CodeNotFound:
		return store.ErrNotFound
	case communication.CodeAlreadyExists:
		return store.ErrAlreadyExists
	case communication.CodeNotEmpty:
		return store.ErrNotEmpty
	case communication.CodeNotADirectory:
		return store.ErrNotADirectory
	case communication.CodeIsADirectory:
		return store.ErrIsADirectory
	case communication.CodeInvalidName:
		return store.ErrInvalidName
	case communication.CodeVersionConflict:
		return store.ErrVersionConflict
	case communication.CodeMissingBlob:
		return store.ErrMissingBlob
	case communication.CodeInvalid:
		return store.ErrInvalidOperation
	default:
		return fmt.Errorf("server error (%s)", code)
	}
}

func (c *RemoteClient) send(ctx context.Context, msgType string, payload any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", communication.ErrPayloadMarshalFailed, err)
	}

	resp, err := c.comm.Send(ctx, c.serverAddress, communication.Message{
		From:    c.clientID,
		Type:    msgType,
		Payload: encoded,
	})
	if err != nil {
		return err
	}

	if err := errorForCode(resp.Code); err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	if err := json.Unmarshal(resp.Body, result); err != nil {
		return fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
	}

	return nil
}

func (c *RemoteClient) stream(ctx context.Context, msgType string, payload any, each func(body []byte) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", communication.ErrPayloadMarshalFailed, err)
	}

	return c.comm.SendStream(ctx, c.serverAddress, communication.Message{
		From:    c.clientID,
		Type:    msgType,
		Payload: encoded,
	}, func(resp *communication.Response) error {
		if err := errorForCode(resp.Code); err != nil {
			return err
		}
		return each(resp.Body)
	})
}

// ListFiles fetches the children of a directory, one per stream frame.
func (c *RemoteClient) ListFiles(ctx context.Context, dirID string) ([]*store.DirEntity, error) {
	var entities []*store.DirEntity
	err := c.stream(ctx, communication.MessageTypeList,
		communication.ListRequest{ID: dirID},
		func(body []byte) error {
			entity := &store.DirEntity{}
			if err := json.Unmarshal(body, entity); err != nil {
				return fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
			}
			entities = append(entities, entity)
			return nil
		})
	if err != nil {
		return nil, err
	}

	return entities, nil
}

// GetChunks fetches a file's blob ids in index order.
func (c *RemoteClient) GetChunks(ctx context.Context, id string) ([]string, error) {
	var resp communication.ListChunksResponse
	if err := c.send(ctx, communication.MessageTypeListChunks,
		communication.ListChunksRequest{ID: id}, &resp); err != nil {
		return nil, err
	}

	return resp.BlobIDs, nil
}

// GetBlobs fetches blob contents, one per stream frame. Blobs the
// server does not hold are omitted.
func (c *RemoteClient) GetBlobs(ctx context.Context, ids []string) (map[string][]byte, error) {
	blobs := make(map[string][]byte, len(ids))
	err := c.stream(ctx, communication.MessageTypeGetBlobs,
		communication.GetBlobsRequest{IDs: ids},
		func(body []byte) error {
			var blob communication.Blob
			if err := json.Unmarshal(body, &blob); err != nil {
				return fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
			}
			blobs[blob.ID] = blob.Content
			return nil
		})
	if err != nil {
		return nil, err
	}

	return blobs, nil
}

// GetMissingBlobs asks the server which of the given blobs it lacks.
func (c *RemoteClient) GetMissingBlobs(ctx context.Context, ids []string) ([]string, error) {
	var resp communication.GetMissingBlobsResponse
	if err := c.send(ctx, communication.MessageTypeGetMissingBlobs,
		communication.GetMissingBlobsRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}

	return resp.BlobIDs, nil
}

// ApplyOperation submits a single operation and returns the resulting
// authoritative entity (nil after removes).
func (c *RemoteClient) ApplyOperation(ctx context.Context, op *operation.ModifyOperation) (*store.DirEntity, error) {
	var resp communication.ApplyOperationResponse
	if err := c.send(ctx, communication.MessageTypeApplyOperation,
		communication.ApplyOperationRequest{Operation: *op}, &resp); err != nil {
		return nil, err
	}

	return resp.DirEntity, nil
}

// ApplyJournal submits a whole journal batch.
func (c *RemoteClient) ApplyJournal(ctx context.Context, req *communication.ApplyJournalRequest) (*communication.ApplyJournalResponse, error) {
	req.ClientID = c.clientID

	var resp communication.ApplyJournalResponse
	if err := c.send(ctx, communication.MessageTypeApplyJournal, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}
