package server_service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/offs-project/offs/internal/chunker"
	"github.com/offs-project/offs/internal/communication"
	"github.com/offs-project/offs/internal/engine"
	"github.com/offs-project/offs/internal/id_service"
	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/store"
)

// ServerService hosts the authoritative directory tree and blob store
// and answers the six remote endpoints over a Communicator.
type ServerService struct {
	comm   communication.Communicator
	store  *store.Store
	engine *engine.Engine
	ls     log_service.LogService
}

func NewServerService(comm communication.Communicator, st *store.Store,
	c chunker.Chunker, ls log_service.LogService) *ServerService {
	return &ServerService{
		comm:   comm,
		store:  st,
		engine: engine.New(id_service.NewRandomHexIdGenerator(), c, ls),
		ls:     ls,
	}
}

func (s *ServerService) Start() error {
	if err := s.comm.Start(s); err != nil {
		return err
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "Server started",
		Metadata: map[string]any{"address": s.comm.Address()},
	})

	return nil
}

func (s *ServerService) Stop() error {
	if err := s.comm.Stop(); err != nil {
		return err
	}

	return s.store.Close()
}

// HandleMessage dispatches the request/response endpoints.
func (s *ServerService) HandleMessage(ctx context.Context, msg communication.Message) (*communication.Response, error) {
	switch msg.Type {
	case communication.MessageTypeListChunks:
		return s.handleListChunks(ctx, msg.Payload)
	case communication.MessageTypeGetMissingBlobs:
		return s.handleGetMissingBlobs(ctx, msg.Payload)
	case communication.MessageTypeApplyOperation:
		return s.handleApplyOperation(ctx, msg.Payload)
	case communication.MessageTypeApplyJournal:
		return s.handleApplyJournal(ctx, msg)
	default:
		return &communication.Response{Code: communication.CodeInvalid}, nil
	}
}

// HandleStream dispatches the streaming endpoints.
func (s *ServerService) HandleStream(ctx context.Context, msg communication.Message, send func(*communication.Response) error) error {
	switch msg.Type {
	case communication.MessageTypeList:
		return s.handleList(ctx, msg.Payload, send)
	case communication.MessageTypeGetBlobs:
		return s.handleGetBlobs(ctx, msg.Payload, send)
	default:
		return send(&communication.Response{Code: communication.CodeInvalid})
	}
}

// codeForError maps core error kinds onto in-band response codes.
func codeForError(err error) communication.Code {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return communication.CodeNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return communication.CodeAlreadyExists
	case errors.Is(err, store.ErrNotEmpty):
		return communication.CodeNotEmpty
	case errors.Is(err, store.ErrNotADirectory):
		return communication.CodeNotADirectory
	case errors.Is(err, store.ErrIsADirectory):
		return communication.CodeIsADirectory
	case errors.Is(err, store.ErrInvalidName):
		return communication.CodeInvalidName
	case errors.Is(err, store.ErrVersionConflict):
		return communication.CodeVersionConflict
	case errors.Is(err, store.ErrMissingBlob):
		return communication.CodeMissingBlob
	case errors.Is(err, store.ErrInvalidOperation):
		return communication.CodeInvalid
	default:
		return communication.CodeInternal
	}
}

func respond(code communication.Code, body any) (*communication.Response, error) {
	if body == nil {
		return &communication.Response{Code: code}, nil
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", communication.ErrPayloadMarshalFailed, err)
	}

	return &communication.Response{Code: code, Body: encoded}, nil
}
