package client_service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/offs-project/offs/internal/communication"
)

// ControlHandler serves the administrative channel for one mount:
// toggling offline mode and reporting status.
type ControlHandler struct {
	fs *Filesystem
}

func NewControlHandler(fs *Filesystem) *ControlHandler {
	return &ControlHandler{fs: fs}
}

func (h *ControlHandler) HandleMessage(ctx context.Context, msg communication.Message) (*communication.Response, error) {
	switch msg.Type {
	case communication.MessageTypeOfflineMode:
		var req communication.OfflineModeRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
		}

		h.fs.SetOfflineMode(req.Enabled)
		return &communication.Response{Code: communication.CodeOK}, nil

	case communication.MessageTypeStatus:
		journalLen, err := h.fs.JournalLength(ctx)
		if err != nil {
			return &communication.Response{Code: communication.CodeInternal}, nil
		}

		body, err := json.Marshal(communication.StatusResponse{
			MountPoint: h.fs.MountPoint(),
			Offline:    h.fs.OfflineMode(),
			JournalLen: journalLen,
		})
		if err != nil {
			return nil, err
		}

		return &communication.Response{Code: communication.CodeOK, Body: body}, nil

	default:
		return &communication.Response{Code: communication.CodeInvalid}, nil
	}
}

func (h *ControlHandler) HandleStream(ctx context.Context, msg communication.Message, send func(*communication.Response) error) error {
	return communication.ErrStreamingUnsupported
}
