package communication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/offs-project/offs/internal/log_service"
)

// httpEnvelope is the JSON wrapper used on the administrative channel.
// The channel is local-only and request/response shaped, so plain HTTP
// with JSON framing is enough.
type httpEnvelope struct {
	From    string          `json:"from"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type httpReply struct {
	Code Code            `json:"code"`
	Body json.RawMessage `json:"body,omitempty"`
}

// HTTPCommunicator serves the administrative channel on a loopback
// address. Streaming message types are not supported here.
type HTTPCommunicator struct {
	listenAddress string
	handler       Handler
	httpServer    *http.Server
	ls            log_service.LogService

	clientLock sync.Mutex
	client     *http.Client
}

func NewHTTPCommunicator(listenAddress string, ls log_service.LogService) *HTTPCommunicator {
	return &HTTPCommunicator{
		listenAddress: listenAddress,
		ls:            ls,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPCommunicator) Address() string {
	return c.listenAddress
}

func (c *HTTPCommunicator) Start(handler Handler) error {
	c.handler = handler

	if c.listenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/message", c.handleHTTPMessage)

	c.httpServer = &http.Server{
		Addr:    c.listenAddress,
		Handler: mux,
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "Starting HTTP communicator",
		Metadata: map[string]any{"address": c.listenAddress},
	})

	go func() {
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.ls.Error(log_service.LogEvent{
				Message:  "HTTP server error",
				Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
			})
		}
	}()

	return nil
}

func (c *HTTPCommunicator) Stop() error {
	if c.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return c.httpServer.Shutdown(ctx)
}

func (c *HTTPCommunicator) handleHTTPMessage(w http.ResponseWriter, r *http.Request) {
	if c.handler == nil {
		http.Error(w, ErrHandlerNotSet.Error(), http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var envelope httpEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := c.handler.HandleMessage(r.Context(), Message{
		From:    envelope.From,
		Type:    envelope.Type,
		Payload: envelope.Payload,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(httpReply{Code: resp.Code, Body: resp.Body})
}

func (c *HTTPCommunicator) Send(ctx context.Context, to string, msg Message) (*Response, error) {
	envelope, err := json.Marshal(httpEnvelope{
		From:    msg.From,
		Type:    msg.Type,
		Payload: msg.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMarshalFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s/message", to), bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrMessageSendFailed, httpResp.StatusCode)
	}

	var reply httpReply
	if err := json.NewDecoder(httpResp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadUnmarshalFailed, err)
	}

	return &Response{Code: reply.Code, Body: reply.Body}, nil
}

func (c *HTTPCommunicator) SendStream(ctx context.Context, to string, msg Message, recv func(*Response) error) error {
	return ErrStreamingUnsupported
}
