package communication

import "errors"

var (
	// Server startup/shutdown errors
	ErrServerStartFailed = errors.New("failed to start server")
	ErrListenFailed      = errors.New("failed to listen on address")
	ErrHandlerNotSet     = errors.New("message handler not set")

	// Client connection errors
	ErrClientCreateFailed = errors.New("failed to create client")
	ErrMessageSendFailed  = errors.New("failed to send message")

	// NetworkUnavailable marks a transport-level failure: the caller
	// is (or should behave as if) offline.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// Serialization errors
	ErrPayloadMarshalFailed   = errors.New("failed to marshal payload")
	ErrPayloadUnmarshalFailed = errors.New("failed to unmarshal payload")
	ErrMalformedEnvelope      = errors.New("malformed wire envelope")

	// Streaming errors
	ErrStreamingUnsupported = errors.New("streaming not supported by this communicator")
)
