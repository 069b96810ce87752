package communication

import "context"

// Message is the wire envelope: a sender identity, a message type tag
// and an opaque payload (JSON-encoded request struct).
type Message struct {
	From    string
	Type    string
	Payload []byte
}

// Code classifies a response in-band; protocol outcomes are data, not
// transport errors.
type Code string

const (
	CodeOK              Code = "ok"
	CodeNotFound        Code = "not_found"
	CodeAlreadyExists   Code = "already_exists"
	CodeNotEmpty        Code = "not_empty"
	CodeNotADirectory   Code = "not_a_directory"
	CodeIsADirectory    Code = "is_a_directory"
	CodeInvalidName     Code = "invalid_name"
	CodeVersionConflict Code = "version_conflict"
	CodeMissingBlob     Code = "missing_blob"
	CodeInvalid         Code = "invalid_operation"
	CodeInternal        Code = "internal_error"
)

// Response carries a code and an opaque body (JSON-encoded response
// struct). Streaming endpoints emit one Response per entity.
type Response struct {
	Code Code
	Body []byte
}

// Handler receives inbound messages. Streaming message types go to
// HandleStream, which pushes one Response per frame through send and
// closes the stream by returning.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) (*Response, error)
	HandleStream(ctx context.Context, msg Message, send func(*Response) error) error
}

// Communicator moves envelopes between processes. Implementations
// frame them over gRPC (server endpoints) or local HTTP (the
// administrative channel).
type Communicator interface {
	Start(handler Handler) error
	Stop() error
	Address() string

	Send(ctx context.Context, to string, msg Message) (*Response, error)
	SendStream(ctx context.Context, to string, msg Message, recv func(*Response) error) error
}
