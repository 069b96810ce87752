package communication

import (
	"github.com/offs-project/offs/internal/operation"
	"github.com/offs-project/offs/internal/store"
)

// Message type constants. List and GetBlobs are streaming: the server
// emits one entity per frame.
const (
	MessageTypeList            = "list"
	MessageTypeListChunks      = "list_chunks"
	MessageTypeGetBlobs        = "get_blobs"
	MessageTypeGetMissingBlobs = "get_missing_blobs"
	MessageTypeApplyOperation  = "apply_operation"
	MessageTypeApplyJournal    = "apply_journal"

	// Administrative channel (local HTTP)
	MessageTypeOfflineMode = "offline_mode"
	MessageTypeStatus      = "status"
)

// --- Payload structs ---

type ListRequest struct {
	ID string `json:"id"`
}

// List streams one DirEntity per frame.

type ListChunksRequest struct {
	ID string `json:"id"`
}

type ListChunksResponse struct {
	BlobIDs []string `json:"blobIds"`
}

type GetBlobsRequest struct {
	IDs []string `json:"ids"`
}

// GetBlobs streams one Blob per frame; absent ids are silently
// omitted.
type Blob struct {
	ID      string `json:"id"`
	Content []byte `json:"content"`
}

type GetMissingBlobsRequest struct {
	IDs []string `json:"ids"`
}

type GetMissingBlobsResponse struct {
	BlobIDs []string `json:"blobIds"`
}

type ApplyOperationRequest struct {
	Operation operation.ModifyOperation `json:"operation"`
}

type ApplyOperationResponse struct {
	DirEntity *store.DirEntity `json:"dirEntity"`
}

// JournalOp pairs an operation with the chunk map it left behind.
// Chunks is only populated for creates and writes.
type JournalOp struct {
	Operation operation.ModifyOperation `json:"operation"`
	Chunks    []string                  `json:"chunks,omitempty"`
}

type ApplyJournalRequest struct {
	// ClientID and Token make resubmission after a timeout idempotent:
	// the server caches the last result per client.
	ClientID string `json:"clientId"`
	Token    uint64 `json:"token"`

	Operations []JournalOp `json:"operations"`
	Blobs      [][]byte    `json:"blobs,omitempty"`
}

// Journal outcomes, carried in-band as a tagged result.
const (
	JournalResultOK               = "ok"
	JournalResultConflictingFiles = "conflicting_files"
	JournalResultMissingBlobs     = "missing_blobs"
	JournalResultInvalidJournal   = "invalid_journal"
)

type ApplyJournalResponse struct {
	Result string `json:"result"`

	// Success payload
	AssignedIDs []string           `json:"assignedIds,omitempty"`
	DirEntities []*store.DirEntity `json:"dirEntities,omitempty"`

	// Failure payloads
	ConflictingIDs []string `json:"conflictingIds,omitempty"`
	MissingBlobIDs []string `json:"missingBlobIds,omitempty"`
}

// --- Administrative channel payloads ---

type OfflineModeRequest struct {
	Enabled bool `json:"enabled"`
}

type StatusResponse struct {
	MountPoint string `json:"mountPoint"`
	Offline    bool   `json:"offline"`
	JournalLen int    `json:"journalLen"`
}
