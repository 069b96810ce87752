package engine

import (
	"fmt"

	"github.com/offs-project/offs/internal/store"
)

// ConflictError reports that an operation's carried versions lag the
// stored ones: some other client got there first.
type ConflictError struct {
	TargetID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s", e.TargetID)
}

func (e *ConflictError) Unwrap() error {
	return store.ErrVersionConflict
}

// MissingBlobsError reports chunk blob ids an operation references
// that are not in the store.
type MissingBlobsError struct {
	BlobIDs []string
}

func (e *MissingBlobsError) Error() string {
	return fmt.Sprintf("%d referenced blobs are missing", len(e.BlobIDs))
}

func (e *MissingBlobsError) Unwrap() error {
	return store.ErrMissingBlob
}
