package store

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// BlobID computes the content address of a byte sequence: the BLAKE3
// digest rendered as 64 hex characters.
func BlobID(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// PutBlob stores content under its hash and returns the id. Storing
// the same content twice is a no-op that returns the same id.
func (tx *Tx) PutBlob(content []byte) (string, error) {
	id := BlobID(content)

	err := sqlitex.Execute(tx.conn,
		`INSERT OR IGNORE INTO blob (id, content) VALUES (?, ?)`,
		&sqlitex.ExecOptions{Args: []any{id, content}})
	if err != nil {
		return "", fmt.Errorf("failed to put blob %s: %w", id, err)
	}

	return id, nil
}

// GetBlob returns a blob's content or ErrMissingBlob.
func (tx *Tx) GetBlob(id string) ([]byte, error) {
	var content []byte
	found := false
	err := sqlitex.Execute(tx.conn, `SELECT content FROM blob WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				content = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, content)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("blob %s: %w", id, ErrMissingBlob)
	}

	return content, nil
}

// GetBlobs returns the subset of the requested blobs that exist, keyed
// by id.
func (tx *Tx) GetBlobs(ids []string) (map[string][]byte, error) {
	blobs := make(map[string][]byte, len(ids))
	if len(ids) == 0 {
		return blobs, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	err := sqlitex.Execute(tx.conn,
		`SELECT id, content FROM blob WHERE id IN (`+placeholders(len(ids))+`)`,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				content := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, content)
				blobs[stmt.ColumnText(0)] = content
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get blobs: %w", err)
	}

	return blobs, nil
}

// HasBlob reports whether a blob is present.
func (tx *Tx) HasBlob(id string) (bool, error) {
	var exists bool
	err := sqlitex.Execute(tx.conn, `SELECT 1 FROM blob WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("failed to check blob %s: %w", id, err)
	}

	return exists, nil
}

// MissingBlobs returns, preserving request order, the ids that are not
// in the store. Duplicates are reported once.
func (tx *Tx) MissingBlobs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	present := make(map[string]bool, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	err := sqlitex.Execute(tx.conn,
		`SELECT id FROM blob WHERE id IN (`+placeholders(len(ids))+`)`,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				present[stmt.ColumnText(0)] = true
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to check blobs: %w", err)
	}

	var missing []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !present[id] && !seen[id] {
			missing = append(missing, id)
			seen[id] = true
		}
	}

	return missing, nil
}

// BlobSizes returns the byte length of each requested blob in request
// order, plus the ids that are absent.
func (tx *Tx) BlobSizes(ids []string) ([]int64, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	lengths := make(map[string]int64, len(ids))
	err := sqlitex.Execute(tx.conn,
		`SELECT id, LENGTH(content) FROM blob WHERE id IN (`+placeholders(len(ids))+`)`,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				lengths[stmt.ColumnText(0)] = stmt.ColumnInt64(1)
				return nil
			},
		})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get blob sizes: %w", err)
	}

	sizes := make([]int64, len(ids))
	var missing []string
	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		size, ok := lengths[id]
		if !ok {
			sizes[i] = -1
			if !seen[id] {
				missing = append(missing, id)
				seen[id] = true
			}
			continue
		}
		sizes[i] = size
	}

	return sizes, missing, nil
}

// CollectGarbageBlobs deletes every blob that neither a chunk row nor a
// journal chunk row references.
func (tx *Tx) CollectGarbageBlobs() error {
	err := sqlitex.Execute(tx.conn,
		`DELETE FROM blob WHERE id IN (
			SELECT blob.id FROM blob
			LEFT JOIN chunk ON blob.id = chunk.blob
			LEFT JOIN journal_chunk ON blob.id = journal_chunk.blob
			WHERE chunk.blob IS NULL AND journal_chunk.blob IS NULL
		)`, nil)
	if err != nil {
		return fmt.Errorf("failed to collect garbage blobs: %w", err)
	}

	return nil
}
