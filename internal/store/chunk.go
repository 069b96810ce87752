package store

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Chunks returns a file's blob ids in index order.
func (tx *Tx) Chunks(id string) ([]string, error) {
	var blobs []string
	err := sqlitex.Execute(tx.conn,
		`SELECT blob FROM chunk WHERE file = ? ORDER BY "index"`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blobs = append(blobs, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks of %s: %w", id, err)
	}

	return blobs, nil
}

// ChunkSizes returns the byte length of each chunk of a file in index
// order. A chunk whose blob is absent (possible on a client that has
// only fetched metadata) is reported with size -1.
func (tx *Tx) ChunkSizes(id string) ([]string, []int64, error) {
	var (
		blobs []string
		sizes []int64
	)
	err := sqlitex.Execute(tx.conn,
		`SELECT c.blob, COALESCE(LENGTH(b.content), -1)
		 FROM chunk c LEFT JOIN blob b ON c.blob = b.id
		 WHERE c.file = ? ORDER BY c."index"`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blobs = append(blobs, stmt.ColumnText(0))
				sizes = append(sizes, stmt.ColumnInt64(1))
				return nil
			},
		})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get chunk sizes of %s: %w", id, err)
	}

	return blobs, sizes, nil
}

// ReplaceChunkMap atomically rewrites a file's chunk map to the given
// blob sequence.
func (tx *Tx) ReplaceChunkMap(id string, blobIDs []string) error {
	err := sqlitex.Execute(tx.conn, `DELETE FROM chunk WHERE file = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("failed to clear chunk map of %s: %w", id, err)
	}

	for i, blobID := range blobIDs {
		err := sqlitex.Execute(tx.conn,
			`INSERT INTO chunk (file, blob, "index") VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{id, blobID, int64(i)}})
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d of %s: %w", i, id, err)
		}
	}

	return nil
}

// ClearChunkMap removes every chunk row of a file.
func (tx *Tx) ClearChunkMap(id string) error {
	return tx.ReplaceChunkMap(id, nil)
}
