package store

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// JournalEntry is one pending operation on a client store. Operation
// holds the encoded ModifyOperation; Chunks holds the file's chunk map
// as the operation left it (creates and writes only).
type JournalEntry struct {
	Seq       int64
	FileID    string
	Operation []byte
	CreatedAt Timespec
	Chunks    []string
}

// AppendJournal records a pending operation, together with the chunk
// map the operation left behind, and returns its sequence number.
func (tx *Tx) AppendJournal(fileID string, operation []byte, createdAt Timespec, chunks []string) (int64, error) {
	err := sqlitex.Execute(tx.conn,
		`INSERT INTO journal (file, operation, created_at) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{fileID, operation, createdAt.Sec}})
	if err != nil {
		return 0, fmt.Errorf("failed to append journal entry for %s: %w", fileID, err)
	}

	seq := tx.conn.LastInsertRowID()
	for i, blobID := range chunks {
		err := sqlitex.Execute(tx.conn,
			`INSERT INTO journal_chunk (seq, blob, "index") VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{seq, blobID, int64(i)}})
		if err != nil {
			return 0, fmt.Errorf("failed to record journal chunk %d for %s: %w", i, fileID, err)
		}
	}

	return seq, nil
}

// Journal returns all pending entries in append order.
func (tx *Tx) Journal() ([]JournalEntry, error) {
	var entries []JournalEntry
	err := sqlitex.Execute(tx.conn,
		`SELECT seq, file, operation, created_at FROM journal ORDER BY seq`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				operation := make([]byte, stmt.ColumnLen(2))
				stmt.ColumnBytes(2, operation)
				entries = append(entries, JournalEntry{
					Seq:       stmt.ColumnInt64(0),
					FileID:    stmt.ColumnText(1),
					Operation: operation,
					CreatedAt: NewTimespec(stmt.ColumnInt64(3), 0),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	for i := range entries {
		chunks, err := tx.journalChunks(entries[i].Seq)
		if err != nil {
			return nil, err
		}
		entries[i].Chunks = chunks
	}

	return entries, nil
}

func (tx *Tx) journalChunks(seq int64) ([]string, error) {
	var blobs []string
	err := sqlitex.Execute(tx.conn,
		`SELECT blob FROM journal_chunk WHERE seq = ? ORDER BY "index"`,
		&sqlitex.ExecOptions{
			Args: []any{seq},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blobs = append(blobs, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to read journal chunks of %d: %w", seq, err)
	}

	return blobs, nil
}

// JournalLen reports the number of pending entries.
func (tx *Tx) JournalLen() (int, error) {
	var n int
	err := sqlitex.Execute(tx.conn, `SELECT COUNT(*) FROM journal`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("failed to count journal: %w", err)
	}

	return n, nil
}

// RemoveJournalEntry drops a single entry by sequence number.
func (tx *Tx) RemoveJournalEntry(seq int64) error {
	err := sqlitex.Execute(tx.conn, `DELETE FROM journal WHERE seq = ?`,
		&sqlitex.ExecOptions{Args: []any{seq}})
	if err != nil {
		return fmt.Errorf("failed to remove journal entry %d: %w", seq, err)
	}

	return nil
}

// RemoveFileFromJournal drops every pending entry touching the file.
func (tx *Tx) RemoveFileFromJournal(fileID string) error {
	err := sqlitex.Execute(tx.conn, `DELETE FROM journal WHERE file = ?`,
		&sqlitex.ExecOptions{Args: []any{fileID}})
	if err != nil {
		return fmt.Errorf("failed to remove %s from journal: %w", fileID, err)
	}

	return nil
}

// ClearJournal drops every pending entry.
func (tx *Tx) ClearJournal() error {
	if err := sqlitex.Execute(tx.conn, `DELETE FROM journal`, nil); err != nil {
		return fmt.Errorf("failed to clear journal: %w", err)
	}

	return nil
}

// GetKV reads a key from the kv table.
func (tx *Tx) GetKV(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := sqlitex.Execute(tx.conn, `SELECT value FROM kv WHERE key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return "", false, fmt.Errorf("failed to read kv %s: %w", key, err)
	}

	return value, found, nil
}

// SetKV writes a key to the kv table.
func (tx *Tx) SetKV(key, value string) error {
	err := sqlitex.Execute(tx.conn,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return fmt.Errorf("failed to write kv %s: %w", key, err)
	}

	return nil
}
