package store

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/offs-project/offs/internal/id_service"
)

const direntColumns = `id, parent, name, dirent_version, content_version, retrieved_version,
	file_type, mode, dev, uid, gid, size, atim, atimns, mtim, mtimns, ctim, ctimns`

func scanDirEntity(stmt *sqlite.Stmt) *DirEntity {
	d := &DirEntity{
		ID:               stmt.ColumnText(0),
		Name:             stmt.ColumnText(2),
		DirentVersion:    stmt.ColumnInt64(3),
		ContentVersion:   stmt.ColumnInt64(4),
		RetrievedVersion: stmt.ColumnInt64(5),
		Stat: FileStat{
			FileType: FileType(stmt.ColumnInt64(6)),
			Mode:     uint32(stmt.ColumnInt64(7)),
			Dev:      uint32(stmt.ColumnInt64(8)),
			Nlink:    1,
			UID:      uint32(stmt.ColumnInt64(9)),
			GID:      uint32(stmt.ColumnInt64(10)),
			Size:     uint64(stmt.ColumnInt64(11)),
			Atim:     NewTimespec(stmt.ColumnInt64(12), int32(stmt.ColumnInt64(13))),
			Mtim:     NewTimespec(stmt.ColumnInt64(14), int32(stmt.ColumnInt64(15))),
			Ctim:     NewTimespec(stmt.ColumnInt64(16), int32(stmt.ColumnInt64(17))),
		},
	}

	if stmt.ColumnType(1) != sqlite.TypeNull {
		d.Parent = stmt.ColumnText(1)
	}
	d.Stat.Blocks = (d.Stat.Size + 511) / 512

	return d
}

// TryDirEntity returns the dirent with the given id, or nil when it
// does not exist.
func (tx *Tx) TryDirEntity(id string) (*DirEntity, error) {
	var found *DirEntity
	err := sqlitex.Execute(tx.conn,
		`SELECT `+direntColumns+` FROM file WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = scanDirEntity(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to query file id=%s: %w", id, err)
	}

	return found, nil
}

// DirEntity returns the dirent with the given id or ErrNotFound.
func (tx *Tx) DirEntity(id string) (*DirEntity, error) {
	d, err := tx.TryDirEntity(id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("id=%s: %w", id, ErrNotFound)
	}

	return d, nil
}

// LookupName resolves a child by name under a parent, or ErrNotFound.
func (tx *Tx) LookupName(parentID, name string) (*DirEntity, error) {
	var found *DirEntity
	err := sqlitex.Execute(tx.conn,
		`SELECT `+direntColumns+` FROM file WHERE parent = ? AND name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{parentID, name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = scanDirEntity(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to query file parent=%s name=%s: %w", parentID, name, err)
	}
	if found == nil {
		return nil, fmt.Errorf("parent=%s name=%s: %w", parentID, name, ErrNotFound)
	}

	return found, nil
}

func (tx *Tx) Exists(id string) (bool, error) {
	var exists bool
	err := sqlitex.Execute(tx.conn, `SELECT 1 FROM file WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("failed to check existence of id=%s: %w", id, err)
	}

	return exists, nil
}

func (tx *Tx) ExistsByName(parentID, name string) (bool, error) {
	var exists bool
	err := sqlitex.Execute(tx.conn, `SELECT 1 FROM file WHERE parent = ? AND name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{parentID, name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("failed to check existence of parent=%s name=%s: %w", parentID, name, err)
	}

	return exists, nil
}

// ChildExists reports whether any dirent lists id as its parent.
func (tx *Tx) ChildExists(id string) (bool, error) {
	var exists bool
	err := sqlitex.Execute(tx.conn, `SELECT 1 FROM file WHERE parent = ? LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("failed to check children of id=%s: %w", id, err)
	}

	return exists, nil
}

// List returns the children of a directory ordered by name. The root
// never lists itself.
func (tx *Tx) List(parentID string) ([]*DirEntity, error) {
	var entities []*DirEntity
	err := sqlitex.Execute(tx.conn,
		`SELECT `+direntColumns+` FROM file WHERE parent = ? ORDER BY name`,
		&sqlitex.ExecOptions{
			Args: []any{parentID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entities = append(entities, scanDirEntity(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list parent=%s: %w", parentID, err)
	}

	return entities, nil
}

// IsDescendant reports whether candidate is a (transitive) descendant
// of ancestor. An entity is not its own descendant.
func (tx *Tx) IsDescendant(candidateID, ancestorID string) (bool, error) {
	current := candidateID
	for current != "" && current != id_service.RootParent {
		d, err := tx.TryDirEntity(current)
		if err != nil {
			return false, err
		}
		if d == nil {
			return false, nil
		}
		if d.Parent == ancestorID {
			return true, nil
		}
		current = d.Parent
	}

	return false, nil
}

// CreateDirEntity inserts a fresh dirent with versions (1, 1), an
// empty chunk map and zero size. The caller supplies the id.
func (tx *Tx) CreateDirEntity(id, parentID, name string, fileType FileType,
	mode uint32, dev uint32, timestamp Timespec) error {
	parent := any(parentID)
	if id == id_service.RootID {
		parent = nil
	}

	err := sqlitex.Execute(tx.conn,
		`INSERT INTO file (id, parent, name, dirent_version, content_version,
			file_type, mode, dev, size, atim, atimns, mtim, mtimns, ctim, ctimns)
		 VALUES (?, ?, ?, 1, 1, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				id, parent, name, int64(fileType), int64(mode), int64(dev),
				timestamp.Sec, int64(timestamp.Nsec),
				timestamp.Sec, int64(timestamp.Nsec),
				timestamp.Sec, int64(timestamp.Nsec),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to create dirent %s under %s: %w", name, parentID, err)
	}

	return nil
}

// PutDirEntity inserts or fully overwrites a dirent with authoritative
// state received from the server. Versions are taken as-is.
func (tx *Tx) PutDirEntity(d *DirEntity) error {
	parent := any(d.Parent)
	if d.ID == id_service.RootID {
		parent = nil
	}

	err := sqlitex.Execute(tx.conn,
		`INSERT INTO file (id, parent, name, dirent_version, content_version,
			file_type, mode, dev, uid, gid, size, atim, atimns, mtim, mtimns, ctim, ctimns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			parent = excluded.parent, name = excluded.name,
			dirent_version = excluded.dirent_version,
			content_version = excluded.content_version,
			file_type = excluded.file_type, mode = excluded.mode,
			dev = excluded.dev, uid = excluded.uid, gid = excluded.gid,
			size = excluded.size,
			atim = excluded.atim, atimns = excluded.atimns,
			mtim = excluded.mtim, mtimns = excluded.mtimns,
			ctim = excluded.ctim, ctimns = excluded.ctimns`,
		&sqlitex.ExecOptions{
			Args: []any{
				d.ID, parent, d.Name, d.DirentVersion, d.ContentVersion,
				int64(d.Stat.FileType), int64(d.Stat.Mode), int64(d.Stat.Dev),
				int64(d.Stat.UID), int64(d.Stat.GID), int64(d.Stat.Size),
				d.Stat.Atim.Sec, int64(d.Stat.Atim.Nsec),
				d.Stat.Mtim.Sec, int64(d.Stat.Mtim.Nsec),
				d.Stat.Ctim.Sec, int64(d.Stat.Ctim.Nsec),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to put dirent %s: %w", d.ID, err)
	}

	return nil
}

// RemoveDirEntity deletes a dirent. Children and chunk rows cascade.
func (tx *Tx) RemoveDirEntity(id string) error {
	err := sqlitex.Execute(tx.conn, `DELETE FROM file WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("failed to remove dirent %s: %w", id, err)
	}

	return nil
}

// RemoveOtherChildren deletes every child of parentID whose id is not
// in keep. Used to trim cache entries the server no longer lists.
func (tx *Tx) RemoveOtherChildren(parentID string, keep []string) error {
	query := `DELETE FROM file WHERE parent = ?`
	args := []any{parentID}
	if len(keep) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(keep)) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}

	err := sqlitex.Execute(tx.conn, query, &sqlitex.ExecOptions{Args: args})
	if err != nil {
		return fmt.Errorf("failed to trim children of %s: %w", parentID, err)
	}

	return nil
}

// Rename moves a dirent to a new parent and name.
func (tx *Tx) Rename(id, newParentID, newName string) error {
	err := sqlitex.Execute(tx.conn,
		`UPDATE file SET parent = ?, name = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{newParentID, newName, id}})
	if err != nil {
		return fmt.Errorf("failed to rename %s: %w", id, err)
	}

	return nil
}

// SetAttrs is the partial-update set for UpdateAttributes. Nil fields
// are left untouched.
type SetAttrs struct {
	Mode *uint32
	UID  *uint32
	GID  *uint32
	Size *uint64
	Atim *Timespec
	Mtim *Timespec
	Ctim *Timespec
}

// UpdateAttributes applies the provided attribute fields. It only
// touches the file row; chunk-map adjustments for size changes are the
// engine's job.
func (tx *Tx) UpdateAttributes(id string, attrs SetAttrs) error {
	var (
		columns string
		args    []any
	)
	add := func(col string, value any) {
		if columns != "" {
			columns += ", "
		}
		columns += col + " = ?"
		args = append(args, value)
	}

	if attrs.Mode != nil {
		add("mode", int64(*attrs.Mode))
	}
	if attrs.UID != nil {
		add("uid", int64(*attrs.UID))
	}
	if attrs.GID != nil {
		add("gid", int64(*attrs.GID))
	}
	if attrs.Size != nil {
		add("size", int64(*attrs.Size))
	}
	if attrs.Atim != nil {
		add("atim", attrs.Atim.Sec)
		add("atimns", int64(attrs.Atim.Nsec))
	}
	if attrs.Mtim != nil {
		add("mtim", attrs.Mtim.Sec)
		add("mtimns", int64(attrs.Mtim.Nsec))
	}
	if attrs.Ctim != nil {
		add("ctim", attrs.Ctim.Sec)
		add("ctimns", int64(attrs.Ctim.Nsec))
	}

	if columns == "" {
		return nil
	}

	args = append(args, id)
	err := sqlitex.Execute(tx.conn, `UPDATE file SET `+columns+` WHERE id = ?`,
		&sqlitex.ExecOptions{Args: args})
	if err != nil {
		return fmt.Errorf("failed to update attributes of %s: %w", id, err)
	}

	return nil
}

// Resize sets the stored size without touching the chunk map.
func (tx *Tx) Resize(id string, size uint64) error {
	err := sqlitex.Execute(tx.conn, `UPDATE file SET size = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{int64(size), id}})
	if err != nil {
		return fmt.Errorf("failed to resize %s: %w", id, err)
	}

	return nil
}

// BumpDirentVersion increments the metadata version counter.
func (tx *Tx) BumpDirentVersion(id string) error {
	err := sqlitex.Execute(tx.conn,
		`UPDATE file SET dirent_version = dirent_version + 1 WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("failed to bump dirent version of %s: %w", id, err)
	}

	return nil
}

// BumpContentVersion increments the content version counter.
func (tx *Tx) BumpContentVersion(id string) error {
	err := sqlitex.Execute(tx.conn,
		`UPDATE file SET content_version = content_version + 1 WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("failed to bump content version of %s: %w", id, err)
	}

	return nil
}

// SetRetrievedVersion marks the entity's blobs as fully cached at its
// current content version.
func (tx *Tx) SetRetrievedVersion(id string) error {
	err := sqlitex.Execute(tx.conn,
		`UPDATE file SET retrieved_version = content_version WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("failed to set retrieved version of %s: %w", id, err)
	}

	return nil
}

// ChangeID rewrites an entity's id in place. Children and chunk rows
// follow via ON UPDATE CASCADE; the client journal's file column is
// updated explicitly.
func (tx *Tx) ChangeID(oldID, newID string) error {
	err := sqlitex.Execute(tx.conn, `UPDATE file SET id = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{newID, oldID}})
	if err != nil {
		return fmt.Errorf("failed to change id %s -> %s: %w", oldID, newID, err)
	}

	err = sqlitex.Execute(tx.conn, `UPDATE journal SET file = ? WHERE file = ?`,
		&sqlitex.ExecOptions{Args: []any{newID, oldID}})
	if err != nil {
		return fmt.Errorf("failed to change journal id %s -> %s: %w", oldID, newID, err)
	}

	return nil
}

// MaxProvisionalOrdinal scans for the highest provisional ordinal in
// use, so a reopened client store can continue minting after it.
// Returns -1 when no provisional ids exist.
func (tx *Tx) MaxProvisionalOrdinal() (int64, error) {
	max := int64(-1)
	err := sqlitex.Execute(tx.conn,
		`SELECT id FROM file WHERE id LIKE ? ORDER BY id DESC LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{id_service.ProvisionalPrefix + "%"},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n, err := id_service.ProvisionalOrdinal(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				max = int64(n)
				return nil
			},
		})
	if err != nil {
		return -1, fmt.Errorf("failed to scan provisional ids: %w", err)
	}

	return max, nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}

	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, '?')
	}

	return string(out)
}
