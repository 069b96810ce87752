package client_service

import "sync"

type openFile struct {
	id     string
	buffer *writeBuffer
}

// openFileTable hands out file handles and keeps one write buffer per
// open file. Entries are addressed by id, so renames and id
// reassignment leave handles working.
type openFileTable struct {
	mu     sync.Mutex
	nextFh uint64
	files  map[uint64]*openFile
}

func newOpenFileTable() *openFileTable {
	return &openFileTable{
		nextFh: 1,
		files:  make(map[uint64]*openFile),
	}
}

func (t *openFileTable) open(id string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	fh := t.nextFh
	t.nextFh++
	t.files[fh] = &openFile{id: id, buffer: newWriteBuffer()}

	return fh
}

func (t *openFileTable) get(fh uint64) (*openFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, ok := t.files[fh]
	return file, ok
}

func (t *openFileTable) close(fh uint64) (*openFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, ok := t.files[fh]
	delete(t.files, fh)

	return file, ok
}

// renameID rewrites the target id of every handle pointing at oldID.
func (t *openFileTable) renameID(oldID, newID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, file := range t.files {
		if file.id == oldID {
			file.id = newID
		}
	}
}
