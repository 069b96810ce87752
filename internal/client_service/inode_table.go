package client_service

import (
	"sync"

	"github.com/offs-project/offs/internal/id_service"
)

// inodeTable maps kernel inode numbers to FileIds and back. Inode 1 is
// always the root. Ids change when the server assigns a permanent one;
// the inode number stays stable across that swap so open kernel
// handles keep working.
type inodeTable struct {
	mu        sync.Mutex
	nextInode uint64
	toID      map[uint64]string
	toInode   map[string]uint64
}

func newInodeTable() *inodeTable {
	return &inodeTable{
		nextInode: 2,
		toID:      map[uint64]string{1: id_service.RootID},
		toInode:   map[string]uint64{id_service.RootID: 1},
	}
}

func (t *inodeTable) inodeFor(id string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ino, ok := t.toInode[id]; ok {
		return ino
	}

	ino := t.nextInode
	t.nextInode++
	t.toInode[id] = ino
	t.toID[ino] = id

	return ino
}

func (t *inodeTable) idFor(ino uint64) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.toID[ino]
	return id, ok
}

func (t *inodeTable) rename(oldID, newID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ino, ok := t.toInode[oldID]
	if !ok {
		return
	}

	delete(t.toInode, oldID)
	t.toInode[newID] = ino
	t.toID[ino] = newID
}
