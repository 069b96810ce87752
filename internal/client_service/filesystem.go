package client_service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/offs-project/offs/internal/chunker"
	"github.com/offs-project/offs/internal/engine"
	"github.com/offs-project/offs/internal/id_service"
	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/store"
)

// ConflictPolicy selects how journaled operations that lost a version
// conflict are resolved.
type ConflictPolicy string

const (
	// PolicyRecreateLocal keeps both versions: the server's copy keeps
	// the id and name, the local copy is re-journaled as a fresh
	// creation and surfaces as a conflicted-copy sibling.
	PolicyRecreateLocal ConflictPolicy = "recreate-local"

	// PolicyServerWins discards the local copy and its pending
	// operations; the server state is refetched on next access.
	PolicyServerWins ConflictPolicy = "server-wins"
)

// Filesystem is the client core: a cache of the server's tree backed
// by a local store, an operation journal, and the reconciler that
// drains it. The kernel adapter calls the exported methods; the
// journal pump and the administrative channel share the same instance.
type Filesystem struct {
	store  *store.Store
	engine *engine.Engine
	gen    *id_service.LocalTempIdGenerator
	remote *RemoteClient
	ls     log_service.LogService
	policy ConflictPolicy

	mountPoint string

	// mu serializes every cache mutation across the adapter, the
	// journal pump and the administrative channel.
	mu sync.Mutex

	// offlineMode is the administrative toggle; networkDown latches
	// after a transport failure until a replay succeeds, the pump finds
	// the journal empty, or offline mode is switched off.
	offlineMode atomic.Bool
	networkDown atomic.Bool

	inodes    *inodeTable
	openFiles *openFileTable

	pumpWake chan struct{}
	pumpStop chan struct{}
	pumpDone chan struct{}
}

func NewFilesystem(st *store.Store, remote *RemoteClient, c chunker.Chunker,
	policy ConflictPolicy, mountPoint string, ls log_service.LogService) (*Filesystem, error) {
	gen := id_service.NewLocalTempIdGenerator()

	// Continue minting after any provisional ids a previous run left
	// in the cache.
	err := st.View(context.Background(), func(tx *store.Tx) error {
		maxOrdinal, err := tx.MaxProvisionalOrdinal()
		if err != nil {
			return err
		}
		if maxOrdinal >= 0 {
			gen.SetNext(uint64(maxOrdinal) + 1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fs := &Filesystem{
		store:      st,
		engine:     engine.New(gen, c, ls),
		gen:        gen,
		remote:     remote,
		ls:         ls,
		policy:     policy,
		mountPoint: mountPoint,
		inodes:     newInodeTable(),
		openFiles:  newOpenFileTable(),
		pumpWake:   make(chan struct{}, 1),
		pumpStop:   make(chan struct{}),
		pumpDone:   make(chan struct{}),
	}

	return fs, nil
}

// Start launches the journal pump. Any journal left over from a
// previous run replays as soon as the pump finds the server reachable.
func (fs *Filesystem) Start() {
	go fs.runPump()
	fs.wakePump()
}

func (fs *Filesystem) Stop() {
	close(fs.pumpStop)
	<-fs.pumpDone
}

func (fs *Filesystem) MountPoint() string {
	return fs.mountPoint
}

// IsOffline reports whether network calls should short-circuit.
func (fs *Filesystem) IsOffline() bool {
	return fs.offlineMode.Load() || fs.networkDown.Load()
}

// SetOfflineMode flips the administrative offline toggle. Leaving
// offline mode wakes the pump to replay the journal.
func (fs *Filesystem) SetOfflineMode(enabled bool) {
	fs.offlineMode.Store(enabled)

	fs.ls.Info(log_service.LogEvent{
		Message:  "Offline mode changed",
		Metadata: map[string]any{"enabled": enabled},
	})

	if !enabled {
		fs.networkDown.Store(false)
		fs.wakePump()
	}
}

func (fs *Filesystem) OfflineMode() bool {
	return fs.offlineMode.Load()
}

func (fs *Filesystem) markNetworkDown() {
	if !fs.networkDown.Swap(true) {
		fs.ls.Warn(log_service.LogEvent{Message: "Network unreachable, entering degraded mode"})
	}
}

func (fs *Filesystem) wakePump() {
	select {
	case fs.pumpWake <- struct{}{}:
	default:
	}
}

// JournalLength reports the number of pending journal entries.
func (fs *Filesystem) JournalLength(ctx context.Context) (int, error) {
	var n int
	err := fs.store.View(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.JournalLen()
		return err
	})

	return n, err
}

// InodeForID returns (allocating if needed) the kernel inode number
// for an id.
func (fs *Filesystem) InodeForID(id string) uint64 {
	return fs.inodes.inodeFor(id)
}

// IDForInode resolves a kernel inode number back to an id.
func (fs *Filesystem) IDForInode(ino uint64) (string, error) {
	id, ok := fs.inodes.idFor(ino)
	if !ok {
		return "", fmt.Errorf("inode %d: %w", ino, store.ErrNotFound)
	}

	return id, nil
}

// addDirent installs an authoritative entity into the cache, pinning
// its inode number.
func (fs *Filesystem) addDirent(tx *store.Tx, entity *store.DirEntity) error {
	entity.Stat.Ino = fs.inodes.inodeFor(entity.ID)
	return tx.PutDirEntity(entity)
}

// GetAttr returns the cached entity for an id.
func (fs *Filesystem) GetAttr(ctx context.Context, id string) (*store.DirEntity, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.getEntity(ctx, id)
}

func (fs *Filesystem) getEntity(ctx context.Context, id string) (*store.DirEntity, error) {
	var entity *store.DirEntity
	err := fs.store.View(ctx, func(tx *store.Tx) error {
		var err error
		entity, err = tx.DirEntity(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	entity.Stat.Ino = fs.inodes.inodeFor(entity.ID)

	return entity, nil
}

// Lookup resolves a name under a directory, refreshing the listing
// from the server when the cache misses and the client is online.
func (fs *Filesystem) Lookup(ctx context.Context, parentID, name string) (*store.DirEntity, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.lookup(ctx, parentID, name)
}

func (fs *Filesystem) lookup(ctx context.Context, parentID, name string) (*store.DirEntity, error) {
	var entity *store.DirEntity
	err := fs.store.View(ctx, func(tx *store.Tx) error {
		var err error
		entity, err = tx.LookupName(parentID, name)
		return err
	})
	if err == nil {
		entity.Stat.Ino = fs.inodes.inodeFor(entity.ID)
		return entity, nil
	}
	if fs.IsOffline() {
		return nil, err
	}

	if _, err := fs.readDir(ctx, parentID); err != nil {
		return nil, err
	}

	err = fs.store.View(ctx, func(tx *store.Tx) error {
		var err error
		entity, err = tx.LookupName(parentID, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	entity.Stat.Ino = fs.inodes.inodeFor(entity.ID)

	return entity, nil
}

// ResolvePath walks an absolute slash-separated path from the root.
func (fs *Filesystem) ResolvePath(ctx context.Context, path string) (*store.DirEntity, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	current, err := fs.getEntity(ctx, id_service.RootID)
	if err != nil {
		return nil, err
	}

	for _, segment := range splitPath(path) {
		if current.Stat.FileType != store.TypeDirectory {
			return nil, fmt.Errorf("%s: %w", current.Name, store.ErrNotADirectory)
		}

		current, err = fs.lookup(ctx, current.ID, segment)
		if err != nil {
			return nil, err
		}
	}

	return current, nil
}

// ReadDir lists a directory. Online, the listing refreshes the cache
// and drops cached children the server no longer reports; offline, a
// previously retrieved listing is served from the cache.
func (fs *Filesystem) ReadDir(ctx context.Context, dirID string) ([]*store.DirEntity, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.readDir(ctx, dirID)
}

func (fs *Filesystem) readDir(ctx context.Context, dirID string) ([]*store.DirEntity, error) {
	if fs.IsOffline() {
		return fs.readDirCached(ctx, dirID)
	}

	entities, err := fs.remote.ListFiles(ctx, dirID)
	if err != nil {
		if isNetworkError(err) {
			fs.markNetworkDown()
			return fs.readDirCached(ctx, dirID)
		}
		return nil, err
	}

	err = fs.store.Update(ctx, func(tx *store.Tx) error {
		keep := make([]string, 0, len(entities))
		for _, entity := range entities {
			if err := fs.addDirent(tx, entity); err != nil {
				return err
			}
			keep = append(keep, entity.ID)
		}

		// Entities created locally but not yet accepted by the server
		// stay in the cache until their journal entries replay.
		local, err := tx.List(dirID)
		if err != nil {
			return err
		}
		for _, entity := range local {
			if id_service.IsProvisional(entity.ID) {
				keep = append(keep, entity.ID)
			}
		}

		if err := tx.RemoveOtherChildren(dirID, keep); err != nil {
			return err
		}

		return tx.SetRetrievedVersion(dirID)
	})
	if err != nil {
		return nil, err
	}

	for _, entity := range entities {
		entity.Stat.Ino = fs.inodes.inodeFor(entity.ID)
	}

	return entities, nil
}

func (fs *Filesystem) readDirCached(ctx context.Context, dirID string) ([]*store.DirEntity, error) {
	var entities []*store.DirEntity
	err := fs.store.View(ctx, func(tx *store.Tx) error {
		dir, err := tx.DirEntity(dirID)
		if err != nil {
			return err
		}
		if dir.Stat.FileType != store.TypeDirectory {
			return fmt.Errorf("%s: %w", dirID, store.ErrNotADirectory)
		}
		if !dir.IsRetrieved() && dirID != id_service.RootID {
			return fmt.Errorf("%s: %w", dirID, ErrOfflineUnavailable)
		}

		entities, err = tx.List(dirID)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, entity := range entities {
		entity.Stat.Ino = fs.inodes.inodeFor(entity.ID)
	}

	return entities, nil
}

func splitPath(path string) []string {
	var segments []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}

	return segments
}
