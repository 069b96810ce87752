package client_service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/offs-project/offs/internal/chunker"
	"github.com/offs-project/offs/internal/communication"
	"github.com/offs-project/offs/internal/id_service"
	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/server_service"
	"github.com/offs-project/offs/internal/store"
)

// loopbackCommunicator short-circuits the wire: client sends land
// directly on the server's handler. A down flag simulates a dead
// network, and intercept lets a test answer a request instead of the
// server.
type loopbackCommunicator struct {
	handler   communication.Handler
	down      *atomic.Bool
	intercept func(msg communication.Message) *communication.Response
}

func (c *loopbackCommunicator) Start(handler communication.Handler) error { return nil }
func (c *loopbackCommunicator) Stop() error                               { return nil }
func (c *loopbackCommunicator) Address() string                           { return "loopback" }

func (c *loopbackCommunicator) Send(ctx context.Context, to string, msg communication.Message) (*communication.Response, error) {
	if c.down.Load() {
		return nil, fmt.Errorf("%w: loopback down", communication.ErrNetworkUnavailable)
	}
	if c.intercept != nil {
		if resp := c.intercept(msg); resp != nil {
			return resp, nil
		}
	}

	return c.handler.HandleMessage(ctx, msg)
}

func (c *loopbackCommunicator) SendStream(ctx context.Context, to string, msg communication.Message, recv func(*communication.Response) error) error {
	if c.down.Load() {
		return fmt.Errorf("%w: loopback down", communication.ErrNetworkUnavailable)
	}

	return c.handler.HandleStream(ctx, msg, recv)
}

func respondJournal(resp *communication.ApplyJournalResponse) ([]byte, error) {
	return json.Marshal(resp)
}

type world struct {
	server      *server_service.ServerService
	serverStore *store.Store
	loopback    *loopbackCommunicator
}

func newWorld(t *testing.T) *world {
	t.Helper()

	ls := log_service.NewConsoleLogService("test-server", log_service.ErrorLevel)
	serverStore, err := store.Open(filepath.Join(t.TempDir(), "server.db"), ls)
	if err != nil {
		t.Fatalf("Open() server store error = %v", err)
	}
	t.Cleanup(func() { serverStore.Close() })

	server := server_service.NewServerService(nil, serverStore, chunker.NewDefaultChunker(), ls)

	return &world{
		server:      server,
		serverStore: serverStore,
		loopback:    &loopbackCommunicator{handler: server, down: &atomic.Bool{}},
	}
}

func (w *world) newClient(t *testing.T, name string) *Filesystem {
	t.Helper()

	ls := log_service.NewConsoleLogService(name, log_service.ErrorLevel)
	clientStore, err := store.Open(filepath.Join(t.TempDir(), name+".db"), ls)
	if err != nil {
		t.Fatalf("Open() client store error = %v", err)
	}
	t.Cleanup(func() { clientStore.Close() })

	remote := NewRemoteClient(w.loopback, "loopback", name)
	fs, err := NewFilesystem(clientStore, remote, chunker.NewDefaultChunker(),
		PolicyRecreateLocal, "/mnt/"+name, ls)
	if err != nil {
		t.Fatalf("NewFilesystem() error = %v", err)
	}

	return fs
}

func writeFile(t *testing.T, fs *Filesystem, id string, content []byte) {
	t.Helper()

	ctx := context.Background()
	fh, err := fs.Open(ctx, id)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := fs.Write(ctx, fh, 0, content); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := fs.Release(ctx, fh); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func readFile(t *testing.T, fs *Filesystem, id string) []byte {
	t.Helper()

	ctx := context.Background()
	entity, err := fs.GetAttr(ctx, id)
	if err != nil {
		t.Fatalf("GetAttr() error = %v", err)
	}

	fh, err := fs.Open(ctx, id)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer fs.Release(ctx, fh)

	data, err := fs.Read(ctx, fh, 0, int64(entity.Stat.Size))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	return data
}

func TestScenario_CreateAndRead(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	clientA := w.newClient(t, "client-a")
	created, err := clientA.Create(ctx, id_service.RootID, "a.txt", store.TypeRegularFile, 0o644, 0)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id_service.IsProvisional(created.ID) {
		t.Fatalf("online create left a provisional id %s", created.ID)
	}

	writeFile(t, clientA, created.ID, []byte("hello"))

	entity, err := clientA.GetAttr(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetAttr() error = %v", err)
	}
	if entity.Stat.Size != 5 {
		t.Errorf("size = %d, want 5", entity.Stat.Size)
	}
	if got := readFile(t, clientA, created.ID); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("read = %q, want %q", got, "hello")
	}

	// A second client resolves the same file through the server.
	clientB := w.newClient(t, "client-b")
	resolved, err := clientB.ResolvePath(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("ResolvePath() error = %v", err)
	}
	if resolved.ID != created.ID {
		t.Errorf("second client resolved id %s, want %s", resolved.ID, created.ID)
	}
	if got := readFile(t, clientB, resolved.ID); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("second client read = %q, want %q", got, "hello")
	}
}

func TestScenario_DedupAcrossFiles(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	client := w.newClient(t, "client-a")
	content := bytes.Repeat([]byte("A"), 10000)

	x, err := client.Create(ctx, id_service.RootID, "x", store.TypeRegularFile, 0o644, 0)
	if err != nil {
		t.Fatalf("Create(x) error = %v", err)
	}
	y, err := client.Create(ctx, id_service.RootID, "y", store.TypeRegularFile, 0o644, 0)
	if err != nil {
		t.Fatalf("Create(y) error = %v", err)
	}

	writeFile(t, client, x.ID, content)
	writeFile(t, client, y.ID, content)

	err = w.serverStore.View(ctx, func(tx *store.Tx) error {
		xChunks, err := tx.Chunks(x.ID)
		if err != nil {
			return err
		}
		yChunks, err := tx.Chunks(y.ID)
		if err != nil {
			return err
		}

		if len(xChunks) == 0 || len(xChunks) != len(yChunks) {
			t.Fatalf("server chunk counts: %d vs %d", len(xChunks), len(yChunks))
		}
		for i := range xChunks {
			if xChunks[i] != yChunks[i] {
				t.Errorf("server chunk %d differs between identical files", i)
			}
		}

		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
}

func TestScenario_OfflineWriteReconnect(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	client := w.newClient(t, "client-a")
	client.SetOfflineMode(true)

	created, err := client.Create(ctx, id_service.RootID, "b.txt", store.TypeRegularFile, 0o644, 0)
	if err != nil {
		t.Fatalf("offline Create() error = %v", err)
	}
	if !id_service.IsProvisional(created.ID) {
		t.Fatalf("offline create got non-provisional id %s", created.ID)
	}

	writeFile(t, client, created.ID, []byte("offline"))

	journalLen, err := client.JournalLength(ctx)
	if err != nil {
		t.Fatalf("JournalLength() error = %v", err)
	}
	if journalLen != 2 {
		t.Fatalf("journal length = %d, want 2 (create + write)", journalLen)
	}

	// Reads of the offline creation are served from the cache.
	if got := readFile(t, client, created.ID); !bytes.Equal(got, []byte("offline")) {
		t.Errorf("offline read = %q, want %q", got, "offline")
	}

	client.SetOfflineMode(false)
	if err := client.ReplayJournal(ctx); err != nil {
		t.Fatalf("ReplayJournal() error = %v", err)
	}

	journalLen, err = client.JournalLength(ctx)
	if err != nil {
		t.Fatalf("JournalLength() error = %v", err)
	}
	if journalLen != 0 {
		t.Errorf("journal length after replay = %d, want 0", journalLen)
	}

	// The file appears on a second online client with the content.
	clientB := w.newClient(t, "client-b")
	resolved, err := clientB.ResolvePath(ctx, "/b.txt")
	if err != nil {
		t.Fatalf("ResolvePath() on second client error = %v", err)
	}
	if id_service.IsProvisional(resolved.ID) {
		t.Errorf("server assigned id is provisional: %s", resolved.ID)
	}
	if got := readFile(t, clientB, resolved.ID); !bytes.Equal(got, []byte("offline")) {
		t.Errorf("second client read = %q, want %q", got, "offline")
	}
}

func TestScenario_ConflictRecreateLocal(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	clientA := w.newClient(t, "client-a")
	created, err := clientA.Create(ctx, id_service.RootID, "c.txt", store.TypeRegularFile, 0o644, 0)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	writeFile(t, clientA, created.ID, []byte("base"))

	// Client B caches the file, then goes offline.
	clientB := w.newClient(t, "client-b")
	resolved, err := clientB.ResolvePath(ctx, "/c.txt")
	if err != nil {
		t.Fatalf("ResolvePath() error = %v", err)
	}
	if got := readFile(t, clientB, resolved.ID); !bytes.Equal(got, []byte("base")) {
		t.Fatalf("clientB read = %q", got)
	}
	clientB.SetOfflineMode(true)

	// A wins the race online; B writes the same file offline.
	writeFile(t, clientA, created.ID, []byte("from-a"))
	writeFile(t, clientB, resolved.ID, []byte("from-b"))

	clientB.SetOfflineMode(false)
	if err := clientB.ReplayJournal(ctx); err != nil {
		t.Fatalf("ReplayJournal() error = %v", err)
	}

	// The server keeps A's write under the original name and gains a
	// conflicted copy holding B's bytes.
	err = w.serverStore.View(ctx, func(tx *store.Tx) error {
		children, err := tx.List(id_service.RootID)
		if err != nil {
			return err
		}
		if len(children) != 2 {
			t.Fatalf("server has %d files, want 2", len(children))
		}

		var conflictedID string
		for _, child := range children {
			if child.ID == created.ID {
				if child.Name != "c.txt" {
					t.Errorf("original file renamed to %q", child.Name)
				}
				continue
			}
			if !strings.Contains(child.Name, "Conflicted copy") {
				t.Errorf("unexpected sibling %q", child.Name)
			}
			conflictedID = child.ID
		}
		if conflictedID == "" {
			t.Fatalf("no conflicted copy on the server")
		}

		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}

	if got := readFile(t, clientA, created.ID); !bytes.Equal(got, []byte("from-a")) {
		t.Errorf("winning content = %q, want %q", got, "from-a")
	}
}

func TestScenario_MissingBlobsPrunesAffectedEntries(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	client := w.newClient(t, "client-a")
	client.SetOfflineMode(true)

	damaged, err := client.Create(ctx, id_service.RootID, "damaged.txt", store.TypeRegularFile, 0o644, 0)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	writeFile(t, client, damaged.ID, []byte("will be lost"))

	intact, err := client.Create(ctx, id_service.RootID, "intact.txt", store.TypeRegularFile, 0o644, 0)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	writeFile(t, client, intact.ID, []byte("survives"))

	// The server claims the damaged file's blob cannot be found even
	// after transfer — the signature of client-side data loss.
	lostBlob := store.BlobID([]byte("will be lost"))
	intercepted := false
	w.loopback.intercept = func(msg communication.Message) *communication.Response {
		if msg.Type != communication.MessageTypeApplyJournal || intercepted {
			return nil
		}
		intercepted = true

		body, err := respondJournal(&communication.ApplyJournalResponse{
			Result:         communication.JournalResultMissingBlobs,
			MissingBlobIDs: []string{lostBlob},
		})
		if err != nil {
			t.Fatalf("marshal intercepted response: %v", err)
		}

		return &communication.Response{Code: communication.CodeOK, Body: body}
	}

	client.SetOfflineMode(false)
	if err := client.ReplayJournal(ctx); err != nil {
		t.Fatalf("ReplayJournal() error = %v", err)
	}

	// The intact file made it to the server; the damaged one did not.
	err = w.serverStore.View(ctx, func(tx *store.Tx) error {
		children, err := tx.List(id_service.RootID)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(children))
		for _, child := range children {
			names = append(names, child.Name)
		}
		if len(children) != 1 || children[0].Name != "intact.txt" {
			t.Errorf("server files = %v, want [intact.txt]", names)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
}

func TestScenario_OfflineRemoveAndRenameReplay(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	client := w.newClient(t, "client-a")
	doomed, err := client.Create(ctx, id_service.RootID, "doomed.txt", store.TypeRegularFile, 0o644, 0)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	kept, err := client.Create(ctx, id_service.RootID, "kept.txt", store.TypeRegularFile, 0o644, 0)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	client.SetOfflineMode(true)

	if err := client.Unlink(ctx, doomed.ID); err != nil {
		t.Fatalf("offline Unlink() error = %v", err)
	}
	if _, err := client.Rename(ctx, kept.ID, id_service.RootID, "renamed.txt"); err != nil {
		t.Fatalf("offline Rename() error = %v", err)
	}

	client.SetOfflineMode(false)
	if err := client.ReplayJournal(ctx); err != nil {
		t.Fatalf("ReplayJournal() error = %v", err)
	}

	err = w.serverStore.View(ctx, func(tx *store.Tx) error {
		if exists, _ := tx.Exists(doomed.ID); exists {
			t.Errorf("removed file still on the server")
		}

		entity, err := tx.DirEntity(kept.ID)
		if err != nil {
			return err
		}
		if entity.Name != "renamed.txt" {
			t.Errorf("server name = %q, want renamed.txt", entity.Name)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
}

func TestScenario_OfflineReadOfUnfetchedContent(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	clientA := w.newClient(t, "client-a")
	created, err := clientA.Create(ctx, id_service.RootID, "far.txt", store.TypeRegularFile, 0o644, 0)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	writeFile(t, clientA, created.ID, []byte("remote content"))

	// Client B lists the directory (metadata only), then goes offline.
	clientB := w.newClient(t, "client-b")
	if _, err := clientB.ReadDir(ctx, id_service.RootID); err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	clientB.SetOfflineMode(true)

	_, err = clientB.Open(ctx, created.ID)
	if !errors.Is(err, ErrOfflineUnavailable) {
		t.Errorf("offline Open() of unfetched file error = %v, want ErrOfflineUnavailable", err)
	}

	// Back online the content fetches fine.
	clientB.SetOfflineMode(false)
	if got := readFile(t, clientB, created.ID); !bytes.Equal(got, []byte("remote content")) {
		t.Errorf("read = %q, want %q", got, "remote content")
	}
}

func TestScenario_OfflineDirectoryListingFromCache(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	client := w.newClient(t, "client-a")
	if _, err := client.Mkdir(ctx, id_service.RootID, "docs", 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if _, err := client.Create(ctx, id_service.RootID, "top.txt", store.TypeRegularFile, 0o644, 0); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := client.ReadDir(ctx, id_service.RootID); err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}

	client.SetOfflineMode(true)

	entries, err := client.ReadDir(ctx, id_service.RootID)
	if err != nil {
		t.Fatalf("offline ReadDir() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("offline listing has %d entries, want 2", len(entries))
	}
	if entries[0].Name != "docs" || entries[1].Name != "top.txt" {
		t.Errorf("offline listing order = [%s, %s]", entries[0].Name, entries[1].Name)
	}
}
