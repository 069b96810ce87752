package server_service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/offs-project/offs/internal/chunker"
	"github.com/offs-project/offs/internal/communication"
	"github.com/offs-project/offs/internal/id_service"
	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/operation"
	"github.com/offs-project/offs/internal/store"
)

func testServer(t *testing.T) *ServerService {
	t.Helper()

	ls := log_service.NewConsoleLogService("test-server", log_service.ErrorLevel)
	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"), ls)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return NewServerService(nil, st, chunker.NewDefaultChunker(), ls)
}

func request(t *testing.T, s *ServerService, msgType string, payload any) *communication.Response {
	t.Helper()

	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	resp, err := s.HandleMessage(context.Background(), communication.Message{
		From:    "test-client",
		Type:    msgType,
		Payload: encoded,
	})
	if err != nil {
		t.Fatalf("HandleMessage(%s) error = %v", msgType, err)
	}

	return resp
}

func streamRequest(t *testing.T, s *ServerService, msgType string, payload any) []*communication.Response {
	t.Helper()

	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	var frames []*communication.Response
	err = s.HandleStream(context.Background(), communication.Message{
		From:    "test-client",
		Type:    msgType,
		Payload: encoded,
	}, func(resp *communication.Response) error {
		frames = append(frames, resp)
		return nil
	})
	if err != nil {
		t.Fatalf("HandleStream(%s) error = %v", msgType, err)
	}

	return frames
}

func serverRoot(t *testing.T, s *ServerService) *store.DirEntity {
	t.Helper()

	var root *store.DirEntity
	err := s.store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		root, err = tx.DirEntity(id_service.RootID)
		return err
	})
	if err != nil {
		t.Fatalf("root lookup error = %v", err)
	}

	return root
}

func applyOp(t *testing.T, s *ServerService, op operation.ModifyOperation) *store.DirEntity {
	t.Helper()

	resp := request(t, s, communication.MessageTypeApplyOperation,
		communication.ApplyOperationRequest{Operation: op})
	if resp.Code != communication.CodeOK {
		t.Fatalf("apply_operation(%s) code = %s", op.Type, resp.Code)
	}

	var result communication.ApplyOperationResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		t.Fatalf("unmarshal apply_operation response: %v", err)
	}

	return result.DirEntity
}

func TestServerService_ApplyOperationAndList(t *testing.T) {
	s := testServer(t)

	created := applyOp(t, s, operation.MakeCreateFileOp(serverRoot(t, s), store.Now(),
		"a.txt", store.TypeRegularFile, 0o644, 0))
	if created == nil || created.Name != "a.txt" {
		t.Fatalf("create returned %+v", created)
	}
	if id_service.IsProvisional(created.ID) {
		t.Errorf("server minted a provisional id %s", created.ID)
	}

	frames := streamRequest(t, s, communication.MessageTypeList,
		communication.ListRequest{ID: id_service.RootID})
	if len(frames) != 1 {
		t.Fatalf("list returned %d frames, want 1", len(frames))
	}

	var entity store.DirEntity
	if err := json.Unmarshal(frames[0].Body, &entity); err != nil {
		t.Fatalf("unmarshal list frame: %v", err)
	}
	if entity.ID != created.ID {
		t.Errorf("listed id = %s, want %s", entity.ID, created.ID)
	}
}

func TestServerService_ApplyOperationVersionConflict(t *testing.T) {
	s := testServer(t)

	stale := serverRoot(t, s)
	applyOp(t, s, operation.MakeCreateFileOp(stale, store.Now(), "first",
		store.TypeRegularFile, 0o644, 0))

	resp := request(t, s, communication.MessageTypeApplyOperation,
		communication.ApplyOperationRequest{
			Operation: operation.MakeCreateFileOp(stale, store.Now(), "second",
				store.TypeRegularFile, 0o644, 0),
		})
	if resp.Code != communication.CodeVersionConflict {
		t.Errorf("stale create code = %s, want %s", resp.Code, communication.CodeVersionConflict)
	}
}

func journalRequest(t *testing.T, s *ServerService, req communication.ApplyJournalRequest) *communication.ApplyJournalResponse {
	t.Helper()

	resp := request(t, s, communication.MessageTypeApplyJournal, req)
	if resp.Code != communication.CodeOK {
		t.Fatalf("apply_journal code = %s", resp.Code)
	}

	var result communication.ApplyJournalResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		t.Fatalf("unmarshal apply_journal response: %v", err)
	}

	return &result
}

func TestServerService_ApplyJournalSuccess(t *testing.T) {
	s := testServer(t)
	root := serverRoot(t, s)

	content := []byte("offline")
	blobID := store.BlobID(content)

	create := operation.MakeCreateFileOp(root, store.Now(), "b.txt", store.TypeRegularFile, 0o644, 0)
	create.ProvisionalID = id_service.NthProvisionalID(0)

	// The journaled write ships no inline data: the chunk list plus
	// the raw blob stand in for it.
	writeTarget := &store.DirEntity{ID: id_service.NthProvisionalID(0), DirentVersion: 1, ContentVersion: 1}
	write := operation.MakeWriteOp(writeTarget, store.Now(), 0, nil)
	write.Write.Size = int64(len(content))

	result := journalRequest(t, s, communication.ApplyJournalRequest{
		ClientID: "client-a",
		Token:    1,
		Operations: []communication.JournalOp{
			{Operation: create},
			{Operation: write, Chunks: []string{blobID}},
		},
		Blobs: [][]byte{content},
	})

	if result.Result != communication.JournalResultOK {
		t.Fatalf("journal result = %s, want ok", result.Result)
	}
	if len(result.AssignedIDs) != 1 {
		t.Fatalf("assigned ids = %v, want one", result.AssignedIDs)
	}

	assigned := result.AssignedIDs[0]
	err := s.store.View(context.Background(), func(tx *store.Tx) error {
		entity, err := tx.DirEntity(assigned)
		if err != nil {
			return err
		}
		if entity.Stat.Size != uint64(len(content)) {
			t.Errorf("size = %d, want %d", entity.Stat.Size, len(content))
		}
		if entity.ContentVersion != 2 {
			t.Errorf("content version = %d, want 2", entity.ContentVersion)
		}

		chunks, err := tx.Chunks(assigned)
		if err != nil {
			return err
		}
		if len(chunks) != 1 || chunks[0] != blobID {
			t.Errorf("chunks = %v, want [%s]", chunks, blobID)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
}

func TestServerService_ApplyJournalIdempotent(t *testing.T) {
	s := testServer(t)
	root := serverRoot(t, s)

	create := operation.MakeCreateFileOp(root, store.Now(), "once.txt", store.TypeRegularFile, 0o644, 0)
	create.ProvisionalID = id_service.NthProvisionalID(0)

	req := communication.ApplyJournalRequest{
		ClientID:   "client-a",
		Token:      7,
		Operations: []communication.JournalOp{{Operation: create}},
	}

	first := journalRequest(t, s, req)
	second := journalRequest(t, s, req)

	if first.Result != communication.JournalResultOK || second.Result != communication.JournalResultOK {
		t.Fatalf("results = %s, %s", first.Result, second.Result)
	}
	if len(first.AssignedIDs) != 1 || len(second.AssignedIDs) != 1 ||
		first.AssignedIDs[0] != second.AssignedIDs[0] {
		t.Errorf("assigned ids differ across resubmission: %v vs %v",
			first.AssignedIDs, second.AssignedIDs)
	}

	// Only one file must exist.
	err := s.store.View(context.Background(), func(tx *store.Tx) error {
		children, err := tx.List(id_service.RootID)
		if err != nil {
			return err
		}
		if len(children) != 1 {
			t.Errorf("root has %d children after resubmission, want 1", len(children))
		}

		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
}

func TestServerService_ApplyJournalConflict(t *testing.T) {
	s := testServer(t)
	root := serverRoot(t, s)

	created := applyOp(t, s, operation.MakeCreateFileOp(root, store.Now(), "c.txt",
		store.TypeRegularFile, 0o644, 0))
	applyOp(t, s, operation.MakeWriteOp(created, store.Now(), 0, []byte("new")))

	// A journaled write carrying the pre-write content version.
	stale := *created
	write := operation.MakeWriteOp(&stale, store.Now(), 0, nil)
	write.Write.Size = 5
	blob := []byte("other")

	result := journalRequest(t, s, communication.ApplyJournalRequest{
		ClientID:   "client-b",
		Token:      1,
		Operations: []communication.JournalOp{{Operation: write, Chunks: []string{store.BlobID(blob)}}},
		Blobs:      [][]byte{blob},
	})

	if result.Result != communication.JournalResultConflictingFiles {
		t.Fatalf("result = %s, want conflicting_files", result.Result)
	}
	if len(result.ConflictingIDs) != 1 || result.ConflictingIDs[0] != created.ID {
		t.Errorf("conflicting ids = %v, want [%s]", result.ConflictingIDs, created.ID)
	}

	// The server content is untouched.
	err := s.store.View(context.Background(), func(tx *store.Tx) error {
		entity, err := tx.DirEntity(created.ID)
		if err != nil {
			return err
		}
		if entity.Stat.Size != 3 {
			t.Errorf("size after rejected journal = %d, want 3", entity.Stat.Size)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
}

func TestServerService_ApplyJournalMissingBlobs(t *testing.T) {
	s := testServer(t)
	root := serverRoot(t, s)

	created := applyOp(t, s, operation.MakeCreateFileOp(root, store.Now(), "m.txt",
		store.TypeRegularFile, 0o644, 0))

	absent := store.BlobID([]byte("never sent"))
	write := operation.MakeWriteOp(created, store.Now(), 0, nil)
	write.Write.Size = 10

	result := journalRequest(t, s, communication.ApplyJournalRequest{
		ClientID:   "client-b",
		Token:      1,
		Operations: []communication.JournalOp{{Operation: write, Chunks: []string{absent}}},
	})

	if result.Result != communication.JournalResultMissingBlobs {
		t.Fatalf("result = %s, want missing_blobs", result.Result)
	}
	if len(result.MissingBlobIDs) != 1 || result.MissingBlobIDs[0] != absent {
		t.Errorf("missing ids = %v, want [%s]", result.MissingBlobIDs, absent)
	}
}

func TestServerService_ApplyJournalInvalid(t *testing.T) {
	s := testServer(t)

	// Write referencing a provisional id with no matching create.
	target := &store.DirEntity{ID: id_service.NthProvisionalID(5), DirentVersion: 1, ContentVersion: 1}
	write := operation.MakeWriteOp(target, store.Now(), 0, []byte("x"))

	result := journalRequest(t, s, communication.ApplyJournalRequest{
		ClientID:   "client-b",
		Token:      1,
		Operations: []communication.JournalOp{{Operation: write}},
	})

	if result.Result != communication.JournalResultInvalidJournal {
		t.Errorf("result = %s, want invalid_journal", result.Result)
	}
}

func TestServerService_GetMissingBlobs(t *testing.T) {
	s := testServer(t)

	present := []byte("present")
	err := s.store.Update(context.Background(), func(tx *store.Tx) error {
		_, err := tx.PutBlob(present)
		return err
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	absentID := store.BlobID([]byte("absent"))
	resp := request(t, s, communication.MessageTypeGetMissingBlobs,
		communication.GetMissingBlobsRequest{IDs: []string{store.BlobID(present), absentID}})
	if resp.Code != communication.CodeOK {
		t.Fatalf("get_missing_blobs code = %s", resp.Code)
	}

	var result communication.GetMissingBlobsResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.BlobIDs) != 1 || result.BlobIDs[0] != absentID {
		t.Errorf("missing = %v, want [%s]", result.BlobIDs, absentID)
	}
}
