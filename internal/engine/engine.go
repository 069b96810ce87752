package engine

import (
	"fmt"

	"github.com/offs-project/offs/internal/chunker"
	"github.com/offs-project/offs/internal/id_service"
	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/operation"
	"github.com/offs-project/offs/internal/store"
)

// Mode selects how the engine treats an operation's carried versions.
type Mode int

const (
	// ModeStrict requires the stored version pair to equal the carried
	// one; any divergence is a conflict. Used for the online
	// single-operation path and for a client's eager local apply.
	ModeStrict Mode = iota

	// ModeDeferred applies journal-replay semantics: creates resolve
	// name collisions with conflicted-copy names instead of version
	// checks; content operations compare content_version; structural
	// operations compare dirent_version. A stored version *behind* the
	// carried one means the journal is corrupt.
	ModeDeferred

	// ModeBypass skips version checks entirely. Reserved for
	// operations the server originates itself (bootstrap, cascade,
	// cache maintenance).
	ModeBypass
)

// Engine applies one ModifyOperation atomically to a store
// transaction: index rows, chunk map and blobs together, with the
// version discipline of the mode. Each Apply call is one case of the
// closed operation vocabulary.
type Engine struct {
	gen     id_service.IdGenerator
	chunker chunker.Chunker
	ls      log_service.LogService
}

func New(gen id_service.IdGenerator, c chunker.Chunker, ls log_service.LogService) *Engine {
	return &Engine{gen: gen, chunker: c, ls: ls}
}

// Apply performs op inside tx and returns the id of the affected
// entity — for creates, the id minted for the new entity.
//
// chunks is only consulted in deferred mode: for Write operations, whose
// data travels as a journal chunk list rather than inline bytes, and for
// regular-file creates that arrive with content already chunked.
func (e *Engine) Apply(tx *store.Tx, op *operation.ModifyOperation, mode Mode, chunks []string) (string, error) {
	if err := operation.Validate(op); err != nil {
		return "", fmt.Errorf("%w: %s", store.ErrInvalidOperation, err)
	}

	e.ls.Debug(log_service.LogEvent{
		Message: "Applying operation",
		Metadata: map[string]any{
			"type": op.Type.String(), "target": op.ID, "opID": op.OpID,
		},
	})

	switch op.Type {
	case operation.OpCreateFile:
		return e.applyCreateFile(tx, op, mode, chunks)
	case operation.OpCreateSymlink:
		return e.applyCreateSymlink(tx, op, mode)
	case operation.OpCreateDirectory:
		return e.applyCreateDirectory(tx, op, mode)
	case operation.OpRemoveFile:
		return op.ID, e.applyRemoveFile(tx, op, mode)
	case operation.OpRemoveDirectory:
		return op.ID, e.applyRemoveDirectory(tx, op, mode)
	case operation.OpRename:
		return op.ID, e.applyRename(tx, op, mode)
	case operation.OpSetAttributes:
		return op.ID, e.applySetAttributes(tx, op, mode)
	case operation.OpWrite:
		return op.ID, e.applyWrite(tx, op, mode, chunks)
	default:
		return "", fmt.Errorf("%w: unknown operation type %d", store.ErrInvalidOperation, op.Type)
	}
}

// checkStrict enforces equality of the stored and carried version
// pairs.
func checkStrict(target *store.DirEntity, op *operation.ModifyOperation, mode Mode) error {
	if mode != ModeStrict {
		return nil
	}

	if target.DirentVersion != op.DirentVersion || target.ContentVersion != op.ContentVersion {
		return &ConflictError{TargetID: target.ID}
	}

	return nil
}

// checkDeferredDirent compares dirent_version under journal-replay
// semantics.
func checkDeferredDirent(target *store.DirEntity, op *operation.ModifyOperation, mode Mode) error {
	switch mode {
	case ModeStrict:
		return checkStrict(target, op, mode)
	case ModeDeferred:
		if target.DirentVersion > op.DirentVersion {
			return &ConflictError{TargetID: target.ID}
		}
		if target.DirentVersion < op.DirentVersion {
			return fmt.Errorf("%w: dirent version of %s behind the journal", store.ErrInvalidOperation, target.ID)
		}
	}

	return nil
}

// checkDeferredContent compares content_version under journal-replay
// semantics.
func checkDeferredContent(target *store.DirEntity, op *operation.ModifyOperation, mode Mode) error {
	switch mode {
	case ModeStrict:
		return checkStrict(target, op, mode)
	case ModeDeferred:
		if target.ContentVersion > op.ContentVersion {
			return &ConflictError{TargetID: target.ID}
		}
		if target.ContentVersion < op.ContentVersion {
			return fmt.Errorf("%w: content version of %s behind the journal", store.ErrInvalidOperation, target.ID)
		}
	}

	return nil
}
