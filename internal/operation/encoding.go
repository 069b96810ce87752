package operation

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an operation for the journal and the wire.
func Encode(op *ModifyOperation) ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation %s: %w", op.Type, err)
	}

	return data, nil
}

// Decode parses an encoded operation and checks that the payload
// matches the tag.
func Decode(data []byte) (*ModifyOperation, error) {
	var op ModifyOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("failed to decode operation: %w", err)
	}

	if err := Validate(&op); err != nil {
		return nil, err
	}

	return &op, nil
}

// Validate checks the tag/payload pairing of an operation.
func Validate(op *ModifyOperation) error {
	var want bool
	switch op.Type {
	case OpCreateFile:
		want = op.CreateFile != nil
	case OpCreateSymlink:
		want = op.CreateSymlink != nil
	case OpCreateDirectory:
		want = op.CreateDirectory != nil
	case OpRemoveFile, OpRemoveDirectory:
		want = true
	case OpRename:
		want = op.Rename != nil
	case OpSetAttributes:
		want = op.SetAttributes != nil
	case OpWrite:
		want = op.Write != nil
	default:
		return fmt.Errorf("unknown operation type %d", op.Type)
	}

	if !want {
		return fmt.Errorf("operation %s is missing its payload", op.Type)
	}
	if op.ID == "" {
		return fmt.Errorf("operation %s has no target id", op.Type)
	}

	return nil
}
