package client_service

import "sort"

// writeBufferLimit is the buffered-byte threshold that forces a flush.
const writeBufferLimit = 8 * 1024 * 1024

// bufferedWrite is one coalesced kernel write awaiting submission.
type bufferedWrite struct {
	offset int64
	data   []byte
}

// writeBuffer accumulates kernel-sized writes so adjacent ones merge
// into a single operation before they hit the journal.
type writeBuffer struct {
	size       int
	operations []bufferedWrite
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{}
}

// add records a write and reports whether the buffer is due a flush.
func (b *writeBuffer) add(offset int64, data []byte) bool {
	buffered := make([]byte, len(data))
	copy(buffered, data)

	b.operations = append(b.operations, bufferedWrite{offset: offset, data: buffered})
	b.size += len(data)

	return b.size >= writeBufferLimit
}

func (b *writeBuffer) empty() bool {
	return len(b.operations) == 0
}

// flush drains the buffer, returning the writes sorted by offset with
// adjacent runs merged.
func (b *writeBuffer) flush() []bufferedWrite {
	ops := b.operations
	b.operations = nil
	b.size = 0

	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].offset < ops[j].offset
	})

	var merged []bufferedWrite
	for _, op := range ops {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.offset+int64(len(last.data)) == op.offset {
				last.data = append(last.data, op.data...)
				continue
			}
		}
		merged = append(merged, op)
	}

	return merged
}
