package client_service

import (
	"bytes"
	"testing"
)

func TestWriteBuffer_MergesAdjacentWrites(t *testing.T) {
	b := newWriteBuffer()

	// Out of order on purpose.
	b.add(5, []byte("fghij"))
	b.add(0, []byte("abcde"))
	b.add(20, []byte("xyz"))

	flushed := b.flush()
	if len(flushed) != 2 {
		t.Fatalf("flush() returned %d writes, want 2", len(flushed))
	}

	if flushed[0].offset != 0 || !bytes.Equal(flushed[0].data, []byte("abcdefghij")) {
		t.Errorf("first write = (%d, %q)", flushed[0].offset, flushed[0].data)
	}
	if flushed[1].offset != 20 || !bytes.Equal(flushed[1].data, []byte("xyz")) {
		t.Errorf("second write = (%d, %q)", flushed[1].offset, flushed[1].data)
	}

	if !b.empty() {
		t.Errorf("buffer not empty after flush")
	}
}

func TestWriteBuffer_FullAtLimit(t *testing.T) {
	b := newWriteBuffer()

	big := make([]byte, writeBufferLimit)
	if full := b.add(0, big[:writeBufferLimit-1]); full {
		t.Errorf("buffer reported full below the limit")
	}
	if full := b.add(int64(writeBufferLimit-1), []byte{0}); !full {
		t.Errorf("buffer not full at the limit")
	}
}

func TestWriteBuffer_CopiesCallerData(t *testing.T) {
	b := newWriteBuffer()

	data := []byte("original")
	b.add(0, data)
	data[0] = 'X'

	flushed := b.flush()
	if !bytes.Equal(flushed[0].data, []byte("original")) {
		t.Errorf("buffered data aliased the caller's slice: %q", flushed[0].data)
	}
}
