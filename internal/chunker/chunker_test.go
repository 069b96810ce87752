package chunker

import (
	"bytes"
	"math/rand"
	"testing"
)

func randomBytes(t *testing.T, n int, seed int64) []byte {
	t.Helper()

	data := make([]byte, n)
	rng := rand.New(rand.NewSource(seed))
	if _, err := rng.Read(data); err != nil {
		t.Fatalf("failed to generate test data: %v", err)
	}

	return data
}

func TestFastCDCChunker_Split(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "empty input",
			data: nil,
		},
		{
			name: "below minimum chunk size",
			data: []byte("hello"),
		},
		{
			name: "single chunk",
			data: randomBytes(t, 10*1024, 1),
		},
		{
			name: "many chunks",
			data: randomBytes(t, 4*1024*1024, 2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewDefaultChunker()

			chunks, err := c.Split(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("Split() error = %v", err)
			}

			var joined []byte
			for i, chunk := range chunks {
				if len(chunk) == 0 {
					t.Errorf("Split() chunk %d is empty", i)
				}
				if len(chunk) > DefaultConfig().MaxSize {
					t.Errorf("Split() chunk %d size %d exceeds max %d",
						i, len(chunk), DefaultConfig().MaxSize)
				}
				joined = append(joined, chunk...)
			}

			if !bytes.Equal(joined, tt.data) {
				t.Errorf("Split() chunks do not reassemble the input (got %d bytes, want %d)",
					len(joined), len(tt.data))
			}
		})
	}
}

func TestFastCDCChunker_Deterministic(t *testing.T) {
	data := randomBytes(t, 8*1024*1024, 3)
	c := NewDefaultChunker()

	first, err := c.Split(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	second, err := c.Split(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("Split() chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !bytes.Equal(first[i], second[i]) {
			t.Errorf("Split() chunk %d differs between runs", i)
		}
	}
}

func TestFastCDCChunker_SharedContentSharesChunks(t *testing.T) {
	// Two files with the same bytes must produce identical chunk
	// sequences for dedup to work at all.
	shared := randomBytes(t, 2*1024*1024, 4)
	c := NewDefaultChunker()

	a, err := c.Split(bytes.NewReader(shared))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	b, err := c.Split(bytes.NewReader(shared))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("Split() chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			t.Errorf("chunk %d differs between identical inputs", i)
		}
	}
}

func TestWriteWindow(t *testing.T) {
	sizes := []int64{100, 200, 50}

	tests := []struct {
		name        string
		offset      int64
		n           int64
		wantStart   int
		wantEnd     int
		wantStartAt int64
	}{
		{
			name:      "inside first chunk",
			offset:    10,
			n:         20,
			wantStart: 0, wantEnd: 1, wantStartAt: 0,
		},
		{
			name:      "spans first two chunks",
			offset:    90,
			n:         20,
			wantStart: 0, wantEnd: 2, wantStartAt: 0,
		},
		{
			name:      "exactly the second chunk",
			offset:    100,
			n:         200,
			wantStart: 1, wantEnd: 2, wantStartAt: 100,
		},
		{
			name:      "overwrites the tail",
			offset:    120,
			n:         1000,
			wantStart: 1, wantEnd: 3, wantStartAt: 100,
		},
		{
			name:      "append at end",
			offset:    350,
			n:         10,
			wantStart: 3, wantEnd: 3, wantStartAt: 350,
		},
		{
			name:      "past end",
			offset:    1000,
			n:         10,
			wantStart: 3, wantEnd: 3, wantStartAt: 350,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WriteWindow(sizes, tt.offset, tt.n)

			if w.StartChunk != tt.wantStart || w.EndChunk != tt.wantEnd {
				t.Errorf("WriteWindow() = [%d, %d), want [%d, %d)",
					w.StartChunk, w.EndChunk, tt.wantStart, tt.wantEnd)
			}
			if w.StartOffset != tt.wantStartAt {
				t.Errorf("WriteWindow() StartOffset = %d, want %d", w.StartOffset, tt.wantStartAt)
			}
		})
	}
}

func TestWriteWindow_EmptyMap(t *testing.T) {
	w := WriteWindow(nil, 0, 100)

	if w.StartChunk != 0 || w.EndChunk != 0 || w.StartOffset != 0 {
		t.Errorf("WriteWindow() on empty map = %+v", w)
	}
}
