package engine

import (
	"bytes"

	"github.com/offs-project/offs/internal/chunker"
	"github.com/offs-project/offs/internal/store"
)

// writeContent splices data into a file at offset, rechunking only the
// window of the chunk map the write touches. Blobs outside the window
// are reused untouched; a write past the current end zero-fills the
// gap.
func (e *Engine) writeContent(tx *store.Tx, target *store.DirEntity, offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	blobs, sizes, err := tx.ChunkSizes(target.ID)
	if err != nil {
		return err
	}

	w := chunker.WriteWindow(sizes, offset, int64(len(data)))

	var missing []string
	var windowLen int64
	for i := w.StartChunk; i < w.EndChunk; i++ {
		if sizes[i] < 0 {
			missing = append(missing, blobs[i])
			continue
		}
		windowLen += sizes[i]
	}
	if len(missing) > 0 {
		return &MissingBlobsError{BlobIDs: missing}
	}

	// The buffer spans from the window's start boundary to the end of
	// the write or the end of the window, whichever is further.
	dataAt := offset - w.StartOffset
	bufLen := windowLen
	if end := dataAt + int64(len(data)); end > bufLen {
		bufLen = end
	}

	buf := make([]byte, bufLen)
	var pos int64
	for i := w.StartChunk; i < w.EndChunk; i++ {
		content, err := tx.GetBlob(blobs[i])
		if err != nil {
			return err
		}
		copy(buf[pos:], content)
		pos += int64(len(content))
	}
	copy(buf[dataAt:], data)

	newChunks, err := e.chunker.Split(bytes.NewReader(buf))
	if err != nil {
		return err
	}

	newList := make([]string, 0, w.StartChunk+len(newChunks)+len(blobs)-w.EndChunk)
	newList = append(newList, blobs[:w.StartChunk]...)
	for _, chunk := range newChunks {
		blobID, err := tx.PutBlob(chunk)
		if err != nil {
			return err
		}
		newList = append(newList, blobID)
	}
	newList = append(newList, blobs[w.EndChunk:]...)

	if err := tx.ReplaceChunkMap(target.ID, newList); err != nil {
		return err
	}

	newSize := target.Stat.Size
	if end := uint64(offset) + uint64(len(data)); end > newSize {
		newSize = end
	}

	return tx.Resize(target.ID, newSize)
}

// resizeContent truncates or zero-extends a file's chunk map to
// newSize.
func (e *Engine) resizeContent(tx *store.Tx, target *store.DirEntity, newSize uint64) error {
	oldSize := target.Stat.Size
	if newSize == oldSize {
		return nil
	}

	blobs, sizes, err := tx.ChunkSizes(target.ID)
	if err != nil {
		return err
	}

	if newSize < oldSize {
		return e.truncateContent(tx, target.ID, blobs, sizes, newSize)
	}
	return e.extendContent(tx, target.ID, blobs, newSize-oldSize)
}

func (e *Engine) truncateContent(tx *store.Tx, id string, blobs []string, sizes []int64, newSize uint64) error {
	var (
		kept []string
		pos  uint64
	)
	for i, blobID := range blobs {
		if sizes[i] < 0 {
			return &MissingBlobsError{BlobIDs: []string{blobID}}
		}
		size := uint64(sizes[i])

		if pos+size <= newSize {
			kept = append(kept, blobID)
			pos += size
			if pos == newSize {
				break
			}
			continue
		}

		// This chunk straddles the cut; keep its prefix as a new blob.
		content, err := tx.GetBlob(blobID)
		if err != nil {
			return err
		}
		prefixID, err := tx.PutBlob(content[:newSize-pos])
		if err != nil {
			return err
		}
		kept = append(kept, prefixID)
		break
	}

	if err := tx.ReplaceChunkMap(id, kept); err != nil {
		return err
	}

	return tx.Resize(id, newSize)
}

func (e *Engine) extendContent(tx *store.Tx, id string, blobs []string, gap uint64) error {
	// Zero padding carries no content boundaries, so chunk it at the
	// maximum chunk size: every full pad chunk shares one blob id.
	maxSize := uint64(e.chunker.Config().MaxSize)

	zeros := make([]byte, maxSize)
	newList := append([]string{}, blobs...)
	for gap > 0 {
		n := gap
		if n > maxSize {
			n = maxSize
		}
		blobID, err := tx.PutBlob(zeros[:n])
		if err != nil {
			return err
		}
		newList = append(newList, blobID)
		gap -= n
	}

	if err := tx.ReplaceChunkMap(id, newList); err != nil {
		return err
	}

	total, err := contentLength(tx, newList)
	if err != nil {
		return err
	}

	return tx.Resize(id, total)
}

func contentLength(tx *store.Tx, blobs []string) (uint64, error) {
	sizes, missing, err := tx.BlobSizes(blobs)
	if err != nil {
		return 0, err
	}
	if len(missing) > 0 {
		return 0, &MissingBlobsError{BlobIDs: missing}
	}

	var total uint64
	for _, size := range sizes {
		total += uint64(size)
	}

	return total, nil
}

// ReadRange materializes [offset, offset+length) of a file from its
// cached blobs. Absent blobs surface as MissingBlobsError so the
// caller can fetch and retry.
func (e *Engine) ReadRange(tx *store.Tx, target *store.DirEntity, offset, length int64) ([]byte, error) {
	if offset < 0 || length <= 0 || uint64(offset) >= target.Stat.Size {
		return nil, nil
	}
	if max := int64(target.Stat.Size) - offset; length > max {
		length = max
	}

	blobs, sizes, err := tx.ChunkSizes(target.ID)
	if err != nil {
		return nil, err
	}

	result := make([]byte, 0, length)
	var pos int64
	for i, blobID := range blobs {
		if sizes[i] < 0 {
			return nil, &MissingBlobsError{BlobIDs: []string{blobID}}
		}
		size := sizes[i]

		if pos+size <= offset {
			pos += size
			continue
		}

		content, err := tx.GetBlob(blobID)
		if err != nil {
			return nil, err
		}

		from := int64(0)
		if offset > pos {
			from = offset - pos
		}
		to := size
		if pos+to > offset+length {
			to = offset + length - pos
		}
		result = append(result, content[from:to]...)
		pos += size

		if pos >= offset+length {
			break
		}
	}

	return result, nil
}
