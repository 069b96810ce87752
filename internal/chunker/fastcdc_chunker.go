package chunker

import (
	"errors"
	"io"

	"github.com/jotfs/fastcdc-go"
)

// FastCDCChunker finds chunk boundaries with the FastCDC rolling-hash
// algorithm.
type FastCDCChunker struct {
	config Config
}

func NewFastCDCChunker(config Config) *FastCDCChunker {
	return &FastCDCChunker{config: config}
}

func NewDefaultChunker() *FastCDCChunker {
	return NewFastCDCChunker(DefaultConfig())
}

func (c *FastCDCChunker) Config() Config {
	return c.config
}

func (c *FastCDCChunker) Split(r io.Reader) ([][]byte, error) {
	cdc, err := fastcdc.NewChunker(r, fastcdc.Options{
		MinSize:     c.config.MinSize,
		AverageSize: c.config.AverageSize,
		MaxSize:     c.config.MaxSize,
	})
	if err != nil {
		return nil, err
	}

	var chunks [][]byte
	for {
		chunk, err := cdc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		// chunk.Data is only valid until the next call
		data := make([]byte, len(chunk.Data))
		copy(data, chunk.Data)
		chunks = append(chunks, data)
	}

	return chunks, nil
}
