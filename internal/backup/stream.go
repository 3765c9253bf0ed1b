package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// ChunkSource produces a backup archive as a sequence of byte chunks.
// Next returns io.EOF once the source is exhausted.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// ChunkStream re-chunks a fully resident buffer into fixed-size pieces.
// It is single-use: once drained it keeps returning io.EOF.
type ChunkStream struct {
	data []byte
	size int
	off  int
}

// NewChunkStream returns a stream over data split into chunks of size bytes.
// The last chunk may be shorter.
func NewChunkStream(data []byte, size int) *ChunkStream {
	if size <= 0 {
		size = len(data)
	}
	return &ChunkStream{data: data, size: size}
}

func (s *ChunkStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.off >= len(s.data) {
		s.data = nil
		return nil, io.EOF
	}
	end := min(s.off+s.size, len(s.data))
	chunk := s.data[s.off:end]
	s.off = end
	return chunk, nil
}

// ReaderSource adapts an io.Reader into a ChunkSource.
type ReaderSource struct {
	r    io.Reader
	size int
}

// DefaultReadSize is the chunk size used when NewReaderSource gets size <= 0.
const DefaultReadSize = 1 << 20

// NewReaderSource reads r in chunks of at most size bytes.
func NewReaderSource(r io.Reader, size int) *ReaderSource {
	if size <= 0 {
		size = DefaultReadSize
	}
	return &ReaderSource{r: r, size: size}
}

func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, s.size)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case n > 0:
		return buf[:n], nil
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return nil, io.EOF
	default:
		return nil, err
	}
}

// WriteTo drains src into w and returns the number of bytes written.
func WriteTo(ctx context.Context, src ChunkSource, w io.Writer) (int64, error) {
	var total int64
	for {
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("read chunk: %w", err)
		}
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}

// ReadAll drains src into memory.
func ReadAll(ctx context.Context, src ChunkSource) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := WriteTo(ctx, src, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
