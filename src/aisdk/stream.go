package aisdk

import (
	"io"
)

// ChunkStream is a StreamInterface over a fixed slice of chunks. Used by
// tests and for replaying recorded responses.
type ChunkStream struct {
	chunks []*StreamChunk
	pos    int
	err    error
}

// NewChunkStream creates a stream that yields the given chunks in order.
func NewChunkStream(chunks ...*StreamChunk) *ChunkStream {
	return &ChunkStream{chunks: chunks}
}

// NewFailingChunkStream yields the given chunks, then fails with err instead
// of a clean EOF.
func NewFailingChunkStream(err error, chunks ...*StreamChunk) *ChunkStream {
	return &ChunkStream{chunks: chunks, err: err}
}

func (s *ChunkStream) Read() (*StreamChunk, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *ChunkStream) Close() error { return nil }
