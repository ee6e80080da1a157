package genai

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/scaffoldhq/scaffold/src/aisdk"
)

// responseChunk is one element of the streamed JSON array.
type responseChunk struct {
	Candidates []struct {
		Content struct {
			Role  string `json:"role"`
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// stream decodes the response body incrementally: the body is a JSON array
// of chunk objects, so each element can be decoded as it arrives without
// waiting for the closing bracket.
type stream struct {
	body    io.ReadCloser
	decoder *json.Decoder
	started bool
	closed  bool

	// pending holds converted chunks not yet handed to the caller; one wire
	// chunk can expand into several stream chunks.
	pending   []*aisdk.StreamChunk
	callIndex int
	finished  bool
	delivered bool
}

func newStream(body io.ReadCloser) *stream {
	return &stream{
		body:    body,
		decoder: json.NewDecoder(body),
	}
}

func (s *stream) Read() (*aisdk.StreamChunk, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}

	for len(s.pending) == 0 {
		if s.finished {
			if !s.delivered {
				return nil, ErrEmptyResponse
			}
			return nil, io.EOF
		}
		if err := s.fill(); err != nil {
			return nil, err
		}
	}

	chunk := s.pending[0]
	s.pending = s.pending[1:]
	s.delivered = true
	return chunk, nil
}

func (s *stream) fill() error {
	if !s.started {
		tok, err := s.decoder.Token()
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return fmt.Errorf("unexpected response shape: got token %v", tok)
		}
		s.started = true
	}

	if !s.decoder.More() {
		s.finished = true
		if len(s.pending) == 0 {
			return nil
		}
		return nil
	}

	var chunk responseChunk
	if err := s.decoder.Decode(&chunk); err != nil {
		return fmt.Errorf("failed to decode chunk: %w", err)
	}

	s.convert(&chunk)
	return nil
}

// convert expands one wire chunk into stream chunks.
func (s *stream) convert(chunk *responseChunk) {
	if len(chunk.Candidates) == 0 {
		return
	}
	candidate := chunk.Candidates[0]

	for _, p := range candidate.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			args := string(p.FunctionCall.Args)
			if args == "" {
				args = "{}"
			}
			s.pending = append(s.pending, &aisdk.StreamChunk{
				Type: aisdk.ChunkFunctionCall,
				Call: &aisdk.CallFragment{
					Index:     s.callIndex,
					Name:      p.FunctionCall.Name,
					Arguments: args,
				},
			})
			s.callIndex++
		case p.Text != "":
			s.pending = append(s.pending, &aisdk.StreamChunk{
				Type: aisdk.ChunkText,
				Text: p.Text,
			})
		}
	}

	if candidate.FinishReason != "" {
		s.pending = append(s.pending, &aisdk.StreamChunk{
			Type:         aisdk.ChunkFinish,
			FinishReason: candidate.FinishReason,
		})
		s.finished = true
	}
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
