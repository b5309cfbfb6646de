package client

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// ChatStream yields the text deltas of one streamed chat response.
type ChatStream struct {
	reader *bufio.Reader
	body   io.Closer
}

func newChatStream(body io.ReadCloser) *ChatStream {
	return &ChatStream{
		reader: bufio.NewReader(body),
		body:   body,
	}
}

// sseChunk is the OpenAI-style frame the upstream emits. Only the delta
// content is of interest.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Recv returns the next non-empty text delta. It reassembles frames split
// across reads, skips malformed frames, and reports io.EOF on the [DONE]
// sentinel or when the body ends.
func (s *ChatStream) Recv() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}

		payload, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), "data:")
		if ok {
			payload = strings.TrimSpace(payload)
			if payload == "[DONE]" {
				return "", io.EOF
			}

			var chunk sseChunk
			if json.Unmarshal([]byte(payload), &chunk) == nil &&
				len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				return chunk.Choices[0].Delta.Content, nil
			}
			// Malformed or empty frames are dropped; the stream goes on.
		}

		if err == io.EOF {
			return "", io.EOF
		}
	}
}

// Close releases the underlying response body.
func (s *ChatStream) Close() error {
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}
