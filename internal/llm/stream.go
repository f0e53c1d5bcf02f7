package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const maxLineBytes = 1 << 20

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Stream yields completion fragments:
//
//	for s.Next() {
//		fmt.Print(s.Text())
//	}
//	if err := s.Err(); err != nil { ... }
//
// It is not restartable. Close releases the admission slot; the consumer may
// call it before the stream ends and more than once.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	release func()
	log     *slog.Logger

	text     string
	err      error
	done     bool
	lastSeen bool

	closeOnce sync.Once
}

func newStream(body io.ReadCloser, cancel context.CancelFunc, release func(), log *slog.Logger) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Stream{
		body:    body,
		scanner: sc,
		cancel:  cancel,
		release: release,
		log:     log,
	}
}

// Next advances to the next non-empty fragment.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	if s.lastSeen {
		s.finish(nil)
		return false
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			s.log.Debug("skipping unparsable stream line", "error", err)
			continue
		}
		if chunk.Error != "" {
			s.finish(fmt.Errorf("%w: backend error: %s", ErrCompletionStream, chunk.Error))
			return false
		}
		if chunk.Done {
			s.lastSeen = true
		}
		if chunk.Message.Content != "" {
			s.text = chunk.Message.Content
			return true
		}
		if s.lastSeen {
			break
		}
	}

	if !s.lastSeen {
		if err := s.scanner.Err(); err != nil {
			s.finish(fmt.Errorf("%w: %w", ErrCompletionStream, err))
		} else {
			s.finish(fmt.Errorf("%w: stream ended before done", ErrCompletionStream))
		}
		return false
	}
	s.finish(nil)
	return false
}

func (s *Stream) Text() string { return s.text }

func (s *Stream) Err() error { return s.err }

func (s *Stream) finish(err error) {
	s.done = true
	s.text = ""
	s.err = err
	s.Close()
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.done = true
		s.cancel()
		err = s.body.Close()
		s.release()
	})
	return err
}
