package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// JsonlStorage writes records as JSON lines to a file or to stdout.
type JsonlStorage struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewJsonlStorage appends to path, creating its directory. An empty path or
// "-" writes to stdout.
func NewJsonlStorage(path string) (*JsonlStorage, error) {
	if path == "" || path == "-" {
		return NewJsonlWriter(os.Stdout), nil
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &JsonlStorage{w: file, closer: file}, nil
}

// NewJsonlWriter writes to w, which is never closed.
func NewJsonlWriter(w io.Writer) *JsonlStorage {
	return &JsonlStorage{w: w}
}

// Put appends records as JSON lines. A batch is written as a whole.
func (s *JsonlStorage) Put(records ...interface{}) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	writer := bufio.NewWriter(s.w)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}

// Close closes the output file, if any.
func (s *JsonlStorage) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
