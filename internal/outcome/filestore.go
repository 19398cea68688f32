package outcome

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists outcomes as append-only JSON lines in a local file.
// A later line for the same ViewID replaces earlier ones on read.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore that writes to path. The file is created
// on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save implements [Store].
func (s *FileStore) Save(_ context.Context, o Outcome) error {
	if err := o.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("outcome: marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("outcome: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("outcome: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("outcome: write: %w", err)
	}
	return nil
}

// Recent implements [Store]. Lines that fail to parse are skipped.
func (s *FileStore) Recent(_ context.Context, limit int) ([]Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("outcome: open file: %w", err)
	}
	defer f.Close()

	byView := make(map[string]Outcome)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var o Outcome
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil || o.ViewID == "" {
			continue
		}
		byView[o.ViewID] = o
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("outcome: read: %w", err)
	}

	out := make([]Outcome, 0, len(byView))
	for _, o := range byView {
		out = append(out, o)
	}
	return newestFirst(out, limit), nil
}

// Ping implements [Store]. It checks that the directory holding the file
// exists.
func (s *FileStore) Ping(context.Context) error {
	dir := filepath.Dir(s.path)
	st, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("outcome: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("outcome: %s is not a directory", dir)
	}
	return nil
}
